package query

import (
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-sceneexport/scene"
)

// RunStatus requests a single run record.
type RunStatus struct {
	RunID string
}

func (RunStatus) Type() string { return "scene:status" }

func (msg RunStatus) Validate() error {
	if msg.RunID == "" {
		return errors.New("run ID is required", errors.CategoryValidation).
			WithTextCode("RUN_ID_REQUIRED")
	}
	return nil
}

// RunHistory requests run history.
type RunHistory struct {
	Filter scene.RunFilter
}

func (RunHistory) Type() string { return "scene:history" }

func (msg RunHistory) Validate() error {
	if msg.Filter.Limit < 0 {
		return errors.New("limit must not be negative", errors.CategoryValidation).
			WithTextCode("LIMIT_INVALID")
	}
	if !msg.Filter.Since.IsZero() && !msg.Filter.Until.IsZero() && msg.Filter.Until.Before(msg.Filter.Since) {
		return errors.New("until must not precede since", errors.CategoryValidation).
			WithTextCode("RANGE_INVALID")
	}
	return nil
}
