package query

import (
	"context"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-sceneexport/scene"
)

// RunStatusHandler returns a single run record.
type RunStatusHandler struct {
	Tracker scene.RunTracker
}

func NewRunStatusHandler(tracker scene.RunTracker) *RunStatusHandler {
	return &RunStatusHandler{Tracker: tracker}
}

func (h *RunStatusHandler) Query(ctx context.Context, msg RunStatus) (scene.RunRecord, error) {
	if h == nil || h.Tracker == nil {
		return scene.RunRecord{}, errors.New("run tracker is required", errors.CategoryInternal).
			WithTextCode("TRACKER_REQUIRED")
	}
	if err := msg.Validate(); err != nil {
		return scene.RunRecord{}, err
	}
	record, err := h.Tracker.Status(ctx, msg.RunID)
	if err != nil {
		return scene.RunRecord{}, scene.AsGoError(err)
	}
	return record, nil
}

// RunHistoryHandler returns run history, newest first.
type RunHistoryHandler struct {
	Tracker scene.RunTracker
}

func NewRunHistoryHandler(tracker scene.RunTracker) *RunHistoryHandler {
	return &RunHistoryHandler{Tracker: tracker}
}

func (h *RunHistoryHandler) Query(ctx context.Context, msg RunHistory) ([]scene.RunRecord, error) {
	if h == nil || h.Tracker == nil {
		return nil, errors.New("run tracker is required", errors.CategoryInternal).
			WithTextCode("TRACKER_REQUIRED")
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return h.Tracker.List(ctx, msg.Filter)
}
