package scene

import (
	"context"
	"errors"
	"strings"
)

// incapabilitySignals are message fragments engines use when a format cannot
// be produced in the current runtime. Matching is case-insensitive and only
// consulted when the error carries no structured kind.
var incapabilitySignals = []string{
	"not supported in this runtime",
	"not supported on node.js",
}

// ExportRequest describes one export call.
type ExportRequest struct {
	Target    BlockID
	Preferred MimeType
	Fallback  MimeType
	Options   ExportOptions
}

// ExportStrategy exports with a single fallback attempt when the preferred
// format cannot be produced by the runtime.
type ExportStrategy struct {
	Engine ExportOps
	Logger Logger
}

// NewExportStrategy creates a strategy bound to engine.
func NewExportStrategy(engine ExportOps, logger Logger) *ExportStrategy {
	return &ExportStrategy{Engine: engine, Logger: logger}
}

// IsIncapability reports whether err signals that the runtime cannot produce
// the requested format.
func IsIncapability(err error) bool {
	if err == nil {
		return false
	}
	for current := err; current != nil; current = errors.Unwrap(current) {
		if sceneErr, ok := current.(*SceneError); ok && sceneErr.Kind == KindUnsupportedFormat {
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	for _, signal := range incapabilitySignals {
		if strings.Contains(msg, signal) {
			return true
		}
	}
	return false
}

// Export runs req. The returned artifact carries the mime type that actually
// succeeded, which differs from req.Preferred after a fallback.
func (s *ExportStrategy) Export(ctx context.Context, req ExportRequest) (Artifact, error) {
	if s == nil || s.Engine == nil {
		return Artifact{}, NewError(KindInternal, "export strategy has no engine", nil)
	}
	preferred := req.Preferred
	if preferred == "" {
		preferred = req.Options.MimeType
	}
	if preferred == "" {
		return Artifact{}, NewError(KindValidation, "export format is required", nil)
	}

	opts := req.Options
	opts.MimeType = preferred
	data, err := s.Engine.Export(ctx, req.Target, opts)
	if err == nil {
		return NewArtifact(data, preferred), nil
	}
	if !IsIncapability(err) || req.Fallback == "" || req.Fallback == preferred {
		return Artifact{}, err
	}

	logger := loggerOrNop(s.Logger)
	logger.Warn("export format unsupported in this runtime, using fallback",
		"block", int(req.Target),
		"requested", string(preferred),
		"fallback", string(req.Fallback),
		"error", err,
	)
	fallbackData, fallbackErr := s.Engine.Export(ctx, req.Target, DefaultExportOptions(req.Fallback))
	if fallbackErr != nil {
		logger.Error("fallback export failed", "fallback", string(req.Fallback), "error", fallbackErr)
		return Artifact{}, err
	}
	return NewArtifact(fallbackData, req.Fallback), nil
}
