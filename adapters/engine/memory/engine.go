// Package enginemem provides an in-process engine that rasterizes scenes to
// PNG and JPEG without a browser. Text blocks are laid out but not drawn.
package enginemem

import (
	"context"
	"fmt"
	"sync/atomic"

	enginegraph "github.com/goliatone/go-sceneexport/adapters/engine/graph"
	"github.com/goliatone/go-sceneexport/scene"
)

// Engine embeds a scene graph and renders it with the software rasterizer.
type Engine struct {
	*enginegraph.Graph

	Logger scene.Logger
	// MaxPixels caps the output canvas area.
	MaxPixels int

	disposed atomic.Bool
}

// DefaultMaxPixels bounds a single export canvas.
const DefaultMaxPixels = 64 << 20

// New wraps graph in a rasterizing engine.
func New(graph *enginegraph.Graph, logger scene.Logger) *Engine {
	if logger == nil {
		logger = scene.NopLogger{}
	}
	return &Engine{Graph: graph, Logger: logger, MaxPixels: DefaultMaxPixels}
}

// Options configures engines produced by NewFactory.
type Options struct {
	ConstrainedTypes []scene.BlockType
	Logger           scene.Logger
}

// NewFactory returns a factory creating one graph per session with assets
// resolved against the session base URL.
func NewFactory(opts Options) scene.EngineFactoryFunc {
	return func(ctx context.Context, cfg scene.SessionConfig) (scene.Engine, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		graph := enginegraph.New(enginegraph.Options{
			ConstrainedTypes: opts.ConstrainedTypes,
			Fetcher:          enginegraph.NewFetcher(cfg.BaseURL),
			Logger:           opts.Logger,
		})
		return New(graph, opts.Logger), nil
	}
}

// Export renders id in the requested format.
func (e *Engine) Export(ctx context.Context, id scene.BlockID, opts scene.ExportOptions) ([]byte, error) {
	if e.disposed.Load() {
		return nil, scene.NewError(scene.KindPrecondition, "engine is disposed", nil)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mime := scene.NormalizeMime(string(opts.MimeType))
	switch mime {
	case scene.MimePNG, scene.MimeJPEG:
	case "":
		return nil, scene.NewError(scene.KindValidation, "export mime type is required", nil)
	default:
		return nil, scene.NewError(scene.KindUnsupportedFormat, fmt.Sprintf("%s export is not supported in this runtime", mime), nil)
	}

	doc, err := e.Compose(id)
	if err != nil {
		return nil, err
	}
	r := &rasterizer{
		assets:    e.Graph,
		logger:    e.Logger,
		maxPixels: e.MaxPixels,
		opaque:    mime == scene.MimeJPEG,
	}
	canvas, err := r.render(ctx, doc, opts)
	if err != nil {
		return nil, err
	}
	return encode(canvas, mime, opts.JPEGQuality)
}

// Dispose releases the engine. Later exports fail.
func (e *Engine) Dispose() error {
	e.disposed.Store(true)
	return nil
}
