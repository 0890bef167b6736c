// Package enginechromium renders scenes through headless Chromium. The scene
// graph is laid out as absolutely positioned HTML, then captured as a
// screenshot (PNG, JPEG, WebP) or printed (PDF).
package enginechromium

import (
	"context"
	"fmt"
	"sync/atomic"

	enginegraph "github.com/goliatone/go-sceneexport/adapters/engine/graph"
	"github.com/goliatone/go-sceneexport/scene"
)

// Engine embeds a scene graph and exports it with a shared Browser.
type Engine struct {
	*enginegraph.Graph

	Browser *Browser
	Logger  scene.Logger

	disposed atomic.Bool
}

// New wraps graph in a Chromium-backed engine.
func New(graph *enginegraph.Graph, browser *Browser, logger scene.Logger) *Engine {
	if logger == nil {
		logger = scene.NopLogger{}
	}
	return &Engine{Graph: graph, Browser: browser, Logger: logger}
}

// Options configures engines produced by NewFactory.
type Options struct {
	ConstrainedTypes []scene.BlockType
	Logger           scene.Logger
}

// NewFactory returns a factory creating one graph per session. All engines
// share browser; the caller closes it.
func NewFactory(browser *Browser, opts Options) scene.EngineFactoryFunc {
	return func(ctx context.Context, cfg scene.SessionConfig) (scene.Engine, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if browser == nil {
			return nil, scene.NewError(scene.KindConfiguration, "chromium engine requires a browser", nil)
		}
		if err := browser.ensureBrowser(); err != nil {
			return nil, scene.NewError(scene.KindEngine, "chromium init failed", err)
		}
		graph := enginegraph.New(enginegraph.Options{
			ConstrainedTypes: opts.ConstrainedTypes,
			Fetcher:          enginegraph.NewFetcher(cfg.BaseURL),
			Logger:           opts.Logger,
		})
		return New(graph, browser, opts.Logger), nil
	}
}

// Export renders id in the requested format.
func (e *Engine) Export(ctx context.Context, id scene.BlockID, opts scene.ExportOptions) ([]byte, error) {
	if e.disposed.Load() {
		return nil, scene.NewError(scene.KindPrecondition, "engine is disposed", nil)
	}
	if e.Browser == nil {
		return nil, scene.NewError(scene.KindConfiguration, "chromium engine requires a browser", nil)
	}
	mime := scene.NormalizeMime(string(opts.MimeType))
	switch mime {
	case scene.MimePNG, scene.MimeJPEG, scene.MimeWebP, scene.MimePDF:
	case "":
		return nil, scene.NewError(scene.KindValidation, "export mime type is required", nil)
	default:
		return nil, scene.NewError(scene.KindUnsupportedFormat, fmt.Sprintf("%s export is not supported in this runtime", mime), nil)
	}

	doc, err := e.Compose(id)
	if err != nil {
		return nil, err
	}
	builder := &documentBuilder{assets: e.Graph, print: mime == scene.MimePDF}
	if builder.print {
		builder.underlayer = opts.Underlayer
		if opts.PDFHighCompatibility {
			e.Logger.Debug("pdf high compatibility has no effect in chromium", "block", id)
		}
	}
	document, err := builder.render(ctx, doc)
	if err != nil {
		return nil, err
	}

	if mime == scene.MimePDF {
		first := scene.Size{Width: doc.Frames[0].Width, Height: doc.Frames[0].Height}
		return e.Browser.PrintPDF(ctx, document, first)
	}
	size := doc.Size()
	return e.Browser.Screenshot(ctx, document, size, enginegraph.OutputScale(size, opts), mime, opts.JPEGQuality)
}

// Dispose releases the engine. The shared browser stays up.
func (e *Engine) Dispose() error {
	e.disposed.Store(true)
	return nil
}
