package enginechromium

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/goliatone/go-sceneexport/scene"
)

// Browser is a lazily started headless Chromium shared by every engine a
// factory creates.
type Browser struct {
	BrowserPath string
	Headless    bool
	Timeout     time.Duration
	Args        []string

	initOnce      sync.Once
	allocCtx      context.Context
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

// Close releases Chromium resources if they have been initialized.
func (b *Browser) Close() error {
	if b == nil {
		return nil
	}
	if b.browserCancel != nil {
		b.browserCancel()
	}
	if b.allocCancel != nil {
		b.allocCancel()
	}
	return nil
}

func (b *Browser) ensureBrowser() error {
	b.initOnce.Do(func() {
		options := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
		if b.BrowserPath != "" {
			options = append(options, chromedp.ExecPath(b.BrowserPath))
		}
		options = append(options, chromedp.Flag("headless", b.Headless))
		options = append(options, allocatorOptionsFromArgs(b.Args)...)

		b.allocCtx, b.allocCancel = chromedp.NewExecAllocator(context.Background(), options...)
		b.browserCtx, b.browserCancel = chromedp.NewContext(b.allocCtx)
	})
	if b.allocCtx == nil || b.browserCtx == nil {
		return errors.New("chromium allocator unavailable")
	}
	return nil
}

// run loads document into a fresh tab and executes capture there. External
// network requests are blocked; assets are inlined by the caller.
func (b *Browser) run(ctx context.Context, document []byte, setup []chromedp.Action, capture chromedp.Action) error {
	if err := b.ensureBrowser(); err != nil {
		return scene.NewError(scene.KindEngine, "chromium init failed", err)
	}

	tabCtx, cancel := chromedp.NewContext(b.browserCtx)
	defer cancel()

	execCtx, cancelReq := context.WithCancel(tabCtx)
	defer cancelReq()
	go func() {
		select {
		case <-ctx.Done():
			cancelReq()
		case <-execCtx.Done():
		}
	}()
	if b.Timeout > 0 {
		var cancelTimeout context.CancelFunc
		execCtx, cancelTimeout = context.WithTimeout(execCtx, b.Timeout)
		defer cancelTimeout()
	}

	actions := []chromedp.Action{
		network.Enable(),
		network.SetBlockedURLs().WithURLPatterns(blockedPatterns()),
	}
	actions = append(actions, setup...)
	actions = append(actions,
		chromedp.Navigate("about:blank"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			tree, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return err
			}
			return page.SetDocumentContent(tree.Frame.ID, string(document)).Do(ctx)
		}),
		chromedp.WaitReady("body", chromedp.ByQuery),
		capture,
	)

	if err := chromedp.Run(execCtx, actions...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return scene.NewError(scene.KindTimeout, "chromium render timed out", err)
		}
		return scene.NewError(scene.KindEngine, "chromium render failed", err)
	}
	return nil
}

// Screenshot captures the document at size design units, scaled by scale.
func (b *Browser) Screenshot(ctx context.Context, document []byte, size scene.Size, scale float64, mime scene.MimeType, quality float64) ([]byte, error) {
	format := page.CaptureScreenshotFormatPng
	switch mime {
	case scene.MimeJPEG:
		format = page.CaptureScreenshotFormatJpeg
	case scene.MimeWebP:
		format = page.CaptureScreenshotFormatWebp
	}

	setup := []chromedp.Action{
		emulation.SetDeviceMetricsOverride(int64(math.Ceil(size.Width)), int64(math.Ceil(size.Height)), 1, false),
	}
	if format != page.CaptureScreenshotFormatJpeg {
		setup = append(setup, emulation.SetDefaultBackgroundColorOverride().WithColor(&cdp.RGBA{A: 0}))
	}

	var data []byte
	capture := chromedp.ActionFunc(func(ctx context.Context) error {
		params := page.CaptureScreenshot().
			WithFormat(format).
			WithCaptureBeyondViewport(true).
			WithClip(&page.Viewport{Width: size.Width, Height: size.Height, Scale: scale})
		if format != page.CaptureScreenshotFormatPng {
			params = params.WithQuality(screenshotQuality(quality))
		}
		var err error
		data, err = params.Do(ctx)
		return err
	})
	if err := b.run(ctx, document, setup, capture); err != nil {
		return nil, err
	}
	return data, nil
}

// PrintPDF prints the document using its CSS page sizes. The first frame size
// is the fallback paper size.
func (b *Browser) PrintPDF(ctx context.Context, document []byte, first scene.Size) ([]byte, error) {
	var data []byte
	capture := chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		data, _, err = page.PrintToPDF().
			WithPrintBackground(true).
			WithPreferCSSPageSize(true).
			WithPaperWidth(pxToInches(first.Width)).
			WithPaperHeight(pxToInches(first.Height)).
			WithMarginTop(0).
			WithMarginBottom(0).
			WithMarginLeft(0).
			WithMarginRight(0).
			Do(ctx)
		return err
	})
	if err := b.run(ctx, document, nil, capture); err != nil {
		return nil, err
	}
	return data, nil
}

func screenshotQuality(quality float64) int64 {
	if quality <= 0 {
		quality = 0.9
	}
	q := int64(math.Round(math.Min(quality, 1) * 100))
	return max(q, 1)
}

func pxToInches(px float64) float64 {
	return px / 96.0
}

// blockedPatterns keeps renders offline; assets are inlined as data URIs.
func blockedPatterns() []*network.BlockPattern {
	return []*network.BlockPattern{
		{URLPattern: "http://*:*/*", Block: true},
		{URLPattern: "https://*:*/*", Block: true},
	}
}

func allocatorOptionsFromArgs(args []string) []chromedp.ExecAllocatorOption {
	options := make([]chromedp.ExecAllocatorOption, 0, len(args))
	for _, arg := range args {
		arg = strings.TrimSpace(arg)
		if arg == "" {
			continue
		}
		arg = strings.TrimPrefix(arg, "--")
		if arg == "" {
			continue
		}
		if name, value, ok := strings.Cut(arg, "="); ok {
			options = append(options, chromedp.Flag(name, value))
			continue
		}
		options = append(options, chromedp.Flag(arg, true))
	}
	return options
}
