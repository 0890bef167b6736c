package enginechromium

import (
	"bytes"
	"context"
	"image/png"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"

	enginegraph "github.com/goliatone/go-sceneexport/adapters/engine/graph"
	"github.com/goliatone/go-sceneexport/scene"
)

func chromeBinaryPath(t *testing.T) string {
	t.Helper()

	chromePath := os.Getenv("CHROME_BIN")
	if chromePath == "" {
		for _, candidate := range []string{"google-chrome", "chromium", "chromium-browser"} {
			if path, err := exec.LookPath(candidate); err == nil {
				chromePath = path
				break
			}
		}
	}
	if chromePath == "" {
		t.Skip("chromium binary not found; set CHROME_BIN to run this test")
	}
	return chromePath
}

type stubAssets map[string][]byte

func (s stubAssets) Asset(ctx context.Context, uri string) ([]byte, error) {
	_ = ctx
	data, ok := s[uri]
	if !ok {
		return nil, scene.NewError(scene.KindNotFound, "missing "+uri, nil)
	}
	return data, nil
}

func composed(t *testing.T, spec scene.SceneSpec, label string) enginegraph.Document {
	t.Helper()
	g := enginegraph.New(enginegraph.Options{})
	built, err := scene.NewBuilder(g, nil).Build(context.Background(), spec)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	doc, err := g.Compose(built.Labels[label])
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	return doc
}

func TestDocumentBuilder_LaysOutItems(t *testing.T) {
	doc := composed(t, scene.SceneSpec{
		Variables: map[string]string{"name": "<Ada>"},
		Pages: []scene.PageSpec{{
			Label: "page", Width: 200, Height: 100,
			Fill: &scene.FillSpec{Type: scene.FillColor, Color: "#ffffff"},
			Blocks: []scene.BlockSpec{
				{Shape: scene.ShapeEllipse, X: 10, Y: 10, Width: 50, Height: 50, Fill: &scene.FillSpec{Type: scene.FillImage, URI: "photo.png"}},
				{Type: scene.BlockText, Width: 100, Height: 20, Text: "Hi {{ name }}"},
			},
		}},
	}, "page")

	builder := &documentBuilder{assets: stubAssets{"photo.png": []byte("\x89PNG\r\n\x1a\n")}}
	out, err := builder.render(context.Background(), doc)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	html := string(out)
	for _, want := range []string{
		"width: 200px; height: 100px;",
		"matrix(1, 0, 0, 1, 10, 10)",
		"border-radius: 50%",
		"data:image/png;base64,",
		"background-color: rgba(255, 255, 255, 1.000)",
		"Hi &lt;Ada&gt;",
	} {
		if !strings.Contains(html, want) {
			t.Fatalf("expected %q in document:\n%s", want, html)
		}
	}
	if strings.Contains(html, "@page") {
		t.Fatalf("expected no page rules for screenshots")
	}
}

func TestDocumentBuilder_PrintAddsPagesAndUnderlayer(t *testing.T) {
	g := enginegraph.New(enginegraph.Options{})
	built, err := scene.NewBuilder(g, nil).Build(context.Background(), scene.SceneSpec{
		Layout:     scene.LayoutVerticalStack,
		SpotColors: []scene.SpotColor{{Name: "RDG_WHITE", Red: 0.8, Green: 0.8, Blue: 0.8}},
		Pages: []scene.PageSpec{
			{Width: 100, Height: 50, Blocks: []scene.BlockSpec{{Width: 10, Height: 10, Fill: &scene.FillSpec{Type: scene.FillColor, Color: "#000"}}}},
			{Width: 300, Height: 400},
		},
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	full, err := g.Compose(built.Scene)
	if err != nil {
		t.Fatalf("compose: %v", err)
	}

	builder := &documentBuilder{
		assets:     stubAssets{},
		print:      true,
		underlayer: &scene.Underlayer{SpotColorName: "RDG_WHITE", Offset: -2},
	}
	out, err := builder.render(context.Background(), full)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	html := string(out)
	for _, want := range []string{
		"@page frame1 { size: 100px 50px; margin: 0; }",
		"@page frame2 { size: 300px 400px; margin: 0; }",
		"page: frame2;",
		`class="underlayer"`,
		"rgba(204, 204, 204, 1.000)",
		"box-shadow: 0 0 0 -2px",
	} {
		if !strings.Contains(html, want) {
			t.Fatalf("expected %q in document:\n%s", want, html)
		}
	}
}

func TestAllocatorOptionsFromArgs(t *testing.T) {
	options := allocatorOptionsFromArgs([]string{"--no-sandbox", "", "--", "window-size=800,600"})
	if len(options) != 2 {
		t.Fatalf("expected two allocator options, got %d", len(options))
	}
}

func TestBlockedPatterns_CoverRemoteSchemes(t *testing.T) {
	params := network.SetBlockedURLs().WithURLPatterns(blockedPatterns())
	if len(params.URLPatterns) != 2 {
		t.Fatalf("expected two patterns, got %d", len(params.URLPatterns))
	}
	for i, prefix := range []string{"http://", "https://"} {
		pattern := params.URLPatterns[i]
		if !pattern.Block || !strings.HasPrefix(pattern.URLPattern, prefix) {
			t.Fatalf("unexpected pattern %+v", pattern)
		}
	}
}

func TestScreenshotQuality(t *testing.T) {
	cases := map[float64]int64{0: 90, 0.5: 50, 1: 100, 3: 100, 0.001: 1}
	for input, want := range cases {
		if got := screenshotQuality(input); got != want {
			t.Fatalf("screenshotQuality(%g): expected %d, got %d", input, want, got)
		}
	}
}

func TestExport_VideoIsIncapability(t *testing.T) {
	engine := New(enginegraph.New(enginegraph.Options{}), &Browser{}, nil)
	_, err := engine.Export(context.Background(), 1, scene.DefaultExportOptions(scene.MimeMP4))
	if !scene.IsIncapability(err) {
		t.Fatalf("expected incapability, got %v", err)
	}
}

func newSmokeBrowser(t *testing.T) *Browser {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping chromium smoke test in short mode")
	}
	browser := &Browser{
		BrowserPath: chromeBinaryPath(t),
		Headless:    true,
		Timeout:     20 * time.Second,
		Args:        []string{"--no-sandbox", "--disable-dev-shm-usage"},
	}
	t.Cleanup(func() {
		_ = browser.Close()
	})
	return browser
}

func TestEngine_Export_Smoke(t *testing.T) {
	browser := newSmokeBrowser(t)
	factory := NewFactory(browser, Options{})
	handle, err := factory.NewEngine(context.Background(), scene.SessionConfig{License: "test"})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	engine := handle.(*Engine)
	built, err := scene.NewBuilder(engine, nil).Build(context.Background(), scene.SceneSpec{
		Pages: []scene.PageSpec{{
			Label: "page", Width: 64, Height: 32,
			Fill: &scene.FillSpec{Type: scene.FillColor, Color: "#ff0000"},
		}},
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	data, err := engine.Export(context.Background(), built.Labels["page"], scene.DefaultExportOptions(scene.MimePNG))
	if err != nil {
		t.Fatalf("export png: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 64 || b.Dy() != 32 {
		t.Fatalf("expected 64x32, got %v", b)
	}

	pdf, err := engine.Export(context.Background(), built.Labels["page"], scene.DefaultExportOptions(scene.MimePDF))
	if err != nil {
		t.Fatalf("export pdf: %v", err)
	}
	if len(pdf) < 4 || string(pdf[:4]) != "%PDF" {
		t.Fatalf("expected pdf output")
	}
}
