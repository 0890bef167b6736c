package enginegraph

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/goliatone/go-sceneexport/scene"
)

func writePNG(t *testing.T, dir, name string, w, h int) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: 0xff, A: 0xff})
		}
	}
	path := filepath.Join(dir, name)
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer file.Close()
	if err := png.Encode(file, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return path
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func mustBuild(t *testing.T, g *Graph, spec scene.SceneSpec) *scene.BuiltScene {
	t.Helper()
	built, err := scene.NewBuilder(g, nil).Build(context.Background(), spec)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return built
}

func TestGraph_VerticalStackKeepsPageOrder(t *testing.T) {
	g := New(Options{})
	built := mustBuild(t, g, scene.SceneSpec{
		Layout: scene.LayoutVerticalStack,
		Pages: []scene.PageSpec{
			{Label: "a", Width: 10, Height: 10},
			{Label: "b", Width: 10, Height: 10},
		},
	})
	pages, err := g.Pages()
	if err != nil {
		t.Fatalf("pages: %v", err)
	}
	if len(pages) != 2 || pages[0] != built.Labels["a"] || pages[1] != built.Labels["b"] {
		t.Fatalf("unexpected page order %v", pages)
	}
	stacks, _ := g.FindByType(scene.BlockStack)
	if len(stacks) != 1 {
		t.Fatalf("expected one stack, got %d", len(stacks))
	}
	stack, _ := g.Node(stacks[0])
	if len(stack.Children) != 2 {
		t.Fatalf("expected pages inside the stack, got %v", stack.Children)
	}
}

func TestGraph_GroupWrapsMembersAtBoundingBox(t *testing.T) {
	g := New(Options{})
	built := mustBuild(t, g, scene.SceneSpec{
		Pages: []scene.PageSpec{{
			Label: "page", Width: 500, Height: 500,
			Blocks: []scene.BlockSpec{
				{Label: "a", Type: scene.BlockGraphic, X: 10, Y: 20, Width: 100, Height: 100},
				{Label: "b", Type: scene.BlockGraphic, X: 200, Y: 50, Width: 50, Height: 150},
			},
		}},
	})

	group, err := g.Group([]scene.BlockID{built.Labels["a"], built.Labels["b"]})
	if err != nil {
		t.Fatalf("group: %v", err)
	}
	node, _ := g.Node(group)
	if node.X != 10 || node.Y != 20 || node.Width != 240 || node.Height != 180 {
		t.Fatalf("unexpected group bounds %+v", node)
	}
	page, _ := g.Node(built.Labels["page"])
	if !slices.Equal(page.Children, []scene.BlockID{group}) {
		t.Fatalf("expected the group to replace its members, got %v", page.Children)
	}
	b, _ := g.Node(built.Labels["b"])
	if b.Parent != group || b.X != 190 || b.Y != 30 {
		t.Fatalf("expected b relative to the group, got %+v", b)
	}
}

func TestGraph_GroupNeedsTwoMembers(t *testing.T) {
	g := New(Options{})
	if _, err := g.Group([]scene.BlockID{1}); scene.KindFromError(err) != scene.KindPrecondition {
		t.Fatalf("expected precondition error, got %v", err)
	}
}

func TestGraph_RotationConstraintOnConstrainedTypes(t *testing.T) {
	g := New(Options{})
	built := mustBuild(t, g, scene.SceneSpec{
		Pages: []scene.PageSpec{{
			Label: "page", Width: 100, Height: 100,
			Blocks: []scene.BlockSpec{
				{Label: "photo", Type: scene.BlockGraphic, Width: 10, Height: 10},
				{Label: "caption", Type: scene.BlockText, Width: 10, Height: 10, Text: "hi"},
			},
		}},
	})

	props, err := g.FindAllProperties(built.Labels["photo"])
	if err != nil {
		t.Fatalf("properties: %v", err)
	}
	if !slices.Contains(props, scene.PropRotationStep) {
		t.Fatalf("expected rotation step on graphics, got %v", props)
	}
	props, _ = g.FindAllProperties(built.Labels["caption"])
	if slices.Contains(props, scene.PropRotationStep) {
		t.Fatalf("expected no rotation step on text, got %v", props)
	}

	if err := g.SetEnum(built.Labels["photo"], scene.PropRotationStep, "90deg"); err != nil {
		t.Fatalf("set enum: %v", err)
	}
	rotation, _ := g.Rotation(built.Labels["photo"])
	if !near(rotation, math.Pi/2) {
		t.Fatalf("expected pi/2, got %g", rotation)
	}
	value, _ := g.Enum(built.Labels["photo"], scene.PropRotationStep)
	if value != "90deg" {
		t.Fatalf("expected 90deg, got %q", value)
	}
	err = g.SetEnum(built.Labels["caption"], scene.PropRotationStep, "90deg")
	if scene.KindFromError(err) != scene.KindUnsupportedProperty {
		t.Fatalf("expected unsupported property, got %v", err)
	}
}

func TestGraph_AddToSourceSetReadsImageSize(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, dir, "photo.png", 40, 20)
	g := New(Options{Fetcher: NewFetcher(dir)})

	fill, _ := g.CreateFill(scene.FillImage)
	info, err := g.AddToSourceSet(context.Background(), fill, "photo.png")
	if err != nil {
		t.Fatalf("source set: %v", err)
	}
	if info.Width != 40 || info.Height != 20 {
		t.Fatalf("expected 40x20, got %gx%g", info.Width, info.Height)
	}

	video, _ := g.CreateFill(scene.FillVideo)
	_, err = g.AddToSourceSet(context.Background(), video, "clip.mp4")
	if scene.KindFromError(err) != scene.KindUnsupportedFormat {
		t.Fatalf("expected unsupported format for video, got %v", err)
	}

	_, err = g.AddToSourceSet(context.Background(), fill, "missing.png")
	if scene.KindFromError(err) != scene.KindNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestGraph_LoadSceneFromDocument(t *testing.T) {
	var fetched []string
	doc := []byte("pages:\n  - label: cover\n    width: 300\n    height: 200\n")
	g := New(Options{Fetcher: FetcherFunc(func(ctx context.Context, uri string) ([]byte, error) {
		fetched = append(fetched, uri)
		return doc, nil
	})})

	root, err := g.LoadScene(context.Background(), "https://example.com/cover.yaml")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if current, _ := g.Scene(); current != root {
		t.Fatalf("expected loaded scene to be current")
	}
	pages, _ := g.Pages()
	if len(pages) != 1 {
		t.Fatalf("expected one page, got %d", len(pages))
	}
	if size, _ := g.Size(pages[0]); size.Width != 300 || size.Height != 200 {
		t.Fatalf("unexpected page size %+v", size)
	}
	if len(fetched) != 1 {
		t.Fatalf("expected one fetch, got %v", fetched)
	}
}

func TestGraph_AppendChildRejectsCycles(t *testing.T) {
	g := New(Options{})
	page, _ := g.Create(scene.BlockPage)
	stack, _ := g.Create(scene.BlockStack)
	if err := g.AppendChild(stack, page); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := g.AppendChild(page, stack); scene.KindFromError(err) != scene.KindValidation {
		t.Fatalf("expected cycle rejection, got %v", err)
	}
}

func TestCompose_RotatedBlockFrame(t *testing.T) {
	g := New(Options{})
	built := mustBuild(t, g, scene.SceneSpec{
		Pages: []scene.PageSpec{{
			Label: "page", Width: 500, Height: 500,
			Fill: &scene.FillSpec{Type: scene.FillColor, Color: "#ffffff"},
			Blocks: []scene.BlockSpec{
				{Label: "photo", Type: scene.BlockGraphic, X: 50, Y: 50, Width: 200, Height: 100, Rotation: math.Pi / 2},
			},
		}},
	})

	doc, err := g.Compose(built.Labels["photo"])
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	frame := doc.Frames[0]
	if !near(frame.Width, 100) || !near(frame.Height, 200) {
		t.Fatalf("expected 100x200 frame, got %gx%g", frame.Width, frame.Height)
	}
	if len(frame.Items) != 1 {
		t.Fatalf("expected one item, got %d", len(frame.Items))
	}
	x, y := frame.Items[0].Transform.Apply(100, 50)
	if !near(x, 50) || !near(y, 100) {
		t.Fatalf("expected center at (50,100), got (%g,%g)", x, y)
	}

	doc, err = g.Compose(built.Labels["page"])
	if err != nil {
		t.Fatalf("compose page: %v", err)
	}
	if len(doc.Frames[0].Items) != 2 || doc.Frames[0].Items[0].Type != scene.BlockPage {
		t.Fatalf("expected page background then graphic, got %+v", doc.Frames[0].Items)
	}
}

func TestCompose_InterpolatesTextVariables(t *testing.T) {
	g := New(Options{})
	built := mustBuild(t, g, scene.SceneSpec{
		Variables: map[string]string{"name": "Chloe"},
		Pages: []scene.PageSpec{{
			Label: "page", Width: 100, Height: 100,
			Blocks: []scene.BlockSpec{
				{Label: "greeting", Type: scene.BlockText, Width: 80, Height: 20, Text: "Hello {{ name }} <3"},
				{Label: "broken", Type: scene.BlockText, Width: 80, Height: 20, Text: "{% if %}"},
			},
		}},
	})
	doc, err := g.Compose(built.Labels["page"])
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if got := doc.Frames[0].Items[0].Text; got != "Hello Chloe <3" {
		t.Fatalf("unexpected text %q", got)
	}
	if got := doc.Frames[0].Items[1].Text; got != "{% if %}" {
		t.Fatalf("expected raw text on template error, got %q", got)
	}
}

func TestCompose_TextCannotReadFiles(t *testing.T) {
	secret := filepath.Join(t.TempDir(), "secret.txt")
	if err := os.WriteFile(secret, []byte("top-secret"), 0o600); err != nil {
		t.Fatalf("write secret: %v", err)
	}
	texts := []string{
		`{% ssi "` + secret + `" %}`,
		`{% include "` + secret + `" %}`,
		`{% extends "` + secret + `" %}`,
		`{% import "` + secret + `" m %}`,
	}
	blocks := make([]scene.BlockSpec, 0, len(texts))
	for _, text := range texts {
		blocks = append(blocks, scene.BlockSpec{Type: scene.BlockText, Width: 80, Height: 20, Text: text})
	}

	g := New(Options{})
	built := mustBuild(t, g, scene.SceneSpec{
		Variables: map[string]string{"name": "Chloe"},
		Pages:     []scene.PageSpec{{Label: "page", Width: 100, Height: 100, Blocks: blocks}},
	})
	doc, err := g.Compose(built.Labels["page"])
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	for i, item := range doc.Frames[0].Items {
		if strings.Contains(item.Text, "top-secret") {
			t.Fatalf("text %d leaked file content: %q", i, item.Text)
		}
		if item.Text != texts[i] {
			t.Fatalf("expected raw text for banned tag, got %q", item.Text)
		}
	}
}

func TestAffine_InvertRoundTrip(t *testing.T) {
	m := Translate(30, 40).Mul(Rotate(0.7)).Mul(Scale(2, 3))
	inv, ok := m.Invert()
	if !ok {
		t.Fatalf("expected invertible transform")
	}
	x, y := inv.Apply(m.Apply(5, 7))
	if !near(x, 5) || !near(y, 7) {
		t.Fatalf("expected (5,7), got (%g,%g)", x, y)
	}
	if _, ok := Scale(0, 1).Invert(); ok {
		t.Fatalf("expected singular transform")
	}
}

func TestParseColor(t *testing.T) {
	cases := map[string]color.NRGBA{
		"#fff":      {R: 0xff, G: 0xff, B: 0xff, A: 0xff},
		"#336699":   {R: 0x33, G: 0x66, B: 0x99, A: 0xff},
		"#33669980": {R: 0x33, G: 0x66, B: 0x99, A: 0x80},
		"White":     {R: 0xff, G: 0xff, B: 0xff, A: 0xff},
	}
	for input, want := range cases {
		got, err := ParseColor(input)
		if err != nil {
			t.Fatalf("%s: %v", input, err)
		}
		if got != want {
			t.Fatalf("%s: expected %+v, got %+v", input, want, got)
		}
	}
	for _, input := range []string{"", "#12", "#zzzzzz", "rgb(1,2,3)"} {
		if _, err := ParseColor(input); scene.KindFromError(err) != scene.KindValidation {
			t.Fatalf("%q: expected validation error, got %v", input, err)
		}
	}
}

func TestOutputScale(t *testing.T) {
	cases := []struct {
		opts scene.ExportOptions
		want float64
	}{
		{scene.ExportOptions{}, 1},
		{scene.ExportOptions{TargetWidth: 200}, 2},
		{scene.ExportOptions{TargetHeight: 25}, 0.5},
		{scene.ExportOptions{TargetWidth: 200, TargetHeight: 200}, 4},
	}
	for _, tc := range cases {
		if got := OutputScale(scene.Size{Width: 100, Height: 50}, tc.opts); got != tc.want {
			t.Fatalf("%+v: expected %g, got %g", tc.opts, tc.want, got)
		}
	}
}
