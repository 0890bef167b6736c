package enginegraph

import (
	"embed"
	"fmt"
	"math"

	"github.com/flosch/pongo2/v6"
	"github.com/goliatone/go-sceneexport/scene"
)

// Affine is a 2D affine transform [a b c d e f] mapping (x, y) to
// (a*x + c*y + e, b*x + d*y + f), the same layout as CSS matrix().
type Affine [6]float64

// Identity returns the identity transform.
func Identity() Affine { return Affine{1, 0, 0, 1, 0, 0} }

// Translate returns a translation.
func Translate(x, y float64) Affine { return Affine{1, 0, 0, 1, x, y} }

// Scale returns a scale.
func Scale(sx, sy float64) Affine { return Affine{sx, 0, 0, sy, 0, 0} }

// Rotate returns a rotation by radians around the origin.
func Rotate(radians float64) Affine {
	sin, cos := math.Sincos(radians)
	return Affine{cos, sin, -sin, cos, 0, 0}
}

// Mul returns m∘n: n is applied first.
func (m Affine) Mul(n Affine) Affine {
	return Affine{
		m[0]*n[0] + m[2]*n[1],
		m[1]*n[0] + m[3]*n[1],
		m[0]*n[2] + m[2]*n[3],
		m[1]*n[2] + m[3]*n[3],
		m[0]*n[4] + m[2]*n[5] + m[4],
		m[1]*n[4] + m[3]*n[5] + m[5],
	}
}

// Apply maps a point.
func (m Affine) Apply(x, y float64) (float64, float64) {
	return m[0]*x + m[2]*y + m[4], m[1]*x + m[3]*y + m[5]
}

// Invert returns the inverse transform, or false when m is singular.
func (m Affine) Invert() (Affine, bool) {
	det := m[0]*m[3] - m[1]*m[2]
	if det == 0 || math.IsNaN(det) {
		return Affine{}, false
	}
	return Affine{
		m[3] / det,
		-m[1] / det,
		-m[2] / det,
		m[0] / det,
		(m[2]*m[5] - m[3]*m[4]) / det,
		(m[1]*m[4] - m[0]*m[5]) / det,
	}, true
}

// Bounds returns the axis-aligned box of a w x h rectangle under m.
func (m Affine) Bounds(w, h float64) (minX, minY, maxX, maxY float64) {
	minX, minY = math.Inf(1), math.Inf(1)
	maxX, maxY = math.Inf(-1), math.Inf(-1)
	for _, corner := range [4][2]float64{{0, 0}, {w, 0}, {0, h}, {w, h}} {
		x, y := m.Apply(corner[0], corner[1])
		minX, maxX = math.Min(minX, x), math.Max(maxX, x)
		minY, maxY = math.Min(minY, y), math.Max(maxY, y)
	}
	return minX, minY, maxX, maxY
}

func localTransform(node *Node) Affine {
	w, h := node.Width, node.Height
	return Translate(node.X, node.Y).
		Mul(Translate(w/2, h/2)).
		Mul(Rotate(node.Rotation)).
		Mul(Translate(-w/2, -h/2))
}

// FillInfo is the resolved fill of a drawable.
type FillInfo struct {
	Type      scene.FillType
	Color     string
	URI       string
	CropScale float64
}

// DrawItem is one drawable in frame coordinates. Transform maps the local
// Width x Height box into the frame.
type DrawItem struct {
	ID        scene.BlockID
	Type      scene.BlockType
	Shape     scene.ShapeType
	Transform Affine
	Width     float64
	Height    float64
	Fill      *FillInfo
	Text      string
}

// Frame is one output surface, a page or a single block.
type Frame struct {
	Source scene.BlockID
	Width  float64
	Height float64
	Items  []DrawItem
}

// Document is the composed export target.
type Document struct {
	Frames     []Frame
	SpotColors map[string]SpotColor
}

// Size returns the extent of the frames stacked vertically.
func (d Document) Size() scene.Size {
	var size scene.Size
	for _, frame := range d.Frames {
		size.Width = math.Max(size.Width, frame.Width)
		size.Height += frame.Height
	}
	return size
}

// OutputScale returns the factor mapping design units to pixels. With both
// targets set the output covers the target box while keeping its aspect ratio.
func OutputScale(size scene.Size, opts scene.ExportOptions) float64 {
	width, height := size.Width, size.Height
	sx, sy := 0.0, 0.0
	if opts.TargetWidth > 0 {
		sx = opts.TargetWidth / width
	}
	if opts.TargetHeight > 0 {
		sy = opts.TargetHeight / height
	}
	switch {
	case sx > 0 && sy > 0:
		return math.Max(sx, sy)
	case sx > 0:
		return sx
	case sy > 0:
		return sy
	}
	return 1
}

// Compose flattens target into frames. Scene and stack targets yield one
// frame per page; pages yield one frame; other blocks yield a frame sized to
// their rotated bounds.
func (g *Graph) Compose(target scene.BlockID) (Document, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	node, err := g.node(target)
	if err != nil {
		return Document{}, err
	}
	doc := Document{SpotColors: make(map[string]SpotColor, len(g.spotColors))}
	for name, spot := range g.spotColors {
		doc.SpotColors[name] = spot
	}

	switch node.Type {
	case scene.BlockScene, scene.BlockStack:
		pages := g.pagesLocked()
		if len(pages) == 0 {
			return Document{}, scene.NewError(scene.KindPrecondition, "scene has no pages to export", nil)
		}
		for _, page := range pages {
			frame, err := g.pageFrame(g.nodes[page])
			if err != nil {
				return Document{}, err
			}
			doc.Frames = append(doc.Frames, frame)
		}
	case scene.BlockPage:
		frame, err := g.pageFrame(node)
		if err != nil {
			return Document{}, err
		}
		doc.Frames = append(doc.Frames, frame)
	case scene.BlockGraphic, scene.BlockText, scene.BlockGroup:
		local := Translate(-node.X, -node.Y).Mul(localTransform(node))
		minX, minY, maxX, maxY := local.Bounds(node.Width, node.Height)
		if maxX-minX <= 0 || maxY-minY <= 0 {
			return Document{}, scene.NewError(scene.KindValidation, fmt.Sprintf("block %d has no size", node.ID), nil)
		}
		frame := Frame{Source: node.ID, Width: maxX - minX, Height: maxY - minY}
		g.collect(node, Translate(-minX, -minY).Mul(local), &frame.Items)
		doc.Frames = append(doc.Frames, frame)
	default:
		return Document{}, scene.NewError(scene.KindValidation, fmt.Sprintf("%s blocks cannot be exported", node.Type), nil)
	}
	return doc, nil
}

func (g *Graph) pageFrame(page *Node) (Frame, error) {
	if page.Width <= 0 || page.Height <= 0 {
		return Frame{}, scene.NewError(scene.KindValidation, fmt.Sprintf("page %d has no size", page.ID), nil)
	}
	frame := Frame{Source: page.ID, Width: page.Width, Height: page.Height}
	if fill := g.fillInfo(page); fill != nil {
		frame.Items = append(frame.Items, DrawItem{
			ID:        page.ID,
			Type:      scene.BlockPage,
			Shape:     scene.ShapeRect,
			Transform: Identity(),
			Width:     page.Width,
			Height:    page.Height,
			Fill:      fill,
		})
	}
	for _, child := range page.Children {
		if node, ok := g.nodes[child]; ok {
			g.collect(node, localTransform(node), &frame.Items)
		}
	}
	return frame, nil
}

func (g *Graph) collect(node *Node, world Affine, items *[]DrawItem) {
	switch node.Type {
	case scene.BlockGroup:
		for _, child := range node.Children {
			if childNode, ok := g.nodes[child]; ok {
				g.collect(childNode, world.Mul(localTransform(childNode)), items)
			}
		}
	case scene.BlockGraphic, scene.BlockText:
		shape := node.ShapeType
		if shape == "" {
			shape = scene.ShapeRect
		}
		item := DrawItem{
			ID:        node.ID,
			Type:      node.Type,
			Shape:     shape,
			Transform: world,
			Width:     node.Width,
			Height:    node.Height,
			Fill:      g.fillInfo(node),
		}
		if node.Type == scene.BlockText {
			item.Text = g.interpolate(node.Strings[scene.PropText])
		}
		*items = append(*items, item)
	}
}

func (g *Graph) fillInfo(node *Node) *FillInfo {
	fill, ok := g.nodes[node.Fill]
	if !ok {
		return nil
	}
	info := &FillInfo{Type: fill.FillType, CropScale: node.CropScale}
	switch fill.FillType {
	case scene.FillColor:
		info.Color = fill.Strings[scene.PropFillColor]
	case scene.FillImage:
		info.URI = fill.Strings[scene.PropImageURI]
	case scene.FillVideo:
		info.URI = fill.Strings[scene.PropVideoURI]
	}
	if info.CropScale <= 0 {
		info.CropScale = 1
	}
	return info
}

// fileTags read templates or files from disk; scene text must not reach them.
var fileTags = []string{"extends", "import", "include", "ssi"}

// textTemplates renders block text. Its loader is an empty filesystem and
// the tags that load files are banned.
var textTemplates = newTextTemplateSet()

func newTextTemplateSet() *pongo2.TemplateSet {
	set := pongo2.NewSet("scene-text", pongo2.NewFSLoader(embed.FS{}))
	for _, tag := range fileTags {
		if err := set.BanTag(tag); err != nil {
			panic(err)
		}
	}
	return set
}

// interpolate renders {{ name }} references against the graph variables.
// Text that is not a valid template is returned unchanged.
func (g *Graph) interpolate(text string) string {
	if text == "" || len(g.variables) == 0 {
		return text
	}
	tpl, err := textTemplates.FromString("{% autoescape off %}" + text + "{% endautoescape %}")
	if err != nil {
		g.logger.Debug("text template parse failed", "error", err)
		return text
	}
	ctx := make(pongo2.Context, len(g.variables))
	for name, value := range g.variables {
		ctx[name] = value
	}
	out, err := tpl.Execute(ctx)
	if err != nil {
		g.logger.Debug("text template render failed", "error", err)
		return text
	}
	return out
}

// Node returns a copy of the block for inspection.
func (g *Graph) Node(id scene.BlockID) (*Node, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	node, err := g.node(id)
	if err != nil {
		return nil, err
	}
	return node.clone(), nil
}
