package enginegraph

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-sceneexport/scene"
	"gopkg.in/yaml.v3"
)

// Property names beyond the shared scene constants.
const (
	PropPositionX      = "position/x"
	PropPositionY      = "position/y"
	PropCropScaleRatio = "crop/scaleRatio"
)

// Node is one block in the graph.
type Node struct {
	ID        scene.BlockID
	Type      scene.BlockType
	Parent    scene.BlockID
	Children  []scene.BlockID
	ShapeType scene.ShapeType
	FillType  scene.FillType
	Shape     scene.BlockID
	Fill      scene.BlockID
	X         float64
	Y         float64
	Width     float64
	Height    float64
	Rotation  float64
	CropScale float64
	Strings   map[string]string
	Enums     map[string]string
	Source    *scene.SourceInfo
}

func (n *Node) clone() *Node {
	copied := *n
	copied.Children = append([]scene.BlockID(nil), n.Children...)
	copied.Strings = make(map[string]string, len(n.Strings))
	for k, v := range n.Strings {
		copied.Strings[k] = v
	}
	copied.Enums = make(map[string]string, len(n.Enums))
	for k, v := range n.Enums {
		copied.Enums[k] = v
	}
	if n.Source != nil {
		source := *n.Source
		copied.Source = &source
	}
	return &copied
}

// Options configures a graph.
type Options struct {
	// ConstrainedTypes lists block types exposing the rotation step
	// constraint property.
	ConstrainedTypes []scene.BlockType
	Fetcher          Fetcher
	Logger           scene.Logger
}

// DefaultConstrainedTypes exposes the rotation step constraint on graphics.
var DefaultConstrainedTypes = []scene.BlockType{scene.BlockGraphic}

// Graph is an in-process scene graph implementing scene.BuilderEngine and
// scene.PropertyOps. It is safe for concurrent use.
type Graph struct {
	fetcher     Fetcher
	logger      scene.Logger
	constrained map[scene.BlockType]bool

	mu         sync.RWMutex
	nodes      map[scene.BlockID]*Node
	next       scene.BlockID
	scene      scene.BlockID
	layout     scene.SceneLayout
	variables  map[string]string
	spotColors map[string]SpotColor
	assets     map[string][]byte
	defaults   bool
}

// SpotColor is a registered spot color.
type SpotColor struct {
	Name  string
	Red   float64
	Green float64
	Blue  float64
}

// New creates an empty graph.
func New(opts Options) *Graph {
	types := opts.ConstrainedTypes
	if types == nil {
		types = DefaultConstrainedTypes
	}
	constrained := make(map[scene.BlockType]bool, len(types))
	for _, kind := range types {
		constrained[kind] = true
	}
	fetcher := opts.Fetcher
	if fetcher == nil {
		fetcher = NewFetcher("")
	}
	logger := opts.Logger
	if logger == nil {
		logger = scene.NopLogger{}
	}
	return &Graph{
		fetcher:     fetcher,
		logger:      logger,
		constrained: constrained,
		nodes:       make(map[scene.BlockID]*Node),
		variables:   make(map[string]string),
		spotColors:  make(map[string]SpotColor),
		assets:      make(map[string][]byte),
	}
}

func notFound(id scene.BlockID) error {
	return scene.NewError(scene.KindNotFound, fmt.Sprintf("block %d not found", id), nil)
}

func (g *Graph) node(id scene.BlockID) (*Node, error) {
	node, ok := g.nodes[id]
	if !ok {
		return nil, notFound(id)
	}
	return node, nil
}

func (g *Graph) add(kind scene.BlockType) *Node {
	g.next++
	node := &Node{
		ID:        g.next,
		Type:      kind,
		CropScale: 1,
		Strings:   make(map[string]string),
		Enums:     make(map[string]string),
	}
	g.nodes[node.ID] = node
	return node
}

// CreateScene discards the current graph and creates a new scene root.
func (g *Graph) CreateScene(layout scene.SceneLayout) (scene.BlockID, error) {
	switch layout {
	case "", scene.LayoutFree, scene.LayoutVerticalStack:
	default:
		return scene.InvalidBlock, scene.NewError(scene.KindValidation, fmt.Sprintf("unknown layout %q", layout), nil)
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	g.nodes = make(map[scene.BlockID]*Node)
	root := g.add(scene.BlockScene)
	g.scene = root.ID
	g.layout = layout
	if layout == scene.LayoutVerticalStack {
		stack := g.add(scene.BlockStack)
		stack.Parent = root.ID
		root.Children = append(root.Children, stack.ID)
	}
	return root.ID, nil
}

// LoadScene fetches a scene document (YAML or JSON scene spec) and builds it.
func (g *Graph) LoadScene(ctx context.Context, url string) (scene.BlockID, error) {
	data, err := g.fetch(ctx, url)
	if err != nil {
		return scene.InvalidBlock, err
	}
	var spec scene.SceneSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return scene.InvalidBlock, scene.NewError(scene.KindValidation, fmt.Sprintf("scene document %s is not a scene spec", url), err)
	}
	if spec.URL != "" {
		return scene.InvalidBlock, scene.NewError(scene.KindValidation, fmt.Sprintf("scene document %s must not reference another scene", url), nil)
	}
	built, err := scene.NewBuilder(g, g.logger).Build(ctx, spec)
	if err != nil {
		return scene.InvalidBlock, err
	}
	return built.Scene, nil
}

// Scene returns the scene root.
func (g *Graph) Scene() (scene.BlockID, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.scene == scene.InvalidBlock {
		return scene.InvalidBlock, scene.NewError(scene.KindPrecondition, "no scene created or loaded", nil)
	}
	return g.scene, nil
}

// Pages returns pages in scene order.
func (g *Graph) Pages() ([]scene.BlockID, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.pagesLocked(), nil
}

func (g *Graph) pagesLocked() []scene.BlockID {
	var pages []scene.BlockID
	var walk func(id scene.BlockID)
	walk = func(id scene.BlockID) {
		node, ok := g.nodes[id]
		if !ok {
			return
		}
		if node.Type == scene.BlockPage {
			pages = append(pages, id)
			return
		}
		for _, child := range node.Children {
			walk(child)
		}
	}
	walk(g.scene)
	return pages
}

// Create adds a detached block.
func (g *Graph) Create(kind scene.BlockType) (scene.BlockID, error) {
	switch kind {
	case scene.BlockPage, scene.BlockGraphic, scene.BlockText, scene.BlockStack:
	default:
		return scene.InvalidBlock, scene.NewError(scene.KindValidation, fmt.Sprintf("cannot create %q blocks directly", kind), nil)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.add(kind).ID, nil
}

// CreateShape adds a shape block.
func (g *Graph) CreateShape(shape scene.ShapeType) (scene.BlockID, error) {
	switch shape {
	case scene.ShapeRect, scene.ShapeEllipse:
	default:
		return scene.InvalidBlock, scene.NewError(scene.KindValidation, fmt.Sprintf("unknown shape %q", shape), nil)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	node := g.add(scene.BlockShape)
	node.ShapeType = shape
	return node.ID, nil
}

// CreateFill adds a fill block.
func (g *Graph) CreateFill(fill scene.FillType) (scene.BlockID, error) {
	switch fill {
	case scene.FillColor, scene.FillImage, scene.FillVideo:
	default:
		return scene.InvalidBlock, scene.NewError(scene.KindValidation, fmt.Sprintf("unknown fill %q", fill), nil)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	node := g.add(scene.BlockFill)
	node.FillType = fill
	return node.ID, nil
}

// SetShape attaches a shape to a graphic block.
func (g *Graph) SetShape(id, shape scene.BlockID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	node, err := g.node(id)
	if err != nil {
		return err
	}
	shapeNode, err := g.node(shape)
	if err != nil {
		return err
	}
	if node.Type != scene.BlockGraphic {
		return scene.NewError(scene.KindUnsupportedProperty, fmt.Sprintf("%s blocks have no shape", node.Type), nil)
	}
	if shapeNode.Type != scene.BlockShape {
		return scene.NewError(scene.KindValidation, fmt.Sprintf("block %d is not a shape", shape), nil)
	}
	node.Shape = shape
	node.ShapeType = shapeNode.ShapeType
	return nil
}

// SetFill attaches a fill to a graphic, text or page block.
func (g *Graph) SetFill(id, fill scene.BlockID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	node, err := g.node(id)
	if err != nil {
		return err
	}
	fillNode, err := g.node(fill)
	if err != nil {
		return err
	}
	switch node.Type {
	case scene.BlockGraphic, scene.BlockPage, scene.BlockText:
	default:
		return scene.NewError(scene.KindUnsupportedProperty, fmt.Sprintf("%s blocks have no fill", node.Type), nil)
	}
	if fillNode.Type != scene.BlockFill {
		return scene.NewError(scene.KindValidation, fmt.Sprintf("block %d is not a fill", fill), nil)
	}
	node.Fill = fill
	return nil
}

// AppendChild moves child under parent.
func (g *Graph) AppendChild(parent, child scene.BlockID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, err := g.node(parent)
	if err != nil {
		return err
	}
	c, err := g.node(child)
	if err != nil {
		return err
	}
	if parent == child || g.isAncestor(child, parent) {
		return scene.NewError(scene.KindValidation, "cannot append a block into itself", nil)
	}
	if c.Parent != scene.InvalidBlock {
		g.detach(c)
	}
	p.Children = append(p.Children, child)
	c.Parent = parent
	return nil
}

func (g *Graph) isAncestor(ancestor, id scene.BlockID) bool {
	for current := id; current != scene.InvalidBlock; {
		node, ok := g.nodes[current]
		if !ok {
			return false
		}
		if node.Parent == ancestor {
			return true
		}
		current = node.Parent
	}
	return false
}

func (g *Graph) detach(node *Node) {
	parent, ok := g.nodes[node.Parent]
	if ok {
		for i, child := range parent.Children {
			if child == node.ID {
				parent.Children = append(parent.Children[:i], parent.Children[i+1:]...)
				break
			}
		}
	}
	node.Parent = scene.InvalidBlock
}

// FindByType returns blocks of kind in creation order.
func (g *Graph) FindByType(kind scene.BlockType) ([]scene.BlockID, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if kind == scene.BlockPage {
		return g.pagesLocked(), nil
	}
	ids := make([]scene.BlockID, 0)
	for id, node := range g.nodes {
		if node.Type == kind {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// Type returns the block type.
func (g *Graph) Type(id scene.BlockID) (scene.BlockType, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	node, err := g.node(id)
	if err != nil {
		return "", err
	}
	return node.Type, nil
}

// SetString sets a string property.
func (g *Graph) SetString(id scene.BlockID, property, value string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	node, err := g.node(id)
	if err != nil {
		return err
	}
	if !stringProperty(node, property) {
		return unsupported(node, property)
	}
	node.Strings[property] = value
	return nil
}

// String returns a string property.
func (g *Graph) String(id scene.BlockID, property string) (string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	node, err := g.node(id)
	if err != nil {
		return "", err
	}
	if !stringProperty(node, property) {
		return "", unsupported(node, property)
	}
	return node.Strings[property], nil
}

func stringProperty(node *Node, property string) bool {
	switch property {
	case scene.PropText:
		return node.Type == scene.BlockText
	case scene.PropFillColor:
		return node.Type == scene.BlockFill && node.FillType == scene.FillColor
	case scene.PropImageURI:
		return node.Type == scene.BlockFill && node.FillType == scene.FillImage
	case scene.PropVideoURI:
		return node.Type == scene.BlockFill && node.FillType == scene.FillVideo
	}
	return false
}

func unsupported(node *Node, property string) error {
	return scene.NewError(scene.KindUnsupportedProperty, fmt.Sprintf("%s block %d has no property %s", node.Type, node.ID, property), nil)
}

// SetFloat sets a numeric property.
func (g *Graph) SetFloat(id scene.BlockID, property string, value float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	node, err := g.node(id)
	if err != nil {
		return err
	}
	if !spatial(node) {
		return unsupported(node, property)
	}
	switch property {
	case scene.PropWidth:
		node.Width = value
	case scene.PropHeight:
		node.Height = value
	case scene.PropRotation:
		node.Rotation = value
	case PropPositionX:
		node.X = value
	case PropPositionY:
		node.Y = value
	case PropCropScaleRatio:
		node.CropScale = value
	default:
		return unsupported(node, property)
	}
	return nil
}

// Float reads a numeric property.
func (g *Graph) Float(id scene.BlockID, property string) (float64, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	node, err := g.node(id)
	if err != nil {
		return 0, err
	}
	if !spatial(node) {
		return 0, unsupported(node, property)
	}
	switch property {
	case scene.PropWidth:
		return node.Width, nil
	case scene.PropHeight:
		return node.Height, nil
	case scene.PropRotation:
		return node.Rotation, nil
	case PropPositionX:
		return node.X, nil
	case PropPositionY:
		return node.Y, nil
	case PropCropScaleRatio:
		return node.CropScale, nil
	}
	return 0, unsupported(node, property)
}

func spatial(node *Node) bool {
	switch node.Type {
	case scene.BlockPage, scene.BlockGraphic, scene.BlockText, scene.BlockGroup:
		return true
	}
	return false
}

// SetPosition sets the block position relative to its parent.
func (g *Graph) SetPosition(id scene.BlockID, x, y float64) error {
	if err := g.SetFloat(id, PropPositionX, x); err != nil {
		return err
	}
	return g.SetFloat(id, PropPositionY, y)
}

// SetSize sets width and height.
func (g *Graph) SetSize(id scene.BlockID, width, height float64) error {
	if width < 0 || height < 0 {
		return scene.NewError(scene.KindValidation, "size must not be negative", nil)
	}
	if err := g.SetFloat(id, scene.PropWidth, width); err != nil {
		return err
	}
	return g.SetFloat(id, scene.PropHeight, height)
}

// Size returns width and height.
func (g *Graph) Size(id scene.BlockID) (scene.Size, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	node, err := g.node(id)
	if err != nil {
		return scene.Size{}, err
	}
	if !spatial(node) {
		return scene.Size{}, unsupported(node, scene.PropWidth)
	}
	return scene.Size{Width: node.Width, Height: node.Height}, nil
}

// SetRotation sets the raw rotation in radians.
func (g *Graph) SetRotation(id scene.BlockID, radians float64) error {
	return g.SetFloat(id, scene.PropRotation, radians)
}

// Rotation returns the raw rotation in radians.
func (g *Graph) Rotation(id scene.BlockID) (float64, error) {
	return g.Float(id, scene.PropRotation)
}

// ResetCrop restores the default crop.
func (g *Graph) ResetCrop(id scene.BlockID) error {
	return g.SetFloat(id, PropCropScaleRatio, 1)
}

// SetCropScaleRatio zooms the fill content inside the block frame.
func (g *Graph) SetCropScaleRatio(id scene.BlockID, ratio float64) error {
	if ratio <= 0 {
		return scene.NewError(scene.KindValidation, "crop scale ratio must be positive", nil)
	}
	return g.SetFloat(id, PropCropScaleRatio, ratio)
}

// AddToSourceSet resolves uri for fill and returns its intrinsic size.
func (g *Graph) AddToSourceSet(ctx context.Context, fill scene.BlockID, uri string) (scene.SourceInfo, error) {
	g.mu.RLock()
	node, err := g.node(fill)
	var nodeType scene.BlockType
	var fillType scene.FillType
	if err == nil {
		nodeType, fillType = node.Type, node.FillType
	}
	g.mu.RUnlock()
	if err != nil {
		return scene.SourceInfo{}, err
	}
	if nodeType != scene.BlockFill {
		return scene.SourceInfo{}, scene.NewError(scene.KindValidation, fmt.Sprintf("block %d is not a fill", fill), nil)
	}
	if fillType != scene.FillImage {
		return scene.SourceInfo{}, scene.NewError(scene.KindUnsupportedFormat, fmt.Sprintf("%s metadata is not supported in this runtime", fillType), nil)
	}

	data, err := g.fetch(ctx, uri)
	if err != nil {
		return scene.SourceInfo{}, err
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return scene.SourceInfo{}, scene.NewError(scene.KindUnsupportedFormat, fmt.Sprintf("decode image %s", uri), err)
	}
	info := scene.SourceInfo{URI: uri, Width: float64(cfg.Width), Height: float64(cfg.Height)}

	g.mu.Lock()
	defer g.mu.Unlock()
	node, err = g.node(fill)
	if err != nil {
		return scene.SourceInfo{}, err
	}
	node.Source = &info
	return info, nil
}

// Group wraps ids, which must share a parent, into a new group block placed
// at the bounding box of its members.
func (g *Graph) Group(ids []scene.BlockID) (scene.BlockID, error) {
	if len(ids) < 2 {
		return scene.InvalidBlock, scene.NewError(scene.KindPrecondition, "group needs at least two blocks", nil)
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	members := make([]*Node, 0, len(ids))
	var parent scene.BlockID
	for i, id := range ids {
		node, err := g.node(id)
		if err != nil {
			return scene.InvalidBlock, err
		}
		if !spatial(node) || node.Type == scene.BlockPage {
			return scene.InvalidBlock, scene.NewError(scene.KindValidation, fmt.Sprintf("%s blocks cannot be grouped", node.Type), nil)
		}
		if i == 0 {
			parent = node.Parent
		} else if node.Parent != parent {
			return scene.InvalidBlock, scene.NewError(scene.KindPrecondition, "grouped blocks must share a parent", nil)
		}
		members = append(members, node)
	}
	parentNode, err := g.node(parent)
	if err != nil {
		return scene.InvalidBlock, scene.NewError(scene.KindPrecondition, "grouped blocks must be attached", err)
	}

	minX, minY := members[0].X, members[0].Y
	maxX, maxY := members[0].X+members[0].Width, members[0].Y+members[0].Height
	for _, member := range members[1:] {
		minX = min(minX, member.X)
		minY = min(minY, member.Y)
		maxX = max(maxX, member.X+member.Width)
		maxY = max(maxY, member.Y+member.Height)
	}

	group := g.add(scene.BlockGroup)
	group.X, group.Y = minX, minY
	group.Width, group.Height = maxX-minX, maxY-minY
	group.Parent = parent

	insertAt := len(parentNode.Children)
	for i, child := range parentNode.Children {
		if child == members[0].ID {
			insertAt = i
			break
		}
	}
	for _, member := range members {
		g.detach(member)
		member.X -= minX
		member.Y -= minY
		member.Parent = group.ID
		group.Children = append(group.Children, member.ID)
	}
	if insertAt > len(parentNode.Children) {
		insertAt = len(parentNode.Children)
	}
	parentNode.Children = append(parentNode.Children[:insertAt], append([]scene.BlockID{group.ID}, parentNode.Children[insertAt:]...)...)
	return group.ID, nil
}

// FindAllProperties lists the properties available on a block.
func (g *Graph) FindAllProperties(id scene.BlockID) ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	node, err := g.node(id)
	if err != nil {
		return nil, err
	}
	var props []string
	if spatial(node) {
		props = append(props, scene.PropWidth, scene.PropHeight, scene.PropRotation, PropPositionX, PropPositionY, PropCropScaleRatio)
	}
	for _, candidate := range []string{scene.PropText, scene.PropFillColor, scene.PropImageURI, scene.PropVideoURI} {
		if stringProperty(node, candidate) {
			props = append(props, candidate)
		}
	}
	if g.constrained[node.Type] {
		props = append(props, scene.PropRotationStep)
	}
	sort.Strings(props)
	return props, nil
}

// SetEnum sets an enum property. The rotation step constraint takes a
// quantized angle such as "90deg" and applies it to the block rotation.
func (g *Graph) SetEnum(id scene.BlockID, property, value string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	node, err := g.node(id)
	if err != nil {
		return err
	}
	if property != scene.PropRotationStep || !g.constrained[node.Type] {
		return unsupported(node, property)
	}
	radians, err := scene.ParseRotationEnum(value)
	if err != nil {
		return err
	}
	node.Enums[property] = value
	node.Rotation = radians
	return nil
}

// Enum reads an enum property.
func (g *Graph) Enum(id scene.BlockID, property string) (string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	node, err := g.node(id)
	if err != nil {
		return "", err
	}
	if property != scene.PropRotationStep || !g.constrained[node.Type] {
		return "", unsupported(node, property)
	}
	return node.Enums[property], nil
}

// SetVariable sets a text variable.
func (g *Graph) SetVariable(name, value string) error {
	if strings.TrimSpace(name) == "" {
		return scene.NewError(scene.KindValidation, "variable name is required", nil)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.variables[name] = value
	return nil
}

// Variable reads a text variable.
func (g *Graph) Variable(name string) (string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	value, ok := g.variables[name]
	return value, ok
}

// SetSpotColorRGB registers a spot color with components in [0, 1].
func (g *Graph) SetSpotColorRGB(name string, r, gr, b float64) error {
	if strings.TrimSpace(name) == "" {
		return scene.NewError(scene.KindValidation, "spot color name is required", nil)
	}
	for _, component := range []float64{r, gr, b} {
		if component < 0 || component > 1 {
			return scene.NewError(scene.KindValidation, "spot color components must be within [0, 1]", nil)
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.spotColors[name] = SpotColor{Name: name, Red: r, Green: gr, Blue: b}
	return nil
}

// AddDefaultAssetSources marks default asset sources as requested. The graph
// resolves assets through its fetcher either way.
func (g *Graph) AddDefaultAssetSources(ctx context.Context) error {
	_ = ctx
	g.mu.Lock()
	g.defaults = true
	g.mu.Unlock()
	g.logger.Debug("default asset sources enabled")
	return nil
}

// Asset returns the bytes behind uri, fetching and caching them on first use.
func (g *Graph) Asset(ctx context.Context, uri string) ([]byte, error) {
	return g.fetch(ctx, uri)
}

func (g *Graph) fetch(ctx context.Context, uri string) ([]byte, error) {
	g.mu.RLock()
	data, ok := g.assets[uri]
	g.mu.RUnlock()
	if ok {
		return data, nil
	}
	data, err := g.fetcher.Fetch(ctx, uri)
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	g.assets[uri] = data
	g.mu.Unlock()
	return data, nil
}
