package scene

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// FillSpec describes a block or page fill.
type FillSpec struct {
	Type  FillType `yaml:"type" json:"type"`
	URI   string   `yaml:"uri" json:"uri"`
	Color string   `yaml:"color" json:"color"`
}

// BlockSpec describes a graphic or text block placed on a page.
type BlockSpec struct {
	Label          string    `yaml:"label" json:"label"`
	Type           BlockType `yaml:"type" json:"type"`
	Shape          ShapeType `yaml:"shape" json:"shape"`
	Fill           *FillSpec `yaml:"fill" json:"fill"`
	NaturalSize    bool      `yaml:"natural_size" json:"natural_size"`
	ResetCrop      bool      `yaml:"reset_crop" json:"reset_crop"`
	CropScaleRatio float64   `yaml:"crop_scale_ratio" json:"crop_scale_ratio"`
	X              float64   `yaml:"x" json:"x"`
	Y              float64   `yaml:"y" json:"y"`
	Width          float64   `yaml:"width" json:"width"`
	Height         float64   `yaml:"height" json:"height"`
	Rotation       float64   `yaml:"rotation" json:"rotation"`
	Text           string    `yaml:"text" json:"text"`
}

// PageSpec describes a page and its blocks.
type PageSpec struct {
	Label          string      `yaml:"label" json:"label"`
	Width          float64     `yaml:"width" json:"width"`
	Height         float64     `yaml:"height" json:"height"`
	Fill           *FillSpec   `yaml:"fill" json:"fill"`
	NaturalSize    bool        `yaml:"natural_size" json:"natural_size"`
	CropScaleRatio float64     `yaml:"crop_scale_ratio" json:"crop_scale_ratio"`
	Blocks         []BlockSpec `yaml:"blocks" json:"blocks"`
}

// SpotColor registers a named spot color.
type SpotColor struct {
	Name  string  `yaml:"name" json:"name"`
	Red   float64 `yaml:"red" json:"red"`
	Green float64 `yaml:"green" json:"green"`
	Blue  float64 `yaml:"blue" json:"blue"`
}

// SceneSpec declares a scene either loaded from URL or built from pages.
// Pages are appended to a loaded scene when both are set.
type SceneSpec struct {
	Layout        SceneLayout       `yaml:"layout" json:"layout"`
	URL           string            `yaml:"url" json:"url"`
	DefaultAssets bool              `yaml:"default_assets" json:"default_assets"`
	Variables     map[string]string `yaml:"variables" json:"variables"`
	SpotColors    []SpotColor       `yaml:"spot_colors" json:"spot_colors"`
	Pages         []PageSpec        `yaml:"pages" json:"pages"`
}

// Validate checks structural requirements that do not need an engine.
func (s SceneSpec) Validate() error {
	switch s.Layout {
	case "", LayoutFree, LayoutVerticalStack:
	default:
		return NewError(KindValidation, fmt.Sprintf("unknown scene layout %q", s.Layout), nil)
	}
	if strings.TrimSpace(s.URL) == "" && len(s.Pages) == 0 {
		return NewError(KindValidation, "scene needs a url or at least one page", nil)
	}
	labels := map[string]bool{}
	claim := func(label string) error {
		if label == "" {
			return nil
		}
		if labels[label] {
			return NewError(KindValidation, fmt.Sprintf("duplicate label %q", label), nil)
		}
		labels[label] = true
		return nil
	}
	for i, page := range s.Pages {
		if err := claim(page.Label); err != nil {
			return err
		}
		if page.Width < 0 || page.Height < 0 {
			return NewError(KindValidation, fmt.Sprintf("page %d has negative size", i), nil)
		}
		if err := page.Fill.validate(); err != nil {
			return err
		}
		for j, block := range page.Blocks {
			if err := claim(block.Label); err != nil {
				return err
			}
			switch block.Type {
			case "", BlockGraphic, BlockText:
			default:
				return NewError(KindValidation, fmt.Sprintf("page %d block %d: unsupported type %q", i, j, block.Type), nil)
			}
			switch block.Shape {
			case "", ShapeRect, ShapeEllipse:
			default:
				return NewError(KindValidation, fmt.Sprintf("page %d block %d: unsupported shape %q", i, j, block.Shape), nil)
			}
			if block.Width < 0 || block.Height < 0 {
				return NewError(KindValidation, fmt.Sprintf("page %d block %d has negative size", i, j), nil)
			}
			if err := block.Fill.validate(); err != nil {
				return err
			}
			if block.NaturalSize && (block.Fill == nil || block.Fill.URI == "") {
				return NewError(KindValidation, fmt.Sprintf("page %d block %d: natural_size needs an image or video fill", i, j), nil)
			}
		}
	}
	return nil
}

func (f *FillSpec) validate() error {
	if f == nil {
		return nil
	}
	switch f.Type {
	case FillColor:
		if f.Color == "" {
			return NewError(KindValidation, "color fill needs a color", nil)
		}
	case FillImage, FillVideo:
		if strings.TrimSpace(f.URI) == "" {
			return NewError(KindValidation, fmt.Sprintf("%s fill needs a uri", f.Type), nil)
		}
	default:
		return NewError(KindValidation, fmt.Sprintf("unknown fill type %q", f.Type), nil)
	}
	return nil
}

// Selector picks scene elements after the scene is built.
type Selector struct {
	Label    string    `yaml:"label" json:"label"`
	Type     BlockType `yaml:"type" json:"type"`
	Scene    bool      `yaml:"scene" json:"scene"`
	EachPage bool      `yaml:"each_page" json:"each_page"`
}

// Validate rejects selectors naming more than one criterion.
func (s Selector) Validate() error {
	set := 0
	if s.Label != "" {
		set++
	}
	if s.Type != "" {
		set++
	}
	if s.Scene {
		set++
	}
	if s.EachPage {
		set++
	}
	if set > 1 {
		return NewError(KindValidation, "selector must use one of label, type, scene or each_page", nil)
	}
	return nil
}

func (s Selector) String() string {
	switch {
	case s.Label != "":
		return "label=" + s.Label
	case s.Type != "":
		return "type=" + string(s.Type)
	case s.Scene:
		return "scene"
	case s.EachPage:
		return "each_page"
	default:
		return "first_page"
	}
}

// BuiltScene is the result of building a SceneSpec.
type BuiltScene struct {
	Scene  BlockID
	Labels map[string]BlockID

	engine BuilderEngine
}

// Resolve returns the elements matching sel in scene order. An empty
// selector resolves to the first page.
func (b *BuiltScene) Resolve(sel Selector) ([]BlockID, error) {
	if err := sel.Validate(); err != nil {
		return nil, err
	}
	switch {
	case sel.Label != "":
		id, ok := b.Labels[sel.Label]
		if !ok {
			return nil, NewError(KindNotFound, fmt.Sprintf("no block labeled %q", sel.Label), nil)
		}
		return []BlockID{id}, nil
	case sel.Scene:
		return []BlockID{b.Scene}, nil
	case sel.Type != "":
		ids, err := b.engine.FindByType(sel.Type)
		if err != nil {
			return nil, EngineError("find blocks by type", err)
		}
		return ids, nil
	default:
		pages, err := b.engine.Pages()
		if err != nil {
			return nil, EngineError("list pages", err)
		}
		if sel.EachPage || len(pages) == 0 {
			return pages, nil
		}
		return pages[:1], nil
	}
}

// Builder constructs scenes through the engine block API.
type Builder struct {
	Engine BuilderEngine
	Logger Logger
}

// NewBuilder creates a scene builder.
func NewBuilder(engine BuilderEngine, logger Logger) *Builder {
	return &Builder{Engine: engine, Logger: logger}
}

// Build loads or creates the scene described by spec.
func (b *Builder) Build(ctx context.Context, spec SceneSpec) (*BuiltScene, error) {
	if b == nil || b.Engine == nil {
		return nil, NewError(KindInternal, "scene builder has no engine", nil)
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	engine := b.Engine
	logger := loggerOrNop(b.Logger)

	if spec.DefaultAssets {
		if err := engine.AddDefaultAssetSources(ctx); err != nil {
			return nil, EngineError("add default asset sources", err)
		}
	}

	var sceneID BlockID
	var err error
	if url := strings.TrimSpace(spec.URL); url != "" {
		sceneID, err = engine.LoadScene(ctx, url)
		if err != nil {
			return nil, EngineError(fmt.Sprintf("load scene %s", url), err)
		}
		logger.Debug("scene loaded", "url", url)
	} else {
		layout := spec.Layout
		if layout == "" {
			layout = LayoutFree
		}
		sceneID, err = engine.CreateScene(layout)
		if err != nil {
			return nil, EngineError("create scene", err)
		}
	}

	built := &BuiltScene{Scene: sceneID, Labels: map[string]BlockID{}, engine: engine}

	names := make([]string, 0, len(spec.Variables))
	for name := range spec.Variables {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := engine.SetVariable(name, spec.Variables[name]); err != nil {
			return nil, EngineError(fmt.Sprintf("set variable %s", name), err)
		}
	}
	for _, spot := range spec.SpotColors {
		if err := engine.SetSpotColorRGB(spot.Name, spot.Red, spot.Green, spot.Blue); err != nil {
			return nil, EngineError(fmt.Sprintf("set spot color %s", spot.Name), err)
		}
	}

	parent := sceneID
	if spec.Layout == LayoutVerticalStack && len(spec.Pages) > 0 {
		stacks, err := engine.FindByType(BlockStack)
		if err != nil {
			return nil, EngineError("find stack", err)
		}
		if len(stacks) == 0 {
			return nil, NewError(KindPrecondition, "vertical stack scene has no stack block", nil)
		}
		parent = stacks[0]
	}

	for i, page := range spec.Pages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := b.buildPage(ctx, built, parent, page); err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
	}
	return built, nil
}

func (b *Builder) buildPage(ctx context.Context, built *BuiltScene, parent BlockID, spec PageSpec) error {
	engine := b.Engine
	page, err := engine.Create(BlockPage)
	if err != nil {
		return EngineError("create page", err)
	}
	if spec.Width > 0 || spec.Height > 0 {
		if err := engine.SetSize(page, spec.Width, spec.Height); err != nil {
			return EngineError("size page", err)
		}
	}
	if err := engine.AppendChild(parent, page); err != nil {
		return EngineError("append page", err)
	}
	fill, err := b.applyFill(page, spec.Fill)
	if err != nil {
		return err
	}
	if spec.NaturalSize && spec.Fill != nil {
		if err := b.naturalSize(ctx, page, fill, spec.Fill.URI); err != nil {
			return err
		}
	}
	if spec.CropScaleRatio > 0 {
		if err := engine.SetCropScaleRatio(page, spec.CropScaleRatio); err != nil {
			return EngineError("set crop scale ratio", err)
		}
	}
	if spec.Label != "" {
		built.Labels[spec.Label] = page
	}

	for j, block := range spec.Blocks {
		if err := b.buildBlock(ctx, built, page, block); err != nil {
			return fmt.Errorf("block %d: %w", j, err)
		}
	}
	return nil
}

func (b *Builder) buildBlock(ctx context.Context, built *BuiltScene, page BlockID, spec BlockSpec) error {
	engine := b.Engine
	kind := spec.Type
	if kind == "" {
		kind = BlockGraphic
	}
	block, err := engine.Create(kind)
	if err != nil {
		return EngineError(fmt.Sprintf("create %s block", kind), err)
	}

	if kind == BlockGraphic {
		shapeType := spec.Shape
		if shapeType == "" {
			shapeType = ShapeRect
		}
		shape, err := engine.CreateShape(shapeType)
		if err != nil {
			return EngineError("create shape", err)
		}
		if err := engine.SetShape(block, shape); err != nil {
			return EngineError("set shape", err)
		}
	}
	fill, err := b.applyFill(block, spec.Fill)
	if err != nil {
		return err
	}
	if kind == BlockText && spec.Text != "" {
		if err := engine.SetString(block, PropText, spec.Text); err != nil {
			return EngineError("set text", err)
		}
	}
	if err := engine.AppendChild(page, block); err != nil {
		return EngineError("append block", err)
	}

	if spec.NaturalSize {
		if err := b.naturalSize(ctx, block, fill, spec.Fill.URI); err != nil {
			return err
		}
	}
	if spec.ResetCrop {
		if err := engine.ResetCrop(block); err != nil {
			return EngineError("reset crop", err)
		}
	}
	if spec.CropScaleRatio > 0 {
		if err := engine.SetCropScaleRatio(block, spec.CropScaleRatio); err != nil {
			return EngineError("set crop scale ratio", err)
		}
	}
	if spec.X != 0 || spec.Y != 0 {
		if err := engine.SetPosition(block, spec.X, spec.Y); err != nil {
			return EngineError("set position", err)
		}
	}
	if spec.Width > 0 {
		if err := engine.SetFloat(block, PropWidth, spec.Width); err != nil {
			return EngineError("set width", err)
		}
	}
	if spec.Height > 0 {
		if err := engine.SetFloat(block, PropHeight, spec.Height); err != nil {
			return EngineError("set height", err)
		}
	}
	if spec.Rotation != 0 {
		if err := engine.SetRotation(block, spec.Rotation); err != nil {
			return EngineError("set rotation", err)
		}
	}
	if spec.Label != "" {
		built.Labels[spec.Label] = block
	}
	return nil
}

func (b *Builder) applyFill(target BlockID, spec *FillSpec) (BlockID, error) {
	if spec == nil {
		return InvalidBlock, nil
	}
	engine := b.Engine
	fill, err := engine.CreateFill(spec.Type)
	if err != nil {
		return InvalidBlock, EngineError(fmt.Sprintf("create %s fill", spec.Type), err)
	}
	switch spec.Type {
	case FillColor:
		err = engine.SetString(fill, PropFillColor, spec.Color)
	case FillImage:
		err = engine.SetString(fill, PropImageURI, spec.URI)
	case FillVideo:
		err = engine.SetString(fill, PropVideoURI, spec.URI)
	}
	if err != nil {
		return InvalidBlock, EngineError("configure fill", err)
	}
	if err := engine.SetFill(target, fill); err != nil {
		return InvalidBlock, EngineError("set fill", err)
	}
	return fill, nil
}

func (b *Builder) naturalSize(ctx context.Context, block, fill BlockID, uri string) error {
	source, err := b.Engine.AddToSourceSet(ctx, fill, uri)
	if err != nil {
		if KindFromError(err) == KindNotFound || KindFromError(err) == KindUnsupportedFormat {
			return NewError(KindPrecondition, fmt.Sprintf("source metadata not available for %s", uri), err)
		}
		return EngineError(fmt.Sprintf("resolve source %s", uri), err)
	}
	if source.Width <= 0 || source.Height <= 0 {
		return NewError(KindPrecondition, fmt.Sprintf("source metadata not available for %s", uri), nil)
	}
	if err := b.Engine.SetSize(block, source.Width, source.Height); err != nil {
		return EngineError("apply natural size", err)
	}
	return nil
}
