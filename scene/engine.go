package scene

import "context"

// SceneOps creates, loads and inspects the scene root.
type SceneOps interface {
	CreateScene(layout SceneLayout) (BlockID, error)
	LoadScene(ctx context.Context, url string) (BlockID, error)
	Scene() (BlockID, error)
	Pages() ([]BlockID, error)
}

// BlockOps creates and mutates scene graph blocks.
type BlockOps interface {
	Create(kind BlockType) (BlockID, error)
	CreateShape(shape ShapeType) (BlockID, error)
	CreateFill(fill FillType) (BlockID, error)
	SetShape(id, shape BlockID) error
	SetFill(id, fill BlockID) error
	AppendChild(parent, child BlockID) error
	FindByType(kind BlockType) ([]BlockID, error)
	Type(id BlockID) (BlockType, error)
	SetString(id BlockID, property, value string) error
	SetFloat(id BlockID, property string, value float64) error
	Float(id BlockID, property string) (float64, error)
	SetPosition(id BlockID, x, y float64) error
	SetSize(id BlockID, width, height float64) error
	Size(id BlockID) (Size, error)
	SetRotation(id BlockID, radians float64) error
	Rotation(id BlockID) (float64, error)
	ResetCrop(id BlockID) error
	SetCropScaleRatio(id BlockID, ratio float64) error
	AddToSourceSet(ctx context.Context, fill BlockID, uri string) (SourceInfo, error)
	Group(ids []BlockID) (BlockID, error)
}

// EditorOps covers editor-wide state such as variables and spot colors.
type EditorOps interface {
	SetVariable(name, value string) error
	SetSpotColorRGB(name string, r, g, b float64) error
	AddDefaultAssetSources(ctx context.Context) error
}

// PropertyOps exposes property introspection and enum constraints. Engines
// that do not implement it only support imperative manipulation.
type PropertyOps interface {
	FindAllProperties(id BlockID) ([]string, error)
	SetEnum(id BlockID, property, value string) error
	Enum(id BlockID, property string) (string, error)
}

// ExportOps renders a block into an encoded payload.
type ExportOps interface {
	Export(ctx context.Context, id BlockID, opts ExportOptions) ([]byte, error)
}

// BuilderEngine is the subset of engine operations needed to construct scenes.
type BuilderEngine interface {
	SceneOps
	BlockOps
	EditorOps
}

// Engine is the full capability surface of an initialized engine handle.
type Engine interface {
	BuilderEngine
	ExportOps
	Dispose() error
}

// EngineFactory initializes engine handles.
type EngineFactory interface {
	NewEngine(ctx context.Context, cfg SessionConfig) (Engine, error)
}

// EngineFactoryFunc adapts a function to an EngineFactory.
type EngineFactoryFunc func(ctx context.Context, cfg SessionConfig) (Engine, error)

func (f EngineFactoryFunc) NewEngine(ctx context.Context, cfg SessionConfig) (Engine, error) {
	if f == nil {
		return nil, NewError(KindInternal, "engine factory func is nil", nil)
	}
	return f(ctx, cfg)
}
