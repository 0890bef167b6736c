package scene

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

type stubBlock struct {
	kind     BlockType
	parent   BlockID
	children []BlockID
	size     Size
	x, y     float64
	rotation float64
	strings  map[string]string
	enums    map[string]string
	fill     BlockID
	crop     float64
}

// stubEngine is a minimal in-memory engine. Property introspection is only
// available through propertyStubEngine.
type stubEngine struct {
	blocks    map[BlockID]*stubBlock
	next      BlockID
	scene     BlockID
	disposed  int
	variables map[string]string
	sources   map[string]SourceInfo
	exportFn  func(ctx context.Context, id BlockID, opts ExportOptions) ([]byte, error)
	exports   []ExportOptions
	calls     []string
}

func newStubEngine() *stubEngine {
	return &stubEngine{
		blocks:    make(map[BlockID]*stubBlock),
		variables: make(map[string]string),
		sources:   make(map[string]SourceInfo),
	}
}

type propertyStubEngine struct {
	*stubEngine
	constrained map[BlockType]bool
	enumErr     error
}

func newPropertyStubEngine(types ...BlockType) *propertyStubEngine {
	constrained := make(map[BlockType]bool, len(types))
	for _, kind := range types {
		constrained[kind] = true
	}
	return &propertyStubEngine{stubEngine: newStubEngine(), constrained: constrained}
}

func (e *propertyStubEngine) FindAllProperties(id BlockID) ([]string, error) {
	block, err := e.block(id)
	if err != nil {
		return nil, err
	}
	props := []string{PropWidth, PropHeight, PropRotation}
	if e.constrained[block.kind] {
		props = append(props, PropRotationStep)
	}
	return props, nil
}

func (e *propertyStubEngine) SetEnum(id BlockID, property, value string) error {
	block, err := e.block(id)
	if err != nil {
		return err
	}
	if e.enumErr != nil {
		return e.enumErr
	}
	block.enums[property] = value
	e.calls = append(e.calls, "enum")
	return nil
}

func (e *propertyStubEngine) Enum(id BlockID, property string) (string, error) {
	block, err := e.block(id)
	if err != nil {
		return "", err
	}
	return block.enums[property], nil
}

func (e *stubEngine) block(id BlockID) (*stubBlock, error) {
	block, ok := e.blocks[id]
	if !ok {
		return nil, NewError(KindNotFound, fmt.Sprintf("block %d not found", id), nil)
	}
	return block, nil
}

func (e *stubEngine) add(kind BlockType) BlockID {
	e.next++
	e.blocks[e.next] = &stubBlock{
		kind:    kind,
		strings: make(map[string]string),
		enums:   make(map[string]string),
		crop:    1,
	}
	return e.next
}

func (e *stubEngine) CreateScene(layout SceneLayout) (BlockID, error) {
	e.scene = e.add(BlockScene)
	if layout == LayoutVerticalStack {
		stack := e.add(BlockStack)
		_ = e.AppendChild(e.scene, stack)
	}
	return e.scene, nil
}

func (e *stubEngine) LoadScene(ctx context.Context, url string) (BlockID, error) {
	_ = ctx
	if strings.TrimSpace(url) == "" {
		return InvalidBlock, NewError(KindValidation, "scene url is required", nil)
	}
	e.scene = e.add(BlockScene)
	page := e.add(BlockPage)
	e.blocks[page].size = Size{Width: 1080, Height: 1080}
	_ = e.AppendChild(e.scene, page)
	for i := 0; i < 2; i++ {
		graphic := e.add(BlockGraphic)
		e.blocks[graphic].size = Size{Width: 100, Height: 100}
		_ = e.AppendChild(page, graphic)
	}
	return e.scene, nil
}

func (e *stubEngine) Scene() (BlockID, error) {
	if e.scene == InvalidBlock {
		return InvalidBlock, NewError(KindPrecondition, "no scene loaded", nil)
	}
	return e.scene, nil
}

func (e *stubEngine) Pages() ([]BlockID, error) {
	return e.FindByType(BlockPage)
}

func (e *stubEngine) Create(kind BlockType) (BlockID, error) {
	return e.add(kind), nil
}

func (e *stubEngine) CreateShape(shape ShapeType) (BlockID, error) {
	_ = shape
	return e.add(BlockShape), nil
}

func (e *stubEngine) CreateFill(fill FillType) (BlockID, error) {
	_ = fill
	return e.add(BlockFill), nil
}

func (e *stubEngine) SetShape(id, shape BlockID) error {
	_, err := e.block(id)
	return err
}

func (e *stubEngine) SetFill(id, fill BlockID) error {
	block, err := e.block(id)
	if err != nil {
		return err
	}
	block.fill = fill
	return nil
}

func (e *stubEngine) AppendChild(parent, child BlockID) error {
	p, err := e.block(parent)
	if err != nil {
		return err
	}
	c, err := e.block(child)
	if err != nil {
		return err
	}
	p.children = append(p.children, child)
	c.parent = parent
	return nil
}

func (e *stubEngine) FindByType(kind BlockType) ([]BlockID, error) {
	var ids []BlockID
	for id := BlockID(1); id <= e.next; id++ {
		if block, ok := e.blocks[id]; ok && block.kind == kind {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (e *stubEngine) Type(id BlockID) (BlockType, error) {
	block, err := e.block(id)
	if err != nil {
		return "", err
	}
	return block.kind, nil
}

func (e *stubEngine) SetString(id BlockID, property, value string) error {
	block, err := e.block(id)
	if err != nil {
		return err
	}
	block.strings[property] = value
	return nil
}

func (e *stubEngine) SetFloat(id BlockID, property string, value float64) error {
	block, err := e.block(id)
	if err != nil {
		return err
	}
	switch property {
	case PropWidth:
		block.size.Width = value
	case PropHeight:
		block.size.Height = value
	case PropRotation:
		block.rotation = value
	default:
		return NewError(KindUnsupportedProperty, property, nil)
	}
	return nil
}

func (e *stubEngine) Float(id BlockID, property string) (float64, error) {
	block, err := e.block(id)
	if err != nil {
		return 0, err
	}
	switch property {
	case PropWidth:
		return block.size.Width, nil
	case PropHeight:
		return block.size.Height, nil
	case PropRotation:
		return block.rotation, nil
	}
	return 0, NewError(KindUnsupportedProperty, property, nil)
}

func (e *stubEngine) SetPosition(id BlockID, x, y float64) error {
	block, err := e.block(id)
	if err != nil {
		return err
	}
	block.x, block.y = x, y
	return nil
}

func (e *stubEngine) SetSize(id BlockID, width, height float64) error {
	block, err := e.block(id)
	if err != nil {
		return err
	}
	block.size = Size{Width: width, Height: height}
	e.calls = append(e.calls, "size")
	return nil
}

func (e *stubEngine) Size(id BlockID) (Size, error) {
	block, err := e.block(id)
	if err != nil {
		return Size{}, err
	}
	return block.size, nil
}

func (e *stubEngine) SetRotation(id BlockID, radians float64) error {
	block, err := e.block(id)
	if err != nil {
		return err
	}
	block.rotation = radians
	e.calls = append(e.calls, "rotation")
	return nil
}

func (e *stubEngine) Rotation(id BlockID) (float64, error) {
	block, err := e.block(id)
	if err != nil {
		return 0, err
	}
	return block.rotation, nil
}

func (e *stubEngine) ResetCrop(id BlockID) error {
	block, err := e.block(id)
	if err != nil {
		return err
	}
	block.crop = 1
	e.calls = append(e.calls, "reset_crop")
	return nil
}

func (e *stubEngine) SetCropScaleRatio(id BlockID, ratio float64) error {
	block, err := e.block(id)
	if err != nil {
		return err
	}
	block.crop = ratio
	return nil
}

func (e *stubEngine) AddToSourceSet(ctx context.Context, fill BlockID, uri string) (SourceInfo, error) {
	_ = ctx
	if _, err := e.block(fill); err != nil {
		return SourceInfo{}, err
	}
	info, ok := e.sources[uri]
	if !ok {
		return SourceInfo{}, NewError(KindNotFound, "source metadata unavailable", nil)
	}
	return info, nil
}

func (e *stubEngine) Group(ids []BlockID) (BlockID, error) {
	if len(ids) < 2 {
		return InvalidBlock, NewError(KindPrecondition, "group needs two blocks", nil)
	}
	group := e.add(BlockGroup)
	for _, id := range ids {
		if _, err := e.block(id); err != nil {
			return InvalidBlock, err
		}
		e.blocks[group].children = append(e.blocks[group].children, id)
	}
	return group, nil
}

func (e *stubEngine) SetVariable(name, value string) error {
	e.variables[name] = value
	return nil
}

func (e *stubEngine) SetSpotColorRGB(name string, r, g, b float64) error {
	_ = name
	_, _, _ = r, g, b
	return nil
}

func (e *stubEngine) AddDefaultAssetSources(ctx context.Context) error {
	_ = ctx
	return nil
}

func (e *stubEngine) Export(ctx context.Context, id BlockID, opts ExportOptions) ([]byte, error) {
	e.exports = append(e.exports, opts)
	if e.exportFn != nil {
		return e.exportFn(ctx, id, opts)
	}
	if _, err := e.block(id); err != nil {
		return nil, err
	}
	return []byte("payload:" + string(opts.MimeType)), nil
}

func (e *stubEngine) Dispose() error {
	e.disposed++
	return nil
}

type logEntry struct {
	level string
	msg   string
	args  []any
}

type recordLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (l *recordLogger) add(level, msg string, args []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, logEntry{level: level, msg: msg, args: args})
}

func (l *recordLogger) Debug(msg string, args ...any) { l.add("debug", msg, args) }
func (l *recordLogger) Info(msg string, args ...any)  { l.add("info", msg, args) }
func (l *recordLogger) Warn(msg string, args ...any)  { l.add("warn", msg, args) }
func (l *recordLogger) Error(msg string, args ...any) { l.add("error", msg, args) }

func (l *recordLogger) count(level string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, entry := range l.entries {
		if entry.level == level {
			n++
		}
	}
	return n
}
