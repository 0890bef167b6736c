package scene

import (
	"fmt"
	"math"
	"slices"
	"strconv"
)

// DefaultRotationStep quantizes rotations to quarter turns.
const DefaultRotationStep = math.Pi / 2

// TransformKind identifies a transform operation.
type TransformKind string

const (
	TransformRotate      TransformKind = "rotate"
	TransformSnap        TransformKind = "snap_rotation"
	TransformFreeRotate  TransformKind = "free_rotate"
	TransformGroupRotate TransformKind = "group_rotate"
	TransformScale       TransformKind = "scale"
)

// Bounds is an inclusive clamp range for scale factors.
type Bounds struct {
	Min float64
	Max float64
}

// DefaultScaleBounds mirrors the bounds used by the scale presets.
var DefaultScaleBounds = Bounds{Min: 0.5, Max: 2.0}

// Validate reports bounds that cannot clamp anything.
func (b Bounds) Validate() error {
	if !finite(b.Min) || !finite(b.Max) {
		return NewError(KindValidation, "scale bounds must be finite", nil)
	}
	if b.Min <= 0 {
		return NewError(KindValidation, "scale bounds must be positive", nil)
	}
	if b.Min > b.Max {
		return NewError(KindValidation, fmt.Sprintf("scale bounds inverted: min %g > max %g", b.Min, b.Max), nil)
	}
	return nil
}

// Clamp returns min(max(f, Min), Max).
func (b Bounds) Clamp(f float64) float64 {
	return math.Min(math.Max(f, b.Min), b.Max)
}

// TransformRequest describes one transform over an ordered element list.
type TransformRequest struct {
	Kind     TransformKind
	Elements []BlockID
	Angle    float64
	Factor   float64
	Bounds   Bounds
}

// TransformPolicy applies rotation and scale, preferring engine constraints
// and falling back to direct manipulation.
type TransformPolicy struct {
	Engine BlockOps
	Step   float64
	Logger Logger
}

// NewTransformPolicy creates a policy with quarter-turn stepping.
func NewTransformPolicy(engine BlockOps, logger Logger) *TransformPolicy {
	return &TransformPolicy{Engine: engine, Step: DefaultRotationStep, Logger: logger}
}

// Apply dispatches req to the matching operation.
func (p *TransformPolicy) Apply(req TransformRequest) error {
	switch req.Kind {
	case TransformRotate:
		return p.ApplyRotation(req.Elements, req.Angle)
	case TransformSnap:
		return p.SnapRotation(req.Elements)
	case TransformFreeRotate:
		return p.RotateFree(req.Elements, req.Angle)
	case TransformGroupRotate:
		_, err := p.RotateGroup(req.Elements, req.Angle)
		return err
	case TransformScale:
		return p.ApplyScale(req.Elements, req.Factor, req.Bounds)
	default:
		return NewError(KindValidation, fmt.Sprintf("unknown transform kind %q", req.Kind), nil)
	}
}

// ApplyRotation rotates every element to the step-quantized angle nearest to
// angle. Elements exposing the rotation step constraint get the matching enum
// value; the others get the snapped raw rotation and a warning.
func (p *TransformPolicy) ApplyRotation(elements []BlockID, angle float64) error {
	if err := p.check(elements, 1); err != nil {
		return err
	}
	if !finite(angle) {
		return NewError(KindValidation, "rotation angle must be finite", nil)
	}
	for _, id := range elements {
		if err := p.rotate(id, angle); err != nil {
			return err
		}
	}
	return nil
}

// SnapRotation quantizes each element's current rotation.
func (p *TransformPolicy) SnapRotation(elements []BlockID) error {
	if err := p.check(elements, 1); err != nil {
		return err
	}
	for _, id := range elements {
		current, err := p.Engine.Rotation(id)
		if err != nil {
			return EngineError(fmt.Sprintf("read rotation of block %d", id), err)
		}
		if err := p.rotate(id, current); err != nil {
			return err
		}
	}
	return nil
}

// RotateFree sets the raw rotation on every element without quantizing.
func (p *TransformPolicy) RotateFree(elements []BlockID, angle float64) error {
	if err := p.check(elements, 1); err != nil {
		return err
	}
	if !finite(angle) {
		return NewError(KindValidation, "rotation angle must be finite", nil)
	}
	for _, id := range elements {
		if err := p.setRotation(id, angle); err != nil {
			return err
		}
	}
	return nil
}

// RotateGroup groups elements and sets the raw rotation on the new group.
func (p *TransformPolicy) RotateGroup(elements []BlockID, angle float64) (BlockID, error) {
	if err := p.check(elements, 2); err != nil {
		return InvalidBlock, err
	}
	if !finite(angle) {
		return InvalidBlock, NewError(KindValidation, "rotation angle must be finite", nil)
	}
	group, err := p.Engine.Group(elements)
	if err != nil {
		return InvalidBlock, EngineError("group blocks", err)
	}
	if err := p.setRotation(group, angle); err != nil {
		return InvalidBlock, err
	}
	return group, nil
}

// ApplyScale clamps factor into bounds and multiplies each element's current
// size by it. Callers must reset crop or natural size before scaling.
func (p *TransformPolicy) ApplyScale(elements []BlockID, factor float64, bounds Bounds) error {
	if err := p.check(elements, 1); err != nil {
		return err
	}
	if !finite(factor) {
		return NewError(KindValidation, "scale factor must be finite", nil)
	}
	if err := bounds.Validate(); err != nil {
		return err
	}
	clamped := bounds.Clamp(factor)
	logger := loggerOrNop(p.Logger)
	if clamped != factor {
		logger.Debug("scale factor clamped", "requested", factor, "applied", clamped)
	}
	for _, id := range elements {
		base, err := p.Engine.Size(id)
		if err != nil {
			return EngineError(fmt.Sprintf("read size of block %d", id), err)
		}
		if err := p.Engine.SetSize(id, base.Width*clamped, base.Height*clamped); err != nil {
			return p.propertyError(id, PropWidth, err)
		}
	}
	return nil
}

func (p *TransformPolicy) rotate(id BlockID, angle float64) error {
	step := p.step()
	steps := math.Round(angle / step)
	if props, ok := p.Engine.(PropertyOps); ok {
		available, err := props.FindAllProperties(id)
		if err != nil {
			return EngineError(fmt.Sprintf("list properties of block %d", id), err)
		}
		if slices.Contains(available, PropRotationStep) {
			value := RotationEnum(angle, step)
			err := props.SetEnum(id, PropRotationStep, value)
			switch {
			case err == nil:
				loggerOrNop(p.Logger).Debug("rotation constraint applied", "block", int(id), "value", value)
				return nil
			case !enumRejected(err):
				return p.propertyError(id, PropRotationStep, err)
			}
			return p.snapRotation(id, angle, steps*step, "rotation constraint rejected value, snapped rotation manually", err)
		}
	}
	return p.snapRotation(id, angle, steps*step, "rotation constraint unavailable, snapped rotation manually", nil)
}

func (p *TransformPolicy) snapRotation(id BlockID, requested, snapped float64, msg string, cause error) error {
	if err := p.setRotation(id, snapped); err != nil {
		return err
	}
	args := []any{
		"block", int(id),
		"property", PropRotationStep,
		"requested", requested,
		"applied", snapped,
	}
	if cause != nil {
		args = append(args, "error", cause)
	}
	loggerOrNop(p.Logger).Warn(msg, args...)
	return nil
}

// enumRejected reports whether the engine listed the constraint but refused
// the value, as opposed to failing outright.
func enumRejected(err error) bool {
	switch KindFromError(err) {
	case KindUnsupportedProperty, KindValidation:
		return true
	}
	return false
}

func (p *TransformPolicy) setRotation(id BlockID, angle float64) error {
	if err := p.Engine.SetRotation(id, angle); err != nil {
		return p.propertyError(id, PropRotation, err)
	}
	return nil
}

func (p *TransformPolicy) propertyError(id BlockID, property string, err error) error {
	if KindFromError(err) == KindUnsupportedProperty {
		return NewError(KindUnsupportedProperty, fmt.Sprintf("block %d does not support %s", id, property), err)
	}
	return EngineError(fmt.Sprintf("set %s on block %d", property, id), err)
}

func (p *TransformPolicy) check(elements []BlockID, minimum int) error {
	if p == nil || p.Engine == nil {
		return NewError(KindInternal, "transform policy has no engine", nil)
	}
	if len(elements) < minimum {
		return NewError(KindPrecondition, fmt.Sprintf("operation needs at least %d element(s), got %d", minimum, len(elements)), nil)
	}
	return nil
}

func (p *TransformPolicy) step() float64 {
	if p.Step <= 0 || !finite(p.Step) {
		return DefaultRotationStep
	}
	return p.Step
}

// SnapAngle returns the multiple of step nearest to angle.
func SnapAngle(angle, step float64) float64 {
	if step <= 0 {
		return angle
	}
	return math.Round(angle/step) * step
}

// RotationEnum returns the constraint enum for the quantized angle nearest to
// angle, normalized into [0, 360) degrees, e.g. "90deg".
func RotationEnum(angle, step float64) string {
	snapped := SnapAngle(angle, step) * 180 / math.Pi
	deg := math.Mod(math.Round(snapped), 360)
	if deg < 0 {
		deg += 360
	}
	if deg == 0 {
		// drops negative zero
		deg = 0
	}
	return strconv.FormatFloat(deg, 'f', -1, 64) + "deg"
}

// ParseRotationEnum converts an enum value such as "90deg" to radians.
func ParseRotationEnum(value string) (float64, error) {
	if len(value) < 4 || value[len(value)-3:] != "deg" {
		return 0, NewError(KindValidation, fmt.Sprintf("invalid rotation enum %q", value), nil)
	}
	deg, err := strconv.ParseFloat(value[:len(value)-3], 64)
	if err != nil {
		return 0, NewError(KindValidation, fmt.Sprintf("invalid rotation enum %q", value), err)
	}
	return deg / 180 * math.Pi, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
