package scene

import (
	"fmt"
	"math"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// TransformSpec declares a transform over selected elements. Angles may be
// given in radians or degrees; degrees win when both are set.
type TransformSpec struct {
	Kind    TransformKind `yaml:"kind" json:"kind"`
	Target  Selector      `yaml:"target" json:"target"`
	Angle   float64       `yaml:"angle" json:"angle"`
	Degrees *float64      `yaml:"degrees" json:"degrees"`
	Factor  float64       `yaml:"factor" json:"factor"`
	Min     float64       `yaml:"min" json:"min"`
	Max     float64       `yaml:"max" json:"max"`
}

// Radians returns the rotation angle in radians.
func (t TransformSpec) Radians() float64 {
	if t.Degrees != nil {
		return *t.Degrees / 180 * math.Pi
	}
	return t.Angle
}

// Bounds returns the clamp bounds, defaulting to DefaultScaleBounds.
func (t TransformSpec) Bounds() Bounds {
	if t.Min == 0 && t.Max == 0 {
		return DefaultScaleBounds
	}
	return Bounds{Min: t.Min, Max: t.Max}
}

// ExportSpec declares one export and its naming template.
type ExportSpec struct {
	Target   Selector      `yaml:"target" json:"target"`
	Mime     string        `yaml:"mime" json:"mime"`
	Fallback string        `yaml:"fallback" json:"fallback"`
	Template string        `yaml:"template" json:"template"`
	Options  ExportOptions `yaml:"options" json:"options"`
}

// Job is a declarative pipeline run.
type Job struct {
	Name       string          `yaml:"name" json:"name"`
	OutputDir  string          `yaml:"output_dir" json:"output_dir"`
	Scene      SceneSpec       `yaml:"scene" json:"scene"`
	Transforms []TransformSpec `yaml:"transforms" json:"transforms"`
	Exports    []ExportSpec    `yaml:"exports" json:"exports"`
}

// Validate checks the job without touching an engine.
func (j Job) Validate() error {
	if strings.TrimSpace(j.Name) == "" {
		return NewError(KindValidation, "job name is required", nil)
	}
	if err := j.Scene.Validate(); err != nil {
		return err
	}
	for i, transform := range j.Transforms {
		if err := transform.Target.Validate(); err != nil {
			return fmt.Errorf("transform %d: %w", i, err)
		}
		switch transform.Kind {
		case TransformRotate, TransformSnap, TransformFreeRotate, TransformGroupRotate:
		case TransformScale:
			if transform.Factor <= 0 || !finite(transform.Factor) {
				return NewError(KindValidation, fmt.Sprintf("transform %d: scale factor must be positive", i), nil)
			}
			if err := transform.Bounds().Validate(); err != nil {
				return fmt.Errorf("transform %d: %w", i, err)
			}
		default:
			return NewError(KindValidation, fmt.Sprintf("transform %d: unknown kind %q", i, transform.Kind), nil)
		}
	}
	if len(j.Exports) == 0 {
		return NewError(KindValidation, "job needs at least one export", nil)
	}
	for i, spec := range j.Exports {
		if err := spec.Target.Validate(); err != nil {
			return fmt.Errorf("export %d: %w", i, err)
		}
		if NormalizeMime(spec.Mime) == "" {
			return NewError(KindValidation, fmt.Sprintf("export %d: mime is required", i), nil)
		}
		if _, err := ParseNameTemplate(spec.Template); err != nil {
			return fmt.Errorf("export %d: %w", i, err)
		}
	}
	return nil
}

// ParseJob decodes a YAML or JSON job document.
func ParseJob(data []byte) (Job, error) {
	var job Job
	if err := yaml.Unmarshal(data, &job); err != nil {
		return Job{}, NewError(KindValidation, "decode job", err)
	}
	if err := job.Validate(); err != nil {
		return Job{}, err
	}
	return job, nil
}

// LoadJob reads and decodes a job file.
func LoadJob(path string) (Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Job{}, NewError(KindNotFound, fmt.Sprintf("job file %s not found", path), err)
		}
		return Job{}, NewError(KindInternal, fmt.Sprintf("read job file %s", path), err)
	}
	return ParseJob(data)
}
