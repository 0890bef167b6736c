// Package presets expresses the recurring export scripts as declarative jobs.
package presets

import (
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-sceneexport/scene"
	"gopkg.in/yaml.v3"
)

// Sample assets used when a preset is run without explicit inputs.
const (
	SampleImage1 = "https://img.ly/static/ubq_samples/sample_1.jpg"
	SampleImage2 = "https://img.ly/static/ubq_samples/sample_2.jpg"
	SampleImage3 = "https://img.ly/static/ubq_samples/sample_3.jpg"
	SampleVideo  = "https://cdn.img.ly/assets/demo/v2/ly.img.video/videos/pexels-drone-footage-of-a-surfer-barrelling-a-wave-12715991.mp4"

	// NoFallback disables the preset's default fallback format.
	NoFallback = "none"
)

// Preset names.
const (
	Greeting    = "greeting"
	Rotate      = "rotate"
	RotateGroup = "rotate-group"
	Constraint  = "constraint"
	Scale       = "scale"
	Video       = "video"
	MultiPage   = "multi-page"
	Automate    = "automate"
	Export      = "export"
)

// Params are the knobs a caller may override. Zero values keep the preset
// defaults.
type Params struct {
	OutputDir string
	SceneURL  string
	Images    []string
	Video     string
	Text      string
	Degrees   *float64
	Factor    float64
	Min       float64
	Max       float64
	Variables map[string]string
	Mime      string
	Fallback  string
}

// BuildFunc turns params into a job.
type BuildFunc func(Params) (scene.Job, error)

// Preset is a named job builder.
type Preset struct {
	Name        string
	Description string
	Build       BuildFunc
}

// Registry stores presets by name.
type Registry struct {
	mu      sync.RWMutex
	presets map[string]Preset
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{presets: make(map[string]Preset)}
}

// Register adds a preset.
func (r *Registry) Register(p Preset) error {
	if strings.TrimSpace(p.Name) == "" {
		return scene.NewError(scene.KindValidation, "preset name is required", nil)
	}
	if p.Build == nil {
		return scene.NewError(scene.KindValidation, fmt.Sprintf("preset %q has no builder", p.Name), nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.presets[p.Name]; exists {
		return scene.NewError(scene.KindValidation, fmt.Sprintf("preset %q already registered", p.Name), nil)
	}
	r.presets[p.Name] = p
	return nil
}

// Lookup returns the preset called name.
func (r *Registry) Lookup(name string) (Preset, error) {
	r.mu.RLock()
	p, ok := r.presets[name]
	r.mu.RUnlock()
	if !ok {
		return Preset{}, scene.NewError(scene.KindNotFound, fmt.Sprintf("preset %q not found", name), nil)
	}
	return p, nil
}

// Job builds and validates the job for preset name.
func (r *Registry) Job(name string, params Params) (scene.Job, error) {
	p, err := r.Lookup(name)
	if err != nil {
		return scene.Job{}, err
	}
	job, err := p.Build(params)
	if err != nil {
		return scene.Job{}, err
	}
	if params.OutputDir != "" {
		job.OutputDir = params.OutputDir
	}
	if err := job.Validate(); err != nil {
		return scene.Job{}, fmt.Errorf("preset %s: %w", name, err)
	}
	return job, nil
}

// Names returns the registered preset names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.presets))
	for name := range r.presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Default returns a registry holding every built-in preset.
func Default() *Registry {
	r := NewRegistry()
	for _, p := range builtins() {
		if err := r.Register(p); err != nil {
			panic(err)
		}
	}
	return r
}

func builtins() []Preset {
	return []Preset{
		{Name: Greeting, Description: "Image and greeting text on an 800x600 page, exported as PNG", Build: greetingJob},
		{Name: Rotate, Description: "Rotate every graphic by a free angle", Build: rotateJob},
		{Name: RotateGroup, Description: "Group all graphics and rotate the group", Build: rotateGroupJob},
		{Name: Constraint, Description: "Rotate graphics through the rotation step constraint, snapping when unavailable", Build: constraintJob},
		{Name: Scale, Description: "Size an image to its source, then scale it within bounds", Build: scaleJob},
		{Name: Video, Description: "Export a video page, falling back to a still frame", Build: videoJob},
		{Name: MultiPage, Description: "One page per image in a vertical stack, exported as a multi-page PDF", Build: multiPageJob},
		{Name: Automate, Description: "Fill template text variables and export the scene", Build: automateJob},
		{Name: Export, Description: "Image page with crop zoom exported as PDF with a spot color underlayer", Build: exportJob},
	}
}

// DemoScene is the built-in two-graphic scene used when no scene URL is given.
func DemoScene() scene.SceneSpec {
	return scene.SceneSpec{
		Pages: []scene.PageSpec{{
			Label:  "page",
			Width:  1080,
			Height: 1080,
			Fill:   &scene.FillSpec{Type: scene.FillColor, Color: "#ffffff"},
			Blocks: []scene.BlockSpec{
				{Label: "photo", Shape: scene.ShapeRect, X: 140, Y: 140, Width: 400, Height: 400,
					Fill: &scene.FillSpec{Type: scene.FillColor, Color: "#4a90d9"}},
				{Label: "badge", Shape: scene.ShapeEllipse, X: 600, Y: 500, Width: 300, Height: 300,
					Fill: &scene.FillSpec{Type: scene.FillColor, Color: "#f5a623"}},
			},
		}},
	}
}

func greetingJob(p Params) (scene.Job, error) {
	text := p.Text
	if text == "" {
		text = "Hello from Headless Mode!"
	}
	return scene.Job{
		Name: Greeting,
		Scene: scene.SceneSpec{
			DefaultAssets: true,
			Variables:     p.Variables,
			Pages: []scene.PageSpec{{
				Label:  "page",
				Width:  800,
				Height: 600,
				Blocks: []scene.BlockSpec{
					{Label: "image", Shape: scene.ShapeRect, X: 100, Y: 100, Width: 300, Height: 300,
						Fill: &scene.FillSpec{Type: scene.FillImage, URI: image(p, 0, SampleImage1)}},
					{Label: "greeting", Type: scene.BlockText, X: 100, Y: 450, Width: 600, Height: 60, Text: text},
				},
			}},
		},
		Exports: []scene.ExportSpec{export(p, scene.Selector{Label: "page"}, scene.MimePNG, "", "headless-output(N).png")},
	}, nil
}

func rotateJob(p Params) (scene.Job, error) {
	degrees := degreesOr(p, 45)
	return scene.Job{
		Name:  Rotate,
		Scene: templateScene(p),
		Transforms: []scene.TransformSpec{
			{Kind: scene.TransformFreeRotate, Target: scene.Selector{Type: scene.BlockGraphic}, Degrees: &degrees},
		},
		Exports: []scene.ExportSpec{export(p, scene.Selector{}, scene.MimePNG, "", "example-rotated(N).png")},
	}, nil
}

func rotateGroupJob(p Params) (scene.Job, error) {
	degrees := degreesOr(p, 45)
	return scene.Job{
		Name:  RotateGroup,
		Scene: templateScene(p),
		Transforms: []scene.TransformSpec{
			{Kind: scene.TransformGroupRotate, Target: scene.Selector{Type: scene.BlockGraphic}, Degrees: &degrees},
		},
		Exports: []scene.ExportSpec{export(p, scene.Selector{}, scene.MimePNG, "", "rotate-group(N).png")},
	}, nil
}

func constraintJob(p Params) (scene.Job, error) {
	degrees := degreesOr(p, 90)
	return scene.Job{
		Name:  Constraint,
		Scene: templateScene(p),
		Transforms: []scene.TransformSpec{
			{Kind: scene.TransformRotate, Target: scene.Selector{Type: scene.BlockGraphic}, Degrees: &degrees},
		},
		Exports: []scene.ExportSpec{export(p, scene.Selector{}, scene.MimePNG, "", "constraint(N).png")},
	}, nil
}

func scaleJob(p Params) (scene.Job, error) {
	factor := p.Factor
	if factor == 0 {
		factor = 1.9
	}
	bounds := scene.DefaultScaleBounds
	if p.Min != 0 || p.Max != 0 {
		bounds = scene.Bounds{Min: p.Min, Max: p.Max}
	}
	return scene.Job{
		Name: Scale,
		Scene: scene.SceneSpec{
			Pages: []scene.PageSpec{{
				Label:  "page",
				Width:  800,
				Height: 600,
				Blocks: []scene.BlockSpec{{
					Label:       "graphic",
					Shape:       scene.ShapeRect,
					Fill:        &scene.FillSpec{Type: scene.FillImage, URI: image(p, 0, SampleImage1)},
					NaturalSize: true,
					ResetCrop:   true,
				}},
			}},
		},
		Transforms: []scene.TransformSpec{{
			Kind:   scene.TransformScale,
			Target: scene.Selector{Label: "graphic"},
			Factor: factor,
			Min:    bounds.Min,
			Max:    bounds.Max,
		}},
		Exports: []scene.ExportSpec{export(p, scene.Selector{Label: "graphic"}, scene.MimePNG, "", "scale-constraints(N).png")},
	}, nil
}

func videoJob(p Params) (scene.Job, error) {
	uri := p.Video
	if uri == "" {
		uri = SampleVideo
	}
	return scene.Job{
		Name: Video,
		Scene: scene.SceneSpec{
			Pages: []scene.PageSpec{{
				Label:  "page",
				Width:  1280,
				Height: 720,
				Blocks: []scene.BlockSpec{{
					Label:     "video",
					Shape:     scene.ShapeRect,
					Fill:      &scene.FillSpec{Type: scene.FillVideo, URI: uri},
					ResetCrop: true,
					Width:     1280,
					Height:    720,
				}},
			}},
		},
		Exports: []scene.ExportSpec{export(p, scene.Selector{Label: "page"}, scene.MimeMP4, scene.MimePNG, "scale-video(N).mp4")},
	}, nil
}

func multiPageJob(p Params) (scene.Job, error) {
	images := p.Images
	if len(images) == 0 {
		images = []string{SampleImage1, SampleImage2, SampleImage3}
	}
	pages := make([]scene.PageSpec, 0, len(images))
	for i, uri := range images {
		pages = append(pages, scene.PageSpec{
			Label:       fmt.Sprintf("page-%d", i+1),
			Fill:        &scene.FillSpec{Type: scene.FillImage, URI: uri},
			NaturalSize: true,
		})
	}
	return scene.Job{
		Name:    MultiPage,
		Scene:   scene.SceneSpec{Layout: scene.LayoutVerticalStack, Pages: pages},
		Exports: []scene.ExportSpec{export(p, scene.Selector{Scene: true}, scene.MimePDF, scene.MimePNG, "export-multiple(N).pdf")},
	}, nil
}

func automateJob(p Params) (scene.Job, error) {
	spec := scene.SceneSpec{URL: p.SceneURL, Variables: p.Variables}
	if spec.URL == "" {
		spec.Pages = []scene.PageSpec{postcardPage()}
	}
	return scene.Job{
		Name:    Automate,
		Scene:   spec,
		Exports: []scene.ExportSpec{export(p, scene.Selector{Scene: true}, scene.MimePDF, scene.MimePNG, "design-automation(N).pdf")},
	}, nil
}

func exportJob(p Params) (scene.Job, error) {
	spec := export(p, scene.Selector{Label: "page"}, scene.MimePDF, scene.MimePNG, "export(N).pdf")
	spec.Options.TargetWidth = 800
	spec.Options.TargetHeight = 600
	spec.Options.PDFHighCompatibility = true
	spec.Options.Underlayer = &scene.Underlayer{SpotColorName: "RDG_WHITE", Offset: -2}
	return scene.Job{
		Name: Export,
		Scene: scene.SceneSpec{
			SpotColors: []scene.SpotColor{{Name: "RDG_WHITE", Red: 0.8, Green: 0.8, Blue: 0.8}},
			Pages: []scene.PageSpec{{
				Label:          "page",
				Fill:           &scene.FillSpec{Type: scene.FillImage, URI: image(p, 0, SampleImage1)},
				NaturalSize:    true,
				CropScaleRatio: 2,
			}},
		},
		Exports: []scene.ExportSpec{spec},
	}, nil
}

func postcardPage() scene.PageSpec {
	return scene.PageSpec{
		Label:  "postcard",
		Width:  1200,
		Height: 800,
		Fill:   &scene.FillSpec{Type: scene.FillColor, Color: "#fdf6e3"},
		Blocks: []scene.BlockSpec{
			{Label: "name", Type: scene.BlockText, X: 640, Y: 360, Width: 480, Height: 48, Text: "{{ first_name }} {{ last_name }}"},
			{Label: "address", Type: scene.BlockText, X: 640, Y: 430, Width: 480, Height: 40, Text: "{{ address }}"},
			{Label: "city", Type: scene.BlockText, X: 640, Y: 490, Width: 480, Height: 40, Text: "{{ city }}"},
			{Label: "stamp", Shape: scene.ShapeRect, X: 1000, Y: 60, Width: 140, Height: 170,
				Fill: &scene.FillSpec{Type: scene.FillColor, Color: "#dc322f"}},
		},
	}
}

func templateScene(p Params) scene.SceneSpec {
	if p.SceneURL != "" {
		return scene.SceneSpec{URL: p.SceneURL, DefaultAssets: true, Variables: p.Variables}
	}
	spec := DemoScene()
	spec.Variables = p.Variables
	return spec
}

func export(p Params, target scene.Selector, mime, fallback scene.MimeType, template string) scene.ExportSpec {
	if p.Mime != "" {
		if override := scene.NormalizeMime(p.Mime); override != "" && override != mime {
			mime = override
			template = scene.TemplateForMime(template, mime)
		}
	}
	switch {
	case p.Fallback == NoFallback:
		fallback = ""
	case p.Fallback != "":
		fallback = scene.NormalizeMime(p.Fallback)
	}
	if fallback == mime {
		fallback = ""
	}
	return scene.ExportSpec{
		Target:   target,
		Mime:     string(mime),
		Fallback: string(fallback),
		Template: template,
		Options:  scene.DefaultExportOptions(mime),
	}
}

func image(p Params, index int, fallback string) string {
	if index < len(p.Images) && p.Images[index] != "" {
		return p.Images[index]
	}
	return fallback
}

func degreesOr(p Params, value float64) float64 {
	if p.Degrees != nil && !math.IsNaN(*p.Degrees) {
		return *p.Degrees
	}
	return value
}

// LoadVariables reads text variables from a JSON or YAML file. Both a flat
// map and a {"textVariables": {...}} document are accepted.
func LoadVariables(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, scene.NewError(scene.KindNotFound, fmt.Sprintf("variables file %s not found", path), err)
		}
		return nil, scene.NewError(scene.KindInternal, fmt.Sprintf("read variables file %s", path), err)
	}
	return ParseVariables(data)
}

// ParseVariables decodes a variables document.
func ParseVariables(data []byte) (map[string]string, error) {
	var doc struct {
		TextVariables map[string]string `yaml:"textVariables"`
	}
	if err := yaml.Unmarshal(data, &doc); err == nil && len(doc.TextVariables) > 0 {
		return doc.TextVariables, nil
	}
	var flat map[string]string
	if err := yaml.Unmarshal(data, &flat); err != nil {
		return nil, scene.NewError(scene.KindValidation, "variables must be a map of strings", err)
	}
	return flat, nil
}
