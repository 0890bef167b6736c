package scene

import (
	"context"
	"io"
	"strings"
	"time"
)

// BlockID is an opaque handle into the engine scene graph.
type BlockID int

// InvalidBlock is returned alongside errors.
const InvalidBlock BlockID = 0

// BlockType identifies scene graph node kinds.
type BlockType string

const (
	BlockScene   BlockType = "scene"
	BlockStack   BlockType = "stack"
	BlockPage    BlockType = "page"
	BlockGraphic BlockType = "graphic"
	BlockText    BlockType = "text"
	BlockGroup   BlockType = "group"
	BlockShape   BlockType = "shape"
	BlockFill    BlockType = "fill"
)

// ShapeType identifies graphic shapes.
type ShapeType string

const (
	ShapeRect    ShapeType = "rect"
	ShapeEllipse ShapeType = "ellipse"
)

// FillType identifies block fills.
type FillType string

const (
	FillColor FillType = "color"
	FillImage FillType = "image"
	FillVideo FillType = "video"
)

// SceneLayout selects how pages are arranged in a new scene.
type SceneLayout string

const (
	LayoutFree          SceneLayout = "free"
	LayoutVerticalStack SceneLayout = "vertical_stack"
)

// Well-known block properties.
const (
	PropWidth        = "width"
	PropHeight       = "height"
	PropRotation     = "rotation"
	PropText         = "text/text"
	PropFillColor    = "fill/color/value"
	PropImageURI     = "fill/image/imageFileURI"
	PropVideoURI     = "fill/video/fileURI"
	PropRotationStep = "constraints/transform/rotation/step"
)

// MimeType identifies export formats.
type MimeType string

const (
	MimePNG  MimeType = "image/png"
	MimeJPEG MimeType = "image/jpeg"
	MimeWebP MimeType = "image/webp"
	MimePDF  MimeType = "application/pdf"
	MimeMP4  MimeType = "video/mp4"
)

// NormalizeMime coerces format aliases into mime types.
func NormalizeMime(value string) MimeType {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "png":
		return MimePNG
	case "jpg", "jpeg", "image/jpg":
		return MimeJPEG
	case "webp":
		return MimeWebP
	case "pdf":
		return MimePDF
	case "mp4", "video":
		return MimeMP4
	default:
		return MimeType(normalized)
	}
}

// Extension returns the file extension (without dot) for the mime type.
func (m MimeType) Extension() string {
	switch m {
	case MimePNG:
		return "png"
	case MimeJPEG:
		return "jpg"
	case MimeWebP:
		return "webp"
	case MimePDF:
		return "pdf"
	case MimeMP4:
		return "mp4"
	}
	if _, sub, ok := strings.Cut(string(m), "/"); ok && sub != "" {
		return sub
	}
	return "bin"
}

// IsVideo reports whether the mime type is a video format.
func (m MimeType) IsVideo() bool {
	return strings.HasPrefix(string(m), "video/")
}

// Size is a width/height pair in design units.
type Size struct {
	Width  float64
	Height float64
}

// SourceInfo describes a resolved fill source.
type SourceInfo struct {
	URI    string
	Width  float64
	Height float64
}

// Underlayer configures a spot color underlayer for print exports.
type Underlayer struct {
	SpotColorName string  `yaml:"spot_color_name" json:"spot_color_name"`
	Red           float64 `yaml:"red" json:"red"`
	Green         float64 `yaml:"green" json:"green"`
	Blue          float64 `yaml:"blue" json:"blue"`
	Offset        float64 `yaml:"offset" json:"offset"`
}

// ExportOptions configures a single engine export call.
type ExportOptions struct {
	MimeType             MimeType    `yaml:"-" json:"-"`
	TargetWidth          float64     `yaml:"target_width" json:"target_width"`
	TargetHeight         float64     `yaml:"target_height" json:"target_height"`
	JPEGQuality          float64     `yaml:"jpeg_quality" json:"jpeg_quality"`
	PDFHighCompatibility bool        `yaml:"pdf_high_compatibility" json:"pdf_high_compatibility"`
	Underlayer           *Underlayer `yaml:"underlayer" json:"underlayer"`
}

// DefaultExportOptions returns format-appropriate defaults for mime.
func DefaultExportOptions(mime MimeType) ExportOptions {
	opts := ExportOptions{MimeType: mime}
	if mime == MimeJPEG || mime == MimeWebP {
		opts.JPEGQuality = 0.9
	}
	return opts
}

// Artifact is an exported payload with its format tag.
type Artifact struct {
	data     []byte
	mimeType MimeType
}

// NewArtifact copies data into an immutable artifact.
func NewArtifact(data []byte, mime MimeType) Artifact {
	return Artifact{data: append([]byte(nil), data...), mimeType: mime}
}

// Bytes returns a copy of the artifact payload.
func (a Artifact) Bytes() []byte {
	return append([]byte(nil), a.data...)
}

// Len returns the payload size.
func (a Artifact) Len() int {
	return len(a.data)
}

// MimeType returns the format that actually produced the payload.
func (a Artifact) MimeType() MimeType {
	return a.mimeType
}

// ArtifactMeta captures stored artifact metadata.
type ArtifactMeta struct {
	ContentType string
	Size        int64
	Filename    string
	CreatedAt   time.Time
}

// ArtifactRef references a stored artifact.
type ArtifactRef struct {
	Key  string
	Meta ArtifactMeta
}

// ArtifactStore persists exported artifacts.
type ArtifactStore interface {
	Put(ctx context.Context, key string, r io.Reader, meta ArtifactMeta) (ArtifactRef, error)
}

// DirLister lists entry names in a directory, creating it when absent.
type DirLister interface {
	List(ctx context.Context, dir string) ([]string, error)
}
