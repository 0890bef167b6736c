package enginemem

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	enginegraph "github.com/goliatone/go-sceneexport/adapters/engine/graph"
	"github.com/goliatone/go-sceneexport/scene"
)

// videoPlaceholder stands in for video fills, which are not decoded.
var videoPlaceholder = color.NRGBA{R: 0x40, G: 0x40, B: 0x40, A: 0xff}

type assetSource interface {
	Asset(ctx context.Context, uri string) ([]byte, error)
}

type rasterizer struct {
	assets    assetSource
	logger    scene.Logger
	maxPixels int
	opaque    bool

	images map[string]image.Image
}

func (r *rasterizer) render(ctx context.Context, doc enginegraph.Document, opts scene.ExportOptions) (*image.RGBA, error) {
	if len(doc.Frames) == 0 {
		return nil, scene.NewError(scene.KindPrecondition, "nothing to export", nil)
	}
	scale := enginegraph.OutputScale(doc.Size(), opts)
	type placed struct {
		frame  enginegraph.Frame
		offset int
	}
	frames := make([]placed, 0, len(doc.Frames))
	width, height := 0, 0
	for _, frame := range doc.Frames {
		w := int(math.Round(frame.Width * scale))
		h := int(math.Round(frame.Height * scale))
		if w <= 0 || h <= 0 {
			return nil, scene.NewError(scene.KindValidation, fmt.Sprintf("block %d renders to an empty image", frame.Source), nil)
		}
		frames = append(frames, placed{frame: frame, offset: height})
		width = max(width, w)
		height += h
	}
	if r.maxPixels > 0 && width*height > r.maxPixels {
		return nil, scene.NewError(scene.KindValidation, fmt.Sprintf("export of %dx%d pixels exceeds the limit", width, height), nil)
	}

	canvas := image.NewRGBA(image.Rect(0, 0, width, height))
	if r.opaque {
		draw.Draw(canvas, canvas.Bounds(), image.White, image.Point{}, draw.Src)
	}
	for _, p := range frames {
		base := enginegraph.Translate(0, float64(p.offset)).Mul(enginegraph.Scale(scale, scale))
		for _, item := range p.frame.Items {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if err := r.draw(ctx, canvas, base.Mul(item.Transform), item); err != nil {
				return nil, err
			}
		}
	}
	return canvas, nil
}

// draw paints the item into a tile at roughly output resolution, then maps
// the tile onto the canvas through the item's world transform.
func (r *rasterizer) draw(ctx context.Context, canvas *image.RGBA, world enginegraph.Affine, item enginegraph.DrawItem) error {
	if item.Type == scene.BlockText {
		r.logger.Debug("text block skipped by software rasterizer", "block", item.ID)
		return nil
	}
	if item.Fill == nil || item.Width <= 0 || item.Height <= 0 {
		return nil
	}
	if _, ok := world.Invert(); !ok {
		return nil
	}

	tw, th := tileSize(world, item.Width, item.Height, canvas.Bounds())
	tile := image.NewRGBA(image.Rect(0, 0, tw, th))
	var mask image.Image
	if item.Shape == scene.ShapeEllipse {
		mask = ellipseMask{bounds: tile.Bounds()}
	}
	if err := r.fill(ctx, tile, mask, item); err != nil {
		return err
	}

	toWorld := world.Mul(enginegraph.Scale(item.Width/float64(tw), item.Height/float64(th)))
	draw.BiLinear.Transform(canvas, aff3(toWorld), tile, tile.Bounds(), draw.Over, nil)
	return nil
}

// fill paints the item fill over the whole tile, limited by mask.
func (r *rasterizer) fill(ctx context.Context, tile *image.RGBA, mask image.Image, item enginegraph.DrawItem) error {
	bounds := tile.Bounds()
	switch item.Fill.Type {
	case scene.FillColor:
		c, err := enginegraph.ParseColor(item.Fill.Color)
		if err != nil {
			return err
		}
		draw.DrawMask(tile, bounds, image.NewUniform(c), image.Point{}, mask, image.Point{}, draw.Src)
		return nil
	case scene.FillVideo:
		r.logger.Debug("video fill rendered as placeholder", "block", item.ID, "uri", item.Fill.URI)
		draw.DrawMask(tile, bounds, image.NewUniform(videoPlaceholder), image.Point{}, mask, image.Point{}, draw.Src)
		return nil
	case scene.FillImage:
		img, err := r.image(ctx, item.Fill.URI)
		if err != nil {
			return err
		}
		draw.BiLinear.Transform(tile, aff3(coverTransform(img.Bounds(), item, bounds)), img, img.Bounds(), draw.Src, &draw.Options{DstMask: mask})
		return nil
	}
	return scene.NewError(scene.KindUnsupportedFormat, fmt.Sprintf("%s fills are not supported in this runtime", item.Fill.Type), nil)
}

// coverTransform maps image pixels to tile pixels so the image covers the
// block frame, centered, then zoomed by the crop scale.
func coverTransform(src image.Rectangle, item enginegraph.DrawItem, tile image.Rectangle) enginegraph.Affine {
	iw, ih := float64(src.Dx()), float64(src.Dy())
	c := math.Max(item.Width/iw, item.Height/ih) * item.Fill.CropScale
	toTile := enginegraph.Scale(float64(tile.Dx())/item.Width, float64(tile.Dy())/item.Height)
	local := enginegraph.Translate(item.Width/2, item.Height/2).
		Mul(enginegraph.Scale(c, c)).
		Mul(enginegraph.Translate(-float64(src.Min.X)-iw/2, -float64(src.Min.Y)-ih/2))
	return toTile.Mul(local)
}

// tileSize picks a tile resolution matching the world scale, capped so a
// block far larger than the canvas does not allocate past it.
func tileSize(world enginegraph.Affine, w, h float64, canvas image.Rectangle) (int, int) {
	k := math.Sqrt(math.Abs(world[0]*world[3] - world[1]*world[2]))
	limit := float64(max(canvas.Dx()*canvas.Dy(), 1) * 4)
	if area := w * h * k * k; area > limit {
		k *= math.Sqrt(limit / area)
	}
	return max(1, int(math.Ceil(w*k))), max(1, int(math.Ceil(h*k)))
}

// aff3 converts to the row-major layout golang.org/x/image expects.
func aff3(m enginegraph.Affine) f64.Aff3 {
	return f64.Aff3{m[0], m[2], m[4], m[1], m[3], m[5]}
}

// ellipseMask is opaque inside the ellipse inscribed in bounds.
type ellipseMask struct {
	bounds image.Rectangle
}

func (m ellipseMask) ColorModel() color.Model { return color.AlphaModel }

func (m ellipseMask) Bounds() image.Rectangle { return m.bounds }

func (m ellipseMask) At(x, y int) color.Color {
	rx, ry := float64(m.bounds.Dx())/2, float64(m.bounds.Dy())/2
	dx := (float64(x-m.bounds.Min.X) + 0.5 - rx) / rx
	dy := (float64(y-m.bounds.Min.Y) + 0.5 - ry) / ry
	if dx*dx+dy*dy > 1 {
		return color.Transparent
	}
	return color.Opaque
}

func (r *rasterizer) image(ctx context.Context, uri string) (image.Image, error) {
	if img, ok := r.images[uri]; ok {
		return img, nil
	}
	data, err := r.assets.Asset(ctx, uri)
	if err != nil {
		return nil, scene.EngineError(fmt.Sprintf("load image %s", uri), err)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, scene.NewError(scene.KindValidation, fmt.Sprintf("decode image %s", uri), err)
	}
	if r.images == nil {
		r.images = make(map[string]image.Image)
	}
	r.images[uri] = img
	return img, nil
}

func encode(img image.Image, mime scene.MimeType, quality float64) ([]byte, error) {
	var buf bytes.Buffer
	switch mime {
	case scene.MimePNG:
		if err := png.Encode(&buf, img); err != nil {
			return nil, scene.NewError(scene.KindEngine, "encode png", err)
		}
	case scene.MimeJPEG:
		if quality <= 0 {
			quality = 0.9
		}
		q := int(math.Round(math.Min(quality, 1) * 100))
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: max(q, 1)}); err != nil {
			return nil, scene.NewError(scene.KindEngine, "encode jpeg", err)
		}
	default:
		return nil, scene.NewError(scene.KindUnsupportedFormat, fmt.Sprintf("%s export is not supported in this runtime", mime), nil)
	}
	return buf.Bytes(), nil
}
