package enginechromium

import (
	"context"
	"encoding/base64"
	"fmt"
	"image/color"
	"net/http"
	"strconv"
	"strings"

	"github.com/flosch/pongo2/v6"
	enginegraph "github.com/goliatone/go-sceneexport/adapters/engine/graph"
	"github.com/goliatone/go-sceneexport/scene"
)

var documentTemplate = pongo2.Must(pongo2.FromString(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<style>
html, body { margin: 0; padding: 0; background: transparent; }
.frame { position: relative; overflow: hidden; }
.item, .underlayer { position: absolute; left: 0; top: 0; transform-origin: 0 0; box-sizing: border-box; }
.item { overflow: hidden; }
.item img { width: 100%; height: 100%; object-fit: cover; display: block; }
.text { font-family: sans-serif; line-height: 1.2; white-space: pre-wrap; overflow-wrap: break-word; }
{% if paged %}{% for frame in frames %}@page {{ frame.Page }} { size: {{ frame.Width }}px {{ frame.Height }}px; margin: 0; }
{% endfor %}{% endif %}</style>
</head>
<body>
{% for frame in frames %}<div class="frame" style="width: {{ frame.Width }}px; height: {{ frame.Height }}px;{% if paged %} page: {{ frame.Page }};{% endif %}">
{% for item in frame.Items %}{% if item.Underlayer %}<div class="underlayer" style="width: {{ item.Width }}px; height: {{ item.Height }}px; transform: {{ item.Matrix }}; {{ item.Underlayer }}"></div>
{% endif %}<div class="item{% if item.Text %} text{% endif %}" style="width: {{ item.Width }}px; height: {{ item.Height }}px; transform: {{ item.Matrix }}; {{ item.Style }}">{% if item.Image %}<img src="{{ item.Image }}" style="{{ item.ImageStyle }}">{% endif %}{{ item.Text }}</div>
{% endfor %}</div>
{% endfor %}</body>
</html>
`))

type frameView struct {
	Page   string
	Width  string
	Height string
	Items  []itemView
}

type itemView struct {
	Width      string
	Height     string
	Matrix     string
	Style      string
	Image      string
	ImageStyle string
	Text       string
	Underlayer string
}

type assetSource interface {
	Asset(ctx context.Context, uri string) ([]byte, error)
}

// documentBuilder turns a composed document into a self-contained HTML page.
type documentBuilder struct {
	assets     assetSource
	print      bool
	underlayer *scene.Underlayer
	spotColors map[string]enginegraph.SpotColor

	images map[string]string
}

func (b *documentBuilder) render(ctx context.Context, doc enginegraph.Document) ([]byte, error) {
	b.spotColors = doc.SpotColors
	frames := make([]frameView, 0, len(doc.Frames))
	for i, frame := range doc.Frames {
		view := frameView{
			Page:   fmt.Sprintf("frame%d", i+1),
			Width:  formatFloat(frame.Width),
			Height: formatFloat(frame.Height),
		}
		for _, item := range frame.Items {
			iv, err := b.item(ctx, item)
			if err != nil {
				return nil, err
			}
			view.Items = append(view.Items, iv)
		}
		frames = append(frames, view)
	}
	out, err := documentTemplate.ExecuteBytes(pongo2.Context{"frames": frames, "paged": b.print})
	if err != nil {
		return nil, scene.NewError(scene.KindInternal, "render scene document", err)
	}
	return out, nil
}

func (b *documentBuilder) item(ctx context.Context, item enginegraph.DrawItem) (itemView, error) {
	view := itemView{
		Width:  formatFloat(item.Width),
		Height: formatFloat(item.Height),
		Matrix: matrix(item.Transform),
	}
	var style []string
	if item.Shape == scene.ShapeEllipse {
		style = append(style, "border-radius: 50%")
	}

	if item.Fill != nil {
		switch item.Fill.Type {
		case scene.FillColor:
			c, err := enginegraph.ParseColor(item.Fill.Color)
			if err != nil {
				return itemView{}, err
			}
			if item.Type == scene.BlockText {
				style = append(style, "color: "+enginegraph.CSSColor(c))
			} else {
				style = append(style, "background-color: "+enginegraph.CSSColor(c))
			}
		case scene.FillImage:
			src, err := b.dataURI(ctx, item.Fill.URI)
			if err != nil {
				return itemView{}, err
			}
			view.Image = src
			if item.Fill.CropScale != 1 {
				view.ImageStyle = "transform: scale(" + formatFloat(item.Fill.CropScale) + ")"
			}
		case scene.FillVideo:
			style = append(style, "background-color: #404040")
		}
	}
	if item.Type == scene.BlockText {
		view.Text = item.Text
		style = append(style, "font-size: "+formatFloat(max(item.Height*0.8, 1))+"px")
	}
	if b.print && b.underlayer != nil && item.Type != scene.BlockPage {
		view.Underlayer = b.underlayerStyle(item.Shape)
	}
	view.Style = strings.Join(style, "; ")
	return view, nil
}

// underlayerStyle paints the spot color behind the item, spread by the offset.
func (b *documentBuilder) underlayerStyle(shape scene.ShapeType) string {
	u := b.underlayer
	var c color.NRGBA
	if spot, ok := b.spotColors[u.SpotColorName]; ok {
		c = enginegraph.SpotColorNRGBA(spot)
	} else {
		c = enginegraph.SpotColorNRGBA(enginegraph.SpotColor{Name: u.SpotColorName, Red: u.Red, Green: u.Green, Blue: u.Blue})
	}
	css := enginegraph.CSSColor(c)
	parts := []string{"background-color: " + css}
	if u.Offset != 0 {
		parts = append(parts, fmt.Sprintf("box-shadow: 0 0 0 %spx %s", formatFloat(u.Offset), css))
	}
	if shape == scene.ShapeEllipse {
		parts = append(parts, "border-radius: 50%")
	}
	return strings.Join(parts, "; ")
}

func (b *documentBuilder) dataURI(ctx context.Context, uri string) (string, error) {
	if src, ok := b.images[uri]; ok {
		return src, nil
	}
	data, err := b.assets.Asset(ctx, uri)
	if err != nil {
		return "", scene.EngineError(fmt.Sprintf("load image %s", uri), err)
	}
	src := "data:" + http.DetectContentType(data) + ";base64," + base64.StdEncoding.EncodeToString(data)
	if b.images == nil {
		b.images = make(map[string]string)
	}
	b.images[uri] = src
	return src, nil
}

func matrix(m enginegraph.Affine) string {
	parts := make([]string, len(m))
	for i, v := range m {
		if v == 0 {
			v = 0 // drop negative zero
		}
		parts[i] = formatFloat(v)
	}
	return "matrix(" + strings.Join(parts, ", ") + ")"
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
