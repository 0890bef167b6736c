package enginegraph

import (
	"fmt"
	"image/color"
	"strconv"
	"strings"

	"github.com/goliatone/go-sceneexport/scene"
)

var namedColors = map[string]color.NRGBA{
	"transparent": {},
	"black":       {A: 0xff},
	"white":       {R: 0xff, G: 0xff, B: 0xff, A: 0xff},
	"red":         {R: 0xff, A: 0xff},
	"green":       {G: 0x80, A: 0xff},
	"blue":        {B: 0xff, A: 0xff},
}

// ParseColor parses #rgb, #rrggbb, #rrggbbaa and a few color names.
func ParseColor(value string) (color.NRGBA, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	if named, ok := namedColors[value]; ok {
		return named, nil
	}
	hex, ok := strings.CutPrefix(value, "#")
	if !ok {
		return color.NRGBA{}, invalidColor(value)
	}
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) == 6 {
		hex += "ff"
	}
	if len(hex) != 8 {
		return color.NRGBA{}, invalidColor(value)
	}
	raw, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.NRGBA{}, invalidColor(value)
	}
	return color.NRGBA{
		R: uint8(raw >> 24),
		G: uint8(raw >> 16),
		B: uint8(raw >> 8),
		A: uint8(raw),
	}, nil
}

// CSSColor formats c as a CSS rgba() value.
func CSSColor(c color.NRGBA) string {
	return fmt.Sprintf("rgba(%d, %d, %d, %s)", c.R, c.G, c.B, strconv.FormatFloat(float64(c.A)/255, 'f', 3, 64))
}

// SpotColorNRGBA converts spot color components in [0, 1] to NRGBA.
func SpotColorNRGBA(spot SpotColor) color.NRGBA {
	return color.NRGBA{
		R: uint8(spot.Red*255 + 0.5),
		G: uint8(spot.Green*255 + 0.5),
		B: uint8(spot.Blue*255 + 0.5),
		A: 0xff,
	}
}

func invalidColor(value string) error {
	return scene.NewError(scene.KindValidation, fmt.Sprintf("invalid color %q", value), nil)
}
