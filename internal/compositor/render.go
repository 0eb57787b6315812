package compositor

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"strings"

	xdraw "golang.org/x/image/draw"
)

var (
	// ErrInvalidImage is returned when the source image cannot be decoded or is empty
	ErrInvalidImage = errors.New("could not load image file")
	// ErrUnimplementedMode is returned for a mode outside center, fill, full and tile
	ErrUnimplementedMode = errors.New("unimplemented wallpaper mode")
	// ErrInvalidSize is returned when the target canvas has a non-positive dimension
	ErrInvalidSize = errors.New("invalid canvas size")
)

// Renderer composites source images onto canvases using a fixed scaler
type Renderer struct {
	// Scaler resamples the source for the fill and full modes
	Scaler xdraw.Scaler
}

// DefaultRenderer uses bilinear scaling, a good balance for multi-megapixel
// photos rendered once per output at load time
var DefaultRenderer = Renderer{Scaler: xdraw.ApproxBiLinear}

// Render composites src onto a new width x height canvas using DefaultRenderer
func Render(src image.Image, width, height int, mode Mode, background color.Color) (*Canvas, error) {
	return DefaultRenderer.Render(src, width, height, mode, background)
}

// ParseQuality returns a renderer for a quality name: fast, good or best
func ParseQuality(name string) (Renderer, error) {
	switch strings.ToLower(name) {
	case "fast":
		return Renderer{Scaler: xdraw.NearestNeighbor}, nil
	case "", "good":
		return Renderer{Scaler: xdraw.ApproxBiLinear}, nil
	case "best":
		return Renderer{Scaler: xdraw.CatmullRom}, nil
	default:
		return Renderer{}, fmt.Errorf("unknown render quality %q (use fast, good or best)", name)
	}
}

// Render composites src onto a new width x height canvas. The canvas is first
// filled with an opaque background, then src is blended on top according to mode.
func (r Renderer) Render(src image.Image, width, height int, mode Mode, background color.Color) (*Canvas, error) {
	if src == nil || src.Bounds().Empty() {
		return nil, ErrInvalidImage
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidSize, width, height)
	}

	var place func(dst *image.RGBA, src image.Image)
	switch mode {
	case ModeCenter:
		place = placeCenter
	case ModeFill:
		place = r.placeFill
	case ModeFull:
		place = r.placeFull
	case ModeTile:
		place = placeTile
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnimplementedMode, mode)
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	xdraw.Draw(dst, dst.Bounds(), image.NewUniform(opaque(background)), image.Point{}, xdraw.Src)
	place(dst, src)

	return &Canvas{img: dst, Dither: true}, nil
}

// opaque drops any alpha from c; the canvas background is always fully opaque
func opaque(c color.Color) color.RGBA {
	if c == nil {
		return color.RGBA{A: 0xff}
	}
	n := color.NRGBAModel.Convert(c).(color.NRGBA)
	return color.RGBA{R: n.R, G: n.G, B: n.B, A: 0xff}
}

// blendAt draws src at native size with its top-left corner at (x, y)
func blendAt(dst *image.RGBA, src image.Image, x, y int) {
	sb := src.Bounds()
	r := image.Rect(x, y, x+sb.Dx(), y+sb.Dy())
	xdraw.Draw(dst, r, src, sb.Min, xdraw.Over)
}

func placeCenter(dst *image.RGBA, src image.Image) {
	cw, ch := dst.Bounds().Dx(), dst.Bounds().Dy()
	iw, ih := src.Bounds().Dx(), src.Bounds().Dy()

	// Integer division truncates toward zero; negative offsets clip
	blendAt(dst, src, (cw-iw)/2, (ch-ih)/2)
}

func (r Renderer) placeFill(dst *image.RGBA, src image.Image) {
	r.scaler().Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Over, nil)
}

func (r Renderer) placeFull(dst *image.RGBA, src image.Image) {
	rect := FullRect(dst.Bounds().Dx(), dst.Bounds().Dy(), src.Bounds().Dx(), src.Bounds().Dy())
	if rect.Empty() {
		return
	}
	r.scaler().Scale(dst, rect, src, src.Bounds(), xdraw.Over, nil)
}

func placeTile(dst *image.RGBA, src image.Image) {
	cw, ch := dst.Bounds().Dx(), dst.Bounds().Dy()
	iw, ih := src.Bounds().Dx(), src.Bounds().Dy()

	left, top := TileOrigin(cw, ch, iw, ih)
	for x := left; x < cw; x += iw {
		for y := top; y < ch; y += ih {
			blendAt(dst, src, x, y)
		}
	}
}

// FullRect returns the destination rectangle of an iw x ih image scaled
// uniformly to fit a cw x ch canvas and centered with truncated offsets
func FullRect(cw, ch, iw, ih int) image.Rectangle {
	aspect := float64(cw) / float64(iw)
	if int(float64(ih)*aspect) > ch {
		aspect = float64(ch) / float64(ih)
	}
	w := int(float64(iw) * aspect)
	h := int(float64(ih) * aspect)
	left := (cw - w) / 2
	top := (ch - h) / 2
	return image.Rect(left, top, left+w, top+h)
}

// TileOrigin returns the top-left corner of the first tile: the centered
// position walked back by whole tiles until it is at or before the canvas edge
func TileOrigin(cw, ch, iw, ih int) (left, top int) {
	left = (cw - iw) / 2
	top = (ch - ih) / 2
	for left > 0 {
		left -= iw
	}
	for top > 0 {
		top -= ih
	}
	return left, top
}

func (r Renderer) scaler() xdraw.Scaler {
	if r.Scaler == nil {
		return xdraw.ApproxBiLinear
	}
	return r.Scaler
}
