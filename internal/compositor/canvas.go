package compositor

import (
	"image"
	"image/color"
)

// Canvas is a rendered, output-sized pixel buffer. It is never modified after
// Render returns, so one canvas can be uploaded or previewed any number of times.
type Canvas struct {
	img *image.RGBA

	// Dither asks the display layer to dither when converting the canvas to
	// a visual with less than 8 bits per channel
	Dither bool
}

// Width returns the canvas width in pixels
func (c *Canvas) Width() int {
	return c.img.Bounds().Dx()
}

// Height returns the canvas height in pixels
func (c *Canvas) Height() int {
	return c.img.Bounds().Dy()
}

// Bounds returns the canvas rectangle, always anchored at the origin
func (c *Canvas) Bounds() image.Rectangle {
	return c.img.Bounds()
}

// At returns the color of the pixel at (x, y)
func (c *Canvas) At(x, y int) color.RGBA {
	return c.img.RGBAAt(x, y)
}

// RGBA exposes the underlying row-major buffer. Callers must treat it as read-only.
func (c *Canvas) RGBA() *image.RGBA {
	return c.img
}
