package display

import (
	"fmt"
	"image"
)

// Format describes how the server lays out pixels of a drawable
type Format struct {
	Depth        int
	BitsPerPixel int
	ScanlinePad  int
	MSBFirst     bool
}

// Stride returns the padded length in bytes of one scanline of the given width
func (f Format) Stride(width int) int {
	unpadded := width * f.BitsPerPixel / 8
	pad := f.ScanlinePad / 8
	if pad <= 1 {
		return unpadded
	}
	return ((unpadded + pad - 1) / pad) * pad
}

// bayer4 is the 4x4 ordered dither threshold matrix
var bayer4 = [4][4]uint8{
	{0, 8, 2, 10},
	{12, 4, 14, 6},
	{3, 11, 1, 9},
	{15, 7, 13, 5},
}

// Convert packs img into the server's pixel layout. Rows are padded to the
// format's scanline pad. With dither set, formats that lose precision use
// ordered dithering so gradients do not band.
func Convert(img *image.RGBA, f Format, dither bool) ([]byte, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	stride := f.Stride(w)
	data := make([]byte, stride*h)

	switch f.BitsPerPixel {
	case 32:
		for y := 0; y < h; y++ {
			src := img.Pix[img.PixOffset(b.Min.X, b.Min.Y+y):]
			dst := data[y*stride:]
			for x := 0; x < w; x++ {
				r, g, bl := src[x*4], src[x*4+1], src[x*4+2]
				if f.MSBFirst {
					dst[x*4], dst[x*4+1], dst[x*4+2], dst[x*4+3] = 0, r, g, bl
				} else {
					dst[x*4], dst[x*4+1], dst[x*4+2], dst[x*4+3] = bl, g, r, 0
				}
			}
		}
	case 24:
		for y := 0; y < h; y++ {
			src := img.Pix[img.PixOffset(b.Min.X, b.Min.Y+y):]
			dst := data[y*stride:]
			for x := 0; x < w; x++ {
				r, g, bl := src[x*4], src[x*4+1], src[x*4+2]
				if f.MSBFirst {
					dst[x*3], dst[x*3+1], dst[x*3+2] = r, g, bl
				} else {
					dst[x*3], dst[x*3+1], dst[x*3+2] = bl, g, r
				}
			}
		}
	case 16:
		gbits := 6
		if f.Depth == 15 {
			gbits = 5
		}
		for y := 0; y < h; y++ {
			src := img.Pix[img.PixOffset(b.Min.X, b.Min.Y+y):]
			dst := data[y*stride:]
			for x := 0; x < w; x++ {
				var t uint8
				if dither {
					t = bayer4[y&3][x&3]
				}
				r := quantize(src[x*4], 5, t)
				g := quantize(src[x*4+1], gbits, t)
				bl := quantize(src[x*4+2], 5, t)
				v := r<<(5+gbits) | g<<5 | bl
				if f.MSBFirst {
					dst[x*2], dst[x*2+1] = byte(v>>8), byte(v)
				} else {
					dst[x*2], dst[x*2+1] = byte(v), byte(v>>8)
				}
			}
		}
	default:
		return nil, fmt.Errorf("unsupported bits per pixel: %d", f.BitsPerPixel)
	}
	return data, nil
}

// quantize reduces an 8-bit channel to bits, biased by a 0..15 dither threshold
func quantize(c uint8, bits int, threshold uint8) uint16 {
	step := 1 << (8 - bits)
	v := int(c) + int(threshold)*step/16
	if v > 255 {
		v = 255
	}
	return uint16(v >> (8 - bits))
}
