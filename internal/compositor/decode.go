package compositor

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	// Register decoders for the formats a wallpaper is likely to be in
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Decoder turns an image path into pixels
type Decoder interface {
	Decode(path string) (image.Image, error)
}

// FileDecoder decodes images from the local filesystem. It understands PNG,
// JPEG, GIF, BMP, TIFF and WebP.
type FileDecoder struct{}

// Decode opens and decodes the image at path. Every failure wraps ErrInvalidImage.
func (FileDecoder) Decode(path string) (image.Image, error) {
	f, err := os.Open(ExpandPath(path))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidImage, path, err)
	}
	if img.Bounds().Empty() {
		return nil, fmt.Errorf("%w: %s: empty image", ErrInvalidImage, path)
	}
	return img, nil
}

// ExpandPath replaces a leading ~/ with the user's home directory
func ExpandPath(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
