package commands

import (
	"fmt"
	"image/png"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bryanchriswhite/owallpaperd/internal/compositor"
	"github.com/bryanchriswhite/owallpaperd/internal/config"
)

var renderCmd = &cobra.Command{
	Use:   "render IMAGE",
	Short: "Render a wallpaper to a PNG file",
	Long: `Render IMAGE the way the daemon would for an output of the given size and
write the result as PNG. No X server is needed.`,
	Example: `  # Preview how a photo fills a 1920x1080 output
  owallpaperd render ~/pictures/a.jpg --size 1920x1080 --mode fill -o preview.png

  # Center a logo on a dark background
  owallpaperd render logo.png --mode center --background "#202020" -o logo.png`,
	Args: cobra.ExactArgs(1),
	RunE: runRender,
}

var (
	renderOutput     string
	renderSize       string
	renderMode       string
	renderBackground string
	renderQuality    string
)

func init() {
	rootCmd.AddCommand(renderCmd)

	renderCmd.Flags().StringVarP(&renderOutput, "output", "o", "wallpaper.png", "PNG file to write")
	renderCmd.Flags().StringVarP(&renderSize, "size", "s", "1920x1080", "canvas size as WIDTHxHEIGHT")
	renderCmd.Flags().StringVarP(&renderMode, "mode", "m", "full", "placement mode (center, fill, full or tile)")
	renderCmd.Flags().StringVarP(&renderBackground, "background", "b", "#000000", "background color")
	renderCmd.Flags().StringVarP(&renderQuality, "quality", "q", "good", "scaling quality (fast, good or best)")
}

// parseSize parses WIDTHxHEIGHT
func parseSize(s string) (int, int, error) {
	w, h, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return 0, 0, fmt.Errorf("invalid size %q (use WIDTHxHEIGHT)", s)
	}
	width, err := strconv.Atoi(w)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid width in %q: %w", s, err)
	}
	height, err := strconv.Atoi(h)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid height in %q: %w", s, err)
	}
	if width <= 0 || height <= 0 {
		return 0, 0, fmt.Errorf("%w: %s", compositor.ErrInvalidSize, s)
	}
	return width, height, nil
}

func renderFile(src, dst string, width, height int, mode compositor.Mode, bg string, quality string) error {
	if !mode.Valid() {
		return compositor.ErrUnimplementedMode
	}
	background, err := config.ParseColor(bg)
	if err != nil {
		return err
	}
	renderer, err := compositor.ParseQuality(quality)
	if err != nil {
		return err
	}

	img, err := compositor.FileDecoder{}.Decode(src)
	if err != nil {
		return err
	}
	canvas, err := renderer.Render(img, width, height, mode, background)
	if err != nil {
		return err
	}

	f, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	if err := png.Encode(f, canvas.RGBA()); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode %s: %w", dst, err)
	}
	return f.Close()
}

func runRender(cmd *cobra.Command, args []string) error {
	width, height, err := parseSize(renderSize)
	if err != nil {
		return err
	}

	if err := renderFile(args[0], renderOutput, width, height, compositor.ParseMode(renderMode), renderBackground, renderQuality); err != nil {
		return err
	}

	fmt.Printf("Rendered %s (%dx%d, %s) to %s\n", args[0], width, height, compositor.ParseMode(renderMode), renderOutput)
	return nil
}
