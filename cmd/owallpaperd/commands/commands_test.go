package commands

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanchriswhite/owallpaperd/internal/compositor"
	"github.com/bryanchriswhite/owallpaperd/internal/config"
	"github.com/bryanchriswhite/owallpaperd/internal/daemon"
)

func TestParseSize(t *testing.T) {
	tests := []struct {
		in      string
		w, h    int
		wantErr bool
	}{
		{"1920x1080", 1920, 1080, false},
		{"640X480", 640, 480, false},
		{"1920", 0, 0, true},
		{"0x10", 0, 0, true},
		{"axb", 0, 0, true},
		{"10x-1", 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			w, h, err := parseSize(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.w, w)
			assert.Equal(t, tt.h, h)
		})
	}
}

func TestRenderFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.png")
	dst := filepath.Join(dir, "out.png")

	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	f, err := os.Create(src)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())

	require.NoError(t, renderFile(src, dst, 12, 8, compositor.ModeCenter, "#ff0000", "fast"))

	out, err := os.Open(dst)
	require.NoError(t, err)
	defer out.Close()
	got, err := png.Decode(out)
	require.NoError(t, err)

	assert.Equal(t, image.Rect(0, 0, 12, 8), got.Bounds())
	assert.Equal(t, color.NRGBAModel.Convert(color.RGBA{R: 0xff, A: 0xff}), color.NRGBAModel.Convert(got.At(0, 0)))
	assert.Equal(t, color.NRGBAModel.Convert(color.White), color.NRGBAModel.Convert(got.At(6, 4)))

	assert.ErrorIs(t, renderFile(src, dst, 12, 8, compositor.ModeNone, "", "fast"), compositor.ErrUnimplementedMode)
	assert.Error(t, renderFile(src, dst, 12, 8, compositor.ModeFull, "red", "fast"))
	assert.ErrorIs(t, renderFile(filepath.Join(dir, "missing.png"), dst, 12, 8, compositor.ModeFull, "", "fast"), compositor.ErrInvalidImage)
}

func TestWallpaperSpecsAndPolicy(t *testing.T) {
	cfg := config.Defaults()
	cfg.Wallpapers = []config.WallpaperConfig{
		{Path: "a.png", Mode: compositor.ModeTile, Background: "#010203"},
		{Path: "b.png", Mode: compositor.ModeFull},
	}

	specs, err := wallpaperSpecs(cfg)
	require.NoError(t, err)
	require.Len(t, specs, 2)
	assert.Equal(t, daemon.WallpaperSpec{
		Path:       "a.png",
		Mode:       compositor.ModeTile,
		Background: color.RGBA{R: 1, G: 2, B: 3, A: 0xff},
	}, specs[0])
	assert.Equal(t, color.RGBA{A: 0xff}, specs[1].Background)

	assert.Equal(t, daemon.ModuloPolicy{}, policyFor(cfg))

	cfg.Assignments = map[int64]int{4: 1}
	assert.Equal(t, daemon.MapPolicy{Assignments: map[int64]int{4: 1}}, policyFor(cfg))

	cfg.Wallpapers[1].Background = "nope"
	_, err = wallpaperSpecs(cfg)
	assert.Error(t, err)
}
