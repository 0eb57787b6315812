package daemon

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	xdraw "golang.org/x/image/draw"

	"github.com/bryanchriswhite/owallpaperd/internal/compositor"
	"github.com/bryanchriswhite/owallpaperd/internal/window"
	"github.com/bryanchriswhite/owallpaperd/internal/window/windowtest"
)

var (
	red   = color.RGBA{R: 0xff, A: 0xff}
	green = color.RGBA{G: 0xff, A: 0xff}
	black = color.RGBA{A: 0xff}
)

var twoOutputs = []window.Geometry{
	{X: 0, Y: 0, Width: 40, Height: 30},
	{X: 40, Y: 0, Width: 20, Height: 20},
}

type fakeDecoder struct {
	images map[string]image.Image
	calls  int
}

func (f *fakeDecoder) Decode(path string) (image.Image, error) {
	f.calls++
	img, ok := f.images[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s: no such file", compositor.ErrInvalidImage, path)
	}
	return img, nil
}

func solid(w, h int, c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.Draw(img, img.Bounds(), image.NewUniform(c), image.Point{}, xdraw.Src)
	return img
}

func newDecoder() *fakeDecoder {
	return &fakeDecoder{images: map[string]image.Image{
		"red.png":   solid(10, 10, red),
		"green.png": solid(10, 10, green),
	}}
}

func newTestDaemon(t *testing.T, outputs ...window.Geometry) (*Daemon, *windowtest.Backend, *fakeDecoder) {
	t.Helper()
	if len(outputs) == 0 {
		outputs = twoOutputs
	}
	b := windowtest.New(outputs...)
	dec := newDecoder()
	d, err := New(b, WithDecoder(dec), WithRenderer(compositor.Renderer{Scaler: xdraw.NearestNeighbor}))
	require.NoError(t, err)
	t.Cleanup(func() { d.Shutdown() })
	return d, b, dec
}

func TestNew(t *testing.T) {
	d, b, _ := newTestDaemon(t)

	assert.Equal(t, 2, d.NumOutputs())
	assert.Equal(t, []Output{
		{Index: 0, X: 0, Y: 0, Width: 40, Height: 30},
		{Index: 1, X: 40, Y: 0, Width: 20, Height: 20},
	}, d.Outputs())
	assert.Equal(t, []int64{-1, -1}, d.Workspaces())
	assert.Equal(t, []int{-1, -1}, d.Applied())
	assert.Len(t, b.Surfaces(), 2)
	assert.True(t, b.Selected())
	assert.Equal(t, 2, d.Identity().Outputs)
}

func TestNew_IdentitiesDiffer(t *testing.T) {
	a, _, _ := newTestDaemon(t)
	b, _, _ := newTestDaemon(t)
	assert.NotEqual(t, a.Identity(), b.Identity())
}

func TestNew_OutputErrors(t *testing.T) {
	t.Run("no multi-output extension", func(t *testing.T) {
		b := windowtest.New(twoOutputs...)
		b.FailQuery(window.ErrNoXinerama)

		_, err := New(b)
		assert.ErrorIs(t, err, ErrCapabilityUnavailable)
		assert.Empty(t, b.Surfaces())
	})

	t.Run("empty geometry", func(t *testing.T) {
		b := windowtest.New(window.Geometry{Width: 100, Height: 0})
		_, err := New(b)
		assert.ErrorIs(t, err, ErrCapabilityUnavailable)
	})

	t.Run("no outputs", func(t *testing.T) {
		_, err := New(windowtest.New())
		assert.ErrorIs(t, err, ErrCapabilityUnavailable)
	})
}

func TestLoad(t *testing.T) {
	d, b, dec := newTestDaemon(t)

	w, err := d.Load("red.png", compositor.ModeFill, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, w.ID)
	assert.Equal(t, 2, w.NumCanvases())
	assert.Equal(t, d.Identity(), w.Owner())
	assert.Equal(t, 1, dec.calls, "image is decoded once for all outputs")
	assert.Equal(t, 2, b.Pixmaps())

	for i, o := range d.Outputs() {
		canvas, err := w.Canvas(i)
		require.NoError(t, err)
		assert.Equal(t, o.Width, canvas.Width())
		assert.Equal(t, o.Height, canvas.Height())
		assert.Equal(t, red, canvas.At(0, 0))
	}

	_, err = w.Canvas(2)
	assert.ErrorIs(t, err, ErrOutputOutOfBounds)

	second, err := d.Load("green.png", compositor.ModeCenter, red)
	require.NoError(t, err)
	assert.Equal(t, 2, second.ID)
	assert.Len(t, d.Wallpapers(), 2)

	got, err := d.Wallpaper(2)
	require.NoError(t, err)
	assert.Same(t, second, got)
}

func TestLoad_Failures(t *testing.T) {
	t.Run("missing file leaves collection unchanged", func(t *testing.T) {
		d, b, _ := newTestDaemon(t)
		_, err := d.Load("red.png", compositor.ModeFull, nil)
		require.NoError(t, err)

		w, err := d.Load("missing.jpg", compositor.ModeFull, nil)
		assert.ErrorIs(t, err, ErrInvalidImage)
		assert.Nil(t, w)
		assert.Len(t, d.Wallpapers(), 1)
		assert.Equal(t, 2, b.Pixmaps())
	})

	t.Run("unknown mode fails before decoding", func(t *testing.T) {
		d, _, dec := newTestDaemon(t)

		_, err := d.Load("red.png", compositor.ParseMode("zoom"), nil)
		assert.ErrorIs(t, err, ErrUnimplementedMode)
		assert.Zero(t, dec.calls)
		assert.Empty(t, d.Wallpapers())
	})

	t.Run("upload failure frees earlier outputs", func(t *testing.T) {
		d, b, _ := newTestDaemon(t)
		b.FailUploadsAfter(1)

		_, err := d.Load("red.png", compositor.ModeFull, nil)
		assert.Error(t, err)
		assert.Zero(t, b.Pixmaps())
		assert.Empty(t, d.Wallpapers())
	})
}

func TestApply(t *testing.T) {
	d, b, _ := newTestDaemon(t)
	w, err := d.Load("green.png", compositor.ModeCenter, nil)
	require.NoError(t, err)

	require.NoError(t, d.Apply(1, w))

	surfaces := d.surfaces
	canvas, err := w.Canvas(1)
	require.NoError(t, err)
	assert.Same(t, canvas.RGBA(), b.Background(surfaces[1]))
	assert.Nil(t, b.Background(surfaces[0]))
	assert.Equal(t, 1, b.Syncs())
	assert.Equal(t, []int{-1, w.ID}, d.Applied())

	// Center mode on a 20x20 output: 10x10 image at (5,5) over black
	assert.Equal(t, black, canvas.At(4, 4))
	assert.Equal(t, green, canvas.At(5, 5))
}

func TestApply_SyncFailure(t *testing.T) {
	d, b, _ := newTestDaemon(t)
	w, err := d.Load("red.png", compositor.ModeFull, nil)
	require.NoError(t, err)

	b.FailSync(errors.New("connection reset"))
	assert.Error(t, d.Apply(0, w))

	// The background request went out before the round trip failed
	assert.NotNil(t, b.Background(d.surfaces[0]))
	assert.Equal(t, []int{w.ID, -1}, d.Applied())
}

func TestApply_Errors(t *testing.T) {
	d, b, _ := newTestDaemon(t)
	other, _, _ := newTestDaemon(t)

	mine, err := d.Load("red.png", compositor.ModeFull, nil)
	require.NoError(t, err)
	theirs, err := other.Load("red.png", compositor.ModeFull, nil)
	require.NoError(t, err)

	t.Run("wallpaper from another daemon", func(t *testing.T) {
		assert.ErrorIs(t, d.Apply(0, theirs), ErrWallpaperMismatch)
		// Identity is checked before the index
		assert.ErrorIs(t, d.Apply(7, theirs), ErrWallpaperMismatch)
		assert.ErrorIs(t, d.Apply(0, nil), ErrWallpaperMismatch)
	})

	t.Run("output out of range", func(t *testing.T) {
		assert.ErrorIs(t, d.Apply(-1, mine), ErrOutputOutOfBounds)
		assert.ErrorIs(t, d.Apply(2, mine), ErrOutputOutOfBounds)
	})

	t.Run("nothing changes on failure", func(t *testing.T) {
		assert.Zero(t, b.Syncs())
		assert.Equal(t, []int{-1, -1}, d.Applied())
	})
}

func TestUnload(t *testing.T) {
	d, b, _ := newTestDaemon(t)
	w, err := d.Load("red.png", compositor.ModeFull, nil)
	require.NoError(t, err)
	require.NoError(t, d.Apply(0, w))

	require.NoError(t, d.Unload(w))
	assert.Empty(t, d.Wallpapers())
	assert.Zero(t, b.Pixmaps())
	assert.NotNil(t, b.Background(d.surfaces[0]), "unloading leaves the shown image in place")
	assert.Equal(t, []int{-1, -1}, d.Applied())

	assert.ErrorIs(t, d.Unload(w), ErrUnknownWallpaper)
	assert.ErrorIs(t, d.Apply(0, w), ErrUnknownWallpaper)

	_, err = d.Wallpaper(w.ID)
	assert.ErrorIs(t, err, ErrUnknownWallpaper)
}

func TestReplace(t *testing.T) {
	d, b, _ := newTestDaemon(t)
	old, err := d.Load("red.png", compositor.ModeFull, nil)
	require.NoError(t, err)
	require.NoError(t, d.Apply(0, old))

	t.Run("any failure keeps the current set", func(t *testing.T) {
		_, err := d.Replace([]WallpaperSpec{
			{Path: "green.png", Mode: compositor.ModeTile},
			{Path: "missing.png", Mode: compositor.ModeTile},
		})
		assert.ErrorIs(t, err, ErrInvalidImage)
		assert.Equal(t, []*Wallpaper{old}, d.Wallpapers())
		assert.Equal(t, 2, b.Pixmaps())
		assert.Equal(t, []int{old.ID, -1}, d.Applied())
	})

	t.Run("success swaps the set", func(t *testing.T) {
		fresh, err := d.Replace([]WallpaperSpec{
			{Path: "green.png", Mode: compositor.ModeTile},
			{Path: "red.png", Mode: compositor.ModeCenter},
		})
		require.NoError(t, err)
		assert.Equal(t, fresh, d.Wallpapers())
		assert.Equal(t, 4, b.Pixmaps())
		assert.ErrorIs(t, d.Apply(0, old), ErrUnknownWallpaper)
		assert.Equal(t, []int{-1, -1}, d.Applied(), "released wallpapers are no longer reported")
	})
}

func TestShutdown(t *testing.T) {
	d, b, _ := newTestDaemon(t)
	_, err := d.Load("red.png", compositor.ModeFull, nil)
	require.NoError(t, err)

	require.NoError(t, d.Shutdown())
	assert.True(t, b.Closed())
	assert.Empty(t, b.Surfaces())
	assert.Zero(t, b.Pixmaps())

	require.NoError(t, d.Shutdown(), "second shutdown is a no-op")

	_, err = d.Load("red.png", compositor.ModeFull, nil)
	assert.True(t, errors.Is(err, ErrShutdown))
}

func TestWallpaper_Info(t *testing.T) {
	d, _, _ := newTestDaemon(t)
	w, err := d.Load("red.png", compositor.ModeTile, color.RGBA{R: 0x12, G: 0x34, B: 0x56, A: 0xff})
	require.NoError(t, err)

	assert.Equal(t, WallpaperInfo{ID: w.ID, Path: "red.png", Mode: compositor.ModeTile, Background: "#123456"}, w.Info())
}
