package daemon

import (
	"errors"
	"fmt"
	"image/color"

	"github.com/bryanchriswhite/owallpaperd/internal/compositor"
	"github.com/bryanchriswhite/owallpaperd/internal/logger"
	"github.com/bryanchriswhite/owallpaperd/internal/window"
)

// WallpaperSpec describes a wallpaper to load
type WallpaperSpec struct {
	Path       string
	Mode       compositor.Mode
	Background color.Color
}

// Wallpaper is an image rendered once per output and uploaded to the server
type Wallpaper struct {
	ID         int
	Path       string
	Mode       compositor.Mode
	Background color.Color

	canvases []*compositor.Canvas
	pixmaps  []window.Pixmap
	owner    Identity
	released bool
}

// WallpaperInfo is a wallpaper's public description
type WallpaperInfo struct {
	ID         int             `json:"id"`
	Path       string          `json:"path"`
	Mode       compositor.Mode `json:"mode"`
	Background string          `json:"background"`
}

// Info describes w
func (w *Wallpaper) Info() WallpaperInfo {
	c := color.NRGBAModel.Convert(w.Background).(color.NRGBA)
	return WallpaperInfo{
		ID:         w.ID,
		Path:       w.Path,
		Mode:       w.Mode,
		Background: fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B),
	}
}

// Owner returns the identity of the daemon that loaded w
func (w *Wallpaper) Owner() Identity {
	return w.owner
}

// NumCanvases returns the number of rendered canvases, one per output
func (w *Wallpaper) NumCanvases() int {
	return len(w.canvases)
}

// Canvas returns the canvas rendered for output
func (w *Wallpaper) Canvas(output int) (*compositor.Canvas, error) {
	if output < 0 || output >= len(w.canvases) {
		return nil, fmt.Errorf("%w: %d (have %d)", ErrOutputOutOfBounds, output, len(w.canvases))
	}
	return w.canvases[output], nil
}

// Load decodes the image at path once, renders it for every output and
// uploads the results. The wallpaper is only added to the collection if every
// output succeeds.
func (d *Daemon) Load(path string, mode compositor.Mode, background color.Color) (*Wallpaper, error) {
	w, err := d.prepare(WallpaperSpec{Path: path, Mode: mode, Background: background})
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		d.release(w)
		return nil, ErrShutdown
	}
	d.add(w)
	return w, nil
}

// prepare builds a wallpaper without adding it to the collection
func (d *Daemon) prepare(spec WallpaperSpec) (*Wallpaper, error) {
	log := logger.WithComponent("daemon")

	if !spec.Mode.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrUnimplementedMode, spec.Mode)
	}

	d.mu.Lock()
	surfaces, closed := d.surfaces, d.closed
	d.mu.Unlock()
	if closed {
		return nil, ErrShutdown
	}

	if spec.Background == nil {
		spec.Background = color.Black
	}

	src, err := d.decoder.Decode(spec.Path)
	if err != nil {
		return nil, err
	}

	w := &Wallpaper{
		Path:       spec.Path,
		Mode:       spec.Mode,
		Background: spec.Background,
		owner:      d.id,
	}

	for i, o := range d.outputs {
		canvas, err := d.renderer.Render(src, o.Width, o.Height, spec.Mode, spec.Background)
		if err != nil {
			d.release(w)
			return nil, fmt.Errorf("failed to render %s for output %d: %w", spec.Path, i, err)
		}

		pix, err := d.backend.UploadCanvas(surfaces[i], canvas.RGBA(), canvas.Dither)
		if err != nil {
			d.release(w)
			return nil, fmt.Errorf("failed to upload %s for output %d: %w", spec.Path, i, err)
		}

		w.canvases = append(w.canvases, canvas)
		w.pixmaps = append(w.pixmaps, pix)
	}

	log.Info().
		Str("path", spec.Path).
		Str("mode", spec.Mode.String()).
		Int("outputs", len(w.canvases)).
		Msg("Wallpaper loaded")

	return w, nil
}

// add appends w to the collection and assigns its ID. Caller holds d.mu.
func (d *Daemon) add(w *Wallpaper) {
	w.ID = d.nextID
	d.nextID++
	d.wallpapers = append(d.wallpapers, w)
}

// release frees w's server resources
func (d *Daemon) release(w *Wallpaper) error {
	if w.released {
		return nil
	}
	w.released = true

	var errs []error
	for _, p := range w.pixmaps {
		if err := d.backend.FreePixmap(p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// forget marks outputs showing id as showing nothing known. Caller holds d.mu.
func (d *Daemon) forget(id int) {
	for i, applied := range d.applied {
		if applied == id {
			d.applied[i] = -1
		}
	}
}

// Unload removes w from the collection and frees its pixmaps. Outputs that
// show it keep showing it until another wallpaper is applied, but Applied
// reports -1 for them.
func (d *Daemon) Unload(w *Wallpaper) error {
	if w == nil || w.owner != d.id {
		return ErrWallpaperMismatch
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for i, have := range d.wallpapers {
		if have == w {
			d.wallpapers = append(d.wallpapers[:i], d.wallpapers[i+1:]...)
			logger.WithComponent("daemon").Info().
				Int("wallpaper", w.ID).
				Str("path", w.Path).
				Msg("Wallpaper unloaded")
			d.forget(w.ID)
			return d.release(w)
		}
	}
	return fmt.Errorf("%w: %d", ErrUnknownWallpaper, w.ID)
}

// Replace loads every spec and, only if all succeed, swaps them in for the
// current collection. On failure the current collection is left untouched.
func (d *Daemon) Replace(specs []WallpaperSpec) ([]*Wallpaper, error) {
	fresh := make([]*Wallpaper, 0, len(specs))
	for _, spec := range specs {
		w, err := d.prepare(spec)
		if err != nil {
			for _, done := range fresh {
				d.release(done)
			}
			return nil, err
		}
		fresh = append(fresh, w)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		for _, w := range fresh {
			d.release(w)
		}
		return nil, ErrShutdown
	}

	old := d.wallpapers
	d.wallpapers = nil
	for _, w := range fresh {
		d.add(w)
	}
	for _, w := range old {
		d.forget(w.ID)
		d.release(w)
	}
	return append([]*Wallpaper(nil), fresh...), nil
}

// Wallpapers returns the loaded wallpapers in load order
func (d *Daemon) Wallpapers() []*Wallpaper {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Wallpaper(nil), d.wallpapers...)
}

// Wallpaper looks up a loaded wallpaper by ID
func (d *Daemon) Wallpaper(id int) (*Wallpaper, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, w := range d.wallpapers {
		if w.ID == id {
			return w, nil
		}
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownWallpaper, id)
}
