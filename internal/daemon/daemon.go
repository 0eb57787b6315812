package daemon

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/bryanchriswhite/owallpaperd/internal/compositor"
	"github.com/bryanchriswhite/owallpaperd/internal/logger"
	"github.com/bryanchriswhite/owallpaperd/internal/window"
)

// connSeq numbers daemon instances within the process
var connSeq atomic.Uint64

// Identity ties a wallpaper to the daemon instance and output layout it was
// rendered for
type Identity struct {
	ConnID  uint64
	Screen  int
	Outputs int
}

// Option configures a Daemon
type Option func(*Daemon)

// WithDecoder replaces the image decoder (default compositor.FileDecoder)
func WithDecoder(dec compositor.Decoder) Option {
	return func(d *Daemon) { d.decoder = dec }
}

// WithRenderer replaces the renderer (default compositor.DefaultRenderer)
func WithRenderer(r compositor.Renderer) Option {
	return func(d *Daemon) { d.renderer = r }
}

// Daemon owns the display connection, one background surface per output and
// the loaded wallpapers
type Daemon struct {
	backend  window.Backend
	id       Identity
	outputs  []Output
	surfaces []window.Surface
	decoder  compositor.Decoder
	renderer compositor.Renderer

	// mu guards everything below
	mu         sync.Mutex
	workspaces []int64
	wallpapers []*Wallpaper
	applied    []int
	nextID     int
	closed     bool
}

// Initialize connects to displayName and sets the daemon up on screen
// (negative selects the default screen)
func Initialize(displayName string, screen int, opts ...Option) (*Daemon, error) {
	b, err := window.Dial(displayName, screen)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}

	d, err := New(b, opts...)
	if err != nil {
		b.Close()
		return nil, err
	}
	return d, nil
}

// New sets up a daemon on an open backend: it enumerates outputs, creates a
// surface on each and subscribes to root property changes. The daemon owns b
// from here on.
func New(b window.Backend, opts ...Option) (*Daemon, error) {
	log := logger.WithComponent("daemon")

	outputs, err := enumerateOutputs(b)
	if err != nil {
		return nil, err
	}

	d := &Daemon{
		backend:  b,
		outputs:  outputs,
		decoder:  compositor.FileDecoder{},
		renderer: compositor.DefaultRenderer,
		id: Identity{
			ConnID:  connSeq.Add(1),
			Screen:  b.Screen(),
			Outputs: len(outputs),
		},
		workspaces: make([]int64, len(outputs)),
		applied:    make([]int, len(outputs)),
		nextID:     1,
	}
	for _, opt := range opts {
		opt(d)
	}
	for i := range outputs {
		d.workspaces[i] = -1
		d.applied[i] = -1
	}

	for _, o := range outputs {
		s, err := b.CreateSurface(o.geometry())
		if err != nil {
			d.destroySurfaces()
			return nil, fmt.Errorf("failed to create surface for output %d: %w", o.Index, err)
		}
		d.surfaces = append(d.surfaces, s)
	}

	if err := b.SelectPropertyChanges(); err != nil {
		d.destroySurfaces()
		return nil, fmt.Errorf("failed to select property changes: %w", err)
	}

	log.Info().
		Str("backend", b.Name()).
		Int("screen", d.id.Screen).
		Int("outputs", len(outputs)).
		Uint64("conn_id", d.id.ConnID).
		Msg("Daemon initialized")

	return d, nil
}

// Identity returns the identity stamped on wallpapers this daemon loads
func (d *Daemon) Identity() Identity {
	return d.id
}

// NumOutputs returns the number of outputs
func (d *Daemon) NumOutputs() int {
	return len(d.outputs)
}

// Outputs returns a copy of the output list
func (d *Daemon) Outputs() []Output {
	return append([]Output(nil), d.outputs...)
}

// Workspaces returns the last known workspace index of each output. An index
// of -1 means the output's workspace has not been seen yet.
func (d *Daemon) Workspaces() []int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]int64(nil), d.workspaces...)
}

// Applied returns the ID of the wallpaper shown on each output, -1 for none
func (d *Daemon) Applied() []int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]int(nil), d.applied...)
}

// Apply shows w on output and waits for the server to process the change
func (d *Daemon) Apply(output int, w *Wallpaper) error {
	if w == nil || w.owner != d.id {
		return ErrWallpaperMismatch
	}
	if output < 0 || output >= len(d.outputs) {
		return fmt.Errorf("%w: %d (have %d)", ErrOutputOutOfBounds, output, len(d.outputs))
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrShutdown
	}
	if w.released {
		return fmt.Errorf("%w: %d was unloaded", ErrUnknownWallpaper, w.ID)
	}

	if err := d.backend.SetBackground(d.surfaces[output], w.pixmaps[output]); err != nil {
		return fmt.Errorf("failed to apply wallpaper %d to output %d: %w", w.ID, output, err)
	}
	// The background is set once the request is sent; Sync only waits for it
	d.applied[output] = w.ID
	if err := d.backend.Sync(); err != nil {
		return err
	}

	logger.WithComponent("daemon").Debug().
		Int("output", output).
		Int("wallpaper", w.ID).
		Msg("Wallpaper applied")

	return nil
}

// Shutdown releases every wallpaper, destroys the surfaces and closes the
// connection. It is safe to call more than once.
func (d *Daemon) Shutdown() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true

	var errs []error
	for _, w := range d.wallpapers {
		if err := d.release(w); err != nil {
			errs = append(errs, err)
		}
	}
	d.wallpapers = nil

	if err := d.destroySurfaces(); err != nil {
		errs = append(errs, err)
	}
	if err := d.backend.Close(); err != nil {
		errs = append(errs, err)
	}

	logger.WithComponent("daemon").Info().Msg("Daemon shut down")
	return errors.Join(errs...)
}

func (d *Daemon) destroySurfaces() error {
	var errs []error
	for _, s := range d.surfaces {
		if err := d.backend.DestroySurface(s); err != nil {
			errs = append(errs, err)
		}
	}
	d.surfaces = nil
	return errors.Join(errs...)
}
