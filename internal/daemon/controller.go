package daemon

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bryanchriswhite/owallpaperd/internal/compositor"
	"github.com/bryanchriswhite/owallpaperd/internal/logger"
)

// ErrNotRunning is returned by controller requests when Run has exited
var ErrNotRunning = errors.New("controller is not running")

// Status is a snapshot of the daemon
type Status struct {
	Outputs    []Output        `json:"outputs"`
	Workspaces []int64         `json:"workspaces"`
	Wallpapers []WallpaperInfo `json:"wallpapers"`
	// Applied holds the wallpaper ID shown on each output, -1 for none
	Applied []int `json:"applied"`
}

// Controller runs the daemon: it reacts to workspace changes and executes
// requests from the API and D-Bus on one goroutine
type Controller struct {
	daemon   *Daemon
	policy   Policy
	requests chan func()
	done     chan struct{}
	// lastSeen is owned by the control loop
	lastSeen []int64

	mu        sync.RWMutex
	listeners []chan []int64
}

// NewController creates a controller. A nil policy selects ModuloPolicy.
func NewController(d *Daemon, p Policy) *Controller {
	if p == nil {
		p = ModuloPolicy{}
	}
	return &Controller{
		daemon:   d,
		policy:   p,
		requests: make(chan func()),
		done:     make(chan struct{}),
	}
}

// Daemon returns the controlled daemon
func (c *Controller) Daemon() *Daemon {
	return c.daemon
}

// Run applies wallpapers for the current workspaces, then follows changes
// until ctx is cancelled or the watch fails
func (c *Controller) Run(ctx context.Context) error {
	log := logger.WithComponent("controller")
	defer close(c.done)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if ws, err := c.daemon.Refresh(); err != nil {
		log.Debug().Err(err).Msg("No initial workspaces")
	} else {
		c.applyAll(ws)
		c.lastSeen = ws
		c.notifyListeners(ws)
	}

	changes := c.daemon.Watch(ctx)
	log.Info().Msg("Controller running")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Controller stopped")
			return nil

		case change, ok := <-changes:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return ErrNotRunning
			}
			if change.Err != nil {
				if errors.Is(change.Err, ErrWorkspaceRead) {
					log.Warn().Err(change.Err).Msg("Ignoring unreadable workspace update")
					continue
				}
				return change.Err
			}
			c.applyChanged(change.Workspaces)
			c.notifyListeners(change.Workspaces)

		case req := <-c.requests:
			req()
		}
	}
}

// applyAll applies the policy's choice on every output
func (c *Controller) applyAll(workspaces []int64) {
	for i, ws := range workspaces {
		c.applyOutput(i, ws)
	}
}

// applyChanged applies the policy's choice on outputs whose workspace moved
// since the last change
func (c *Controller) applyChanged(workspaces []int64) {
	if c.lastSeen == nil {
		c.applyAll(workspaces)
		c.lastSeen = workspaces
		return
	}
	for i, ws := range workspaces {
		if i < len(c.lastSeen) && c.lastSeen[i] == ws {
			continue
		}
		c.applyOutput(i, ws)
	}
	c.lastSeen = workspaces
}

func (c *Controller) applyOutput(output int, workspace int64) {
	log := logger.WithComponent("controller")

	wallpapers := c.daemon.Wallpapers()
	idx, ok := c.policy.Select(output, workspace, len(wallpapers))
	if !ok {
		return
	}

	w := wallpapers[idx]
	if err := c.daemon.Apply(output, w); err != nil {
		log.Error().
			Err(err).
			Int("output", output).
			Int64("workspace", workspace).
			Int("wallpaper", w.ID).
			Msg("Failed to apply wallpaper")
		return
	}

	log.Info().
		Int("output", output).
		Int64("workspace", workspace).
		Str("path", w.Path).
		Msg("Switched wallpaper")
}

// do runs fn on the control loop and waits for it to finish
func (c *Controller) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	req := func() {
		defer close(finished)
		fn()
	}

	select {
	case c.requests <- req:
	case <-c.done:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}

	// The loop runs req to completion once it has taken it
	<-finished
	return nil
}

// Load loads a wallpaper on the control loop
func (c *Controller) Load(ctx context.Context, spec WallpaperSpec) (WallpaperInfo, error) {
	var (
		info WallpaperInfo
		err  error
	)
	if e := c.do(ctx, func() {
		var w *Wallpaper
		w, err = c.daemon.Load(spec.Path, spec.Mode, spec.Background)
		if err == nil {
			info = w.Info()
		}
	}); e != nil {
		return WallpaperInfo{}, e
	}
	return info, err
}

// Unload removes the wallpaper with the given ID
func (c *Controller) Unload(ctx context.Context, id int) error {
	var err error
	if e := c.do(ctx, func() {
		var w *Wallpaper
		if w, err = c.daemon.Wallpaper(id); err == nil {
			err = c.daemon.Unload(w)
		}
	}); e != nil {
		return e
	}
	return err
}

// Apply shows the wallpaper with the given ID on output
func (c *Controller) Apply(ctx context.Context, output, id int) error {
	var err error
	if e := c.do(ctx, func() {
		var w *Wallpaper
		if w, err = c.daemon.Wallpaper(id); err == nil {
			err = c.daemon.Apply(output, w)
		}
	}); e != nil {
		return e
	}
	return err
}

// Replace swaps in a new wallpaper set and a new policy, then reapplies every
// output. Nothing changes if any wallpaper fails to load.
func (c *Controller) Replace(ctx context.Context, specs []WallpaperSpec, p Policy) error {
	var err error
	if e := c.do(ctx, func() {
		if _, err = c.daemon.Replace(specs); err != nil {
			return
		}
		if p != nil {
			c.policy = p
		}
		c.applyAll(c.daemon.Workspaces())
	}); e != nil {
		return e
	}
	return err
}

// Status returns a snapshot of the daemon
func (c *Controller) Status(ctx context.Context) (Status, error) {
	var s Status
	err := c.do(ctx, func() {
		s = c.status()
	})
	return s, err
}

func (c *Controller) status() Status {
	wallpapers := c.daemon.Wallpapers()
	infos := make([]WallpaperInfo, len(wallpapers))
	for i, w := range wallpapers {
		infos[i] = w.Info()
	}
	return Status{
		Outputs:    c.daemon.Outputs(),
		Workspaces: c.daemon.Workspaces(),
		Wallpapers: infos,
		Applied:    c.daemon.Applied(),
	}
}

// Preview returns the canvas a wallpaper was rendered to for output. Canvases
// never change after loading, so this does not go through the control loop.
func (c *Controller) Preview(id, output int) (*compositor.Canvas, error) {
	w, err := c.daemon.Wallpaper(id)
	if err != nil {
		return nil, err
	}
	canvas, err := w.Canvas(output)
	if err != nil {
		return nil, fmt.Errorf("wallpaper %d: %w", id, err)
	}
	return canvas, nil
}

// Subscribe adds a listener for workspace changes
func (c *Controller) Subscribe() chan []int64 {
	ch := make(chan []int64, 10)
	c.mu.Lock()
	c.listeners = append(c.listeners, ch)
	c.mu.Unlock()
	return ch
}

// Unsubscribe removes a listener
func (c *Controller) Unsubscribe(ch chan []int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, listener := range c.listeners {
		if listener == ch {
			c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)
			close(ch)
			break
		}
	}
}

// notifyListeners sends workspaces to every listener without blocking
func (c *Controller) notifyListeners(workspaces []int64) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, listener := range c.listeners {
		select {
		case listener <- append([]int64(nil), workspaces...):
		default:
			// Skip if channel is full
		}
	}
}
