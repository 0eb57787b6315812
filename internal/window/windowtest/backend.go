// Package windowtest provides an in-memory window.Backend for tests. It keeps
// a server clock that advances on every property write, so timestamp
// filtering behaves as it does against a real server.
package windowtest

import (
	"context"
	"errors"
	"image"
	"sync"

	"github.com/bryanchriswhite/owallpaperd/internal/window"
)

// WorkspacesProperty is the root property external session tools write
const WorkspacesProperty = "OWALLPAPERD_WORKSPACES"

const root uint32 = 1

// ErrClosed is returned by every call after Close
var ErrClosed = errors.New("windowtest: backend closed")

// Backend is a fake display server
type Backend struct {
	mu sync.Mutex

	outputs  []window.Geometry
	queryErr error

	atoms    map[string]window.Atom
	props    map[window.Atom][]int64
	clock    uint32
	selected bool

	events chan window.Event

	nextID      uint32
	surfaces    map[window.Surface]window.Geometry
	pixmaps     map[window.Pixmap]*image.RGBA
	backgrounds map[window.Surface]*image.RGBA
	syncs       int
	reads       int
	closed      bool

	internErr   map[string]error
	readErr     error
	syncErr     error
	uploadLimit int
	afterMarker func(baseline uint32)
}

// New returns a backend reporting the given outputs
func New(outputs ...window.Geometry) *Backend {
	return &Backend{
		outputs:     outputs,
		atoms:       map[string]window.Atom{},
		props:       map[window.Atom][]int64{},
		clock:       1000,
		events:      make(chan window.Event, 1024),
		nextID:      100,
		surfaces:    map[window.Surface]window.Geometry{},
		pixmaps:     map[window.Pixmap]*image.RGBA{},
		backgrounds: map[window.Surface]*image.RGBA{},
		internErr:   map[string]error{},
		uploadLimit: -1,
	}
}

// FailQuery makes QueryOutputs return err
func (b *Backend) FailQuery(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queryErr = err
}

// FailIntern makes InternAtom(name) return err
func (b *Backend) FailIntern(name string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.internErr[name] = err
}

// FailReads makes ReadCardinals return err
func (b *Backend) FailReads(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.readErr = err
}

// FailSync makes Sync return err
func (b *Backend) FailSync(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.syncErr = err
}

// FailUploadsAfter lets n more uploads succeed and fails the rest. A
// negative n removes the limit.
func (b *Backend) FailUploadsAfter(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.uploadLimit = n
}

// AfterMarker registers fn to run each time the marker notification has been
// queued. fn receives the marker's timestamp and may queue more events.
func (b *Backend) AfterMarker(fn func(baseline uint32)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.afterMarker = fn
}

// SetWorkspaces writes the workspace property and queues its PropertyNotify
func (b *Backend) SetWorkspaces(values ...int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	atom := b.intern(WorkspacesProperty)
	b.props[atom] = append([]int64(nil), values...)
	b.clock++
	b.queue(window.Event{Kind: window.EventPropertyNotify, Window: root, Atom: atom, Time: b.clock})
}

// SetProperty writes a root property without queuing a notification
func (b *Backend) SetProperty(name string, values ...int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.props[b.intern(name)] = append([]int64(nil), values...)
}

// QueueEvent queues ev as is
func (b *Backend) QueueEvent(ev window.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queue(ev)
}

// Atom returns the atom for name, interning it if needed
func (b *Backend) Atom(name string) window.Atom {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.intern(name)
}

// Clock returns the current server time
func (b *Backend) Clock() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.clock
}

// Background returns the image shown on s, or nil if none was set. Like a
// real server, a window keeps its background after the pixmap is freed.
func (b *Backend) Background(s window.Surface) *image.RGBA {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.backgrounds[s]
}

// Surfaces returns the live surfaces
func (b *Backend) Surfaces() []window.Surface {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]window.Surface, 0, len(b.surfaces))
	for s := range b.surfaces {
		out = append(out, s)
	}
	return out
}

// Pixmaps returns how many pixmaps are allocated
func (b *Backend) Pixmaps() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pixmaps)
}

// Syncs returns how many Sync round-trips were made
func (b *Backend) Syncs() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.syncs
}

// Reads returns how many times ReadCardinals was called
func (b *Backend) Reads() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reads
}

// Selected reports whether SelectPropertyChanges was called
func (b *Backend) Selected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.selected
}

// Closed reports whether Close was called
func (b *Backend) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *Backend) intern(name string) window.Atom {
	if a, ok := b.atoms[name]; ok {
		return a
	}
	a := window.Atom(len(b.atoms) + 300)
	b.atoms[name] = a
	return a
}

func (b *Backend) queue(ev window.Event) {
	select {
	case b.events <- ev:
	default:
		panic("windowtest: event queue full")
	}
}

func (b *Backend) id() uint32 {
	b.nextID++
	return b.nextID
}

// Name returns "windowtest"
func (b *Backend) Name() string { return "windowtest" }

// Screen returns 0
func (b *Backend) Screen() int { return 0 }

// Root returns the fake root window
func (b *Backend) Root() uint32 { return root }

func (b *Backend) QueryOutputs() ([]window.Geometry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.queryErr != nil {
		return nil, b.queryErr
	}
	return append([]window.Geometry(nil), b.outputs...), nil
}

func (b *Backend) CreateSurface(g window.Geometry) (window.Surface, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, ErrClosed
	}
	s := window.Surface(b.id())
	b.surfaces[s] = g
	return s, nil
}

func (b *Backend) DestroySurface(s window.Surface) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.surfaces[s]; !ok {
		return errors.New("windowtest: unknown surface")
	}
	delete(b.surfaces, s)
	delete(b.backgrounds, s)
	return nil
}

func (b *Backend) SelectPropertyChanges() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.selected = true
	return nil
}

func (b *Backend) InternAtom(name string, onlyIfExists bool) (window.Atom, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.internErr[name]; err != nil {
		return 0, err
	}
	if a, ok := b.atoms[name]; ok {
		return a, nil
	}
	if onlyIfExists {
		return 0, nil
	}
	return b.intern(name), nil
}

func (b *Backend) WriteMarker(atom window.Atom) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.clock++
	baseline := b.clock
	b.queue(window.Event{Kind: window.EventPropertyNotify, Window: root, Atom: atom, Time: baseline})
	fn := b.afterMarker
	b.mu.Unlock()

	if fn != nil {
		fn(baseline)
	}
	return nil
}

func (b *Backend) ReadCardinals(atom window.Atom, n int) ([]int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reads++
	if b.readErr != nil {
		return nil, b.readErr
	}
	values, ok := b.props[atom]
	if !ok {
		return nil, errors.New("windowtest: property not set")
	}
	if len(values) > n {
		values = values[:n]
	}
	return append([]int64(nil), values...), nil
}

func (b *Backend) NextEvent(ctx context.Context) (window.Event, error) {
	select {
	case <-ctx.Done():
		return window.Event{}, ctx.Err()
	case ev := <-b.events:
		return ev, nil
	}
}

func (b *Backend) UploadCanvas(s window.Surface, img *image.RGBA, dither bool) (window.Pixmap, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.surfaces[s]; !ok {
		return 0, errors.New("windowtest: unknown surface")
	}
	if b.uploadLimit == 0 {
		return 0, errors.New("windowtest: upload failed")
	}
	if b.uploadLimit > 0 {
		b.uploadLimit--
	}
	p := window.Pixmap(b.id())
	b.pixmaps[p] = img
	return p, nil
}

func (b *Backend) FreePixmap(p window.Pixmap) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.pixmaps[p]; !ok {
		return errors.New("windowtest: unknown pixmap")
	}
	delete(b.pixmaps, p)
	return nil
}

func (b *Backend) SetBackground(s window.Surface, p window.Pixmap) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.surfaces[s]; !ok {
		return errors.New("windowtest: unknown surface")
	}
	if _, ok := b.pixmaps[p]; !ok {
		return errors.New("windowtest: unknown pixmap")
	}
	b.backgrounds[s] = b.pixmaps[p]
	return nil
}

func (b *Backend) Sync() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.syncs++
	return b.syncErr
}

func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

var _ window.Backend = (*Backend)(nil)
