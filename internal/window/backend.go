package window

import (
	"context"
	"image"
)

// Atom identifies an interned property name
type Atom uint32

// Surface is a per-output drawable that shows a wallpaper (a desktop window on X11)
type Surface uint32

// Pixmap is a server-side copy of a rendered canvas
type Pixmap uint32

// Geometry describes one physical output area in root-window coordinates
type Geometry struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// EventKind distinguishes the events the daemon cares about from everything else
type EventKind int

const (
	// EventOther is any event the daemon does not inspect
	EventOther EventKind = iota
	// EventPropertyNotify reports a property change on a window
	EventPropertyNotify
)

// Event is a windowing-system event reduced to the fields the watcher needs
type Event struct {
	Kind   EventKind
	Window uint32
	Atom   Atom
	// Time is the server timestamp in milliseconds; it wraps after ~49 days
	Time uint32
}

// Backend is the windowing-system capability the daemon is built on
type Backend interface {
	// Name returns the backend name (e.g., "x11")
	Name() string

	// Screen returns the selected screen number
	Screen() int

	// Root returns the root window of the selected screen
	Root() uint32

	// QueryOutputs lists the physical outputs in the order the server reports them
	QueryOutputs() ([]Geometry, error)

	// CreateSurface creates and maps a background surface covering g
	CreateSurface(g Geometry) (Surface, error)

	// DestroySurface releases a surface created by CreateSurface
	DestroySurface(s Surface) error

	// SelectPropertyChanges subscribes to property-change events on the root window
	SelectPropertyChanges() error

	// InternAtom resolves a property name. With onlyIfExists set, a name the
	// server has never seen yields atom 0 and no error.
	InternAtom(name string, onlyIfExists bool) (Atom, error)

	// WriteMarker stores a one-byte property on the root window, which makes
	// the server echo a PropertyNotify carrying its current time
	WriteMarker(atom Atom) error

	// ReadCardinals reads up to n 32-bit CARDINAL values from a root property
	ReadCardinals(atom Atom, n int) ([]int64, error)

	// NextEvent blocks until the next event arrives or ctx is done
	NextEvent(ctx context.Context) (Event, error)

	// UploadCanvas copies img into a new pixmap compatible with s
	UploadCanvas(s Surface, img *image.RGBA, dither bool) (Pixmap, error)

	// FreePixmap releases a pixmap created by UploadCanvas
	FreePixmap(p Pixmap) error

	// SetBackground makes p the background of s and redraws it
	SetBackground(s Surface, p Pixmap) error

	// Sync blocks until the server has processed every request sent so far
	Sync() error

	// Close disconnects from the display server
	Close() error
}
