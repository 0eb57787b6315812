package window

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xinerama"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/bryanchriswhite/owallpaperd/internal/display"
	"github.com/bryanchriswhite/owallpaperd/internal/logger"
)

var (
	// ErrNoXinerama is returned when the server has no active Xinerama extension
	ErrNoXinerama = errors.New("no multi-output extension active")
	// ErrClosed is returned by NextEvent once the connection is gone
	ErrClosed = errors.New("display connection closed")
)

// X11Backend implements the Backend interface using X11
type X11Backend struct {
	conn      *xgb.Conn
	screenNum int
	screen    *xproto.ScreenInfo
	root      xproto.Window
	display   *display.Manager

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to displayName ("" uses $DISPLAY) and selects screen, where a
// negative screen means the display's default
func Dial(displayName string, screen int) (*X11Backend, error) {
	conn, err := xgb.NewConnDisplay(displayName)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X server: %w", err)
	}

	setup := xproto.Setup(conn)
	if screen < 0 {
		screen = conn.DefaultScreen
	}
	if screen >= len(setup.Roots) {
		conn.Close()
		return nil, fmt.Errorf("screen %d does not exist (display has %d)", screen, len(setup.Roots))
	}
	info := &setup.Roots[screen]

	dm, err := display.NewManager(conn, info)
	if err != nil {
		conn.Close()
		return nil, err
	}

	b := &X11Backend{
		conn:      conn,
		screenNum: screen,
		screen:    info,
		root:      info.Root,
		display:   dm,
		events:    make(chan Event, 64),
		done:      make(chan struct{}),
	}
	go b.readEvents()

	logger.WithComponent("x11").Info().
		Str("display", displayName).
		Int("screen", screen).
		Uint32("root", uint32(b.root)).
		Msg("Connected to X server")

	return b, nil
}

// Name returns the backend name
func (b *X11Backend) Name() string {
	return "x11"
}

// Screen returns the selected screen number
func (b *X11Backend) Screen() int {
	return b.screenNum
}

// Root returns the root window of the selected screen
func (b *X11Backend) Root() uint32 {
	return uint32(b.root)
}

// QueryOutputs returns the Xinerama screens in server order
func (b *X11Backend) QueryOutputs() ([]Geometry, error) {
	if err := xinerama.Init(b.conn); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoXinerama, err)
	}

	active, err := xinerama.IsActive(b.conn).Reply()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoXinerama, err)
	}
	if active.State == 0 {
		return nil, ErrNoXinerama
	}

	reply, err := xinerama.QueryScreens(b.conn).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to query screens: %w", err)
	}

	outputs := make([]Geometry, 0, len(reply.ScreenInfo))
	for _, s := range reply.ScreenInfo {
		outputs = append(outputs, Geometry{
			X:      int(s.XOrg),
			Y:      int(s.YOrg),
			Width:  int(s.Width),
			Height: int(s.Height),
		})
	}
	return outputs, nil
}

// CreateSurface creates a desktop window covering g
func (b *X11Backend) CreateSurface(g Geometry) (Surface, error) {
	win, err := b.display.CreateDesktopWindow(image.Rect(g.X, g.Y, g.X+g.Width, g.Y+g.Height))
	if err != nil {
		return 0, err
	}
	return Surface(win), nil
}

// DestroySurface destroys a window created by CreateSurface
func (b *X11Backend) DestroySurface(s Surface) error {
	return b.display.DestroyWindow(xproto.Window(s))
}

// SelectPropertyChanges asks for PropertyNotify events on the root window
func (b *X11Backend) SelectPropertyChanges() error {
	if err := xproto.ChangeWindowAttributesChecked(
		b.conn,
		b.root,
		xproto.CwEventMask,
		[]uint32{xproto.EventMaskPropertyChange},
	).Check(); err != nil {
		return fmt.Errorf("failed to set event mask: %w", err)
	}
	return nil
}

// InternAtom gets an atom ID by name
func (b *X11Backend) InternAtom(name string, onlyIfExists bool) (Atom, error) {
	reply, err := xproto.InternAtom(b.conn, onlyIfExists, uint16(len(name)), name).Reply()
	if err != nil {
		return 0, err
	}
	return Atom(reply.Atom), nil
}

// WriteMarker replaces atom on the root window with a single byte
func (b *X11Backend) WriteMarker(atom Atom) error {
	return xproto.ChangePropertyChecked(
		b.conn,
		xproto.PropModeReplace,
		b.root,
		xproto.Atom(atom),
		xproto.Atom(atom),
		8,
		1,
		[]byte{'a'},
	).Check()
}

// ReadCardinals reads up to n CARDINAL values of atom from the root window
func (b *X11Backend) ReadCardinals(atom Atom, n int) ([]int64, error) {
	reply, err := xproto.GetProperty(
		b.conn,
		false,
		b.root,
		xproto.Atom(atom),
		xproto.AtomCardinal,
		0,
		uint32(n),
	).Reply()
	if err != nil {
		return nil, err
	}
	if reply.Type != xproto.AtomCardinal || reply.Format != 32 {
		return nil, fmt.Errorf("property is not CARDINAL[32] (type %d, format %d)", reply.Type, reply.Format)
	}

	count := int(reply.ValueLen)
	if count > n {
		count = n
	}
	values := make([]int64, count)
	for i := range values {
		values[i] = int64(xgb.Get32(reply.Value[i*4:]))
	}
	return values, nil
}

// NextEvent returns the next event read from the connection
func (b *X11Backend) NextEvent(ctx context.Context) (Event, error) {
	select {
	case <-ctx.Done():
		return Event{}, ctx.Err()
	case ev, ok := <-b.events:
		if !ok {
			return Event{}, ErrClosed
		}
		return ev, nil
	}
}

// readEvents pumps events off the connection so NextEvent can honour a context
func (b *X11Backend) readEvents() {
	log := logger.WithComponent("x11")
	defer close(b.events)

	for {
		ev, err := b.conn.WaitForEvent()
		if ev == nil && err == nil {
			log.Debug().Msg("X11 event stream ended")
			return
		}
		if err != nil {
			// Errors from unchecked requests land here
			log.Debug().Str("error", err.Error()).Msg("X11 error event")
			continue
		}

		out := Event{Kind: EventOther}
		if pn, ok := ev.(xproto.PropertyNotifyEvent); ok {
			out = Event{
				Kind:   EventPropertyNotify,
				Window: uint32(pn.Window),
				Atom:   Atom(pn.Atom),
				Time:   uint32(pn.Time),
			}
		}
		select {
		case b.events <- out:
		case <-b.done:
			return
		}
	}
}

// UploadCanvas copies img into a pixmap usable as the background of s
func (b *X11Backend) UploadCanvas(s Surface, img *image.RGBA, dither bool) (Pixmap, error) {
	pix, err := b.display.Upload(xproto.Drawable(s), img, dither)
	if err != nil {
		return 0, err
	}
	return Pixmap(pix), nil
}

// FreePixmap releases a pixmap made by UploadCanvas
func (b *X11Backend) FreePixmap(p Pixmap) error {
	return b.display.FreePixmap(xproto.Pixmap(p))
}

// SetBackground shows p on s
func (b *X11Backend) SetBackground(s Surface, p Pixmap) error {
	return b.display.SetBackground(xproto.Window(s), xproto.Pixmap(p))
}

// Sync waits for a reply to a round-trip request, which means every earlier
// request has been processed
func (b *X11Backend) Sync() error {
	if _, err := xproto.GetInputFocus(b.conn).Reply(); err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}
	return nil
}

// Close closes the X11 connection. The event reader exits once the
// connection is gone.
func (b *X11Backend) Close() error {
	b.closeOnce.Do(func() {
		close(b.done)
		b.conn.Close()
		logger.WithComponent("x11").Debug().Msg("Disconnected from X server")
	})
	return nil
}

var _ Backend = (*X11Backend)(nil)
