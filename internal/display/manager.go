package display

import (
	"fmt"
	"image"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/bryanchriswhite/owallpaperd/internal/logger"
)

// putImageHeader is the size in bytes of a PutImage request without its data
const putImageHeader = 24

// Manager creates the desktop windows that show wallpapers and uploads
// rendered canvases into server-side pixmaps
type Manager struct {
	conn   *xgb.Conn
	screen *xproto.ScreenInfo
	format Format
	// maxData is the largest PutImage payload the server accepts
	maxData int
}

// NewManager prepares uploads for the given screen of an open connection
func NewManager(conn *xgb.Conn, screen *xproto.ScreenInfo) (*Manager, error) {
	setup := xproto.Setup(conn)

	format, err := formatForDepth(setup, screen.RootDepth)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		conn:    conn,
		screen:  screen,
		format:  format,
		maxData: int(setup.MaximumRequestLength)*4 - putImageHeader,
	}

	logger.WithComponent("display").Debug().
		Int("depth", format.Depth).
		Int("bits_per_pixel", format.BitsPerPixel).
		Int("scanline_pad", format.ScanlinePad).
		Bool("msb_first", format.MSBFirst).
		Int("max_request_bytes", m.maxData).
		Msg("Pixmap format selected")

	return m, nil
}

func formatForDepth(setup *xproto.SetupInfo, depth byte) (Format, error) {
	for _, f := range setup.PixmapFormats {
		if f.Depth == depth {
			return Format{
				Depth:        int(f.Depth),
				BitsPerPixel: int(f.BitsPerPixel),
				ScanlinePad:  int(f.ScanlinePad),
				MSBFirst:     setup.ImageByteOrder == xproto.ImageOrderMSBFirst,
			}, nil
		}
	}
	return Format{}, fmt.Errorf("no pixmap format for depth %d", depth)
}

// CreateDesktopWindow creates a window covering r that window managers treat
// as part of the desktop, lowers it below everything else and maps it
func (m *Manager) CreateDesktopWindow(r image.Rectangle) (xproto.Window, error) {
	win, err := xproto.NewWindowId(m.conn)
	if err != nil {
		return 0, fmt.Errorf("failed to create window ID: %w", err)
	}

	err = xproto.CreateWindowChecked(
		m.conn,
		m.screen.RootDepth,
		win,
		m.screen.Root,
		int16(r.Min.X), int16(r.Min.Y),
		uint16(r.Dx()), uint16(r.Dy()),
		0, // border width
		xproto.WindowClassInputOutput,
		m.screen.RootVisual,
		xproto.CwBackPixel,
		[]uint32{m.screen.BlackPixel},
	).Check()
	if err != nil {
		return 0, fmt.Errorf("failed to create window: %w", err)
	}

	if err := m.setWindowClass(win, "desktop_window", "OWallpaperD"); err != nil {
		logger.WithComponent("display").Warn().
			Err(err).
			Msg("Failed to set window class")
	}

	if err := m.setWindowType(win, "_NET_WM_WINDOW_TYPE_DESKTOP"); err != nil {
		logger.WithComponent("display").Warn().
			Err(err).
			Msg("Failed to set window type")
	}

	xproto.ConfigureWindow(m.conn, win, xproto.ConfigWindowStackMode, []uint32{xproto.StackModeBelow})

	if err := xproto.MapWindowChecked(m.conn, win).Check(); err != nil {
		xproto.DestroyWindow(m.conn, win)
		return 0, fmt.Errorf("failed to map window: %w", err)
	}

	logger.WithComponent("display").Info().
		Uint32("window_id", uint32(win)).
		Str("geometry", r.String()).
		Msg("Desktop window created")

	return win, nil
}

// DestroyWindow destroys a window made by CreateDesktopWindow
func (m *Manager) DestroyWindow(win xproto.Window) error {
	return xproto.DestroyWindowChecked(m.conn, win).Check()
}

// Upload copies img into a new pixmap on the same screen as drawable. Large
// images are sent in bands of rows so no request exceeds the server limit.
func (m *Manager) Upload(drawable xproto.Drawable, img *image.RGBA, dither bool) (xproto.Pixmap, error) {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()

	data, err := Convert(img, m.format, dither)
	if err != nil {
		return 0, err
	}

	stride := m.format.Stride(w)
	rows := m.maxData / stride
	if rows < 1 {
		return 0, fmt.Errorf("scanline of %d bytes exceeds maximum request size", stride)
	}

	pix, err := xproto.NewPixmapId(m.conn)
	if err != nil {
		return 0, fmt.Errorf("failed to create pixmap ID: %w", err)
	}
	if err := xproto.CreatePixmapChecked(m.conn, m.screen.RootDepth, pix, drawable, uint16(w), uint16(h)).Check(); err != nil {
		return 0, fmt.Errorf("failed to create pixmap: %w", err)
	}

	gc, err := xproto.NewGcontextId(m.conn)
	if err != nil {
		xproto.FreePixmap(m.conn, pix)
		return 0, fmt.Errorf("failed to create GC ID: %w", err)
	}
	if err := xproto.CreateGCChecked(m.conn, gc, xproto.Drawable(pix), 0, nil).Check(); err != nil {
		xproto.FreePixmap(m.conn, pix)
		return 0, fmt.Errorf("failed to create GC: %w", err)
	}
	defer xproto.FreeGC(m.conn, gc)

	for y := 0; y < h; y += rows {
		n := rows
		if y+n > h {
			n = h - y
		}
		err := xproto.PutImageChecked(
			m.conn,
			xproto.ImageFormatZPixmap,
			xproto.Drawable(pix),
			gc,
			uint16(w), uint16(n),
			0, int16(y),
			0, // left pad
			m.screen.RootDepth,
			data[y*stride:(y+n)*stride],
		).Check()
		if err != nil {
			xproto.FreePixmap(m.conn, pix)
			return 0, fmt.Errorf("failed to put image rows %d-%d: %w", y, y+n, err)
		}
	}

	logger.WithComponent("display").Debug().
		Uint32("pixmap", uint32(pix)).
		Int("width", w).
		Int("height", h).
		Msg("Canvas uploaded")

	return pix, nil
}

// FreePixmap releases a pixmap made by Upload
func (m *Manager) FreePixmap(pix xproto.Pixmap) error {
	return xproto.FreePixmapChecked(m.conn, pix).Check()
}

// SetBackground shows pix as the background of win and repaints it
func (m *Manager) SetBackground(win xproto.Window, pix xproto.Pixmap) error {
	if err := xproto.ChangeWindowAttributesChecked(
		m.conn,
		win,
		xproto.CwBackPixmap,
		[]uint32{uint32(pix)},
	).Check(); err != nil {
		return fmt.Errorf("failed to set background pixmap: %w", err)
	}

	// A zero width and height clears the whole window
	if err := xproto.ClearAreaChecked(m.conn, false, win, 0, 0, 0, 0).Check(); err != nil {
		return fmt.Errorf("failed to clear window: %w", err)
	}
	return nil
}

// setWindowClass sets WM_CLASS
func (m *Manager) setWindowClass(win xproto.Window, instance, class string) error {
	// WM_CLASS format: instance\0class\0
	classStr := instance + "\x00" + class + "\x00"

	return xproto.ChangePropertyChecked(
		m.conn,
		xproto.PropModeReplace,
		win,
		xproto.AtomWmClass,
		xproto.AtomString,
		8,
		uint32(len(classStr)),
		[]byte(classStr),
	).Check()
}

// setWindowType sets _NET_WM_WINDOW_TYPE to a single type atom
func (m *Manager) setWindowType(win xproto.Window, typeName string) error {
	typeAtom, err := m.getAtom("_NET_WM_WINDOW_TYPE")
	if err != nil {
		return err
	}
	valueAtom, err := m.getAtom(typeName)
	if err != nil {
		return err
	}

	data := make([]byte, 4)
	xgb.Put32(data, uint32(valueAtom))

	return xproto.ChangePropertyChecked(
		m.conn,
		xproto.PropModeReplace,
		win,
		typeAtom,
		xproto.AtomAtom,
		32,
		1,
		data,
	).Check()
}

// getAtom gets an atom ID by name
func (m *Manager) getAtom(name string) (xproto.Atom, error) {
	reply, err := xproto.InternAtom(m.conn, false, uint16(len(name)), name).Reply()
	if err != nil {
		return 0, err
	}
	return reply.Atom, nil
}
