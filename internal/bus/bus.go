// Package bus exports the daemon's controls on the D-Bus session bus.
package bus

import (
	"context"
	"errors"
	"fmt"
	"image/color"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"

	"github.com/bryanchriswhite/owallpaperd/internal/compositor"
	"github.com/bryanchriswhite/owallpaperd/internal/daemon"
	"github.com/bryanchriswhite/owallpaperd/internal/logger"
)

const (
	Name      = "org.owallpaperd.Daemon"
	Path      = dbus.ObjectPath("/org/owallpaperd/Daemon")
	Interface = "org.owallpaperd.Daemon"
	ErrorName = "org.owallpaperd.Error"

	callTimeout = 10 * time.Second
)

// ErrNameTaken is returned when another process owns the bus name
var ErrNameTaken = errors.New("bus name already owned")

// Controller is the part of the daemon exposed on the bus
type Controller interface {
	Status(ctx context.Context) (daemon.Status, error)
	Load(ctx context.Context, spec daemon.WallpaperSpec) (daemon.WallpaperInfo, error)
	Unload(ctx context.Context, id int) error
	Apply(ctx context.Context, output, id int) error
	Subscribe() chan []int64
	Unsubscribe(ch chan []int64)
}

func introspectIface() introspect.Interface {
	return introspect.Interface{
		Name: Interface,
		Methods: []introspect.Method{
			{
				Name: "ListOutputs",
				Args: []introspect.Arg{
					{Name: "count", Type: "i", Direction: "out"},
				},
			},
			{
				Name: "Workspaces",
				Args: []introspect.Arg{
					{Name: "workspaces", Type: "ax", Direction: "out"},
				},
			},
			{
				Name: "Load",
				Args: []introspect.Arg{
					{Name: "path", Type: "s", Direction: "in"},
					{Name: "mode", Type: "s", Direction: "in"},
					{Name: "background", Type: "u", Direction: "in"},
					{Name: "id", Type: "i", Direction: "out"},
				},
			},
			{
				Name: "Apply",
				Args: []introspect.Arg{
					{Name: "output", Type: "i", Direction: "in"},
					{Name: "id", Type: "i", Direction: "in"},
				},
			},
			{
				Name: "Unload",
				Args: []introspect.Arg{
					{Name: "id", Type: "i", Direction: "in"},
				},
			},
		},
		Signals: []introspect.Signal{
			{
				Name: "WorkspacesChanged",
				Args: []introspect.Arg{
					{Name: "workspaces", Type: "ax"},
				},
			},
		},
	}
}

// handler is the exported object; each method is a D-Bus method
type handler struct {
	ctrl Controller
}

func busError(err error) *dbus.Error {
	return dbus.NewError(ErrorName, []any{err.Error()})
}

func (h *handler) ListOutputs() (int32, *dbus.Error) {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	status, err := h.ctrl.Status(ctx)
	if err != nil {
		return 0, busError(err)
	}
	return int32(len(status.Outputs)), nil
}

func (h *handler) Workspaces() ([]int64, *dbus.Error) {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	status, err := h.ctrl.Status(ctx)
	if err != nil {
		return nil, busError(err)
	}
	return status.Workspaces, nil
}

// Load takes the background as 0xRRGGBB
func (h *handler) Load(path, mode string, background uint32) (int32, *dbus.Error) {
	if path == "" {
		return 0, dbus.NewError("org.freedesktop.DBus.Error.InvalidArgs", []any{"path required"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	info, err := h.ctrl.Load(ctx, daemon.WallpaperSpec{
		Path: path,
		Mode: compositor.ParseMode(mode),
		Background: color.RGBA{
			R: uint8(background >> 16),
			G: uint8(background >> 8),
			B: uint8(background),
			A: 0xff,
		},
	})
	if err != nil {
		return 0, busError(err)
	}

	logger.WithComponent("bus").Info().
		Int("id", info.ID).
		Str("path", info.Path).
		Msg("Wallpaper loaded over D-Bus")
	return int32(info.ID), nil
}

func (h *handler) Apply(output, id int32) *dbus.Error {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	if err := h.ctrl.Apply(ctx, int(output), int(id)); err != nil {
		return busError(err)
	}
	return nil
}

func (h *handler) Unload(id int32) *dbus.Error {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	if err := h.ctrl.Unload(ctx, int(id)); err != nil {
		return busError(err)
	}
	return nil
}

// Service owns the bus name while it runs
type Service struct {
	conn    *dbus.Conn
	handler *handler
}

// Connect claims Name on the session bus and exports the control object
func Connect(ctrl Controller) (*Service, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}

	s, err := export(conn, ctrl)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

func export(conn *dbus.Conn, ctrl Controller) (*Service, error) {
	reply, err := conn.RequestName(Name, dbus.NameFlagDoNotQueue)
	if err != nil {
		return nil, fmt.Errorf("failed to request %s: %w", Name, err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return nil, fmt.Errorf("%w: %s", ErrNameTaken, Name)
	}

	h := &handler{ctrl: ctrl}
	if err := conn.Export(h, Path, Interface); err != nil {
		return nil, fmt.Errorf("export handler on %s: %w", Path, err)
	}

	node := &introspect.Node{
		Name: string(Path),
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			introspectIface(),
		},
	}
	if err := conn.Export(introspect.NewIntrospectable(node), Path, "org.freedesktop.DBus.Introspectable"); err != nil {
		logger.WithComponent("bus").Warn().Err(err).Msg("Failed to export introspection data")
	}

	logger.WithComponent("bus").Info().Str("name", Name).Msg("Claimed name on session bus")
	return &Service{conn: conn, handler: h}, nil
}

// Run emits WorkspacesChanged for every workspace update until ctx is
// cancelled, then releases the name and closes the connection
func (s *Service) Run(ctx context.Context) {
	log := logger.WithComponent("bus")

	updates := s.handler.ctrl.Subscribe()
	defer s.handler.ctrl.Unsubscribe(updates)
	defer s.conn.Close()
	defer s.conn.ReleaseName(Name)

	for {
		select {
		case <-ctx.Done():
			return
		case ws, ok := <-updates:
			if !ok {
				return
			}
			if err := s.conn.Emit(Path, Interface+".WorkspacesChanged", ws); err != nil {
				log.Warn().Err(err).Msg("Failed to emit WorkspacesChanged")
			}
		}
	}
}
