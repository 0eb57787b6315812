package daemon

import (
	"errors"

	"github.com/bryanchriswhite/owallpaperd/internal/compositor"
)

var (
	// ErrConnection is returned when the display connection cannot be opened
	ErrConnection = errors.New("cannot open display connection")
	// ErrCapabilityUnavailable is returned when a required server extension is absent
	ErrCapabilityUnavailable = errors.New("capability unavailable")
	// ErrServerTime is returned when the marker round-trip cannot be made
	ErrServerTime = errors.New("cannot read server time")
	// ErrWallpaperMismatch is returned when a wallpaper is used with a daemon
	// other than the one that loaded it
	ErrWallpaperMismatch = errors.New("wallpaper belongs to a different daemon")
	// ErrOutputOutOfBounds is returned for an output index outside [0, NumOutputs)
	ErrOutputOutOfBounds = errors.New("output index out of bounds")
	// ErrWorkspaceRead is returned when the workspace property cannot be read
	ErrWorkspaceRead = errors.New("cannot read workspaces")
	// ErrUnknownWallpaper is returned for an ID that is not in the collection
	ErrUnknownWallpaper = errors.New("unknown wallpaper")
	// ErrShutdown is returned by operations on a daemon that has been shut down
	ErrShutdown = errors.New("daemon is shut down")

	// ErrInvalidImage is returned when a wallpaper image cannot be decoded
	ErrInvalidImage = compositor.ErrInvalidImage
	// ErrUnimplementedMode is returned for a placement mode the compositor lacks
	ErrUnimplementedMode = compositor.ErrUnimplementedMode
)
