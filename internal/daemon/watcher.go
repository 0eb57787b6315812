package daemon

import (
	"context"
	"errors"
	"fmt"

	"github.com/bryanchriswhite/owallpaperd/internal/logger"
	"github.com/bryanchriswhite/owallpaperd/internal/window"
)

const (
	// TimestampProperty is written to the root window to learn the server time
	TimestampProperty = "OWALLPAPERD_TIMESTAMP_PROP"
	// WorkspacesProperty holds one CARDINAL workspace index per output. It is
	// written by an external session component.
	WorkspacesProperty = "OWALLPAPERD_WORKSPACES"
)

// Change is published by Watch. Exactly one of Workspaces and Err is set.
type Change struct {
	Workspaces []int64
	Err        error
}

// serverTime writes the marker property and waits for the server to echo it.
// Events that arrive first are dropped; their timestamps predate the marker so
// the watcher would ignore them anyway.
func (d *Daemon) serverTime(ctx context.Context) (uint32, error) {
	marker, err := d.backend.InternAtom(TimestampProperty, false)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrServerTime, err)
	}
	if marker == 0 {
		return 0, ErrServerTime
	}

	if err := d.backend.WriteMarker(marker); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrServerTime, err)
	}

	root := d.backend.Root()
	for {
		ev, err := d.backend.NextEvent(ctx)
		if err != nil {
			return 0, err
		}
		if ev.Kind == window.EventPropertyNotify && ev.Window == root && ev.Atom == marker {
			return ev.Time, nil
		}
	}
}

// WaitForWorkspaceChange blocks until the workspace property changes on at
// least one output and returns the new indices for all outputs. Notifications
// older than the call, and ones that leave every index as it was, are skipped.
// Only one goroutine may wait at a time.
func (d *Daemon) WaitForWorkspaceChange(ctx context.Context) ([]int64, error) {
	log := logger.WithComponent("watcher")

	baseline, err := d.serverTime(ctx)
	if err != nil {
		return nil, err
	}

	atom, err := d.backend.InternAtom(WorkspacesProperty, false)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWorkspaceRead, err)
	}

	log.Debug().Uint32("baseline", baseline).Msg("Waiting for workspace change")

	root := d.backend.Root()
	for {
		ev, err := d.backend.NextEvent(ctx)
		if err != nil {
			return nil, err
		}
		if ev.Kind != window.EventPropertyNotify || ev.Window != root || ev.Atom != atom {
			continue
		}
		if ev.Time <= baseline {
			log.Debug().Uint32("time", ev.Time).Msg("Skipping stale notification")
			continue
		}

		workspaces, changed, err := d.readWorkspaces(atom)
		if err != nil {
			return nil, err
		}
		if changed {
			log.Debug().Interface("workspaces", workspaces).Msg("Workspace changed")
			return workspaces, nil
		}
	}
}

// Refresh reads the workspace property once, without waiting for a
// notification, and returns the stored indices
func (d *Daemon) Refresh() ([]int64, error) {
	atom, err := d.backend.InternAtom(WorkspacesProperty, true)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWorkspaceRead, err)
	}
	if atom == 0 {
		return nil, fmt.Errorf("%w: %s has never been set", ErrWorkspaceRead, WorkspacesProperty)
	}

	workspaces, _, err := d.readWorkspaces(atom)
	return workspaces, err
}

// readWorkspaces bulk-reads the property and merges it into the stored indices
func (d *Daemon) readWorkspaces(atom window.Atom) ([]int64, bool, error) {
	values, err := d.backend.ReadCardinals(atom, len(d.outputs))
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrWorkspaceRead, err)
	}
	if len(values) == 0 {
		return nil, false, fmt.Errorf("%w: property is empty", ErrWorkspaceRead)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	changed := false
	for i, v := range values {
		if i >= len(d.workspaces) {
			break
		}
		if d.workspaces[i] != v {
			d.workspaces[i] = v
			changed = true
		}
	}
	return append([]int64(nil), d.workspaces...), changed, nil
}

// Watch waits for workspace changes in a goroutine and publishes each one.
// Read failures are published and the watch continues; any other error is
// published last and the channel is closed. Cancelling ctx closes the channel.
func (d *Daemon) Watch(ctx context.Context) <-chan Change {
	out := make(chan Change)

	go func() {
		defer close(out)
		log := logger.WithComponent("watcher")

		for {
			workspaces, err := d.WaitForWorkspaceChange(ctx)
			if ctx.Err() != nil {
				return
			}

			change := Change{Workspaces: workspaces, Err: err}
			select {
			case out <- change:
			case <-ctx.Done():
				return
			}

			if err != nil && !errors.Is(err, ErrWorkspaceRead) {
				log.Error().Err(err).Msg("Workspace watch stopped")
				return
			}
		}
	}()

	return out
}
