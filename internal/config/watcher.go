package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/bryanchriswhite/owallpaperd/internal/logger"
	"github.com/fsnotify/fsnotify"
)

// DefaultWatchDebounce is how long the file must stay quiet before a reload
const DefaultWatchDebounce = 500 * time.Millisecond

// Watcher reloads the configuration when its file changes
type Watcher struct {
	manager  *Manager
	watcher  *fsnotify.Watcher
	debounce time.Duration
	onChange func(*Config)
}

// NewWatcher watches the manager's file. onChange receives each successfully
// reloaded config; invalid edits are logged and skipped.
func NewWatcher(m *Manager, debounce time.Duration, onChange func(*Config)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}

	// Watch the directory so editors that save by renaming are noticed
	dir := filepath.Dir(m.GetConfigPath())
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	return &Watcher{
		manager:  m,
		watcher:  fw,
		debounce: debounce,
		onChange: onChange,
	}, nil
}

// Run handles file events until ctx is cancelled
func (w *Watcher) Run(ctx context.Context) {
	log := logger.WithComponent("config")
	defer w.watcher.Close()

	absPath, _ := filepath.Abs(w.manager.GetConfigPath())
	baseName := filepath.Base(absPath)

	var debounceTimer *time.Timer
	var debounceCh <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			eventAbs, _ := filepath.Abs(event.Name)
			if eventAbs != absPath && filepath.Base(event.Name) != baseName {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.NewTimer(w.debounce)
			debounceCh = debounceTimer.C

		case <-debounceCh:
			debounceTimer = nil
			debounceCh = nil

			if err := w.manager.Reload(); err != nil {
				continue
			}
			if w.onChange != nil {
				w.onChange(w.manager.Get())
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("Config watch error")
		}
	}
}
