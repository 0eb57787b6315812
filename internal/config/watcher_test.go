package config

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, "wallpapers:\n  - path: a.jpg\n")

	m, err := NewManager(path)
	require.NoError(t, err)

	changes := make(chan *Config, 4)
	w, err := NewWatcher(m, 20*time.Millisecond, func(cfg *Config) { changes <- cfg })
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	// An invalid edit is skipped, the next valid one is delivered
	writeConfig(t, path, "wallpapers:\n  - path: a.jpg\n    mode: zoom\n")
	time.Sleep(100 * time.Millisecond)
	writeConfig(t, path, "wallpapers:\n  - path: b.jpg\n")

	select {
	case cfg := <-changes:
		require.Len(t, cfg.Wallpapers, 1)
		assert.Equal(t, "b.jpg", cfg.Wallpapers[0].Path)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after config change")
	}
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeConfig(t, path, "quality: fast\n")

	m, err := NewManager(path)
	require.NoError(t, err)

	changes := make(chan *Config, 1)
	w, err := NewWatcher(m, 10*time.Millisecond, func(cfg *Config) { changes <- cfg })
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	writeConfig(t, filepath.Join(dir, "other.yaml"), "quality: best\n")

	select {
	case <-changes:
		t.Fatal("reloaded for an unrelated file")
	case <-time.After(200 * time.Millisecond):
	}
}
