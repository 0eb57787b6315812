package config

import (
	"errors"
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/bryanchriswhite/owallpaperd/internal/compositor"
	"github.com/bryanchriswhite/owallpaperd/internal/logger"
	"gopkg.in/yaml.v3"
)

// DefaultAPIAddress is where the HTTP API listens unless configured otherwise
const DefaultAPIAddress = "127.0.0.1:7420"

// WallpaperConfig describes one wallpaper to load at startup
type WallpaperConfig struct {
	Path       string          `json:"path" yaml:"path"`
	Mode       compositor.Mode `json:"mode" yaml:"mode"`
	Background string          `json:"background,omitempty" yaml:"background,omitempty"`
}

// APIConfig represents HTTP API configuration
type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Address string `json:"address" yaml:"address"`
}

// DBusConfig represents D-Bus control configuration
type DBusConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// Config represents the daemon configuration
type Config struct {
	Display     string            `json:"display" yaml:"display"`
	Screen      int               `json:"screen" yaml:"screen"`
	LogLevel    string            `json:"log_level" yaml:"log_level"`
	LogPretty   bool              `json:"log_pretty" yaml:"log_pretty"`
	Quality     string            `json:"quality" yaml:"quality"`
	API         APIConfig         `json:"api" yaml:"api"`
	DBus        DBusConfig        `json:"dbus" yaml:"dbus"`
	WatchConfig bool              `json:"watch_config" yaml:"watch_config"`
	Wallpapers  []WallpaperConfig `json:"wallpapers" yaml:"wallpapers"`
	// Assignments maps a workspace number to an index into Wallpapers
	Assignments map[int64]int `json:"assignments" yaml:"assignments"`
}

// Defaults returns the default configuration
func Defaults() *Config {
	return &Config{
		Screen:   -1,
		LogLevel: "info",
		Quality:  "good",
		API: APIConfig{
			Enabled: true,
			Address: DefaultAPIAddress,
		},
		WatchConfig: true,
		Wallpapers:  []WallpaperConfig{},
		Assignments: map[int64]int{},
	}
}

// Validate checks that every mode, color, quality and assignment is usable
func (c *Config) Validate() error {
	var errs []error

	if _, err := compositor.ParseQuality(c.Quality); err != nil {
		errs = append(errs, err)
	}
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	for i, w := range c.Wallpapers {
		if w.Path == "" {
			errs = append(errs, fmt.Errorf("wallpapers[%d]: path is required", i))
		}
		if !w.Mode.Valid() {
			errs = append(errs, fmt.Errorf("wallpapers[%d]: %w", i, compositor.ErrUnimplementedMode))
		}
		if _, err := ParseColor(w.Background); err != nil {
			errs = append(errs, fmt.Errorf("wallpapers[%d]: %w", i, err))
		}
	}
	for ws, idx := range c.Assignments {
		if ws < 0 {
			errs = append(errs, fmt.Errorf("assignments: negative workspace %d", ws))
		}
		if idx < 0 || idx >= len(c.Wallpapers) {
			errs = append(errs, fmt.Errorf("assignments: workspace %d refers to wallpaper %d, have %d", ws, idx, len(c.Wallpapers)))
		}
	}
	return errors.Join(errs...)
}

// ParseColor parses "#rrggbb", "0xrrggbb" or "rrggbb" into an opaque color.
// An empty string is black.
func ParseColor(s string) (color.RGBA, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return color.RGBA{A: 0xff}, nil
	}

	hex := strings.TrimPrefix(s, "#")
	if len(hex) == len(s) {
		hex = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	}
	if len(hex) != 6 {
		return color.RGBA{}, fmt.Errorf("invalid color %q", s)
	}

	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("invalid color %q", s)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, nil
}

// Manager handles configuration
type Manager struct {
	configPath string
	config     *Config
	mu         sync.RWMutex
}

// DefaultPath returns $HOME/.config/owallpaperd/config.yaml
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "owallpaperd", "config.yaml"), nil
}

// NewManager loads configFile, or the default path when empty. A missing file
// is created with defaults.
func NewManager(configFile string) (*Manager, error) {
	actualConfigPath := configFile
	if actualConfigPath == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		actualConfigPath = p
	}

	m := &Manager{
		configPath: actualConfigPath,
	}

	// Try to read config file
	if err := m.load(); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// Config file not found, create it with defaults
			logger.WithComponent("config").Info().
				Str("path", m.configPath).
				Msg("Config file not found, creating new config")
			m.config = Defaults()
			if err := m.Save(); err != nil {
				return nil, fmt.Errorf("failed to create default config: %w", err)
			}
		} else {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	logger.WithComponent("config").Info().
		Str("path", m.configPath).
		Int("wallpapers", len(m.config.Wallpapers)).
		Msg("Config loaded")

	return m, nil
}

// load reads and validates the file, replacing the current config on success
func (m *Manager) load() error {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return err
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Wallpapers == nil {
		cfg.Wallpapers = []WallpaperConfig{}
	}
	if cfg.Assignments == nil {
		cfg.Assignments = map[int64]int{}
	}
	// Unknown mode names fail to unmarshal, so ModeNone means the key was left out
	for i := range cfg.Wallpapers {
		if cfg.Wallpapers[i].Mode == compositor.ModeNone {
			cfg.Wallpapers[i].Mode = compositor.ModeFull
		}
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return nil
}

// Reload rereads the file. The current config is kept if the file is
// unreadable or invalid.
func (m *Manager) Reload() error {
	if err := m.load(); err != nil {
		logger.WithComponent("config").Warn().
			Err(err).
			Str("path", m.configPath).
			Msg("Keeping previous config")
		return err
	}
	logger.WithComponent("config").Info().
		Str("path", m.configPath).
		Msg("Config reloaded")
	return nil
}

// Get returns a copy of the current configuration
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.config == nil {
		return Defaults()
	}

	cfg := *m.config
	cfg.Wallpapers = append([]WallpaperConfig(nil), m.config.Wallpapers...)
	cfg.Assignments = make(map[int64]int, len(m.config.Assignments))
	for k, v := range m.config.Assignments {
		cfg.Assignments[k] = v
	}
	return &cfg
}

// Save writes the current configuration to disk
func (m *Manager) Save() error {
	cfg := m.Get()

	logger.WithComponent("config").Debug().
		Str("path", m.configPath).
		Int("wallpapers", len(cfg.Wallpapers)).
		Msg("Saving config")

	// Ensure the directory exists
	configDir := filepath.Dir(m.configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		logger.WithComponent("config").Error().
			Err(err).
			Str("path", m.configPath).
			Msg("Failed to write config")
		return err
	}

	logger.WithComponent("config").Info().
		Str("path", m.configPath).
		Msg("Config saved successfully")
	return nil
}

// Update validates cfg, replaces the configuration and saves it
func (m *Manager) Update(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return m.Save()
}

// GetConfigPath returns the path of the configuration file
func (m *Manager) GetConfigPath() string {
	return m.configPath
}
