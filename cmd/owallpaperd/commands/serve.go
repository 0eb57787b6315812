package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/bryanchriswhite/owallpaperd/internal/api"
	"github.com/bryanchriswhite/owallpaperd/internal/bus"
	"github.com/bryanchriswhite/owallpaperd/internal/compositor"
	"github.com/bryanchriswhite/owallpaperd/internal/config"
	"github.com/bryanchriswhite/owallpaperd/internal/daemon"
	"github.com/bryanchriswhite/owallpaperd/internal/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the wallpaper daemon",
	Long: `Connect to the X server, load the configured wallpapers and switch them as
workspaces change until interrupted.

The HTTP API, D-Bus object and config file watcher are started when
enabled in the configuration.`,
	Example: `  # Run on the current display
  owallpaperd serve

  # Run on another display with debug logging
  owallpaperd serve --display :1 --log-level debug

  # Serve the API on another address
  owallpaperd serve --api-address 127.0.0.1:9000`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// wallpaperSpecs converts configured wallpapers to load specs
func wallpaperSpecs(cfg *config.Config) ([]daemon.WallpaperSpec, error) {
	specs := make([]daemon.WallpaperSpec, 0, len(cfg.Wallpapers))
	for i, w := range cfg.Wallpapers {
		bg, err := config.ParseColor(w.Background)
		if err != nil {
			return nil, fmt.Errorf("wallpapers[%d]: %w", i, err)
		}
		specs = append(specs, daemon.WallpaperSpec{
			Path:       w.Path,
			Mode:       w.Mode,
			Background: bg,
		})
	}
	return specs, nil
}

// policyFor uses the configured assignments, or modulo when there are none
func policyFor(cfg *config.Config) daemon.Policy {
	if len(cfg.Assignments) == 0 {
		return daemon.ModuloPolicy{}
	}
	return daemon.MapPolicy{Assignments: cfg.Assignments}
}

// applyConfig loads cfg's wallpapers into the controller
func applyConfig(ctx context.Context, ctrl *daemon.Controller, cfg *config.Config) error {
	specs, err := wallpaperSpecs(cfg)
	if err != nil {
		return err
	}
	return ctrl.Replace(ctx, specs, policyFor(cfg))
}

func runServe(cmd *cobra.Command, args []string) error {
	configMgr, cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger.Init(cfg.LogLevel, cfg.LogPretty)
	log := logger.WithComponent("daemon")
	log.Info().
		Str("config", configMgr.GetConfigPath()).
		Str("version", Version).
		Msg("Starting owallpaperd")

	renderer, err := compositor.ParseQuality(cfg.Quality)
	if err != nil {
		return err
	}

	d, err := daemon.Initialize(cfg.Display, cfg.Screen, daemon.WithRenderer(renderer))
	if err != nil {
		return fmt.Errorf("failed to initialize daemon: %w", err)
	}
	defer func() {
		if err := d.Shutdown(); err != nil {
			log.Warn().Err(err).Msg("Shutdown incomplete")
		}
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctrl := daemon.NewController(d, policyFor(cfg))
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return ctrl.Run(ctx)
	})

	if err := applyConfig(ctx, ctrl, cfg); err != nil {
		stop()
		g.Wait()
		return fmt.Errorf("failed to load wallpapers: %w", err)
	}

	if cfg.API.Enabled {
		server := api.NewServer(ctrl, Version)
		g.Go(func() error {
			return server.Start(ctx, cfg.API.Address)
		})
	}

	if cfg.DBus.Enabled {
		svc, err := bus.Connect(ctrl)
		if err != nil {
			log.Warn().Err(err).Msg("D-Bus control unavailable")
		} else {
			g.Go(func() error {
				svc.Run(ctx)
				return nil
			})
		}
	}

	if cfg.WatchConfig {
		watcher, err := config.NewWatcher(configMgr, config.DefaultWatchDebounce, func(next *config.Config) {
			applyOverrides(next)
			if err := applyConfig(ctx, ctrl, next); err != nil {
				log.Error().Err(err).Msg("Failed to apply reloaded config")
				return
			}
			log.Info().Int("wallpapers", len(next.Wallpapers)).Msg("Wallpapers reloaded")
		})
		if err != nil {
			log.Warn().Err(err).Msg("Config reload disabled")
		} else {
			g.Go(func() error {
				watcher.Run(ctx)
				return nil
			})
		}
	}

	log.Info().
		Int("outputs", d.NumOutputs()).
		Int("wallpapers", len(cfg.Wallpapers)).
		Msg("owallpaperd is running")

	err = g.Wait()
	log.Info().Msg("Shutting down")
	return err
}
