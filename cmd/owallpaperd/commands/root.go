package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bryanchriswhite/owallpaperd/internal/config"
)

// Version is reported by the health endpoint
var Version = "dev"

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "owallpaperd",
		Short: "owallpaperd - per-output, per-workspace wallpapers for X11",
		Long: `owallpaperd draws a wallpaper on every Xinerama output and switches it
when the workspace shown on that output changes.

Workspace numbers are read from the OWALLPAPERD_WORKSPACES root window
property (CARDINAL[n], one entry per output), which a window manager
script keeps up to date.

Features:
  • Center, fill, full and tile placement modes
  • Wallpapers rendered once per output at load time
  • Workspace to wallpaper assignments
  • Live config reload
  • REST API, websocket stream and D-Bus control`,
		SilenceUsage: true,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/owallpaperd/config.yaml)")
	rootCmd.PersistentFlags().String("display", "", "X display to connect to (default is $DISPLAY)")
	rootCmd.PersistentFlags().Int("screen", -1, "X screen number (default is the display's default screen)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().String("api-address", "", "HTTP API listen address (default is "+config.DefaultAPIAddress+")")

	// Bind flags to viper
	viper.BindPFlag("display", rootCmd.PersistentFlags().Lookup("display"))
	viper.BindPFlag("screen", rootCmd.PersistentFlags().Lookup("screen"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("api.address", rootCmd.PersistentFlags().Lookup("api-address"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// GetConfigFile returns the config file path
func GetConfigFile() string {
	return cfgFile
}

// applyOverrides copies flags the user actually passed over cfg
func applyOverrides(cfg *config.Config) {
	if viper.IsSet("display") {
		cfg.Display = viper.GetString("display")
	}
	if viper.IsSet("screen") {
		cfg.Screen = viper.GetInt("screen")
	}
	if level := viper.GetString("log_level"); viper.IsSet("log_level") && level != "" {
		cfg.LogLevel = level
	}
	if addr := viper.GetString("api.address"); viper.IsSet("api.address") && addr != "" {
		cfg.API.Address = addr
	}
}

// loadConfig loads the config file and applies flag overrides
func loadConfig() (*config.Manager, *config.Config, error) {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	cfg := configMgr.Get()
	applyOverrides(cfg)
	return configMgr, cfg, nil
}
