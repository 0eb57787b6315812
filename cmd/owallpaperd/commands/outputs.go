package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bryanchriswhite/owallpaperd/internal/logger"
	"github.com/bryanchriswhite/owallpaperd/internal/window"
)

var outputsCmd = &cobra.Command{
	Use:   "outputs",
	Short: "List Xinerama outputs",
	Long: `List the outputs owallpaperd would draw on, in the order used for
workspace indices and API output numbers.`,
	Example: `  # List outputs in table format (default)
  owallpaperd outputs

  # List outputs in JSON format
  owallpaperd outputs --format json`,
	RunE: runOutputs,
}

var outputsFormat string

func init() {
	rootCmd.AddCommand(outputsCmd)

	outputsCmd.Flags().StringVarP(&outputsFormat, "format", "f", "table", "output format (table or json)")
}

func runOutputs(cmd *cobra.Command, args []string) error {
	_, cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger.Init(cfg.LogLevel, cfg.LogPretty)

	backend, err := window.Dial(cfg.Display, cfg.Screen)
	if err != nil {
		return fmt.Errorf("failed to connect to X11: %w", err)
	}
	defer backend.Close()

	outputs, err := backend.QueryOutputs()
	if err != nil {
		return err
	}

	switch outputsFormat {
	case "json":
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(outputs)
	case "table":
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "INDEX\tX\tY\tWIDTH\tHEIGHT")
		for i, o := range outputs {
			fmt.Fprintf(w, "%d\t%d\t%d\t%d\t%d\n", i, o.X, o.Y, o.Width, o.Height)
		}
		return w.Flush()
	default:
		return fmt.Errorf("unsupported format: %s (use 'table' or 'json')", outputsFormat)
	}
}
