package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/akatzai/comfydock/config"
)

var devCmd = &cobra.Command{
	Use:    "dev",
	Short:  "Development tools for ComfyDock developers",
	Long:   `Development tools that surface how the current configuration was resolved.`,
	Hidden: true,
}

var devStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the resolved configuration with any overrides applied",
	Args:  cobra.NoArgs,
	RunE:  runDevStatus,
}

func init() {
	rootCmd.AddCommand(devCmd)
	devCmd.AddCommand(devStatusCmd)
}

func runDevStatus(cmd *cobra.Command, args []string) error {
	resolver, cfg, logger, err := setup(config.Overrides{})
	if err != nil {
		return err
	}
	logger.Info("running 'comfydock dev status'")

	entries, err := resolver.List(config.Overrides{})
	if err != nil {
		return err
	}

	magenta := color.New(color.FgMagenta, color.Bold)
	magenta.Println("ComfyDock Configuration Status:")
	renderDevStatus(os.Stdout, resolver.FilePath(), entries, cfg)
	return nil
}

// renderDevStatus prints every setting grouped the way the config command
// groups them, annotated with the layer each value came from, followed by
// the final endpoint values the lifecycle manager will use.
func renderDevStatus(w io.Writer, path string, entries []config.Entry, cfg *config.Resolved) {
	fmt.Fprintf(w, "\nConfig file: %s\n", path)

	section := func(title string, match func(config.Entry) bool) {
		fmt.Fprintf(w, "\n%s:\n", title)
		for _, e := range entries {
			if !match(e) {
				continue
			}
			fmt.Fprintf(w, "  %s = %v  [%s]\n", e.Key, e.Value, e.Source)
		}
	}
	section("Basic User Settings", func(e config.Entry) bool { return !e.Advanced && !e.Managed })
	section("Advanced Settings", func(e config.Entry) bool { return e.Advanced && !e.Managed })
	section("System Settings (auto-managed)", func(e config.Entry) bool { return e.Managed })

	fmt.Fprintln(w, "\nFinal Values:")
	fmt.Fprintf(w, "  Backend:      http://%s:%d\n", cfg.BackendHost, cfg.BackendPort)
	fmt.Fprintf(w, "  Frontend:     http://localhost:%d\n", cfg.FrontendHostPort)
	fmt.Fprintf(w, "  ComfyUI Path: %s\n", cfg.ComfyUIPath)
}
