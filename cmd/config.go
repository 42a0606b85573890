package cmd

import (
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/akatzai/comfydock/config"
)

var (
	configList     bool
	configShowAll  bool
	configAdvanced bool
)

var configCmd = &cobra.Command{
	Use:   "config [field] [value]",
	Short: "Manage or display ComfyDock config values",
	Long: `Manage or display ComfyDock config values.

Usage modes:
  comfydock config                      interactively edit each field
  comfydock config --list               display current settings
  comfydock config FIELD VALUE          set a specific setting

Examples:
  comfydock config comfyui_path /home/user/ComfyUI
  comfydock config --advanced log_level DEBUG`,
	Args: cobra.MaximumNArgs(2),
	RunE: runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)

	configCmd.Flags().BoolVar(&configList, "list", false, "List the current configuration values")
	configCmd.Flags().BoolVar(&configShowAll, "all", false, "Include advanced and managed settings")
	configCmd.Flags().BoolVar(&configAdvanced, "advanced", false, "Show or modify advanced configuration options")
}

func runConfig(cmd *cobra.Command, args []string) error {
	resolver, _, logger, err := setup(config.Overrides{})
	if err != nil {
		return err
	}
	logger.Info("running 'comfydock config'")

	if configList {
		return listConfig(resolver)
	}
	if len(args) == 2 {
		if err := resolver.Set(args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("Set %q to %q\n", args[0], args[1])
		return nil
	}
	if len(args) == 1 {
		return fmt.Errorf("provide both a field and a value, or use --list")
	}
	return editConfig(resolver)
}

// listConfig renders the resolved configuration with the layer that supplied
// each value, which is the quickest way to see why an override is (or is
// not) taking effect.
func listConfig(resolver *config.Resolver) error {
	entries, err := resolver.List(config.Overrides{})
	if err != nil {
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Key", "Value", "Source", "Description"})
	for _, e := range entries {
		if e.Managed && !configShowAll {
			continue
		}
		if e.Advanced && !(configShowAll || configAdvanced) {
			continue
		}
		t.AppendRow(table.Row{e.Key, e.Value, e.Source, e.Help})
	}
	t.SetStyle(table.StyleLight)
	t.Render()
	return nil
}

// editConfig walks the editable fields interactively, keeping the current
// value when the user just presses Enter.
func editConfig(resolver *config.Resolver) error {
	entries, err := resolver.List(config.Overrides{})
	if err != nil {
		return err
	}

	fmt.Println("Configure ComfyDock settings (press Enter to keep current values):")
	for _, e := range entries {
		if e.Managed {
			continue
		}
		if e.Advanced && !(configShowAll || configAdvanced) {
			continue
		}
		if e.Help != "" {
			fmt.Printf("\n%s\n", e.Help)
		}
		prompt := promptui.Prompt{
			Label:   e.Key,
			Default: fmt.Sprintf("%v", e.Value),
		}
		value, err := prompt.Run()
		if err != nil {
			return err
		}
		if err := resolver.Set(e.Key, value); err != nil {
			return err
		}
	}
	fmt.Println("\nConfiguration updated successfully!")
	return nil
}
