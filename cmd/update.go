package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/akatzai/comfydock/config"
	"github.com/akatzai/comfydock/update"
)

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Check for frontend updates",
	Long: `Check Docker Hub for a newer ComfyDock frontend image than the one
currently pinned, regardless of when the last automatic check ran.`,
	Args: cobra.NoArgs,
	RunE: runUpdate,
}

func init() {
	rootCmd.AddCommand(updateCmd)
}

func runUpdate(cmd *cobra.Command, args []string) error {
	resolver, cfg, logger, err := setup(config.Overrides{})
	if err != nil {
		return err
	}
	logger.Info("running 'comfydock update'")

	fmt.Println("Checking for ComfyDock frontend updates...")
	checker := update.NewChecker(resolver, logger)
	available, latest, err := checker.Check(cmd.Context(), cfg, true)
	if err != nil {
		return err
	}
	if available {
		color.Green("\nA new frontend version is available!")
		fmt.Printf("Current version: %s\n", cfg.FrontendVersion)
		fmt.Printf("Latest version:  %s\n", latest)
		fmt.Println("\nRestart with 'comfydock up' after updating to pick it up.")
	} else {
		color.Green("\nYou're using the latest frontend version (v%s).", cfg.FrontendVersion)
	}
	return nil
}
