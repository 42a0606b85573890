package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/akatzai/comfydock/config"
	"github.com/akatzai/comfydock/types"
)

var downCmd = &cobra.Command{
	Use:   "down",
	Short: "Stop the running ComfyDock server (backend + frontend)",
	Long: `Stop the running ComfyDock backend server and frontend container.

If the server was started in another terminal, 'down' stops that same
environment: the frontend container is found by name and the backend by its
recorded pid.`,
	Args: cobra.NoArgs,
	RunE: runDown,
}

func init() {
	rootCmd.AddCommand(downCmd)
}

func runDown(cmd *cobra.Command, args []string) error {
	resolver, cfg, logger, err := setup(config.Overrides{})
	if err != nil {
		return err
	}
	logger.Info("running 'comfydock down'")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mgr, err := newManager(ctx, cfg, resolver.Dir, logger)
	if err != nil {
		return err
	}
	state, err := mgr.TransitionTo(ctx, types.ModeDown)
	if err != nil {
		return err
	}
	logger.Info("transition complete", "backend", state.Backend, "frontend", state.Frontend)
	fmt.Println("Server has been stopped.")
	return nil
}
