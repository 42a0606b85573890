// Package cmd implements the comfydock command-line surface. Commands
// translate user input into calls on the config resolver and the lifecycle
// manager; all environment engineering lives below this package.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/akatzai/comfydock/config"
	"github.com/akatzai/comfydock/docker"
	"github.com/akatzai/comfydock/lifecycle"
	"github.com/akatzai/comfydock/logging"
	"github.com/akatzai/comfydock/server"
)

var rootCmd = &cobra.Command{
	Use:   "comfydock",
	Short: "Manage ComfyUI Docker environments",
	Long: `ComfyDock CLI - Manage ComfyUI Docker environments.

A tool for running and managing ComfyUI installations with Docker.`,
	SilenceUsage: true,
}

// SetVersion injects the build version from main.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute runs the CLI. Any error has already been printed by cobra; exit
// non-zero so scripts can tell success from failure.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "comfydock version %s\n" .Version}}`)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setup resolves configuration with the given CLI overrides and initializes
// the file log. Shared by every command.
func setup(overrides config.Overrides) (*config.Resolver, *config.Resolved, *slog.Logger, error) {
	resolver := config.NewResolver("", nil)
	cfg, err := resolver.Resolve(overrides)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("error loading configuration: %w", err)
	}
	logger := logging.Setup(resolver.Dir, cfg.LogLevel)
	resolver.Logger = logger
	return resolver, cfg, logger, nil
}

// newManager wires the two adapters under a lifecycle manager. Fails early
// with a readable message when the Docker daemon is unreachable.
func newManager(ctx context.Context, cfg *config.Resolved, dir string, logger *slog.Logger) (*lifecycle.Manager, error) {
	engine, err := docker.NewEngine(logger)
	if err != nil {
		return nil, err
	}
	if err := engine.Ping(ctx); err != nil {
		color.Red("ComfyDock requires Docker to be running.")
		fmt.Println("Please check that Docker is installed and the daemon is accessible,")
		fmt.Println("for example by running: docker --version")
		return nil, err
	}
	backend := server.NewProcess(cfg, dir, logger)
	return lifecycle.New(cfg, engine, backend, logger), nil
}
