package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/pkg/browser"
	"github.com/spf13/cobra"

	"github.com/akatzai/comfydock/config"
	"github.com/akatzai/comfydock/types"
	"github.com/akatzai/comfydock/update"
)

var (
	upBackendOnly     bool
	upComfyUIPath     string
	upDBFilePath      string
	upUserSettings    string
	upBackendPort     int
	upFrontendPort    int
	upAllowContainers bool
)

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Start the ComfyDock server and the Docker-based frontend",
	Long: `Start the ComfyDock backend server and the Docker frontend container.

Configuration is loaded from ~/.comfydock/config.json (created with defaults
if needed). With --backend, only the backend server is started and the
frontend is left untouched.`,
	Args: cobra.NoArgs,
	RunE: runUp,
}

func init() {
	rootCmd.AddCommand(upCmd)

	upCmd.Flags().BoolVar(&upBackendOnly, "backend", false, "Start only the backend server without the frontend")
	upCmd.Flags().StringVar(&upComfyUIPath, "comfyui-path", "", "Path to ComfyUI installation")
	upCmd.Flags().StringVar(&upDBFilePath, "db-file-path", "", "Path to environments database file")
	upCmd.Flags().StringVar(&upUserSettings, "user-settings-file-path", "", "Path to user settings file")
	upCmd.Flags().IntVar(&upBackendPort, "backend-port", 0, "Backend server port")
	upCmd.Flags().IntVar(&upFrontendPort, "frontend-host-port", 0, "Frontend host port")
	upCmd.Flags().BoolVar(&upAllowContainers, "allow-multiple-containers", false, "Allow running multiple containers")
}

// openBrowser is swappable so tests can observe the launch without a display.
var openBrowser = browser.OpenURL

// openFrontend opens the frontend UI in the default browser once it is
// ready. Failure is logged, never fatal: the URL is already printed.
func openFrontend(logger *slog.Logger, port int) {
	url := fmt.Sprintf("http://localhost:%d", port)
	if err := openBrowser(url); err != nil {
		logger.Warn("could not open browser", "url", url, "error", err)
	}
}

// upOverrides collects the sparse CLI layer: only flags the user actually set.
func upOverrides(cmd *cobra.Command) config.Overrides {
	overrides := config.Overrides{}
	if cmd.Flags().Changed("comfyui-path") {
		overrides[config.KeyComfyUIPath] = upComfyUIPath
	}
	if cmd.Flags().Changed("db-file-path") {
		overrides[config.KeyDBFilePath] = upDBFilePath
	}
	if cmd.Flags().Changed("user-settings-file-path") {
		overrides[config.KeyUserSettingsFilePath] = upUserSettings
	}
	if cmd.Flags().Changed("backend-port") {
		overrides[config.KeyBackendPort] = upBackendPort
	}
	if cmd.Flags().Changed("frontend-host-port") {
		overrides[config.KeyFrontendHostPort] = upFrontendPort
	}
	if cmd.Flags().Changed("allow-multiple-containers") {
		overrides[config.KeyAllowMultipleContainers] = upAllowContainers
	}
	return overrides
}

func runUp(cmd *cobra.Command, args []string) error {
	resolver, cfg, logger, err := setup(upOverrides(cmd))
	if err != nil {
		return err
	}
	logger.Info("running 'comfydock up'", "backend_only", upBackendOnly)

	// Interrupt cancels the in-flight transition; shutdown below runs on a
	// fresh context so cleanup is never cut short.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Best effort: an unreachable registry must not block startup.
	checker := update.NewChecker(resolver, logger)
	updateAvailable, latestVersion, err := checker.Check(ctx, cfg, false)
	if err != nil {
		logger.Warn("update check failed", "error", err)
	}

	mgr, err := newManager(ctx, cfg, resolver.Dir, logger)
	if err != nil {
		return err
	}

	mode := types.ModeUp
	statusMessage := "ComfyDock is now running!"
	if upBackendOnly {
		mode = types.ModeBackendOnly
		statusMessage = "ComfyDock backend is now running!"
	}

	spin := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	spin.Suffix = " Starting ComfyDock..."
	spin.Start()
	state, err := mgr.TransitionTo(ctx, mode)
	spin.Stop()
	if err != nil {
		return err
	}
	logger.Info("transition complete", "backend", state.Backend, "frontend", state.Frontend)

	if updateAvailable {
		color.Yellow("\nUpdate available: frontend v%s (current v%s)", latestVersion, cfg.FrontendVersion)
	}

	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen, color.Bold)
	fmt.Println()
	green.Printf("  %s\n", statusMessage)
	cyan.Printf("  Backend API:  http://%s:%d\n", cfg.BackendHost, cfg.BackendPort)
	if !upBackendOnly {
		cyan.Printf("  Frontend UI:  http://localhost:%d\n", cfg.FrontendHostPort)
	}
	color.Yellow("  Press Ctrl+C here to stop the server at any time.")
	fmt.Println()

	if !upBackendOnly {
		openFrontend(logger, cfg.FrontendHostPort)
	}

	<-ctx.Done()
	stop()

	color.Yellow("\nComfyDock is shutting down...")
	logger.Info("interrupt received, transitioning down")
	if _, err := mgr.TransitionTo(context.Background(), types.ModeDown); err != nil {
		return err
	}
	fmt.Println("Server has been stopped.")
	return nil
}
