package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/akatzai/comfydock/config"
	"github.com/akatzai/comfydock/types"
)

const (
	// DefaultBinary is the backend server executable looked up on PATH.
	DefaultBinary = "comfydock-server"

	pidFileName      = "comfydock-server.pid"
	defaultInterval  = 1 * time.Second
	gracefulStopWait = 10 * time.Second
)

// Process implements Client by spawning and signalling the backend binary.
type Process struct {
	Binary       string
	PollInterval time.Duration

	cfg    *config.Resolved
	dir    string // config dir holding the pidfile
	http   *http.Client
	logger *slog.Logger
}

// NewProcess builds a client for the backend described by cfg. The pidfile
// lives in dir alongside the rest of the per-user state.
func NewProcess(cfg *config.Resolved, dir string, logger *slog.Logger) *Process {
	if logger == nil {
		logger = slog.Default()
	}
	return &Process{
		Binary:       DefaultBinary,
		PollInterval: defaultInterval,
		cfg:          cfg,
		dir:          dir,
		http:         &http.Client{Timeout: 2 * time.Second},
		logger:       logger,
	}
}

func (p *Process) pidFile() string {
	return filepath.Join(p.dir, pidFileName)
}

func (p *Process) healthURL() string {
	return fmt.Sprintf("http://%s:%d/health", p.cfg.BackendHost, p.cfg.BackendPort)
}

// Start spawns the backend binary with the relevant config subset serialized
// as flags. Starting an already-running backend is a no-op reported as
// false, so the caller knows this invocation does not own the process.
func (p *Process) Start(ctx context.Context) (bool, error) {
	state, err := p.State(ctx)
	if err != nil {
		return false, err
	}
	if state.Status == types.StatusRunning || state.Status == types.StatusStarting {
		p.logger.Debug("backend already running", "pid_file", p.pidFile())
		return false, nil
	}

	args := []string{
		"--port", strconv.Itoa(p.cfg.BackendPort),
		"--comfyui-path", p.cfg.ComfyUIPath,
		"--db-file-path", p.cfg.DBFilePath,
		"--user-settings-file-path", p.cfg.UserSettingsFilePath,
		"--allow-multiple-containers", strconv.FormatBool(p.cfg.AllowMultipleContainers),
	}
	cmd := exec.Command(p.Binary, args...)
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return false, &SpawnError{Err: err}
	}
	pid := cmd.Process.Pid
	if err := p.writePid(pid); err != nil {
		// The process is up but untracked; kill it rather than leak it.
		_ = cmd.Process.Kill()
		return false, &SpawnError{Err: err}
	}
	// Detach so the CLI's own exit does not reap the server.
	if err := cmd.Process.Release(); err != nil {
		p.logger.Warn("failed to release backend process handle", "error", err)
	}
	p.logger.Info("backend server spawned", "pid", pid, "port", p.cfg.BackendPort)
	return true, nil
}

// WaitHealthy polls the /health endpoint until it answers or timeout elapses.
func (p *Process) WaitHealthy(ctx context.Context, timeout time.Duration) error {
	return PollURL(ctx, p.http, p.healthURL(), p.PollInterval, timeout)
}

// Stop signals the recorded pid with SIGTERM, waits briefly, then force-kills
// if the process is still alive. A missing pidfile or dead process is a
// no-op. The pidfile is removed only once the process is confirmed gone, so
// a still-running backend never becomes untracked.
func (p *Process) Stop(ctx context.Context) error {
	pid, err := p.readPid()
	if err != nil {
		return err
	}
	if pid == 0 {
		return nil
	}

	if !processAlive(pid) {
		p.logger.Debug("backend process already gone", "pid", pid)
		os.Remove(p.pidFile())
		return nil
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		p.logger.Warn("graceful backend shutdown failed, force killing",
			"pid", pid, "error", &ShutdownError{Err: err})
		return p.forceKill(proc, pid)
	}

	deadline := time.Now().Add(gracefulStopWait)
	for time.Now().Before(deadline) {
		if !processAlive(pid) {
			p.logger.Info("backend server stopped", "pid", pid)
			os.Remove(p.pidFile())
			return nil
		}
		select {
		case <-ctx.Done():
			return p.forceKill(proc, pid)
		case <-time.After(200 * time.Millisecond):
		}
	}
	p.logger.Warn("backend did not exit in time, force killing",
		"pid", pid, "error", &ShutdownError{Err: fmt.Errorf("no exit within %s", gracefulStopWait)})
	return p.forceKill(proc, pid)
}

func (p *Process) forceKill(proc *os.Process, pid int) error {
	if err := proc.Kill(); err != nil && processAlive(pid) {
		// Keep the pidfile: the backend is still up and a later stop must
		// be able to find it.
		return fmt.Errorf("failed to kill backend process %d: %w", pid, err)
	}
	p.logger.Info("backend server killed", "pid", pid)
	os.Remove(p.pidFile())
	return nil
}

// State derives the backend state from the pidfile and the health endpoint.
func (p *Process) State(ctx context.Context) (types.ServiceState, error) {
	pid, err := p.readPid()
	if err != nil {
		return types.ServiceState{}, err
	}
	if pid == 0 {
		return types.ServiceState{Status: types.StatusMissing}, nil
	}
	if !processAlive(pid) {
		// Stale pidfile from an unclean exit.
		return types.ServiceState{Status: types.StatusStopped}, nil
	}
	if probe(ctx, p.http, p.healthURL()) {
		return types.ServiceState{Status: types.StatusRunning}, nil
	}
	return types.ServiceState{Status: types.StatusStarting}, nil
}

func (p *Process) writePid(pid int) error {
	if err := os.MkdirAll(p.dir, 0o700); err != nil {
		return err
	}
	return os.WriteFile(p.pidFile(), []byte(strconv.Itoa(pid)+"\n"), 0o600)
}

// readPid returns the recorded pid, or 0 when no pidfile exists.
func (p *Process) readPid() (int, error) {
	raw, err := os.ReadFile(p.pidFile())
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read pidfile: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil || pid <= 0 {
		// Corrupt pidfile: treat the backend as untracked.
		return 0, nil
	}
	return pid, nil
}

// processAlive reports whether a process with the given pid exists.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
