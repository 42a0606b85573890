// Package lifecycle computes and executes the minimal sequence of container
// and process actions needed to move the ComfyDock environment (backend API
// server + frontend web UI container) to a requested target mode.
//
// The manager owns no state between invocations: every transition starts by
// observing the current state of both services fresh from the adapters, since
// the user may have manipulated containers outside this tool.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/akatzai/comfydock/config"
	"github.com/akatzai/comfydock/docker"
	"github.com/akatzai/comfydock/server"
	"github.com/akatzai/comfydock/types"
)

const (
	// DefaultHealthTimeout bounds the backend readiness wait.
	DefaultHealthTimeout = 60 * time.Second
	// DefaultReadyTimeout bounds the frontend readiness wait.
	DefaultReadyTimeout = 30 * time.Second
	// DefaultStopTimeout is the graceful stop window passed to the runtime.
	DefaultStopTimeout = 10 * time.Second
)

// EnvState is the observed state of the backend/frontend pair.
type EnvState struct {
	Backend  types.ServiceState
	Frontend types.ServiceState
}

// Manager drives transitions between observed environment state and a target
// mode through the two adapters.
type Manager struct {
	cfg     *config.Resolved
	runtime docker.Runtime
	backend server.Client
	logger  *slog.Logger

	HealthTimeout time.Duration
	ReadyTimeout  time.Duration
	StopTimeout   time.Duration

	// waitFrontendReady is swappable so tests can script readiness.
	waitFrontendReady func(ctx context.Context, timeout time.Duration) error
}

// New builds a manager over the given adapters.
func New(cfg *config.Resolved, rt docker.Runtime, backend server.Client, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		cfg:           cfg,
		runtime:       rt,
		backend:       backend,
		logger:        logger,
		HealthTimeout: DefaultHealthTimeout,
		ReadyTimeout:  DefaultReadyTimeout,
		StopTimeout:   DefaultStopTimeout,
	}
	m.waitFrontendReady = func(ctx context.Context, timeout time.Duration) error {
		url := fmt.Sprintf("http://localhost:%d/", cfg.FrontendHostPort)
		return server.PollURL(ctx, &http.Client{Timeout: 2 * time.Second}, url, time.Second, timeout)
	}
	return m
}

// Observe reads the current state of both services. Never cached.
func (m *Manager) Observe(ctx context.Context) (EnvState, error) {
	backendState, err := m.backend.State(ctx)
	if err != nil {
		return EnvState{}, fmt.Errorf("failed to observe backend: %w", err)
	}
	frontendState, err := m.runtime.Inspect(ctx, m.cfg.FrontendContainerName)
	if err != nil {
		return EnvState{}, fmt.Errorf("failed to observe frontend: %w", err)
	}
	return EnvState{Backend: backendState, Frontend: frontendState}, nil
}

// Plan computes the ordered action list that moves cur to mode. An already
// satisfied target produces an empty plan.
func Plan(cur EnvState, mode types.TargetMode) []types.Action {
	var plan []types.Action
	switch mode {
	case types.ModeUp, types.ModeBackendOnly:
		if !cur.Backend.Running() {
			plan = append(plan, types.ActionStartBackend, types.ActionWaitBackendHealthy)
		}
		if mode == types.ModeBackendOnly {
			return plan
		}
		if !cur.Frontend.Running() {
			plan = append(plan, types.ActionEnsureImage)
			if cur.Frontend.Status == types.StatusMissing {
				plan = append(plan, types.ActionCreateFrontend)
			}
			plan = append(plan, types.ActionStartFrontend, types.ActionWaitFrontendReady)
		}
	case types.ModeDown:
		// Frontend goes first so the UI never outlives its backend.
		if cur.Frontend.Status == types.StatusRunning || cur.Frontend.Status == types.StatusStarting {
			plan = append(plan, types.ActionStopFrontend)
		}
		if cur.Backend.Status == types.StatusRunning || cur.Backend.Status == types.StatusStarting {
			plan = append(plan, types.ActionStopBackend)
		}
	}
	return plan
}

// TransitionTo observes the environment, plans, and executes the plan
// strictly in sequence. On failure it rolls back this invocation's own
// actions in reverse order and reports one aggregated TransitionError. The
// returned state is re-observed after execution and is authoritative for
// what the caller reports, whether or not the transition succeeded.
func (m *Manager) TransitionTo(ctx context.Context, mode types.TargetMode) (EnvState, error) {
	cur, err := m.Observe(ctx)
	if err != nil {
		return EnvState{}, err
	}
	if mode == types.ModeUp {
		if err := m.checkFrontendOwnership(ctx, cur); err != nil {
			return cur, err
		}
	}
	plan := Plan(cur, mode)
	if len(plan) == 0 {
		m.logger.Info("environment already in target state", "mode", mode)
		return cur, nil
	}
	m.logger.Info("executing transition", "mode", mode, "plan", plan)

	var done []types.Action
	for _, act := range plan {
		mutated, err := m.apply(ctx, act)
		if err != nil {
			var conflict *docker.ConflictError
			if errors.As(err, &conflict) {
				// A foreign container holds our name. Nothing destructive
				// has happened to it and the user must resolve it manually.
				m.rollback(done)
				final, oerr := m.Observe(context.WithoutCancel(ctx))
				if oerr != nil {
					final = cur
				}
				return final, conflict
			}
			rolled := m.rollback(done)
			final, oerr := m.Observe(context.WithoutCancel(ctx))
			if oerr != nil {
				final = cur
			}
			return final, &TransitionError{Step: act, Cause: err, RolledBack: rolled}
		}
		if mutated {
			done = append(done, act)
		}
	}

	final, err := m.Observe(ctx)
	if err != nil {
		return EnvState{}, err
	}
	return final, nil
}

// checkFrontendOwnership fails with ConflictError before any action runs
// when the frontend name is held by a container this tool did not create.
// Catching it here, not just inside Create, covers the cases where the plan
// would skip Create: a stopped foreign container would be silently started
// and a running one silently reused.
func (m *Manager) checkFrontendOwnership(ctx context.Context, cur EnvState) error {
	if cur.Frontend.Status == types.StatusMissing || m.cfg.AllowMultipleContainers {
		return nil
	}
	owned, err := m.runtime.Owned(ctx, m.cfg.FrontendContainerName)
	if err != nil {
		return err
	}
	if !owned {
		return &docker.ConflictError{Name: m.cfg.FrontendContainerName}
	}
	return nil
}

// apply executes one action. The returned bool reports whether the action
// actually mutated anything; an action that turned out to be a no-op is not
// recorded for rollback, so rollback never touches a resource that was
// already in motion before this invocation.
func (m *Manager) apply(ctx context.Context, act types.Action) (bool, error) {
	m.logger.Debug("applying action", "action", act)
	switch act {
	case types.ActionStartBackend:
		return m.backend.Start(ctx)
	case types.ActionWaitBackendHealthy:
		return false, m.backend.WaitHealthy(ctx, m.HealthTimeout)
	case types.ActionEnsureImage:
		return true, m.runtime.EnsureImage(ctx, m.cfg.FrontendImageRef())
	case types.ActionCreateFrontend:
		return true, m.runtime.Create(ctx, docker.CreateOptions{
			Name:          m.cfg.FrontendContainerName,
			Image:         m.cfg.FrontendImageRef(),
			HostPort:      m.cfg.FrontendHostPort,
			ContainerPort: m.cfg.FrontendContainerPort,
			Mounts: []docker.Mount{
				{HostPath: m.cfg.ComfyUIPath, ContainerPath: "/app/ComfyUI"},
			},
			AllowForeign: m.cfg.AllowMultipleContainers,
		})
	case types.ActionStartFrontend:
		return true, m.runtime.Start(ctx, m.cfg.FrontendContainerName)
	case types.ActionWaitFrontendReady:
		return false, m.waitFrontendReady(ctx, m.ReadyTimeout)
	case types.ActionStopFrontend:
		return true, m.runtime.Stop(ctx, m.cfg.FrontendContainerName, m.StopTimeout)
	case types.ActionStopBackend:
		return true, m.backend.Stop(ctx)
	default:
		return false, fmt.Errorf("unknown action %q", act)
	}
}

// rollback undoes the completed actions of this invocation in reverse order.
// Only resources touched in this invocation are rolled back: a container is
// removed only if this invocation created it, stopped only if this
// invocation started it. Pulled images stay cached. Rollback runs on a
// detached context so a user interrupt that aborted the transition does not
// also abort the cleanup.
func (m *Manager) rollback(done []types.Action) []types.Action {
	ctx := context.Background()
	var rolled []types.Action
	for i := len(done) - 1; i >= 0; i-- {
		var err error
		switch done[i] {
		case types.ActionStartFrontend:
			err = m.runtime.Stop(ctx, m.cfg.FrontendContainerName, m.StopTimeout)
		case types.ActionCreateFrontend:
			err = m.runtime.Remove(ctx, m.cfg.FrontendContainerName)
		case types.ActionStartBackend:
			err = m.backend.Stop(ctx)
		default:
			continue // waits and image pulls have nothing to undo
		}
		if err != nil {
			m.logger.Warn("rollback step failed", "action", done[i], "error", err)
			continue
		}
		rolled = append(rolled, done[i])
	}
	return rolled
}
