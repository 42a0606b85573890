package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akatzai/comfydock/config"
	"github.com/akatzai/comfydock/docker"
	"github.com/akatzai/comfydock/types"
)

func testConfig() *config.Resolved {
	return &config.Resolved{
		ComfyUIPath:             "/home/user/ComfyUI",
		BackendPort:             5172,
		FrontendHostPort:        8000,
		FrontendContainerPort:   8000,
		FrontendImage:           "akatzai/comfydock-frontend",
		FrontendVersion:         "0.2.0",
		FrontendContainerName:   "comfydock-frontend",
		BackendHost:             "localhost",
		AllowMultipleContainers: false,
	}
}

// fakeRuntime scripts the frontend container and records every mutation.
type fakeRuntime struct {
	state     types.ServiceState
	mutations []string

	// foreign marks the scripted container as created outside this tool.
	foreign bool

	ensureErr error
	createErr error
	startErr  error
}

func (f *fakeRuntime) Inspect(ctx context.Context, name string) (types.ServiceState, error) {
	return f.state, nil
}

func (f *fakeRuntime) Owned(ctx context.Context, name string) (bool, error) {
	return !f.foreign, nil
}

func (f *fakeRuntime) EnsureImage(ctx context.Context, ref string) error {
	f.mutations = append(f.mutations, "ensure-image")
	return f.ensureErr
}

func (f *fakeRuntime) Create(ctx context.Context, opts docker.CreateOptions) error {
	f.mutations = append(f.mutations, "create")
	if f.createErr != nil {
		return f.createErr
	}
	f.state = types.ServiceState{Status: types.StatusStopped}
	return nil
}

func (f *fakeRuntime) Start(ctx context.Context, name string) error {
	f.mutations = append(f.mutations, "start")
	if f.startErr != nil {
		return f.startErr
	}
	f.state = types.ServiceState{Status: types.StatusRunning}
	return nil
}

func (f *fakeRuntime) Stop(ctx context.Context, name string, timeout time.Duration) error {
	f.mutations = append(f.mutations, "stop")
	if f.state.Status != types.StatusMissing {
		f.state = types.ServiceState{Status: types.StatusStopped}
	}
	return nil
}

func (f *fakeRuntime) Remove(ctx context.Context, name string) error {
	f.mutations = append(f.mutations, "remove")
	f.state = types.ServiceState{Status: types.StatusMissing}
	return nil
}

// fakeBackend scripts the backend process client.
type fakeBackend struct {
	state     types.ServiceState
	mutations []string

	startErr   error
	healthyErr error
	// healthyWaits makes WaitHealthy block until ctx is cancelled.
	healthyWaits bool
}

func (f *fakeBackend) Start(ctx context.Context) (bool, error) {
	// Mirrors the process client: a backend that is already up or coming
	// up is left alone and the call reports that nothing was spawned.
	if f.state.Status == types.StatusRunning || f.state.Status == types.StatusStarting {
		return false, nil
	}
	f.mutations = append(f.mutations, "start-backend")
	if f.startErr != nil {
		return false, f.startErr
	}
	f.state = types.ServiceState{Status: types.StatusStarting}
	return true, nil
}

func (f *fakeBackend) WaitHealthy(ctx context.Context, timeout time.Duration) error {
	if f.healthyWaits {
		<-ctx.Done()
		return ctx.Err()
	}
	if f.healthyErr != nil {
		return f.healthyErr
	}
	f.state = types.ServiceState{Status: types.StatusRunning}
	return nil
}

func (f *fakeBackend) Stop(ctx context.Context) error {
	f.mutations = append(f.mutations, "stop-backend")
	if f.state.Status != types.StatusMissing {
		f.state = types.ServiceState{Status: types.StatusStopped}
	}
	return nil
}

func (f *fakeBackend) State(ctx context.Context) (types.ServiceState, error) {
	return f.state, nil
}

func newTestManager(rt *fakeRuntime, be *fakeBackend) *Manager {
	return newTestManagerWith(testConfig(), rt, be)
}

func newTestManagerWith(cfg *config.Resolved, rt *fakeRuntime, be *fakeBackend) *Manager {
	m := New(cfg, rt, be, slog.Default())
	m.waitFrontendReady = func(ctx context.Context, timeout time.Duration) error {
		return nil
	}
	return m
}

func TestPlanBackendRunningFrontendMissing(t *testing.T) {
	cur := EnvState{
		Backend:  types.ServiceState{Status: types.StatusRunning},
		Frontend: types.ServiceState{Status: types.StatusMissing},
	}
	plan := Plan(cur, types.ModeUp)
	assert.Equal(t, []types.Action{
		types.ActionEnsureImage,
		types.ActionCreateFrontend,
		types.ActionStartFrontend,
		types.ActionWaitFrontendReady,
	}, plan)
}

func TestPlanUpAlreadySatisfied(t *testing.T) {
	cur := EnvState{
		Backend:  types.ServiceState{Status: types.StatusRunning},
		Frontend: types.ServiceState{Status: types.StatusRunning},
	}
	assert.Empty(t, Plan(cur, types.ModeUp))
}

func TestPlanUpSkipsCreateForStoppedContainer(t *testing.T) {
	cur := EnvState{
		Backend:  types.ServiceState{Status: types.StatusRunning},
		Frontend: types.ServiceState{Status: types.StatusStopped},
	}
	plan := Plan(cur, types.ModeUp)
	assert.NotContains(t, plan, types.ActionCreateFrontend)
	assert.Contains(t, plan, types.ActionStartFrontend)
}

func TestPlanBackendOnlyLeavesFrontendUntouched(t *testing.T) {
	cur := EnvState{
		Backend:  types.ServiceState{Status: types.StatusMissing},
		Frontend: types.ServiceState{Status: types.StatusMissing},
	}
	plan := Plan(cur, types.ModeBackendOnly)
	assert.Equal(t, []types.Action{
		types.ActionStartBackend,
		types.ActionWaitBackendHealthy,
	}, plan)
}

func TestPlanDownStopsFrontendBeforeBackend(t *testing.T) {
	cur := EnvState{
		Backend:  types.ServiceState{Status: types.StatusRunning},
		Frontend: types.ServiceState{Status: types.StatusRunning},
	}
	plan := Plan(cur, types.ModeDown)
	assert.Equal(t, []types.Action{
		types.ActionStopFrontend,
		types.ActionStopBackend,
	}, plan)
}

func TestTransitionUpIsIdempotent(t *testing.T) {
	rt := &fakeRuntime{state: types.ServiceState{Status: types.StatusMissing}}
	be := &fakeBackend{state: types.ServiceState{Status: types.StatusMissing}}
	m := newTestManager(rt, be)

	state, err := m.TransitionTo(context.Background(), types.ModeUp)
	require.NoError(t, err)
	assert.True(t, state.Backend.Running())
	assert.True(t, state.Frontend.Running())

	rt.mutations = nil
	be.mutations = nil

	state, err = m.TransitionTo(context.Background(), types.ModeUp)
	require.NoError(t, err)
	assert.True(t, state.Backend.Running())
	assert.Empty(t, rt.mutations, "second up must perform zero runtime mutations")
	assert.Empty(t, be.mutations, "second up must perform zero backend mutations")
}

func TestDownWithOnlyBackendRunningSkipsFrontend(t *testing.T) {
	rt := &fakeRuntime{state: types.ServiceState{Status: types.StatusMissing}}
	be := &fakeBackend{state: types.ServiceState{Status: types.StatusRunning}}
	m := newTestManager(rt, be)

	state, err := m.TransitionTo(context.Background(), types.ModeDown)
	require.NoError(t, err)
	assert.Empty(t, rt.mutations, "no frontend action may be attempted")
	assert.Equal(t, []string{"stop-backend"}, be.mutations)
	assert.Equal(t, types.StatusStopped, state.Backend.Status)
}

func TestRollbackRemovesContainerCreatedThisInvocation(t *testing.T) {
	rt := &fakeRuntime{
		state:    types.ServiceState{Status: types.StatusMissing},
		startErr: errors.New("port already allocated"),
	}
	be := &fakeBackend{state: types.ServiceState{Status: types.StatusRunning}}
	m := newTestManager(rt, be)

	_, err := m.TransitionTo(context.Background(), types.ModeUp)
	var terr *TransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, types.ActionStartFrontend, terr.Step)
	assert.Contains(t, terr.RolledBack, types.ActionCreateFrontend)
	assert.Contains(t, rt.mutations, "remove", "the container created in this invocation must be removed")
	assert.Equal(t, types.StatusMissing, rt.state.Status)
	assert.Empty(t, be.mutations, "an already-running backend is not part of this invocation and must not be touched")
}

func TestRollbackNeverRemovesPreexistingContainer(t *testing.T) {
	rt := &fakeRuntime{
		state:    types.ServiceState{Status: types.StatusStopped},
		startErr: errors.New("oci runtime error"),
	}
	be := &fakeBackend{state: types.ServiceState{Status: types.StatusRunning}}
	m := newTestManager(rt, be)

	_, err := m.TransitionTo(context.Background(), types.ModeUp)
	var terr *TransitionError
	require.ErrorAs(t, err, &terr)
	assert.NotContains(t, rt.mutations, "remove", "a pre-existing container must never be removed by rollback")
}

func TestCancelDuringWaitHealthyRollsBack(t *testing.T) {
	rt := &fakeRuntime{state: types.ServiceState{Status: types.StatusMissing}}
	be := &fakeBackend{
		state:        types.ServiceState{Status: types.StatusMissing},
		healthyWaits: true,
	}
	m := newTestManager(rt, be)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := m.TransitionTo(ctx, types.ModeUp)
	var terr *TransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, types.ActionWaitBackendHealthy, terr.Step)
	assert.ErrorIs(t, terr.Cause, context.Canceled)
	assert.Contains(t, be.mutations, "stop-backend", "the backend started in this invocation must be stopped")
	assert.Empty(t, rt.mutations, "no frontend action may run after cancellation")
}

func TestConflictErrorSurfacesDirectly(t *testing.T) {
	rt := &fakeRuntime{
		state:     types.ServiceState{Status: types.StatusMissing},
		createErr: &docker.ConflictError{Name: "comfydock-frontend"},
	}
	be := &fakeBackend{state: types.ServiceState{Status: types.StatusRunning}}
	m := newTestManager(rt, be)

	_, err := m.TransitionTo(context.Background(), types.ModeUp)
	var conflict *docker.ConflictError
	require.ErrorAs(t, err, &conflict)
	var terr *TransitionError
	assert.False(t, errors.As(err, &terr), "conflicts are fatal and not wrapped as transition failures")
	assert.NotContains(t, rt.mutations, "remove", "the foreign container must not be touched")
}

func TestUpFailsOnStoppedForeignContainer(t *testing.T) {
	rt := &fakeRuntime{
		state:   types.ServiceState{Status: types.StatusStopped},
		foreign: true,
	}
	be := &fakeBackend{state: types.ServiceState{Status: types.StatusRunning}}
	m := newTestManager(rt, be)

	_, err := m.TransitionTo(context.Background(), types.ModeUp)
	var conflict *docker.ConflictError
	require.ErrorAs(t, err, &conflict, "a stopped container we do not own must not be started")
	assert.Empty(t, rt.mutations, "the foreign container must not be touched")
	assert.Empty(t, be.mutations)
}

func TestUpFailsOnRunningForeignContainer(t *testing.T) {
	rt := &fakeRuntime{
		state:   types.ServiceState{Status: types.StatusRunning},
		foreign: true,
	}
	be := &fakeBackend{state: types.ServiceState{Status: types.StatusRunning}}
	m := newTestManager(rt, be)

	_, err := m.TransitionTo(context.Background(), types.ModeUp)
	var conflict *docker.ConflictError
	require.ErrorAs(t, err, &conflict, "a running container we do not own must not be reported as ours")
	assert.Empty(t, rt.mutations)
}

func TestUpAdoptsForeignContainerWhenAllowed(t *testing.T) {
	cfg := testConfig()
	cfg.AllowMultipleContainers = true
	rt := &fakeRuntime{
		state:   types.ServiceState{Status: types.StatusStopped},
		foreign: true,
	}
	be := &fakeBackend{state: types.ServiceState{Status: types.StatusRunning}}
	m := newTestManagerWith(cfg, rt, be)

	state, err := m.TransitionTo(context.Background(), types.ModeUp)
	require.NoError(t, err)
	assert.Contains(t, rt.mutations, "start")
	assert.True(t, state.Frontend.Running())
}

func TestBackendOnlyIgnoresForeignFrontend(t *testing.T) {
	rt := &fakeRuntime{
		state:   types.ServiceState{Status: types.StatusRunning},
		foreign: true,
	}
	be := &fakeBackend{state: types.ServiceState{Status: types.StatusMissing}}
	m := newTestManager(rt, be)

	_, err := m.TransitionTo(context.Background(), types.ModeBackendOnly)
	require.NoError(t, err, "backend-only leaves the frontend untouched, so its owner is irrelevant")
	assert.Empty(t, rt.mutations)
}

func TestRollbackSkipsBackendNotSpawnedHere(t *testing.T) {
	rt := &fakeRuntime{
		state:     types.ServiceState{Status: types.StatusMissing},
		ensureErr: errors.New("pull access denied"),
	}
	be := &fakeBackend{state: types.ServiceState{Status: types.StatusStarting}}
	m := newTestManager(rt, be)

	_, err := m.TransitionTo(context.Background(), types.ModeUp)
	var terr *TransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, types.ActionEnsureImage, terr.Step)
	assert.NotContains(t, be.mutations, "stop-backend",
		"a backend that was already coming up was not spawned here and must survive rollback")
	assert.NotContains(t, terr.RolledBack, types.ActionStartBackend)
}

func TestReturnedStateIsReobserved(t *testing.T) {
	rt := &fakeRuntime{state: types.ServiceState{Status: types.StatusStopped}}
	be := &fakeBackend{state: types.ServiceState{Status: types.StatusStopped}}
	m := newTestManager(rt, be)

	state, err := m.TransitionTo(context.Background(), types.ModeUp)
	require.NoError(t, err)
	assert.Equal(t, types.StatusRunning, state.Backend.Status)
	assert.Equal(t, types.StatusRunning, state.Frontend.Status)
}
