package docker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"

	"github.com/akatzai/comfydock/types"
)

// Engine implements Runtime against a real Docker daemon.
type Engine struct {
	cli    *client.Client
	logger *slog.Logger
}

// NewEngine connects to the Docker daemon using the standard environment
// configuration (DOCKER_HOST etc.) with API version negotiation.
func NewEngine(logger *slog.Logger) (*Engine, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{cli: cli, logger: logger}, nil
}

// Ping verifies the daemon is reachable. Called once up front so the user
// gets a clear "is Docker running?" message instead of a mid-transition error.
func (e *Engine) Ping(ctx context.Context) error {
	if _, err := e.cli.Ping(ctx); err != nil {
		return fmt.Errorf("docker daemon is not reachable: %w", err)
	}
	return nil
}

func (e *Engine) Inspect(ctx context.Context, name string) (types.ServiceState, error) {
	info, err := e.cli.ContainerInspect(ctx, name)
	if client.IsErrNotFound(err) {
		return types.ServiceState{Status: types.StatusMissing}, nil
	}
	if err != nil {
		return types.ServiceState{}, fmt.Errorf("failed to inspect container %s: %w", name, err)
	}
	return stateFromStatus(info.State), nil
}

func (e *Engine) Owned(ctx context.Context, name string) (bool, error) {
	info, err := e.cli.ContainerInspect(ctx, name)
	if client.IsErrNotFound(err) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to inspect container %s: %w", name, err)
	}
	return info.Config != nil && info.Config.Labels[ManagedLabel] == "true", nil
}

// stateFromStatus maps the engine's container state onto the observed service
// state the lifecycle manager plans against.
func stateFromStatus(st *container.State) types.ServiceState {
	if st == nil {
		return types.ServiceState{Status: types.StatusStopped}
	}
	switch st.Status {
	case "running":
		return types.ServiceState{Status: types.StatusRunning}
	case "restarting":
		return types.ServiceState{Status: types.StatusStarting}
	case "dead":
		return types.ServiceState{Status: types.StatusFailed, Reason: st.Error}
	case "exited":
		if st.ExitCode != 0 {
			return types.ServiceState{
				Status: types.StatusFailed,
				Reason: fmt.Sprintf("exited with code %d", st.ExitCode),
			}
		}
		return types.ServiceState{Status: types.StatusStopped}
	default: // created, paused, removing
		return types.ServiceState{Status: types.StatusStopped}
	}
}

func (e *Engine) EnsureImage(ctx context.Context, ref string) error {
	images, err := e.cli.ImageList(ctx, image.ListOptions{
		Filters: filters.NewArgs(filters.Arg("reference", ref)),
	})
	if err == nil && len(images) > 0 {
		e.logger.Debug("image already present", "image", ref)
		return nil
	}

	e.logger.Info("pulling image", "image", ref)
	reader, err := e.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return &PullError{Ref: ref, Err: err}
	}
	defer reader.Close()
	// The pull only completes once the progress stream is drained.
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return &PullError{Ref: ref, Err: err}
	}
	e.logger.Info("image pulled", "image", ref)
	return nil
}

func (e *Engine) Create(ctx context.Context, opts CreateOptions) error {
	existing, err := e.cli.ContainerInspect(ctx, opts.Name)
	if err == nil {
		if existing.Config != nil && existing.Config.Labels[ManagedLabel] == "true" {
			e.logger.Debug("reusing existing managed container", "container", opts.Name)
			return nil
		}
		if opts.AllowForeign {
			e.logger.Warn("adopting container not created by comfydock", "container", opts.Name)
			return nil
		}
		return &ConflictError{Name: opts.Name}
	}
	if !client.IsErrNotFound(err) {
		return &CreateError{Name: opts.Name, Err: err}
	}

	containerPort := nat.Port(fmt.Sprintf("%d/tcp", opts.ContainerPort))
	exposedPorts := nat.PortSet{containerPort: struct{}{}}
	portBindings := nat.PortMap{
		containerPort: []nat.PortBinding{
			{HostIP: "0.0.0.0", HostPort: fmt.Sprintf("%d", opts.HostPort)},
		},
	}

	binds := make([]string, 0, len(opts.Mounts))
	for _, m := range opts.Mounts {
		binds = append(binds, m.HostPath+":"+m.ContainerPath)
	}

	e.logger.Info("creating container", "container", opts.Name, "image", opts.Image)
	_, err = e.cli.ContainerCreate(
		ctx,
		&container.Config{
			Image:        opts.Image,
			ExposedPorts: exposedPorts,
			Labels:       map[string]string{ManagedLabel: "true"},
			Tty:          false,
		},
		&container.HostConfig{
			PortBindings: portBindings,
			Binds:        binds,
		},
		nil, // NetworkingConfig
		nil, // Platform
		opts.Name,
	)
	if err != nil {
		return &CreateError{Name: opts.Name, Err: err}
	}
	return nil
}

func (e *Engine) Start(ctx context.Context, name string) error {
	info, err := e.cli.ContainerInspect(ctx, name)
	if err == nil && info.State != nil && info.State.Running {
		e.logger.Debug("container already running", "container", name)
		return nil
	}
	if err := e.cli.ContainerStart(ctx, name, container.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start container %s: %w", name, err)
	}
	e.logger.Info("container started", "container", name)
	return nil
}

func (e *Engine) Stop(ctx context.Context, name string, timeout time.Duration) error {
	secs := int(timeout.Seconds())
	err := e.cli.ContainerStop(ctx, name, container.StopOptions{Timeout: &secs})
	if err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("failed to stop container %s: %w", name, err)
	}
	if client.IsErrNotFound(err) {
		e.logger.Debug("container already absent on stop", "container", name)
		return nil
	}
	e.logger.Info("container stopped", "container", name)
	return nil
}

func (e *Engine) Remove(ctx context.Context, name string) error {
	err := e.cli.ContainerRemove(ctx, name, container.RemoveOptions{
		RemoveVolumes: false,
		Force:         true,
	})
	if err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("failed to remove container %s: %w", name, err)
	}
	e.logger.Info("container removed", "container", name)
	return nil
}
