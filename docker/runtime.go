// Package docker adapts the Docker Engine to the small capability surface the
// lifecycle manager needs: inspect, ensure-image, create, start, stop, remove
// for a single named container. Every operation is idempotent at this
// boundary so callers can retry without tracking what they already did.
package docker

import (
	"context"
	"fmt"
	"time"

	"github.com/akatzai/comfydock/types"
)

// ManagedLabel marks containers created by this tool. A same-name container
// without it belongs to someone else and is never reused or removed unless
// allow_multiple_containers permits adoption.
const ManagedLabel = "comfydock.managed"

// Mount is one host path bound into the container.
type Mount struct {
	HostPath      string
	ContainerPath string
}

// CreateOptions describes the container Create should ensure exists.
type CreateOptions struct {
	Name          string
	Image         string
	HostPort      int
	ContainerPort int
	Mounts        []Mount
	// AllowForeign permits adopting a same-name container that this tool did
	// not create, instead of failing with ConflictError.
	AllowForeign bool
}

// Runtime is the capability interface over the container engine. The single
// production implementation is Engine; tests substitute fakes.
type Runtime interface {
	// Inspect reports the observed state of the named container.
	// A container that does not exist is StatusMissing, not an error.
	Inspect(ctx context.Context, name string) (types.ServiceState, error)

	// Owned reports whether the named container carries this tool's
	// ownership label. A container that does not exist is owned: the name
	// is free, so there is nothing to conflict with.
	Owned(ctx context.Context, name string) (bool, error)

	// EnsureImage makes the image available locally, pulling it if needed.
	// Fails with PullError.
	EnsureImage(ctx context.Context, ref string) error

	// Create ensures a container with opts.Name exists. Reuses a container
	// this tool created earlier; fails with ConflictError when a foreign
	// container holds the name and opts.AllowForeign is false. Other
	// failures are CreateError.
	Create(ctx context.Context, opts CreateOptions) error

	// Start starts the named container. Starting an already-running
	// container is a no-op returning success.
	Start(ctx context.Context, name string) error

	// Stop stops the named container, waiting up to timeout for graceful
	// shutdown. Stopping an absent or stopped container is a no-op.
	Stop(ctx context.Context, name string, timeout time.Duration) error

	// Remove deletes the named container. Removing an absent container is a
	// no-op returning success.
	Remove(ctx context.Context, name string) error
}

// PullError reports a failed image pull.
type PullError struct {
	Ref string
	Err error
}

func (e *PullError) Error() string {
	return fmt.Sprintf("failed to pull image %s: %v", e.Ref, e.Err)
}

func (e *PullError) Unwrap() error { return e.Err }

// CreateError reports a failed container creation.
type CreateError struct {
	Name string
	Err  error
}

func (e *CreateError) Error() string {
	return fmt.Sprintf("failed to create container %s: %v", e.Name, e.Err)
}

func (e *CreateError) Unwrap() error { return e.Err }

// ConflictError reports that the container name is held by a container this
// tool does not own. The user must resolve it manually (remove or rename the
// container, or enable allow_multiple_containers).
type ConflictError struct {
	Name string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("container name %q is already in use by a container not managed by comfydock", e.Name)
}
