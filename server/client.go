// Package server drives the external comfydock-server backend process:
// spawning it, polling its readiness endpoint, and shutting it down. The pid
// of the spawned process is recorded on disk so a later `down` in a different
// process can find it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/akatzai/comfydock/types"
)

// Client is the capability interface to the backend server process.
type Client interface {
	// Start spawns the backend process and reports true, or reports false
	// without side effects if a backend is already up or coming up. Fails
	// with SpawnError. Callers use the report to decide whether a later
	// rollback owns the process.
	Start(ctx context.Context) (bool, error)

	// WaitHealthy polls the backend readiness endpoint until it answers,
	// the timeout elapses (ErrHealthTimeout), or ctx is cancelled.
	WaitHealthy(ctx context.Context, timeout time.Duration) error

	// Stop requests graceful shutdown and escalates to a forced kill if the
	// process does not exit in time. A failed graceful request is reported
	// as ShutdownError by the caller's logger, never as a fatal error.
	Stop(ctx context.Context) error

	// State reports the observed state of the backend process.
	State(ctx context.Context) (types.ServiceState, error)
}

// ErrHealthTimeout is returned when the readiness endpoint does not answer
// within the allotted time.
var ErrHealthTimeout = errors.New("timed out waiting for readiness")

// SpawnError reports a failure to launch the backend process.
type SpawnError struct {
	Err error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to spawn backend server: %v", e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// ShutdownError reports a failed graceful shutdown. It is non-fatal: the
// process is force-killed afterwards.
type ShutdownError struct {
	Err error
}

func (e *ShutdownError) Error() string {
	return fmt.Sprintf("graceful shutdown failed: %v", e.Err)
}

func (e *ShutdownError) Unwrap() error { return e.Err }

// PollURL polls url at the given interval until it answers with a 2xx status,
// the timeout elapses, or ctx is cancelled. It is the one blocking loop in
// the system and is shared by the backend health wait and the frontend
// readiness wait.
func PollURL(ctx context.Context, httpClient *http.Client, url string, interval, timeout time.Duration) error {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Second}
	}
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if probe(ctx, httpClient, url) {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %s after %s", ErrHealthTimeout, url, timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func probe(ctx context.Context, httpClient *http.Client, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		// Connection refused is expected while the service boots.
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
