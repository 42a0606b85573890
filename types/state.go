package types

import "fmt"

// Status represents the observed state of one managed service.
type Status string

const (
	// Service lifecycle states, observed fresh from the adapters on every call.
	StatusMissing  Status = "missing"  // No container/process exists
	StatusStopped  Status = "stopped"  // Exists but is not running
	StatusStarting Status = "starting" // In process of starting, not yet ready
	StatusRunning  Status = "running"  // Running and ready
	StatusFailed   Status = "failed"   // Exited or errored; see Reason
)

// ServiceState is the observed state of a service plus a failure reason when
// the status is StatusFailed.
type ServiceState struct {
	Status Status
	Reason string // populated only for StatusFailed
}

// Running reports whether the service is up and ready.
func (s ServiceState) Running() bool {
	return s.Status == StatusRunning
}

func (s ServiceState) String() string {
	if s.Status == StatusFailed && s.Reason != "" {
		return fmt.Sprintf("%s (%s)", s.Status, s.Reason)
	}
	return string(s.Status)
}

// TargetMode is the environment state requested by a single CLI invocation.
type TargetMode string

const (
	ModeUp          TargetMode = "up"           // Backend and frontend both running
	ModeBackendOnly TargetMode = "backend-only" // Backend running, frontend untouched
	ModeDown        TargetMode = "down"         // Both stopped
)

// Action is a single step in a transition plan.
type Action string

const (
	ActionStartBackend       Action = "start-backend"
	ActionWaitBackendHealthy Action = "wait-backend-healthy"
	ActionEnsureImage        Action = "ensure-image"
	ActionCreateFrontend     Action = "create-frontend"
	ActionStartFrontend      Action = "start-frontend"
	ActionWaitFrontendReady  Action = "wait-frontend-ready"
	ActionStopFrontend       Action = "stop-frontend"
	ActionStopBackend        Action = "stop-backend"
)
