package lifecycle

import (
	"fmt"
	"strings"

	"github.com/akatzai/comfydock/types"
)

// TransitionError aggregates a failed transition into a single error naming
// the step that failed, its underlying cause, and the actions that were
// rolled back. Adapter-native errors never reach the CLI unwrapped.
type TransitionError struct {
	Step       types.Action
	Cause      error
	RolledBack []types.Action
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("transition failed at %s: %v", e.Step, e.Cause)
	if len(e.RolledBack) > 0 {
		names := make([]string, len(e.RolledBack))
		for i, a := range e.RolledBack {
			names[i] = string(a)
		}
		msg += fmt.Sprintf(" (rolled back: %s)", strings.Join(names, ", "))
	}
	return msg
}

func (e *TransitionError) Unwrap() error { return e.Cause }
