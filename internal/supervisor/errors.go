package supervisor

import (
	"errors"
	"fmt"
)

// ErrPortInUse is returned when the bind probe finds the requested port
// taken. Nothing was spawned; callers can surface this as a conflict.
var ErrPortInUse = errors.New("port in use")

// SpawnError wraps a failure to start the service child process.
type SpawnError struct {
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn service command %q: %v", e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// HealthTimeoutError reports an exhausted startup window. The child was
// already terminated when this is returned.
type HealthTimeoutError struct {
	Attempts int
	LastErr  error
}

func (e *HealthTimeoutError) Error() string {
	if e.LastErr != nil {
		return fmt.Sprintf("service not healthy after %d probes: %v", e.Attempts, e.LastErr)
	}
	return fmt.Sprintf("service not healthy after %d probes", e.Attempts)
}

func (e *HealthTimeoutError) Unwrap() error {
	return e.LastErr
}
