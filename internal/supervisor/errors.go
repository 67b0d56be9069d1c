package supervisor

import (
	"errors"
	"os"
	"os/exec"

	"github.com/loykin/deskhost/internal/process"
)

var (
	// ErrSpawnFailed matches every *SpawnError.
	ErrSpawnFailed = errors.New("backend spawn failed")
	// ErrAlreadyRunning is returned by Start when a backend is tracked.
	ErrAlreadyRunning = errors.New("backend already running")
	// ErrClosed reports a Start or Restart after the supervisor was closed.
	ErrClosed = errors.New("supervisor is closed")
	// ErrTerminationTimedOut reports a backend that survived the forced kill.
	ErrTerminationTimedOut = errors.New("backend termination timed out")
	// ErrProcessNotFound reports that the OS no longer knows the backend.
	ErrProcessNotFound = process.ErrNotFound
)

// SpawnError describes why a Start did not reach Running.
type SpawnError struct {
	Reason string
	Err    error
}

func (e *SpawnError) Error() string {
	if e.Err == nil {
		return ErrSpawnFailed.Error() + ": " + e.Reason
	}
	return ErrSpawnFailed.Error() + ": " + e.Reason + ": " + e.Err.Error()
}

func (e *SpawnError) Unwrap() error { return e.Err }

func (e *SpawnError) Is(target error) bool { return target == ErrSpawnFailed }

// spawnReason classifies an error from process.Spawn into a short cause
// used for the snapshot and the start_failures metric label.
func spawnReason(err error) string {
	switch {
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, os.ErrNotExist):
		return "executable not found"
	case errors.Is(err, os.ErrPermission):
		return "permission denied"
	case errors.Is(err, process.ErrEmptyCommand):
		return "no command configured"
	default:
		return "spawn error"
	}
}
