package supervisor

import (
	"fmt"
	"time"

	"github.com/loykin/deskhost/internal/process"
)

// State is the supervisor's view of the backend lifecycle.
type State int

const (
	Stopped State = iota
	Starting
	Running
	Stopping
	Failed
)

var stateNames = [...]string{"stopped", "starting", "running", "stopping", "failed"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	for i, n := range stateNames {
		if n == string(b) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", b)
}

// Snapshot is an immutable copy of the supervisor status.
type Snapshot struct {
	State     State          `json:"state" yaml:"state"`
	Address   string         `json:"address" yaml:"address"`
	Error     string         `json:"error" yaml:"error"`
	PID       int            `json:"pid,omitempty" yaml:"pid,omitempty"`
	Mode      process.Mode   `json:"mode,omitempty" yaml:"mode,omitempty"`
	StartedAt time.Time      `json:"started_at,omitzero" yaml:"started_at,omitempty"`
	SessionID string         `json:"session_id,omitempty" yaml:"session_id,omitempty"`
	Restarts  int            `json:"restarts" yaml:"restarts"`
	Usage     *process.Usage `json:"usage,omitempty" yaml:"usage,omitempty"`
}
