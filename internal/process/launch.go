package process

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/loykin/deskhost/internal/logger"
)

// Mode selects which backend invocation is launched.
type Mode string

const (
	ModeProduction Mode = "production"
	ModeDev        Mode = "dev"
)

// ModeFor maps the dev flag to a Mode.
func ModeFor(dev bool) Mode {
	if dev {
		return ModeDev
	}
	return ModeProduction
}

func (m Mode) Dev() bool { return m == ModeDev }

// LaunchSpec is everything needed to spawn one backend instance.
// When Args is empty, Command is treated as a command line and split
// (or run through the platform shell when it contains shell syntax).
type LaunchSpec struct {
	Name    string            `json:"name"`
	Mode    Mode              `json:"mode"`
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	WorkDir string            `json:"work_dir,omitempty"`
	Env     []string          `json:"-"`
	PIDFile string            `json:"pid_file,omitempty"`
	Log     logger.FileConfig `json:"-"`
}

var ErrEmptyCommand = errors.New("backend command is empty")

func (s LaunchSpec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return errors.New("backend name is required")
	}
	if strings.TrimSpace(s.Command) == "" {
		return ErrEmptyCommand
	}
	switch s.Mode {
	case ModeDev, ModeProduction:
	default:
		return fmt.Errorf("invalid launch mode %q", s.Mode)
	}
	return nil
}

// BuildCommand constructs the *exec.Cmd for this spec. It does not set
// Dir, Env or process attributes; Spawn does.
func (s LaunchSpec) BuildCommand() *exec.Cmd {
	if len(s.Args) > 0 {
		// #nosec G204
		return exec.Command(s.Command, s.Args...)
	}
	cmdStr := strings.TrimSpace(s.Command)
	if _, script, ok := parseExplicitShell(cmdStr); ok {
		return getShellCommand(script)
	}
	if strings.ContainsAny(cmdStr, "|&;<>*?`$\"'(){}[]~") {
		return getShellCommand(cmdStr)
	}
	parts := strings.Fields(cmdStr)
	// #nosec G204
	return exec.Command(parts[0], parts[1:]...)
}

// Executable returns the program the spec launches, without arguments.
func (s LaunchSpec) Executable() string {
	if len(s.Args) > 0 {
		return s.Command
	}
	if f := strings.Fields(s.Command); len(f) > 0 {
		return f[0]
	}
	return ""
}

// parseExplicitShell detects "sh -c <script>" style prefixes so the script
// is not wrapped in a second shell. One pair of outer quotes is stripped.
func parseExplicitShell(cmdStr string) (string, string, bool) {
	trim := strings.TrimLeft(cmdStr, " \t")
	for _, p := range []string{"sh -c ", "/bin/sh -c ", "/usr/bin/sh -c "} {
		if !strings.HasPrefix(trim, p) {
			continue
		}
		after := trim[len(p):]
		if n := len(after); n >= 2 {
			if (after[0] == '\'' && after[n-1] == '\'') || (after[0] == '"' && after[n-1] == '"') {
				after = after[1 : n-1]
			}
		}
		return strings.Fields(p)[0], after, true
	}
	return "", "", false
}
