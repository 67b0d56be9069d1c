package process

import (
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"
)

var (
	// ErrNotFound reports that the OS no longer knows the process.
	ErrNotFound = errors.New("process not found")
	// ErrNotReaped reports that the child was still not reaped after a forced kill.
	ErrNotReaped = errors.New("process did not exit after forced kill")
)

// DefaultWaitDelay bounds how long reaping waits for output pipes held open
// by grandchildren after the backend itself has exited.
const DefaultWaitDelay = 2 * time.Second

// SpawnOptions carries extra output observers for a launch.
type SpawnOptions struct {
	Stdout    io.Writer
	Stderr    io.Writer
	WaitDelay time.Duration
}

// Handle owns one spawned backend process. A single goroutine started by
// Spawn calls cmd.Wait; everyone else observes the exit through Done.
type Handle struct {
	spec      LaunchSpec
	cmd       *exec.Cmd
	pid       int
	startedAt time.Time
	done      chan struct{}

	mu       sync.Mutex
	address  string
	exitErr  error
	exitCode int
	exitedAt time.Time
	closers  []io.Closer
}

// Info is a copy of the handle's metadata.
type Info struct {
	PID       int       `json:"pid"`
	Mode      Mode      `json:"mode"`
	Path      string    `json:"path"`
	WorkDir   string    `json:"work_dir,omitempty"`
	Address   string    `json:"address,omitempty"`
	StartedAt time.Time `json:"started_at"`
	Exited    bool      `json:"exited"`
	ExitCode  int       `json:"exit_code"`
	ExitedAt  time.Time `json:"exited_at,omitempty"`
}

// Spawn starts the backend described by spec. On success the process is
// running and being reaped in the background.
func Spawn(spec LaunchSpec, opts SpawnOptions) (*Handle, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	cmd := spec.BuildCommand()
	cmd.Dir = spec.WorkDir
	if spec.Env != nil {
		cmd.Env = spec.Env
	}
	configureSysProcAttr(cmd)
	cmd.WaitDelay = opts.WaitDelay
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = DefaultWaitDelay
	}

	outLog, errLog, err := spec.Log.Writers(spec.Name)
	if err != nil {
		return nil, fmt.Errorf("backend log writers: %w", err)
	}
	h := &Handle{spec: spec, cmd: cmd, done: make(chan struct{})}
	if outLog != nil {
		h.closers = append(h.closers, outLog)
	}
	if errLog != nil {
		h.closers = append(h.closers, errLog)
	}
	cmd.Stdout = joinWriters(outLog, opts.Stdout)
	cmd.Stderr = joinWriters(errLog, opts.Stderr)

	if err := cmd.Start(); err != nil {
		h.closeWriters()
		return nil, err
	}
	h.pid = cmd.Process.Pid
	h.startedAt = time.Now()
	if spec.PIDFile != "" {
		// best-effort; the PID file only serves stale-process cleanup
		_ = WritePIDFile(spec.PIDFile, PIDRecord{PID: h.pid, Executable: spec.Executable(), Mode: spec.Mode, StartedAt: h.startedAt})
	}
	go h.reap()
	return h, nil
}

func (h *Handle) reap() {
	err := h.cmd.Wait()
	code := -1
	if h.cmd.ProcessState != nil {
		code = h.cmd.ProcessState.ExitCode()
	}
	h.mu.Lock()
	h.exitErr = err
	h.exitCode = code
	h.exitedAt = time.Now()
	h.mu.Unlock()
	h.closeWriters()
	if h.spec.PIDFile != "" {
		RemovePIDFile(h.spec.PIDFile, h.pid)
	}
	close(h.done)
}

func (h *Handle) closeWriters() {
	h.mu.Lock()
	cs := h.closers
	h.closers = nil
	h.mu.Unlock()
	for _, c := range cs {
		_ = c.Close()
	}
}

func (h *Handle) PID() int             { return h.pid }
func (h *Handle) Mode() Mode           { return h.spec.Mode }
func (h *Handle) Path() string         { return h.cmd.Path }
func (h *Handle) StartedAt() time.Time { return h.startedAt }

// Done is closed once the process has exited and been reaped.
func (h *Handle) Done() <-chan struct{} { return h.done }

func (h *Handle) Exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// ExitErr returns the error from cmd.Wait; nil while running or on a clean exit.
func (h *Handle) ExitErr() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitErr
}

// SetAddress records the address readiness observed; it is reported by Info.
func (h *Handle) SetAddress(addr string) {
	h.mu.Lock()
	h.address = addr
	h.mu.Unlock()
}

func (h *Handle) Info() Info {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Info{
		PID:       h.pid,
		Mode:      h.spec.Mode,
		Path:      h.cmd.Path,
		WorkDir:   h.spec.WorkDir,
		Address:   h.address,
		StartedAt: h.startedAt,
		Exited:    !h.exitedAt.IsZero(),
		ExitCode:  h.exitCode,
		ExitedAt:  h.exitedAt,
	}
}

// Terminate stops the process: a graceful request first, then after grace a
// forced kill, then up to killWait for the reaper. forced reports whether
// the kill was needed. A nil error means the process is gone and reaped.
func (h *Handle) Terminate(grace, killWait time.Duration) (forced bool, err error) {
	if h.Exited() {
		return false, nil
	}
	if err := terminate(h.pid); err != nil && !errors.Is(err, ErrNotFound) {
		// Could not deliver the request; go straight to the kill.
		grace = 0
	}

	t := time.NewTimer(grace)
	defer t.Stop()
	select {
	case <-h.done:
		return false, nil
	case <-t.C:
	}

	if err := forceKill(h.pid); err != nil && !errors.Is(err, ErrNotFound) {
		_ = h.cmd.Process.Kill()
	}
	k := time.NewTimer(killWait)
	defer k.Stop()
	select {
	case <-h.done:
		return true, nil
	case <-k.C:
		return true, ErrNotReaped
	}
}

func joinWriters(ws ...io.Writer) io.Writer {
	var out []io.Writer
	for _, w := range ws {
		if w != nil {
			out = append(out, w)
		}
	}
	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	default:
		return io.MultiWriter(out...)
	}
}
