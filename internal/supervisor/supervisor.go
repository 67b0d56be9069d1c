// Package supervisor owns the single backend process of a desktop session:
// it starts it, tracks its health, stops it on shutdown and restarts it on
// request. A *Supervisor is shared by reference; all methods are safe for
// concurrent use.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loykin/deskhost/internal/env"
	"github.com/loykin/deskhost/internal/history"
	"github.com/loykin/deskhost/internal/logger"
	"github.com/loykin/deskhost/internal/metrics"
	"github.com/loykin/deskhost/internal/process"
	"github.com/loykin/deskhost/internal/readiness"
)

const (
	DefaultName         = "backend"
	DefaultStopGrace    = 5 * time.Second
	DefaultKillWait     = 2 * time.Second
	DefaultReadyTimeout = 10 * time.Second
)

// Event names delivered to the Notifier.
const (
	EventError  = "cli:error"
	EventStatus = "cli:status"
)

// Notifier receives supervisor events. Emit must not block.
type Notifier interface {
	Emit(event string, payload any)
}

// ErrorPayload is the payload of EventError.
type ErrorPayload struct {
	Message string `json:"message"`
}

// Launch is the invocation for one mode.
type Launch struct {
	Command string   `mapstructure:"command" json:"command"`
	Args    []string `mapstructure:"args" json:"args,omitempty"`
	Env     []string `mapstructure:"env" json:"env,omitempty"`
}

// Options configures a Supervisor. Zero durations take the package defaults.
type Options struct {
	Name       string
	Dev        Launch
	Production Launch
	WorkDir    string
	Env        *env.Env
	PIDFile    string
	Log        logger.FileConfig

	StopGrace    time.Duration
	KillWait     time.Duration
	ReadyTimeout time.Duration
	Readiness    readiness.Config

	// DefaultDev is the mode Restart uses before the first Start.
	DefaultDev bool

	Notifier Notifier
	History  *history.Recorder
	Logger   *slog.Logger
}

// Supervisor drives the backend through its lifecycle. opMu serializes
// transitions; the status store is read without it. lifeMu guards the
// close latch and the cancel func of an in-flight start, so Close can
// interrupt a readiness wait without taking opMu.
type Supervisor struct {
	opts Options
	log  *slog.Logger

	lifeMu      sync.Mutex
	closed      bool
	startCancel context.CancelFunc

	opMu     sync.Mutex
	handle   *process.Handle
	gen      uint64
	mode     process.Mode
	retiring bool

	store statusStore
}

func New(opts Options) *Supervisor {
	if opts.Name == "" {
		opts.Name = DefaultName
	}
	if opts.StopGrace <= 0 {
		opts.StopGrace = DefaultStopGrace
	}
	if opts.KillWait <= 0 {
		opts.KillWait = DefaultKillWait
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = DefaultReadyTimeout
	}
	if opts.Readiness.Timeout <= 0 {
		opts.Readiness.Timeout = opts.ReadyTimeout
	}
	if opts.Env == nil {
		opts.Env = env.New()
	}
	l := opts.Logger
	if l == nil {
		l = slog.Default()
	}
	return &Supervisor{
		opts: opts,
		log:  l.With("component", "supervisor", "backend", opts.Name),
		mode: process.ModeFor(opts.DefaultDev),
	}
}

// Status returns the current snapshot. It never waits for a transition.
func (s *Supervisor) Status() Snapshot { return s.store.get() }

// Start launches the backend in the mode selected by devMode.
func (s *Supervisor) Start(ctx context.Context, devMode bool) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.start(ctx, process.ModeFor(devMode))
}

// Stop terminates the tracked backend, if any. It is idempotent.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.stop(ctx)
}

// Close cancels an in-flight Start, stops the backend and latches: every
// later Start or Restart returns ErrClosed. It is the exit-path stop.
func (s *Supervisor) Close(ctx context.Context) error {
	s.lifeMu.Lock()
	s.closed = true
	if s.startCancel != nil {
		s.startCancel()
	}
	s.lifeMu.Unlock()

	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.stop(ctx)
}

// Closed reports whether Close has been called.
func (s *Supervisor) Closed() bool {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	return s.closed
}

// Restart stops and starts the backend under one transition lock, reusing
// the mode of the last Start.
func (s *Supervisor) Restart(ctx context.Context) (Snapshot, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if s.Closed() {
		return s.store.get(), ErrClosed
	}

	metrics.IncRestart()
	s.log.Info("restart requested", "mode", s.mode)
	if err := s.stop(ctx); err != nil {
		return s.store.get(), err
	}
	if err := s.start(ctx, s.mode); err != nil {
		return s.store.get(), err
	}
	snap := s.transition(Running, func(sn *Snapshot) { sn.Restarts++ })
	s.record(history.EventRestart, snap, 0)
	return snap, nil
}

// Usage samples CPU and memory of the running backend.
func (s *Supervisor) Usage(ctx context.Context) (process.Usage, error) {
	snap := s.store.get()
	if snap.State != Running || snap.PID == 0 {
		return process.Usage{}, ErrProcessNotFound
	}
	if !process.Exists(snap.PID) {
		return process.Usage{}, ErrProcessNotFound
	}
	return process.SampleUsage(ctx, snap.PID)
}

// StatusWithUsage is Status plus a resource sample when the backend runs.
// Sampling failures leave Usage nil.
func (s *Supervisor) StatusWithUsage(ctx context.Context) Snapshot {
	snap := s.Status()
	if snap.State == Running {
		if u, err := s.Usage(ctx); err == nil {
			snap.Usage = &u
		}
	}
	return snap
}

// ReapStale kills a backend left running by a previous host session, as
// recorded in the PID file. It returns the killed PID or 0.
func (s *Supervisor) ReapStale() (int, error) {
	if s.opts.PIDFile == "" {
		return 0, nil
	}
	pid, err := process.KillStale(s.opts.PIDFile, s.opts.StopGrace)
	if pid != 0 {
		s.log.Warn("killed stale backend from previous session", "pid", pid)
	}
	return pid, err
}

func (s *Supervisor) start(ctx context.Context, mode process.Mode) error {
	if s.handle != nil {
		return ErrAlreadyRunning
	}
	if st := s.store.get().State; st != Stopped && st != Failed {
		return ErrAlreadyRunning
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.lifeMu.Lock()
	if s.closed {
		s.lifeMu.Unlock()
		return ErrClosed
	}
	s.startCancel = cancel
	s.lifeMu.Unlock()
	defer func() {
		s.lifeMu.Lock()
		s.startCancel = nil
		s.lifeMu.Unlock()
	}()

	s.mode = mode
	session := uuid.NewString()
	s.transition(Starting, func(sn *Snapshot) {
		sn.Error = ""
		sn.Address = ""
		sn.PID = 0
		sn.Mode = mode
		sn.SessionID = session
		sn.StartedAt = time.Time{}
	})

	spec, err := s.launchSpec(mode)
	if err != nil {
		return s.fail(mode, &SpawnError{Reason: "invalid launch configuration", Err: err}, 0)
	}

	waiter := readiness.NewWaiter(s.opts.Readiness)
	began := time.Now()
	h, err := process.Spawn(spec, process.SpawnOptions{Stdout: waiter.Writer(), WaitDelay: s.opts.KillWait})
	if err != nil {
		return s.fail(mode, &SpawnError{Reason: spawnReason(err), Err: err}, 0)
	}
	s.log.Info("backend spawned", "pid", h.PID(), "mode", mode, "path", h.Path())

	addr, err := waiter.Wait(ctx, h.Done())
	if err == nil && s.Closed() {
		err = ErrClosed
	}
	if err != nil {
		if !h.Exited() {
			if _, terr := h.Terminate(s.opts.StopGrace, s.opts.KillWait); terr != nil {
				s.log.Error("could not stop backend that failed readiness", "pid", h.PID(), "error", terr)
			}
		}
		if s.Closed() {
			// interrupted by Close: not a backend failure
			s.transition(Stopped, func(sn *Snapshot) {
				sn.PID = 0
				sn.Address = ""
			})
			s.log.Info("backend start abandoned on close", "pid", h.PID())
			return ErrClosed
		}
		if errors.Is(err, readiness.ErrExited) {
			err = fmt.Errorf("%w: %s", err, exitDescription(h))
		}
		return s.fail(mode, &SpawnError{Reason: readinessReason(err), Err: err}, h.PID())
	}
	h.SetAddress(addr)

	s.gen++
	s.handle = h
	s.retiring = false
	go s.monitor(h, s.gen)

	metrics.IncStart(string(mode))
	metrics.ObserveReadyDuration(string(mode), time.Since(began).Seconds())
	snap := s.transition(Running, func(sn *Snapshot) {
		sn.PID = h.PID()
		sn.Address = addr
		sn.StartedAt = h.StartedAt()
	})
	s.log.Info("backend running", "pid", h.PID(), "address", addr)
	s.record(history.EventStart, snap, 0)
	return nil
}

func (s *Supervisor) fail(mode process.Mode, serr *SpawnError, pid int) error {
	metrics.IncStartFailure(string(mode), serr.Reason)
	snap := s.transition(Failed, func(sn *Snapshot) {
		sn.Error = serr.Error()
		sn.PID = 0
		sn.Address = ""
	})
	s.log.Error("backend failed to start", "mode", mode, "reason", serr.Reason, "error", serr.Err)
	s.emit(EventError, ErrorPayload{Message: serr.Error()})
	rec := snap
	rec.PID = pid
	s.record(history.EventFail, rec, 0)
	return serr
}

func (s *Supervisor) stop(ctx context.Context) error {
	h := s.handle
	if h == nil {
		if st := s.store.get().State; st != Stopped {
			// keeps the last error of a Failed state
			s.transition(Stopped, nil)
		}
		return nil
	}

	s.retiring = true
	s.transition(Stopping, nil)
	grace := s.opts.StopGrace
	if dl, ok := ctx.Deadline(); ok {
		if left := time.Until(dl); left < grace {
			grace = max(left, 0)
		}
	}

	forced, err := h.Terminate(grace, s.opts.KillWait)
	if err != nil {
		msg := fmt.Sprintf("%v: pid %d", ErrTerminationTimedOut, h.PID())
		snap := s.transition(Failed, func(sn *Snapshot) { sn.Error = msg })
		s.log.Error("backend survived forced kill", "pid", h.PID(), "error", err)
		s.record(history.EventFail, snap, 0)
		return fmt.Errorf("%w: pid %d", ErrTerminationTimedOut, h.PID())
	}

	how := "graceful"
	if forced {
		how = "forced"
		s.log.Warn("backend ignored termination request, killed", "pid", h.PID(), "grace", grace, "error", ErrTerminationTimedOut)
	}
	metrics.IncStop(how)

	s.handle = nil
	s.gen++
	s.retiring = false
	snap := s.transition(Stopped, func(sn *Snapshot) {
		sn.Error = ""
		sn.Address = ""
		sn.PID = 0
	})
	s.log.Info("backend stopped", "pid", h.PID(), "how", how)
	rec := snap
	rec.PID = h.PID()
	s.record(history.EventStop, rec, h.Info().ExitCode)
	return nil
}

// monitor waits for the reaper and reports exits nobody asked for. The
// generation check discards handles already retired by stop or start.
func (s *Supervisor) monitor(h *process.Handle, gen uint64) {
	<-h.Done()

	s.opMu.Lock()
	defer s.opMu.Unlock()
	if s.gen != gen || s.handle != h {
		return
	}
	s.handle = nil
	s.gen++
	if s.retiring {
		// reaped after a Stop that had given up on it
		s.retiring = false
		s.transition(Stopped, nil)
		return
	}

	msg := "backend exited unexpectedly: " + exitDescription(h)
	metrics.IncUnexpectedExit()
	metrics.IncStop("exited")
	snap := s.transition(Failed, func(sn *Snapshot) {
		sn.Error = msg
		sn.PID = 0
		sn.Address = ""
	})
	s.log.Error("backend exited unexpectedly", "pid", h.PID(), "error", h.ExitErr())
	s.emit(EventError, ErrorPayload{Message: msg})
	rec := snap
	rec.PID = h.PID()
	s.record(history.EventExit, rec, h.Info().ExitCode)
}

func (s *Supervisor) launchSpec(mode process.Mode) (process.LaunchSpec, error) {
	l := s.opts.Production
	if mode.Dev() {
		l = s.opts.Dev
	}
	vars, err := s.opts.Env.Merge(l.Env)
	if err != nil {
		return process.LaunchSpec{}, err
	}
	spec := process.LaunchSpec{
		Name:    s.opts.Name,
		Mode:    mode,
		Command: l.Command,
		Args:    l.Args,
		WorkDir: s.opts.WorkDir,
		Env:     vars,
		PIDFile: s.opts.PIDFile,
		Log:     s.opts.Log,
	}
	return spec, spec.Validate()
}

func (s *Supervisor) transition(to State, fn func(*Snapshot)) Snapshot {
	from, snap := s.store.set(to, fn)
	if from != to {
		metrics.RecordTransition(from.String(), to.String())
		s.log.Debug("state transition", "from", from, "to", to)
	}
	s.emit(EventStatus, snap)
	return snap
}

func (s *Supervisor) emit(event string, payload any) {
	if s.opts.Notifier != nil {
		s.opts.Notifier.Emit(event, payload)
	}
}

func (s *Supervisor) record(t history.EventType, snap Snapshot, exitCode int) {
	if !s.opts.History.Enabled() {
		return
	}
	s.opts.History.Record(history.Event{
		Type: t,
		Record: history.Record{
			Name:      s.opts.Name,
			SessionID: snap.SessionID,
			PID:       snap.PID,
			Mode:      string(snap.Mode),
			State:     snap.State.String(),
			Address:   snap.Address,
			Error:     snap.Error,
			ExitCode:  exitCode,
		},
	})
}

func exitDescription(h *process.Handle) string {
	if err := h.ExitErr(); err != nil {
		return err.Error()
	}
	return fmt.Sprintf("exit code %d", h.Info().ExitCode)
}

func readinessReason(err error) string {
	switch {
	case errors.Is(err, readiness.ErrExited):
		return "exited before ready"
	case errors.Is(err, readiness.ErrTimeout):
		return "readiness timeout"
	case errors.Is(err, context.Canceled):
		return "start canceled"
	default:
		return "readiness error"
	}
}
