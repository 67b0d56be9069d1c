// Package host wires the backend supervisor to the window runtime: it boots
// the backend, answers frontend commands, routes navigation through the
// guard and runs the shutdown sequence exactly once.
package host

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/deskhost/internal/navigation"
	"github.com/loykin/deskhost/internal/supervisor"
)

// Alerter surfaces backend failures outside the webview.
type Alerter interface {
	BackendFailed(reason string) error
}

// Options wires a Shell. Supervisor and Bus are required.
type Options struct {
	Supervisor *supervisor.Supervisor
	Bus        *Bus
	Guard      *navigation.Guard
	Alerter    Alerter
	Runtime    Runtime
	DevMode    bool
	// ShutdownTimeout bounds the Stop issued by the shutdown sequence.
	ShutdownTimeout time.Duration
	Logger          *slog.Logger
}

type Shell struct {
	opts     Options
	sup      *supervisor.Supervisor
	bus      *Bus
	log      *slog.Logger
	handlers map[EventKind]Handler

	bootOnce     sync.Once
	bootDone     chan struct{}
	shutdownOnce sync.Once
	shutdownDone chan struct{}
}

func NewShell(opts Options) *Shell {
	if opts.Bus == nil {
		opts.Bus = NewBus()
	}
	if opts.Guard == nil {
		opts.Guard = navigation.NewGuard(navigation.Policy{}, nil, opts.Logger)
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = supervisor.DefaultStopGrace + supervisor.DefaultKillWait + time.Second
	}
	l := opts.Logger
	if l == nil {
		l = slog.Default()
	}
	s := &Shell{
		opts:         opts,
		sup:          opts.Supervisor,
		bus:          opts.Bus,
		log:          l.With("component", "host"),
		bootDone:     make(chan struct{}),
		shutdownDone: make(chan struct{}),
	}
	s.handlers = map[EventKind]Handler{
		EventExitRequested:   s.onExitRequested,
		EventWindowDestroyed: s.onWindowDestroyed,
		EventNavigation:      s.onNavigation,
		EventMenu:            s.onMenu,
	}
	return s
}

func (s *Shell) Bus() *Bus                          { return s.bus }
func (s *Shell) Supervisor() *supervisor.Supervisor { return s.sup }
func (s *Shell) DevMode() bool                      { return s.opts.DevMode }
func (s *Shell) Guard() *navigation.Guard           { return s.opts.Guard }

// Boot starts the backend on a background goroutine and returns at once.
// Failures reach the frontend as cli:error through the supervisor and the
// desktop through the Alerter.
func (s *Shell) Boot(ctx context.Context) {
	s.bootOnce.Do(func() {
		if s.opts.Alerter != nil {
			ch, cancel := s.bus.Subscribe(8)
			go s.forwardErrors(ctx, ch, cancel)
		}
		go func() {
			defer close(s.bootDone)
			if pid, err := s.sup.ReapStale(); err != nil {
				s.log.Warn("stale backend cleanup failed", "pid", pid, "error", err)
			}
			s.log.Info("starting backend", "dev", s.opts.DevMode)
			err := s.sup.Start(ctx, s.opts.DevMode)
			switch {
			case errors.Is(err, supervisor.ErrClosed):
				s.log.Info("backend start skipped, host is shutting down")
			case err != nil:
				s.log.Error("backend start failed", "error", err)
			}
		}()
	})
}

// BootDone is closed once the boot-time Start has returned.
func (s *Shell) BootDone() <-chan struct{} { return s.bootDone }

func (s *Shell) forwardErrors(ctx context.Context, ch <-chan Message, cancel func()) {
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdownDone:
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			if m.Event != supervisor.EventError {
				continue
			}
			if p, ok := m.Payload.(supervisor.ErrorPayload); ok {
				_ = s.opts.Alerter.BackendFailed(p.Message)
			}
		}
	}
}

// Dispatch routes a runtime event to its handler.
func (s *Shell) Dispatch(ev Event) bool {
	h, ok := s.handlers[ev.Kind]
	if !ok {
		s.log.Warn("unhandled runtime event", "kind", ev.Kind)
		return false
	}
	return h(ev)
}

// GetStatus answers the cli_get_status command.
func (s *Shell) GetStatus() supervisor.Snapshot { return s.sup.Status() }

// Restart answers the cli_restart command.
func (s *Shell) Restart(ctx context.Context) (supervisor.Snapshot, error) {
	snap, err := s.sup.Restart(ctx)
	if err != nil {
		s.log.Error("backend restart failed", "error", err)
	}
	return snap, err
}

// Shutdown closes the supervisor and exits the runtime. Closing interrupts
// an in-flight boot start and refuses later starts and restarts. Only the
// first call does anything; every call returns a channel closed when it
// has finished.
func (s *Shell) Shutdown(reason string) <-chan struct{} {
	s.shutdownOnce.Do(func() {
		go func() {
			defer close(s.shutdownDone)
			s.log.Info("shutting down", "reason", reason)
			ctx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
			defer cancel()
			if err := s.sup.Close(ctx); err != nil {
				s.log.Error("backend stop during shutdown failed", "error", err)
			}
			if s.opts.Runtime != nil {
				s.opts.Runtime.Exit(0)
			}
		}()
	})
	return s.shutdownDone
}

// ShutdownDone is closed once the shutdown sequence has finished.
func (s *Shell) ShutdownDone() <-chan struct{} { return s.shutdownDone }

func (s *Shell) onExitRequested(Event) bool {
	s.Shutdown(EventExitRequested.String())
	return true
}

func (s *Shell) onWindowDestroyed(ev Event) bool {
	if !ev.Last {
		s.log.Debug("window destroyed", "window", ev.Window)
		return false
	}
	s.Shutdown(EventWindowDestroyed.String())
	return true
}

func (s *Shell) onNavigation(ev Event) bool {
	return s.opts.Guard.Intercept(ev.URL)
}

func (s *Shell) onMenu(ev Event) bool {
	s.log.Debug("menu event", "id", ev.MenuID)
	return false
}
