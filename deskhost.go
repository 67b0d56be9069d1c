// Package deskhost embeds the desktop host in a Go program: it supervises the
// CLI backend, answers the frontend commands and guards webview navigation.
// Window toolkits plug in through Runtime and by forwarding their events to
// Host.Dispatch.
package deskhost

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/deskhost/internal/config"
	"github.com/loykin/deskhost/internal/history"
	"github.com/loykin/deskhost/internal/history/factory"
	"github.com/loykin/deskhost/internal/host"
	"github.com/loykin/deskhost/internal/metrics"
	"github.com/loykin/deskhost/internal/navigation"
	"github.com/loykin/deskhost/internal/notify"
	"github.com/loykin/deskhost/internal/server"
	"github.com/loykin/deskhost/internal/supervisor"
)

// Re-export core types for external consumers.

type Config = config.Config

type Snapshot = supervisor.Snapshot

type State = supervisor.State

const (
	StateStopped  = supervisor.Stopped
	StateStarting = supervisor.Starting
	StateRunning  = supervisor.Running
	StateStopping = supervisor.Stopping
	StateFailed   = supervisor.Failed
)

type Event = host.Event

const (
	EventExitRequested   = host.EventExitRequested
	EventWindowDestroyed = host.EventWindowDestroyed
	EventNavigation      = host.EventNavigation
	EventMenu            = host.EventMenu
)

// Message is a frontend event (cli:status, cli:error).
type Message = host.Message

type Runtime = host.Runtime

type Opener = navigation.Opener

var (
	ErrSpawnFailed         = supervisor.ErrSpawnFailed
	ErrAlreadyRunning      = supervisor.ErrAlreadyRunning
	ErrTerminationTimedOut = supervisor.ErrTerminationTimedOut
	ErrClosed              = supervisor.ErrClosed
	ErrExternalOpenFailed  = navigation.ErrExternalOpenFailed
)

// LoadConfig reads a TOML or YAML config file with DESKHOST_* overrides.
func LoadConfig(path string) (*Config, error) { return config.Load(path) }

// IsDevMode reports whether the development backend invocation is selected
// by the build tag or the DESKHOST_DEV environment variable.
func IsDevMode() bool { return config.IsDevMode() }

// AllowInternal applies the default navigation policy to u.
func AllowInternal(u *url.URL) bool { return navigation.AllowInternal(u) }

// NewHeadlessRuntime returns a Runtime whose Exit cancels a context, for
// hosts without a native event loop.
func NewHeadlessRuntime(parent context.Context) *host.HeadlessRuntime {
	return host.NewHeadlessRuntime(parent)
}

// Options tunes NewHost. Zero values select the config-driven defaults.
type Options struct {
	// DevMode forces the development invocation; otherwise IsDevMode decides.
	DevMode bool
	Runtime Runtime
	// Opener replaces the system browser for external URLs.
	Opener Opener
	Logger *slog.Logger
	// Registerer receives the backend metrics when the bridge exposes them.
	Registerer prometheus.Registerer
}

// Host is a fully wired shell around one supervised backend.
type Host struct {
	cfg   *Config
	shell *host.Shell
	rec   *history.Recorder
	log   *slog.Logger
	dev   bool
}

// NewHost wires the supervisor, history, navigation guard and desktop
// alerts from cfg. The backend is not started until Boot.
func NewHost(cfg *Config, opts Options) (*Host, error) {
	if cfg == nil {
		return nil, fmt.Errorf("deskhost: nil config")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	dev := opts.DevMode || config.IsDevMode()

	rec := history.NewRecorder(log)
	if cfg.History.DSN != "" {
		sink, err := factory.NewSinkFromDSN(cfg.History.DSN)
		if err != nil {
			return nil, fmt.Errorf("history sink: %w", err)
		}
		rec = history.NewRecorder(log, sink)
	}

	bus := host.NewBus()
	supOpts, err := cfg.SupervisorOptions(dev, bus, rec, log)
	if err != nil {
		_ = rec.Close()
		return nil, err
	}
	opener := opts.Opener
	if opener == nil {
		opener = navigation.BrowserOpener{}
	}
	shell := host.NewShell(host.Options{
		Supervisor: supervisor.New(supOpts),
		Bus:        bus,
		Guard:      navigation.NewGuard(cfg.Navigation, opener, log),
		Alerter:    notify.New(cfg.Notify, log),
		Runtime:    opts.Runtime,
		DevMode:    dev,
		Logger:     log,
	})
	if cfg.Bridge.Metrics {
		reg := opts.Registerer
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		if err := metrics.Register(reg); err != nil {
			log.Warn("failed to register metrics", "error", err)
		}
	}
	return &Host{cfg: cfg, shell: shell, rec: rec, log: log, dev: dev}, nil
}

// Boot starts the backend in the background.
func (h *Host) Boot(ctx context.Context) { h.shell.Boot(ctx) }

// BootDone is closed once the boot-time start attempt has returned.
func (h *Host) BootDone() <-chan struct{} { return h.shell.BootDone() }

func (h *Host) DevMode() bool { return h.dev }

// Dispatch forwards a window runtime event. For navigation it reports
// whether the webview may load the URL.
func (h *Host) Dispatch(ev Event) bool { return h.shell.Dispatch(ev) }

// Status answers cli_get_status.
func (h *Host) Status() Snapshot { return h.shell.GetStatus() }

// Restart answers cli_restart.
func (h *Host) Restart(ctx context.Context) (Snapshot, error) { return h.shell.Restart(ctx) }

// Subscribe delivers frontend events until cancel is called.
func (h *Host) Subscribe(buffer int) (<-chan Message, func()) { return h.shell.Bus().Subscribe(buffer) }

// Shutdown runs the shutdown sequence once; the channel closes when done.
func (h *Host) Shutdown(reason string) <-chan struct{} { return h.shell.Shutdown(reason) }

func (h *Host) ShutdownDone() <-chan struct{} { return h.shell.ShutdownDone() }

// Handler returns the loopback bridge mounted at the configured base path.
func (h *Host) Handler() http.Handler { return h.router().Handler() }

// Serve binds the bridge on the configured listen address.
func (h *Host) Serve() (*server.Server, error) {
	return server.NewServer(h.cfg.Bridge.Listen, h.router())
}

func (h *Host) router() *server.Router {
	var mh http.Handler
	if h.cfg.Bridge.Metrics {
		mh = metrics.Handler()
	}
	return server.NewRouter(h.shell, h.cfg.Bridge.BasePath, server.Options{Metrics: mh, History: h.rec})
}

// Close flushes and releases the history sinks. Call after Shutdown.
func (h *Host) Close() error { return h.rec.Close() }
