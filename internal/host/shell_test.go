//go:build !windows

package host

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/deskhost/internal/navigation"
	"github.com/loykin/deskhost/internal/process"
	"github.com/loykin/deskhost/internal/readiness"
	"github.com/loykin/deskhost/internal/supervisor"
)

type fakeRuntime struct {
	mu    sync.Mutex
	exits []int
}

func (r *fakeRuntime) Exit(code int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exits = append(r.exits, code)
}

func (r *fakeRuntime) calls() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.exits...)
}

type fakeAlerter struct {
	mu      sync.Mutex
	reasons []string
}

func (a *fakeAlerter) BackendFailed(reason string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reasons = append(a.reasons, reason)
	return nil
}

func (a *fakeAlerter) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.reasons)
}

type fixture struct {
	shell   *Shell
	bus     *Bus
	runtime *fakeRuntime
	alerter *fakeAlerter
	opened  *[]string
}

func newFixture(t *testing.T, command string, args ...string) fixture {
	t.Helper()
	return newFixtureWith(t, nil, command, args...)
}

func newFixtureWith(t *testing.T, mut func(*supervisor.Options, *Options), command string, args ...string) fixture {
	t.Helper()
	d, err := readiness.NewPatternDetector(`listening on (\S+)`)
	require.NoError(t, err)
	bus := NewBus()
	supOpts := supervisor.Options{
		Dev:        supervisor.Launch{Command: command, Args: args},
		Production: supervisor.Launch{Command: command, Args: args},
		StopGrace:  time.Second,
		KillWait:   time.Second,
		Readiness:  readiness.Config{Detectors: []readiness.Detector{d}, Timeout: 5 * time.Second},
		Notifier:   bus,
	}
	shOpts := Options{Bus: bus, DevMode: true}
	if mut != nil {
		mut(&supOpts, &shOpts)
	}
	sup := supervisor.New(supOpts)
	t.Cleanup(func() { _ = sup.Stop(context.Background()) })

	var opened []string
	guard := navigation.NewGuard(navigation.Policy{}, navigation.OpenerFunc(func(u string) error {
		opened = append(opened, u)
		return nil
	}), nil)
	rt := &fakeRuntime{}
	al := &fakeAlerter{}
	shOpts.Supervisor, shOpts.Guard, shOpts.Alerter, shOpts.Runtime = sup, guard, al, rt
	sh := NewShell(shOpts)
	return fixture{shell: sh, bus: bus, runtime: rt, alerter: al, opened: &opened}
}

func serveScript(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "backend.sh")
	require.NoError(t, os.WriteFile(p, []byte("#!/bin/sh\necho \"listening on 127.0.0.1:5173\"\nexec sleep 30\n"), 0o755))
	return p
}

func waitClosed(t *testing.T, ch <-chan struct{}, d time.Duration) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(d):
		t.Fatal("timed out waiting for channel")
	}
}

func TestBoot_StartsBackendInBackground(t *testing.T) {
	f := newFixture(t, "/bin/sh", serveScript(t))
	ctx := context.Background()

	events, cancel := f.bus.Subscribe(16)
	defer cancel()

	begin := time.Now()
	f.shell.Boot(ctx)
	assert.Less(t, time.Since(begin), 100*time.Millisecond)
	f.shell.Boot(ctx)

	waitClosed(t, f.shell.BootDone(), 5*time.Second)
	snap := f.shell.GetStatus()
	assert.Equal(t, supervisor.Running, snap.State)
	assert.Equal(t, process.ModeDev, snap.Mode)
	assert.Equal(t, "127.0.0.1:5173", snap.Address)

	var sawRunning bool
	for len(events) > 0 {
		m := <-events
		if s, ok := m.Payload.(supervisor.Snapshot); ok && m.Event == supervisor.EventStatus && s.State == supervisor.Running {
			sawRunning = true
		}
	}
	assert.True(t, sawRunning)
}

func TestBoot_FailureEmitsErrorAndAlerts(t *testing.T) {
	f := newFixture(t, filepath.Join(t.TempDir(), "missing-backend"))
	events, cancel := f.bus.Subscribe(16)
	defer cancel()

	f.shell.Boot(context.Background())
	waitClosed(t, f.shell.BootDone(), 5*time.Second)

	var msg string
	for len(events) > 0 {
		m := <-events
		if m.Event == supervisor.EventError {
			msg = m.Payload.(supervisor.ErrorPayload).Message
		}
	}
	assert.Contains(t, msg, "executable not found")
	assert.Equal(t, supervisor.Failed, f.shell.GetStatus().State)
	require.Eventually(t, func() bool { return f.alerter.count() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestShutdown_ExitAndDestroyAreApplyOnce(t *testing.T) {
	f := newFixture(t, "/bin/sh", serveScript(t))
	f.shell.Boot(context.Background())
	waitClosed(t, f.shell.BootDone(), 5*time.Second)
	pid := f.shell.GetStatus().PID
	require.True(t, process.Exists(pid))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); f.shell.Dispatch(Event{Kind: EventExitRequested}) }()
		go func() {
			defer wg.Done()
			f.shell.Dispatch(Event{Kind: EventWindowDestroyed, Window: "main", Last: true})
		}()
	}
	wg.Wait()
	waitClosed(t, f.shell.ShutdownDone(), 5*time.Second)

	assert.Equal(t, []int{0}, f.runtime.calls())
	assert.Equal(t, supervisor.Stopped, f.shell.GetStatus().State)
	assert.False(t, process.Exists(pid))
}

func TestShutdown_ThenBootStartsNothing(t *testing.T) {
	f := newFixture(t, "/bin/sh", serveScript(t))
	waitClosed(t, f.shell.Shutdown("test"), 5*time.Second)

	f.shell.Boot(context.Background())
	waitClosed(t, f.shell.BootDone(), 5*time.Second)
	snap := f.shell.GetStatus()
	assert.Equal(t, supervisor.Stopped, snap.State)
	assert.Zero(t, snap.PID)
	assert.Zero(t, f.alerter.count())
}

func TestShutdown_ThenRestartIsRefused(t *testing.T) {
	f := newFixture(t, "/bin/sh", serveScript(t))
	f.shell.Boot(context.Background())
	waitClosed(t, f.shell.BootDone(), 5*time.Second)
	pid := f.shell.GetStatus().PID
	require.True(t, process.Exists(pid))

	waitClosed(t, f.shell.Shutdown("test"), 5*time.Second)
	snap, err := f.shell.Restart(context.Background())
	require.ErrorIs(t, err, supervisor.ErrClosed)
	assert.Equal(t, supervisor.Stopped, snap.State)
	assert.Zero(t, f.shell.GetStatus().PID)
	assert.False(t, process.Exists(pid))
}

func TestShutdown_InterruptsBootReadinessWait(t *testing.T) {
	pidOut := filepath.Join(t.TempDir(), "child.pid")
	p := filepath.Join(t.TempDir(), "backend.sh")
	require.NoError(t, os.WriteFile(p, []byte("#!/bin/sh\necho $$ > \""+pidOut+"\"\nexec sleep 30\n"), 0o755))
	f := newFixtureWith(t, func(so *supervisor.Options, o *Options) {
		so.Readiness.Timeout = 4 * time.Second
		o.ShutdownTimeout = 500 * time.Millisecond
	}, "/bin/sh", p)

	f.shell.Boot(context.Background())
	require.Eventually(t, func() bool {
		_, err := os.Stat(pidOut)
		return err == nil && f.shell.GetStatus().State == supervisor.Starting
	}, 2*time.Second, 10*time.Millisecond)

	begin := time.Now()
	waitClosed(t, f.shell.Shutdown("test"), 5*time.Second)
	assert.Less(t, time.Since(begin), 2*time.Second)
	waitClosed(t, f.shell.BootDone(), time.Second)

	assert.Equal(t, supervisor.Stopped, f.shell.GetStatus().State)
	assert.Zero(t, f.alerter.count(), "an interrupted boot is not a backend failure")
	b, err := os.ReadFile(pidOut)
	require.NoError(t, err)
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	require.NoError(t, err)
	assert.False(t, process.Exists(pid))
}

func TestDispatch_NonLastWindowDoesNotShutdown(t *testing.T) {
	f := newFixture(t, "/bin/sh", serveScript(t))
	assert.False(t, f.shell.Dispatch(Event{Kind: EventWindowDestroyed, Window: "settings"}))
	select {
	case <-f.shell.ShutdownDone():
		t.Fatal("shutdown ran for a non-last window")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Empty(t, f.runtime.calls())
}

func TestDispatch_NavigationAndMenu(t *testing.T) {
	f := newFixture(t, "/bin/sh", serveScript(t))
	assert.True(t, f.shell.Dispatch(Event{Kind: EventNavigation, URL: "https://localhost:5173/"}))
	assert.False(t, f.shell.Dispatch(Event{Kind: EventNavigation, URL: "https://example.com"}))
	assert.Equal(t, []string{"https://example.com"}, *f.opened)

	assert.False(t, f.shell.Dispatch(Event{Kind: EventMenu, MenuID: "about"}))
	assert.False(t, f.shell.Dispatch(Event{Kind: EventKind(99)}))
}

func TestRestartCommand(t *testing.T) {
	f := newFixture(t, "/bin/sh", serveScript(t))
	f.shell.Boot(context.Background())
	waitClosed(t, f.shell.BootDone(), 5*time.Second)
	old := f.shell.GetStatus().PID

	snap, err := f.shell.Restart(context.Background())
	require.NoError(t, err)
	assert.Equal(t, supervisor.Running, snap.State)
	assert.Equal(t, process.ModeDev, snap.Mode)
	assert.NotEqual(t, old, snap.PID)
}

func TestHeadlessRuntime(t *testing.T) {
	rt := NewHeadlessRuntime(context.Background())
	rt.Exit(3)
	rt.Exit(0)
	waitClosed(t, rt.Context().Done(), time.Second)
	assert.Equal(t, 3, rt.ExitCode())
}
