//go:build !windows

package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/deskhost/pkg/client"
)

// syncBuffer guards the run output written by the host goroutine.
type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func writeRunConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	script := filepath.Join(dir, "backend.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\necho \"listening on 127.0.0.1:4000\"\nexec sleep 30\n"), 0o755))
	cfg := fmt.Sprintf(`
[backend]
stop_grace = "2s"
ready_timeout = "5s"

[backend.production]
command = %q

[backend.readiness]
pattern = 'listening on (\S+)'

[bridge]
listen = "127.0.0.1:0"
metrics = true

[history]
dsn = %q

[log]
level = "error"

[notify]
enabled = false
`, script, "sqlite://"+filepath.Join(dir, "history.db"))
	path := filepath.Join(dir, "deskhost.toml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	return path
}

func TestRunHost_BootStatusExit(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns a backend process")
	}
	path := writeRunConfig(t)
	out := &syncBuffer{}
	addrCh := make(chan string, 1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- runHost(context.Background(), RunFlags{ConfigPath: path}, out, func(addr string) { addrCh <- addr })
	}()

	var addr string
	select {
	case addr = <-addrCh:
	case err := <-errCh:
		t.Fatalf("run exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("bridge did not come up")
	}
	base := "http://" + addr
	c := client.New(client.Config{BaseURL: base, Timeout: 2 * time.Second})
	ctx := context.Background()

	var st client.Status
	require.Eventually(t, func() bool {
		var err error
		st, err = c.Status(ctx, false)
		return err == nil && st.State == "running"
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, "127.0.0.1:4000", st.Address)
	assert.Equal(t, "production", st.Mode)
	require.Positive(t, st.PID)

	allow, err := c.Navigate(ctx, "http://localhost:4000/")
	require.NoError(t, err)
	assert.True(t, allow)

	resp, err := http.Get(base + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Contains(t, string(body), "deskhost_backend_starts_total")

	require.Eventually(t, func() bool {
		evs, err := c.History(ctx, 10)
		return err == nil && len(evs) > 0 && evs[0].Type == "start"
	}, 3*time.Second, 20*time.Millisecond)

	require.NoError(t, c.Exit(ctx))
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not return after exit")
	}
	assert.ErrorIs(t, syscall.Kill(st.PID, 0), syscall.ESRCH, "backend must be gone after exit")
	assert.Contains(t, out.String(), "bridge listening on http://"+addr)
	assert.Contains(t, out.String(), "deskhost stopped")
}

func TestRunHost_BadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deskhost.toml")
	require.NoError(t, os.WriteFile(path, []byte("[backend]\nname = \"x\"\n"), 0o600))
	err := runHost(context.Background(), RunFlags{ConfigPath: path}, io.Discard, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error loading config")
}

func TestRunHost_ListenError(t *testing.T) {
	path := writeRunConfig(t)
	err := runHost(context.Background(), RunFlags{ConfigPath: path, Listen: "256.0.0.1:1"}, io.Discard, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to start bridge")
}
