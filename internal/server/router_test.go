package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/deskhost/internal/history"
	"github.com/loykin/deskhost/internal/history/sqlite"
	"github.com/loykin/deskhost/internal/host"
	"github.com/loykin/deskhost/internal/metrics"
	"github.com/loykin/deskhost/internal/navigation"
	"github.com/loykin/deskhost/internal/supervisor"
)

type exitRecorder struct{ code chan int }

func (e exitRecorder) Exit(code int) { e.code <- code }

func setupShell(t *testing.T, command string, args ...string) (*host.Shell, *[]string, exitRecorder) {
	t.Helper()
	bus := host.NewBus()
	sup := supervisor.New(supervisor.Options{
		Production: supervisor.Launch{Command: command, Args: args},
		Dev:        supervisor.Launch{Command: command, Args: args},
		StopGrace:  time.Second,
		KillWait:   time.Second,
		Notifier:   bus,
	})
	t.Cleanup(func() { _ = sup.Stop(context.Background()) })
	var opened []string
	guard := navigation.NewGuard(navigation.Policy{}, navigation.OpenerFunc(func(u string) error {
		opened = append(opened, u)
		return nil
	}), nil)
	rt := exitRecorder{code: make(chan int, 1)}
	return host.NewShell(host.Options{Supervisor: sup, Bus: bus, Guard: guard, Runtime: rt}), &opened, rt
}

func setupRouter(t *testing.T, base string, opts Options) (http.Handler, *host.Shell, *[]string, exitRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	shell, opened, rt := setupShell(t, filepath.Join(t.TempDir(), "missing-backend"))
	return NewRouter(shell, base, opts).Handler(), shell, opened, rt
}

func doReq(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestGetStatus_Stopped(t *testing.T) {
	h, _, _, _ := setupRouter(t, "/app", Options{})
	rec := doReq(t, h, http.MethodGet, "/app/invoke/cli_get_status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var snap supervisor.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, supervisor.Stopped, snap.State)
	assert.Contains(t, rec.Body.String(), `"state":"stopped"`)

	rec = doReq(t, h, http.MethodGet, "/app/invoke/cli_get_status?usage=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "usage")
}

func TestRestart_FailureIs500(t *testing.T) {
	h, shell, _, _ := setupRouter(t, "", Options{})
	rec := doReq(t, h, http.MethodPost, "/invoke/cli_restart", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var er errorResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &er))
	assert.Contains(t, er.Error, "backend spawn failed")
	assert.Equal(t, supervisor.Failed, shell.GetStatus().State)
}

func TestNavigate(t *testing.T) {
	h, _, opened, _ := setupRouter(t, "", Options{})

	rec := doReq(t, h, http.MethodPost, "/navigate", navigateReq{URL: "http://127.0.0.1:5173/app"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"allow":true}`, rec.Body.String())

	rec = doReq(t, h, http.MethodPost, "/navigate", navigateReq{URL: "https://example.com"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"allow":false}`, rec.Body.String())
	assert.Equal(t, []string{"https://example.com"}, *opened)

	rec = doReq(t, h, http.MethodPost, "/navigate", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWindowDestroyedAndExit(t *testing.T) {
	h, shell, _, rt := setupRouter(t, "", Options{})

	rec := doReq(t, h, http.MethodPost, "/window/destroyed", windowReq{Window: "../etc"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doReq(t, h, http.MethodPost, "/window/destroyed", windowReq{Window: "settings"})
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = doReq(t, h, http.MethodPost, "/window/destroyed", windowReq{Window: "main", Last: true})
	assert.Equal(t, http.StatusAccepted, rec.Code)
	rec = doReq(t, h, http.MethodPost, "/exit", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	select {
	case <-shell.ShutdownDone():
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown did not finish")
	}
	assert.Equal(t, 0, <-rt.code)
	assert.Len(t, rt.code, 0)
}

func TestMenu(t *testing.T) {
	h, _, _, _ := setupRouter(t, "", Options{})
	rec := doReq(t, h, http.MethodPost, "/menu", menuReq{ID: "about"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"handled":false}`, rec.Body.String())

	rec = doReq(t, h, http.MethodPost, "/menu", menuReq{ID: "a b"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func rawReq(h http.Handler, method, path, contentType, origin, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCrossOriginRejected(t *testing.T) {
	h, shell, opened, _ := setupRouter(t, "", Options{})

	// a simple (non-preflighted) form post from a foreign page
	rec := rawReq(h, http.MethodPost, "/navigate", "text/plain", "https://evil.example", `{"url":"smb://attacker.example/share/payload"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = rawReq(h, http.MethodPost, "/exit", "text/plain", "https://evil.example", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = rawReq(h, http.MethodPost, "/invoke/cli_restart", "application/json", "https://evil.example", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = rawReq(h, http.MethodGet, "/invoke/cli_get_status", "", "null", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// same origin but not JSON: would not have been preflighted
	rec = rawReq(h, http.MethodPost, "/navigate", "text/plain", "", `{"url":"smb://attacker.example/share/payload"}`)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)

	assert.Empty(t, *opened)
	select {
	case <-shell.ShutdownDone():
		t.Fatal("cross-origin exit must not shut down")
	default:
	}
}

func TestInternalOriginsAllowed(t *testing.T) {
	h, _, _, _ := setupRouter(t, "", Options{})
	for _, origin := range []string{"tauri://localhost", "http://localhost:5173", "http://127.0.0.1:7315"} {
		rec := rawReq(h, http.MethodPost, "/navigate", "application/json; charset=utf-8", origin, `{"url":"http://localhost:5173/"}`)
		assert.Equal(t, http.StatusOK, rec.Code, origin)
		assert.JSONEq(t, `{"allow":true}`, rec.Body.String())
	}
	rec := rawReq(h, http.MethodGet, "/healthz", "", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRestart_AfterShutdownIs503(t *testing.T) {
	h, shell, _, _ := setupRouter(t, "", Options{})
	<-shell.Shutdown("test")
	rec := doReq(t, h, http.MethodPost, "/invoke/cli_restart", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), supervisor.ErrClosed.Error())
}

func TestHistoryEndpoint(t *testing.T) {
	h, _, _, _ := setupRouter(t, "", Options{})
	assert.Equal(t, http.StatusNotFound, doReq(t, h, http.MethodGet, "/history", nil).Code)

	sink, err := sqlite.New(":memory:")
	require.NoError(t, err)
	rec := history.NewRecorder(nil, sink)
	t.Cleanup(func() { _ = rec.Close() })
	require.NoError(t, sink.Send(context.Background(), history.Event{Type: history.EventStart, OccurredAt: time.Now(), Record: history.Record{Name: "backend", Mode: "dev", State: "running", PID: 7}}))

	h, _, _, _ = setupRouter(t, "", Options{History: rec})
	resp := doReq(t, h, http.MethodGet, "/history?limit=5", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var evs []history.Event
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &evs))
	require.Len(t, evs, 1)
	assert.Equal(t, 7, evs[0].Record.PID)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, metrics.Register(reg))
	metrics.RecordTransition("stopped", "starting")

	h, _, _, _ := setupRouter(t, "", Options{Metrics: metrics.HandlerFor(reg)})
	rec := doReq(t, h, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "deskhost_backend_state_transitions_total")

	h, _, _, _ = setupRouter(t, "", Options{})
	assert.Equal(t, http.StatusNotFound, doReq(t, h, http.MethodGet, "/metrics", nil).Code)
}

func TestEvents_StreamsStatusAndErrors(t *testing.T) {
	gin.SetMode(gin.TestMode)
	shell, _, _ := setupShell(t, filepath.Join(t.TempDir(), "missing-backend"))
	srv := httptest.NewServer(NewRouter(shell, "", Options{}).Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	rd := bufio.NewReader(resp.Body)
	readEvent := func() string {
		for {
			line, err := rd.ReadString('\n')
			require.NoError(t, err)
			if strings.HasPrefix(line, "event:") {
				return strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			}
		}
	}
	assert.Equal(t, supervisor.EventStatus, readEvent())

	require.Eventually(t, func() bool { return shell.Bus().Subscribers() == 1 }, time.Second, 5*time.Millisecond)
	shell.Boot(ctx)

	seen := map[string]bool{}
	for !seen[supervisor.EventError] {
		seen[readEvent()] = true
	}
	assert.True(t, seen[supervisor.EventStatus])
}

func TestNewServer_BindsAndShutsDown(t *testing.T) {
	gin.SetMode(gin.TestMode)
	shell, _, _ := setupShell(t, filepath.Join(t.TempDir(), "missing-backend"))
	s, err := NewServer("127.0.0.1:0", NewRouter(shell, "", Options{}))
	require.NoError(t, err)

	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, s.Shutdown(context.Background()))
	_, open := <-s.Err()
	assert.False(t, open)

	_, err = NewServer(s.Addr()+"x", NewRouter(shell, "", Options{}))
	assert.Error(t, err)
}
