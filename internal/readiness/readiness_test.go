package readiness

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPatternDetector(t *testing.T) {
	d, err := NewPatternDetector(`listening on (\S+)`)
	require.NoError(t, err)

	addr, ok := d.Observe("2026/10/16 server listening on 127.0.0.1:5173")
	assert.True(t, ok)
	assert.Equal(t, "127.0.0.1:5173", addr)

	_, ok = d.Observe("booting")
	assert.False(t, ok)

	bare, err := NewPatternDetector(`^ready$`)
	require.NoError(t, err)
	addr, ok = bare.Observe("ready")
	assert.True(t, ok)
	assert.Empty(t, addr)

	_, err = NewPatternDetector(`(`)
	assert.Error(t, err)
}

func TestJSONDetector(t *testing.T) {
	d := JSONDetector{Path: "addr", Match: &Field{Key: "event", Value: "ready"}}

	addr, ok := d.Observe(`{"event":"ready","addr":"127.0.0.1:8080"}`)
	assert.True(t, ok)
	assert.Equal(t, "127.0.0.1:8080", addr)

	_, ok = d.Observe(`{"event":"starting","addr":"127.0.0.1:8080"}`)
	assert.False(t, ok)
	_, ok = d.Observe(`listening on 127.0.0.1:8080`)
	assert.False(t, ok)
	_, ok = d.Observe(`{"event":"ready"`)
	assert.False(t, ok)

	nested := JSONDetector{Path: "server.listen"}
	addr, ok = nested.Observe(`{"server":{"listen":"localhost:9000"}}`)
	assert.True(t, ok)
	assert.Equal(t, "localhost:9000", addr)
}

func patternWaiter(t *testing.T, cfg Config) *Waiter {
	t.Helper()
	d, err := NewPatternDetector(`listening on (\S+)`)
	require.NoError(t, err)
	cfg.Detectors = []Detector{d}
	return NewWaiter(cfg)
}

func TestWaiter_ReadyFromOutput(t *testing.T) {
	w := patternWaiter(t, Config{Timeout: time.Second})
	go func() {
		_, _ = w.Writer().Write([]byte("booting\nlistening on 127.0.0.1:4000\n"))
	}()
	addr, err := w.Wait(context.Background(), make(chan struct{}))
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:4000", addr)
}

func TestWaiter_Timeout(t *testing.T) {
	w := patternWaiter(t, Config{Timeout: 50 * time.Millisecond})
	_, err := w.Wait(context.Background(), make(chan struct{}))
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestWaiter_ExitBeforeReady(t *testing.T) {
	w := patternWaiter(t, Config{Timeout: time.Second})
	exited := make(chan struct{})
	close(exited)
	_, err := w.Wait(context.Background(), exited)
	assert.ErrorIs(t, err, ErrExited)
}

func TestWaiter_TCPProbe(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()

	w := patternWaiter(t, Config{Timeout: time.Second, TCPProbe: true})
	_, _ = w.Writer().Write([]byte("listening on http://" + ln.Addr().String() + "/\n"))
	addr, err := w.Wait(context.Background(), make(chan struct{}))
	require.NoError(t, err)
	assert.Contains(t, addr, ln.Addr().String())
}

func TestWaiter_NoDetectors(t *testing.T) {
	w := NewWaiter(Config{})
	assert.Nil(t, w.Writer())
	addr, err := w.Wait(context.Background(), make(chan struct{}))
	assert.NoError(t, err)
	assert.Empty(t, addr)

	settle := NewWaiter(Config{Settle: 20 * time.Millisecond})
	exited := make(chan struct{})
	close(exited)
	_, err = settle.Wait(context.Background(), exited)
	assert.ErrorIs(t, err, ErrExited)
}
