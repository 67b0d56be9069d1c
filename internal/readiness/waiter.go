package readiness

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/loykin/deskhost/internal/process"
)

var (
	ErrTimeout = errors.New("backend did not become ready in time")
	ErrExited  = errors.New("backend exited before becoming ready")
)

// Config selects how readiness is established. With no detectors the
// backend is ready as soon as it has stayed up for Settle.
type Config struct {
	Detectors []Detector
	Timeout   time.Duration
	Settle    time.Duration
	// TCPProbe dials the detected address until it accepts a connection.
	TCPProbe bool
}

func (c Config) Enabled() bool { return len(c.Detectors) > 0 }

// Waiter is created per launch. Its Writer is wired into the backend's
// stdout; Wait blocks until readiness, exit, timeout or ctx cancellation.
type Waiter struct {
	cfg   Config
	lw    *process.LineWriter
	once  sync.Once
	ready chan string
}

func NewWaiter(cfg Config) *Waiter {
	w := &Waiter{cfg: cfg, ready: make(chan string, 1)}
	w.lw = process.NewLineWriter(w.observe)
	return w
}

// Writer returns the sink for backend stdout, or nil when no detector is
// configured.
func (w *Waiter) Writer() io.Writer {
	if !w.cfg.Enabled() {
		return nil
	}
	return w.lw
}

func (w *Waiter) observe(line string) {
	for _, d := range w.cfg.Detectors {
		if addr, ok := d.Observe(line); ok {
			w.once.Do(func() { w.ready <- addr })
			return
		}
	}
}

// Wait returns the bound address (possibly empty) once the backend is ready.
func (w *Waiter) Wait(ctx context.Context, exited <-chan struct{}) (string, error) {
	if !w.cfg.Enabled() {
		return "", w.settle(ctx, exited)
	}
	timeout := w.cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var addr string
	select {
	case addr = <-w.ready:
	case <-exited:
		return "", ErrExited
	case <-ctx.Done():
		return "", ctxErr(ctx)
	}
	if w.cfg.TCPProbe && addr != "" {
		if err := probe(ctx, exited, addr); err != nil {
			return addr, err
		}
	}
	return addr, nil
}

func (w *Waiter) settle(ctx context.Context, exited <-chan struct{}) error {
	if w.cfg.Settle <= 0 {
		select {
		case <-exited:
			return ErrExited
		default:
			return nil
		}
	}
	t := time.NewTimer(w.cfg.Settle)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-exited:
		return ErrExited
	case <-ctx.Done():
		return ctx.Err()
	}
}

func probe(ctx context.Context, exited <-chan struct{}, addr string) error {
	target := strings.TrimPrefix(strings.TrimPrefix(addr, "http://"), "https://")
	target = strings.TrimSuffix(target, "/")
	var d net.Dialer
	for {
		conn, err := d.DialContext(ctx, "tcp", target)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		select {
		case <-exited:
			return ErrExited
		case <-ctx.Done():
			return ctxErr(ctx)
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func ctxErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrTimeout
	}
	return ctx.Err()
}
