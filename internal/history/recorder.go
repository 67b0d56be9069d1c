package history

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"
)

const defaultSendTimeout = 3 * time.Second

// Recorder fans events out to sinks without blocking the caller. Each event
// is delivered on its own goroutine bounded by a send timeout; failures are
// logged and dropped.
type Recorder struct {
	sinks   []Sink
	timeout time.Duration
	log     *slog.Logger
	wg      sync.WaitGroup
}

func NewRecorder(log *slog.Logger, sinks ...Sink) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	var ss []Sink
	for _, s := range sinks {
		if s != nil {
			ss = append(ss, s)
		}
	}
	return &Recorder{sinks: ss, timeout: defaultSendTimeout, log: log}
}

// Enabled reports whether any sink is configured.
func (r *Recorder) Enabled() bool { return r != nil && len(r.sinks) > 0 }

// Record stamps OccurredAt when unset and dispatches e to every sink.
func (r *Recorder) Record(e Event) {
	if !r.Enabled() {
		return
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	for _, s := range r.sinks {
		r.wg.Add(1)
		go func(s Sink) {
			defer r.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
			defer cancel()
			if err := s.Send(ctx, e); err != nil {
				r.log.Warn("history sink send failed", "type", e.Type, "error", err)
			}
		}(s)
	}
}

// Recent returns events from the first sink that can be read.
func (r *Recorder) Recent(ctx context.Context, limit int) ([]Event, error) {
	if r == nil {
		return nil, nil
	}
	for _, s := range r.sinks {
		if rd, ok := s.(Reader); ok {
			return rd.Recent(ctx, limit)
		}
	}
	return nil, nil
}

// Close waits for in-flight sends and closes sinks that hold resources.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	r.wg.Wait()
	var first error
	for _, s := range r.sinks {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}
