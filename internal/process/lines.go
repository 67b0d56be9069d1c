package process

import (
	"bytes"
	"sync"
)

// LineWriter calls fn for every complete line written to it. Partial lines
// are buffered until their newline arrives; overly long lines are flushed.
type LineWriter struct {
	fn  func(line string)
	mu  sync.Mutex
	buf []byte
}

const maxLineBytes = 64 * 1024

func NewLineWriter(fn func(line string)) *LineWriter {
	return &LineWriter{fn: fn}
}

func (w *LineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimRight(w.buf[:i], "\r")
		w.fn(string(line))
		w.buf = w.buf[i+1:]
	}
	if len(w.buf) > maxLineBytes {
		w.fn(string(w.buf))
		w.buf = nil
	}
	return len(p), nil
}
