package host

import (
	"context"
	"sync"
)

// Runtime is the part of the window runtime the shell drives.
type Runtime interface {
	Exit(code int)
}

// HeadlessRuntime stands in for a window runtime when the host runs without
// a GUI. Exit cancels the context returned by Context.
type HeadlessRuntime struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	code int
	done bool
}

func NewHeadlessRuntime(parent context.Context) *HeadlessRuntime {
	ctx, cancel := context.WithCancel(parent)
	return &HeadlessRuntime{ctx: ctx, cancel: cancel}
}

func (r *HeadlessRuntime) Exit(code int) {
	r.mu.Lock()
	if !r.done {
		r.code = code
		r.done = true
	}
	r.mu.Unlock()
	r.cancel()
}

// Context is done once Exit was called or the parent ended.
func (r *HeadlessRuntime) Context() context.Context { return r.ctx }

// ExitCode returns the first code passed to Exit.
func (r *HeadlessRuntime) ExitCode() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.code
}
