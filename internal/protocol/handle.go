package protocol

import (
	"context"
	"sync"
	"sync/atomic"
)

// Handle is the per-instance state shared between a plugin and the worker
// goroutine it starts. Only the worker changes the open flag.
type Handle struct {
	id     string
	sink   StatusSink
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	started atomic.Bool
	open    atomic.Bool

	// Impl is plugin-private state.
	Impl any

	stopOnce sync.Once
}

// NewHandle creates an idle handle addressed by opts.ID.
func NewHandle(opts Options) *Handle {
	sink := opts.Status
	if sink == nil {
		sink = DiscardStatus
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Handle{
		id:     opts.ID,
		sink:   sink,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

func (h *Handle) ID() string {
	return h.id
}

// Context is cancelled when the handle is stopped.
func (h *Handle) Context() context.Context {
	return h.ctx
}

// SetOpen records a transport state change and posts it when it differs.
func (h *Handle) SetOpen(open bool) {
	if h.open.Swap(open) == open {
		return
	}
	h.sink.PostStatus(h.id, open)
}

// Open is the worker's last reported state.
func (h *Handle) Open() bool {
	return h.open.Load()
}

// Start runs worker on its own goroutine. When worker returns the handle
// reports closed and posts its exit.
func (h *Handle) Start(worker func(ctx context.Context)) {
	if !h.started.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer close(h.done)
		defer h.sink.PostExit(h.id)
		defer h.SetOpen(false)
		worker(h.ctx)
	}()
}

// Running reports whether the worker goroutine is still alive.
func (h *Handle) Running() bool {
	if !h.started.Load() {
		return false
	}
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Stop cancels the worker and waits for it to exit.
func (h *Handle) Stop() {
	h.stopOnce.Do(h.cancel)
	if h.started.Load() {
		<-h.done
	}
}

// Done is closed once the worker has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}
