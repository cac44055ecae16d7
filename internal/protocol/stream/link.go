package stream

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/danmuck/linkctl/internal/protocol"
	"github.com/danmuck/linkctl/internal/tables"
	"github.com/danmuck/linkctl/internal/transport"
	"github.com/rs/zerolog"
)

// link is one outbound connection. Its session outlives every dial.
type link struct {
	plugin  *Plugin
	handle  *protocol.Handle
	session *Session
	log     zerolog.Logger
	rng     *rand.Rand

	mu           sync.Mutex
	kind         tables.Transport
	addr         string
	paused       bool
	cancelStream context.CancelFunc
	wake         chan struct{}
}

func newLink(p *Plugin, h *protocol.Handle, kind tables.Transport, addr string) *link {
	return &link{
		plugin:  p,
		handle:  h,
		session: newSession(h.ID()),
		log:     p.log.With().Str("instance", h.ID()).Logger(),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		kind:    kind,
		addr:    addr,
		wake:    make(chan struct{}, 1),
	}
}

func (l *link) run(ctx context.Context) {
	failures := 0
	for ctx.Err() == nil {
		kind, addr, paused := l.target()
		if paused {
			select {
			case <-ctx.Done():
				return
			case <-l.wake:
				continue
			}
		}

		streamCtx, cancel := context.WithCancel(ctx)
		if !l.setCancel(cancel) {
			cancel()
			continue
		}
		rw, err := transport.Dial(streamCtx, l.plugin.tcfg, kind, addr)
		if err != nil {
			interrupted := streamCtx.Err() != nil
			cancel()
			l.setCancel(nil)
			if ctx.Err() != nil {
				return
			}
			if interrupted {
				continue
			}
			failures++
			l.log.Warn().Err(err).Int("attempt", failures).Str("addr", addr).Msg("stream.link.run dial failed")
			if limit := l.plugin.tcfg.MaxDialAttempts; limit > 0 && failures >= limit {
				l.log.Warn().Int("attempts", failures).Str("addr", addr).Msg("stream.link.run giving up")
				return
			}
			if !l.backoff(ctx, failures) {
				return
			}
			continue
		}

		failures = 0
		l.session.attach(addr)
		l.handle.SetOpen(true)
		l.log.Info().Str("addr", addr).Str("transport", kind.String()).Int("connects", l.session.Connects()).Msg("stream.link.run connected")
		serveErr := l.serve(streamCtx, rw)
		interrupted := streamCtx.Err() != nil
		cancel()
		l.setCancel(nil)
		l.handle.SetOpen(false)
		if ctx.Err() != nil {
			return
		}
		if interrupted {
			continue
		}
		l.log.Info().Err(serveErr).Str("addr", addr).Msg("stream.link.run disconnected")
		if !l.backoff(ctx, 1) {
			return
		}
	}
}

func (l *link) serve(ctx context.Context, rw io.ReadWriteCloser) error {
	stop := context.AfterFunc(ctx, func() { _ = rw.Close() })
	defer stop()
	defer rw.Close()
	err := l.plugin.handler.Serve(ctx, l.session, rw)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// backoff waits before the next dial. A wake from Reactivate or Deactivate
// cuts the wait short. It returns false when ctx is done.
func (l *link) backoff(ctx context.Context, attempt int) bool {
	delay := transport.NextBackoffDelay(l.plugin.tcfg.Backoff, attempt, l.rng)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-l.wake:
		return true
	case <-timer.C:
		return true
	}
}

func (l *link) target() (tables.Transport, string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.kind, l.addr, l.paused
}

// setCancel installs the cancel func for the current stream. Installing fails
// when the link was paused since target was read.
func (l *link) setCancel(cancel context.CancelFunc) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cancel != nil && l.paused {
		return false
	}
	l.cancelStream = cancel
	return true
}

func (l *link) pause() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.paused {
		return
	}
	l.paused = true
	if l.cancelStream != nil {
		l.cancelStream()
	}
	l.signal()
	l.log.Info().Msg("stream.link.pause")
}

// apply resumes the link and switches target. An unchanged, active link is
// left alone.
func (l *link) apply(kind tables.Transport, addr string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	changed := kind != l.kind || addr != l.addr
	if !changed && !l.paused {
		return
	}
	l.kind, l.addr = kind, addr
	resumed := l.paused
	l.paused = false
	if changed && l.cancelStream != nil {
		l.cancelStream()
	}
	l.signal()
	l.log.Info().Bool("resumed", resumed).Bool("retarget", changed).Str("addr", addr).Msg("stream.link.apply")
}

func (l *link) isPaused() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.paused
}

func (l *link) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}
