package stream

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/danmuck/linkctl/internal/protocol"
	"github.com/danmuck/linkctl/internal/tables"
	"github.com/danmuck/linkctl/internal/transport"
	"github.com/rs/zerolog"
)

type endPoint struct {
	plugin *Plugin
	handle *protocol.Handle
	kind   tables.Transport
	addr   string
	log    zerolog.Logger

	mu      sync.Mutex
	bound   string
	streams map[*trackedStream]struct{}
}

type trackedStream struct {
	io.ReadWriteCloser
	once sync.Once
}

func (s *trackedStream) Close() error {
	var err error
	s.once.Do(func() { err = s.ReadWriteCloser.Close() })
	return err
}

// run binds, then accepts until ctx is cancelled. A bind or accept failure
// ends the worker so the plugin reports the end point dead.
func (e *endPoint) run(ctx context.Context) {
	ln, err := transport.Listen(e.plugin.tcfg, e.kind, e.addr)
	if err != nil {
		e.log.Warn().Err(err).Str("addr", e.addr).Str("transport", e.kind.String()).Msg("stream.endPoint.run bind failed")
		return
	}
	e.setBound(ln.Addr())
	e.handle.SetOpen(true)
	e.log.Info().Str("addr", ln.Addr()).Str("transport", e.kind.String()).Msg("stream.endPoint.run listening")

	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()
	defer ln.Close()

	var wg sync.WaitGroup
	defer func() {
		e.closeAll()
		wg.Wait()
	}()

	for {
		rw, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			e.log.Warn().Err(err).Msg("stream.endPoint.run accept failed")
			return
		}
		ts := &trackedStream{ReadWriteCloser: rw}
		e.track(ts)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer e.untrack(ts)
			defer ts.Close()
			e.serve(ctx, ts)
		}()
	}
}

func (e *endPoint) serve(ctx context.Context, ts *trackedStream) {
	remote := remoteOf(ts.ReadWriteCloser, e.addr)
	sess := newSession(e.handle.ID() + "@" + remote)
	sess.attach(remote)
	e.log.Debug().Str("remote", remote).Msg("stream.endPoint.serve accepted")
	if err := e.plugin.handler.Serve(ctx, sess, ts); err != nil && ctx.Err() == nil && !errors.Is(err, io.EOF) {
		e.log.Debug().Err(err).Str("remote", remote).Msg("stream.endPoint.serve ended")
	}
}

func (e *endPoint) setBound(addr string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.bound = addr
}

func (e *endPoint) boundAddr() (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bound, e.bound != ""
}

func (e *endPoint) track(ts *trackedStream) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.streams[ts] = struct{}{}
}

func (e *endPoint) untrack(ts *trackedStream) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.streams, ts)
}

func (e *endPoint) closeAll() {
	e.mu.Lock()
	streams := make([]*trackedStream, 0, len(e.streams))
	for ts := range e.streams {
		streams = append(streams, ts)
	}
	e.mu.Unlock()
	for _, ts := range streams {
		_ = ts.Close()
	}
}

func remoteOf(rw io.ReadWriteCloser, fallback string) string {
	if c, ok := rw.(net.Conn); ok && c.RemoteAddr() != nil {
		return c.RemoteAddr().String()
	}
	return fallback
}
