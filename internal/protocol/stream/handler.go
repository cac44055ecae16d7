package stream

import (
	"context"
	"io"
)

// SessionHandler speaks the application protocol on one stream. Serve returns
// when the stream ends or ctx is cancelled; the caller closes rw.
type SessionHandler interface {
	Serve(ctx context.Context, s *Session, rw io.ReadWriteCloser) error
}

type SessionHandlerFunc func(ctx context.Context, s *Session, rw io.ReadWriteCloser) error

func (f SessionHandlerFunc) Serve(ctx context.Context, s *Session, rw io.ReadWriteCloser) error {
	return f(ctx, s, rw)
}

// DrainHandler holds the stream open and discards inbound bytes.
type DrainHandler struct{}

func (DrainHandler) Serve(ctx context.Context, _ *Session, rw io.ReadWriteCloser) error {
	stop := context.AfterFunc(ctx, func() { _ = rw.Close() })
	defer stop()
	_, err := io.Copy(io.Discard, rw)
	if ctx.Err() != nil {
		return nil
	}
	if err == nil {
		return io.EOF
	}
	return err
}
