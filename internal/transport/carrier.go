package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/danmuck/linkctl/internal/tables"
	"go.bug.st/serial"
)

// Listener yields inbound streams for one bound end point.
type Listener interface {
	Accept() (io.ReadWriteCloser, error)
	Close() error
	Addr() string
}

// Listen binds addr for the given carrier. For serial, addr is a serial spec
// and the port is opened immediately so bind failures surface here.
func Listen(cfg Config, kind tables.Transport, addr string) (Listener, error) {
	switch kind {
	case tables.TransportSocket:
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return nil, err
		}
		return netListener{ln}, nil
	case tables.TransportTLS:
		tlsCfg, err := cfg.TLS.ServerTLSConfig()
		if err != nil {
			return nil, err
		}
		ln, err := tls.Listen("tcp", addr, tlsCfg)
		if err != nil {
			return nil, err
		}
		return netListener{ln}, nil
	case tables.TransportSerial:
		sa, err := ParseSerialAddress(addr, cfg.DefaultBaud)
		if err != nil {
			return nil, err
		}
		return listenSerial(sa)
	default:
		return nil, fmt.Errorf("%w: %s", ErrKindUnsupported, kind)
	}
}

// Dial opens an outbound stream to addr, completing the TLS handshake when
// kind is TLS.
func Dial(ctx context.Context, cfg Config, kind tables.Transport, addr string) (io.ReadWriteCloser, error) {
	switch kind {
	case tables.TransportSocket, tables.TransportTLS:
		dialer := net.Dialer{Timeout: cfg.ConnectTimeout}
		rawConn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, err
		}
		if kind == tables.TransportSocket {
			return rawConn, nil
		}
		tlsCfg, err := cfg.TLS.ClientTLSConfig(addr)
		if err != nil {
			_ = rawConn.Close()
			return nil, err
		}
		conn := tls.Client(rawConn, tlsCfg)
		handshakeCtx, cancel := context.WithTimeout(ctx, cfg.HandshakeTimeout)
		defer cancel()
		if err := conn.HandshakeContext(handshakeCtx); err != nil {
			_ = rawConn.Close()
			return nil, err
		}
		return conn, nil
	case tables.TransportSerial:
		sa, err := ParseSerialAddress(addr, cfg.DefaultBaud)
		if err != nil {
			return nil, err
		}
		return openSerial(sa)
	default:
		return nil, fmt.Errorf("%w: %s", ErrKindUnsupported, kind)
	}
}

type netListener struct {
	net.Listener
}

func (l netListener) Accept() (io.ReadWriteCloser, error) {
	return l.Listener.Accept()
}

func (l netListener) Addr() string {
	return l.Listener.Addr().String()
}

var openSerial = func(sa SerialAddress) (io.ReadWriteCloser, error) {
	return serial.Open(sa.Device, &serial.Mode{BaudRate: sa.Baud})
}

// serialListener hands out the open port as a single stream. When that stream
// is closed the port is reopened for the next Accept.
type serialListener struct {
	addr SerialAddress

	mu       sync.Mutex
	port     io.ReadWriteCloser
	released chan struct{}
	closed   chan struct{}
	once     sync.Once
}

func listenSerial(sa SerialAddress) (*serialListener, error) {
	port, err := openSerial(sa)
	if err != nil {
		return nil, err
	}
	return &serialListener{
		addr:     sa,
		port:     port,
		released: make(chan struct{}, 1),
		closed:   make(chan struct{}),
	}, nil
}

func (l *serialListener) Accept() (io.ReadWriteCloser, error) {
	for {
		l.mu.Lock()
		port := l.port
		l.port = nil
		l.mu.Unlock()
		if port != nil {
			return &serialStream{ReadWriteCloser: port, released: l.released}, nil
		}
		select {
		case <-l.closed:
			return nil, net.ErrClosed
		case <-l.released:
			select {
			case <-l.closed:
				return nil, net.ErrClosed
			default:
			}
			reopened, err := openSerial(l.addr)
			if err != nil {
				return nil, err
			}
			l.mu.Lock()
			l.port = reopened
			l.mu.Unlock()
		}
	}
}

func (l *serialListener) Close() error {
	var err error
	l.once.Do(func() {
		close(l.closed)
		l.mu.Lock()
		if l.port != nil {
			err = l.port.Close()
			l.port = nil
		}
		l.mu.Unlock()
	})
	return err
}

func (l *serialListener) Addr() string {
	return l.addr.String()
}

type serialStream struct {
	io.ReadWriteCloser
	released chan struct{}
	once     sync.Once
}

func (s *serialStream) Close() error {
	err := s.ReadWriteCloser.Close()
	s.once.Do(func() {
		select {
		case s.released <- struct{}{}:
		default:
		}
	})
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
