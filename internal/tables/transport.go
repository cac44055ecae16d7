package tables

import (
	"fmt"
	"strings"
)

// Transport is the byte-stream carrier kind.
type Transport int

const (
	TransportNone Transport = iota
	TransportSocket
	TransportTLS
	TransportSerial
)

func (t Transport) String() string {
	switch t {
	case TransportNone:
		return "none"
	case TransportSocket:
		return "socket"
	case TransportTLS:
		return "tls"
	case TransportSerial:
		return "serial"
	default:
		return fmt.Sprintf("transport(%d)", int(t))
	}
}

// ParseTransport maps a table token to a Transport. An empty token is none.
func ParseTransport(raw string) (Transport, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "none":
		return TransportNone, nil
	case "socket", "tcp":
		return TransportSocket, nil
	case "tls":
		return TransportTLS, nil
	case "serial":
		return TransportSerial, nil
	default:
		return TransportNone, fmt.Errorf("%w: %w: %q", ErrConfig, ErrUnknownTransport, raw)
	}
}
