package transport

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/danmuck/linkctl/internal/tables"
)

// SerialAddress is a parsed "DEVICE:baud" serial spec.
type SerialAddress struct {
	Device string
	Baud   int
}

func (s SerialAddress) String() string {
	return fmt.Sprintf("%s:%d", s.Device, s.Baud)
}

// ParseSerialAddress accepts "COM3:115200", "/dev/ttyUSB0:9600" or a bare
// device name, in which case defaultBaud is used.
func ParseSerialAddress(raw string, defaultBaud int) (SerialAddress, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return SerialAddress{}, fmt.Errorf("%w: empty serial device", ErrInvalidAddress)
	}
	device, baud := raw, defaultBaud
	if i := strings.LastIndexByte(raw, ':'); i >= 0 {
		n, err := strconv.Atoi(raw[i+1:])
		if err != nil || n <= 0 {
			return SerialAddress{}, fmt.Errorf("%w: bad baud in %q", ErrInvalidAddress, raw)
		}
		device, baud = raw[:i], n
	}
	if device == "" || baud <= 0 {
		return SerialAddress{}, fmt.Errorf("%w: %q", ErrInvalidAddress, raw)
	}
	return SerialAddress{Device: device, Baud: baud}, nil
}

// ListenAddress turns an End Point port column into a listen address. A bare
// port binds every interface; an empty value takes the protocol default.
func ListenAddress(raw, protocol string, kind tables.Transport) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		port := tables.DefaultPort(protocol, kind)
		if port == 0 {
			return "", fmt.Errorf("%w: no port and no default for %s", ErrInvalidAddress, protocol)
		}
		return ":" + strconv.Itoa(port), nil
	}
	if isPort(raw) {
		return ":" + raw, nil
	}
	// host:0 asks the kernel for an ephemeral port.
	if _, port, err := net.SplitHostPort(raw); err != nil || (port != "0" && !isPort(port)) {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, raw)
	}
	return raw, nil
}

// DialAddress turns a Connect-To address into host:port, appending the
// protocol's well-known port when none is given.
func DialAddress(raw, protocol string, kind tables.Transport) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == tables.Wildcard {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, raw)
	}
	if host, port, err := net.SplitHostPort(raw); err == nil {
		if host == "" || !isPort(port) {
			return "", fmt.Errorf("%w: %q", ErrInvalidAddress, raw)
		}
		return raw, nil
	}
	port := tables.DefaultPort(protocol, kind)
	if port == 0 {
		return "", fmt.Errorf("%w: no port in %q and no default for %s", ErrInvalidAddress, raw, protocol)
	}
	host := strings.TrimSuffix(strings.TrimPrefix(raw, "["), "]")
	return net.JoinHostPort(host, strconv.Itoa(port)), nil
}

func isPort(s string) bool {
	n, err := strconv.Atoi(s)
	return err == nil && n > 0 && n <= 65535
}
