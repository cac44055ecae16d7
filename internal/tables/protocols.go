package tables

import "strings"

const (
	ProtocolObject = "object-protocol"
	ProtocolDevice = "device-protocol"
)

// Well-known ports per (protocol, TLS/plain) and for discovery.
const (
	ObjectTCPPort = 6371
	ObjectTLSPort = 6374
	DeviceTCPPort = 6368
	DeviceTLSPort = 6369

	DiscoveryPort   = 6367
	DiscoveryGroup  = "239.255.63.67"
	DiscoveryGroup6 = "ff02::6367"
)

var shortCodes = map[string]string{
	ProtocolObject: "o",
	ProtocolDevice: "d",
}

// ShortCode returns the discovery code for a protocol name.
func ShortCode(protocol string) (string, bool) {
	code, ok := shortCodes[strings.TrimSpace(protocol)]
	return code, ok
}

// ProtocolForCode reverses ShortCode.
func ProtocolForCode(code string) (string, bool) {
	for name, c := range shortCodes {
		if c == code {
			return name, true
		}
	}
	return "", false
}

// DefaultPort returns the well-known port for a protocol over socket or TLS.
func DefaultPort(protocol string, t Transport) int {
	switch strings.TrimSpace(protocol) {
	case ProtocolObject:
		if t == TransportTLS {
			return ObjectTLSPort
		}
		return ObjectTCPPort
	case ProtocolDevice:
		if t == TransportTLS {
			return DeviceTLSPort
		}
		return DeviceTCPPort
	default:
		return 0
	}
}
