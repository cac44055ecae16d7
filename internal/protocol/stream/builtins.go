package stream

import (
	"github.com/danmuck/linkctl/internal/protocol"
	"github.com/danmuck/linkctl/internal/tables"
	"github.com/danmuck/linkctl/internal/transport"
	"go.uber.org/multierr"
)

// NewObjectPlugin carries the object-serialization protocol over socket or TLS.
func NewObjectPlugin(cfg transport.Config, handler SessionHandler) *Plugin {
	return New(Config{
		Name:       tables.ProtocolObject,
		Transports: []tables.Transport{tables.TransportSocket, tables.TransportTLS},
		Handler:    handler,
		Transport:  cfg,
	})
}

// NewDevicePlugin carries the device-telemetry protocol over socket, TLS or
// a serial line.
func NewDevicePlugin(cfg transport.Config, handler SessionHandler) *Plugin {
	return New(Config{
		Name:       tables.ProtocolDevice,
		Transports: []tables.Transport{tables.TransportSocket, tables.TransportTLS, tables.TransportSerial},
		Handler:    handler,
		Transport:  cfg,
	})
}

// RegisterBuiltins registers both built-in plugins with the drain handler.
func RegisterBuiltins(reg *protocol.Registry, cfg transport.Config) error {
	return multierr.Combine(
		reg.Register(NewObjectPlugin(cfg, nil)),
		reg.Register(NewDevicePlugin(cfg, nil)),
	)
}
