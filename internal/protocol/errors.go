package protocol

import "errors"

var (
	ErrPluginNil            = errors.New("protocol: plugin is nil")
	ErrPluginExists         = errors.New("protocol: plugin already registered")
	ErrProtocolUnknown      = errors.New("protocol: unknown protocol")
	ErrTransportUnsupported = errors.New("protocol: transport not supported by plugin")
	ErrTransport            = errors.New("protocol: transport failure")
	ErrHandleUnknown        = errors.New("protocol: handle not owned by plugin")
	ErrHandleStopped        = errors.New("protocol: handle already stopped")
)
