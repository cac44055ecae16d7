package stream

import (
	"fmt"
	"slices"
	"strings"

	"github.com/danmuck/linkctl/internal/logging"
	"github.com/danmuck/linkctl/internal/protocol"
	"github.com/danmuck/linkctl/internal/tables"
	"github.com/danmuck/linkctl/internal/transport"
	"github.com/rs/zerolog"
)

// Config parameterises one stream plugin.
type Config struct {
	Name       string
	Transports []tables.Transport
	Handler    SessionHandler
	Transport  transport.Config
}

// Plugin is a protocol.Plugin that serves byte streams.
type Plugin struct {
	name       string
	transports []tables.Transport
	handler    SessionHandler
	tcfg       transport.Config
	log        zerolog.Logger
}

var _ protocol.Plugin = (*Plugin)(nil)

func New(cfg Config) *Plugin {
	handler := cfg.Handler
	if handler == nil {
		handler = DrainHandler{}
	}
	name := strings.TrimSpace(cfg.Name)
	return &Plugin{
		name:       name,
		transports: slices.Clone(cfg.Transports),
		handler:    handler,
		tcfg:       cfg.Transport.WithDefaults(),
		log:        logging.For("stream").With().Str("protocol", name).Logger(),
	}
}

func (p *Plugin) Name() string {
	return p.name
}

func (p *Plugin) Supports(kind tables.Transport) bool {
	return slices.Contains(p.transports, kind)
}

func (p *Plugin) NewEndPoint(spec tables.EndPointSpec, opts protocol.Options) (*protocol.Handle, error) {
	kind, addr, err := p.listenTarget(spec)
	if err != nil {
		return nil, err
	}
	h := protocol.NewHandle(opts)
	ep := &endPoint{
		plugin:  p,
		handle:  h,
		kind:    kind,
		addr:    addr,
		log:     p.log.With().Str("instance", opts.ID).Logger(),
		streams: make(map[*trackedStream]struct{}),
	}
	h.Impl = ep
	h.Start(ep.run)
	return h, nil
}

func (p *Plugin) DeleteEndPoint(h *protocol.Handle) error {
	if _, ok := implOf[*endPoint](h); !ok {
		return protocol.ErrHandleUnknown
	}
	h.Stop()
	return nil
}

func (p *Plugin) Connect(spec tables.ConnectSpec, opts protocol.Options) (*protocol.Handle, error) {
	kind, addr, err := p.dialTarget(spec)
	if err != nil {
		return nil, err
	}
	h := protocol.NewHandle(opts)
	l := newLink(p, h, kind, addr)
	h.Impl = l
	h.Start(l.run)
	return h, nil
}

func (p *Plugin) DeleteConnection(h *protocol.Handle) error {
	if _, ok := implOf[*link](h); !ok {
		return protocol.ErrHandleUnknown
	}
	h.Stop()
	return nil
}

func (p *Plugin) Reactivate(h *protocol.Handle, spec tables.ConnectSpec) error {
	l, ok := implOf[*link](h)
	if !ok {
		return protocol.ErrHandleUnknown
	}
	if !h.Running() {
		return protocol.ErrHandleStopped
	}
	kind, addr, err := p.dialTarget(spec)
	if err != nil {
		return err
	}
	l.apply(kind, addr)
	return nil
}

func (p *Plugin) Deactivate(h *protocol.Handle) error {
	l, ok := implOf[*link](h)
	if !ok {
		return protocol.ErrHandleUnknown
	}
	l.pause()
	return nil
}

func (p *Plugin) IsRunning(h *protocol.Handle) bool {
	return h != nil && h.Running()
}

// Session returns the persistent session of a connection handle.
func (p *Plugin) Session(h *protocol.Handle) (*Session, bool) {
	l, ok := implOf[*link](h)
	if !ok {
		return nil, false
	}
	return l.session, true
}

// ListenAddr returns the bound address of an end point once it is listening.
func (p *Plugin) ListenAddr(h *protocol.Handle) (string, bool) {
	ep, ok := implOf[*endPoint](h)
	if !ok {
		return "", false
	}
	return ep.boundAddr()
}

// Paused reports whether a connection handle is deactivated.
func (p *Plugin) Paused(h *protocol.Handle) bool {
	l, ok := implOf[*link](h)
	return ok && l.isPaused()
}

func (p *Plugin) listenTarget(spec tables.EndPointSpec) (tables.Transport, string, error) {
	kind, err := p.transportFor(spec.Transport)
	if err != nil {
		return kind, "", err
	}
	if kind == tables.TransportSerial {
		sa, err := transport.ParseSerialAddress(spec.Port, p.tcfg.DefaultBaud)
		if err != nil {
			return kind, "", fmt.Errorf("%w: %w", tables.ErrInvalidAddress, err)
		}
		return kind, sa.String(), nil
	}
	addr, err := transport.ListenAddress(spec.Port, p.name, kind)
	if err != nil {
		return kind, "", fmt.Errorf("%w: %w", tables.ErrInvalidAddress, err)
	}
	return kind, addr, nil
}

func (p *Plugin) dialTarget(spec tables.ConnectSpec) (tables.Transport, string, error) {
	kind, err := p.transportFor(spec.Transport)
	if err != nil {
		return kind, "", err
	}
	if kind == tables.TransportSerial {
		sa, err := transport.ParseSerialAddress(spec.Address, p.tcfg.DefaultBaud)
		if err != nil {
			return kind, "", fmt.Errorf("%w: %w", tables.ErrInvalidAddress, err)
		}
		return kind, sa.String(), nil
	}
	addr, err := transport.DialAddress(spec.Address, p.name, kind)
	if err != nil {
		return kind, "", fmt.Errorf("%w: %w", tables.ErrInvalidAddress, err)
	}
	return kind, addr, nil
}

func (p *Plugin) transportFor(raw string) (tables.Transport, error) {
	kind, err := tables.ParseTransport(raw)
	if err != nil {
		return kind, err
	}
	if !p.Supports(kind) {
		return kind, fmt.Errorf("%w: %s over %s", protocol.ErrTransportUnsupported, p.name, kind)
	}
	return kind, nil
}

func implOf[T any](h *protocol.Handle) (T, bool) {
	var zero T
	if h == nil {
		return zero, false
	}
	v, ok := h.Impl.(T)
	return v, ok
}
