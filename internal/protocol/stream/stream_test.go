package stream

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/linkctl/internal/protocol"
	"github.com/danmuck/linkctl/internal/tables"
	"github.com/danmuck/linkctl/internal/testutil/testlog"
	"github.com/danmuck/linkctl/internal/testutil/tlstest"
	"github.com/danmuck/linkctl/internal/transport"
)

type statusLog struct {
	mu    sync.Mutex
	open  map[string]bool
	exits map[string]int
}

func newStatusLog() *statusLog {
	return &statusLog{open: map[string]bool{}, exits: map[string]int{}}
}

func (s *statusLog) PostStatus(id string, open bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open[id] = open
}

func (s *statusLog) PostExit(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exits[id]++
}

func (s *statusLog) isOpen(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open[id]
}

func (s *statusLog) exitCount(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exits[id]
}

func fastTransport() transport.Config {
	cfg := transport.DefaultConfig()
	cfg.ConnectTimeout = time.Second
	cfg.Backoff = transport.BackoffConfig{InitialDelay: 20 * time.Millisecond, Multiplier: 1.5, MaxDelay: 100 * time.Millisecond}
	return cfg
}

func TestEndPointAcceptsAndDeleteJoinsWorker(t *testing.T) {
	testlog.Start(t)
	sink := newStatusLog()
	p := NewObjectPlugin(fastTransport(), nil)
	id := "object_protocol_e0_0"
	h, err := p.NewEndPoint(tables.EndPointSpec{Enabled: true, Protocol: tables.ProtocolObject, Transport: "socket", Port: "127.0.0.1:0"}, protocol.Options{ID: id, Status: sink})
	if err != nil {
		t.Fatalf("new end point: %v", err)
	}
	if !waitForCondition(2*time.Second, 10*time.Millisecond, func() bool { return sink.isOpen(id) }) {
		t.Fatalf("end point never reported open")
	}
	addr, ok := p.ListenAddr(h)
	if !ok {
		t.Fatalf("missing bound address")
	}
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial end point: %v", err)
	}
	defer conn.Close()

	if err := p.DeleteEndPoint(h); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if p.IsRunning(h) {
		t.Fatalf("end point still running after delete")
	}
	if sink.isOpen(id) || sink.exitCount(id) != 1 {
		t.Fatalf("expected closed status and one exit, open=%v exits=%d", sink.isOpen(id), sink.exitCount(id))
	}
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := conn.Read(make([]byte, 1)); err == nil {
		t.Fatalf("accepted stream should be closed by delete")
	}
}

func TestEndPointRejectsUnsupportedTransport(t *testing.T) {
	testlog.Start(t)
	p := NewObjectPlugin(fastTransport(), nil)
	_, err := p.NewEndPoint(tables.EndPointSpec{Protocol: tables.ProtocolObject, Transport: "serial", Port: "COM1:9600"}, protocol.Options{ID: "x"})
	if !errors.Is(err, protocol.ErrTransportUnsupported) {
		t.Fatalf("expected ErrTransportUnsupported, got %v", err)
	}
	_, err = p.NewEndPoint(tables.EndPointSpec{Protocol: tables.ProtocolObject, Transport: "udp", Port: "1"}, protocol.Options{ID: "x"})
	if !errors.Is(err, tables.ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
	_, err = p.Connect(tables.ConnectSpec{Protocol: tables.ProtocolObject, Transport: "socket", Address: "*"}, protocol.Options{ID: "x"})
	if !errors.Is(err, tables.ErrInvalidAddress) {
		t.Fatalf("expected ErrInvalidAddress, got %v", err)
	}
}

func TestEndPointBindFailureReportsDead(t *testing.T) {
	testlog.Start(t)
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer taken.Close()

	p := NewDevicePlugin(fastTransport(), nil)
	h, err := p.NewEndPoint(tables.EndPointSpec{Protocol: tables.ProtocolDevice, Transport: "socket", Port: taken.Addr().String()}, protocol.Options{ID: "busy"})
	if err != nil {
		t.Fatalf("create must succeed and fail asynchronously: %v", err)
	}
	if !waitForCondition(2*time.Second, 10*time.Millisecond, func() bool { return !p.IsRunning(h) }) {
		t.Fatalf("end point with failed bind should stop running")
	}
	if err := p.DeleteEndPoint(h); err != nil {
		t.Fatalf("delete dead end point: %v", err)
	}
}

func TestConnectionOverMutualTLS(t *testing.T) {
	testlog.Start(t)
	ca := tlstest.NewAuthority(t, "linkctl-test-ca")
	server := ca.Loopback(t, "server")
	client := ca.Client(t, "client")

	serverCfg := fastTransport()
	serverCfg.TLS = transport.TLSConfig{CertFile: server.CertFile, KeyFile: server.KeyFile, CAFile: ca.CAFile(), Mutual: true}
	clientCfg := fastTransport()
	clientCfg.TLS = transport.TLSConfig{CertFile: client.CertFile, KeyFile: client.KeyFile, CAFile: ca.CAFile(), Mutual: true}

	sink := newStatusLog()
	listener := NewDevicePlugin(serverCfg, nil)
	ep, err := listener.NewEndPoint(tables.EndPointSpec{Protocol: tables.ProtocolDevice, Transport: "tls", Port: "127.0.0.1:0"}, protocol.Options{ID: "ep", Status: sink})
	if err != nil {
		t.Fatalf("new tls end point: %v", err)
	}
	defer listener.DeleteEndPoint(ep)
	if !waitForCondition(2*time.Second, 10*time.Millisecond, func() bool { return sink.isOpen("ep") }) {
		t.Fatalf("tls end point never opened")
	}
	addr, _ := listener.ListenAddr(ep)

	dialer := NewDevicePlugin(clientCfg, nil)
	conn, err := dialer.Connect(tables.ConnectSpec{Protocol: tables.ProtocolDevice, Transport: "TLS", Address: addr}, protocol.Options{ID: "conn", Status: sink})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if !waitForCondition(3*time.Second, 10*time.Millisecond, func() bool { return sink.isOpen("conn") }) {
		t.Fatalf("tls connection never opened")
	}
	if err := dialer.DeleteConnection(conn); err != nil {
		t.Fatalf("delete connection: %v", err)
	}
	if dialer.IsRunning(conn) || sink.isOpen("conn") {
		t.Fatalf("connection still live after delete")
	}
}

func TestReactivateKeepsSessionAcrossRetarget(t *testing.T) {
	testlog.Start(t)
	first := holdListener(t)
	second := holdListener(t)

	handler := SessionHandlerFunc(func(ctx context.Context, s *Session, rw io.ReadWriteCloser) error {
		if _, ok := s.Binding("first-remote"); !ok {
			s.Bind("first-remote", s.Remote())
		}
		return DrainHandler{}.Serve(ctx, s, rw)
	})
	sink := newStatusLog()
	p := NewDevicePlugin(fastTransport(), handler)
	spec := tables.ConnectSpec{Enabled: true, Name: "plc", Protocol: tables.ProtocolDevice, Transport: "socket", Address: first.Addr().String()}
	h, err := p.Connect(spec, protocol.Options{ID: "plc", Status: sink})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer p.DeleteConnection(h)
	if !waitForCondition(2*time.Second, 10*time.Millisecond, func() bool { return sink.isOpen("plc") }) {
		t.Fatalf("connection never opened")
	}
	sess, _ := p.Session(h)

	if err := p.Reactivate(h, spec); err != nil {
		t.Fatalf("no-op reactivate: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if sess.Connects() != 1 {
		t.Fatalf("unchanged reactivate must not reconnect, connects=%d", sess.Connects())
	}

	if err := p.Deactivate(h); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if !waitForCondition(2*time.Second, 10*time.Millisecond, func() bool { return !sink.isOpen("plc") }) {
		t.Fatalf("deactivated connection still open")
	}
	if !p.IsRunning(h) || !p.Paused(h) {
		t.Fatalf("deactivated connection must stay running and paused")
	}

	spec.Address = second.Addr().String()
	if err := p.Reactivate(h, spec); err != nil {
		t.Fatalf("reactivate: %v", err)
	}
	if !waitForCondition(2*time.Second, 10*time.Millisecond, func() bool { return sink.isOpen("plc") && sess.Connects() == 2 }) {
		t.Fatalf("reactivated connection never reopened, connects=%d", sess.Connects())
	}
	if got, _ := sess.Binding("first-remote"); got != first.Addr().String() {
		t.Fatalf("binding lost across reactivate: %q", got)
	}
	if sess.Remote() != second.Addr().String() {
		t.Fatalf("session remote not retargeted: %q", sess.Remote())
	}
}

func TestConnectionGivesUpAfterMaxDialAttempts(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	cfg := fastTransport()
	cfg.MaxDialAttempts = 2
	p := NewObjectPlugin(cfg, nil)
	h, err := p.Connect(tables.ConnectSpec{Protocol: tables.ProtocolObject, Transport: "socket", Address: addr}, protocol.Options{ID: "gone"})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if !waitForCondition(3*time.Second, 10*time.Millisecond, func() bool { return !p.IsRunning(h) }) {
		t.Fatalf("connection should give up and report dead")
	}
	if err := p.Reactivate(h, tables.ConnectSpec{Protocol: tables.ProtocolObject, Transport: "socket", Address: addr}); !errors.Is(err, protocol.ErrHandleStopped) {
		t.Fatalf("expected ErrHandleStopped, got %v", err)
	}
	if err := p.DeleteConnection(h); err != nil {
		t.Fatalf("delete: %v", err)
	}
}

func TestRegisterBuiltins(t *testing.T) {
	testlog.Start(t)
	reg := protocol.NewRegistry()
	if err := RegisterBuiltins(reg, transport.DefaultConfig()); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := RegisterBuiltins(reg, transport.DefaultConfig()); !errors.Is(err, protocol.ErrPluginExists) {
		t.Fatalf("expected ErrPluginExists on second registration, got %v", err)
	}
	dev, err := reg.Resolve(tables.ProtocolDevice)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !dev.(*Plugin).Supports(tables.TransportSerial) {
		t.Fatalf("device protocol must support serial")
	}
}

// holdListener accepts connections and keeps them open until the test ends.
func holdListener(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	var mu sync.Mutex
	var conns []net.Conn
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, c)
			mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		_ = ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			_ = c.Close()
		}
	})
	return ln
}

func waitForCondition(timeout time.Duration, interval time.Duration, fn func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return true
		}
		time.Sleep(interval)
	}
	return fn()
}
