package node

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/linkctl/internal/discovery"
	"github.com/danmuck/linkctl/internal/state"
	"github.com/danmuck/linkctl/internal/tables"
	"github.com/danmuck/linkctl/internal/testutil/testlog"
)

type loopbackNetwork struct {
	conn net.PacketConn
}

func (l *loopbackNetwork) Open() (net.PacketConn, error) { return l.conn, nil }
func (l *loopbackNetwork) Destination() net.Addr         { return l.conn.LocalAddr() }

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

const enabledTables = `
[[endpoint]]
enable = true
protocol = "object-protocol"
transport = "socket"
port = "127.0.0.1:0"

[[connect]]
enable = true
name = "*"
protocol = "device-protocol"
address = "*"
transport = "tls"
`

const disabledTables = `
[[endpoint]]
enable = false
protocol = "object-protocol"
transport = "socket"
port = "127.0.0.1:0"
`

func TestConfigDefaultsPropagateIdentity(t *testing.T) {
	cfg := Config{Nickname: "bench", TablesPath: "tables.toml"}.WithDefaults()
	if !strings.HasPrefix(cfg.Name, "linkctl-") {
		t.Fatalf("generated name=%q", cfg.Name)
	}
	if cfg.Discovery.Name != cfg.Name || cfg.Discovery.Nickname != "bench" {
		t.Fatalf("discovery identity not propagated: %+v", cfg.Discovery)
	}
	if cfg.HTTP.Name != cfg.Name || cfg.HTTP.TablesPath != "tables.toml" {
		t.Fatalf("http config not propagated: %+v", cfg.HTTP)
	}
	if cfg.Transport.DefaultBaud != 9600 || cfg.Reconcile.Tick != 100*time.Millisecond {
		t.Fatalf("nested defaults missing: %+v %+v", cfg.Transport, cfg.Reconcile)
	}
}

func TestLoadTablesMissingFileLeavesTablesEmpty(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.Name = "node-a"
	cfg.TablesPath = filepath.Join(t.TempDir(), "missing.toml")
	cfg.DiscoveryEnabled = false
	cfg.HTTPEnabled = false
	s, err := NewService(cfg)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	defer s.Store().Close()
	if err := s.LoadTables(); err != nil {
		t.Fatalf("load: %v", err)
	}
	rows, _ := s.Store().EndPoints()
	if len(rows) != 0 {
		t.Fatalf("rows=%+v", rows)
	}
	if names := s.Registry().Names(); len(names) != 2 {
		t.Fatalf("builtin protocols=%v", names)
	}
}

func TestServeReconcilesTablesFileAndTearsDown(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "tables.toml")
	if err := os.WriteFile(path, []byte(enabledTables), 0o644); err != nil {
		t.Fatalf("write tables: %v", err)
	}
	udp, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen udp: %v", err)
	}

	cfg := DefaultConfig()
	cfg.Name = "node-a"
	cfg.TablesPath = path
	cfg.Reconcile.Tick = 20 * time.Millisecond
	cfg.Discovery.Network = &loopbackNetwork{conn: udp}
	cfg.HTTP.ListenAddr = "127.0.0.1:0"
	s, err := NewService(cfg)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()
	stopped := false
	defer func() {
		cancel()
		if !stopped {
			<-done
		}
	}()

	openEndPoint := func() bool {
		recs, err := s.Store().Instances()
		if err != nil || len(recs) != 1 {
			return false
		}
		return recs[0].Kind == state.KindEndPoint && recs[0].Open
	}
	if !waitForCondition(5*time.Second, 20*time.Millisecond, openEndPoint) {
		recs, _ := s.Store().Instances()
		t.Fatalf("end point never opened: %+v", recs)
	}
	rows, _ := s.Store().ConnectTo()
	if len(rows) != 1 || !rows[0].Wildcard() {
		t.Fatalf("connect rows=%+v", rows)
	}
	if !waitForCondition(2*time.Second, 20*time.Millisecond, func() bool {
		return s.Discovery().State() == discovery.StateBroadcastingListening
	}) {
		t.Fatalf("discovery state=%s", s.Discovery().State())
	}

	if err := os.WriteFile(path, []byte(disabledTables), 0o644); err != nil {
		t.Fatalf("rewrite tables: %v", err)
	}
	removed := waitForCondition(5*time.Second, 20*time.Millisecond, func() bool {
		recs, err := s.Store().Instances()
		return err == nil && len(recs) == 0
	})
	if !removed {
		t.Fatalf("disabled end point was not deleted after reload")
	}
	eps, _ := s.Store().EndPoints()
	if len(eps) != 1 || eps[0].Enabled || eps[0].Protocol != tables.ProtocolObject {
		t.Fatalf("reloaded rows=%+v", eps)
	}

	cancel()
	select {
	case err := <-done:
		stopped = true
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("serve did not stop")
	}
}

func TestServeSurvivesTablesWatchFailure(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.Name = "node-a"
	cfg.TablesPath = filepath.Join(t.TempDir(), "absent", "tables.toml")
	cfg.Reconcile.Tick = 20 * time.Millisecond
	cfg.DiscoveryEnabled = false
	cfg.HTTPEnabled = false
	s, err := NewService(cfg)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	select {
	case err := <-done:
		t.Fatalf("serve ended when the tables directory was missing: %v", err)
	case <-time.After(200 * time.Millisecond):
	}

	if err := s.Store().SetEndPoints([]tables.EndPointSpec{{Enabled: true, Protocol: tables.ProtocolObject, Transport: "socket", Port: "127.0.0.1:0"}}); err != nil {
		t.Fatalf("set end points: %v", err)
	}
	if !waitForCondition(5*time.Second, 20*time.Millisecond, func() bool {
		recs, err := s.Store().Instances()
		return err == nil && len(recs) == 1 && recs[0].Open
	}) {
		t.Fatalf("reconciler stopped after the watcher failed")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("serve did not stop")
	}
}
