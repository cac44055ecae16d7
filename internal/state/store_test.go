package state

import (
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/danmuck/linkctl/internal/tables"
	"github.com/danmuck/linkctl/internal/testutil/testlog"
)

func newTestStore(t *testing.T) (*Store, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	mock.Set(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	s := New(Config{Clock: mock})
	t.Cleanup(s.Close)
	return s, mock
}

func mustGen(t *testing.T, s *Store) Generations {
	t.Helper()
	g, err := s.Generations()
	if err != nil {
		t.Fatalf("generations: %v", err)
	}
	return g
}

func TestSetEndPointsBumpsOnlyOnChange(t *testing.T) {
	testlog.Start(t)
	s, _ := newTestStore(t)
	rows := []tables.EndPointSpec{{Enabled: true, Protocol: tables.ProtocolObject, Transport: "socket", Port: "5999"}}
	if err := s.SetEndPoints(rows); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.SetEndPoints(rows); err != nil {
		t.Fatalf("set again: %v", err)
	}
	if g := mustGen(t, s); g.EndPoints != 1 {
		t.Fatalf("expected one bump, got %d", g.EndPoints)
	}
	if err := s.UpdateEndPoint(0, rows[0]); err != nil {
		t.Fatalf("update unchanged: %v", err)
	}
	if g := mustGen(t, s); g.EndPoints != 1 {
		t.Fatalf("unchanged update must not bump, got %d", g.EndPoints)
	}
	rows[0].Enabled = false
	if err := s.UpdateEndPoint(0, rows[0]); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ := s.EndPoints()
	if got[0].Enabled {
		t.Fatalf("update not applied")
	}
	if g := mustGen(t, s); g.EndPoints != 2 || g.ConnectTo != 0 {
		t.Fatalf("unexpected generations %+v", g)
	}
}

func TestRowEditsRejectBadIndex(t *testing.T) {
	testlog.Start(t)
	s, _ := newTestStore(t)
	if err := s.UpdateConnect(0, tables.ConnectSpec{}); !errors.Is(err, ErrRowIndex) {
		t.Fatalf("expected ErrRowIndex, got %v", err)
	}
	if err := s.RemoveEndPoint(3); !errors.Is(err, ErrRowIndex) {
		t.Fatalf("expected ErrRowIndex, got %v", err)
	}
	idx, err := s.AddConnect(tables.ConnectSpec{Enabled: true, Name: "*", Protocol: tables.ProtocolDevice, Address: "*", Transport: "tls"})
	if err != nil || idx != 0 {
		t.Fatalf("add: %d %v", idx, err)
	}
	if err := s.RemoveConnect(0); err != nil {
		t.Fatalf("remove: %v", err)
	}
	rows, _ := s.ConnectTo()
	if len(rows) != 0 {
		t.Fatalf("expected empty table, got %v", rows)
	}
	if g := mustGen(t, s); g.ConnectTo != 2 {
		t.Fatalf("expected two bumps, got %d", g.ConnectTo)
	}
}

func TestObservePeerSequenceDedup(t *testing.T) {
	testlog.Start(t)
	s, _ := newTestStore(t)
	peer := tables.DiscoveredPeer{Name: "dev1", Protocol: tables.ProtocolDevice, IP: "10.0.0.5", TLSPort: 6384, Seq: 77}
	applied, err := s.ObservePeer(peer)
	if err != nil || !applied {
		t.Fatalf("first advert: %v %v", applied, err)
	}
	applied, err = s.ObservePeer(peer)
	if err != nil || applied {
		t.Fatalf("duplicate advert must be dropped: %v %v", applied, err)
	}
	if g := mustGen(t, s); g.Peers != 1 {
		t.Fatalf("expected exactly one peers update, got %d", g.Peers)
	}

	peer.Seq = 78
	if applied, _ := s.ObservePeer(peer); !applied {
		t.Fatalf("new sequence must apply")
	}
	if g := mustGen(t, s); g.Peers != 1 {
		t.Fatalf("refresh with unchanged fields must not bump, got %d", g.Peers)
	}
	peer.Seq, peer.TLSPort = 79, 7000
	_, _ = s.ObservePeer(peer)
	if g := mustGen(t, s); g.Peers != 2 {
		t.Fatalf("changed port must bump, got %d", g.Peers)
	}
}

func TestObservePeerEvictsExpiredRows(t *testing.T) {
	testlog.Start(t)
	s, mock := newTestStore(t)
	old := tables.DiscoveredPeer{Name: "stale", Protocol: tables.ProtocolObject, IP: "10.0.0.7", TCPPort: 6371, Seq: 1}
	if _, err := s.ObservePeer(old); err != nil {
		t.Fatalf("observe: %v", err)
	}
	mock.Add(10*time.Minute + time.Second)

	fresh := tables.DiscoveredPeer{Name: "fresh", Protocol: tables.ProtocolObject, IP: "10.0.0.8", TCPPort: 6371, Seq: 1}
	if _, err := s.ObservePeer(fresh); err != nil {
		t.Fatalf("observe: %v", err)
	}
	peers, _ := s.LANServices()
	if len(peers) != 1 || peers[0].Name != "fresh" {
		t.Fatalf("expected only fresh peer, got %+v", peers)
	}
	if !peers[0].LastSeen.Equal(mock.Now()) {
		t.Fatalf("last seen not stamped from clock: %v", peers[0].LastSeen)
	}
}

func TestCompactRemovesFutureDatedRows(t *testing.T) {
	testlog.Start(t)
	s, mock := newTestStore(t)
	start := mock.Now()
	if _, err := s.ObservePeer(tables.DiscoveredPeer{Name: "ahead", Protocol: tables.ProtocolDevice, Seq: 1}); err != nil {
		t.Fatalf("observe: %v", err)
	}
	mock.Set(start.Add(-4 * time.Second))
	if n, _ := s.Compact(); n != 0 {
		t.Fatalf("row within skew guard removed")
	}
	mock.Set(start.Add(-6 * time.Second))
	if n, _ := s.Compact(); n != 1 {
		t.Fatalf("future-dated row not removed")
	}
	peers, _ := s.LANServices()
	if len(peers) != 0 {
		t.Fatalf("expected empty table, got %+v", peers)
	}
}

func TestInstanceStatusFlowsThroughMailbox(t *testing.T) {
	testlog.Start(t)
	s, _ := newTestStore(t)
	name := "object_protocol_esocket5999"
	if err := s.PutInstance(InstanceRecord{Name: name, Kind: KindEndPoint, Protocol: tables.ProtocolObject, Transport: "socket", Port: 5999, Active: true}); err != nil {
		t.Fatalf("put: %v", err)
	}
	before := mustGen(t, s)

	s.PostStatus(name, true)
	open, err := s.InstanceOpen(name)
	if err != nil || !open {
		t.Fatalf("status post not applied before next request: %v %v", open, err)
	}
	active, _ := s.ActiveEndPoints()
	if len(active) != 1 || active[0].Port != 5999 {
		t.Fatalf("unexpected active end points: %+v", active)
	}
	after := mustGen(t, s)
	if after.EndPointStatus != before.EndPointStatus+1 {
		t.Fatalf("end point status generation not bumped: %+v -> %+v", before, after)
	}

	s.PostExit(name)
	recs, _ := s.Instances()
	if len(recs) != 1 || recs[0].Open || recs[0].Running {
		t.Fatalf("exit not applied: %+v", recs)
	}
	if g := mustGen(t, s); g.Exits != after.Exits+1 {
		t.Fatalf("exit generation not bumped: %+v", g)
	}
	if err := s.DropInstance(name); err != nil {
		t.Fatalf("drop: %v", err)
	}
	s.PostStatus(name, true)
	if open, _ := s.InstanceOpen(name); open {
		t.Fatalf("status for dropped instance must be ignored")
	}
}

func TestClosedStoreRejectsRequests(t *testing.T) {
	testlog.Start(t)
	s := New(DefaultConfig())
	s.Close()
	if _, err := s.Generations(); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	done := make(chan struct{})
	go func() {
		s.PostStatus("x", true)
		s.PostExit("x")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("posts after close must not block")
	}
	s.Close()
}
