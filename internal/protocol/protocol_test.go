package protocol

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/linkctl/internal/tables"
	"github.com/danmuck/linkctl/internal/testutil/testlog"
)

type recordingSink struct {
	mu     sync.Mutex
	status []bool
	exits  int
}

func (s *recordingSink) PostStatus(id string, open bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = append(s.status, open)
}

func (s *recordingSink) PostExit(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exits++
}

type stubPlugin struct{ name string }

func (p stubPlugin) Name() string { return p.name }
func (p stubPlugin) NewEndPoint(tables.EndPointSpec, Options) (*Handle, error) {
	return nil, nil
}
func (p stubPlugin) DeleteEndPoint(*Handle) error { return nil }
func (p stubPlugin) Connect(tables.ConnectSpec, Options) (*Handle, error) {
	return nil, nil
}
func (p stubPlugin) DeleteConnection(*Handle) error               { return nil }
func (p stubPlugin) Reactivate(*Handle, tables.ConnectSpec) error { return nil }
func (p stubPlugin) Deactivate(*Handle) error                     { return nil }
func (p stubPlugin) IsRunning(*Handle) bool                       { return false }

func TestRegistryRegisterResolve(t *testing.T) {
	testlog.Start(t)
	r := NewRegistry()
	if err := r.Register(nil); !errors.Is(err, ErrPluginNil) {
		t.Fatalf("expected ErrPluginNil, got %v", err)
	}
	if err := r.Register(stubPlugin{name: tables.ProtocolObject}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register(stubPlugin{name: tables.ProtocolObject}); !errors.Is(err, ErrPluginExists) {
		t.Fatalf("expected ErrPluginExists, got %v", err)
	}
	if _, err := r.Resolve("relay-protocol"); !errors.Is(err, ErrProtocolUnknown) {
		t.Fatalf("expected ErrProtocolUnknown, got %v", err)
	}
	p, err := r.Resolve(" object-protocol ")
	if err != nil || p.Name() != tables.ProtocolObject {
		t.Fatalf("resolve: %v %v", p, err)
	}
	if names := r.Names(); len(names) != 1 || names[0] != tables.ProtocolObject {
		t.Fatalf("unexpected names: %v", names)
	}
}

func TestHandleStopJoinsWorkerAndPostsExit(t *testing.T) {
	testlog.Start(t)
	sink := &recordingSink{}
	h := NewHandle(Options{ID: "object_protocol_e0_5999", Status: sink})
	if h.Running() {
		t.Fatalf("idle handle must not report running")
	}

	ready := make(chan struct{})
	h.Start(func(ctx context.Context) {
		h.SetOpen(true)
		h.SetOpen(true)
		close(ready)
		<-ctx.Done()
	})
	<-ready
	if !h.Running() || !h.Open() {
		t.Fatalf("expected running and open")
	}

	h.Stop()
	if h.Running() || h.Open() {
		t.Fatalf("expected stopped and closed after Stop")
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.status) != 2 || !sink.status[0] || sink.status[1] {
		t.Fatalf("expected open then closed posts, got %v", sink.status)
	}
	if sink.exits != 1 {
		t.Fatalf("expected one exit post, got %d", sink.exits)
	}
}

func TestHandleReportsDeadAfterWorkerReturns(t *testing.T) {
	testlog.Start(t)
	h := NewHandle(Options{ID: "dead"})
	h.Start(func(ctx context.Context) {})
	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatalf("worker did not exit")
	}
	if h.Running() {
		t.Fatalf("exited worker must not report running")
	}
	h.Stop()
}
