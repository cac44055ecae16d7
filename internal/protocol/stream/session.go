package stream

import (
	"maps"
	"sync"
)

// Session is protocol state that belongs to one end point stream or to one
// connection across all of its reconnects.
type Session struct {
	id string

	mu       sync.Mutex
	remote   string
	connects int
	bindings map[string]string
}

func newSession(id string) *Session {
	return &Session{id: id, bindings: make(map[string]string)}
}

func (s *Session) ID() string {
	return s.id
}

// Bind stores a handler binding that survives deactivate and reactivate.
func (s *Session) Bind(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bindings[key] = value
}

func (s *Session) Binding(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.bindings[key]
	return v, ok
}

func (s *Session) Bindings() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.bindings)
}

// Connects counts the streams this session has been served on.
func (s *Session) Connects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connects
}

func (s *Session) Remote() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remote
}

func (s *Session) attach(remote string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remote = remote
	s.connects++
}
