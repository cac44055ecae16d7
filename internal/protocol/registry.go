package protocol

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry maps protocol names to plugins.
type Registry struct {
	repo map[string]Plugin
	mu   sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{repo: make(map[string]Plugin)}
}

// Register adds p under p.Name(). Names are unique.
func (r *Registry) Register(p Plugin) error {
	if p == nil {
		return ErrPluginNil
	}
	name := strings.TrimSpace(p.Name())
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.repo[name]; ok {
		return fmt.Errorf("%w: %s", ErrPluginExists, name)
	}
	r.repo[name] = p
	return nil
}

func (r *Registry) Get(name string) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.repo[strings.TrimSpace(name)]
	return p, ok
}

// Resolve is Get with an ErrProtocolUnknown error for missing names.
func (r *Registry) Resolve(name string) (Plugin, error) {
	p, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrProtocolUnknown, name)
	}
	return p, nil
}

// Names returns registered protocol names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.repo))
	for name := range r.repo {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
