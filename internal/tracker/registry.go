package tracker

import (
	"fmt"
	"sort"
	"sync"

	"github.com/banshee-data/skelly.rig/internal/errkind"
)

// Registry holds the available tracker mappers by source name.
type Registry struct {
	mu      sync.RWMutex
	mappers map[string]Mapper
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{mappers: make(map[string]Mapper)}
}

// DefaultRegistry returns a registry with the built-in trackers.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	_ = r.Register(MediaPipe())
	return r
}

// Register adds m. Registering a source twice is a Configuration error.
func (r *Registry) Register(m Mapper) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.mappers[m.Source()]; exists {
		return fmt.Errorf("tracker %q already registered: %w", m.Source(), errkind.Configuration)
	}
	r.mappers[m.Source()] = m
	return nil
}

// Clone returns a registry holding the same mappers; registering into it
// leaves r unchanged.
func (r *Registry) Clone() *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c := NewRegistry()
	for s, m := range r.mappers {
		c.mappers[s] = m
	}
	return c
}

// Get returns the mapper for source.
func (r *Registry) Get(source string) (Mapper, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.mappers[source]
	if !ok {
		return nil, fmt.Errorf("unknown tracker %q (have %v): %w", source, r.sourcesLocked(), errkind.Configuration)
	}
	return m, nil
}

// Sources lists the registered source names in sorted order.
func (r *Registry) Sources() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sourcesLocked()
}

func (r *Registry) sourcesLocked() []string {
	out := make([]string, 0, len(r.mappers))
	for s := range r.mappers {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
