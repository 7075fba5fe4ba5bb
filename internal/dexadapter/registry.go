package dexadapter

import (
	"fmt"
	"sync"
)

// Registry maps a configured dex_tag to its adapter instance. A DEX's
// clones (same protocol, different factory/bytecode hash) are separate
// registry entries, not new adapter code (spec.md §4.2).
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry returns an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds adapter under dexTag, replacing any prior registration.
func (r *Registry) Register(dexTag string, adapter Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[dexTag] = adapter
}

// Get returns the adapter registered for dexTag.
func (r *Registry) Get(dexTag string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[dexTag]
	return a, ok
}

// Tags returns every registered dex_tag, for iterating during discovery.
func (r *Registry) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tags := make([]string, 0, len(r.adapters))
	for t := range r.adapters {
		tags = append(tags, t)
	}
	return tags
}

// MustGet panics if dexTag is not registered; used at startup wiring time
// where a missing tag is a configuration bug, not a runtime condition.
func (r *Registry) MustGet(dexTag string) Adapter {
	a, ok := r.Get(dexTag)
	if !ok {
		panic(fmt.Sprintf("dexadapter: no adapter registered for %q", dexTag))
	}
	return a
}
