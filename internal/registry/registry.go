// Package registry implements the service registry: a mutex-guarded
// map from a service name to the capability that reaches it.
package registry

import (
	"sync"

	"github.com/hearthspace/hearth/internal/handle"
)

// Option configures a Registry at construction time.
type Option func(*Registry)

// WithCapacityHint pre-sizes the backing map for deployments that
// expect a large, mostly-static service set.
func WithCapacityHint(n int) Option {
	return func(r *Registry) {
		r.entries = make(map[string]handle.Capability, n)
	}
}

// Registry maps service names to capabilities. Insert, Get, Remove and
// List are all O(1)/O(n)-in-result-size and short enough to run under a
// single coarse mutex — the same tradeoff the teacher's connection
// registry makes for its hot path.
type Registry struct {
	store *handle.Store

	mu      sync.Mutex
	entries map[string]handle.Capability
}

// New builds a registry backed by store. store is retained so that Get
// can apply the dead-service policy (see Get's doc).
func New(store *handle.Store, opts ...Option) *Registry {
	r := &Registry{
		store:   store,
		entries: make(map[string]handle.Capability),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Insert registers cap under name. If name was already registered, the
// previous capability is returned so the caller can free it — this is
// intentionally the only way to observe a displaced value, so a leak at
// this call site is a call-site bug, not a registry bug.
func (r *Registry) Insert(name string, cap handle.Capability) (prev handle.Capability, had bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, had = r.entries[name]
	r.entries[name] = cap
	return prev, had
}

// Get returns a clone of the capability registered under name. If the
// underlying process has already died, Get returns (zero, false): this
// is the uniform policy spec.md's open question asks implementations to
// pick, applied here by probing store.IsAlive at lookup time rather
// than auto-evicting dead entries from the map (a later Insert of the
// same name must still see and return the stale-but-present value).
func (r *Registry) Get(name string) (handle.Capability, bool) {
	r.mu.Lock()
	cap, ok := r.entries[name]
	r.mu.Unlock()
	if !ok {
		return handle.Capability{}, false
	}
	if !r.store.IsAlive(cap.H) {
		return handle.Capability{}, false
	}
	return cap.Clone(r.store), true
}

// Remove detaches name from the registry. The returned capability must
// be freed by the caller.
func (r *Registry) Remove(name string) (handle.Capability, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cap, ok := r.entries[name]
	if ok {
		delete(r.entries, name)
	}
	return cap, ok
}

// List returns a snapshot of currently registered names.
func (r *Registry) List() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	return names
}

// Close frees every remaining capability. Intended for full runtime
// teardown.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, cap := range r.entries {
		cap.Free(r.store)
		delete(r.entries, name)
	}
}
