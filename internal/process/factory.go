// Package process implements the process factory: it allocates dense
// local process IDs, records spawn metadata, and maintains an
// observable id -> status table so control-plane clients can subscribe
// to lifecycle changes. IDs are a human-oriented alias; they never
// replace handles for lifetime purposes (handle.Store owns those).
package process

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/hearthspace/hearth/internal/handle"
)

// Metadata describes a spawned process for operator-facing surfaces.
type Metadata struct {
	Name     string
	ModuleID uuid.UUID
}

// Record pairs a dense local ID with its metadata and first capability.
type Record struct {
	ID       uint64
	Metadata Metadata
	Cap      handle.Capability
}

// StatusSink is notified on every status transition, in addition to any
// per-id Subscribe channels. The runtime wires this to the host event
// bus so plugins can react to lifecycle changes without depending on
// Factory directly.
type StatusSink func(id uint64, st Status)

// Option configures a Factory at construction time.
type Option func(*Factory)

// WithStatusSink registers a sink invoked on every SetStatus call.
func WithStatusSink(sink StatusSink) Option {
	return func(f *Factory) { f.sinks = append(f.sinks, sink) }
}

// Factory allocates local process IDs and tracks their status.
type Factory struct {
	store  *handle.Store
	nextID atomic.Uint64
	sinks  []StatusSink

	mu      sync.RWMutex
	records map[uint64]*Record
	status  map[uint64]Status

	subsMu sync.Mutex
	subs   map[uint64][]chan Status
}

// New builds a factory that inserts into store.
func New(store *handle.Store, opts ...Option) *Factory {
	f := &Factory{
		store:   store,
		records: make(map[uint64]*Record),
		status:  make(map[uint64]Status),
		subs:    make(map[uint64][]chan Status),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Spawn inserts inner into the store, allocates the next dense ID, and
// returns both the record and the first capability — the capability
// granted to the spawner per spec.md §4.4.
func (f *Factory) Spawn(inner handle.Inner, meta Metadata) (*Record, handle.Capability) {
	cap := f.store.Insert(inner)
	id := f.nextID.Add(1)
	rec := &Record{ID: id, Metadata: meta, Cap: cap}

	f.mu.Lock()
	f.records[id] = rec
	f.status[id] = Starting
	f.mu.Unlock()

	return rec, cap
}

// SetStatus records a lifecycle transition and fans it out to every
// sink and Subscribe-r for id. Transitions are not validated against a
// state machine — Crashed can follow Starting directly, for instance —
// since a crash can happen before a guest module finishes initializing.
func (f *Factory) SetStatus(id uint64, st Status) {
	f.mu.Lock()
	if _, ok := f.records[id]; !ok {
		f.mu.Unlock()
		return
	}
	f.status[id] = st
	f.mu.Unlock()

	for _, sink := range f.sinks {
		sink(id, st)
	}

	f.subsMu.Lock()
	for _, ch := range f.subs[id] {
		select {
		case ch <- st:
		default:
		}
	}
	f.subsMu.Unlock()
}

// Status returns the current status of id.
func (f *Factory) Status(id uint64) (Status, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	st, ok := f.status[id]
	return st, ok
}

// Record returns the spawn record for id.
func (f *Factory) Record(id uint64) (*Record, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	rec, ok := f.records[id]
	return rec, ok
}

// Snapshot returns a point-in-time copy of the whole status table, the
// shape the control-plane Watch RPC sends on a new subscriber's first
// frame.
func (f *Factory) Snapshot() map[uint64]Status {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[uint64]Status, len(f.status))
	for id, st := range f.status {
		out[id] = st
	}
	return out
}

// Subscribe registers a channel that receives every subsequent status
// transition for id. The returned cancel func must be called to
// unregister the channel and let it be garbage collected.
func (f *Factory) Subscribe(id uint64) (ch <-chan Status, cancel func()) {
	c := make(chan Status, 8)
	f.subsMu.Lock()
	f.subs[id] = append(f.subs[id], c)
	f.subsMu.Unlock()

	return c, func() {
		f.subsMu.Lock()
		defer f.subsMu.Unlock()
		list := f.subs[id]
		for i, existing := range list {
			if existing == c {
				f.subs[id] = append(list[:i], list[i+1:]...)
				close(c)
				return
			}
		}
	}
}
