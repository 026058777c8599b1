package handle

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Shard count is a compile-time tradeoff between per-shard contention
// and the cost of Count()/diagnostics walking every shard. The store is
// the single most contended structure in the runtime — every send,
// link, and kill path touches it — so it is sharded the way a single
// lock-guarded map would not survive at scale.
const (
	shardBits  = 4
	shardCount = 1 << shardBits
	shardMask  = shardCount - 1
)

type entry struct {
	inner    Inner
	alive    atomic.Bool
	refCount atomic.Int64

	mu     sync.Mutex
	linked map[Handle]struct{}
}

type shard struct {
	mu      sync.RWMutex
	entries map[Handle]*entry
	counter atomic.Uint64
}

// Store is the reference-counted table backing every process entry a
// peer knows about. The zero value is not usable; construct with
// NewStore.
type Store struct {
	shards    [shardCount]*shard
	nextShard atomic.Uint64
}

// NewStore allocates an empty store.
func NewStore() *Store {
	st := &Store{}
	for i := range st.shards {
		st.shards[i] = &shard{entries: make(map[Handle]*entry)}
	}
	return st
}

func (s *Store) shardFor(h Handle) *shard {
	return s.shards[uint64(h)&shardMask]
}

// lookup panics on an invalid handle: per spec this is a programmer
// error (use-after-free, or a handle from another store), not a
// recoverable fault.
func (s *Store) lookup(h Handle) *entry {
	sh := s.shardFor(h)
	sh.mu.RLock()
	e, ok := sh.entries[h]
	sh.mu.RUnlock()
	if !ok {
		panic(fmt.Sprintf("handle: invalid handle %s", h))
	}
	return e
}

// Insert allocates a slot for inner, sets alive=true and ref_count=1,
// and returns the sole owning capability — the "first capability" of
// spec.md's lifecycle. Permission bits default to the full set; callers
// that hand this capability to a less-trusted party should restrict it
// with Capability.WithPerm first.
func (s *Store) Insert(inner Inner) Capability {
	idx := s.nextShard.Add(1) & shardMask
	sh := s.shards[idx]
	local := sh.counter.Add(1)
	h := Handle((local << shardBits) | idx)

	e := &entry{linked: make(map[Handle]struct{})}
	e.inner = inner
	e.alive.Store(true)
	e.refCount.Store(1)

	sh.mu.Lock()
	sh.entries[h] = e
	sh.mu.Unlock()

	inner.OnInsert(h)
	return Capability{H: h, Perm: PermSend | PermKill | PermLink}
}

// Send delivers s to h if it is alive; otherwise s is freed and the
// call is a silent no-op. Panics on an invalid handle.
func (s *Store) Send(h Handle, sig Signal) {
	e := s.lookup(h)
	if !e.alive.Load() {
		sig.Free(s)
		return
	}
	if !e.inner.OnSignal(sig) {
		sig.Free(s)
	}
}

// Kill transitions h's alive flag from true to false exactly once. On
// the transitioning call, it delivers Kill to the entry, then drains
// the linked set and sends Unlink{Subject: h} to every object. Each
// Unlink carries a fresh reference on h (released when the signal is
// freed); the reference the link held on the object is released once
// the Unlink has been handed over. A second kill is a no-op.
func (s *Store) Kill(h Handle) {
	e := s.lookup(h)
	if !e.alive.CompareAndSwap(true, false) {
		return
	}

	if !e.inner.OnSignal(Kill{}) {
		(Kill{}).Free(s)
	}

	e.mu.Lock()
	linked := e.linked
	e.linked = nil
	e.mu.Unlock()

	for obj := range linked {
		s.IncRef(h)
		s.Send(obj, Unlink{Subject: h})
		s.DecRef(obj)
	}
}

// Link records that subject has an outgoing link to object: object's
// death is no longer relevant, but subject's death will deliver
// Unlink{subject} to object. If subject is already dead, the link is
// honored immediately — object still gets its Unlink, just without
// ever appearing in a linked set. The subject.linked lock spans the
// alive check and the set mutation so a concurrent Kill cannot drain
// between them and lose the link.
func (s *Store) Link(subject, object Handle) {
	se := s.lookup(subject)

	se.mu.Lock()
	if se.linked != nil {
		if _, exists := se.linked[object]; !exists {
			s.IncRef(object)
			se.linked[object] = struct{}{}
		}
		se.mu.Unlock()
		return
	}
	se.mu.Unlock()

	// subject died before or during this call (se.linked was already
	// drained to nil by Kill). Take the subject reference the Unlink
	// carries, as Kill does, then deliver the unlink it would have sent.
	s.IncRef(subject)
	s.Send(object, Unlink{Subject: subject})
}

// IsAlive reports whether h's alive flag is still true. A false result
// does not imply the slot has been removed — other references may
// still be outstanding.
func (s *Store) IsAlive(h Handle) bool {
	return s.lookup(h).alive.Load()
}

// IncRef increments h's reference count. The caller must already hold
// a valid reference to h (a capability, a link, or the table itself);
// incrementing a handle nobody holds is a programmer error the same way
// calling Clone on an already-freed capability would be.
func (s *Store) IncRef(h Handle) {
	s.lookup(h).refCount.Add(1)
}

// DecRef decrements h's reference count. On the decrement that reaches
// zero, it calls inner.OnRemove(), drains any remaining linked set
// (decrementing each transitively — this is what unwinds link cycles
// without a cycle collector), and removes the slot.
func (s *Store) DecRef(h Handle) {
	sh := s.shardFor(h)

	sh.mu.Lock()
	e, ok := sh.entries[h]
	if !ok {
		sh.mu.Unlock()
		panic(fmt.Sprintf("handle: invalid handle %s", h))
	}
	remaining := e.refCount.Add(-1)
	if remaining > 0 {
		sh.mu.Unlock()
		return
	}
	delete(sh.entries, h)
	sh.mu.Unlock()

	e.inner.OnRemove()

	e.mu.Lock()
	linked := e.linked
	e.linked = nil
	e.mu.Unlock()

	for obj := range linked {
		s.DecRef(obj)
	}
}

// Count returns the number of live slots across all shards. Intended
// for diagnostics (internal/admin), not for anything on the hot path.
func (s *Store) Count() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.entries)
		sh.mu.RUnlock()
	}
	return n
}
