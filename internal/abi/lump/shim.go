package lump

import (
	"fmt"
	"sync"
)

// GuestMemory is the minimal contract the shim needs from a guest
// module's linear memory: byte-range read/write by offset. The actual
// bytecode execution engine and guest ABI dispatch table are external
// collaborators (spec.md §1); the shim only needs this much to satisfy
// the four lump calls.
type GuestMemory interface {
	Read(offset, length uint32) ([]byte, bool)
	Write(offset uint32, data []byte) bool
}

// Trap is returned by a host call that the guest used incorrectly
// (bad handle, blob not found). Per spec.md §4.7, errors are signalled
// as a trap carrying a diagnostic string rather than a sentinel return
// value, because guest code is not expected to recover from ABI
// misuse — it is a bug in the guest, not a recoverable condition.
type Trap struct {
	Call string
	Msg  string
}

func (t *Trap) Error() string {
	return fmt.Sprintf("lump.%s: %s", t.Call, t.Msg)
}

func trap(call, format string, args ...interface{}) *Trap {
	return &Trap{Call: call, Msg: fmt.Sprintf(format, args...)}
}

// handle is a per-guest slab index, grounded on the capns-go plugin
// host's thin-wrapper-over-generated-IDs idiom (buf/contact_gen.go),
// generalized from protobuf-generated handles to guest-visible slab
// indices. It shares no numbering with internal/handle.Handle — a
// guest's lump handles are scoped to its own slab, never comparable
// across guests or with process-store handles.
type handle = uint32

// Shim is installed per spawned guest module; it owns the guest's slab
// of currently-held lump handles and forwards to the shared content
// store. One Shim per guest process entry.
type Shim struct {
	store *Store

	mu   sync.Mutex
	slab map[handle]ID
	next handle
}

// NewShim builds a shim over store for one guest instance.
func NewShim(store *Store) *Shim {
	return &Shim{store: store, slab: make(map[handle]ID)}
}

// FromID implements the `from_id` host call: read id from guest memory
// at idPtr (32 bytes), look the blob up in the host store, insert into
// this guest's slab, and return the slab index. Traps if the blob is
// not present — the guest asked for content this peer never received.
func (s *Shim) FromID(mem GuestMemory, idPtr uint32) (handle, error) {
	raw, ok := mem.Read(idPtr, 32)
	if !ok {
		return 0, trap("from_id", "guest memory out of bounds at %d+32", idPtr)
	}
	var id ID
	copy(id[:], raw)

	if !s.store.Has(id) {
		return 0, trap("from_id", "no lump known for id %s", id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.next
	s.next++
	s.slab[h] = id
	return h, nil
}

// Load implements the `load` host call: copy a guest byte range
// [ptr, ptr+len) into the host store and return a slab handle for it.
func (s *Shim) Load(mem GuestMemory, ptr, length uint32) (handle, error) {
	data, ok := mem.Read(ptr, length)
	if !ok {
		return 0, trap("load", "guest memory out of bounds at %d+%d", ptr, length)
	}
	// copy: mem.Read may return a view into guest-owned memory that can
	// be reused or unmapped after this call returns.
	owned := append([]byte(nil), data...)
	id := s.store.Put(owned)

	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.next
	s.next++
	s.slab[h] = id
	return h, nil
}

func (s *Shim) resolve(call string, h handle) (ID, error) {
	s.mu.Lock()
	id, ok := s.slab[h]
	s.mu.Unlock()
	if !ok {
		return ID{}, trap(call, "invalid handle %d", h)
	}
	return id, nil
}

// GetID implements `get_id`: write h's 32-byte content hash to guest
// memory at idPtr.
func (s *Shim) GetID(mem GuestMemory, h handle, idPtr uint32) error {
	id, err := s.resolve("get_id", h)
	if err != nil {
		return err
	}
	if !mem.Write(idPtr, id[:]) {
		return trap("get_id", "guest memory out of bounds at %d+32", idPtr)
	}
	return nil
}

// GetLen implements `get_len`: return the blob's byte length.
func (s *Shim) GetLen(h handle) (uint32, error) {
	id, err := s.resolve("get_len", h)
	if err != nil {
		return 0, err
	}
	data, ok := s.store.Get(id)
	if !ok {
		return 0, trap("get_len", "lump %s evicted from this peer", id)
	}
	return uint32(len(data)), nil
}

// GetData implements `get_data`: write the blob's full bytes to guest
// memory starting at ptr. The guest is responsible for having sized
// its buffer with a prior GetLen call.
func (s *Shim) GetData(mem GuestMemory, h handle, ptr uint32) error {
	id, err := s.resolve("get_data", h)
	if err != nil {
		return err
	}
	data, ok := s.store.Get(id)
	if !ok {
		return trap("get_data", "lump %s evicted from this peer", id)
	}
	if !mem.Write(ptr, data) {
		return trap("get_data", "guest memory out of bounds at %d+%d", ptr, len(data))
	}
	return nil
}

// Free implements `free`: remove h from the guest's slab. The
// underlying lump is untouched — it may still be referenced by other
// handles, other guests, or the disk store itself.
func (s *Shim) Free(h handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.slab[h]; !ok {
		return trap("free", "invalid handle %d", h)
	}
	delete(s.slab, h)
	return nil
}
