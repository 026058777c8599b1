package handle

import (
	"sync"
	"testing"
)

// recorder is a test Inner that appends every signal it is handed and
// always accepts (returns true), so Free is never implicitly invoked by
// the store for signals it receives.
type recorder struct {
	mu      sync.Mutex
	handle  Handle
	signals []Signal
	removed bool
}

func (r *recorder) OnInsert(h Handle) { r.handle = h }

func (r *recorder) OnSignal(s Signal) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals = append(r.signals, s)
	return true
}

func (r *recorder) OnRemove() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = true
}

func (r *recorder) snapshot() []Signal {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Signal, len(r.signals))
	copy(out, r.signals)
	return out
}

func TestSendToDead(t *testing.T) {
	s := NewStore()
	target := &recorder{}
	capTarget := s.Insert(target)

	freed := &recorder{}
	capFreed := s.Insert(freed)

	s.Kill(capTarget.H)

	s.Send(capTarget.H, Message{Data: []byte{1, 2, 3}, Caps: []Capability{capFreed.Clone(s)}})

	if got := target.snapshot(); len(got) != 1 {
		t.Fatalf("dead target should only have received its own Kill, got %d signals", len(got))
	}

	// The carried clone must have been freed: only the insert's reference
	// remains, so dropping it removes the slot and a second DecRef must panic.
	s.DecRef(capFreed.H)
	func() {
		defer func() {
			if recover() == nil {
				t.Fatalf("expected panic decrementing an already-removed handle")
			}
		}()
		s.DecRef(capFreed.H)
	}()
}

func TestCyclicLinkCleanup(t *testing.T) {
	s := NewStore()
	a := &recorder{}
	b := &recorder{}
	capA := s.Insert(a)
	capB := s.Insert(b)

	s.Link(capA.H, capB.H)
	s.Link(capB.H, capA.H)

	s.DecRef(capA.H)
	s.DecRef(capB.H)

	if !a.removed || !b.removed {
		t.Fatalf("expected both cyclically-linked entries to be removed, a.removed=%v b.removed=%v", a.removed, b.removed)
	}
	if len(a.snapshot()) != 0 || len(b.snapshot()) != 0 {
		t.Fatalf("cyclic cleanup via dec_ref must not emit any signals")
	}
}

func TestLinkToAlreadyDead(t *testing.T) {
	s := NewStore()
	subj := &recorder{}
	obj := &recorder{}
	capSubj := s.Insert(subj)
	capObj := s.Insert(obj)

	s.Kill(capSubj.H)
	s.Link(capSubj.H, capObj.H)

	got := obj.snapshot()
	if len(got) != 1 {
		t.Fatalf("expected exactly one signal delivered to obj, got %d", len(got))
	}
	u, ok := got[0].(Unlink)
	if !ok || u.Subject != capSubj.H {
		t.Fatalf("expected Unlink{%s}, got %#v", capSubj.H, got[0])
	}
}

func TestKillIdempotent(t *testing.T) {
	s := NewStore()
	r := &recorder{}
	c := s.Insert(r)

	s.Kill(c.H)
	s.Kill(c.H)

	if got := len(r.snapshot()); got != 1 {
		t.Fatalf("second kill must be a no-op, expected 1 signal, got %d", got)
	}
}

func TestLinkTwiceKillOnceDeliversOneUnlink(t *testing.T) {
	s := NewStore()
	a := &recorder{}
	b := &recorder{}
	capA := s.Insert(a)
	capB := s.Insert(b)

	s.Link(capA.H, capB.H)
	s.Link(capA.H, capB.H) // duplicate link must be a no-op

	s.Kill(capA.H)

	unlinks := 0
	for _, sig := range b.snapshot() {
		if _, ok := sig.(Unlink); ok {
			unlinks++
		}
	}
	if unlinks != 1 {
		t.Fatalf("expected exactly one Unlink at b, got %d", unlinks)
	}
}

func TestCapabilityRoundTripIdentity(t *testing.T) {
	s := NewStore()
	r := &recorder{}
	c := s.Insert(r)

	clone := c.Clone(s)
	if clone.H != c.H || clone.Perm != c.Perm {
		t.Fatalf("clone must preserve handle and permissions")
	}
	clone.Free(s)
	// original reference still valid
	if !s.IsAlive(c.H) {
		t.Fatalf("original capability should still observe the entry alive")
	}
}

func TestSendRejectedWithoutPermIsFreed(t *testing.T) {
	s := NewStore()
	r := &recorder{}
	c := s.Insert(r)
	restricted := c.WithPerm(0)

	held := &recorder{}
	capHeld := s.Insert(held)

	restricted.Send(s, Message{Caps: []Capability{capHeld.Clone(s)}})

	if len(r.snapshot()) != 0 {
		t.Fatalf("entry without PermSend must never see the message")
	}
	s.DecRef(capHeld.H)
	func() {
		defer func() {
			if recover() == nil {
				t.Fatalf("expected panic: carried capability should have been freed by the permission check")
			}
		}()
		s.DecRef(capHeld.H)
	}()
}

func TestInvalidHandlePanics(t *testing.T) {
	s := NewStore()
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic for invalid handle")
		}
	}()
	s.IsAlive(Handle(999999))
}
