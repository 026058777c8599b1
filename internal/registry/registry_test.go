package registry

import (
	"testing"

	"github.com/hearthspace/hearth/internal/handle"
)

type noop struct{}

func (noop) OnInsert(handle.Handle)       {}
func (noop) OnSignal(handle.Signal) bool  { return true }
func (noop) OnRemove()                    {}

func TestServiceReplacement(t *testing.T) {
	store := handle.NewStore()
	r := New(store)

	c1 := store.Insert(noop{})
	c2 := store.Insert(noop{})

	prev, had := r.Insert("svc", c1)
	if had {
		t.Fatalf("first insert should report no previous value")
	}
	_ = prev

	prev, had = r.Insert("svc", c2)
	if !had || prev.H != c1.H {
		t.Fatalf("second insert should return the first capability, got had=%v prev=%v", had, prev)
	}
	prev.Free(store)

	got, ok := r.Get("svc")
	if !ok || got.H != c2.H {
		t.Fatalf("expected a clone of c2, got ok=%v got=%v", ok, got)
	}
	got.Free(store)
}

func TestGetOnDeadServiceReturnsNotFound(t *testing.T) {
	store := handle.NewStore()
	r := New(store)

	c := store.Insert(noop{})
	r.Insert("svc", c)

	store.Kill(c.H)

	_, ok := r.Get("svc")
	if ok {
		t.Fatalf("Get on a dead service must report not-found")
	}
}
