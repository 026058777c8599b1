package lump

import (
	"testing"
	"testing/fstest"
)

func TestStorePutGetRoundTrip(t *testing.T) {
	st, err := NewStore(t.TempDir(), 16)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	id := st.Put([]byte("hello hearth"))
	if !st.Has(id) {
		t.Fatalf("Has(%s) = false after Put", id)
	}

	data, ok := st.Get(id)
	if !ok {
		t.Fatalf("Get(%s) missing after Put", id)
	}
	if string(data) != "hello hearth" {
		t.Fatalf("Get(%s) = %q, want %q", id, data, "hello hearth")
	}
}

func TestStoreGetMissing(t *testing.T) {
	st, err := NewStore(t.TempDir(), 16)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	if _, ok := st.Get(ID{1, 2, 3}); ok {
		t.Fatalf("Get on empty store returned ok=true")
	}
	if st.Has(ID{1, 2, 3}) {
		t.Fatalf("Has on empty store returned true")
	}
}

func TestStorePersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()

	st1, err := NewStore(dir, 16)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	id := st1.Put([]byte("persisted"))

	st2, err := NewStore(dir, 16)
	if err != nil {
		t.Fatalf("NewStore (reopen): %v", err)
	}
	data, ok := st2.Get(id)
	if !ok {
		t.Fatalf("Get(%s) missing from a fresh Store over the same dir", id)
	}
	if string(data) != "persisted" {
		t.Fatalf("Get(%s) = %q, want %q", id, data, "persisted")
	}
}

func TestStoreSeed(t *testing.T) {
	fsys := fstest.MapFS{
		"a.bin": &fstest.MapFile{Data: []byte("alpha")},
		"b.bin": &fstest.MapFile{Data: []byte("beta")},
	}

	st, err := NewStore(t.TempDir(), 16)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if err := st.Seed(fsys); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	for _, want := range []string{"alpha", "beta"} {
		id := Sum([]byte(want))
		data, ok := st.Get(id)
		if !ok || string(data) != want {
			t.Fatalf("Get(%s) after Seed = (%q, %v), want (%q, true)", id, data, ok, want)
		}
	}
}
