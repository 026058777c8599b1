package lump

import "testing"

// fakeMemory is a flat byte slice standing in for a guest's linear
// memory, enough to exercise the shim's four calls without pulling in
// a real bytecode VM (out of scope per spec.md §1).
type fakeMemory []byte

func (m fakeMemory) Read(offset, length uint32) ([]byte, bool) {
	if uint64(offset)+uint64(length) > uint64(len(m)) {
		return nil, false
	}
	return m[offset : offset+length], true
}

func (m fakeMemory) Write(offset uint32, data []byte) bool {
	if uint64(offset)+uint64(len(data)) > uint64(len(m)) {
		return false
	}
	copy(m[offset:], data)
	return true
}

func TestShimLoadThenReadBack(t *testing.T) {
	st, err := NewStore(t.TempDir(), 16)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	shim := NewShim(st)
	mem := make(fakeMemory, 256)
	copy(mem, []byte("payload-bytes"))

	h, err := shim.Load(mem, 0, 13)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	length, err := shim.GetLen(h)
	if err != nil || length != 13 {
		t.Fatalf("GetLen = (%d, %v), want (13, nil)", length, err)
	}

	if err := shim.GetData(mem, h, 100); err != nil {
		t.Fatalf("GetData: %v", err)
	}
	if string(mem[100:113]) != "payload-bytes" {
		t.Fatalf("GetData wrote %q, want %q", mem[100:113], "payload-bytes")
	}

	var idPtr uint32 = 200
	if err := shim.GetID(mem, h, idPtr); err != nil {
		t.Fatalf("GetID: %v", err)
	}

	if err := shim.Free(h); err != nil {
		t.Fatalf("Free: %v", err)
	}
	if _, err := shim.GetLen(h); err == nil {
		t.Fatalf("GetLen after Free succeeded, want trap")
	}
}

func TestShimFromIDMissingTraps(t *testing.T) {
	st, err := NewStore(t.TempDir(), 16)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	shim := NewShim(st)
	mem := make(fakeMemory, 64)

	if _, err := shim.FromID(mem, 0); err == nil {
		t.Fatalf("FromID on an empty store succeeded, want trap")
	}
}

func TestShimFromIDRoundTripsAnotherGuestsLump(t *testing.T) {
	st, err := NewStore(t.TempDir(), 16)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	writer := NewShim(st)
	wmem := make(fakeMemory, 64)
	copy(wmem, []byte("shared"))
	h, err := writer.Load(wmem, 0, 6)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	reader := NewShim(st)
	rmem := make(fakeMemory, 64)
	if err := writer.GetID(wmem, h, 32); err != nil {
		t.Fatalf("GetID: %v", err)
	}
	copy(rmem, wmem[32:64])

	rh, err := reader.FromID(rmem, 0)
	if err != nil {
		t.Fatalf("FromID: %v", err)
	}
	if err := reader.GetData(rmem, rh, 40); err != nil {
		t.Fatalf("GetData: %v", err)
	}
	if string(rmem[40:46]) != "shared" {
		t.Fatalf("GetData = %q, want %q", rmem[40:46], "shared")
	}
}
