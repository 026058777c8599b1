package conn

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/hearthspace/hearth/internal/handle"
)

type testInner struct {
	store   *handle.Store
	signals chan handle.Signal
}

func newTestInner(store *handle.Store) *testInner {
	return &testInner{store: store, signals: make(chan handle.Signal, 16)}
}

func (t *testInner) OnInsert(handle.Handle)      {}
func (t *testInner) OnSignal(s handle.Signal) bool { t.signals <- s; return true }
func (t *testInner) OnRemove()                   {}

func pipeConnections(t *testing.T) (*handle.Store, *handle.Store, *Connection, *Connection) {
	t.Helper()
	a, b := net.Pipe()
	storeA := handle.NewStore()
	storeB := handle.NewStore()
	connA := New(storeA, a, nil)
	connB := New(storeB, b, nil)
	return storeA, storeB, connA, connB
}

func TestRoundTripCapabilityIdentity(t *testing.T) {
	storeA, storeB, connA, connB := pipeConnections(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rootA := newTestInner(storeA)
	capRootA := storeA.Insert(rootA)

	rootCaptureB := newTestInner(storeB)
	capRootB := storeB.Insert(rootCaptureB)

	peerRootAtB := connB.Start(ctx, capRootB)
	peerRootAtA := connA.Start(ctx, capRootA)

	// A sends B a message carrying a fresh clone of its own root.
	rB := <-peerRootAtB
	rA := <-peerRootAtA

	// A sends its root (cloned) to B as a message payload on rA (B's
	// root as seen from A) so B can echo it straight back.
	rA.Send(storeA, handle.Message{Data: []byte("carry"), Caps: []handle.Capability{capRootA.Clone(storeA)}})

	select {
	case msg := <-func() chan handle.Signal {
		return rootCaptureB.signals
	}():
		m, ok := msg.(handle.Message)
		if !ok {
			t.Fatalf("expected Message, got %#v", msg)
		}
		if len(m.Caps) != 1 {
			t.Fatalf("expected 1 carried capability, got %d", len(m.Caps))
		}
		echoTarget := m.Caps[0]

		// B echoes the capability straight back to A via rB (A's root
		// as seen from B).
		rB.Send(storeB, handle.Message{Data: []byte("echo"), Caps: []handle.Capability{echoTarget}})

	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for B to observe the carried capability")
	}

	select {
	case msg := <-rootA.signals:
		m, ok := msg.(handle.Message)
		if !ok {
			t.Fatalf("expected Message at A, got %#v", msg)
		}
		if len(m.Caps) != 1 {
			t.Fatalf("expected 1 echoed capability, got %d", len(m.Caps))
		}
		if m.Caps[0].H != capRootA.H {
			t.Fatalf("round-tripped capability must resolve to the same handle: got %s, want %s", m.Caps[0].H, capRootA.H)
		}
		m.Free(storeA)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the echo to reach A")
	}
}

func TestRemoteRevocationOnDisconnect(t *testing.T) {
	storeA, storeB, connA, connB := pipeConnections(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	procA := newTestInner(storeA)
	capA := storeA.Insert(procA)

	dummyB := newTestInner(storeB)
	capB := storeB.Insert(dummyB)

	peerAtB := connB.Start(ctx, capB)
	_ = connA.Start(ctx, capA)

	// B imports A's root by virtue of the ExportRoot exchange alone.
	rootAtB := <-peerAtB

	linkedObj := newTestInner(storeB)
	capLinkedObj := storeB.Insert(linkedObj)
	storeB.Link(rootAtB.H, capLinkedObj.H)

	connA.Close()

	select {
	case sig := <-linkedObj.signals:
		u, ok := sig.(handle.Unlink)
		if !ok {
			t.Fatalf("expected Unlink after disconnect, got %#v", sig)
		}
		if u.Subject != rootAtB.H {
			t.Fatalf("unlink subject should be the killed proxy handle")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for linked object to observe Unlink after disconnect")
	}
}
