package conn

import (
	"context"
	"sync"
	"time"

	"github.com/hearthspace/hearth/internal/handle"
)

// proxy is a process-store Inner for a capability whose referent lives
// on the far side of a Connection. It is inserted into the local store
// the same way a Mailbox would be; the store cannot tell them apart.
// Every signal it receives is re-encoded as a frame and handed to the
// connection's writer loop. Grounded on the teacher's connect.go
// connect type: a context-scoped send with backpressure handling and a
// sync.Once-guarded close, generalized from "push an event to a gRPC
// stream" to "push a frame to the wire."
type proxy struct {
	conn     *Connection
	remote   RemoteID
	h        handle.Handle
	closeMu  sync.Once
	closed   chan struct{}
	sendWait time.Duration
}

func newProxy(c *Connection, remote RemoteID) *proxy {
	return &proxy{
		conn:     c,
		remote:   remote,
		closed:   make(chan struct{}),
		sendWait: 2 * time.Second,
	}
}

func (p *proxy) OnInsert(h handle.Handle) { p.h = h }

// OnSignal translates a local signal bound for the remote referent
// into the matching frame and enqueues it on the connection's writer
// channel. Message sends carry a strict delivery window — mirroring
// the teacher's connect.Send "wait up to timeout, then shed" policy —
// because a single stalled peer must never be allowed to back up the
// whole local store.
func (p *proxy) OnSignal(s handle.Signal) bool {
	select {
	case <-p.closed:
		return false
	default:
	}

	switch sig := s.(type) {
	case handle.Kill:
		return p.enqueue(Kill(p.remote))
	case handle.Unlink:
		// DecRef only after a successful enqueue: on a dropped send the
		// store's fallback Free(sig) already does this same DecRef, and
		// releasing it here too would decrement a reference that is no
		// longer held (handle.Signal's law is exactly one release, by
		// on_signal or by Free, never both).
		ok := p.enqueue(Unlink(p.remote))
		if ok {
			p.conn.store.DecRef(sig.Subject)
		}
		return ok
	case handle.Message:
		// encodeCaps has to resolve every carried capability to a
		// CapRef before the frame can even be built — freeing imports
		// and moving exports into the export table — so by the time
		// enqueue runs, sig.Caps has already been irreversibly consumed
		// exactly once. Returning the raw enqueue result here would let
		// a dropped send (stalled peer, closing connection) fall
		// through to the store's fallback Free and consume the same
		// caps a second time, so OnSignal always reports the signal as
		// handled once consumption has happened; a dropped send is a
		// connection-local lost frame, not an unconsumed signal. A
		// freshly-exported cap on a dropped send sits in the export
		// table unacknowledged to the peer until the real entity dies
		// and the sentinel teardown runs — a deferred release, not a
		// double free.
		caps := p.conn.encodeCaps(sig.Caps)
		p.enqueue(Send(p.remote, sig.Data, caps))
		return true
	default:
		return false
	}
}

func (p *proxy) OnRemove() {
	p.closeMu.Do(func() { close(p.closed) })
	p.conn.revokeImport(p.remote)
}

func (p *proxy) enqueue(f Frame) bool {
	ctx, cancel := context.WithTimeout(context.Background(), p.sendWait)
	defer cancel()
	select {
	case <-p.closed:
		return false
	case p.conn.out <- f:
		return true
	case <-ctx.Done():
		return false
	}
}

// kill marks the proxy closed without going through the store. The
// connection's teardown does not call it: it kills import proxies
// through store.Kill, and OnRemove closes the proxy.
func (p *proxy) kill() {
	p.closeMu.Do(func() { close(p.closed) })
}
