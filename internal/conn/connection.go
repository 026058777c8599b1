// Package conn implements the cross-peer capability multiplexer: it
// extends the local store's capability model over one authenticated,
// encrypted byte stream so a capability acquired from a remote peer
// behaves identically to a local one. Grounded on
// other_examples' filegrind-capns-go PluginHost (cap-URN routing
// tables, one reader/writer goroutine pair per peer) generalized from
// "route a REQ by cap URN to a plugin index" to "route a Send by
// remote ID to a local handle."
package conn

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/hearthspace/hearth/internal/handle"
)

type exportEntry struct {
	id        RemoteID
	refs      int64
	sentinel  handle.Capability
	sentinelH handle.Handle
}

// exportSentinel is a weight-free Inner linked to every exported
// handle so the connection learns when the real entity dies. The
// store offers no other notification hook for "something I don't own
// died" short of being in its linked set.
type exportSentinel struct {
	conn *Connection
	id   RemoteID
	h    handle.Handle
}

func (s *exportSentinel) OnInsert(h handle.Handle) { s.h = h }

func (s *exportSentinel) OnSignal(sig handle.Signal) bool {
	if u, ok := sig.(handle.Unlink); ok {
		u.Free(s.conn.store)
		s.conn.onExportDeath(s.id)
		return true
	}
	sig.Free(s.conn.store)
	return true
}

func (s *exportSentinel) OnRemove() {}

// Connection multiplexes one peer relationship. Construct with New,
// then Start it once a transport (raw TCP, or internal/conn/wsconn.go's
// WebSocket adapter) is available and the PAKE handshake above it has
// already produced an authenticated, encrypted stream — Connection
// itself does no authentication of its own, per spec.md §1.
type Connection struct {
	store  *handle.Store
	rw     io.ReadWriteCloser
	logger *slog.Logger

	out       chan Frame
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error

	mu              sync.Mutex
	nextExportID    RemoteID
	exports         map[handle.Handle]*exportEntry
	exportsByID     map[RemoteID]handle.Handle
	imports         map[RemoteID]handle.Handle
	importsByHandle map[handle.Handle]RemoteID
	pendingLinks    map[RemoteID]handle.Handle

	rootOnce sync.Once
	rootCh   chan handle.Capability
}

// New constructs a connection over rw, which must already be an
// authenticated, encrypted, framed byte stream (spec.md §1 treats the
// handshake and cipher as an external collaborator).
func New(store *handle.Store, rw io.ReadWriteCloser, logger *slog.Logger) *Connection {
	if logger == nil {
		logger = slog.Default()
	}
	return &Connection{
		store:           store,
		rw:              rw,
		logger:          logger,
		out:             make(chan Frame, 64),
		done:            make(chan struct{}),
		exports:         make(map[handle.Handle]*exportEntry),
		exportsByID:     make(map[RemoteID]handle.Handle),
		imports:         make(map[RemoteID]handle.Handle),
		importsByHandle: make(map[handle.Handle]RemoteID),
		pendingLinks:    make(map[RemoteID]handle.Handle),
		rootCh:          make(chan handle.Capability, 1),
	}
}

// Start offers root to the peer as the bootstrap export, launches the
// reader and writer goroutines, and returns a channel that yields the
// peer's own root capability exactly once — spec.md §4.5's "root
// exchange." root is consumed (ownership transfers into the export
// table); callers that still need it locally should pass a Clone.
func (c *Connection) Start(ctx context.Context, root handle.Capability) <-chan handle.Capability {
	id := c.export(root)

	go c.writeLoop()
	go c.readLoop()
	go func() {
		select {
		case <-ctx.Done():
			c.teardown(ctx.Err())
		case <-c.done:
		}
	}()

	select {
	case c.out <- ExportRoot(id):
	case <-c.done:
	}

	return c.rootCh
}

func (c *Connection) writeLoop() {
	for {
		select {
		case f := <-c.out:
			if err := WriteFrame(c.rw, f); err != nil {
				c.teardown(fmt.Errorf("conn: write failed: %w", err))
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Connection) readLoop() {
	for {
		f, err := ReadFrame(c.rw)
		if err != nil {
			c.teardown(fmt.Errorf("conn: read failed: %w", err))
			return
		}
		if err := c.handleFrame(f); err != nil {
			c.teardown(fmt.Errorf("conn: protocol violation: %w", err))
			return
		}
	}
}

func (c *Connection) handleFrame(f Frame) error {
	switch f.Tag {
	case TagExportRoot:
		cap := c.importRef(CapRef{Imported: false, ID: f.ExportRootLocalID, Perm: handle.PermSend | handle.PermKill | handle.PermLink})
		c.rootOnce.Do(func() { c.rootCh <- cap })
		return nil

	case TagSend:
		caps := make([]handle.Capability, len(f.SendCaps))
		for i, ref := range f.SendCaps {
			caps[i] = c.importRef(ref)
		}
		c.mu.Lock()
		target, ok := c.exportsByID[f.SendTarget]
		c.mu.Unlock()
		if !ok {
			for _, cp := range caps {
				cp.Free(c.store)
			}
			return nil
		}
		c.store.Send(target, handle.Message{Data: f.SendData, Caps: caps})
		return nil

	case TagRevoke:
		return c.handleRevoke(f.RevokeID)

	case TagKill:
		c.mu.Lock()
		h, ok := c.exportsByID[f.KillID]
		c.mu.Unlock()
		if ok {
			c.store.Kill(h)
		}
		return nil

	case TagLink:
		return c.handleLink(f.LinkSubject, f.LinkObject)

	case TagUnlink:
		return c.handleUnlink(f.UnlinkSubject)

	default:
		return fmt.Errorf("unknown frame tag %d", f.Tag)
	}
}

func (c *Connection) handleRevoke(id RemoteID) error {
	c.mu.Lock()
	h, ok := c.exportsByID[id]
	if !ok {
		c.mu.Unlock()
		return nil
	}
	delete(c.exportsByID, id)
	delete(c.exports, h)
	c.mu.Unlock()

	c.store.DecRef(h)
	return nil
}

func (c *Connection) handleLink(subjectID, objectID RemoteID) error {
	c.mu.Lock()
	subject, ok := c.exportsByID[subjectID]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("link: unknown subject export id %d", subjectID)
	}
	object, ok := c.imports[objectID]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("link: unknown object import id %d", objectID)
	}
	c.store.Link(subject, object)
	return nil
}

// handleUnlink is reached by two distinct flows sharing one frame type
// (spec.md §4.5 gives Unlink a single shape for both): the common case
// is "the proxy you hold under this id has died" (id found in our own
// imports); the multi-hop case is "the subject you registered a link
// against, on behalf of a third party, has died" (id found in our own
// exports, left over from a prior Link call we issued).
func (c *Connection) handleUnlink(id RemoteID) error {
	c.mu.Lock()
	if proxyH, ok := c.imports[id]; ok {
		c.mu.Unlock()
		c.store.Kill(proxyH)
		return nil
	}
	objH, isExport := c.exportsByID[id]
	subjectProxy, hadPending := c.pendingLinks[id]
	if hadPending {
		delete(c.pendingLinks, id)
	}
	c.mu.Unlock()

	if !isExport {
		return nil
	}
	c.store.Send(objH, handle.Unlink{Subject: subjectProxy})
	return nil
}

// export assigns (or reuses) a stable RemoteID for cap's target and
// transfers cap's reference into the export table. Re-exporting an
// already-exported handle frees the redundant incoming reference —
// the table keeps exactly one reference per handle regardless of how
// many times the peer has been offered it.
func (c *Connection) export(cap handle.Capability) RemoteID {
	c.mu.Lock()
	if ent, ok := c.exports[cap.H]; ok {
		ent.refs++
		id := ent.id
		c.mu.Unlock()
		cap.Free(c.store)
		return id
	}
	id := c.nextExportID
	c.nextExportID++
	c.mu.Unlock()

	sentinel := &exportSentinel{conn: c, id: id}
	sentinelCap := c.store.Insert(sentinel)
	c.store.Link(cap.H, sentinelCap.H)

	c.mu.Lock()
	c.exports[cap.H] = &exportEntry{id: id, refs: 1, sentinel: sentinelCap, sentinelH: sentinelCap.H}
	c.exportsByID[id] = cap.H
	c.mu.Unlock()

	return id
}

// onExportDeath runs exactly once per exported handle, invoked by its
// sentinel the moment the handle's kill drains its linked set. It
// releases the export table's own reference and tells the peer the
// export is gone.
func (c *Connection) onExportDeath(id RemoteID) {
	c.mu.Lock()
	h, ok := c.exportsByID[id]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.exportsByID, id)
	delete(c.exports, h)
	c.mu.Unlock()

	c.store.DecRef(h)

	select {
	case c.out <- Unlink(id):
	case <-c.done:
	}
}

// revokeImport is called by a proxy when its local reference count
// reaches zero: the import is deleted and the peer is told to free its
// side of the export.
func (c *Connection) revokeImport(id RemoteID) {
	c.mu.Lock()
	h, ok := c.imports[id]
	if ok {
		delete(c.imports, id)
		delete(c.importsByHandle, h)
	}
	c.mu.Unlock()

	select {
	case c.out <- Revoke(id):
	case <-c.done:
	}
}

// importRef resolves a wire CapRef to a local, independently owned
// capability. Imported==true means the ID is in our own export
// namespace (the peer is handing back something we gave it — the
// identity-preservation case of spec.md §4.5, resolved by IncRef on
// the original handle rather than fabricating a second proxy).
// Imported==false means the ID is in the sender's export namespace: we
// reuse an existing proxy for repeated sends of the same capability,
// or create one.
func (c *Connection) importRef(ref CapRef) handle.Capability {
	if ref.Imported {
		c.mu.Lock()
		h, ok := c.exportsByID[ref.ID]
		c.mu.Unlock()
		if !ok {
			// Peer referenced an export we've already revoked/forgotten;
			// nothing to hand back but a dead capability is harmless —
			// callers observe this the same way they'd observe any
			// dead handle.
			return handle.Capability{}
		}
		c.store.IncRef(h)
		return handle.Capability{H: h, Perm: ref.Perm}
	}

	c.mu.Lock()
	if ph, ok := c.imports[ref.ID]; ok {
		c.mu.Unlock()
		c.store.IncRef(ph)
		return handle.Capability{H: ph, Perm: ref.Perm}
	}

	px := newProxy(c, ref.ID)
	cap := c.store.Insert(px)
	c.imports[ref.ID] = cap.H
	c.importsByHandle[cap.H] = ref.ID
	c.mu.Unlock()

	return handle.Capability{H: cap.H, Perm: ref.Perm}
}

// encodeCaps converts a message's local capabilities to wire CapRefs,
// consuming each one — callers that still need a capability locally
// must Clone before handing it to Send.
func (c *Connection) encodeCaps(caps []handle.Capability) []CapRef {
	out := make([]CapRef, len(caps))
	for i, cp := range caps {
		out[i] = c.encodeOne(cp)
	}
	return out
}

func (c *Connection) encodeOne(cp handle.Capability) CapRef {
	c.mu.Lock()
	if remoteID, ok := c.importsByHandle[cp.H]; ok {
		c.mu.Unlock()
		cp.Free(c.store)
		return CapRef{Imported: true, ID: remoteID, Perm: cp.Perm}
	}
	c.mu.Unlock()

	id := c.export(cp)
	return CapRef{Imported: false, ID: id, Perm: cp.Perm}
}

// LinkRemote registers that the referent of subject (an import proxy —
// i.e. something this peer exported to us) should deliver Unlink to
// object's referent when subject dies. If object is itself local, no
// frame is needed: a plain store.Link suffices and the proxy's own
// signal forwarding (proxy.go) does the rest. If object is something
// we exported to the peer (the multi-hop case in spec.md §4.5's Link
// row), subject's ownership is consumed into a pending-delivery slot
// keyed by object's export id, spent exactly once when the
// corresponding Unlink frame arrives back.
func (c *Connection) LinkRemote(subject, object handle.Capability) error {
	c.mu.Lock()
	subjectRemote, isImport := c.importsByHandle[subject.H]
	c.mu.Unlock()
	if !isImport {
		return fmt.Errorf("conn: LinkRemote subject must be an imported capability")
	}

	if c.store.IsAlive(object.H) {
		if _, isRemoteObj := c.importsByHandle[object.H]; !isRemoteObj {
			c.store.Link(subject.H, object.H)
			subject.Free(c.store)
			return nil
		}
	}

	objectID := c.export(object)
	c.mu.Lock()
	c.pendingLinks[objectID] = subject.H
	c.mu.Unlock()

	select {
	case c.out <- Link(subjectRemote, objectID):
	case <-c.done:
		return fmt.Errorf("conn: connection closed")
	}
	return nil
}

// Close tears the connection down: every export releases its held
// reference (no frame is worth sending to a peer we're disconnecting
// from), every import proxy is killed locally so anything linked to it
// observes Unlink, exactly as spec.md §4.5's Failure paragraph
// requires. Safe to call more than once.
func (c *Connection) Close() error {
	c.teardown(nil)
	return c.closeErr
}

func (c *Connection) teardown(cause error) {
	c.closeOnce.Do(func() {
		c.closeErr = cause
		close(c.done)
		c.rw.Close()

		c.mu.Lock()
		exports := make([]handle.Handle, 0, len(c.exports))
		for h := range c.exports {
			exports = append(exports, h)
		}
		imports := make([]handle.Handle, 0, len(c.imports))
		for _, h := range c.imports {
			imports = append(imports, h)
		}
		c.mu.Unlock()

		var g errgroup.Group
		for _, h := range exports {
			h := h
			g.Go(func() error {
				c.store.DecRef(h)
				return nil
			})
		}
		for _, h := range imports {
			h := h
			g.Go(func() error {
				c.store.Kill(h)
				return nil
			})
		}
		_ = g.Wait()

		if cause != nil {
			c.logger.Warn("connection torn down", slog.Any("error", cause))
		}
	})
}

// Done is closed once the connection has torn down, for callers that
// want to await disconnection without owning a capability.
func (c *Connection) Done() <-chan struct{} { return c.done }
