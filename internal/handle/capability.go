package handle

// Perm is a bitset of the operations a capability's holder is allowed
// to perform against its target.
type Perm uint8

const (
	PermSend Perm = 1 << iota
	PermKill
	PermLink
)

func (p Perm) Has(bit Perm) bool { return p&bit != 0 }

// Capability is an owning reference: a handle plus the permission bits
// its holder was granted. It is the only unit of transferable authority
// in the substrate. A capability carried in a message always arrives
// already reference-counted; whoever receives it is responsible for
// eventually calling Free.
type Capability struct {
	H    Handle
	Perm Perm
}

// Clone increments the target's reference count and returns an
// independent owning copy.
func (c Capability) Clone(s *Store) Capability {
	s.IncRef(c.H)
	return c
}

// Free decrements the target's reference count. It is always safe to
// call exactly once per capability obtained from Clone or from a
// message/insert.
func (c Capability) Free(s *Store) {
	s.DecRef(c.H)
}

// Send delivers a message through the capability, provided it carries
// PermSend. Lacking the bit, the message (and anything it carries) is
// freed and the call is a silent no-op — symmetric with how the store
// treats sends to a dead handle.
func (c Capability) Send(s *Store, msg Message) {
	if !c.Perm.Has(PermSend) {
		msg.Free(s)
		return
	}
	s.Send(c.H, msg)
}

// Kill issues a kill through the capability, provided it carries
// PermKill.
func (c Capability) Kill(s *Store) {
	if !c.Perm.Has(PermKill) {
		return
	}
	s.Kill(c.H)
}

// WithPerm returns a copy of the capability restricted to the
// intersection of its current permissions and mask — used when handing
// a capability to a less-trusted party (a guest module, say) that
// should only be able to send, never kill.
func (c Capability) WithPerm(mask Perm) Capability {
	return Capability{H: c.H, Perm: c.Perm & mask}
}
