package handle

// Signal is one of Kill, Unlink, or Message. Every signal obeys the
// same clone/free laws so it is safe to drop on the floor at any point
// in its life — essential because a disconnecting peer can strand
// frames mid-flight with no one left to deliver them to.
type Signal interface {
	// Free releases every capability the signal still owns. Called
	// exactly once per signal that does not reach OnSignal, and exactly
	// once by the receiver after OnSignal returns true.
	Free(s *Store)
}

// Kill carries no handles; freeing it is a no-op.
type Kill struct{}

func (Kill) Free(*Store) {}

// Unlink is delivered to every object in a killed subject's linked set.
// It owns one reference on Subject, which Free releases.
type Unlink struct {
	Subject Handle
}

func (u Unlink) Free(s *Store) {
	s.DecRef(u.Subject)
}

// Message carries an opaque payload and zero or more owning
// capabilities. Freeing a message frees every capability it carries.
type Message struct {
	Data []byte
	Caps []Capability
}

func (m Message) Free(s *Store) {
	for _, c := range m.Caps {
		c.Free(s)
	}
}

// CloneMessage deep-clones a message's capability set, incrementing
// every carried capability's reference count. Used when the same
// logical message must be delivered to more than one recipient (e.g.
// fanning a broadcast signal into a connection's export table).
func CloneMessage(s *Store, m Message) Message {
	out := Message{Data: m.Data, Caps: make([]Capability, len(m.Caps))}
	for i, c := range m.Caps {
		out.Caps[i] = c.Clone(s)
	}
	return out
}
