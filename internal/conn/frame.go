package conn

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/hearthspace/hearth/internal/handle"
)

// Tag identifies a frame's wire shape. Values match spec.md §4.5's
// frame table.
type Tag byte

const (
	TagExportRoot Tag = iota + 1
	TagSend
	TagRevoke
	TagKill
	TagLink
	TagUnlink
)

// RemoteID identifies a capability within one side's namespace. It is
// never compared across peers — a RemoteID only makes sense relative
// to "the sender's namespace" or "the receiver's namespace" as spec.md
// §4.5's table specifies per frame.
type RemoteID uint32

// CapRef is the wire encoding of a capability carried inside a Send
// frame: a 1-byte discriminant, a 4-byte ID, and a 4-byte permission
// mask, per spec.md §6.
type CapRef struct {
	// Imported is false for "export-from-sender" (discriminant 0): the
	// sender is offering a handle it owns. It is true for
	// "import-owned-by-receiver" (discriminant 1): the sender is handing
	// back a capability the receiver itself exported earlier — the
	// identity-preservation case spec.md §4.5 requires.
	Imported bool
	ID       RemoteID
	Perm     handle.Perm
}

// Frame is the sum type of everything that crosses the wire. Exactly
// one of the typed fields is meaningful, selected by Tag.
type Frame struct {
	Tag Tag

	ExportRootLocalID RemoteID

	SendTarget RemoteID
	SendData   []byte
	SendCaps   []CapRef

	RevokeID RemoteID
	KillID   RemoteID

	LinkSubject RemoteID
	LinkObject  RemoteID

	UnlinkSubject RemoteID
}

func ExportRoot(localID RemoteID) Frame {
	return Frame{Tag: TagExportRoot, ExportRootLocalID: localID}
}

func Send(target RemoteID, data []byte, caps []CapRef) Frame {
	return Frame{Tag: TagSend, SendTarget: target, SendData: data, SendCaps: caps}
}

func Revoke(id RemoteID) Frame { return Frame{Tag: TagRevoke, RevokeID: id} }
func Kill(id RemoteID) Frame   { return Frame{Tag: TagKill, KillID: id} }
func Link(subject, object RemoteID) Frame {
	return Frame{Tag: TagLink, LinkSubject: subject, LinkObject: object}
}
func Unlink(subject RemoteID) Frame { return Frame{Tag: TagUnlink, UnlinkSubject: subject} }

// WriteFrame encodes f as a length-prefixed frame: 4-byte big-endian
// length of (tag + payload), 1-byte tag, payload.
func WriteFrame(w io.Writer, f Frame) error {
	var payload []byte
	switch f.Tag {
	case TagExportRoot:
		payload = put32(nil, uint32(f.ExportRootLocalID))
	case TagSend:
		payload = put32(nil, uint32(f.SendTarget))
		payload = put32(payload, uint32(len(f.SendData)))
		payload = append(payload, f.SendData...)
		payload = put16(payload, uint16(len(f.SendCaps)))
		for _, c := range f.SendCaps {
			disc := byte(0)
			if c.Imported {
				disc = 1
			}
			payload = append(payload, disc)
			payload = put32(payload, uint32(c.ID))
			payload = put32(payload, uint32(c.Perm))
		}
	case TagRevoke:
		payload = put32(nil, uint32(f.RevokeID))
	case TagKill:
		payload = put32(nil, uint32(f.KillID))
	case TagLink:
		payload = put32(nil, uint32(f.LinkSubject))
		payload = put32(payload, uint32(f.LinkObject))
	case TagUnlink:
		payload = put32(nil, uint32(f.UnlinkSubject))
	default:
		return fmt.Errorf("conn: unknown frame tag %d", f.Tag)
	}

	length := uint32(1 + len(payload))
	header := make([]byte, 5)
	binary.BigEndian.PutUint32(header[:4], length)
	header[4] = byte(f.Tag)

	if _, err := w.Write(header); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return err
		}
	}
	return nil
}

// ReadFrame decodes one frame from r, or returns an error (including
// io.EOF on clean stream close) without consuming a partial frame
// twice — any error here is treated as a protocol violation or a
// disconnect and must tear down the connection (spec.md §4.5 "Failure").
func ReadFrame(r io.Reader) (Frame, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Frame{}, err
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length == 0 {
		return Frame{}, fmt.Errorf("conn: zero-length frame")
	}
	const maxFrame = 64 << 20
	if length > maxFrame {
		return Frame{}, fmt.Errorf("conn: frame too large: %d bytes", length)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return Frame{}, err
	}

	tag := Tag(body[0])
	p := body[1:]

	switch tag {
	case TagExportRoot:
		id, _, err := get32(p)
		if err != nil {
			return Frame{}, err
		}
		return ExportRoot(RemoteID(id)), nil

	case TagSend:
		target, p, err := get32(p)
		if err != nil {
			return Frame{}, err
		}
		dataLen, p, err := get32(p)
		if err != nil {
			return Frame{}, err
		}
		if uint32(len(p)) < dataLen {
			return Frame{}, fmt.Errorf("conn: truncated send payload")
		}
		data := p[:dataLen]
		p = p[dataLen:]

		capCount, p, err := get16(p)
		if err != nil {
			return Frame{}, err
		}
		caps := make([]CapRef, 0, capCount)
		for i := uint16(0); i < capCount; i++ {
			if len(p) < 9 {
				return Frame{}, fmt.Errorf("conn: truncated capability ref")
			}
			disc := p[0]
			id, rest, err := get32(p[1:])
			if err != nil {
				return Frame{}, err
			}
			perm, rest, err := get32(rest)
			if err != nil {
				return Frame{}, err
			}
			caps = append(caps, CapRef{Imported: disc == 1, ID: RemoteID(id), Perm: handle.Perm(perm)})
			p = rest
		}
		return Send(RemoteID(target), data, caps), nil

	case TagRevoke:
		id, _, err := get32(p)
		if err != nil {
			return Frame{}, err
		}
		return Revoke(RemoteID(id)), nil

	case TagKill:
		id, _, err := get32(p)
		if err != nil {
			return Frame{}, err
		}
		return Kill(RemoteID(id)), nil

	case TagLink:
		subject, p, err := get32(p)
		if err != nil {
			return Frame{}, err
		}
		object, _, err := get32(p)
		if err != nil {
			return Frame{}, err
		}
		return Link(RemoteID(subject), RemoteID(object)), nil

	case TagUnlink:
		subject, _, err := get32(p)
		if err != nil {
			return Frame{}, err
		}
		return Unlink(RemoteID(subject)), nil

	default:
		return Frame{}, fmt.Errorf("conn: unknown frame tag %d from peer", tag)
	}
}

func put32(b []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(b, tmp[:]...)
}

func put16(b []byte, v uint16) []byte {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	return append(b, tmp[:]...)
}

func get32(b []byte) (uint32, []byte, error) {
	if len(b) < 4 {
		return 0, nil, fmt.Errorf("conn: truncated frame field")
	}
	return binary.BigEndian.Uint32(b[:4]), b[4:], nil
}

func get16(b []byte) (uint16, []byte, error) {
	if len(b) < 2 {
		return 0, nil, fmt.Errorf("conn: truncated frame field")
	}
	return binary.BigEndian.Uint16(b[:2]), b[2:], nil
}
