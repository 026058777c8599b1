// Package handle implements the process store: the reference-counted,
// sharded table that backs every process entry a Hearth peer knows
// about, plus the capability and signal types that carry authority and
// events through it.
//
// Handles are opaque integers, not pointers: stable across table
// growth, cheap to put on the wire, trivially comparable. A handle with
// a zero reference count is not observable — the store removes its
// slot atomically at the decrement that reaches zero.
package handle

import "fmt"

// Handle is an opaque index into a Store. The zero value never denotes
// a live entry.
type Handle uint64

func (h Handle) String() string {
	return fmt.Sprintf("#%d", uint64(h))
}
