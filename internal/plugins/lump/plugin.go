// Package lump is a runtime.Plugin that stands up the content-addressed
// blob store and registers it as a named service, the collaborator
// spec.md §1 calls out as representative of the guest ABI shim
// pattern. The store itself lives in internal/abi/lump; this package
// only wires it into the plugin builder.
package lump

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/hearthspace/hearth/internal/abi/lump"
	"github.com/hearthspace/hearth/internal/handle"
	"github.com/hearthspace/hearth/internal/process"
	"github.com/hearthspace/hearth/internal/runtime"
)

// Plugin builds and registers the lump store. Guest modules reach it
// through a per-guest lump.Shim handed out at spawn time, not through
// message sends — the registered service capability exists so other
// processes and remote peers can discover and hold a reference to
// "the lump subsystem" the same way they would any other service.
type Plugin struct {
	Root      string
	CacheSize int

	store *lump.Store
}

// New builds a lump plugin rooted at root with an LRU of cacheSize
// recently-read blobs in front of disk.
func New(root string, cacheSize int) *Plugin {
	if cacheSize <= 0 {
		cacheSize = 4096
	}
	return &Plugin{Root: root, CacheSize: cacheSize}
}

func (p *Plugin) Name() string { return "lump" }

func (p *Plugin) Build(b *runtime.Builder) error {
	store, err := lump.NewStore(p.Root, p.CacheSize)
	if err != nil {
		return fmt.Errorf("plugin lump: build store: %w", err)
	}
	p.store = store

	b.AddService(runtime.ServiceSpec{
		Name:     "lump",
		Metadata: process.Metadata{Name: "lump-store", ModuleID: uuid.Nil},
		Perm:     handle.PermSend,
		Spawn: func(ctx context.Context, rt *runtime.Runtime) (handle.Capability, error) {
			// The registered process is a bookkeeping handle, not a
			// message-driven mailbox: real guest traffic reaches the
			// store through a per-guest Shim, handed out at process
			// spawn time by whatever spawns the guest. A Send here is
			// still well-formed (freed, never dropped silently) so
			// remote peers that merely hold a capability without
			// understanding its contents never observe a crash.
			inner := handle.HandlerFunc(func(sig handle.Signal) bool {
				sig.Free(rt.Store)
				return true
			})
			_, cap := rt.Spawn(inner, process.Metadata{Name: "lump-store"})
			return cap, nil
		},
	})
	return nil
}

// Store returns the built store for components (guest spawn paths)
// that need to hand out a lump.Shim.
func (p *Plugin) Store() *lump.Store { return p.store }
