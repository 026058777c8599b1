// Package runtime composes plugins into a live substrate: a process
// store, a registry, a process factory, and whatever runners/services
// the plugin graph declares. See builder.go for the two-phase
// build/finish composition and runtime.go for the live object it
// produces.
package runtime

import (
	"context"

	"github.com/hearthspace/hearth/internal/handle"
	"github.com/hearthspace/hearth/internal/process"
)

// Plugin is the unit of composition. Name identifies the plugin for
// dedup (adding the same name twice is a no-op) and for Lookup by
// other plugins that need to mutate a previously-added one.
type Plugin interface {
	Name() string
	Build(b *Builder) error
}

// Finisher is the optional second hook a Plugin may implement. Finish
// runs once the whole plugin set as of the start of the finish phase
// has been built; it may call b.Add to introduce further plugins,
// which are built immediately and finished on the next drain pass.
type Finisher interface {
	Finish(b *Builder) error
}

// RunnerFunc is a closure registered during build/finish that receives
// the fully-constructed Runtime once it is live. Runners are started
// concurrently and are expected to run until ctx is cancelled.
type RunnerFunc func(ctx context.Context, rt *Runtime) error

// ServiceSpec declares a named service: a spawn closure producing the
// process's first capability, the metadata recorded against it, and
// the permission bits granted to callers that resolve it through the
// registry.
type ServiceSpec struct {
	Name     string
	Metadata process.Metadata
	Perm     handle.Perm
	// Spawn inserts the service's process into rt.Store (typically via
	// rt.Factory.Spawn) and returns once the process has confirmed it
	// started. The runtime waits for every declared service's Spawn to
	// return before considering itself live.
	Spawn func(ctx context.Context, rt *Runtime) (handle.Capability, error)
}
