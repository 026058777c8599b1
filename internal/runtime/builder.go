package runtime

import (
	"fmt"
	"log/slog"
	"sync"
)

// Builder accumulates plugins, runners and services across the build
// and finish phases. Grounded in shape on cmd/fx.go's insertion-order
// fx.New(...) option list (plugins are processed in the order they are
// added) and on the repeated-drain idiom in the teacher's eviction loop
// (registry/hub.go: "select on a ticker, perform one pass, repeat"),
// generalized here to "drain the current plugin set, collect whatever
// Build/Finish added, repeat until empty."
type Builder struct {
	logger *slog.Logger
	bus    *EventBus

	mu       sync.Mutex
	byName   map[string]Plugin
	order    []Plugin
	toFinish []Plugin

	runners  []RunnerFunc
	services []ServiceSpec
}

// NewBuilder starts an empty builder. bus is shared with the Runtime
// it eventually produces so plugins can publish/subscribe during both
// the build and finish phases.
func NewBuilder(logger *slog.Logger, bus *EventBus) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{
		logger: logger,
		bus:    bus,
		byName: make(map[string]Plugin),
	}
}

// Logger returns the builder's logger, for plugins that want to log
// during Build/Finish without threading their own.
func (b *Builder) Logger() *slog.Logger { return b.logger }

// Bus returns the host event bus.
func (b *Builder) Bus() *EventBus { return b.bus }

// Add inserts p and immediately runs its Build hook. Adding a name that
// is already present is a no-op: the existing plugin is kept, a
// warning is logged, and Build is not invoked a second time — spec.md
// §4.6's "adding the same plugin type twice is a no-op with a warning."
// Build hooks may call Add recursively (child plugins); each nested Add
// is built before the call that introduced it returns, so the build
// phase as a whole proceeds depth-first in insertion order.
func (b *Builder) Add(p Plugin) error {
	b.mu.Lock()
	if _, exists := b.byName[p.Name()]; exists {
		b.mu.Unlock()
		b.logger.Warn("runtime: plugin already present, ignoring", slog.String("plugin", p.Name()))
		return nil
	}
	b.byName[p.Name()] = p
	b.order = append(b.order, p)
	b.toFinish = append(b.toFinish, p)
	b.mu.Unlock()

	if err := p.Build(b); err != nil {
		return fmt.Errorf("runtime: build plugin %s: %w", p.Name(), err)
	}
	return nil
}

// Lookup returns a previously-added plugin by name, for build hooks
// that need to retrieve and mutate another plugin (spec.md §4.6(b)).
func (b *Builder) Lookup(name string) (Plugin, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.byName[name]
	return p, ok
}

// AddRunner registers a closure that runs once the Runtime is live.
func (b *Builder) AddRunner(r RunnerFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.runners = append(b.runners, r)
}

// AddService declares a named service with its spawn closure and
// permission flags.
func (b *Builder) AddService(s ServiceSpec) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.services = append(b.services, s)
}

// finish repeatedly drains the plugins added since the last pass and
// calls each one's Finish hook if it implements Finisher. A Finish
// hook may call b.Add, which builds the new plugin immediately and
// queues it for the next pass — the loop ends once a full pass adds
// nothing new.
func (b *Builder) finish() error {
	for {
		b.mu.Lock()
		batch := b.toFinish
		b.toFinish = nil
		b.mu.Unlock()

		if len(batch) == 0 {
			return nil
		}

		for _, p := range batch {
			f, ok := p.(Finisher)
			if !ok {
				continue
			}
			if err := f.Finish(b); err != nil {
				return fmt.Errorf("runtime: finish plugin %s: %w", p.Name(), err)
			}
		}
	}
}

// snapshot returns the runners and services accumulated so far, for
// Run to consume once build+finish have both settled.
func (b *Builder) snapshot() ([]RunnerFunc, []ServiceSpec) {
	b.mu.Lock()
	defer b.mu.Unlock()
	runners := make([]RunnerFunc, len(b.runners))
	copy(runners, b.runners)
	services := make([]ServiceSpec, len(b.services))
	copy(services, b.services)
	return runners, services
}
