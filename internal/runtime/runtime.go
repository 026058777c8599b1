package runtime

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hearthspace/hearth/internal/handle"
	"github.com/hearthspace/hearth/internal/process"
	"github.com/hearthspace/hearth/internal/registry"
	"golang.org/x/sync/errgroup"
)

// Runtime is the live substrate a Builder produces: a process store, a
// registry, a process factory, and the runners/services the plugin
// graph declared. It is constructed only after the finish phase has
// fully settled (spec.md §4.6: "after finishing, the runtime
// constructs the process store, registry, and factory").
type Runtime struct {
	Store    *handle.Store
	Registry *registry.Registry
	Factory  *process.Factory
	Bus      *EventBus
	Logger   *slog.Logger

	runners  []RunnerFunc
	services []ServiceSpec
}

// New drains b's finish phase, then builds the store/registry/factory
// triple. The returned Runtime is not yet live: call Run to spawn
// runners and services.
func New(b *Builder) (*Runtime, error) {
	if err := b.finish(); err != nil {
		return nil, fmt.Errorf("runtime: finish phase: %w", err)
	}

	runners, services := b.snapshot()

	store := handle.NewStore()
	rt := &Runtime{
		Store:    store,
		Registry: registry.New(store),
		Bus:      b.bus,
		Logger:   b.logger,
		runners:  runners,
		services: services,
	}
	rt.Factory = process.New(store, process.WithStatusSink(rt.logStatus))
	return rt, nil
}

func (rt *Runtime) logStatus(id uint64, st process.Status) {
	name := ""
	if rec, ok := rt.Factory.Record(id); ok {
		name = rec.Metadata.Name
	}
	rt.Logger.Debug("process status", slog.Uint64("id", id), slog.String("name", name), slog.String("status", st.String()))
}

// Spawn inserts inner as a new process and publishes ProcessSpawned on
// the host bus, the single path every plugin and service spawn closure
// should use instead of calling rt.Factory.Spawn directly.
func (rt *Runtime) Spawn(inner handle.Inner, meta process.Metadata) (*process.Record, handle.Capability) {
	rec, cap := rt.Factory.Spawn(inner, meta)
	if rt.Bus != nil {
		_ = rt.Bus.Publish(ProcessSpawned{ID: rec.ID, Name: meta.Name, ModuleID: meta.ModuleID.String()})
	}
	return rec, cap
}

// Run spawns every declared service and waits for each spawn closure
// to confirm startup, then starts every declared runner and blocks
// until ctx is cancelled. On cancellation it frees every registry
// entry and closes the host bus before returning — spec.md §5's
// "every tear-down path is required to free its still-held
// capabilities."
func (rt *Runtime) Run(ctx context.Context) error {
	spawnGroup, spawnCtx := errgroup.WithContext(ctx)
	for _, spec := range rt.services {
		spec := spec
		spawnGroup.Go(func() error {
			cap, err := spec.Spawn(spawnCtx, rt)
			if err != nil {
				return fmt.Errorf("runtime: spawn service %s: %w", spec.Name, err)
			}
			if prev, had := rt.Registry.Insert(spec.Name, cap.WithPerm(spec.Perm)); had {
				prev.Free(rt.Store)
			}
			if rt.Bus != nil {
				_ = rt.Bus.Publish(ServiceRegistered{Name: spec.Name})
			}
			return nil
		})
	}
	if err := spawnGroup.Wait(); err != nil {
		return err
	}
	rt.Logger.Info("runtime live", slog.Int("services", len(rt.services)), slog.Int("runners", len(rt.runners)))

	runGroup, runCtx := errgroup.WithContext(ctx)
	for _, r := range rt.runners {
		r := r
		runGroup.Go(func() error { return r(runCtx, rt) })
	}

	<-ctx.Done()
	rt.Logger.Info("runtime shutting down", slog.String("cause", fmt.Sprint(ctx.Err())))
	rt.Registry.Close()
	if rt.Bus != nil {
		_ = rt.Bus.Close()
	}
	if err := runGroup.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
