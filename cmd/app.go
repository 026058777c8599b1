// cmd/app.go composes the ambient stack (config, logger, host event
// bus; no tracer provider is wired here) with go.uber.org/fx the way the teacher's cmd/fx.go wires
// its own providers, then hands off to the substrate's own two-phase
// plugin builder via one fx.Invoke hook — fx starts the process that
// owns the plugin graph, it does not model the graph itself, the same
// division of labor the teacher gives its hand-rolled watermill router.
package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"

	"go.uber.org/fx"

	"github.com/hearthspace/hearth/config"
	adminplugin "github.com/hearthspace/hearth/internal/plugins/admin"
	controlplugin "github.com/hearthspace/hearth/internal/plugins/control"
	lumpplugin "github.com/hearthspace/hearth/internal/plugins/lump"
	"github.com/hearthspace/hearth/internal/conn"
	"github.com/hearthspace/hearth/internal/handle"
	"github.com/hearthspace/hearth/internal/runtime"
	"github.com/hearthspace/hearth/internal/telemetry"
)

func provideLogger(cfg *config.Config) *slog.Logger {
	return telemetry.NewLogger(telemetry.LogConfig{Level: "info"})
}

func provideEventBus(logger *slog.Logger) *runtime.EventBus {
	return runtime.NewEventBus(logger)
}

// registerRuntime builds the plugin graph and wires its lifecycle into
// fx's Start/Stop, per spec.md §4.6: build phase, recursive finish
// phase, then construct store/registry/factory and run until shutdown.
func registerRuntime(lc fx.Lifecycle, cfg *config.Config, logger *slog.Logger, bus *runtime.EventBus) error {
	b := runtime.NewBuilder(logger, bus)

	lumpRoot := cfg.Root
	if lumpRoot == "" {
		lumpRoot = "./lumps"
	}
	if err := b.Add(lumpplugin.New(lumpRoot, 4096)); err != nil {
		return fmt.Errorf("cmd: add lump plugin: %w", err)
	}

	if cfg.Bind != "" {
		if err := b.Add(controlplugin.New(controlAddr(cfg.Bind), logger)); err != nil {
			return fmt.Errorf("cmd: add control plugin: %w", err)
		}
		adminPlugin := adminplugin.New(adminAddr(cfg.Bind), logger)
		adminPlugin.OnPeer = func(ctx context.Context, rt *runtime.Runtime, rwc io.ReadWriteCloser) {
			serveInbound(ctx, rt, rwc, "ws:"+cfg.Bind, logger)
		}
		if err := b.Add(adminPlugin); err != nil {
			return fmt.Errorf("cmd: add admin plugin: %w", err)
		}
		b.AddRunner(peerListenRunner(cfg.Bind, logger))
	}
	if cfg.Server != "" {
		b.AddRunner(peerDialRunner(cfg.Server, logger))
	}

	// runtime.New drains the finish phase and snapshots every runner
	// and service declared so far — it must run after every Add/AddRunner
	// call above, never before, or those runners/services are silently
	// dropped (spec.md §4.6: runners are spawned only once, from the
	// snapshot taken at construction).
	rt, err := runtime.New(b)
	if err != nil {
		return fmt.Errorf("cmd: build runtime: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() { done <- rt.Run(runCtx) }()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			select {
			case err := <-done:
				return err
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
	return nil
}

// peerListenRunner accepts inbound peer connections on addr and starts
// a Connection per socket, exchanging root capabilities per spec.md
// §4.5. See bootstrapRoot for what each side offers as that root.
func peerListenRunner(addr string, logger *slog.Logger) runtime.RunnerFunc {
	return func(ctx context.Context, rt *runtime.Runtime) error {
		lis, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("cmd: listen %s: %w", addr, err)
		}
		go func() { <-ctx.Done(); lis.Close() }()

		for {
			c, err := lis.Accept()
			if err != nil {
				select {
				case <-ctx.Done():
					return nil
				default:
					return fmt.Errorf("cmd: accept: %w", err)
				}
			}
			go serveInbound(ctx, rt, c, c.RemoteAddr().String(), logger)
		}
	}
}

// serveInbound drives one Connection to completion regardless of
// transport: peerListenRunner and peerDialRunner hand it a raw
// net.Conn, the admin plugin's /peer/ws upgrade path hands it a
// websocket-backed stream — both satisfy io.ReadWriteCloser, so one
// bootstrap and lifecycle-publish path covers either.
func serveInbound(ctx context.Context, rt *runtime.Runtime, rwc io.ReadWriteCloser, peer string, logger *slog.Logger) {
	root := bootstrapRoot(rt)
	connection := conn.New(rt.Store, rwc, logger)
	peerRoot := connection.Start(ctx, root)
	select {
	case <-peerRoot:
		_ = rt.Bus.Publish(runtime.ConnectionUp{Peer: peer})
	case <-connection.Done():
	}
	<-connection.Done()
	_ = rt.Bus.Publish(runtime.ConnectionDown{Peer: peer})
}

// peerDialRunner dials the configured peer once on startup through a
// circuit-breaking internal/conn.Dialer. A failed dial ends the runner
// with that error; there is no retry.
func peerDialRunner(addr string, logger *slog.Logger) runtime.RunnerFunc {
	return func(ctx context.Context, rt *runtime.Runtime) error {
		dialer := conn.NewDialer(logger)
		c, err := dialer.Dial(ctx, addr)
		if err != nil {
			return fmt.Errorf("cmd: dial %s: %w", addr, err)
		}
		serveInbound(ctx, rt, c, addr, logger)
		return nil
	}
}

// bootstrapRoot grants a fresh peer connection its sole root
// capability: a send-only, host-implemented driver that frees every
// signal it receives. It does not expose the registry; messages sent to
// it are not answered.
func bootstrapRoot(rt *runtime.Runtime) handle.Capability {
	inner := handle.HandlerFunc(func(sig handle.Signal) bool {
		sig.Free(rt.Store)
		return true
	})
	return rt.Store.Insert(inner).WithPerm(handle.PermSend)
}

func controlAddr(bind string) string {
	host, _, err := net.SplitHostPort(bind)
	if err != nil {
		return bind
	}
	return net.JoinHostPort(host, "9090")
}

func adminAddr(bind string) string {
	host, _, err := net.SplitHostPort(bind)
	if err != nil {
		return bind
	}
	return net.JoinHostPort(host, "9091")
}

// NewApp builds the fx application; callers drive its lifecycle with
// Start/Stop, matching the teacher's own cmd.go usage.
func NewApp(cfg *config.Config) *fx.App {
	return fx.New(
		fx.Provide(
			func() *config.Config { return cfg },
			provideLogger,
			provideEventBus,
		),
		fx.Invoke(registerRuntime),
	)
}
