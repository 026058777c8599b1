// Package control is a runtime.Plugin that stands up the gRPC
// control-plane server (internal/control) as a runner once the
// runtime is live, so its Watch RPC can read the final
// process.Factory the runtime constructs after the finish phase.
package control

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"github.com/hearthspace/hearth/internal/control"
	"github.com/hearthspace/hearth/internal/runtime"
)

// Plugin listens on Addr and serves the Watch RPC.
type Plugin struct {
	Addr   string
	Logger *slog.Logger
}

// New builds a control-plane plugin listening on addr.
func New(addr string, logger *slog.Logger) *Plugin {
	return &Plugin{Addr: addr, Logger: logger}
}

func (p *Plugin) Name() string { return "control" }

func (p *Plugin) Build(b *runtime.Builder) error {
	logger := p.Logger
	if logger == nil {
		logger = b.Logger()
	}

	b.AddRunner(func(ctx context.Context, rt *runtime.Runtime) error {
		lis, err := net.Listen("tcp", p.Addr)
		if err != nil {
			return fmt.Errorf("plugin control: listen %s: %w", p.Addr, err)
		}

		server := control.NewServer(logger)
		control.Register(server, control.NewService(logger, rt.Factory))

		errCh := make(chan error, 1)
		go func() { errCh <- server.Serve(lis) }()

		select {
		case <-ctx.Done():
			server.GracefulStop()
			return nil
		case err := <-errCh:
			return fmt.Errorf("plugin control: serve: %w", err)
		}
	})
	return nil
}
