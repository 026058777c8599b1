// Package admin is a runtime.Plugin that serves the chi-routed debug
// HTTP surface (internal/admin) as a runner.
package admin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/hearthspace/hearth/internal/admin"
	"github.com/hearthspace/hearth/internal/runtime"
)

// OnPeer is called for each peer accepted over the /peer/ws upgrade
// endpoint; it has the same shape as the raw-TCP accept loop's
// per-connection handler so both transports converge on one
// Connection lifecycle.
type OnPeer func(ctx context.Context, rt *runtime.Runtime, rwc io.ReadWriteCloser)

// Plugin listens on Addr and serves /debug/services, /debug/store, and
// (when OnPeer is set) a WebSocket peer-connection upgrade endpoint.
type Plugin struct {
	Addr   string
	Logger *slog.Logger
	OnPeer OnPeer
}

// New builds an admin HTTP plugin listening on addr.
func New(addr string, logger *slog.Logger) *Plugin {
	return &Plugin{Addr: addr, Logger: logger}
}

func (p *Plugin) Name() string { return "admin" }

func (p *Plugin) Build(b *runtime.Builder) error {
	logger := p.Logger
	if logger == nil {
		logger = b.Logger()
	}

	b.AddRunner(func(ctx context.Context, rt *runtime.Runtime) error {
		var onPeer func(io.ReadWriteCloser)
		if p.OnPeer != nil {
			onPeer = func(rwc io.ReadWriteCloser) { p.OnPeer(ctx, rt, rwc) }
		}

		srv := &http.Server{
			Addr:    p.Addr,
			Handler: admin.Router(rt.Store, rt.Registry, logger, onPeer),
		}

		errCh := make(chan error, 1)
		go func() { errCh <- srv.ListenAndServe() }()

		select {
		case <-ctx.Done():
			return srv.Shutdown(context.Background())
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("plugin admin: serve: %w", err)
		}
	})
	return nil
}
