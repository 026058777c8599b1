package control

import (
	"context"
	"log/slog"

	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/logging"
	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/recovery"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// NewServer builds the control-plane gRPC server: recovery and logging
// stream interceptors wrap every call (grounded on the teacher's
// stream_auth.go interceptor-wrapping shape, generalized from
// auth-context-injection to panic-recovery and structured logging,
// since the control plane has no guest-facing auth of its own — that
// lives at the PAKE handshake layer, out of scope per spec.md §1), and
// otelgrpc instruments every stream with a trace span.
func NewServer(logger *slog.Logger) *grpc.Server {
	return grpc.NewServer(
		grpc.ForceServerCodec(jsonCodec{}),
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainStreamInterceptor(
			recovery.StreamServerInterceptor(recovery.WithRecoveryHandlerContext(recoveryHandler(logger))),
			logging.StreamServerInterceptor(slogLogger(logger)),
		),
	)
}

func recoveryHandler(logger *slog.Logger) recovery.RecoveryHandlerFuncContext {
	return func(ctx context.Context, p interface{}) error {
		logger.Error("control: recovered panic in stream handler", slog.Any("panic", p))
		return nil
	}
}

// slogLogger adapts *slog.Logger to grpc-middleware's logging.Logger
// interface, the way the teacher threads its own *slog.Logger into
// every handler constructor rather than relying on a global logger.
func slogLogger(base *slog.Logger) logging.Logger {
	return logging.LoggerFunc(func(ctx context.Context, lvl logging.Level, msg string, fields ...any) {
		var level slog.Level
		switch lvl {
		case logging.LevelDebug:
			level = slog.LevelDebug
		case logging.LevelWarn:
			level = slog.LevelWarn
		case logging.LevelError:
			level = slog.LevelError
		default:
			level = slog.LevelInfo
		}
		base.Log(ctx, level, msg, fields...)
	})
}
