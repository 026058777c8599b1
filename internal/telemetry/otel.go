package telemetry

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// TracerConfig names the peer for trace resource attribution.
type TracerConfig struct {
	ServiceName    string
	ServiceVersion string
}

// NewTracerProvider builds an SDK tracer provider with no exporter
// wired by default — the substrate never mandates a particular
// backend, it only guarantees every span it creates carries the
// peer's identity. The provider is installed as the global one with
// otel.SetTracerProvider before it is returned; callers that want spans
// shipped somewhere register a span processor on it.
func NewTracerProvider(cfg TracerConfig) (*sdktrace.TracerProvider, error) {
	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithResource(res))
	otel.SetTracerProvider(tp)
	return tp, nil
}

// WithTraceContext wraps base with otelslog's bridge handler so every
// log record emitted by the returned logger carries the active span's
// trace and span IDs, the way the teacher's own logs carry a
// domain-specific correlation ID by convention but not by library.
func WithTraceContext(base *slog.Logger, scope string) *slog.Logger {
	bridge := otelslog.NewHandler(scope)
	return slog.New(mergedHandler{primary: base.Handler(), bridge: bridge})
}

// mergedHandler fans a record out to both the original sink (JSON to
// stdout/lumberjack) and the otel bridge (log records attached to the
// current span), so adding tracing never silently replaces ordinary
// log output.
type mergedHandler struct {
	primary slog.Handler
	bridge  slog.Handler
}

func (h mergedHandler) Enabled(ctx context.Context, lvl slog.Level) bool {
	return h.primary.Enabled(ctx, lvl) || h.bridge.Enabled(ctx, lvl)
}

func (h mergedHandler) Handle(ctx context.Context, r slog.Record) error {
	if err := h.primary.Handle(ctx, r); err != nil {
		return err
	}
	return h.bridge.Handle(ctx, r)
}

func (h mergedHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return mergedHandler{primary: h.primary.WithAttrs(attrs), bridge: h.bridge.WithAttrs(attrs)}
}

func (h mergedHandler) WithGroup(name string) slog.Handler {
	return mergedHandler{primary: h.primary.WithGroup(name), bridge: h.bridge.WithGroup(name)}
}
