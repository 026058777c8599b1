package conn

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/sony/gobreaker"
)

// Dialer opens outbound peer connections, tripping a circuit breaker
// after repeated failures so a persistently unreachable peer stops
// being hammered with reconnect attempts — the same defensive-degrade
// idiom the teacher's go-kit-adjacent clients apply to gRPC dials,
// generalized here to the substrate's own raw TCP peer links.
type Dialer struct {
	breaker *gobreaker.CircuitBreaker[net.Conn]
	logger  *slog.Logger
}

// NewDialer builds a dialer with default breaker tunables: trip after
// 5 consecutive failures, half-open probe after 30s.
func NewDialer(logger *slog.Logger) *Dialer {
	if logger == nil {
		logger = slog.Default()
	}
	st := gobreaker.Settings{
		Name:        "hearth-peer-dial",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("peer dial breaker state change", slog.String("breaker", name), slog.String("from", from.String()), slog.String("to", to.String()))
		},
	}
	return &Dialer{
		breaker: gobreaker.NewCircuitBreaker[net.Conn](st),
		logger:  logger,
	}
}

// Dial opens a TCP connection to addr, routed through the breaker.
// Returns gobreaker.ErrOpenState without attempting I/O while the
// breaker is open.
func (d *Dialer) Dial(ctx context.Context, addr string) (net.Conn, error) {
	conn, err := d.breaker.Execute(func() (net.Conn, error) {
		var dialer net.Dialer
		c, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("conn: dial %s: %w", addr, err)
		}
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// State reports the breaker's current state, for admin/debug surfaces.
func (d *Dialer) State() string {
	return d.breaker.State().String()
}
