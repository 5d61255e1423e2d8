package executor

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker"

	"github.com/nodequorum/controld/pkg/ctlerr"
)

// Dialer opens one connection to the executor daemon on a node. The
// production dialer wraps a TLS-secured socket (lrmd_tls_connect's Go
// analogue); tests substitute an in-memory stand-in.
type Dialer func(ctx context.Context) (Conn, error)

// Conn is the minimal surface Reconnector needs from a live connection.
type Conn interface {
	Close() error
}

// Reconnector maintains a connection to one node's executor daemon,
// retrying with bounded exponential backoff on failure and tripping a
// circuit breaker after repeated consecutive failures so a node that is
// truly unreachable stops being hammered with dial attempts.
type Reconnector struct {
	dial    Dialer
	breaker *gobreaker.CircuitBreaker
	maxTries int
}

// NewReconnector builds a reconnector for one executor daemon address.
// name identifies the target in circuit breaker state-change logging.
func NewReconnector(name string, dial Dialer) *Reconnector {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	return &Reconnector{
		dial:     dial,
		breaker:  gobreaker.NewCircuitBreaker(settings),
		maxTries: 8,
	}
}

// Connect dials with bounded exponential backoff, honoring ctx
// cancellation, and returns ctlerr.NotConnected once retries or the
// circuit breaker's open state exhaust the attempt.
func (r *Reconnector) Connect(ctx context.Context) (Conn, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 10 * time.Second

	var lastErr error
	for attempt := 0; attempt < r.maxTries; attempt++ {
		result, err := r.breaker.Execute(func() (interface{}, error) {
			return r.dial(ctx)
		})
		if err == nil {
			return result.(Conn), nil
		}
		lastErr = err

		wait := b.NextBackOff()
		select {
		case <-ctx.Done():
			return nil, ctlerr.New(ctlerr.Cancelled, "executor.Connect", "context cancelled while reconnecting", ctx.Err())
		case <-time.After(wait):
		}
	}
	return nil, ctlerr.New(ctlerr.NotConnected, "executor.Connect", "exhausted reconnect attempts", lastErr)
}
