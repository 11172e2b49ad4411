package provider

import (
	"context"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/haasonsaas/agentrun/pkg/agentmsg"
)

// BreakerConfig tunes the circuit wrapping a Provider's Stream calls. It
// is independent of the retry policy (internal/backoff): the retry policy
// governs a single call's transient-failure recovery, while the breaker
// governs whether new calls should even be attempted after a run of
// non-transient failures against this adapter.
type BreakerConfig struct {
	// MaxRequestsHalfOpen bounds probe traffic while the breaker is
	// half-open.
	MaxRequestsHalfOpen uint32

	// OpenTimeout is how long the breaker stays open before allowing a
	// half-open probe.
	OpenTimeout time.Duration

	// FailureRatio opens the breaker once this fraction of requests in
	// the rolling window fail.
	FailureRatio float64

	// MinRequests is the minimum sample size before FailureRatio applies.
	MinRequests uint32
}

// DefaultBreakerConfig is a conservative default: open after at least 5
// requests with a 60% failure ratio, stay open 30s.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequestsHalfOpen: 1,
		OpenTimeout:         30 * time.Second,
		FailureRatio:        0.6,
		MinRequests:         5,
	}
}

// CircuitBreaker wraps a Provider, short-circuiting Stream calls while the
// underlying breaker is open.
type CircuitBreaker struct {
	inner Provider
	cb    *gobreaker.CircuitBreaker[<-chan Chunk]
}

// NewCircuitBreaker wraps inner with a named gobreaker instance.
func NewCircuitBreaker(name string, inner Provider, cfg BreakerConfig) *CircuitBreaker {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequestsHalfOpen,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureRatio
		},
	}
	return &CircuitBreaker{
		inner: inner,
		cb:    gobreaker.NewCircuitBreaker[<-chan Chunk](settings),
	}
}

func (c *CircuitBreaker) Supports(d Descriptor) bool { return c.inner.Supports(d) }

func (c *CircuitBreaker) CountTokens(d Descriptor, messages []agentmsg.Message) int {
	return c.inner.CountTokens(d, messages)
}

func (c *CircuitBreaker) Priority() int { return c.inner.Priority() }

// Stream executes the call through the breaker. When the breaker is open
// it fails fast with ErrCircuitOpen instead of reaching the adapter.
func (c *CircuitBreaker) Stream(ctx context.Context, d Descriptor, messages []agentmsg.Message, tools []Tool, opts Options) (<-chan Chunk, error) {
	ch, err := c.cb.Execute(func() (<-chan Chunk, error) {
		return c.inner.Stream(ctx, d, messages, tools, opts)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, fmt.Errorf("%w: %s", ErrCircuitOpen, err)
		}
		return nil, err
	}
	return ch, nil
}

// ErrCircuitOpen is returned (wrapped) by Stream when the breaker is open
// or has exhausted its half-open probe budget.
var ErrCircuitOpen = fmt.Errorf("provider: circuit open")
