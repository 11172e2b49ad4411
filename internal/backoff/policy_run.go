package backoff

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// ErrExhausted wraps the final error once a Policy's attempt budget is
// spent. errors.Unwrap returns the underlying cause.
type ErrExhausted struct {
	Attempts int
	Cause    error
}

func (e *ErrExhausted) Error() string {
	return "backoff: exhausted after " + itoa(e.Attempts) + " attempts: " + e.Cause.Error()
}

func (e *ErrExhausted) Unwrap() error { return e.Cause }

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Classification is the result of classifying an error for retry purposes.
type Classification struct {
	// Retryable is true when the error should be retried.
	Retryable bool

	// RetryAfter, when non-nil, overrides the computed backoff delay for
	// the next attempt.
	RetryAfter *time.Duration
}

// Classifier decides whether an error is retryable and whether it carries
// an explicit Retry-After signal. The predicate is intentionally
// pluggable: the exact set of vendor error names that count as retryable
// is provider-specific.
type Classifier func(err error) Classification

// Policy is the retry/backoff policy. Attempt numbers are 1-based.
type Policy struct {
	Retries           int
	MinTimeout        time.Duration
	MaxTimeout        time.Duration
	Factor            float64
	Randomize         bool
	RespectRetryAfter bool
	MaxRetryAfter     time.Duration

	// Classify decides retryability; defaults to DefaultClassifier if nil.
	Classify Classifier

	// OnRetry is invoked before each retry delay, with the error that
	// triggered it, the attempt number just completed, and the delay
	// about to be slept.
	OnRetry func(err error, attempt int, delay time.Duration)

	// OnExhausted is invoked once, when the attempt budget is spent.
	OnExhausted func(err error, attempts int)
}

// DefaultPolicy returns the stock policy: 3 retries, 1s-30s exponential
// backoff with jitter, Retry-After honored up to 120s.
func DefaultPolicy() Policy {
	return Policy{
		Retries:           3,
		MinTimeout:        time.Second,
		MaxTimeout:        30 * time.Second,
		Factor:            2,
		Randomize:         true,
		RespectRetryAfter: true,
		MaxRetryAfter:     120 * time.Second,
	}
}

func (p Policy) classifier() Classifier {
	if p.Classify != nil {
		return p.Classify
	}
	return DefaultClassifier
}

// BaseDelay computes the backoff for attempt k (ignoring jitter and any
// Retry-After override): min(maxTimeout, minTimeout * factor^(k-1)).
// Monotonically non-decreasing in k.
func (p Policy) BaseDelay(attempt int) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	base := float64(p.MinTimeout) * math.Pow(p.Factor, exp)
	if base > float64(p.MaxTimeout) {
		base = float64(p.MaxTimeout)
	}
	return time.Duration(base)
}

// Delay computes the full per-attempt delay: Retry-After (when present and
// respected) wins outright, clamped to MaxRetryAfter; otherwise the base
// delay multiplied by Uniform(0.5, 1.5) jitter when Randomize is set.
func (p Policy) Delay(attempt int, cls Classification) time.Duration {
	if p.RespectRetryAfter && cls.RetryAfter != nil {
		d := *cls.RetryAfter
		if p.MaxRetryAfter > 0 && d > p.MaxRetryAfter {
			d = p.MaxRetryAfter
		}
		return d
	}
	base := p.BaseDelay(attempt)
	if !p.Randomize {
		return base
	}
	jitter := 0.5 + rand.Float64() // #nosec G404 -- jitter, not a security value
	d := time.Duration(float64(base) * jitter)
	if p.MaxTimeout > 0 && d > p.MaxTimeout {
		d = p.MaxTimeout
	}
	return d
}

// Do runs op, retrying per the policy until it succeeds, a non-retryable
// error is classified, the context is canceled, or attempts are
// exhausted. The final error is wrapped in ErrExhausted on exhaustion.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	classify := p.classifier()
	maxAttempts := p.Retries + 1
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		cls := classify(err)
		if !cls.Retryable {
			return err
		}
		if attempt == maxAttempts {
			break
		}

		delay := p.Delay(attempt, cls)
		if p.OnRetry != nil {
			p.OnRetry(err, attempt, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	if p.OnExhausted != nil {
		p.OnExhausted(lastErr, maxAttempts)
	}
	if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
		return lastErr
	}
	return &ErrExhausted{Attempts: maxAttempts, Cause: lastErr}
}
