package backoff

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDefaultClassifier(t *testing.T) {
	cases := []struct {
		msg       string
		retryable bool
	}{
		{"429 too many requests", true},
		{"rate limit exceeded", true},
		{"connection reset by peer", true},
		{"503 service unavailable", true},
		{"model overloaded, try again", true},
		{"request timed out", true},
		{"401 unauthorized", false},
		{"invalid api key", false},
		{"400 bad request", false},
		{"404 not found", false},
		{"blocked by content policy", false},
	}
	for _, tc := range cases {
		got := DefaultClassifier(errors.New(tc.msg))
		if got.Retryable != tc.retryable {
			t.Errorf("classify(%q).Retryable = %v, want %v", tc.msg, got.Retryable, tc.retryable)
		}
	}
}

func TestDefaultClassifier_NilError(t *testing.T) {
	if got := DefaultClassifier(nil); got.Retryable {
		t.Error("nil error must not be retryable")
	}
}

func TestBaseDelayMonotonic(t *testing.T) {
	p := DefaultPolicy()
	prev := time.Duration(0)
	for k := 1; k <= 10; k++ {
		d := p.BaseDelay(k)
		if d < prev {
			t.Fatalf("BaseDelay(%d) = %v < BaseDelay(%d) = %v", k, d, k-1, prev)
		}
		prev = d
	}
}

func TestBaseDelayCappedAtMaxTimeout(t *testing.T) {
	p := DefaultPolicy()
	if got := p.BaseDelay(20); got != p.MaxTimeout {
		t.Errorf("BaseDelay(20) = %v, want cap %v", got, p.MaxTimeout)
	}
}

func TestDelayJitterRange(t *testing.T) {
	p := DefaultPolicy()
	base := p.BaseDelay(2) // 2s
	for i := 0; i < 50; i++ {
		d := p.Delay(2, Classification{Retryable: true})
		lo := time.Duration(float64(base) * 0.5)
		hi := time.Duration(float64(base) * 1.5)
		if d < lo || d > hi {
			t.Fatalf("Delay = %v outside jitter range [%v, %v]", d, lo, hi)
		}
	}
}

func TestDelayRetryAfterWinsAndClamps(t *testing.T) {
	p := DefaultPolicy()

	ra := 5 * time.Second
	if got := p.Delay(1, Classification{Retryable: true, RetryAfter: &ra}); got != ra {
		t.Errorf("Delay with Retry-After = %v, want %v", got, ra)
	}

	huge := 10 * time.Minute
	if got := p.Delay(1, Classification{Retryable: true, RetryAfter: &huge}); got != p.MaxRetryAfter {
		t.Errorf("Delay with oversized Retry-After = %v, want clamp %v", got, p.MaxRetryAfter)
	}
}

func TestExtractRetryAfter(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		signal string
		want   time.Duration
		ok     bool
	}{
		{"2", 2 * time.Second, true},
		{"45.28s", 45280 * time.Millisecond, true},
		{"3 seconds", 3 * time.Second, true},
		{"please retry in 2.5s", 2500 * time.Millisecond, true},
		{"Sun, 01 Jun 2025 12:00:30 UTC", 30 * time.Second, true},
		{"Sun, 01 Jun 2025 11:00:00 UTC", 0, false}, // past date ignored
		{"", 0, false},
		{"soon", 0, false},
	}
	for _, tc := range cases {
		got, ok := ExtractRetryAfter(tc.signal, now)
		if ok != tc.ok || got != tc.want {
			t.Errorf("ExtractRetryAfter(%q) = (%v, %v), want (%v, %v)", tc.signal, got, ok, tc.want, tc.ok)
		}
	}
}

func TestExtractRetryAfterFromMessage_QuotaDefault(t *testing.T) {
	got, ok := ExtractRetryAfterFromMessage("quota exceeded for this project", time.Now())
	if !ok || got != 60*time.Second {
		t.Errorf("quota-exceeded default = (%v, %v), want (60s, true)", got, ok)
	}
}

func TestDoRetriesThenSucceeds(t *testing.T) {
	p := DefaultPolicy()
	p.MinTimeout = time.Millisecond
	p.MaxTimeout = 2 * time.Millisecond
	p.Randomize = false

	var retries int
	p.OnRetry = func(err error, attempt int, delay time.Duration) { retries++ }

	attempts := 0
	err := Do(context.Background(), p, func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("429 too many requests")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if attempts != 3 || retries != 2 {
		t.Errorf("attempts = %d retries = %d, want 3/2", attempts, retries)
	}
}

func TestDoNonRetryableFailsImmediately(t *testing.T) {
	p := DefaultPolicy()
	attempts := 0
	err := Do(context.Background(), p, func(ctx context.Context) error {
		attempts++
		return errors.New("401 unauthorized")
	})
	if err == nil {
		t.Fatal("expected an error")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 for a non-retryable error", attempts)
	}
}

func TestDoExhaustionWrapsFinalError(t *testing.T) {
	p := DefaultPolicy()
	p.Retries = 2
	p.MinTimeout = time.Millisecond
	p.MaxTimeout = 2 * time.Millisecond
	p.Randomize = false

	var exhaustedAttempts int
	p.OnExhausted = func(err error, attempts int) { exhaustedAttempts = attempts }

	cause := errors.New("503 service unavailable")
	err := Do(context.Background(), p, func(ctx context.Context) error { return cause })

	var exhausted *ErrExhausted
	if !errors.As(err, &exhausted) {
		t.Fatalf("err = %v, want *ErrExhausted", err)
	}
	if !errors.Is(err, cause) {
		t.Error("ErrExhausted must unwrap to the final cause")
	}
	if exhaustedAttempts != 3 {
		t.Errorf("OnExhausted attempts = %d, want 3", exhaustedAttempts)
	}
}

func TestDoHonorsContextCancellation(t *testing.T) {
	p := DefaultPolicy()
	p.MinTimeout = time.Hour // would block forever without cancellation
	p.Randomize = false

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := Do(ctx, p, func(ctx context.Context) error {
		return errors.New("429 too many requests")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
