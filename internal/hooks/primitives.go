// Package hooks implements the three-category hook pipeline:
// observers (telemetry run concurrently with one another, whose errors
// are logged), interceptors (sync, pure data transforms that may suppress
// a value), and controllers (run one at a time in registration order,
// flow control with a closed action set), each a distinct generic
// primitive rather than one flat pub/sub registry.
package hooks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hashicorp/go-multierror"
)

// ObserverFunc is telemetry: it may run concurrently with its siblings,
// may be async, and never affects the value under observation. Returned
// errors are logged, never propagated.
type ObserverFunc[T any] func(ctx context.Context, payload T) error

// Observers is an ordered registry of ObserverFunc callbacks for one
// named attachment point (e.g. onLLMCallStart).
type Observers[T any] struct {
	mu  sync.RWMutex
	fns []ObserverFunc[T]
}

// Register appends fn to the registry.
func (o *Observers[T]) Register(fn ObserverFunc[T]) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fns = append(o.fns, fn)
}

// Fire runs every registered observer concurrently. It blocks until all
// have returned (or panicked; panics are recovered and logged), so
// callers control their own fire-and-forget semantics by not awaiting
// Fire's return if they want true asynchrony.
func (o *Observers[T]) Fire(ctx context.Context, logger *slog.Logger, payload T) {
	o.mu.RLock()
	fns := append([]ObserverFunc[T](nil), o.fns...)
	o.mu.RUnlock()
	if len(fns) == 0 {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		merr *multierror.Error
	)
	for _, fn := range fns {
		fn := fn
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					mu.Lock()
					merr = multierror.Append(merr, fmt.Errorf("hook observer panicked: %v", r))
					mu.Unlock()
				}
			}()
			if err := fn(ctx, payload); err != nil {
				mu.Lock()
				merr = multierror.Append(merr, err)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if merr != nil {
		logger.Warn("hook observers returned errors", "error", merr.ErrorOrNil())
	}
}

// count reports how many observers are registered, used by Merge's
// associativity tests to compare multisets by size.
func (o *Observers[T]) count() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.fns)
}

// InterceptorFunc is a pure, synchronous data transform. Returning
// keep=false suppresses the value entirely.
type InterceptorFunc[T any] func(ctx context.Context, value T) (out T, keep bool)

// Interceptors is an ordered registry of InterceptorFunc callbacks,
// applied in registration order, each threading the previous one's
// output into the next one's input.
type Interceptors[T any] struct {
	mu  sync.RWMutex
	fns []InterceptorFunc[T]
}

// Register appends fn to the registry.
func (i *Interceptors[T]) Register(fn InterceptorFunc[T]) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.fns = append(i.fns, fn)
}

// Fire threads value through every registered interceptor in order.
// Returns keep=false the moment any interceptor suppresses the value.
func (i *Interceptors[T]) Fire(ctx context.Context, value T) (T, bool) {
	i.mu.RLock()
	fns := append([]InterceptorFunc[T](nil), i.fns...)
	i.mu.RUnlock()

	for _, fn := range fns {
		out, keep := fn(ctx, value)
		if !keep {
			var zero T
			return zero, false
		}
		value = out
	}
	return value, true
}

func (i *Interceptors[T]) count() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.fns)
}

// ControllerFunc decides flow control for one attachment point.
type ControllerFunc[T any] func(ctx context.Context, payload T) (Result, error)

// Controllers is an ordered registry of ControllerFunc callbacks, run in
// registration order; the first result other than Proceed/Continue wins
// and short-circuits the remaining controllers.
type Controllers[T any] struct {
	mu  sync.RWMutex
	fns []ControllerFunc[T]
}

// Register appends fn to the registry.
func (c *Controllers[T]) Register(fn ControllerFunc[T]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fns = append(c.fns, fn)
}

// Fire runs registered controllers in order until one returns a
// non-Proceed/Continue Result, or all have run (in which case Proceed is
// returned). A controller error aborts immediately and propagates to the
// caller: controllers are expected to decide flow, not fail silently.
func (c *Controllers[T]) Fire(ctx context.Context, payload T) (Result, error) {
	c.mu.RLock()
	fns := append([]ControllerFunc[T](nil), c.fns...)
	c.mu.RUnlock()

	for _, fn := range fns {
		res, err := fn(ctx, payload)
		if err != nil {
			return Result{}, err
		}
		if err := res.Action.validate(); err != nil {
			return Result{}, err
		}
		if res.Action != ActionProceed && res.Action != ActionContinue {
			return res, nil
		}
	}
	return Result{Action: ActionProceed}, nil
}

func (c *Controllers[T]) count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.fns)
}

// mergeObservers fills dst with a's callbacks followed by b's. dst must
// be fresh and unshared; it is written without holding its own lock.
func mergeObservers[T any](dst, a, b *Observers[T]) {
	dst.fns = append(a.snapshot(), b.snapshot()...)
}

func (o *Observers[T]) snapshot() []ObserverFunc[T] {
	if o == nil {
		return nil
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	return append([]ObserverFunc[T](nil), o.fns...)
}

func mergeInterceptors[T any](dst, a, b *Interceptors[T]) {
	dst.fns = append(a.snapshot(), b.snapshot()...)
}

func (i *Interceptors[T]) snapshot() []InterceptorFunc[T] {
	if i == nil {
		return nil
	}
	i.mu.RLock()
	defer i.mu.RUnlock()
	return append([]InterceptorFunc[T](nil), i.fns...)
}

func mergeControllers[T any](dst, a, b *Controllers[T]) {
	dst.fns = append(a.snapshot(), b.snapshot()...)
}

func (c *Controllers[T]) snapshot() []ControllerFunc[T] {
	if c == nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]ControllerFunc[T](nil), c.fns...)
}
