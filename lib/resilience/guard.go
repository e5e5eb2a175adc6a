package resilience

import (
	"context"

	"github.com/go-i2p/respool/lib/pool"
)

// GuardFactory wraps factory so that creation fails fast with
// ErrCircuitOpen while cb is open. Factory errors are recorded as breaker
// failures; the pool still sees them as creation failures.
func GuardFactory[T any](cb *CircuitBreaker, factory pool.Factory[T]) pool.Factory[T] {
	return func(ctx context.Context) (T, error) {
		var res T
		err := cb.Execute(ctx, func(ctx context.Context) error {
			var err error
			res, err = factory(ctx)
			return err
		})
		return res, err
	}
}
