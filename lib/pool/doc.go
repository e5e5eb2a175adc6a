// Package pool provides a generic bounded resource pool for managing
// reusable resources such as connections, clients or buffers.
//
// The pool supports:
//   - Minimum and maximum sizes, with eager warm-up to the minimum
//   - Idle timeout and maximum lifetime eviction
//   - Validation of idle resources by a background reaper
//   - Runtime resizing
//   - Cleanup diagnostics returned from Stop and ReapNow
//   - Metrics for pool utilization
//
// # Basic Usage
//
//	factory := func(ctx context.Context) (net.Conn, error) {
//	    var d net.Dialer
//	    return d.DialContext(ctx, "tcp", "localhost:8080")
//	}
//
//	cfg := pool.DefaultConfig()
//	cfg.MaxSize = 10
//	cfg.IdleTimeout = 5 * time.Minute
//
//	p, err := pool.New("backend", factory, cfg,
//	    pool.WithCloser(func(c net.Conn) error { return c.Close() }),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := p.Start(ctx); err != nil {
//	    return err
//	}
//	defer p.Stop(context.Background())
//
//	r, err := p.Acquire(ctx)
//	if err != nil {
//	    return err
//	}
//	defer p.Release(r)
//
//	// Use r.Value...
//
// # Validation
//
// A validator removes broken resources during each reaper pass:
//
//	pool.WithValidator(func(c *sql.Conn) bool {
//	    return c.PingContext(context.Background()) == nil
//	})
//
// The validator runs without the pool lock, so it may block on the network.
// Resources under validation are not lent out until their check completes.
// Resources that fail validation are destroyed even if that takes the pool
// below its minimum; the pool is then topped back up.
//
// # Metrics
//
// Pool utilization metrics are registered with the metrics package and
// labelled by pool name:
//   - respool_pool_size_max: Configured maximum size
//   - respool_pool_resources: Live resources
//   - respool_pool_resources_idle: Idle resources
//   - respool_pool_resources_in_use: Resources lent out
//   - respool_pool_waiters: Callers blocked in Acquire
//   - respool_pool_acquire_total: Acquire attempts
//   - respool_pool_acquire_failed_total: Failed acquires
//   - respool_pool_acquire_timeout_total: Acquires that timed out
//   - respool_pool_release_total: Releases
//   - respool_pool_create_failed_total: Factory failures
//   - respool_pool_validation_fails_total: Validation failures
//   - respool_pool_cleanup_failed_total: Closer failures
package pool
