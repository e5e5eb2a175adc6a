package pool

import "github.com/go-i2p/respool/lib/metrics"

// Pool utilization metrics, labelled by pool name.
var (
	// PoolSizeMax is the configured maximum pool size.
	PoolSizeMax = metrics.NewGaugeVec(
		"respool_pool_size_max",
		"Configured maximum number of resources in the pool",
		"pool",
	)
	// PoolSizeCurrent is the number of live resources.
	PoolSizeCurrent = metrics.NewGaugeVec(
		"respool_pool_resources",
		"Current number of live resources",
		"pool",
	)
	// PoolSizeIdle is the number of idle resources.
	PoolSizeIdle = metrics.NewGaugeVec(
		"respool_pool_resources_idle",
		"Current number of idle resources in the pool",
		"pool",
	)
	// PoolSizeActive is the number of resources currently lent out.
	PoolSizeActive = metrics.NewGaugeVec(
		"respool_pool_resources_in_use",
		"Number of resources currently in use",
		"pool",
	)
	// PoolWaiters is the number of callers blocked in Acquire.
	PoolWaiters = metrics.NewGaugeVec(
		"respool_pool_waiters",
		"Number of callers waiting for a resource",
		"pool",
	)
	// PoolAcquireTotal is the total number of acquire attempts.
	PoolAcquireTotal = metrics.NewCounterVec(
		"respool_pool_acquire_total",
		"Total number of resource acquire attempts",
		"pool",
	)
	// PoolAcquireFailedTotal is the number of failed acquires.
	PoolAcquireFailedTotal = metrics.NewCounterVec(
		"respool_pool_acquire_failed_total",
		"Total number of failed resource acquires",
		"pool",
	)
	// PoolAcquireTimeoutTotal is the number of acquires that timed out.
	PoolAcquireTimeoutTotal = metrics.NewCounterVec(
		"respool_pool_acquire_timeout_total",
		"Total number of acquires that gave up waiting",
		"pool",
	)
	// PoolReleaseTotal is the number of releases.
	PoolReleaseTotal = metrics.NewCounterVec(
		"respool_pool_release_total",
		"Total number of resource releases",
		"pool",
	)
	// PoolCreateFailedTotal is the number of factory failures.
	PoolCreateFailedTotal = metrics.NewCounterVec(
		"respool_pool_create_failed_total",
		"Total number of failed resource creations",
		"pool",
	)
	// PoolValidationFailsTotal is the number of resources that failed validation.
	PoolValidationFailsTotal = metrics.NewCounterVec(
		"respool_pool_validation_fails_total",
		"Total number of resources that failed validation",
		"pool",
	)
	// PoolCleanupFailedTotal is the number of closer failures.
	PoolCleanupFailedTotal = metrics.NewCounterVec(
		"respool_pool_cleanup_failed_total",
		"Total number of resources whose cleanup failed",
		"pool",
	)
	// PoolAcquireLatency tracks time spent acquiring resources across all pools.
	PoolAcquireLatency = metrics.NewHistogram(
		"respool_pool_acquire_duration_seconds",
		"Time spent acquiring a resource from a pool",
		metrics.DefaultLatencyBuckets,
	)
)

// UpdateMetrics updates the size gauges from Stats.
func UpdateMetrics(stats Stats) {
	PoolSizeMax.Set(stats.Name, int64(stats.MaxSize))
	PoolSizeCurrent.Set(stats.Name, int64(stats.CurrentSize))
	PoolSizeIdle.Set(stats.Name, int64(stats.IdleSize))
	PoolSizeActive.Set(stats.Name, int64(stats.ActiveSize))
	PoolWaiters.Set(stats.Name, int64(stats.Waiters))
}

// DeleteMetrics drops every series for the named pool.
func DeleteMetrics(name string) {
	for _, g := range []*metrics.GaugeVec{PoolSizeMax, PoolSizeCurrent, PoolSizeIdle, PoolSizeActive, PoolWaiters} {
		g.Delete(name)
	}
	for _, c := range []*metrics.CounterVec{
		PoolAcquireTotal, PoolAcquireFailedTotal, PoolAcquireTimeoutTotal, PoolReleaseTotal,
		PoolCreateFailedTotal, PoolValidationFailsTotal, PoolCleanupFailedTotal,
	} {
		c.Delete(name)
	}
}
