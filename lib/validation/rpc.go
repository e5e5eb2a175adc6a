package validation

// ValidatePoolParam validates the pool name of a single-pool method.
func ValidatePoolParam(name string) error {
	return PoolName("name", name)
}

// ValidatePoolsStatsParams validates parameters for pools.stats.
// An empty name selects every pool.
func ValidatePoolsStatsParams(name string) error {
	if name == "" {
		return nil
	}
	return PoolName("name", name)
}

// ValidatePoolsResizeParams validates parameters for pools.resize.
func ValidatePoolsResizeParams(name string, minSize, maxSize int) error {
	if err := PoolName("name", name); err != nil {
		return err
	}
	return PoolSizes(minSize, maxSize)
}
