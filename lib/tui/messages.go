package tui

import (
	"time"

	"github.com/go-i2p/respool/lib/rpc"
)

// refreshMsg carries the periodic status and pool list.
type refreshMsg struct {
	status *rpc.StatusResult
	pools  *rpc.PoolsListResult
	err    error
}

// tickMsg triggers a data refresh.
type tickMsg time.Time

// resourcesMsg carries the resources of the selected pool.
type resourcesMsg struct {
	result *rpc.PoolsResourcesResult
	err    error
}

// reapedMsg is the outcome of a manual reap.
type reapedMsg struct {
	result *rpc.CleanupResult
	err    error
}
