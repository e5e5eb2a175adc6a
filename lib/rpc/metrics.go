package rpc

import "github.com/go-i2p/respool/lib/metrics"

// RPC server metrics.
var (
	// RPCConnections is the number of open client connections.
	RPCConnections = metrics.NewGauge(
		"respool_rpc_connections",
		"Number of open RPC client connections",
	)
	// RPCRequestsTotal counts requests by method. Requests that never reach
	// a handler are counted as "invalid", "unauthenticated" or "unknown".
	RPCRequestsTotal = metrics.NewCounterVec(
		"respool_rpc_requests_total",
		"Total RPC requests received",
		"method",
	)
	// RPCErrorsTotal counts handler calls that returned an error.
	RPCErrorsTotal = metrics.NewCounterVec(
		"respool_rpc_errors_total",
		"Total RPC requests answered with an error",
		"method",
	)
	// RPCRequestDuration observes handler latency in seconds.
	RPCRequestDuration = metrics.NewHistogram(
		"respool_rpc_request_duration_seconds",
		"RPC handler latency",
		metrics.DefaultLatencyBuckets,
	)
	// RPCRejectedTotal counts connections refused by the connection limit.
	RPCRejectedTotal = metrics.NewCounter(
		"respool_rpc_rejected_connections_total",
		"Total RPC connections rejected by the connection limit",
	)
)
