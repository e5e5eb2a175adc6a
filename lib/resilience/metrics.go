package resilience

import (
	"github.com/go-i2p/respool/lib/metrics"
)

// Circuit breaker metrics, labelled by circuit name.
var (
	// CircuitStateGauge tracks the state of each breaker (0=closed, 1=open, 2=half-open).
	CircuitStateGauge = metrics.NewGaugeVec(
		"respool_circuit_state",
		"Current state of the circuit breaker (0=closed, 1=open, 2=half-open)",
		"circuit",
	)

	// CircuitTrips counts how often each circuit has opened.
	CircuitTrips = metrics.NewCounterVec(
		"respool_circuit_trips_total",
		"Total number of times the circuit breaker opened",
		"circuit",
	)

	// CircuitSuccesses counts successful operations recorded by each breaker.
	CircuitSuccesses = metrics.NewCounterVec(
		"respool_circuit_successes_total",
		"Total successful operations through the circuit breaker",
		"circuit",
	)

	// CircuitFailures counts failed operations recorded by each breaker.
	CircuitFailures = metrics.NewCounterVec(
		"respool_circuit_failures_total",
		"Total failed operations through the circuit breaker",
		"circuit",
	)

	// CircuitRejections counts requests rejected while a circuit was open.
	CircuitRejections = metrics.NewCounterVec(
		"respool_circuit_rejections_total",
		"Total requests rejected by an open circuit breaker",
		"circuit",
	)
)

// DeleteMetrics drops the series for a circuit that no longer exists.
func DeleteMetrics(name string) {
	CircuitStateGauge.Delete(name)
	CircuitTrips.Delete(name)
	CircuitSuccesses.Delete(name)
	CircuitFailures.Delete(name)
	CircuitRejections.Delete(name)
}
