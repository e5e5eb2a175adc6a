// Package resilience guards resource factories with a circuit breaker.
//
// When a backend keeps refusing connections, every Acquire that needs a new
// resource would otherwise pay the full dial timeout. The breaker trips after
// a run of failures and fails creation fast until the reset timeout elapses.
//
// State transitions:
//
//	Closed (normal) -> Open (failing) -> HalfOpen (testing) -> Closed
//	                     ^                    |
//	                     +--------------------+ (if test fails)
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	apperrors "github.com/go-i2p/respool/lib/errors"
)

// ErrCircuitOpen is returned while the breaker rejects calls.
var ErrCircuitOpen = apperrors.ErrCircuitOpen

// CircuitState represents the state of the circuit breaker.
type CircuitState int

const (
	// CircuitClosed is the normal operating state - requests pass through.
	CircuitClosed CircuitState = iota
	// CircuitOpen means the circuit is tripped - requests fail immediately.
	CircuitOpen
	// CircuitHalfOpen lets a limited number of trial requests through.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config configures the circuit breaker behavior.
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit.
	FailureThreshold int
	// SuccessThreshold is the number of half-open successes that close it again.
	SuccessThreshold int
	// Timeout is how long the circuit stays open before allowing trial requests.
	Timeout time.Duration
	// MaxHalfOpenRequests bounds concurrent trial requests while half-open.
	MaxHalfOpenRequests int
}

// DefaultConfig returns defaults suited to guarding a dialing factory.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:    5,
		SuccessThreshold:    1,
		Timeout:             30 * time.Second,
		MaxHalfOpenRequests: 1,
	}
}

// CircuitBreaker implements the circuit breaker pattern.
type CircuitBreaker struct {
	mu   sync.Mutex
	cfg  Config
	name string
	now  func() time.Time

	state     CircuitState
	failures  int
	successes int
	trials    int

	openedAt   time.Time
	lastChange time.Time
	lastErr    error

	onStateChange func(from, to CircuitState)
}

// New creates a closed circuit breaker. Non-positive config fields take
// their defaults.
func New(name string, cfg Config) *CircuitBreaker {
	def := DefaultConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = def.SuccessThreshold
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxHalfOpenRequests <= 0 {
		cfg.MaxHalfOpenRequests = def.MaxHalfOpenRequests
	}

	cb := &CircuitBreaker{
		cfg:   cfg,
		name:  name,
		now:   time.Now,
		state: CircuitClosed,
	}
	cb.lastChange = cb.now()
	CircuitStateGauge.Set(name, int64(CircuitClosed))
	return cb
}

// SetClock replaces the time source. Intended for tests.
func (cb *CircuitBreaker) SetClock(now func() time.Time) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.now = now
}

// OnStateChange registers a callback invoked on every transition. The
// callback runs on its own goroutine.
func (cb *CircuitBreaker) OnStateChange(fn func(from, to CircuitState)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onStateChange = fn
}

// Name returns the name of this circuit breaker.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// State returns the current state. An open circuit whose timeout has
// elapsed reports half-open.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentLocked()
}

func (cb *CircuitBreaker) currentLocked() CircuitState {
	if cb.state == CircuitOpen && cb.now().Sub(cb.openedAt) >= cb.cfg.Timeout {
		return CircuitHalfOpen
	}
	return cb.state
}

// Allow reports whether a request may proceed. A true result from a
// half-open circuit reserves a trial slot that RecordSuccess or
// RecordFailure releases.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if cb.now().Sub(cb.openedAt) < cb.cfg.Timeout {
			CircuitRejections.Inc(cb.name)
			return false
		}
		cb.transitionLocked(CircuitHalfOpen)
		cb.trials = 1
		return true
	case CircuitHalfOpen:
		if cb.trials < cb.cfg.MaxHalfOpenRequests {
			cb.trials++
			return true
		}
		CircuitRejections.Inc(cb.name)
		return false
	}
	return false
}

// RecordSuccess records a successful operation.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	CircuitSuccesses.Inc(cb.name)
	switch cb.state {
	case CircuitClosed:
		cb.failures = 0
	case CircuitHalfOpen:
		if cb.trials > 0 {
			cb.trials--
		}
		cb.successes++
		if cb.successes >= cb.cfg.SuccessThreshold {
			cb.transitionLocked(CircuitClosed)
		}
	case CircuitOpen:
		// A probe outside the request path may succeed while open.
		if cb.now().Sub(cb.openedAt) >= cb.cfg.Timeout {
			cb.transitionLocked(CircuitClosed)
		}
	}
}

// RecordFailure records a failed operation.
func (cb *CircuitBreaker) RecordFailure(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	CircuitFailures.Inc(cb.name)
	cb.lastErr = err
	switch cb.state {
	case CircuitClosed:
		cb.failures++
		if cb.failures >= cb.cfg.FailureThreshold {
			cb.transitionLocked(CircuitOpen)
		}
	case CircuitHalfOpen:
		cb.transitionLocked(CircuitOpen)
	case CircuitOpen:
		cb.openedAt = cb.now()
	}
}

// transitionLocked changes the state. Must be called with mu held.
func (cb *CircuitBreaker) transitionLocked(to CircuitState) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	cb.lastChange = cb.now()

	switch to {
	case CircuitClosed:
		cb.failures = 0
		cb.successes = 0
		cb.trials = 0
		cb.lastErr = nil
	case CircuitOpen:
		cb.openedAt = cb.now()
		cb.successes = 0
		cb.trials = 0
		CircuitTrips.Inc(cb.name)
	case CircuitHalfOpen:
		cb.successes = 0
		cb.trials = 0
	}
	CircuitStateGauge.Set(cb.name, int64(to))

	entry := log.WithField("circuit", cb.name).
		WithField("from", from.String()).
		WithField("to", to.String())
	if cb.lastErr != nil {
		entry = entry.WithError(cb.lastErr)
	}
	entry.Info("circuit breaker state transition")

	if fn := cb.onStateChange; fn != nil {
		go fn(from, to)
	}
}

// Execute runs fn if the circuit allows it and records the outcome.
// Context cancellation is not counted as a failure.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !cb.Allow() {
		return ErrCircuitOpen
	}

	err := fn(ctx)
	switch {
	case err == nil:
		cb.RecordSuccess()
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		cb.release()
	default:
		cb.RecordFailure(err)
	}
	return err
}

// release frees a half-open trial slot without recording an outcome.
func (cb *CircuitBreaker) release() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == CircuitHalfOpen && cb.trials > 0 {
		cb.trials--
	}
}

// Reset returns the breaker to closed and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transitionLocked(CircuitClosed)
	cb.failures = 0
	cb.openedAt = time.Time{}
}

// Stats is a point-in-time view of a circuit breaker.
type Stats struct {
	Name       string    `json:"name"`
	State      string    `json:"state"`
	Failures   int       `json:"failures"`
	Successes  int       `json:"successes"`
	LastChange time.Time `json:"last_change"`
	LastError  string    `json:"last_error,omitempty"`
}

// Stats returns current circuit breaker statistics.
func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s := Stats{
		Name:       cb.name,
		State:      cb.currentLocked().String(),
		Failures:   cb.failures,
		Successes:  cb.successes,
		LastChange: cb.lastChange,
	}
	if cb.lastErr != nil {
		s.LastError = cb.lastErr.Error()
	}
	return s
}
