package resilience

import (
	"context"
	"net"
	"sync"
	"time"
)

// Probe checks whether a backend is reachable.
type Probe func(ctx context.Context) error

// DialProbe returns a Probe that opens and immediately closes a TCP
// connection to addr.
func DialProbe(addr string, timeout time.Duration) Probe {
	return func(ctx context.Context) error {
		d := net.Dialer{Timeout: timeout}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return err
		}
		return conn.Close()
	}
}

// Monitor periodically probes a backend and feeds the results into a
// circuit breaker, so a recovered backend closes the circuit without
// waiting for pool traffic.
type Monitor struct {
	mu       sync.Mutex
	circuit  *CircuitBreaker
	probe    Probe
	interval time.Duration

	healthy     bool
	lastCheck   time.Time
	lastHealthy time.Time

	onHealthy   func()
	onUnhealthy func()

	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewMonitor creates a monitor for cb. It starts out healthy.
func NewMonitor(cb *CircuitBreaker, probe Probe, interval time.Duration) *Monitor {
	return &Monitor{
		circuit:  cb,
		probe:    probe,
		interval: interval,
		healthy:  true,
	}
}

// SetCallbacks sets functions run when the probe result flips.
// Each runs on its own goroutine.
func (m *Monitor) SetCallbacks(onHealthy, onUnhealthy func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onHealthy = onHealthy
	m.onUnhealthy = onUnhealthy
}

// Start launches the probe loop. Calling Start on a running monitor is a no-op.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}

	ctx, m.cancel = context.WithCancel(ctx)
	m.running = true
	m.wg.Add(1)
	go m.loop(ctx)
}

// Stop halts the probe loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel := m.cancel
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

func (m *Monitor) loop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Check runs one probe immediately and returns its result.
func (m *Monitor) Check(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, m.interval)
	defer cancel()
	err := m.probe(ctx)
	healthy := err == nil

	m.mu.Lock()
	wasHealthy := m.healthy
	m.healthy = healthy
	m.lastCheck = time.Now()
	if healthy {
		m.lastHealthy = m.lastCheck
	}
	onHealthy, onUnhealthy := m.onHealthy, m.onUnhealthy
	m.mu.Unlock()

	if healthy {
		if wasHealthy {
			m.circuit.RecordSuccess()
			return true
		}
		// Recovery closes the circuit without waiting out the open timeout.
		m.circuit.Reset()
		log.WithField("circuit", m.circuit.Name()).Debug("backend reachable again")
		if onHealthy != nil {
			go onHealthy()
		}
		return true
	}

	log.WithField("circuit", m.circuit.Name()).WithError(err).Debug("probe failed")
	m.circuit.RecordFailure(err)
	if wasHealthy && onUnhealthy != nil {
		go onUnhealthy()
	}
	return false
}

// Healthy reports the result of the most recent probe.
func (m *Monitor) Healthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.healthy
}

// LastHealthy returns when the backend was last seen reachable.
func (m *Monitor) LastHealthy() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastHealthy
}
