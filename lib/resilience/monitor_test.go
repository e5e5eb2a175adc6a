package resilience

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/go-i2p/respool/lib/pool"
	"github.com/go-i2p/respool/lib/testutil"
)

func TestDialProbe(t *testing.T) {
	backend := testutil.NewBackend(t)

	addr := backend.Addr()
	if err := DialProbe(addr, time.Second)(context.Background()); err != nil {
		t.Fatalf("probe of live backend failed: %v", err)
	}
	testutil.WaitFor(t, func() bool { return backend.Accepted() == 1 })

	backend.Close()
	if err := DialProbe(addr, 200*time.Millisecond)(context.Background()); err == nil {
		t.Error("probe of closed backend should fail")
	}
}

func TestMonitorCheckDrivesCircuit(t *testing.T) {
	cb, clock := newTestBreaker(t, Config{FailureThreshold: 2, Timeout: 10 * time.Second})

	var down atomic.Bool
	down.Store(true)
	probe := func(ctx context.Context) error {
		if down.Load() {
			return errDial
		}
		return nil
	}

	m := NewMonitor(cb, probe, time.Second)
	unhealthy := make(chan struct{}, 1)
	healthy := make(chan struct{}, 1)
	m.SetCallbacks(
		func() { healthy <- struct{}{} },
		func() { unhealthy <- struct{}{} },
	)

	if !m.Healthy() {
		t.Fatal("monitor should start healthy")
	}
	m.Check(context.Background())
	m.Check(context.Background())
	if m.Healthy() {
		t.Error("Healthy() should reflect the failed probe")
	}
	if cb.State() != CircuitOpen {
		t.Fatalf("State = %v, want open after failed probes", cb.State())
	}
	select {
	case <-unhealthy:
	case <-time.After(time.Second):
		t.Fatal("onUnhealthy not invoked")
	}

	down.Store(false)
	clock.Advance(10 * time.Second)
	if !m.Check(context.Background()) {
		t.Fatal("Check should report recovery")
	}
	if cb.State() != CircuitClosed {
		t.Errorf("State = %v, want closed after successful probe", cb.State())
	}
	if m.LastHealthy().IsZero() {
		t.Error("LastHealthy should be set")
	}
	select {
	case <-healthy:
	case <-time.After(time.Second):
		t.Fatal("onHealthy not invoked")
	}
}

func TestMonitorRecoveryRefillsPool(t *testing.T) {
	// The open timeout never elapses on the fake clock, so only a healthy
	// check can let the factory through again.
	cb, _ := newTestBreaker(t, Config{FailureThreshold: 1, Timeout: 30 * time.Second})

	var down atomic.Bool
	down.Store(true)
	dial := func(ctx context.Context) error {
		if down.Load() {
			return errDial
		}
		return nil
	}

	p, err := pool.New("refill", GuardFactory(cb, func(ctx context.Context) (int, error) {
		if err := dial(ctx); err != nil {
			return 0, err
		}
		return 1, nil
	}), pool.Config{MinSize: 0, MaxSize: 3, AcquireTimeout: time.Second})
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer p.Stop(context.Background())

	refilled := make(chan error, 1)
	m := NewMonitor(cb, dial, time.Second)
	m.SetCallbacks(func() { refilled <- p.Resize(context.Background(), 2, 3) }, nil)

	m.Check(context.Background())
	if cb.State() != CircuitOpen {
		t.Fatalf("State = %v, want open while the backend is down", cb.State())
	}

	down.Store(false)
	m.Check(context.Background())
	select {
	case err := <-refilled:
		if err != nil {
			t.Fatalf("refill after recovery: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("onHealthy not invoked")
	}
	if cb.State() != CircuitClosed {
		t.Errorf("State = %v, want closed after recovery", cb.State())
	}
	if got := p.Stats().CurrentSize; got != 2 {
		t.Errorf("CurrentSize = %d, want 2", got)
	}
}

func TestMonitorStartStop(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	var probes atomic.Int32
	m := NewMonitor(New(t.Name(), Config{}), func(ctx context.Context) error {
		probes.Add(1)
		return errors.New("unreachable")
	}, 10*time.Millisecond)

	m.Start(context.Background())
	m.Start(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for probes.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if probes.Load() < 2 {
		t.Errorf("expected periodic probes, got %d", probes.Load())
	}

	m.Stop()
	m.Stop()
}
