// Package manager keeps a named registry of running pools.
//
// A Manager is an ordinary value: create one per process (or per test) and
// pass it to the RPC and HTTP layers. There is no package-level instance.
package manager

import (
	"context"
	"fmt"
	"sort"
	"sync"

	apperrors "github.com/go-i2p/respool/lib/errors"
	"github.com/go-i2p/respool/lib/metrics"
	"github.com/go-i2p/respool/lib/pool"
	"github.com/go-i2p/respool/lib/validation"
	"golang.org/x/sync/errgroup"
)

// Managed is the type-erased view of a pool. Every *pool.Pool[T] satisfies it.
type Managed interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) apperrors.CleanupReport
	State() pool.State
	Stats() pool.Stats
	Config() pool.Config
	Resources() []pool.ResourceInfo
	Resize(ctx context.Context, minSize, maxSize int) error
	ReapNow() apperrors.CleanupReport
}

// Manager maps pool names to pools.
type Manager struct {
	mu    sync.RWMutex
	pools map[string]Managed
}

// New creates an empty manager.
func New() *Manager {
	return &Manager{pools: make(map[string]Managed)}
}

// Register starts p and adds it under name. Registration fails if the name
// is invalid or taken, or if the pool fails to start.
func (m *Manager) Register(ctx context.Context, name string, p Managed) error {
	if err := validation.PoolName("name", name); err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrInvalidInput, err)
	}
	if p == nil {
		return fmt.Errorf("%w: pool is nil", apperrors.ErrInvalidInput)
	}

	m.mu.Lock()
	if _, exists := m.pools[name]; exists {
		m.mu.Unlock()
		return fmt.Errorf("pool %q: %w", name, apperrors.ErrAlreadyExists)
	}
	// Reserve the name while the pool warms up.
	m.pools[name] = p
	m.mu.Unlock()

	if err := p.Start(ctx); err != nil {
		m.mu.Lock()
		delete(m.pools, name)
		m.mu.Unlock()
		log.WithField("pool", name).WithError(err).Warn("failed to start pool")
		return err
	}

	metrics.PoolsRegistered.Inc()
	pool.UpdateMetrics(p.Stats())
	log.WithField("pool", name).Info("pool registered")
	return nil
}

// Unregister stops the named pool and removes it.
func (m *Manager) Unregister(ctx context.Context, name string) (apperrors.CleanupReport, error) {
	m.mu.Lock()
	p, ok := m.pools[name]
	if ok {
		delete(m.pools, name)
	}
	m.mu.Unlock()

	if !ok {
		return apperrors.CleanupReport{}, fmt.Errorf("pool %q: %w", name, apperrors.ErrNotFound)
	}

	report := p.Stop(ctx)
	metrics.PoolsRegistered.Dec()
	pool.DeleteMetrics(name)
	log.WithField("pool", name).WithField("destroyed", report.Destroyed).Info("pool unregistered")
	return report, nil
}

// Get returns the named pool.
func (m *Manager) Get(name string) (Managed, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.pools[name]
	if !ok {
		return nil, fmt.Errorf("pool %q: %w", name, apperrors.ErrNotFound)
	}
	return p, nil
}

// Names returns the registered pool names in sorted order.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.pools))
	for name := range m.pools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered pools.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.pools)
}

// Stats returns the stats of the named pool.
func (m *Manager) Stats(name string) (pool.Stats, error) {
	p, err := m.Get(name)
	if err != nil {
		return pool.Stats{}, err
	}
	return p.Stats(), nil
}

// AllStats returns the stats of every registered pool keyed by name.
func (m *Manager) AllStats() map[string]pool.Stats {
	out := make(map[string]pool.Stats)
	for name, p := range m.snapshot() {
		out[name] = p.Stats()
	}
	return out
}

// Resize changes the bounds of the named pool.
func (m *Manager) Resize(ctx context.Context, name string, minSize, maxSize int) error {
	p, err := m.Get(name)
	if err != nil {
		return err
	}
	if err := p.Resize(ctx, minSize, maxSize); err != nil {
		return err
	}
	pool.UpdateMetrics(p.Stats())
	return nil
}

// Reap runs one reaper pass on the named pool.
func (m *Manager) Reap(name string) (apperrors.CleanupReport, error) {
	p, err := m.Get(name)
	if err != nil {
		return apperrors.CleanupReport{}, err
	}
	return p.ReapNow(), nil
}

// StopAll stops every pool concurrently, clears the registry and returns the
// cleanup report of each pool keyed by name.
func (m *Manager) StopAll(ctx context.Context) map[string]apperrors.CleanupReport {
	m.mu.Lock()
	pools := m.pools
	m.pools = make(map[string]Managed)
	m.mu.Unlock()

	var mu sync.Mutex
	reports := make(map[string]apperrors.CleanupReport, len(pools))

	eg, egCtx := errgroup.WithContext(ctx)
	for name, p := range pools {
		eg.Go(func() error {
			report := p.Stop(egCtx)
			mu.Lock()
			reports[name] = report
			mu.Unlock()
			pool.DeleteMetrics(name)
			return nil
		})
	}
	// Stop never fails; the group is only used to join.
	_ = eg.Wait()

	metrics.PoolsRegistered.Add(-int64(len(pools)))
	log.WithField("pools", len(pools)).Info("all pools stopped")
	return reports
}

// UpdateMetrics publishes the size gauges of every pool.
func (m *Manager) UpdateMetrics() {
	for _, p := range m.snapshot() {
		pool.UpdateMetrics(p.Stats())
	}
}

func (m *Manager) snapshot() map[string]Managed {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]Managed, len(m.pools))
	for name, p := range m.pools {
		out[name] = p
	}
	return out
}
