package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/go-i2p/respool/lib/errors"
	"github.com/go-i2p/respool/lib/metrics"
)

// Factory creates new resources.
type Factory[T any] func(ctx context.Context) (T, error)

// Validator reports whether an idle resource is still usable.
// It runs during reaper passes without the pool lock held.
type Validator[T any] func(v T) bool

// Closer releases the underlying resource when it is destroyed.
type Closer[T any] func(v T) error

// Option configures optional pool behaviour.
type Option[T any] func(*Pool[T])

// WithValidator sets the validator used by the reaper.
func WithValidator[T any](fn Validator[T]) Option[T] {
	return func(p *Pool[T]) {
		p.validator = fn
	}
}

// WithCloser sets the closer invoked when a resource is destroyed.
func WithCloser[T any](fn Closer[T]) Option[T] {
	return func(p *Pool[T]) {
		p.closer = fn
	}
}

// WithClock overrides the time source. Intended for tests.
func WithClock[T any](now func() time.Time) Option[T] {
	return func(p *Pool[T]) {
		p.now = now
	}
}

// counters are cumulative and guarded by Pool.mu.
type counters struct {
	created         uint64
	destroyed       uint64
	acquired        uint64
	released        uint64
	failed          uint64
	timeouts        uint64
	validations     uint64
	validationFails uint64
}

// Pool is a bounded pool of resources of type T.
type Pool[T any] struct {
	name      string
	factory   Factory[T]
	validator Validator[T]
	closer    Closer[T]
	now       func() time.Time

	mu        sync.Mutex
	cond      *sync.Cond
	cfg       Config
	state     State
	resources []*PooledResource[T]
	pending   int // creations in flight, counted against MaxSize
	cleaning  int // deferred destroys in flight
	checking  int // idle resources out for validation
	waiters   int
	stats     counters
	deferred  apperrors.CleanupReport

	reaperStarted bool
	stopReaper    chan struct{}
	reaperDone    chan struct{}
}

// New creates a pool in the idle state. Call Start before acquiring.
func New[T any](name string, factory Factory[T], cfg Config, opts ...Option[T]) (*Pool[T], error) {
	if factory == nil {
		return nil, fmt.Errorf("%w: factory is required", apperrors.ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Pool[T]{
		name:       name,
		factory:    factory,
		now:        time.Now,
		cfg:        cfg,
		resources:  make([]*PooledResource[T], 0, cfg.MaxSize),
		stopReaper: make(chan struct{}),
		reaperDone: make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)

	for _, opt := range opts {
		opt(p)
	}

	log.WithField("pool", name).WithField("minSize", cfg.MinSize).WithField("maxSize", cfg.MaxSize).Debug("pool created")
	return p, nil
}

// Name returns the pool name.
func (p *Pool[T]) Name() string {
	return p.name
}

// State returns the current lifecycle state.
func (p *Pool[T]) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Config returns the current configuration, including any resize.
func (p *Pool[T]) Config() Config {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg
}

// Start moves the pool from idle to running and eagerly creates MinSize
// resources. Starting a running pool is a no-op. A stopped pool cannot be
// restarted. If warm-up fails the pool is stopped and the factory error is
// returned.
func (p *Pool[T]) Start(ctx context.Context) error {
	p.mu.Lock()
	switch p.state {
	case StateRunning:
		p.mu.Unlock()
		return nil
	case StateClosing, StateClosed:
		p.mu.Unlock()
		return fmt.Errorf("pool %s: %w", p.name, apperrors.ErrClosed)
	}
	p.state = StateRunning
	if p.cfg.ValidationInterval > 0 {
		p.reaperStarted = true
		go p.reapLoop(p.cfg.ValidationInterval)
	}
	p.mu.Unlock()

	if err := p.fillToMin(ctx); err != nil {
		report := p.Stop(ctx)
		if !report.OK() {
			log.WithField("pool", p.name).WithField("cleanup", report.String()).Warn("cleanup after failed start reported errors")
		}
		return err
	}

	log.WithField("pool", p.name).Debug("pool started")
	return nil
}

// Acquire lends a resource. It returns an idle resource when one exists,
// otherwise creates one if the pool is below MaxSize, otherwise waits for a
// release. The wait is bounded by AcquireTimeout when ctx has no deadline.
func (p *Pool[T]) Acquire(ctx context.Context) (*PooledResource[T], error) {
	timer := metrics.NewTimer(PoolAcquireLatency)
	defer timer.ObserveDuration()
	PoolAcquireTotal.Inc(p.name)

	acquireCtx := ctx
	p.mu.Lock()
	timeout := p.cfg.AcquireTimeout
	p.mu.Unlock()
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && timeout > 0 {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for {
		if p.state != StateRunning {
			p.stats.failed++
			PoolAcquireFailedTotal.Inc(p.name)
			return nil, fmt.Errorf("pool %s is %s: %w", p.name, p.state, apperrors.ErrNotRunning)
		}

		if err := acquireCtx.Err(); err != nil {
			p.stats.failed++
			PoolAcquireFailedTotal.Inc(p.name)
			if errors.Is(err, context.DeadlineExceeded) {
				p.stats.timeouts++
				PoolAcquireTimeoutTotal.Inc(p.name)
				return nil, fmt.Errorf("pool %s: %w", p.name, apperrors.ErrTimeout)
			}
			return nil, err
		}

		r, expired := p.takeIdleLocked()
		if len(expired) > 0 {
			p.cleaning += len(expired)
			p.mu.Unlock()
			for _, e := range expired {
				p.destroyDeferred(e)
			}
			p.mu.Lock()
			continue
		}
		if r != nil {
			p.lendLocked(r)
			return r, nil
		}

		if len(p.resources)+p.pending < p.cfg.MaxSize {
			r, err := p.createLocked(acquireCtx)
			if err != nil {
				PoolAcquireFailedTotal.Inc(p.name)
				return nil, err
			}
			if p.state != StateRunning {
				// Stopped while the factory ran.
				p.abandonLocked(r)
				continue
			}
			p.resources = append(p.resources, r)
			p.lendLocked(r)
			return r, nil
		}

		log.WithField("pool", p.name).Debug("waiting for available resource")
		p.waiters++
		p.waitWithContext(acquireCtx)
		p.waiters--
	}
}

// AcquireTimeout is Acquire bounded by an explicit timeout.
func (p *Pool[T]) AcquireTimeout(timeout time.Duration) (*PooledResource[T], error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return p.Acquire(ctx)
}

// Do acquires a resource, runs fn with it and always releases it.
func (p *Pool[T]) Do(ctx context.Context, fn func(v T) error) error {
	r, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer p.Release(r)
	return fn(r.Value)
}

// lendLocked marks r as in use (caller must hold lock).
func (p *Pool[T]) lendLocked(r *PooledResource[T]) {
	r.inUse = true
	r.lastUsed = p.now()
	r.uses++
	p.stats.acquired++
}

// takeIdleLocked returns the most recently used idle resource (caller must
// hold lock). Idle resources past MaxLifetime are removed and returned as
// expired instead of lent; the caller destroys them without the lock.
func (p *Pool[T]) takeIdleLocked() (*PooledResource[T], []*PooledResource[T]) {
	now := p.now()
	var best *PooledResource[T]
	var expired []*PooledResource[T]
	for _, r := range p.resources {
		if r.inUse || r.validating {
			continue
		}
		if r.expired(now, p.cfg.MaxLifetime) {
			expired = append(expired, r)
			continue
		}
		if best == nil || r.lastUsed.After(best.lastUsed) {
			best = r
		}
	}
	for _, r := range expired {
		log.WithField("pool", p.name).WithField("resource", r.ID).Debug("retiring expired resource")
		p.removeLocked(r)
	}
	return best, expired
}

// abandonLocked destroys a freshly created resource that never became a
// member because the pool stopped during creation (caller must hold lock;
// the lock is released and re-acquired).
func (p *Pool[T]) abandonLocked(r *PooledResource[T]) {
	r.retired = true
	p.stats.destroyed++
	p.cleaning++
	p.mu.Unlock()
	p.destroyDeferred(r)
	p.mu.Lock()
}

// createLocked reserves capacity, runs the factory without the lock and
// returns a resource that is not yet a pool member (caller must hold lock;
// the lock is released and re-acquired).
func (p *Pool[T]) createLocked(ctx context.Context) (*PooledResource[T], error) {
	p.pending++
	p.mu.Unlock()

	v, err := p.callFactory(ctx)

	p.mu.Lock()
	p.pending--
	if p.state != StateRunning {
		p.cond.Broadcast()
	}
	if err != nil {
		p.stats.failed++
		PoolCreateFailedTotal.Inc(p.name)
		p.cond.Signal()
		log.WithField("pool", p.name).WithError(err).Debug("failed to create resource")
		return nil, fmt.Errorf("pool %s: %w: %w", p.name, apperrors.ErrCreation, err)
	}

	p.stats.created++
	log.WithField("pool", p.name).Debug("created new resource")
	return newPooledResource(p, v, p.now()), nil
}

func (p *Pool[T]) callFactory(ctx context.Context) (v T, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("factory panic: %v", rec)
		}
	}()
	return p.factory(ctx)
}

// waitWithContext waits for a condition signal or context cancellation
// (caller must hold lock).
func (p *Pool[T]) waitWithContext(ctx context.Context) {
	stop := context.AfterFunc(ctx, func() {
		p.mu.Lock()
		p.cond.Broadcast()
		p.mu.Unlock()
	})
	p.cond.Wait()
	stop()
}

// Release returns a lent resource to the pool and wakes one waiter.
// Releasing a resource the pool does not own, releasing twice, or releasing
// after Stop is a no-op and returns false.
func (p *Pool[T]) Release(r *PooledResource[T]) bool {
	if r == nil || r.pool != p {
		return false
	}

	p.mu.Lock()
	if !r.inUse || r.retired {
		p.mu.Unlock()
		log.WithField("pool", p.name).Debug("ignoring release of resource not in use")
		return false
	}

	r.inUse = false
	r.lastUsed = p.now()
	p.stats.released++
	PoolReleaseTotal.Inc(p.name)

	// Surplus left over from a shrinking resize is destroyed on release.
	if len(p.resources) > p.cfg.MaxSize {
		p.removeLocked(r)
		p.cleaning++
		p.cond.Signal()
		p.mu.Unlock()
		p.destroyDeferred(r)
		return true
	}

	p.cond.Signal()
	p.mu.Unlock()
	return true
}

// Discard destroys a lent resource that is known to be broken, freeing its
// slot. Returns false if r is not lent from this pool.
func (p *Pool[T]) Discard(r *PooledResource[T]) bool {
	if r == nil || r.pool != p {
		return false
	}

	p.mu.Lock()
	if !r.inUse || r.retired {
		p.mu.Unlock()
		return false
	}
	p.removeLocked(r)
	p.cleaning++
	p.cond.Signal()
	p.mu.Unlock()

	log.WithField("pool", p.name).WithField("resource", r.ID).Debug("discarding bad resource")
	p.destroyDeferred(r)
	return true
}

// removeLocked drops r from membership (caller must hold lock).
func (p *Pool[T]) removeLocked(r *PooledResource[T]) {
	for i, cur := range p.resources {
		if cur == r {
			p.resources = append(p.resources[:i], p.resources[i+1:]...)
			break
		}
	}
	r.retired = true
	r.inUse = false
	p.stats.destroyed++
}

// destroy invokes the closer for an already removed resource and records
// any failure in report. Must be called without the lock.
func (p *Pool[T]) destroy(r *PooledResource[T], report *apperrors.CleanupReport) {
	report.Destroyed++
	if err := p.callCloser(r.Value); err != nil {
		PoolCleanupFailedTotal.Inc(p.name)
		log.WithField("pool", p.name).WithField("resource", r.ID).WithError(err).Warn("closer failed")
		report.Add(r.ID, "close", err)
	}
}

// destroyDeferred destroys r and keeps the diagnostics for the next reap or
// stop report. The caller must have counted r in cleaning while holding the
// lock so that Stop waits for it.
func (p *Pool[T]) destroyDeferred(r *PooledResource[T]) {
	var report apperrors.CleanupReport
	p.destroy(r, &report)
	p.mu.Lock()
	p.deferred.Merge(report)
	p.cleaning--
	p.cond.Broadcast()
	p.mu.Unlock()
}

func (p *Pool[T]) callCloser(v T) (err error) {
	if p.closer == nil {
		return nil
	}
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("closer panic: %v", rec)
		}
	}()
	return p.closer(v)
}

// Resize changes the pool bounds. It creates resources up to the new minimum
// and destroys idle resources down to the new maximum; in-use surplus is
// destroyed as it is released.
func (p *Pool[T]) Resize(ctx context.Context, newMin, newMax int) error {
	if err := validateSizes(newMin, newMax); err != nil {
		return err
	}

	p.mu.Lock()
	if p.state == StateClosing || p.state == StateClosed {
		p.mu.Unlock()
		return fmt.Errorf("pool %s is %s: %w", p.name, p.state, apperrors.ErrNotRunning)
	}
	p.cfg.MinSize = newMin
	p.cfg.MaxSize = newMax

	var victims []*PooledResource[T]
	for len(p.resources) > newMax {
		idle := p.firstIdleLocked()
		if idle == nil {
			break
		}
		p.removeLocked(idle)
		victims = append(victims, idle)
	}
	running := p.state == StateRunning
	p.cleaning += len(victims)
	p.cond.Broadcast()
	p.mu.Unlock()

	for _, r := range victims {
		p.destroyDeferred(r)
	}

	log.WithField("pool", p.name).WithField("minSize", newMin).WithField("maxSize", newMax).Info("pool resized")

	if running {
		return p.fillToMin(ctx)
	}
	return nil
}

// firstIdleLocked returns the least recently used idle resource (caller must hold lock).
func (p *Pool[T]) firstIdleLocked() *PooledResource[T] {
	var oldest *PooledResource[T]
	for _, r := range p.resources {
		if r.inUse || r.validating {
			continue
		}
		if oldest == nil || r.lastUsed.Before(oldest.lastUsed) {
			oldest = r
		}
	}
	return oldest
}

// fillToMin creates idle resources until MinSize is reached.
func (p *Pool[T]) fillToMin(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for p.state == StateRunning && len(p.resources)+p.pending < p.cfg.MinSize {
		r, err := p.createLocked(ctx)
		if err != nil {
			return err
		}
		if p.state != StateRunning {
			p.abandonLocked(r)
			return nil
		}
		p.resources = append(p.resources, r)
		p.cond.Signal()
	}
	return nil
}

// Stop moves the pool to closing, joins the reaper (bounded by StopTimeout
// or ctx), wakes all waiters and destroys every remaining resource, including
// ones still lent out. Validations, creations and destroys already in flight
// are awaited under the same bound so their closer failures land in the
// returned report.
// Closer failures never propagate. Stopping a stopped pool returns an empty
// report.
func (p *Pool[T]) Stop(ctx context.Context) apperrors.CleanupReport {
	p.mu.Lock()
	if p.state == StateClosing || p.state == StateClosed {
		p.mu.Unlock()
		return apperrors.CleanupReport{}
	}
	p.state = StateClosing
	close(p.stopReaper)
	started := p.reaperStarted
	p.cond.Broadcast()
	timeout := p.cfg.stopTimeout()
	p.mu.Unlock()

	if started {
		select {
		case <-p.reaperDone:
		case <-time.After(timeout):
			log.WithField("pool", p.name).Warn("reaper did not exit before stop timeout")
		case <-ctx.Done():
			log.WithField("pool", p.name).WithError(ctx.Err()).Warn("stop context done before reaper exited")
		}
	}

	// Work still in flight reports into deferred and must finish first.
	settleCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	p.mu.Lock()
	p.settleLocked(settleCtx, func() bool { return p.checking > 0 })
	victims := append([]*PooledResource[T](nil), p.resources...)
	for _, r := range victims {
		p.removeLocked(r)
	}
	p.mu.Unlock()

	var report apperrors.CleanupReport
	for _, r := range victims {
		p.destroy(r, &report)
	}

	p.mu.Lock()
	p.settleLocked(settleCtx, func() bool { return p.pending > 0 || p.cleaning > 0 })
	report.Merge(p.deferred)
	p.deferred = apperrors.CleanupReport{}
	p.state = StateClosed
	p.cond.Broadcast()
	p.mu.Unlock()

	log.WithField("pool", p.name).WithField("destroyed", report.Destroyed).Debug("pool stopped")
	return report
}

// settleLocked waits until busy reports false or ctx is done (caller must
// hold lock).
func (p *Pool[T]) settleLocked(ctx context.Context, busy func() bool) {
	for busy() {
		if ctx.Err() != nil {
			log.WithField("pool", p.name).WithField("pending", p.pending).WithField("cleaning", p.cleaning).WithField("checking", p.checking).Warn("stopped with pool work still in flight")
			return
		}
		p.waitWithContext(ctx)
	}
}

// Resources returns a snapshot of every live resource.
func (p *Pool[T]) Resources() []ResourceInfo {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]ResourceInfo, 0, len(p.resources))
	for _, r := range p.resources {
		out = append(out, r.info())
	}
	return out
}

// Stats is a point-in-time snapshot of pool counters. It is not
// transactionally consistent with concurrent acquire/release.
// Failed counts failed acquires and failed creations; Pending is the number
// of creations in flight.
type Stats struct {
	Name            string `json:"name"`
	State           string `json:"state"`
	MinSize         int    `json:"min_size"`
	MaxSize         int    `json:"max_size"`
	Created         uint64 `json:"created"`
	Destroyed       uint64 `json:"destroyed"`
	Acquired        uint64 `json:"acquired"`
	Released        uint64 `json:"released"`
	Failed          uint64 `json:"failed"`
	Timeouts        uint64 `json:"timeouts"`
	Validations     uint64 `json:"validations"`
	ValidationFails uint64 `json:"validation_fails"`
	CurrentSize     int    `json:"current_size"`
	ActiveSize      int    `json:"active_size"`
	IdleSize        int    `json:"idle_size"`
	Pending         int    `json:"pending"`
	Waiters         int    `json:"waiters"`
}

// Stats returns current pool statistics.
func (p *Pool[T]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.statsLocked()
}

// statsLocked builds a Stats snapshot (caller must hold lock).
func (p *Pool[T]) statsLocked() Stats {
	active := 0
	for _, r := range p.resources {
		if r.inUse {
			active++
		}
	}

	return Stats{
		Name:            p.name,
		State:           p.state.String(),
		MinSize:         p.cfg.MinSize,
		MaxSize:         p.cfg.MaxSize,
		Created:         p.stats.created,
		Destroyed:       p.stats.destroyed,
		Acquired:        p.stats.acquired,
		Released:        p.stats.released,
		Failed:          p.stats.failed,
		Timeouts:        p.stats.timeouts,
		Validations:     p.stats.validations,
		ValidationFails: p.stats.validationFails,
		CurrentSize:     len(p.resources),
		ActiveSize:      active,
		IdleSize:        len(p.resources) - active,
		Pending:         p.pending,
		Waiters:         p.waiters,
	}
}
