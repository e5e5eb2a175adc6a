package pool

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/go-i2p/respool/lib/errors"
)

// reapLoop runs ReapNow every interval until the pool stops.
func (p *Pool[T]) reapLoop(interval time.Duration) {
	defer close(p.reaperDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopReaper:
			return
		case <-ticker.C:
			p.reapOnce()
		}
	}
}

// reapOnce runs a single pass and keeps the loop alive across panics.
func (p *Pool[T]) reapOnce() {
	defer func() {
		if rec := recover(); rec != nil {
			log.WithField("pool", p.name).WithField("panic", fmt.Sprint(rec)).Error("reaper pass panicked")
		}
	}()

	report := p.ReapNow()
	if !report.OK() {
		log.WithField("pool", p.name).WithField("errors", len(report.Errors)).Warn("reaper pass reported cleanup errors")
	}
}

// ReapNow performs one reaper pass synchronously. Idle resources that are
// past MaxLifetime or IdleTimeout are destroyed while the pool stays at or
// above MinSize, idle surplus above MaxSize is destroyed, the remaining idle
// resources are revalidated without holding the pool lock, and the pool is
// topped back up to MinSize.
// Cleanup failures from this pass and from earlier releases and discards are
// returned in the report.
func (p *Pool[T]) ReapNow() apperrors.CleanupReport {
	var report apperrors.CleanupReport

	p.mu.Lock()
	if p.state != StateRunning {
		p.mu.Unlock()
		return report
	}

	now := p.now()
	victims := make(map[*PooledResource[T]]bool)
	live := len(p.resources)

	for _, r := range p.resources {
		if r.inUse || r.validating || live-len(victims) <= p.cfg.MinSize {
			continue
		}
		if r.expired(now, p.cfg.MaxLifetime) || r.idleTimedOut(now, p.cfg.IdleTimeout) {
			victims[r] = true
		}
	}

	for _, r := range p.resources {
		if live-len(victims) <= p.cfg.MaxSize {
			break
		}
		if !r.inUse && !r.validating && !victims[r] {
			victims[r] = true
		}
	}

	removed := p.removeVictimsLocked(victims)

	// Survivors are validated without the lock; Acquire skips them meanwhile.
	var candidates []*PooledResource[T]
	if p.validator != nil {
		for _, r := range p.resources {
			if r.inUse || r.validating {
				continue
			}
			r.validating = true
			candidates = append(candidates, r)
		}
		p.checking += len(candidates)
	}
	p.mu.Unlock()

	for _, r := range removed {
		p.destroy(r, &report)
	}

	if len(candidates) > 0 {
		failed := make(map[*PooledResource[T]]bool)
		for _, r := range candidates {
			ok, err := p.callValidator(r.Value)
			if err != nil {
				report.Add(r.ID, "validate", err)
			}
			if !ok {
				failed[r] = true
			}
		}

		p.mu.Lock()
		for _, r := range candidates {
			r.validating = false
			p.stats.validations++
			if failed[r] {
				p.stats.validationFails++
				PoolValidationFailsTotal.Inc(p.name)
				log.WithField("pool", p.name).WithField("resource", r.ID).Debug("resource failed validation")
			}
		}
		p.checking -= len(candidates)
		rejected := p.removeVictimsLocked(failed)
		p.cond.Broadcast()
		p.mu.Unlock()

		for _, r := range rejected {
			p.destroy(r, &report)
		}
		removed = append(removed, rejected...)
	}

	if err := p.fillToMin(context.Background()); err != nil {
		log.WithField("pool", p.name).WithError(err).Warn("failed to restore minimum pool size")
	}

	p.mu.Lock()
	report.Merge(p.deferred)
	p.deferred = apperrors.CleanupReport{}
	UpdateMetrics(p.statsLocked())
	p.mu.Unlock()

	if len(removed) > 0 {
		log.WithField("pool", p.name).WithField("destroyed", len(removed)).Debug("reaper pass complete")
	}
	return report
}

// removeVictimsLocked drops every member marked in victims and returns them
// for destruction without the lock (caller must hold lock).
func (p *Pool[T]) removeVictimsLocked(victims map[*PooledResource[T]]bool) []*PooledResource[T] {
	if len(victims) == 0 {
		return nil
	}
	removed := make([]*PooledResource[T], 0, len(victims))
	for _, r := range append([]*PooledResource[T](nil), p.resources...) {
		if victims[r] && !r.retired {
			p.removeLocked(r)
			removed = append(removed, r)
		}
	}
	if len(removed) > 0 {
		p.cond.Broadcast()
	}
	return removed
}

func (p *Pool[T]) callValidator(v T) (ok bool, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			ok = false
			err = fmt.Errorf("validator panic: %v", rec)
		}
	}()
	return p.validator(v), nil
}
