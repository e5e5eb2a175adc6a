package pool

import (
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle state of a pool.
type State int32

const (
	// StateIdle is a constructed pool that has not been started.
	StateIdle State = iota
	// StateRunning lends resources.
	StateRunning
	// StateClosing is the transient state while Stop tears the pool down.
	StateClosing
	// StateClosed is terminal.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// PooledResource wraps a single resource with usage and lifetime bookkeeping.
// ID and Value never change; the remaining fields are guarded by the owning
// pool's lock.
type PooledResource[T any] struct {
	// ID uniquely identifies the resource for logs and diagnostics.
	ID string
	// Value is the resource produced by the factory.
	Value T

	pool       *Pool[T]
	createdAt  time.Time
	lastUsed   time.Time
	inUse      bool
	validating bool // held by a reaper validation pass; not lendable
	retired    bool
	uses       uint64
}

func newPooledResource[T any](p *Pool[T], v T, now time.Time) *PooledResource[T] {
	return &PooledResource[T]{
		ID:        uuid.NewString(),
		Value:     v,
		pool:      p,
		createdAt: now,
		lastUsed:  now,
	}
}

func (r *PooledResource[T]) expired(now time.Time, maxLifetime time.Duration) bool {
	return maxLifetime > 0 && now.Sub(r.createdAt) > maxLifetime
}

func (r *PooledResource[T]) idleTimedOut(now time.Time, idleTimeout time.Duration) bool {
	return idleTimeout > 0 && !r.inUse && now.Sub(r.lastUsed) > idleTimeout
}

// ResourceInfo is a point-in-time view of one pooled resource.
type ResourceInfo struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	LastUsed  time.Time `json:"last_used"`
	InUse     bool      `json:"in_use"`
	Uses      uint64    `json:"uses"`
}

func (r *PooledResource[T]) info() ResourceInfo {
	return ResourceInfo{
		ID:        r.ID,
		CreatedAt: r.createdAt,
		LastUsed:  r.lastUsed,
		InUse:     r.inUse,
		Uses:      r.uses,
	}
}
