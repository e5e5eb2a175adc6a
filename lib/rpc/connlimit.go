package rpc

import (
	"net"
	"sync"
	"sync/atomic"
)

// DefaultMaxConnections is the default maximum concurrent connections.
const DefaultMaxConnections = 100

// ConnectionLimiter caps concurrent RPC connections. Connections over the
// cap are closed right after accept.
type ConnectionLimiter struct {
	limit    atomic.Int32
	active   atomic.Int32
	mu       sync.RWMutex
	onReject func(addr net.Addr)
}

// NewConnectionLimiter creates a limiter allowing limit connections.
// Non-positive values select DefaultMaxConnections.
func NewConnectionLimiter(limit int) *ConnectionLimiter {
	cl := &ConnectionLimiter{}
	cl.SetMaxConnections(limit)
	return cl
}

// SetOnReject sets a callback invoked with the peer address of every
// rejected connection.
func (cl *ConnectionLimiter) SetOnReject(fn func(addr net.Addr)) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	cl.onReject = fn
}

// Acquire takes a slot, reporting false when none is free.
func (cl *ConnectionLimiter) Acquire() bool {
	for {
		n := cl.active.Load()
		if n >= cl.limit.Load() {
			return false
		}
		if cl.active.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// Release returns a slot taken by Acquire.
func (cl *ConnectionLimiter) Release() {
	cl.active.Add(-1)
}

// Admit takes a slot for conn and returns it wrapped so that closing it
// frees the slot. When the limiter is full conn is closed, the reject
// callback runs, and ok is false.
func (cl *ConnectionLimiter) Admit(conn net.Conn) (admitted net.Conn, ok bool) {
	if cl.Acquire() {
		return &limitedConn{Conn: conn, release: cl.Release}, true
	}

	cl.mu.RLock()
	onReject := cl.onReject
	cl.mu.RUnlock()
	if onReject != nil {
		onReject(conn.RemoteAddr())
	}
	conn.Close()
	return nil, false
}

// ActiveConnections returns the number of slots in use.
func (cl *ConnectionLimiter) ActiveConnections() int {
	return int(cl.active.Load())
}

// MaxConnections returns the current limit.
func (cl *ConnectionLimiter) MaxConnections() int {
	return int(cl.limit.Load())
}

// SetMaxConnections updates the limit at runtime. Connections above a
// lowered limit stay open.
func (cl *ConnectionLimiter) SetMaxConnections(limit int) {
	if limit <= 0 {
		limit = DefaultMaxConnections
	}
	cl.limit.Store(int32(limit))
}

// limitedConn frees its limiter slot exactly once when closed.
type limitedConn struct {
	net.Conn
	release func()
	once    sync.Once
}

func (lc *limitedConn) Close() error {
	lc.once.Do(lc.release)
	return lc.Conn.Close()
}
