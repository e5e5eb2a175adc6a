// Package testutil provides fakes and helpers shared by respool tests.
package testutil

import (
	"io"
	"net"
	"sync"
	"testing"
	"time"
)

// Backend is a TCP server standing in for a pooled upstream. It accepts
// connections, discards anything written to them and keeps them open until
// DropAll or Close. It never writes, so pooled connections to it stay
// valid.
type Backend struct {
	listener net.Listener
	addr     string

	mu      sync.Mutex
	conns   map[net.Conn]struct{}
	total   int
	running bool
	wg      sync.WaitGroup
}

// NewBackend starts a backend on a random loopback port. It is closed
// when the test finishes.
func NewBackend(tb testing.TB) *Backend {
	tb.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		tb.Fatalf("backend listen: %v", err)
	}

	b := &Backend{
		listener: ln,
		addr:     ln.Addr().String(),
		conns:    make(map[net.Conn]struct{}),
		running:  true,
	}
	b.wg.Add(1)
	go b.acceptLoop()
	tb.Cleanup(b.Close)
	return b
}

// Addr returns the host:port the backend listens on.
func (b *Backend) Addr() string {
	return b.addr
}

// Accepted returns how many connections have been accepted in total.
func (b *Backend) Accepted() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total
}

// Open returns how many accepted connections are still open.
func (b *Backend) Open() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.conns)
}

// DropAll closes every open connection from the server side.
func (b *Backend) DropAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for c := range b.conns {
		c.Close()
	}
	clear(b.conns)
}

// Close stops accepting, drops all connections and waits for the
// connection goroutines. Close is idempotent.
func (b *Backend) Close() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	b.mu.Unlock()

	b.listener.Close()
	b.DropAll()
	b.wg.Wait()
}

func (b *Backend) acceptLoop() {
	defer b.wg.Done()
	for {
		conn, err := b.listener.Accept()
		if err != nil {
			return
		}

		b.mu.Lock()
		if !b.running {
			b.mu.Unlock()
			conn.Close()
			return
		}
		b.conns[conn] = struct{}{}
		b.total++
		b.wg.Add(1)
		b.mu.Unlock()

		go b.handleConnection(conn)
	}
}

func (b *Backend) handleConnection(conn net.Conn) {
	defer b.wg.Done()
	_, _ = io.Copy(io.Discard, conn)

	b.mu.Lock()
	delete(b.conns, conn)
	b.mu.Unlock()
	conn.Close()
}

// WaitFor polls cond until it holds, failing the test after two seconds.
func WaitFor(tb testing.TB, cond func() bool) {
	tb.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			tb.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
