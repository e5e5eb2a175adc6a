package rpc

import (
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestConnectionLimiterSlots(t *testing.T) {
	cl := NewConnectionLimiter(2)

	if !cl.Acquire() || !cl.Acquire() {
		t.Fatal("two slots should be free")
	}
	if cl.Acquire() {
		t.Fatal("third Acquire should fail at the limit")
	}
	cl.Release()
	if !cl.Acquire() {
		t.Error("Acquire after Release should succeed")
	}
	if got := cl.ActiveConnections(); got != 2 {
		t.Errorf("ActiveConnections = %d, want 2", got)
	}
}

func TestConnectionLimiterMax(t *testing.T) {
	tests := []struct {
		limit int
		want  int
	}{
		{5, 5},
		{0, DefaultMaxConnections},
		{-5, DefaultMaxConnections},
	}
	for _, tt := range tests {
		if got := NewConnectionLimiter(tt.limit).MaxConnections(); got != tt.want {
			t.Errorf("NewConnectionLimiter(%d).MaxConnections() = %d, want %d", tt.limit, got, tt.want)
		}
	}

	cl := NewConnectionLimiter(10)
	cl.SetMaxConnections(50)
	if cl.MaxConnections() != 50 {
		t.Errorf("MaxConnections = %d, want 50", cl.MaxConnections())
	}
}

func TestConnectionLimiterAdmit(t *testing.T) {
	cl := NewConnectionLimiter(1)
	var rejected atomic.Int32
	cl.SetOnReject(func(net.Addr) { rejected.Add(1) })

	server1, client1 := net.Pipe()
	defer server1.Close()
	conn, ok := cl.Admit(client1)
	if !ok || conn == nil {
		t.Fatal("first connection should be admitted")
	}

	server2, client2 := net.Pipe()
	defer server2.Close()
	if _, ok := cl.Admit(client2); ok {
		t.Fatal("second connection should be rejected")
	}
	if rejected.Load() != 1 {
		t.Errorf("reject callback ran %d times, want 1", rejected.Load())
	}
	// The rejected pipe end is closed, so the peer sees EOF.
	server2.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := server2.Read(make([]byte, 1)); err == nil {
		t.Error("rejected connection should be closed")
	}

	conn.Close()
	conn.Close()
	if got := cl.ActiveConnections(); got != 0 {
		t.Errorf("ActiveConnections after double Close = %d, want 0", got)
	}
}

func TestConnectionLimiterConcurrent(t *testing.T) {
	cl := NewConnectionLimiter(50)
	var wg sync.WaitGroup
	var acquired atomic.Int32

	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if cl.Acquire() {
				acquired.Add(1)
			}
		}()
	}
	wg.Wait()

	if acquired.Load() != 50 || cl.ActiveConnections() != 50 {
		t.Errorf("acquired %d, active %d, want 50/50", acquired.Load(), cl.ActiveConnections())
	}
}

func TestServerEnforcesConnectionLimit(t *testing.T) {
	cfg := unixConfig(t)
	cfg.MaxConnections = 1
	s, _ := startTestServer(t, cfg)

	first, err := NewClient(ClientConfig{UnixSocketPath: cfg.UnixSocketPath, Timeout: time.Second})
	if err != nil {
		t.Fatalf("first client: %v", err)
	}
	defer first.Close()
	if err := first.Ping(t.Context()); err != nil {
		t.Fatalf("ping: %v", err)
	}

	conn, err := net.Dial("unix", cfg.UnixSocketPath)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := conn.Read(make([]byte, 1)); err == nil {
		t.Error("connection over the limit should be closed by the server")
	}
	if s.ActiveConnections() != 1 {
		t.Errorf("ActiveConnections = %d, want 1", s.ActiveConnections())
	}
}
