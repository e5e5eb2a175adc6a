package rpc

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestNewPooledClientDefaults(t *testing.T) {
	cfg := unixConfig(t)
	startTestServer(t, cfg)

	pc, err := NewPooledClient(PooledClientConfig{ClientConfig: ClientConfig{UnixSocketPath: cfg.UnixSocketPath}})
	if err != nil {
		t.Fatalf("NewPooledClient: %v", err)
	}
	defer pc.Close()

	stats := pc.Stats()
	if stats.MaxSize != 5 {
		t.Errorf("MaxSize = %d, want 5", stats.MaxSize)
	}
	if stats.CurrentSize != 0 {
		t.Errorf("connections should be dialed lazily, have %d", stats.CurrentSize)
	}
}

func TestPooledClientConcurrentCalls(t *testing.T) {
	cfg := unixConfig(t)
	startTestServer(t, cfg)

	pc, err := NewPooledClient(PooledClientConfig{
		ClientConfig: ClientConfig{UnixSocketPath: cfg.UnixSocketPath, Timeout: 5 * time.Second},
		PoolSize:     3,
	})
	if err != nil {
		t.Fatalf("NewPooledClient: %v", err)
	}
	defer pc.Close()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := pc.PoolsStats(context.Background(), "db"); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("PoolsStats: %v", err)
	}

	stats := pc.Stats()
	if stats.CurrentSize > 3 {
		t.Errorf("CurrentSize = %d exceeds pool size", stats.CurrentSize)
	}
	if stats.ActiveSize != 0 {
		t.Errorf("all connections should be released, %d in use", stats.ActiveSize)
	}
	if stats.Acquired != 20 {
		t.Errorf("Acquired = %d, want 20", stats.Acquired)
	}
}

func TestPooledClientKeepsConnectionOnRPCError(t *testing.T) {
	cfg := unixConfig(t)
	startTestServer(t, cfg)

	pc, err := NewPooledClient(PooledClientConfig{ClientConfig: ClientConfig{UnixSocketPath: cfg.UnixSocketPath}})
	if err != nil {
		t.Fatal(err)
	}
	defer pc.Close()

	if _, err := pc.PoolsStats(context.Background(), "missing"); err == nil {
		t.Fatal("expected an RPC error")
	}
	stats := pc.Stats()
	if stats.CurrentSize != 1 || stats.Destroyed != 0 {
		t.Errorf("connection should be returned to the pool: %+v", stats)
	}
}

func TestPooledClientDiscardsBrokenConnection(t *testing.T) {
	cfg := unixConfig(t)
	s, _ := startTestServer(t, cfg)

	pc, err := NewPooledClient(PooledClientConfig{ClientConfig: ClientConfig{UnixSocketPath: cfg.UnixSocketPath, Timeout: 2 * time.Second}})
	if err != nil {
		t.Fatal(err)
	}
	defer pc.Close()

	if err := pc.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	s.Stop()

	if err := pc.Ping(context.Background()); err == nil {
		t.Fatal("expected an error after the server stopped")
	}
	if got := pc.Stats().CurrentSize; got != 0 {
		t.Errorf("broken connection should be discarded, pool holds %d", got)
	}
}

func TestPooledClientDialFailure(t *testing.T) {
	pc, err := NewPooledClient(PooledClientConfig{
		ClientConfig: ClientConfig{UnixSocketPath: filepath.Join(t.TempDir(), "none.sock"), Timeout: time.Second},
	})
	if err != nil {
		t.Fatalf("NewPooledClient: %v", err)
	}
	defer pc.Close()

	if err := pc.Ping(context.Background()); err == nil {
		t.Error("expected dial error")
	}
}

func TestPooledClientClose(t *testing.T) {
	cfg := unixConfig(t)
	startTestServer(t, cfg)

	pc, err := NewPooledClient(PooledClientConfig{ClientConfig: ClientConfig{UnixSocketPath: cfg.UnixSocketPath}})
	if err != nil {
		t.Fatal(err)
	}
	if err := pc.Ping(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := pc.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if pc.Stats().State != "closed" {
		t.Errorf("State = %q, want closed", pc.Stats().State)
	}
	if err := pc.Ping(context.Background()); err == nil {
		t.Error("calls after Close should fail")
	}
}
