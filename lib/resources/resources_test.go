package resources

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	apperrors "github.com/go-i2p/respool/lib/errors"
	"github.com/go-i2p/respool/lib/pool"
	"github.com/go-i2p/respool/lib/testutil"
)

func TestConnAlive(t *testing.T) {
	srv := testutil.NewBackend(t)

	conn, err := TCPFactory(srv.Addr(), time.Second)(context.Background())
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	if !ConnAlive(conn) {
		t.Fatal("fresh connection should be alive")
	}
	// The probe must not leave a read deadline behind.
	if !ConnAlive(conn) {
		t.Fatal("second probe should also pass")
	}

	testutil.WaitFor(t, func() bool { return srv.Accepted() == 1 })
	srv.DropAll()
	testutil.WaitFor(t, func() bool { return !ConnAlive(conn) })

	if ConnAlive(nil) {
		t.Error("nil connection is not alive")
	}
}

func TestTCPFactoryDialError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	if _, err := TCPFactory(addr, 200*time.Millisecond)(context.Background()); err == nil {
		t.Error("dialing a closed port should fail")
	}
}

func TestTCPPoolValidationReplacesDeadConnections(t *testing.T) {
	srv := testutil.NewBackend(t)

	p, err := NewTCPPool("upstream", srv.Addr(), time.Second, pool.Config{
		MinSize:        2,
		MaxSize:        4,
		AcquireTimeout: time.Second,
		StopTimeout:    time.Second,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	testutil.WaitFor(t, func() bool { return srv.Accepted() == 2 })
	srv.DropAll()

	// Give the FIN time to arrive before validating.
	time.Sleep(50 * time.Millisecond)
	report := p.ReapNow()
	if !report.OK() {
		t.Errorf("unexpected cleanup errors: %v", report.Messages())
	}

	stats := p.Stats()
	if stats.ValidationFails != 2 {
		t.Errorf("ValidationFails = %d, want 2", stats.ValidationFails)
	}
	if stats.CurrentSize != 2 || stats.Created != 4 {
		t.Errorf("pool should be refilled to minimum: %+v", stats)
	}

	stopReport := p.Stop(context.Background())
	if stopReport.Destroyed != 2 {
		t.Errorf("Stop destroyed %d, want 2", stopReport.Destroyed)
	}
}

func TestBufferPool(t *testing.T) {
	p, err := NewBufferPool("scratch", 4096, pool.Config{MinSize: 1, MaxSize: 2})
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer p.Stop(context.Background())

	r, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(r.Value.B) != 4096 {
		t.Fatalf("buffer length = %d, want 4096", len(r.Value.B))
	}
	r.Value.B[0] = 0xff
	r.Value.Reset()
	if r.Value.B[0] != 0 {
		t.Error("Reset should zero the buffer")
	}

	// A resliced buffer is rejected by the validator and replaced.
	r.Value.B = r.Value.B[:10]
	p.Release(r)
	p.ReapNow()
	if got := p.Stats().ValidationFails; got != 1 {
		t.Errorf("ValidationFails = %d, want 1", got)
	}
}

func TestBufferFactoryInvalidSize(t *testing.T) {
	if _, err := BufferFactory(0); !errors.Is(err, apperrors.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
	if _, err := NewBufferPool("bad", -1, pool.DefaultConfig()); !errors.Is(err, apperrors.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

type trackedCloser struct {
	closed bool
}

func (c *trackedCloser) Close() error {
	c.closed = true
	return nil
}

func TestForCloser(t *testing.T) {
	tracked := &trackedCloser{}
	p, err := pool.New("closers", func(ctx context.Context) (*trackedCloser, error) {
		return tracked, nil
	}, pool.Config{MinSize: 1, MaxSize: 1}, ForCloser[*trackedCloser]())
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	p.Stop(context.Background())
	if !tracked.closed {
		t.Error("Stop should close resources through ForCloser")
	}
}
