// Package resources provides factories for the resource kinds the daemon
// can pool: TCP connections to a fixed address and fixed-size byte buffers.
package resources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	apperrors "github.com/go-i2p/respool/lib/errors"
	"github.com/go-i2p/respool/lib/pool"
)

// ForCloser returns the option that closes T with its own Close method.
func ForCloser[T io.Closer]() pool.Option[T] {
	return pool.WithCloser[T](func(v T) error {
		return v.Close()
	})
}

// TCPFactory dials address for every new resource.
func TCPFactory(address string, timeout time.Duration) pool.Factory[net.Conn] {
	return func(ctx context.Context) (net.Conn, error) {
		d := net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}
		conn, err := d.DialContext(ctx, "tcp", address)
		if err != nil {
			return nil, err
		}
		log.WithField("address", address).
			WithField("local", conn.LocalAddr().String()).
			Debug("dialed pooled connection")
		return conn, nil
	}
}

// ConnAlive reports whether the peer still holds conn open. It performs a
// non-blocking read: a timeout means the connection is quiet and usable,
// while EOF, a reset, or unsolicited data all disqualify it.
func ConnAlive(conn net.Conn) bool {
	if conn == nil {
		return false
	}
	if err := conn.SetReadDeadline(time.Now()); err != nil {
		return false
	}
	defer conn.SetReadDeadline(time.Time{})

	var buf [1]byte
	n, err := conn.Read(buf[:])
	if n > 0 {
		return false
	}
	return errors.Is(err, os.ErrDeadlineExceeded)
}

// NewTCPPool builds a pool of TCP connections to address.
func NewTCPPool(name, address string, dialTimeout time.Duration, cfg pool.Config, opts ...pool.Option[net.Conn]) (*pool.Pool[net.Conn], error) {
	return NewTCPPoolWithFactory(name, TCPFactory(address, dialTimeout), cfg, opts...)
}

// NewTCPPoolWithFactory is NewTCPPool with a caller-supplied dialer, used
// when the factory is wrapped by a circuit breaker.
func NewTCPPoolWithFactory(name string, factory pool.Factory[net.Conn], cfg pool.Config, opts ...pool.Option[net.Conn]) (*pool.Pool[net.Conn], error) {
	base := []pool.Option[net.Conn]{
		pool.WithValidator[net.Conn](ConnAlive),
		ForCloser[net.Conn](),
	}
	return pool.New(name, factory, cfg, append(base, opts...)...)
}

// Buffer is a fixed-size scratch buffer.
type Buffer struct {
	B []byte
}

// Reset zeroes the buffer contents.
func (b *Buffer) Reset() {
	clear(b.B)
}

// BufferFactory allocates zeroed buffers of size bytes.
func BufferFactory(size int) (pool.Factory[*Buffer], error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: buffer size must be positive, got %d", apperrors.ErrInvalidConfig, size)
	}
	return func(ctx context.Context) (*Buffer, error) {
		return &Buffer{B: make([]byte, size)}, nil
	}, nil
}

// NewBufferPool builds a pool of size-byte buffers. Buffers that were
// resliced to a different length fail validation and are replaced.
func NewBufferPool(name string, size int, cfg pool.Config) (*pool.Pool[*Buffer], error) {
	factory, err := BufferFactory(size)
	if err != nil {
		return nil, err
	}
	return pool.New(name, factory, cfg,
		pool.WithValidator[*Buffer](func(b *Buffer) bool { return b != nil && len(b.B) == size }),
		pool.WithCloser[*Buffer](func(b *Buffer) error {
			b.B = nil
			return nil
		}),
	)
}
