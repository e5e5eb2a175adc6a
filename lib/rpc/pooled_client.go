package rpc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-i2p/respool/lib/pool"
	"github.com/go-i2p/respool/lib/resources"
)

// PooledClient is an RPC client that keeps its connections in a
// pool.Pool, so concurrent callers each get their own connection.
type PooledClient struct {
	methods

	pool  *pool.Pool[*wireConn]
	cfg   ClientConfig
	token []byte
}

// PooledClientConfig extends ClientConfig with pool settings.
type PooledClientConfig struct {
	ClientConfig

	// PoolSize is the maximum number of pooled connections.
	// Default: 5
	PoolSize int
	// MaxIdleTime is how long idle connections stay in the pool.
	// Default: 5 minutes
	MaxIdleTime time.Duration
	// HealthCheckInterval is how often idle connections are checked.
	// Default: 30 seconds
	HealthCheckInterval time.Duration
}

// DefaultPooledClientConfig returns a PooledClientConfig with sensible defaults.
func DefaultPooledClientConfig() PooledClientConfig {
	return PooledClientConfig{
		ClientConfig: ClientConfig{
			Timeout: DefaultClientTimeout,
		},
		PoolSize:            5,
		MaxIdleTime:         5 * time.Minute,
		HealthCheckInterval: 30 * time.Second,
	}
}

// NewPooledClient creates a pooled RPC client. Connections are dialed
// lazily on first use.
func NewPooledClient(cfg PooledClientConfig) (*PooledClient, error) {
	def := DefaultPooledClientConfig()
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = def.PoolSize
	}
	if cfg.MaxIdleTime <= 0 {
		cfg.MaxIdleTime = def.MaxIdleTime
	}
	if cfg.HealthCheckInterval <= 0 {
		cfg.HealthCheckInterval = def.HealthCheckInterval
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}

	token, err := loadAuthToken(cfg.ClientConfig)
	if err != nil {
		return nil, err
	}

	pc := &PooledClient{
		cfg:   cfg.ClientConfig,
		token: token,
	}
	pc.methods = methods{call: pc.Call}

	p, err := pool.New("rpc-client", pc.dial, pool.Config{
		MinSize:            0,
		MaxSize:            cfg.PoolSize,
		IdleTimeout:        cfg.MaxIdleTime,
		AcquireTimeout:     cfg.Timeout,
		ValidationInterval: cfg.HealthCheckInterval,
		StopTimeout:        cfg.Timeout,
	},
		pool.WithValidator[*wireConn](func(w *wireConn) bool { return resources.ConnAlive(w.conn) }),
		resources.ForCloser[*wireConn](),
	)
	if err != nil {
		return nil, err
	}
	if err := p.Start(context.Background()); err != nil {
		return nil, err
	}
	pc.pool = p

	log.WithField("pool_size", cfg.PoolSize).Debug("pooled RPC client created")
	return pc, nil
}

// dial is the pool factory: connect and authenticate.
func (c *PooledClient) dial(ctx context.Context) (*wireConn, error) {
	wire, err := dialWire(ctx, c.cfg)
	if err != nil {
		return nil, err
	}
	if c.token != nil {
		if err := wire.authenticate(ctx, c.cfg.Timeout, c.token); err != nil {
			wire.Close()
			return nil, fmt.Errorf("authentication failed: %w", err)
		}
	}
	return wire, nil
}

// Call makes an RPC call on a pooled connection. Connections that fail at
// the transport level are discarded rather than returned to the pool.
func (c *PooledClient) Call(ctx context.Context, method string, params, result any) error {
	r, err := c.pool.Acquire(ctx)
	if err != nil {
		log.WithError(err).WithField("method", method).Warn("failed to acquire RPC connection")
		return fmt.Errorf("acquire connection: %w", err)
	}

	err = r.Value.roundTrip(ctx, c.cfg.Timeout, method, params, result)
	var rpcErr *Error
	if err == nil || errors.As(err, &rpcErr) {
		c.pool.Release(r)
	} else {
		c.pool.Discard(r)
	}
	return err
}

// Stats returns connection pool statistics.
func (c *PooledClient) Stats() pool.Stats {
	return c.pool.Stats()
}

// Close closes the pooled client and all of its connections.
func (c *PooledClient) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Timeout)
	defer cancel()
	report := c.pool.Stop(ctx)
	pool.DeleteMetrics(c.pool.Name())
	return report.Err()
}
