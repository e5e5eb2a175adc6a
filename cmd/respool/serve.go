package main

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/go-i2p/respool/lib/config"
	"github.com/go-i2p/respool/lib/manager"
	"github.com/go-i2p/respool/lib/metrics"
	"github.com/go-i2p/respool/lib/pool"
	"github.com/go-i2p/respool/lib/resilience"
	"github.com/go-i2p/respool/lib/resources"
	"github.com/go-i2p/respool/lib/rpc"
	"github.com/go-i2p/respool/lib/web"
	"github.com/go-i2p/respool/version"
)

func newServeCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the pool daemon",
		Long: `Builds every pool in the [[pools]] section of the config, then serves
them over JSON-RPC and HTTP until interrupted. On SIGINT or SIGTERM all
pools are stopped within daemon.shutdown_timeout.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			logger := opts.logger(cmd.ErrOrStderr())

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			d := newDaemon(cfg, logger)
			if err := d.start(ctx); err != nil {
				d.shutdown()
				return err
			}
			logger.Info("respool running", "version", version.Full(), "pools", d.pools.Len())

			d.run(ctx)
			logger.Info("shutting down")
			d.shutdown()
			return nil
		},
	}
}

// daemon owns the pools and the control surfaces of one serve process.
type daemon struct {
	cfg    *config.Config
	logger *slog.Logger
	pools  *manager.Manager

	monitors []*resilience.Monitor
	rpc      *rpc.Server
	web      *web.Server
}

func newDaemon(cfg *config.Config, logger *slog.Logger) *daemon {
	return &daemon{
		cfg:    cfg,
		logger: logger,
		pools:  manager.New(),
	}
}

// start registers the configured pools and brings up RPC and HTTP.
func (d *daemon) start(ctx context.Context) error {
	if err := d.cfg.EnsureDataDir(); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	metrics.RecordStartTime()

	for i := range d.cfg.Pools {
		if err := d.registerPool(ctx, &d.cfg.Pools[i]); err != nil {
			return err
		}
	}
	for _, m := range d.monitors {
		m.Start(ctx)
	}

	if d.cfg.RPC.Enabled {
		if err := d.startRPC(ctx); err != nil {
			return err
		}
	}
	if d.cfg.Web.Enabled {
		if err := d.startWeb(); err != nil {
			return err
		}
	}
	return nil
}

func (d *daemon) registerPool(ctx context.Context, pc *config.PoolConfig) error {
	p, err := d.buildPool(pc)
	if err != nil {
		return fmt.Errorf("building pool %s: %w", pc.Name, err)
	}
	if err := d.pools.Register(ctx, pc.Name, p); err != nil {
		return fmt.Errorf("registering pool %s: %w", pc.Name, err)
	}
	cfg := p.Config()
	d.logger.Info("pool registered",
		"name", pc.Name,
		"kind", pc.Kind,
		"min", cfg.MinSize,
		"max", cfg.MaxSize,
	)
	return nil
}

// buildPool creates the pool described by pc without starting it.
func (d *daemon) buildPool(pc *config.PoolConfig) (manager.Managed, error) {
	settings, err := pc.PoolSettings()
	if err != nil {
		return nil, err
	}

	switch pc.Kind {
	case config.KindBuffer:
		p, err := resources.NewBufferPool(pc.Name, pc.BufferSize, settings)
		if err != nil {
			return nil, err
		}
		return p, nil
	case config.KindTCP:
		return d.buildTCPPool(pc, settings)
	default:
		return nil, fmt.Errorf("unknown pool kind %q", pc.Kind)
	}
}

func (d *daemon) buildTCPPool(pc *config.PoolConfig, settings pool.Config) (manager.Managed, error) {
	dialTimeout, err := pc.DialTimeoutDuration()
	if err != nil {
		return nil, err
	}
	factory := resources.TCPFactory(pc.Address, dialTimeout)

	if !pc.Breaker.Enabled {
		p, err := resources.NewTCPPoolWithFactory(pc.Name, factory, settings)
		if err != nil {
			return nil, err
		}
		return p, nil
	}

	bcfg := resilience.DefaultConfig()
	bcfg.FailureThreshold = pc.Breaker.MaxFailures
	bcfg.Timeout = pc.BreakerTimeout()
	cb := resilience.New(pc.Name, bcfg)
	cb.OnStateChange(func(from, to resilience.CircuitState) {
		d.logger.Warn("circuit state changed", "pool", pc.Name, "from", from.String(), "to", to.String())
	})

	p, err := resources.NewTCPPoolWithFactory(pc.Name, resilience.GuardFactory(cb, factory), settings)
	if err != nil {
		return nil, err
	}

	if interval := pc.ProbeInterval(); interval > 0 {
		m := resilience.NewMonitor(cb, resilience.DialProbe(pc.Address, dialTimeout), interval)
		m.SetCallbacks(
			func() { d.refill(p) },
			func() {
				// Idle connections to a dead backend fail validation.
				report := p.ReapNow()
				d.logger.Warn("backend unreachable", "pool", pc.Name, "reaped", report.Destroyed)
			},
		)
		d.monitors = append(d.monitors, m)
	}
	return p, nil
}

// refill tops a recovered pool back up to its minimum size.
func (d *daemon) refill(p manager.Managed) {
	if p.State() != pool.StateRunning {
		return
	}
	cfg := p.Config()
	ctx, cancel := context.WithTimeout(context.Background(), cfg.AcquireTimeout+time.Second)
	defer cancel()
	if err := p.Resize(ctx, cfg.MinSize, cfg.MaxSize); err != nil {
		d.logger.Warn("refilling pool failed", "pool", p.Name(), "error", err)
		return
	}
	d.logger.Info("backend recovered", "pool", p.Name())
}

func (d *daemon) startRPC(ctx context.Context) error {
	scfg := rpc.ServerConfig{
		UnixSocketPath: d.cfg.DataPath(d.cfg.RPC.Socket),
		TCPAddress:     d.cfg.RPC.TCPAddress,
		AuthFile:       d.cfg.DataPath(d.cfg.RPC.AuthFile),
		MaxConnections: d.cfg.RPC.MaxConnections,
	}
	server, err := rpc.NewServer(scfg)
	if err != nil {
		return fmt.Errorf("creating RPC server: %w", err)
	}
	rpc.NewHandlers(rpc.HandlersConfig{
		Pools:   d.pools,
		Version: version.Full(),
	}).RegisterAll(server)

	if err := server.Start(ctx, scfg); err != nil {
		return fmt.Errorf("starting RPC server: %w", err)
	}
	d.rpc = server
	d.logger.Info("RPC server listening", "socket", server.UnixSocketPath(), "tcp", server.TCPAddress())
	return nil
}

func (d *daemon) startWeb() error {
	server, err := web.New(web.Config{
		ListenAddr: d.cfg.Web.Listen,
		Pools:      d.pools,
		Version:    version.Full(),
		RateLimit: web.RateLimitConfig{
			RequestsPerSecond: d.cfg.Web.RateLimit,
			BurstSize:         d.cfg.Web.RateBurst,
		},
		Logger: d.logger,
	})
	if err != nil {
		return fmt.Errorf("creating web server: %w", err)
	}
	if err := server.Start(); err != nil {
		return fmt.Errorf("starting web server: %w", err)
	}
	d.web = server
	d.logger.Info("HTTP API listening", "addr", server.Addr())
	return nil
}

// run refreshes pool gauges until ctx is done.
func (d *daemon) run(ctx context.Context) {
	interval := d.cfg.MetricsInterval()
	if interval <= 0 {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	d.pools.UpdateMetrics()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.pools.UpdateMetrics()
		}
	}
}

// shutdown stops the control surfaces first so no new work arrives, then
// drains every pool.
func (d *daemon) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.ShutdownTimeout())
	defer cancel()

	if d.web != nil {
		if err := d.web.Stop(ctx); err != nil {
			d.logger.Warn("stopping web server", "error", err)
		}
	}
	if d.rpc != nil {
		if err := d.rpc.Stop(); err != nil {
			d.logger.Warn("stopping RPC server", "error", err)
		}
	}
	for _, m := range d.monitors {
		m.Stop()
	}

	reports := d.pools.StopAll(ctx)
	for _, name := range slices.Sorted(maps.Keys(reports)) {
		report := reports[name]
		if report.OK() {
			d.logger.Info("pool stopped", "pool", name, "destroyed", report.Destroyed)
			continue
		}
		d.logger.Warn("pool stopped with cleanup errors",
			"pool", name,
			"destroyed", report.Destroyed,
			"errors", report.Messages(),
		)
	}
}
