// Package config loads and saves the respool daemon configuration.
// Files are TOML by default; a .yaml or .yml extension selects YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	apperrors "github.com/go-i2p/respool/lib/errors"
	"github.com/go-i2p/respool/lib/pool"
	"github.com/go-i2p/respool/lib/validation"
)

// Default configuration values
const (
	DefaultRPCSocket       = "rpc.sock"
	DefaultRPCAuthFile     = "rpc.auth"
	DefaultWebListen       = "127.0.0.1:8080"
	DefaultShutdownTimeout = 10 * time.Second
	DefaultRateLimit       = 10
	DefaultRateBurst       = 20
	DefaultMaxConnections  = 100
)

// Pool kinds understood by the daemon.
const (
	KindTCP    = "tcp"
	KindBuffer = "buffer"
)

// Config holds all configuration for a respool daemon.
type Config struct {
	Daemon  DaemonConfig  `toml:"daemon" yaml:"daemon"`
	RPC     RPCConfig     `toml:"rpc" yaml:"rpc"`
	Web     WebConfig     `toml:"web" yaml:"web"`
	Workers WorkersConfig `toml:"workers" yaml:"workers"`
	Pools   []PoolConfig  `toml:"pools" yaml:"pools"`
}

// DaemonConfig contains process-wide settings.
type DaemonConfig struct {
	// DataDir is where the RPC socket and auth token live
	DataDir string `toml:"data_dir" yaml:"data_dir"`
	// ShutdownTimeout bounds how long stopping all pools may take
	ShutdownTimeout string `toml:"shutdown_timeout" yaml:"shutdown_timeout"`
	// MetricsInterval is how often pool gauges are refreshed; empty disables
	MetricsInterval string `toml:"metrics_interval" yaml:"metrics_interval"`
}

// RPCConfig contains RPC server settings.
type RPCConfig struct {
	// Enabled controls whether the RPC server is started
	Enabled bool `toml:"enabled" yaml:"enabled"`
	// Socket is the path to the Unix socket for RPC (relative to DataDir)
	Socket string `toml:"socket" yaml:"socket"`
	// TCPAddress is an optional TCP address for RPC (e.g., "127.0.0.1:9090")
	TCPAddress string `toml:"tcp_address,omitempty" yaml:"tcp_address,omitempty"`
	// AuthFile is the auth token file (relative to DataDir)
	AuthFile string `toml:"auth_file" yaml:"auth_file"`
	// MaxConnections caps concurrent RPC connections
	MaxConnections int `toml:"max_connections" yaml:"max_connections"`
}

// WebConfig contains HTTP API settings.
type WebConfig struct {
	// Enabled controls whether the HTTP API is started
	Enabled bool `toml:"enabled" yaml:"enabled"`
	// Listen is the address to bind the HTTP server to
	Listen string `toml:"listen" yaml:"listen"`
	// RateLimit is the sustained requests per second allowed per client on mutating routes
	RateLimit float64 `toml:"rate_limit" yaml:"rate_limit"`
	// RateBurst is the burst size for RateLimit
	RateBurst int `toml:"rate_burst" yaml:"rate_burst"`
}

// WorkersConfig sizes the worker pool used by bench runs.
type WorkersConfig struct {
	Workers   int `toml:"workers" yaml:"workers"`
	QueueSize int `toml:"queue_size" yaml:"queue_size"`
}

// PoolConfig describes one daemon-managed pool.
type PoolConfig struct {
	Name string `toml:"name" yaml:"name"`
	// Kind selects the resource factory: "tcp" or "buffer"
	Kind string `toml:"kind" yaml:"kind"`
	// Address is the dial target for tcp pools
	Address string `toml:"address,omitempty" yaml:"address,omitempty"`
	// DialTimeout bounds each tcp dial
	DialTimeout string `toml:"dial_timeout,omitempty" yaml:"dial_timeout,omitempty"`
	// BufferSize is the byte size of buffer pool entries
	BufferSize int `toml:"buffer_size,omitempty" yaml:"buffer_size,omitempty"`

	MinSize            int    `toml:"min_size" yaml:"min_size"`
	MaxSize            int    `toml:"max_size" yaml:"max_size"`
	IdleTimeout        string `toml:"idle_timeout" yaml:"idle_timeout"`
	MaxLifetime        string `toml:"max_lifetime" yaml:"max_lifetime"`
	AcquireTimeout     string `toml:"acquire_timeout" yaml:"acquire_timeout"`
	ValidationInterval string `toml:"validation_interval" yaml:"validation_interval"`

	Breaker BreakerConfig `toml:"breaker" yaml:"breaker"`
}

// BreakerConfig configures the circuit breaker guarding a pool's factory.
type BreakerConfig struct {
	Enabled     bool   `toml:"enabled" yaml:"enabled"`
	MaxFailures int    `toml:"max_failures" yaml:"max_failures"`
	Timeout     string `toml:"timeout" yaml:"timeout"`

	// ProbeInterval enables a background dial probe of the pool address
	// that feeds the breaker. Empty disables probing.
	ProbeInterval string `toml:"probe_interval,omitempty" yaml:"probe_interval,omitempty"`
}

// DefaultConfig returns a Config with sensible defaults and no pools.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".respool")

	return &Config{
		Daemon: DaemonConfig{
			DataDir:         dataDir,
			ShutdownTimeout: DefaultShutdownTimeout.String(),
			MetricsInterval: "15s",
		},
		RPC: RPCConfig{
			Enabled:        true,
			Socket:         DefaultRPCSocket,
			AuthFile:       DefaultRPCAuthFile,
			MaxConnections: DefaultMaxConnections,
		},
		Web: WebConfig{
			Enabled:   true,
			Listen:    DefaultWebListen,
			RateLimit: DefaultRateLimit,
			RateBurst: DefaultRateBurst,
		},
		Workers: WorkersConfig{
			Workers:   4,
			QueueSize: 64,
		},
	}
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// LoadConfig reads configuration from a TOML or YAML file and applies
// RESPOOL_* environment overrides.
// If the file doesn't exist, it returns the default configuration.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if isYAML(path) {
			err = yaml.Unmarshal(data, cfg)
		} else {
			err = toml.Unmarshal(data, cfg)
		}
		if err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := ApplyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SaveConfig writes the configuration to a TOML or YAML file.
// It creates the parent directory if it doesn't exist.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	var data []byte
	var err error
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = toml.Marshal(cfg)
	}
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// ApplyEnvOverrides applies RESPOOL_* environment variables on top of cfg.
func ApplyEnvOverrides(cfg *Config) error {
	if v, ok := os.LookupEnv("RESPOOL_DATA_DIR"); ok {
		cfg.Daemon.DataDir = v
	}
	if v, ok := os.LookupEnv("RESPOOL_SHUTDOWN_TIMEOUT"); ok {
		cfg.Daemon.ShutdownTimeout = v
	}
	if v, ok := os.LookupEnv("RESPOOL_RPC_ENABLED"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("RESPOOL_RPC_ENABLED: %w", err)
		}
		cfg.RPC.Enabled = b
	}
	if v, ok := os.LookupEnv("RESPOOL_RPC_SOCKET"); ok {
		cfg.RPC.Socket = v
	}
	if v, ok := os.LookupEnv("RESPOOL_RPC_TCP_ADDRESS"); ok {
		cfg.RPC.TCPAddress = v
	}
	if v, ok := os.LookupEnv("RESPOOL_WEB_ENABLED"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("RESPOOL_WEB_ENABLED: %w", err)
		}
		cfg.Web.Enabled = b
	}
	if v, ok := os.LookupEnv("RESPOOL_WEB_LISTEN"); ok {
		cfg.Web.Listen = v
	}
	return nil
}

// Validate checks the configuration for errors.
// All failures wrap apperrors.ErrInvalidConfig.
func (c *Config) Validate() error {
	var errs validation.Errors

	errs.Add(validation.Required("daemon.data_dir", c.Daemon.DataDir))
	if _, err := validation.Duration("daemon.shutdown_timeout", c.Daemon.ShutdownTimeout); err != nil {
		errs.Add(err)
	}
	if _, err := validation.Duration("daemon.metrics_interval", c.Daemon.MetricsInterval); err != nil {
		errs.Add(err)
	}
	if c.RPC.Enabled {
		errs.Add(validation.Required("rpc.socket", c.RPC.Socket))
		if c.RPC.TCPAddress != "" {
			errs.Add(validation.HostPort("rpc.tcp_address", c.RPC.TCPAddress))
		}
	}
	if c.Web.Enabled {
		errs.Add(validation.HostPort("web.listen", c.Web.Listen))
		if c.Web.RateLimit <= 0 {
			errs.Add(validation.Fieldf("web.rate_limit", validation.ErrOutOfRange, "must be positive"))
		}
	}
	errs.Add(validation.Positive("workers.workers", c.Workers.Workers))

	seen := make(map[string]bool, len(c.Pools))
	for i := range c.Pools {
		p := &c.Pools[i]
		if seen[p.Name] {
			errs.Add(validation.Fieldf("pools", validation.ErrInvalidFormat, "duplicate pool name %q", p.Name))
		}
		seen[p.Name] = true
		if _, err := p.PoolSettings(); err != nil {
			errs.Add(err)
		}
	}

	if err := errs.Err(); err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrInvalidConfig, err)
	}
	return nil
}

// ShutdownTimeout returns the parsed shutdown timeout, or the default.
func (c *Config) ShutdownTimeout() time.Duration {
	d, err := validation.Duration("daemon.shutdown_timeout", c.Daemon.ShutdownTimeout)
	if err != nil || d == 0 {
		return DefaultShutdownTimeout
	}
	return d
}

// MetricsInterval returns the parsed metrics refresh interval. Zero disables it.
func (c *Config) MetricsInterval() time.Duration {
	d, _ := validation.Duration("daemon.metrics_interval", c.Daemon.MetricsInterval)
	return d
}

// DataPath returns an absolute path within the data directory.
// Absolute elements are returned unchanged.
func (c *Config) DataPath(elem string) string {
	if filepath.IsAbs(elem) {
		return elem
	}
	return filepath.Join(c.Daemon.DataDir, elem)
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *Config) EnsureDataDir() error {
	return os.MkdirAll(c.Daemon.DataDir, 0o700)
}

// Pool returns the named pool definition.
func (c *Config) Pool(name string) (PoolConfig, bool) {
	for _, p := range c.Pools {
		if p.Name == name {
			return p, true
		}
	}
	return PoolConfig{}, false
}

// PoolSettings validates the definition and converts it to a pool.Config.
// Empty durations keep the pool defaults.
func (p *PoolConfig) PoolSettings() (pool.Config, error) {
	field := func(name string) string {
		return fmt.Sprintf("pools[%s].%s", p.Name, name)
	}

	if err := validation.PoolName(field("name"), p.Name); err != nil {
		return pool.Config{}, err
	}
	switch p.Kind {
	case KindTCP:
		if err := validation.HostPort(field("address"), p.Address); err != nil {
			return pool.Config{}, err
		}
	case KindBuffer:
		if err := validation.Positive(field("buffer_size"), p.BufferSize); err != nil {
			return pool.Config{}, err
		}
	default:
		return pool.Config{}, validation.Fieldf(field("kind"), validation.ErrInvalidFormat, "unknown kind %q (want tcp or buffer)", p.Kind)
	}
	if err := validation.PoolSizes(p.MinSize, p.MaxSize); err != nil {
		return pool.Config{}, err
	}

	cfg := pool.DefaultConfig()
	cfg.MinSize = p.MinSize
	cfg.MaxSize = p.MaxSize

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"idle_timeout", p.IdleTimeout, &cfg.IdleTimeout},
		{"max_lifetime", p.MaxLifetime, &cfg.MaxLifetime},
		{"acquire_timeout", p.AcquireTimeout, &cfg.AcquireTimeout},
		{"validation_interval", p.ValidationInterval, &cfg.ValidationInterval},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := validation.Duration(field(d.name), d.raw)
		if err != nil {
			return pool.Config{}, err
		}
		*d.dst = v
	}

	if _, err := p.DialTimeoutDuration(); err != nil {
		return pool.Config{}, err
	}
	if p.Breaker.Enabled {
		if err := validation.Positive(field("breaker.max_failures"), p.Breaker.MaxFailures); err != nil {
			return pool.Config{}, err
		}
		if _, err := validation.Duration(field("breaker.timeout"), p.Breaker.Timeout); err != nil {
			return pool.Config{}, err
		}
		if _, err := validation.Duration(field("breaker.probe_interval"), p.Breaker.ProbeInterval); err != nil {
			return pool.Config{}, err
		}
	}

	return cfg, cfg.Validate()
}

// DialTimeoutDuration returns the parsed dial timeout (default 5s).
func (p *PoolConfig) DialTimeoutDuration() (time.Duration, error) {
	d, err := validation.Duration(fmt.Sprintf("pools[%s].dial_timeout", p.Name), p.DialTimeout)
	if err != nil {
		return 0, err
	}
	if d == 0 {
		return 5 * time.Second, nil
	}
	return d, nil
}

// ProbeInterval returns the parsed breaker probe interval, zero when disabled.
func (p *PoolConfig) ProbeInterval() time.Duration {
	d, _ := validation.Duration("breaker.probe_interval", p.Breaker.ProbeInterval)
	return d
}

// BreakerTimeout returns the parsed breaker reset timeout (default 30s).
func (p *PoolConfig) BreakerTimeout() time.Duration {
	d, err := validation.Duration("breaker.timeout", p.Breaker.Timeout)
	if err != nil || d == 0 {
		return 30 * time.Second
	}
	return d
}
