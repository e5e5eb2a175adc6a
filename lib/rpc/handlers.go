package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	apperrors "github.com/go-i2p/respool/lib/errors"
	"github.com/go-i2p/respool/lib/manager"
	"github.com/go-i2p/respool/lib/pool"
	"github.com/go-i2p/respool/lib/validation"
)

// PoolRegistry is the subset of *manager.Manager the handlers use.
type PoolRegistry interface {
	Names() []string
	Get(name string) (manager.Managed, error)
	Stats(name string) (pool.Stats, error)
	AllStats() map[string]pool.Stats
	Resize(ctx context.Context, name string, minSize, maxSize int) error
	Reap(name string) (apperrors.CleanupReport, error)
	Unregister(ctx context.Context, name string) (apperrors.CleanupReport, error)
}

// Handlers provides RPC handlers over a pool registry.
type Handlers struct {
	pools     PoolRegistry
	version   string
	startTime time.Time
}

// HandlersConfig configures the RPC handlers.
type HandlersConfig struct {
	Pools   PoolRegistry
	Version string
	// StartTime defaults to the time NewHandlers is called.
	StartTime time.Time
}

// NewHandlers creates RPC handlers.
func NewHandlers(cfg HandlersConfig) *Handlers {
	if cfg.StartTime.IsZero() {
		cfg.StartTime = time.Now()
	}
	return &Handlers{
		pools:     cfg.Pools,
		version:   cfg.Version,
		startTime: cfg.StartTime,
	}
}

// RegisterAll registers all handlers with the server.
func (h *Handlers) RegisterAll(s *Server) {
	s.RegisterHandlers(map[string]Handler{
		"status":           h.Status,
		"pools.list":       h.PoolsList,
		"pools.stats":      h.PoolsStats,
		"pools.resize":     h.PoolsResize,
		"pools.reap":       h.PoolsReap,
		"pools.resources":  h.PoolsResources,
		"pools.unregister": h.PoolsUnregister,
	})
}

// Status returns daemon-wide totals.
func (h *Handlers) Status(ctx context.Context, params json.RawMessage) (any, *Error) {
	all := h.pools.AllStats()
	result := &StatusResult{
		Version:   h.version,
		StartedAt: h.startTime,
		Uptime:    formatDuration(time.Since(h.startTime)),
		Pools:     len(all),
	}
	for _, s := range all {
		result.Resources += s.CurrentSize
		result.InUse += s.ActiveSize
		result.Waiters += s.Waiters
	}
	return result, nil
}

// PoolsList returns a summary row per pool, sorted by name.
func (h *Handlers) PoolsList(ctx context.Context, params json.RawMessage) (any, *Error) {
	all := h.pools.AllStats()
	result := &PoolsListResult{Pools: make([]PoolSummary, 0, len(all))}
	for _, name := range h.pools.Names() {
		s, ok := all[name]
		if !ok {
			// Unregistered between the two calls.
			continue
		}
		result.Pools = append(result.Pools, PoolSummary{
			Name:        name,
			State:       s.State,
			MinSize:     s.MinSize,
			MaxSize:     s.MaxSize,
			CurrentSize: s.CurrentSize,
			ActiveSize:  s.ActiveSize,
			IdleSize:    s.IdleSize,
		})
	}
	result.Total = len(result.Pools)
	return result, nil
}

// PoolsStats returns full statistics for one pool or all pools.
func (h *Handlers) PoolsStats(ctx context.Context, params json.RawMessage) (any, *Error) {
	var p PoolsStatsParams
	if rpcErr := decodeParams(params, &p, true); rpcErr != nil {
		return nil, rpcErr
	}
	if err := validation.ValidatePoolsStatsParams(p.Name); err != nil {
		return nil, ErrInvalidParams(err.Error())
	}

	if p.Name == "" {
		return &PoolsStatsResult{Pools: h.pools.AllStats()}, nil
	}

	s, err := h.pools.Stats(p.Name)
	if err != nil {
		return nil, FromError(err)
	}
	return &PoolsStatsResult{Pools: map[string]pool.Stats{p.Name: s}}, nil
}

// PoolsResize changes a pool's size bounds.
func (h *Handlers) PoolsResize(ctx context.Context, params json.RawMessage) (any, *Error) {
	var p PoolsResizeParams
	if rpcErr := decodeParams(params, &p, false); rpcErr != nil {
		return nil, rpcErr
	}
	if err := validation.ValidatePoolsResizeParams(p.Name, p.MinSize, p.MaxSize); err != nil {
		return nil, ErrInvalidParams(err.Error())
	}

	if err := h.pools.Resize(ctx, p.Name, p.MinSize, p.MaxSize); err != nil {
		return nil, FromError(err)
	}
	s, err := h.pools.Stats(p.Name)
	if err != nil {
		return nil, FromError(err)
	}

	log.WithField("pool", p.Name).
		WithField("min_size", p.MinSize).
		WithField("max_size", p.MaxSize).
		Info("pool resized over RPC")
	return &PoolsResizeResult{Stats: s}, nil
}

// PoolsReap runs an immediate reaper pass.
func (h *Handlers) PoolsReap(ctx context.Context, params json.RawMessage) (any, *Error) {
	name, rpcErr := poolName(params)
	if rpcErr != nil {
		return nil, rpcErr
	}

	report, err := h.pools.Reap(name)
	if err != nil {
		return nil, FromError(err)
	}
	return newCleanupResult(name, report), nil
}

// PoolsResources lists the resources of one pool.
func (h *Handlers) PoolsResources(ctx context.Context, params json.RawMessage) (any, *Error) {
	name, rpcErr := poolName(params)
	if rpcErr != nil {
		return nil, rpcErr
	}

	p, err := h.pools.Get(name)
	if err != nil {
		return nil, FromError(err)
	}
	return &PoolsResourcesResult{Name: name, Resources: p.Resources()}, nil
}

// PoolsUnregister stops a pool and removes it from the registry.
func (h *Handlers) PoolsUnregister(ctx context.Context, params json.RawMessage) (any, *Error) {
	name, rpcErr := poolName(params)
	if rpcErr != nil {
		return nil, rpcErr
	}

	report, err := h.pools.Unregister(ctx, name)
	if err != nil {
		return nil, FromError(err)
	}
	log.WithField("pool", name).WithField("destroyed", report.Destroyed).Info("pool unregistered over RPC")
	return newCleanupResult(name, report), nil
}

func poolName(params json.RawMessage) (string, *Error) {
	var p PoolParams
	if rpcErr := decodeParams(params, &p, false); rpcErr != nil {
		return "", rpcErr
	}
	if err := validation.ValidatePoolParam(p.Name); err != nil {
		return "", ErrInvalidParams(err.Error())
	}
	return p.Name, nil
}

// decodeParams unmarshals params into dst. Missing params are accepted
// only when optional is set.
func decodeParams(params json.RawMessage, dst any, optional bool) *Error {
	if len(params) == 0 || string(params) == "null" {
		if optional {
			return nil
		}
		return ErrInvalidParams("params required")
	}
	if err := json.Unmarshal(params, dst); err != nil {
		return ErrInvalidParams("invalid JSON")
	}
	return nil
}

// formatDuration formats a duration for display.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}
