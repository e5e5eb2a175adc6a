package web

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/go-i2p/respool/lib/errors"
	"github.com/go-i2p/respool/lib/pool"
	"github.com/go-i2p/respool/lib/rpc"
	"github.com/go-i2p/respool/lib/validation"
)

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code,omitempty"`
}

// PoolDetail is the response for GET /api/pools/{name}.
type PoolDetail struct {
	Stats     pool.Stats          `json:"stats"`
	Resources []pool.ResourceInfo `json:"resources"`
}

// ResizeRequest is the request body for POST /api/pools/{name}/resize.
type ResizeRequest struct {
	MinSize int `json:"min_size"`
	MaxSize int `json:"max_size"`
}

// HealthResponse contains the health check response.
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Version   string            `json:"version,omitempty"`
	Checks    map[string]string `json:"checks"`
}

func (s *Server) handleListPools(w http.ResponseWriter, r *http.Request) {
	all := s.pools.AllStats()
	result := rpc.PoolsListResult{Pools: make([]rpc.PoolSummary, 0, len(all))}
	for _, name := range s.pools.Names() {
		st, ok := all[name]
		if !ok {
			continue
		}
		result.Pools = append(result.Pools, rpc.PoolSummary{
			Name:        name,
			State:       st.State,
			MinSize:     st.MinSize,
			MaxSize:     st.MaxSize,
			CurrentSize: st.CurrentSize,
			ActiveSize:  st.ActiveSize,
			IdleSize:    st.IdleSize,
		})
	}
	result.Total = len(result.Pools)
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetPool(w http.ResponseWriter, r *http.Request) {
	name, ok := s.poolName(w, r)
	if !ok {
		return
	}

	p, err := s.pools.Get(name)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, PoolDetail{Stats: p.Stats(), Resources: p.Resources()})
}

func (s *Server) handleResizePool(w http.ResponseWriter, r *http.Request) {
	name, ok := s.poolName(w, r)
	if !ok {
		return
	}

	var req ResizeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validation.PoolSizes(req.MinSize, req.MaxSize); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	if err := s.pools.Resize(ctx, name, req.MinSize, req.MaxSize); err != nil {
		s.writeDomainError(w, err)
		return
	}
	st, err := s.pools.Stats(name)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.logger.Info("pool resized", "pool", name, "min_size", req.MinSize, "max_size", req.MaxSize)
	s.writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleReapPool(w http.ResponseWriter, r *http.Request) {
	name, ok := s.poolName(w, r)
	if !ok {
		return
	}

	report, err := s.pools.Reap(name)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rpc.CleanupResult{
		Name:      name,
		Destroyed: report.Destroyed,
		Errors:    report.Messages(),
	})
}

// handleHealth reports the state of every pool. Any pool that is not
// running makes the service unhealthy.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	overall := "healthy"
	for name, st := range s.pools.AllStats() {
		checks[name] = st.State
		if st.State != pool.StateRunning.String() {
			overall = "unhealthy"
		}
	}

	status := http.StatusOK
	if overall != "healthy" {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, HealthResponse{
		Status:    overall,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   s.version,
		Checks:    checks,
	})
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// handleReadiness is ready once at least one pool is registered and every
// pool is running.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	all := s.pools.AllStats()
	if len(all) == 0 {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not_ready",
			"reason": "no_pools",
		})
		return
	}
	for name, st := range all {
		if st.State != pool.StateRunning.String() {
			s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not_ready",
				"reason": "pool_" + st.State,
				"pool":   name,
			})
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) poolName(w http.ResponseWriter, r *http.Request) (string, bool) {
	name := chi.URLParam(r, "name")
	if err := validation.ValidatePoolParam(name); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return name, true
}

// writeDomainError maps a lib/errors sentinel to an HTTP status.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	se := apperrors.FromSentinel(err)
	status := statusFromCode(se.Code)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	s.writeJSON(w, status, ErrorResponse{Error: se.Message, Code: se.Code})
}

func statusFromCode(code int) int {
	switch code {
	case apperrors.CodeNotFound:
		return http.StatusNotFound
	case apperrors.CodeInvalidParams, apperrors.CodeValidation:
		return http.StatusBadRequest
	case apperrors.CodeConflict, apperrors.CodeState:
		return http.StatusConflict
	case apperrors.CodeTimeout:
		return http.StatusGatewayTimeout
	case apperrors.CodeUnavailable, apperrors.CodeCreation:
		return http.StatusServiceUnavailable
	case apperrors.CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
