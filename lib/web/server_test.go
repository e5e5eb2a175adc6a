package web

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-i2p/respool/lib/manager"
	"github.com/go-i2p/respool/lib/pool"
	"github.com/go-i2p/respool/lib/rpc"
)

func newIntPool(t *testing.T, name string, minSize, maxSize int) *pool.Pool[int] {
	t.Helper()
	var n atomic.Int32
	p, err := pool.New(name, func(ctx context.Context) (int, error) {
		return int(n.Add(1)), nil
	}, pool.Config{MinSize: minSize, MaxSize: maxSize, AcquireTimeout: time.Second, StopTimeout: time.Second})
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func newTestServer(t *testing.T, rl RateLimitConfig) (*Server, *manager.Manager) {
	t.Helper()
	m := manager.New()
	t.Cleanup(func() { m.StopAll(context.Background()) })

	s, err := New(Config{
		ListenAddr: "127.0.0.1:0",
		Pools:      m,
		Version:    "test",
		RateLimit:  rl,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Stop(context.Background()) })
	return s, m
}

func register(t *testing.T, m *manager.Manager, name string, minSize, maxSize int) *pool.Pool[int] {
	t.Helper()
	p := newIntPool(t, name, minSize, maxSize)
	if err := m.Register(context.Background(), name, p); err != nil {
		t.Fatalf("Register: %v", err)
	}
	return p
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func TestNewRequiresRegistry(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("expected error without a pool registry")
	}
}

func TestListPools(t *testing.T) {
	s, m := newTestServer(t, RateLimitConfig{})
	register(t, m, "db", 1, 4)
	register(t, m, "cache", 0, 2)

	w := do(s.Router(), http.MethodGet, "/api/pools", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	list := decode[rpc.PoolsListResult](t, w)
	if list.Total != 2 || list.Pools[0].Name != "cache" || list.Pools[1].CurrentSize != 1 {
		t.Errorf("unexpected list: %+v", list)
	}
}

func TestGetPool(t *testing.T) {
	s, m := newTestServer(t, RateLimitConfig{})
	register(t, m, "db", 2, 4)
	h := s.Router()

	tests := []struct {
		name       string
		path       string
		wantStatus int
	}{
		{"existing", "/api/pools/db", http.StatusOK},
		{"missing", "/api/pools/cache", http.StatusNotFound},
		{"invalid name", "/api/pools/9db", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(h, http.MethodGet, tt.path, "")
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusOK {
				detail := decode[PoolDetail](t, w)
				if detail.Stats.Name != "db" || len(detail.Resources) != 2 {
					t.Errorf("unexpected detail: %+v", detail)
				}
			}
		})
	}
}

func TestResizePool(t *testing.T) {
	s, m := newTestServer(t, RateLimitConfig{RequestsPerSecond: 100, BurstSize: 100})
	register(t, m, "db", 1, 4)
	h := s.Router()

	w := do(h, http.MethodPost, "/api/pools/db/resize", `{"min_size":3,"max_size":8}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body)
	}
	st := decode[pool.Stats](t, w)
	if st.MinSize != 3 || st.MaxSize != 8 || st.CurrentSize != 3 {
		t.Errorf("unexpected stats: %+v", st)
	}

	tests := []struct {
		name       string
		path       string
		body       string
		wantStatus int
	}{
		{"bad json", "/api/pools/db/resize", `{`, http.StatusBadRequest},
		{"max below min", "/api/pools/db/resize", `{"min_size":5,"max_size":2}`, http.StatusBadRequest},
		{"missing pool", "/api/pools/other/resize", `{"min_size":1,"max_size":2}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := do(h, http.MethodPost, tt.path, tt.body); w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}

	if w := do(h, http.MethodGet, "/api/pools/db/resize", ""); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET resize: status = %d, want 405", w.Code)
	}
}

func TestReapPool(t *testing.T) {
	s, m := newTestServer(t, RateLimitConfig{})
	register(t, m, "db", 1, 4)

	w := do(s.Router(), http.MethodPost, "/api/pools/db/reap", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	result := decode[rpc.CleanupResult](t, w)
	if result.Name != "db" || len(result.Errors) != 0 {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestMutatingRoutesAreRateLimited(t *testing.T) {
	s, m := newTestServer(t, RateLimitConfig{RequestsPerSecond: 0.001, BurstSize: 1})
	register(t, m, "db", 1, 4)
	h := s.Router()

	if w := do(h, http.MethodPost, "/api/pools/db/reap", ""); w.Code != http.StatusOK {
		t.Fatalf("first reap: status = %d", w.Code)
	}
	if w := do(h, http.MethodPost, "/api/pools/db/reap", ""); w.Code != http.StatusTooManyRequests {
		t.Errorf("second reap: status = %d, want 429", w.Code)
	}
	for i := 0; i < 3; i++ {
		if w := do(h, http.MethodGet, "/api/pools/db", ""); w.Code != http.StatusOK {
			t.Errorf("reads should not be limited, status = %d", w.Code)
		}
	}
}

func TestHealthProbes(t *testing.T) {
	s, m := newTestServer(t, RateLimitConfig{})
	h := s.Router()

	if w := do(h, http.MethodGet, "/healthz", ""); w.Code != http.StatusOK {
		t.Errorf("healthz: status = %d", w.Code)
	}

	w := do(h, http.MethodGet, "/readyz", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz without pools: status = %d, want 503", w.Code)
	}

	p := register(t, m, "db", 1, 2)
	if w := do(h, http.MethodGet, "/readyz", ""); w.Code != http.StatusOK {
		t.Errorf("readyz: status = %d, want 200", w.Code)
	}
	w = do(h, http.MethodGet, "/api/health", "")
	health := decode[HealthResponse](t, w)
	if w.Code != http.StatusOK || health.Status != "healthy" || health.Checks["db"] != "running" {
		t.Errorf("unexpected health: %d %+v", w.Code, health)
	}

	p.Stop(context.Background())
	w = do(h, http.MethodGet, "/readyz", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz with a closed pool: status = %d, want 503", w.Code)
	}
	if reason := decode[map[string]string](t, w)["reason"]; reason != "pool_closed" {
		t.Errorf("reason = %q", reason)
	}
	if w := do(h, http.MethodGet, "/api/health", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("health with a closed pool: status = %d, want 503", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s, m := newTestServer(t, RateLimitConfig{})
	register(t, m, "db", 1, 2)

	w := do(s.Router(), http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{"respool_pools_registered", `respool_pool_resources{pool="db"} 1`} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestSecurityHeaders(t *testing.T) {
	s, _ := newTestServer(t, RateLimitConfig{})
	w := do(s.Router(), http.MethodGet, "/healthz", "")
	if w.Header().Get("X-Content-Type-Options") != "nosniff" || w.Header().Get("X-Frame-Options") != "DENY" {
		t.Errorf("missing security headers: %v", w.Header())
	}
}

func TestServerStartStop(t *testing.T) {
	s, m := newTestServer(t, RateLimitConfig{})
	register(t, m, "db", 1, 2)

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Start(); err == nil {
		t.Error("expected error on double start")
	}

	resp, err := http.Get("http://" + s.Addr() + "/api/pools")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := s.Stop(ctx); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}

func TestStatusFromCode(t *testing.T) {
	if got := statusFromCode(0); got != http.StatusInternalServerError {
		t.Errorf("unknown code -> %d", got)
	}
}
