package rpc

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	apperrors "github.com/go-i2p/respool/lib/errors"
	"github.com/go-i2p/respool/lib/manager"
	"github.com/go-i2p/respool/lib/pool"
)

func newIntPool(t *testing.T, name string, minSize, maxSize int) *pool.Pool[int] {
	t.Helper()
	var counter atomic.Int32
	p, err := pool.New(name, func(ctx context.Context) (int, error) {
		return int(counter.Add(1)), nil
	}, pool.Config{
		MinSize:        minSize,
		MaxSize:        maxSize,
		AcquireTimeout: time.Second,
		StopTimeout:    time.Second,
	})
	if err != nil {
		t.Fatalf("pool.New: %v", err)
	}
	return p
}

// startTestServer runs a server with the pool handlers over a manager
// holding a "db" pool (min 1, max 4) and a "cache" pool (min 0, max 2).
func startTestServer(t *testing.T, cfg ServerConfig) (*Server, *manager.Manager) {
	t.Helper()

	m := manager.New()
	for name, sizes := range map[string][2]int{"db": {1, 4}, "cache": {0, 2}} {
		if err := m.Register(context.Background(), name, newIntPool(t, name, sizes[0], sizes[1])); err != nil {
			t.Fatalf("Register %s: %v", name, err)
		}
	}
	t.Cleanup(func() { m.StopAll(context.Background()) })

	s, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	NewHandlers(HandlersConfig{Pools: m, Version: "test"}).RegisterAll(s)

	if err := s.Start(context.Background(), cfg); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { s.Stop() })
	return s, m
}

func unixConfig(t *testing.T) ServerConfig {
	return ServerConfig{UnixSocketPath: filepath.Join(t.TempDir(), "s.sock")}
}

func TestNewServer(t *testing.T) {
	t.Run("without auth file", func(t *testing.T) {
		s, err := NewServer(ServerConfig{})
		if err != nil {
			t.Fatalf("NewServer: %v", err)
		}
		if s.AuthToken() != "" {
			t.Error("expected no auth token")
		}
	})

	t.Run("with auth file", func(t *testing.T) {
		authFile := filepath.Join(t.TempDir(), "auth", "rpc.auth")

		s, err := NewServer(ServerConfig{AuthFile: authFile})
		if err != nil {
			t.Fatalf("NewServer: %v", err)
		}

		token := s.AuthToken()
		if len(token) != AuthTokenLength*2 {
			t.Errorf("expected token length %d, got %d", AuthTokenLength*2, len(token))
		}

		data, err := os.ReadFile(authFile)
		if err != nil {
			t.Fatalf("reading auth file: %v", err)
		}
		if string(data) != token {
			t.Error("auth file content mismatch")
		}
		info, err := os.Stat(authFile)
		if err != nil {
			t.Fatal(err)
		}
		if info.Mode().Perm() != 0o600 {
			t.Errorf("auth file mode = %o, want 600", info.Mode().Perm())
		}
	})

	t.Run("loads existing auth file", func(t *testing.T) {
		authFile := filepath.Join(t.TempDir(), "rpc.auth")
		expected := make([]byte, AuthTokenLength)
		for i := range expected {
			expected[i] = byte(i)
		}
		if err := os.WriteFile(authFile, []byte(hex.EncodeToString(expected)), 0o600); err != nil {
			t.Fatal(err)
		}

		s, err := NewServer(ServerConfig{AuthFile: authFile})
		if err != nil {
			t.Fatalf("NewServer: %v", err)
		}
		if s.AuthToken() != hex.EncodeToString(expected) {
			t.Error("auth token mismatch")
		}
	})

	t.Run("regenerates invalid auth file", func(t *testing.T) {
		authFile := filepath.Join(t.TempDir(), "rpc.auth")
		if err := os.WriteFile(authFile, []byte("not-hex"), 0o600); err != nil {
			t.Fatal(err)
		}

		s, err := NewServer(ServerConfig{AuthFile: authFile})
		if err != nil {
			t.Fatalf("NewServer: %v", err)
		}
		if len(s.AuthToken()) != AuthTokenLength*2 {
			t.Error("expected a regenerated token")
		}
	})
}

func TestServerStartStop(t *testing.T) {
	cfg := unixConfig(t)
	s, err := NewServer(cfg)
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Start(context.Background(), cfg); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !s.IsRunning() {
		t.Error("server should be running")
	}
	if _, err := os.Stat(cfg.UnixSocketPath); err != nil {
		t.Errorf("socket file not found: %v", err)
	}
	if err := s.Start(context.Background(), cfg); err == nil {
		t.Error("expected error on double start")
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if s.IsRunning() {
		t.Error("server should not be running")
	}
	if err := s.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}

func TestServerStartNoListeners(t *testing.T) {
	s, err := NewServer(ServerConfig{})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Start(context.Background(), ServerConfig{}); err == nil {
		t.Error("expected error when starting without listeners")
	}
	if s.IsRunning() {
		t.Error("failed start should not leave the server running")
	}
}

func TestServerStopClosesIdleConnections(t *testing.T) {
	cfg := unixConfig(t)
	s, _ := startTestServer(t, cfg)

	client, err := NewClient(ClientConfig{UnixSocketPath: cfg.UnixSocketPath, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer client.Close()
	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop blocked on an idle client connection")
	}
}

func TestServerDispatch(t *testing.T) {
	s, err := NewServer(ServerConfig{})
	if err != nil {
		t.Fatal(err)
	}
	s.RegisterHandler("echo", func(ctx context.Context, params json.RawMessage) (any, *Error) {
		var p map[string]string
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, ErrInvalidParams(err.Error())
		}
		return p, nil
	})
	s.RegisterHandler("boom", func(ctx context.Context, params json.RawMessage) (any, *Error) {
		panic("handler bug")
	})

	resp := s.dispatch(context.Background(), &Request{
		JSONRPC: "2.0",
		Method:  "echo",
		Params:  json.RawMessage(`{"msg":"hello"}`),
		ID:      json.RawMessage(`1`),
	})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}
	if string(resp.Result) != `{"msg":"hello"}` {
		t.Errorf("Result = %s", resp.Result)
	}

	resp = s.dispatch(context.Background(), &Request{JSONRPC: "2.0", Method: "missing", ID: json.RawMessage(`2`)})
	if resp.Error == nil || resp.Error.Code != ErrCodeMethodNotFound {
		t.Errorf("expected method not found, got %+v", resp.Error)
	}

	resp = s.dispatch(context.Background(), &Request{JSONRPC: "2.0", Method: "boom", ID: json.RawMessage(`3`)})
	if resp.Error == nil || resp.Error.Code != ErrCodeInternal {
		t.Errorf("panicking handler should yield internal error, got %+v", resp.Error)
	}

	resp = s.dispatch(context.Background(), &Request{JSONRPC: "2.0", Method: "ping", ID: json.RawMessage(`4`)})
	if resp.Error != nil || !strings.Contains(string(resp.Result), `"pong":true`) {
		t.Errorf("ping should be built in, got %s / %v", resp.Result, resp.Error)
	}
}

func TestServerHandleAuth(t *testing.T) {
	s, err := NewServer(ServerConfig{AuthFile: filepath.Join(t.TempDir(), "rpc.auth")})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		params   string
		wantCode int
		wantAuth bool
	}{
		{"valid token", `{"token":"` + s.AuthToken() + `"}`, 0, true},
		{"wrong token", `{"token":"` + strings.Repeat("00", AuthTokenLength) + `"}`, ErrCodePermissionDenied, false},
		{"not hex", `{"token":"zz"}`, ErrCodeInvalidParams, false},
		{"bad json", `[`, ErrCodeInvalidParams, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess := &session{network: "tcp", remote: "test"}
			resp := s.handleAuth(sess, &Request{
				JSONRPC: "2.0",
				Method:  "auth",
				Params:  json.RawMessage(tt.params),
			})

			if tt.wantCode == 0 && resp.Error != nil {
				t.Errorf("unexpected error: %v", resp.Error)
			}
			if tt.wantCode != 0 && (resp.Error == nil || resp.Error.Code != tt.wantCode) {
				t.Errorf("error = %+v, want code %d", resp.Error, tt.wantCode)
			}
			if sess.authed != tt.wantAuth {
				t.Errorf("authed = %v, want %v", sess.authed, tt.wantAuth)
			}
		})
	}
}

func TestServerRejectsOversizedRequest(t *testing.T) {
	cfg := unixConfig(t)
	startTestServer(t, cfg)

	conn, err := net.Dial("unix", cfg.UnixSocketPath)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	go func() {
		line := append([]byte(`{"jsonrpc":"2.0","method":"ping","params":"`), bytes.Repeat([]byte("x"), MaxRequestSize)...)
		conn.Write(append(line, '"', '}', '\n'))
	}()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != ErrCodeInvalidRequest {
		t.Errorf("error = %+v, want invalid request", resp.Error)
	}
}

func TestDispatchCountsByMethod(t *testing.T) {
	s, err := NewServer(ServerConfig{})
	if err != nil {
		t.Fatal(err)
	}
	before := RPCRequestsTotal.Value("ping")
	resp := s.dispatch(context.Background(), &Request{JSONRPC: "2.0", Method: "ping", ID: json.RawMessage("1")})
	if resp.Error != nil {
		t.Fatalf("ping: %v", resp.Error)
	}
	if got := RPCRequestsTotal.Value("ping"); got != before+1 {
		t.Errorf("ping count = %d, want %d", got, before+1)
	}
}

func TestIntegrationTCPRequiresAuth(t *testing.T) {
	authFile := filepath.Join(t.TempDir(), "rpc.auth")
	cfg := ServerConfig{TCPAddress: "127.0.0.1:0", AuthFile: authFile}
	s, _ := startTestServer(t, cfg)

	client, err := NewClient(ClientConfig{TCPAddress: s.TCPAddress(), AuthFile: authFile, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("NewClient with token: %v", err)
	}
	defer client.Close()
	if _, err := client.Status(context.Background()); err != nil {
		t.Errorf("Status: %v", err)
	}

	anon, err := NewClient(ClientConfig{TCPAddress: s.TCPAddress(), Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("NewClient without token: %v", err)
	}
	defer anon.Close()
	_, err = anon.Status(context.Background())
	var rpcErr *Error
	if !errors.As(err, &rpcErr) || rpcErr.Code != ErrCodeAuthRequired {
		t.Errorf("expected auth required, got %v", err)
	}

	badToken := strings.Repeat("ab", AuthTokenLength)
	if _, err := NewClient(ClientConfig{TCPAddress: s.TCPAddress(), AuthToken: badToken, Timeout: 5 * time.Second}); err == nil {
		t.Error("wrong token should fail authentication")
	}
}

func TestIntegrationPoolMethods(t *testing.T) {
	cfg := unixConfig(t)
	_, m := startTestServer(t, cfg)

	client, err := NewClient(ClientConfig{UnixSocketPath: cfg.UnixSocketPath, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer client.Close()
	ctx := context.Background()

	status, err := client.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Pools != 2 || status.Resources != 1 || status.Version != "test" {
		t.Errorf("unexpected status: %+v", status)
	}

	list, err := client.PoolsList(ctx)
	if err != nil {
		t.Fatalf("PoolsList: %v", err)
	}
	if list.Total != 2 || list.Pools[0].Name != "cache" || list.Pools[1].Name != "db" {
		t.Errorf("unexpected list: %+v", list)
	}

	stats, err := client.PoolsStats(ctx, "")
	if err != nil {
		t.Fatalf("PoolsStats: %v", err)
	}
	if len(stats.Pools) != 2 || stats.Pools["db"].CurrentSize != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}

	_, err = client.PoolsStats(ctx, "missing")
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	resized, err := client.PoolsResize(ctx, "db", 2, 6)
	if err != nil {
		t.Fatalf("PoolsResize: %v", err)
	}
	if resized.Stats.MaxSize != 6 || resized.Stats.CurrentSize != 2 {
		t.Errorf("unexpected resize result: %+v", resized.Stats)
	}
	_, err = client.PoolsResize(ctx, "db", 5, 1)
	if !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Errorf("expected invalid params, got %v", err)
	}

	res, err := client.PoolsResources(ctx, "db")
	if err != nil {
		t.Fatalf("PoolsResources: %v", err)
	}
	if len(res.Resources) != 2 || res.Resources[0].ID == "" {
		t.Errorf("unexpected resources: %+v", res)
	}

	reaped, err := client.PoolsReap(ctx, "db")
	if err != nil {
		t.Fatalf("PoolsReap: %v", err)
	}
	if len(reaped.Errors) != 0 {
		t.Errorf("unexpected cleanup errors: %v", reaped.Errors)
	}

	removed, err := client.PoolsUnregister(ctx, "db")
	if err != nil {
		t.Fatalf("PoolsUnregister: %v", err)
	}
	if removed.Destroyed != 2 {
		t.Errorf("Destroyed = %d, want 2", removed.Destroyed)
	}
	if m.Len() != 1 {
		t.Errorf("manager should hold one pool, has %d", m.Len())
	}

	if _, err := client.PoolsReap(ctx, ""); !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Errorf("empty name should be rejected, got %v", err)
	}
}
