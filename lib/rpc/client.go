package rpc

import (
	"bufio"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultClientTimeout bounds dialing and each call when no timeout is set.
const DefaultClientTimeout = 30 * time.Second

// ClientConfig configures the RPC client.
type ClientConfig struct {
	// UnixSocketPath is the path to the Unix socket.
	UnixSocketPath string
	// TCPAddress is the TCP address to connect to.
	TCPAddress string
	// AuthToken is the authentication token (hex-encoded).
	AuthToken string
	// AuthFile is the path to read the auth token from.
	AuthFile string
	// Timeout is the connection and request timeout.
	Timeout time.Duration
}

// wireConn is one connection speaking newline-delimited JSON-RPC.
type wireConn struct {
	conn   net.Conn
	reader *bufio.Reader
	nextID uint64
}

func dialWire(ctx context.Context, cfg ClientConfig) (*wireConn, error) {
	network, address := "unix", cfg.UnixSocketPath
	if address == "" {
		network, address = "tcp", cfg.TCPAddress
	}
	if address == "" {
		return nil, errors.New("no connection address specified")
	}

	d := net.Dialer{Timeout: cfg.Timeout}
	conn, err := d.DialContext(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", network, err)
	}
	return &wireConn{conn: conn, reader: bufio.NewReader(conn)}, nil
}

// deadline returns the earlier of ctx's deadline and now+timeout.
func deadline(ctx context.Context, timeout time.Duration) time.Time {
	d := time.Now().Add(timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(d) {
		return ctxDeadline
	}
	return d
}

// roundTrip sends one request and decodes its response into result.
// RPC errors are returned as *Error and leave the connection usable.
func (w *wireConn) roundTrip(ctx context.Context, timeout time.Duration, method string, params, result any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.nextID++

	req := Request{
		JSONRPC: "2.0",
		Method:  method,
		ID:      json.RawMessage(strconv.FormatUint(w.nextID, 10)),
	}
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("marshal params: %w", err)
		}
		req.Params = data
	}

	data, err := json.Marshal(&req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	data = append(data, '\n')

	if err := w.conn.SetDeadline(deadline(ctx, timeout)); err != nil {
		return fmt.Errorf("set deadline: %w", err)
	}
	if _, err := w.conn.Write(data); err != nil {
		return fmt.Errorf("write request: %w", err)
	}

	line, err := w.reader.ReadBytes('\n')
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	if resp.Error != nil {
		return resp.Error
	}
	if result == nil || len(resp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Result, result); err != nil {
		return fmt.Errorf("unmarshal result: %w", err)
	}
	return nil
}

func (w *wireConn) authenticate(ctx context.Context, timeout time.Duration, token []byte) error {
	params := map[string]string{"token": hex.EncodeToString(token)}
	return w.roundTrip(ctx, timeout, "auth", params, nil)
}

func (w *wireConn) Close() error {
	return w.conn.Close()
}

// loadAuthToken resolves the token from cfg, preferring AuthToken over
// AuthFile. It returns nil when neither is set.
func loadAuthToken(cfg ClientConfig) ([]byte, error) {
	if cfg.AuthToken != "" {
		token, err := hex.DecodeString(cfg.AuthToken)
		if err != nil {
			return nil, fmt.Errorf("invalid auth token: %w", err)
		}
		return token, nil
	}

	if cfg.AuthFile != "" {
		data, err := os.ReadFile(cfg.AuthFile)
		if err != nil {
			return nil, fmt.Errorf("reading auth file: %w", err)
		}
		token, err := hex.DecodeString(strings.TrimSpace(string(data)))
		if err != nil {
			return nil, fmt.Errorf("invalid auth token in file: %w", err)
		}
		return token, nil
	}

	return nil, nil
}

// Client is an RPC client over a single connection. Calls are serialized.
type Client struct {
	methods

	mu      sync.Mutex
	wire    *wireConn
	timeout time.Duration
}

// NewClient creates a new RPC client and connects to the server.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultClientTimeout
	}

	token, err := loadAuthToken(cfg)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	wire, err := dialWire(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if token != nil {
		if err := wire.authenticate(ctx, cfg.Timeout, token); err != nil {
			wire.Close()
			return nil, fmt.Errorf("authentication failed: %w", err)
		}
	}

	c := &Client{wire: wire, timeout: cfg.Timeout}
	c.methods = methods{call: c.Call}
	return c, nil
}

// Call makes an RPC call and unmarshals the result.
func (c *Client) Call(ctx context.Context, method string, params, result any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.wire.roundTrip(ctx, c.timeout, method, params, result)
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.wire.Close()
}

// methods holds the typed wrappers shared by Client and PooledClient.
type methods struct {
	call func(ctx context.Context, method string, params, result any) error
}

// Ping calls the "ping" method.
func (m methods) Ping(ctx context.Context) error {
	var result PingResult
	return m.call(ctx, "ping", nil, &result)
}

// Status calls the "status" method.
func (m methods) Status(ctx context.Context) (*StatusResult, error) {
	var result StatusResult
	if err := m.call(ctx, "status", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// PoolsList calls the "pools.list" method.
func (m methods) PoolsList(ctx context.Context) (*PoolsListResult, error) {
	var result PoolsListResult
	if err := m.call(ctx, "pools.list", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// PoolsStats calls the "pools.stats" method. An empty name returns all pools.
func (m methods) PoolsStats(ctx context.Context, name string) (*PoolsStatsResult, error) {
	var result PoolsStatsResult
	if err := m.call(ctx, "pools.stats", PoolsStatsParams{Name: name}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// PoolsResize calls the "pools.resize" method.
func (m methods) PoolsResize(ctx context.Context, name string, minSize, maxSize int) (*PoolsResizeResult, error) {
	params := PoolsResizeParams{Name: name, MinSize: minSize, MaxSize: maxSize}
	var result PoolsResizeResult
	if err := m.call(ctx, "pools.resize", params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// PoolsReap calls the "pools.reap" method.
func (m methods) PoolsReap(ctx context.Context, name string) (*CleanupResult, error) {
	var result CleanupResult
	if err := m.call(ctx, "pools.reap", PoolParams{Name: name}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// PoolsResources calls the "pools.resources" method.
func (m methods) PoolsResources(ctx context.Context, name string) (*PoolsResourcesResult, error) {
	var result PoolsResourcesResult
	if err := m.call(ctx, "pools.resources", PoolParams{Name: name}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// PoolsUnregister calls the "pools.unregister" method.
func (m methods) PoolsUnregister(ctx context.Context, name string) (*CleanupResult, error) {
	var result CleanupResult
	if err := m.call(ctx, "pools.unregister", PoolParams{Name: name}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
