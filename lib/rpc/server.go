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
	"path/filepath"
	"sync"
	"time"

	"github.com/go-i2p/respool/lib/metrics"
)

const (
	// MaxRequestSize is the maximum size of one request line (1MB).
	MaxRequestSize = 1024 * 1024

	// ReadTimeout is how long an idle connection may wait between requests.
	ReadTimeout = 10 * time.Second

	// WriteTimeout is the timeout for writing responses.
	WriteTimeout = 10 * time.Second

	// HandlerTimeout bounds a single handler invocation.
	HandlerTimeout = 30 * time.Second
)

// Handler is a function that handles an RPC request.
type Handler func(ctx context.Context, params json.RawMessage) (any, *Error)

// Server is a JSON-RPC 2.0 server speaking newline-delimited requests over
// a Unix socket and/or TCP. TCP clients must authenticate with the shared
// token before calling anything but "auth"; Unix socket clients are trusted
// through the socket's file permissions.
type Server struct {
	mu        sync.RWMutex
	handlers  map[string]Handler
	unix      net.Listener
	tcp       net.Listener
	authToken []byte
	limiter   *ConnectionLimiter
	sessions  map[*session]struct{}
	running   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// ServerConfig configures the RPC server.
type ServerConfig struct {
	// UnixSocketPath is the path to the Unix socket (required for Unix socket mode).
	UnixSocketPath string
	// TCPAddress is the TCP address to listen on (optional).
	TCPAddress string
	// AuthFile is the path to the auth token file. Without one, TCP clients
	// are not asked to authenticate.
	AuthFile string
	// MaxConnections is the maximum concurrent connections (0 = default of 100).
	MaxConnections int
}

// NewServer creates a server with the built-in "ping" method registered.
func NewServer(cfg ServerConfig) (*Server, error) {
	s := &Server{
		handlers: make(map[string]Handler),
		limiter:  NewConnectionLimiter(cfg.MaxConnections),
		sessions: make(map[*session]struct{}),
	}

	s.limiter.SetOnReject(func(addr net.Addr) {
		RPCRejectedTotal.Inc()
		log.WithField("remote", addr.String()).
			WithField("max", s.limiter.MaxConnections()).
			Warn("connection rejected: too many connections")
	})

	s.handlers["ping"] = func(ctx context.Context, params json.RawMessage) (any, *Error) {
		return &PingResult{Pong: true}, nil
	}

	if cfg.AuthFile != "" {
		token, err := loadOrCreateToken(cfg.AuthFile)
		if err != nil {
			return nil, fmt.Errorf("auth token: %w", err)
		}
		s.authToken = token
	}

	return s, nil
}

// RegisterHandler registers a handler for an RPC method.
func (s *Server) RegisterHandler(method string, handler Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = handler
}

// RegisterHandlers registers multiple handlers at once.
func (s *Server) RegisterHandlers(handlers map[string]Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for method, handler := range handlers {
		s.handlers[method] = handler
	}
}

// Start opens the configured listeners. Connections are served until Stop
// is called or ctx is cancelled.
func (s *Server) Start(ctx context.Context, cfg ServerConfig) error {
	if cfg.UnixSocketPath == "" && cfg.TCPAddress == "" {
		return errors.New("no listeners configured")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("server already running")
	}

	var unix, tcp net.Listener
	var err error
	if cfg.UnixSocketPath != "" {
		if unix, err = listenUnix(cfg.UnixSocketPath); err != nil {
			return err
		}
	}
	if cfg.TCPAddress != "" {
		if tcp, err = net.Listen("tcp", cfg.TCPAddress); err != nil {
			if unix != nil {
				unix.Close()
			}
			return fmt.Errorf("listen tcp: %w", err)
		}
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.unix, s.tcp = unix, tcp
	s.running = true

	for _, ln := range []net.Listener{unix, tcp} {
		if ln == nil {
			continue
		}
		s.wg.Add(1)
		go s.acceptLoop(ctx, ln)
		log.WithField("network", ln.Addr().Network()).
			WithField("address", ln.Addr().String()).
			Info("RPC server listening")
	}
	return nil
}

// listenUnix replaces any stale socket at path and restricts it to the owner.
func listenUnix(path string) (net.Listener, error) {
	os.Remove(path)

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating socket dir: %w", err)
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen unix: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		ln.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}
	return ln, nil
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) {
	defer s.wg.Done()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				log.WithField("network", ln.Addr().Network()).WithError(err).Error("accept error")
			}
			return
		}

		admitted, ok := s.limiter.Admit(conn)
		if !ok {
			continue
		}
		s.startSession(ctx, admitted, ln.Addr().Network())
	}
}

// session is the state of one client connection.
type session struct {
	conn    net.Conn
	scanner *bufio.Scanner
	network string
	remote  string
	authed  bool
}

func (s *Server) startSession(ctx context.Context, conn net.Conn, network string) {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxRequestSize)

	sess := &session{
		conn:    conn,
		scanner: scanner,
		network: network,
		remote:  conn.RemoteAddr().String(),
		// Only TCP clients authenticate, and only when a token is configured.
		authed: s.authToken == nil || network != "tcp",
	}

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.sessions[sess] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()
	RPCConnections.Inc()

	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.sessions, sess)
			s.mu.Unlock()
			RPCConnections.Dec()
			conn.Close()
		}()
		s.serve(ctx, sess)
	}()
}

// serve answers requests on sess until the client disconnects, a read
// times out, or ctx is cancelled.
func (s *Server) serve(ctx context.Context, sess *session) {
	log.WithField("network", sess.network).WithField("remote", sess.remote).Debug("new connection")

	for ctx.Err() == nil {
		if err := sess.conn.SetReadDeadline(time.Now().Add(ReadTimeout)); err != nil {
			return
		}
		if !sess.scanner.Scan() {
			if err := sess.scanner.Err(); errors.Is(err, bufio.ErrTooLong) {
				sess.send(NewErrorResponse(nil, NewError(ErrCodeInvalidRequest, "request too large", nil)))
			} else if err != nil && !errors.Is(err, net.ErrClosed) {
				log.WithField("remote", sess.remote).WithError(err).Debug("read error")
			}
			return
		}

		if resp := s.handleLine(ctx, sess, sess.scanner.Bytes()); resp != nil {
			sess.send(resp)
		}
	}
}

// handleLine decodes one request line and produces its response.
func (s *Server) handleLine(ctx context.Context, sess *session, line []byte) *Response {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		RPCRequestsTotal.Inc("invalid")
		return NewErrorResponse(nil, NewError(ErrCodeParse, "parse error", err.Error()))
	}
	if err := ValidateRequest(&req); err != nil {
		RPCRequestsTotal.Inc("invalid")
		return NewErrorResponse(req.ID, NewError(ErrCodeInvalidRequest, "invalid request", err.Error()))
	}

	if req.Method == "auth" {
		RPCRequestsTotal.Inc("auth")
		return s.handleAuth(sess, &req)
	}
	if !sess.authed {
		RPCRequestsTotal.Inc("unauthenticated")
		return NewErrorResponse(req.ID, ErrAuthRequired())
	}
	return s.dispatch(ctx, &req)
}

// handleAuth handles the "auth" method.
func (s *Server) handleAuth(sess *session, req *Request) *Response {
	if s.authToken == nil {
		sess.authed = true
		return s.success(req, map[string]string{"message": "authentication not required"})
	}
	if rpcErr := verifyToken(s.authToken, req.Params); rpcErr != nil {
		log.WithField("remote", sess.remote).Warn("RPC authentication failed")
		return NewErrorResponse(req.ID, rpcErr)
	}
	sess.authed = true
	return s.success(req, map[string]string{"message": "authenticated"})
}

// dispatch runs the handler registered for req.Method.
func (s *Server) dispatch(ctx context.Context, req *Request) *Response {
	s.mu.RLock()
	handler, ok := s.handlers[req.Method]
	s.mu.RUnlock()

	if !ok {
		RPCRequestsTotal.Inc("unknown")
		return NewErrorResponse(req.ID, ErrMethodNotFound(req.Method))
	}
	RPCRequestsTotal.Inc(req.Method)
	timer := metrics.NewTimer(RPCRequestDuration)
	defer timer.ObserveDuration()

	handlerCtx, cancel := context.WithTimeout(ctx, HandlerTimeout)
	defer cancel()

	result, rpcErr := s.callHandler(handlerCtx, handler, req)
	if rpcErr != nil {
		RPCErrorsTotal.Inc(req.Method)
		return NewErrorResponse(req.ID, rpcErr)
	}
	return s.success(req, result)
}

// callHandler runs handler, converting a panic into an internal error.
func (s *Server) callHandler(ctx context.Context, handler Handler, req *Request) (result any, rpcErr *Error) {
	defer func() {
		if rec := recover(); rec != nil {
			log.WithField("method", req.Method).WithField("panic", fmt.Sprint(rec)).Error("handler panic")
			result, rpcErr = nil, ErrInternal("handler failed")
		}
	}()
	return handler(ctx, req.Params)
}

// success builds a result response, falling back to an internal error if
// the result cannot be encoded.
func (s *Server) success(req *Request, result any) *Response {
	resp, err := NewSuccessResponse(req.ID, result)
	if err != nil {
		log.WithField("method", req.Method).WithError(err).Error("marshal result")
		return NewErrorResponse(req.ID, ErrInternal("unencodable result"))
	}
	return resp
}

// send writes resp as one line.
func (sess *session) send(resp *Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		log.WithError(err).Error("marshal response")
		return
	}
	data = append(data, '\n')

	if err := sess.conn.SetWriteDeadline(time.Now().Add(WriteTimeout)); err != nil {
		return
	}
	if _, err := sess.conn.Write(data); err != nil {
		log.WithField("remote", sess.remote).WithError(err).Debug("write error")
	}
}

// Stop closes the listeners and every open connection, then waits for
// in-flight handlers to return.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.cancel()
	for sess := range s.sessions {
		sess.conn.Close()
	}
	for _, ln := range []net.Listener{s.unix, s.tcp} {
		if ln != nil {
			ln.Close()
		}
	}
	s.mu.Unlock()

	s.wg.Wait()

	log.Info("RPC server stopped")
	return nil
}

// IsRunning returns whether the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// AuthToken returns the hex auth token, or "" when authentication is off.
func (s *Server) AuthToken() string {
	if s.authToken == nil {
		return ""
	}
	return hex.EncodeToString(s.authToken)
}

// UnixSocketPath returns the Unix socket path if listening.
func (s *Server) UnixSocketPath() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.unix == nil {
		return ""
	}
	return s.unix.Addr().String()
}

// TCPAddress returns the TCP address if listening.
func (s *Server) TCPAddress() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.tcp == nil {
		return ""
	}
	return s.tcp.Addr().String()
}

// ActiveConnections returns the current number of active connections.
func (s *Server) ActiveConnections() int {
	return s.limiter.ActiveConnections()
}

// MaxConnections returns the maximum allowed connections.
func (s *Server) MaxConnections() int {
	return s.limiter.MaxConnections()
}

// SetMaxConnections updates the maximum connection limit at runtime.
func (s *Server) SetMaxConnections(max int) {
	s.limiter.SetMaxConnections(max)
}
