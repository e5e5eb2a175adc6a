// Package rpc provides JSON-RPC over Unix socket and TCP for respool.
// It exposes pool listing, statistics, resizing, reaping, and removal to
// the CLI, the TUI, and other local tooling.
package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/go-i2p/respool/lib/errors"
	"github.com/go-i2p/respool/lib/pool"
)

// Protocol version for compatibility checking.
const ProtocolVersion = "1.0"

// Error codes follow JSON-RPC 2.0 and share values with lib/errors.
const (
	ErrCodeParse            = apperrors.CodeParseError
	ErrCodeInvalidRequest   = apperrors.CodeInvalidRequest
	ErrCodeMethodNotFound   = apperrors.CodeMethodNotFound
	ErrCodeInvalidParams    = apperrors.CodeInvalidParams
	ErrCodeInternal         = apperrors.CodeInternal
	ErrCodeAuthRequired     = apperrors.CodeAuthRequired
	ErrCodePermissionDenied = apperrors.CodePermissionDenied
	ErrCodeNotFound         = apperrors.CodeNotFound
)

// Request represents a JSON-RPC request.
type Request struct {
	// JSONRPC must be "2.0"
	JSONRPC string `json:"jsonrpc"`
	// Method is the RPC method name
	Method string `json:"method"`
	// Params are the method parameters
	Params json.RawMessage `json:"params,omitempty"`
	// ID is the request identifier (can be string or number)
	ID json.RawMessage `json:"id,omitempty"`
}

// Response represents a JSON-RPC response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
}

// Error represents a JSON-RPC error.
type Error struct {
	// Code is the error code
	Code int `json:"code"`
	// Message is a short description
	Message string `json:"message"`
	// Data contains additional information
	Data any `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("%s (code %d): %v", e.Message, e.Code, e.Data)
	}
	return fmt.Sprintf("%s (code %d)", e.Message, e.Code)
}

// Is matches sentinels from lib/errors by code, so callers on the client
// side can use errors.Is(err, apperrors.ErrNotFound).
func (e *Error) Is(target error) bool {
	code := apperrors.CodeFromError(target)
	return code != ErrCodeInternal && code == e.Code
}

// NewError creates a new Error with the given code and message.
func NewError(code int, message string, data any) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// FromError converts a domain error into an RPC error with a code derived
// from the lib/errors sentinel it wraps.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	se := apperrors.FromSentinel(err)
	return NewError(se.Code, se.Message, nil)
}

// NewErrorResponse creates a Response with an error.
func NewErrorResponse(id json.RawMessage, err *Error) *Response {
	return &Response{
		JSONRPC: "2.0",
		Error:   err,
		ID:      id,
	}
}

// NewSuccessResponse creates a Response with a result.
func NewSuccessResponse(id json.RawMessage, result any) (*Response, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	return &Response{
		JSONRPC: "2.0",
		Result:  data,
		ID:      id,
	}, nil
}

// ValidateRequest checks that a Request is valid JSON-RPC 2.0.
func ValidateRequest(req *Request) error {
	if req.JSONRPC != "2.0" {
		return errors.New("jsonrpc must be \"2.0\"")
	}
	if req.Method == "" {
		return errors.New("method is required")
	}
	return nil
}

// ErrMethodNotFound returns a method not found error.
func ErrMethodNotFound(method string) *Error {
	return NewError(ErrCodeMethodNotFound, "method not found", method)
}

// ErrInvalidParams returns an invalid parameters error.
func ErrInvalidParams(details string) *Error {
	return NewError(ErrCodeInvalidParams, "invalid params", details)
}

// ErrInternal returns an internal error.
func ErrInternal(details string) *Error {
	return NewError(ErrCodeInternal, "internal error", details)
}

// ErrAuthRequired returns an authentication required error.
func ErrAuthRequired() *Error {
	return NewError(ErrCodeAuthRequired, "authentication required", nil)
}

// ErrPermissionDenied returns a permission denied error.
func ErrPermissionDenied(details string) *Error {
	return NewError(ErrCodePermissionDenied, "permission denied", details)
}

// ---- Request/Response types for each RPC method ----

// PingResult is the response for "ping".
type PingResult struct {
	Pong bool `json:"pong"`
}

// StatusResult is the response for "status".
type StatusResult struct {
	// Version is the software version
	Version string `json:"version"`
	// StartedAt is when the daemon started
	StartedAt time.Time `json:"started_at"`
	// Uptime is a human readable uptime
	Uptime string `json:"uptime"`
	// Pools is the number of registered pools
	Pools int `json:"pools"`
	// Resources is the number of live resources across all pools
	Resources int `json:"resources"`
	// InUse is the number of resources currently lent out
	InUse int `json:"in_use"`
	// Waiters is the number of callers blocked in Acquire
	Waiters int `json:"waiters"`
}

// PoolSummary is one row of "pools.list".
type PoolSummary struct {
	Name        string `json:"name"`
	State       string `json:"state"`
	MinSize     int    `json:"min_size"`
	MaxSize     int    `json:"max_size"`
	CurrentSize int    `json:"current_size"`
	ActiveSize  int    `json:"active_size"`
	IdleSize    int    `json:"idle_size"`
}

// PoolsListResult is the response for "pools.list".
type PoolsListResult struct {
	Pools []PoolSummary `json:"pools"`
	Total int           `json:"total"`
}

// PoolParams names a single pool.
type PoolParams struct {
	Name string `json:"name"`
}

// PoolsStatsParams is the request for "pools.stats". An empty name
// selects every pool.
type PoolsStatsParams struct {
	Name string `json:"name,omitempty"`
}

// PoolsStatsResult is the response for "pools.stats", keyed by pool name.
type PoolsStatsResult struct {
	Pools map[string]pool.Stats `json:"pools"`
}

// PoolsResizeParams is the request for "pools.resize".
type PoolsResizeParams struct {
	Name    string `json:"name"`
	MinSize int    `json:"min_size"`
	MaxSize int    `json:"max_size"`
}

// PoolsResizeResult is the response for "pools.resize".
type PoolsResizeResult struct {
	Stats pool.Stats `json:"stats"`
}

// CleanupResult is the response for "pools.reap" and "pools.unregister".
type CleanupResult struct {
	Name      string   `json:"name"`
	Destroyed int      `json:"destroyed"`
	Errors    []string `json:"errors,omitempty"`
}

// PoolsResourcesResult is the response for "pools.resources".
type PoolsResourcesResult struct {
	Name      string              `json:"name"`
	Resources []pool.ResourceInfo `json:"resources"`
}

func newCleanupResult(name string, report apperrors.CleanupReport) *CleanupResult {
	return &CleanupResult{
		Name:      name,
		Destroyed: report.Destroyed,
		Errors:    report.Messages(),
	}
}
