// Package errors defines the pool error taxonomy and the numeric codes
// used when errors cross the RPC and HTTP boundaries. Sentinels are matched
// with errors.Is; messages are safe to hand to clients.
//
// CleanupReport collects closer and validator failures from teardown paths
// that must not stop at the first error.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// JSON-RPC 2.0 codes, plus application codes in -32000..-32099.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternal       = -32603

	CodeAuthRequired     = -32001
	CodePermissionDenied = -32002
	CodeNotFound         = -32003 // no such pool
	CodeRateLimited      = -32004
	CodeTimeout          = -32005 // acquire deadline passed
	CodeConflict         = -32006 // pool name taken
	CodeUnavailable      = -32007 // circuit open, queue full
	CodeValidation       = -32008
	CodeCreation         = -32009 // factory failed
	CodeState            = -32010 // pool not running
)

var (
	ErrTimeout       = errors.New("acquire timed out")
	ErrNotRunning    = errors.New("pool not running")
	ErrInvalidConfig = errors.New("invalid pool configuration")
	ErrCreation      = errors.New("resource creation failed")
	ErrCleanup       = errors.New("resource cleanup failed")
	ErrClosed        = errors.New("pool closed")
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalidInput  = errors.New("invalid input")
	ErrUnavailable   = errors.New("service unavailable")

	// ErrCircuitOpen and ErrQueueFull both match ErrUnavailable.
	ErrCircuitOpen = fmt.Errorf("circuit breaker is open: %w", ErrUnavailable)
	ErrQueueFull   = fmt.Errorf("task queue full: %w", ErrUnavailable)
)

// codes maps sentinels to wire codes. Order matters: the first match wins.
var codes = []struct {
	err  error
	code int
}{
	{ErrNotFound, CodeNotFound},
	{ErrAlreadyExists, CodeConflict},
	{ErrTimeout, CodeTimeout},
	{ErrInvalidConfig, CodeValidation},
	{ErrInvalidInput, CodeInvalidParams},
	{ErrNotRunning, CodeState},
	{ErrClosed, CodeState},
	{ErrCreation, CodeCreation},
	{ErrUnavailable, CodeUnavailable},
}

// Error is an error with a wire code. Only Message is sent to clients.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// New returns an Error with no cause.
func New(code int, message string) *Error {
	return &Error{Code: code, Message: message}
}

// FromSentinel converts err for the wire. An *Error anywhere in the chain
// is returned as is; otherwise the code comes from CodeFromError.
func FromSentinel(err error) *Error {
	if err == nil {
		return nil
	}
	var structured *Error
	if errors.As(err, &structured) {
		return structured
	}
	return &Error{Code: CodeFromError(err), Message: err.Error(), Err: err}
}

// CodeFromError returns the code of the first sentinel in err's tree, or
// CodeInternal.
func CodeFromError(err error) int {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}

// CleanupError records a single failed closer or validator invocation.
type CleanupError struct {
	// Resource identifies the pooled resource.
	Resource string `json:"resource"`
	// Op is "close" or "validate".
	Op string `json:"op"`
	// Err is the callback error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e CleanupError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Resource, e.Err)
}

// Unwrap lets errors.Is match both ErrCleanup and the callback error.
func (e CleanupError) Unwrap() []error {
	return []error{ErrCleanup, e.Err}
}

// CleanupReport aggregates cleanup diagnostics from a stop or reap pass.
// The zero value is an empty report.
type CleanupReport struct {
	// Destroyed is the number of resources destroyed during the pass.
	Destroyed int `json:"destroyed"`
	// Errors holds every closer/validator failure observed.
	Errors []CleanupError `json:"errors,omitempty"`
}

// Add records a cleanup failure. A nil err is ignored.
func (r *CleanupReport) Add(resource, op string, err error) {
	if err == nil {
		return
	}
	r.Errors = append(r.Errors, CleanupError{Resource: resource, Op: op, Err: err})
}

// Merge appends the contents of other to r.
func (r *CleanupReport) Merge(other CleanupReport) {
	r.Destroyed += other.Destroyed
	r.Errors = append(r.Errors, other.Errors...)
}

// OK reports whether the pass finished without callback failures.
func (r CleanupReport) OK() bool {
	return len(r.Errors) == 0
}

// Err joins all recorded failures, or returns nil for a clean report.
func (r CleanupReport) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	errs := make([]error, len(r.Errors))
	for i, e := range r.Errors {
		errs[i] = e
	}
	return errors.Join(errs...)
}

// Messages returns the failures as strings, for JSON responses.
func (r CleanupReport) Messages() []string {
	out := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		out = append(out, e.Error())
	}
	return out
}

// String summarizes the report.
func (r CleanupReport) String() string {
	if r.OK() {
		return fmt.Sprintf("destroyed=%d", r.Destroyed)
	}
	return fmt.Sprintf("destroyed=%d errors=[%s]", r.Destroyed, strings.Join(r.Messages(), "; "))
}
