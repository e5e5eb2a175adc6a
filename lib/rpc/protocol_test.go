package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	apperrors "github.com/go-i2p/respool/lib/errors"
)

func TestValidateRequest(t *testing.T) {
	tests := []struct {
		name    string
		req     Request
		wantErr bool
	}{
		{"valid", Request{JSONRPC: "2.0", Method: "status"}, false},
		{"wrong version", Request{JSONRPC: "1.0", Method: "status"}, true},
		{"missing method", Request{JSONRPC: "2.0"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRequest(&tt.req)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateRequest() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestFromError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{"not found", fmt.Errorf("pool %q: %w", "db", apperrors.ErrNotFound), ErrCodeNotFound},
		{"conflict", fmt.Errorf("pool %q: %w", "db", apperrors.ErrAlreadyExists), apperrors.CodeConflict},
		{"invalid config", fmt.Errorf("%w: max_size", apperrors.ErrInvalidConfig), apperrors.CodeValidation},
		{"not running", apperrors.ErrNotRunning, apperrors.CodeState},
		{"circuit open", apperrors.ErrCircuitOpen, apperrors.CodeUnavailable},
		{"unknown", errors.New("boom"), ErrCodeInternal},
		{"structured", apperrors.New(apperrors.CodeTimeout, "too slow"), apperrors.CodeTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rpcErr := FromError(tt.err)
			if rpcErr.Code != tt.wantCode {
				t.Errorf("Code = %d, want %d", rpcErr.Code, tt.wantCode)
			}
		})
	}

	if FromError(nil) != nil {
		t.Error("FromError(nil) should be nil")
	}

	original := ErrMethodNotFound("x")
	if FromError(fmt.Errorf("wrapped: %w", original)) != original {
		t.Error("an *Error in the chain should be returned as is")
	}
}

func TestErrorIs(t *testing.T) {
	notFound := NewError(ErrCodeNotFound, "not found", nil)
	if !errors.Is(notFound, apperrors.ErrNotFound) {
		t.Error("not found code should match ErrNotFound")
	}
	if errors.Is(notFound, apperrors.ErrTimeout) {
		t.Error("not found code should not match ErrTimeout")
	}

	internal := ErrInternal("x")
	if errors.Is(internal, errors.New("anything")) {
		t.Error("internal errors must not match arbitrary errors")
	}

	// Round trip over JSON, as a client sees it.
	data, err := json.Marshal(NewErrorResponse(json.RawMessage(`1`), FromError(apperrors.ErrCircuitOpen)))
	if err != nil {
		t.Fatal(err)
	}
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		t.Fatal(err)
	}
	if !errors.Is(resp.Error, apperrors.ErrUnavailable) {
		t.Errorf("decoded error %v should match ErrUnavailable", resp.Error)
	}
}

func TestErrorString(t *testing.T) {
	if got := NewError(ErrCodeInvalidParams, "invalid params", "name").Error(); got != "invalid params (code -32602): name" {
		t.Errorf("Error() = %q", got)
	}
	if got := ErrAuthRequired().Error(); got != "authentication required (code -32001)" {
		t.Errorf("Error() = %q", got)
	}
}

func TestNewSuccessResponse(t *testing.T) {
	resp, err := NewSuccessResponse(json.RawMessage(`"a"`), &PingResult{Pong: true})
	if err != nil {
		t.Fatalf("NewSuccessResponse: %v", err)
	}
	if string(resp.Result) != `{"pong":true}` || string(resp.ID) != `"a"` || resp.JSONRPC != "2.0" {
		t.Errorf("unexpected response: %+v", resp)
	}

	if _, err := NewSuccessResponse(nil, make(chan int)); err == nil {
		t.Error("unencodable result should fail")
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"42s", "42s"},
		{"3m5s", "3m 5s"},
		{"2h10m", "2h 10m"},
		{"50h", "2d 2h 0m"},
	}
	for _, tt := range tests {
		d, err := time.ParseDuration(tt.in)
		if err != nil {
			t.Fatal(err)
		}
		if got := formatDuration(d); got != tt.want {
			t.Errorf("formatDuration(%s) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
