package validation

import (
	"testing"
)

func TestValidatePoolParam(t *testing.T) {
	tests := []struct {
		name    string
		pool    string
		wantErr bool
	}{
		{"valid", "db", false},
		{"empty", "", true},
		{"invalid chars", "db pool", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePoolParam(tt.pool)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePoolParam() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidatePoolsStatsParams(t *testing.T) {
	if err := ValidatePoolsStatsParams(""); err != nil {
		t.Errorf("empty name should select all pools, got %v", err)
	}
	if err := ValidatePoolsStatsParams("cache"); err != nil {
		t.Errorf("valid name rejected: %v", err)
	}
	if err := ValidatePoolsStatsParams("../etc"); err == nil {
		t.Error("invalid name should be rejected")
	}
}

func TestValidatePoolsResizeParams(t *testing.T) {
	tests := []struct {
		name     string
		pool     string
		min, max int
		wantErr  bool
	}{
		{"valid", "db", 2, 8, false},
		{"missing name", "", 2, 8, true},
		{"max below min", "db", 8, 2, true},
		{"negative min", "db", -1, 2, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePoolsResizeParams(tt.pool, tt.min, tt.max)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePoolsResizeParams() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
