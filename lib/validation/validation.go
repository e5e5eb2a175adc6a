// Package validation checks configuration values and API parameters.
// Failures are *FieldError values wrapping one of the sentinel errors
// below, so callers can match them with errors.Is and return the message
// to clients unchanged.
package validation

import (
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

var (
	ErrRequired        = errors.New("field is required")
	ErrTooLong         = errors.New("value exceeds maximum length")
	ErrInvalidFormat   = errors.New("invalid format")
	ErrOutOfRange      = errors.New("value out of range")
	ErrInvalidDuration = errors.New("invalid duration")
)

const (
	// MaxPoolNameLength is the maximum length for pool names.
	MaxPoolNameLength = 64

	// MaxPoolSize caps max_size for pools created or resized over the API.
	MaxPoolSize = 10000

	// MaxDuration is the maximum for configured pool durations (1 day).
	MaxDuration = 24 * time.Hour
)

// Pool names appear in URLs and metric labels.
var poolNamePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_.-]*$`)

// FieldError reports an invalid field.
type FieldError struct {
	Field   string
	Message string
	Err     error
}

// Fieldf builds a FieldError wrapping sentinel.
func Fieldf(field string, sentinel error, format string, args ...any) *FieldError {
	return &FieldError{Field: field, Message: fmt.Sprintf(format, args...), Err: sentinel}
}

func (e *FieldError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func (e *FieldError) Unwrap() error { return e.Err }

// Required rejects empty or all-whitespace strings.
func Required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return Fieldf(field, ErrRequired, "is required")
	}
	return nil
}

// MaxLength rejects strings longer than limit runes.
func MaxLength(field, value string, limit int) error {
	if utf8.RuneCountInString(value) > limit {
		return Fieldf(field, ErrTooLong, "exceeds maximum length of %d characters", limit)
	}
	return nil
}

// IntRange rejects values outside [lo, hi].
func IntRange(field string, value, lo, hi int) error {
	if value < lo || value > hi {
		return Fieldf(field, ErrOutOfRange, "must be between %d and %d", lo, hi)
	}
	return nil
}

// Positive rejects values below one.
func Positive(field string, value int) error {
	if value <= 0 {
		return Fieldf(field, ErrOutOfRange, "must be positive")
	}
	return nil
}

// Duration parses a duration string. An empty string yields zero, which
// disables whatever the duration controls.
func Duration(field, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	switch {
	case err != nil:
		return 0, Fieldf(field, ErrInvalidDuration, "invalid duration format")
	case d < 0:
		return 0, Fieldf(field, ErrOutOfRange, "duration cannot be negative")
	case d > MaxDuration:
		return 0, Fieldf(field, ErrOutOfRange, "must not exceed %s", MaxDuration)
	}
	return d, nil
}

// PoolName validates a pool name.
func PoolName(field, value string) error {
	if err := Required(field, value); err != nil {
		return err
	}
	if err := MaxLength(field, value, MaxPoolNameLength); err != nil {
		return err
	}
	if !poolNamePattern.MatchString(value) {
		return Fieldf(field, ErrInvalidFormat,
			"must start with a letter and contain only letters, numbers, dots, dashes, and underscores")
	}
	return nil
}

// PoolSizes validates a min/max pair.
func PoolSizes(minSize, maxSize int) error {
	if err := IntRange("min_size", minSize, 0, MaxPoolSize); err != nil {
		return err
	}
	if err := IntRange("max_size", maxSize, 1, MaxPoolSize); err != nil {
		return err
	}
	if maxSize < minSize {
		return Fieldf("max_size", ErrOutOfRange, "must be greater than or equal to min_size")
	}
	return nil
}

// HostPort validates a host:port address.
func HostPort(field, value string) error {
	if err := Required(field, value); err != nil {
		return err
	}
	if _, _, err := net.SplitHostPort(value); err != nil {
		return Fieldf(field, ErrInvalidFormat, "must be in host:port format")
	}
	return nil
}

// Errors accumulates failures so every invalid field is reported at once.
type Errors []error

// Add records err unless it is nil.
func (e *Errors) Add(err error) {
	if err != nil {
		*e = append(*e, err)
	}
}

// Err returns nil when nothing was recorded, the lone failure when there
// is one, and e otherwise.
func (e Errors) Err() error {
	switch len(e) {
	case 0:
		return nil
	case 1:
		return e[0]
	}
	return e
}

func (e Errors) Error() string {
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("%d validation errors: %s", len(e), strings.Join(msgs, "; "))
}

func (e Errors) Unwrap() []error { return e }
