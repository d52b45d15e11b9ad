package repositories

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a storage failure.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindNotFound
	KindConflict
	KindUnavailable
)

// StoreError is the RepositoryError used by the memory and Postgres backends.
type StoreError struct {
	Op   string
	Kind ErrorKind
	Err  error
}

var _ RepositoryError = (*StoreError)(nil)

func (e *StoreError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return e.Op
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *StoreError) IsNotFound() bool    { return e != nil && e.Kind == KindNotFound }
func (e *StoreError) IsConflict() bool    { return e != nil && e.Kind == KindConflict }
func (e *StoreError) IsUnavailable() bool { return e != nil && e.Kind == KindUnavailable }

// NotFound builds a not-found StoreError.
func NotFound(op, format string, args ...any) error {
	return &StoreError{Op: op, Kind: KindNotFound, Err: fmt.Errorf(format, args...)}
}

// Conflict builds a conflict StoreError.
func Conflict(op, format string, args ...any) error {
	return &StoreError{Op: op, Kind: KindConflict, Err: fmt.Errorf(format, args...)}
}

// Unavailable wraps a transport failure.
func Unavailable(op string, err error) error {
	return &StoreError{Op: op, Kind: KindUnavailable, Err: err}
}

// IsNotFound reports whether err carries a not-found classification.
func IsNotFound(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

// IsConflict reports whether err carries a conflict classification.
func IsConflict(err error) bool {
	var repoErr RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsConflict() {
		return true
	}
	var invErr *InventoryError
	return errors.As(err, &invErr) && invErr.IsConflict()
}

// IsUnavailable reports whether err carries an unavailable classification.
func IsUnavailable(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsUnavailable()
}

// CounterErrorCode enumerates failure reasons for counter operations.
type CounterErrorCode string

const (
	// CounterErrorInvalidInput indicates the caller supplied invalid arguments.
	CounterErrorInvalidInput CounterErrorCode = "counter_invalid_input"
	// CounterErrorUnknown represents an unspecified failure.
	CounterErrorUnknown CounterErrorCode = "counter_unknown"
)

// CounterError wraps counter-specific failures with machine readable codes.
type CounterError struct {
	CounterID string
	Code      CounterErrorCode
	Err       error
}

func (e *CounterError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("counter %s: %s: %v", e.CounterID, e.Code, e.Err)
	}
	return fmt.Sprintf("counter %s: %s", e.CounterID, e.Code)
}

func (e *CounterError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ValidateCounterStep rejects blank counters and non-positive steps.
func ValidateCounterStep(counterID string, step int64) error {
	if counterID == "" {
		return &CounterError{Code: CounterErrorInvalidInput, Err: errors.New("counter id is required")}
	}
	if step <= 0 {
		return &CounterError{CounterID: counterID, Code: CounterErrorInvalidInput, Err: fmt.Errorf("step must be positive, got %d", step)}
	}
	return nil
}
