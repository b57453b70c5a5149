package errclass

import (
	"errors"
	"fmt"
)

// GateError is a stable, machine-readable error class.
type GateError struct {
	Code    string
	Message string
}

func (e *GateError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *GateError) Is(target error) bool {
	t, ok := target.(*GateError)
	return ok && e.Code == t.Code
}

// WithMessage returns a new GateError with the same Code but a specific message.
func (e *GateError) WithMessage(msg string) *GateError {
	return &GateError{Code: e.Code, Message: msg}
}

// WithMessagef returns a new GateError with a formatted message.
func (e *GateError) WithMessagef(format string, args ...any) *GateError {
	return &GateError{Code: e.Code, Message: fmt.Sprintf(format, args...)}
}

// Stable error classes.
var (
	ErrConfiguration       = &GateError{Code: "E_CONFIGURATION"}
	ErrScannerUnavailable  = &GateError{Code: "E_SCANNER_UNAVAILABLE"}
	ErrValidationFailed    = &GateError{Code: "E_VALIDATION_FAILED"}
	ErrQualityGateRejected = &GateError{Code: "E_QUALITY_GATE_REJECTED"}
	ErrPermissionDenied    = &GateError{Code: "E_PERMISSION_DENIED"}
	ErrLockContention      = &GateError{Code: "E_LOCK_CONTENTION"}
	ErrLockNotHeld         = &GateError{Code: "E_LOCK_NOT_HELD"}
	ErrLedgerWriteFailure  = &GateError{Code: "E_LEDGER_WRITE_FAILURE"}
	ErrLedgerChainBroken   = &GateError{Code: "E_LEDGER_CHAIN_BROKEN"}
	ErrPathEscape          = &GateError{Code: "E_PATH_ESCAPE"}
	ErrNameInvalid         = &GateError{Code: "E_NAME_INVALID"}
	ErrNotFound            = &GateError{Code: "E_NOT_FOUND"}
)

// Fatal reports whether err belongs to a class the process cannot recover from.
func Fatal(err error) bool {
	var ge *GateError
	if !errors.As(err, &ge) {
		return false
	}
	return ge.Code == ErrLedgerWriteFailure.Code || ge.Code == ErrConfiguration.Code
}

// Code extracts the stable code from err, or "" if err carries none.
func Code(err error) string {
	var ge *GateError
	if errors.As(err, &ge) {
		return ge.Code
	}
	return ""
}
