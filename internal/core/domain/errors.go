package domain

import (
	"errors"
	"fmt"
)

// DomainError is a storage error with a stable code and the PSA status it
// maps to on the wire. Codes have the form PS-<CATEGORY>-<NNNN>; two
// errors with the same code match under errors.Is.
type DomainError struct {
	Code    string
	Status  Status
	Message string
	Details string
	Cause   error
}

func newError(code string, status Status, message string) *DomainError {
	return &DomainError{Code: code, Status: status, Message: message}
}

func (e *DomainError) Error() string {
	if e.Details == "" {
		return fmt.Sprintf("[%s] %s", e.Code, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
}

func (e *DomainError) Unwrap() error { return e.Cause }

func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	return ok && t.Code == e.Code
}

// WithDetails returns a copy of e carrying details.
func (e *DomainError) WithDetails(details string) *DomainError {
	c := *e
	c.Details = details
	return &c
}

// WithCause returns a copy of e wrapping cause.
func (e *DomainError) WithCause(cause error) *DomainError {
	c := *e
	c.Cause = cause
	return &c
}

// CodeOf returns the code of the first DomainError in err's chain, or "".
func CodeOf(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// StatusOf maps an error to the PSA status reported to callers.
// A nil error is SUCCESS; errors outside the domain are STORAGE_FAILURE.
func StatusOf(err error) Status {
	if err == nil {
		return StatusSuccess
	}
	var de *DomainError
	if errors.As(err, &de) {
		return de.Status
	}
	return StatusStorageFailure
}

// Entry errors.
var (
	// ErrKeyNotFound: the uid does not exist in the caller's namespace.
	ErrKeyNotFound = newError("PS-ENTRY-4040", StatusKeyNotFound, "key not found")
	// ErrWriteOnce: a mutation of a write-once entry.
	ErrWriteOnce = newError("PS-ENTRY-4030", StatusWriteOnce, "entry is write-once")
	// ErrFlagsSetAfterCreate: nonzero flags on an existing entry.
	ErrFlagsSetAfterCreate = newError("PS-ENTRY-4090", StatusFlagsSetAfterCreate, "flags set after create")
	// ErrInvalidKey: the uid is absent, or exists with a different shape.
	ErrInvalidKey = newError("PS-ENTRY-4091", StatusInvalidKey, "invalid key")
	// ErrDataCorrupt: the persisted record failed authentication.
	ErrDataCorrupt = newError("PS-ENTRY-4220", StatusDataCorrupt, "data corrupt")
)

// Argument errors.
var (
	ErrBadPointer         = newError("PS-ARG-4001", StatusBadPointer, "bad pointer")
	ErrFlagsNotSupported  = newError("PS-ARG-4002", StatusFlagsNotSupported, "flags not supported")
	ErrIncorrectSize      = newError("PS-ARG-4003", StatusIncorrectSize, "incorrect size")
	ErrOffsetInvalid      = newError("PS-ARG-4004", StatusOffsetInvalid, "offset invalid")
	ErrOffsetNotSupported = newError("PS-ARG-4005", StatusOffsetNotSupported, "offset not supported")

	// ErrOperationNotSupported reports a disabled optional operation. The
	// PSA API has no dedicated status for it.
	ErrOperationNotSupported = newError("PS-ARG-4006", StatusFlagsNotSupported, "operation not supported")
)

// Storage errors.
var (
	// ErrInsufficientSpace: a capacity, asset size or asset count limit.
	ErrInsufficientSpace = newError("PS-STOR-5070", StatusInsufficientSpace, "insufficient space")
	ErrStorageFailure    = newError("PS-STOR-5000", StatusStorageFailure, "storage failure")
	ErrStorageClosed     = newError("PS-STOR-5030", StatusStorageFailure, "storage closed")
)

// System errors raised by the admin surface. They all report
// STORAGE_FAILURE if they ever reach an IPC client.
var (
	ErrInternalServer     = newError("PS-SYS-5000", StatusStorageFailure, "internal server error")
	ErrServiceUnavailable = newError("PS-SYS-5030", StatusStorageFailure, "service unavailable")
	ErrBadRequest         = newError("PS-SYS-4000", StatusStorageFailure, "bad request")
	ErrUnknownService     = newError("PS-SYS-4040", StatusStorageFailure, "unknown service")
	ErrRateLimited        = newError("PS-SYS-4290", StatusStorageFailure, "too many requests")
	ErrIPNotAllowed       = newError("PS-SYS-4031", StatusStorageFailure, "client address not allowed")
)
