package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestDomainError_Format(t *testing.T) {
	if got := ErrKeyNotFound.Error(); got != "[PS-ENTRY-4040] key not found" {
		t.Errorf("Error() = %q", got)
	}
	if got := ErrKeyNotFound.WithDetails("uid=0x1").Error(); got != "[PS-ENTRY-4040] key not found: uid=0x1" {
		t.Errorf("Error() with details = %q", got)
	}
}

func TestDomainError_MatchesByCode(t *testing.T) {
	same := &DomainError{Code: ErrWriteOnce.Code, Message: "different text"}
	if !errors.Is(same, ErrWriteOnce) {
		t.Error("errors with the same code should match")
	}
	if errors.Is(ErrWriteOnce, ErrInvalidKey) {
		t.Error("errors with different codes should not match")
	}
	if errors.Is(ErrWriteOnce, fmt.Errorf("some error")) {
		t.Error("a plain error should not match")
	}
	if !errors.Is(fmt.Errorf("set: %w", ErrWriteOnce.WithDetails("uid=9")), ErrWriteOnce) {
		t.Error("a wrapped copy should still match")
	}
}

func TestDomainError_CopiesPreserveStatus(t *testing.T) {
	cause := fmt.Errorf("disk full")
	err := ErrInsufficientSpace.WithDetails("capacity 1024").WithCause(cause)

	if err.Status != StatusInsufficientSpace {
		t.Errorf("Status = %v, want %v", err.Status, StatusInsufficientSpace)
	}
	if ErrInsufficientSpace.Details != "" || ErrInsufficientSpace.Cause != nil {
		t.Error("WithDetails/WithCause should not modify the original error")
	}
	if errors.Unwrap(err) != cause {
		t.Errorf("Unwrap() = %v, want %v", errors.Unwrap(err), cause)
	}
}

func TestCodeOf(t *testing.T) {
	if got := CodeOf(fmt.Errorf("wrapped: %w", ErrBadPointer)); got != "PS-ARG-4001" {
		t.Errorf("CodeOf() = %q, want PS-ARG-4001", got)
	}
	if got := CodeOf(errors.New("plain")); got != "" {
		t.Errorf("CodeOf(plain) = %q, want empty", got)
	}
	if got := CodeOf(nil); got != "" {
		t.Errorf("CodeOf(nil) = %q, want empty", got)
	}
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Status
	}{
		{"nil", nil, StatusSuccess},
		{"plain error", fmt.Errorf("io: short write"), StatusStorageFailure},
		{"domain error", ErrOffsetInvalid, StatusOffsetInvalid},
		{"wrapped domain error", fmt.Errorf("get: %w", ErrKeyNotFound), StatusKeyNotFound},
		{"unsupported operation", ErrOperationNotSupported, StatusFlagsNotSupported},
		{"system error", ErrInternalServer, StatusStorageFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StatusOf(tt.err); got != tt.want {
				t.Errorf("StatusOf() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStatusWireValues(t *testing.T) {
	tests := []struct {
		status Status
		value  uint32
		name   string
	}{
		{StatusSuccess, 0, "SUCCESS"},
		{StatusWriteOnce, 1, "WRITE_ONCE"},
		{StatusFlagsNotSupported, 2, "FLAGS_NOT_SUPPORTED"},
		{StatusFlagsSetAfterCreate, 3, "FLAGS_SET_AFTER_CREATE"},
		{StatusInsufficientSpace, 4, "INSUFFICIENT_SPACE"},
		{StatusDataCorrupt, 5, "DATA_CORRUPT"},
		{StatusStorageFailure, 6, "STORAGE_FAILURE"},
		{StatusBadPointer, 7, "BAD_POINTER"},
		{StatusKeyNotFound, 8, "KEY_NOT_FOUND"},
		{StatusIncorrectSize, 9, "INCORRECT_SIZE"},
		{StatusOffsetInvalid, 10, "OFFSET_INVALID"},
		{StatusInvalidKey, 11, "INVALID_KEY"},
		{StatusOffsetNotSupported, 12, "OFFSET_NOT_SUPPORTED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if uint32(tt.status) != tt.value {
				t.Errorf("%s = %d, want %d", tt.name, uint32(tt.status), tt.value)
			}
			if tt.status.String() != tt.name {
				t.Errorf("String() = %q, want %q", tt.status.String(), tt.name)
			}
			parsed, ok := ParseStatus(tt.name)
			if !ok || parsed != tt.status {
				t.Errorf("ParseStatus(%q) = %v, %v", tt.name, parsed, ok)
			}
		})
	}

	if got := Status(99).String(); got != "STATUS(99)" {
		t.Errorf("unknown status String() = %q", got)
	}
	if !StatusStorageFailure.IsFatal() || StatusKeyNotFound.IsFatal() {
		t.Error("only STORAGE_FAILURE is fatal")
	}
}
