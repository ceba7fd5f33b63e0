package domain

import "fmt"

// Status is the PSA storage status code returned by every operation.
// Numeric values are part of the wire contract and must not change.
//
// SUCCESS, WRITE_ONCE, FLAGS_NOT_SUPPORTED, INSUFFICIENT_SPACE,
// STORAGE_FAILURE, BAD_POINTER, KEY_NOT_FOUND, INCORRECT_SIZE and
// OFFSET_INVALID take their values from protected_storage.h. The header
// names FLAGS_SET_AFTER_CREATE without a value and has no DATA_CORRUPT,
// INVALID_KEY or OFFSET_NOT_SUPPORTED; this package assigns those 3, 5,
// 11 and 12, filling the gaps and extending past the header's range.
type Status uint32

const (
	StatusSuccess             Status = 0
	StatusWriteOnce           Status = 1
	StatusFlagsNotSupported   Status = 2
	StatusFlagsSetAfterCreate Status = 3
	StatusInsufficientSpace   Status = 4
	StatusDataCorrupt         Status = 5
	StatusStorageFailure      Status = 6
	StatusBadPointer          Status = 7
	StatusKeyNotFound         Status = 8
	StatusIncorrectSize       Status = 9
	StatusOffsetInvalid       Status = 10
	StatusInvalidKey          Status = 11
	StatusOffsetNotSupported  Status = 12
)

var statusNames = map[Status]string{
	StatusSuccess:             "SUCCESS",
	StatusWriteOnce:           "WRITE_ONCE",
	StatusFlagsNotSupported:   "FLAGS_NOT_SUPPORTED",
	StatusFlagsSetAfterCreate: "FLAGS_SET_AFTER_CREATE",
	StatusInsufficientSpace:   "INSUFFICIENT_SPACE",
	StatusDataCorrupt:         "DATA_CORRUPT",
	StatusStorageFailure:      "STORAGE_FAILURE",
	StatusBadPointer:          "BAD_POINTER",
	StatusKeyNotFound:         "KEY_NOT_FOUND",
	StatusIncorrectSize:       "INCORRECT_SIZE",
	StatusOffsetInvalid:       "OFFSET_INVALID",
	StatusInvalidKey:          "INVALID_KEY",
	StatusOffsetNotSupported:  "OFFSET_NOT_SUPPORTED",
}

// String returns the PSA name of the status.
func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("STATUS(%d)", uint32(s))
}

// IsFatal reports whether the status denotes a non-retriable medium fault.
func (s Status) IsFatal() bool {
	return s == StatusStorageFailure
}

// ParseStatus resolves a PSA status name (e.g. "KEY_NOT_FOUND").
func ParseStatus(name string) (Status, bool) {
	for s, n := range statusNames {
		if n == name {
			return s, true
		}
	}
	return 0, false
}
