package store

import (
	"errors"
	"fmt"
)

// CorruptError reports a persisted blob that exists but cannot be decoded
// into a complete event collection. Callers should treat the collection as
// empty; the blob itself is left untouched.
type CorruptError struct {
	// Key is the storage key of the blob.
	Key string

	// Index is the position of the offending record, or -1 when the blob as
	// a whole is unreadable.
	Index int

	// Field names the missing or mistyped field, if known.
	Field string

	Err error
}

func (e *CorruptError) Error() string {
	switch {
	case e.Index >= 0 && e.Field != "":
		return fmt.Sprintf("corrupt store %q: record %d: field %q: %v", e.Key, e.Index, e.Field, e.Err)
	case e.Index >= 0:
		return fmt.Sprintf("corrupt store %q: record %d: %v", e.Key, e.Index, e.Err)
	default:
		return fmt.Sprintf("corrupt store %q: %v", e.Key, e.Err)
	}
}

func (e *CorruptError) Unwrap() error { return e.Err }

// WriteError reports a failed SaveAll. The previously persisted blob is
// still in place when this error is returned.
type WriteError struct {
	Key string
	// Op is the failing step: "encode" or "write".
	Op  string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("store write %q (%s): %v", e.Key, e.Op, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// IsCorrupt reports whether err is (or wraps) a CorruptError.
func IsCorrupt(err error) bool {
	var ce *CorruptError
	return errors.As(err, &ce)
}

// IsWriteFailure reports whether err is (or wraps) a WriteError.
func IsWriteFailure(err error) bool {
	var we *WriteError
	return errors.As(err, &we)
}
