package trigger

import (
	"errors"
	"fmt"
)

// PermissionDeniedError is returned by Schedule when the exact-trigger grant
// is missing. Nothing was registered; the caller may schedule again once the
// user grants the permission.
type PermissionDeniedError struct {
	EventID string
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("exact trigger permission not granted (event=%s)", e.EventID)
}

// IsPermissionDenied reports whether err is (or wraps) a PermissionDeniedError.
func IsPermissionDenied(err error) bool {
	var pe *PermissionDeniedError
	return errors.As(err, &pe)
}
