package trigger

import "github.com/google/uuid"

// keyNamespace scopes trigger keys. Changing it orphans every registration
// a host facility may have persisted, so it is fixed forever.
var keyNamespace = uuid.MustParse("6f1c2a8e-4b0d-5c3e-9a7f-2d8e61b4c950")

// Key derives the trigger identifier for an event id. It is a pure function
// of id (a name-based UUID), so re-registering the same event replaces the
// previous trigger, including across process restarts.
func Key(eventID string) string {
	return uuid.NewSHA1(keyNamespace, []byte(eventID)).String()
}
