package trigger

import (
	"time"

	"keydates/internal/notify"
)

// Registration is one pending one-shot wake-up.
type Registration struct {
	Key     string         `json:"key"`
	EventID string         `json:"event_id"`
	At      time.Time      `json:"at"`
	Payload notify.Payload `json:"payload"`
}

// Facility is the host timer: exact, one-shot, replace-by-key.
//
// Register with a key that is already pending replaces that registration.
// Cancel of an unknown key is a no-op.
type Facility interface {
	Register(r Registration) error
	Cancel(key string) error
	Registrations() []Registration
}

// Permission is the exact-trigger grant collaborator.
type Permission interface {
	Granted() bool
	// Request asks the user for the grant. The answer arrives out of band;
	// callers schedule again once it is known.
	Request()
}

// AlwaysGranted is the Permission for hosts without an exact-timer grant.
type AlwaysGranted struct{}

func (AlwaysGranted) Granted() bool { return true }
func (AlwaysGranted) Request()      {}
