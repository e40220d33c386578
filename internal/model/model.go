package model

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Event is a titled, dated reminder owned by the user.
//
// The date/time fields are calendar components, not an instant: they are
// interpreted in the process-local zone at the moment a trigger is scheduled.
// Month is 1-based (January = 1).
type Event struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`

	Day   int `json:"day"`
	Month int `json:"month"`
	Year  int `json:"year"`

	Hour   int `json:"hour"`
	Minute int `json:"minute"`
}

// NewID returns a fresh event identifier.
func NewID() string {
	return uuid.NewString()
}

// New builds an Event with a fresh id from a wall-clock time. Seconds and
// below are dropped; only the local calendar components are kept.
func New(title, description string, at time.Time) Event {
	ev := Event{
		ID:          NewID(),
		Title:       title,
		Description: description,
	}
	ev.SetTime(at)
	return ev
}

// SetTime overwrites the date/time components from t.
func (e *Event) SetTime(t time.Time) {
	e.Year = t.Year()
	e.Month = int(t.Month())
	e.Day = t.Day()
	e.Hour = t.Hour()
	e.Minute = t.Minute()
}

// FireTime returns the absolute instant of the event in loc (second = 0).
// A nil loc means time.Local. Out-of-range components are normalized the way
// time.Date does (e.g. day 32 rolls into the next month).
func (e Event) FireTime(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	return time.Date(e.Year, time.Month(e.Month), e.Day, e.Hour, e.Minute, 0, 0, loc)
}

// Validate checks the identity requirement. Free-text fields are not validated.
func (e Event) Validate() error {
	if e.ID == "" {
		return errors.New("event id is empty")
	}
	return nil
}
