package trigger

import (
	"fmt"
	"time"

	appLog "keydates/internal/log"
	"keydates/internal/model"
	"keydates/internal/notify"
)

// Scheduler turns events into facility registrations.
type Scheduler struct {
	facility Facility
	perm     Permission
	loc      *time.Location
	now      func() time.Time
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLocation sets the zone event components are read in (default time.Local).
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// NewScheduler creates a Scheduler. A nil perm means AlwaysGranted.
func NewScheduler(f Facility, perm Permission, opts ...Option) *Scheduler {
	if perm == nil {
		perm = AlwaysGranted{}
	}
	s := &Scheduler{
		facility: f,
		perm:     perm,
		loc:      time.Local,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FireTime is the absolute instant ev's trigger is registered for.
func (s *Scheduler) FireTime(ev model.Event) time.Time {
	return ev.FireTime(s.loc)
}

// Schedule registers (or replaces) the trigger for ev. A missing permission
// yields *PermissionDeniedError and leaves the facility untouched.
//
// Past instants are registered as well; the facility fires them at once.
func (s *Scheduler) Schedule(ev model.Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	if !s.perm.Granted() {
		appLog.Warn("schedule refused: exact trigger permission missing", "event_id", ev.ID)
		return &PermissionDeniedError{EventID: ev.ID}
	}

	at := s.FireTime(ev)
	if at.Before(s.now()) {
		appLog.Warn("schedule: fire time already passed; firing immediately",
			"event_id", ev.ID, "at", at.Format(time.RFC3339))
	}

	reg := Registration{
		Key:     Key(ev.ID),
		EventID: ev.ID,
		At:      at,
		Payload: notify.Payload{Title: ev.Title},
	}
	if err := s.facility.Register(reg); err != nil {
		return fmt.Errorf("register trigger for %s: %w", ev.ID, err)
	}

	appLog.Info("trigger scheduled", "event_id", ev.ID, "key", reg.Key, "at", at.Format(time.RFC3339))
	return nil
}

// Cancel removes the pending trigger for the event id, if any.
func (s *Scheduler) Cancel(id string) error {
	if err := s.facility.Cancel(Key(id)); err != nil {
		return fmt.Errorf("cancel trigger for %s: %w", id, err)
	}
	appLog.Debug("trigger cancel requested", "event_id", id)
	return nil
}

// Registrations lists what the facility currently holds.
func (s *Scheduler) Registrations() []Registration {
	return s.facility.Registrations()
}
