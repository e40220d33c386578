package reconcile

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	appLog "keydates/internal/log"
	"keydates/internal/model"
	"keydates/internal/trigger"
)

var (
	// ErrNotFound is returned by Update for an id that is not in the collection.
	ErrNotFound = errors.New("event not found")
	// ErrStoreUnreadable is returned by mutations after a failed Load. The
	// load error is wrapped alongside it.
	ErrStoreUnreadable = errors.New("store could not be read; refusing to overwrite it")
)

// Store is the persistence the Reconciler writes through to.
type Store interface {
	LoadAll(ctx context.Context) ([]model.Event, error)
	SaveAll(ctx context.Context, events []model.Event) error
}

// Scheduler arranges and removes per-event triggers.
type Scheduler interface {
	Schedule(ev model.Event) error
	Cancel(id string) error
	FireTime(ev model.Event) time.Time
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) {
		if now != nil {
			r.now = now
		}
	}
}

// Reconciler is the single point of mutation for the event collection.
//
// Every mutation is applied to memory, persisted with a full SaveAll, and
// only then reflected in the trigger facility. A failed save restores the
// previous in-memory collection, so memory and store never diverge.
type Reconciler struct {
	store Store
	sched Scheduler
	now   func() time.Time

	mu      sync.Mutex
	events  []model.Event
	pending map[string]bool
	// loadErr is set while the stored collection could not be read. Saving
	// then would replace the blob with whatever is in memory.
	loadErr error
}

// New creates an empty Reconciler. Call Load to read the persisted events.
func New(store Store, sched Scheduler, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:   store,
		sched:   sched,
		now:     time.Now,
		events:  []model.Event{},
		pending: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Load replaces the in-memory collection with the stored one. On any error
// (including a corrupt blob) the collection is left empty, the error is
// returned, and mutations are refused until a Load or Resync succeeds.
func (r *Reconciler) Load(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	events, err := r.store.LoadAll(ctx)
	if err != nil {
		r.events = []model.Event{}
		r.loadErr = err
		appLog.Error("reconcile: load failed; starting empty, edits refused until the store is readable", err)
		return err
	}
	r.events = events
	r.loadErr = nil
	appLog.Info("reconcile: events loaded", "count", len(events))
	return nil
}

// Events returns a copy of the collection in insertion order.
func (r *Reconciler) Events() []model.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.events)
}

// Get returns the event with id.
func (r *Reconciler) Get(id string) (model.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i := r.indexOf(id); i >= 0 {
		return r.events[i], true
	}
	return model.Event{}, false
}

// Pending returns ids whose trigger was refused for lack of permission.
func (r *Reconciler) Pending() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.pending))
	for _, ev := range r.events {
		if r.pending[ev.ID] {
			ids = append(ids, ev.ID)
		}
	}
	return ids
}

func (r *Reconciler) indexOf(id string) int {
	return slices.IndexFunc(r.events, func(e model.Event) bool { return e.ID == id })
}

func (r *Reconciler) writableLocked() error {
	if r.loadErr != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnreadable, r.loadErr)
	}
	return nil
}

// Upsert replaces the event with the same id in place, or appends it, then
// persists the collection and (re)registers the event's trigger. A fire
// time in the past fires at once.
//
// If the save fails, the collection is rolled back and no trigger is
// touched. If the trigger is refused for permission, the event stays stored
// and the *trigger.PermissionDeniedError is returned; ScheduleAll retries it.
func (r *Reconciler) Upsert(ctx context.Context, ev model.Event) error {
	return r.upsert(ctx, ev, false)
}

// Update is Upsert for an existing event: an unknown id yields ErrNotFound
// and nothing is stored.
func (r *Reconciler) Update(ctx context.Context, ev model.Event) error {
	return r.upsert(ctx, ev, true)
}

func (r *Reconciler) upsert(ctx context.Context, ev model.Event, mustExist bool) error {
	if err := ev.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.writableLocked(); err != nil {
		return err
	}

	i := r.indexOf(ev.ID)
	if i < 0 && mustExist {
		return fmt.Errorf("update %s: %w", ev.ID, ErrNotFound)
	}

	prev := slices.Clone(r.events)
	next := slices.Clone(r.events)
	if i >= 0 {
		next[i] = ev
	} else {
		next = append(next, ev)
	}

	if err := r.store.SaveAll(ctx, next); err != nil {
		r.events = prev
		return err
	}
	r.events = next
	appLog.Info("event stored", "event_id", ev.ID, "title", ev.Title, "count", len(next))

	return r.scheduleLocked(ev)
}

// Delete removes the event with ev.ID, persists, and cancels its trigger.
// An unknown id is a no-op.
func (r *Reconciler) Delete(ctx context.Context, ev model.Event) error {
	return r.DeleteID(ctx, ev.ID)
}

// DeleteID is Delete by id.
func (r *Reconciler) DeleteID(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.writableLocked(); err != nil {
		return err
	}

	i := r.indexOf(id)
	if i < 0 {
		appLog.Debug("delete: unknown id; nothing to do", "event_id", id)
		return nil
	}

	prev := slices.Clone(r.events)
	next := slices.Delete(slices.Clone(r.events), i, i+1)

	if err := r.store.SaveAll(ctx, next); err != nil {
		r.events = prev
		return err
	}
	r.events = next
	delete(r.pending, id)
	appLog.Info("event deleted", "event_id", id, "count", len(next))

	return r.sched.Cancel(id)
}

func (r *Reconciler) scheduleLocked(ev model.Event) error {
	err := r.sched.Schedule(ev)
	switch {
	case err == nil:
		delete(r.pending, ev.ID)
	case trigger.IsPermissionDenied(err):
		r.pending[ev.ID] = true
	}
	return err
}

// past reports whether ev's fire time is not ahead of now.
func (r *Reconciler) past(ev model.Event) bool {
	return !r.sched.FireTime(ev).After(r.now())
}

// scheduleAheadLocked schedules ev unless its time has passed. A past event
// has either fired already or was missed while nothing was running; it is
// not sent again, and it no longer waits for permission.
func (r *Reconciler) scheduleAheadLocked(ev model.Event) (scheduled bool, err error) {
	if r.past(ev) {
		delete(r.pending, ev.ID)
		return false, nil
	}
	if err := r.scheduleLocked(ev); err != nil {
		return false, err
	}
	return true, nil
}

// ScheduleAll (re)registers a trigger for every event in memory that is
// still ahead. It is run at startup and again once the exact-trigger
// permission is granted.
func (r *Reconciler) ScheduleAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	scheduled, skipped := 0, 0
	for _, ev := range r.events {
		ok, err := r.scheduleAheadLocked(ev)
		switch {
		case err != nil:
			errs = append(errs, err)
		case ok:
			scheduled++
		default:
			skipped++
		}
	}

	appLog.Info("reconcile: triggers scheduled", "scheduled", scheduled, "past", skipped, "failed", len(errs))
	return errors.Join(errs...)
}

// Resync reloads the collection from the store after an external write
// (e.g. a CLI invocation while the daemon runs). Triggers of events that
// disappeared are canceled. New or changed events are scheduled as an
// Upsert would schedule them; unchanged events keep their trigger, and
// unchanged pending events are retried while still ahead. A store that
// matches memory, such as after this process's own save, changes nothing.
//
// If the store cannot be read, the current collection and triggers are kept
// and the error is returned.
func (r *Reconciler) Resync(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	events, err := r.store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("resync: %w", err)
	}

	old := make(map[string]model.Event, len(r.events))
	for _, ev := range r.events {
		old[ev.ID] = ev
	}
	present := make(map[string]bool, len(events))
	for _, ev := range events {
		present[ev.ID] = true
	}

	var errs []error
	removed, changed := 0, 0
	for _, prev := range r.events {
		if present[prev.ID] {
			continue
		}
		removed++
		delete(r.pending, prev.ID)
		if err := r.sched.Cancel(prev.ID); err != nil {
			errs = append(errs, err)
		}
	}

	r.events = events
	r.loadErr = nil
	for _, ev := range events {
		prev, known := old[ev.ID]
		switch {
		case !known || prev != ev:
			changed++
			if err := r.scheduleLocked(ev); err != nil {
				errs = append(errs, err)
			}
		case r.pending[ev.ID]:
			if _, err := r.scheduleAheadLocked(ev); err != nil {
				errs = append(errs, err)
			}
		}
	}

	appLog.Info("reconcile: resynced from store", "count", len(events), "changed", changed, "removed", removed)
	return errors.Join(errs...)
}
