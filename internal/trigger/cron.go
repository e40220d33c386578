package trigger

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	appLog "keydates/internal/log"
	"keydates/internal/notify"
)

// oneShot is a cron.Schedule that yields its instant exactly once.
//
// cron asks for Next when an entry is added (or the cron started) and again
// after every run. The first answer is always `at`, even when it is already
// in the past, so a late registration fires on the next loop iteration.
// After that, `at` is only returned while it is still ahead of t.
type oneShot struct {
	mu     sync.Mutex
	at     time.Time
	issued bool
}

func (s *oneShot) Next(t time.Time) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.issued {
		s.issued = true
		return s.at
	}
	if t.Before(s.at) {
		return s.at
	}
	// Zero time: cron never runs the entry again.
	return time.Time{}
}

type cronEntry struct {
	id  cron.EntryID
	reg Registration
}

// CronFacility is an in-process Facility backed by robfig/cron.
// Registrations live as long as the process; the daemon rebuilds them from
// the store on startup.
type CronFacility struct {
	cron       *cron.Cron
	dispatcher notify.Dispatcher

	mu      sync.Mutex
	entries map[string]cronEntry
}

// NewCronFacility creates a stopped facility. Fired payloads go to d.
// loc is the zone cron uses for its own clock; nil means time.Local.
func NewCronFacility(d notify.Dispatcher, loc *time.Location) *CronFacility {
	if loc == nil {
		loc = time.Local
	}
	logger := appLog.CronLogger{}
	return &CronFacility{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger)),
		),
		dispatcher: d,
		entries:    make(map[string]cronEntry),
	}
}

// Start begins firing registrations. Registrations added before Start whose
// time has passed fire right away.
func (f *CronFacility) Start() {
	f.cron.Start()
	appLog.Info("trigger facility started", "pending", f.Len())
}

// Stop halts the facility and waits for running dispatches.
func (f *CronFacility) Stop() {
	<-f.cron.Stop().Done()
	appLog.Info("trigger facility stopped")
}

// Len returns the number of pending registrations.
func (f *CronFacility) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

func (f *CronFacility) Register(r Registration) error {
	if r.Key == "" {
		return errors.New("trigger key is empty")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if prev, ok := f.entries[r.Key]; ok {
		f.cron.Remove(prev.id)
		appLog.Debug("trigger replaced", "key", r.Key, "event_id", r.EventID)
	}

	key := r.Key
	payload := r.Payload
	// slot is written under f.mu; the job reads it only after taking f.mu.
	slot := new(cron.EntryID)
	*slot = f.cron.Schedule(&oneShot{at: r.At}, cron.FuncJob(func() {
		f.fired(key, slot)
		f.dispatcher.Dispatch(payload)
	}))
	f.entries[key] = cronEntry{id: *slot, reg: r}

	appLog.Debug("trigger registered", "key", key, "event_id", r.EventID, "at", r.At.Format(time.RFC3339))
	return nil
}

// fired drops the entry for key, unless it has been replaced meanwhile.
func (f *CronFacility) fired(key string, slot *cron.EntryID) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := *slot
	if cur, ok := f.entries[key]; ok && cur.id == id {
		delete(f.entries, key)
	}
	f.cron.Remove(id)
	appLog.Debug("trigger fired", "key", key)
}

func (f *CronFacility) Cancel(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	cur, ok := f.entries[key]
	if !ok {
		return nil
	}
	f.cron.Remove(cur.id)
	delete(f.entries, key)
	appLog.Debug("trigger canceled", "key", key, "event_id", cur.reg.EventID)
	return nil
}

// Registrations returns pending registrations ordered by fire time.
func (f *CronFacility) Registrations() []Registration {
	f.mu.Lock()
	out := make([]Registration, 0, len(f.entries))
	for _, e := range f.entries {
		out = append(out, e.reg)
	}
	f.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].At.Equal(out[j].At) {
			return out[i].Key < out[j].Key
		}
		return out[i].At.Before(out[j].At)
	})
	return out
}
