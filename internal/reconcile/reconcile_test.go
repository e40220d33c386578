package reconcile

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keydates/internal/model"
	"keydates/internal/notify"
	"keydates/internal/store"
	"keydates/internal/testutil"
	"keydates/internal/trigger"
)

type switchPerm struct{ granted bool }

func (p *switchPerm) Granted() bool { return p.granted }
func (p *switchPerm) Request()      {}

type discard struct{}

func (discard) Dispatch(notify.Payload) {}

type counter struct{ n atomic.Int32 }

func (c *counter) Dispatch(notify.Payload) { c.n.Add(1) }

// newLiveFixture runs the cron facility so that triggers actually fire.
func newLiveFixture(t *testing.T) (*fixture, *counter) {
	t.Helper()
	c := &counter{}
	f := &fixture{
		backend: testutil.NewMemBackend(),
		perm:    &switchPerm{granted: true},
	}
	f.store = store.New(f.backend, "")
	facility := trigger.NewCronFacility(c, time.Local)
	facility.Start()
	t.Cleanup(facility.Stop)
	f.sched = trigger.NewScheduler(facility, f.perm)
	f.rec = New(f.store, f.sched)
	return f, c
}

func pastEv(id string) model.Event {
	return model.Event{ID: id, Title: "gone " + id, Day: 1, Month: 3, Year: 2020, Hour: 8}
}

type fixture struct {
	backend *testutil.MemBackend
	store   *store.EventStore
	perm    *switchPerm
	sched   *trigger.Scheduler
	rec     *Reconciler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		backend: testutil.NewMemBackend(),
		perm:    &switchPerm{granted: true},
	}
	f.store = store.New(f.backend, "")
	// The facility is never started: registrations are inspected, not fired.
	f.sched = trigger.NewScheduler(trigger.NewCronFacility(discard{}, time.Local), f.perm)
	f.rec = New(f.store, f.sched)
	return f
}

func ev(id, title string, day int) model.Event {
	return model.Event{ID: id, Title: title, Description: "d-" + id, Day: day, Month: 6, Year: 2031, Hour: 9, Minute: 30}
}

func ids(events []model.Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.ID
	}
	return out
}

func TestUpsert_RoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	e := ev("a", "Anniversary", 2)

	require.NoError(t, f.rec.Upsert(ctx, e))

	loaded, err := store.New(f.backend, "").LoadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []model.Event{e}, loaded)
}

func TestUpsert_Idempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	e := ev("a", "Anniversary", 2)

	require.NoError(t, f.rec.Upsert(ctx, e))
	once := f.rec.Events()
	require.NoError(t, f.rec.Upsert(ctx, e))

	assert.Equal(t, once, f.rec.Events())
	regs := f.sched.Registrations()
	require.Len(t, regs, 1)
	assert.Equal(t, trigger.Key("a"), regs[0].Key)
}

func TestUpsert_EditKeepsPosition(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	for _, e := range []model.Event{ev("a", "A", 1), ev("b", "B", 2), ev("c", "C", 3)} {
		require.NoError(t, f.rec.Upsert(ctx, e))
	}

	edited := ev("b", "B edited", 20)
	edited.Hour = 17
	require.NoError(t, f.rec.Upsert(ctx, edited))

	events := f.rec.Events()
	assert.Equal(t, []string{"a", "b", "c"}, ids(events))
	assert.Equal(t, edited, events[1])

	loaded, err := f.store.LoadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, events, loaded)

	got, ok := f.rec.Get("b")
	require.True(t, ok)
	assert.Equal(t, "B edited", got.Title)
	assert.Len(t, f.sched.Registrations(), 3)
}

func TestDelete_AfterUpsert(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	e := ev("a", "A", 1)

	require.NoError(t, f.rec.Upsert(ctx, e))
	require.NoError(t, f.rec.Delete(ctx, e))

	assert.Empty(t, f.rec.Events())
	assert.Empty(t, f.sched.Registrations())

	loaded, err := f.store.LoadAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestDelete_UnknownIsNoop(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.rec.Upsert(ctx, ev("a", "A", 1)))
	puts := f.backend.PutCount()

	require.NoError(t, f.rec.Delete(ctx, ev("ghost", "", 1)))
	assert.Equal(t, puts, f.backend.PutCount())
	assert.Equal(t, []string{"a"}, ids(f.rec.Events()))
}

func TestUpsert_SaveFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.rec.Upsert(ctx, ev("a", "A", 1)))

	f.backend.FailPuts(true)
	err := f.rec.Upsert(ctx, ev("b", "B", 2))
	require.Error(t, err)
	assert.True(t, store.IsWriteFailure(err))

	edit := ev("a", "A changed", 9)
	require.Error(t, f.rec.Upsert(ctx, edit))

	assert.Equal(t, []model.Event{ev("a", "A", 1)}, f.rec.Events())
	regs := f.sched.Registrations()
	require.Len(t, regs, 1)
	assert.Equal(t, "A", regs[0].Payload.Title)

	f.backend.FailPuts(false)
	loaded, err := f.store.LoadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []model.Event{ev("a", "A", 1)}, loaded)
}

func TestDelete_SaveFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.rec.Upsert(ctx, ev("a", "A", 1)))

	f.backend.FailPuts(true)
	require.Error(t, f.rec.DeleteID(ctx, "a"))

	assert.Equal(t, []string{"a"}, ids(f.rec.Events()))
	assert.Len(t, f.sched.Registrations(), 1, "trigger survives a failed delete")
}

func TestUpsert_PermissionDenied(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.perm.granted = false

	err := f.rec.Upsert(ctx, ev("a", "A", 1))
	require.Error(t, err)
	assert.True(t, trigger.IsPermissionDenied(err))

	assert.Empty(t, f.sched.Registrations())
	assert.Equal(t, []string{"a"}, f.rec.Pending())
	loaded, err := f.store.LoadAll(ctx)
	require.NoError(t, err)
	assert.Len(t, loaded, 1, "the event is kept; only its trigger is pending")

	f.perm.granted = true
	require.NoError(t, f.rec.ScheduleAll())
	assert.Empty(t, f.rec.Pending())
	assert.Len(t, f.sched.Registrations(), 1)
}

func TestLoad_CorruptLeavesEmpty(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.rec.Upsert(ctx, ev("a", "A", 1)))

	f.backend.Set(store.DefaultKey, []byte(`[{"id":"a"}]`))
	err := f.rec.Load(ctx)
	require.Error(t, err)
	assert.True(t, store.IsCorrupt(err))
	assert.Empty(t, f.rec.Events())
}

func TestLoadThenScheduleAll(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.store.SaveAll(ctx, []model.Event{ev("a", "A", 1), ev("b", "B", 2)}))

	require.NoError(t, f.rec.Load(ctx))
	require.NoError(t, f.rec.ScheduleAll())

	assert.Equal(t, []string{"a", "b"}, ids(f.rec.Events()))
	assert.Len(t, f.sched.Registrations(), 2)
}

func TestResync_ExternalChanges(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.rec.Upsert(ctx, ev("a", "A", 1)))
	require.NoError(t, f.rec.Upsert(ctx, ev("b", "B", 2)))

	// Another process drops "a", edits "b" and adds "c".
	bEdited := ev("b", "B moved", 12)
	require.NoError(t, f.store.SaveAll(ctx, []model.Event{bEdited, ev("c", "C", 3)}))

	require.NoError(t, f.rec.Resync(ctx))

	assert.Equal(t, []string{"b", "c"}, ids(f.rec.Events()))
	regs := f.sched.Registrations()
	require.Len(t, regs, 2)
	keys := []string{regs[0].Key, regs[1].Key}
	assert.ElementsMatch(t, []string{trigger.Key("b"), trigger.Key("c")}, keys)
	for _, r := range regs {
		if r.EventID == "b" {
			assert.Equal(t, 12, r.At.Day())
		}
	}
}

func TestResync_CorruptKeepsState(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.rec.Upsert(ctx, ev("a", "A", 1)))

	f.backend.Set(store.DefaultKey, []byte(`garbage`))
	err := f.rec.Resync(ctx)
	require.Error(t, err)
	assert.True(t, store.IsCorrupt(err))
	assert.Equal(t, []string{"a"}, ids(f.rec.Events()))
	assert.Len(t, f.sched.Registrations(), 1)
}

func TestCollaborator(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := NewCollaborator(f.rec)

	created, err := c.OnEventSubmitted(ctx, model.Event{Title: "New", Day: 1, Month: 1, Year: 2032})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	created.Title = "Renamed"
	require.NoError(t, c.OnEventEdited(ctx, created))
	got, ok := f.rec.Get(created.ID)
	require.True(t, ok)
	assert.Equal(t, "Renamed", got.Title)

	require.NoError(t, c.OnEventDeleted(ctx, created))
	assert.Empty(t, c.Reconciler().Events())
}

func TestUpsert_RejectsEmptyID(t *testing.T) {
	f := newFixture(t)
	assert.Error(t, f.rec.Upsert(context.Background(), model.Event{Title: "x"}))
	assert.Zero(t, f.backend.PutCount())
}

func TestUpsert_PastFiresOnceAcrossResyncAndScheduleAll(t *testing.T) {
	ctx := context.Background()
	f, fired := newLiveFixture(t)

	require.NoError(t, f.rec.Upsert(ctx, pastEv("old")))
	require.Eventually(t, func() bool { return fired.n.Load() == 1 }, time.Second, 10*time.Millisecond)

	// The daemon's own save is seen by the file watcher and resynced.
	require.NoError(t, f.rec.Upsert(ctx, ev("next", "Next", 4)))
	require.NoError(t, f.rec.Resync(ctx))
	require.NoError(t, f.rec.ScheduleAll())

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(1), fired.n.Load())
	regs := f.sched.Registrations()
	require.Len(t, regs, 1)
	assert.Equal(t, "next", regs[0].EventID)
}

func TestResync_ExternalPastEventFiresOnce(t *testing.T) {
	ctx := context.Background()
	f, fired := newLiveFixture(t)
	require.NoError(t, f.rec.Upsert(ctx, ev("a", "A", 1)))

	require.NoError(t, f.store.SaveAll(ctx, []model.Event{ev("a", "A", 1), pastEv("late")}))
	require.NoError(t, f.rec.Resync(ctx))
	require.Eventually(t, func() bool { return fired.n.Load() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, f.rec.Resync(ctx))
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(1), fired.n.Load())
	assert.Equal(t, []string{"a", "late"}, ids(f.rec.Events()))
}

func TestScheduleAll_SkipsPast(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.store.SaveAll(ctx, []model.Event{pastEv("old"), ev("a", "A", 1)}))

	require.NoError(t, f.rec.Load(ctx))
	require.NoError(t, f.rec.ScheduleAll())

	regs := f.sched.Registrations()
	require.Len(t, regs, 1)
	assert.Equal(t, "a", regs[0].EventID)
}

func TestScheduleAll_ClockDecidesPast(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.rec = New(f.store, f.sched, WithClock(func() time.Time {
		return time.Date(2031, 6, 2, 0, 0, 0, 0, time.Local)
	}))
	require.NoError(t, f.store.SaveAll(ctx, []model.Event{ev("a", "A", 1), ev("b", "B", 2)}))

	require.NoError(t, f.rec.Load(ctx))
	require.NoError(t, f.rec.ScheduleAll())

	regs := f.sched.Registrations()
	require.Len(t, regs, 1)
	assert.Equal(t, "b", regs[0].EventID)
}

func TestResync_PendingPastIsDropped(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.perm.granted = false
	require.Error(t, f.rec.Upsert(ctx, pastEv("old")))
	require.Equal(t, []string{"old"}, f.rec.Pending())

	f.perm.granted = true
	require.NoError(t, f.rec.Resync(ctx))
	assert.Empty(t, f.rec.Pending())
	assert.Empty(t, f.sched.Registrations())
}

func TestLoad_FailureRefusesWrites(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	blob := []byte(`[{"id":"a"}]`)
	f.backend.Set(store.DefaultKey, blob)

	require.Error(t, f.rec.Load(ctx))
	puts := f.backend.PutCount()

	err := f.rec.Upsert(ctx, ev("b", "B", 2))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStoreUnreadable))
	assert.True(t, store.IsCorrupt(err))
	assert.True(t, store.IsCorrupt(f.rec.DeleteID(ctx, "a")))
	assert.True(t, store.IsCorrupt(f.rec.Update(ctx, ev("a", "A", 1))))

	assert.Equal(t, puts, f.backend.PutCount())
	raw, ok := f.backend.Raw(store.DefaultKey)
	require.True(t, ok)
	assert.Equal(t, blob, raw)
	assert.Empty(t, f.sched.Registrations())

	// Repaired by hand; the next resync lifts the refusal.
	require.NoError(t, f.store.SaveAll(ctx, []model.Event{ev("a", "A", 1)}))
	require.NoError(t, f.rec.Resync(ctx))
	require.NoError(t, f.rec.Upsert(ctx, ev("b", "B", 2)))
	assert.Equal(t, []string{"a", "b"}, ids(f.rec.Events()))
}

func TestLoad_ReadFailureRefusesWrites(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.backend.FailGets(true)
	require.Error(t, f.rec.Load(ctx))
	f.backend.FailGets(false)

	err := f.rec.Upsert(ctx, ev("a", "A", 1))
	assert.True(t, errors.Is(err, ErrStoreUnreadable))
	assert.Zero(t, f.backend.PutCount())

	require.NoError(t, f.rec.Load(ctx))
	require.NoError(t, f.rec.Upsert(ctx, ev("a", "A", 1)))
}

func TestUpdate_UnknownID(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.rec.Upsert(ctx, ev("a", "A", 1)))
	require.NoError(t, f.rec.DeleteID(ctx, "a"))
	puts := f.backend.PutCount()

	err := f.rec.Update(ctx, ev("a", "A again", 1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, puts, f.backend.PutCount())
	assert.Empty(t, f.rec.Events())
	assert.Empty(t, f.sched.Registrations())
}

func TestUpdate_Existing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.rec.Upsert(ctx, ev("a", "A", 1)))
	require.NoError(t, f.rec.Upsert(ctx, ev("b", "B", 2)))

	require.NoError(t, f.rec.Update(ctx, ev("a", "A moved", 7)))
	assert.Equal(t, []string{"a", "b"}, ids(f.rec.Events()))
	got, _ := f.rec.Get("a")
	assert.Equal(t, "A moved", got.Title)
}

func TestResync_UnchangedKeepsRegistration(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.rec.Upsert(ctx, ev("a", "A", 1)))
	before := f.sched.Registrations()

	require.NoError(t, f.rec.Resync(ctx))
	assert.Equal(t, before, f.sched.Registrations())
}
