package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keydates/internal/config"
	"keydates/internal/model"
	"keydates/internal/notify"
	"keydates/internal/reconcile"
	"keydates/internal/store"
	"keydates/internal/testutil"
	"keydates/internal/trigger"
)

type grantPerm struct{ granted bool }

func (p *grantPerm) Granted() bool { return p.granted }
func (p *grantPerm) Request()      {}
func (p *grantPerm) Grant() error {
	p.granted = true
	return nil
}

type discard struct{}

func (discard) Dispatch(notify.Payload) {}

type fixture struct {
	backend *testutil.MemBackend
	perm    *grantPerm
	sched   *trigger.Scheduler
	rec     *reconcile.Reconciler
	cfg     *config.Config
	srv     *Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		backend: testutil.NewMemBackend(),
		perm:    &grantPerm{granted: true},
		cfg:     config.DefaultConfig(),
	}
	f.sched = trigger.NewScheduler(trigger.NewCronFacility(discard{}, time.Local), f.perm)
	f.rec = reconcile.New(store.New(f.backend, ""), f.sched)
	f.srv = NewServer(f.cfg, f.rec, f.sched, f.perm)
	f.srv.now = func() time.Time { return time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC) }
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rr := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rr, req)
	return rr
}

func (f *fixture) seed(t *testing.T, ev model.Event) {
	t.Helper()
	require.NoError(t, f.rec.Upsert(context.Background(), ev))
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v))
	return v
}

const lunch = `{"title":"Team lunch","description":"","day":2,"month":6,"year":2031,"hour":12,"minute":0}`

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rr := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "OK", rr.Body.String())
}

func TestCreateEvent(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodPost, "/api/events", lunch)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	created := decode[model.Event](t, rr)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "Team lunch", created.Title)

	events := f.rec.Events()
	require.Len(t, events, 1)
	assert.Equal(t, created, events[0])
	assert.Len(t, f.sched.Registrations(), 1)
}

func TestCreateEvent_KeepsGivenID(t *testing.T) {
	f := newFixture(t)
	rr := f.do(t, http.MethodPost, "/api/events", `{"id":"fixed","title":"x","day":1,"month":1,"year":2032}`)
	require.Equal(t, http.StatusCreated, rr.Code)
	_, ok := f.rec.Get("fixed")
	assert.True(t, ok)
}

func TestCreateEvent_BadJSON(t *testing.T) {
	f := newFixture(t)
	for _, body := range []string{`{`, `{"title":3}`, `{"unknown":true}`} {
		rr := f.do(t, http.MethodPost, "/api/events", body)
		assert.Equal(t, http.StatusBadRequest, rr.Code, body)
	}
	assert.Zero(t, f.backend.PutCount())
}

func TestCreateEvent_PermissionDenied(t *testing.T) {
	f := newFixture(t)
	f.perm.granted = false

	rr := f.do(t, http.MethodPost, "/api/events", lunch)
	require.Equal(t, http.StatusConflict, rr.Code)

	resp := decode[permissionDeniedResponse](t, rr)
	assert.Equal(t, "Team lunch", resp.Event.Title)
	assert.Contains(t, resp.Error, resp.Event.ID)
	assert.Len(t, f.rec.Events(), 1, "the event is stored")
	assert.Empty(t, f.sched.Registrations())
}

func TestCreateEvent_WriteFailure(t *testing.T) {
	f := newFixture(t)
	f.backend.FailPuts(true)

	rr := f.do(t, http.MethodPost, "/api/events", lunch)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Empty(t, f.rec.Events())
}

func TestUpdateEvent(t *testing.T) {
	f := newFixture(t)
	f.seed(t, model.Event{ID: "a", Title: "Old", Day: 1, Month: 1, Year: 2032})

	rr := f.do(t, http.MethodPut, "/api/events/a", `{"id":"ignored","title":"New","day":3,"month":1,"year":2032,"hour":8}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	got, ok := f.rec.Get("a")
	require.True(t, ok)
	assert.Equal(t, "New", got.Title)
	assert.Equal(t, 8, got.Hour)
	_, ghost := f.rec.Get("ignored")
	assert.False(t, ghost)
}

func TestUpdateEvent_Unknown(t *testing.T) {
	f := newFixture(t)
	rr := f.do(t, http.MethodPut, "/api/events/nope", lunch)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestUpdateEvent_DeletedConcurrently(t *testing.T) {
	f := newFixture(t)
	f.seed(t, model.Event{ID: "a", Title: "A", Day: 1, Month: 1, Year: 2032})

	var wg sync.WaitGroup
	codes := make(chan int, 1)
	wg.Add(2)
	go func() {
		defer wg.Done()
		codes <- f.do(t, http.MethodPut, "/api/events/a", lunch).Code
	}()
	go func() {
		defer wg.Done()
		f.do(t, http.MethodDelete, "/api/events/a", "")
	}()
	wg.Wait()

	// Either order is fine, but a deleted event is never brought back.
	switch code := <-codes; code {
	case http.StatusOK:
		assert.Empty(t, f.rec.Events(), "update ran first, delete removed it")
	case http.StatusNotFound:
		assert.Empty(t, f.rec.Events())
	default:
		t.Fatalf("unexpected status %d", code)
	}
	assert.Empty(t, f.sched.Registrations())

	rr := f.do(t, http.MethodPut, "/api/events/a", lunch)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Empty(t, f.rec.Events())
}

func TestMutations_StoreUnreadable(t *testing.T) {
	f := newFixture(t)
	blob := []byte(`not json`)
	f.backend.Set(store.DefaultKey, blob)
	require.Error(t, f.rec.Load(context.Background()))

	for _, c := range []struct{ method, path, body string }{
		{http.MethodPost, "/api/events", lunch},
		{http.MethodPut, "/api/events/a", lunch},
		{http.MethodDelete, "/api/events/a", ""},
	} {
		rr := f.do(t, c.method, c.path, c.body)
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code, c.method)
	}

	assert.Zero(t, f.backend.PutCount())
	raw, _ := f.backend.Raw(store.DefaultKey)
	assert.Equal(t, blob, raw)
}

func TestDeleteEvent(t *testing.T) {
	f := newFixture(t)
	f.seed(t, model.Event{ID: "a", Title: "A", Day: 1, Month: 1, Year: 2032})

	rr := f.do(t, http.MethodDelete, "/api/events/a", "")
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Empty(t, f.rec.Events())
	assert.Empty(t, f.sched.Registrations())

	rr = f.do(t, http.MethodDelete, "/api/events/a", "")
	assert.Equal(t, http.StatusNoContent, rr.Code, "unknown id is a no-op")
}

func TestListEventsAndTriggers(t *testing.T) {
	f := newFixture(t)
	f.seed(t, model.Event{ID: "a", Title: "A", Day: 1, Month: 1, Year: 2032})
	f.seed(t, model.Event{ID: "b", Title: "B", Day: 2, Month: 1, Year: 2032})

	rr := f.do(t, http.MethodGet, "/api/events", "")
	require.Equal(t, http.StatusOK, rr.Code)
	resp := decode[eventsResponse](t, rr)
	require.Len(t, resp.Events, 2)
	assert.Equal(t, "a", resp.Events[0].ID)
	assert.Empty(t, resp.Pending)

	rr = f.do(t, http.MethodGet, "/api/triggers", "")
	require.Equal(t, http.StatusOK, rr.Code)
	regs := decode[[]trigger.Registration](t, rr)
	require.Len(t, regs, 2)
	assert.Equal(t, trigger.Key("a"), regs[0].Key)
	assert.Equal(t, "A", regs[0].Payload.Title)
}

func TestTriggers_EmptyIsArray(t *testing.T) {
	f := newFixture(t)
	rr := f.do(t, http.MethodGet, "/api/triggers", "")
	assert.JSONEq(t, `[]`, rr.Body.String())
}

func TestPermission_GrantSchedulesPending(t *testing.T) {
	f := newFixture(t)
	f.perm.granted = false
	rr := f.do(t, http.MethodPost, "/api/events", `{"id":"a","title":"A","day":1,"month":1,"year":2032}`)
	require.Equal(t, http.StatusConflict, rr.Code)

	rr = f.do(t, http.MethodGet, "/api/permission", "")
	status := decode[permissionResponse](t, rr)
	assert.False(t, status.Granted)
	assert.Equal(t, []string{"a"}, status.Pending)

	rr = f.do(t, http.MethodPost, "/api/permission", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	status = decode[permissionResponse](t, rr)
	assert.True(t, status.Granted)
	assert.Empty(t, status.Pending)
	assert.Len(t, f.sched.Registrations(), 1)
}

func TestExportICS(t *testing.T) {
	f := newFixture(t)
	f.seed(t, model.Event{ID: "a", Title: "Anniversary", Day: 2, Month: 6, Year: 2031, Hour: 9, Minute: 30})

	rr := f.do(t, http.MethodGet, "/api/events.ics", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/calendar; charset=utf-8", rr.Header().Get("Content-Type"))
	assert.Contains(t, rr.Body.String(), "UID:a")
	assert.Contains(t, rr.Body.String(), "DTSTART:20310602T093000")
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture(t)
	rr := f.do(t, http.MethodPatch, "/api/events", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestBasicAuth(t *testing.T) {
	f := newFixture(t)
	f.cfg.BasicAuth = &config.BasicAuthConfig{Username: "me", Password: "secret"}

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/health", "").Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/api/events", "").Code)

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req.SetBasicAuth("me", "secret")
	rr := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req.SetBasicAuth("me", "wrong")
	rr = httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}
