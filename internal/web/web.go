package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"keydates/internal/config"
	"keydates/internal/ics"
	appLog "keydates/internal/log"
	"keydates/internal/model"
	"keydates/internal/reconcile"
	"keydates/internal/store"
	"keydates/internal/trigger"
)

// TriggerLister exposes the pending registrations.
type TriggerLister interface {
	Registrations() []trigger.Registration
}

// Granter is implemented by permissions that can be granted from the API.
type Granter interface {
	Grant() error
}

// Server provides the HTTP API over the event collection.
type Server struct {
	cfg      *config.Config
	collab   *reconcile.Collaborator
	triggers TriggerLister
	perm     trigger.Permission
	mux      *http.ServeMux

	// now stamps ICS exports.
	now func() time.Time
}

// NewServer constructs a new Server. A nil perm means trigger.AlwaysGranted.
func NewServer(cfg *config.Config, rec *reconcile.Reconciler, triggers TriggerLister, perm trigger.Permission) *Server {
	if perm == nil {
		perm = trigger.AlwaysGranted{}
	}
	s := &Server{
		cfg:      cfg,
		collab:   reconcile.NewCollaborator(rec),
		triggers: triggers,
		perm:     perm,
		mux:      http.NewServeMux(),
		now:      time.Now,
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// 빈 사용자명 또는 비밀번호가 설정된 경우에는 비활성화로 취급한다.
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// /health 는 항상 무인증으로 노출한다.
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="keydates", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Serve listens on s.cfg.Listen until ctx is canceled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	appLog.Info("HTTP server stopped")
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/events", s.handleListEvents)
	s.mux.HandleFunc("POST /api/events", s.handleCreateEvent)
	s.mux.HandleFunc("PUT /api/events/{id}", s.handleUpdateEvent)
	s.mux.HandleFunc("DELETE /api/events/{id}", s.handleDeleteEvent)
	s.mux.HandleFunc("GET /api/events.ics", s.handleExportICS)
	s.mux.HandleFunc("GET /api/triggers", s.handleTriggers)
	s.mux.HandleFunc("GET /api/permission", s.handlePermission)
	s.mux.HandleFunc("POST /api/permission", s.handleGrantPermission)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// eventsResponse is the JSON response shape for GET /api/events.
type eventsResponse struct {
	Events  []model.Event `json:"events"`
	Pending []string      `json:"pending"`
}

func (s *Server) handleListEvents(w http.ResponseWriter, _ *http.Request) {
	rec := s.collab.Reconciler()
	writeJSON(w, http.StatusOK, eventsResponse{
		Events:  rec.Events(),
		Pending: rec.Pending(),
	})
}

// handleCreateEvent stores a new event. A missing id is generated.
func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var ev model.Event
	if err := decodeJSON(w, r, &ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	stored, err := s.collab.OnEventSubmitted(r.Context(), ev)
	if err != nil {
		s.writeMutationError(w, stored, err)
		return
	}
	writeJSON(w, http.StatusCreated, stored)
}

// handleUpdateEvent replaces an existing event. The path id wins over any
// id in the body.
func (s *Server) handleUpdateEvent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var ev model.Event
	if err := decodeJSON(w, r, &ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	ev.ID = id

	if err := s.collab.OnEventEdited(r.Context(), ev); err != nil {
		s.writeMutationError(w, ev, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// handleDeleteEvent removes an event. Unknown ids succeed without effect.
func (s *Server) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	ev := model.Event{ID: r.PathValue("id")}
	if err := s.collab.OnEventDeleted(r.Context(), ev); err != nil {
		s.writeMutationError(w, ev, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// permissionDeniedResponse reports an event that was stored but whose
// trigger is pending the exact-trigger grant.
type permissionDeniedResponse struct {
	Error string      `json:"error"`
	Event model.Event `json:"event"`
}

func (s *Server) writeMutationError(w http.ResponseWriter, ev model.Event, err error) {
	switch {
	case errors.Is(err, reconcile.ErrNotFound):
		writeError(w, http.StatusNotFound, "unknown event id")
	case errors.Is(err, reconcile.ErrStoreUnreadable):
		appLog.Error("api: mutation refused, store unreadable", err, "event_id", ev.ID)
		writeError(w, http.StatusServiceUnavailable, "event store could not be read; edits are disabled until it is repaired")
	case trigger.IsPermissionDenied(err):
		appLog.Warn("api: event stored, trigger pending permission", "event_id", ev.ID)
		writeJSON(w, http.StatusConflict, permissionDeniedResponse{Error: err.Error(), Event: ev})
	case store.IsWriteFailure(err):
		appLog.Error("api: store write failed", err, "event_id", ev.ID)
		writeError(w, http.StatusInternalServerError, "failed to persist events")
	case ev.ID == "":
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		appLog.Error("api: mutation failed", err, "event_id", ev.ID)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleExportICS(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="keydates.ics"`)
	if err := ics.Export(w, s.collab.Reconciler().Events(), s.now().UTC()); err != nil {
		appLog.Error("api: ics export failed", err)
	}
}

func (s *Server) handleTriggers(w http.ResponseWriter, _ *http.Request) {
	regs := s.triggers.Registrations()
	if regs == nil {
		regs = []trigger.Registration{}
	}
	writeJSON(w, http.StatusOK, regs)
}

// permissionResponse is the JSON response shape for /api/permission.
type permissionResponse struct {
	Granted bool     `json:"granted"`
	Mode    string   `json:"mode"`
	Pending []string `json:"pending"`
}

func (s *Server) permissionStatus() permissionResponse {
	mode := ""
	if s.cfg != nil {
		mode = s.cfg.Permission.Mode
	}
	return permissionResponse{
		Granted: s.perm.Granted(),
		Mode:    mode,
		Pending: s.collab.Reconciler().Pending(),
	}
}

func (s *Server) handlePermission(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.permissionStatus())
}

// handleGrantPermission grants exact triggers (when the permission supports
// it) and schedules every event still waiting for one.
func (s *Server) handleGrantPermission(w http.ResponseWriter, _ *http.Request) {
	if g, ok := s.perm.(Granter); ok {
		if err := g.Grant(); err != nil {
			appLog.Error("api: permission grant failed", err)
			writeError(w, http.StatusInternalServerError, "failed to grant permission")
			return
		}
	}

	if err := s.collab.Reconciler().ScheduleAll(); err != nil {
		appLog.Error("api: scheduling after grant failed", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.permissionStatus())
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
