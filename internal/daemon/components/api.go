package components

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/harunnryd/etat/internal/daemon"
	"github.com/harunnryd/etat/internal/engine"
	etaterrors "github.com/harunnryd/etat/internal/errors"
	"github.com/harunnryd/etat/internal/metrics"
	"github.com/harunnryd/etat/internal/session"
	"github.com/harunnryd/etat/internal/store"
)

const maxBodyBytes = 1 << 20

type api struct {
	daemon *daemon.Daemon
	engine *engine.Engine
}

// NewAPIHandler builds the JSON API over eng. d may be nil, in which case
// /health reports only the engine.
func NewAPIHandler(d *daemon.Daemon, eng *engine.Engine, m *metrics.Metrics) http.Handler {
	a := &api{daemon: d, engine: eng}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", a.handleHealth)
	mux.Handle("GET /metrics", m.Handler())

	mux.HandleFunc("GET /api/v1/navigate", a.handleNavigate)
	mux.HandleFunc("GET /api/v1/location", a.handleGetLocation)
	mux.HandleFunc("PUT /api/v1/location", a.handlePutLocation)

	mux.HandleFunc("GET /api/v1/sessions", a.handleListSessions)
	mux.HandleFunc("POST /api/v1/sessions", a.handleStartRun)
	mux.HandleFunc("GET /api/v1/sessions/{id}", a.handleGetSession)
	mux.HandleFunc("POST /api/v1/sessions/{id}/interactions", a.handleTrack)
	mux.HandleFunc("PATCH /api/v1/sessions/{id}/progress", a.handleProgress)
	mux.HandleFunc("POST /api/v1/sessions/{id}/complete", a.handleComplete)
	mux.HandleFunc("POST /api/v1/sessions/{id}/terminate", a.handleTerminate)
	mux.HandleFunc("GET /api/v1/sessions/{id}/export", a.handleExport)

	mux.HandleFunc("GET /api/v1/templates/{id}", a.handleTemplate)
	mux.HandleFunc("DELETE /api/v1/templates/{id}", a.handleInvalidateTemplate)
	mux.HandleFunc("POST /api/v1/logout", a.handleLogout)
	mux.HandleFunc("POST /api/v1/reset", a.handleReset)

	return m.RequestTrackingMiddleware(mux)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := etaterrors.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		slog.Error("API request failed", "error", err)
	}
	writeJSON(w, status, map[string]string{
		"error":    err.Error(),
		"category": etaterrors.Category(err),
	})
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return etaterrors.InvalidInput(fmt.Sprintf("decode request body: %v", err))
	}
	return nil
}

func (a *api) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok"}
	if a.daemon != nil {
		resp["status"] = a.daemon.Health()
		resp["uptime_seconds"] = int(a.daemon.Uptime().Seconds())
		components := make(map[string]any)
		for name, ch := range a.daemon.ComponentHealth() {
			entry := map[string]any{"healthy": ch.Healthy}
			if ch.Error != nil {
				entry["error"] = ch.Error.Error()
			}
			components[name] = entry
		}
		resp["components"] = components
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *api) handleNavigate(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("path")
	if target == "" {
		screen, err := a.engine.Mount(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, screen)
		return
	}
	screen, err := a.engine.Navigate(r.Context(), target)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, screen)
}

type locationView struct {
	Path    string              `json:"path"`
	Query   map[string][]string `json:"query"`
	History []string            `json:"history,omitempty"`
}

func (a *api) location() locationView {
	loc := a.engine.Location()
	view := locationView{Path: loc.Path(), Query: loc.Query()}
	if h, ok := loc.(interface{ History() []string }); ok {
		view.History = h.History()
	}
	return view
}

func (a *api) handleGetLocation(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.location())
}

// handlePutLocation moves the address bar without mounting; the reconciler
// loop picks the change up.
func (a *api) handlePutLocation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL string `json:"url"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := a.engine.MoveTo(req.URL); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.location())
}

func (a *api) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := a.engine.Sessions(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if sessions == nil {
		sessions = []*store.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (a *api) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TemplateID string         `json:"template_id"`
		Flow       store.FlowType `json:"flow"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	sess, err := a.engine.StartRun(r.Context(), req.TemplateID, req.Flow)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (a *api) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := a.engine.Session(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (a *api) handleTrack(w http.ResponseWriter, r *http.Request) {
	var rec store.Interaction
	if err := decodeBody(r, &rec); err != nil {
		writeError(w, err)
		return
	}
	saved, err := a.engine.Track(r.Context(), r.PathValue("id"), rec)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

func (a *api) handleProgress(w http.ResponseWriter, r *http.Request) {
	var patch session.ProgressPatch
	if err := decodeBody(r, &patch); err != nil {
		writeError(w, err)
		return
	}
	sess, err := a.engine.UpdateProgress(r.Context(), r.PathValue("id"), patch)
	if err != nil {
		writeError(w, err)
		return
	}
	if sess == nil {
		writeJSON(w, http.StatusAccepted, map[string]bool{"persisted": false})
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (a *api) handleComplete(w http.ResponseWriter, r *http.Request) {
	sess, err := a.engine.Complete(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (a *api) handleTerminate(w http.ResponseWriter, r *http.Request) {
	sess, err := a.engine.Terminate(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (a *api) handleExport(w http.ResponseWriter, r *http.Request) {
	res, err := a.engine.Export(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Export-Digest", res.Digest)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(res.Body); err != nil {
		slog.Warn("Failed to write export", "error", err)
	}
}

func (a *api) handleTemplate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	force := false
	if raw := q.Get("force"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, etaterrors.InvalidInput("force must be a boolean"))
			return
		}
		force = v
	}
	ds, err := a.engine.Template(r.Context(), r.PathValue("id"), store.FlowType(q.Get("flow")), force)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ds)
}

func (a *api) handleInvalidateTemplate(w http.ResponseWriter, r *http.Request) {
	if err := a.engine.InvalidateTemplate(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := a.engine.Logout(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := a.engine.Reset(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
