package components

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harunnryd/etat/internal/config"
	"github.com/harunnryd/etat/internal/engine"
	"github.com/harunnryd/etat/internal/metrics"
	"github.com/harunnryd/etat/internal/report"
	"github.com/harunnryd/etat/internal/store"
	"github.com/harunnryd/etat/internal/urlstate"
)

const apiTemplate = `{
  "id": "T1",
  "name": "Flat 4B",
  "rooms": [
    {"id": "kitchen", "tasks": [{"id": "k1"}, {"id": "k2"}]},
    {"id": "bath", "tasks": [{"id": "b1"}]}
  ]
}`

type apiFetcher struct{}

func (apiFetcher) Fetch(ctx context.Context, id string) ([]byte, error) {
	return []byte(apiTemplate), nil
}

func newTestAPI(t *testing.T) *httptest.Server {
	t.Helper()
	loc, err := urlstate.NewMemoryLocation("/")
	require.NoError(t, err)

	cfg := &config.Config{
		Store: config.StoreConfig{DataDir: t.TempDir(), LockTimeout: "2s", LockRetry: "10ms"},
	}
	eng, err := engine.New(cfg, engine.Deps{Location: loc, Fetcher: apiFetcher{}, Sinks: []report.Sink{}})
	require.NoError(t, err)
	t.Cleanup(eng.Close)

	srv := httptest.NewServer(NewAPIHandler(nil, eng, metrics.New()))
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, r)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHTTPServerComponent_Dependencies(t *testing.T) {
	comp := NewHTTPServerComponent(nil, &config.ServerConfig{Port: 8080}, nil, nil)
	assert.Equal(t, []string{"StoreWorker", "Engine", "Janitor"}, comp.Dependencies())
}

func TestHTTPServerComponent_InitRequiresEngine(t *testing.T) {
	comp := NewHTTPServerComponent(nil, &config.ServerConfig{Port: 8080}, NewEngineComponent(nil, nil, nil), nil)
	require.Error(t, comp.Init(context.Background()))

	h, err := comp.Health(context.Background())
	require.NoError(t, err)
	assert.False(t, h.Healthy)
}

func TestAPI_HealthWithoutDaemon(t *testing.T) {
	srv := newTestAPI(t)

	resp := do(t, http.MethodGet, srv.URL+"/health", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string]any](t, resp)
	assert.Equal(t, "ok", body["status"])
}

func TestAPI_MetricsExposed(t *testing.T) {
	srv := newTestAPI(t)
	do(t, http.MethodGet, srv.URL+"/health", "")

	resp := do(t, http.MethodGet, srv.URL+"/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "http_requests_total")
}

func TestAPI_SessionLifecycle(t *testing.T) {
	srv := newTestAPI(t)

	resp := do(t, http.MethodPost, srv.URL+"/api/v1/sessions", `{"template_id":"T1","flow":"checkout"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	sess := decode[store.Session](t, resp)
	require.NotEmpty(t, sess.ID)
	assert.Equal(t, store.StatusActive, sess.Status)
	base := srv.URL + "/api/v1/sessions/" + sess.ID

	resp = do(t, http.MethodGet, srv.URL+"/api/v1/location", "")
	loc := decode[locationView](t, resp)
	assert.Equal(t, "/checkout-home", loc.Path)
	assert.Equal(t, []string{sess.ID}, loc.Query[urlstate.ParamSession])

	resp = do(t, http.MethodPost, base+"/interactions",
		`{"kind":"piece_state_change","room_id":"kitchen","meta":{"status":"completed"}}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	rec := decode[store.Interaction](t, resp)
	assert.NotEmpty(t, rec.ID)

	resp = do(t, http.MethodPatch, base+"/progress", `{"current_room_id":"bath","current_task_index":0}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	updated := decode[store.Session](t, resp)
	assert.Equal(t, "bath", updated.Progress.CurrentRoomID)
	assert.Len(t, updated.Progress.Interactions, 1)

	resp = do(t, http.MethodGet, srv.URL+"/api/v1/navigate?path=/checkout?session="+sess.ID+"%26template=T1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	screen := decode[engine.Screen](t, resp)
	assert.Equal(t, "/checkout", screen.Path)
	assert.Equal(t, []string{"k1", "k2"}, screen.CompletedTasks)

	resp = do(t, http.MethodPost, base+"/terminate", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, store.StatusTerminated, decode[store.Session](t, resp).Status)

	resp = do(t, http.MethodPost, base+"/complete", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "InvalidTransition", decode[map[string]string](t, resp)["category"])

	resp = do(t, http.MethodGet, base+"/export", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, resp.Header.Get("X-Export-Digest"), 64)
	export := decode[report.Export](t, resp)
	assert.Equal(t, sess.ID, export.SessionID)
	assert.Equal(t, []string{"k1", "k2"}, export.CompletedTasks)

	resp = do(t, http.MethodGet, srv.URL+"/api/v1/sessions", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]store.Session](t, resp), 1)
}

func TestAPI_ErrorStatuses(t *testing.T) {
	srv := newTestAPI(t)

	tests := []struct {
		name     string
		method   string
		path     string
		body     string
		status   int
		category string
	}{
		{"missing session", http.MethodGet, "/api/v1/sessions/nope", "", http.StatusNotFound, "NotFound"},
		{"bad flow", http.MethodPost, "/api/v1/sessions", `{"template_id":"T1","flow":"sideways"}`, http.StatusBadRequest, "InvalidInput"},
		{"unknown field", http.MethodPost, "/api/v1/sessions", `{"template":"T1"}`, http.StatusBadRequest, "InvalidInput"},
		{"bad template id", http.MethodPost, "/api/v1/sessions", `{"template_id":"../etc","flow":"checkin"}`, http.StatusBadRequest, "InvalidInput"},
		{"bad force", http.MethodGet, "/api/v1/templates/T1?flow=checkin&force=maybe", "", http.StatusBadRequest, "InvalidInput"},
		{"export missing", http.MethodGet, "/api/v1/sessions/nope/export", "", http.StatusNotFound, "NotFound"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := do(t, tt.method, srv.URL+tt.path, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.category, decode[map[string]string](t, resp)["category"])
		})
	}
}

func TestAPI_InteractionRejectsUnknownKind(t *testing.T) {
	srv := newTestAPI(t)

	resp := do(t, http.MethodPost, srv.URL+"/api/v1/sessions", `{"template_id":"T1","flow":"checkin"}`)
	sess := decode[store.Session](t, resp)

	resp = do(t, http.MethodPost, srv.URL+"/api/v1/sessions/"+sess.ID+"/interactions", `{"kind":"swipe","room_id":"kitchen"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_TemplateProjection(t *testing.T) {
	srv := newTestAPI(t)

	resp := do(t, http.MethodGet, srv.URL+"/api/v1/templates/T1?flow=checkin&force=true", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string]any](t, resp)
	assert.Equal(t, "T1", body["template_id"])

	resp = do(t, http.MethodDelete, srv.URL+"/api/v1/templates/T1", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = do(t, http.MethodGet, srv.URL+"/api/v1/templates/T1?flow=checkin", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "miss", decode[map[string]any](t, resp)["source"])
}

func TestAPI_NavigateWithoutSessionGoesHome(t *testing.T) {
	srv := newTestAPI(t)

	resp := do(t, http.MethodGet, srv.URL+"/api/v1/navigate?path=/checkout", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	screen := decode[engine.Screen](t, resp)
	require.NotNil(t, screen.Redirect)
	assert.Equal(t, "/checkin-home", screen.Path)
}

func TestAPI_PutLocationDoesNotMount(t *testing.T) {
	srv := newTestAPI(t)

	resp := do(t, http.MethodPut, srv.URL+"/api/v1/location", `{"url":"/checkout?template=T1"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	loc := decode[locationView](t, resp)
	assert.Equal(t, "/checkout", loc.Path)
	assert.Equal(t, []string{"/", "/checkout?template=T1"}, loc.History)
}

func TestAPI_LogoutKeepsTemplate(t *testing.T) {
	srv := newTestAPI(t)

	resp := do(t, http.MethodPost, srv.URL+"/api/v1/sessions", `{"template_id":"T1","flow":"checkin"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = do(t, http.MethodPost, srv.URL+"/api/v1/logout", "")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = do(t, http.MethodGet, srv.URL+"/api/v1/location", "")
	loc := decode[locationView](t, resp)
	assert.Equal(t, []string{"T1"}, loc.Query[urlstate.ParamTemplate])
	assert.Empty(t, loc.Query[urlstate.ParamSession])

	resp = do(t, http.MethodGet, srv.URL+"/api/v1/sessions", "")
	assert.Empty(t, decode[[]store.Session](t, resp))
}
