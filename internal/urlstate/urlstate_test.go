package urlstate

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harunnryd/etat/internal/kv"
)

var now = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

const ttl = 24 * time.Hour

func TestDecideBothPresentPersists(t *testing.T) {
	d := Decide(State{TemplateID: "T1", SessionID: "S1"}, nil, "", now, ttl)
	assert.Equal(t, ActionPersist, d.Action)
	assert.Equal(t, State{TemplateID: "T1", SessionID: "S1"}, d.Persist)
	assert.False(t, d.Rewrite)
}

func TestDecideTemplateOnlyIsNewSessionIntent(t *testing.T) {
	snap := &Snapshot{State: State{TemplateID: "T0", SessionID: "S9"}, SavedAt: now.Add(-time.Hour)}

	for _, active := range []string{"", "S9", "S1"} {
		d := Decide(State{TemplateID: "T1"}, snap, active, now, ttl)
		assert.Equal(t, ActionNewSession, d.Action)
		assert.False(t, d.Rewrite, "URL is never rewritten with a session id")
		assert.Empty(t, d.URL.SessionID)
		assert.Equal(t, State{TemplateID: "T1"}, d.Persist)
		assert.True(t, d.ClearActiveSession)
	}
}

func TestDecideRestoresFromSnapshot(t *testing.T) {
	snap := &Snapshot{State: State{TemplateID: "T1", SessionID: "S1"}, SavedAt: now.Add(-time.Hour)}

	d := Decide(State{}, snap, "", now, ttl)
	assert.Equal(t, ActionRestore, d.Action)
	assert.True(t, d.Rewrite)
	assert.Equal(t, State{TemplateID: "T1", SessionID: "S1"}, d.URL)
}

func TestDecidePrefersActiveSessionScalar(t *testing.T) {
	snap := &Snapshot{State: State{TemplateID: "T1", SessionID: "S-old"}, SavedAt: now.Add(-time.Hour)}

	d := Decide(State{}, snap, "S-new", now, ttl)
	assert.Equal(t, State{TemplateID: "T1", SessionID: "S-new"}, d.URL)
}

func TestDecideKeepsSessionFromURL(t *testing.T) {
	snap := &Snapshot{State: State{TemplateID: "T1", SessionID: "S-old"}, SavedAt: now.Add(-time.Hour)}

	d := Decide(State{SessionID: "S2"}, snap, "S-active", now, ttl)
	assert.Equal(t, State{TemplateID: "T1", SessionID: "S2"}, d.URL)
}

func TestDecideDiscardsExpiredSnapshot(t *testing.T) {
	snap := &Snapshot{State: State{TemplateID: "T1", SessionID: "S1"}, SavedAt: now.Add(-25 * time.Hour)}

	d := Decide(State{}, snap, "", now, ttl)
	assert.Equal(t, ActionNone, d.Action)
	assert.True(t, d.DiscardSnapshot)
	assert.False(t, d.Rewrite)
}

func TestDecideNothingToDo(t *testing.T) {
	d := Decide(State{}, nil, "", now, ttl)
	assert.Equal(t, ActionNone, d.Action)
	assert.False(t, d.Rewrite)
}

func TestStateApplyPreservesOtherParams(t *testing.T) {
	q := url.Values{"tab": {"photos"}, ParamSession: {"stale"}}
	out := State{TemplateID: "T1"}.Apply(q)
	assert.Equal(t, "T1", out.Get(ParamTemplate))
	assert.Empty(t, out.Get(ParamSession))
	assert.Equal(t, "photos", out.Get("tab"))
	assert.Equal(t, "stale", q.Get(ParamSession), "input is not modified")
}

func newTestReconciler(t *testing.T, rawURL string) (*Reconciler, *MemoryLocation, *kv.Store) {
	t.Helper()
	loc, err := NewMemoryLocation(rawURL)
	require.NoError(t, err)
	store, err := kv.Open(t.TempDir())
	require.NoError(t, err)
	r := NewReconciler(loc, store, Config{PollInterval: 5 * time.Millisecond, SnapshotTTL: ttl})
	r.SetClock(func() time.Time { return now })
	return r, loc, store
}

func TestReconcileNewSessionScenario(t *testing.T) {
	r, loc, store := newTestReconciler(t, "/checkin-home?template=T1")
	require.NoError(t, store.SetJSON(kv.KeyURLParams, Snapshot{
		State:   State{TemplateID: "T7", SessionID: "S9"},
		SavedAt: now.Add(-time.Hour),
	}))
	require.NoError(t, store.Set(kv.KeyActiveSessionID, "S9"))

	_, err := r.Reconcile(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "T1", loc.Query().Get(ParamTemplate))
	assert.Empty(t, loc.Query().Get(ParamSession))
	_, ok := store.Get(kv.KeyActiveSessionID)
	assert.False(t, ok)
	active, _ := store.Get(kv.KeyActiveTemplateID)
	assert.Equal(t, "T1", active)
}

func TestReconcileRestoresURLWithoutHistory(t *testing.T) {
	r, loc, store := newTestReconciler(t, "/checkin")
	require.NoError(t, store.SetJSON(kv.KeyURLParams, Snapshot{
		State:   State{TemplateID: "T1", SessionID: "S1"},
		SavedAt: now.Add(-time.Hour),
	}))

	d, err := r.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ActionRestore, d.Action)
	assert.Equal(t, "/checkin", loc.Path())
	assert.Equal(t, "S1", loc.Query().Get(ParamSession))
	assert.Len(t, loc.History(), 1, "replace does not add a history entry")
}

func TestReconcileCorruptSnapshotIsIgnored(t *testing.T) {
	r, loc, store := newTestReconciler(t, "/checkin")
	require.NoError(t, store.Set(kv.KeyURLParams, "{broken"))

	d, err := r.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ActionNone, d.Action)
	assert.Empty(t, loc.Query())
	_, ok := store.Get(kv.KeyURLParams)
	assert.False(t, ok)
}

func TestRunReactsToNavigation(t *testing.T) {
	r, loc, store := newTestReconciler(t, "/checkin-home")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.NoError(t, loc.Navigate("/checkin?template=T2&session=S2"))
	require.Eventually(t, func() bool {
		v, _ := store.Get(kv.KeyActiveSessionID)
		return v == "S2"
	}, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

// pollingLocation hides MemoryLocation's Subscribe so Run falls back to polling.
type pollingLocation struct{ inner *MemoryLocation }

func (p pollingLocation) Path() string                      { return p.inner.Path() }
func (p pollingLocation) Query() url.Values                 { return p.inner.Query() }
func (p pollingLocation) Replace(path string, q url.Values) { p.inner.Replace(path, q) }

func TestRunPollsWithoutNotifier(t *testing.T) {
	mem, err := NewMemoryLocation("/checkout-home")
	require.NoError(t, err)
	store, err := kv.Open(t.TempDir())
	require.NoError(t, err)
	r := NewReconciler(pollingLocation{inner: mem}, store, Config{PollInterval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = r.Run(ctx) }()

	require.NoError(t, mem.Navigate("/checkout?template=T3&session=S3"))
	require.Eventually(t, func() bool {
		v, _ := store.Get(kv.KeyActiveTemplateID)
		return v == "T3"
	}, time.Second, 5*time.Millisecond)
}
