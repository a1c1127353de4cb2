package engine

import (
	"context"
	"errors"
	"log/slog"
	"net/url"

	etaterrors "github.com/harunnryd/etat/internal/errors"
	"github.com/harunnryd/etat/internal/kv"
	"github.com/harunnryd/etat/internal/logger"
	"github.com/harunnryd/etat/internal/navigation"
	"github.com/harunnryd/etat/internal/reference"
	"github.com/harunnryd/etat/internal/session"
	"github.com/harunnryd/etat/internal/store"
	"github.com/harunnryd/etat/internal/urlstate"
)

// Navigator is implemented by locations that can be moved to a new URL.
type Navigator interface {
	Navigate(rawURL string) error
}

// Screen is what a guarded region renders after a mount.
type Screen struct {
	Path              string               `json:"path"`
	URL               string               `json:"url"`
	Action            urlstate.Action      `json:"action"`
	Redirect          *navigation.Redirect `json:"redirect,omitempty"`
	RedirectExhausted bool                 `json:"redirect_exhausted,omitempty"`
	StaleSession      string               `json:"stale_session,omitempty"`
	SessionError      string               `json:"session_error,omitempty"`
	Session           *store.Session       `json:"session,omitempty"`
	Dataset           *reference.Dataset   `json:"dataset,omitempty"`
	DatasetError      string               `json:"dataset_error,omitempty"`
	CompletedTasks    []string             `json:"completed_tasks"`
}

// Navigate moves the location to rawURL and mounts it.
func (e *Engine) Navigate(ctx context.Context, rawURL string) (*Screen, error) {
	e.navMu.Lock()
	defer e.navMu.Unlock()

	if err := e.moveTo(rawURL); err != nil {
		return nil, err
	}
	return e.mount(ctx)
}

// MoveTo pushes rawURL onto the location without mounting it.
func (e *Engine) MoveTo(rawURL string) error {
	e.navMu.Lock()
	defer e.navMu.Unlock()
	return e.moveTo(rawURL)
}

func (e *Engine) moveTo(rawURL string) error {
	nav, ok := e.location.(Navigator)
	if !ok {
		return etaterrors.InvalidInput("location does not support navigation")
	}
	if err := nav.Navigate(rawURL); err != nil {
		return etaterrors.InvalidInput(err.Error())
	}
	return nil
}

// Mount runs one full pass for the current location: reconcile the URL with
// storage, resolve the session and dataset, then apply the route guard.
// Storage faults degrade to best-effort data; only cancellation is returned.
func (e *Engine) Mount(ctx context.Context) (*Screen, error) {
	e.navMu.Lock()
	defer e.navMu.Unlock()
	return e.mount(ctx)
}

func (e *Engine) mount(ctx context.Context) (*Screen, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	screen := &Screen{CompletedTasks: []string{}}

	decision, err := e.reconciler.Reconcile(ctx)
	if err != nil {
		slog.Warn("URL reconciliation failed", "error", err)
	}
	screen.Action = decision.Action

	params := urlstate.FromQuery(e.location.Query())
	sess, readErr := e.resolveSession(ctx, params.SessionID, screen)
	if readErr != nil {
		if isCancellation(readErr) {
			return nil, readErr
		}
		screen.SessionError = readErr.Error()
	}
	if screen.StaleSession != "" {
		params.SessionID = ""
	}
	if sess != nil {
		ctx = logger.WithSessionID(ctx, sess.ID)
	}

	templateID := params.TemplateID
	if templateID == "" && sess != nil {
		templateID = sess.TemplateID
	}
	if templateID != "" {
		ds, err := e.loader.Load(ctx, templateID, e.flowFor(sess))
		switch {
		case err == nil:
			screen.Dataset = ds
		case isCancellation(err):
			return nil, err
		default:
			logger.From(ctx).Warn("Template unavailable", "template", templateID, "error", err)
			screen.DatasetError = err.Error()
		}
	}

	// Without a trustworthy session read the guard would pick the wrong
	// flow, so the screen stays where it is.
	if readErr == nil {
		e.guardMount(ctx, sess, params, screen)
	}
	if screen.Session != nil && screen.Dataset != nil {
		screen.CompletedTasks = session.ReconstructCompletedTasks(
			screen.Session, screen.Dataset.View.RoomTasks(),
		).Sorted()
	}

	screen.Path = e.location.Path()
	screen.URL = (&url.URL{Path: screen.Path, RawQuery: e.location.Query().Encode()}).String()
	e.rememberPath(ctx, screen.Session, screen.Path)
	return screen, nil
}

// resolveSession loads the session named in the URL. An id that no longer
// resolves is stale: it is cleared from the URL and storage so the next pass
// starts from the default route instead of retrying. A failed read is
// returned as is and leaves every identifier in place.
func (e *Engine) resolveSession(ctx context.Context, id string, screen *Screen) (*store.Session, error) {
	if id == "" {
		return nil, nil
	}
	sess, err := e.sessions.Get(ctx, id)
	if err != nil && !errors.Is(err, etaterrors.ErrNotFound) {
		logger.From(ctx).Warn("Session read failed", "session", id, "error", err)
		return nil, err
	}
	if sess != nil {
		return sess, nil
	}

	logger.From(ctx).Warn("Stale session identifier", "session", id,
		"error", etaterrors.ErrStaleIdentifier)
	screen.StaleSession = id
	if active, _ := e.scalars.Get(kv.KeyActiveSessionID); active == id {
		if err := e.scalars.Delete(kv.KeyActiveSessionID); err != nil {
			slog.Warn("Failed to clear stale session id", "error", err)
		}
	}
	var snap urlstate.Snapshot
	if err := e.scalars.GetJSON(kv.KeyURLParams, &snap); err == nil && snap.SessionID == id {
		snap.SessionID = ""
		if err := e.scalars.SetJSON(kv.KeyURLParams, snap); err != nil {
			slog.Warn("Failed to clear stale session from snapshot", "error", err)
		}
	}
	q := e.location.Query()
	q.Del(urlstate.ParamSession)
	e.location.Replace(e.location.Path(), q)
	return nil, nil
}

// flowFor picks the dataset flow: the session's, else the flow owning the
// current route, else check-in.
func (e *Engine) flowFor(sess *store.Session) store.FlowType {
	if sess != nil {
		return sess.FlowType
	}
	path := e.location.Path()
	for flow, fr := range e.guard.Routes() {
		if path == fr.Home || path == fr.Active || path == fr.Done {
			return flow
		}
	}
	return store.FlowCheckin
}

// guardMount applies the guard with a bounded number of restoration attempts.
// The session is re-read after each redirect since a write may have landed
// while the previous read was in flight.
func (e *Engine) guardMount(ctx context.Context, sess *store.Session, params urlstate.State, screen *Screen) {
	mount := e.guard.NewMount(e.maxRedirect, e.metrics)
	lastPath := e.lastPath(sess)

	for {
		redirect, err := mount.Check(e.location.Path(), sess, lastPath, params)
		if err != nil {
			logger.From(ctx).Warn("Route restoration stopped", "path", e.location.Path(), "error", err)
			screen.RedirectExhausted = true
			break
		}
		if redirect == nil {
			break
		}
		e.location.Replace(redirect.Path, redirect.Query.Apply(e.location.Query()))
		screen.Redirect = redirect
		logger.From(ctx).Debug("Route corrected", "to", redirect.Path)

		if sess == nil {
			break
		}
		fresh, err := e.sessions.Get(ctx, sess.ID)
		if err != nil || fresh == nil {
			break
		}
		sess = fresh
	}
	screen.Session = sess
}

func (e *Engine) lastPath(sess *store.Session) string {
	if sess != nil && sess.Progress.LastPath != "" {
		return sess.Progress.LastPath
	}
	path, _ := e.scalars.Get(kv.KeyLastPath)
	return path
}

// rememberPath stores the rendered path in the scalar store and, for active
// sessions, in the session progress.
func (e *Engine) rememberPath(ctx context.Context, sess *store.Session, path string) {
	if current, _ := e.scalars.Get(kv.KeyLastPath); current != path {
		if err := e.scalars.Set(kv.KeyLastPath, path); err != nil {
			slog.Warn("Failed to persist last path", "error", err)
		}
	}
	if sess == nil || sess.Status != store.StatusActive || sess.Progress.LastPath == path {
		return
	}
	updated, err := e.sessions.UpdateProgress(ctx, sess.ID, session.ProgressPatch{LastPath: &path})
	if err != nil {
		logger.From(ctx).Warn("Failed to persist session path", "error", err)
		return
	}
	sess.Progress.LastPath = updated.Progress.LastPath
	sess.LastActiveAt = updated.LastActiveAt
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
