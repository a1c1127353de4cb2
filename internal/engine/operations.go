package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	etaterrors "github.com/harunnryd/etat/internal/errors"
	"github.com/harunnryd/etat/internal/kv"
	"github.com/harunnryd/etat/internal/logger"
	"github.com/harunnryd/etat/internal/reference"
	"github.com/harunnryd/etat/internal/report"
	"github.com/harunnryd/etat/internal/session"
	"github.com/harunnryd/etat/internal/store"
	"github.com/harunnryd/etat/internal/urlstate"
)

// StartRun creates a session for the template and points the location at
// the flow's home screen with both identifiers attached.
func (e *Engine) StartRun(ctx context.Context, templateID string, flow store.FlowType) (*store.Session, error) {
	e.navMu.Lock()
	defer e.navMu.Unlock()

	if !reference.ValidTemplateID(templateID) {
		return nil, etaterrors.InvalidInput(fmt.Sprintf("invalid template id %q", templateID))
	}
	sess, err := e.sessions.Create(ctx, templateID, flow)
	if err != nil {
		return nil, err
	}

	home := e.guard.Routes()[flow].Home
	params := urlstate.State{TemplateID: templateID, SessionID: sess.ID}
	e.location.Replace(home, params.Apply(e.location.Query()))
	if _, err := e.reconciler.Reconcile(ctx); err != nil {
		logger.From(ctx).Warn("Failed to persist new run identifiers", "session", sess.ID, "error", err)
	}
	return sess, nil
}

// Track records one interaction. Storage faults are logged and swallowed so
// the flow keeps going; input and lookup errors are returned.
func (e *Engine) Track(ctx context.Context, sessionID string, rec store.Interaction) (store.Interaction, error) {
	ctx = logger.WithSessionID(ctx, sessionID)
	saved, err := e.sessions.AppendInteraction(ctx, sessionID, rec)
	if err == nil {
		return saved, nil
	}
	if isStorageFault(err) {
		logger.From(ctx).Warn("Interaction not persisted", "kind", rec.Kind, "room", rec.RoomID, "error", err)
		return rec, nil
	}
	return store.Interaction{}, err
}

// UpdateProgress merges patch with the same best-effort policy as Track.
func (e *Engine) UpdateProgress(ctx context.Context, sessionID string, patch session.ProgressPatch) (*store.Session, error) {
	ctx = logger.WithSessionID(ctx, sessionID)
	sess, err := e.sessions.UpdateProgress(ctx, sessionID, patch)
	if err != nil && isStorageFault(err) {
		logger.From(ctx).Warn("Progress not persisted", "error", err)
		return nil, nil
	}
	return sess, err
}

func isStorageFault(err error) bool {
	return errors.Is(err, etaterrors.ErrStorage) || errors.Is(err, etaterrors.ErrStorageCorrupt)
}

// Complete archives the run and hands the export to the configured sinks.
func (e *Engine) Complete(ctx context.Context, sessionID string) (*store.Session, error) {
	return e.finish(ctx, sessionID, e.sessions.Complete)
}

// Terminate closes the run for good.
func (e *Engine) Terminate(ctx context.Context, sessionID string) (*store.Session, error) {
	return e.finish(ctx, sessionID, e.sessions.Terminate)
}

func (e *Engine) finish(ctx context.Context, sessionID string, transition func(context.Context, string) (*store.Session, error)) (*store.Session, error) {
	ctx = logger.WithSessionID(ctx, sessionID)
	sess, err := transition(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if len(e.reporter.Sinks()) > 0 {
		exp := report.Build(sess, e.viewFor(ctx, sess))
		if _, err := e.reporter.Publish(ctx, exp); err != nil {
			logger.From(ctx).Warn("Report not delivered", "status", sess.Status, "error", err)
		}
	}
	return sess, nil
}

// ExportResult is an encoded export ready to hand out.
type ExportResult struct {
	Export report.Export
	Body   []byte
	Digest string
}

func (e *Engine) Export(ctx context.Context, sessionID string) (*ExportResult, error) {
	sess, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, etaterrors.NotFound(fmt.Sprintf("session %s", sessionID))
	}
	exp := report.Build(sess, e.viewFor(ctx, sess))
	body, digest, err := report.Encode(exp)
	if err != nil {
		return nil, etaterrors.WrapWithCategory(err, "encode export", etaterrors.ErrInternal)
	}
	return &ExportResult{Export: exp, Body: body, Digest: digest}, nil
}

// viewFor returns the session's template view, or an empty one when the
// template cannot be loaded; interactions are still exported.
func (e *Engine) viewFor(ctx context.Context, sess *store.Session) reference.View {
	if ds, ok := e.loader.Current(sess.TemplateID, sess.FlowType); ok {
		return ds.View
	}
	ds, err := e.loader.Load(ctx, sess.TemplateID, sess.FlowType)
	if err != nil {
		logger.From(ctx).Warn("Exporting without template view", "template", sess.TemplateID, "error", err)
		return reference.View{TemplateID: sess.TemplateID, Flow: sess.FlowType}
	}
	return ds.View
}

// Session returns the stored session or NotFound.
func (e *Engine) Session(ctx context.Context, sessionID string) (*store.Session, error) {
	sess, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, etaterrors.NotFound(fmt.Sprintf("session %s", sessionID))
	}
	return sess, nil
}

func (e *Engine) Sessions(ctx context.Context) ([]*store.Session, error) {
	return e.sessions.List(ctx)
}

// Template loads a dataset, bypassing the cache when force is set.
func (e *Engine) Template(ctx context.Context, templateID string, flow store.FlowType, force bool) (*reference.Dataset, error) {
	if force {
		return e.loader.ForceReload(ctx, templateID, flow)
	}
	return e.loader.Load(ctx, templateID, flow)
}

// InvalidateTemplate drops the cached dataset so the next load goes to the network.
func (e *Engine) InvalidateTemplate(ctx context.Context, templateID string) error {
	if !reference.ValidTemplateID(templateID) {
		return etaterrors.InvalidInput(fmt.Sprintf("invalid template id %q", templateID))
	}
	return e.loader.Invalidate(ctx, templateID)
}

// Logout clears every store except the active template id, so a signed-out
// user can resume the same property without picking it again.
func (e *Engine) Logout(ctx context.Context) error {
	e.navMu.Lock()
	defer e.navMu.Unlock()

	keep, _ := e.scalars.Get(kv.KeyActiveTemplateID)
	if err := e.clear(ctx, kv.KeyActiveTemplateID); err != nil {
		return err
	}
	e.location.Replace(e.location.Path(), urlstate.State{TemplateID: keep}.Apply(e.location.Query()))
	slog.Info("Logged out", "kept_template", keep)
	return nil
}

// Reset clears everything, the active template included.
func (e *Engine) Reset(ctx context.Context) error {
	e.navMu.Lock()
	defer e.navMu.Unlock()

	if err := e.clear(ctx); err != nil {
		return err
	}
	e.location.Replace(e.location.Path(), urlstate.State{}.Apply(e.location.Query()))
	slog.Info("All local state cleared")
	return nil
}

func (e *Engine) clear(ctx context.Context, preserve ...string) error {
	if err := e.worker.Reset(ctx); err != nil {
		return err
	}
	e.loader.Forget()
	if err := e.scalars.Clear(preserve...); err != nil {
		return etaterrors.WrapWithCategory(err, "clear scalars", etaterrors.ErrStorage)
	}
	return nil
}
