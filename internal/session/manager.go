package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/harunnryd/etat/internal/concurrency"
	etaterrors "github.com/harunnryd/etat/internal/errors"
	"github.com/harunnryd/etat/internal/flight"
	"github.com/harunnryd/etat/internal/metrics"
	"github.com/harunnryd/etat/internal/store"
)

// Store is the slice of the document store the manager writes through.
type Store interface {
	GetSession(ctx context.Context, id string) (*store.Session, error)
	SaveSession(ctx context.Context, session *store.Session) error
	DeleteSession(ctx context.Context, id string) error
	ListSessions(ctx context.Context) ([]*store.Session, error)
}

// ProgressPatch is merged into a session's progress. Nil fields are left as is;
// Interactions are appended, never replacing what is already recorded.
type ProgressPatch struct {
	CurrentRoomID    *string             `json:"current_room_id,omitempty"`
	CurrentTaskIndex *int                `json:"current_task_index,omitempty"`
	LastPath         *string             `json:"last_path,omitempty"`
	Interactions     []store.Interaction `json:"interactions,omitempty"`
}

// Manager is the only writer of session documents.
type Manager struct {
	store   Store
	locks   *concurrency.KeyedMutex
	reads   *flight.Group[*store.Session]
	metrics *metrics.Metrics
	now     func() time.Time
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

func NewManager(s Store, opts ...Option) *Manager {
	m := &Manager{
		store: s,
		locks: concurrency.NewKeyedMutex(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.reads = flight.New[*store.Session]("session", m.metrics)
	return m
}

func (m *Manager) timestamp() time.Time {
	return m.now().UTC()
}

// Create starts a new run for a template.
func (m *Manager) Create(ctx context.Context, templateID string, flow store.FlowType) (*store.Session, error) {
	if strings.TrimSpace(templateID) == "" {
		return nil, etaterrors.InvalidInput("template id is required")
	}
	if !flow.Valid() {
		return nil, etaterrors.InvalidInput(fmt.Sprintf("unknown flow %q", flow))
	}

	now := m.timestamp()
	sess := &store.Session{
		ID:         ulid.Make().String(),
		TemplateID: templateID,
		FlowType:   flow,
		Status:     store.StatusActive,
		Progress: store.Progress{
			Interactions: []store.Interaction{},
		},
		CreatedAt:    now,
		LastActiveAt: now,
	}
	if err := m.store.SaveSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	slog.Info("Session created", "session", sess.ID, "template", templateID, "flow", flow)
	return sess.Clone(), nil
}

// Get returns the session, or (nil, nil) when there is no such session.
// A document that no longer decodes is discarded and reported as absent.
func (m *Manager) Get(ctx context.Context, id string) (*store.Session, error) {
	if strings.TrimSpace(id) == "" {
		return nil, nil
	}
	sess, err := m.reads.Do(ctx, flight.Key("session", id), func(ctx context.Context) (*store.Session, error) {
		return m.load(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return sess.Clone(), nil
}

func (m *Manager) load(ctx context.Context, id string) (*store.Session, error) {
	sess, err := m.store.GetSession(ctx, id)
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, etaterrors.ErrStorageCorrupt) {
		return nil, err
	}
	slog.Warn("Discarding corrupt session document", "session", id, "error", err)
	if delErr := m.store.DeleteSession(ctx, id); delErr != nil {
		slog.Warn("Failed to discard corrupt session document", "session", id, "error", delErr)
	}
	return nil, nil
}

// mutate serialises read-modify-write cycles per session.
func (m *Manager) mutate(ctx context.Context, id string, fn func(*store.Session) error) (*store.Session, error) {
	m.locks.Lock(id)
	defer m.locks.Unlock(id)

	sess, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, etaterrors.NotFound(fmt.Sprintf("session %s", id))
	}
	if err := fn(sess); err != nil {
		return nil, err
	}
	sess.LastActiveAt = m.timestamp()
	if err := m.store.SaveSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("save session %s: %w", id, err)
	}
	return sess.Clone(), nil
}

// UpdateProgress merges patch into the stored progress. It never changes status.
func (m *Manager) UpdateProgress(ctx context.Context, id string, patch ProgressPatch) (*store.Session, error) {
	recs := make([]store.Interaction, 0, len(patch.Interactions))
	for _, rec := range patch.Interactions {
		prepared, err := m.prepare(rec)
		if err != nil {
			return nil, err
		}
		recs = append(recs, prepared)
	}

	return m.mutate(ctx, id, func(sess *store.Session) error {
		if patch.CurrentRoomID != nil {
			sess.Progress.CurrentRoomID = *patch.CurrentRoomID
		}
		if patch.CurrentTaskIndex != nil {
			if *patch.CurrentTaskIndex < 0 {
				return etaterrors.InvalidInput("current task index must not be negative")
			}
			sess.Progress.CurrentTaskIndex = *patch.CurrentTaskIndex
		}
		if patch.LastPath != nil {
			sess.Progress.LastPath = *patch.LastPath
		}
		seen := make(map[string]struct{}, len(sess.Progress.Interactions))
		for _, rec := range sess.Progress.Interactions {
			seen[rec.ID] = struct{}{}
		}
		for _, rec := range recs {
			if _, dup := seen[rec.ID]; dup {
				continue
			}
			seen[rec.ID] = struct{}{}
			sess.Progress.Interactions = append(sess.Progress.Interactions, rec)
			m.metrics.InteractionRecorded(string(rec.Kind))
		}
		return nil
	})
}

// AppendInteraction is the single ingestion point for interaction records.
// It fills in the id and timestamp when the caller left them empty. A record
// whose id is already logged is not appended again; the stored one is returned.
func (m *Manager) AppendInteraction(ctx context.Context, id string, rec store.Interaction) (store.Interaction, error) {
	prepared, err := m.prepare(rec)
	if err != nil {
		return store.Interaction{}, err
	}
	appended := true
	_, err = m.mutate(ctx, id, func(sess *store.Session) error {
		for _, existing := range sess.Progress.Interactions {
			if existing.ID == prepared.ID {
				prepared = existing
				appended = false
				return nil
			}
		}
		sess.Progress.Interactions = append(sess.Progress.Interactions, prepared)
		if prepared.RoomID != "" && sess.Progress.CurrentRoomID == "" {
			sess.Progress.CurrentRoomID = prepared.RoomID
		}
		return nil
	})
	if err != nil {
		return store.Interaction{}, err
	}
	if appended {
		m.metrics.InteractionRecorded(string(prepared.Kind))
	}
	return prepared, nil
}

func (m *Manager) prepare(rec store.Interaction) (store.Interaction, error) {
	if !rec.Kind.Valid() {
		return store.Interaction{}, etaterrors.InvalidInput(fmt.Sprintf("unknown interaction kind %q", rec.Kind))
	}
	if strings.TrimSpace(rec.RoomID) == "" {
		return store.Interaction{}, etaterrors.InvalidInput("interaction room id is required")
	}
	if rec.ID == "" {
		rec.ID = ulid.Make().String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = m.timestamp()
	}
	return rec, nil
}

// Complete archives a run. Completing twice is a no-op; completing a
// terminated session is refused.
func (m *Manager) Complete(ctx context.Context, id string) (*store.Session, error) {
	return m.transition(ctx, id, store.StatusCompleted)
}

// Terminate ends a run for good, from either active or completed.
func (m *Manager) Terminate(ctx context.Context, id string) (*store.Session, error) {
	return m.transition(ctx, id, store.StatusTerminated)
}

func (m *Manager) transition(ctx context.Context, id string, next store.Status) (*store.Session, error) {
	sess, err := m.mutate(ctx, id, func(sess *store.Session) error {
		if sess.Status == next {
			return nil
		}
		if !sess.Status.CanTransitionTo(next) {
			return etaterrors.InvalidTransition(fmt.Sprintf("session %s is %s, cannot become %s", sess.ID, sess.Status, next))
		}
		now := m.timestamp()
		sess.Status = next
		switch next {
		case store.StatusCompleted:
			sess.CompletedAt = &now
		case store.StatusTerminated:
			sess.TerminatedAt = &now
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slog.Info("Session status changed", "session", id, "status", sess.Status)
	return sess, nil
}

func (m *Manager) List(ctx context.Context) ([]*store.Session, error) {
	return m.store.ListSessions(ctx)
}

func (m *Manager) Delete(ctx context.Context, id string) error {
	m.locks.Lock(id)
	defer m.locks.Unlock(id)
	return m.store.DeleteSession(ctx, id)
}
