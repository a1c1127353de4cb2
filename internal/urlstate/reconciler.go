package urlstate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	etaterrors "github.com/harunnryd/etat/internal/errors"
	"github.com/harunnryd/etat/internal/kv"
)

// Scalars is the persistent key/value store as used here.
type Scalars interface {
	Get(key string) (string, bool)
	Set(key, value string) error
	Delete(keys ...string) error
	GetJSON(key string, v any) error
	SetJSON(key string, v any) error
}

type Config struct {
	PollInterval time.Duration
	SnapshotTTL  time.Duration
	SettleDelay  time.Duration
}

func DefaultConfig() Config {
	return Config{
		PollInterval: 500 * time.Millisecond,
		SnapshotTTL:  24 * time.Hour,
		SettleDelay:  50 * time.Millisecond,
	}
}

// Reconciler applies Decide to a Location and a Scalars store.
type Reconciler struct {
	loc     Location
	scalars Scalars
	cfg     Config
	now     func() time.Time

	mu       sync.Mutex
	lastSeen string
}

func NewReconciler(loc Location, scalars Scalars, cfg Config) *Reconciler {
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.SnapshotTTL <= 0 {
		cfg.SnapshotTTL = def.SnapshotTTL
	}
	if cfg.SettleDelay < 0 {
		cfg.SettleDelay = 0
	}
	return &Reconciler{loc: loc, scalars: scalars, cfg: cfg, now: time.Now}
}

// SetClock overrides the time source.
func (r *Reconciler) SetClock(now func() time.Time) {
	r.now = now
}

func (r *Reconciler) Location() Location {
	return r.loc
}

func (r *Reconciler) snapshot() *Snapshot {
	var snap Snapshot
	err := r.scalars.GetJSON(kv.KeyURLParams, &snap)
	switch {
	case err == nil:
		return &snap
	case errors.Is(err, etaterrors.ErrNotFound), errors.Is(err, etaterrors.ErrStorageCorrupt):
		return nil
	default:
		slog.Warn("Failed to read URL snapshot", "error", err)
		return nil
	}
}

// Reconcile runs one pass and applies its decision.
func (r *Reconciler) Reconcile(ctx context.Context) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	current := FromQuery(r.loc.Query())
	active, _ := r.scalars.Get(kv.KeyActiveSessionID)
	now := r.now().UTC()

	d := Decide(current, r.snapshot(), active, now, r.cfg.SnapshotTTL)

	if d.DiscardSnapshot {
		if err := r.scalars.Delete(kv.KeyURLParams); err != nil {
			return d, fmt.Errorf("discard url snapshot: %w", err)
		}
	}
	if d.ClearActiveSession {
		if err := r.scalars.Delete(kv.KeyActiveSessionID); err != nil {
			return d, fmt.Errorf("clear active session: %w", err)
		}
	}
	if !d.Persist.Empty() {
		if err := r.persist(d.Persist, now); err != nil {
			return d, err
		}
	}
	if d.Rewrite {
		r.loc.Replace(r.loc.Path(), d.URL.Apply(r.loc.Query()))
		slog.Debug("URL restored from storage", "template", d.URL.TemplateID, "session", d.URL.SessionID)
	}

	r.lastSeen = render(r.loc.Path(), r.loc.Query())
	return d, nil
}

func (r *Reconciler) persist(s State, now time.Time) error {
	if err := r.scalars.SetJSON(kv.KeyURLParams, Snapshot{State: s, SavedAt: now}); err != nil {
		return fmt.Errorf("persist url snapshot: %w", err)
	}
	if s.TemplateID != "" {
		if err := r.scalars.Set(kv.KeyActiveTemplateID, s.TemplateID); err != nil {
			return fmt.Errorf("persist active template: %w", err)
		}
	}
	if s.SessionID != "" {
		if err := r.scalars.Set(kv.KeyActiveSessionID, s.SessionID); err != nil {
			return fmt.Errorf("persist active session: %w", err)
		}
	}
	return nil
}

func (r *Reconciler) changed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return render(r.loc.Path(), r.loc.Query()) != r.lastSeen
}

// Run reconciles once, then again on every URL change until ctx is done.
// Locations that implement Notifier drive it by events; others are polled.
func (r *Reconciler) Run(ctx context.Context) error {
	var (
		wake   <-chan struct{}
		ticker *time.Ticker
	)
	if n, ok := r.loc.(Notifier); ok {
		events := make(chan struct{}, 1)
		unsubscribe := n.Subscribe(func() {
			select {
			case events <- struct{}{}:
			default:
			}
		})
		defer unsubscribe()
		wake = events
	} else {
		ticker = time.NewTicker(r.cfg.PollInterval)
		defer ticker.Stop()
	}

	if _, err := r.Reconcile(ctx); err != nil {
		slog.Warn("Initial URL reconciliation failed", "error", err)
	}

	for {
		var tick <-chan time.Time
		if ticker != nil {
			tick = ticker.C
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wake:
		case <-tick:
		}

		if !r.changed() {
			continue
		}
		if r.cfg.SettleDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.cfg.SettleDelay):
			}
		}
		if _, err := r.Reconcile(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("URL reconciliation failed", "error", err)
		}
	}
}
