// Package janitor runs periodic cleanup of the local caches.
package janitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/harunnryd/etat/internal/config"
	etaterrors "github.com/harunnryd/etat/internal/errors"
	"github.com/harunnryd/etat/internal/kv"
	"github.com/harunnryd/etat/internal/urlstate"
)

type DatasetPruner interface {
	PruneDatasets(ctx context.Context, cachedBefore time.Time) (int, error)
}

type Scalars interface {
	GetJSON(key string, v any) error
	Delete(keys ...string) error
}

// Result describes one sweep.
type Result struct {
	At              time.Time
	PrunedDatasets  int
	SnapshotExpired bool
}

type Janitor struct {
	datasets    DatasetPruner
	scalars     Scalars
	schedule    cron.Schedule
	spec        string
	maxAge      time.Duration
	snapshotTTL time.Duration
	now         func() time.Time

	mu      sync.RWMutex
	cron    *cron.Cron
	running bool
	last    *Result
	lastErr error
}

func New(datasets DatasetPruner, scalars Scalars, cfg *config.Config) (*Janitor, error) {
	spec := cfg.Janitor.Schedule
	if spec == "" {
		spec = config.DefaultJanitorSchedule
	}
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("janitor.schedule: %w", err)
	}
	maxAge, err := config.PositiveDurationOrDefault(cfg.Cache.MaxAge, config.DefaultCacheMaxAge)
	if err != nil {
		return nil, fmt.Errorf("cache.max_age: %w", err)
	}
	ttl, err := config.PositiveDurationOrDefault(cfg.Reconciler.SnapshotTTL, config.DefaultReconcilerSnapshotTTL)
	if err != nil {
		return nil, fmt.Errorf("reconciler.snapshot_ttl: %w", err)
	}

	return &Janitor{
		datasets:    datasets,
		scalars:     scalars,
		schedule:    schedule,
		spec:        spec,
		maxAge:      maxAge,
		snapshotTTL: ttl,
		now:         time.Now,
	}, nil
}

// SetClock overrides the time source.
func (j *Janitor) SetClock(now func() time.Time) {
	j.now = now
}

func (j *Janitor) Start(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.running {
		return nil
	}
	runCtx := context.WithoutCancel(ctx)
	j.cron = cron.New()
	j.cron.Schedule(j.schedule, cron.FuncJob(func() {
		if _, err := j.Sweep(runCtx); err != nil {
			slog.Warn("Janitor sweep failed", "error", err)
		}
	}))
	j.cron.Start()
	j.running = true
	slog.Info("Janitor started", "schedule", j.spec)
	return nil
}

// Stop waits for a running sweep, or until ctx is done.
func (j *Janitor) Stop(ctx context.Context) error {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return nil
	}
	j.running = false
	stopped := j.cron.Stop()
	j.mu.Unlock()

	select {
	case <-stopped.Done():
		slog.Info("Janitor stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (j *Janitor) IsRunning() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.running
}

// Health fails when the last sweep failed.
func (j *Janitor) Health() error {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if !j.running {
		return etaterrors.Internal("janitor not running")
	}
	if j.lastErr != nil {
		return fmt.Errorf("last sweep: %w", j.lastErr)
	}
	return nil
}

func (j *Janitor) Last() *Result {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.last
}

// Sweep prunes dataset entries older than the cache max age and drops the
// URL snapshot once it has expired. Both steps run even if one fails.
func (j *Janitor) Sweep(ctx context.Context) (Result, error) {
	now := j.now().UTC()
	res := Result{At: now}

	pruned, pruneErr := j.datasets.PruneDatasets(ctx, now.Add(-j.maxAge))
	res.PrunedDatasets = pruned

	expired, snapErr := j.expireSnapshot(now)
	res.SnapshotExpired = expired

	err := errors.Join(pruneErr, snapErr)
	j.mu.Lock()
	j.last = &res
	j.lastErr = err
	j.mu.Unlock()

	if pruned > 0 || expired {
		slog.Info("Janitor sweep", "pruned_datasets", pruned, "snapshot_expired", expired)
	}
	return res, err
}

func (j *Janitor) expireSnapshot(now time.Time) (bool, error) {
	var snap urlstate.Snapshot
	err := j.scalars.GetJSON(kv.KeyURLParams, &snap)
	switch {
	case err == nil:
	case errors.Is(err, etaterrors.ErrNotFound), errors.Is(err, etaterrors.ErrStorageCorrupt):
		// corrupt values are already discarded by the store
		return false, nil
	default:
		return false, err
	}
	if !snap.Expired(now, j.snapshotTTL) {
		return false, nil
	}
	if err := j.scalars.Delete(kv.KeyURLParams); err != nil {
		return false, err
	}
	return true, nil
}
