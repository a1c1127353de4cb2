// Package engine wires the inspection services together. Everything is built
// once in New and passed by reference; nothing here is package state.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/harunnryd/etat/internal/cache"
	"github.com/harunnryd/etat/internal/concurrency"
	"github.com/harunnryd/etat/internal/config"
	"github.com/harunnryd/etat/internal/kv"
	"github.com/harunnryd/etat/internal/metrics"
	"github.com/harunnryd/etat/internal/navigation"
	"github.com/harunnryd/etat/internal/reference"
	"github.com/harunnryd/etat/internal/report"
	"github.com/harunnryd/etat/internal/session"
	"github.com/harunnryd/etat/internal/store"
	"github.com/harunnryd/etat/internal/urlstate"
)

// Deps are optional collaborators. Nil fields get production defaults.
type Deps struct {
	Worker   *store.Worker
	Location urlstate.Location
	Fetcher  reference.Fetcher
	Metrics  *metrics.Metrics
	Sinks    []report.Sink
	Now      func() time.Time
}

type Engine struct {
	cfg     *config.Config
	metrics *metrics.Metrics
	now     func() time.Time

	worker      *store.Worker
	ownsWorker  bool
	scalars     *kv.Store
	loader      *reference.Loader
	sessions    *session.Manager
	location    urlstate.Location
	reconciler  *urlstate.Reconciler
	guard       *navigation.Guard
	reporter    *report.Reporter
	maxRedirect int

	// navMu serialises every operation that reads and then moves the location.
	navMu sync.Mutex

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(cfg *config.Config, deps Deps) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("engine: config is required")
	}
	e := &Engine{
		cfg:         cfg,
		metrics:     deps.Metrics,
		now:         deps.Now,
		location:    deps.Location,
		maxRedirect: cfg.Navigation.MaxRedirectAttempts,
	}
	if e.metrics == nil {
		e.metrics = metrics.New()
	}
	if e.now == nil {
		e.now = time.Now
	}

	worker := deps.Worker
	if worker == nil {
		w, err := openWorker(cfg.Store)
		if err != nil {
			return nil, err
		}
		w.Start()
		worker = w
		e.ownsWorker = true
	}
	e.worker = worker

	scalars, err := kv.Open(worker.DataDir())
	if err != nil {
		e.Close()
		return nil, err
	}
	e.scalars = scalars

	if err := e.buildServices(deps); err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}

func openWorker(cfg config.StoreConfig) (*store.Worker, error) {
	lockTimeout, err := config.DurationOrDefault(cfg.LockTimeout, config.DefaultStoreLockTimeout)
	if err != nil {
		return nil, fmt.Errorf("store.lock_timeout: %w", err)
	}
	lockRetry, err := config.DurationOrDefault(cfg.LockRetry, config.DefaultStoreLockRetry)
	if err != nil {
		return nil, fmt.Errorf("store.lock_retry: %w", err)
	}
	return store.NewWorker(cfg.DataDir, store.RuntimeConfig{
		LockTimeout:  lockTimeout,
		LockRetry:    lockRetry,
		LockMaxRetry: cfg.LockMaxRetry,
		InboxSize:    cfg.InboxSize,
	})
}

func (e *Engine) buildServices(deps Deps) error {
	policy, err := cache.PolicyFromConfig(e.cfg.Cache)
	if err != nil {
		return err
	}

	fetcher := deps.Fetcher
	endpoint := ""
	if fetcher == nil {
		client, err := reference.NewClient(e.cfg.Reference, e.metrics)
		if err != nil {
			return err
		}
		fetcher = client
		endpoint = client.BaseURL
	}
	e.loader = reference.NewLoader(fetcher, e.worker, policy,
		reference.WithClock(e.now),
		reference.WithMetrics(e.metrics),
		reference.WithEndpoint(endpoint),
		reference.WithRevalidateHook(func(templateID string, err error) {
			if err != nil {
				slog.Warn("Background template refresh failed", "template", templateID, "error", err)
			}
		}),
	)

	e.sessions = session.NewManager(e.worker, session.WithClock(e.now), session.WithMetrics(e.metrics))

	if e.location == nil {
		loc, err := urlstate.NewMemoryLocation("/")
		if err != nil {
			return err
		}
		e.location = loc
	}
	rcfg, err := reconcilerConfig(e.cfg.Reconciler)
	if err != nil {
		return err
	}
	e.reconciler = urlstate.NewReconciler(e.location, e.scalars, rcfg)
	e.reconciler.SetClock(e.now)

	routes, err := navigation.RoutesFromConfig(e.cfg.Navigation.Routes)
	if err != nil {
		return err
	}
	e.guard = navigation.NewGuard(routes)

	if deps.Sinks != nil {
		e.reporter = report.NewReporter(deps.Sinks...)
	} else {
		e.reporter, err = report.FromConfig(e.cfg.Report)
		if err != nil {
			return err
		}
	}
	return nil
}

func reconcilerConfig(cfg config.ReconcilerConfig) (urlstate.Config, error) {
	poll, err := config.PositiveDurationOrDefault(cfg.PollInterval, config.DefaultReconcilerPollInterval)
	if err != nil {
		return urlstate.Config{}, fmt.Errorf("reconciler.poll_interval: %w", err)
	}
	ttl, err := config.PositiveDurationOrDefault(cfg.SnapshotTTL, config.DefaultReconcilerSnapshotTTL)
	if err != nil {
		return urlstate.Config{}, fmt.Errorf("reconciler.snapshot_ttl: %w", err)
	}
	settle, err := config.DurationOrDefault(cfg.SettleDelay, config.DefaultReconcilerSettleDelay)
	if err != nil {
		return urlstate.Config{}, fmt.Errorf("reconciler.settle_delay: %w", err)
	}
	return urlstate.Config{PollInterval: poll, SnapshotTTL: ttl, SettleDelay: settle}, nil
}

// Start runs the URL reconciler in the background until Stop.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		return nil
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	e.cancel = cancel
	e.done = done

	concurrency.SafeGo("url-reconciler", func() {
		defer close(done)
		if err := e.reconciler.Run(runCtx); err != nil && runCtx.Err() == nil {
			slog.Error("URL reconciler stopped", "component", "Engine", "error", err)
		}
	}, nil)
	return nil
}

func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	cancel, done := e.cancel, e.done
	e.cancel, e.done = nil, nil
	e.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Running reports whether the reconciler loop is active.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancel != nil
}

// Close stops the store worker when the engine opened it.
func (e *Engine) Close() {
	if e.ownsWorker && e.worker != nil {
		e.worker.Stop()
	}
}

func (e *Engine) Metrics() *metrics.Metrics        { return e.metrics }
func (e *Engine) Location() urlstate.Location      { return e.location }
func (e *Engine) Loader() *reference.Loader        { return e.loader }
func (e *Engine) SessionManager() *session.Manager { return e.sessions }
func (e *Engine) Scalars() *kv.Store               { return e.scalars }
func (e *Engine) Worker() *store.Worker            { return e.worker }
func (e *Engine) Reconciler() *urlstate.Reconciler { return e.reconciler }
func (e *Engine) Guard() *navigation.Guard         { return e.guard }
