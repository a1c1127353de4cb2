package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/harunnryd/etat/internal/concurrency"
	etaterrors "github.com/harunnryd/etat/internal/errors"
	"github.com/harunnryd/etat/internal/metrics"
)

// ErrCacheMiss is returned by cache-only resolution when no valid entry exists.
var ErrCacheMiss = fmt.Errorf("cache miss: %w", etaterrors.ErrNotFound)

type Outcome string

const (
	OutcomeHit      Outcome = "hit"      // served from a valid entry
	OutcomeMiss     Outcome = "miss"     // no valid entry, fetched from network
	OutcomeNetwork  Outcome = "network"  // network-first or network-only fetch
	OutcomeFallback Outcome = "fallback" // network failed, served from cache
)

// Source is the pair of places a value can come from.
type Source[T any] interface {
	// Cached returns the stored entry, or (nil, nil) when there is none.
	Cached(ctx context.Context) (*Entry[T], error)
	Fetch(ctx context.Context) (T, error)
	Store(ctx context.Context, value T) error
}

// Revalidator is implemented by sources that want to own the background
// refresh, e.g. to route it through a single-flight group.
type Revalidator interface {
	Revalidate(ctx context.Context) error
}

type options struct {
	now      func() time.Time
	metrics  *metrics.Metrics
	onReval  func(error)
	logger   *slog.Logger
	resource string
}

type Option func(*options)

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithRevalidateDone registers a callback invoked when a background refresh ends.
func WithRevalidateDone(fn func(error)) Option {
	return func(o *options) { o.onReval = fn }
}

// WithResource names the resource in log lines.
func WithResource(name string) Option {
	return func(o *options) { o.resource = name }
}

// Resolve applies the policy's strategy to src.
func Resolve[T any](ctx context.Context, p Policy, src Source[T], opts ...Option) (T, Outcome, error) {
	o := options{now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	var (
		val     T
		outcome Outcome
		err     error
	)
	switch p.Strategy {
	case NetworkFirst:
		val, outcome, err = networkFirst(ctx, src, o)
	case CacheOnly:
		val, outcome, err = cacheOnly(ctx, p, src, o)
	case NetworkOnly:
		val, outcome, err = fetchAndStore(ctx, src, OutcomeNetwork, o)
	default:
		val, outcome, err = cacheFirst(ctx, p, src, o)
	}
	if err == nil {
		o.metrics.CacheResolved(string(outcome))
	}
	return val, outcome, err
}

func cacheFirst[T any](ctx context.Context, p Policy, src Source[T], o options) (T, Outcome, error) {
	now := o.now()
	entry := readCached(ctx, src, o)
	if entry != nil && entry.Valid(p.MaxAge, now) {
		if p.BackgroundRevalidation && entry.Age(now) >= p.RevalidateAfter {
			revalidate(ctx, src, o)
		}
		return entry.Value, OutcomeHit, nil
	}
	return fetchAndStore(ctx, src, OutcomeMiss, o)
}

func networkFirst[T any](ctx context.Context, src Source[T], o options) (T, Outcome, error) {
	val, outcome, err := fetchAndStore(ctx, src, OutcomeNetwork, o)
	if err == nil {
		return val, outcome, nil
	}
	if errors.Is(err, context.Canceled) {
		return val, outcome, err
	}
	entry := readCached(ctx, src, o)
	if entry == nil {
		return val, outcome, err
	}
	o.logger.Warn("Network fetch failed, serving cached value",
		"resource", o.resource,
		"cached_at", entry.CachedAt,
		"error", err,
	)
	return entry.Value, OutcomeFallback, nil
}

func cacheOnly[T any](ctx context.Context, p Policy, src Source[T], o options) (T, Outcome, error) {
	entry := readCached(ctx, src, o)
	if entry == nil || !entry.Valid(p.MaxAge, o.now()) {
		var zero T
		return zero, "", ErrCacheMiss
	}
	return entry.Value, OutcomeHit, nil
}

func fetchAndStore[T any](ctx context.Context, src Source[T], outcome Outcome, o options) (T, Outcome, error) {
	val, err := src.Fetch(ctx)
	if err != nil {
		var zero T
		return zero, "", err
	}
	if err := src.Store(ctx, val); err != nil {
		o.logger.Warn("Failed to write cache entry", "resource", o.resource, "error", err)
	}
	return val, outcome, nil
}

// readCached treats an unreadable entry as absent.
func readCached[T any](ctx context.Context, src Source[T], o options) *Entry[T] {
	entry, err := src.Cached(ctx)
	if err != nil {
		o.logger.Warn("Discarding unreadable cache entry", "resource", o.resource, "error", err)
		return nil
	}
	return entry
}

func revalidate[T any](ctx context.Context, src Source[T], o options) {
	detached := context.WithoutCancel(ctx)
	concurrency.SafeGo("revalidate:"+o.resource, func() {
		var err error
		if r, ok := src.(Revalidator); ok {
			err = r.Revalidate(detached)
		} else {
			_, _, err = fetchAndStore(detached, src, OutcomeNetwork, o)
		}
		if err != nil {
			o.logger.Warn("Background revalidation failed", "resource", o.resource, "error", err)
		} else {
			o.logger.Debug("Background revalidation finished", "resource", o.resource)
		}
		if o.onReval != nil {
			o.onReval(err)
		}
	}, func(r interface{}) {
		if o.onReval != nil {
			o.onReval(fmt.Errorf("revalidation panic: %v", r))
		}
	})
}
