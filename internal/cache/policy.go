package cache

import (
	"fmt"
	"strings"
	"time"

	"github.com/harunnryd/etat/internal/config"
)

type Strategy string

const (
	CacheFirst   Strategy = "cache-first"
	NetworkFirst Strategy = "network-first"
	CacheOnly    Strategy = "cache-only"
	NetworkOnly  Strategy = "network-only"
)

func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case CacheFirst, "":
		return CacheFirst, nil
	case NetworkFirst:
		return NetworkFirst, nil
	case CacheOnly:
		return CacheOnly, nil
	case NetworkOnly:
		return NetworkOnly, nil
	default:
		return "", fmt.Errorf("unknown cache strategy %q", s)
	}
}

// Policy decides where a value comes from. RevalidateAfter only gates the
// background refresh; hit or miss is decided by MaxAge alone.
type Policy struct {
	MaxAge                 time.Duration
	RevalidateAfter        time.Duration
	BackgroundRevalidation bool
	Strategy               Strategy
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAge:                 24 * time.Hour,
		RevalidateAfter:        20 * time.Hour,
		BackgroundRevalidation: true,
		Strategy:               CacheFirst,
	}
}

func PolicyFromConfig(cfg config.CacheConfig) (Policy, error) {
	maxAge, err := config.PositiveDurationOrDefault(cfg.MaxAge, config.DefaultCacheMaxAge)
	if err != nil {
		return Policy{}, fmt.Errorf("cache.max_age: %w", err)
	}
	revalidateAfter, err := config.DurationOrDefault(cfg.RevalidateAfter, config.DefaultCacheRevalidateAfter)
	if err != nil {
		return Policy{}, fmt.Errorf("cache.revalidate_after: %w", err)
	}
	strategy, err := ParseStrategy(cfg.Strategy)
	if err != nil {
		return Policy{}, fmt.Errorf("cache.strategy: %w", err)
	}
	return Policy{
		MaxAge:                 maxAge,
		RevalidateAfter:        revalidateAfter,
		BackgroundRevalidation: cfg.BackgroundRevalidation,
		Strategy:               strategy,
	}, nil
}

// Entry wraps a cached value with the instant it was stored.
type Entry[T any] struct {
	Value    T
	CachedAt time.Time
	Metadata map[string]string
}

func (e Entry[T]) Age(now time.Time) time.Duration {
	return now.Sub(e.CachedAt)
}

// Valid is true exactly when the entry is younger than maxAge.
func (e Entry[T]) Valid(maxAge time.Duration, now time.Time) bool {
	return e.Age(now) < maxAge
}
