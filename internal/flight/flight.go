// Package flight coordinates "at most one concurrent operation per key".
//
// Every fetch path in the engine (reference datasets, session reads) goes
// through a Group so concurrent callers for the same key share one producer
// call and observe the same value or the same error.
package flight

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	etaterrors "github.com/harunnryd/etat/internal/errors"
	"github.com/harunnryd/etat/internal/metrics"
)

// Producer computes the value for a key. Its context is detached from any
// single caller's cancellation.
type Producer[T any] func(ctx context.Context) (T, error)

type Group[T any] struct {
	kind    string
	sf      singleflight.Group
	metrics *metrics.Metrics

	mu      sync.Mutex
	waiting map[string]int
	running map[string]bool
}

func New[T any](kind string, m *metrics.Metrics) *Group[T] {
	return &Group[T]{
		kind:    kind,
		metrics: m,
		waiting: make(map[string]int),
		running: make(map[string]bool),
	}
}

// Key joins the parts of a composite key (resource kind, id, qualifiers).
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}

// Do runs producer for key unless a call for the same key is already running,
// in which case it waits for that call. ctx only bounds how long this caller
// waits; the producer keeps running for the others.
func (g *Group[T]) Do(ctx context.Context, key string, producer Producer[T]) (T, error) {
	var zero T

	g.enter(key)
	defer g.leave(key)

	detached := context.WithoutCancel(ctx)
	ch := g.sf.DoChan(key, func() (v interface{}, err error) {
		g.setRunning(key, true)
		defer g.setRunning(key, false)
		g.metrics.FlightStarted(g.kind)
		defer g.metrics.FlightFinished(g.kind)
		defer func() {
			if r := recover(); r != nil {
				err = etaterrors.WrapWithCategory(fmt.Errorf("%v", r), "producer panic for "+key, etaterrors.ErrInternal)
			}
		}()
		return producer(detached)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		val, ok := res.Val.(T)
		if !ok {
			return zero, nil
		}
		return val, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (g *Group[T]) enter(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.waiting[key] > 0 {
		g.metrics.FlightJoined(g.kind)
	}
	g.waiting[key]++
}

func (g *Group[T]) leave(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.waiting[key]--
	if g.waiting[key] <= 0 {
		delete(g.waiting, key)
	}
}

func (g *Group[T]) setRunning(key string, on bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if on {
		g.running[key] = true
		return
	}
	delete(g.running, key)
}

// InFlight reports whether the producer for key is still running, whether
// or not anyone is still waiting for it.
func (g *Group[T]) InFlight(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.running[key]
}

// Waiting returns how many callers are currently blocked on key.
func (g *Group[T]) Waiting(key string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.waiting[key]
}

// Keys returns the keys with a running producer, sorted.
func (g *Group[T]) Keys() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	keys := make([]string, 0, len(g.running))
	for k := range g.running {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
