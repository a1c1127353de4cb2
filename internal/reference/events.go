package reference

import (
	"log/slog"
	"slices"
	"sync"
)

// Listener receives every dataset the loader publishes.
type Listener func(*Dataset)

type listeners struct {
	mu     sync.RWMutex
	nextID int
	byID   map[int]Listener
}

func newListeners() *listeners {
	return &listeners{byID: make(map[int]Listener)}
}

func (l *listeners) add(fn Listener) func() {
	l.mu.Lock()
	id := l.nextID
	l.nextID++
	l.byID[id] = fn
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.byID, id)
			l.mu.Unlock()
		})
	}
}

func (l *listeners) len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.byID)
}

// publish calls listeners synchronously in subscription order.
func (l *listeners) publish(ds *Dataset) {
	l.mu.RLock()
	ids := make([]int, 0, len(l.byID))
	for id := range l.byID {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]Listener, len(ids))
	for i, id := range ids {
		fns[i] = l.byID[id]
	}
	l.mu.RUnlock()

	for _, fn := range fns {
		notify(fn, ds)
	}
}

func notify(fn Listener, ds *Dataset) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Dataset listener panicked", "template", ds.TemplateID, "panic", r)
		}
	}()
	fn(ds)
}
