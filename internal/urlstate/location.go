package urlstate

import (
	"net/url"
	"sync"
)

// Location is the address bar as seen by the reconciler.
type Location interface {
	Path() string
	Query() url.Values
	// Replace swaps the current entry without adding history.
	Replace(path string, query url.Values)
}

// Notifier is implemented by locations that can report history changes.
type Notifier interface {
	Subscribe(fn func()) (unsubscribe func())
}

// MemoryLocation is an in-process address bar with history-change events.
type MemoryLocation struct {
	mu        sync.RWMutex
	path      string
	query     url.Values
	history   []string
	nextID    int
	listeners map[int]func()
}

func NewMemoryLocation(rawURL string) (*MemoryLocation, error) {
	l := &MemoryLocation{listeners: make(map[int]func())}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	l.path = u.Path
	l.query = u.Query()
	l.history = []string{u.String()}
	return l, nil
}

func (l *MemoryLocation) Path() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.path
}

func (l *MemoryLocation) Query() url.Values {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return cloneValues(l.query)
}

// URL renders the current entry.
func (l *MemoryLocation) URL() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return render(l.path, l.query)
}

// Push navigates to a new entry.
func (l *MemoryLocation) Push(path string, query url.Values) {
	l.mu.Lock()
	l.path = path
	l.query = cloneValues(query)
	l.history = append(l.history, render(l.path, l.query))
	l.mu.Unlock()
	l.notify()
}

// Navigate parses rawURL and pushes it.
func (l *MemoryLocation) Navigate(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	l.Push(u.Path, u.Query())
	return nil
}

func (l *MemoryLocation) Replace(path string, query url.Values) {
	l.mu.Lock()
	l.path = path
	l.query = cloneValues(query)
	l.history[len(l.history)-1] = render(l.path, l.query)
	l.mu.Unlock()
	l.notify()
}

// History returns every entry, oldest first.
func (l *MemoryLocation) History() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]string(nil), l.history...)
}

func (l *MemoryLocation) Subscribe(fn func()) func() {
	l.mu.Lock()
	id := l.nextID
	l.nextID++
	l.listeners[id] = fn
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		delete(l.listeners, id)
		l.mu.Unlock()
	}
}

func (l *MemoryLocation) notify() {
	l.mu.RLock()
	fns := make([]func(), 0, len(l.listeners))
	for _, fn := range l.listeners {
		fns = append(fns, fn)
	}
	l.mu.RUnlock()
	for _, fn := range fns {
		fn()
	}
}

func render(path string, query url.Values) string {
	u := url.URL{Path: path, RawQuery: query.Encode()}
	return u.String()
}

func cloneValues(q url.Values) url.Values {
	out := make(url.Values, len(q))
	for k, v := range q {
		out[k] = append([]string(nil), v...)
	}
	return out
}
