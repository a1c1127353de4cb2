// Package kv is the small durable scalar store: active session id, last path
// and the URL parameter snapshot. Values are strings; JSON helpers sit on top.
package kv

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/natefinch/atomic"

	etaterrors "github.com/harunnryd/etat/internal/errors"
)

// Well-known keys.
const (
	KeyActiveSessionID  = "active_session_id"
	KeyActiveTemplateID = "active_template_id"
	KeyLastPath         = "last_path"
	KeyURLParams        = "url_params"
)

const fileName = "kv.json"

type document struct {
	Values map[string]string `json:"values"`
}

type Store struct {
	path string
	lock *flock.Flock
	data document
	mu   sync.RWMutex
}

// Open loads the store under dir, creating it when missing. A file that no
// longer parses is moved aside and the store starts empty.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create kv dir: %w", err)
	}

	s := &Store{
		path: filepath.Join(dir, fileName),
		lock: flock.New(filepath.Join(dir, "kv.lock")),
		data: document{Values: make(map[string]string)},
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return s.save()
	}
	if err != nil {
		return etaterrors.WrapWithCategory(err, "read kv file", etaterrors.ErrStorage)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		aside := fmt.Sprintf("%s.corrupt-%s", s.path, time.Now().Format("20060102150405"))
		slog.Warn("KV file corrupt, starting empty", "path", s.path, "moved_to", aside, "error", err)
		if renameErr := os.Rename(s.path, aside); renameErr != nil {
			slog.Warn("Failed to move corrupt kv file aside", "path", s.path, "error", renameErr)
		}
		return s.save()
	}
	if doc.Values == nil {
		doc.Values = make(map[string]string)
	}
	s.data = doc
	return nil
}

// save must be called with s.mu held.
func (s *Store) save() error {
	return s.write(s.data)
}

// commit writes next and adopts it only once it is on disk, so a failed
// write leaves memory matching the file.
func (s *Store) commit(next map[string]string) error {
	if err := s.write(document{Values: next}); err != nil {
		return err
	}
	s.data.Values = next
	return nil
}

func (s *Store) write(doc document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	if err := s.lock.Lock(); err != nil {
		return etaterrors.WrapWithCategory(err, "lock kv file", etaterrors.ErrStorage)
	}
	defer func() {
		if err := s.lock.Unlock(); err != nil {
			slog.Warn("Failed to release kv lock", "path", s.path, "error", err)
		}
	}()

	if err := atomic.WriteFile(s.path, bytes.NewReader(data)); err != nil {
		return etaterrors.WrapWithCategory(err, "write kv file", etaterrors.ErrStorage)
	}
	return nil
}

func (s *Store) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data.Values[key]
	return v, ok
}

func (s *Store) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.data.Values[key]; ok && prev == value {
		return nil
	}
	next := maps.Clone(s.data.Values)
	next[key] = value
	return s.commit(next)
}

func (s *Store) Delete(keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := maps.Clone(s.data.Values)
	for _, key := range keys {
		delete(next, key)
	}
	if len(next) == len(s.data.Values) {
		return nil
	}
	return s.commit(next)
}

func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.data.Values))
	for k := range s.data.Values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clear removes every key except those listed in preserve.
func (s *Store) Clear(preserve ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := make(map[string]string, len(preserve))
	for _, key := range preserve {
		if v, ok := s.data.Values[key]; ok {
			kept[key] = v
		}
	}
	return s.commit(kept)
}

// GetJSON decodes the value at key into v. A missing key yields ErrNotFound.
// A value that fails to decode is deleted and reported as ErrStorageCorrupt,
// which callers treat as absent.
func (s *Store) GetJSON(key string, v any) error {
	raw, ok := s.Get(key)
	if !ok || raw == "" {
		return etaterrors.NotFound("kv key " + key)
	}

	if err := json.Unmarshal([]byte(raw), v); err != nil {
		slog.Warn("Discarding corrupt kv value", "key", key, "error", err)
		if delErr := s.Delete(key); delErr != nil {
			slog.Error("Failed to discard corrupt kv value", "key", key, "error", delErr)
		}
		return etaterrors.WrapWithCategory(err, "decode kv key "+key, etaterrors.ErrStorageCorrupt)
	}
	return nil
}

func (s *Store) SetJSON(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode kv key %s: %w", key, err)
	}
	return s.Set(key, string(data))
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}
