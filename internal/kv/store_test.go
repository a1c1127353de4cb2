package kv

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	etaterrors "github.com/harunnryd/etat/internal/errors"
)

func TestSetGetPersists(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)

	require.NoError(t, s.Set(KeyActiveSessionID, "S1"))
	require.NoError(t, s.Set(KeyLastPath, "/checkin"))

	reopened, err := Open(dir)
	require.NoError(t, err)

	v, ok := reopened.Get(KeyActiveSessionID)
	assert.True(t, ok)
	assert.Equal(t, "S1", v)
	assert.Equal(t, []string{KeyActiveSessionID, KeyLastPath}, reopened.Keys())
}

func TestClearPreservesListedKeys(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Set(KeyActiveTemplateID, "T1"))
	require.NoError(t, s.Set(KeyActiveSessionID, "S1"))
	require.NoError(t, s.Set(KeyURLParams, `{"template_id":"T1"}`))

	require.NoError(t, s.Clear(KeyActiveTemplateID))

	assert.Equal(t, []string{KeyActiveTemplateID}, s.Keys())
	v, _ := s.Get(KeyActiveTemplateID)
	assert.Equal(t, "T1", v)
}

func TestGetJSONDiscardsCorruptValue(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, s.Set(KeyURLParams, "{not json"))

	var out map[string]string
	err = s.GetJSON(KeyURLParams, &out)
	require.Error(t, err)
	assert.True(t, errors.Is(err, etaterrors.ErrStorageCorrupt))

	_, ok := s.Get(KeyURLParams)
	assert.False(t, ok, "corrupt key should be discarded")

	err = s.GetJSON(KeyURLParams, &out)
	assert.True(t, errors.Is(err, etaterrors.ErrNotFound))
}

func TestJSONRoundTrip(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	in := map[string]string{"template_id": "T1", "session_id": "S1"}
	require.NoError(t, s.SetJSON(KeyURLParams, in))

	var out map[string]string
	require.NoError(t, s.GetJSON(KeyURLParams, &out))
	assert.Equal(t, in, out)
}

func TestOpenRecoversCorruptFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, fileName), []byte("garbage{"), 0o644))

	s, err := Open(dir)
	require.NoError(t, err)
	assert.Empty(t, s.Keys())

	matches, err := filepath.Glob(filepath.Join(dir, fileName+".corrupt-*"))
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestFailedWriteLeavesMemoryUnchanged(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, s.Set(KeyActiveSessionID, "S1"))

	// A directory in place of the data file makes every later write fail.
	require.NoError(t, os.Remove(s.Path()))
	require.NoError(t, os.MkdirAll(filepath.Join(s.Path(), "blocked"), 0o755))

	assert.ErrorIs(t, s.Set(KeyLastPath, "/checkin"), etaterrors.ErrStorage)
	_, ok := s.Get(KeyLastPath)
	assert.False(t, ok)

	assert.Error(t, s.Delete(KeyActiveSessionID))
	got, _ := s.Get(KeyActiveSessionID)
	assert.Equal(t, "S1", got)

	assert.Error(t, s.Clear())
	assert.Equal(t, []string{KeyActiveSessionID}, s.Keys())
}
