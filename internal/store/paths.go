package store

import (
	"path/filepath"
	"strings"

	"github.com/harunnryd/etat/internal/config"
	"github.com/harunnryd/etat/internal/pathutil"
)

// ResolveDataDir resolves the configured data directory.
// If empty, it falls back to ~/.etat/data.
func ResolveDataDir(dataDir string) (string, error) {
	if trimmed := strings.TrimSpace(dataDir); trimmed != "" {
		return pathutil.Expand(trimmed)
	}
	return pathutil.Expand(config.DefaultStoreDataDir)
}

// GetDatabasePath returns the document database path.
func GetDatabasePath(dataDir string) (string, error) {
	base, err := ResolveDataDir(dataDir)
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "etat.db"), nil
}

// GetKVDir returns the key/value store directory.
func GetKVDir(dataDir string) (string, error) {
	base, err := ResolveDataDir(dataDir)
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "kv"), nil
}

// GetLockPath returns the lock file path for a data directory.
func GetLockPath(dataDir string) (string, error) {
	base, err := ResolveDataDir(dataDir)
	if err != nil {
		return "", err
	}
	return filepath.Join(base, lockFileName), nil
}

// GetReportsDir returns the default directory for exported reports.
func GetReportsDir(dataDir string) (string, error) {
	base, err := ResolveDataDir(dataDir)
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "reports"), nil
}
