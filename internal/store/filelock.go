package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/harunnryd/etat/internal/config"

	"github.com/gofrs/flock"
)

const lockFileName = "etat.lock"

// FileLock keeps a single process attached to a data directory.
type FileLock struct {
	fileLock   *flock.Flock
	lockPath   string
	acquiredAt time.Time
	mu         sync.RWMutex
	ctx        context.Context
	cancel     context.CancelFunc
}

type FileLockConfig struct {
	LockTimeout  time.Duration
	LockRetry    time.Duration
	LockMaxRetry int
}

func DefaultFileLockConfig() *FileLockConfig {
	lockTimeout, _ := config.DurationOrDefault(config.DefaultStoreLockTimeout, config.DefaultStoreLockTimeout)
	lockRetry, _ := config.DurationOrDefault(config.DefaultStoreLockRetry, config.DefaultStoreLockRetry)

	return &FileLockConfig{
		LockTimeout:  lockTimeout,
		LockRetry:    lockRetry,
		LockMaxRetry: config.DefaultStoreLockMaxRetry,
	}
}

func NewFileLock(basePath string, cfg *FileLockConfig) (*FileLock, error) {
	if cfg == nil {
		cfg = DefaultFileLockConfig()
	}

	lockPath := filepath.Join(basePath, lockFileName)
	ctx, cancel := context.WithTimeout(context.Background(), cfg.LockTimeout)

	fl := &FileLock{
		fileLock: flock.New(lockPath),
		lockPath: lockPath,
		ctx:      ctx,
		cancel:   cancel,
	}

	if err := fl.acquireWithRetry(cfg); err != nil {
		cancel()
		return nil, err
	}

	fl.acquiredAt = time.Now()
	slog.Info("Data dir lock acquired",
		"path", lockPath,
		"acquired_at", fl.acquiredAt.Format(time.RFC3339Nano),
	)

	return fl, nil
}

func (fl *FileLock) acquireWithRetry(cfg *FileLockConfig) error {
	for i := 0; i < cfg.LockMaxRetry; i++ {
		select {
		case <-fl.ctx.Done():
			return fmt.Errorf("lock acquisition cancelled: %w", fl.ctx.Err())
		default:
			locked, err := fl.fileLock.TryLock()
			if err != nil {
				return fmt.Errorf("failed to attempt lock: %w", err)
			}
			if locked {
				return nil
			}

			if i < cfg.LockMaxRetry-1 {
				time.Sleep(cfg.LockRetry)
			}
		}
	}

	return fmt.Errorf("data dir %s is locked by another instance (timeout after %v)",
		filepath.Dir(fl.lockPath), cfg.LockTimeout)
}

func (fl *FileLock) Unlock() {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.fileLock == nil {
		slog.Warn("FileLock already unlocked", "path", fl.lockPath)
		return
	}

	held := time.Since(fl.acquiredAt)
	if err := fl.fileLock.Unlock(); err != nil {
		slog.Error("Failed to release data dir lock", "path", fl.lockPath, "error", err)
	} else {
		slog.Info("Data dir lock released", "path", fl.lockPath, "held_duration_ms", held.Milliseconds())
	}

	if fl.cancel != nil {
		fl.cancel()
	}

	fl.fileLock = nil
}

func (fl *FileLock) IsLocked() bool {
	fl.mu.RLock()
	defer fl.mu.RUnlock()
	return fl.fileLock != nil
}

func (fl *FileLock) HeldDuration() time.Duration {
	fl.mu.RLock()
	defer fl.mu.RUnlock()
	if fl.acquiredAt.IsZero() {
		return 0
	}
	return time.Since(fl.acquiredAt)
}

// CleanupStaleLocks warns about (or, when forced, removes) a lock file older than maxAge.
func CleanupStaleLocks(basePath string, maxAge time.Duration, forceCleanup bool) error {
	lockPath := filepath.Join(basePath, lockFileName)
	info, err := os.Stat(lockPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	age := time.Since(info.ModTime())
	if age <= maxAge {
		return nil
	}

	slog.Warn("Found stale lock file", "path", lockPath, "age", age, "max_age", maxAge)
	if !forceCleanup {
		slog.Info("Stale lock detected but not cleaning (use --force-clean-locks to remove)", "path", lockPath)
		return nil
	}

	if err := os.Remove(lockPath); err != nil {
		slog.Error("Failed to remove stale lock file", "path", lockPath, "error", err)
		return err
	}

	slog.Info("Stale lock file removed", "path", lockPath)
	return nil
}
