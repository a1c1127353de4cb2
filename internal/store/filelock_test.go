package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func shortLockConfig(timeout time.Duration) *FileLockConfig {
	retry := 10 * time.Millisecond
	maxRetry := int(timeout / retry)
	if maxRetry < 1 {
		maxRetry = 1
	}
	return &FileLockConfig{
		LockTimeout:  timeout,
		LockRetry:    retry,
		LockMaxRetry: maxRetry,
	}
}

func TestNewFileLock(t *testing.T) {
	tmpDir := t.TempDir()

	lock, err := NewFileLock(tmpDir, nil)
	if err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}
	if !lock.IsLocked() {
		t.Error("Expected lock to be held")
	}

	lock.Unlock()
	if lock.IsLocked() {
		t.Error("Expected lock to be released after Unlock()")
	}
}

func TestFileLockSecondAcquireTimesOut(t *testing.T) {
	tmpDir := t.TempDir()

	lock, err := NewFileLock(tmpDir, nil)
	if err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}
	defer lock.Unlock()

	start := time.Now()
	second, err := NewFileLock(tmpDir, shortLockConfig(100*time.Millisecond))
	if err == nil {
		second.Unlock()
		t.Fatal("Expected second acquisition to fail while lock is held")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Second acquisition took too long: %v", elapsed)
	}
}

func TestFileLockReacquireAfterUnlock(t *testing.T) {
	tmpDir := t.TempDir()

	first, err := NewFileLock(tmpDir, nil)
	if err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}
	first.Unlock()

	second, err := NewFileLock(tmpDir, shortLockConfig(100*time.Millisecond))
	if err != nil {
		t.Fatalf("Expected reacquire to succeed: %v", err)
	}
	second.Unlock()
}

func TestCleanupStaleLocks(t *testing.T) {
	tmpDir := t.TempDir()
	lockPath := filepath.Join(tmpDir, lockFileName)
	if err := os.WriteFile(lockPath, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(lockPath, old, old); err != nil {
		t.Fatal(err)
	}

	if err := CleanupStaleLocks(tmpDir, time.Hour, false); err != nil {
		t.Fatalf("CleanupStaleLocks without force: %v", err)
	}
	if _, err := os.Stat(lockPath); err != nil {
		t.Fatalf("Lock file should survive without force: %v", err)
	}

	if err := CleanupStaleLocks(tmpDir, time.Hour, true); err != nil {
		t.Fatalf("CleanupStaleLocks with force: %v", err)
	}
	if _, err := os.Stat(lockPath); !os.IsNotExist(err) {
		t.Fatalf("Expected stale lock to be removed, stat err = %v", err)
	}
}
