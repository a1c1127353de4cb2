package components

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/harunnryd/etat/internal/config"
	"github.com/harunnryd/etat/internal/daemon"
	"github.com/harunnryd/etat/internal/store"
)

// StoreWorkerComponent owns the document store worker for the data dir.
type StoreWorkerComponent struct {
	storeCfg    *config.StoreConfig
	worker      *store.Worker
	initialized bool
	started     bool
	mu          sync.RWMutex
	startTime   time.Time
}

func NewStoreWorkerComponent(storeCfg *config.StoreConfig) *StoreWorkerComponent {
	return &StoreWorkerComponent{storeCfg: storeCfg}
}

func (s *StoreWorkerComponent) Name() string {
	return "StoreWorker"
}

func (s *StoreWorkerComponent) Dependencies() []string {
	return []string{}
}

func (s *StoreWorkerComponent) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-ctx.Done():
		return fmt.Errorf("StoreWorker init cancelled: %w", ctx.Err())
	default:
	}

	cfg := config.StoreConfig{}
	if s.storeCfg != nil {
		cfg = *s.storeCfg
	}
	lockTimeout, err := config.DurationOrDefault(cfg.LockTimeout, config.DefaultStoreLockTimeout)
	if err != nil {
		return fmt.Errorf("parse store lock timeout: %w", err)
	}
	lockRetry, err := config.DurationOrDefault(cfg.LockRetry, config.DefaultStoreLockRetry)
	if err != nil {
		return fmt.Errorf("parse store lock retry: %w", err)
	}

	worker, err := store.NewWorker(cfg.DataDir, store.RuntimeConfig{
		LockTimeout:  lockTimeout,
		LockRetry:    lockRetry,
		LockMaxRetry: cfg.LockMaxRetry,
		InboxSize:    cfg.InboxSize,
	})
	if err != nil {
		return fmt.Errorf("failed to init store worker: %w", err)
	}

	s.worker = worker
	s.initialized = true
	slog.Info("StoreWorker initialized", "component", s.Name(), "data_dir", worker.DataDir())
	return nil
}

func (s *StoreWorkerComponent) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return fmt.Errorf("StoreWorker not initialized")
	}

	s.worker.Start()
	s.started = true
	s.startTime = time.Now()
	slog.Info("StoreWorker started", "component", s.Name())
	return nil
}

func (s *StoreWorkerComponent) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.worker == nil {
		return nil
	}
	// Stop also releases the file lock, so it runs after a failed start too.
	s.worker.Stop()
	s.started = false
	slog.Info("StoreWorker stopped", "component", s.Name())
	return nil
}

func (s *StoreWorkerComponent) Health(ctx context.Context) (*daemon.ComponentHealth, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	switch {
	case !s.initialized:
		return daemon.Unhealthy(s.Name(), "not initialized"), nil
	case !s.started:
		return daemon.Unhealthy(s.Name(), "not started"), nil
	case !s.worker.IsLockHeld():
		return daemon.Unhealthy(s.Name(), "lock not held"), nil
	case !s.worker.IsRunning():
		return daemon.Unhealthy(s.Name(), "loop not running"), nil
	}
	return daemon.Healthy(s.Name()), nil
}

func (s *StoreWorkerComponent) GetWorker() *store.Worker {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.worker
}
