package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/harunnryd/etat/internal/config"
	"github.com/harunnryd/etat/internal/store"
)

type phase int

const (
	phaseRegistered phase = iota
	phaseInitialized
	phaseStarted
)

// Daemon runs the field agent: every component is initialised and started
// in dependency order and stopped in the reverse of that order. Only the
// components that got past Init are stopped on the way out.
type Daemon struct {
	cfg             *config.Config
	dataDir         string
	forceCleanLocks bool
	bootedAt        time.Time

	mu      sync.RWMutex
	comps   []Component
	byName  map[string]Component
	phases  map[string]phase
	reached []string
	status  HealthStatus
	began   bool
}

type Option func(*Daemon)

// WithForceCleanLocks removes a stale data-dir lock at boot instead of only
// reporting it.
func WithForceCleanLocks(force bool) Option {
	return func(d *Daemon) { d.forceCleanLocks = force }
}

func NewDaemon(cfg *config.Config, opts ...Option) (*Daemon, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	dataDir, err := store.ResolveDataDir(cfg.Store.DataDir)
	if err != nil {
		return nil, fmt.Errorf("resolve data dir: %w", err)
	}

	d := &Daemon{
		cfg:      cfg,
		dataDir:  dataDir,
		bootedAt: time.Now(),
		byName:   make(map[string]Component),
		phases:   make(map[string]phase),
		status:   StatusStarting,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// AddComponent registers comp. Names are unique and the set is frozen once
// Start has been called.
func (d *Daemon) AddComponent(comp Component) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	name := comp.Name()
	if d.began {
		return fmt.Errorf("component %s registered after start", name)
	}
	if _, dup := d.byName[name]; dup {
		return fmt.Errorf("component %s already registered", name)
	}
	d.comps = append(d.comps, comp)
	d.byName[name] = comp
	d.phases[name] = phaseRegistered
	slog.Debug("Component registered", "component", name, "total_components", len(d.comps))
	return nil
}

// Start blocks until ctx is cancelled or the process is signalled, then
// stops every component. A clean stop returns nil.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	d.began = true
	d.mu.Unlock()

	slog.Info("Etat daemon starting", "data_dir", d.dataDir)
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTimeout, err := config.DurationOrDefault(d.cfg.Daemon.ShutdownTimeout, config.DefaultDaemonShutdownTimeout)
	if err != nil {
		return fmt.Errorf("daemon.shutdown_timeout: %w", err)
	}
	unwindTimeout, err := config.DurationOrDefault(d.cfg.Daemon.StartupShutdownTimeout, config.DefaultDaemonStartupShutdown)
	if err != nil {
		return fmt.Errorf("daemon.startup_shutdown_timeout: %w", err)
	}
	if err := d.validateConfig(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	d.cleanStaleLock()

	order, err := d.plan()
	if err != nil {
		d.setHealth(StatusStopped)
		return fmt.Errorf("component plan: %w", err)
	}
	if err := d.bringUp(ctx, order); err != nil {
		if stopErr := d.unwind(unwindTimeout); stopErr != nil {
			slog.Warn("Unwind after failed start reported errors", "error", stopErr)
		}
		return err
	}

	d.setHealth(StatusRunning)
	slog.Info("Etat daemon is running", "data_dir", d.dataDir, "components", len(order))

	monitorDone := make(chan struct{})
	monitorCtx, stopMonitor := context.WithCancel(ctx)
	go func() {
		defer close(monitorDone)
		d.monitor(monitorCtx)
	}()

	<-ctx.Done()
	slog.Info("Shutdown requested", "reason", context.Cause(ctx))
	stopMonitor()
	<-monitorDone

	d.setHealth(StatusStopping)
	return d.unwind(shutdownTimeout)
}

func (d *Daemon) Health() HealthStatus {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.status
}

func (d *Daemon) Uptime() time.Duration {
	return time.Since(d.bootedAt)
}

func (d *Daemon) DataDir() string {
	return d.dataDir
}

func (d *Daemon) Component(name string) Component {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.byName[name]
}

// ComponentHealth asks every component for its health. A component that
// returns an error is reported unhealthy with that error.
func (d *Daemon) ComponentHealth() map[string]*ComponentHealth {
	d.mu.RLock()
	comps := append([]Component(nil), d.comps...)
	d.mu.RUnlock()

	result := make(map[string]*ComponentHealth, len(comps))
	for _, comp := range comps {
		h, err := comp.Health(context.Background())
		if h == nil {
			h = &ComponentHealth{Name: comp.Name()}
		}
		if err != nil {
			h.Healthy = false
			h.Error = err
		}
		result[comp.Name()] = h
	}
	return result
}

func (d *Daemon) setHealth(status HealthStatus) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.status = status
}

func (d *Daemon) validateConfig() error {
	if d.cfg.Server.Port < 1 || d.cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d (must be 1-65535)", d.cfg.Server.Port)
	}
	if err := os.MkdirAll(d.dataDir, 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	return nil
}

// cleanStaleLock deals with a lock left by a crashed process. Failure only
// warns; the store worker reports a live holder when it initialises.
func (d *Daemon) cleanStaleLock() {
	ttl, err := config.DurationOrDefault(d.cfg.Daemon.StaleLockTTL, config.DefaultDaemonStaleLockTTL)
	if err != nil {
		slog.Warn("Invalid daemon.stale_lock_ttl, using default", "error", err)
		ttl, _ = config.DurationOrDefault("", config.DefaultDaemonStaleLockTTL)
	}
	if err := store.CleanupStaleLocks(d.dataDir, ttl, d.forceCleanLocks); err != nil {
		slog.Warn("Failed to clean stale lock", "data_dir", d.dataDir, "error", err)
	}
}

// plan orders the components so each comes after its dependencies. Ties keep
// registration order.
func (d *Daemon) plan() ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	pending := make(map[string]int, len(d.comps))
	dependents := make(map[string][]string, len(d.comps))
	for _, comp := range d.comps {
		pending[comp.Name()] = 0
	}
	for _, comp := range d.comps {
		for _, dep := range comp.Dependencies() {
			if _, ok := d.byName[dep]; !ok {
				return nil, fmt.Errorf("component %s depends on %s which is not registered", comp.Name(), dep)
			}
			pending[comp.Name()]++
			dependents[dep] = append(dependents[dep], comp.Name())
		}
	}

	order := make([]string, 0, len(d.comps))
	placed := make(map[string]bool, len(d.comps))
	for len(order) < len(d.comps) {
		progressed := false
		for _, comp := range d.comps {
			name := comp.Name()
			if placed[name] || pending[name] > 0 {
				continue
			}
			placed[name] = true
			order = append(order, name)
			for _, next := range dependents[name] {
				pending[next]--
			}
			progressed = true
		}
		if !progressed {
			var stuck []string
			for _, comp := range d.comps {
				if !placed[comp.Name()] {
					stuck = append(stuck, comp.Name())
				}
			}
			return nil, fmt.Errorf("circular dependency among %v", stuck)
		}
	}
	slog.Debug("Component order resolved", "order", order)
	return order, nil
}

// bringUp initialises every component in order, then starts them in the
// same order.
func (d *Daemon) bringUp(ctx context.Context, order []string) error {
	for _, name := range order {
		slog.Info("Initializing component", "component", name)
		if err := d.byName[name].Init(ctx); err != nil {
			slog.Error("Component initialization failed", "component", name, "error", err)
			return fmt.Errorf("component %s init failed: %w", name, err)
		}
		d.advance(name, phaseInitialized)
	}
	for _, name := range order {
		slog.Info("Starting component", "component", name)
		if err := d.byName[name].Start(ctx); err != nil {
			slog.Error("Component startup failed", "component", name, "error", err)
			return fmt.Errorf("component %s startup failed: %w", name, err)
		}
		d.advance(name, phaseStarted)
	}
	return nil
}

func (d *Daemon) advance(name string, p phase) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.phases[name] == phaseRegistered {
		d.reached = append(d.reached, name)
	}
	d.phases[name] = p
}

// unwind stops every component that got past Init, newest first, within
// timeout. Every stop runs even when an earlier one fails.
func (d *Daemon) unwind(timeout time.Duration) error {
	d.mu.Lock()
	reached := append([]string(nil), d.reached...)
	d.reached = nil
	d.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		var errs []error
		for i := len(reached) - 1; i >= 0; i-- {
			name := reached[i]
			slog.Info("Stopping component", "component", name)
			if err := d.byName[name].Stop(ctx); err != nil {
				slog.Error("Component stop failed", "component", name, "error", err)
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
			}
			d.mu.Lock()
			d.phases[name] = phaseRegistered
			d.mu.Unlock()
		}
		done <- errors.Join(errs...)
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = fmt.Errorf("shutdown timeout after %v", timeout)
	}
	d.setHealth(StatusStopped)
	if err != nil {
		slog.Error("Shutdown finished with errors", "error", err)
		return err
	}
	slog.Info("Etat daemon stopped")
	return nil
}

// monitor polls component health and logs only when a component changes
// state. Any unhealthy component marks the daemon degraded.
func (d *Daemon) monitor(ctx context.Context) {
	interval, err := config.PositiveDurationOrDefault(d.cfg.Daemon.HealthCheckInterval, config.DefaultDaemonHealthCheckInterval)
	if err != nil {
		slog.Error("Invalid daemon.health_check_interval, health monitor disabled", "error", err)
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := make(map[string]bool)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.checkHealth(last)
		}
	}
}

func (d *Daemon) checkHealth(last map[string]bool) {
	unhealthy := 0
	for name, h := range d.ComponentHealth() {
		was, seen := last[name]
		last[name] = h.Healthy
		if !h.Healthy {
			unhealthy++
		}
		switch {
		case (!seen || was) && !h.Healthy:
			slog.Warn("Component unhealthy", "component", name, "error", h.Error)
		case seen && !was && h.Healthy:
			slog.Info("Component recovered", "component", name)
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.status != StatusRunning && d.status != StatusDegraded {
		return
	}
	if unhealthy > 0 {
		d.status = StatusDegraded
	} else {
		d.status = StatusRunning
	}
}
