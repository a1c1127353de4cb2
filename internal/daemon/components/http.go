package components

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/harunnryd/etat/internal/config"
	"github.com/harunnryd/etat/internal/daemon"
	"github.com/harunnryd/etat/internal/metrics"
)

type HTTPServerComponent struct {
	daemon      *daemon.Daemon
	cfg         *config.ServerConfig
	engineComp  *EngineComponent
	metrics     *metrics.Metrics
	server      *http.Server
	addr        string
	shutdownTTL time.Duration
	initialized bool
	started     bool
	mu          sync.RWMutex
	startTime   time.Time
}

func NewHTTPServerComponent(d *daemon.Daemon, cfg *config.ServerConfig, engineComp *EngineComponent, m *metrics.Metrics) *HTTPServerComponent {
	return &HTTPServerComponent{
		daemon:     d,
		cfg:        cfg,
		engineComp: engineComp,
		metrics:    m,
	}
}

func (h *HTTPServerComponent) Name() string {
	return "HTTPServer"
}

func (h *HTTPServerComponent) Dependencies() []string {
	return []string{"StoreWorker", "Engine", "Janitor"}
}

func (h *HTTPServerComponent) Init(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.engineComp == nil || h.engineComp.GetEngine() == nil {
		return fmt.Errorf("engine not initialized")
	}

	readTimeout, err := config.DurationOrDefault(h.cfg.ReadTimeout, config.DefaultServerReadTimeout)
	if err != nil {
		return fmt.Errorf("parse server read timeout: %w", err)
	}
	writeTimeout, err := config.DurationOrDefault(h.cfg.WriteTimeout, config.DefaultServerWriteTimeout)
	if err != nil {
		return fmt.Errorf("parse server write timeout: %w", err)
	}
	idleTimeout, err := config.DurationOrDefault(h.cfg.IdleTimeout, config.DefaultServerIdleTimeout)
	if err != nil {
		return fmt.Errorf("parse server idle timeout: %w", err)
	}
	shutdownTimeout, err := config.DurationOrDefault(h.cfg.ShutdownTimeout, config.DefaultServerShutdownTimeout)
	if err != nil {
		return fmt.Errorf("parse server shutdown timeout: %w", err)
	}

	h.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", h.cfg.Port),
		Handler:      NewAPIHandler(h.daemon, h.engineComp.GetEngine(), h.metrics),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}
	h.shutdownTTL = shutdownTimeout

	h.initialized = true
	slog.Info("HTTPServer initialized", "component", h.Name(), "port", h.cfg.Port)
	return nil
}

// Start binds the listener before returning so port conflicts fail startup.
func (h *HTTPServerComponent) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.initialized {
		return fmt.Errorf("HTTPServer not initialized")
	}

	ln, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", h.server.Addr, err)
	}
	h.addr = ln.Addr().String()

	go func() {
		slog.Info("HTTP server listening", "component", h.Name(), "addr", h.addr)
		if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", "component", h.Name(), "error", err)
		}
	}()

	h.started = true
	h.startTime = time.Now()
	slog.Info("HTTPServer started", "component", h.Name())
	return nil
}

func (h *HTTPServerComponent) Stop(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.started {
		slog.Info("HTTPServer not started, skipping stop", "component", h.Name())
		return nil
	}

	slog.Info("Stopping HTTPServer...", "component", h.Name())
	shutdownCtx, cancel := context.WithTimeout(ctx, h.shutdownTTL)
	defer cancel()

	if err := h.server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTPServer shutdown error", "component", h.Name(), "error", err)
		return err
	}

	h.started = false
	slog.Info("HTTPServer stopped", "component", h.Name(), "served_for", time.Since(h.startTime).Round(time.Second))
	return nil
}

// Addr is the bound listen address, empty until Start.
func (h *HTTPServerComponent) Addr() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.addr
}

func (h *HTTPServerComponent) Health(ctx context.Context) (*daemon.ComponentHealth, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if !h.initialized {
		return daemon.Unhealthy(h.Name(), "not initialized"), nil
	}
	if !h.started {
		return daemon.Unhealthy(h.Name(), "not started"), nil
	}
	return daemon.Healthy(h.Name()), nil
}
