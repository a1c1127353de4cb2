package components

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/harunnryd/etat/internal/config"
	"github.com/harunnryd/etat/internal/daemon"
	"github.com/harunnryd/etat/internal/engine"
	"github.com/harunnryd/etat/internal/metrics"
)

type EngineComponent struct {
	cfg       *config.Config
	storeComp *StoreWorkerComponent
	metrics   *metrics.Metrics
	engine    *engine.Engine
}

func NewEngineComponent(cfg *config.Config, storeComp *StoreWorkerComponent, m *metrics.Metrics) *EngineComponent {
	return &EngineComponent{cfg: cfg, storeComp: storeComp, metrics: m}
}

func (e *EngineComponent) Name() string {
	return "Engine"
}

func (e *EngineComponent) Dependencies() []string {
	return []string{"StoreWorker"}
}

func (e *EngineComponent) Init(ctx context.Context) error {
	if e.storeComp == nil {
		return fmt.Errorf("store component not provided")
	}
	worker := e.storeComp.GetWorker()
	if worker == nil {
		return fmt.Errorf("store worker not initialized")
	}

	eng, err := engine.New(e.cfg, engine.Deps{Worker: worker, Metrics: e.metrics})
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}
	e.engine = eng
	slog.Info("Engine initialized", "component", e.Name())
	return nil
}

func (e *EngineComponent) Start(ctx context.Context) error {
	if e.engine == nil {
		return fmt.Errorf("engine not initialized")
	}
	return e.engine.Start(ctx)
}

func (e *EngineComponent) Stop(ctx context.Context) error {
	if e.engine == nil {
		return nil
	}
	if err := e.engine.Stop(ctx); err != nil {
		return fmt.Errorf("failed to stop engine: %w", err)
	}
	slog.Info("Engine stopped", "component", e.Name())
	return nil
}

func (e *EngineComponent) Health(ctx context.Context) (*daemon.ComponentHealth, error) {
	if e.engine == nil {
		return daemon.Unhealthy(e.Name(), "not initialized"), nil
	}
	if !e.engine.Running() {
		return daemon.Unhealthy(e.Name(), "reconciler not running"), nil
	}
	return daemon.Healthy(e.Name()), nil
}

func (e *EngineComponent) GetEngine() *engine.Engine {
	return e.engine
}
