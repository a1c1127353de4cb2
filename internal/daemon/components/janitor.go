package components

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/harunnryd/etat/internal/config"
	"github.com/harunnryd/etat/internal/daemon"
	"github.com/harunnryd/etat/internal/janitor"
)

type JanitorComponent struct {
	cfg        *config.Config
	engineComp *EngineComponent
	janitor    *janitor.Janitor
}

func NewJanitorComponent(cfg *config.Config, engineComp *EngineComponent) *JanitorComponent {
	return &JanitorComponent{cfg: cfg, engineComp: engineComp}
}

func (j *JanitorComponent) Name() string {
	return "Janitor"
}

func (j *JanitorComponent) Dependencies() []string {
	return []string{"Engine"}
}

func (j *JanitorComponent) Init(ctx context.Context) error {
	if !j.cfg.Janitor.Enabled {
		slog.Info("Janitor disabled", "component", j.Name())
		return nil
	}
	eng := j.engineComp.GetEngine()
	if eng == nil {
		return fmt.Errorf("engine not initialized")
	}
	jan, err := janitor.New(eng.Worker(), eng.Scalars(), j.cfg)
	if err != nil {
		return fmt.Errorf("failed to create janitor: %w", err)
	}
	j.janitor = jan
	return nil
}

func (j *JanitorComponent) Start(ctx context.Context) error {
	if j.janitor == nil {
		return nil
	}
	return j.janitor.Start(ctx)
}

func (j *JanitorComponent) Stop(ctx context.Context) error {
	if j.janitor == nil {
		return nil
	}
	return j.janitor.Stop(ctx)
}

func (j *JanitorComponent) Health(ctx context.Context) (*daemon.ComponentHealth, error) {
	if j.janitor == nil {
		// disabled is a healthy state
		return daemon.Healthy(j.Name()), nil
	}
	if err := j.janitor.Health(); err != nil {
		return &daemon.ComponentHealth{Name: j.Name(), Healthy: false, Error: err}, nil
	}
	return daemon.Healthy(j.Name()), nil
}
