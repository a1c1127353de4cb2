package daemon

import (
	"context"
	"errors"
)

type HealthStatus string

const (
	StatusStarting HealthStatus = "starting"
	StatusRunning  HealthStatus = "running"
	StatusDegraded HealthStatus = "degraded"
	StatusStopping HealthStatus = "stopping"
	StatusStopped  HealthStatus = "stopped"
)

type ComponentHealth struct {
	Name    string
	Healthy bool
	Error   error
}

func Healthy(name string) *ComponentHealth {
	return &ComponentHealth{Name: name, Healthy: true}
}

func Unhealthy(name, reason string) *ComponentHealth {
	return &ComponentHealth{Name: name, Error: errors.New(reason)}
}

// Component is one unit of the daemon lifecycle. Init runs in dependency
// order, Start in registration order and Stop in reverse registration order.
// Stop must be safe to call on a component that never started.
type Component interface {
	Name() string
	Dependencies() []string
	Init(ctx context.Context) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Health(ctx context.Context) (*ComponentHealth, error)
}
