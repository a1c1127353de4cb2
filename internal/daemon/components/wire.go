package components

import (
	"github.com/harunnryd/etat/internal/config"
	"github.com/harunnryd/etat/internal/daemon"
	"github.com/harunnryd/etat/internal/metrics"
)

// Install registers the standard component set on d and returns the HTTP
// component so callers can read its bound address.
func Install(d *daemon.Daemon, cfg *config.Config, m *metrics.Metrics) (*HTTPServerComponent, error) {
	storeComp := NewStoreWorkerComponent(&cfg.Store)
	engineComp := NewEngineComponent(cfg, storeComp, m)
	janitorComp := NewJanitorComponent(cfg, engineComp)
	httpComp := NewHTTPServerComponent(d, &cfg.Server, engineComp, m)

	for _, comp := range []daemon.Component{storeComp, engineComp, janitorComp, httpComp} {
		if err := d.AddComponent(comp); err != nil {
			return nil, err
		}
	}
	return httpComp, nil
}
