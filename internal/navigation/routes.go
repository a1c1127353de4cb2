package navigation

import (
	"fmt"
	"strings"

	"github.com/harunnryd/etat/internal/store"
)

// FlowRoutes are the three guarded screens of one flow.
type FlowRoutes struct {
	Home   string `json:"home"`
	Active string `json:"active"`
	Done   string `json:"done"`
}

type Routes map[store.FlowType]FlowRoutes

func DefaultRoutes() Routes {
	return Routes{
		store.FlowCheckin: {
			Home:   "/checkin-home",
			Active: "/checkin",
			Done:   "/checkin-complete",
		},
		store.FlowCheckout: {
			Home:   "/checkout-home",
			Active: "/checkout",
			Done:   "/checkout-complete",
		},
	}
}

// RoutesFromConfig applies overrides keyed "<flow>_<screen>", e.g.
// "checkout_done: /checkout/finished", on top of the defaults.
func RoutesFromConfig(overrides map[string]string) (Routes, error) {
	routes := DefaultRoutes()
	for key, path := range overrides {
		flowName, screen, ok := strings.Cut(strings.ToLower(strings.TrimSpace(key)), "_")
		if !ok {
			return nil, fmt.Errorf("navigation.routes: bad key %q", key)
		}
		flow, err := store.ParseFlowType(flowName)
		if err != nil {
			return nil, fmt.Errorf("navigation.routes: %w", err)
		}
		path = strings.TrimSpace(path)
		if !strings.HasPrefix(path, "/") {
			return nil, fmt.Errorf("navigation.routes.%s: path %q must start with /", key, path)
		}
		fr := routes[flow]
		switch screen {
		case "home":
			fr.Home = path
		case "active":
			fr.Active = path
		case "done":
			fr.Done = path
		default:
			return nil, fmt.Errorf("navigation.routes: unknown screen %q", screen)
		}
		routes[flow] = fr
	}
	if err := routes.validate(); err != nil {
		return nil, err
	}
	return routes, nil
}

func (r Routes) validate() error {
	seen := map[string]string{}
	for _, flow := range []store.FlowType{store.FlowCheckin, store.FlowCheckout} {
		fr := r[flow]
		for screen, path := range map[string]string{"home": fr.Home, "active": fr.Active, "done": fr.Done} {
			label := string(flow) + "_" + screen
			if prev, dup := seen[path]; dup {
				return fmt.Errorf("navigation.routes: %s and %s share path %s", prev, label, path)
			}
			seen[path] = label
		}
	}
	return nil
}

func (r Routes) isHome(path string) bool {
	for _, fr := range r {
		if fr.Home == path {
			return true
		}
	}
	return false
}

// Guarded reports whether path is one of the routes the guard controls.
func (r Routes) Guarded(path string) bool {
	for _, fr := range r {
		if fr.Home == path || fr.Active == path || fr.Done == path {
			return true
		}
	}
	return false
}
