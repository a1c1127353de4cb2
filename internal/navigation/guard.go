package navigation

import (
	"github.com/harunnryd/etat/internal/store"
)

// Guard decides which screen a session may be on.
type Guard struct {
	routes Routes
}

func NewGuard(routes Routes) *Guard {
	if routes == nil {
		routes = DefaultRoutes()
	}
	return &Guard{routes: routes}
}

func (g *Guard) Routes() Routes {
	return g.routes
}

// IsRouteAllowed reports whether sess may render path. Paths the guard does
// not know are always allowed.
func (g *Guard) IsRouteAllowed(path string, sess *store.Session) bool {
	if !g.routes.Guarded(path) {
		return true
	}
	if sess == nil {
		return g.routes.isHome(path)
	}

	own := g.routes[sess.FlowType]
	switch sess.Status {
	case store.StatusTerminated:
		return path == own.Done
	case store.StatusCompleted:
		if sess.FlowType == store.FlowCheckin {
			return path == own.Done || path == g.routes[store.FlowCheckout].Home
		}
		return path == own.Done || path == own.Home
	default:
		return path == own.Home || path == own.Active
	}
}

// CorrectRouteFor returns the canonical screen for sess, first match wins:
//  1. terminated: the flow's completion screen
//  2. completed check-in: the check-out home screen
//  3. active with room progress, last seen on a home screen: the flow's task screen
//  4. anything else: the flow's home screen
func (g *Guard) CorrectRouteFor(sess *store.Session, lastPath string) string {
	if sess == nil {
		return g.routes[store.FlowCheckin].Home
	}

	own := g.routes[sess.FlowType]
	switch {
	case sess.Status == store.StatusTerminated:
		return own.Done
	case sess.Status == store.StatusCompleted && sess.FlowType == store.FlowCheckin:
		return g.routes[store.FlowCheckout].Home
	case sess.Status == store.StatusActive && g.routes.isHome(lastPath) && sess.HasRoomProgress():
		return own.Active
	default:
		return own.Home
	}
}

// ResumesFromHome reports whether path is the home screen of an active run
// that already has room progress, which belongs on the task screen instead.
func (g *Guard) ResumesFromHome(path string, sess *store.Session) bool {
	if sess == nil || sess.Status != store.StatusActive || !sess.HasRoomProgress() {
		return false
	}
	return path == g.routes[sess.FlowType].Home
}
