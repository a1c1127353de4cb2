package navigation

import (
	"fmt"
	"net/url"

	etaterrors "github.com/harunnryd/etat/internal/errors"
	"github.com/harunnryd/etat/internal/metrics"
	"github.com/harunnryd/etat/internal/store"
	"github.com/harunnryd/etat/internal/urlstate"
)

// Redirect is a replace-navigation target with the query parameters to carry.
type Redirect struct {
	Path  string         `json:"path"`
	Query urlstate.State `json:"query"`
}

func (r Redirect) URL() string {
	u := url.URL{Path: r.Path, RawQuery: r.Query.Apply(url.Values{}).Encode()}
	return u.String()
}

// Mount tracks restoration attempts for one mount of a guarded region.
type Mount struct {
	guard       *Guard
	maxAttempts int
	attempts    int
	metrics     *metrics.Metrics
}

func (g *Guard) NewMount(maxAttempts int, m *metrics.Metrics) *Mount {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Mount{guard: g, maxAttempts: maxAttempts, metrics: m}
}

// Check returns nil when path is allowed, otherwise the redirect to take.
// An active run with room progress that lands on its home screen is sent
// back to the task screen. Once the attempts are used up it returns
// ErrRedirectLoop and the caller stays where it is.
func (m *Mount) Check(path string, sess *store.Session, lastPath string, params urlstate.State) (*Redirect, error) {
	resume := m.guard.ResumesFromHome(path, sess)
	if !resume && m.guard.IsRouteAllowed(path, sess) {
		m.metrics.Redirected("allowed")
		return nil, nil
	}
	if m.attempts >= m.maxAttempts {
		m.metrics.Redirected("exhausted")
		return nil, etaterrors.WrapWithCategory(
			fmt.Errorf("%d redirects from %s", m.attempts, path),
			"route restoration abandoned",
			etaterrors.ErrRedirectLoop,
		)
	}
	m.attempts++
	m.metrics.Redirected("redirect")

	if resume {
		lastPath = path
	}
	target := m.guard.CorrectRouteFor(sess, lastPath)
	if m.guard.ResumesFromHome(target, sess) {
		target = m.guard.CorrectRouteFor(sess, target)
	}
	return &Redirect{Path: target, Query: params}, nil
}

func (m *Mount) Attempts() int {
	return m.attempts
}
