package engine

import (
	"net/url"

	"github.com/harunnryd/etat/internal/urlstate"
)

func urlstateQuery(templateID, sessionID string) url.Values {
	return urlstate.State{TemplateID: templateID, SessionID: sessionID}.Apply(url.Values{})
}

type fixedLocation struct{}

func (fixedLocation) Path() string               { return "/" }
func (fixedLocation) Query() url.Values          { return url.Values{} }
func (fixedLocation) Replace(string, url.Values) {}
