// Package urlstate keeps the address-bar identifiers (template, session) and
// the persisted scalars consistent with each other.
package urlstate

import (
	"net/url"
	"strings"
	"time"
)

// Query parameter names.
const (
	ParamTemplate = "template"
	ParamSession  = "session"
)

type State struct {
	TemplateID string `json:"template_id,omitempty"`
	SessionID  string `json:"session_id,omitempty"`
}

func FromQuery(q url.Values) State {
	return State{
		TemplateID: strings.TrimSpace(q.Get(ParamTemplate)),
		SessionID:  strings.TrimSpace(q.Get(ParamSession)),
	}
}

// Apply writes s into q, removing parameters that are empty.
func (s State) Apply(q url.Values) url.Values {
	out := url.Values{}
	for k, v := range q {
		out[k] = append([]string(nil), v...)
	}
	set := func(key, value string) {
		if value == "" {
			out.Del(key)
			return
		}
		out.Set(key, value)
	}
	set(ParamTemplate, s.TemplateID)
	set(ParamSession, s.SessionID)
	return out
}

func (s State) Empty() bool {
	return s.TemplateID == "" && s.SessionID == ""
}

func (s State) Complete() bool {
	return s.TemplateID != "" && s.SessionID != ""
}

// Snapshot is the persisted copy of the last reconciled state.
type Snapshot struct {
	State
	SavedAt time.Time `json:"saved_at"`
}

// Expired is true once the snapshot is at least ttl old.
func (s Snapshot) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(s.SavedAt) >= ttl
}
