package urlstate

import "time"

type Action string

const (
	ActionNone       Action = "none"
	ActionPersist    Action = "persist"     // URL is authoritative, store it
	ActionNewSession Action = "new_session" // template without session: start fresh
	ActionRestore    Action = "restore"     // fill the URL from storage
)

// Decision is the outcome of comparing the URL with what was persisted.
// Persist is written to storage when non-empty; URL is what the address bar
// should carry when Rewrite is set.
type Decision struct {
	Action             Action
	Persist            State
	URL                State
	Rewrite            bool
	ClearActiveSession bool
	DiscardSnapshot    bool
}

// Decide is the pure reconciliation rule.
//
// Both identifiers in the URL: persist them. Template without session: the
// user is starting a new run, so no session id is ever restored for this
// pass. Anything else: fill the missing identifiers from storage, preferring
// the active-session scalar over the snapshot's session, and rewrite the URL.
func Decide(current State, snapshot *Snapshot, activeSessionID string, now time.Time, ttl time.Duration) Decision {
	if current.Complete() {
		return Decision{Action: ActionPersist, Persist: current}
	}

	if current.TemplateID != "" {
		return Decision{
			Action:             ActionNewSession,
			Persist:            State{TemplateID: current.TemplateID},
			ClearActiveSession: true,
		}
	}

	d := Decision{Action: ActionNone}
	var saved State
	if snapshot != nil {
		if snapshot.Expired(now, ttl) {
			d.DiscardSnapshot = true
		} else {
			saved = snapshot.State
		}
	}

	resolved := current
	if resolved.TemplateID == "" {
		resolved.TemplateID = saved.TemplateID
	}
	if resolved.SessionID == "" {
		switch {
		case activeSessionID != "":
			resolved.SessionID = activeSessionID
		default:
			resolved.SessionID = saved.SessionID
		}
	}

	if resolved == current {
		return d
	}
	d.Action = ActionRestore
	d.URL = resolved
	d.Rewrite = true
	d.Persist = resolved
	return d
}
