package session

import (
	"slices"
	"strings"

	"github.com/harunnryd/etat/internal/store"
)

// RoomTasks maps a room id to the ids of its tasks.
type RoomTasks map[string][]string

// TaskSet is a set of completed task ids.
type TaskSet map[string]struct{}

func (s TaskSet) Has(taskID string) bool {
	_, ok := s[taskID]
	return ok
}

func (s TaskSet) Len() int { return len(s) }

// Sorted returns the members in lexical order.
func (s TaskSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

var (
	completedPieceStates = []string{"completed", "validated"}
	validationActions    = []string{"validate", "validate_task", "mark_validated"}
)

// ReconstructCompletedTasks derives the completed tasks from the interaction log.
// A piece-state record whose status is completed or validated completes every
// task in its room; a button click flagged as a validation completes its own
// task. Either source is enough.
func ReconstructCompletedTasks(sess *store.Session, rooms RoomTasks) TaskSet {
	done := TaskSet{}
	if sess == nil {
		return done
	}
	for _, rec := range sess.Progress.Interactions {
		switch rec.Kind {
		case store.KindPieceStateChange:
			if !slices.Contains(completedPieceStates, strings.ToLower(rec.MetaString("status"))) {
				continue
			}
			for _, taskID := range rooms[rec.RoomID] {
				done[taskID] = struct{}{}
			}
		case store.KindButtonClick:
			if !isValidation(rec) {
				continue
			}
			if taskID := taskOf(rec); taskID != "" {
				done[taskID] = struct{}{}
			}
		}
	}
	return done
}

func isValidation(rec store.Interaction) bool {
	if rec.MetaBool("validated") {
		return true
	}
	return slices.Contains(validationActions, strings.ToLower(rec.MetaString("action")))
}

func taskOf(rec store.Interaction) string {
	if rec.TaskID != "" {
		return rec.TaskID
	}
	return rec.MetaString("task_id")
}
