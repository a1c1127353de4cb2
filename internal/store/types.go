package store

import (
	"encoding/json"
	"fmt"
	"maps"
	"strings"
	"time"
)

// --- Flow & status ---

type FlowType string

const (
	FlowCheckin  FlowType = "checkin"
	FlowCheckout FlowType = "checkout"
)

func ParseFlowType(s string) (FlowType, error) {
	switch FlowType(strings.ToLower(strings.TrimSpace(s))) {
	case FlowCheckin:
		return FlowCheckin, nil
	case FlowCheckout:
		return FlowCheckout, nil
	default:
		return "", fmt.Errorf("unknown flow type %q", s)
	}
}

func (f FlowType) Valid() bool {
	return f == FlowCheckin || f == FlowCheckout
}

// Opposite returns the other flow (checkin <-> checkout).
func (f FlowType) Opposite() FlowType {
	if f == FlowCheckout {
		return FlowCheckin
	}
	return FlowCheckout
}

type Status string

const (
	StatusActive     Status = "active"
	StatusCompleted  Status = "completed"
	StatusTerminated Status = "terminated"
)

// Rank orders statuses; transitions may only move to an equal or higher rank.
func (s Status) Rank() int {
	switch s {
	case StatusActive:
		return 0
	case StatusCompleted:
		return 1
	case StatusTerminated:
		return 2
	default:
		return -1
	}
}

func (s Status) CanTransitionTo(next Status) bool {
	return next.Rank() >= 0 && next.Rank() >= s.Rank()
}

// --- Interaction log ---

type InteractionKind string

const (
	KindButtonClick      InteractionKind = "button_click"
	KindPhotoTaken       InteractionKind = "photo_taken"
	KindCheckboxChange   InteractionKind = "checkbox_change"
	KindIssueReport      InteractionKind = "issue_report"
	KindNavigation       InteractionKind = "navigation"
	KindPieceStateChange InteractionKind = "piece_state_change"
)

var interactionKinds = []InteractionKind{
	KindButtonClick,
	KindPhotoTaken,
	KindCheckboxChange,
	KindIssueReport,
	KindNavigation,
	KindPieceStateChange,
}

// InteractionKinds lists every recorded variant in a stable order.
func InteractionKinds() []InteractionKind {
	out := make([]InteractionKind, len(interactionKinds))
	copy(out, interactionKinds)
	return out
}

func (k InteractionKind) Valid() bool {
	for _, known := range interactionKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Interaction is one append-only record. Metadata is free-form; a few keys
// carry meaning for progress reconstruction (see session.ReconstructCompletedTasks).
type Interaction struct {
	ID        string          `json:"id"` // ULID
	Kind      InteractionKind `json:"kind"`
	RoomID    string          `json:"room_id"`
	TaskID    string          `json:"task_id,omitempty"`
	Timestamp time.Time       `json:"ts"`
	Metadata  map[string]any  `json:"meta,omitempty"`
}

// MetaString returns metadata[key] when it is a string.
func (i Interaction) MetaString(key string) string {
	if i.Metadata == nil {
		return ""
	}
	if v, ok := i.Metadata[key].(string); ok {
		return v
	}
	return ""
}

// MetaBool returns metadata[key] when it is a bool, or the string "true".
func (i Interaction) MetaBool(key string) bool {
	if i.Metadata == nil {
		return false
	}
	switch v := i.Metadata[key].(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(v, "true")
	default:
		return false
	}
}

// --- Session document ---

type Progress struct {
	CurrentRoomID    string        `json:"current_room_id"`
	CurrentTaskIndex int           `json:"current_task_index"`
	LastPath         string        `json:"last_path,omitempty"`
	Interactions     []Interaction `json:"interactions"`
}

type Session struct {
	ID           string     `json:"id"` // ULID
	TemplateID   string     `json:"template_id"`
	FlowType     FlowType   `json:"flow_type"`
	Status       Status     `json:"status"`
	Progress     Progress   `json:"progress"`
	CreatedAt    time.Time  `json:"created_at"`
	LastActiveAt time.Time  `json:"last_active_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	TerminatedAt *time.Time `json:"terminated_at,omitempty"`
}

// HasRoomProgress reports whether the run has moved into a room or recorded anything.
func (s *Session) HasRoomProgress() bool {
	if s == nil {
		return false
	}
	return s.Progress.CurrentRoomID != "" || len(s.Progress.Interactions) > 0
}

// Clone returns a deep copy so callers never share the stored interaction slice.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Progress.Interactions = make([]Interaction, len(s.Progress.Interactions))
	for i, rec := range s.Progress.Interactions {
		rec.Metadata = maps.Clone(rec.Metadata)
		out.Progress.Interactions[i] = rec
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		out.CompletedAt = &t
	}
	if s.TerminatedAt != nil {
		t := *s.TerminatedAt
		out.TerminatedAt = &t
	}
	return &out
}

// --- Reference dataset cache ---

// DatasetEntry is a cached raw template payload. The adapted view is never
// stored; it is recomputed from Payload.
type DatasetEntry struct {
	TemplateID string            `json:"template_id"`
	Payload    json.RawMessage   `json:"payload"`
	CachedAt   time.Time         `json:"cached_at"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}
