package report

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/gowebpki/jcs"

	"github.com/harunnryd/etat/internal/reference"
	"github.com/harunnryd/etat/internal/session"
	"github.com/harunnryd/etat/internal/store"
)

const Version = 1

// Export is the flat, versioned shape handed to external sinks.
type Export struct {
	Version        int            `json:"version"`
	SessionID      string         `json:"session_id"`
	TemplateID     string         `json:"template_id"`
	TemplateName   string         `json:"template_name,omitempty"`
	Flow           store.FlowType `json:"flow"`
	Status         store.Status   `json:"status"`
	CreatedAt      time.Time      `json:"created_at"`
	LastActiveAt   time.Time      `json:"last_active_at"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	TerminatedAt   *time.Time     `json:"terminated_at,omitempty"`
	Rooms          []Room         `json:"rooms"`
	Counts         Counts         `json:"counts"`
	CompletedTasks []string       `json:"completed_tasks"`
}

type Room struct {
	ID             string   `json:"id"`
	Name           string   `json:"name,omitempty"`
	TaskCount      int      `json:"task_count"`
	CompletedTasks []string `json:"completed_tasks"`
	Interactions   []Entry  `json:"interactions"`
	Known          bool     `json:"known"`
}

type Entry struct {
	ID        string                `json:"id"`
	Kind      store.InteractionKind `json:"kind"`
	TaskID    string                `json:"task_id,omitempty"`
	Timestamp time.Time             `json:"ts"`
	Metadata  map[string]any        `json:"meta,omitempty"`
}

type Counts struct {
	Interactions int            `json:"interactions"`
	Tasks        int            `json:"tasks"`
	Completed    int            `json:"completed"`
	ByKind       map[string]int `json:"by_kind"`
	ByRoom       map[string]int `json:"by_room"`
}

// Build flattens a session against the view it was recorded on. Rooms keep
// the view's order; interactions for rooms the view no longer has are kept
// in trailing rooms marked Known=false.
func Build(sess *store.Session, view reference.View) Export {
	out := Export{
		Version:        Version,
		Rooms:          []Room{},
		CompletedTasks: []string{},
		Counts:         Counts{ByKind: map[string]int{}, ByRoom: map[string]int{}},
	}
	if sess == nil {
		return out
	}

	out.SessionID = sess.ID
	out.TemplateID = sess.TemplateID
	out.TemplateName = view.Name
	out.Flow = sess.FlowType
	out.Status = sess.Status
	out.CreatedAt = sess.CreatedAt
	out.LastActiveAt = sess.LastActiveAt
	out.CompletedAt = sess.CompletedAt
	out.TerminatedAt = sess.TerminatedAt

	done := session.ReconstructCompletedTasks(sess, view.RoomTasks())
	out.CompletedTasks = done.Sorted()

	index := make(map[string]int, len(view.Rooms))
	for _, vr := range view.Rooms {
		room := Room{
			ID:             vr.ID,
			Name:           vr.Name,
			TaskCount:      len(vr.Tasks),
			CompletedTasks: []string{},
			Interactions:   []Entry{},
			Known:          true,
		}
		for _, task := range vr.Tasks {
			if done.Has(task.ID) {
				room.CompletedTasks = append(room.CompletedTasks, task.ID)
			}
		}
		index[vr.ID] = len(out.Rooms)
		out.Rooms = append(out.Rooms, room)
		out.Counts.Tasks += room.TaskCount
		out.Counts.Completed += len(room.CompletedTasks)
	}

	orphans := map[string]*Room{}
	for _, rec := range sess.Progress.Interactions {
		entry := Entry{
			ID:        rec.ID,
			Kind:      rec.Kind,
			TaskID:    rec.TaskID,
			Timestamp: rec.Timestamp,
			Metadata:  maps.Clone(rec.Metadata),
		}
		out.Counts.Interactions++
		out.Counts.ByKind[string(rec.Kind)]++
		out.Counts.ByRoom[rec.RoomID]++

		if i, ok := index[rec.RoomID]; ok {
			out.Rooms[i].Interactions = append(out.Rooms[i].Interactions, entry)
			continue
		}
		room, ok := orphans[rec.RoomID]
		if !ok {
			room = &Room{ID: rec.RoomID, CompletedTasks: []string{}, Interactions: []Entry{}}
			orphans[rec.RoomID] = room
		}
		room.Interactions = append(room.Interactions, entry)
	}
	for _, id := range slices.Sorted(maps.Keys(orphans)) {
		out.Rooms = append(out.Rooms, *orphans[id])
	}
	return out
}

// Encode returns the RFC 8785 canonical bytes of e and their sha256 digest.
// Two exports with equal content always encode and hash identically.
func Encode(e Export) ([]byte, string, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, "", fmt.Errorf("marshal export: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, "", fmt.Errorf("canonicalize export: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return canonical, hex.EncodeToString(sum[:]), nil
}
