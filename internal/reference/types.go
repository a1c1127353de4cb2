package reference

import (
	"encoding/json"
	"time"

	"github.com/harunnryd/etat/internal/cache"
	"github.com/harunnryd/etat/internal/store"
)

// Template is the raw inspection template as served by the reference endpoint.
// Only the fields the engine keys on are modelled; everything else rides along
// untouched in Dataset.Raw.
type Template struct {
	ID    string         `json:"id"`
	Name  string         `json:"name,omitempty"`
	Rooms []TemplateRoom `json:"rooms"`
}

type TemplateRoom struct {
	ID     string                `json:"id"`
	Name   string                `json:"name,omitempty"`
	Tasks  []TemplateTask        `json:"tasks"`
	Photos map[string][]PhotoRef `json:"photos,omitempty"`
}

// TemplateTask lists the flows it belongs to; an empty list means both.
type TemplateTask struct {
	ID    string   `json:"id"`
	Title string   `json:"title,omitempty"`
	Flows []string `json:"flows,omitempty"`
}

type PhotoRef struct {
	ID      string `json:"id"`
	URL     string `json:"url,omitempty"`
	Caption string `json:"caption,omitempty"`
}

// View is the flow-shaped projection of a template.
type View struct {
	TemplateID string         `json:"template_id"`
	Name       string         `json:"name,omitempty"`
	Flow       store.FlowType `json:"flow"`
	Rooms      []Room         `json:"rooms"`
}

type Room struct {
	ID     string     `json:"id"`
	Name   string     `json:"name,omitempty"`
	Tasks  []Task     `json:"tasks"`
	Photos []PhotoRef `json:"photos"`
}

type Task struct {
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`
	Index int    `json:"index"`
}

// RoomTasks maps room id to its ordered task ids.
func (v View) RoomTasks() map[string][]string {
	out := make(map[string][]string, len(v.Rooms))
	for _, room := range v.Rooms {
		ids := make([]string, len(room.Tasks))
		for i, task := range room.Tasks {
			ids[i] = task.ID
		}
		out[room.ID] = ids
	}
	return out
}

func (v View) Room(id string) (Room, bool) {
	for _, room := range v.Rooms {
		if room.ID == id {
			return room, true
		}
	}
	return Room{}, false
}

func (v View) TaskCount() int {
	n := 0
	for _, room := range v.Rooms {
		n += len(room.Tasks)
	}
	return n
}

// Dataset is what the loader publishes. It is replaced wholesale, never edited.
type Dataset struct {
	TemplateID string          `json:"template_id"`
	Flow       store.FlowType  `json:"flow"`
	Raw        json.RawMessage `json:"raw"`
	View       View            `json:"view"`
	CachedAt   time.Time       `json:"cached_at"`
	Digest     string          `json:"digest"`
	Source     cache.Outcome   `json:"source"`
}
