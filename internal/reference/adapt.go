package reference

import (
	"encoding/json"
	"fmt"

	etaterrors "github.com/harunnryd/etat/internal/errors"
	"github.com/harunnryd/etat/internal/store"
)

// Adapt shapes a raw template for one flow. It is a pure function of its
// inputs: tasks are filtered by their flows, and each room gets the reference
// photos for the flow. Checkout rooms without their own photos reuse the
// check-in set, since the check-out walk compares against the check-in state.
func Adapt(raw []byte, flow store.FlowType) (View, error) {
	if !flow.Valid() {
		return View{}, etaterrors.InvalidInput(fmt.Sprintf("unknown flow %q", flow))
	}

	var tpl Template
	if err := json.Unmarshal(raw, &tpl); err != nil {
		return View{}, fmt.Errorf("decode template: %w", err)
	}

	view := View{
		TemplateID: tpl.ID,
		Name:       tpl.Name,
		Flow:       flow,
		Rooms:      make([]Room, 0, len(tpl.Rooms)),
	}
	for _, r := range tpl.Rooms {
		room := Room{
			ID:     r.ID,
			Name:   r.Name,
			Tasks:  []Task{},
			Photos: photosFor(r.Photos, flow),
		}
		for _, t := range r.Tasks {
			if !appliesTo(t.Flows, flow) {
				continue
			}
			room.Tasks = append(room.Tasks, Task{ID: t.ID, Title: t.Title, Index: len(room.Tasks)})
		}
		view.Rooms = append(view.Rooms, room)
	}
	return view, nil
}

func appliesTo(flows []string, flow store.FlowType) bool {
	if len(flows) == 0 {
		return true
	}
	for _, f := range flows {
		if parsed, err := store.ParseFlowType(f); err == nil && parsed == flow {
			return true
		}
	}
	return false
}

func photosFor(photos map[string][]PhotoRef, flow store.FlowType) []PhotoRef {
	selected := photos[string(flow)]
	if len(selected) == 0 && flow == store.FlowCheckout {
		selected = photos[string(store.FlowCheckin)]
	}
	out := make([]PhotoRef, len(selected))
	copy(out, selected)
	return out
}
