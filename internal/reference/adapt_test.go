package reference

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harunnryd/etat/internal/store"
)

const sampleTemplate = `{
  "id": "T1",
  "name": "Flat 4B",
  "rooms": [
    {
      "id": "kitchen",
      "name": "Kitchen",
      "tasks": [
        {"id": "k1", "title": "Oven"},
        {"id": "k2", "title": "Meter reading", "flows": ["checkin"]},
        {"id": "k3", "title": "Damage check", "flows": ["checkout"]}
      ],
      "photos": {
        "checkin": [{"id": "p1", "url": "https://img.example/p1.jpg"}]
      }
    },
    {
      "id": "bath",
      "tasks": [{"id": "b1", "flows": ["checkin", "checkout"]}],
      "photos": {
        "checkin": [{"id": "p2"}],
        "checkout": [{"id": "p3"}]
      }
    }
  ]
}`

func TestAdaptFiltersTasksByFlow(t *testing.T) {
	checkin, err := Adapt([]byte(sampleTemplate), store.FlowCheckin)
	require.NoError(t, err)
	kitchen, ok := checkin.Room("kitchen")
	require.True(t, ok)
	assert.Equal(t, []Task{{ID: "k1", Title: "Oven", Index: 0}, {ID: "k2", Title: "Meter reading", Index: 1}}, kitchen.Tasks)

	checkout, err := Adapt([]byte(sampleTemplate), store.FlowCheckout)
	require.NoError(t, err)
	kitchen, ok = checkout.Room("kitchen")
	require.True(t, ok)
	assert.Equal(t, []Task{{ID: "k1", Title: "Oven", Index: 0}, {ID: "k3", Title: "Damage check", Index: 1}}, kitchen.Tasks)
	assert.Equal(t, 3, checkout.TaskCount())
}

func TestAdaptPicksPhotosPerFlow(t *testing.T) {
	checkout, err := Adapt([]byte(sampleTemplate), store.FlowCheckout)
	require.NoError(t, err)

	kitchen, _ := checkout.Room("kitchen")
	require.Len(t, kitchen.Photos, 1)
	assert.Equal(t, "p1", kitchen.Photos[0].ID, "checkout falls back to check-in photos")

	bath, _ := checkout.Room("bath")
	require.Len(t, bath.Photos, 1)
	assert.Equal(t, "p3", bath.Photos[0].ID)
}

func TestAdaptIsDeterministic(t *testing.T) {
	first, err := Adapt([]byte(sampleTemplate), store.FlowCheckin)
	require.NoError(t, err)
	second, err := Adapt([]byte(sampleTemplate), store.FlowCheckin)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	assert.Equal(t, map[string][]string{
		"kitchen": {"k1", "k2"},
		"bath":    {"b1"},
	}, first.RoomTasks())
}

func TestAdaptRejectsUnknownFlow(t *testing.T) {
	_, err := Adapt([]byte(sampleTemplate), store.FlowType("walkthrough"))
	assert.Error(t, err)
}

func TestValidatePayload(t *testing.T) {
	require.NoError(t, ValidatePayload([]byte(sampleTemplate)))

	assert.Error(t, ValidatePayload([]byte(`{"rooms": []}`)), "id is required")
	assert.Error(t, ValidatePayload([]byte(`{"id": "T1", "rooms": [{"tasks": []}]}`)), "room id is required")
	assert.Error(t, ValidatePayload([]byte(`{"id": "T1", "rooms": [{"id": "r", "tasks": [{"id": "t", "flows": ["moving"]}]}]}`)))
}

func TestDigestIgnoresFormatting(t *testing.T) {
	a, err := Digest([]byte(`{"id":"T1","rooms":[]}`))
	require.NoError(t, err)
	b, err := Digest([]byte("{\n  \"rooms\": [],\n  \"id\": \"T1\"\n}"))
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestValidTemplateID(t *testing.T) {
	assert.True(t, ValidTemplateID("T1"))
	assert.True(t, ValidTemplateID("tpl_2024-01.v2"))
	assert.False(t, ValidTemplateID(""))
	assert.False(t, ValidTemplateID("../etc"))
	assert.False(t, ValidTemplateID("a/b"))
}
