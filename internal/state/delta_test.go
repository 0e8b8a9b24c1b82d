package state_test

import (
	"testing"

	"github.com/michelebogoni/sitepilot/internal/models"
	"github.com/michelebogoni/sitepilot/internal/state"
	"github.com/stretchr/testify/assert"
)

func TestCreateDelta(t *testing.T) {
	before := models.StateMap{
		"post_title":  "A",
		"post_status": "draft",
		"meta":        map[string]interface{}{"x": "1"},
		"legacy":      true,
	}
	after := models.StateMap{
		"post_title":  "B",
		"post_status": "draft",
		"meta":        map[string]interface{}{"x": "2"},
		"post_name":   "b",
	}

	delta := state.CreateDelta(before, after)

	assert.Equal(t, map[string]interface{}{"post_name": "b"}, delta.Changes.Added)
	assert.Equal(t, map[string]interface{}{"legacy": true}, delta.Changes.Removed)
	assert.Equal(t, map[string]state.Change{
		"post_title": {Old: "A", New: "B"},
		"meta":       {Old: map[string]interface{}{"x": "1"}, New: map[string]interface{}{"x": "2"}},
	}, delta.Changes.Modified)
	assert.False(t, delta.Empty())
}

func TestCreateDelta_NilSides(t *testing.T) {
	created := state.CreateDelta(nil, models.StateMap{"value": "on"})
	assert.Equal(t, map[string]interface{}{"value": "on"}, created.Changes.Added)
	assert.Empty(t, created.Changes.Removed)

	same := state.CreateDelta(models.StateMap{"value": "on"}, models.StateMap{"value": "on"})
	assert.True(t, same.Empty())
}
