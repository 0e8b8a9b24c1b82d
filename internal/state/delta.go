package state

import (
	"reflect"

	"github.com/michelebogoni/sitepilot/internal/models"
)

type Change struct {
	Old interface{} `json:"old"`
	New interface{} `json:"new"`
}

type Changes struct {
	Added    map[string]interface{} `json:"added"`
	Modified map[string]Change      `json:"modified"`
	Removed  map[string]interface{} `json:"removed"`
}

type Delta struct {
	Before  models.StateMap `json:"before"`
	After   models.StateMap `json:"after"`
	Changes Changes         `json:"changes"`
}

// CreateDelta diffs two states key by key. Nested values are compared whole.
func CreateDelta(before, after models.StateMap) Delta {
	changes := Changes{
		Added:    make(map[string]interface{}),
		Modified: make(map[string]Change),
		Removed:  make(map[string]interface{}),
	}

	for key, newValue := range after {
		oldValue, ok := before[key]
		if !ok {
			changes.Added[key] = newValue
			continue
		}
		if !reflect.DeepEqual(oldValue, newValue) {
			changes.Modified[key] = Change{Old: oldValue, New: newValue}
		}
	}

	for key, oldValue := range before {
		if _, ok := after[key]; !ok {
			changes.Removed[key] = oldValue
		}
	}

	return Delta{Before: before, After: after, Changes: changes}
}

// Empty reports whether the delta carries no changes.
func (d Delta) Empty() bool {
	return len(d.Changes.Added) == 0 && len(d.Changes.Modified) == 0 && len(d.Changes.Removed) == 0
}
