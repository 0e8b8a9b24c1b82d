package models_test

import (
	"encoding/json"
	"testing"

	"github.com/michelebogoni/sitepilot/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAction_UnmarshalDetails(t *testing.T) {
	raw := `{"type":"execute_code","target":"site","details":{"code":"echo 1;","auto_execute":true,"targets":["post:4"]}}`

	var action models.Action
	require.NoError(t, json.Unmarshal([]byte(raw), &action))

	assert.Equal(t, models.KindExecuteCode, action.Kind())
	assert.Equal(t, "echo 1;", action.Code())
	assert.True(t, action.DetailBool("auto_execute"))
	assert.Equal(t, []string{"post:4"}, action.DetailStrings("targets"))
	assert.Equal(t, models.ActionPending, action.Status)
}

func TestAction_UnmarshalParamsAlias(t *testing.T) {
	raw := `{"type":"create_post","params":{"title":"Hello"},"status":"failed"}`

	var action models.Action
	require.NoError(t, json.Unmarshal([]byte(raw), &action))

	assert.Equal(t, "Hello", action.DetailString("title"))
	assert.Equal(t, models.ActionFailed, action.Status)
	assert.True(t, action.Kind().IsLegacy())
}

func TestParseActionKind(t *testing.T) {
	assert.Equal(t, models.KindExecuteCode, models.ParseActionKind("execute_code"))
	assert.Equal(t, models.KindUpdateOption, models.ParseActionKind("update_option"))
	assert.Equal(t, models.KindUnknown, models.ParseActionKind("launch_rocket"))
	assert.False(t, models.KindExecuteCode.IsLegacy())
	assert.False(t, models.KindUnknown.IsLegacy())
}

func TestStateMap_DecodedAccessors(t *testing.T) {
	var state models.StateMap
	raw := `{"post_id":42,"post_title":"A","meta":{"_views":"7"},"terms":{"category":[1,3]},"autoload":"yes"}`
	require.NoError(t, json.Unmarshal([]byte(raw), &state))

	id, ok := state.Int64("post_id")
	assert.True(t, ok)
	assert.Equal(t, int64(42), id)
	assert.Equal(t, "42", state.String("post_id"))
	assert.Equal(t, map[string]string{"_views": "7"}, state.StringMap("meta"))
	assert.Equal(t, map[string][]int64{"category": {1, 3}}, state.Int64SliceMap("terms"))
	assert.True(t, state.Bool("autoload"))

	_, ok = state.Int64("missing")
	assert.False(t, ok)
}
