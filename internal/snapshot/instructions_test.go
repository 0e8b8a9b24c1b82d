package snapshot_test

import (
	"testing"

	"github.com/michelebogoni/sitepilot/internal/models"
	"github.com/michelebogoni/sitepilot/internal/snapshot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildInstructions_Mapping(t *testing.T) {
	tests := []struct {
		name     string
		op       models.Operation
		kind     models.InstructionKind
		entityID string
		key      string
		hasState bool
	}{
		{
			name:     "create post deletes the new id",
			op:       models.Operation{Type: "create_post", Target: "post:new", Before: models.StateMap{}, After: models.StateMap{"post_id": float64(12)}},
			kind:     models.InstructionDeletePost,
			entityID: "12",
		},
		{
			name:     "update post restores before",
			op:       models.Operation{Type: "update_post", Target: "post:5", Before: models.StateMap{"post_title": "A"}},
			kind:     models.InstructionRestorePost,
			entityID: "5",
			hasState: true,
		},
		{
			name:     "post_update alias",
			op:       models.Operation{Type: "post_update", Target: "post:5", Before: models.StateMap{"post_title": "A"}},
			kind:     models.InstructionRestorePost,
			entityID: "5",
			hasState: true,
		},
		{
			name:     "delete post recreates",
			op:       models.Operation{Type: "delete_post", Target: "post:9", Before: models.StateMap{"post_id": float64(9)}, After: models.StateMap{}},
			kind:     models.InstructionRecreatePost,
			entityID: "9",
			hasState: true,
		},
		{
			name:     "update meta restores key",
			op:       models.Operation{Type: "update_meta", Target: "post:5", Before: models.StateMap{"meta_key": "_price", "meta_value": "10"}},
			kind:     models.InstructionRestoreMeta,
			entityID: "5",
			key:      "_price",
			hasState: true,
		},
		{
			name:     "added meta is deleted",
			op:       models.Operation{Type: "update_meta", Target: "post:5", Before: models.StateMap{}, After: models.StateMap{"meta_key": "_new"}},
			kind:     models.InstructionDeleteMeta,
			entityID: "5",
			key:      "_new",
		},
		{
			name:     "option_update alias",
			op:       models.Operation{Type: "option_update", Target: "option:blogname", Before: models.StateMap{"option_name": "blogname", "value": "Old"}},
			kind:     models.InstructionRestoreOption,
			entityID: "blogname",
			key:      "blogname",
			hasState: true,
		},
		{
			name:     "created option is deleted",
			op:       models.Operation{Type: "create_option", Target: "option:my_flag", Before: models.StateMap{}},
			kind:     models.InstructionDeleteOption,
			entityID: "my_flag",
			key:      "my_flag",
		},
		{
			name:     "created menu is deleted as a term",
			op:       models.Operation{Type: "create_menu", Target: "menu:3", Before: models.StateMap{}},
			kind:     models.InstructionDeleteTerm,
			entityID: "3",
		},
		{
			name:     "custom file modify restores",
			op:       models.Operation{Type: "custom_file_modify", Target: "custom_file:abc", Before: models.StateMap{"content": "<?php"}},
			kind:     models.InstructionRestoreCustomFile,
			entityID: "abc",
			hasState: true,
		},
		{
			name:     "unknown type restores from before",
			op:       models.Operation{Type: "seo_update", Target: "post:5", Before: models.StateMap{"title": "x"}},
			kind:     models.InstructionRestoreFromBefore,
			entityID: "5",
			hasState: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			instructions := snapshot.BuildInstructions([]models.Operation{tt.op})

			require.Len(t, instructions, 1)
			in := instructions[0]
			assert.Equal(t, 0, in.OperationIndex)
			assert.Equal(t, tt.kind, in.Kind)
			assert.Equal(t, tt.op.Target, in.Target)
			assert.Equal(t, tt.entityID, in.EntityID)
			assert.Equal(t, tt.key, in.Key)
			if tt.hasState {
				assert.Equal(t, tt.op.Before, in.State)
			} else {
				assert.Empty(t, in.State)
			}
		})
	}
}

func TestBuildInstructions_SkipsOperationsWithoutBefore(t *testing.T) {
	ops := []models.Operation{
		{Type: "update_post", Target: "post:1", After: models.StateMap{"post_title": "B"}},
		{Type: "update_option", Target: "option:x", Before: models.StateMap{"value": "1"}},
		{Type: "create_post", Target: "post:new", After: models.StateMap{"post_id": float64(3)}},
	}

	instructions := snapshot.BuildInstructions(ops)

	require.Len(t, instructions, 1)
	assert.Equal(t, 1, instructions[0].OperationIndex)
	assert.LessOrEqual(t, len(instructions), len(ops))
}

func TestNormalizeOperationType(t *testing.T) {
	assert.Equal(t, "update_post", snapshot.NormalizeOperationType("post_update"))
	assert.Equal(t, "update_option", snapshot.NormalizeOperationType("option_update"))
	assert.Equal(t, "custom_file_modify", snapshot.NormalizeOperationType("custom_file_modify"))
}
