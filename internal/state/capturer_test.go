package state_test

import (
	"context"
	"testing"

	"github.com/michelebogoni/sitepilot/internal/models"
	"github.com/michelebogoni/sitepilot/internal/state"
	"github.com/michelebogoni/sitepilot/internal/wordpress"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCapturer(t *testing.T) (*state.Capturer, *wordpress.MemoryStore) {
	t.Helper()
	store := wordpress.NewMemoryStore()
	return state.NewCapturer(store, store), store
}

func TestCaptureState_Post(t *testing.T) {
	ctx := context.Background()
	capturer, store := newCapturer(t)

	id, err := store.InsertPost(ctx, wordpress.Post{Title: "Home", Type: "page", Status: "publish", Name: "home"})
	require.NoError(t, err)
	require.NoError(t, store.SetPostMeta(ctx, id, "_elementor_data", `[{"id":"a1"}]`))
	require.NoError(t, store.SetPostTerms(ctx, id, "category", []int64{3}))

	got, err := capturer.CaptureState(ctx, state.EntityPost, "1")
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, "Home", got.String("post_title"))
	assert.Equal(t, "page", got.String("post_type"))
	postID, _ := got.Int64("post_id")
	assert.Equal(t, id, postID)
	assert.Equal(t, map[string]string{"_elementor_data": `[{"id":"a1"}]`}, got.StringMap("meta"))
	assert.Equal(t, map[string][]int64{"category": {3}}, got.Int64SliceMap("terms"))
	assert.Equal(t, `[{"id":"a1"}]`, got.String("elementor_data"))
}

func TestCaptureState_MissingEntityIsNil(t *testing.T) {
	ctx := context.Background()
	capturer, _ := newCapturer(t)

	for _, ref := range []state.EntityRef{
		{Type: state.EntityPost, ID: "99"},
		{Type: state.EntityOption, ID: "nope"},
		{Type: state.EntityTerm, ID: "7"},
		{Type: state.EntityMenu, ID: "7"},
		{Type: state.EntityWidget, ID: "text-2"},
		{Type: state.EntityACFGroup, ID: "5"},
	} {
		got, err := capturer.Capture(ctx, ref)
		require.NoError(t, err, ref.String())
		assert.Nil(t, got, ref.String())
	}
}

func TestCaptureState_OptionAndMenu(t *testing.T) {
	ctx := context.Background()
	capturer, store := newCapturer(t)

	require.NoError(t, store.UpdateOption(ctx, wordpress.Option{Name: "blogname", Value: "Old", Autoload: true}))
	opt, err := capturer.CaptureState(ctx, state.EntityOption, "blogname")
	require.NoError(t, err)
	assert.Equal(t, models.StateMap{"option_name": "blogname", "value": "Old", "autoload": true}, opt)

	menuID, err := store.InsertTerm(ctx, wordpress.Term{Name: "Main", Slug: "main", Taxonomy: "nav_menu"})
	require.NoError(t, err)
	require.NoError(t, store.SetMenuItems(ctx, menuID, []int64{10, 11}))

	menu, err := capturer.Capture(ctx, state.EntityRef{Type: state.EntityMenu, ID: "1"})
	require.NoError(t, err)
	assert.Equal(t, "Main", menu.String("name"))
	assert.Equal(t, []int64{10, 11}, menu.Int64Slice("items"))
}

func TestCaptureState_ACFGroupRequiresGroupPostType(t *testing.T) {
	ctx := context.Background()
	capturer, store := newCapturer(t)

	pageID, _ := store.InsertPost(ctx, wordpress.Post{Type: "page"})
	groupID, _ := store.InsertPost(ctx, wordpress.Post{Type: "acf-field-group", Title: "Hero"})
	_, _ = store.InsertPost(ctx, wordpress.Post{Type: "acf-field", Parent: groupID, Name: "field_1", Excerpt: "headline"})

	page, err := capturer.CaptureState(ctx, state.EntityACFGroup, "1")
	require.NoError(t, err)
	assert.Nil(t, page, "post %d is not a field group", pageID)

	group, err := capturer.CaptureState(ctx, state.EntityACFGroup, "2")
	require.NoError(t, err)
	require.NotNil(t, group)
	fields := group.Slice("fields")
	require.Len(t, fields, 1)
	assert.Equal(t, "headline", fields[0].String("post_excerpt"))
}

func TestCaptureState_UnsupportedType(t *testing.T) {
	capturer, _ := newCapturer(t)

	_, err := capturer.CaptureState(context.Background(), "comment", "1")
	assert.ErrorIs(t, err, state.ErrUnsupportedEntity)
}

func TestParseEntityRef(t *testing.T) {
	ref, err := state.ParseEntityRef("option:blogname")
	require.NoError(t, err)
	assert.Equal(t, state.EntityRef{Type: state.EntityOption, ID: "blogname"}, ref)
	assert.Equal(t, "option:blogname", ref.String())

	_, err = state.ParseEntityRef("post")
	assert.Error(t, err)

	_, err = state.ParseEntityRef("comment:3")
	assert.ErrorIs(t, err, state.ErrUnsupportedEntity)
}

func TestDeriveOperation(t *testing.T) {
	ref := state.EntityRef{Type: state.EntityPost, ID: "7"}
	live := models.StateMap{"post_id": int64(7), "post_title": "A"}
	edited := models.StateMap{"post_id": int64(7), "post_title": "B"}

	created, ok := state.DeriveOperation(ref, nil, live)
	require.True(t, ok)
	assert.Equal(t, "create_post", created.Type)
	assert.NotNil(t, created.Before)
	assert.Empty(t, created.Before)

	updated, ok := state.DeriveOperation(ref, live, edited)
	require.True(t, ok)
	assert.Equal(t, "update_post", updated.Type)
	assert.Equal(t, "post:7", updated.Target)

	deleted, ok := state.DeriveOperation(ref, live, nil)
	require.True(t, ok)
	assert.Equal(t, "delete_post", deleted.Type)
	assert.Equal(t, live, deleted.Before)

	_, ok = state.DeriveOperation(ref, live, live)
	assert.False(t, ok)

	_, ok = state.DeriveOperation(ref, nil, nil)
	assert.False(t, ok)
}
