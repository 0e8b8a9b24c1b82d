package wordpress

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_PostLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	id, err := store.InsertPost(ctx, Post{Title: "A", Type: "post", Status: "draft"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	require.NoError(t, store.SetPostMeta(ctx, id, "_views", "3"))
	require.NoError(t, store.SetPostTerms(ctx, id, "category", []int64{4, 2}))

	post, err := store.GetPost(ctx, id)
	require.NoError(t, err)
	post.Title = "B"
	require.NoError(t, store.UpdatePost(ctx, *post))

	got, err := store.GetPost(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "B", got.Title)

	terms, err := store.GetPostTerms(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, map[string][]int64{"category": {4, 2}}, terms)

	require.NoError(t, store.DeletePost(ctx, id))
	_, err = store.GetPost(ctx, id)
	assert.ErrorIs(t, err, ErrEntityNotFound)

	meta, err := store.GetPostMeta(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, meta)

	assert.ErrorIs(t, store.DeletePost(ctx, id), ErrEntityNotFound)
}

func TestMemoryStore_InsertPostReusesRequestedID(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	id, err := store.InsertPost(ctx, Post{ID: 42, Title: "restored"})
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	next, err := store.InsertPost(ctx, Post{Title: "fresh"})
	require.NoError(t, err)
	assert.Equal(t, int64(43), next)
}

func TestMemoryStore_FailOn(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	boom := errors.New("boom")

	store.FailOn("UpdateOption", boom)
	assert.ErrorIs(t, store.UpdateOption(ctx, Option{Name: "blogname", Value: "x"}), boom)

	store.FailOn("UpdateOption", nil)
	assert.NoError(t, store.UpdateOption(ctx, Option{Name: "blogname", Value: "x"}))
}

func TestMemoryStore_ChildPostsOrdered(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	group, _ := store.InsertPost(ctx, Post{Type: "acf-field-group"})
	_, _ = store.InsertPost(ctx, Post{Type: "acf-field", Parent: group, MenuOrder: 2, Name: "field_b"})
	_, _ = store.InsertPost(ctx, Post{Type: "acf-field", Parent: group, MenuOrder: 1, Name: "field_a"})
	_, _ = store.InsertPost(ctx, Post{Type: "revision", Parent: group})

	children, err := store.GetChildPosts(ctx, group, "acf-field")
	require.NoError(t, err)
	require.Len(t, children, 2)
	assert.Equal(t, "field_a", children[0].Name)
	assert.Equal(t, "field_b", children[1].Name)
}

func TestSplitWidgetID(t *testing.T) {
	base, number, err := splitWidgetID("media_image-12")
	require.NoError(t, err)
	assert.Equal(t, "media_image", base)
	assert.Equal(t, 12, number)

	_, _, err = splitWidgetID("search")
	assert.Error(t, err)
}

func TestSidebarOf(t *testing.T) {
	serialized := `a:3:{s:19:"wp_inactive_widgets";a:0:{}s:9:"sidebar-1";a:2:{i:0;s:8:"search-2";i:1;s:6:"text-3";}s:13:"array_version";i:3;}`

	assert.Equal(t, "sidebar-1", sidebarOf(serialized, "text-3"))
	assert.Equal(t, "", sidebarOf(serialized, "text-4"))
}

func TestParseAutoload(t *testing.T) {
	for _, v := range []string{"yes", "on", "auto", "auto-on", "YES"} {
		assert.True(t, ParseAutoload(v), v)
	}
	for _, v := range []string{"no", "off", "auto-off", ""} {
		assert.False(t, ParseAutoload(v), v)
	}
}

func TestMySQLStore_OptionRoundTrip(t *testing.T) {
	dsn := os.Getenv("WORDPRESS_TEST_DSN")
	if dsn == "" {
		t.Skip("WORDPRESS_TEST_DSN not set")
	}

	ctx := context.Background()
	store, err := NewMySQLStore(ctx, dsn, os.Getenv("WORDPRESS_TEST_TABLE_PREFIX"))
	if err != nil {
		t.Skipf("wordpress database unavailable: %v", err)
	}
	defer store.Close()

	name := "sitepilot_test_option"
	require.NoError(t, store.UpdateOption(ctx, Option{Name: name, Value: "one", Autoload: false}))
	defer store.DeleteOption(ctx, name)

	opt, err := store.GetOption(ctx, name)
	require.NoError(t, err)
	assert.Equal(t, "one", opt.Value)
	assert.False(t, opt.Autoload)

	require.NoError(t, store.UpdateOption(ctx, Option{Name: name, Value: "two", Autoload: true}))
	opt, err = store.GetOption(ctx, name)
	require.NoError(t, err)
	assert.Equal(t, "two", opt.Value)
	assert.True(t, opt.Autoload)
}
