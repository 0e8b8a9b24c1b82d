package rollback

import (
	"context"
	"errors"
	"fmt"

	"github.com/michelebogoni/sitepilot/internal/models"
	"github.com/michelebogoni/sitepilot/internal/wordpress"
)

const acfFieldPostType = "acf-field"

// postID picks the id recorded in s, falling back to fallbackID.
func postID(s models.StateMap, fallbackID int64) int64 {
	if id, ok := s.Int64("post_id"); ok && id != 0 {
		return id
	}
	return fallbackID
}

// overlayPost writes onto post only the columns s actually recorded.
func overlayPost(post *wordpress.Post, s models.StateMap) {
	for key := range s {
		switch key {
		case "post_title":
			post.Title = s.String(key)
		case "post_content":
			post.Content = s.String(key)
		case "post_excerpt":
			post.Excerpt = s.String(key)
		case "post_status":
			post.Status = s.String(key)
		case "post_type":
			post.Type = s.String(key)
		case "post_name":
			post.Name = s.String(key)
		case "post_parent":
			post.Parent, _ = s.Int64(key)
		case "menu_order":
			order, _ := s.Int64(key)
			post.MenuOrder = int(order)
		case "post_author":
			post.Author, _ = s.Int64(key)
		}
	}
}

// upsertPost overlays s onto the current post, or recreates the post under
// its original id when it no longer exists.
func (e *Executor) upsertPost(ctx context.Context, id int64, s models.StateMap) error {
	current, err := e.entities.GetPost(ctx, id)
	switch {
	case errors.Is(err, wordpress.ErrEntityNotFound):
		post := wordpress.Post{ID: id}
		overlayPost(&post, s)
		_, err = e.entities.InsertPost(ctx, post)
		return err
	case err != nil:
		return err
	}

	post := *current
	post.ID = id
	overlayPost(&post, s)
	return e.entities.UpdatePost(ctx, post)
}

func (e *Executor) restorePost(ctx context.Context, entityID string, s models.StateMap) error {
	if len(s) == 0 {
		return fmt.Errorf("no before state recorded for post %s", entityID)
	}

	var fallback int64
	if entityID != "" {
		id, err := parseEntityID(entityID)
		if err != nil {
			return err
		}
		fallback = id
	}
	id := postID(s, fallback)
	if id == 0 {
		return fmt.Errorf("post state has no id")
	}

	if err := e.upsertPost(ctx, id, s); err != nil {
		return fmt.Errorf("failed to restore post %d: %w", id, err)
	}
	if _, ok := s["meta"]; ok {
		if err := e.restorePostMeta(ctx, id, s.StringMap("meta")); err != nil {
			return err
		}
	}
	if _, ok := s["terms"]; ok {
		if err := e.restorePostTerms(ctx, id, s.Int64SliceMap("terms")); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) restorePostMeta(ctx context.Context, postID int64, before map[string]string) error {
	current, err := e.entities.GetPostMeta(ctx, postID)
	if err != nil {
		return fmt.Errorf("failed to read meta of post %d: %w", postID, err)
	}

	for key := range current {
		if _, keep := before[key]; keep {
			continue
		}
		if err := e.entities.DeletePostMeta(ctx, postID, key); err != nil {
			return fmt.Errorf("failed to delete meta %q of post %d: %w", key, postID, err)
		}
	}
	for key, value := range before {
		if cur, ok := current[key]; ok && cur == value {
			continue
		}
		if err := e.entities.SetPostMeta(ctx, postID, key, value); err != nil {
			return fmt.Errorf("failed to restore meta %q of post %d: %w", key, postID, err)
		}
	}
	return nil
}

func (e *Executor) restorePostTerms(ctx context.Context, postID int64, before map[string][]int64) error {
	current, err := e.entities.GetPostTerms(ctx, postID)
	if err != nil {
		return fmt.Errorf("failed to read terms of post %d: %w", postID, err)
	}

	for taxonomy := range current {
		if _, keep := before[taxonomy]; keep {
			continue
		}
		if err := e.entities.SetPostTerms(ctx, postID, taxonomy, nil); err != nil {
			return fmt.Errorf("failed to clear %s terms of post %d: %w", taxonomy, postID, err)
		}
	}
	for taxonomy, ids := range before {
		if err := e.entities.SetPostTerms(ctx, postID, taxonomy, ids); err != nil {
			return fmt.Errorf("failed to restore %s terms of post %d: %w", taxonomy, postID, err)
		}
	}
	return nil
}

func (e *Executor) restoreOption(ctx context.Context, name string, s models.StateMap) error {
	if recorded := s.String("option_name"); recorded != "" {
		name = recorded
	}
	if name == "" {
		return fmt.Errorf("option instruction has no name")
	}
	if len(s) == 0 {
		return notFoundAs(e.options.DeleteOption(ctx, name), "option %q", name)
	}

	option := wordpress.Option{Name: name, Autoload: true}
	current, err := e.options.GetOption(ctx, name)
	switch {
	case err == nil:
		option = *current
		option.Name = name
	case !errors.Is(err, wordpress.ErrEntityNotFound):
		return fmt.Errorf("failed to read option %q: %w", name, err)
	}
	if _, ok := s["value"]; ok {
		option.Value = s.String("value")
	}
	if _, ok := s["autoload"]; ok {
		option.Autoload = s.Bool("autoload")
	}
	return e.options.UpdateOption(ctx, option)
}

// overlayTerm writes onto term only the fields s actually recorded.
func overlayTerm(term *wordpress.Term, s models.StateMap) {
	for key := range s {
		switch key {
		case "name":
			term.Name = s.String(key)
		case "slug":
			term.Slug = s.String(key)
		case "taxonomy":
			term.Taxonomy = s.String(key)
		case "description":
			term.Description = s.String(key)
		case "parent":
			term.Parent, _ = s.Int64(key)
		}
	}
}

func (e *Executor) restoreTerm(ctx context.Context, entityID string, s models.StateMap) (int64, error) {
	if len(s) == 0 {
		return 0, fmt.Errorf("no before state recorded for term %s", entityID)
	}
	id, ok := s.Int64("term_id")
	if !ok || id == 0 {
		parsed, err := parseEntityID(entityID)
		if err != nil {
			return 0, err
		}
		id = parsed
	}

	current, err := e.entities.GetTerm(ctx, id)
	switch {
	case errors.Is(err, wordpress.ErrEntityNotFound):
		term := wordpress.Term{ID: id}
		overlayTerm(&term, s)
		if _, err := e.entities.InsertTerm(ctx, term); err != nil {
			return 0, fmt.Errorf("failed to recreate term %d: %w", id, err)
		}
	case err != nil:
		return 0, err
	default:
		term := *current
		term.ID = id
		overlayTerm(&term, s)
		if err := e.entities.UpdateTerm(ctx, term); err != nil {
			return 0, fmt.Errorf("failed to restore term %d: %w", id, err)
		}
	}
	return id, nil
}

func (e *Executor) restoreMenu(ctx context.Context, entityID string, s models.StateMap) error {
	menuID, err := e.restoreTerm(ctx, entityID, s)
	if err != nil {
		return err
	}
	if _, ok := s["items"]; !ok {
		return nil
	}
	if err := e.entities.SetMenuItems(ctx, menuID, s.Int64Slice("items")); err != nil {
		return fmt.Errorf("failed to restore items of menu %d: %w", menuID, err)
	}
	return nil
}

func (e *Executor) restoreWidget(ctx context.Context, entityID string, s models.StateMap) error {
	if len(s) == 0 {
		return fmt.Errorf("widget %s did not exist before the change and cannot be removed", entityID)
	}
	id := s.String("widget_id")
	if id == "" {
		id = entityID
	}

	widget := wordpress.Widget{ID: id}
	current, err := e.entities.GetWidget(ctx, id)
	switch {
	case err == nil:
		widget = *current
		widget.ID = id
	case !errors.Is(err, wordpress.ErrEntityNotFound):
		return fmt.Errorf("failed to read widget %s: %w", id, err)
	}
	for key := range s {
		switch key {
		case "option_name":
			widget.OptionName = s.String(key)
		case "value":
			widget.Value = s.String(key)
		case "sidebar":
			widget.Sidebar = s.String(key)
		}
	}
	return e.entities.SaveWidget(ctx, widget)
}

// restoreACFGroup restores the group post and its field posts, removing
// fields that were added after the capture.
func (e *Executor) restoreACFGroup(ctx context.Context, entityID string, s models.StateMap) error {
	if err := e.restorePost(ctx, entityID, s); err != nil {
		return err
	}
	groupID := postID(s, 0)
	if groupID == 0 {
		id, err := parseEntityID(entityID)
		if err != nil {
			return err
		}
		groupID = id
	}

	keep := make(map[int64]bool)
	for _, field := range s.Slice("fields") {
		id := postID(field, 0)
		if id == 0 {
			continue
		}
		keep[id] = true
		if err := e.upsertPost(ctx, id, field); err != nil {
			return fmt.Errorf("failed to restore field %d of group %d: %w", id, groupID, err)
		}
	}

	current, err := e.entities.GetChildPosts(ctx, groupID, acfFieldPostType)
	if err != nil {
		return fmt.Errorf("failed to list fields of group %d: %w", groupID, err)
	}
	for _, field := range current {
		if keep[field.ID] {
			continue
		}
		if err := e.entities.DeletePost(ctx, field.ID); err != nil {
			return fmt.Errorf("failed to remove field %d of group %d: %w", field.ID, groupID, err)
		}
	}
	return nil
}
