// Package state reads the persisted fields of WordPress entities into plain
// maps and diffs them.
package state

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/michelebogoni/sitepilot/internal/models"
	"github.com/michelebogoni/sitepilot/internal/wordpress"
)

type EntityType string

const (
	EntityPost     EntityType = "post"
	EntityOption   EntityType = "option"
	EntityTerm     EntityType = "term"
	EntityMenu     EntityType = "menu"
	EntityWidget   EntityType = "widget"
	EntityACFGroup EntityType = "acf_group"
)

var ErrUnsupportedEntity = errors.New("unsupported entity type")

const elementorMetaKey = "_elementor_data"

// EntityRef identifies one entity, written as "post:42" or "option:blogname".
type EntityRef struct {
	Type EntityType `json:"type"`
	ID   string     `json:"id"`
}

func (r EntityRef) String() string {
	return string(r.Type) + ":" + r.ID
}

func ParseEntityRef(s string) (EntityRef, error) {
	typ, id, ok := strings.Cut(s, ":")
	if !ok || typ == "" || id == "" {
		return EntityRef{}, fmt.Errorf("invalid entity reference %q", s)
	}
	ref := EntityRef{Type: EntityType(typ), ID: id}
	if !ref.Type.Valid() {
		return EntityRef{}, fmt.Errorf("%w: %s", ErrUnsupportedEntity, typ)
	}
	return ref, nil
}

func (t EntityType) Valid() bool {
	switch t {
	case EntityPost, EntityOption, EntityTerm, EntityMenu, EntityWidget, EntityACFGroup:
		return true
	}
	return false
}

type Capturer struct {
	entities wordpress.EntityStore
	options  wordpress.OptionStore
}

func NewCapturer(entities wordpress.EntityStore, options wordpress.OptionStore) *Capturer {
	return &Capturer{entities: entities, options: options}
}

// CaptureState returns the entity's current fields, or nil if it does not exist.
func (c *Capturer) CaptureState(ctx context.Context, entityType EntityType, id string) (models.StateMap, error) {
	var (
		state models.StateMap
		err   error
	)

	switch entityType {
	case EntityPost:
		state, err = c.capturePost(ctx, id)
	case EntityOption:
		state, err = c.captureOption(ctx, id)
	case EntityTerm:
		state, err = c.captureTerm(ctx, id)
	case EntityMenu:
		state, err = c.captureMenu(ctx, id)
	case EntityWidget:
		state, err = c.captureWidget(ctx, id)
	case EntityACFGroup:
		state, err = c.captureACFGroup(ctx, id)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEntity, entityType)
	}

	if errors.Is(err, wordpress.ErrEntityNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to capture %s:%s: %w", entityType, id, err)
	}
	// Captured state is kept in its JSON shape so it compares equal to what
	// a snapshot later reads back.
	return state.Normalize()
}

// Capture is CaptureState for an EntityRef.
func (c *Capturer) Capture(ctx context.Context, ref EntityRef) (models.StateMap, error) {
	return c.CaptureState(ctx, ref.Type, ref.ID)
}

func parseID(id string) (int64, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid numeric id %q: %w", id, err)
	}
	return n, nil
}

func (c *Capturer) capturePost(ctx context.Context, id string) (models.StateMap, error) {
	postID, err := parseID(id)
	if err != nil {
		return nil, err
	}

	post, err := c.entities.GetPost(ctx, postID)
	if err != nil {
		return nil, err
	}
	state := PostFields(*post)

	meta, err := c.entities.GetPostMeta(ctx, postID)
	if err != nil {
		return nil, err
	}
	metaState := make(map[string]interface{}, len(meta))
	for k, v := range meta {
		metaState[k] = v
	}
	state["meta"] = metaState

	terms, err := c.entities.GetPostTerms(ctx, postID)
	if err != nil {
		return nil, err
	}
	termState := make(map[string]interface{}, len(terms))
	for tax, ids := range terms {
		termState[tax] = ids
	}
	state["terms"] = termState

	if data, ok := meta[elementorMetaKey]; ok {
		state["elementor_data"] = data
	}

	return state, nil
}

// PostFields is the core field set of a post.
func PostFields(p wordpress.Post) models.StateMap {
	return models.StateMap{
		"post_id":      p.ID,
		"post_title":   p.Title,
		"post_content": p.Content,
		"post_excerpt": p.Excerpt,
		"post_status":  p.Status,
		"post_type":    p.Type,
		"post_name":    p.Name,
		"post_parent":  p.Parent,
		"menu_order":   p.MenuOrder,
		"post_author":  p.Author,
	}
}

func (c *Capturer) captureOption(ctx context.Context, name string) (models.StateMap, error) {
	opt, err := c.options.GetOption(ctx, name)
	if err != nil {
		return nil, err
	}
	return models.StateMap{
		"option_name": opt.Name,
		"value":       opt.Value,
		"autoload":    opt.Autoload,
	}, nil
}

func termFields(t wordpress.Term) models.StateMap {
	return models.StateMap{
		"term_id":     t.ID,
		"name":        t.Name,
		"slug":        t.Slug,
		"taxonomy":    t.Taxonomy,
		"description": t.Description,
		"parent":      t.Parent,
	}
}

func (c *Capturer) captureTerm(ctx context.Context, id string) (models.StateMap, error) {
	termID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	term, err := c.entities.GetTerm(ctx, termID)
	if err != nil {
		return nil, err
	}
	return termFields(*term), nil
}

func (c *Capturer) captureMenu(ctx context.Context, id string) (models.StateMap, error) {
	menuID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	term, err := c.entities.GetTerm(ctx, menuID)
	if err != nil {
		return nil, err
	}
	items, err := c.entities.GetMenuItems(ctx, menuID)
	if err != nil {
		return nil, err
	}

	state := termFields(*term)
	state["items"] = items
	return state, nil
}

func (c *Capturer) captureWidget(ctx context.Context, id string) (models.StateMap, error) {
	w, err := c.entities.GetWidget(ctx, id)
	if err != nil {
		return nil, err
	}
	return models.StateMap{
		"widget_id":   w.ID,
		"option_name": w.OptionName,
		"value":       w.Value,
		"sidebar":     w.Sidebar,
	}, nil
}

const (
	acfGroupPostType = "acf-field-group"
	acfFieldPostType = "acf-field"
)

func (c *Capturer) captureACFGroup(ctx context.Context, id string) (models.StateMap, error) {
	groupID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	group, err := c.entities.GetPost(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if group.Type != acfGroupPostType {
		return nil, wordpress.ErrEntityNotFound
	}

	fields, err := c.entities.GetChildPosts(ctx, groupID, acfFieldPostType)
	if err != nil {
		return nil, err
	}

	state := PostFields(*group)
	fieldStates := make([]models.StateMap, 0, len(fields))
	for _, f := range fields {
		fieldStates = append(fieldStates, PostFields(f))
	}
	state["fields"] = fieldStates
	return state, nil
}

// DeriveOperation turns a before/after capture of ref into an Operation typed
// create_, update_ or delete_ by presence. It reports false when nothing changed.
func DeriveOperation(ref EntityRef, before, after models.StateMap) (models.Operation, bool) {
	var verb string
	switch {
	case before == nil && after == nil:
		return models.Operation{}, false
	case before == nil:
		verb = "create"
		before = models.StateMap{}
	case after == nil:
		verb = "delete"
		after = models.StateMap{}
	default:
		if reflect.DeepEqual(before, after) {
			return models.Operation{}, false
		}
		verb = "update"
	}

	return models.Operation{
		Type:   verb + "_" + string(ref.Type),
		Target: ref.String(),
		Before: before,
		After:  after,
		Status: "completed",
	}, true
}
