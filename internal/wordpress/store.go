// Package wordpress exposes the site's persisted content through two ports,
// EntityStore and OptionStore, so that capture and rollback never reach for
// ambient database handles.
package wordpress

import (
	"context"
	"errors"
)

var ErrEntityNotFound = errors.New("entity not found")

type Post struct {
	ID        int64
	Title     string
	Content   string
	Excerpt   string
	Status    string
	Type      string
	Name      string
	Parent    int64
	MenuOrder int
	Author    int64
}

type Term struct {
	ID          int64
	Name        string
	Slug        string
	Taxonomy    string
	Description string
	Parent      int64
}

type Option struct {
	Name     string
	Value    string
	Autoload bool
}

// Widget is one widget instance. Value holds the stored settings as written
// by WordPress; the store does not interpret it.
type Widget struct {
	ID         string
	OptionName string
	Value      string
	Sidebar    string
}

// EntityStore reads and writes posts, post meta, terms, menus and widgets.
// Lookups of missing entities return ErrEntityNotFound.
type EntityStore interface {
	GetPost(ctx context.Context, id int64) (*Post, error)
	// InsertPost creates a post. A non-zero ID asks the store to reuse it.
	InsertPost(ctx context.Context, post Post) (int64, error)
	UpdatePost(ctx context.Context, post Post) error
	DeletePost(ctx context.Context, id int64) error
	GetChildPosts(ctx context.Context, parentID int64, postType string) ([]Post, error)

	GetPostMeta(ctx context.Context, postID int64) (map[string]string, error)
	SetPostMeta(ctx context.Context, postID int64, key, value string) error
	DeletePostMeta(ctx context.Context, postID int64, key string) error

	GetPostTerms(ctx context.Context, postID int64) (map[string][]int64, error)
	SetPostTerms(ctx context.Context, postID int64, taxonomy string, termIDs []int64) error

	GetTerm(ctx context.Context, id int64) (*Term, error)
	InsertTerm(ctx context.Context, term Term) (int64, error)
	UpdateTerm(ctx context.Context, term Term) error
	DeleteTerm(ctx context.Context, id int64) error

	GetMenuItems(ctx context.Context, menuID int64) ([]int64, error)
	SetMenuItems(ctx context.Context, menuID int64, itemIDs []int64) error

	GetWidget(ctx context.Context, id string) (*Widget, error)
	SaveWidget(ctx context.Context, widget Widget) error
}

// OptionStore reads and writes site options.
type OptionStore interface {
	GetOption(ctx context.Context, name string) (*Option, error)
	UpdateOption(ctx context.Context, option Option) error
	DeleteOption(ctx context.Context, name string) error
}
