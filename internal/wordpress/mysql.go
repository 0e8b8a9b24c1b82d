package wordpress

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore binds EntityStore and OptionStore to the WordPress schema.
type MySQLStore struct {
	db     *sql.DB
	prefix string
}

func NewMySQLStore(ctx context.Context, dsn, tablePrefix string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open wordpress database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping wordpress database: %w", err)
	}

	return NewMySQLStoreFromDB(db, tablePrefix), nil
}

func NewMySQLStoreFromDB(db *sql.DB, tablePrefix string) *MySQLStore {
	if tablePrefix == "" {
		tablePrefix = "wp_"
	}
	return &MySQLStore{db: db, prefix: tablePrefix}
}

func (s *MySQLStore) Close() error {
	return s.db.Close()
}

func (s *MySQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *MySQLStore) table(name string) string {
	return s.prefix + name
}

const postColumns = "ID, post_title, post_content, post_excerpt, post_status, post_type, post_name, post_parent, menu_order, post_author"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(row rowScanner) (Post, error) {
	var p Post
	err := row.Scan(&p.ID, &p.Title, &p.Content, &p.Excerpt, &p.Status, &p.Type, &p.Name, &p.Parent, &p.MenuOrder, &p.Author)
	return p, err
}

func (s *MySQLStore) GetPost(ctx context.Context, id int64) (*Post, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE ID = ?", postColumns, s.table("posts"))

	p, err := scanPost(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEntityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get post %d: %w", id, err)
	}
	return &p, nil
}

func (s *MySQLStore) InsertPost(ctx context.Context, post Post) (int64, error) {
	query := fmt.Sprintf(`
		INSERT INTO %s (
			ID, post_author, post_date, post_date_gmt, post_content, post_title, post_excerpt,
			post_status, post_name, to_ping, pinged, post_modified, post_modified_gmt,
			post_content_filtered, post_parent, guid, menu_order, post_type
		) VALUES (?, ?, NOW(), UTC_TIMESTAMP(), ?, ?, ?, ?, ?, '', '', NOW(), UTC_TIMESTAMP(), '', ?, '', ?, ?)
	`, s.table("posts"))

	var id any
	if post.ID != 0 {
		id = post.ID
	}

	res, err := s.db.ExecContext(ctx, query,
		id, post.Author, post.Content, post.Title, post.Excerpt,
		post.Status, post.Name, post.Parent, post.MenuOrder, post.Type,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert post: %w", err)
	}

	newID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read inserted post id: %w", err)
	}
	return newID, nil
}

func (s *MySQLStore) UpdatePost(ctx context.Context, post Post) error {
	if _, err := s.GetPost(ctx, post.ID); err != nil {
		return err
	}

	query := fmt.Sprintf(`
		UPDATE %s SET
			post_title = ?, post_content = ?, post_excerpt = ?, post_status = ?, post_type = ?,
			post_name = ?, post_parent = ?, menu_order = ?, post_author = ?,
			post_modified = NOW(), post_modified_gmt = UTC_TIMESTAMP()
		WHERE ID = ?
	`, s.table("posts"))

	_, err := s.db.ExecContext(ctx, query,
		post.Title, post.Content, post.Excerpt, post.Status, post.Type,
		post.Name, post.Parent, post.MenuOrder, post.Author, post.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update post %d: %w", post.ID, err)
	}
	return nil
}

func (s *MySQLStore) DeletePost(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE ID = ?", s.table("posts")), id)
	if err != nil {
		return fmt.Errorf("failed to delete post %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrEntityNotFound
	}

	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE post_id = ?", s.table("postmeta")), id); err != nil {
		return fmt.Errorf("failed to delete meta of post %d: %w", id, err)
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE object_id = ?", s.table("term_relationships")), id); err != nil {
		return fmt.Errorf("failed to delete term relationships of post %d: %w", id, err)
	}
	return nil
}

func (s *MySQLStore) GetChildPosts(ctx context.Context, parentID int64, postType string) ([]Post, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE post_parent = ?", postColumns, s.table("posts"))
	args := []any{parentID}
	if postType != "" {
		query += " AND post_type = ?"
		args = append(args, postType)
	}
	query += " ORDER BY menu_order, ID"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query child posts of %d: %w", parentID, err)
	}
	defer rows.Close()

	var children []Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan child post: %w", err)
		}
		children = append(children, p)
	}
	return children, rows.Err()
}

func (s *MySQLStore) GetPostMeta(ctx context.Context, postID int64) (map[string]string, error) {
	query := fmt.Sprintf("SELECT meta_key, meta_value FROM %s WHERE post_id = ? ORDER BY meta_id", s.table("postmeta"))

	rows, err := s.db.QueryContext(ctx, query, postID)
	if err != nil {
		return nil, fmt.Errorf("failed to query meta of post %d: %w", postID, err)
	}
	defer rows.Close()

	meta := make(map[string]string)
	for rows.Next() {
		var key string
		var value sql.NullString
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan post meta: %w", err)
		}
		meta[key] = value.String
	}
	return meta, rows.Err()
}

func (s *MySQLStore) SetPostMeta(ctx context.Context, postID int64, key, value string) error {
	var metaID int64
	query := fmt.Sprintf("SELECT meta_id FROM %s WHERE post_id = ? AND meta_key = ? LIMIT 1", s.table("postmeta"))
	err := s.db.QueryRowContext(ctx, query, postID, key).Scan(&metaID)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = s.db.ExecContext(ctx,
			fmt.Sprintf("INSERT INTO %s (post_id, meta_key, meta_value) VALUES (?, ?, ?)", s.table("postmeta")),
			postID, key, value)
	case err == nil:
		_, err = s.db.ExecContext(ctx,
			fmt.Sprintf("UPDATE %s SET meta_value = ? WHERE post_id = ? AND meta_key = ?", s.table("postmeta")),
			value, postID, key)
	}
	if err != nil {
		return fmt.Errorf("failed to set meta %s on post %d: %w", key, postID, err)
	}
	return nil
}

func (s *MySQLStore) DeletePostMeta(ctx context.Context, postID int64, key string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE post_id = ? AND meta_key = ?", s.table("postmeta"))
	if _, err := s.db.ExecContext(ctx, query, postID, key); err != nil {
		return fmt.Errorf("failed to delete meta %s on post %d: %w", key, postID, err)
	}
	return nil
}

func (s *MySQLStore) GetPostTerms(ctx context.Context, postID int64) (map[string][]int64, error) {
	query := fmt.Sprintf(`
		SELECT tt.taxonomy, tt.term_id
		FROM %s tr
		JOIN %s tt ON tt.term_taxonomy_id = tr.term_taxonomy_id
		WHERE tr.object_id = ?
		ORDER BY tt.taxonomy, tr.term_order, tt.term_id
	`, s.table("term_relationships"), s.table("term_taxonomy"))

	rows, err := s.db.QueryContext(ctx, query, postID)
	if err != nil {
		return nil, fmt.Errorf("failed to query terms of post %d: %w", postID, err)
	}
	defer rows.Close()

	terms := make(map[string][]int64)
	for rows.Next() {
		var taxonomy string
		var termID int64
		if err := rows.Scan(&taxonomy, &termID); err != nil {
			return nil, fmt.Errorf("failed to scan post term: %w", err)
		}
		terms[taxonomy] = append(terms[taxonomy], termID)
	}
	return terms, rows.Err()
}

func (s *MySQLStore) SetPostTerms(ctx context.Context, postID int64, taxonomy string, termIDs []int64) error {
	unlink := fmt.Sprintf(`
		DELETE tr FROM %s tr
		JOIN %s tt ON tt.term_taxonomy_id = tr.term_taxonomy_id
		WHERE tr.object_id = ? AND tt.taxonomy = ?
	`, s.table("term_relationships"), s.table("term_taxonomy"))
	if _, err := s.db.ExecContext(ctx, unlink, postID, taxonomy); err != nil {
		return fmt.Errorf("failed to clear %s terms of post %d: %w", taxonomy, postID, err)
	}

	link := fmt.Sprintf(`
		INSERT INTO %s (object_id, term_taxonomy_id, term_order)
		SELECT ?, term_taxonomy_id, ? FROM %s WHERE term_id = ? AND taxonomy = ?
	`, s.table("term_relationships"), s.table("term_taxonomy"))
	for i, termID := range termIDs {
		if _, err := s.db.ExecContext(ctx, link, postID, i, termID, taxonomy); err != nil {
			return fmt.Errorf("failed to link term %d to post %d: %w", termID, postID, err)
		}
	}

	return s.recountTerms(ctx, taxonomy)
}

func (s *MySQLStore) recountTerms(ctx context.Context, taxonomy string) error {
	query := fmt.Sprintf(`
		UPDATE %s tt SET count = (
			SELECT COUNT(*) FROM %s tr WHERE tr.term_taxonomy_id = tt.term_taxonomy_id
		) WHERE tt.taxonomy = ?
	`, s.table("term_taxonomy"), s.table("term_relationships"))
	if _, err := s.db.ExecContext(ctx, query, taxonomy); err != nil {
		return fmt.Errorf("failed to recount %s terms: %w", taxonomy, err)
	}
	return nil
}

func (s *MySQLStore) GetTerm(ctx context.Context, id int64) (*Term, error) {
	query := fmt.Sprintf(`
		SELECT t.term_id, t.name, t.slug, tt.taxonomy, tt.description, tt.parent
		FROM %s t
		JOIN %s tt ON tt.term_id = t.term_id
		WHERE t.term_id = ?
		LIMIT 1
	`, s.table("terms"), s.table("term_taxonomy"))

	var t Term
	err := s.db.QueryRowContext(ctx, query, id).Scan(&t.ID, &t.Name, &t.Slug, &t.Taxonomy, &t.Description, &t.Parent)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEntityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get term %d: %w", id, err)
	}
	return &t, nil
}

func (s *MySQLStore) InsertTerm(ctx context.Context, term Term) (int64, error) {
	var id any
	if term.ID != 0 {
		id = term.ID
	}

	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (term_id, name, slug, term_group) VALUES (?, ?, ?, 0)", s.table("terms")),
		id, term.Name, term.Slug)
	if err != nil {
		return 0, fmt.Errorf("failed to insert term: %w", err)
	}
	newID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read inserted term id: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (term_id, taxonomy, description, parent, count) VALUES (?, ?, ?, ?, 0)", s.table("term_taxonomy")),
		newID, term.Taxonomy, term.Description, term.Parent)
	if err != nil {
		return 0, fmt.Errorf("failed to insert taxonomy for term %d: %w", newID, err)
	}
	return newID, nil
}

func (s *MySQLStore) UpdateTerm(ctx context.Context, term Term) error {
	if _, err := s.GetTerm(ctx, term.ID); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE %s SET name = ?, slug = ? WHERE term_id = ?", s.table("terms")),
		term.Name, term.Slug, term.ID); err != nil {
		return fmt.Errorf("failed to update term %d: %w", term.ID, err)
	}
	if _, err := s.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE %s SET taxonomy = ?, description = ?, parent = ? WHERE term_id = ?", s.table("term_taxonomy")),
		term.Taxonomy, term.Description, term.Parent, term.ID); err != nil {
		return fmt.Errorf("failed to update taxonomy of term %d: %w", term.ID, err)
	}
	return nil
}

func (s *MySQLStore) DeleteTerm(ctx context.Context, id int64) error {
	unlink := fmt.Sprintf(`
		DELETE tr FROM %s tr
		JOIN %s tt ON tt.term_taxonomy_id = tr.term_taxonomy_id
		WHERE tt.term_id = ?
	`, s.table("term_relationships"), s.table("term_taxonomy"))
	if _, err := s.db.ExecContext(ctx, unlink, id); err != nil {
		return fmt.Errorf("failed to unlink term %d: %w", id, err)
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE term_id = ?", s.table("term_taxonomy")), id); err != nil {
		return fmt.Errorf("failed to delete taxonomy of term %d: %w", id, err)
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE term_id = ?", s.table("termmeta")), id); err != nil {
		return fmt.Errorf("failed to delete meta of term %d: %w", id, err)
	}

	res, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE term_id = ?", s.table("terms")), id)
	if err != nil {
		return fmt.Errorf("failed to delete term %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrEntityNotFound
	}
	return nil
}

func (s *MySQLStore) GetMenuItems(ctx context.Context, menuID int64) ([]int64, error) {
	query := fmt.Sprintf(`
		SELECT p.ID
		FROM %s p
		JOIN %s tr ON tr.object_id = p.ID
		JOIN %s tt ON tt.term_taxonomy_id = tr.term_taxonomy_id
		WHERE tt.term_id = ? AND tt.taxonomy = 'nav_menu' AND p.post_type = 'nav_menu_item'
		ORDER BY p.menu_order, p.ID
	`, s.table("posts"), s.table("term_relationships"), s.table("term_taxonomy"))

	rows, err := s.db.QueryContext(ctx, query, menuID)
	if err != nil {
		return nil, fmt.Errorf("failed to query items of menu %d: %w", menuID, err)
	}
	defer rows.Close()

	items := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan menu item: %w", err)
		}
		items = append(items, id)
	}
	return items, rows.Err()
}

// SetMenuItems relinks the menu to exactly itemIDs and renumbers their
// menu_order. Items no longer linked are left in place, unattached.
func (s *MySQLStore) SetMenuItems(ctx context.Context, menuID int64, itemIDs []int64) error {
	unlink := fmt.Sprintf(`
		DELETE tr FROM %s tr
		JOIN %s tt ON tt.term_taxonomy_id = tr.term_taxonomy_id
		WHERE tt.term_id = ? AND tt.taxonomy = 'nav_menu'
	`, s.table("term_relationships"), s.table("term_taxonomy"))
	if _, err := s.db.ExecContext(ctx, unlink, menuID); err != nil {
		return fmt.Errorf("failed to unlink items of menu %d: %w", menuID, err)
	}

	link := fmt.Sprintf(`
		INSERT INTO %s (object_id, term_taxonomy_id, term_order)
		SELECT ?, term_taxonomy_id, 0 FROM %s WHERE term_id = ? AND taxonomy = 'nav_menu'
	`, s.table("term_relationships"), s.table("term_taxonomy"))
	order := fmt.Sprintf("UPDATE %s SET menu_order = ? WHERE ID = ?", s.table("posts"))

	for i, itemID := range itemIDs {
		if _, err := s.db.ExecContext(ctx, link, itemID, menuID); err != nil {
			return fmt.Errorf("failed to link item %d to menu %d: %w", itemID, menuID, err)
		}
		if _, err := s.db.ExecContext(ctx, order, i+1, itemID); err != nil {
			return fmt.Errorf("failed to order menu item %d: %w", itemID, err)
		}
	}

	return s.recountTerms(ctx, "nav_menu")
}

// GetWidget resolves a widget id such as "text-3" to the widget_text option.
func (s *MySQLStore) GetWidget(ctx context.Context, id string) (*Widget, error) {
	base, number, err := splitWidgetID(id)
	if err != nil {
		return nil, err
	}

	optionName := "widget_" + base
	opt, err := s.GetOption(ctx, optionName)
	if err != nil {
		return nil, err
	}
	if !strings.Contains(opt.Value, fmt.Sprintf("i:%d;", number)) {
		return nil, ErrEntityNotFound
	}

	widget := &Widget{ID: id, OptionName: optionName, Value: opt.Value}

	sidebars, err := s.GetOption(ctx, "sidebars_widgets")
	if err == nil {
		widget.Sidebar = sidebarOf(sidebars.Value, id)
	} else if !errors.Is(err, ErrEntityNotFound) {
		return nil, err
	}

	return widget, nil
}

func (s *MySQLStore) SaveWidget(ctx context.Context, widget Widget) error {
	optionName := widget.OptionName
	if optionName == "" {
		base, _, err := splitWidgetID(widget.ID)
		if err != nil {
			return err
		}
		optionName = "widget_" + base
	}
	return s.UpdateOption(ctx, Option{Name: optionName, Value: widget.Value, Autoload: true})
}

func splitWidgetID(id string) (string, int, error) {
	i := strings.LastIndexByte(id, '-')
	if i <= 0 {
		return "", 0, fmt.Errorf("invalid widget id %q", id)
	}
	number, err := strconv.Atoi(id[i+1:])
	if err != nil {
		return "", 0, fmt.Errorf("invalid widget id %q: %w", id, err)
	}
	return id[:i], number, nil
}

var sidebarBlock = regexp.MustCompile(`s:\d+:"([^"]+)";a:\d+:\{([^}]*)\}`)

// sidebarOf finds the sidebar listing widgetID in a serialized sidebars_widgets value.
func sidebarOf(serialized, widgetID string) string {
	needle := fmt.Sprintf("%q", widgetID)
	for _, m := range sidebarBlock.FindAllStringSubmatch(serialized, -1) {
		if strings.Contains(m[2], needle) {
			return m[1]
		}
	}
	return ""
}

func (s *MySQLStore) GetOption(ctx context.Context, name string) (*Option, error) {
	query := fmt.Sprintf("SELECT option_value, autoload FROM %s WHERE option_name = ?", s.table("options"))

	var value, autoload string
	err := s.db.QueryRowContext(ctx, query, name).Scan(&value, &autoload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEntityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get option %s: %w", name, err)
	}

	return &Option{Name: name, Value: value, Autoload: ParseAutoload(autoload)}, nil
}

func (s *MySQLStore) UpdateOption(ctx context.Context, option Option) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (option_name, option_value, autoload) VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE option_value = VALUES(option_value), autoload = VALUES(autoload)
	`, s.table("options"))

	autoload := "no"
	if option.Autoload {
		autoload = "yes"
	}
	if _, err := s.db.ExecContext(ctx, query, option.Name, option.Value, autoload); err != nil {
		return fmt.Errorf("failed to update option %s: %w", option.Name, err)
	}
	return nil
}

func (s *MySQLStore) DeleteOption(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE option_name = ?", s.table("options")), name)
	if err != nil {
		return fmt.Errorf("failed to delete option %s: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrEntityNotFound
	}
	return nil
}

// ParseAutoload accepts both the legacy yes/no and the 6.6+ on/off/auto values.
func ParseAutoload(v string) bool {
	switch strings.ToLower(v) {
	case "yes", "on", "auto-on", "auto":
		return true
	}
	return false
}

var (
	_ EntityStore = (*MySQLStore)(nil)
	_ OptionStore = (*MySQLStore)(nil)
)
