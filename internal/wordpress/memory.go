package wordpress

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-process EntityStore and OptionStore used by tests and
// by the CLI's dry-run mode.
type MemoryStore struct {
	mu sync.RWMutex

	posts      map[int64]Post
	meta       map[int64]map[string]string
	postTerms  map[int64]map[string][]int64
	terms      map[int64]Term
	menuItems  map[int64][]int64
	widgets    map[string]Widget
	options    map[string]Option
	nextPostID int64
	nextTermID int64

	failures map[string]error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		posts:      make(map[int64]Post),
		meta:       make(map[int64]map[string]string),
		postTerms:  make(map[int64]map[string][]int64),
		terms:      make(map[int64]Term),
		menuItems:  make(map[int64][]int64),
		widgets:    make(map[string]Widget),
		options:    make(map[string]Option),
		nextPostID: 1,
		nextTermID: 1,
		failures:   make(map[string]error),
	}
}

// FailOn makes every later call of the named method return err. A nil err
// clears the failure.
func (m *MemoryStore) FailOn(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err == nil {
		delete(m.failures, method)
		return
	}
	m.failures[method] = err
}

func (m *MemoryStore) failure(method string) error {
	return m.failures[method]
}

func (m *MemoryStore) GetPost(_ context.Context, id int64) (*Post, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.failure("GetPost"); err != nil {
		return nil, err
	}
	p, ok := m.posts[id]
	if !ok {
		return nil, ErrEntityNotFound
	}
	return &p, nil
}

func (m *MemoryStore) InsertPost(_ context.Context, post Post) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failure("InsertPost"); err != nil {
		return 0, err
	}
	if post.ID == 0 {
		post.ID = m.nextPostID
	}
	if post.ID >= m.nextPostID {
		m.nextPostID = post.ID + 1
	}
	m.posts[post.ID] = post
	return post.ID, nil
}

func (m *MemoryStore) UpdatePost(_ context.Context, post Post) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failure("UpdatePost"); err != nil {
		return err
	}
	if _, ok := m.posts[post.ID]; !ok {
		return ErrEntityNotFound
	}
	m.posts[post.ID] = post
	return nil
}

func (m *MemoryStore) DeletePost(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failure("DeletePost"); err != nil {
		return err
	}
	if _, ok := m.posts[id]; !ok {
		return ErrEntityNotFound
	}
	delete(m.posts, id)
	delete(m.meta, id)
	delete(m.postTerms, id)
	return nil
}

func (m *MemoryStore) GetChildPosts(_ context.Context, parentID int64, postType string) ([]Post, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var children []Post
	for _, p := range m.posts {
		if p.Parent == parentID && (postType == "" || p.Type == postType) {
			children = append(children, p)
		}
	}
	sort.Slice(children, func(i, j int) bool {
		if children[i].MenuOrder != children[j].MenuOrder {
			return children[i].MenuOrder < children[j].MenuOrder
		}
		return children[i].ID < children[j].ID
	})
	return children, nil
}

func (m *MemoryStore) GetPostMeta(_ context.Context, postID int64) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]string, len(m.meta[postID]))
	for k, v := range m.meta[postID] {
		out[k] = v
	}
	return out, nil
}

func (m *MemoryStore) SetPostMeta(_ context.Context, postID int64, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failure("SetPostMeta"); err != nil {
		return err
	}
	if m.meta[postID] == nil {
		m.meta[postID] = make(map[string]string)
	}
	m.meta[postID][key] = value
	return nil
}

func (m *MemoryStore) DeletePostMeta(_ context.Context, postID int64, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.meta[postID], key)
	return nil
}

func (m *MemoryStore) GetPostTerms(_ context.Context, postID int64) (map[string][]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string][]int64, len(m.postTerms[postID]))
	for tax, ids := range m.postTerms[postID] {
		out[tax] = append([]int64(nil), ids...)
	}
	return out, nil
}

func (m *MemoryStore) SetPostTerms(_ context.Context, postID int64, taxonomy string, termIDs []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.postTerms[postID] == nil {
		m.postTerms[postID] = make(map[string][]int64)
	}
	if len(termIDs) == 0 {
		delete(m.postTerms[postID], taxonomy)
		return nil
	}
	m.postTerms[postID][taxonomy] = append([]int64(nil), termIDs...)
	return nil
}

func (m *MemoryStore) GetTerm(_ context.Context, id int64) (*Term, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.terms[id]
	if !ok {
		return nil, ErrEntityNotFound
	}
	return &t, nil
}

func (m *MemoryStore) InsertTerm(_ context.Context, term Term) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failure("InsertTerm"); err != nil {
		return 0, err
	}
	if term.ID == 0 {
		term.ID = m.nextTermID
	}
	if term.ID >= m.nextTermID {
		m.nextTermID = term.ID + 1
	}
	m.terms[term.ID] = term
	return term.ID, nil
}

func (m *MemoryStore) UpdateTerm(_ context.Context, term Term) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.terms[term.ID]; !ok {
		return ErrEntityNotFound
	}
	m.terms[term.ID] = term
	return nil
}

func (m *MemoryStore) DeleteTerm(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.terms[id]; !ok {
		return ErrEntityNotFound
	}
	delete(m.terms, id)
	delete(m.menuItems, id)
	return nil
}

func (m *MemoryStore) GetMenuItems(_ context.Context, menuID int64) ([]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return append([]int64{}, m.menuItems[menuID]...), nil
}

func (m *MemoryStore) SetMenuItems(_ context.Context, menuID int64, itemIDs []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.menuItems[menuID] = append([]int64(nil), itemIDs...)
	return nil
}

func (m *MemoryStore) GetWidget(_ context.Context, id string) (*Widget, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	w, ok := m.widgets[id]
	if !ok {
		return nil, ErrEntityNotFound
	}
	return &w, nil
}

func (m *MemoryStore) SaveWidget(_ context.Context, widget Widget) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failure("SaveWidget"); err != nil {
		return err
	}
	m.widgets[widget.ID] = widget
	return nil
}

func (m *MemoryStore) GetOption(_ context.Context, name string) (*Option, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.failure("GetOption"); err != nil {
		return nil, err
	}
	o, ok := m.options[name]
	if !ok {
		return nil, ErrEntityNotFound
	}
	return &o, nil
}

func (m *MemoryStore) UpdateOption(_ context.Context, option Option) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failure("UpdateOption"); err != nil {
		return err
	}
	m.options[option.Name] = option
	return nil
}

func (m *MemoryStore) DeleteOption(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.options[name]; !ok {
		return ErrEntityNotFound
	}
	delete(m.options, name)
	return nil
}

var (
	_ EntityStore = (*MemoryStore)(nil)
	_ OptionStore = (*MemoryStore)(nil)
)
