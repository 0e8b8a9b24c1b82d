package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/michelebogoni/sitepilot/internal/models"
)

// Snippet is one unit of code tracked by the site's snippet plugin.
type Snippet struct {
	ID          int64  `json:"id,omitempty"`
	Name        string `json:"name"`
	Description string `json:"desc"`
	Code        string `json:"code"`
	Scope       string `json:"scope"`
	Active      bool   `json:"active"`
}

// SnippetManager creates and removes tracked snippets.
type SnippetManager interface {
	Ping(ctx context.Context) error
	Create(ctx context.Context, snippet Snippet) (int64, error)
	Deactivate(ctx context.Context, id int64) error
	Delete(ctx context.Context, id int64) error
}

// SnippetMethod installs the payload as a snippet, active unless the request
// asks otherwise. The snippet plugin runs it and nothing is echoed back.
type SnippetMethod struct {
	manager SnippetManager
}

func NewSnippetMethod(manager SnippetManager) *SnippetMethod {
	return &SnippetMethod{manager: manager}
}

func (s *SnippetMethod) Name() string {
	return MethodSnippet
}

func (s *SnippetMethod) Available(ctx context.Context) bool {
	if s.manager == nil {
		return false
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.manager.Ping(pingCtx) == nil
}

func (s *SnippetMethod) Run(ctx context.Context, req Request) (*Outcome, error) {
	if s.manager == nil {
		return nil, ErrMethodUnavailable
	}

	name := req.Title
	if name == "" {
		name = "SitePilot " + time.Now().UTC().Format("2006-01-02 15:04:05")
	}
	snippet := Snippet{
		Name:        name,
		Description: req.Description,
		Code:        StripTags(req.Code),
		Scope:       "global",
		Active:      !req.Inactive,
	}

	id, err := s.manager.Create(ctx, snippet)
	if err != nil {
		return nil, err
	}
	identifier := strconv.FormatInt(id, 10)

	return &Outcome{
		Identifier: identifier,
		Operations: []models.Operation{{
			Type:   "create_snippet",
			Target: "snippet:" + identifier,
			Before: models.StateMap{},
			After:  models.StateMap{"snippet_id": identifier, "name": snippet.Name, "code": snippet.Code, "active": snippet.Active},
			Status: "completed",
		}},
	}, nil
}

func (s *SnippetMethod) Rollback(ctx context.Context, identifier string) error {
	if s.manager == nil {
		return ErrMethodUnavailable
	}
	id, err := strconv.ParseInt(identifier, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid snippet id %q: %w", identifier, err)
	}
	if err := s.manager.Deactivate(ctx, id); err != nil {
		return err
	}
	return s.manager.Delete(ctx, id)
}

const snippetsPath = "/wp-json/code-snippets/v1/snippets"

// SnippetsClient talks to the Code Snippets plugin REST API.
type SnippetsClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewSnippetsClient targets siteURL. A token of the form user:password is
// sent as basic auth (application passwords); anything else as a bearer token.
func NewSnippetsClient(siteURL, token string) *SnippetsClient {
	return &SnippetsClient{
		baseURL: strings.TrimRight(siteURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *SnippetsClient) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if user, pass, ok := strings.Cut(c.token, ":"); ok {
		req.SetBasicAuth(user, pass)
	} else if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("snippets API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("snippets API %s %s returned %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode snippets API response: %w", err)
		}
	}
	return nil
}

func (c *SnippetsClient) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, snippetsPath+"?per_page=1", nil, nil)
}

func (c *SnippetsClient) Create(ctx context.Context, snippet Snippet) (int64, error) {
	var created Snippet
	if err := c.do(ctx, http.MethodPost, snippetsPath, snippet, &created); err != nil {
		return 0, err
	}
	if created.ID == 0 {
		return 0, fmt.Errorf("snippets API returned no id")
	}
	return created.ID, nil
}

func (c *SnippetsClient) Deactivate(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("%s/%d/deactivate", snippetsPath, id), nil, nil)
}

func (c *SnippetsClient) Delete(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("%s/%d", snippetsPath, id), nil, nil)
}
