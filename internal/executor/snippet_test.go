package executor_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/michelebogoni/sitepilot/internal/executor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type snippetsServer struct {
	mu       sync.Mutex
	requests []string
	created  executor.Snippet
	auth     string
}

func (s *snippetsServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/wp-json/code-snippets/v1/snippets", func(w http.ResponseWriter, r *http.Request) {
		s.record(r)
		switch r.Method {
		case http.MethodGet:
			_, _ = w.Write([]byte("[]"))
		case http.MethodPost:
			var sn executor.Snippet
			if err := json.NewDecoder(r.Body).Decode(&sn); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			s.mu.Lock()
			s.created = sn
			s.mu.Unlock()
			sn.ID = 42
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(sn)
		}
	})
	mux.HandleFunc("/wp-json/code-snippets/v1/snippets/42/deactivate", func(w http.ResponseWriter, r *http.Request) {
		s.record(r)
		_, _ = w.Write([]byte(`{"id":42,"active":false}`))
	})
	mux.HandleFunc("/wp-json/code-snippets/v1/snippets/42", func(w http.ResponseWriter, r *http.Request) {
		s.record(r)
		if r.Method != http.MethodDelete {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

func (s *snippetsServer) record(r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, r.Method+" "+r.URL.Path)
	s.auth = r.Header.Get("Authorization")
}

func TestSnippetMethod_RunAndRollback(t *testing.T) {
	ctx := context.Background()
	srv := &snippetsServer{}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	method := executor.NewSnippetMethod(executor.NewSnippetsClient(ts.URL+"/", "admin:app-pass"))
	require.True(t, method.Available(ctx))

	outcome, err := method.Run(ctx, executor.Request{Code: "<?php add_filter('the_title', 'strtoupper'); ?>", Title: "Upper titles"})
	require.NoError(t, err)
	assert.Equal(t, "42", outcome.Identifier)
	assert.Empty(t, outcome.Output)

	assert.Equal(t, "Upper titles", srv.created.Name)
	assert.Equal(t, "add_filter('the_title', 'strtoupper');", srv.created.Code)
	assert.Equal(t, "global", srv.created.Scope)
	assert.True(t, srv.created.Active)
	assert.Contains(t, srv.auth, "Basic ")

	require.Len(t, outcome.Operations, 1)
	assert.Equal(t, "create_snippet", outcome.Operations[0].Type)
	assert.Equal(t, "snippet:42", outcome.Operations[0].Target)

	require.NoError(t, method.Rollback(ctx, "42"))
	assert.Equal(t, []string{
		"GET /wp-json/code-snippets/v1/snippets",
		"POST /wp-json/code-snippets/v1/snippets",
		"POST /wp-json/code-snippets/v1/snippets/42/deactivate",
		"DELETE /wp-json/code-snippets/v1/snippets/42",
	}, srv.requests)

	assert.Error(t, method.Rollback(ctx, "not-a-number"))
}

func TestSnippetsClient_BearerTokenAndErrors(t *testing.T) {
	var auth string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		http.Error(w, `{"code":"rest_forbidden"}`, http.StatusForbidden)
	}))
	defer ts.Close()

	client := executor.NewSnippetsClient(ts.URL, "secret-token")
	err := client.Ping(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.Contains(t, err.Error(), "rest_forbidden")
	assert.Equal(t, "Bearer secret-token", auth)

	assert.False(t, executor.NewSnippetMethod(client).Available(context.Background()))
}

func TestSnippetMethod_InactiveInstall(t *testing.T) {
	ctx := context.Background()
	srv := &snippetsServer{}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	method := executor.NewSnippetMethod(executor.NewSnippetsClient(ts.URL, ""))

	outcome, err := method.Run(ctx, executor.Request{Code: "add_action('init', 'noop');", Inactive: true})
	require.NoError(t, err)

	assert.False(t, srv.created.Active)
	assert.Equal(t, false, outcome.Operations[0].After["active"])
}
