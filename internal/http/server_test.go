package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/michelebogoni/sitepilot/internal/logger"
	"github.com/michelebogoni/sitepilot/internal/models"
	"github.com/michelebogoni/sitepilot/internal/registry"
	"github.com/michelebogoni/sitepilot/internal/rollback"
	"github.com/michelebogoni/sitepilot/internal/security"
	"github.com/michelebogoni/sitepilot/internal/snapshot"
	"github.com/michelebogoni/sitepilot/internal/state"
	"github.com/michelebogoni/sitepilot/internal/wordpress"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubDispatcher struct {
	actions []models.Action
}

func (d *stubDispatcher) Dispatch(_ context.Context, action models.Action) *models.ExecutionResult {
	d.actions = append(d.actions, action)
	return models.NewSuccessResult("dispatched " + action.Type)
}

func (d *stubDispatcher) DispatchBatch(ctx context.Context, actions []models.Action) []*models.ExecutionResult {
	results := make([]*models.ExecutionResult, 0, len(actions))
	for _, a := range actions {
		results = append(results, d.Dispatch(ctx, a))
	}
	return results
}

type testEnv struct {
	server     *Server
	dispatcher *stubDispatcher
	store      *wordpress.MemoryStore
	manager    *snapshot.Manager
	actions    *registry.MemoryStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		dispatcher: &stubDispatcher{},
		store:      wordpress.NewMemoryStore(),
		actions:    registry.NewMemoryStore(),
	}
	env.manager = snapshot.NewManager(snapshot.NewMemoryRepository(), t.TempDir(), logger.NewNop())

	env.server = NewServer(Deps{
		Dispatcher: env.dispatcher,
		Validator:  security.Default(),
		Snapshots:  env.manager,
		Rollbacks:  rollback.NewExecutor(env.manager, env.store, env.store, logger.NewNop()),
		Actions:    env.actions,
		Health: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}),
	}, logger.NewNop())
	return env
}

// snapshotOptionChange renames blogname from Old to New and records the snapshot.
func (env *testEnv) snapshotOptionChange(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	ref := state.EntityRef{Type: state.EntityOption, ID: "blogname"}
	capturer := state.NewCapturer(env.store, env.store)

	require.NoError(t, env.store.UpdateOption(ctx, wordpress.Option{Name: "blogname", Value: "Old"}))
	before, err := capturer.Capture(ctx, ref)
	require.NoError(t, err)
	require.NoError(t, env.store.UpdateOption(ctx, wordpress.Option{Name: "blogname", Value: "New"}))
	after, err := capturer.Capture(ctx, ref)
	require.NoError(t, err)

	op, changed := state.DeriveOperation(ref, before, after)
	require.True(t, changed)

	id, err := env.manager.CreateSnapshot(ctx, "chat-1", "msg-1", "act-1", []models.Operation{op})
	require.NoError(t, err)
	return id
}

func (env *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, httptest.NewRequest(method, path, &buf))
	return rec
}

func TestServer_Dispatch(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/actions/dispatch", map[string]interface{}{
		"type":    "execute_code",
		"chat_id": "chat-1",
		"details": map[string]interface{}{"code": `echo "hi";`},
	})

	require.Equal(t, http.StatusOK, rec.Code)
	var res models.ExecutionResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, res.Success)
	require.Len(t, env.dispatcher.actions, 1)
	assert.Equal(t, "chat-1", env.dispatcher.actions[0].ChatID)

	rec = env.do(t, http.MethodPost, "/api/actions/dispatch", map[string]interface{}{"chat_id": "chat-1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/actions/batch", map[string]interface{}{
		"actions": []map[string]interface{}{{"type": "execute_code"}, {"type": "execute_code"}},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var batch struct {
		Results []models.ExecutionResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &batch))
	assert.Len(t, batch.Results, 2)
}

func TestServer_Validate(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/code/validate", map[string]string{"code": `shell_exec("id");`})

	require.Equal(t, http.StatusOK, rec.Code)
	var report security.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.False(t, report.Passed)
	assert.Equal(t, []string{"shell_exec"}, report.Violations)
}

func TestServer_SnapshotLookupsAndRollback(t *testing.T) {
	env := newTestEnv(t)
	id := env.snapshotOptionChange(t)

	for _, path := range []string{
		"/api/snapshots/" + id,
		"/api/actions/act-1/snapshot",
		"/api/messages/msg-1/snapshot",
	} {
		rec := env.do(t, http.MethodGet, path, nil)
		require.Equal(t, http.StatusOK, rec.Code, path)
		var snap models.Snapshot
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
		assert.Equal(t, id, snap.ID, path)
	}

	rec := env.do(t, http.MethodGet, "/api/chats/chat-1/snapshots", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Snapshots []models.Snapshot `json:"snapshots"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list.Snapshots, 1)

	rec = env.do(t, http.MethodPost, "/api/snapshots/"+id+"/rollback", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var result models.RollbackResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Success, result.Message)
	assert.Equal(t, models.RollbackSuccess, result.Status)

	opt, err := env.store.GetOption(context.Background(), "blogname")
	require.NoError(t, err)
	assert.Equal(t, "Old", opt.Value)
}

func TestServer_NotFoundAndDeletes(t *testing.T) {
	env := newTestEnv(t)
	id := env.snapshotOptionChange(t)

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/snapshots/missing", nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/actions/missing", nil).Code)

	rec := env.do(t, http.MethodPost, "/api/snapshots/missing/rollback", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var result models.RollbackResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, models.RollbackError, result.Status)
	assert.Equal(t, "Snapshot missing not found", result.Message)

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodDelete, "/api/snapshots/"+id, nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/snapshots/"+id, nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodDelete, "/api/snapshots/"+id, nil).Code)

	env.snapshotOptionChange(t)
	rec = env.do(t, http.MethodDelete, "/api/chats/chat-1/snapshots", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"deleted":1}`, rec.Body.String())
}

func TestServer_ActionLookupAndCORS(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.actions.Register(context.Background(), &models.Action{ID: "a1", Type: "execute_code", Status: models.ActionPending}))

	rec := env.do(t, http.MethodGet, "/api/actions/a1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = env.do(t, http.MethodOptions, "/api/actions/dispatch", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/health", nil).Code)
}
