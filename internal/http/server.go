package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/michelebogoni/sitepilot/internal/logger"
	"github.com/michelebogoni/sitepilot/internal/logstream"
	"github.com/michelebogoni/sitepilot/internal/models"
	"github.com/michelebogoni/sitepilot/internal/registry"
	"github.com/michelebogoni/sitepilot/internal/security"
	"github.com/michelebogoni/sitepilot/internal/snapshot"
)

// maxBodyBytes caps request bodies; generated code is rarely more than a few KB.
const maxBodyBytes = 2 << 20

type Dispatcher interface {
	Dispatch(ctx context.Context, action models.Action) *models.ExecutionResult
	DispatchBatch(ctx context.Context, actions []models.Action) []*models.ExecutionResult
}

type CodeValidator interface {
	Validate(code string) security.Report
}

type Snapshots interface {
	GetSnapshot(ctx context.Context, id string) (*models.Snapshot, error)
	GetActionSnapshot(ctx context.Context, actionID string) (*models.Snapshot, error)
	GetMessageSnapshot(ctx context.Context, messageID string) (*models.Snapshot, error)
	GetChatSnapshots(ctx context.Context, chatID string) ([]*models.Snapshot, error)
	DeleteSnapshot(ctx context.Context, id string) error
	DeleteChatSnapshots(ctx context.Context, chatID string) (int, error)
}

type Rollbacks interface {
	Execute(ctx context.Context, snapshotID string) *models.RollbackResult
}

// Deps are the collaborators behind the routes. Nil Actions, Logs or Health
// leave their routes unregistered.
type Deps struct {
	Dispatcher Dispatcher
	Validator  CodeValidator
	Snapshots  Snapshots
	Rollbacks  Rollbacks
	Actions    registry.Store
	Logs       *logstream.Hub
	Health     http.Handler
}

type Server struct {
	deps       Deps
	router     chi.Router
	httpServer *http.Server
	log        *logger.Logger
}

func NewServer(deps Deps, log *logger.Logger) *Server {
	s := &Server{
		deps:   deps,
		router: chi.NewRouter(),
		log:    log.With("component", "http"),
	}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.router.Use(s.enableCORS)
	s.router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			s.log.Debug("Request handled", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
		})
	})

	if s.deps.Health != nil {
		s.router.Method(http.MethodGet, "/health", s.deps.Health)
	}

	s.router.Route("/api", func(r chi.Router) {
		r.Post("/actions/dispatch", s.handleDispatch)
		r.Post("/actions/batch", s.handleBatch)
		r.Post("/code/validate", s.handleValidate)

		if s.deps.Actions != nil {
			r.Get("/actions/{id}", s.handleGetAction)
		}
		r.Get("/actions/{id}/snapshot", s.handleActionSnapshot)
		r.Get("/messages/{id}/snapshot", s.handleMessageSnapshot)

		r.Get("/snapshots/{id}", s.handleGetSnapshot)
		r.Delete("/snapshots/{id}", s.handleDeleteSnapshot)
		r.Post("/snapshots/{id}/rollback", s.handleRollback)

		r.Get("/chats/{chatID}/snapshots", s.handleChatSnapshots)
		r.Delete("/chats/{chatID}/snapshots", s.handleDeleteChatSnapshots)
		if s.deps.Logs != nil {
			r.Get("/chats/{chatID}/logs", s.handleLogs)
		}
	})
}

func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.log.Info("HTTP server listening", "addr", addr)
	return s.httpServer.ListenAndServe()
}

// Stop gracefully shuts down the HTTP server with a timeout.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	s.log.Info("Stopping HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return err
	}

	s.log.Info("HTTP server stopped")
	return nil
}

func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	var action models.Action
	if err := decodeBody(w, r, &action); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if action.Type == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("action type is required"))
		return
	}

	writeJSON(w, http.StatusOK, s.deps.Dispatcher.Dispatch(r.Context(), action))
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Actions []models.Action `json:"actions"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(req.Actions) == 0 {
		s.writeError(w, http.StatusBadRequest, errors.New("at least one action is required"))
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"results": s.deps.Dispatcher.DispatchBatch(r.Context(), req.Actions),
	})
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	writeJSON(w, http.StatusOK, s.deps.Validator.Validate(req.Code))
}

func (s *Server) handleGetAction(w http.ResponseWriter, r *http.Request) {
	action, err := s.deps.Actions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, action)
}

func (s *Server) handleActionSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.deps.Snapshots.GetActionSnapshot(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleMessageSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.deps.Snapshots.GetMessageSnapshot(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.deps.Snapshots.GetSnapshot(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleDeleteSnapshot(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.deps.Snapshots.DeleteSnapshot(r.Context(), id); err != nil {
		s.writeLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"deleted": id})
}

// handleRollback always answers 200 with the result; its status field tells
// success, partial and error apart.
func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.log.Info("Rollback requested", "snapshot_id", id)
	writeJSON(w, http.StatusOK, s.deps.Rollbacks.Execute(r.Context(), id))
}

func (s *Server) handleChatSnapshots(w http.ResponseWriter, r *http.Request) {
	snaps, err := s.deps.Snapshots.GetChatSnapshots(r.Context(), chi.URLParam(r, "chatID"))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"snapshots": snaps})
}

func (s *Server) handleDeleteChatSnapshots(w http.ResponseWriter, r *http.Request) {
	count, err := s.deps.Snapshots.DeleteChatSnapshots(r.Context(), chi.URLParam(r, "chatID"))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"deleted": count})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	s.deps.Logs.ServeSSE(w, r, chi.URLParam(r, "chatID"))
}

func (s *Server) enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) writeLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, snapshot.ErrNotFound) || errors.Is(err, registry.ErrActionNotFound) {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	s.writeError(w, http.StatusInternalServerError, err)
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.log.Error("Request failed", "status", status, "error", err)
	} else {
		s.log.Warn("Request failed", "status", status, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
