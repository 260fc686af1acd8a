package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vietddude/recoveryd/internal/core/domain"
	"github.com/vietddude/recoveryd/internal/infra/storage"
	"github.com/vietddude/recoveryd/internal/recovery"
)

// Server exposes the operator control surface over HTTP: listing pending
// errors, submitting resolutions, audit lookup, health, and metrics.
type Server struct {
	coord      *recovery.Coordinator
	registry   *recovery.Registry
	audit      storage.AuditRepository
	auditLimit int
	server     *http.Server
}

// NewServer creates a new control server.
func NewServer(coord *recovery.Coordinator, registry *recovery.Registry, audit storage.AuditRepository, port, auditLimit int) *Server {
	mux := http.NewServeMux()
	s := &Server{
		coord:      coord,
		registry:   registry,
		audit:      audit,
		auditLimit: auditLimit,
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		},
	}

	mux.HandleFunc("GET /errors", s.handleListPending)
	mux.HandleFunc("GET /errors/{id}", s.handleGet)
	mux.HandleFunc("POST /errors/{id}/resolve", s.handleResolve)
	mux.HandleFunc("DELETE /errors/{id}", s.handleClear)
	mux.HandleFunc("GET /audit", s.handleAudit)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	return s
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler returns the server's handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

type pendingErrorView struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	Description      string   `json:"description"`
	AvailableActions []string `json:"available_actions"`
}

type resolutionView struct {
	Action    string `json:"action"`
	InputData string `json:"input_data,omitempty"`
}

type errorDetailView struct {
	pendingErrorView
	OperationID   string          `json:"operation_id,omitempty"`
	CallID        string          `json:"call_id,omitempty"`
	State         string          `json:"state"`
	DefaultAction string          `json:"default_action,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	Resolution    *resolutionView `json:"resolution,omitempty"`
}

type resolveRequest struct {
	Action    string `json:"action"`
	InputData string `json:"input_data"`
}

func (s *Server) handleListPending(w http.ResponseWriter, r *http.Request) {
	entries := s.registry.ListPending()
	views := make([]pendingErrorView, 0, len(entries))
	for _, e := range entries {
		snap := e.Snapshot()
		if snap.State.Terminal() {
			// Resolved between snapshot and enumeration; treat as gone.
			continue
		}
		views = append(views, pendingView(&snap))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	e, err := s.registry.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	snap := e.Snapshot()

	view := errorDetailView{
		pendingErrorView: pendingView(&snap),
		OperationID:      snap.OperationID,
		CallID:           snap.CallID,
		State:            string(snap.State),
		CreatedAt:        snap.CreatedAt,
	}
	if snap.Default != nil {
		view.DefaultAction = snap.Default.Description
	}
	if snap.Resolution != nil && snap.Resolution.Selected != nil {
		view.Resolution = &resolutionView{
			Action:    snap.Resolution.Selected.Description,
			InputData: snap.Resolution.InputData,
		}
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	err := s.coord.ResolveByAction(r.PathValue("id"), req.Action, req.InputData)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, domain.ErrInvalidState):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, domain.ErrInvalidAction):
		writeError(w, http.StatusBadRequest, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	e, err := s.registry.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	s.coord.Clear(e)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	records, err := s.audit.List(r.Context(), s.auditLimit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, auditViews(records))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"pending": len(s.registry.ListPending()),
	})
}

func pendingView(snap *domain.PendingError) pendingErrorView {
	return pendingErrorView{
		ID:               snap.ID,
		Name:             snap.Name,
		Description:      snap.Description,
		AvailableActions: snap.ActionNames(),
	}
}

type auditView struct {
	ID          string    `json:"id"`
	ErrorID     string    `json:"error_id"`
	OperationID string    `json:"operation_id,omitempty"`
	Name        string    `json:"name"`
	Outcome     string    `json:"outcome"`
	Action      string    `json:"action,omitempty"`
	Source      string    `json:"source,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	ResolvedAt  time.Time `json:"resolved_at"`
}

func auditViews(records []*storage.AuditRecord) []auditView {
	views := make([]auditView, 0, len(records))
	for _, rec := range records {
		views = append(views, auditView{
			ID:          rec.ID,
			ErrorID:     rec.ErrorID,
			OperationID: rec.OperationID,
			Name:        rec.Name,
			Outcome:     rec.Outcome,
			Action:      rec.Action,
			Source:      rec.Source,
			CreatedAt:   rec.CreatedAt,
			ResolvedAt:  rec.ResolvedAt,
		})
	}
	return views
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
