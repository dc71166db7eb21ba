package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ClaimFreedomDotOrg/DMNChat-sub000/internal/index"
	"github.com/ClaimFreedomDotOrg/DMNChat-sub000/internal/log"
)

// ErrInvalidOrigin indicates a source origin that could not be parsed.
var ErrInvalidOrigin = errors.New("invalid source origin")

// SourceStore is the source persistence the handler needs. Satisfied by
// *index.Store.
type SourceStore interface {
	CreateSource(ctx context.Context, owner, repo, branch string) (*index.Source, error)
	GetSource(ctx context.Context, id uuid.UUID) (*index.Source, error)
	ListSources(ctx context.Context) ([]*index.Source, error)
	DeleteSource(ctx context.Context, id uuid.UUID) error
}

// IndexRunner starts an indexing run, acquiring the run lease before the
// work detaches. Satisfied by *index.Indexer.
type IndexRunner interface {
	Start(ctx, runCtx context.Context, sourceID uuid.UUID) error
}

// SourceHandler handles source management endpoints.
type SourceHandler struct {
	store   SourceStore
	indexer IndexRunner
	// runCtx outlives individual requests so indexing runs survive the
	// triggering request's cancellation.
	runCtx context.Context
	logger log.Logger
}

// NewSourceHandler creates a source handler. runCtx should be the server's
// base context.
func NewSourceHandler(store SourceStore, indexer IndexRunner, runCtx context.Context, logger log.Logger) *SourceHandler {
	if runCtx == nil {
		runCtx = context.Background()
	}
	return &SourceHandler{store: store, indexer: indexer, runCtx: runCtx, logger: logger}
}

// RegisterRoutes registers source routes on the given mux.
func (h *SourceHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/sources", h.list)
	mux.HandleFunc("POST /api/sources", h.create)
	mux.HandleFunc("GET /api/sources/{id}", h.get)
	mux.HandleFunc("DELETE /api/sources/{id}", h.remove)
	mux.HandleFunc("POST /api/sources/{id}/index", h.triggerIndex)
}

// SourceStatus is the status block of a source response.
type SourceStatus struct {
	State    string `json:"state"`
	Progress int    `json:"progress"`
	Error    string `json:"error,omitempty"`
	LastSync string `json:"lastSync,omitempty"`
}

// SourceStats is the stats block of a source response.
type SourceStats struct {
	FileCount  int `json:"fileCount"`
	ChunkCount int `json:"chunkCount"`
}

// SourceResponse is the wire shape of a source record.
type SourceResponse struct {
	ID     string       `json:"id"`
	Origin string       `json:"origin"`
	Branch string       `json:"branch"`
	Status SourceStatus `json:"status"`
	Stats  SourceStats  `json:"stats"`
}

func toSourceResponse(src *index.Source) SourceResponse {
	resp := SourceResponse{
		ID:     src.ID.String(),
		Origin: src.FullName(),
		Branch: src.Branch,
		Status: SourceStatus{
			State:    string(src.Status.State),
			Progress: src.Status.Progress,
			Error:    src.Status.Error,
		},
		Stats: SourceStats{
			FileCount:  src.FileCount,
			ChunkCount: src.ChunkCount,
		},
	}
	if !src.Status.LastSync.IsZero() {
		resp.Status.LastSync = src.Status.LastSync.UTC().Format(time.RFC3339)
	}
	return resp
}

func (h *SourceHandler) list(w http.ResponseWriter, r *http.Request) {
	sources, err := h.store.ListSources(r.Context())
	if err != nil {
		h.logger.Error("failed to list sources", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "failed to list sources")
		return
	}
	resp := make([]SourceResponse, 0, len(sources))
	for _, src := range sources {
		resp = append(resp, toSourceResponse(src))
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": resp, "total": len(resp)})
}

// CreateSourceRequest is the request body for registering a source.
type CreateSourceRequest struct {
	Origin string `json:"origin"`
	Branch string `json:"branch"`
}

func (h *SourceHandler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateSourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}

	owner, repo, err := ParseOrigin(req.Origin)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	branch := req.Branch
	if branch == "" {
		branch = "main"
	}

	src, err := h.store.CreateSource(r.Context(), owner, repo, branch)
	if err != nil {
		h.logger.Error("failed to create source", "origin", req.Origin, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "failed to create source")
		return
	}
	writeJSON(w, http.StatusCreated, toSourceResponse(src))
}

func (h *SourceHandler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r)
	if !ok {
		return
	}
	src, err := h.store.GetSource(r.Context(), id)
	if err != nil {
		if errors.Is(err, index.ErrSourceNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "source not found")
			return
		}
		h.logger.Error("failed to get source", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "failed to get source")
		return
	}
	writeJSON(w, http.StatusOK, toSourceResponse(src))
}

func (h *SourceHandler) remove(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r)
	if !ok {
		return
	}
	if err := h.store.DeleteSource(r.Context(), id); err != nil {
		if errors.Is(err, index.ErrSourceNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "source not found")
			return
		}
		h.logger.Error("failed to delete source", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "failed to delete source")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// triggerIndex acquires the run lease synchronously and returns 202 once the
// background run is underway. A run already holding the lease yields 409.
func (h *SourceHandler) triggerIndex(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r)
	if !ok {
		return
	}
	if err := h.indexer.Start(r.Context(), h.runCtx, id); err != nil {
		switch {
		case errors.Is(err, index.ErrSourceNotFound):
			writeError(w, http.StatusNotFound, "not_found", "source not found")
		case errors.Is(err, index.ErrRunInProgress):
			writeError(w, http.StatusConflict, "conflict", "indexing already in progress")
		default:
			h.logger.Error("failed to start indexing run", "source_id", id, "error", err)
			writeError(w, http.StatusInternalServerError, "internal", "failed to start indexing")
		}
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "indexing started"})
}

// ParseOrigin extracts owner and repo from an origin string. Accepted forms:
// "owner/repo", "github.com/owner/repo", and https URLs with an optional
// ".git" suffix.
func ParseOrigin(origin string) (owner, repo string, err error) {
	s := strings.TrimSpace(origin)
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")
	s = strings.TrimPrefix(s, "github.com/")
	s = strings.TrimSuffix(s, ".git")
	s = strings.Trim(s, "/")

	parts := strings.Split(s, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("%w: %q (want owner/repo)", ErrInvalidOrigin, origin)
	}
	return parts[0], parts[1], nil
}

// pathUUID parses the {id} path segment, writing a 400 on failure.
func pathUUID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid id")
		return uuid.Nil, false
	}
	return id, true
}
