package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/ClaimFreedomDotOrg/DMNChat-sub000/internal/conversation"
	"github.com/ClaimFreedomDotOrg/DMNChat-sub000/internal/log"
)

// Pagination bounds for conversation listing.
const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
	MaxListOffset    = 100000
	// turnPageLimit bounds the turns returned with a conversation.
	turnPageLimit = 200
)

// ConversationStore is the conversation persistence the handler needs.
// Satisfied by *conversation.Store.
type ConversationStore interface {
	Get(ctx context.Context, id uuid.UUID) (*conversation.Conversation, error)
	List(ctx context.Context, ownerID string, limit, offset int32) ([]*conversation.Conversation, error)
	Delete(ctx context.Context, id uuid.UUID) error
	SetPinned(ctx context.Context, id uuid.UUID, pinned bool) error
	RecentTurns(ctx context.Context, conversationID uuid.UUID, limit int32) ([]conversation.Turn, error)
}

// ConversationHandler handles conversation management endpoints.
type ConversationHandler struct {
	store  ConversationStore
	logger log.Logger
}

// NewConversationHandler creates a conversation handler.
func NewConversationHandler(store ConversationStore, logger log.Logger) *ConversationHandler {
	return &ConversationHandler{store: store, logger: logger}
}

// RegisterRoutes registers conversation routes on the given mux.
func (h *ConversationHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/conversations", h.list)
	mux.HandleFunc("GET /api/conversations/{id}", h.get)
	mux.HandleFunc("DELETE /api/conversations/{id}", h.remove)
	mux.HandleFunc("PUT /api/conversations/{id}/pin", h.setPinned)
}

// ConversationResponse is the wire shape of a conversation record.
type ConversationResponse struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Pinned       bool   `json:"pinned"`
	MessageCount int    `json:"messageCount"`
	CreatedAt    string `json:"createdAt"`
	UpdatedAt    string `json:"updatedAt"`
}

// TurnResponse is the wire shape of one turn.
type TurnResponse struct {
	ID        string                  `json:"id"`
	Role      string                  `json:"role"`
	Content   string                  `json:"content"`
	Citations []conversation.Citation `json:"citations,omitempty"`
	Failed    bool                    `json:"failed,omitempty"`
	CreatedAt string                  `json:"createdAt"`
}

func toConversationResponse(conv *conversation.Conversation) ConversationResponse {
	return ConversationResponse{
		ID:           conv.ID.String(),
		Title:        conv.Title,
		Pinned:       conv.Pinned,
		MessageCount: conv.MessageCount,
		CreatedAt:    conv.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:    conv.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// list returns an owner's conversations with pagination.
// Query parameters: owner (default "local"), limit, offset.
func (h *ConversationHandler) list(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		owner = defaultOwnerID
	}
	limit := parseIntParam(r, "limit", DefaultListLimit, 1, MaxListLimit)
	offset := parseIntParam(r, "offset", 0, 0, MaxListOffset)

	conversations, err := h.store.List(r.Context(), owner, int32(limit), int32(offset))
	if err != nil {
		h.logger.Error("failed to list conversations", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "failed to list conversations")
		return
	}
	resp := make([]ConversationResponse, 0, len(conversations))
	for _, conv := range conversations {
		resp = append(resp, toConversationResponse(conv))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conversations": resp,
		"total":         len(resp),
		"limit":         limit,
		"offset":        offset,
	})
}

func (h *ConversationHandler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r)
	if !ok {
		return
	}
	conv, err := h.store.Get(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, id, err, "get")
		return
	}
	turns, err := h.store.RecentTurns(r.Context(), id, turnPageLimit)
	if err != nil {
		h.logger.Error("failed to load turns", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "failed to load turns")
		return
	}
	turnResp := make([]TurnResponse, 0, len(turns))
	for _, t := range turns {
		turnResp = append(turnResp, TurnResponse{
			ID:        t.ID.String(),
			Role:      t.Role,
			Content:   t.Content,
			Citations: t.Citations,
			Failed:    t.Failed,
			CreatedAt: t.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conversation": toConversationResponse(conv),
		"turns":        turnResp,
	})
}

func (h *ConversationHandler) remove(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r)
	if !ok {
		return
	}
	if err := h.store.Delete(r.Context(), id); err != nil {
		h.writeStoreError(w, id, err, "delete")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetPinnedRequest is the request body for pinning a conversation.
type SetPinnedRequest struct {
	Pinned bool `json:"pinned"`
}

func (h *ConversationHandler) setPinned(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r)
	if !ok {
		return
	}
	var req SetPinnedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	if err := h.store.SetPinned(r.Context(), id, req.Pinned); err != nil {
		h.writeStoreError(w, id, err, "pin")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ConversationHandler) writeStoreError(w http.ResponseWriter, id uuid.UUID, err error, op string) {
	if errors.Is(err, conversation.ErrConversationNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "conversation not found")
		return
	}
	h.logger.Error("conversation operation failed", "op", op, "id", id, "error", err)
	writeError(w, http.StatusInternalServerError, "internal", "operation failed")
}

// parseIntParam parses an integer query parameter with bounds checking.
func parseIntParam(r *http.Request, name string, defaultVal, min, max int) int {
	str := r.URL.Query().Get(name)
	if str == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(str)
	if err != nil {
		return defaultVal
	}
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}
