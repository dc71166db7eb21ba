package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/ClaimFreedomDotOrg/DMNChat-sub000/internal/conversation"
	"github.com/ClaimFreedomDotOrg/DMNChat-sub000/internal/log"
)

// defaultOwnerID attributes conversations when the caller supplies no owner.
// Authentication is handled upstream of this service.
const defaultOwnerID = "local"

// Responder produces a grounded assistant reply. Satisfied by
// *conversation.Assembler.
type Responder interface {
	Respond(ctx context.Context, conversationID uuid.UUID, ownerID, userText string, mode conversation.Mode) (*conversation.Reply, error)
}

// ChatHandler handles the chat endpoint.
type ChatHandler struct {
	assembler Responder
	logger    log.Logger
}

// NewChatHandler creates a chat handler.
func NewChatHandler(assembler Responder, logger log.Logger) *ChatHandler {
	return &ChatHandler{assembler: assembler, logger: logger}
}

// RegisterRoutes registers chat routes on the given mux.
func (h *ChatHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/chat", h.chat)
}

// ChatRequest is the request body for a chat turn. ConversationID "" starts a
// new conversation. Mode is "text" (default) or "voice".
type ChatRequest struct {
	ConversationID string `json:"conversationId"`
	OwnerID        string `json:"ownerId"`
	Message        string `json:"message"`
	Mode           string `json:"mode"`
}

// ChatResponse is the wire shape of a successful chat turn.
type ChatResponse struct {
	ConversationID string                  `json:"conversationId"`
	MessageID      string                  `json:"messageId"`
	ResponseText   string                  `json:"responseText"`
	Citations      []conversation.Citation `json:"citations"`
}

func (h *ChatHandler) chat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}

	conversationID := uuid.Nil
	if req.ConversationID != "" {
		id, err := uuid.Parse(req.ConversationID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid conversationId")
			return
		}
		conversationID = id
	}

	ownerID := req.OwnerID
	if ownerID == "" {
		ownerID = defaultOwnerID
	}

	mode := conversation.ModeText
	switch req.Mode {
	case "", "text":
	case "voice":
		mode = conversation.ModeVoice
	default:
		writeError(w, http.StatusBadRequest, "bad_request", "mode must be \"text\" or \"voice\"")
		return
	}

	reply, err := h.assembler.Respond(r.Context(), conversationID, ownerID, req.Message, mode)
	if err != nil {
		h.writeRespondError(w, err)
		return
	}

	citations := reply.Citations
	if citations == nil {
		citations = []conversation.Citation{}
	}
	writeJSON(w, http.StatusOK, ChatResponse{
		ConversationID: reply.ConversationID.String(),
		MessageID:      reply.MessageID.String(),
		ResponseText:   reply.Text,
		Citations:      citations,
	})
}

func (h *ChatHandler) writeRespondError(w http.ResponseWriter, err error) {
	var genErr *conversation.GenerationError
	switch {
	case errors.Is(err, conversation.ErrEmptyMessage),
		errors.Is(err, conversation.ErrMessageTooLong):
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
	case errors.Is(err, conversation.ErrConversationNotFound):
		writeError(w, http.StatusNotFound, "not_found", "conversation not found")
	case errors.As(err, &genErr):
		h.logger.Error("generation failed", "error", err)
		writeError(w, http.StatusBadGateway, "generation_failed",
			"the assistant could not generate a reply; your message was saved")
	default:
		h.logger.Error("chat turn failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "failed to process message")
	}
}
