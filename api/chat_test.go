package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/ClaimFreedomDotOrg/DMNChat-sub000/internal/conversation"
	"github.com/ClaimFreedomDotOrg/DMNChat-sub000/internal/log"
)

type mockResponder struct {
	reply    *conversation.Reply
	err      error
	lastMode conversation.Mode
	lastText string
}

func (m *mockResponder) Respond(_ context.Context, _ uuid.UUID, _ string, userText string, mode conversation.Mode) (*conversation.Reply, error) {
	m.lastText = userText
	m.lastMode = mode
	if m.err != nil {
		return nil, m.err
	}
	return m.reply, nil
}

func newChatMux(responder Responder) *http.ServeMux {
	mux := http.NewServeMux()
	NewChatHandler(responder, log.NewNop()).RegisterRoutes(mux)
	return mux
}

func postChat(mux *http.ServeMux, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/chat", strings.NewReader(body))
	mux.ServeHTTP(rec, req)
	return rec
}

func TestChatSuccess(t *testing.T) {
	convID := uuid.New()
	msgID := uuid.New()
	responder := &mockResponder{reply: &conversation.Reply{
		ConversationID: convID,
		MessageID:      msgID,
		Text:           "grounded answer",
		Citations: []conversation.Citation{
			{RepoName: "octo/widgets", FilePath: "docs/a.md", URL: "https://raw.githubusercontent.com/octo/widgets/main/docs/a.md"},
		},
	}}
	rec := postChat(newChatMux(responder), `{"message":"how do widgets work"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp ChatResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.ConversationID != convID.String() || resp.MessageID != msgID.String() {
		t.Errorf("ids = %q / %q", resp.ConversationID, resp.MessageID)
	}
	if resp.ResponseText != "grounded answer" {
		t.Errorf("responseText = %q", resp.ResponseText)
	}
	if len(resp.Citations) != 1 || resp.Citations[0].RepoName != "octo/widgets" {
		t.Errorf("citations = %+v", resp.Citations)
	}
	if responder.lastMode != conversation.ModeText {
		t.Errorf("mode = %q, want text default", responder.lastMode)
	}
}

func TestChatEmptyCitationsSerializeAsArray(t *testing.T) {
	responder := &mockResponder{reply: &conversation.Reply{
		ConversationID: uuid.New(), MessageID: uuid.New(), Text: "no context answer",
	}}
	rec := postChat(newChatMux(responder), `{"message":"anything"}`)

	if !strings.Contains(rec.Body.String(), `"citations":[]`) {
		t.Errorf("citations should be an empty array, body %s", rec.Body.String())
	}
}

func TestChatVoiceMode(t *testing.T) {
	responder := &mockResponder{reply: &conversation.Reply{
		ConversationID: uuid.New(), MessageID: uuid.New(), Text: "short",
	}}
	rec := postChat(newChatMux(responder), `{"message":"hello","mode":"voice"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if responder.lastMode != conversation.ModeVoice {
		t.Errorf("mode = %q, want voice", responder.lastMode)
	}
}

func TestChatBadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
	}{
		{"malformed json", "{", nil},
		{"bad conversation id", `{"conversationId":"nope","message":"x"}`, nil},
		{"bad mode", `{"message":"x","mode":"video"}`, nil},
		{"empty message", `{"message":""}`, conversation.ErrEmptyMessage},
		{"oversized message", `{"message":"x"}`, conversation.ErrMessageTooLong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postChat(newChatMux(&mockResponder{err: tt.err}), tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestChatGenerationFailure(t *testing.T) {
	responder := &mockResponder{err: &conversation.GenerationError{Err: errors.New("model down")}}
	rec := postChat(newChatMux(responder), `{"message":"hello there"}`)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "your message was saved") {
		t.Errorf("body should tell the user their message survived, got %s", rec.Body.String())
	}
}

func TestChatConversationNotFound(t *testing.T) {
	responder := &mockResponder{err: conversation.ErrConversationNotFound}
	rec := postChat(newChatMux(responder), `{"message":"hello"}`)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}
