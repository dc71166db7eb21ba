package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/ClaimFreedomDotOrg/DMNChat-sub000/internal/conversation"
	"github.com/ClaimFreedomDotOrg/DMNChat-sub000/internal/log"
)

type mockConversationStore struct {
	conversations map[uuid.UUID]*conversation.Conversation
	turns         map[uuid.UUID][]conversation.Turn
}

func newMockConversationStore() *mockConversationStore {
	return &mockConversationStore{
		conversations: make(map[uuid.UUID]*conversation.Conversation),
		turns:         make(map[uuid.UUID][]conversation.Turn),
	}
}

func (m *mockConversationStore) add(owner, title string, pinned bool) *conversation.Conversation {
	conv := &conversation.Conversation{ID: uuid.New(), OwnerID: owner, Title: title, Pinned: pinned}
	m.conversations[conv.ID] = conv
	return conv
}

func (m *mockConversationStore) Get(_ context.Context, id uuid.UUID) (*conversation.Conversation, error) {
	conv, ok := m.conversations[id]
	if !ok {
		return nil, conversation.ErrConversationNotFound
	}
	return conv, nil
}

func (m *mockConversationStore) List(_ context.Context, ownerID string, _, _ int32) ([]*conversation.Conversation, error) {
	var out []*conversation.Conversation
	for _, conv := range m.conversations {
		if conv.OwnerID == ownerID {
			out = append(out, conv)
		}
	}
	return out, nil
}

func (m *mockConversationStore) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.conversations[id]; !ok {
		return conversation.ErrConversationNotFound
	}
	delete(m.conversations, id)
	return nil
}

func (m *mockConversationStore) SetPinned(_ context.Context, id uuid.UUID, pinned bool) error {
	conv, ok := m.conversations[id]
	if !ok {
		return conversation.ErrConversationNotFound
	}
	conv.Pinned = pinned
	return nil
}

func (m *mockConversationStore) RecentTurns(_ context.Context, id uuid.UUID, _ int32) ([]conversation.Turn, error) {
	return m.turns[id], nil
}

func newConversationMux(store ConversationStore) *http.ServeMux {
	mux := http.NewServeMux()
	NewConversationHandler(store, log.NewNop()).RegisterRoutes(mux)
	return mux
}

func TestListConversationsFiltersByOwner(t *testing.T) {
	store := newMockConversationStore()
	store.add("alice", "first", false)
	store.add("alice", "second", true)
	store.add("bob", "other", false)
	mux := newConversationMux(store)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/conversations?owner=alice", nil)
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Conversations []ConversationResponse `json:"conversations"`
		Total         int                    `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Total != 2 {
		t.Errorf("total = %d, want 2", resp.Total)
	}
}

func TestGetConversationWithTurns(t *testing.T) {
	store := newMockConversationStore()
	conv := store.add("local", "widget question", false)
	store.turns[conv.ID] = []conversation.Turn{
		{ID: uuid.New(), Role: conversation.RoleUser, Content: "what is a widget"},
		{ID: uuid.New(), Role: conversation.RoleAssistant, Content: "a widget is"},
	}
	mux := newConversationMux(store)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/conversations/"+conv.ID.String(), nil)
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Conversation ConversationResponse `json:"conversation"`
		Turns        []TurnResponse       `json:"turns"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Conversation.Title != "widget question" {
		t.Errorf("title = %q", resp.Conversation.Title)
	}
	if len(resp.Turns) != 2 || resp.Turns[0].Role != "user" {
		t.Errorf("turns = %+v", resp.Turns)
	}
}

func TestDeleteConversation(t *testing.T) {
	store := newMockConversationStore()
	conv := store.add("local", "t", false)
	mux := newConversationMux(store)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("DELETE", "/api/conversations/"+conv.ID.String(), nil)
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if len(store.conversations) != 0 {
		t.Error("conversation not deleted")
	}
}

func TestDeleteConversationNotFound(t *testing.T) {
	mux := newConversationMux(newMockConversationStore())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("DELETE", "/api/conversations/"+uuid.NewString(), nil)
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestSetPinned(t *testing.T) {
	store := newMockConversationStore()
	conv := store.add("local", "t", false)
	mux := newConversationMux(store)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("PUT", "/api/conversations/"+conv.ID.String()+"/pin",
		strings.NewReader(`{"pinned":true}`))
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if !conv.Pinned {
		t.Error("conversation not pinned")
	}
}
