// Package conversation manages chats and their ordered turns, and assembles
// grounded generation requests from retrieved chunks plus dialogue history.
package conversation

import (
	"time"

	"github.com/google/uuid"
)

// Turn roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// TitleMaxLength caps conversation titles derived from the first user turn.
const TitleMaxLength = 80

// Conversation is one chat and its metadata.
type Conversation struct {
	ID           uuid.UUID
	OwnerID      string
	Title        string
	Pinned       bool
	GuideID      string
	MessageCount int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Turn is one message within a conversation. Turns are strictly ordered by
// sequence number, which follows creation time.
type Turn struct {
	ID             uuid.UUID
	ConversationID uuid.UUID
	Role           string
	Content        string
	Citations      []Citation
	Failed         bool
	SequenceNumber int
	CreatedAt      time.Time
}

// Citation points an assistant turn back to a chunk's provenance.
// Created alongside the turn; immutable.
type Citation struct {
	RepoName string `json:"repoName"`
	FilePath string `json:"filePath"`
	URL      string `json:"url"`
}
