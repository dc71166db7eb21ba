// Package index owns the content indexing pipeline: registered sources,
// their persisted chunks, and the orchestrated fetch → filter → chunk →
// persist run that keeps them in sync with the upstream repository.
package index

import (
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle state of a source.
// Transitions: pending → indexing → {ready, error}; ready and error are
// re-enterable into indexing on a fresh run.
type State string

const (
	StatePending  State = "pending"
	StateIndexing State = "indexing"
	StateReady    State = "ready"
	StateError    State = "error"
)

// Status is the state-machine value written at defined checkpoints of a run.
// Progress is an integer percentage in [0,100], monotonically non-decreasing
// within one run.
type Status struct {
	State    State
	Progress int
	Error    string
	LastSync time.Time
}

// Source is one external repository registered for indexing.
type Source struct {
	ID         uuid.UUID
	Owner      string
	Repo       string
	Branch     string
	Status     Status
	FileCount  int
	ChunkCount int
	CreatedAt  time.Time
}

// FullName returns the owner/repo form of the source origin.
func (s Source) FullName() string {
	return s.Owner + "/" + s.Repo
}

// Chunk is one retrievable unit of text produced from a source file.
// Ordinal is the chunk's position within its file and is unique within
// (source, file path).
type Chunk struct {
	ID        uuid.UUID
	SourceID  uuid.UUID
	RepoName  string
	FilePath  string
	Ordinal   int
	Content   string
	Language  string
	Checksum  string
	CreatedAt time.Time
}
