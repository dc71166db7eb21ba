package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/ClaimFreedomDotOrg/DMNChat-sub000/internal/github"
	"github.com/ClaimFreedomDotOrg/DMNChat-sub000/internal/index"
)

// Input validation errors.
var (
	ErrEmptyMessage   = errors.New("message is empty")
	ErrMessageTooLong = errors.New("message exceeds maximum length")
)

// GenerationError wraps a failure of the generation backend. The user's turn
// has already been persisted when this is returned; no assistant turn exists.
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generating response: %v", e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// GenerateConfig bounds a single generation call.
type GenerateConfig struct {
	Temperature     float32
	MaxOutputTokens int32
}

// Generator produces model text for a prompt. Satisfied by *gemini.Client.
type Generator interface {
	Generate(ctx context.Context, prompt string, cfg GenerateConfig) (string, error)
}

// Retriever supplies ranked documentation chunks. Satisfied by
// *retrieval.Scorer.
type Retriever interface {
	Retrieve(ctx context.Context, query string, maxResults int) []index.Chunk
}

// TurnStore is the conversation persistence the assembler needs. Satisfied by
// *Store.
type TurnStore interface {
	Create(ctx context.Context, ownerID, title, guideID string) (*Conversation, error)
	Get(ctx context.Context, id uuid.UUID) (*Conversation, error)
	AppendTurn(ctx context.Context, conversationID uuid.UUID, turn Turn) (*Turn, error)
	MarkTurnFailed(ctx context.Context, id uuid.UUID) error
	RecentTurns(ctx context.Context, conversationID uuid.UUID, limit int32) ([]Turn, error)
}

// SourceLookup resolves chunk provenance to its source record. Satisfied by
// *index.Store.
type SourceLookup interface {
	GetSource(ctx context.Context, id uuid.UUID) (*index.Source, error)
}

// AssemblerConfig tunes the Respond pipeline.
type AssemblerConfig struct {
	// MaxMessageLength rejects oversized user messages. <= 0 uses 10000.
	MaxMessageLength int
	// TopKText is the retrieval depth for text mode. <= 0 uses 5.
	TopKText int
	// TopKVoice is the retrieval depth for voice mode. <= 0 uses 3.
	TopKVoice int
	// HistoryLimit is the number of prior turns included in text prompts.
	// <= 0 uses 10.
	HistoryLimit int32
	// VoiceHistoryLimit is the history window for voice mode. <= 0 uses 6.
	VoiceHistoryLimit int32
	// Temperature and MaxOutputTokens are passed through to generation.
	Temperature     float32
	MaxOutputTokens int32
}

// Assembler turns a user message into a grounded assistant reply.
type Assembler struct {
	store     TurnStore
	sources   SourceLookup
	retriever Retriever
	generator Generator
	cfg       AssemblerConfig
	logger    *slog.Logger
}

// NewAssembler wires the Respond pipeline. logger nil uses slog.Default().
func NewAssembler(store TurnStore, sources SourceLookup, retriever Retriever, generator Generator, cfg AssemblerConfig, logger *slog.Logger) *Assembler {
	if cfg.MaxMessageLength <= 0 {
		cfg.MaxMessageLength = 10000
	}
	if cfg.TopKText <= 0 {
		cfg.TopKText = 5
	}
	if cfg.TopKVoice <= 0 {
		cfg.TopKVoice = 3
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 10
	}
	if cfg.VoiceHistoryLimit <= 0 {
		cfg.VoiceHistoryLimit = 6
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{
		store:     store,
		sources:   sources,
		retriever: retriever,
		generator: generator,
		cfg:       cfg,
		logger:    logger,
	}
}

// Reply is the result of one successful Respond call.
type Reply struct {
	ConversationID uuid.UUID
	MessageID      uuid.UUID
	Text           string
	Citations      []Citation
}

// Respond appends the user's message to the conversation, retrieves relevant
// documentation, generates a grounded reply, and persists it as the assistant
// turn.
//
// conversationID uuid.Nil starts a new conversation owned by ownerID, titled
// from the message. A generation failure returns *GenerationError with the
// user turn already persisted and no assistant turn appended. Retrieval
// failures degrade to an answer without documentation context.
func (a *Assembler) Respond(ctx context.Context, conversationID uuid.UUID, ownerID, userText string, mode Mode) (*Reply, error) {
	userText = strings.TrimSpace(userText)
	if userText == "" {
		return nil, ErrEmptyMessage
	}
	// Length is a character limit, so count runes rather than bytes.
	if n := utf8.RuneCountInString(userText); n > a.cfg.MaxMessageLength {
		return nil, fmt.Errorf("%w: %d > %d characters", ErrMessageTooLong, n, a.cfg.MaxMessageLength)
	}

	conv, err := a.resolveConversation(ctx, conversationID, ownerID, userText)
	if err != nil {
		return nil, err
	}

	historyLimit := a.cfg.HistoryLimit
	topK := a.cfg.TopKText
	if mode == ModeVoice {
		historyLimit = a.cfg.VoiceHistoryLimit
		topK = a.cfg.TopKVoice
	}

	// History is captured before the user turn is appended so the prompt's
	// history section never duplicates the new message.
	history, err := a.store.RecentTurns(ctx, conv.ID, historyLimit)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}

	userTurn, err := a.store.AppendTurn(ctx, conv.ID, Turn{Role: RoleUser, Content: userText})
	if err != nil {
		return nil, fmt.Errorf("persisting user turn: %w", err)
	}

	chunks := a.retriever.Retrieve(ctx, userText, topK)
	prompt := BuildPrompt(mode, chunks, history, userText)

	text, err := a.generator.Generate(ctx, prompt, GenerateConfig{
		Temperature:     a.cfg.Temperature,
		MaxOutputTokens: a.cfg.MaxOutputTokens,
	})
	if err != nil {
		a.logger.Error("generation failed", "conversation_id", conv.ID, "error", err)
		// The user turn stays persisted; the flag makes the unanswered turn
		// visible to readers instead of a silent gap.
		if markErr := a.store.MarkTurnFailed(ctx, userTurn.ID); markErr != nil {
			a.logger.Warn("flagging unanswered turn", "turn_id", userTurn.ID, "error", markErr)
		}
		return nil, &GenerationError{Err: err}
	}

	citations := a.citations(ctx, chunks)
	assistant, err := a.store.AppendTurn(ctx, conv.ID, Turn{
		Role:      RoleAssistant,
		Content:   text,
		Citations: citations,
	})
	if err != nil {
		return nil, fmt.Errorf("persisting assistant turn: %w", err)
	}

	return &Reply{
		ConversationID: conv.ID,
		MessageID:      assistant.ID,
		Text:           text,
		Citations:      citations,
	}, nil
}

func (a *Assembler) resolveConversation(ctx context.Context, id uuid.UUID, ownerID, userText string) (*Conversation, error) {
	if id == uuid.Nil {
		conv, err := a.store.Create(ctx, ownerID, TitleFromMessage(userText), "")
		if err != nil {
			return nil, fmt.Errorf("creating conversation: %w", err)
		}
		return conv, nil
	}
	conv, err := a.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// citations builds one citation per retrieved chunk, resolving the source's
// branch so the URL points at the exact file revision line of the repository.
func (a *Assembler) citations(ctx context.Context, chunks []index.Chunk) []Citation {
	if len(chunks) == 0 {
		return nil
	}
	branches := make(map[uuid.UUID]string, len(chunks))
	citations := make([]Citation, 0, len(chunks))
	seen := make(map[string]bool, len(chunks))
	for _, c := range chunks {
		key := c.RepoName + "/" + c.FilePath
		if seen[key] {
			continue
		}
		seen[key] = true

		branch, ok := branches[c.SourceID]
		if !ok {
			branch = "main"
			if src, err := a.sources.GetSource(ctx, c.SourceID); err == nil {
				branch = src.Branch
			} else {
				a.logger.Warn("citation branch lookup failed, assuming main",
					"source_id", c.SourceID, "error", err)
			}
			branches[c.SourceID] = branch
		}

		owner, repo, _ := strings.Cut(c.RepoName, "/")
		citations = append(citations, Citation{
			RepoName: c.RepoName,
			FilePath: c.FilePath,
			URL:      github.RawURL(owner, repo, branch, c.FilePath),
		})
	}
	return citations
}
