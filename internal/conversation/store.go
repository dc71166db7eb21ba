package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

// ErrConversationNotFound indicates the conversation does not exist.
var ErrConversationNotFound = errors.New("conversation not found")

// DB is the subset of pgxpool.Pool the store needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store persists conversations and turns in PostgreSQL.
//
// Store is safe for concurrent use by multiple goroutines. Turn appends lock
// the conversation row so sequence numbers stay gapless under concurrency.
type Store struct {
	db     DB
	logger *slog.Logger
}

// NewStore creates a Store. logger nil uses slog.Default().
func NewStore(db DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

// Create starts a new conversation.
func (s *Store) Create(ctx context.Context, ownerID, title, guideID string) (*Conversation, error) {
	var titlePtr, guidePtr *string
	if title != "" {
		titlePtr = &title
	}
	if guideID != "" {
		guidePtr = &guideID
	}

	row := s.db.QueryRow(ctx, `
		INSERT INTO conversations (owner_id, title, guide_id)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at`,
		ownerID, titlePtr, guidePtr)

	var id pgtype.UUID
	var createdAt, updatedAt pgtype.Timestamptz
	if err := row.Scan(&id, &createdAt, &updatedAt); err != nil {
		return nil, fmt.Errorf("creating conversation: %w", err)
	}

	conv := &Conversation{
		ID:        pgUUIDToUUID(id),
		OwnerID:   ownerID,
		Title:     title,
		GuideID:   guideID,
		CreatedAt: createdAt.Time,
		UpdatedAt: updatedAt.Time,
	}
	s.logger.Debug("created conversation", "id", conv.ID, "owner", ownerID)
	return conv, nil
}

const conversationColumns = `id, owner_id, COALESCE(title, ''), pinned,
	COALESCE(guide_id, ''), message_count, created_at, updated_at`

// Get retrieves a conversation by ID.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Conversation, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, uuidToPgUUID(id))
	conv, err := scanConversation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrConversationNotFound, id)
		}
		return nil, fmt.Errorf("getting conversation %s: %w", id, err)
	}
	return conv, nil
}

// List returns an owner's conversations, pinned first, most recent next.
func (s *Store) List(ctx context.Context, ownerID string, limit, offset int32) ([]*Conversation, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE owner_id = $1
		ORDER BY pinned DESC, updated_at DESC
		LIMIT $2 OFFSET $3`,
		ownerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	defer rows.Close()

	var conversations []*Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		conversations = append(conversations, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	return conversations, nil
}

// Delete removes a conversation; its turns cascade at the database level.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM conversations WHERE id = $1`, uuidToPgUUID(id))
	if err != nil {
		return fmt.Errorf("deleting conversation %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrConversationNotFound, id)
	}
	s.logger.Debug("deleted conversation", "id", id)
	return nil
}

// SetPinned toggles the pinned flag.
func (s *Store) SetPinned(ctx context.Context, id uuid.UUID, pinned bool) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE conversations SET pinned = $2, updated_at = now() WHERE id = $1`,
		uuidToPgUUID(id), pinned)
	if err != nil {
		return fmt.Errorf("updating pinned flag for %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrConversationNotFound, id)
	}
	return nil
}

// SetTitle updates the conversation title.
func (s *Store) SetTitle(ctx context.Context, id uuid.UUID, title string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE conversations SET title = $2, updated_at = now() WHERE id = $1`,
		uuidToPgUUID(id), title)
	if err != nil {
		return fmt.Errorf("updating title for %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrConversationNotFound, id)
	}
	return nil
}

// AppendTurn appends one turn to a conversation.
//
// The conversation row is locked for the duration of the transaction so the
// next sequence number is assigned without races, then the conversation's
// message count and update time are refreshed in the same transaction.
func (s *Store) AppendTurn(ctx context.Context, conversationID uuid.UUID, turn Turn) (*Turn, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning turn append: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var locked pgtype.UUID
	err = tx.QueryRow(ctx,
		`SELECT id FROM conversations WHERE id = $1 FOR UPDATE`,
		uuidToPgUUID(conversationID)).Scan(&locked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrConversationNotFound, conversationID)
		}
		return nil, fmt.Errorf("locking conversation %s: %w", conversationID, err)
	}

	var maxSeq int
	if err := tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(sequence_number), 0) FROM turns WHERE conversation_id = $1`,
		uuidToPgUUID(conversationID)).Scan(&maxSeq); err != nil {
		return nil, fmt.Errorf("reading max sequence number: %w", err)
	}

	var citationsJSON []byte
	if len(turn.Citations) > 0 {
		citationsJSON, err = json.Marshal(turn.Citations)
		if err != nil {
			return nil, fmt.Errorf("marshaling citations: %w", err)
		}
	}

	appended := turn
	appended.ConversationID = conversationID
	appended.SequenceNumber = maxSeq + 1

	var id pgtype.UUID
	var createdAt pgtype.Timestamptz
	err = tx.QueryRow(ctx, `
		INSERT INTO turns (conversation_id, role, content, citations, failed, sequence_number)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`,
		uuidToPgUUID(conversationID), turn.Role, turn.Content, citationsJSON,
		turn.Failed, appended.SequenceNumber).Scan(&id, &createdAt)
	if err != nil {
		return nil, fmt.Errorf("inserting turn: %w", err)
	}
	appended.ID = pgUUIDToUUID(id)
	appended.CreatedAt = createdAt.Time

	if _, err := tx.Exec(ctx, `
		UPDATE conversations
		SET message_count = message_count + 1, updated_at = now()
		WHERE id = $1`,
		uuidToPgUUID(conversationID)); err != nil {
		return nil, fmt.Errorf("updating conversation metadata: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing turn append: %w", err)
	}

	s.logger.Debug("appended turn",
		"conversation_id", conversationID, "role", turn.Role, "sequence", appended.SequenceNumber)
	return &appended, nil
}

// MarkTurnFailed flags a turn whose response could not be generated.
func (s *Store) MarkTurnFailed(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE turns SET failed = TRUE WHERE id = $1`, uuidToPgUUID(id))
	if err != nil {
		return fmt.Errorf("marking turn %s failed: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("turn %s not found", id)
	}
	return nil
}

// RecentTurns returns the last limit turns in chronological order.
func (s *Store) RecentTurns(ctx context.Context, conversationID uuid.UUID, limit int32) ([]Turn, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, conversation_id, role, content, citations, failed, sequence_number, created_at
		FROM turns
		WHERE conversation_id = $1
		ORDER BY sequence_number DESC
		LIMIT $2`,
		uuidToPgUUID(conversationID), limit)
	if err != nil {
		return nil, fmt.Errorf("loading recent turns: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		var id, convID pgtype.UUID
		var citationsJSON []byte
		var createdAt pgtype.Timestamptz
		if err := rows.Scan(&id, &convID, &t.Role, &t.Content, &citationsJSON,
			&t.Failed, &t.SequenceNumber, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning turn: %w", err)
		}
		t.ID = pgUUIDToUUID(id)
		t.ConversationID = pgUUIDToUUID(convID)
		t.CreatedAt = createdAt.Time
		if len(citationsJSON) > 0 {
			if err := json.Unmarshal(citationsJSON, &t.Citations); err != nil {
				s.logger.Warn("dropping malformed citations", "turn_id", t.ID, "error", err)
			}
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("loading recent turns: %w", err)
	}

	// Rows arrive newest-first; prompts want oldest-first.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

func scanConversation(row pgx.Row) (*Conversation, error) {
	var conv Conversation
	var id pgtype.UUID
	var createdAt, updatedAt pgtype.Timestamptz
	if err := row.Scan(&id, &conv.OwnerID, &conv.Title, &conv.Pinned,
		&conv.GuideID, &conv.MessageCount, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	conv.ID = pgUUIDToUUID(id)
	conv.CreatedAt = createdAt.Time
	conv.UpdatedAt = updatedAt.Time
	return &conv, nil
}

func uuidToPgUUID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: true}
}

func pgUUIDToUUID(id pgtype.UUID) uuid.UUID {
	if !id.Valid {
		return uuid.Nil
	}
	return id.Bytes
}
