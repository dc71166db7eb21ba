package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

// Sentinel errors for store operations.
var (
	// ErrSourceNotFound indicates the source does not exist.
	ErrSourceNotFound = errors.New("source not found")

	// ErrRunInProgress indicates another indexing run holds a live lease on
	// the source.
	ErrRunInProgress = errors.New("indexing run already in progress")
)

// writeBatchSize caps the number of chunk inserts queued per database batch,
// mirroring the bulk-write limits of document stores.
const writeBatchSize = 500

// DB is the subset of pgxpool.Pool the store needs.
// Consumer-side interface so tests can substitute a fake.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store persists sources and chunks in PostgreSQL.
//
// Store is safe for concurrent use by multiple goroutines. Chunk replacement
// is not atomic across a whole source: readers may transiently observe zero
// or partial chunks during a re-index and must check Source state == ready
// when they need a consistent view.
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

// CreateSource registers a repository for indexing in state pending.
func (s *Store) CreateSource(ctx context.Context, owner, repo, branch string) (*Source, error) {
	if branch == "" {
		branch = "main"
	}
	row := s.db.QueryRow(ctx, `
		INSERT INTO sources (owner, repo, branch)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`,
		owner, repo, branch)

	var id pgtype.UUID
	var createdAt pgtype.Timestamptz
	if err := row.Scan(&id, &createdAt); err != nil {
		return nil, fmt.Errorf("creating source %s/%s: %w", owner, repo, err)
	}

	src := &Source{
		ID:        pgUUIDToUUID(id),
		Owner:     owner,
		Repo:      repo,
		Branch:    branch,
		Status:    Status{State: StatePending},
		CreatedAt: createdAt.Time,
	}
	s.logger.Debug("created source", "id", src.ID, "origin", src.FullName())
	return src, nil
}

const sourceColumns = `id, owner, repo, branch, state, progress,
	COALESCE(last_error, ''), file_count, chunk_count, last_sync_at, created_at`

// GetSource retrieves a source by ID.
func (s *Store) GetSource(ctx context.Context, id uuid.UUID) (*Source, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+sourceColumns+` FROM sources WHERE id = $1`, uuidToPgUUID(id))
	src, err := scanSource(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, id)
		}
		return nil, fmt.Errorf("getting source %s: %w", id, err)
	}
	return src, nil
}

// ListSources returns all registered sources, newest first.
func (s *Store) ListSources(ctx context.Context) ([]*Source, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+sourceColumns+` FROM sources ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing sources: %w", err)
	}
	defer rows.Close()

	var sources []*Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning source: %w", err)
		}
		sources = append(sources, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing sources: %w", err)
	}
	return sources, nil
}

// DeleteSource removes a source; its chunks cascade at the database level.
func (s *Store) DeleteSource(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM sources WHERE id = $1`, uuidToPgUUID(id))
	if err != nil {
		return fmt.Errorf("deleting source %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrSourceNotFound, id)
	}
	s.logger.Debug("deleted source", "id", id)
	return nil
}

// AcquireRun atomically transitions a source into indexing and stamps a new
// run lease. It refuses with ErrRunInProgress while another run's lease is
// live, so concurrent triggers for the same source are serialized here.
// An abandoned run becomes re-acquirable once its lease expires.
func (s *Store) AcquireRun(ctx context.Context, id uuid.UUID, lease time.Duration) (uuid.UUID, error) {
	runID := uuid.New()
	tag, err := s.db.Exec(ctx, `
		UPDATE sources
		SET state = $2, progress = 0, last_error = NULL,
		    run_id = $3, lease_expires_at = now() + $4
		WHERE id = $1
		  AND (state <> $2 OR lease_expires_at IS NULL OR lease_expires_at < now())`,
		uuidToPgUUID(id), StateIndexing, uuidToPgUUID(runID), lease)
	if err != nil {
		return uuid.Nil, fmt.Errorf("acquiring run lease for %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		// Either the source is gone or a live lease exists; disambiguate.
		if _, err := s.GetSource(ctx, id); err != nil {
			return uuid.Nil, err
		}
		return uuid.Nil, fmt.Errorf("%w: source %s", ErrRunInProgress, id)
	}
	s.logger.Debug("acquired indexing run", "source_id", id, "run_id", runID)
	return runID, nil
}

// UpdateStatus writes a status checkpoint for a source.
func (s *Store) UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error {
	var lastErr *string
	if status.Error != "" {
		lastErr = &status.Error
	}
	var lastSync pgtype.Timestamptz
	if !status.LastSync.IsZero() {
		lastSync = pgtype.Timestamptz{Time: status.LastSync, Valid: true}
	}

	tag, err := s.db.Exec(ctx, `
		UPDATE sources
		SET state = $2, progress = $3, last_error = $4,
		    last_sync_at = COALESCE($5, last_sync_at)
		WHERE id = $1`,
		uuidToPgUUID(id), status.State, status.Progress, lastErr, lastSync)
	if err != nil {
		return fmt.Errorf("updating status for %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrSourceNotFound, id)
	}
	return nil
}

// UpdateCounts records the file and chunk totals of a completed run.
func (s *Store) UpdateCounts(ctx context.Context, id uuid.UUID, fileCount, chunkCount int) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE sources SET file_count = $2, chunk_count = $3 WHERE id = $1`,
		uuidToPgUUID(id), fileCount, chunkCount)
	if err != nil {
		return fmt.Errorf("updating counts for %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrSourceNotFound, id)
	}
	return nil
}

// DeleteChunks removes all chunks for a source.
func (s *Store) DeleteChunks(ctx context.Context, sourceID uuid.UUID) error {
	if _, err := s.db.Exec(ctx,
		`DELETE FROM chunks WHERE source_id = $1`, uuidToPgUUID(sourceID)); err != nil {
		return fmt.Errorf("deleting chunks for %s: %w", sourceID, err)
	}
	return nil
}

// InsertChunks appends chunks in database batches of writeBatchSize.
func (s *Store) InsertChunks(ctx context.Context, sourceID uuid.UUID, chunks []Chunk) error {
	for start := 0; start < len(chunks); start += writeBatchSize {
		end := min(start+writeBatchSize, len(chunks))

		b := &pgx.Batch{}
		for _, c := range chunks[start:end] {
			b.Queue(`
				INSERT INTO chunks (source_id, repo_name, file_path, ordinal, content, language, checksum)
				VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				uuidToPgUUID(sourceID), c.RepoName, c.FilePath, c.Ordinal, c.Content, c.Language, c.Checksum)
		}
		if err := s.db.SendBatch(ctx, b).Close(); err != nil {
			return fmt.Errorf("inserting chunk batch [%d,%d) for %s: %w", start, end, sourceID, err)
		}
	}

	s.logger.Debug("inserted chunks", "source_id", sourceID, "count", len(chunks))
	return nil
}

// ReplaceChunks deletes all chunks of a source and inserts the given set.
// Delete and insert share one transaction, but a re-index spanning multiple
// calls is not atomic as a whole; see the Store doc comment.
func (s *Store) ReplaceChunks(ctx context.Context, sourceID uuid.UUID, chunks []Chunk) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning chunk replacement: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	txStore := &Store{db: txDB{tx}, logger: s.logger}
	if err := txStore.DeleteChunks(ctx, sourceID); err != nil {
		return err
	}
	if err := txStore.InsertChunks(ctx, sourceID, chunks); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing chunk replacement: %w", err)
	}
	return nil
}

// ChunkFilter narrows a chunk query.
type ChunkFilter struct {
	// SourceID restricts results to one source when non-nil.
	SourceID *uuid.UUID

	// ReadyOnly restricts results to sources in state ready.
	ReadyOnly bool
}

// QueryChunks returns up to limit chunks in stable insertion order.
// This is the bounded candidate scan used by retrieval scoring.
func (s *Store) QueryChunks(ctx context.Context, filter ChunkFilter, limit int32) ([]Chunk, error) {
	if limit <= 0 {
		return nil, nil
	}

	query := `
		SELECT c.id, c.source_id, c.repo_name, c.file_path, c.ordinal,
		       c.content, c.language, c.checksum, c.created_at
		FROM chunks c`
	args := []any{limit}
	var where []string

	if filter.ReadyOnly {
		query += ` JOIN sources s ON s.id = c.source_id`
		args = append(args, string(StateReady))
		where = append(where, fmt.Sprintf("s.state = $%d", len(args)))
	}
	if filter.SourceID != nil {
		args = append(args, uuidToPgUUID(*filter.SourceID))
		where = append(where, fmt.Sprintf("c.source_id = $%d", len(args)))
	}
	for i, cond := range where {
		if i == 0 {
			query += " WHERE " + cond
		} else {
			query += " AND " + cond
		}
	}
	query += ` ORDER BY c.created_at, c.id LIMIT $1`

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		var id, sourceID pgtype.UUID
		var createdAt pgtype.Timestamptz
		if err := rows.Scan(&id, &sourceID, &c.RepoName, &c.FilePath, &c.Ordinal,
			&c.Content, &c.Language, &c.Checksum, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		c.ID = pgUUIDToUUID(id)
		c.SourceID = pgUUIDToUUID(sourceID)
		c.CreatedAt = createdAt.Time
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}
	return chunks, nil
}

// txDB adapts pgx.Tx to the DB interface so Store helpers run inside a
// transaction.
type txDB struct {
	pgx.Tx
}

func (t txDB) Begin(ctx context.Context) (pgx.Tx, error) {
	return t.Tx.Begin(ctx)
}

func scanSource(row pgx.Row) (*Source, error) {
	var src Source
	var id pgtype.UUID
	var state string
	var lastSync, createdAt pgtype.Timestamptz
	if err := row.Scan(&id, &src.Owner, &src.Repo, &src.Branch, &state,
		&src.Status.Progress, &src.Status.Error, &src.FileCount, &src.ChunkCount,
		&lastSync, &createdAt); err != nil {
		return nil, err
	}
	src.ID = pgUUIDToUUID(id)
	src.Status.State = State(state)
	if lastSync.Valid {
		src.Status.LastSync = lastSync.Time
	}
	src.CreatedAt = createdAt.Time
	return &src, nil
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
