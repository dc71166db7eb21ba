package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ClaimFreedomDotOrg/DMNChat-sub000/internal/github"
)

// Indexing run tuning.
const (
	// DefaultBatchSize is the number of files fetched concurrently per batch.
	DefaultBatchSize = 10

	// DefaultLease bounds how long a run may hold the source before a new
	// trigger can take over an abandoned run.
	DefaultLease = 30 * time.Minute
)

// Progress checkpoints of a run. Batch processing advances linearly from
// progressChunking to progressBatchesEnd; progressDone is written together
// with the terminal ready state.
const (
	progressListed     = 10
	progressChunking   = 20
	progressBatchesEnd = 90
	progressDone       = 100
)

// RunStore is the persistence surface the orchestrator drives.
// Satisfied by *Store; consumer-side interface for testability.
type RunStore interface {
	GetSource(ctx context.Context, id uuid.UUID) (*Source, error)
	AcquireRun(ctx context.Context, id uuid.UUID, lease time.Duration) (uuid.UUID, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error
	UpdateCounts(ctx context.Context, id uuid.UUID, fileCount, chunkCount int) error
	ReplaceChunks(ctx context.Context, sourceID uuid.UUID, chunks []Chunk) error
	InsertChunks(ctx context.Context, sourceID uuid.UUID, chunks []Chunk) error
}

// Fetcher lists and downloads repository files. Satisfied by *github.Client.
type Fetcher interface {
	ListTree(ctx context.Context, owner, repo, ref string) ([]github.TreeEntry, error)
	ReadFile(ctx context.Context, rawURL string) ([]byte, error)
}

// Splitter chunks one file's text. Satisfied by *chunker.Chunker.
type Splitter interface {
	Split(text string) []string
}

// Indexer drives the fetch → filter → chunk → persist pipeline for one
// source at a time, updating progress and terminal state as it goes.
type Indexer struct {
	store     RunStore
	fetcher   Fetcher
	splitter  Splitter
	filter    *FileFilter
	batchSize int
	lease     time.Duration
	logger    *slog.Logger
}

// IndexerConfig bundles Indexer dependencies.
type IndexerConfig struct {
	Store    RunStore
	Fetcher  Fetcher
	Splitter Splitter
	Filter   *FileFilter

	// BatchSize <= 0 uses DefaultBatchSize; Lease <= 0 uses DefaultLease.
	BatchSize int
	Lease     time.Duration

	Logger *slog.Logger
}

// NewIndexer creates an Indexer.
func NewIndexer(cfg IndexerConfig) *Indexer {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	lease := cfg.Lease
	if lease <= 0 {
		lease = DefaultLease
	}
	filter := cfg.Filter
	if filter == nil {
		filter = NewFileFilter(0)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{
		store:     cfg.Store,
		fetcher:   cfg.Fetcher,
		splitter:  cfg.Splitter,
		filter:    filter,
		batchSize: batchSize,
		lease:     lease,
		logger:    logger,
	}
}

// Run executes one indexing run for the source.
//
// The run acquires a lease (refusing if another run is live), wipes the
// source's previous chunks, then processes the filtered file list in
// sequential batches with concurrent fetch+chunk inside each batch. A single
// file's failure is logged and skipped; listing failures and persistence
// failures abort the run with state error. A successful run ends in state
// ready with progress 100 and refreshed file/chunk counts.
func (ix *Indexer) Run(ctx context.Context, sourceID uuid.UUID) error {
	src, err := ix.acquire(ctx, sourceID)
	if err != nil {
		return err
	}
	return ix.run(ctx, src)
}

// Start acquires the run lease synchronously, then continues the run on
// runCtx in a background goroutine. The returned error reflects source
// lookup and lease acquisition only; run failures are recorded on the
// source and logged. Callers use this to refuse a concurrent trigger
// (ErrRunInProgress) before acknowledging it.
func (ix *Indexer) Start(ctx, runCtx context.Context, sourceID uuid.UUID) error {
	src, err := ix.acquire(ctx, sourceID)
	if err != nil {
		return err
	}
	go func() {
		if err := ix.run(runCtx, src); err != nil {
			ix.logger.Error("background indexing run failed",
				"source_id", sourceID, "error", err)
		}
	}()
	return nil
}

func (ix *Indexer) acquire(ctx context.Context, sourceID uuid.UUID) (*Source, error) {
	src, err := ix.store.GetSource(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	if _, err := ix.store.AcquireRun(ctx, sourceID, ix.lease); err != nil {
		return nil, err
	}
	return src, nil
}

func (ix *Indexer) run(ctx context.Context, src *Source) error {
	sourceID := src.ID
	ix.logger.Info("indexing run started", "source_id", sourceID, "origin", src.FullName())

	progress := 0
	fail := func(cause error) error {
		// Terminal error checkpoint keeps the last successful progress value.
		status := Status{State: StateError, Progress: progress, Error: cause.Error()}
		if err := ix.store.UpdateStatus(ctx, sourceID, status); err != nil {
			ix.logger.Error("recording run failure", "source_id", sourceID, "error", err)
		}
		ix.logger.Warn("indexing run failed",
			"source_id", sourceID, "progress", progress, "error", cause)
		return cause
	}

	// Idempotent re-index: the clean-slate step is a replace with an empty
	// set, so no partial old data survives a new run.
	if err := ix.store.ReplaceChunks(ctx, sourceID, nil); err != nil {
		return fail(err)
	}

	entries, err := ix.fetcher.ListTree(ctx, src.Owner, src.Repo, src.Branch)
	if err != nil {
		return fail(fmt.Errorf("listing repository tree: %w", err))
	}
	if len(entries) == 0 {
		return fail(fmt.Errorf("repository %s@%s has no files", src.FullName(), src.Branch))
	}

	progress = progressListed
	if err := ix.store.UpdateStatus(ctx, sourceID, Status{State: StateIndexing, Progress: progress}); err != nil {
		return fail(err)
	}

	files := ix.filter.Apply(entries)
	if len(files) == 0 {
		return fail(fmt.Errorf("repository %s@%s has no indexable documentation files", src.FullName(), src.Branch))
	}

	progress = progressChunking
	if err := ix.store.UpdateStatus(ctx, sourceID, Status{State: StateIndexing, Progress: progress}); err != nil {
		return fail(err)
	}

	var processed, indexed, totalChunks int
	for start := 0; start < len(files); start += ix.batchSize {
		end := min(start+ix.batchSize, len(files))
		batch := files[start:end]

		chunks, ok := ix.processBatch(ctx, src, batch)
		if ctx.Err() != nil {
			return fail(fmt.Errorf("run aborted: %w", ctx.Err()))
		}

		if len(chunks) > 0 {
			if err := ix.store.InsertChunks(ctx, sourceID, chunks); err != nil {
				return fail(err)
			}
		}

		processed += len(batch)
		indexed += ok
		totalChunks += len(chunks)

		// Advance linearly between the chunking checkpoint and completion.
		next := progressChunking + (progressBatchesEnd-progressChunking)*processed/len(files)
		if next > progress {
			progress = next
			if err := ix.store.UpdateStatus(ctx, sourceID, Status{State: StateIndexing, Progress: progress}); err != nil {
				return fail(err)
			}
		}
	}

	if err := ix.store.UpdateCounts(ctx, sourceID, indexed, totalChunks); err != nil {
		return fail(err)
	}
	progress = progressDone
	done := Status{State: StateReady, Progress: progressDone, LastSync: time.Now()}
	if err := ix.store.UpdateStatus(ctx, sourceID, done); err != nil {
		return fail(err)
	}

	ix.logger.Info("indexing run completed",
		"source_id", sourceID,
		"files_indexed", indexed,
		"files_skipped", processed-indexed,
		"chunks", totalChunks)
	return nil
}

// processBatch fetches and chunks one batch of files concurrently.
// Per-file failures are logged and skipped; ok reports the number of files
// that produced chunks successfully.
func (ix *Indexer) processBatch(ctx context.Context, src *Source, batch []github.TreeEntry) (chunks []Chunk, ok int) {
	results := make([][]Chunk, len(batch))

	g, gctx := errgroup.WithContext(ctx)
	for i, entry := range batch {
		g.Go(func() error {
			content, err := ix.fetcher.ReadFile(gctx,
				github.RawURL(src.Owner, src.Repo, src.Branch, entry.Path))
			if err != nil {
				ix.logger.Warn("skipping file, download failed",
					"source_id", src.ID, "path", entry.Path, "error", err)
				return nil
			}
			results[i] = ix.chunkFile(src, entry.Path, string(content))
			return nil
		})
	}
	_ = g.Wait() // per-file errors are contained above

	for _, fileChunks := range results {
		if fileChunks != nil {
			ok++
			chunks = append(chunks, fileChunks...)
		}
	}
	return chunks, ok
}

// chunkFile splits one file and wraps the segments into persistable chunks.
// Returns a non-nil (possibly empty) slice so callers can distinguish a
// fetched-but-empty file from a failed one.
func (ix *Indexer) chunkFile(src *Source, path, content string) []Chunk {
	segments := ix.splitter.Split(content)
	chunks := make([]Chunk, 0, len(segments))
	for ordinal, segment := range segments {
		chunks = append(chunks, Chunk{
			SourceID: src.ID,
			RepoName: src.FullName(),
			FilePath: path,
			Ordinal:  ordinal,
			Content:  segment,
			Language: Language(path),
			Checksum: checksum(segment),
		})
	}
	return chunks
}

func checksum(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:16])
}
