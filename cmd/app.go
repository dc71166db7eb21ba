package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ClaimFreedomDotOrg/DMNChat-sub000/internal/chunker"
	"github.com/ClaimFreedomDotOrg/DMNChat-sub000/internal/config"
	"github.com/ClaimFreedomDotOrg/DMNChat-sub000/internal/conversation"
	"github.com/ClaimFreedomDotOrg/DMNChat-sub000/internal/database"
	"github.com/ClaimFreedomDotOrg/DMNChat-sub000/internal/gemini"
	"github.com/ClaimFreedomDotOrg/DMNChat-sub000/internal/github"
	"github.com/ClaimFreedomDotOrg/DMNChat-sub000/internal/index"
	"github.com/ClaimFreedomDotOrg/DMNChat-sub000/internal/log"
	"github.com/ClaimFreedomDotOrg/DMNChat-sub000/internal/retrieval"
)

// app holds the wired application components shared by the CLI commands.
type app struct {
	cfg    *config.Config
	logger log.Logger
	pool   *pgxpool.Pool

	indexStore *index.Store
	convStore  *conversation.Store
	indexer    *index.Indexer
	scorer     *retrieval.Scorer
}

// setup loads configuration, connects to the database, runs migrations, and
// wires the indexing and retrieval components. Callers must Close.
func setup(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logger := log.New(log.Config{
		Level: parseLogLevel(cfg.LogLevel),
		JSON:  cfg.LogJSON,
	})
	slog.SetDefault(logger)

	if err := database.Migrate(cfg.DSN()); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	pool, err := database.Open(ctx, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	indexStore := index.NewStore(pool, logger)
	convStore := conversation.NewStore(pool, logger)

	split, err := chunker.New(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("configuring chunker: %w", err)
	}
	split = split.WithMinFragment(cfg.MinChunkLength)

	ghClient := github.New(cfg.GitHubBaseURL, cfg.GitHubToken, logger)

	indexer := index.NewIndexer(index.IndexerConfig{
		Store:     indexStore,
		Fetcher:   ghClient,
		Splitter:  split,
		Filter:    index.NewFileFilter(cfg.MaxFileSize),
		BatchSize: cfg.IndexBatchSize,
		Logger:    logger,
	})

	scorer := retrieval.NewScorer(indexStore, cfg.RetrievalScanLimit, logger)

	return &app{
		cfg:        cfg,
		logger:     logger,
		pool:       pool,
		indexStore: indexStore,
		convStore:  convStore,
		indexer:    indexer,
		scorer:     scorer,
	}, nil
}

// assembler wires the conversation pipeline. Requires a Gemini API key.
func (a *app) assembler(ctx context.Context) (*conversation.Assembler, error) {
	if err := a.cfg.ValidateGeneration(); err != nil {
		return nil, err
	}
	generator, err := gemini.NewClient(ctx, a.cfg.GeminiAPIKey, a.cfg.ModelName, a.logger)
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return conversation.NewAssembler(a.convStore, a.indexStore, a.scorer, generator,
		conversation.AssemblerConfig{
			MaxMessageLength:  a.cfg.MaxMessageLength,
			TopKText:          a.cfg.TopKText,
			TopKVoice:         a.cfg.TopKVoice,
			HistoryLimit:      a.cfg.HistoryLimit,
			VoiceHistoryLimit: a.cfg.VoiceHistoryLimit,
			Temperature:       a.cfg.Temperature,
			MaxOutputTokens:   a.cfg.MaxOutputTokens,
		}, a.logger), nil
}

func (a *app) Close() {
	a.pool.Close()
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
