// Package retrieval ranks stored chunks against a live query.
//
// Scoring is deliberately lexical: occurrence counting over a capped corpus
// window, with a fixed bonus for a verbatim phrase match. This keeps
// retrieval latency predictable without an inverted or vector index;
// upgrading to real search is a separable enhancement, not part of this
// contract.
package retrieval

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/ClaimFreedomDotOrg/DMNChat-sub000/internal/index"
)

// Scoring parameters.
const (
	// minTokenLength filters out short/stop words; only lowercase query
	// tokens strictly longer than this count toward the score.
	minTokenLength = 3

	// phraseBonus is added when the full lowercased query appears verbatim
	// in a chunk.
	phraseBonus = 10

	// DefaultScanLimit bounds the candidate scan.
	DefaultScanLimit = 500
)

// ChunkSource provides the bounded candidate scan. Satisfied by *index.Store.
type ChunkSource interface {
	QueryChunks(ctx context.Context, filter index.ChunkFilter, limit int32) ([]index.Chunk, error)
}

// Scorer retrieves and ranks chunks for a query.
type Scorer struct {
	source    ChunkSource
	scanLimit int32
	logger    *slog.Logger
}

// NewScorer creates a Scorer. scanLimit <= 0 uses DefaultScanLimit.
func NewScorer(source ChunkSource, scanLimit int32, logger *slog.Logger) *Scorer {
	if scanLimit <= 0 {
		scanLimit = DefaultScanLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scorer{source: source, scanLimit: scanLimit, logger: logger}
}

// Retrieve scans up to the configured candidate limit and returns the top
// maxResults chunks for the query.
//
// Retrieval must never fail the caller: any internal error degrades to an
// empty result set and is only logged.
func (s *Scorer) Retrieve(ctx context.Context, query string, maxResults int) []index.Chunk {
	candidates, err := s.source.QueryChunks(ctx, index.ChunkFilter{ReadyOnly: true}, s.scanLimit)
	if err != nil {
		s.logger.Warn("chunk scan failed, degrading to no context", "error", err)
		return nil
	}
	return Score(candidates, query, maxResults)
}

// Score ranks candidate chunks against a query.
//
// The query is tokenized into lowercase words longer than minTokenLength
// characters; without any, the result is empty. Each chunk scores the sum of
// case-insensitive occurrences of every query token in its content, plus
// phraseBonus when the whole query appears verbatim. Non-positive scores are
// dropped. Ties keep original scan order (stable sort).
func Score(chunks []index.Chunk, query string, maxResults int) []index.Chunk {
	if maxResults <= 0 {
		return nil
	}

	loweredQuery := strings.ToLower(strings.TrimSpace(query))
	tokens := queryTokens(loweredQuery)
	if len(tokens) == 0 {
		return nil
	}

	type scored struct {
		chunk index.Chunk
		score int
	}
	matches := make([]scored, 0, len(chunks))
	for _, c := range chunks {
		content := strings.ToLower(c.Content)

		score := 0
		for _, tok := range tokens {
			score += strings.Count(content, tok)
		}
		if strings.Contains(content, loweredQuery) {
			score += phraseBonus
		}
		if score > 0 {
			matches = append(matches, scored{chunk: c, score: score})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].score > matches[j].score
	})

	if len(matches) > maxResults {
		matches = matches[:maxResults]
	}
	result := make([]index.Chunk, len(matches))
	for i, m := range matches {
		result[i] = m.chunk
	}
	return result
}

func queryTokens(loweredQuery string) []string {
	var tokens []string
	for _, word := range strings.Fields(loweredQuery) {
		if len(word) > minTokenLength {
			tokens = append(tokens, word)
		}
	}
	return tokens
}
