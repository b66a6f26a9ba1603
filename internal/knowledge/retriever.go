package knowledge

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/clarity-platform/clarity/internal/metrics"
)

// Retriever answers similarity queries over ingested chunks and assembles
// retrieved text into a bounded context block.
type Retriever struct {
	repo     Repository
	embedder Embedder
	logger   *slog.Logger
}

func NewRetriever(repo Repository, embedder Embedder, logger *slog.Logger) *Retriever {
	return &Retriever{repo: repo, embedder: embedder, logger: logger}
}

// Search embeds the query and returns the top-limit chunks across the
// given knowledge bases, most similar first. An empty result is returned
// only when the knowledge bases hold no chunks at all; a blank query is
// rejected with ErrEmptyQuery rather than silently skipping retrieval.
func (r *Retriever) Search(ctx context.Context, kbIDs []uuid.UUID, query string, limit int) ([]SearchResult, error) {
	if len(kbIDs) == 0 {
		return nil, nil
	}
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	if limit <= 0 {
		limit = 5
	}

	vectors, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}

	results, err := r.repo.SearchSimilar(ctx, vectors[0], kbIDs, limit)
	if err != nil {
		return nil, err
	}
	metrics.KnowledgeSearchesTotal.Inc()

	// Usage stats are best-effort: a failed bump never fails the search.
	ids := make([]uuid.UUID, len(results))
	for i, res := range results {
		ids[i] = res.Chunk.ID
	}
	if err := r.repo.BumpSearchCounts(ctx, ids); err != nil {
		r.logger.Warn("bumping chunk search counts", "error", err)
	}

	return results, nil
}

// AssembleContext concatenates ranked chunk texts under budget characters.
// A chunk that does not fit entirely is dropped, never truncated, and
// assembly keeps scanning lower-ranked chunks that may still fit.
func AssembleContext(results []SearchResult, budget int) string {
	if budget <= 0 {
		return ""
	}

	var sb strings.Builder
	remaining := budget
	for _, res := range results {
		need := len(res.Chunk.Content)
		if sb.Len() > 0 {
			need += 2 // separator
		}
		if need > remaining {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(res.Chunk.Content)
		remaining -= need
	}
	return sb.String()
}
