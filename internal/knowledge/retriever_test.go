package knowledge

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEmbedder struct {
	vectors [][]float32
	err     error
	calls   int
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.vectors != nil {
		return f.vectors, nil
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

type fakeSearchRepo struct {
	Repository
	results   []SearchResult
	bumpedIDs []uuid.UUID
}

func (f *fakeSearchRepo) SearchSimilar(_ context.Context, _ []float32, _ []uuid.UUID, limit int) ([]SearchResult, error) {
	if limit < len(f.results) {
		return f.results[:limit], nil
	}
	return f.results, nil
}

func (f *fakeSearchRepo) BumpSearchCounts(_ context.Context, ids []uuid.UUID) error {
	f.bumpedIDs = append(f.bumpedIDs, ids...)
	return nil
}

func result(content string, similarity float64) SearchResult {
	return SearchResult{
		Chunk:      Chunk{ID: uuid.New(), Content: content},
		Similarity: similarity,
	}
}

func TestRetrieverSearch(t *testing.T) {
	repo := &fakeSearchRepo{results: []SearchResult{
		result("alpha", 0.95),
		result("beta", 0.90),
		result("gamma", 0.40),
	}}
	r := NewRetriever(repo, &fakeEmbedder{}, slog.Default())

	results, err := r.Search(context.Background(), []uuid.UUID{uuid.New()}, "what is alpha", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "alpha", results[0].Chunk.Content)
	assert.Equal(t, "beta", results[1].Chunk.Content)
	assert.Len(t, repo.bumpedIDs, 2, "returned chunks get their search counts bumped")
}

func TestRetrieverSearchEmptyInputs(t *testing.T) {
	emb := &fakeEmbedder{}
	r := NewRetriever(&fakeSearchRepo{}, emb, slog.Default())

	// No knowledge bases attached means there is nothing to search.
	results, err := r.Search(context.Background(), nil, "query", 5)
	require.NoError(t, err)
	assert.Empty(t, results)

	// A blank query is a caller mistake, not an empty corpus.
	_, err = r.Search(context.Background(), []uuid.UUID{uuid.New()}, "   ", 5)
	require.ErrorIs(t, err, ErrEmptyQuery)

	assert.Zero(t, emb.calls, "no embedding call without a real query")
}

func TestRetrieverSearchEmbeddingFailure(t *testing.T) {
	emb := &fakeEmbedder{err: ErrEmbeddingFailure}
	r := NewRetriever(&fakeSearchRepo{}, emb, slog.Default())

	_, err := r.Search(context.Background(), []uuid.UUID{uuid.New()}, "query", 5)
	assert.ErrorIs(t, err, ErrEmbeddingFailure)
}

func TestAssembleContextDropsOversizedWholeChunks(t *testing.T) {
	results := []SearchResult{
		result(strings.Repeat("a", 50), 0.9),
		result(strings.Repeat("b", 500), 0.8), // never truncated, dropped
		result(strings.Repeat("c", 40), 0.7),
	}

	got := AssembleContext(results, 100)
	assert.Equal(t, strings.Repeat("a", 50)+"\n\n"+strings.Repeat("c", 40), got)
	assert.NotContains(t, got, "b")
}

func TestAssembleContextBudget(t *testing.T) {
	results := []SearchResult{result("hello", 0.9)}

	assert.Equal(t, "hello", AssembleContext(results, 5))
	assert.Equal(t, "", AssembleContext(results, 4))
	assert.Equal(t, "", AssembleContext(results, 0))
	assert.Equal(t, "", AssembleContext(nil, 100))
}
