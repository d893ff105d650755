package rag

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/bidflow/graph"
	"github.com/BaSui01/bidflow/llm/embedding"
	"github.com/BaSui01/bidflow/vectorstore"
)

type stubVector struct {
	results []vectorstore.SearchResult
	err     error
}

func (s *stubVector) SearchSimilarContent(ctx context.Context, workflowID, query string, limit int) ([]vectorstore.SearchResult, error) {
	return s.results, s.err
}

type stubGraph struct {
	results []graph.Result
	err     error
}

func (s *stubGraph) Search(ctx context.Context, workflowID, query string, limit int) ([]graph.Result, error) {
	return s.results, s.err
}

func defaultOpts() SearchOptions {
	return SearchOptions{
		Limit:                10,
		VectorWeight:         0.6,
		GraphWeight:          0.4,
		IncludeEntities:      true,
		IncludeRelationships: true,
	}
}

func TestHybridFusionScore(t *testing.T) {
	vector := &stubVector{results: []vectorstore.SearchResult{
		{ChunkID: "c1", DocumentID: "d1", Content: "shared chunk", Similarity: 0.8},
	}}
	graphIdx := &stubGraph{results: []graph.Result{
		{ChunkID: "c1", DocumentID: "d1", Content: "shared chunk", Score: 0.5, Entities: []string{"Acme"}},
	}}

	c := NewCoordinator(vector, graphIdx, zap.NewNop())
	results, err := c.HybridSearch(context.Background(), "wf-1", "query", defaultOpts())
	require.NoError(t, err)
	require.Len(t, results, 1)

	// 两侧命中：0.8*0.6 + 0.5*0.4 = 0.68
	assert.Equal(t, "hybrid", results[0].Source)
	assert.InDelta(t, 0.68, results[0].Score, 1e-9)
	assert.Equal(t, []string{"Acme"}, results[0].Entities)
}

func TestHybridSingleSideKeepsZeroComponent(t *testing.T) {
	vector := &stubVector{results: []vectorstore.SearchResult{
		{ChunkID: "v-only", Content: "vector only", Similarity: 0.9},
	}}
	graphIdx := &stubGraph{results: []graph.Result{
		{ChunkID: "g-only", Content: "graph only", Score: 0.7},
	}}

	c := NewCoordinator(vector, graphIdx, zap.NewNop())
	results, err := c.HybridSearch(context.Background(), "wf-1", "query", defaultOpts())
	require.NoError(t, err)
	require.Len(t, results, 2)

	byKey := make(map[string]HybridResult)
	for _, r := range results {
		byKey[r.Key] = r
	}

	assert.Equal(t, "vector", byKey["v-only"].Source)
	assert.InDelta(t, 0.9*0.6, byKey["v-only"].Score, 1e-9)
	assert.Equal(t, 0.0, byKey["v-only"].GraphScore)

	assert.Equal(t, "graph", byKey["g-only"].Source)
	assert.InDelta(t, 0.7*0.4, byKey["g-only"].Score, 1e-9)
	assert.Equal(t, 0.0, byKey["g-only"].VectorScore)
}

func TestHybridToleratesVectorFailure(t *testing.T) {
	vector := &stubVector{err: fmt.Errorf("store down")}
	graphIdx := &stubGraph{results: []graph.Result{
		{ChunkID: "g1", Content: "graph result", Score: 0.6},
	}}

	c := NewCoordinator(vector, graphIdx, zap.NewNop())
	results, err := c.HybridSearch(context.Background(), "wf-1", "query", defaultOpts())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "graph", results[0].Source)
}

func TestHybridToleratesGraphFailure(t *testing.T) {
	vector := &stubVector{results: []vectorstore.SearchResult{
		{ChunkID: "v1", Content: "vector result", Similarity: 0.5},
	}}
	graphIdx := &stubGraph{err: fmt.Errorf("graph down")}

	c := NewCoordinator(vector, graphIdx, zap.NewNop())
	results, err := c.HybridSearch(context.Background(), "wf-1", "query", defaultOpts())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "vector", results[0].Source)
}

func TestHybridBothSidesFailIsEmpty(t *testing.T) {
	c := NewCoordinator(&stubVector{err: fmt.Errorf("down")}, &stubGraph{err: fmt.Errorf("down")}, zap.NewNop())
	results, err := c.HybridSearch(context.Background(), "wf-1", "query", defaultOpts())
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestMergeKeyPriority(t *testing.T) {
	assert.Equal(t, "chunk-1", mergeKey("chunk-1", "doc-1", "content"))
	assert.Equal(t, "doc-1", mergeKey("", "doc-1", "content"))
	assert.Equal(t, "short content", mergeKey("", "", "short content"))

	long := strings.Repeat("x", 80)
	assert.Equal(t, long[:50], mergeKey("", "", long))
}

func TestHybridMergesByContentPrefix(t *testing.T) {
	content := strings.Repeat("overlapping passage ", 5)
	vector := &stubVector{results: []vectorstore.SearchResult{
		{Content: content, Similarity: 0.8},
	}}
	graphIdx := &stubGraph{results: []graph.Result{
		{Content: content, Score: 0.5},
	}}

	c := NewCoordinator(vector, graphIdx, zap.NewNop())
	results, err := c.HybridSearch(context.Background(), "wf-1", "query", defaultOpts())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "hybrid", results[0].Source)
}

func TestHybridSortAndTruncate(t *testing.T) {
	vector := &stubVector{results: []vectorstore.SearchResult{
		{ChunkID: "low", Content: "low", Similarity: 0.1},
		{ChunkID: "high", Content: "high", Similarity: 0.9},
		{ChunkID: "mid", Content: "mid", Similarity: 0.5},
	}}

	opts := defaultOpts()
	opts.Limit = 2
	c := NewCoordinator(vector, &stubGraph{}, zap.NewNop())
	results, err := c.HybridSearch(context.Background(), "wf-1", "query", opts)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "high", results[0].ChunkID)
	assert.Equal(t, "mid", results[1].ChunkID)
}

func TestHybridEntityStripping(t *testing.T) {
	graphIdx := &stubGraph{results: []graph.Result{
		{ChunkID: "g1", Content: "x", Score: 0.5, Entities: []string{"A"}, Relationships: []string{"A uses B"}},
	}}

	opts := defaultOpts()
	opts.IncludeEntities = false
	opts.IncludeRelationships = false
	c := NewCoordinator(&stubVector{}, graphIdx, zap.NewNop())
	results, err := c.HybridSearch(context.Background(), "wf-1", "query", opts)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Nil(t, results[0].Entities)
	assert.Nil(t, results[0].Relationships)
}

// TestVectorSearchFindsVerbatimPhrase 端到端：1200 词文档经默认分块
// 向量化后，落在第二个窗口的原文短语应把该窗口排在首位
func TestVectorSearchFindsVerbatimPhrase(t *testing.T) {
	ctx := context.Background()
	embedder := embedding.NewLocalProvider(384)
	pipeline, err := NewPipeline(DefaultChunkingConfig(), embedder, nil, zap.NewNop())
	require.NoError(t, err)

	// 在第二个窗口（token 450..949）中部植入独特短语
	tokens := strings.Fields(words(1200))
	phrase := []string{"liquidated", "damages", "accrue", "daily", "after", "deadline"}
	copy(tokens[600:], phrase)
	text := strings.Join(tokens, " ")

	store := vectorstore.NewMemoryStore(pipeline, embedder, zap.NewNop())
	require.NoError(t, store.Init(ctx))

	ok, err := store.VectorizeDocument(ctx, "wf-e2e", "doc-1", text, nil)
	require.NoError(t, err)
	require.True(t, ok)

	results, err := store.SearchSimilarContent(ctx, "wf-e2e", strings.Join(phrase, " "), 3)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Contains(t, results[0].Content, "liquidated damages accrue daily")
	assert.True(t, strings.HasPrefix(results[0].Content, "w450 "))
	assert.Greater(t, results[0].Similarity, results[1].Similarity)
}
