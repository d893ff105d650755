package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/bidflow/llm"
	"github.com/BaSui01/bidflow/types"
)

const entityJSON = `[
	{"name": "Acme Construction Group", "type": "organization", "confidence": 0.9},
	{"name": "seismic isolation", "type": "technology", "confidence": 0.85},
	{"name": "Harbor City", "type": "location", "confidence": 0.8}
]`

const relationshipJSON = `[
	{"source": "Acme Construction Group", "target": "seismic isolation", "type": "uses", "confidence": 0.8},
	{"source": "Acme Construction Group", "target": "Harbor City", "type": "operates_in", "confidence": 0.7}
]`

func newLLMIndex(responses ...string) *Index {
	client := llm.NewExtractionClient(&llm.StaticProvider{Responses: responses}, zap.NewNop())
	return NewIndex(client, nil, zap.NewNop())
}

func TestExtractAndCreateEntities(t *testing.T) {
	ctx := context.Background()
	idx := newLLMIndex(entityJSON)

	entities, err := idx.ExtractAndCreateEntities(ctx, "wf-1", "doc-1", "proposal text")
	require.NoError(t, err)
	require.Len(t, entities, 3)

	for _, e := range entities {
		assert.Equal(t, "wf-1", e.WorkflowID)
		assert.Equal(t, 1, e.Frequency)
		assert.NotEmpty(t, e.ID)
	}
}

func TestEntityUpsertMergesByIdentity(t *testing.T) {
	ctx := context.Background()
	idx := newLLMIndex(entityJSON)

	first, err := idx.ExtractAndCreateEntities(ctx, "wf-1", "doc-1", "text")
	require.NoError(t, err)

	// 第二次提取同样的实体集：频次递增，不产生副本
	second, err := idx.ExtractAndCreateEntities(ctx, "wf-1", "doc-2", "text")
	require.NoError(t, err)
	require.Len(t, second, 3)

	for i, e := range second {
		assert.Equal(t, first[i].ID, e.ID)
		assert.Equal(t, 2, e.Frequency)
	}
}

func TestExtractFallsBackToRules(t *testing.T) {
	ctx := context.Background()
	// 模型输出不是 JSON 数组，触发规则回退
	idx := newLLMIndex("I could not find any entities, sorry!")

	entities, err := idx.ExtractAndCreateEntities(ctx, "wf-1", "doc-1",
		"Acme Construction Group will deploy BIM for the Harbor City project with a performance bond.")
	require.NoError(t, err)
	require.NotEmpty(t, entities)

	names := make(map[string]float64)
	for _, e := range entities {
		names[e.Name] = e.Confidence
	}
	assert.Contains(t, names, "BIM")
	assert.Contains(t, names, "Harbor City")
	// 规则提取置信度刻意压低
	assert.LessOrEqual(t, names["BIM"], 0.5)
}

func TestCreateEntityRelationships(t *testing.T) {
	ctx := context.Background()
	idx := newLLMIndex(entityJSON, relationshipJSON, relationshipJSON)

	entities, err := idx.ExtractAndCreateEntities(ctx, "wf-1", "doc-1", "text")
	require.NoError(t, err)

	rels, err := idx.CreateEntityRelationships(ctx, "wf-1", entities)
	require.NoError(t, err)
	require.Len(t, rels, 2)
	assert.Equal(t, "uses", rels[0].Type)

	// 重复 (source, target, type) 去重
	again, err := idx.CreateEntityRelationships(ctx, "wf-1", entities)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestRelationshipExtractionFailureIsSafe(t *testing.T) {
	ctx := context.Background()
	idx := newLLMIndex(entityJSON, "not json at all")

	entities, err := idx.ExtractAndCreateEntities(ctx, "wf-1", "doc-1", "text")
	require.NoError(t, err)

	// 关系提取失败降级为空结果，不是错误
	rels, err := idx.CreateEntityRelationships(ctx, "wf-1", entities)
	require.NoError(t, err)
	assert.Empty(t, rels)
}

// seedGraph 建好一个带实体、关系和段落的分区
func seedGraph(t *testing.T, idx *Index, workflowID string) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, idx.CreateDocument(ctx, &types.Document{
		ID: "doc-1", WorkflowID: workflowID, Name: "bid.txt",
	}))
	require.NoError(t, idx.CreateChunksWithEmbeddings(ctx, []types.Chunk{
		{ID: "c1", DocumentID: "doc-1", WorkflowID: workflowID,
			Content: "Acme Construction Group proposes seismic isolation for the main bridge."},
		{ID: "c2", DocumentID: "doc-1", WorkflowID: workflowID,
			Content: "The delivery schedule covers Harbor City logistics."},
		{ID: "c3", DocumentID: "doc-1", WorkflowID: workflowID,
			Content: "Payment terms are net sixty days."},
	}))

	entities, err := idx.ExtractAndCreateEntities(ctx, workflowID, "doc-1", "text")
	require.NoError(t, err)
	_, err = idx.CreateEntityRelationships(ctx, workflowID, entities)
	require.NoError(t, err)
}

func TestSearchTraversesAndScores(t *testing.T) {
	ctx := context.Background()
	idx := newLLMIndex(entityJSON, relationshipJSON)
	seedGraph(t, idx, "wf-1")

	results, err := idx.Search(ctx, "wf-1", "what does Acme Construction Group propose", 10)
	require.NoError(t, err)
	require.NotEmpty(t, results)

	// 直接提到种子实体与其关联技术的段落排第一
	assert.Equal(t, "c1", results[0].ChunkID)
	assert.Contains(t, results[0].Entities, "Acme Construction Group")
	assert.Greater(t, results[0].Score, 0.0)
	assert.LessOrEqual(t, results[0].Score, 1.0)
	assert.NotEmpty(t, results[0].Relationships)

	// 2 跳遍历把 Harbor City 纳入可达集，c2 也成为候选
	var chunkIDs []string
	for _, r := range results {
		chunkIDs = append(chunkIDs, r.ChunkID)
	}
	assert.Contains(t, chunkIDs, "c2")
	assert.NotContains(t, chunkIDs, "c3")
}

func TestSearchNoEntityMatchIsEmpty(t *testing.T) {
	idx := newLLMIndex(entityJSON, relationshipJSON)
	seedGraph(t, idx, "wf-1")

	results, err := idx.Search(context.Background(), "wf-1", "completely unrelated query", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchPartitionIsolation(t *testing.T) {
	idx := newLLMIndex(entityJSON, relationshipJSON)
	seedGraph(t, idx, "wf-1")

	results, err := idx.Search(context.Background(), "wf-other", "Acme Construction Group", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestWorkflowGraphExport(t *testing.T) {
	ctx := context.Background()
	idx := newLLMIndex(entityJSON, relationshipJSON)
	seedGraph(t, idx, "wf-1")

	export, err := idx.WorkflowGraph(ctx, "wf-1")
	require.NoError(t, err)
	// 1 文档 + 3 实体
	assert.Len(t, export.Nodes, 4)
	// 2 关系 + 3 提及边
	assert.Len(t, export.Edges, 5)

	require.NoError(t, idx.DeleteWorkflowData(ctx, "wf-1"))
	export, err = idx.WorkflowGraph(ctx, "wf-1")
	require.NoError(t, err)
	assert.Empty(t, export.Nodes)
	assert.Empty(t, export.Edges)
}

func TestRuleExtractorPatterns(t *testing.T) {
	extractor := NewRuleExtractor(zap.NewNop())

	entities, err := extractor.ExtractEntities(context.Background(),
		"Dr. James Wilson of Northern Steel Corp confirmed the quality assurance plan for Harbor City using BIM.")
	require.NoError(t, err)

	byName := make(map[string]string)
	for _, e := range entities {
		byName[e.Name] = e.Type
	}
	assert.Equal(t, "person", byName["James Wilson"])
	assert.Equal(t, "organization", byName["Northern Steel Corp"])
	assert.Equal(t, "location", byName["Harbor City"])
	assert.Equal(t, "technology", byName["BIM"])
	assert.Equal(t, "concept", byName["quality assurance"])
}

func TestRuleExtractorWholeWordOnly(t *testing.T) {
	extractor := NewRuleExtractor(zap.NewNop())

	// "BIM" 出现在单词内部时不应命中
	entities, err := extractor.ExtractEntities(context.Background(), "the cabimas region report")
	require.NoError(t, err)
	for _, e := range entities {
		assert.NotEqual(t, "BIM", e.Name)
	}
}
