package rag

import (
	"context"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/bidflow/config"
	"github.com/BaSui01/bidflow/graph"
	"github.com/BaSui01/bidflow/vectorstore"
)

// VectorSearcher 混合检索的向量侧，由 vectorstore.TieredStore 实现
type VectorSearcher interface {
	SearchSimilarContent(ctx context.Context, workflowID, query string, limit int) ([]vectorstore.SearchResult, error)
}

// GraphSearcher 混合检索的图侧，由 graph.Index 实现
type GraphSearcher interface {
	Search(ctx context.Context, workflowID, query string, limit int) ([]graph.Result, error)
}

// SearchOptions 单次混合检索的参数
type SearchOptions struct {
	Limit                int
	VectorWeight         float64
	GraphWeight          float64
	IncludeEntities      bool
	IncludeRelationships bool
}

// OptionsFromConfig 从检索配置取默认参数
func OptionsFromConfig(cfg config.RetrievalConfig) SearchOptions {
	return SearchOptions{
		Limit:                cfg.Limit,
		VectorWeight:         cfg.VectorWeight,
		GraphWeight:          cfg.GraphWeight,
		IncludeEntities:      true,
		IncludeRelationships: true,
	}
}

// HybridResult 融合后的检索结果。
// Source 标记来源侧："vector"、"graph" 或两侧都命中的 "hybrid"。
type HybridResult struct {
	Key           string         `json:"key"`
	ChunkID       string         `json:"chunk_id,omitempty"`
	DocumentID    string         `json:"document_id,omitempty"`
	Content       string         `json:"content"`
	Source        string         `json:"source"`
	VectorScore   float64        `json:"vector_score"`
	GraphScore    float64        `json:"graph_score"`
	Score         float64        `json:"score"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	Entities      []string       `json:"entities,omitempty"`
	Relationships []string       `json:"relationships,omitempty"`
}

// mergeKey 结果去重键，优先级 chunk id → 通用 id → 内容前 50 字符
func mergeKey(chunkID, genericID, content string) string {
	if chunkID != "" {
		return chunkID
	}
	if genericID != "" {
		return genericID
	}
	if len(content) > 50 {
		return content[:50]
	}
	return content
}

// Coordinator 混合检索协调器。
// 向量检索与图检索并发扇出，任一侧失败只降级为空结果，绝不让
// 整个查询失败；两侧结果按可配置权重融合去重。
type Coordinator struct {
	vector VectorSearcher
	graph  GraphSearcher
	logger *zap.Logger
}

// NewCoordinator 创建混合检索协调器
func NewCoordinator(vector VectorSearcher, graphIdx GraphSearcher, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		vector: vector,
		graph:  graphIdx,
		logger: logger.With(zap.String("component", "hybrid_coordinator")),
	}
}

// HybridSearch 执行一次混合检索。
// 两侧命中同一结果时 Source 为 "hybrid"，分数为
// vectorScore*vectorWeight + graphScore*graphWeight；
// 单侧结果另一侧分量记零。降序稳定排序后截断到 limit。
func (c *Coordinator) HybridSearch(ctx context.Context, workflowID, query string, opts SearchOptions) ([]HybridResult, error) {
	if opts.Limit <= 0 {
		opts.Limit = 10
	}

	var (
		vectorResults []vectorstore.SearchResult
		graphResults  []graph.Result
	)

	// 两侧各自吞掉失败，goroutine 不返回错误
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		results, err := c.vector.SearchSimilarContent(gctx, workflowID, query, opts.Limit)
		if err != nil {
			c.logger.Warn("vector search failed, continuing with graph side only",
				zap.String("workflow_id", workflowID),
				zap.Error(err))
			return nil
		}
		vectorResults = results
		return nil
	})
	g.Go(func() error {
		results, err := c.graph.Search(gctx, workflowID, query, opts.Limit)
		if err != nil {
			c.logger.Warn("graph search failed, continuing with vector side only",
				zap.String("workflow_id", workflowID),
				zap.Error(err))
			return nil
		}
		graphResults = results
		return nil
	})
	_ = g.Wait() // 两侧都不返回错误，失败已在各自侧降级

	merged := make(map[string]*HybridResult)
	var order []string

	for _, r := range vectorResults {
		key := mergeKey(r.ChunkID, r.DocumentID, r.Content)
		if _, ok := merged[key]; ok {
			continue
		}
		merged[key] = &HybridResult{
			Key:         key,
			ChunkID:     r.ChunkID,
			DocumentID:  r.DocumentID,
			Content:     r.Content,
			Source:      "vector",
			VectorScore: r.Similarity,
			Metadata:    r.Metadata,
		}
		order = append(order, key)
	}

	for _, r := range graphResults {
		key := mergeKey(r.ChunkID, r.DocumentID, r.Content)
		if existing, ok := merged[key]; ok {
			existing.Source = "hybrid"
			existing.GraphScore = r.Score
			existing.Entities = r.Entities
			existing.Relationships = r.Relationships
			continue
		}
		merged[key] = &HybridResult{
			Key:           key,
			ChunkID:       r.ChunkID,
			DocumentID:    r.DocumentID,
			Content:       r.Content,
			Source:        "graph",
			GraphScore:    r.Score,
			Entities:      r.Entities,
			Relationships: r.Relationships,
		}
		order = append(order, key)
	}

	results := make([]HybridResult, 0, len(order))
	for _, key := range order {
		r := merged[key]
		r.Score = r.VectorScore*opts.VectorWeight + r.GraphScore*opts.GraphWeight
		if !opts.IncludeEntities {
			r.Entities = nil
		}
		if !opts.IncludeRelationships {
			r.Relationships = nil
		}
		results = append(results, *r)
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}

	c.logger.Debug("hybrid search completed",
		zap.String("workflow_id", workflowID),
		zap.Int("vector_hits", len(vectorResults)),
		zap.Int("graph_hits", len(graphResults)),
		zap.Int("merged", len(results)))
	return results, nil
}
