// Package vectorstore 实现按 workflow 分区的分层向量存储.
//
// 同一个 Backend 接口之下有四个可互换实现，按严格优先级在进程启动时
// 探测一次：分区持久化 → 单文件 JSON → 外部索引服务 → 纯内存。
// 第一个初始化成功的后端在进程生命周期内保持活跃；全部失败时
// 存储报告未初始化，所有操作闭合失败（返回空结果/false，绝不向
// 调用方抛出）。
//
// 相似度排序：查询嵌入与分区内全部 chunk 嵌入做余弦相似度的穷举
// 扫描，降序稳定排序（平分保持插入顺序），截断到 limit。
// 每 workflow 语料有界，O(n) 扫描是此规模下的既定取舍。
package vectorstore

import (
	"context"
	"math"
	"sort"

	"github.com/BaSui01/bidflow/types"
)

// SearchResult 向量检索结果
type SearchResult struct {
	ChunkID    string         `json:"chunk_id"`
	DocumentID string         `json:"document_id"`
	Content    string         `json:"content"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Similarity float64        `json:"similarity"`
}

// Stats 存储统计信息
type Stats struct {
	Backend     string `json:"backend"`
	Initialized bool   `json:"initialized"`
	Workflows   int    `json:"workflows"`
	Documents   int    `json:"documents"`
	Chunks      int    `json:"chunks"`
}

// Backend 向量存储后端接口.
// 所有操作以 workflowID 为分区键；跨分区不可见。
type Backend interface {
	// Name 返回后端名称.
	Name() string

	// Init 初始化后端。失败意味着该层不可用，探测链进入下一层。
	Init(ctx context.Context) error

	// VectorizeDocument 切块、嵌入并写入一个文档.
	// 幂等：同一 (workflow, document) 重复写入是成功的 no-op。
	// 成功返回前必须完成同步持久化落盘（持久层）。
	VectorizeDocument(ctx context.Context, workflowID, documentID, content string, metadata map[string]any) (bool, error)

	// SearchSimilarContent 在 workflow 分区内检索与查询最相似的内容.
	SearchSimilarContent(ctx context.Context, workflowID, query string, limit int) ([]SearchResult, error)

	// Clear 清空一个 workflow 分区.
	Clear(ctx context.Context, workflowID string) error

	// Stats 返回统计信息.
	Stats(ctx context.Context) (Stats, error)
}

// cosineSimilarity 计算余弦相似度
func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0.0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0.0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// rankChunks 对分区内全部 chunk 穷举打分并稳定排序截断.
// chunks 的切片顺序即插入顺序，平分时保持。
func rankChunks(chunks []types.Chunk, queryEmbedding []float64, limit int) []SearchResult {
	results := make([]SearchResult, 0, len(chunks))
	for _, chunk := range chunks {
		if chunk.Embedding == nil {
			continue
		}
		results = append(results, SearchResult{
			ChunkID:    chunk.ID,
			DocumentID: chunk.DocumentID,
			Content:    chunk.Content,
			Metadata:   chunk.Metadata,
			Similarity: cosineSimilarity(queryEmbedding, chunk.Embedding),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}
