package vectorstore

import (
	"context"
	"fmt"

	"github.com/BaSui01/bidflow/types"
)

// Chunker 将文档全文切块并生成嵌入，由 rag.Pipeline 实现。
type Chunker interface {
	ChunkDocument(ctx context.Context, doc *types.Document) ([]types.Chunk, error)
}

// Embedder 查询侧嵌入，与写入侧使用同一提供者保证维度一致。
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float64, error)
	Dimensions() int
}

// chunkContent 用统一的流水线把原始内容变成 chunk 列表
func chunkContent(ctx context.Context, chunker Chunker, workflowID, documentID, content string, metadata map[string]any) ([]types.Chunk, error) {
	doc := &types.Document{
		ID:         documentID,
		WorkflowID: workflowID,
		Text:       content,
		Metadata:   metadata,
	}
	if name, ok := metadata["document_name"].(string); ok {
		doc.Name = name
	}

	chunks, err := chunker.ChunkDocument(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("chunk document %s: %w", documentID, err)
	}
	return chunks, nil
}
