package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/bidflow/llm/embedding"
	"github.com/BaSui01/bidflow/types"
)

// ChunkingConfig 分块配置
type ChunkingConfig struct {
	ChunkSize int `json:"chunk_size" yaml:"chunk_size"` // 窗口大小（空白符 token 数）
	Overlap   int `json:"overlap" yaml:"overlap"`       // 相邻窗口重叠 token 数
}

// DefaultChunkingConfig 默认分块配置
func DefaultChunkingConfig() ChunkingConfig {
	return ChunkingConfig{
		ChunkSize: 500,
		Overlap:   50,
	}
}

// Validate 校验分块不变量 chunkSize > overlap >= 0。
// 违反属于配置错误，不可重试。
func (c ChunkingConfig) Validate() error {
	if c.ChunkSize <= 0 || c.Overlap < 0 || c.ChunkSize <= c.Overlap {
		return types.NewError(types.ErrConfiguration,
			fmt.Sprintf("chunking requires chunk_size > overlap >= 0, got size=%d overlap=%d", c.ChunkSize, c.Overlap))
	}
	return nil
}

// SplitTokenWindows 将文本按空白符分词后切成滑动窗口。
// 窗口大小 chunkSize，步进 chunkSize-overlap；空白窗口被丢弃。
// 1200 个 token、size=500/overlap=50 时产出偏移 0/450/900 的 3 个窗口。
func SplitTokenWindows(text string, chunkSize, overlap int) []string {
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return nil
	}

	stride := chunkSize - overlap
	var spans []string
	for start := 0; start < len(tokens); start += stride {
		end := start + chunkSize
		if end > len(tokens) {
			end = len(tokens)
		}
		span := strings.TrimSpace(strings.Join(tokens[start:end], " "))
		if span != "" {
			spans = append(spans, span)
		}
		if end >= len(tokens) {
			break
		}
	}
	return spans
}

// Pipeline 分块+嵌入流水线。
// 嵌入提供者进程级共享且初始化后只读，可被多个 workflow 并发使用。
type Pipeline struct {
	config   ChunkingConfig
	embedder embedding.Provider
	counter  TokenCounter
	logger   *zap.Logger
}

// NewPipeline 创建分块流水线。
func NewPipeline(config ChunkingConfig, embedder embedding.Provider, counter TokenCounter, logger *zap.Logger) (*Pipeline, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if embedder == nil {
		return nil, types.NewError(types.ErrConfiguration, "embedding provider is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if counter == nil {
		counter = NewEstimateCounter()
	}
	return &Pipeline{
		config:   config,
		embedder: embedder,
		counter:  counter,
		logger:   logger.With(zap.String("component", "chunking_pipeline")),
	}, nil
}

// ChunkDocument 将文档全文切块并逐块生成嵌入。
// 返回的 Chunk 携带文档内序号、继承并增补的元数据和 token 计数。
func (p *Pipeline) ChunkDocument(ctx context.Context, doc *types.Document) ([]types.Chunk, error) {
	spans := SplitTokenWindows(doc.Text, p.config.ChunkSize, p.config.Overlap)
	if len(spans) == 0 {
		return nil, nil
	}

	embeddings, err := p.embedder.EmbedDocuments(ctx, spans)
	if err != nil {
		return nil, fmt.Errorf("embed document %s: %w", doc.ID, err)
	}
	if len(embeddings) != len(spans) {
		return nil, types.NewError(types.ErrUpstreamError,
			fmt.Sprintf("embedding count mismatch: %d spans, %d vectors", len(spans), len(embeddings)))
	}

	chunks := make([]types.Chunk, 0, len(spans))
	for i, span := range spans {
		if len(embeddings[i]) != p.embedder.Dimensions() {
			return nil, types.NewError(types.ErrDimensionMismatch,
				fmt.Sprintf("chunk %d has %d dimensions, store expects %d", i, len(embeddings[i]), p.embedder.Dimensions()))
		}

		metadata := map[string]any{
			"document_name": doc.Name,
			"chunk_index":   i,
		}
		for k, v := range doc.Metadata {
			metadata[k] = v
		}

		chunks = append(chunks, types.Chunk{
			ID:         uuid.NewString(),
			DocumentID: doc.ID,
			WorkflowID: doc.WorkflowID,
			Index:      i,
			Content:    span,
			Embedding:  embeddings[i],
			TokenCount: p.counter.CountTokens(span),
			Metadata:   metadata,
		})
	}

	p.logger.Info("document chunked",
		zap.String("document_id", doc.ID),
		zap.Int("chunks", len(chunks)),
		zap.Int("chunk_size", p.config.ChunkSize),
		zap.Int("overlap", p.config.Overlap))

	return chunks, nil
}
