package vectorstore

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/bidflow/types"
)

// memPartition 单个 workflow 的内存分区
type memPartition struct {
	documents map[string]bool
	chunks    []types.Chunk
}

// MemoryStore 纯内存后端（tier 4，最终兜底）。
// 进程退出即丢失，初始化永远成功。
type MemoryStore struct {
	chunker  Chunker
	embedder Embedder
	logger   *zap.Logger

	mu         sync.RWMutex
	partitions map[string]*memPartition
}

// NewMemoryStore 创建内存后端
func NewMemoryStore(chunker Chunker, embedder Embedder, logger *zap.Logger) *MemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryStore{
		chunker:    chunker,
		embedder:   embedder,
		logger:     logger.With(zap.String("component", "vectorstore_memory")),
		partitions: make(map[string]*memPartition),
	}
}

// Name 返回后端名称
func (s *MemoryStore) Name() string { return "memory" }

// Init 内存后端无外部依赖，初始化必然成功
func (s *MemoryStore) Init(ctx context.Context) error {
	s.logger.Info("memory vector store initialized")
	return nil
}

// VectorizeDocument 切块嵌入并写入内存分区。重复文档是成功的 no-op。
func (s *MemoryStore) VectorizeDocument(ctx context.Context, workflowID, documentID, content string, metadata map[string]any) (bool, error) {
	s.mu.RLock()
	part, ok := s.partitions[workflowID]
	if ok && part.documents[documentID] {
		s.mu.RUnlock()
		s.logger.Debug("document already vectorized, skipping",
			zap.String("workflow_id", workflowID),
			zap.String("document_id", documentID))
		return true, nil
	}
	s.mu.RUnlock()

	// 嵌入在锁外计算，提交前复查幂等条件
	chunks, err := chunkContent(ctx, s.chunker, workflowID, documentID, content, metadata)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	part, ok = s.partitions[workflowID]
	if !ok {
		part = &memPartition{documents: make(map[string]bool)}
		s.partitions[workflowID] = part
	}
	if part.documents[documentID] {
		return true, nil
	}
	part.documents[documentID] = true
	part.chunks = append(part.chunks, chunks...)

	s.logger.Info("document vectorized",
		zap.String("workflow_id", workflowID),
		zap.String("document_id", documentID),
		zap.Int("chunks", len(chunks)))
	return true, nil
}

// SearchSimilarContent 在分区内做余弦相似度穷举扫描
func (s *MemoryStore) SearchSimilarContent(ctx context.Context, workflowID, query string, limit int) ([]SearchResult, error) {
	queryEmbedding, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	part, ok := s.partitions[workflowID]
	if !ok {
		return nil, nil
	}
	return rankChunks(part.chunks, queryEmbedding, limit), nil
}

// Clear 丢弃整个 workflow 分区
func (s *MemoryStore) Clear(ctx context.Context, workflowID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.partitions, workflowID)
	return nil
}

// Stats 返回统计信息
func (s *MemoryStore) Stats(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{Backend: s.Name(), Initialized: true, Workflows: len(s.partitions)}
	for _, part := range s.partitions {
		stats.Documents += len(part.documents)
		stats.Chunks += len(part.chunks)
	}
	return stats, nil
}
