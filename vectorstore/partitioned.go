package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"
)

var unsafePathChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// partitionFileName 把 workflowID 映射为安全的文件名
func partitionFileName(workflowID string) string {
	return "wf_" + unsafePathChars.ReplaceAllString(workflowID, "_") + ".json"
}

// PartitionedStore 按 workflow 分区的持久化后端（tier 1，首选）。
// 每个 workflow 独占一个 JSON 文件和一把锁，不同 workflow 的写入
// 互不阻塞，单个分区的写入串行且同步落盘。
type PartitionedStore struct {
	dir      string
	chunker  Chunker
	embedder Embedder
	logger   *zap.Logger

	mu         sync.Mutex
	partitions map[string]*diskPartition
}

// diskPartition 一个 workflow 的磁盘分区及其锁
type diskPartition struct {
	mu    sync.RWMutex
	path  string
	state *filePartition
}

// NewPartitionedStore 创建分区后端。dir 为分区文件目录。
func NewPartitionedStore(dir string, chunker Chunker, embedder Embedder, logger *zap.Logger) *PartitionedStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PartitionedStore{
		dir:        dir,
		chunker:    chunker,
		embedder:   embedder,
		logger:     logger.With(zap.String("component", "vectorstore_partitioned")),
		partitions: make(map[string]*diskPartition),
	}
}

// Name 返回后端名称
func (s *PartitionedStore) Name() string { return "partitioned" }

// Init 建目录并用探针文件验证可写
func (s *PartitionedStore) Init(ctx context.Context) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create partition directory: %w", err)
	}

	probe := filepath.Join(s.dir, ".probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return fmt.Errorf("partition directory not writable: %w", err)
	}
	os.Remove(probe)

	s.logger.Info("partitioned vector store initialized", zap.String("dir", s.dir))
	return nil
}

// partition 返回（必要时从磁盘加载）workflow 的分区
func (s *PartitionedStore) partition(workflowID string) (*diskPartition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if part, ok := s.partitions[workflowID]; ok {
		return part, nil
	}

	part := &diskPartition{
		path:  filepath.Join(s.dir, partitionFileName(workflowID)),
		state: &filePartition{},
	}
	data, err := os.ReadFile(part.path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, part.state); err != nil {
			return nil, fmt.Errorf("parse partition file %s: %w", part.path, err)
		}
	case os.IsNotExist(err):
		// 新分区，首次写入时创建文件
	default:
		return nil, fmt.Errorf("read partition file %s: %w", part.path, err)
	}

	s.partitions[workflowID] = part
	return part, nil
}

// VectorizeDocument 切块嵌入写入分区并同步落盘。重复文档是成功的 no-op。
func (s *PartitionedStore) VectorizeDocument(ctx context.Context, workflowID, documentID, content string, metadata map[string]any) (bool, error) {
	part, err := s.partition(workflowID)
	if err != nil {
		return false, err
	}

	part.mu.RLock()
	known := part.state.hasDocument(documentID)
	part.mu.RUnlock()
	if known {
		s.logger.Debug("document already vectorized, skipping",
			zap.String("workflow_id", workflowID),
			zap.String("document_id", documentID))
		return true, nil
	}

	chunks, err := chunkContent(ctx, s.chunker, workflowID, documentID, content, metadata)
	if err != nil {
		return false, err
	}

	part.mu.Lock()
	defer part.mu.Unlock()

	if part.state.hasDocument(documentID) {
		return true, nil
	}
	part.state.Documents = append(part.state.Documents, documentID)
	part.state.Chunks = append(part.state.Chunks, chunks...)

	if err := writeJSONAtomic(part.path, part.state); err != nil {
		return false, err
	}

	s.logger.Info("document vectorized",
		zap.String("workflow_id", workflowID),
		zap.String("document_id", documentID),
		zap.Int("chunks", len(chunks)))
	return true, nil
}

// SearchSimilarContent 在单个分区内做余弦相似度穷举扫描
func (s *PartitionedStore) SearchSimilarContent(ctx context.Context, workflowID, query string, limit int) ([]SearchResult, error) {
	part, err := s.partition(workflowID)
	if err != nil {
		return nil, err
	}

	queryEmbedding, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	part.mu.RLock()
	defer part.mu.RUnlock()
	return rankChunks(part.state.Chunks, queryEmbedding, limit), nil
}

// Clear 删除分区文件并丢弃内存状态
func (s *PartitionedStore) Clear(ctx context.Context, workflowID string) error {
	part, err := s.partition(workflowID)
	if err != nil {
		return err
	}

	part.mu.Lock()
	part.state = &filePartition{}
	removeErr := os.Remove(part.path)
	part.mu.Unlock()

	s.mu.Lock()
	delete(s.partitions, workflowID)
	s.mu.Unlock()

	if removeErr != nil && !os.IsNotExist(removeErr) {
		return fmt.Errorf("remove partition file: %w", removeErr)
	}
	return nil
}

// Stats 汇总所有磁盘分区的统计信息
func (s *PartitionedStore) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{Backend: s.Name(), Initialized: true}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return stats, nil
		}
		return stats, fmt.Errorf("read partition directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), "wf_") {
			continue
		}
		stats.Workflows++

		data, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			continue
		}
		var part filePartition
		if err := json.Unmarshal(data, &part); err != nil {
			continue
		}
		stats.Documents += len(part.Documents)
		stats.Chunks += len(part.Chunks)
	}
	return stats, nil
}
