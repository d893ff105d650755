package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/bidflow/types"
)

// fileState 单文件后端的全量持久化状态
type fileState struct {
	Version    int                       `json:"version"`
	Partitions map[string]*filePartition `json:"partitions"`
}

// filePartition 文件内的 workflow 分区
type filePartition struct {
	Documents []string      `json:"documents"`
	Chunks    []types.Chunk `json:"chunks"`
}

func (p *filePartition) hasDocument(documentID string) bool {
	for _, id := range p.Documents {
		if id == documentID {
			return true
		}
	}
	return false
}

// FileStore 单文件 JSON 后端（tier 2）。
// 全量状态常驻内存，每次写入同步重写整个文件（临时文件 + rename），
// 成功返回即已落盘。适合单进程、中小语料。
type FileStore struct {
	path     string
	chunker  Chunker
	embedder Embedder
	logger   *zap.Logger

	mu    sync.RWMutex
	state *fileState
}

// NewFileStore 创建单文件后端。path 为状态文件路径。
func NewFileStore(path string, chunker Chunker, embedder Embedder, logger *zap.Logger) *FileStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileStore{
		path:     path,
		chunker:  chunker,
		embedder: embedder,
		logger:   logger.With(zap.String("component", "vectorstore_file")),
	}
}

// Name 返回后端名称
func (s *FileStore) Name() string { return "json_file" }

// Init 加载已有状态文件并验证目录可写。
// 文件缺失从空状态开始；文件损坏或目录不可写视为该层不可用。
func (s *FileStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create vector store directory: %w", err)
	}

	state := &fileState{Version: 1, Partitions: make(map[string]*filePartition)}
	data, err := os.ReadFile(s.path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, state); err != nil {
			return fmt.Errorf("parse vector store file %s: %w", s.path, err)
		}
		if state.Partitions == nil {
			state.Partitions = make(map[string]*filePartition)
		}
	case os.IsNotExist(err):
		// 首次启动，写入空状态证明可写
		if err := writeJSONAtomic(s.path, state); err != nil {
			return err
		}
	default:
		return fmt.Errorf("read vector store file %s: %w", s.path, err)
	}

	s.state = state
	s.logger.Info("file vector store initialized",
		zap.String("path", s.path),
		zap.Int("workflows", len(state.Partitions)))
	return nil
}

// VectorizeDocument 切块嵌入写入并同步落盘。重复文档是成功的 no-op。
func (s *FileStore) VectorizeDocument(ctx context.Context, workflowID, documentID, content string, metadata map[string]any) (bool, error) {
	s.mu.RLock()
	if part, ok := s.state.Partitions[workflowID]; ok && part.hasDocument(documentID) {
		s.mu.RUnlock()
		return true, nil
	}
	s.mu.RUnlock()

	chunks, err := chunkContent(ctx, s.chunker, workflowID, documentID, content, metadata)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	part, ok := s.state.Partitions[workflowID]
	if !ok {
		part = &filePartition{}
		s.state.Partitions[workflowID] = part
	}
	if part.hasDocument(documentID) {
		return true, nil
	}
	part.Documents = append(part.Documents, documentID)
	part.Chunks = append(part.Chunks, chunks...)

	if err := writeJSONAtomic(s.path, s.state); err != nil {
		return false, err
	}

	s.logger.Info("document vectorized",
		zap.String("workflow_id", workflowID),
		zap.String("document_id", documentID),
		zap.Int("chunks", len(chunks)))
	return true, nil
}

// SearchSimilarContent 在分区内做余弦相似度穷举扫描
func (s *FileStore) SearchSimilarContent(ctx context.Context, workflowID, query string, limit int) ([]SearchResult, error) {
	queryEmbedding, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	part, ok := s.state.Partitions[workflowID]
	if !ok {
		return nil, nil
	}
	return rankChunks(part.Chunks, queryEmbedding, limit), nil
}

// Clear 删除 workflow 分区并落盘
func (s *FileStore) Clear(ctx context.Context, workflowID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.state.Partitions[workflowID]; !ok {
		return nil
	}
	delete(s.state.Partitions, workflowID)
	return writeJSONAtomic(s.path, s.state)
}

// Stats 返回统计信息
func (s *FileStore) Stats(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{Backend: s.Name(), Initialized: s.state != nil}
	if s.state == nil {
		return stats, nil
	}
	stats.Workflows = len(s.state.Partitions)
	for _, part := range s.state.Partitions {
		stats.Documents += len(part.Documents)
		stats.Chunks += len(part.Chunks)
	}
	return stats, nil
}

// writeJSONAtomic 临时文件 + rename 的原子写入
func writeJSONAtomic(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal vector store state: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write vector store state: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("commit vector store state: %w", err)
	}
	return nil
}
