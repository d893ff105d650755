package vectorstore

import (
	"context"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/BaSui01/bidflow/config"
)

// TieredStore 按优先级链探测一次并委托给第一个可用后端。
// 探测只在 Init 发生：运行期活跃后端失败不回退、不重试探测
// （RuntimeFailback 保留为显式配置开关，默认关闭且未启用）。
// 全部后端不可用时进入闭合失败模式：写入返回 false、检索返回空、
// 统计报告未初始化，绝不向调用方抛出。
type TieredStore struct {
	backends []Backend
	active   Backend
	logger   *zap.Logger
}

// NewTieredStore 创建分层存储。backends 按优先级降序排列。
func NewTieredStore(backends []Backend, logger *zap.Logger) *TieredStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TieredStore{
		backends: backends,
		logger:   logger.With(zap.String("component", "vectorstore_tiered")),
	}
}

// NewTieredFromConfig 按配置装配优先级链：
// 分区持久化 → 单文件 JSON → Qdrant → 内存兜底（始终在链尾）。
func NewTieredFromConfig(cfg config.VectorStoreConfig, chunker Chunker, embedder Embedder, logger *zap.Logger) *TieredStore {
	var backends []Backend
	if cfg.EnablePartitioned {
		backends = append(backends, NewPartitionedStore(filepath.Join(cfg.DataDir, "partitions"), chunker, embedder, logger))
	}
	if cfg.EnableFile {
		backends = append(backends, NewFileStore(filepath.Join(cfg.DataDir, "vectors.json"), chunker, embedder, logger))
	}
	if cfg.EnableExternal {
		backends = append(backends, NewQdrantStore(cfg.Qdrant, chunker, embedder, logger))
	}
	backends = append(backends, NewMemoryStore(chunker, embedder, logger))
	return NewTieredStore(backends, logger)
}

// Init 沿优先级链探测，第一个初始化成功的后端成为活跃后端。
// 全部失败不返回错误，存储保持未初始化并闭合失败。
func (s *TieredStore) Init(ctx context.Context) error {
	for _, backend := range s.backends {
		if err := backend.Init(ctx); err != nil {
			s.logger.Warn("vector store backend unavailable, trying next tier",
				zap.String("backend", backend.Name()),
				zap.Error(err))
			continue
		}
		s.active = backend
		s.logger.Info("vector store backend selected", zap.String("backend", backend.Name()))
		return nil
	}

	s.logger.Error("no vector store backend available, operating fail-closed")
	return nil
}

// Active 返回活跃后端名称，未初始化时为空串
func (s *TieredStore) Active() string {
	if s.active == nil {
		return ""
	}
	return s.active.Name()
}

// VectorizeDocument 委托活跃后端；未初始化时返回 false
func (s *TieredStore) VectorizeDocument(ctx context.Context, workflowID, documentID, content string, metadata map[string]any) (bool, error) {
	if s.active == nil {
		s.logger.Warn("vectorize skipped: store uninitialized",
			zap.String("workflow_id", workflowID),
			zap.String("document_id", documentID))
		return false, nil
	}
	return s.active.VectorizeDocument(ctx, workflowID, documentID, content, metadata)
}

// SearchSimilarContent 委托活跃后端；未初始化时返回空
func (s *TieredStore) SearchSimilarContent(ctx context.Context, workflowID, query string, limit int) ([]SearchResult, error) {
	if s.active == nil {
		return nil, nil
	}
	return s.active.SearchSimilarContent(ctx, workflowID, query, limit)
}

// Clear 委托活跃后端；未初始化时是 no-op
func (s *TieredStore) Clear(ctx context.Context, workflowID string) error {
	if s.active == nil {
		return nil
	}
	return s.active.Clear(ctx, workflowID)
}

// Stats 返回活跃后端统计；未初始化时报告 Initialized=false
func (s *TieredStore) Stats(ctx context.Context) (Stats, error) {
	if s.active == nil {
		return Stats{Backend: "none", Initialized: false}, nil
	}
	return s.active.Stats(ctx)
}
