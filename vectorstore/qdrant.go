package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/bidflow/config"
	"github.com/BaSui01/bidflow/types"
)

// qdrantNamespace 用于从 chunk 标识派生稳定的 point UUID
var qdrantNamespace = uuid.MustParse("3f1c7a52-9b6e-4c2d-a1d0-7e4b8c9f2a61")

// QdrantStore 外部索引后端（tier 3），走 Qdrant REST API。
// 每个 workflow 独占一个集合（前缀 + workflowID），point ID 从
// (workflow, document, chunk 序号) 派生，重复写入是幂等的覆盖。
type QdrantStore struct {
	cfg      config.QdrantConfig
	baseURL  string
	client   *http.Client
	chunker  Chunker
	embedder Embedder
	logger   *zap.Logger

	mu       sync.Mutex
	ensured  map[string]bool // 已确认存在的集合
	docSeen  map[string]int  // workflowID → 本进程写入的文档数
	chunkCnt map[string]int
}

// NewQdrantStore 创建 Qdrant 后端
func NewQdrantStore(cfg config.QdrantConfig, chunker Chunker, embedder Embedder, logger *zap.Logger) *QdrantStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6333
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.CollectionPrefix == "" {
		cfg.CollectionPrefix = "bidflow"
	}

	return &QdrantStore{
		cfg:      cfg,
		baseURL:  fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port),
		client:   &http.Client{Timeout: cfg.Timeout},
		chunker:  chunker,
		embedder: embedder,
		logger:   logger.With(zap.String("component", "vectorstore_qdrant")),
		ensured:  make(map[string]bool),
		docSeen:  make(map[string]int),
		chunkCnt: make(map[string]int),
	}
}

// Name 返回后端名称
func (s *QdrantStore) Name() string { return "qdrant" }

// Init 探测服务可达性。不可达视为该层不可用，探测链继续。
func (s *QdrantStore) Init(ctx context.Context) error {
	if err := s.doJSON(ctx, http.MethodGet, "/collections", nil, nil); err != nil {
		return fmt.Errorf("qdrant unreachable at %s: %w", s.baseURL, err)
	}
	s.logger.Info("qdrant vector store initialized", zap.String("base_url", s.baseURL))
	return nil
}

func (s *QdrantStore) collectionName(workflowID string) string {
	return s.cfg.CollectionPrefix + "_" + unsafePathChars.ReplaceAllString(workflowID, "_")
}

// pointID 从 chunk 标识派生稳定 UUID，重复 upsert 落在同一个 point 上
func pointID(workflowID, documentID string, index int) string {
	key := fmt.Sprintf("%s/%s/%d", workflowID, documentID, index)
	return uuid.NewSHA1(qdrantNamespace, []byte(key)).String()
}

func (s *QdrantStore) ensureCollection(ctx context.Context, name string) error {
	s.mu.Lock()
	done := s.ensured[name]
	s.mu.Unlock()
	if done {
		return nil
	}

	body := map[string]any{
		"vectors": map[string]any{
			"size":     s.embedder.Dimensions(),
			"distance": "Cosine",
		},
	}
	err := s.doJSON(ctx, http.MethodPut, "/collections/"+url.PathEscape(name), body, nil)
	// 集合已存在时 Qdrant 返回 409
	if err != nil && !strings.Contains(err.Error(), "status=409") {
		return err
	}

	s.mu.Lock()
	s.ensured[name] = true
	s.mu.Unlock()
	return nil
}

// VectorizeDocument 切块嵌入并 upsert 到 workflow 集合。
// point ID 稳定派生，重复文档退化为幂等覆盖。
func (s *QdrantStore) VectorizeDocument(ctx context.Context, workflowID, documentID, content string, metadata map[string]any) (bool, error) {
	chunks, err := chunkContent(ctx, s.chunker, workflowID, documentID, content, metadata)
	if err != nil {
		return false, err
	}
	if len(chunks) == 0 {
		return true, nil
	}

	collection := s.collectionName(workflowID)
	if err := s.ensureCollection(ctx, collection); err != nil {
		return false, err
	}

	type point struct {
		ID      string         `json:"id"`
		Vector  []float64      `json:"vector"`
		Payload map[string]any `json:"payload,omitempty"`
	}

	points := make([]point, 0, len(chunks))
	for _, chunk := range chunks {
		points = append(points, point{
			ID:     pointID(workflowID, documentID, chunk.Index),
			Vector: chunk.Embedding,
			Payload: map[string]any{
				"chunk_id":    chunk.ID,
				"document_id": chunk.DocumentID,
				"content":     chunk.Content,
				"metadata":    chunk.Metadata,
			},
		})
	}

	req := struct {
		Points []point `json:"points"`
	}{Points: points}

	path := fmt.Sprintf("/collections/%s/points?wait=true", url.PathEscape(collection))
	if err := s.doJSON(ctx, http.MethodPut, path, req, nil); err != nil {
		return false, types.NewError(types.ErrUpstreamError, "qdrant upsert failed").WithCause(err).WithRetryable()
	}

	s.mu.Lock()
	s.docSeen[workflowID]++
	s.chunkCnt[workflowID] += len(chunks)
	s.mu.Unlock()

	s.logger.Info("document vectorized",
		zap.String("workflow_id", workflowID),
		zap.String("document_id", documentID),
		zap.Int("chunks", len(chunks)))
	return true, nil
}

// SearchSimilarContent 在 workflow 集合内做近邻检索
func (s *QdrantStore) SearchSimilarContent(ctx context.Context, workflowID, query string, limit int) ([]SearchResult, error) {
	queryEmbedding, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	req := struct {
		Vector      []float64 `json:"vector"`
		Limit       int       `json:"limit"`
		WithPayload bool      `json:"with_payload"`
	}{
		Vector:      queryEmbedding,
		Limit:       limit,
		WithPayload: true,
	}

	var resp struct {
		Result []struct {
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}

	path := fmt.Sprintf("/collections/%s/points/search", url.PathEscape(s.collectionName(workflowID)))
	if err := s.doJSON(ctx, http.MethodPost, path, req, &resp); err != nil {
		// 集合尚不存在等价于空分区
		if strings.Contains(err.Error(), "status=404") {
			return nil, nil
		}
		return nil, types.NewError(types.ErrUpstreamError, "qdrant search failed").WithCause(err).WithRetryable()
	}

	results := make([]SearchResult, 0, len(resp.Result))
	for _, r := range resp.Result {
		result := SearchResult{Similarity: r.Score}
		if v, ok := r.Payload["chunk_id"].(string); ok {
			result.ChunkID = v
		}
		if v, ok := r.Payload["document_id"].(string); ok {
			result.DocumentID = v
		}
		if v, ok := r.Payload["content"].(string); ok {
			result.Content = v
		}
		if v, ok := r.Payload["metadata"].(map[string]any); ok {
			result.Metadata = v
		}
		results = append(results, result)
	}
	return results, nil
}

// Clear 删除 workflow 集合
func (s *QdrantStore) Clear(ctx context.Context, workflowID string) error {
	collection := s.collectionName(workflowID)
	err := s.doJSON(ctx, http.MethodDelete, "/collections/"+url.PathEscape(collection), nil, nil)
	if err != nil && !strings.Contains(err.Error(), "status=404") {
		return err
	}

	s.mu.Lock()
	delete(s.ensured, collection)
	delete(s.docSeen, workflowID)
	delete(s.chunkCnt, workflowID)
	s.mu.Unlock()
	return nil
}

// Stats 返回本进程视角的统计信息
func (s *QdrantStore) Stats(ctx context.Context) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := Stats{Backend: s.Name(), Initialized: true, Workflows: len(s.docSeen)}
	for _, n := range s.docSeen {
		stats.Documents += n
	}
	for _, n := range s.chunkCnt {
		stats.Chunks += n
	}
	return stats, nil
}

func (s *QdrantStore) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(s.cfg.APIKey) != "" {
		// Qdrant convention
		req.Header.Set("api-key", s.cfg.APIKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("qdrant request failed: method=%s path=%s status=%d body=%s", method, path, resp.StatusCode, string(raw))
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
