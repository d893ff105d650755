package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/bidflow/types"
)

// HTTPConfig 持有 HTTP 嵌入提供者的配置.
type HTTPConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	Dimensions int
	Timeout    time.Duration
}

// HTTPProvider 通过 OpenAI 兼容的 /embeddings 端点生成嵌入.
// 每次调用都带显式超时；上游失败映射为可重试的 types.Error。
type HTTPProvider struct {
	cfg    HTTPConfig
	client *http.Client
}

// NewHTTPProvider 创建 HTTP 嵌入提供者.
func NewHTTPProvider(cfg HTTPConfig) *HTTPProvider {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = 384
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &HTTPProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

func (p *HTTPProvider) Name() string    { return "http" }
func (p *HTTPProvider) Dimensions() int { return p.cfg.Dimensions }

type httpEmbeddingRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type httpEmbeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
	Model string `json:"model"`
}

// Embed 为给定输入生成嵌入.
func (p *HTTPProvider) Embed(ctx context.Context, req *EmbeddingRequest) (*EmbeddingResponse, error) {
	model := req.Model
	if model == "" {
		model = p.cfg.Model
	}

	body, err := json.Marshal(httpEmbeddingRequest{Input: req.Input, Model: model})
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create embedding request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, types.NewError(types.ErrUpstreamError, "embedding request failed").
			WithCause(err).WithRetryable()
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read embedding response: %w", err)
	}
	if resp.StatusCode >= 400 {
		e := types.NewError(types.ErrUpstreamError,
			fmt.Sprintf("embedding provider returned %d: %s", resp.StatusCode, truncate(string(respBody), 200)))
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			e.WithRetryable()
		}
		return nil, e
	}

	var parsed httpEmbeddingResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, types.NewError(types.ErrUnparsableOutput, "embedding response is not valid JSON").WithCause(err)
	}

	out := &EmbeddingResponse{Provider: p.Name(), Model: parsed.Model}
	for _, d := range parsed.Data {
		if len(d.Embedding) != p.cfg.Dimensions {
			return nil, types.NewError(types.ErrDimensionMismatch,
				fmt.Sprintf("provider returned %d dimensions, store expects %d", len(d.Embedding), p.cfg.Dimensions))
		}
		out.Embeddings = append(out.Embeddings, EmbeddingData{Index: d.Index, Embedding: d.Embedding})
	}
	return out, nil
}

// EmbedQuery 嵌入单个查询.
func (p *HTTPProvider) EmbedQuery(ctx context.Context, query string) ([]float64, error) {
	resp, err := p.Embed(ctx, &EmbeddingRequest{Input: []string{query}, InputType: InputTypeQuery})
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("no embeddings returned")
	}
	return resp.Embeddings[0].Embedding, nil
}

// EmbedDocuments 嵌入多个文档.
func (p *HTTPProvider) EmbedDocuments(ctx context.Context, documents []string) ([][]float64, error) {
	resp, err := p.Embed(ctx, &EmbeddingRequest{Input: documents, InputType: InputTypeDocument})
	if err != nil {
		return nil, err
	}
	result := make([][]float64, len(resp.Embeddings))
	for i, emb := range resp.Embeddings {
		result[i] = emb.Embedding
	}
	return result, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
