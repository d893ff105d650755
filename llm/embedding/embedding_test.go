package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/bidflow/types"
)

func TestLocalProviderDeterministic(t *testing.T) {
	p := NewLocalProvider(384)
	ctx := context.Background()

	a, err := p.EmbedQuery(ctx, "network security requirements for the data center")
	require.NoError(t, err)
	b, err := p.EmbedQuery(ctx, "network security requirements for the data center")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, 384)
}

func TestLocalProviderNormalized(t *testing.T) {
	p := NewLocalProvider(128)

	vec, err := p.EmbedQuery(context.Background(), "cloud migration timeline and budget")
	require.NoError(t, err)

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-9)
}

func TestLocalProviderSimilarTextsCloser(t *testing.T) {
	p := NewLocalProvider(384)
	ctx := context.Background()

	base, _ := p.EmbedQuery(ctx, "the vendor must provide onsite support")
	near, _ := p.EmbedQuery(ctx, "the vendor must provide remote support")
	far, _ := p.EmbedQuery(ctx, "quarterly financial statements audited externally")

	if dot(base, near) <= dot(base, far) {
		t.Errorf("expected near text (%f) to score above unrelated text (%f)", dot(base, near), dot(base, far))
	}
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

func TestHTTPProviderEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		emb := make([]float64, 8)
		emb[0] = 1
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model": "test-model",
			"data":  []map[string]any{{"index": 0, "embedding": emb}},
		})
	}))
	defer srv.Close()

	p := NewHTTPProvider(HTTPConfig{BaseURL: srv.URL, APIKey: "test-key", Dimensions: 8})
	vec, err := p.EmbedQuery(context.Background(), "hello")
	require.NoError(t, err)
	assert.Len(t, vec, 8)
}

func TestHTTPProviderDimensionMismatchFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model": "test-model",
			"data":  []map[string]any{{"index": 0, "embedding": []float64{1, 2, 3}}},
		})
	}))
	defer srv.Close()

	p := NewHTTPProvider(HTTPConfig{BaseURL: srv.URL, Dimensions: 8})
	_, err := p.EmbedQuery(context.Background(), "hello")
	require.Error(t, err)
	assert.Equal(t, types.ErrDimensionMismatch, types.CodeOf(err))
	assert.True(t, types.IsFatalConfig(err))
}

func TestHTTPProviderServerErrorRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := NewHTTPProvider(HTTPConfig{BaseURL: srv.URL, Dimensions: 8})
	_, err := p.EmbedQuery(context.Background(), "hello")
	require.Error(t, err)

	var e *types.Error
	require.ErrorAs(t, err, &e)
	assert.True(t, e.Retryable)
}

func TestLocalProviderVerbatimPhraseDominatesLongText(t *testing.T) {
	p := NewLocalProvider(384)
	ctx := context.Background()

	// 两段 500 词的长文本，只有一段包含查询短语的原文
	phrase := "liquidated damages accrue daily after deadline"
	with := make([]string, 500)
	without := make([]string, 500)
	for i := range with {
		with[i] = fmt.Sprintf("a%d", i)
		without[i] = fmt.Sprintf("b%d", i)
	}
	copy(with[200:], strings.Fields(phrase))

	q, err := p.EmbedQuery(ctx, phrase)
	require.NoError(t, err)
	docs, err := p.EmbedDocuments(ctx, []string{strings.Join(with, " "), strings.Join(without, " ")})
	require.NoError(t, err)

	// 短查询的词元重叠信号必须压过哈希碰撞噪声
	assert.Greater(t, dot(q, docs[0]), dot(q, docs[1]))
}
