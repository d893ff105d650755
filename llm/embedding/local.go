package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// LocalProvider 进程内确定性嵌入提供者.
// 对小写分词后的词元与相邻二元词组做多重符号化特征哈希，
// 投影到固定维度并做 L2 归一化。不依赖外部服务，
// 同一输入在任意进程中产出相同向量，作为默认提供者和测试替身使用。
type LocalProvider struct {
	dims int
}

// NewLocalProvider 创建本地嵌入提供者。dims<=0 时使用 384。
func NewLocalProvider(dims int) *LocalProvider {
	if dims <= 0 {
		dims = 384
	}
	return &LocalProvider{dims: dims}
}

func (p *LocalProvider) Name() string    { return "local" }
func (p *LocalProvider) Dimensions() int { return p.dims }

// Embed 为给定输入生成嵌入.
func (p *LocalProvider) Embed(ctx context.Context, req *EmbeddingRequest) (*EmbeddingResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resp := &EmbeddingResponse{Provider: p.Name(), Model: "feature-hash"}
	for i, input := range req.Input {
		resp.Embeddings = append(resp.Embeddings, EmbeddingData{
			Index:     i,
			Embedding: p.embedOne(input),
		})
	}
	return resp, nil
}

// EmbedQuery 嵌入单个查询.
func (p *LocalProvider) EmbedQuery(ctx context.Context, query string) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p.embedOne(query), nil
}

// EmbedDocuments 嵌入多个文档.
func (p *LocalProvider) EmbedDocuments(ctx context.Context, documents []string) ([][]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float64, len(documents))
	for i, doc := range documents {
		out[i] = p.embedOne(doc)
	}
	return out, nil
}

// numHashes 每个特征散列到的桶数。
// 单桶方案里个别哈希碰撞会主导短查询的相似度；多重散列把
// 碰撞摊薄到相互独立的桶上，让词元重叠信号占优。
const numHashes = 4

// fnvPrime FNV-1a 64 位素数，用于桶序列的再散列
const fnvPrime = 1099511628211

func (p *LocalProvider) embedOne(text string) []float64 {
	vec := make([]float64, p.dims)
	tokens := tokenize(text)

	for i, tok := range tokens {
		p.addFeature(vec, tok)
		// 二元词组特征：原文短语重叠贡献额外信号
		if i+1 < len(tokens) {
			p.addFeature(vec, tok+"\x00"+tokens[i+1])
		}
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for i := range vec {
			vec[i] /= norm
		}
	}
	return vec
}

// addFeature 把单个特征写入 numHashes 个带符号桶
func (p *LocalProvider) addFeature(vec []float64, feature string) {
	h := fnv.New64a()
	h.Write([]byte(feature))
	sum := h.Sum64()

	for j := 0; j < numHashes; j++ {
		idx := int(sum % uint64(p.dims))
		if sum>>63 == 1 {
			vec[idx] -= 1
		} else {
			vec[idx] += 1
		}
		sum = (sum ^ uint64(j+1)) * fnvPrime
	}
}

// tokenize 小写化并剥离词元两侧标点
func tokenize(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	tokens := make([]string, 0, len(fields))
	for _, tok := range fields {
		tok = strings.Trim(tok, ".,;:!?\"'()[]{}")
		if tok != "" {
			tokens = append(tokens, tok)
		}
	}
	return tokens
}
