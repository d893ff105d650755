package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/bidflow/types"
)

// ExtractedEntity LLM 抽取的实体（持久化前的中间表示）.
type ExtractedEntity struct {
	Name       string  `json:"name"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

// ExtractedRelationship LLM 抽取的关系.
type ExtractedRelationship struct {
	Source     string  `json:"source"`
	Target     string  `json:"target"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

// ExtractionClient 基于补全提供者的结构化抽取客户端.
// 模型输出必须是 JSON 数组；任何解析失败都返回
// types.ErrUnparsableOutput，由图索引层切换到规则回退。
type ExtractionClient struct {
	provider Provider
	logger   *zap.Logger
}

// NewExtractionClient 创建抽取客户端.
func NewExtractionClient(provider Provider, logger *zap.Logger) *ExtractionClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExtractionClient{
		provider: provider,
		logger:   logger.With(zap.String("component", "extraction_client")),
	}
}

const entityPrompt = `Extract named entities from the following bid document text.
Return ONLY a JSON array. Each element: {"name": string, "type": one of
"person"|"organization"|"location"|"technology"|"concept", "confidence": 0..1}.

Text:
%s`

const relationshipPrompt = `Given these entities extracted from a bid document:
%s

Return ONLY a JSON array of relationships between them. Each element:
{"source": entity name, "target": entity name, "type": short verb phrase, "confidence": 0..1}.`

// ExtractEntities 从文本中抽取实体.
func (c *ExtractionClient) ExtractEntities(ctx context.Context, text string) ([]ExtractedEntity, error) {
	raw, err := c.provider.Complete(ctx, fmt.Sprintf(entityPrompt, text))
	if err != nil {
		return nil, fmt.Errorf("entity extraction call: %w", err)
	}

	var entities []ExtractedEntity
	if err := DecodeJSONArray(raw, &entities); err != nil {
		c.logger.Warn("entity extraction output unparsable", zap.Error(err))
		return nil, types.NewError(types.ErrUnparsableOutput, "entity extraction output is not a JSON array").WithCause(err)
	}

	// 丢弃类型不在封闭集合内的条目
	valid := entities[:0]
	for _, e := range entities {
		if e.Name == "" || !types.ValidEntityType(types.EntityType(e.Type)) {
			continue
		}
		valid = append(valid, e)
	}
	return valid, nil
}

// ExtractRelationships 在已知实体之间抽取关系.
func (c *ExtractionClient) ExtractRelationships(ctx context.Context, entities []ExtractedEntity) ([]ExtractedRelationship, error) {
	if len(entities) < 2 {
		return nil, nil
	}

	names := make([]string, 0, len(entities))
	for _, e := range entities {
		names = append(names, fmt.Sprintf("%s (%s)", e.Name, e.Type))
	}

	raw, err := c.provider.Complete(ctx, fmt.Sprintf(relationshipPrompt, strings.Join(names, ", ")))
	if err != nil {
		return nil, fmt.Errorf("relationship extraction call: %w", err)
	}

	var rels []ExtractedRelationship
	if err := DecodeJSONArray(raw, &rels); err != nil {
		c.logger.Warn("relationship extraction output unparsable", zap.Error(err))
		return nil, types.NewError(types.ErrUnparsableOutput, "relationship extraction output is not a JSON array").WithCause(err)
	}

	valid := rels[:0]
	for _, r := range rels {
		if r.Source == "" || r.Target == "" || r.Type == "" {
			continue
		}
		valid = append(valid, r)
	}
	return valid, nil
}

// DecodeJSONArray 宽容地从模型输出中取出 JSON 数组.
// 容忍 markdown 代码栅栏和数组前后的说明文字。
func DecodeJSONArray(raw string, dest any) error {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")

	start := strings.Index(s, "[")
	end := strings.LastIndex(s, "]")
	if start < 0 || end <= start {
		return fmt.Errorf("no JSON array found in output")
	}

	return json.Unmarshal([]byte(s[start:end+1]), dest)
}
