package graph

import (
	"context"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/bidflow/llm"
	"github.com/BaSui01/bidflow/types"
)

// ruleConfidence 规则提取的统一置信度，刻意低于 LLM 提取
const ruleConfidence = 0.5

// rulePattern 某个实体类型的一条识别规则
type rulePattern struct {
	entityType types.EntityType
	pattern    *regexp.Regexp
	group      int // 捕获组序号，0 表示整个匹配
}

var rulePatterns = []rulePattern{
	// 称谓 + 人名
	{types.EntityPerson, regexp.MustCompile(`(?:Mr\.|Ms\.|Mrs\.|Dr\.|Prof\.)\s+([A-Z][a-z]+(?:\s[A-Z][a-z]+)?)`), 1},
	// 公司后缀
	{types.EntityOrganization, regexp.MustCompile(`([A-Z][A-Za-z&]*(?:\s[A-Z][A-Za-z&]*){0,4}\s(?:Inc|Corp|Corporation|Ltd|LLC|Co|Group|Company|Bureau|Authority|Institute)\.?)`), 1},
	// 地名后缀（后缀词并入实体名）
	{types.EntityLocation, regexp.MustCompile(`([A-Z][a-z]+(?:\s[A-Z][a-z]+)?\s(?:City|Province|County|District|Port|Station))`), 1},
}

// technologyKeywords / conceptKeywords 关键词族，整词匹配
var (
	technologyKeywords = []string{
		"BIM", "ERP", "SCADA", "PLC", "GIS", "IoT", "RFID", "CAD",
		"prestressed concrete", "seismic isolation", "steel structure",
		"cloud platform", "machine learning", "data center",
	}
	conceptKeywords = []string{
		"bid bond", "performance bond", "warranty period", "quality assurance",
		"safety management", "environmental protection", "insurance coverage",
		"payment schedule", "liquidated damages", "acceptance criteria",
	}
)

// RuleExtractor 规则回退提取器。
// LLM 提取不可用或输出不可解析时使用；确定性、低置信度、无关系产出。
type RuleExtractor struct {
	logger *zap.Logger
}

// NewRuleExtractor 创建规则提取器
func NewRuleExtractor(logger *zap.Logger) *RuleExtractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RuleExtractor{logger: logger.With(zap.String("component", "rule_extractor"))}
}

// ExtractEntities 用关键词/正则族提取实体
func (e *RuleExtractor) ExtractEntities(ctx context.Context, text string) ([]llm.ExtractedEntity, error) {
	seen := make(map[string]bool)
	var entities []llm.ExtractedEntity

	add := func(name string, entityType types.EntityType) {
		name = strings.TrimSpace(name)
		if name == "" {
			return
		}
		key := identityKey(name, entityType)
		if seen[key] {
			return
		}
		seen[key] = true
		entities = append(entities, llm.ExtractedEntity{
			Name:       name,
			Type:       string(entityType),
			Confidence: ruleConfidence,
		})
	}

	for _, rule := range rulePatterns {
		for _, match := range rule.pattern.FindAllStringSubmatch(text, -1) {
			add(match[rule.group], rule.entityType)
		}
	}

	lowered := strings.ToLower(text)
	for _, kw := range technologyKeywords {
		if containsWord(lowered, strings.ToLower(kw)) {
			add(kw, types.EntityTechnology)
		}
	}
	for _, kw := range conceptKeywords {
		if containsWord(lowered, strings.ToLower(kw)) {
			add(kw, types.EntityConcept)
		}
	}

	e.logger.Debug("rule-based extraction completed", zap.Int("entities", len(entities)))
	return entities, nil
}

// ExtractRelationships 规则提取不产出关系，安全空结果
func (e *RuleExtractor) ExtractRelationships(ctx context.Context, entities []llm.ExtractedEntity) ([]llm.ExtractedRelationship, error) {
	return nil, nil
}

// containsWord 整词出现检查，避免关键词命中单词内部
func containsWord(haystack, needle string) bool {
	idx := 0
	for {
		pos := strings.Index(haystack[idx:], needle)
		if pos < 0 {
			return false
		}
		pos += idx
		before := pos == 0 || !isWordChar(haystack[pos-1])
		afterIdx := pos + len(needle)
		after := afterIdx >= len(haystack) || !isWordChar(haystack[afterIdx])
		if before && after {
			return true
		}
		idx = pos + 1
	}
}

func isWordChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}
