package graph

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/bidflow/llm"
	"github.com/BaSui01/bidflow/types"
)

// Extractor 实体/关系提取协作方。llm.ExtractionClient 与 RuleExtractor 都实现它。
type Extractor interface {
	ExtractEntities(ctx context.Context, text string) ([]llm.ExtractedEntity, error)
	ExtractRelationships(ctx context.Context, entities []llm.ExtractedEntity) ([]llm.ExtractedRelationship, error)
}

// Repository 图数据的持久化镜像。
// 镜像是尽力而为的：写库失败只记日志不回滚内存图（向量/图两侧
// 只要求最终一致）。传 nil 则纯内存运行。
type Repository interface {
	SaveEntity(ctx context.Context, entity *types.Entity) error
	SaveRelationship(ctx context.Context, rel *types.Relationship) error
	DeleteWorkflowGraph(ctx context.Context, workflowID string) error
}

// Result 图侧检索候选
type Result struct {
	ChunkID       string   `json:"chunk_id"`
	DocumentID    string   `json:"document_id"`
	Content       string   `json:"content"`
	Score         float64  `json:"score"`
	Entities      []string `json:"entities,omitempty"`
	Relationships []string `json:"relationships,omitempty"`
}

// Index 实体/关系图索引，按 workflow 分区。
type Index struct {
	extractor Extractor
	fallback  Extractor
	repo      Repository
	logger    *zap.Logger

	mu         sync.RWMutex
	partitions map[string]*workflowGraph
}

// NewIndex 创建图索引。
// extractor 为 nil 时只用规则提取；repo 为 nil 时不做持久化镜像。
func NewIndex(extractor Extractor, repo Repository, logger *zap.Logger) *Index {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Index{
		extractor:  extractor,
		fallback:   NewRuleExtractor(logger),
		repo:       repo,
		logger:     logger.With(zap.String("component", "graph_index")),
		partitions: make(map[string]*workflowGraph),
	}
}

// partition 返回（必要时创建）workflow 的图分区
func (idx *Index) partition(workflowID string) *workflowGraph {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	g, ok := idx.partitions[workflowID]
	if !ok {
		g = newWorkflowGraph()
		idx.partitions[workflowID] = g
	}
	return g
}

// CreateDocument 在图分区中登记文档节点
func (idx *Index) CreateDocument(ctx context.Context, doc *types.Document) error {
	if doc.WorkflowID == "" {
		return types.NewError(types.ErrPrecondition, "document has no workflow scope")
	}
	g := idx.partition(doc.WorkflowID)

	g.mu.Lock()
	g.documents[doc.ID] = doc.Name
	g.mu.Unlock()
	return nil
}

// CreateChunksWithEmbeddings 把切块后的段落登记进图分区，供图侧候选返回。
// 嵌入向量本身由向量存储负责，这里只保留文本与归属。
func (idx *Index) CreateChunksWithEmbeddings(ctx context.Context, chunks []types.Chunk) error {
	for _, chunk := range chunks {
		if chunk.WorkflowID == "" {
			return types.NewError(types.ErrPrecondition, "chunk has no workflow scope")
		}
		g := idx.partition(chunk.WorkflowID)

		g.mu.Lock()
		g.chunks = append(g.chunks, chunkRecord{
			ID:         chunk.ID,
			DocumentID: chunk.DocumentID,
			Content:    chunk.Content,
			lowered:    strings.ToLower(chunk.Content),
		})
		g.mu.Unlock()
	}
	return nil
}

// ExtractAndCreateEntities 提取并幂等合并实体。
// LLM 提取失败或输出不可解析时降级到规则提取，绝不向上抛出提取错误。
func (idx *Index) ExtractAndCreateEntities(ctx context.Context, workflowID, documentID, content string) ([]*types.Entity, error) {
	extracted, err := idx.extract(ctx, content)
	if err != nil {
		return nil, err
	}

	g := idx.partition(workflowID)
	g.mu.Lock()
	defer g.mu.Unlock()

	entities := make([]*types.Entity, 0, len(extracted))
	for _, e := range extracted {
		entityType := types.EntityType(e.Type)
		if !types.ValidEntityType(entityType) {
			continue
		}

		key := identityKey(e.Name, entityType)
		entity, ok := g.entities[key]
		if ok {
			// 幂等合并：同名同类型只递增频次
			entity.Frequency++
			entity.UpdatedAt = time.Now()
			if e.Confidence > entity.Confidence {
				entity.Confidence = e.Confidence
			}
		} else {
			entity = &types.Entity{
				ID:         uuid.NewString(),
				WorkflowID: workflowID,
				Name:       strings.TrimSpace(e.Name),
				Type:       entityType,
				Frequency:  1,
				Confidence: e.Confidence,
				CreatedAt:  time.Now(),
				UpdatedAt:  time.Now(),
			}
			g.entities[key] = entity
			g.entityByID[entity.ID] = entity
		}

		g.mentions[entity.ID] = appendUnique(g.mentions[entity.ID], documentID)
		entities = append(entities, entity)

		if idx.repo != nil {
			if err := idx.repo.SaveEntity(ctx, entity); err != nil {
				idx.logger.Warn("entity mirror write failed",
					zap.String("entity", entity.Name),
					zap.Error(err))
			}
		}
	}

	idx.logger.Info("entities extracted",
		zap.String("workflow_id", workflowID),
		zap.String("document_id", documentID),
		zap.Int("entities", len(entities)))
	return entities, nil
}

// extract 先走 LLM 提取，失败时降级到规则提取
func (idx *Index) extract(ctx context.Context, content string) ([]llm.ExtractedEntity, error) {
	if idx.extractor != nil {
		extracted, err := idx.extractor.ExtractEntities(ctx, content)
		if err == nil {
			return extracted, nil
		}

		var typed *types.Error
		if errors.As(err, &typed) && !typed.Retryable && typed.Code != types.ErrUnparsableOutput {
			// 配置类错误降级也救不了
			return nil, err
		}
		idx.logger.Warn("llm entity extraction failed, falling back to rules", zap.Error(err))
	}
	return idx.fallback.ExtractEntities(ctx, content)
}

// CreateEntityRelationships 在已提取实体之间建立有向边。
// 关系提取失败是安全的空结果而非错误；重复 (source, target, type) 去重。
func (idx *Index) CreateEntityRelationships(ctx context.Context, workflowID string, entities []*types.Entity) ([]*types.Relationship, error) {
	if len(entities) < 2 || idx.extractor == nil {
		return nil, nil
	}

	extracted := make([]llm.ExtractedEntity, 0, len(entities))
	byName := make(map[string]*types.Entity, len(entities))
	for _, e := range entities {
		extracted = append(extracted, llm.ExtractedEntity{Name: e.Name, Type: string(e.Type), Confidence: e.Confidence})
		byName[strings.ToLower(e.Name)] = e
	}

	rels, err := idx.extractor.ExtractRelationships(ctx, extracted)
	if err != nil {
		idx.logger.Warn("relationship extraction failed, continuing without relationships", zap.Error(err))
		return nil, nil
	}

	g := idx.partition(workflowID)
	g.mu.Lock()
	defer g.mu.Unlock()

	var created []*types.Relationship
	for _, r := range rels {
		source, okS := byName[strings.ToLower(r.Source)]
		target, okT := byName[strings.ToLower(r.Target)]
		if !okS || !okT || source.ID == target.ID {
			continue
		}

		key := source.ID + "|" + r.Type + "|" + target.ID
		if _, exists := g.relationships[key]; exists {
			continue
		}

		rel := &types.Relationship{
			ID:         uuid.NewString(),
			WorkflowID: workflowID,
			SourceID:   source.ID,
			TargetID:   target.ID,
			Type:       r.Type,
			Confidence: r.Confidence,
			CreatedAt:  time.Now(),
		}
		g.relationships[key] = rel
		g.adjacency[source.ID] = appendUnique(g.adjacency[source.ID], target.ID)
		g.adjacency[target.ID] = appendUnique(g.adjacency[target.ID], source.ID)
		created = append(created, rel)

		if idx.repo != nil {
			if err := idx.repo.SaveRelationship(ctx, rel); err != nil {
				idx.logger.Warn("relationship mirror write failed", zap.Error(err))
			}
		}
	}

	idx.logger.Info("relationships created",
		zap.String("workflow_id", workflowID),
		zap.Int("relationships", len(created)))
	return created, nil
}

// Search 图侧检索：命中查询的实体向外遍历 2 跳，对共现段落按
// 实体命中数与关系数启发式打分。结果是混合检索的图侧输入。
func (idx *Index) Search(ctx context.Context, workflowID, query string, limit int) ([]Result, error) {
	idx.mu.RLock()
	g, ok := idx.partitions[workflowID]
	idx.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	loweredQuery := strings.ToLower(query)
	var seeds []string
	for _, entity := range g.entityByID {
		if strings.Contains(loweredQuery, strings.ToLower(entity.Name)) {
			seeds = append(seeds, entity.ID)
		}
	}
	if len(seeds) == 0 {
		return nil, nil
	}
	sort.Strings(seeds) // 遍历起点确定性

	reached := g.neighbors(seeds, 2)

	results := make([]Result, 0)
	for _, chunk := range g.chunks {
		var hits []string
		relCount := 0
		for id := range reached {
			entity := g.entityByID[id]
			if entity == nil {
				continue
			}
			if strings.Contains(chunk.lowered, strings.ToLower(entity.Name)) {
				hits = append(hits, entity.Name)
				relCount += g.degree(id)
			}
		}
		if len(hits) == 0 {
			continue
		}
		sort.Strings(hits)

		// 关系数启发式：命中实体越多、连接越密，段落越相关
		score := 0.3 + 0.15*float64(len(hits)) + 0.05*float64(relCount)
		if score > 1.0 {
			score = 1.0
		}

		results = append(results, Result{
			ChunkID:       chunk.ID,
			DocumentID:    chunk.DocumentID,
			Content:       chunk.Content,
			Score:         score,
			Entities:      hits,
			Relationships: g.relationshipLabels(hits),
		})
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// relationshipLabels 返回命中实体之间的关系描述（调用方持有读锁）
func (g *workflowGraph) relationshipLabels(entityNames []string) []string {
	names := make(map[string]bool, len(entityNames))
	for _, n := range entityNames {
		names[strings.ToLower(n)] = true
	}

	var labels []string
	for _, rel := range g.relationships {
		source := g.entityByID[rel.SourceID]
		target := g.entityByID[rel.TargetID]
		if source == nil || target == nil {
			continue
		}
		if names[strings.ToLower(source.Name)] && names[strings.ToLower(target.Name)] {
			labels = append(labels, fmt.Sprintf("%s %s %s", source.Name, rel.Type, target.Name))
		}
	}
	sort.Strings(labels)
	return labels
}

// WorkflowGraph 导出整图快照用于可视化
func (idx *Index) WorkflowGraph(ctx context.Context, workflowID string) (*Export, error) {
	idx.mu.RLock()
	g, ok := idx.partitions[workflowID]
	idx.mu.RUnlock()

	export := &Export{WorkflowID: workflowID, Nodes: []Node{}, Edges: []Edge{}}
	if !ok {
		return export, nil
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	for id, name := range g.documents {
		export.Nodes = append(export.Nodes, Node{ID: id, Type: "document", Label: name})
	}
	for _, entity := range g.entityByID {
		export.Nodes = append(export.Nodes, Node{
			ID:    entity.ID,
			Type:  string(entity.Type),
			Label: entity.Name,
			Properties: map[string]any{
				"frequency":  entity.Frequency,
				"confidence": entity.Confidence,
			},
		})
	}
	for _, rel := range g.relationships {
		export.Edges = append(export.Edges, Edge{
			ID:     rel.ID,
			Source: rel.SourceID,
			Target: rel.TargetID,
			Type:   rel.Type,
			Weight: rel.Confidence,
		})
	}
	for entityID, docs := range g.mentions {
		for _, docID := range docs {
			export.Edges = append(export.Edges, Edge{
				ID:     entityID + "->" + docID,
				Source: entityID,
				Target: docID,
				Type:   "mentioned_in",
				Weight: 1,
			})
		}
	}

	sort.Slice(export.Nodes, func(i, j int) bool { return export.Nodes[i].ID < export.Nodes[j].ID })
	sort.Slice(export.Edges, func(i, j int) bool { return export.Edges[i].ID < export.Edges[j].ID })
	return export, nil
}

// DeleteWorkflowData 丢弃整个图分区并清理持久化镜像
func (idx *Index) DeleteWorkflowData(ctx context.Context, workflowID string) error {
	idx.mu.Lock()
	delete(idx.partitions, workflowID)
	idx.mu.Unlock()

	if idx.repo != nil {
		if err := idx.repo.DeleteWorkflowGraph(ctx, workflowID); err != nil {
			return fmt.Errorf("delete workflow graph mirror: %w", err)
		}
	}
	return nil
}

func appendUnique(list []string, value string) []string {
	for _, v := range list {
		if v == value {
			return list
		}
	}
	return append(list, value)
}
