// Package graph 实现 workflow 范围内的实体/关系图索引。
//
// 每个 workflow 独占一个内存图分区：文档、chunk、实体节点和有向
// 关系边。实体以 (name, type, workflow) 幂等合并，重复提取只递增
// 频次。图侧检索从命中查询的实体出发做 1-2 跳遍历，按关系数启发式
// 给共现段落打分；与向量侧的融合在 rag.Coordinator 完成。
package graph

import (
	"strings"
	"sync"

	"github.com/BaSui01/bidflow/types"
)

// Node 导出图的节点（实体或文档）
type Node struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Label      string         `json:"label"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Edge 导出图的有向边
type Edge struct {
	ID     string  `json:"id"`
	Source string  `json:"source"`
	Target string  `json:"target"`
	Type   string  `json:"type"`
	Weight float64 `json:"weight"`
}

// Export 可视化导出的整图快照
type Export struct {
	WorkflowID string `json:"workflow_id"`
	Nodes      []Node `json:"nodes"`
	Edges      []Edge `json:"edges"`
}

// chunkRecord 图分区内缓存的段落，用于图侧候选返回
type chunkRecord struct {
	ID         string
	DocumentID string
	Content    string
	lowered    string // 预先小写，实体命中匹配用
}

// workflowGraph 单个 workflow 的图分区
type workflowGraph struct {
	mu            sync.RWMutex
	documents     map[string]string              // documentID → name
	chunks        []chunkRecord                  // 插入顺序
	entities      map[string]*types.Entity       // identityKey → entity
	entityByID    map[string]*types.Entity       // entityID → entity
	relationships map[string]*types.Relationship // src|type|tgt → edge
	adjacency     map[string][]string            // entityID → 相邻 entityID（双向）
	mentions      map[string][]string            // entityID → documentID
}

func newWorkflowGraph() *workflowGraph {
	return &workflowGraph{
		documents:     make(map[string]string),
		entities:      make(map[string]*types.Entity),
		entityByID:    make(map[string]*types.Entity),
		relationships: make(map[string]*types.Relationship),
		adjacency:     make(map[string][]string),
		mentions:      make(map[string][]string),
	}
}

// identityKey 实体幂等合并键
func identityKey(name string, entityType types.EntityType) string {
	return strings.ToLower(strings.TrimSpace(name)) + "|" + string(entityType)
}

// neighbors 从种子实体出发做限定跳数的双向遍历，返回可达实体 ID 集合（含种子）
func (g *workflowGraph) neighbors(seedIDs []string, hops int) map[string]bool {
	reached := make(map[string]bool, len(seedIDs))
	frontier := seedIDs
	for _, id := range seedIDs {
		reached[id] = true
	}

	for hop := 0; hop < hops; hop++ {
		var next []string
		for _, id := range frontier {
			for _, adj := range g.adjacency[id] {
				if !reached[adj] {
					reached[adj] = true
					next = append(next, adj)
				}
			}
		}
		if len(next) == 0 {
			break
		}
		frontier = next
	}
	return reached
}

// degree 实体的关系边数
func (g *workflowGraph) degree(entityID string) int {
	return len(g.adjacency[entityID])
}
