package types

import "time"

// EntityType 实体类型（封闭集合）
type EntityType string

const (
	EntityPerson       EntityType = "person"
	EntityOrganization EntityType = "organization"
	EntityLocation     EntityType = "location"
	EntityTechnology   EntityType = "technology"
	EntityConcept      EntityType = "concept"
)

// ValidEntityType 报告 t 是否属于封闭集合。
func ValidEntityType(t EntityType) bool {
	switch t {
	case EntityPerson, EntityOrganization, EntityLocation, EntityTechnology, EntityConcept:
		return true
	}
	return false
}

// Entity 从文档内容中提取的实体节点。
// 以 (Name, Type, WorkflowID) 唯一；重复提取只递增 Frequency，绝不产生副本。
type Entity struct {
	ID         string     `gorm:"primaryKey;size:64" json:"id"`
	WorkflowID string     `gorm:"size:64;index:idx_entity_identity,unique" json:"workflow_id"`
	Name       string     `gorm:"size:255;index:idx_entity_identity,unique" json:"name"`
	Type       EntityType `gorm:"size:32;index:idx_entity_identity,unique" json:"type"`
	Frequency  int        `json:"frequency"`
	Confidence float64    `json:"confidence"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Relationship 实体间的有向边。
// 同一对实体之间的不同关系类型是不同的边。
type Relationship struct {
	ID         string    `gorm:"primaryKey;size:64" json:"id"`
	WorkflowID string    `gorm:"size:64;index" json:"workflow_id"`
	SourceID   string    `gorm:"size:64;index" json:"source_id"`
	TargetID   string    `gorm:"size:64;index" json:"target_id"`
	Type       string    `gorm:"size:64" json:"type"`
	Confidence float64   `json:"confidence"`
	CreatedAt  time.Time `json:"created_at"`
}
