package types

import "time"

// DocumentStatus 文档处理状态
type DocumentStatus string

const (
	DocumentPending   DocumentStatus = "pending"
	DocumentExtracted DocumentStatus = "extracted"
	DocumentIndexed   DocumentStatus = "indexed"
	DocumentFailed    DocumentStatus = "failed"
)

// Document 上传的投标文件。摄取完成后除 Status 外不可变。
type Document struct {
	ID          string         `gorm:"primaryKey;size:64" json:"id"`
	WorkflowID  string         `gorm:"size:64;index" json:"workflow_id"`
	Name        string         `gorm:"size:255" json:"name"`
	StoragePath string         `gorm:"size:512" json:"storage_path"`
	Size        int64          `json:"size"`
	ContentType string         `gorm:"size:128" json:"content_type"`
	Status      DocumentStatus `gorm:"size:16" json:"status"`
	Text        string         `gorm:"type:text" json:"text,omitempty"`
	Metadata    JSONMap        `gorm:"type:text" json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Chunk 从文档切出的带嵌入向量的文本块。
// 由分块流水线创建后不再修改；嵌入维度必须与全局约定一致。
// Chunk 不进关系库，由向量存储各层自行持久化。
type Chunk struct {
	ID         string         `json:"id"`
	DocumentID string         `json:"document_id"`
	WorkflowID string         `json:"workflow_id"`
	Index      int            `json:"index"`
	Content    string         `json:"content"`
	Embedding  []float64      `json:"embedding,omitempty"`
	TokenCount int            `json:"token_count"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}
