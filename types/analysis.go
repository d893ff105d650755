package types

import "time"

// Priority 优先级
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Requirement 需求分析步骤产出的需求条目。
type Requirement struct {
	ID          string    `gorm:"primaryKey;size:64" json:"id"`
	WorkflowID  string    `gorm:"size:64;index" json:"workflow_id"`
	Category    string    `gorm:"size:64" json:"category"`
	Priority    Priority  `gorm:"size:8" json:"priority"`
	Description string    `gorm:"type:text" json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// Question 澄清问题，回指产生它的需求。
type Question struct {
	ID            string    `gorm:"primaryKey;size:64" json:"id"`
	WorkflowID    string    `gorm:"size:64;index" json:"workflow_id"`
	RequirementID string    `gorm:"size:64;index" json:"requirement_id"`
	Category      string    `gorm:"size:64" json:"category"`
	Priority      Priority  `gorm:"size:8" json:"priority"`
	Text          string    `gorm:"type:text" json:"text"`
	CreatedAt     time.Time `json:"created_at"`
}

// Citation 答案的来源引用。
type Citation struct {
	DocumentID string  `json:"document_id"`
	Excerpt    string  `json:"excerpt"`
	Similarity float64 `json:"similarity"`
}

// Answer 检索+综合得到的答案，回指问题并携带来源引用。
// Confidence 取值范围 [0,1]。
type Answer struct {
	ID         string    `gorm:"primaryKey;size:64" json:"id"`
	WorkflowID string    `gorm:"size:64;index" json:"workflow_id"`
	QuestionID string    `gorm:"size:64;index" json:"question_id"`
	Category   string    `gorm:"size:64" json:"category"`
	Priority   Priority  `gorm:"size:8" json:"priority"`
	Text       string    `gorm:"type:text" json:"text"`
	Confidence float64   `json:"confidence"`
	Citations  JSONSlice `gorm:"type:text" json:"citations"`
	CreatedAt  time.Time `json:"created_at"`
}
