package types

import "time"

// WorkflowStatus 工作流生命周期状态
type WorkflowStatus string

const (
	WorkflowPending   WorkflowStatus = "pending"
	WorkflowRunning   WorkflowStatus = "running"
	WorkflowCompleted WorkflowStatus = "completed"
	WorkflowFailed    WorkflowStatus = "failed"
)

// StepName 流水线步骤名称
type StepName string

const (
	StepDocumentIngestion      StepName = "document_ingestion"
	StepRequirementsAnalysis   StepName = "requirements_analysis"
	StepClarificationQuestions StepName = "clarification_questions"
	StepAnswerExtraction       StepName = "answer_extraction"
	StepResponseCompilation    StepName = "response_compilation"
	StepCompleted              StepName = "completed"
	StepFailed                 StepName = "failed"
)

// StepOrder 步骤的固定执行顺序
var StepOrder = []StepName{
	StepDocumentIngestion,
	StepRequirementsAnalysis,
	StepClarificationQuestions,
	StepAnswerExtraction,
	StepResponseCompilation,
}

// StepCheckpoints 每个步骤完成后持久化的进度检查点
var StepCheckpoints = map[StepName]int{
	StepDocumentIngestion:      10,
	StepRequirementsAnalysis:   30,
	StepClarificationQuestions: 50,
	StepAnswerExtraction:       70,
	StepResponseCompilation:    90,
	StepCompleted:              100,
}

// PrecedingStep 返回 step 的前驱步骤。第一个步骤没有前驱，返回 ok=false。
func PrecedingStep(step StepName) (StepName, bool) {
	for i, s := range StepOrder {
		if s == step {
			if i == 0 {
				return "", false
			}
			return StepOrder[i-1], true
		}
	}
	return "", false
}

// StepsFrom 返回从 step 开始（含）到末尾的步骤序列。
// step 不在序列中时返回 nil。
func StepsFrom(step StepName) []StepName {
	for i, s := range StepOrder {
		if s == step {
			return StepOrder[i:]
		}
	}
	return nil
}

// ClampProgress 将进度限制在 [0,100]。
func ClampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// Workflow 一次投标提交的端到端处理实例。
// 状态机在每次步骤转换时更新 Status / CurrentStep / Progress，
// 并在显式销毁时级联删除其全部子记录。
type Workflow struct {
	ID             string         `gorm:"primaryKey;size:64" json:"id"`
	Status         WorkflowStatus `gorm:"size:16;index" json:"status"`
	CurrentStep    StepName       `gorm:"size:40" json:"current_step"`
	Progress       int            `json:"progress"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	ProjectContext JSONMap        `gorm:"type:text" json:"project_context,omitempty"`
	StartedAt      *time.Time     `json:"started_at,omitempty"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// StepResult 步骤结果审计记录（仅追加）。
// 同一步骤名下最新一条记录是 resume 逻辑的权威输入。
type StepResult struct {
	ID             string        `gorm:"primaryKey;size:64" json:"id"`
	WorkflowID     string        `gorm:"size:64;index" json:"workflow_id"`
	Step           StepName      `gorm:"size:40;index" json:"step"`
	Payload        JSONMap       `gorm:"type:text" json:"payload"`
	Confidence     float64       `json:"confidence"`
	ProcessingTime time.Duration `json:"processing_time"`
	CreatedAt      time.Time     `json:"created_at"`
}
