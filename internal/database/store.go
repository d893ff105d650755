package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/BaSui01/bidflow/types"
)

// ErrNotFound 请求的记录不存在
var ErrNotFound = errors.New("record not found")

// Store 核心模型仓储。所有 list 操作都以 workflow 为过滤键。
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewStore 创建仓储并执行迁移
func NewStore(db *gorm.DB, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := Migrate(db); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &Store{
		db:     db,
		logger: logger.With(zap.String("component", "store")),
	}, nil
}

// =============================================================================
// 🔁 Workflow
// =============================================================================

// CreateWorkflow 创建工作流记录
func (s *Store) CreateWorkflow(ctx context.Context, wf *types.Workflow) error {
	return s.db.WithContext(ctx).Create(wf).Error
}

// GetWorkflow 按 ID 读取工作流
func (s *Store) GetWorkflow(ctx context.Context, id string) (*types.Workflow, error) {
	var wf types.Workflow
	err := s.db.WithContext(ctx).First(&wf, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("workflow %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &wf, nil
}

// UpdateWorkflow 全量保存工作流
func (s *Store) UpdateWorkflow(ctx context.Context, wf *types.Workflow) error {
	wf.UpdatedAt = time.Now()
	return s.db.WithContext(ctx).Save(wf).Error
}

// ListWorkflowsByStatus 按状态列出工作流（自修复扫描用）
func (s *Store) ListWorkflowsByStatus(ctx context.Context, status types.WorkflowStatus) ([]types.Workflow, error) {
	var workflows []types.Workflow
	err := s.db.WithContext(ctx).Where("status = ?", status).Find(&workflows).Error
	return workflows, err
}

// ListWorkflows 列出全部工作流
func (s *Store) ListWorkflows(ctx context.Context) ([]types.Workflow, error) {
	var workflows []types.Workflow
	err := s.db.WithContext(ctx).Order("created_at").Find(&workflows).Error
	return workflows, err
}

// DeleteWorkflow 级联删除工作流及其全部子记录
func (s *Store) DeleteWorkflow(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, model := range []any{
			&types.Answer{}, &types.Question{}, &types.Requirement{},
			&types.Relationship{}, &types.Entity{},
			&types.StepResult{}, &types.Document{},
		} {
			if err := tx.Where("workflow_id = ?", id).Delete(model).Error; err != nil {
				return err
			}
		}
		return tx.Delete(&types.Workflow{}, "id = ?", id).Error
	})
}

// =============================================================================
// 📝 StepResult（仅追加）
// =============================================================================

// SaveStepResult 追加步骤结果
func (s *Store) SaveStepResult(ctx context.Context, result *types.StepResult) error {
	return s.db.WithContext(ctx).Create(result).Error
}

// LatestStepResult 返回某步骤最新一条结果，不存在时返回 ErrNotFound
func (s *Store) LatestStepResult(ctx context.Context, workflowID string, step types.StepName) (*types.StepResult, error) {
	var result types.StepResult
	err := s.db.WithContext(ctx).
		Where("workflow_id = ? AND step = ?", workflowID, step).
		Order("created_at DESC").
		First(&result).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("step result %s/%s: %w", workflowID, step, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// ListStepResults 按时间顺序列出工作流的全部步骤结果
func (s *Store) ListStepResults(ctx context.Context, workflowID string) ([]types.StepResult, error) {
	var results []types.StepResult
	err := s.db.WithContext(ctx).
		Where("workflow_id = ?", workflowID).
		Order("created_at").
		Find(&results).Error
	return results, err
}

// =============================================================================
// 📄 Document
// =============================================================================

// CreateDocument 创建文档记录
func (s *Store) CreateDocument(ctx context.Context, doc *types.Document) error {
	return s.db.WithContext(ctx).Create(doc).Error
}

// UpdateDocument 全量保存文档（摄取后写回全文与元信息）
func (s *Store) UpdateDocument(ctx context.Context, doc *types.Document) error {
	doc.UpdatedAt = time.Now()
	return s.db.WithContext(ctx).Save(doc).Error
}

// UpdateDocumentStatus 更新文档处理状态
func (s *Store) UpdateDocumentStatus(ctx context.Context, id string, status types.DocumentStatus) error {
	return s.db.WithContext(ctx).
		Model(&types.Document{}).
		Where("id = ?", id).
		Update("status", status).Error
}

// ListDocuments 列出工作流的全部文档
func (s *Store) ListDocuments(ctx context.Context, workflowID string) ([]types.Document, error) {
	var docs []types.Document
	err := s.db.WithContext(ctx).
		Where("workflow_id = ?", workflowID).
		Order("created_at").
		Find(&docs).Error
	return docs, err
}

// =============================================================================
// 📋 Requirement / Question / Answer
// =============================================================================

// CreateRequirements 批量创建需求
func (s *Store) CreateRequirements(ctx context.Context, reqs []types.Requirement) error {
	if len(reqs) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Create(&reqs).Error
}

// ListRequirements 列出工作流的全部需求
func (s *Store) ListRequirements(ctx context.Context, workflowID string) ([]types.Requirement, error) {
	var reqs []types.Requirement
	err := s.db.WithContext(ctx).
		Where("workflow_id = ?", workflowID).
		Order("created_at").
		Find(&reqs).Error
	return reqs, err
}

// CreateQuestions 批量创建澄清问题
func (s *Store) CreateQuestions(ctx context.Context, questions []types.Question) error {
	if len(questions) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Create(&questions).Error
}

// ListQuestions 列出工作流的全部问题
func (s *Store) ListQuestions(ctx context.Context, workflowID string) ([]types.Question, error) {
	var questions []types.Question
	err := s.db.WithContext(ctx).
		Where("workflow_id = ?", workflowID).
		Order("created_at").
		Find(&questions).Error
	return questions, err
}

// CreateAnswers 批量创建答案
func (s *Store) CreateAnswers(ctx context.Context, answers []types.Answer) error {
	if len(answers) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Create(&answers).Error
}

// ListAnswers 列出工作流的全部答案
func (s *Store) ListAnswers(ctx context.Context, workflowID string) ([]types.Answer, error) {
	var answers []types.Answer
	err := s.db.WithContext(ctx).
		Where("workflow_id = ?", workflowID).
		Order("created_at").
		Find(&answers).Error
	return answers, err
}

// =============================================================================
// 🕸️ 图镜像（实现 graph.Repository）
// =============================================================================

// SaveEntity 以 (workflow_id, name, type) 为冲突键 upsert 实体
func (s *Store) SaveEntity(ctx context.Context, entity *types.Entity) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "workflow_id"}, {Name: "name"}, {Name: "type"},
		},
		DoUpdates: clause.AssignmentColumns([]string{"frequency", "confidence", "updated_at"}),
	}).Create(entity).Error
}

// SaveRelationship 写入关系边，主键冲突时忽略
func (s *Store) SaveRelationship(ctx context.Context, rel *types.Relationship) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(rel).Error
}

// ListEntities 列出工作流的全部实体
func (s *Store) ListEntities(ctx context.Context, workflowID string) ([]types.Entity, error) {
	var entities []types.Entity
	err := s.db.WithContext(ctx).
		Where("workflow_id = ?", workflowID).
		Order("name").
		Find(&entities).Error
	return entities, err
}

// ListRelationships 列出工作流的全部关系
func (s *Store) ListRelationships(ctx context.Context, workflowID string) ([]types.Relationship, error) {
	var rels []types.Relationship
	err := s.db.WithContext(ctx).
		Where("workflow_id = ?", workflowID).
		Order("created_at").
		Find(&rels).Error
	return rels, err
}

// DeleteWorkflowGraph 删除工作流的全部图数据
func (s *Store) DeleteWorkflowGraph(ctx context.Context, workflowID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("workflow_id = ?", workflowID).Delete(&types.Relationship{}).Error; err != nil {
			return err
		}
		return tx.Where("workflow_id = ?", workflowID).Delete(&types.Entity{}).Error
	})
}
