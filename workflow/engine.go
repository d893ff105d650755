// Package workflow 实现投标分析流水线的持久化状态机。
//
// 生命周期 pending → running → {completed | failed}，五个步骤严格
// 顺序执行：文档摄取 → 需求分析 → 澄清问题 → 答案检索 → 响应汇编。
// 每次步骤转换都先把状态、当前步骤、检查点进度和 StepResult 持久化
// 后才进入下一步；进度始终夹在 [0,100] 且运行期单调不减。
//
// Resume 从指定步骤重跑：要求前驱步骤的 StepResult 已存在，
// 否则以前置条件错误拒绝。自修复扫描见 repair.go。
package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/bidflow/config"
	"github.com/BaSui01/bidflow/extract"
	"github.com/BaSui01/bidflow/graph"
	"github.com/BaSui01/bidflow/internal/cache"
	"github.com/BaSui01/bidflow/internal/database"
	"github.com/BaSui01/bidflow/internal/metrics"
	"github.com/BaSui01/bidflow/llm"
	"github.com/BaSui01/bidflow/rag"
	"github.com/BaSui01/bidflow/types"
	"github.com/BaSui01/bidflow/vectorstore"
)

// Services 流水线依赖的全部协作方。
// 进程启动时装配一次，按引用传入各组件，不使用包级单例。
type Services struct {
	Store     *database.Store
	Cache     *cache.Manager
	Vector    *vectorstore.TieredStore
	Graph     *graph.Index
	Retriever *rag.Coordinator
	Pipeline  *rag.Pipeline
	Extractor extract.Extractor
	LLM       llm.Provider
	Metrics   *metrics.Collector
	Config    *config.Config
	Logger    *zap.Logger
}

// workflowCacheKey workflow 读缓存键
func workflowCacheKey(id string) string { return "workflow:" + id }

// Engine 工作流状态机
type Engine struct {
	svc    *Services
	steps  []Step
	logger *zap.Logger
}

// NewEngine 创建状态机引擎
func NewEngine(svc *Services) (*Engine, error) {
	if svc == nil || svc.Store == nil {
		return nil, types.NewError(types.ErrConfiguration, "workflow engine requires a store")
	}
	if svc.Logger == nil {
		svc.Logger = zap.NewNop()
	}

	e := &Engine{
		svc:    svc,
		logger: svc.Logger.With(zap.String("component", "workflow_engine")),
	}
	e.steps = []Step{
		&ingestionStep{svc: svc},
		&requirementsStep{svc: svc},
		&questionsStep{svc: svc},
		&answersStep{svc: svc},
		&compilationStep{svc: svc},
	}
	return e, nil
}

// Create 创建一个 pending 工作流及其文档记录
func (e *Engine) Create(ctx context.Context, projectContext types.JSONMap, docs []types.Document) (*types.Workflow, error) {
	wf := &types.Workflow{
		ID:             uuid.NewString(),
		Status:         types.WorkflowPending,
		CurrentStep:    types.StepDocumentIngestion,
		Progress:       0,
		ProjectContext: projectContext,
		CreatedAt:      time.Now(),
	}
	if err := e.svc.Store.CreateWorkflow(ctx, wf); err != nil {
		return nil, fmt.Errorf("create workflow: %w", err)
	}

	for i := range docs {
		docs[i].WorkflowID = wf.ID
		if docs[i].ID == "" {
			docs[i].ID = uuid.NewString()
		}
		if docs[i].Status == "" {
			docs[i].Status = types.DocumentPending
		}
		if err := e.svc.Store.CreateDocument(ctx, &docs[i]); err != nil {
			return nil, fmt.Errorf("create document: %w", err)
		}
	}

	e.logger.Info("workflow created",
		zap.String("workflow_id", wf.ID),
		zap.Int("documents", len(docs)))
	return wf, nil
}

// Run 从头执行整个流水线
func (e *Engine) Run(ctx context.Context, workflowID string) error {
	return e.run(ctx, workflowID, e.steps)
}

// Resume 从指定步骤恢复执行。
// 前驱步骤的 StepResult 必须已存在，否则返回前置条件错误；
// 第一个步骤没有前驱，总是允许。
func (e *Engine) Resume(ctx context.Context, workflowID string, fromStep types.StepName) error {
	remaining := types.StepsFrom(fromStep)
	if remaining == nil {
		return types.NewError(types.ErrPrecondition,
			fmt.Sprintf("unknown resume step %q", fromStep))
	}

	if preceding, ok := types.PrecedingStep(fromStep); ok {
		if _, err := e.svc.Store.LatestStepResult(ctx, workflowID, preceding); err != nil {
			if errors.Is(err, database.ErrNotFound) {
				return types.NewError(types.ErrPrecondition,
					fmt.Sprintf("cannot resume from %s: no persisted result for preceding step %s", fromStep, preceding))
			}
			return err
		}
	}

	var steps []Step
	for _, s := range e.steps {
		for _, name := range remaining {
			if s.Name() == name {
				steps = append(steps, s)
			}
		}
	}

	e.logger.Info("resuming workflow",
		zap.String("workflow_id", workflowID),
		zap.String("from_step", string(fromStep)))
	return e.run(ctx, workflowID, steps)
}

// run 顺序执行 steps，每步落盘后才进入下一步
func (e *Engine) run(ctx context.Context, workflowID string, steps []Step) error {
	wf, err := e.svc.Store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}

	now := time.Now()
	wf.Status = types.WorkflowRunning
	wf.ErrorMessage = ""
	wf.CompletedAt = nil
	if wf.StartedAt == nil {
		wf.StartedAt = &now
	}
	if err := e.persistWorkflow(ctx, wf); err != nil {
		return err
	}

	for _, step := range steps {
		if err := e.runStep(ctx, wf, step); err != nil {
			e.markFailed(ctx, wf, step.Name(), err)
			return err
		}
	}

	done := time.Now()
	wf.Status = types.WorkflowCompleted
	wf.CurrentStep = types.StepCompleted
	wf.Progress = e.advanceProgress(wf.Progress, types.StepCheckpoints[types.StepCompleted])
	wf.CompletedAt = &done
	if err := e.persistWorkflow(ctx, wf); err != nil {
		return err
	}

	e.logger.Info("workflow completed",
		zap.String("workflow_id", wf.ID),
		zap.Duration("elapsed", done.Sub(*wf.StartedAt)))
	return nil
}

// runStep 执行单个步骤并持久化其转换
func (e *Engine) runStep(ctx context.Context, wf *types.Workflow, step Step) error {
	wf.CurrentStep = step.Name()
	if err := e.persistWorkflow(ctx, wf); err != nil {
		return err
	}

	stepCtx := ctx
	if timeout := e.svc.Config.Workflow.StepTimeout; timeout > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	e.logger.Info("step started",
		zap.String("workflow_id", wf.ID),
		zap.String("step", string(step.Name())))

	start := time.Now()
	output, err := step.Run(stepCtx, wf)
	elapsed := time.Since(start)

	if e.svc.Metrics != nil {
		outcome := "success"
		if err != nil {
			outcome = "fatal"
		}
		e.svc.Metrics.RecordWorkflowStep(string(step.Name()), outcome, elapsed)
	}
	if err != nil {
		return err
	}

	result := &types.StepResult{
		ID:             uuid.NewString(),
		WorkflowID:     wf.ID,
		Step:           step.Name(),
		Payload:        output.Payload,
		Confidence:     output.Confidence,
		ProcessingTime: elapsed,
		CreatedAt:      time.Now(),
	}
	if err := e.svc.Store.SaveStepResult(ctx, result); err != nil {
		return fmt.Errorf("persist step result: %w", err)
	}

	// 检查点进度：单调不减且夹在 [0,100]
	wf.Progress = e.advanceProgress(wf.Progress, types.StepCheckpoints[step.Name()])
	if err := e.persistWorkflow(ctx, wf); err != nil {
		return err
	}

	e.logger.Info("step completed",
		zap.String("workflow_id", wf.ID),
		zap.String("step", string(step.Name())),
		zap.Int("progress", wf.Progress),
		zap.Duration("elapsed", elapsed))
	return nil
}

// advanceProgress 进度只前进不后退
func (e *Engine) advanceProgress(current, checkpoint int) int {
	next := types.ClampProgress(checkpoint)
	if next < current {
		return current
	}
	return next
}

// markFailed 持久化致命失败
func (e *Engine) markFailed(ctx context.Context, wf *types.Workflow, step types.StepName, cause error) {
	now := time.Now()
	wf.Status = types.WorkflowFailed
	wf.CurrentStep = types.StepFailed
	wf.ErrorMessage = fmt.Sprintf("step %s failed: %v", step, cause)
	wf.CompletedAt = &now

	if err := e.persistWorkflow(ctx, wf); err != nil {
		e.logger.Error("failed to persist workflow failure",
			zap.String("workflow_id", wf.ID),
			zap.Error(err))
	}

	e.logger.Error("workflow failed",
		zap.String("workflow_id", wf.ID),
		zap.String("step", string(step)),
		zap.Error(cause))
}

// persistWorkflow 落库并失效读缓存
func (e *Engine) persistWorkflow(ctx context.Context, wf *types.Workflow) error {
	if err := e.svc.Store.UpdateWorkflow(ctx, wf); err != nil {
		return fmt.Errorf("persist workflow: %w", err)
	}
	if e.svc.Cache != nil {
		_ = e.svc.Cache.Delete(ctx, workflowCacheKey(wf.ID))
	}
	return nil
}

// GetWorkflow 读取工作流，经缓存 memoize
func (e *Engine) GetWorkflow(ctx context.Context, id string) (*types.Workflow, error) {
	if e.svc.Cache != nil {
		var cached types.Workflow
		if err := e.svc.Cache.GetJSON(ctx, workflowCacheKey(id), &cached); err == nil {
			if e.svc.Metrics != nil {
				e.svc.Metrics.RecordCacheHit("workflow")
			}
			return &cached, nil
		}
		if e.svc.Metrics != nil {
			e.svc.Metrics.RecordCacheMiss("workflow")
		}
	}

	wf, err := e.svc.Store.GetWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.svc.Cache != nil {
		_ = e.svc.Cache.SetJSON(ctx, workflowCacheKey(id), wf, 0)
	}
	return wf, nil
}

// Teardown 级联删除工作流的全部数据：关系库、向量分区、图分区、缓存
func (e *Engine) Teardown(ctx context.Context, workflowID string) error {
	if err := e.svc.Vector.Clear(ctx, workflowID); err != nil {
		return fmt.Errorf("clear vector partition: %w", err)
	}
	if err := e.svc.Graph.DeleteWorkflowData(ctx, workflowID); err != nil {
		return fmt.Errorf("delete graph partition: %w", err)
	}
	if err := e.svc.Store.DeleteWorkflow(ctx, workflowID); err != nil {
		return fmt.Errorf("delete workflow records: %w", err)
	}
	if e.svc.Cache != nil {
		_ = e.svc.Cache.Delete(ctx, workflowCacheKey(workflowID))
	}
	e.logger.Info("workflow torn down", zap.String("workflow_id", workflowID))
	return nil
}
