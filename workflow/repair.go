package workflow

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/bidflow/internal/cache"
	"github.com/BaSui01/bidflow/internal/database"
	"github.com/BaSui01/bidflow/internal/metrics"
	"github.com/BaSui01/bidflow/types"
)

// Sweeper 周期性自修复扫描。
// 修复四类已知不一致状态并落库，同时把修复镜像到读缓存：
//   - 进度越界 → 夹回 [0,100]
//   - running 状态 + failed 当前步骤 → 强制 failed
//   - 有结束时间戳却仍 running → 强制 failed
//   - running 超过过期阈值无进度更新 → 强制 failed 并写说明
type Sweeper struct {
	store     *database.Store
	cache     *cache.Manager
	metrics   *metrics.Collector
	interval  time.Duration
	staleness time.Duration
	logger    *zap.Logger
}

// NewSweeper 创建自修复扫描器
func NewSweeper(store *database.Store, cacheMgr *cache.Manager, collector *metrics.Collector,
	interval, staleness time.Duration, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	if staleness <= 0 {
		staleness = 30 * time.Minute
	}
	return &Sweeper{
		store:     store,
		cache:     cacheMgr,
		metrics:   collector,
		interval:  interval,
		staleness: staleness,
		logger:    logger.With(zap.String("component", "repair_sweeper")),
	}
}

// Run 以固定间隔扫描直到 ctx 取消
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("repair sweeper started",
		zap.Duration("interval", s.interval),
		zap.Duration("staleness_threshold", s.staleness))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("repair sweeper stopped")
			return
		case <-ticker.C:
			if repaired, err := s.SweepOnce(ctx); err != nil {
				s.logger.Error("repair sweep failed", zap.Error(err))
			} else if repaired > 0 {
				s.logger.Info("repair sweep completed", zap.Int("repaired", repaired))
			}
		}
	}
}

// SweepOnce 执行一轮扫描，返回修复的工作流数量
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	workflows, err := s.store.ListWorkflows(ctx)
	if err != nil {
		return 0, err
	}

	repaired := 0
	for i := range workflows {
		wf := &workflows[i]
		rules := s.repair(wf)
		if len(rules) == 0 {
			continue
		}

		if err := s.store.UpdateWorkflow(ctx, wf); err != nil {
			s.logger.Error("failed to persist repair",
				zap.String("workflow_id", wf.ID),
				zap.Error(err))
			continue
		}
		// 修复必须镜像进缓存，否则读侧还会看到坏状态
		if s.cache != nil {
			_ = s.cache.Delete(ctx, workflowCacheKey(wf.ID))
		}

		for _, rule := range rules {
			if s.metrics != nil {
				s.metrics.RecordRepair(rule)
			}
			s.logger.Warn("workflow state repaired",
				zap.String("workflow_id", wf.ID),
				zap.String("rule", rule))
		}
		repaired++
	}
	return repaired, nil
}

// repair 对单个工作流应用全部修复规则，返回命中的规则名
func (s *Sweeper) repair(wf *types.Workflow) []string {
	var rules []string
	now := time.Now()

	if wf.Progress < 0 || wf.Progress > 100 {
		wf.Progress = types.ClampProgress(wf.Progress)
		rules = append(rules, "progress_out_of_range")
	}

	if wf.Status == types.WorkflowRunning && wf.CurrentStep == types.StepFailed {
		wf.Status = types.WorkflowFailed
		if wf.ErrorMessage == "" {
			wf.ErrorMessage = "repaired: running status with failed step"
		}
		rules = append(rules, "running_with_failed_step")
	}

	if wf.Status == types.WorkflowRunning && wf.CompletedAt != nil {
		wf.Status = types.WorkflowFailed
		if wf.ErrorMessage == "" {
			wf.ErrorMessage = "repaired: running status with completion timestamp"
		}
		rules = append(rules, "running_after_completion")
	}

	if wf.Status == types.WorkflowRunning && now.Sub(wf.UpdatedAt) > s.staleness {
		wf.Status = types.WorkflowFailed
		wf.ErrorMessage = "repaired: no progress update within staleness threshold"
		completed := now
		wf.CompletedAt = &completed
		rules = append(rules, "stale_running")
	}

	return rules
}
