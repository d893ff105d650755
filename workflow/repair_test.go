package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/bidflow/config"
	"github.com/BaSui01/bidflow/internal/cache"
	"github.com/BaSui01/bidflow/internal/database"
	"github.com/BaSui01/bidflow/types"
)

func newRepairFixture(t *testing.T) (*database.Store, *Sweeper) {
	t.Helper()
	logger := zap.NewNop()
	db, err := database.Open(config.DatabaseConfig{Driver: "sqlite", Path: ":memory:"}, logger)
	require.NoError(t, err)
	store, err := database.NewStore(db, logger)
	require.NoError(t, err)

	sweeper := NewSweeper(store, cache.NewDisabled(logger), nil, time.Minute, 30*time.Minute, logger)
	return store, sweeper
}

func seedWorkflow(t *testing.T, store *database.Store, mutate func(wf *types.Workflow)) *types.Workflow {
	t.Helper()
	wf := &types.Workflow{
		ID:          uuid.NewString(),
		Status:      types.WorkflowPending,
		CurrentStep: types.StepDocumentIngestion,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	if mutate != nil {
		mutate(wf)
	}
	require.NoError(t, store.CreateWorkflow(context.Background(), wf))
	return wf
}

func TestSweepClampsOutOfRangeProgress(t *testing.T) {
	ctx := context.Background()
	store, sweeper := newRepairFixture(t)

	over := seedWorkflow(t, store, func(wf *types.Workflow) { wf.Progress = 150 })
	under := seedWorkflow(t, store, func(wf *types.Workflow) { wf.Progress = -20 })

	repaired, err := sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, repaired)

	got, err := store.GetWorkflow(ctx, over.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, got.Progress)
	assert.Equal(t, types.WorkflowPending, got.Status)

	got, err = store.GetWorkflow(ctx, under.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Progress)
}

func TestSweepFailsRunningWithFailedStep(t *testing.T) {
	ctx := context.Background()
	store, sweeper := newRepairFixture(t)

	wf := seedWorkflow(t, store, func(wf *types.Workflow) {
		wf.Status = types.WorkflowRunning
		wf.CurrentStep = types.StepFailed
		wf.Progress = 50
	})

	repaired, err := sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, repaired)

	got, err := store.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, types.WorkflowFailed, got.Status)
	assert.NotEmpty(t, got.ErrorMessage)
}

func TestSweepFailsRunningAfterCompletion(t *testing.T) {
	ctx := context.Background()
	store, sweeper := newRepairFixture(t)

	done := time.Now().Add(-time.Hour)
	wf := seedWorkflow(t, store, func(wf *types.Workflow) {
		wf.Status = types.WorkflowRunning
		wf.CurrentStep = types.StepResponseCompilation
		wf.CompletedAt = &done
	})

	repaired, err := sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, repaired)

	got, err := store.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, types.WorkflowFailed, got.Status)
}

func TestSweepFailsStaleRunningWorkflow(t *testing.T) {
	ctx := context.Background()
	store, _ := newRepairFixture(t)

	logger := zap.NewNop()
	// 纳秒级过期阈值让任何 running 工作流立刻视为过期
	sweeper := NewSweeper(store, cache.NewDisabled(logger), nil, time.Minute, time.Nanosecond, logger)

	wf := seedWorkflow(t, store, func(wf *types.Workflow) {
		wf.Status = types.WorkflowRunning
		wf.CurrentStep = types.StepAnswerExtraction
		wf.Progress = 70
	})
	time.Sleep(5 * time.Millisecond)

	repaired, err := sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, repaired)

	got, err := store.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, types.WorkflowFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "staleness")
	assert.NotNil(t, got.CompletedAt)
}

func TestSweepLeavesHealthyWorkflowsAlone(t *testing.T) {
	ctx := context.Background()
	store, sweeper := newRepairFixture(t)

	done := time.Now()
	completed := seedWorkflow(t, store, func(wf *types.Workflow) {
		wf.Status = types.WorkflowCompleted
		wf.CurrentStep = types.StepCompleted
		wf.Progress = 100
		wf.CompletedAt = &done
	})
	seedWorkflow(t, store, func(wf *types.Workflow) {
		wf.Status = types.WorkflowRunning
		wf.CurrentStep = types.StepRequirementsAnalysis
		wf.Progress = 10
	})

	repaired, err := sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, repaired)

	got, err := store.GetWorkflow(ctx, completed.ID)
	require.NoError(t, err)
	assert.Equal(t, types.WorkflowCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
}

func TestSweeperRunStopsOnContextCancel(t *testing.T) {
	store, _ := newRepairFixture(t)
	logger := zap.NewNop()
	sweeper := NewSweeper(store, cache.NewDisabled(logger), nil, time.Millisecond, time.Hour, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after context cancellation")
	}
}
