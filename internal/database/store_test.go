package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/bidflow/config"
	"github.com/BaSui01/bidflow/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := Open(config.DatabaseConfig{Driver: "sqlite", Path: ":memory:"}, zap.NewNop())
	require.NoError(t, err)

	store, err := NewStore(db, zap.NewNop())
	require.NoError(t, err)
	return store
}

func TestWorkflowCRUD(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	wf := &types.Workflow{
		ID:          uuid.NewString(),
		Status:      types.WorkflowPending,
		CurrentStep: types.StepDocumentIngestion,
		ProjectContext: types.JSONMap{
			"project": "harbor bridge",
		},
	}
	require.NoError(t, store.CreateWorkflow(ctx, wf))

	loaded, err := store.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, types.WorkflowPending, loaded.Status)
	assert.Equal(t, "harbor bridge", loaded.ProjectContext["project"])

	loaded.Status = types.WorkflowRunning
	loaded.Progress = 30
	require.NoError(t, store.UpdateWorkflow(ctx, loaded))

	reloaded, err := store.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, types.WorkflowRunning, reloaded.Status)
	assert.Equal(t, 30, reloaded.Progress)

	_, err = store.GetWorkflow(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestListWorkflowsByStatus(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	for _, status := range []types.WorkflowStatus{
		types.WorkflowRunning, types.WorkflowRunning, types.WorkflowCompleted,
	} {
		require.NoError(t, store.CreateWorkflow(ctx, &types.Workflow{
			ID: uuid.NewString(), Status: status,
		}))
	}

	running, err := store.ListWorkflowsByStatus(ctx, types.WorkflowRunning)
	require.NoError(t, err)
	assert.Len(t, running, 2)
}

func TestLatestStepResult(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	wfID := uuid.NewString()

	older := &types.StepResult{
		ID: uuid.NewString(), WorkflowID: wfID,
		Step:      types.StepRequirementsAnalysis,
		Payload:   types.JSONMap{"requirements": 3.0},
		CreatedAt: time.Now().Add(-time.Hour),
	}
	newer := &types.StepResult{
		ID: uuid.NewString(), WorkflowID: wfID,
		Step:      types.StepRequirementsAnalysis,
		Payload:   types.JSONMap{"requirements": 5.0},
		CreatedAt: time.Now(),
	}
	require.NoError(t, store.SaveStepResult(ctx, older))
	require.NoError(t, store.SaveStepResult(ctx, newer))

	// 同一步骤多条记录时最新一条是权威输入
	latest, err := store.LatestStepResult(ctx, wfID, types.StepRequirementsAnalysis)
	require.NoError(t, err)
	assert.Equal(t, newer.ID, latest.ID)
	assert.Equal(t, 5.0, latest.Payload["requirements"])

	_, err = store.LatestStepResult(ctx, wfID, types.StepAnswerExtraction)
	assert.True(t, errors.Is(err, ErrNotFound))

	all, err := store.ListStepResults(ctx, wfID)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestEntityUpsertByIdentity(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	wfID := uuid.NewString()

	entity := &types.Entity{
		ID: uuid.NewString(), WorkflowID: wfID,
		Name: "Acme Corp", Type: types.EntityOrganization,
		Frequency: 1, Confidence: 0.8,
	}
	require.NoError(t, store.SaveEntity(ctx, entity))

	// 同一 (workflow, name, type) 再写：合并而非新增
	entity.Frequency = 2
	require.NoError(t, store.SaveEntity(ctx, entity))

	entities, err := store.ListEntities(ctx, wfID)
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.Equal(t, 2, entities[0].Frequency)

	// 不同 workflow 下同名实体互不影响
	other := &types.Entity{
		ID: uuid.NewString(), WorkflowID: uuid.NewString(),
		Name: "Acme Corp", Type: types.EntityOrganization, Frequency: 1,
	}
	require.NoError(t, store.SaveEntity(ctx, other))

	entities, err = store.ListEntities(ctx, wfID)
	require.NoError(t, err)
	assert.Len(t, entities, 1)
}

func TestDeleteWorkflowCascades(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	wfID := uuid.NewString()

	require.NoError(t, store.CreateWorkflow(ctx, &types.Workflow{ID: wfID, Status: types.WorkflowCompleted}))
	require.NoError(t, store.CreateDocument(ctx, &types.Document{ID: uuid.NewString(), WorkflowID: wfID}))
	require.NoError(t, store.CreateRequirements(ctx, []types.Requirement{
		{ID: uuid.NewString(), WorkflowID: wfID, Category: "technical"},
	}))
	require.NoError(t, store.CreateQuestions(ctx, []types.Question{
		{ID: uuid.NewString(), WorkflowID: wfID, Text: "q"},
	}))
	require.NoError(t, store.CreateAnswers(ctx, []types.Answer{
		{ID: uuid.NewString(), WorkflowID: wfID, Text: "a", Citations: types.JSONSlice{}},
	}))
	require.NoError(t, store.SaveEntity(ctx, &types.Entity{
		ID: uuid.NewString(), WorkflowID: wfID, Name: "E", Type: types.EntityConcept, Frequency: 1,
	}))
	require.NoError(t, store.SaveStepResult(ctx, &types.StepResult{
		ID: uuid.NewString(), WorkflowID: wfID, Step: types.StepDocumentIngestion, Payload: types.JSONMap{},
	}))

	require.NoError(t, store.DeleteWorkflow(ctx, wfID))

	_, err := store.GetWorkflow(ctx, wfID)
	assert.True(t, errors.Is(err, ErrNotFound))

	docs, err := store.ListDocuments(ctx, wfID)
	require.NoError(t, err)
	assert.Empty(t, docs)

	entities, err := store.ListEntities(ctx, wfID)
	require.NoError(t, err)
	assert.Empty(t, entities)

	results, err := store.ListStepResults(ctx, wfID)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestDocumentStatusUpdate(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	doc := &types.Document{
		ID: uuid.NewString(), WorkflowID: uuid.NewString(),
		Name: "bid.txt", Status: types.DocumentPending,
	}
	require.NoError(t, store.CreateDocument(ctx, doc))
	require.NoError(t, store.UpdateDocumentStatus(ctx, doc.ID, types.DocumentIndexed))

	docs, err := store.ListDocuments(ctx, doc.WorkflowID)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, types.DocumentIndexed, docs[0].Status)
}

func TestPoolManagerTransaction(t *testing.T) {
	ctx := context.Background()
	db, err := Open(config.DatabaseConfig{Driver: "sqlite", Path: ":memory:"}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, Migrate(db))

	pm, err := NewPoolManager(db, config.DatabaseConfig{MaxOpenConns: 1, MaxIdleConns: 1}, zap.NewNop())
	require.NoError(t, err)
	defer pm.Close()

	require.NoError(t, pm.Ping(ctx))

	// 事务内报错整体回滚
	wfID := uuid.NewString()
	err = pm.WithTransaction(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(&types.Workflow{ID: wfID, Status: types.WorkflowPending}).Error; err != nil {
			return err
		}
		return errors.New("boom")
	})
	require.Error(t, err)

	var count int64
	require.NoError(t, db.Model(&types.Workflow{}).Where("id = ?", wfID).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}

func TestIsRetryableError(t *testing.T) {
	assert.True(t, isRetryableError(errors.New("database is locked")))
	assert.True(t, isRetryableError(errors.New("Deadlock found when trying to get lock")))
	assert.False(t, isRetryableError(errors.New("syntax error")))
	assert.False(t, isRetryableError(nil))
}
