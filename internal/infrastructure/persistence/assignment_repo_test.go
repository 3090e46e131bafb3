package persistence

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oks-citadel/citadelbuy-sub019/internal/domain/experiment"
	"github.com/oks-citadel/citadelbuy-sub019/internal/domain/shared"
)

func TestGormAssignmentRepository_CreateAndFind(t *testing.T) {
	db := setupExperimentTestDB(t)
	repo := NewGormAssignmentRepository(db)
	ctx := context.Background()

	experimentID := uuid.New()
	variantID := uuid.New()
	a := experiment.NewAssignment(experimentID, variantID, "user-1", map[string]string{"country": "de"})

	require.NoError(t, repo.Create(ctx, a))

	found, err := repo.FindByExperimentAndSubject(ctx, experimentID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, a.ID, found.ID)
	assert.Equal(t, variantID, found.VariantID)
	assert.Equal(t, a.HashKey, found.HashKey)
	assert.Equal(t, map[string]string{"country": "de"}, found.Context)
}

func TestGormAssignmentRepository_Create_DuplicatePair(t *testing.T) {
	db := setupExperimentTestDB(t)
	repo := NewGormAssignmentRepository(db)
	ctx := context.Background()

	experimentID := uuid.New()
	first := experiment.NewAssignment(experimentID, uuid.New(), "user-1", nil)
	require.NoError(t, repo.Create(ctx, first))

	// Second writer loses the race on the unique pair index.
	second := experiment.NewAssignment(experimentID, uuid.New(), "user-1", nil)
	err := repo.Create(ctx, second)
	require.ErrorIs(t, err, experiment.ErrAlreadyAssigned)

	// The first record is untouched.
	found, err := repo.FindByExperimentAndSubject(ctx, experimentID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, first.VariantID, found.VariantID)

	// The same subject may still join a different experiment.
	other := experiment.NewAssignment(uuid.New(), uuid.New(), "user-1", nil)
	assert.NoError(t, repo.Create(ctx, other))
}

func TestGormAssignmentRepository_Find_NotFound(t *testing.T) {
	db := setupExperimentTestDB(t)
	repo := NewGormAssignmentRepository(db)

	_, err := repo.FindByExperimentAndSubject(context.Background(), uuid.New(), "ghost")
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestGormAssignmentRepository_ListBySubjectAndCount(t *testing.T) {
	db := setupExperimentTestDB(t)
	repo := NewGormAssignmentRepository(db)
	ctx := context.Background()

	experimentID := uuid.New()
	require.NoError(t, repo.Create(ctx, experiment.NewAssignment(experimentID, uuid.New(), "user-1", nil)))
	require.NoError(t, repo.Create(ctx, experiment.NewAssignment(uuid.New(), uuid.New(), "user-1", nil)))
	require.NoError(t, repo.Create(ctx, experiment.NewAssignment(experimentID, uuid.New(), "user-2", nil)))

	mine, err := repo.ListBySubject(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	count, err := repo.CountByExperiment(ctx, experimentID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestGormAssignmentRepository_ListRunningForSubject(t *testing.T) {
	db := setupExperimentTestDB(t)
	experiments := NewGormExperimentRepository(db)
	repo := NewGormAssignmentRepository(db)
	ctx := context.Background()

	group := "pricing"
	runningExp := newDraftExperiment(t, "running-exp")
	runningExp.MutualExclusionGroupID = &group
	require.NoError(t, runningExp.Start())
	require.NoError(t, experiments.Create(ctx, runningExp))

	pausedExp := newDraftExperiment(t, "paused-exp")
	require.NoError(t, pausedExp.Start())
	require.NoError(t, pausedExp.Pause())
	require.NoError(t, experiments.Create(ctx, pausedExp))

	variantID := runningExp.Variants[0].ID
	require.NoError(t, repo.Create(ctx, experiment.NewAssignment(runningExp.ID, variantID, "user-1", nil)))
	require.NoError(t, repo.Create(ctx, experiment.NewAssignment(pausedExp.ID, pausedExp.Variants[0].ID, "user-1", nil)))

	running, err := repo.ListRunningForSubject(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, runningExp.ID, running[0].ExperimentID)
	assert.Equal(t, variantID, running[0].VariantID)
	require.NotNil(t, running[0].MutualExclusionGroupID)
	assert.Equal(t, "pricing", *running[0].MutualExclusionGroupID)
}
