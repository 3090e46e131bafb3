package persistence

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/oks-citadel/citadelbuy-sub019/internal/domain/experiment"
	"github.com/oks-citadel/citadelbuy-sub019/internal/domain/shared"
	"github.com/oks-citadel/citadelbuy-sub019/internal/infrastructure/persistence/models"
)

func setupExperimentTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	err = db.AutoMigrate(&models.ExperimentModel{}, &models.AssignmentModel{})
	require.NoError(t, err)

	return db
}

func newDraftExperiment(t *testing.T, name string) *experiment.Experiment {
	t.Helper()
	exp, err := experiment.NewExperiment(name, experiment.TypeABTest, []experiment.Variant{
		{Name: "control", Weight: 50},
		{Name: "treatment", Weight: 50},
	}, 100, nil)
	require.NoError(t, err)
	return exp
}

func TestGormExperimentRepository_CreateAndFindByID(t *testing.T) {
	db := setupExperimentTestDB(t)
	repo := NewGormExperimentRepository(db)
	ctx := context.Background()

	exp := newDraftExperiment(t, "checkout-button")
	group := "checkout"
	exp.MutualExclusionGroupID = &group

	require.NoError(t, repo.Create(ctx, exp))

	found, err := repo.FindByID(ctx, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, exp.ID, found.ID)
	assert.Equal(t, "checkout-button", found.Name)
	assert.Equal(t, experiment.StatusDraft, found.Status)
	assert.Equal(t, 1, found.Version)
	require.Len(t, found.Variants, 2)
	assert.True(t, found.Variants[0].IsControl)
	assert.Equal(t, 50.0, found.Variants[1].Weight)
	require.NotNil(t, found.MutualExclusionGroupID)
	assert.Equal(t, "checkout", *found.MutualExclusionGroupID)
}

func TestGormExperimentRepository_FindByID_NotFound(t *testing.T) {
	db := setupExperimentTestDB(t)
	repo := NewGormExperimentRepository(db)

	_, err := repo.FindByID(context.Background(), uuid.New())
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestGormExperimentRepository_Update(t *testing.T) {
	db := setupExperimentTestDB(t)
	repo := NewGormExperimentRepository(db)
	ctx := context.Background()

	exp := newDraftExperiment(t, "pricing-page")
	require.NoError(t, repo.Create(ctx, exp))

	t.Run("persists a status transition", func(t *testing.T) {
		require.NoError(t, exp.Start())
		require.NoError(t, repo.Update(ctx, exp))

		found, err := repo.FindByID(ctx, exp.ID)
		require.NoError(t, err)
		assert.Equal(t, experiment.StatusRunning, found.Status)
		assert.Equal(t, 2, found.Version)
		assert.NotNil(t, found.StartedAt)
	})

	t.Run("rejects a stale version", func(t *testing.T) {
		stale := *exp
		stale.Version = 5

		err := repo.Update(ctx, &stale)
		require.Error(t, err)
		var domainErr *shared.DomainError
		require.ErrorAs(t, err, &domainErr)
		assert.Equal(t, "OPTIMISTIC_LOCK_FAILED", domainErr.Code)
	})

	t.Run("reports missing experiment", func(t *testing.T) {
		missing := newDraftExperiment(t, "never-created")
		missing.Version = 2

		err := repo.Update(ctx, missing)
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})
}

func TestGormExperimentRepository_FindByStatusAndListRunning(t *testing.T) {
	db := setupExperimentTestDB(t)
	repo := NewGormExperimentRepository(db)
	ctx := context.Background()

	draft := newDraftExperiment(t, "still-drafting")
	require.NoError(t, repo.Create(ctx, draft))

	for _, name := range []string{"header-copy", "cta-color"} {
		exp := newDraftExperiment(t, name)
		require.NoError(t, exp.Start())
		require.NoError(t, repo.Create(ctx, exp))
	}

	running, err := repo.ListRunning(ctx)
	require.NoError(t, err)
	assert.Len(t, running, 2)
	for _, exp := range running {
		assert.Equal(t, experiment.StatusRunning, exp.Status)
	}

	drafts, err := repo.FindByStatus(ctx, experiment.StatusDraft, shared.DefaultFilter())
	require.NoError(t, err)
	require.Len(t, drafts, 1)
	assert.Equal(t, "still-drafting", drafts[0].Name)
}

func TestGormExperimentRepository_FindAll_Pagination(t *testing.T) {
	db := setupExperimentTestDB(t)
	repo := NewGormExperimentRepository(db)
	ctx := context.Background()

	for _, name := range []string{"exp-a", "exp-b", "exp-c"} {
		require.NoError(t, repo.Create(ctx, newDraftExperiment(t, name)))
	}

	page, err := repo.FindAll(ctx, shared.Filter{Page: 1, PageSize: 2, OrderBy: "name", OrderDir: "asc"})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "exp-a", page[0].Name)
	assert.Equal(t, "exp-b", page[1].Name)

	total, err := repo.Count(ctx, shared.DefaultFilter())
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
}

// The counter update rewrites the variants document with PostgreSQL
// jsonb functions that SQLite cannot execute, so it runs against a
// mocked connection instead.
func setupMockedPostgres(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{})
	require.NoError(t, err)
	return db, mock
}

func TestGormExperimentRepository_IncrementParticipants(t *testing.T) {
	db, mock := setupMockedPostgres(t)
	repo := NewGormExperimentRepository(db)

	experimentID := uuid.New()
	variantID := uuid.New()

	mock.ExpectExec(`UPDATE experiments SET variants`).
		WithArgs(variantID.String(), experimentID.String()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.IncrementParticipants(context.Background(), experimentID, variantID))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormExperimentRepository_IncrementConversions_NotFound(t *testing.T) {
	db, mock := setupMockedPostgres(t)
	repo := NewGormExperimentRepository(db)

	experimentID := uuid.New()
	variantID := uuid.New()

	mock.ExpectExec(`UPDATE experiments SET variants`).
		WithArgs(variantID.String(), experimentID.String()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.IncrementConversions(context.Background(), experimentID, variantID)
	assert.ErrorIs(t, err, shared.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormExperimentRepository_IncrementVariantCounter_RejectsUnknownCounter(t *testing.T) {
	db := setupExperimentTestDB(t)
	repo := NewGormExperimentRepository(db)

	err := repo.incrementVariantCounter(context.Background(), "weight", uuid.New(), uuid.New())
	assert.Error(t, err)
}
