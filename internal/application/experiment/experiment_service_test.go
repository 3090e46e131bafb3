package experiment

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/oks-citadel/citadelbuy-sub019/internal/application/experiment/dto"
	"github.com/oks-citadel/citadelbuy-sub019/internal/domain/experiment"
	"github.com/oks-citadel/citadelbuy-sub019/internal/domain/shared"
)

func newExperimentServiceFixture(t *testing.T) (*ExperimentService, *memExperimentRepo, *memExperimentCache) {
	t.Helper()
	repo := newMemExperimentRepo()
	cache := newMemExperimentCache()
	return NewExperimentService(repo, cache, zaptest.NewLogger(t)), repo, cache
}

func abTestRequest(name string) dto.CreateExperimentRequest {
	return dto.CreateExperimentRequest{
		Name: name,
		Type: string(experiment.TypeABTest),
		Variants: []dto.VariantRequest{
			{Name: "control", Weight: 50, IsControl: true},
			{Name: "treatment", Weight: 50},
		},
		TrafficAllocation: 100,
	}
}

func TestExperimentService_Create(t *testing.T) {
	svc, repo, _ := newExperimentServiceFixture(t)
	ctx := context.Background()

	group := "pricing"
	req := abTestRequest("checkout-test")
	req.MutualExclusionGroupID = &group

	resp, err := svc.Create(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "checkout-test", resp.Name)
	assert.Equal(t, string(experiment.StatusDraft), resp.Status)
	require.NotNil(t, resp.MutualExclusionGroupID)
	assert.Equal(t, "pricing", *resp.MutualExclusionGroupID)
	require.Len(t, resp.Variants, 2)

	stored, err := repo.FindByID(ctx, resp.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Version)
}

func TestExperimentService_Create_InvalidWeights(t *testing.T) {
	svc, _, _ := newExperimentServiceFixture(t)

	req := abTestRequest("bad-weights")
	req.Variants[1].Weight = 60

	_, err := svc.Create(context.Background(), req)
	var domainErr *shared.DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, "INVALID_VARIANTS", domainErr.Code)
}

func TestExperimentService_Update_DraftOnly(t *testing.T) {
	svc, _, _ := newExperimentServiceFixture(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, abTestRequest("editable"))
	require.NoError(t, err)

	name := "renamed"
	allocation := 40.0
	updated, err := svc.Update(ctx, created.ID, dto.UpdateExperimentRequest{
		Name:              &name,
		TrafficAllocation: &allocation,
	})
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Name)
	assert.Equal(t, 40.0, updated.TrafficAllocation)
	assert.Equal(t, 2, updated.Version)

	_, err = svc.Start(ctx, created.ID)
	require.NoError(t, err)

	_, err = svc.Update(ctx, created.ID, dto.UpdateExperimentRequest{Name: &name})
	var domainErr *shared.DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, "INVALID_STATE", domainErr.Code)
}

func TestExperimentService_Transitions(t *testing.T) {
	svc, _, _ := newExperimentServiceFixture(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, abTestRequest("lifecycle"))
	require.NoError(t, err)

	started, err := svc.Start(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, string(experiment.StatusRunning), started.Status)
	assert.NotNil(t, started.StartedAt)

	paused, err := svc.Pause(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, string(experiment.StatusPaused), paused.Status)

	// A paused experiment resumes.
	resumed, err := svc.Start(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, string(experiment.StatusRunning), resumed.Status)

	completed, err := svc.Complete(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, string(experiment.StatusCompleted), completed.Status)
	assert.NotNil(t, completed.CompletedAt)

	_, err = svc.Start(ctx, created.ID)
	var domainErr *shared.DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, "INVALID_STATE", domainErr.Code)

	archived, err := svc.Archive(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, string(experiment.StatusArchived), archived.Status)
}

func TestExperimentService_Transition_CacheCoherence(t *testing.T) {
	svc, _, cache := newExperimentServiceFixture(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, abTestRequest("cached"))
	require.NoError(t, err)

	// Start: evict, then re-cache the running definition.
	_, err = svc.Start(ctx, created.ID)
	require.NoError(t, err)
	assert.Contains(t, cache.deleteCalls, created.ID)
	assert.Contains(t, cache.setCalls, created.ID)

	cached, err := cache.GetExperiment(ctx, created.ID)
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.True(t, cached.IsRunning())

	// Pause: evict only, no re-cache of a non-running definition.
	cache.deleteCalls = nil
	cache.setCalls = nil
	_, err = svc.Pause(ctx, created.ID)
	require.NoError(t, err)
	assert.Contains(t, cache.deleteCalls, created.ID)
	assert.Empty(t, cache.setCalls)

	cached, err = cache.GetExperiment(ctx, created.ID)
	require.NoError(t, err)
	assert.Nil(t, cached)
}

func TestExperimentService_GetAndList(t *testing.T) {
	svc, _, _ := newExperimentServiceFixture(t)
	ctx := context.Background()

	_, err := svc.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, shared.ErrNotFound)

	first, err := svc.Create(ctx, abTestRequest("first"))
	require.NoError(t, err)
	_, err = svc.Create(ctx, abTestRequest("second"))
	require.NoError(t, err)

	got, err := svc.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "first", got.Name)

	page, err := svc.List(ctx, shared.DefaultFilter())
	require.NoError(t, err)
	assert.Equal(t, int64(2), page.Total)
	assert.Len(t, page.Items, 2)
	assert.Equal(t, 1, page.TotalPages)
}
