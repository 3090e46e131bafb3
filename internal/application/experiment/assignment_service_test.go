package experiment

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/oks-citadel/citadelbuy-sub019/internal/application/experiment/dto"
	"github.com/oks-citadel/citadelbuy-sub019/internal/domain/experiment"
	"github.com/oks-citadel/citadelbuy-sub019/internal/domain/shared"
)

type memExperimentRepo struct {
	mu          sync.Mutex
	experiments map[uuid.UUID]*experiment.Experiment
}

func newMemExperimentRepo() *memExperimentRepo {
	return &memExperimentRepo{experiments: map[uuid.UUID]*experiment.Experiment{}}
}

func (r *memExperimentRepo) Create(ctx context.Context, exp *experiment.Experiment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *exp
	r.experiments[exp.ID] = &copied
	return nil
}

func (r *memExperimentRepo) Update(ctx context.Context, exp *experiment.Experiment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.experiments[exp.ID]
	if !ok {
		return shared.ErrNotFound
	}
	if stored.Version != exp.Version {
		return shared.NewDomainError("OPTIMISTIC_LOCK_FAILED", "Experiment was modified by another transaction")
	}
	exp.IncrementVersion()
	copied := *exp
	r.experiments[exp.ID] = &copied
	return nil
}

func (r *memExperimentRepo) FindByID(ctx context.Context, id uuid.UUID) (*experiment.Experiment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	exp, ok := r.experiments[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	copied := *exp
	return &copied, nil
}

func (r *memExperimentRepo) FindAll(ctx context.Context, filter shared.Filter) ([]experiment.Experiment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]experiment.Experiment, 0, len(r.experiments))
	for _, exp := range r.experiments {
		out = append(out, *exp)
	}
	return out, nil
}

func (r *memExperimentRepo) FindByStatus(ctx context.Context, status experiment.Status, filter shared.Filter) ([]experiment.Experiment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []experiment.Experiment
	for _, exp := range r.experiments {
		if exp.Status == status {
			out = append(out, *exp)
		}
	}
	return out, nil
}

func (r *memExperimentRepo) ListRunning(ctx context.Context) ([]experiment.Experiment, error) {
	return r.FindByStatus(ctx, experiment.StatusRunning, shared.Filter{})
}

func (r *memExperimentRepo) IncrementParticipants(ctx context.Context, experimentID, variantID uuid.UUID) error {
	return nil
}

func (r *memExperimentRepo) IncrementConversions(ctx context.Context, experimentID, variantID uuid.UUID) error {
	return nil
}

func (r *memExperimentRepo) Count(ctx context.Context, filter shared.Filter) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.experiments)), nil
}

type memAssignmentRepo struct {
	mu      sync.Mutex
	records map[string]*experiment.Assignment
}

func newMemAssignmentRepo() *memAssignmentRepo {
	return &memAssignmentRepo{records: map[string]*experiment.Assignment{}}
}

func assignmentKey(experimentID uuid.UUID, subjectID string) string {
	return fmt.Sprintf("%s:%s", experimentID, subjectID)
}

func (r *memAssignmentRepo) Create(ctx context.Context, a *experiment.Assignment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := assignmentKey(a.ExperimentID, a.SubjectID)
	if _, ok := r.records[key]; ok {
		return experiment.ErrAlreadyAssigned
	}
	r.records[key] = a
	return nil
}

func (r *memAssignmentRepo) FindByExperimentAndSubject(ctx context.Context, experimentID uuid.UUID, subjectID string) (*experiment.Assignment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.records[assignmentKey(experimentID, subjectID)]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return a, nil
}

func (r *memAssignmentRepo) ListBySubject(ctx context.Context, subjectID string) ([]experiment.Assignment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []experiment.Assignment
	for _, a := range r.records {
		if a.SubjectID == subjectID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (r *memAssignmentRepo) ListRunningForSubject(ctx context.Context, subjectID string) ([]experiment.RunningAssignment, error) {
	return nil, nil
}

func (r *memAssignmentRepo) CountByExperiment(ctx context.Context, experimentID uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, a := range r.records {
		if a.ExperimentID == experimentID {
			count++
		}
	}
	return count, nil
}

type memExperimentCache struct {
	mu          sync.Mutex
	experiments map[uuid.UUID]*experiment.Experiment
	assignments map[string]*experiment.Assignment
	deleteCalls []uuid.UUID
	setCalls    []uuid.UUID
}

func newMemExperimentCache() *memExperimentCache {
	return &memExperimentCache{
		experiments: map[uuid.UUID]*experiment.Experiment{},
		assignments: map[string]*experiment.Assignment{},
	}
}

func (c *memExperimentCache) GetExperiment(ctx context.Context, id uuid.UUID) (*experiment.Experiment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.experiments[id], nil
}

func (c *memExperimentCache) SetExperiment(ctx context.Context, exp *experiment.Experiment) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setCalls = append(c.setCalls, exp.ID)
	c.experiments[exp.ID] = exp
	return nil
}

func (c *memExperimentCache) DeleteExperiment(ctx context.Context, id uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleteCalls = append(c.deleteCalls, id)
	delete(c.experiments, id)
	return nil
}

func (c *memExperimentCache) GetAssignment(ctx context.Context, experimentID uuid.UUID, subjectID string) (*experiment.Assignment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.assignments[assignmentKey(experimentID, subjectID)], nil
}

func (c *memExperimentCache) SetAssignment(ctx context.Context, a *experiment.Assignment) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.assignments[assignmentKey(a.ExperimentID, a.SubjectID)] = a
	return nil
}

func (c *memExperimentCache) DeleteAssignment(ctx context.Context, experimentID uuid.UUID, subjectID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.assignments, assignmentKey(experimentID, subjectID))
	return nil
}

func (c *memExperimentCache) DeleteExperimentAssignments(ctx context.Context, experimentID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, a := range c.assignments {
		if a.ExperimentID == experimentID {
			delete(c.assignments, k)
		}
	}
	return nil
}

func (c *memExperimentCache) GetPreloadedExperiment(id uuid.UUID) (*experiment.Experiment, bool) {
	return nil, false
}

var _ experiment.Repository = (*memExperimentRepo)(nil)
var _ experiment.AssignmentRepository = (*memAssignmentRepo)(nil)
var _ experiment.Cache = (*memExperimentCache)(nil)

func newAssignmentFixture(t *testing.T, trafficAllocation float64) (*AssignmentService, *memExperimentRepo, *experiment.Experiment) {
	t.Helper()

	repo := newMemExperimentRepo()
	assignments := newMemAssignmentRepo()
	cache := newMemExperimentCache()
	logger := zaptest.NewLogger(t)

	exp, err := experiment.NewExperiment("checkout-test", experiment.TypeABTest, []experiment.Variant{
		{Name: "control", Weight: 50},
		{Name: "treatment", Weight: 50},
	}, trafficAllocation, nil)
	require.NoError(t, err)
	require.NoError(t, exp.Start())
	require.NoError(t, repo.Create(context.Background(), exp))

	engine := experiment.NewEngine(repo, assignments, cache, experiment.WithEngineLogger(logger))
	return NewAssignmentService(engine, logger), repo, exp
}

func TestAssignmentService_Assign(t *testing.T) {
	svc, _, exp := newAssignmentFixture(t, 100)
	ctx := context.Background()

	resp, err := svc.Assign(ctx, exp.ID, dto.AssignRequest{SubjectID: "user-1"})
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, exp.ID, resp.ExperimentID)
	assert.Equal(t, "user-1", resp.SubjectID)

	// Idempotent: same variant on repeat.
	again, err := svc.Assign(ctx, exp.ID, dto.AssignRequest{SubjectID: "user-1"})
	require.NoError(t, err)
	assert.Equal(t, resp.VariantID, again.VariantID)
}

func TestAssignmentService_Assign_EmptySubject(t *testing.T) {
	svc, _, exp := newAssignmentFixture(t, 100)

	_, err := svc.Assign(context.Background(), exp.ID, dto.AssignRequest{})
	var domainErr *shared.DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, "INVALID_SUBJECT", domainErr.Code)
}

func TestAssignmentService_Assign_IneligibleIsNotAnError(t *testing.T) {
	svc, _, exp := newAssignmentFixture(t, 0)

	resp, err := svc.Assign(context.Background(), exp.ID, dto.AssignRequest{SubjectID: "user-1"})
	require.NoError(t, err)
	assert.Nil(t, resp)
}

func TestAssignmentService_GetAssignment(t *testing.T) {
	svc, _, exp := newAssignmentFixture(t, 100)
	ctx := context.Background()

	_, err := svc.GetAssignment(ctx, exp.ID, "user-1")
	assert.ErrorIs(t, err, shared.ErrNotFound)

	assigned, err := svc.Assign(ctx, exp.ID, dto.AssignRequest{SubjectID: "user-1"})
	require.NoError(t, err)

	found, err := svc.GetAssignment(ctx, exp.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, assigned.VariantID, found.VariantID)
}

func TestAssignmentService_BulkAssign(t *testing.T) {
	svc, repo, exp := newAssignmentFixture(t, 100)
	ctx := context.Background()

	gated, err := experiment.NewExperiment("gated", experiment.TypeABTest, []experiment.Variant{
		{Name: "control", Weight: 50},
		{Name: "treatment", Weight: 50},
	}, 0, nil)
	require.NoError(t, err)
	require.NoError(t, gated.Start())
	require.NoError(t, repo.Create(ctx, gated))

	missing := uuid.New()

	resp, err := svc.BulkAssign(ctx, dto.BulkAssignRequest{
		SubjectID:     "user-1",
		ExperimentIDs: []uuid.UUID{exp.ID, gated.ID, missing},
	})
	require.NoError(t, err)

	require.Len(t, resp.Assignments, 1)
	assert.Equal(t, exp.ID, resp.Assignments[0].ExperimentID)
	assert.Equal(t, []uuid.UUID{gated.ID}, resp.Ineligible)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, missing, resp.Errors[0].ExperimentID)
	assert.Equal(t, "NOT_FOUND", resp.Errors[0].Code)
}

func TestAssignmentService_TrackConversion(t *testing.T) {
	svc, _, exp := newAssignmentFixture(t, 100)
	ctx := context.Background()

	err := svc.TrackConversion(ctx, exp.ID, dto.TrackConversionRequest{SubjectID: "user-1"})
	assert.ErrorIs(t, err, shared.ErrNotFound)

	_, err = svc.Assign(ctx, exp.ID, dto.AssignRequest{SubjectID: "user-1"})
	require.NoError(t, err)

	assert.NoError(t, svc.TrackConversion(ctx, exp.ID, dto.TrackConversionRequest{SubjectID: "user-1"}))
}
