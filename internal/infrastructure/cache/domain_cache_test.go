package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oks-citadel/citadelbuy-sub019/internal/domain/experiment"
	"github.com/oks-citadel/citadelbuy-sub019/internal/domain/featureflag"
)

func newTestDomainCache(t *testing.T) (*DomainCache, *stubRemote) {
	t.Helper()
	remote := newStubRemote()
	dc := NewDomainCache(newTestTiered(t, remote))
	return dc, remote
}

func testExperiment(t *testing.T) *experiment.Experiment {
	t.Helper()
	exp, err := experiment.NewExperiment("checkout flow", experiment.TypeABTest,
		[]experiment.Variant{
			{Name: "control", Weight: 50},
			{Name: "treatment", Weight: 50},
		}, 100, nil)
	require.NoError(t, err)
	return exp
}

func testFlag(t *testing.T) *featureflag.FeatureFlag {
	t.Helper()
	flag, err := featureflag.NewFeatureFlag("new_checkout", "New checkout", "", false, 50, nil)
	require.NoError(t, err)
	return flag
}

func TestDomainCache_ExperimentRoundTrip(t *testing.T) {
	dc, _ := newTestDomainCache(t)
	ctx := context.Background()
	exp := testExperiment(t)

	miss, err := dc.GetExperiment(ctx, exp.ID)
	require.NoError(t, err)
	assert.Nil(t, miss)

	require.NoError(t, dc.SetExperiment(ctx, exp))

	got, err := dc.GetExperiment(ctx, exp.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, exp.ID, got.ID)
	assert.Equal(t, exp.Name, got.Name)
	assert.Len(t, got.Variants, 2)

	require.NoError(t, dc.DeleteExperiment(ctx, exp.ID))
	miss, err = dc.GetExperiment(ctx, exp.ID)
	require.NoError(t, err)
	assert.Nil(t, miss)
}

func TestDomainCache_AssignmentRoundTripAndPatternEvict(t *testing.T) {
	dc, _ := newTestDomainCache(t)
	ctx := context.Background()
	exp := testExperiment(t)

	a1 := experiment.NewAssignment(exp.ID, exp.Variants[0].ID, "user-1", nil)
	a2 := experiment.NewAssignment(exp.ID, exp.Variants[1].ID, "user-2", nil)
	require.NoError(t, dc.SetAssignment(ctx, a1))
	require.NoError(t, dc.SetAssignment(ctx, a2))

	got, err := dc.GetAssignment(ctx, exp.ID, "user-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, a1.VariantID, got.VariantID)

	require.NoError(t, dc.DeleteExperimentAssignments(ctx, exp.ID))

	for _, subject := range []string{"user-1", "user-2"} {
		miss, err := dc.GetAssignment(ctx, exp.ID, subject)
		require.NoError(t, err)
		assert.Nil(t, miss)
	}
}

func TestDomainCache_FlagDeleteEvictsEvaluations(t *testing.T) {
	dc, _ := newTestDomainCache(t)
	ctx := context.Background()
	flag := testFlag(t)

	require.NoError(t, dc.SetFlag(ctx, flag))
	eval := featureflag.Evaluate(flag, "user-1", "production", nil)
	require.NoError(t, dc.SetEvaluation(ctx, &eval))

	cached, err := dc.GetEvaluation(ctx, flag.Key, "user-1", "production")
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, eval.Value, cached.Value)
	assert.Equal(t, eval.Reason, cached.Reason)

	require.NoError(t, dc.DeleteFlag(ctx, flag.Key))

	missFlag, err := dc.GetFlag(ctx, flag.Key)
	require.NoError(t, err)
	assert.Nil(t, missFlag)
	missEval, err := dc.GetEvaluation(ctx, flag.Key, "user-1", "production")
	require.NoError(t, err)
	assert.Nil(t, missEval)
}

func TestDomainCache_EvaluationKeyIncludesEnvironment(t *testing.T) {
	dc, _ := newTestDomainCache(t)
	ctx := context.Background()
	flag := testFlag(t)

	eval := featureflag.Evaluate(flag, "user-1", "staging", nil)
	require.NoError(t, dc.SetEvaluation(ctx, &eval))

	miss, err := dc.GetEvaluation(ctx, flag.Key, "user-1", "production")
	require.NoError(t, err)
	assert.Nil(t, miss, "environments must not share evaluation entries")
}

func TestDomainCache_CorruptEntryIsDropped(t *testing.T) {
	dc, remote := newTestDomainCache(t)
	ctx := context.Background()
	exp := testExperiment(t)

	remote.data[experimentKey(exp.ID)] = []byte("{not json")

	got, err := dc.GetExperiment(ctx, exp.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Empty(t, remote.data, "corrupt entry should be evicted")
}

func TestDomainCache_PreloadedSnapshot(t *testing.T) {
	dc, _ := newTestDomainCache(t)
	exp := testExperiment(t)
	flag := testFlag(t)

	_, ok := dc.GetPreloadedExperiment(exp.ID)
	assert.False(t, ok, "initial snapshot is empty")
	_, ok = dc.GetPreloadedFlag(flag.Key)
	assert.False(t, ok)

	dc.ReplaceSnapshot(NewSnapshot(
		[]experiment.Experiment{*exp},
		[]featureflag.FeatureFlag{*flag},
	))

	gotExp, ok := dc.GetPreloadedExperiment(exp.ID)
	require.True(t, ok)
	assert.Equal(t, exp.ID, gotExp.ID)

	gotFlag, ok := dc.GetPreloadedFlag(flag.Key)
	require.True(t, ok)
	assert.Equal(t, flag.Key, gotFlag.Key)

	// An empty replacement snapshot evicts everything at once.
	dc.ReplaceSnapshot(NewSnapshot(nil, nil))
	_, ok = dc.GetPreloadedExperiment(exp.ID)
	assert.False(t, ok)
}
