package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/oks-citadel/citadelbuy-sub019/internal/domain/experiment"
	"github.com/oks-citadel/citadelbuy-sub019/internal/domain/featureflag"
	"github.com/oks-citadel/citadelbuy-sub019/internal/infrastructure/cache"
)

type fakeSources struct {
	mu          sync.Mutex
	experiments []experiment.Experiment
	flags       []featureflag.FeatureFlag
	listErr     error
	listCalls   int
}

func (f *fakeSources) ListRunning(ctx context.Context) ([]experiment.Experiment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.experiments, nil
}

func (f *fakeSources) ListEnabled(ctx context.Context) ([]featureflag.FeatureFlag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.flags, nil
}

func (f *fakeSources) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls
}

type fakeStore struct {
	mu        sync.Mutex
	snapshots []*cache.Snapshot
	setExp    int
	setFlag   int
	setErr    error
}

func (f *fakeStore) ReplaceSnapshot(snap *cache.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots = append(f.snapshots, snap)
}

func (f *fakeStore) SetExperiment(ctx context.Context, exp *experiment.Experiment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setExp++
	return f.setErr
}

func (f *fakeStore) SetFlag(ctx context.Context, flag *featureflag.FeatureFlag) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setFlag++
	return f.setErr
}

func (f *fakeStore) snapshotCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.snapshots)
}

func testSources(t *testing.T) *fakeSources {
	t.Helper()

	exp, err := experiment.NewExperiment("running-exp", experiment.TypeABTest, []experiment.Variant{
		{Name: "control", Weight: 50},
		{Name: "treatment", Weight: 50},
	}, 100, nil)
	require.NoError(t, err)
	require.NoError(t, exp.Start())

	flag, err := featureflag.NewFeatureFlag("dark_mode", "Dark Mode", "", false, 50, nil)
	require.NoError(t, err)

	return &fakeSources{
		experiments: []experiment.Experiment{*exp},
		flags:       []featureflag.FeatureFlag{*flag},
	}
}

func TestRefreshScheduler_RefreshOnce(t *testing.T) {
	sources := testSources(t)
	store := &fakeStore{}
	s := NewRefreshScheduler(sources, sources, store, zaptest.NewLogger(t), DefaultRefreshSchedulerConfig())

	require.NoError(t, s.RefreshOnce(context.Background()))

	require.Equal(t, 1, store.snapshotCount())
	snap := store.snapshots[0]
	assert.Len(t, snap.Experiments, 1)
	assert.Len(t, snap.Flags, 1)
	_, ok := snap.Flags["dark_mode"]
	assert.True(t, ok)

	// Definitions are also written through for point lookups.
	assert.Equal(t, 1, store.setExp)
	assert.Equal(t, 1, store.setFlag)
}

func TestRefreshScheduler_FailedCycleKeepsPreviousSnapshot(t *testing.T) {
	sources := testSources(t)
	store := &fakeStore{}
	s := NewRefreshScheduler(sources, sources, store, zaptest.NewLogger(t), DefaultRefreshSchedulerConfig())

	require.NoError(t, s.RefreshOnce(context.Background()))
	require.Equal(t, 1, store.snapshotCount())

	sources.mu.Lock()
	sources.listErr = errors.New("store down")
	sources.mu.Unlock()

	err := s.RefreshOnce(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, store.snapshotCount())
}

func TestRefreshScheduler_WriteThroughFailureDoesNotFailCycle(t *testing.T) {
	sources := testSources(t)
	store := &fakeStore{setErr: errors.New("redis down")}
	s := NewRefreshScheduler(sources, sources, store, zaptest.NewLogger(t), DefaultRefreshSchedulerConfig())

	assert.NoError(t, s.RefreshOnce(context.Background()))
	assert.Equal(t, 1, store.snapshotCount())
}

func TestRefreshScheduler_StartRunsImmediatelyAndTicks(t *testing.T) {
	sources := testSources(t)
	store := &fakeStore{}
	config := RefreshSchedulerConfig{
		Enabled:      true,
		Interval:     20 * time.Millisecond,
		CycleTimeout: time.Second,
	}
	s := NewRefreshScheduler(sources, sources, store, zaptest.NewLogger(t), config)

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())

	// One immediate cycle plus at least one tick.
	assert.Eventually(t, func() bool {
		return sources.calls() >= 2
	}, time.Second, 5*time.Millisecond)
}

func TestRefreshScheduler_DisabledDoesNothing(t *testing.T) {
	sources := testSources(t)
	store := &fakeStore{}
	config := RefreshSchedulerConfig{Enabled: false, Interval: time.Millisecond}
	s := NewRefreshScheduler(sources, sources, store, zaptest.NewLogger(t), config)

	require.NoError(t, s.Start(context.Background()))
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 0, sources.calls())
	assert.NoError(t, s.Stop(context.Background()))
}

func TestRefreshScheduler_StopIsIdempotent(t *testing.T) {
	sources := testSources(t)
	store := &fakeStore{}
	s := NewRefreshScheduler(sources, sources, store, zaptest.NewLogger(t), DefaultRefreshSchedulerConfig())

	require.NoError(t, s.Start(context.Background()))
	assert.NoError(t, s.Stop(context.Background()))
	assert.NoError(t, s.Stop(context.Background()))
}
