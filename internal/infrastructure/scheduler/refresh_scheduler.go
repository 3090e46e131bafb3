package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/oks-citadel/citadelbuy-sub019/internal/domain/experiment"
	"github.com/oks-citadel/citadelbuy-sub019/internal/domain/featureflag"
	"github.com/oks-citadel/citadelbuy-sub019/internal/infrastructure/cache"
)

// ExperimentSource supplies the running experiments loaded on each
// refresh cycle.
type ExperimentSource interface {
	ListRunning(ctx context.Context) ([]experiment.Experiment, error)
}

// FlagSource supplies the enabled flags loaded on each refresh cycle.
type FlagSource interface {
	ListEnabled(ctx context.Context) ([]featureflag.FeatureFlag, error)
}

// SnapshotStore receives the refreshed definitions. Implemented by the
// tiered domain cache.
type SnapshotStore interface {
	ReplaceSnapshot(snap *cache.Snapshot)
	SetExperiment(ctx context.Context, exp *experiment.Experiment) error
	SetFlag(ctx context.Context, flag *featureflag.FeatureFlag) error
}

// RefreshSchedulerConfig holds configuration for the cache refresh scheduler
type RefreshSchedulerConfig struct {
	// Enabled determines if the scheduler is active
	Enabled bool

	// Interval is the time between refresh cycles
	Interval time.Duration

	// CycleTimeout is the maximum time for a single refresh cycle
	CycleTimeout time.Duration
}

// DefaultRefreshSchedulerConfig returns default configuration
func DefaultRefreshSchedulerConfig() RefreshSchedulerConfig {
	return RefreshSchedulerConfig{
		Enabled:      true,
		Interval:     60 * time.Second,
		CycleTimeout: 30 * time.Second,
	}
}

// RefreshScheduler periodically reloads running experiments and enabled
// flags from the store and replaces the cache's warm snapshot. A failed
// cycle leaves the previous snapshot in place, so readers keep serving
// slightly stale definitions instead of missing ones.
type RefreshScheduler struct {
	experiments ExperimentSource
	flags       FlagSource
	store       SnapshotStore
	logger      *zap.Logger
	config      RefreshSchedulerConfig
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	mu          sync.Mutex
	isRunning   bool
}

// NewRefreshScheduler creates a new cache refresh scheduler
func NewRefreshScheduler(
	experiments ExperimentSource,
	flags FlagSource,
	store SnapshotStore,
	logger *zap.Logger,
	config RefreshSchedulerConfig,
) *RefreshScheduler {
	if config.Interval <= 0 {
		config.Interval = DefaultRefreshSchedulerConfig().Interval
	}
	if config.CycleTimeout <= 0 {
		config.CycleTimeout = DefaultRefreshSchedulerConfig().CycleTimeout
	}
	return &RefreshScheduler{
		experiments: experiments,
		flags:       flags,
		store:       store,
		logger:      logger,
		config:      config,
	}
}

// Start starts the refresh scheduler. The first cycle runs immediately
// so the snapshot is warm before traffic arrives.
func (s *RefreshScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	if !s.config.Enabled {
		s.mu.Unlock()
		s.logger.Info("Cache refresh scheduler is disabled")
		return nil
	}
	s.isRunning = true
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	if err := s.RefreshOnce(ctx); err != nil {
		s.logger.Warn("Initial cache refresh failed, starting with empty snapshot",
			zap.Error(err))
	}

	s.wg.Add(1)
	go s.run(ctx)

	s.logger.Info("Cache refresh scheduler started",
		zap.Duration("interval", s.config.Interval))

	return nil
}

// Stop gracefully stops the scheduler
func (s *RefreshScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Cache refresh scheduler stopped gracefully")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Cache refresh scheduler stop timed out")
		return ctx.Err()
	}
}

func (s *RefreshScheduler) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("Cache refresh loop stopping")
			return
		case <-ticker.C:
			if err := s.RefreshOnce(ctx); err != nil {
				s.logger.Error("Cache refresh cycle failed, keeping previous snapshot",
					zap.Error(err))
			}
		}
	}
}

// RefreshOnce runs a single refresh cycle: load running experiments and
// enabled flags, swap the snapshot, and write the definitions through
// to both cache tiers so point lookups hit too.
func (s *RefreshScheduler) RefreshOnce(ctx context.Context) error {
	cycleCtx, cancel := context.WithTimeout(ctx, s.config.CycleTimeout)
	defer cancel()

	startTime := time.Now()

	experiments, err := s.experiments.ListRunning(cycleCtx)
	if err != nil {
		return err
	}

	flags, err := s.flags.ListEnabled(cycleCtx)
	if err != nil {
		return err
	}

	s.store.ReplaceSnapshot(cache.NewSnapshot(experiments, flags))

	for i := range experiments {
		if err := s.store.SetExperiment(cycleCtx, &experiments[i]); err != nil {
			s.logger.Warn("Failed to re-cache experiment definition",
				zap.String("experiment_id", experiments[i].ID.String()),
				zap.Error(err))
		}
	}
	for i := range flags {
		if err := s.store.SetFlag(cycleCtx, &flags[i]); err != nil {
			s.logger.Warn("Failed to re-cache flag definition",
				zap.String("flag_key", flags[i].Key),
				zap.Error(err))
		}
	}

	s.logger.Debug("Cache refresh cycle completed",
		zap.Int("experiments", len(experiments)),
		zap.Int("flags", len(flags)),
		zap.Duration("duration", time.Since(startTime)))

	return nil
}
