package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/oks-citadel/citadelbuy-sub019/internal/domain/experiment"
	"github.com/oks-citadel/citadelbuy-sub019/internal/domain/featureflag"
)

// Snapshot is the warm set of running experiments and enabled flags
// maintained by the scheduled refresh. It is replaced wholesale and
// never mutated in place, so readers need no locking.
type Snapshot struct {
	Experiments map[uuid.UUID]*experiment.Experiment
	Flags       map[string]*featureflag.FeatureFlag
}

// NewSnapshot builds a snapshot from slices of definitions
func NewSnapshot(experiments []experiment.Experiment, flags []featureflag.FeatureFlag) *Snapshot {
	snap := &Snapshot{
		Experiments: make(map[uuid.UUID]*experiment.Experiment, len(experiments)),
		Flags:       make(map[string]*featureflag.FeatureFlag, len(flags)),
	}
	for i := range experiments {
		snap.Experiments[experiments[i].ID] = &experiments[i]
	}
	for i := range flags {
		snap.Flags[flags[i].Key] = &flags[i]
	}
	return snap
}

// DomainCache adapts the byte-level TieredCache to the experiment and
// feature-flag cache contracts, owning the key scheme and JSON codecs.
// It also holds the preloaded snapshot behind an atomic pointer.
type DomainCache struct {
	tiered   *TieredCache
	snapshot atomic.Value // *Snapshot
	logger   *zap.Logger
}

// DomainCacheOption is a functional option for configuring the cache
type DomainCacheOption func(*DomainCache)

// WithDomainCacheLogger sets the logger for the cache
func WithDomainCacheLogger(logger *zap.Logger) DomainCacheOption {
	return func(c *DomainCache) {
		c.logger = logger
	}
}

// NewDomainCache creates a new domain cache with an empty snapshot
func NewDomainCache(tiered *TieredCache, opts ...DomainCacheOption) *DomainCache {
	cache := &DomainCache{
		tiered: tiered,
		logger: zap.NewNop(),
	}
	cache.snapshot.Store(&Snapshot{
		Experiments: map[uuid.UUID]*experiment.Experiment{},
		Flags:       map[string]*featureflag.FeatureFlag{},
	})

	for _, opt := range opts {
		opt(cache)
	}

	return cache
}

func experimentKey(id uuid.UUID) string {
	return "experiment:" + id.String()
}

func assignmentKey(experimentID uuid.UUID, subjectID string) string {
	return "assignment:" + experimentID.String() + ":" + subjectID
}

func flagKey(key string) string {
	return "flag:" + key
}

func evaluationKey(key, subjectID, environment string) string {
	return "evaluation:" + key + ":" + subjectID + ":" + environment
}

// ReplaceSnapshot swaps in a freshly built snapshot
func (c *DomainCache) ReplaceSnapshot(snap *Snapshot) {
	if snap == nil {
		return
	}
	c.snapshot.Store(snap)
	c.logger.Debug("preloaded snapshot replaced",
		zap.Int("experiments", len(snap.Experiments)),
		zap.Int("flags", len(snap.Flags)))
}

// GetPreloadedExperiment looks the experiment up in the warm snapshot
func (c *DomainCache) GetPreloadedExperiment(id uuid.UUID) (*experiment.Experiment, bool) {
	snap := c.snapshot.Load().(*Snapshot)
	exp, ok := snap.Experiments[id]
	return exp, ok
}

// GetPreloadedFlag looks the flag up in the warm snapshot
func (c *DomainCache) GetPreloadedFlag(key string) (*featureflag.FeatureFlag, bool) {
	snap := c.snapshot.Load().(*Snapshot)
	flag, ok := snap.Flags[key]
	return flag, ok
}

// GetExperiment retrieves a cached experiment definition
func (c *DomainCache) GetExperiment(ctx context.Context, id uuid.UUID) (*experiment.Experiment, error) {
	var exp experiment.Experiment
	ok, err := c.get(ctx, experimentKey(id), &exp)
	if err != nil || !ok {
		return nil, err
	}
	return &exp, nil
}

// SetExperiment caches an experiment definition
func (c *DomainCache) SetExperiment(ctx context.Context, exp *experiment.Experiment) error {
	return c.set(ctx, experimentKey(exp.ID), exp)
}

// DeleteExperiment evicts an experiment definition from both tiers
func (c *DomainCache) DeleteExperiment(ctx context.Context, id uuid.UUID) error {
	return c.tiered.Delete(ctx, experimentKey(id))
}

// GetAssignment retrieves a cached assignment
func (c *DomainCache) GetAssignment(ctx context.Context, experimentID uuid.UUID, subjectID string) (*experiment.Assignment, error) {
	var a experiment.Assignment
	ok, err := c.get(ctx, assignmentKey(experimentID, subjectID), &a)
	if err != nil || !ok {
		return nil, err
	}
	return &a, nil
}

// SetAssignment caches an assignment
func (c *DomainCache) SetAssignment(ctx context.Context, a *experiment.Assignment) error {
	return c.set(ctx, assignmentKey(a.ExperimentID, a.SubjectID), a)
}

// DeleteAssignment evicts one subject's cached assignment
func (c *DomainCache) DeleteAssignment(ctx context.Context, experimentID uuid.UUID, subjectID string) error {
	return c.tiered.Delete(ctx, assignmentKey(experimentID, subjectID))
}

// DeleteExperimentAssignments evicts every cached assignment of an
// experiment
func (c *DomainCache) DeleteExperimentAssignments(ctx context.Context, experimentID uuid.UUID) error {
	return c.tiered.DeletePattern(ctx, "assignment:"+experimentID.String()+":*")
}

// GetFlag retrieves a cached flag definition
func (c *DomainCache) GetFlag(ctx context.Context, key string) (*featureflag.FeatureFlag, error) {
	var flag featureflag.FeatureFlag
	ok, err := c.get(ctx, flagKey(key), &flag)
	if err != nil || !ok {
		return nil, err
	}
	return &flag, nil
}

// SetFlag caches a flag definition
func (c *DomainCache) SetFlag(ctx context.Context, flag *featureflag.FeatureFlag) error {
	return c.set(ctx, flagKey(flag.Key), flag)
}

// DeleteFlag evicts the flag definition and every evaluation result
// derived from it
func (c *DomainCache) DeleteFlag(ctx context.Context, key string) error {
	if err := c.tiered.Delete(ctx, flagKey(key)); err != nil {
		return err
	}
	return c.DeleteEvaluations(ctx, key)
}

// GetEvaluation retrieves a cached evaluation result
func (c *DomainCache) GetEvaluation(ctx context.Context, key, subjectID, environment string) (*featureflag.Evaluation, error) {
	var eval featureflag.Evaluation
	ok, err := c.get(ctx, evaluationKey(key, subjectID, environment), &eval)
	if err != nil || !ok {
		return nil, err
	}
	return &eval, nil
}

// SetEvaluation caches an evaluation result
func (c *DomainCache) SetEvaluation(ctx context.Context, eval *featureflag.Evaluation) error {
	return c.set(ctx, evaluationKey(eval.FlagKey, eval.SubjectID, eval.Environment), eval)
}

// DeleteEvaluations evicts every cached evaluation of a flag
func (c *DomainCache) DeleteEvaluations(ctx context.Context, key string) error {
	return c.tiered.DeletePattern(ctx, "evaluation:"+key+":*")
}

// Close releases the underlying tiers
func (c *DomainCache) Close() error {
	return c.tiered.Close()
}

// get unmarshals the payload at key into out. The boolean reports
// whether an entry was present.
func (c *DomainCache) get(ctx context.Context, key string, out any) (bool, error) {
	data, err := c.tiered.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if data == nil {
		return false, nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		// A corrupt entry is unusable; drop it and report a miss.
		c.logger.Warn("dropping corrupt cache entry",
			zap.String("key", key),
			zap.Error(err))
		if derr := c.tiered.Delete(ctx, key); derr != nil {
			c.logger.Warn("failed to drop corrupt cache entry",
				zap.String("key", key),
				zap.Error(derr))
		}
		return false, nil
	}
	return true, nil
}

func (c *DomainCache) set(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}
	return c.tiered.Set(ctx, key, data, 0)
}

var _ experiment.Cache = (*DomainCache)(nil)
var _ featureflag.Cache = (*DomainCache)(nil)
