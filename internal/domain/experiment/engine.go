package experiment

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/oks-citadel/citadelbuy-sub019/internal/domain/shared"
	"github.com/oks-citadel/citadelbuy-sub019/internal/domain/targeting"
)

// subjectAttribute is the context key under which the subject ID is
// exposed to targeting rules.
const subjectAttribute = "subject_id"

// Engine produces deterministic, idempotent variant assignments.
//
// An (experiment, subject) pair moves Unassigned -> Assigned exactly
// once; Assigned is terminal. The composite-unique constraint in the
// store is the source of truth for at-most-one-assignment: the engine's
// lookup-before-create leaves a race window, and a losing concurrent
// create is resolved by reading back the winner's record.
type Engine struct {
	experiments Repository
	assignments AssignmentRepository
	cache       Cache
	logger      *zap.Logger
}

// EngineOption is a functional option for configuring the engine
type EngineOption func(*Engine)

// WithEngineLogger sets the logger for the engine
func WithEngineLogger(logger *zap.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// NewEngine creates a new assignment engine
func NewEngine(experiments Repository, assignments AssignmentRepository, cache Cache, opts ...EngineOption) *Engine {
	e := &Engine{
		experiments: experiments,
		assignments: assignments,
		cache:       cache,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// BulkAssignResult partitions the outcome of a bulk assignment request.
type BulkAssignResult struct {
	Assignments []*Assignment
	Ineligible  []uuid.UUID
	Errors      []BulkAssignError
}

// BulkAssignError pairs a failed experiment with its error.
type BulkAssignError struct {
	ExperimentID uuid.UUID
	Err          error
}

// Assign evaluates the subject against the experiment and returns its
// assignment. A nil assignment with a nil error means the subject is
// ineligible (failed traffic allocation, targeting, or an exclusion
// gate); that is a normal outcome, not an error.
//
// The gate order is fixed: existing assignment, status, traffic
// allocation, targeting, mutual exclusion, exclusivity, variant
// selection, persist. forceVariantID bypasses weighted selection only;
// every gate still applies.
func (e *Engine) Assign(ctx context.Context, experimentID uuid.UUID, subjectID string, attrs map[string]string, forceVariantID *uuid.UUID) (*Assignment, error) {
	if subjectID == "" {
		return nil, shared.NewDomainError("INVALID_SUBJECT", "Subject ID is required")
	}

	// Step 1: an already-assigned pair is terminal; repeat calls are
	// side-effect-free.
	if existing, err := e.findExisting(ctx, experimentID, subjectID); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	// Step 2: status gate
	exp, err := e.lookupExperiment(ctx, experimentID)
	if err != nil {
		return nil, err
	}
	if !exp.IsRunning() {
		return nil, shared.NewDomainError("EXPERIMENT_NOT_ACTIVE", "Experiment is not running")
	}

	// Step 3: traffic-allocation gate
	if !exp.InTrafficAllocation(subjectID) {
		return nil, nil
	}

	// Step 4: targeting gate
	if len(exp.Rules) > 0 {
		if !targeting.AnyMatch(exp.Rules, mergeSubject(attrs, subjectID)) {
			return nil, nil
		}
	}

	// Steps 5 and 6: exclusion gates
	if exp.MutualExclusionGroupID != nil || exp.IsExclusive {
		eligible, err := e.passesExclusionGates(ctx, exp, subjectID)
		if err != nil {
			return nil, err
		}
		if !eligible {
			return nil, nil
		}
	}

	// Step 7: variant selection
	var variant *Variant
	if forceVariantID != nil {
		variant = exp.VariantByID(*forceVariantID)
		if variant == nil {
			return nil, shared.NewDomainError("VARIANT_NOT_FOUND", "Forced variant does not exist in this experiment")
		}
	} else {
		variant = exp.SelectVariant(subjectID)
		if variant == nil {
			return nil, shared.NewDomainError("INVALID_VARIANTS", "Experiment has no variants")
		}
	}

	// Step 8: persist and cache
	assignment := NewAssignment(exp.ID, variant.ID, subjectID, attrs)
	if err := e.assignments.Create(ctx, assignment); err != nil {
		if errors.Is(err, ErrAlreadyAssigned) || errors.Is(err, shared.ErrAlreadyExists) {
			// A concurrent writer won the race between steps 1 and 8;
			// its record is the assignment.
			winner, ferr := e.assignments.FindByExperimentAndSubject(ctx, experimentID, subjectID)
			if ferr != nil {
				return nil, ferr
			}
			e.cacheAssignment(ctx, winner)
			return winner, nil
		}
		return nil, err
	}

	if err := e.experiments.IncrementParticipants(ctx, exp.ID, variant.ID); err != nil {
		e.logger.Warn("failed to increment participant counter",
			zap.String("experiment_id", exp.ID.String()),
			zap.String("variant_id", variant.ID.String()),
			zap.Error(err))
	}

	e.cacheAssignment(ctx, assignment)
	e.logger.Debug("subject assigned",
		zap.String("experiment_id", exp.ID.String()),
		zap.String("subject_id", subjectID),
		zap.String("variant_id", variant.ID.String()),
		zap.Bool("forced", forceVariantID != nil))

	return assignment, nil
}

// GetAssignment returns the existing assignment for the pair, or nil
// when the subject is unassigned. Read-only.
func (e *Engine) GetAssignment(ctx context.Context, experimentID uuid.UUID, subjectID string) (*Assignment, error) {
	if subjectID == "" {
		return nil, shared.NewDomainError("INVALID_SUBJECT", "Subject ID is required")
	}
	return e.findExisting(ctx, experimentID, subjectID)
}

// BulkAssign calls Assign once per experiment and partitions the
// results. A failure in one experiment never aborts the batch.
func (e *Engine) BulkAssign(ctx context.Context, subjectID string, experimentIDs []uuid.UUID, attrs map[string]string) (*BulkAssignResult, error) {
	if subjectID == "" {
		return nil, shared.NewDomainError("INVALID_SUBJECT", "Subject ID is required")
	}

	result := &BulkAssignResult{}
	for _, id := range experimentIDs {
		assignment, err := e.Assign(ctx, id, subjectID, attrs, nil)
		switch {
		case err != nil:
			result.Errors = append(result.Errors, BulkAssignError{ExperimentID: id, Err: err})
		case assignment == nil:
			result.Ineligible = append(result.Ineligible, id)
		default:
			result.Assignments = append(result.Assignments, assignment)
		}
	}
	return result, nil
}

// TrackConversion increments the conversion counter of the variant the
// subject is assigned to. Returns shared.ErrNotFound when the subject
// holds no assignment in the experiment.
func (e *Engine) TrackConversion(ctx context.Context, experimentID uuid.UUID, subjectID string) error {
	if subjectID == "" {
		return shared.NewDomainError("INVALID_SUBJECT", "Subject ID is required")
	}

	assignment, err := e.findExisting(ctx, experimentID, subjectID)
	if err != nil {
		return err
	}
	if assignment == nil {
		return shared.ErrNotFound
	}
	return e.experiments.IncrementConversions(ctx, experimentID, assignment.VariantID)
}

// Invalidate evicts one subject's cached assignment. Cache-only; the
// durable record is untouched.
func (e *Engine) Invalidate(ctx context.Context, experimentID uuid.UUID, subjectID string) error {
	return e.cache.DeleteAssignment(ctx, experimentID, subjectID)
}

// InvalidateAll evicts the experiment definition and every cached
// assignment of the experiment. Cache-only.
func (e *Engine) InvalidateAll(ctx context.Context, experimentID uuid.UUID) error {
	if err := e.cache.DeleteExperiment(ctx, experimentID); err != nil {
		return err
	}
	return e.cache.DeleteExperimentAssignments(ctx, experimentID)
}

// findExisting checks the cache, then the store, for an assignment.
// A store NotFound maps to nil, nil; any other store error propagates,
// since no assignment decision can be made without the store.
func (e *Engine) findExisting(ctx context.Context, experimentID uuid.UUID, subjectID string) (*Assignment, error) {
	cached, err := e.cache.GetAssignment(ctx, experimentID, subjectID)
	if err != nil {
		e.logger.Warn("assignment cache lookup degraded to miss",
			zap.String("experiment_id", experimentID.String()),
			zap.Error(err))
	}
	if cached != nil {
		return cached, nil
	}

	stored, err := e.assignments.FindByExperimentAndSubject(ctx, experimentID, subjectID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	e.cacheAssignment(ctx, stored)
	return stored, nil
}

// lookupExperiment loads the definition from the cache tiers, then the
// store. The preloaded snapshot is only a fallback for store outages:
// admin transitions evict and rewrite the tiers, so consulting the
// snapshot first would keep assigning against a paused or completed
// experiment until the next refresh cycle, past the tier-1 TTL bound.
func (e *Engine) lookupExperiment(ctx context.Context, id uuid.UUID) (*Experiment, error) {
	cached, err := e.cache.GetExperiment(ctx, id)
	if err != nil {
		e.logger.Warn("experiment cache lookup degraded to miss",
			zap.String("experiment_id", id.String()),
			zap.Error(err))
	}
	if cached != nil {
		return cached, nil
	}

	exp, err := e.experiments.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, err
		}
		if snap, ok := e.cache.GetPreloadedExperiment(id); ok {
			e.logger.Warn("experiment store lookup failed, serving preloaded snapshot",
				zap.String("experiment_id", id.String()),
				zap.Error(err))
			return snap, nil
		}
		return nil, err
	}
	if cerr := e.cache.SetExperiment(ctx, exp); cerr != nil {
		e.logger.Warn("failed to cache experiment definition",
			zap.String("experiment_id", id.String()),
			zap.Error(cerr))
	}
	return exp, nil
}

// passesExclusionGates applies the mutual-exclusion and exclusivity
// checks against the subject's assignments in other running experiments.
func (e *Engine) passesExclusionGates(ctx context.Context, exp *Experiment, subjectID string) (bool, error) {
	running, err := e.assignments.ListRunningForSubject(ctx, subjectID)
	if err != nil {
		return false, err
	}

	for _, ra := range running {
		if ra.ExperimentID == exp.ID {
			continue
		}
		if exp.IsExclusive {
			return false, nil
		}
		if exp.MutualExclusionGroupID != nil &&
			ra.MutualExclusionGroupID != nil &&
			*ra.MutualExclusionGroupID == *exp.MutualExclusionGroupID {
			return false, nil
		}
	}
	return true, nil
}

func (e *Engine) cacheAssignment(ctx context.Context, a *Assignment) {
	if a == nil {
		return
	}
	if err := e.cache.SetAssignment(ctx, a); err != nil {
		e.logger.Warn("failed to cache assignment",
			zap.String("experiment_id", a.ExperimentID.String()),
			zap.String("subject_id", a.SubjectID),
			zap.Error(err))
	}
}

// mergeSubject exposes the subject ID to targeting rules without
// mutating the caller's context map.
func mergeSubject(attrs map[string]string, subjectID string) map[string]string {
	merged := make(map[string]string, len(attrs)+1)
	for k, v := range attrs {
		merged[k] = v
	}
	merged[subjectAttribute] = subjectID
	return merged
}
