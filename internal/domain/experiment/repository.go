package experiment

import (
	"context"

	"github.com/google/uuid"

	"github.com/oks-citadel/citadelbuy-sub019/internal/domain/shared"
)

// ErrAlreadyAssigned is returned by AssignmentRepository.Create when a
// concurrent writer created an assignment for the same
// (experiment, subject) pair first. The engine resolves it by reading
// back the winner; it is never surfaced to callers.
var ErrAlreadyAssigned = shared.NewDomainError("ALREADY_ASSIGNED", "Subject already assigned in this experiment")

// Repository defines the interface for experiment persistence
type Repository interface {
	// Create creates a new experiment
	Create(ctx context.Context, exp *Experiment) error

	// Update updates an existing experiment.
	// Uses optimistic locking via the version field: the update succeeds
	// only when the stored version matches the one the experiment was
	// loaded with, and bumps it on success.
	Update(ctx context.Context, exp *Experiment) error

	// FindByID finds an experiment by its ID
	// Returns shared.ErrNotFound if not found
	FindByID(ctx context.Context, id uuid.UUID) (*Experiment, error)

	// FindAll retrieves experiments with pagination
	FindAll(ctx context.Context, filter shared.Filter) ([]Experiment, error)

	// FindByStatus finds experiments with a specific status
	FindByStatus(ctx context.Context, status Status, filter shared.Filter) ([]Experiment, error)

	// ListRunning returns every running experiment, used by the
	// scheduled cache refresh
	ListRunning(ctx context.Context) ([]Experiment, error)

	// IncrementParticipants bumps the participant counter of a variant
	IncrementParticipants(ctx context.Context, experimentID, variantID uuid.UUID) error

	// IncrementConversions bumps the conversion counter of a variant
	IncrementConversions(ctx context.Context, experimentID, variantID uuid.UUID) error

	// Count counts experiments matching the filter
	Count(ctx context.Context, filter shared.Filter) (int64, error)
}

// AssignmentRepository defines the interface for assignment persistence.
// The store enforces the composite-unique (experiment_id, subject_id)
// constraint that makes at-most-one-assignment hold under concurrency.
type AssignmentRepository interface {
	// Create persists a new assignment.
	// Returns ErrAlreadyAssigned when the composite-unique constraint is
	// violated by a concurrent writer.
	Create(ctx context.Context, a *Assignment) error

	// FindByExperimentAndSubject finds the assignment for a pair.
	// Returns shared.ErrNotFound if the subject is unassigned.
	FindByExperimentAndSubject(ctx context.Context, experimentID uuid.UUID, subjectID string) (*Assignment, error)

	// ListBySubject returns all assignments held by a subject
	ListBySubject(ctx context.Context, subjectID string) ([]Assignment, error)

	// ListRunningForSubject returns the subject's assignments in
	// currently-running experiments, joined with each experiment's
	// mutual-exclusion group. Used by the exclusion gates.
	ListRunningForSubject(ctx context.Context, subjectID string) ([]RunningAssignment, error)

	// CountByExperiment counts assignments in an experiment
	CountByExperiment(ctx context.Context, experimentID uuid.UUID) (int64, error)
}

// Cache is the engine-facing cache contract, implemented by the tiered
// infrastructure cache. Lookups return nil, nil on a miss; a cache error
// is a degraded miss for callers, never a hard failure.
type Cache interface {
	// GetExperiment retrieves a cached experiment definition
	GetExperiment(ctx context.Context, id uuid.UUID) (*Experiment, error)

	// SetExperiment caches an experiment definition
	SetExperiment(ctx context.Context, exp *Experiment) error

	// DeleteExperiment evicts a cached definition
	DeleteExperiment(ctx context.Context, id uuid.UUID) error

	// GetAssignment retrieves a cached assignment
	GetAssignment(ctx context.Context, experimentID uuid.UUID, subjectID string) (*Assignment, error)

	// SetAssignment caches an assignment
	SetAssignment(ctx context.Context, a *Assignment) error

	// DeleteAssignment evicts one subject's cached assignment
	DeleteAssignment(ctx context.Context, experimentID uuid.UUID, subjectID string) error

	// DeleteExperimentAssignments evicts every cached assignment of an
	// experiment (pattern delete)
	DeleteExperimentAssignments(ctx context.Context, experimentID uuid.UUID) error

	// GetPreloadedExperiment performs a synchronous, non-blocking lookup
	// into the warm snapshot maintained by the scheduled refresh.
	// The second return value is false when the snapshot has no entry.
	GetPreloadedExperiment(id uuid.UUID) (*Experiment, bool)
}
