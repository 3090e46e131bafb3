package experiment

import (
	"time"

	"github.com/google/uuid"

	"github.com/oks-citadel/citadelbuy-sub019/internal/domain/bucketing"
)

// Assignment is the durable record binding a subject to a variant.
// Exactly one assignment may exist per (experiment, subject) pair; the
// record is immutable once written and never deleted by this subsystem.
type Assignment struct {
	ID           uuid.UUID         `json:"id"`
	ExperimentID uuid.UUID         `json:"experiment_id"`
	VariantID    uuid.UUID         `json:"variant_id"`
	SubjectID    string            `json:"subject_id"`
	HashKey      string            `json:"hash_key"`
	Context      map[string]string `json:"context,omitempty"`
	AssignedAt   time.Time         `json:"assigned_at"`
}

// NewAssignment creates a new assignment record. HashKey stores the
// digest of the variant-selection hash input for audit purposes.
func NewAssignment(experimentID, variantID uuid.UUID, subjectID string, context map[string]string) *Assignment {
	return &Assignment{
		ID:           uuid.New(),
		ExperimentID: experimentID,
		VariantID:    variantID,
		SubjectID:    subjectID,
		HashKey:      bucketing.Digest(subjectID, experimentID.String()),
		Context:      context,
		AssignedAt:   time.Now(),
	}
}

// RunningAssignment is a projection of an assignment joined with the
// running experiment it belongs to, used by the mutual-exclusion and
// exclusivity gates.
type RunningAssignment struct {
	ExperimentID           uuid.UUID
	VariantID              uuid.UUID
	MutualExclusionGroupID *string
}
