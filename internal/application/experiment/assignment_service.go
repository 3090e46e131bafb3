package experiment

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/oks-citadel/citadelbuy-sub019/internal/application/experiment/dto"
	"github.com/oks-citadel/citadelbuy-sub019/internal/domain/experiment"
	"github.com/oks-citadel/citadelbuy-sub019/internal/domain/shared"
)

// AssignmentService orchestrates assignment operations over the engine.
// All gating and variant-selection semantics live in the domain engine;
// this layer validates input and shapes DTOs.
type AssignmentService struct {
	engine *experiment.Engine
	logger *zap.Logger
}

// NewAssignmentService creates a new assignment service
func NewAssignmentService(engine *experiment.Engine, logger *zap.Logger) *AssignmentService {
	return &AssignmentService{
		engine: engine,
		logger: logger,
	}
}

// Assign assigns a subject to an experiment. A nil response with a nil
// error means the subject is ineligible (gated out, not an error).
func (s *AssignmentService) Assign(ctx context.Context, experimentID uuid.UUID, req dto.AssignRequest) (*dto.AssignmentResponse, error) {
	if req.SubjectID == "" {
		return nil, shared.NewDomainError("INVALID_SUBJECT", "Subject ID cannot be empty")
	}

	assignment, err := s.engine.Assign(ctx, experimentID, req.SubjectID, req.Attributes, req.ForceVariantID)
	if err != nil {
		return nil, err
	}
	if assignment == nil {
		return nil, nil
	}
	return dto.ToAssignmentResponse(assignment), nil
}

// GetAssignment returns the existing assignment for a pair without
// creating one. Returns shared.ErrNotFound when unassigned.
func (s *AssignmentService) GetAssignment(ctx context.Context, experimentID uuid.UUID, subjectID string) (*dto.AssignmentResponse, error) {
	if subjectID == "" {
		return nil, shared.NewDomainError("INVALID_SUBJECT", "Subject ID cannot be empty")
	}

	assignment, err := s.engine.GetAssignment(ctx, experimentID, subjectID)
	if err != nil {
		return nil, err
	}
	if assignment == nil {
		return nil, shared.ErrNotFound
	}
	return dto.ToAssignmentResponse(assignment), nil
}

// BulkAssign assigns one subject to several experiments. Outcomes are
// partitioned per experiment; one failure never blocks the rest.
func (s *AssignmentService) BulkAssign(ctx context.Context, req dto.BulkAssignRequest) (*dto.BulkAssignResponse, error) {
	if req.SubjectID == "" {
		return nil, shared.NewDomainError("INVALID_SUBJECT", "Subject ID cannot be empty")
	}
	if len(req.ExperimentIDs) == 0 {
		return nil, shared.NewDomainError("INVALID_INPUT", "At least one experiment ID is required")
	}

	result, err := s.engine.BulkAssign(ctx, req.SubjectID, req.ExperimentIDs, req.Attributes)
	if err != nil {
		return nil, err
	}

	resp := &dto.BulkAssignResponse{
		Assignments: make([]*dto.AssignmentResponse, len(result.Assignments)),
		Ineligible:  result.Ineligible,
	}
	for i, a := range result.Assignments {
		resp.Assignments[i] = dto.ToAssignmentResponse(a)
	}
	for _, e := range result.Errors {
		code := "INTERNAL_ERROR"
		var domainErr *shared.DomainError
		if errors.As(e.Err, &domainErr) {
			code = domainErr.Code
		}
		resp.Errors = append(resp.Errors, dto.BulkAssignError{
			ExperimentID: e.ExperimentID,
			Code:         code,
			Message:      e.Err.Error(),
		})
	}
	return resp, nil
}

// TrackConversion records a conversion for the subject's assigned
// variant. Unassigned subjects yield shared.ErrNotFound.
func (s *AssignmentService) TrackConversion(ctx context.Context, experimentID uuid.UUID, req dto.TrackConversionRequest) error {
	if req.SubjectID == "" {
		return shared.NewDomainError("INVALID_SUBJECT", "Subject ID cannot be empty")
	}
	return s.engine.TrackConversion(ctx, experimentID, req.SubjectID)
}

// Invalidate evicts one subject's cached assignment. The durable record
// is untouched.
func (s *AssignmentService) Invalidate(ctx context.Context, experimentID uuid.UUID, subjectID string) error {
	if subjectID == "" {
		return shared.NewDomainError("INVALID_SUBJECT", "Subject ID cannot be empty")
	}
	return s.engine.Invalidate(ctx, experimentID, subjectID)
}
