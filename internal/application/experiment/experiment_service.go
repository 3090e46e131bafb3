package experiment

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/oks-citadel/citadelbuy-sub019/internal/application/experiment/dto"
	"github.com/oks-citadel/citadelbuy-sub019/internal/domain/experiment"
	"github.com/oks-citadel/citadelbuy-sub019/internal/domain/shared"
)

// ExperimentService handles experiment administration: CRUD and the
// status transitions. Every mutation keeps the cache coherent: the
// definition key is evicted, and running definitions are re-cached so
// the next assignment doesn't pay a store round-trip.
type ExperimentService struct {
	repo   experiment.Repository
	cache  experiment.Cache
	logger *zap.Logger
}

// NewExperimentService creates a new experiment service
func NewExperimentService(repo experiment.Repository, cache experiment.Cache, logger *zap.Logger) *ExperimentService {
	return &ExperimentService{
		repo:   repo,
		cache:  cache,
		logger: logger,
	}
}

// Create creates a new draft experiment
func (s *ExperimentService) Create(ctx context.Context, req dto.CreateExperimentRequest) (*dto.ExperimentResponse, error) {
	variants := make([]experiment.Variant, len(req.Variants))
	for i, v := range req.Variants {
		variants[i] = experiment.Variant{
			Name:      v.Name,
			Weight:    v.Weight,
			IsControl: v.IsControl,
			Config:    v.Config,
		}
	}

	exp, err := experiment.NewExperiment(
		req.Name,
		experiment.Type(req.Type),
		variants,
		req.TrafficAllocation,
		dto.RulesToDomain(req.Rules),
	)
	if err != nil {
		return nil, err
	}
	exp.MutualExclusionGroupID = req.MutualExclusionGroupID
	exp.IsExclusive = req.IsExclusive

	if err := s.repo.Create(ctx, exp); err != nil {
		s.logger.Error("Failed to create experiment",
			zap.String("name", req.Name),
			zap.Error(err))
		return nil, err
	}

	s.logger.Info("Experiment created",
		zap.String("experiment_id", exp.ID.String()),
		zap.String("name", exp.Name),
		zap.String("type", string(exp.Type)))

	return dto.ToExperimentResponse(exp), nil
}

// Get returns a single experiment by ID
func (s *ExperimentService) Get(ctx context.Context, id uuid.UUID) (*dto.ExperimentResponse, error) {
	exp, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return dto.ToExperimentResponse(exp), nil
}

// List returns experiments with pagination
func (s *ExperimentService) List(ctx context.Context, filter shared.Filter) (*shared.Paginated[*dto.ExperimentResponse], error) {
	experiments, err := s.repo.FindAll(ctx, filter)
	if err != nil {
		return nil, err
	}
	total, err := s.repo.Count(ctx, filter)
	if err != nil {
		return nil, err
	}

	items := make([]*dto.ExperimentResponse, len(experiments))
	for i := range experiments {
		items[i] = dto.ToExperimentResponse(&experiments[i])
	}
	page := shared.NewPaginated(items, total, filter.Page, filter.Limit())
	return &page, nil
}

// Update edits a draft experiment's definition fields
func (s *ExperimentService) Update(ctx context.Context, id uuid.UUID, req dto.UpdateExperimentRequest) (*dto.ExperimentResponse, error) {
	exp, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	name := exp.Name
	if req.Name != nil {
		name = *req.Name
	}
	allocation := exp.TrafficAllocation
	if req.TrafficAllocation != nil {
		allocation = *req.TrafficAllocation
	}
	rules := exp.Rules
	if req.Rules != nil {
		rules = dto.RulesToDomain(*req.Rules)
	}

	if err := exp.UpdateDetails(name, allocation, rules); err != nil {
		return nil, err
	}
	return s.persistAndRecache(ctx, exp)
}

// Start transitions an experiment to running
func (s *ExperimentService) Start(ctx context.Context, id uuid.UUID) (*dto.ExperimentResponse, error) {
	return s.transition(ctx, id, (*experiment.Experiment).Start)
}

// Pause suspends a running experiment
func (s *ExperimentService) Pause(ctx context.Context, id uuid.UUID) (*dto.ExperimentResponse, error) {
	return s.transition(ctx, id, (*experiment.Experiment).Pause)
}

// Complete ends an experiment
func (s *ExperimentService) Complete(ctx context.Context, id uuid.UUID) (*dto.ExperimentResponse, error) {
	return s.transition(ctx, id, (*experiment.Experiment).Complete)
}

// Archive retires an experiment
func (s *ExperimentService) Archive(ctx context.Context, id uuid.UUID) (*dto.ExperimentResponse, error) {
	return s.transition(ctx, id, (*experiment.Experiment).Archive)
}

func (s *ExperimentService) transition(ctx context.Context, id uuid.UUID, mutate func(*experiment.Experiment) error) (*dto.ExperimentResponse, error) {
	exp, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := mutate(exp); err != nil {
		return nil, err
	}
	resp, err := s.persistAndRecache(ctx, exp)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Experiment status changed",
		zap.String("experiment_id", exp.ID.String()),
		zap.String("status", string(exp.Status)))

	return resp, nil
}

// persistAndRecache writes the mutated experiment to the store, evicts
// the stale cached definition, and re-caches it while running so reads
// between refresh cycles stay warm. Cache failures are logged, never
// surfaced: the store is the source of truth.
func (s *ExperimentService) persistAndRecache(ctx context.Context, exp *experiment.Experiment) (*dto.ExperimentResponse, error) {
	if err := s.repo.Update(ctx, exp); err != nil {
		return nil, err
	}

	if err := s.cache.DeleteExperiment(ctx, exp.ID); err != nil {
		s.logger.Warn("Failed to evict cached experiment definition",
			zap.String("experiment_id", exp.ID.String()),
			zap.Error(err))
	}
	if exp.IsRunning() {
		if err := s.cache.SetExperiment(ctx, exp); err != nil {
			s.logger.Warn("Failed to re-cache experiment definition",
				zap.String("experiment_id", exp.ID.String()),
				zap.Error(err))
		}
	}

	return dto.ToExperimentResponse(exp), nil
}
