package featureflag

import (
	"context"
	"strings"

	"go.uber.org/zap"

	experimentdto "github.com/oks-citadel/citadelbuy-sub019/internal/application/experiment/dto"
	"github.com/oks-citadel/citadelbuy-sub019/internal/application/featureflag/dto"
	"github.com/oks-citadel/citadelbuy-sub019/internal/domain/featureflag"
	"github.com/oks-citadel/citadelbuy-sub019/internal/domain/shared"
)

// defaultRollout applies when a create request omits the percentage:
// an enabled flag without a rollout gate serves everyone.
const defaultRollout = 100

// FlagService handles feature flag administration. Every mutation keeps
// the cache coherent: the definition key and all evaluation entries
// derived from it are evicted, and enabled definitions are re-cached.
type FlagService struct {
	repo   featureflag.Repository
	cache  featureflag.Cache
	logger *zap.Logger
}

// NewFlagService creates a new flag service
func NewFlagService(repo featureflag.Repository, cache featureflag.Cache, logger *zap.Logger) *FlagService {
	return &FlagService{
		repo:   repo,
		cache:  cache,
		logger: logger,
	}
}

// Create creates a new feature flag. New flags start enabled and serve
// evaluations as soon as they are stored.
func (s *FlagService) Create(ctx context.Context, req dto.CreateFlagRequest) (*dto.FlagResponse, error) {
	rollout := float64(defaultRollout)
	if req.RolloutPercentage != nil {
		rollout = *req.RolloutPercentage
	}

	flag, err := featureflag.NewFeatureFlag(
		req.Key,
		req.Name,
		req.Description,
		req.DefaultValue,
		rollout,
		experimentdto.RulesToDomain(req.Rules),
	)
	if err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, flag); err != nil {
		s.logger.Error("Failed to create feature flag",
			zap.String("key", req.Key),
			zap.Error(err))
		return nil, err
	}

	s.logger.Info("Feature flag created", zap.String("key", flag.Key))
	return dto.ToFlagResponse(flag), nil
}

// Get returns a single flag by key
func (s *FlagService) Get(ctx context.Context, key string) (*dto.FlagResponse, error) {
	flag, err := s.repo.FindByKey(ctx, strings.ToLower(key))
	if err != nil {
		return nil, err
	}
	return dto.ToFlagResponse(flag), nil
}

// List returns flags with pagination
func (s *FlagService) List(ctx context.Context, filter shared.Filter) (*shared.Paginated[*dto.FlagResponse], error) {
	flags, err := s.repo.FindAll(ctx, filter)
	if err != nil {
		return nil, err
	}
	total, err := s.repo.Count(ctx, filter)
	if err != nil {
		return nil, err
	}

	items := make([]*dto.FlagResponse, len(flags))
	for i := range flags {
		items[i] = dto.ToFlagResponse(&flags[i])
	}
	page := shared.NewPaginated(items, total, filter.Page, filter.Limit())
	return &page, nil
}

// Update applies the non-nil fields of the request to the flag
func (s *FlagService) Update(ctx context.Context, key string, req dto.UpdateFlagRequest) (*dto.FlagResponse, error) {
	flag, err := s.repo.FindByKey(ctx, strings.ToLower(key))
	if err != nil {
		return nil, err
	}

	if req.Name != nil || req.Description != nil {
		name := flag.Name
		if req.Name != nil {
			name = *req.Name
		}
		description := flag.Description
		if req.Description != nil {
			description = *req.Description
		}
		if err := flag.UpdateDetails(name, description); err != nil {
			return nil, err
		}
	}
	if req.DefaultValue != nil {
		flag.SetDefaultValue(*req.DefaultValue)
	}
	if req.RolloutPercentage != nil {
		if err := flag.SetRollout(*req.RolloutPercentage); err != nil {
			return nil, err
		}
	}
	if req.Rules != nil {
		if err := flag.ReplaceRules(experimentdto.RulesToDomain(*req.Rules)); err != nil {
			return nil, err
		}
	}
	if req.Enabled != nil && *req.Enabled != flag.Enabled {
		if *req.Enabled {
			err = flag.Enable()
		} else {
			err = flag.Disable()
		}
		if err != nil {
			return nil, err
		}
	}

	return s.persistAndRecache(ctx, flag)
}

// Enable turns a flag on
func (s *FlagService) Enable(ctx context.Context, key string) (*dto.FlagResponse, error) {
	return s.toggle(ctx, key, (*featureflag.FeatureFlag).Enable)
}

// Disable turns a flag off
func (s *FlagService) Disable(ctx context.Context, key string) (*dto.FlagResponse, error) {
	return s.toggle(ctx, key, (*featureflag.FeatureFlag).Disable)
}

func (s *FlagService) toggle(ctx context.Context, key string, mutate func(*featureflag.FeatureFlag) error) (*dto.FlagResponse, error) {
	flag, err := s.repo.FindByKey(ctx, strings.ToLower(key))
	if err != nil {
		return nil, err
	}
	if err := mutate(flag); err != nil {
		return nil, err
	}
	resp, err := s.persistAndRecache(ctx, flag)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Feature flag toggled",
		zap.String("key", flag.Key),
		zap.Bool("enabled", flag.Enabled))

	return resp, nil
}

// Delete removes the flag permanently, along with its cached definition
// and every cached evaluation derived from it
func (s *FlagService) Delete(ctx context.Context, key string) error {
	key = strings.ToLower(key)
	if err := s.repo.Delete(ctx, key); err != nil {
		return err
	}
	if err := s.cache.DeleteFlag(ctx, key); err != nil {
		s.logger.Warn("Failed to evict cached flag after delete",
			zap.String("key", key),
			zap.Error(err))
	}

	s.logger.Info("Feature flag deleted", zap.String("key", key))
	return nil
}

// persistAndRecache writes the mutated flag to the store, evicts the
// definition and its evaluation entries, and re-caches the definition
// while enabled. Cache failures are logged, never surfaced.
func (s *FlagService) persistAndRecache(ctx context.Context, flag *featureflag.FeatureFlag) (*dto.FlagResponse, error) {
	if err := s.repo.Update(ctx, flag); err != nil {
		return nil, err
	}

	if err := s.cache.DeleteFlag(ctx, flag.Key); err != nil {
		s.logger.Warn("Failed to evict cached flag definition",
			zap.String("key", flag.Key),
			zap.Error(err))
	}
	if flag.Enabled {
		if err := s.cache.SetFlag(ctx, flag); err != nil {
			s.logger.Warn("Failed to re-cache flag definition",
				zap.String("key", flag.Key),
				zap.Error(err))
		}
	}

	return dto.ToFlagResponse(flag), nil
}
