package featureflag

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/oks-citadel/citadelbuy-sub019/internal/application/featureflag/dto"
	"github.com/oks-citadel/citadelbuy-sub019/internal/domain/featureflag"
	"github.com/oks-citadel/citadelbuy-sub019/internal/domain/shared"
)

// EvaluationService evaluates flags for subjects with result caching.
// Results are keyed by (flag key, subject, environment): the same
// subject always gets the same answer until the flag changes.
type EvaluationService struct {
	repo               featureflag.Repository
	cache              featureflag.Cache
	defaultEnvironment string
	logger             *zap.Logger
}

// NewEvaluationService creates a new evaluation service. The default
// environment labels results when the request doesn't carry one.
func NewEvaluationService(repo featureflag.Repository, cache featureflag.Cache, defaultEnvironment string, logger *zap.Logger) *EvaluationService {
	return &EvaluationService{
		repo:               repo,
		cache:              cache,
		defaultEnvironment: defaultEnvironment,
		logger:             logger,
	}
}

// Evaluate resolves a flag's value for one subject. The cached result
// is served when present; otherwise the flag definition is resolved
// (snapshot, then cache, then store), evaluated, and the result cached.
func (s *EvaluationService) Evaluate(ctx context.Context, key string, req dto.EvaluateRequest) (*dto.EvaluationResponse, error) {
	if req.SubjectID == "" {
		return nil, shared.NewDomainError("INVALID_SUBJECT", "Subject ID cannot be empty")
	}
	key = strings.ToLower(key)

	environment := req.Environment
	if environment == "" {
		environment = s.defaultEnvironment
	}

	if cached, err := s.cache.GetEvaluation(ctx, key, req.SubjectID, environment); err != nil {
		s.logger.Warn("Evaluation cache read failed, treating as miss",
			zap.String("key", key),
			zap.Error(err))
	} else if cached != nil {
		return dto.ToEvaluationResponse(cached), nil
	}

	flag, err := s.resolveFlag(ctx, key)
	if err != nil {
		return nil, err
	}

	eval := featureflag.Evaluate(flag, req.SubjectID, environment, req.Attributes)

	if err := s.cache.SetEvaluation(ctx, &eval); err != nil {
		s.logger.Warn("Failed to cache evaluation result",
			zap.String("key", key),
			zap.Error(err))
	}

	return dto.ToEvaluationResponse(&eval), nil
}

// resolveFlag finds the flag definition: warm snapshot first, then the
// tiered cache, then the store (write-back on a store hit). Cache
// errors degrade to a store read.
func (s *EvaluationService) resolveFlag(ctx context.Context, key string) (*featureflag.FeatureFlag, error) {
	if flag, ok := s.cache.GetPreloadedFlag(key); ok {
		return flag, nil
	}

	flag, err := s.cache.GetFlag(ctx, key)
	if err != nil {
		s.logger.Warn("Flag cache read failed, falling back to store",
			zap.String("key", key),
			zap.Error(err))
	} else if flag != nil {
		return flag, nil
	}

	flag, err = s.repo.FindByKey(ctx, key)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, err
		}
		return nil, shared.ErrStoreUnavailable
	}

	if cacheErr := s.cache.SetFlag(ctx, flag); cacheErr != nil {
		s.logger.Warn("Failed to cache flag definition",
			zap.String("key", key),
			zap.Error(cacheErr))
	}
	return flag, nil
}
