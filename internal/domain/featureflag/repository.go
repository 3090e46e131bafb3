package featureflag

import (
	"context"

	"github.com/oks-citadel/citadelbuy-sub019/internal/domain/shared"
)

// Repository defines the interface for feature flag persistence
type Repository interface {
	// Create creates a new feature flag.
	// Returns shared.ErrAlreadyExists when the key is taken.
	Create(ctx context.Context, flag *FeatureFlag) error

	// Update updates an existing flag.
	// Uses optimistic locking via the version field: the update succeeds
	// only when the stored version matches the one the flag was loaded
	// with, and bumps it on success.
	Update(ctx context.Context, flag *FeatureFlag) error

	// Delete removes the flag permanently
	Delete(ctx context.Context, key string) error

	// FindByKey finds a flag by its key
	// Returns shared.ErrNotFound if not found
	FindByKey(ctx context.Context, key string) (*FeatureFlag, error)

	// FindAll retrieves flags with pagination
	FindAll(ctx context.Context, filter shared.Filter) ([]FeatureFlag, error)

	// ListEnabled returns every enabled flag, used by the scheduled
	// cache refresh
	ListEnabled(ctx context.Context) ([]FeatureFlag, error)

	// Count counts flags matching the filter
	Count(ctx context.Context, filter shared.Filter) (int64, error)
}

// Cache is the evaluation-facing cache contract, implemented by the
// tiered infrastructure cache. Lookups return nil, nil on a miss; a
// cache error is a degraded miss for callers, never a hard failure.
type Cache interface {
	// GetFlag retrieves a cached flag definition
	GetFlag(ctx context.Context, key string) (*FeatureFlag, error)

	// SetFlag caches a flag definition
	SetFlag(ctx context.Context, flag *FeatureFlag) error

	// DeleteFlag evicts the definition and every evaluation entry
	// derived from it
	DeleteFlag(ctx context.Context, key string) error

	// GetEvaluation retrieves a cached evaluation result
	GetEvaluation(ctx context.Context, key, subjectID, environment string) (*Evaluation, error)

	// SetEvaluation caches an evaluation result
	SetEvaluation(ctx context.Context, eval *Evaluation) error

	// DeleteEvaluations evicts every cached evaluation of a flag
	// (pattern delete)
	DeleteEvaluations(ctx context.Context, key string) error

	// GetPreloadedFlag performs a synchronous, non-blocking lookup into
	// the warm snapshot maintained by the scheduled refresh.
	// The second return value is false when the snapshot has no entry.
	GetPreloadedFlag(key string) (*FeatureFlag, bool)
}
