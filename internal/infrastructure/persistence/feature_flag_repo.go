package persistence

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/oks-citadel/citadelbuy-sub019/internal/domain/featureflag"
	"github.com/oks-citadel/citadelbuy-sub019/internal/domain/shared"
	"github.com/oks-citadel/citadelbuy-sub019/internal/infrastructure/persistence/models"
)

// GormFeatureFlagRepository implements featureflag.Repository using GORM
type GormFeatureFlagRepository struct {
	db *gorm.DB
}

// NewGormFeatureFlagRepository creates a new GormFeatureFlagRepository
func NewGormFeatureFlagRepository(db *gorm.DB) *GormFeatureFlagRepository {
	return &GormFeatureFlagRepository{db: db}
}

// WithTx returns a new repository instance with the given transaction
func (r *GormFeatureFlagRepository) WithTx(tx *gorm.DB) *GormFeatureFlagRepository {
	return &GormFeatureFlagRepository{db: tx}
}

// Create creates a new feature flag
func (r *GormFeatureFlagRepository) Create(ctx context.Context, flag *featureflag.FeatureFlag) error {
	model := models.FeatureFlagModelFromDomain(flag)
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoNothing: true,
		}).
		Create(model)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrAlreadyExists
	}
	return nil
}

// Update updates an existing feature flag with optimistic locking: the
// row must still carry the version the flag was loaded with.
func (r *GormFeatureFlagRepository) Update(ctx context.Context, flag *featureflag.FeatureFlag) error {
	currentVersion := flag.Version
	flag.IncrementVersion()

	model := models.FeatureFlagModelFromDomain(flag)

	result := r.db.WithContext(ctx).
		Model(&models.FeatureFlagModel{}).
		Where("key = ? AND version = ?", flag.Key, currentVersion).
		Updates(map[string]any{
			"name":               model.Name,
			"description":        model.Description,
			"enabled":            model.Enabled,
			"default_value":      model.DefaultValue,
			"rollout_percentage": model.RolloutPercentage,
			"rules":              model.RulesJSON,
			"version":            model.Version,
			"updated_at":         model.UpdatedAt,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		var count int64
		r.db.WithContext(ctx).Model(&models.FeatureFlagModel{}).Where("key = ?", flag.Key).Count(&count)
		if count == 0 {
			return shared.ErrNotFound
		}
		return shared.NewDomainError("OPTIMISTIC_LOCK_FAILED", "Feature flag was modified by another transaction")
	}
	return nil
}

// Delete deletes a feature flag by its key
func (r *GormFeatureFlagRepository) Delete(ctx context.Context, key string) error {
	result := r.db.WithContext(ctx).Delete(&models.FeatureFlagModel{}, "key = ?", key)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// FindByKey finds a feature flag by its unique key
func (r *GormFeatureFlagRepository) FindByKey(ctx context.Context, key string) (*featureflag.FeatureFlag, error) {
	var model models.FeatureFlagModel
	if err := r.db.WithContext(ctx).Where("key = ?", key).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindAll retrieves feature flags with pagination
func (r *GormFeatureFlagRepository) FindAll(ctx context.Context, filter shared.Filter) ([]featureflag.FeatureFlag, error) {
	orderBy := ValidateSortField(filter.OrderBy, FeatureFlagSortFields, "created_at")
	orderDir := ValidateSortOrder(filter.OrderDir)

	var flagModels []models.FeatureFlagModel
	if err := r.db.WithContext(ctx).
		Model(&models.FeatureFlagModel{}).
		Order(orderBy + " " + orderDir).
		Offset(filter.Offset()).
		Limit(filter.Limit()).
		Find(&flagModels).Error; err != nil {
		return nil, err
	}
	return toDomainFlags(flagModels), nil
}

// ListEnabled returns every enabled flag. The scheduled cache refresh
// calls this on each cycle, so no pagination is applied.
func (r *GormFeatureFlagRepository) ListEnabled(ctx context.Context) ([]featureflag.FeatureFlag, error) {
	var flagModels []models.FeatureFlagModel
	if err := r.db.WithContext(ctx).
		Where("enabled = ?", true).
		Order("key ASC").
		Find(&flagModels).Error; err != nil {
		return nil, err
	}
	return toDomainFlags(flagModels), nil
}

// Count counts feature flags matching the filter
func (r *GormFeatureFlagRepository) Count(ctx context.Context, filter shared.Filter) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.FeatureFlagModel{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func toDomainFlags(flagModels []models.FeatureFlagModel) []featureflag.FeatureFlag {
	flags := make([]featureflag.FeatureFlag, len(flagModels))
	for i := range flagModels {
		flags[i] = *flagModels[i].ToDomain()
	}
	return flags
}

// Ensure GormFeatureFlagRepository implements featureflag.Repository
var _ featureflag.Repository = (*GormFeatureFlagRepository)(nil)
