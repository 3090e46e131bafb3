package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/oks-citadel/citadelbuy-sub019/internal/domain/experiment"
	"github.com/oks-citadel/citadelbuy-sub019/internal/domain/shared"
	"github.com/oks-citadel/citadelbuy-sub019/internal/infrastructure/persistence/models"
)

// GormExperimentRepository implements experiment.Repository using GORM
type GormExperimentRepository struct {
	db *gorm.DB
}

// NewGormExperimentRepository creates a new GormExperimentRepository
func NewGormExperimentRepository(db *gorm.DB) *GormExperimentRepository {
	return &GormExperimentRepository{db: db}
}

// WithTx returns a new repository instance with the given transaction
func (r *GormExperimentRepository) WithTx(tx *gorm.DB) *GormExperimentRepository {
	return &GormExperimentRepository{db: tx}
}

// Create creates a new experiment
func (r *GormExperimentRepository) Create(ctx context.Context, exp *experiment.Experiment) error {
	model := models.ExperimentModelFromDomain(exp)
	return r.db.WithContext(ctx).Create(model).Error
}

// Update updates an existing experiment with optimistic locking: the
// row must still carry the version the experiment was loaded with.
func (r *GormExperimentRepository) Update(ctx context.Context, exp *experiment.Experiment) error {
	currentVersion := exp.Version
	exp.IncrementVersion()

	model := models.ExperimentModelFromDomain(exp)

	result := r.db.WithContext(ctx).
		Model(&models.ExperimentModel{}).
		Where("id = ? AND version = ?", exp.ID, currentVersion).
		Updates(map[string]any{
			"name":                      model.Name,
			"status":                    model.Status,
			"variants":                  model.VariantsJSON,
			"traffic_allocation":        model.TrafficAllocation,
			"rules":                     model.RulesJSON,
			"mutual_exclusion_group_id": model.MutualExclusionGroupID,
			"is_exclusive":              model.IsExclusive,
			"started_at":                model.StartedAt,
			"completed_at":              model.CompletedAt,
			"version":                   model.Version,
			"updated_at":                model.UpdatedAt,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		var count int64
		r.db.WithContext(ctx).Model(&models.ExperimentModel{}).Where("id = ?", exp.ID).Count(&count)
		if count == 0 {
			return shared.ErrNotFound
		}
		return shared.NewDomainError("OPTIMISTIC_LOCK_FAILED", "Experiment was modified by another transaction")
	}
	return nil
}

// FindByID finds an experiment by its ID
func (r *GormExperimentRepository) FindByID(ctx context.Context, id uuid.UUID) (*experiment.Experiment, error) {
	var model models.ExperimentModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindAll retrieves experiments with pagination
func (r *GormExperimentRepository) FindAll(ctx context.Context, filter shared.Filter) ([]experiment.Experiment, error) {
	query := r.db.WithContext(ctx).Model(&models.ExperimentModel{})
	return r.find(query, filter)
}

// FindByStatus finds experiments with a specific status
func (r *GormExperimentRepository) FindByStatus(ctx context.Context, status experiment.Status, filter shared.Filter) ([]experiment.Experiment, error) {
	query := r.db.WithContext(ctx).Model(&models.ExperimentModel{}).
		Where("status = ?", status)
	return r.find(query, filter)
}

// ListRunning returns every running experiment. The scheduled cache
// refresh calls this on each cycle, so no pagination is applied.
func (r *GormExperimentRepository) ListRunning(ctx context.Context) ([]experiment.Experiment, error) {
	var expModels []models.ExperimentModel
	if err := r.db.WithContext(ctx).
		Where("status = ?", experiment.StatusRunning).
		Order("created_at ASC").
		Find(&expModels).Error; err != nil {
		return nil, err
	}
	return toDomainExperiments(expModels), nil
}

// IncrementParticipants bumps the participant counter of a variant
// inside the experiment's JSONB variants document.
func (r *GormExperimentRepository) IncrementParticipants(ctx context.Context, experimentID, variantID uuid.UUID) error {
	return r.incrementVariantCounter(ctx, "participants", experimentID, variantID)
}

// IncrementConversions bumps the conversion counter of a variant
// inside the experiment's JSONB variants document.
func (r *GormExperimentRepository) IncrementConversions(ctx context.Context, experimentID, variantID uuid.UUID) error {
	return r.incrementVariantCounter(ctx, "conversions", experimentID, variantID)
}

// incrementVariantCounter rewrites the variants array, bumping one
// counter of one variant in place. The counter name is taken from a
// fixed whitelist, never from caller input.
func (r *GormExperimentRepository) incrementVariantCounter(ctx context.Context, counter string, experimentID, variantID uuid.UUID) error {
	switch counter {
	case "participants", "conversions":
	default:
		return fmt.Errorf("unknown variant counter: %s", counter)
	}

	sql := fmt.Sprintf(`UPDATE experiments SET variants = (
		SELECT COALESCE(jsonb_agg(
			CASE WHEN v->>'id' = ?
				THEN jsonb_set(v, '{%s}', to_jsonb(COALESCE((v->>'%s')::bigint, 0) + 1))
				ELSE v
			END), '[]'::jsonb)
		FROM jsonb_array_elements(variants) AS v
	) WHERE id = ?`, counter, counter)

	result := r.db.WithContext(ctx).Exec(sql, variantID.String(), experimentID)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// Count counts experiments matching the filter
func (r *GormExperimentRepository) Count(ctx context.Context, filter shared.Filter) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.ExperimentModel{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *GormExperimentRepository) find(query *gorm.DB, filter shared.Filter) ([]experiment.Experiment, error) {
	orderBy := ValidateSortField(filter.OrderBy, ExperimentSortFields, "created_at")
	orderDir := ValidateSortOrder(filter.OrderDir)

	var expModels []models.ExperimentModel
	if err := query.
		Order(orderBy + " " + orderDir).
		Offset(filter.Offset()).
		Limit(filter.Limit()).
		Find(&expModels).Error; err != nil {
		return nil, err
	}
	return toDomainExperiments(expModels), nil
}

func toDomainExperiments(expModels []models.ExperimentModel) []experiment.Experiment {
	experiments := make([]experiment.Experiment, len(expModels))
	for i := range expModels {
		experiments[i] = *expModels[i].ToDomain()
	}
	return experiments
}

// Ensure GormExperimentRepository implements experiment.Repository
var _ experiment.Repository = (*GormExperimentRepository)(nil)
