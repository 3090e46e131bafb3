package persistence

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/oks-citadel/citadelbuy-sub019/internal/domain/experiment"
	"github.com/oks-citadel/citadelbuy-sub019/internal/domain/shared"
	"github.com/oks-citadel/citadelbuy-sub019/internal/infrastructure/persistence/models"
)

// GormAssignmentRepository implements experiment.AssignmentRepository
// using GORM. Assignment rows are immutable once written: there is no
// Update and no Delete.
type GormAssignmentRepository struct {
	db *gorm.DB
}

// NewGormAssignmentRepository creates a new GormAssignmentRepository
func NewGormAssignmentRepository(db *gorm.DB) *GormAssignmentRepository {
	return &GormAssignmentRepository{db: db}
}

// WithTx returns a new repository instance with the given transaction
func (r *GormAssignmentRepository) WithTx(tx *gorm.DB) *GormAssignmentRepository {
	return &GormAssignmentRepository{db: tx}
}

// Create persists a new assignment. The insert races against concurrent
// writers on the (experiment_id, subject_id) unique index; the loser
// gets ErrAlreadyAssigned and reads the winner back.
func (r *GormAssignmentRepository) Create(ctx context.Context, a *experiment.Assignment) error {
	model := models.AssignmentModelFromDomain(a)
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "experiment_id"}, {Name: "subject_id"}},
			DoNothing: true,
		}).
		Create(model)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return experiment.ErrAlreadyAssigned
	}
	return nil
}

// FindByExperimentAndSubject finds the assignment for a pair
func (r *GormAssignmentRepository) FindByExperimentAndSubject(ctx context.Context, experimentID uuid.UUID, subjectID string) (*experiment.Assignment, error) {
	var model models.AssignmentModel
	if err := r.db.WithContext(ctx).
		Where("experiment_id = ? AND subject_id = ?", experimentID, subjectID).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// ListBySubject returns all assignments held by a subject
func (r *GormAssignmentRepository) ListBySubject(ctx context.Context, subjectID string) ([]experiment.Assignment, error) {
	var assignmentModels []models.AssignmentModel
	if err := r.db.WithContext(ctx).
		Where("subject_id = ?", subjectID).
		Order("assigned_at ASC").
		Find(&assignmentModels).Error; err != nil {
		return nil, err
	}

	assignments := make([]experiment.Assignment, len(assignmentModels))
	for i := range assignmentModels {
		assignments[i] = *assignmentModels[i].ToDomain()
	}
	return assignments, nil
}

// ListRunningForSubject returns the subject's assignments in running
// experiments, joined with each experiment's mutual-exclusion group
func (r *GormAssignmentRepository) ListRunningForSubject(ctx context.Context, subjectID string) ([]experiment.RunningAssignment, error) {
	var rows []struct {
		ExperimentID           uuid.UUID
		VariantID              uuid.UUID
		MutualExclusionGroupID *string
	}

	if err := r.db.WithContext(ctx).
		Table("assignments").
		Select("assignments.experiment_id, assignments.variant_id, experiments.mutual_exclusion_group_id").
		Joins("JOIN experiments ON experiments.id = assignments.experiment_id").
		Where("assignments.subject_id = ? AND experiments.status = ?", subjectID, experiment.StatusRunning).
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	running := make([]experiment.RunningAssignment, len(rows))
	for i, row := range rows {
		running[i] = experiment.RunningAssignment{
			ExperimentID:           row.ExperimentID,
			VariantID:              row.VariantID,
			MutualExclusionGroupID: row.MutualExclusionGroupID,
		}
	}
	return running, nil
}

// CountByExperiment counts assignments in an experiment
func (r *GormAssignmentRepository) CountByExperiment(ctx context.Context, experimentID uuid.UUID) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.AssignmentModel{}).
		Where("experiment_id = ?", experimentID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// Ensure GormAssignmentRepository implements experiment.AssignmentRepository
var _ experiment.AssignmentRepository = (*GormAssignmentRepository)(nil)
