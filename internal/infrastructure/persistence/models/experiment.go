package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/oks-citadel/citadelbuy-sub019/internal/domain/experiment"
	"github.com/oks-citadel/citadelbuy-sub019/internal/domain/targeting"
)

// modelLogger reports conversion errors that would otherwise be silent
var modelLogger = zap.L().Named("persistence.models")

// ExperimentModel is the persistence model for the Experiment aggregate
// root. Variants and targeting rules are embedded as JSONB documents:
// they are always read and written with the experiment as a whole.
type ExperimentModel struct {
	VersionedModel
	Name                   string            `gorm:"type:varchar(200);not null"`
	Status                 experiment.Status `gorm:"type:varchar(20);not null;index"`
	Type                   experiment.Type   `gorm:"type:varchar(20);not null"`
	VariantsJSON           string            `gorm:"column:variants;type:jsonb;not null"`
	TrafficAllocation      float64           `gorm:"not null;default:100"`
	RulesJSON              string            `gorm:"column:rules;type:jsonb;default:'[]'"`
	MutualExclusionGroupID *string           `gorm:"type:varchar(100);index"`
	IsExclusive            bool              `gorm:"not null;default:false"`
	StartedAt              *time.Time
	CompletedAt            *time.Time
}

// TableName returns the table name for GORM
func (ExperimentModel) TableName() string {
	return "experiments"
}

// ToDomain converts the persistence model to a domain Experiment.
func (m *ExperimentModel) ToDomain() *experiment.Experiment {
	exp := &experiment.Experiment{
		VersionedEntity:        m.ToDomainVersionedEntity(),
		Name:                   m.Name,
		Status:                 m.Status,
		Type:                   m.Type,
		Variants:               make([]experiment.Variant, 0),
		TrafficAllocation:      m.TrafficAllocation,
		MutualExclusionGroupID: m.MutualExclusionGroupID,
		IsExclusive:            m.IsExclusive,
		StartedAt:              m.StartedAt,
		CompletedAt:            m.CompletedAt,
	}

	if m.VariantsJSON != "" {
		var variants []experiment.Variant
		if err := json.Unmarshal([]byte(m.VariantsJSON), &variants); err != nil {
			modelLogger.Warn("failed to parse variants JSON",
				zap.String("experiment_id", m.ID.String()),
				zap.Error(err))
		} else {
			exp.Variants = variants
		}
	}

	if m.RulesJSON != "" && m.RulesJSON != "[]" {
		var rules []targeting.Rule
		if err := json.Unmarshal([]byte(m.RulesJSON), &rules); err != nil {
			modelLogger.Warn("failed to parse rules JSON",
				zap.String("experiment_id", m.ID.String()),
				zap.Error(err))
		} else {
			exp.Rules = rules
		}
	}

	return exp
}

// FromDomain populates the persistence model from a domain Experiment.
func (m *ExperimentModel) FromDomain(exp *experiment.Experiment) {
	m.FromDomainVersionedEntity(exp.VersionedEntity)
	m.Name = exp.Name
	m.Status = exp.Status
	m.Type = exp.Type
	m.TrafficAllocation = exp.TrafficAllocation
	m.MutualExclusionGroupID = exp.MutualExclusionGroupID
	m.IsExclusive = exp.IsExclusive
	m.StartedAt = exp.StartedAt
	m.CompletedAt = exp.CompletedAt

	if jsonBytes, err := json.Marshal(exp.Variants); err == nil {
		m.VariantsJSON = string(jsonBytes)
	} else {
		m.VariantsJSON = "[]"
	}

	if len(exp.Rules) > 0 {
		if jsonBytes, err := json.Marshal(exp.Rules); err == nil {
			m.RulesJSON = string(jsonBytes)
		} else {
			m.RulesJSON = "[]"
		}
	} else {
		m.RulesJSON = "[]"
	}
}

// ExperimentModelFromDomain creates a new persistence model from a domain Experiment.
func ExperimentModelFromDomain(exp *experiment.Experiment) *ExperimentModel {
	m := &ExperimentModel{}
	m.FromDomain(exp)
	return m
}

// AssignmentModel is the persistence model for assignment records. The
// composite unique index on (experiment_id, subject_id) is what makes
// at-most-one-assignment hold under concurrent writers.
type AssignmentModel struct {
	ID           uuid.UUID `gorm:"type:uuid;primary_key"`
	ExperimentID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_assignments_pair,priority:1"`
	SubjectID    string    `gorm:"type:varchar(200);not null;uniqueIndex:idx_assignments_pair,priority:2;index:idx_assignments_subject"`
	VariantID    uuid.UUID `gorm:"type:uuid;not null"`
	HashKey      string    `gorm:"type:varchar(64);not null"`
	ContextJSON  string    `gorm:"column:context;type:jsonb;default:'{}'"`
	AssignedAt   time.Time `gorm:"not null;index"`
}

// TableName returns the table name for GORM
func (AssignmentModel) TableName() string {
	return "assignments"
}

// ToDomain converts the persistence model to a domain Assignment.
func (m *AssignmentModel) ToDomain() *experiment.Assignment {
	a := &experiment.Assignment{
		ID:           m.ID,
		ExperimentID: m.ExperimentID,
		VariantID:    m.VariantID,
		SubjectID:    m.SubjectID,
		HashKey:      m.HashKey,
		AssignedAt:   m.AssignedAt,
	}

	if m.ContextJSON != "" && m.ContextJSON != "{}" {
		var context map[string]string
		if err := json.Unmarshal([]byte(m.ContextJSON), &context); err != nil {
			modelLogger.Warn("failed to parse assignment context JSON",
				zap.String("assignment_id", m.ID.String()),
				zap.Error(err))
		} else {
			a.Context = context
		}
	}

	return a
}

// FromDomain populates the persistence model from a domain Assignment.
func (m *AssignmentModel) FromDomain(a *experiment.Assignment) {
	m.ID = a.ID
	m.ExperimentID = a.ExperimentID
	m.SubjectID = a.SubjectID
	m.VariantID = a.VariantID
	m.HashKey = a.HashKey
	m.AssignedAt = a.AssignedAt

	if len(a.Context) > 0 {
		if jsonBytes, err := json.Marshal(a.Context); err == nil {
			m.ContextJSON = string(jsonBytes)
		} else {
			m.ContextJSON = "{}"
		}
	} else {
		m.ContextJSON = "{}"
	}
}

// AssignmentModelFromDomain creates a new persistence model from a domain Assignment.
func AssignmentModelFromDomain(a *experiment.Assignment) *AssignmentModel {
	m := &AssignmentModel{}
	m.FromDomain(a)
	return m
}
