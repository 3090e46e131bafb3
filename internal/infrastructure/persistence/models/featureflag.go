package models

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/oks-citadel/citadelbuy-sub019/internal/domain/featureflag"
	"github.com/oks-citadel/citadelbuy-sub019/internal/domain/targeting"
)

// FeatureFlagModel is the persistence model for the FeatureFlag
// aggregate root. Flags are global: they are keyed by a unique string
// key rather than by subject or environment.
type FeatureFlagModel struct {
	VersionedModel
	Key               string  `gorm:"type:varchar(128);not null;uniqueIndex"`
	Name              string  `gorm:"type:varchar(200);not null"`
	Description       string  `gorm:"type:text"`
	Enabled           bool    `gorm:"not null;default:true;index"`
	DefaultValue      bool    `gorm:"not null;default:false"`
	RolloutPercentage float64 `gorm:"not null;default:100"`
	RulesJSON         string  `gorm:"column:rules;type:jsonb;default:'[]'"`
}

// TableName returns the table name for GORM
func (FeatureFlagModel) TableName() string {
	return "feature_flags"
}

// ToDomain converts the persistence model to a domain FeatureFlag.
func (m *FeatureFlagModel) ToDomain() *featureflag.FeatureFlag {
	flag := &featureflag.FeatureFlag{
		VersionedEntity:   m.ToDomainVersionedEntity(),
		Key:               m.Key,
		Name:              m.Name,
		Description:       m.Description,
		Enabled:           m.Enabled,
		DefaultValue:      m.DefaultValue,
		RolloutPercentage: m.RolloutPercentage,
	}

	if m.RulesJSON != "" && m.RulesJSON != "[]" {
		var rules []targeting.Rule
		if err := json.Unmarshal([]byte(m.RulesJSON), &rules); err != nil {
			modelLogger.Warn("failed to parse rules JSON",
				zap.String("flag_key", m.Key),
				zap.Error(err))
		} else {
			flag.Rules = rules
		}
	}

	return flag
}

// FromDomain populates the persistence model from a domain FeatureFlag.
func (m *FeatureFlagModel) FromDomain(f *featureflag.FeatureFlag) {
	m.FromDomainVersionedEntity(f.VersionedEntity)
	m.Key = f.Key
	m.Name = f.Name
	m.Description = f.Description
	m.Enabled = f.Enabled
	m.DefaultValue = f.DefaultValue
	m.RolloutPercentage = f.RolloutPercentage

	if len(f.Rules) > 0 {
		if jsonBytes, err := json.Marshal(f.Rules); err == nil {
			m.RulesJSON = string(jsonBytes)
		} else {
			m.RulesJSON = "[]"
		}
	} else {
		m.RulesJSON = "[]"
	}
}

// FeatureFlagModelFromDomain creates a new persistence model from a domain FeatureFlag.
func FeatureFlagModelFromDomain(f *featureflag.FeatureFlag) *FeatureFlagModel {
	m := &FeatureFlagModel{}
	m.FromDomain(f)
	return m
}
