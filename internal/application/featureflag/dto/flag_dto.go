package dto

import (
	"time"

	experimentdto "github.com/oks-citadel/citadelbuy-sub019/internal/application/experiment/dto"
	"github.com/oks-citadel/citadelbuy-sub019/internal/domain/featureflag"
)

// CreateFlagRequest represents the request to create a feature flag
type CreateFlagRequest struct {
	Key               string                  `json:"key" binding:"required,min=1,max=128"`
	Name              string                  `json:"name" binding:"required,min=1,max=200"`
	Description       string                  `json:"description,omitempty"`
	DefaultValue      bool                    `json:"default_value"`
	RolloutPercentage *float64                `json:"rollout_percentage,omitempty" binding:"omitempty,min=0,max=100"`
	Rules             []experimentdto.RuleDTO `json:"rules,omitempty"`
}

// UpdateFlagRequest represents the request to update a feature flag.
// Nil fields are left unchanged.
type UpdateFlagRequest struct {
	Name              *string                  `json:"name,omitempty"`
	Description       *string                  `json:"description,omitempty"`
	Enabled           *bool                    `json:"enabled,omitempty"`
	DefaultValue      *bool                    `json:"default_value,omitempty"`
	RolloutPercentage *float64                 `json:"rollout_percentage,omitempty" binding:"omitempty,min=0,max=100"`
	Rules             *[]experimentdto.RuleDTO `json:"rules,omitempty"`
}

// FlagResponse represents a feature flag in API responses
type FlagResponse struct {
	ID                string                  `json:"id"`
	Key               string                  `json:"key"`
	Name              string                  `json:"name"`
	Description       string                  `json:"description,omitempty"`
	Enabled           bool                    `json:"enabled"`
	DefaultValue      bool                    `json:"default_value"`
	RolloutPercentage float64                 `json:"rollout_percentage"`
	Rules             []experimentdto.RuleDTO `json:"rules,omitempty"`
	Version           int                     `json:"version"`
	CreatedAt         time.Time               `json:"created_at"`
	UpdatedAt         time.Time               `json:"updated_at"`
}

// ToFlagResponse converts a domain FeatureFlag to a response DTO
func ToFlagResponse(flag *featureflag.FeatureFlag) *FlagResponse {
	var rules []experimentdto.RuleDTO
	if len(flag.Rules) > 0 {
		rules = make([]experimentdto.RuleDTO, len(flag.Rules))
		for i, r := range flag.Rules {
			rules[i] = experimentdto.ToRuleDTO(r)
		}
	}

	return &FlagResponse{
		ID:                flag.ID.String(),
		Key:               flag.Key,
		Name:              flag.Name,
		Description:       flag.Description,
		Enabled:           flag.Enabled,
		DefaultValue:      flag.DefaultValue,
		RolloutPercentage: flag.RolloutPercentage,
		Rules:             rules,
		Version:           flag.Version,
		CreatedAt:         flag.CreatedAt,
		UpdatedAt:         flag.UpdatedAt,
	}
}

// EvaluateRequest represents the request to evaluate a flag for a subject
type EvaluateRequest struct {
	SubjectID   string            `json:"subject_id" form:"subject_id" binding:"required"`
	Environment string            `json:"environment,omitempty" form:"environment"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

// EvaluationResponse represents an evaluation result in API responses
type EvaluationResponse struct {
	FlagKey     string    `json:"flag_key"`
	SubjectID   string    `json:"subject_id"`
	Environment string    `json:"environment"`
	Value       bool      `json:"value"`
	Reason      string    `json:"reason"`
	RuleID      string    `json:"rule_id,omitempty"`
	FlagVersion int       `json:"flag_version"`
	EvaluatedAt time.Time `json:"evaluated_at"`
}

// ToEvaluationResponse converts a domain Evaluation to a response DTO
func ToEvaluationResponse(eval *featureflag.Evaluation) *EvaluationResponse {
	return &EvaluationResponse{
		FlagKey:     eval.FlagKey,
		SubjectID:   eval.SubjectID,
		Environment: eval.Environment,
		Value:       eval.Value,
		Reason:      string(eval.Reason),
		RuleID:      eval.RuleID,
		FlagVersion: eval.FlagVersion,
		EvaluatedAt: eval.EvaluatedAt,
	}
}
