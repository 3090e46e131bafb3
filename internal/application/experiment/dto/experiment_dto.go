package dto

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/oks-citadel/citadelbuy-sub019/internal/domain/experiment"
	"github.com/oks-citadel/citadelbuy-sub019/internal/domain/targeting"
)

// ConditionDTO represents a targeting condition in API requests/responses
type ConditionDTO struct {
	Attribute string `json:"attribute" binding:"required"`
	Expected  string `json:"expected" binding:"required"`
}

// ToDomain converts ConditionDTO to a domain Condition
func (d ConditionDTO) ToDomain() targeting.Condition {
	return targeting.Condition{Attribute: d.Attribute, Expected: d.Expected}
}

// ToConditionDTO converts a domain Condition to a DTO
func ToConditionDTO(c targeting.Condition) ConditionDTO {
	return ConditionDTO{Attribute: c.Attribute, Expected: c.Expected}
}

// RuleDTO represents a targeting rule in API requests/responses
type RuleDTO struct {
	RuleID     string          `json:"rule_id" binding:"required"`
	Priority   int             `json:"priority" binding:"min=0"`
	Conditions []ConditionDTO  `json:"conditions"`
	Value      json.RawMessage `json:"value,omitempty"`
}

// ToDomain converts RuleDTO to a domain Rule
func (d RuleDTO) ToDomain() targeting.Rule {
	conditions := make([]targeting.Condition, len(d.Conditions))
	for i, c := range d.Conditions {
		conditions[i] = c.ToDomain()
	}
	return targeting.Rule{
		RuleID:     d.RuleID,
		Priority:   d.Priority,
		Conditions: conditions,
		Value:      d.Value,
	}
}

// ToRuleDTO converts a domain Rule to a DTO
func ToRuleDTO(r targeting.Rule) RuleDTO {
	conditions := make([]ConditionDTO, len(r.Conditions))
	for i, c := range r.Conditions {
		conditions[i] = ToConditionDTO(c)
	}
	return RuleDTO{
		RuleID:     r.RuleID,
		Priority:   r.Priority,
		Conditions: conditions,
		Value:      r.Value,
	}
}

// RulesToDomain converts a slice of rule DTOs
func RulesToDomain(rules []RuleDTO) []targeting.Rule {
	if len(rules) == 0 {
		return nil
	}
	out := make([]targeting.Rule, len(rules))
	for i, r := range rules {
		out[i] = r.ToDomain()
	}
	return out
}

// VariantRequest represents a variant in experiment creation requests
type VariantRequest struct {
	Name      string          `json:"name" binding:"required"`
	Weight    float64         `json:"weight" binding:"min=0,max=100"`
	IsControl bool            `json:"is_control"`
	Config    json.RawMessage `json:"config,omitempty"`
}

// VariantResponse represents a variant in API responses
type VariantResponse struct {
	ID           uuid.UUID       `json:"id"`
	Name         string          `json:"name"`
	Weight       float64         `json:"weight"`
	IsControl    bool            `json:"is_control"`
	Config       json.RawMessage `json:"config,omitempty"`
	Participants int64           `json:"participants"`
	Conversions  int64           `json:"conversions"`
}

// CreateExperimentRequest represents the request to create an experiment
type CreateExperimentRequest struct {
	Name                   string           `json:"name" binding:"required,min=1,max=200"`
	Type                   string           `json:"type" binding:"required"`
	Variants               []VariantRequest `json:"variants" binding:"required,min=1"`
	TrafficAllocation      float64          `json:"traffic_allocation" binding:"min=0,max=100"`
	Rules                  []RuleDTO        `json:"rules,omitempty"`
	MutualExclusionGroupID *string          `json:"mutual_exclusion_group_id,omitempty"`
	IsExclusive            bool             `json:"is_exclusive"`
}

// UpdateExperimentRequest represents the request to update a draft experiment
type UpdateExperimentRequest struct {
	Name              *string    `json:"name,omitempty"`
	TrafficAllocation *float64   `json:"traffic_allocation,omitempty" binding:"omitempty,min=0,max=100"`
	Rules             *[]RuleDTO `json:"rules,omitempty"`
}

// ExperimentResponse represents an experiment in API responses
type ExperimentResponse struct {
	ID                     uuid.UUID         `json:"id"`
	Name                   string            `json:"name"`
	Status                 string            `json:"status"`
	Type                   string            `json:"type"`
	Variants               []VariantResponse `json:"variants"`
	TrafficAllocation      float64           `json:"traffic_allocation"`
	Rules                  []RuleDTO         `json:"rules,omitempty"`
	MutualExclusionGroupID *string           `json:"mutual_exclusion_group_id,omitempty"`
	IsExclusive            bool              `json:"is_exclusive"`
	Version                int               `json:"version"`
	StartedAt              *time.Time        `json:"started_at,omitempty"`
	CompletedAt            *time.Time        `json:"completed_at,omitempty"`
	CreatedAt              time.Time         `json:"created_at"`
	UpdatedAt              time.Time         `json:"updated_at"`
}

// ToExperimentResponse converts a domain Experiment to a response DTO
func ToExperimentResponse(exp *experiment.Experiment) *ExperimentResponse {
	variants := make([]VariantResponse, len(exp.Variants))
	for i, v := range exp.Variants {
		variants[i] = VariantResponse{
			ID:           v.ID,
			Name:         v.Name,
			Weight:       v.Weight,
			IsControl:    v.IsControl,
			Config:       v.Config,
			Participants: v.Participants,
			Conversions:  v.Conversions,
		}
	}

	var rules []RuleDTO
	if len(exp.Rules) > 0 {
		rules = make([]RuleDTO, len(exp.Rules))
		for i, r := range exp.Rules {
			rules[i] = ToRuleDTO(r)
		}
	}

	return &ExperimentResponse{
		ID:                     exp.ID,
		Name:                   exp.Name,
		Status:                 string(exp.Status),
		Type:                   string(exp.Type),
		Variants:               variants,
		TrafficAllocation:      exp.TrafficAllocation,
		Rules:                  rules,
		MutualExclusionGroupID: exp.MutualExclusionGroupID,
		IsExclusive:            exp.IsExclusive,
		Version:                exp.Version,
		StartedAt:              exp.StartedAt,
		CompletedAt:            exp.CompletedAt,
		CreatedAt:              exp.CreatedAt,
		UpdatedAt:              exp.UpdatedAt,
	}
}

// AssignRequest represents the request to assign a subject
type AssignRequest struct {
	SubjectID      string            `json:"subject_id" binding:"required"`
	Attributes     map[string]string `json:"attributes,omitempty"`
	ForceVariantID *uuid.UUID        `json:"force_variant_id,omitempty"`
}

// AssignmentResponse represents an assignment in API responses
type AssignmentResponse struct {
	ID           uuid.UUID         `json:"id"`
	ExperimentID uuid.UUID         `json:"experiment_id"`
	VariantID    uuid.UUID         `json:"variant_id"`
	SubjectID    string            `json:"subject_id"`
	Context      map[string]string `json:"context,omitempty"`
	AssignedAt   time.Time         `json:"assigned_at"`
}

// ToAssignmentResponse converts a domain Assignment to a response DTO
func ToAssignmentResponse(a *experiment.Assignment) *AssignmentResponse {
	return &AssignmentResponse{
		ID:           a.ID,
		ExperimentID: a.ExperimentID,
		VariantID:    a.VariantID,
		SubjectID:    a.SubjectID,
		Context:      a.Context,
		AssignedAt:   a.AssignedAt,
	}
}

// BulkAssignRequest represents the request to assign a subject to
// several experiments at once
type BulkAssignRequest struct {
	SubjectID     string            `json:"subject_id" binding:"required"`
	ExperimentIDs []uuid.UUID       `json:"experiment_ids" binding:"required,min=1"`
	Attributes    map[string]string `json:"attributes,omitempty"`
}

// BulkAssignError reports a single failed experiment in a bulk request
type BulkAssignError struct {
	ExperimentID uuid.UUID `json:"experiment_id"`
	Code         string    `json:"code"`
	Message      string    `json:"message"`
}

// BulkAssignResponse partitions bulk outcomes: assigned, ineligible
// (gated out, no error), and failed
type BulkAssignResponse struct {
	Assignments []*AssignmentResponse `json:"assignments"`
	Ineligible  []uuid.UUID           `json:"ineligible,omitempty"`
	Errors      []BulkAssignError     `json:"errors,omitempty"`
}

// TrackConversionRequest represents the request to record a conversion
type TrackConversionRequest struct {
	SubjectID string `json:"subject_id" binding:"required"`
}
