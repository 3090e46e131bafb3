package featureflag

import (
	"encoding/json"
	"time"

	"github.com/oks-citadel/citadelbuy-sub019/internal/domain/bucketing"
	"github.com/oks-citadel/citadelbuy-sub019/internal/domain/targeting"
)

// Reason explains which branch of the evaluation produced the value
type Reason string

const (
	// ReasonDisabled means the flag is off and the default was served
	ReasonDisabled Reason = "flag_disabled"
	// ReasonRuleMatch means a targeting rule decided the value
	ReasonRuleMatch Reason = "rule_match"
	// ReasonRollout means the subject fell inside the percentage rollout
	ReasonRollout Reason = "rollout"
	// ReasonDefault means no rule matched and the subject fell outside
	// the rollout
	ReasonDefault Reason = "default"
)

// Evaluation is the result of evaluating one flag for one subject.
// Results are cacheable per (flag key, subject, environment) because
// evaluation is deterministic for a given flag version.
type Evaluation struct {
	FlagKey     string    `json:"flag_key"`
	SubjectID   string    `json:"subject_id"`
	Environment string    `json:"environment,omitempty"`
	Value       bool      `json:"value"`
	Reason      Reason    `json:"reason"`
	RuleID      string    `json:"rule_id,omitempty"`
	FlagVersion int       `json:"flag_version"`
	EvaluatedAt time.Time `json:"evaluated_at"`
}

// Evaluate resolves the flag value for a subject. The order is fixed:
// a disabled flag serves the default; otherwise the first matching
// targeting rule wins; otherwise the percentage rollout decides. The
// rollout hashes the subject against the flag key, so a subject's
// verdict is stable across calls and across rollout-percentage
// increases (a subject inside 20% stays inside 30%).
func Evaluate(flag *FeatureFlag, subjectID, environment string, attrs map[string]string) Evaluation {
	eval := Evaluation{
		FlagKey:     flag.Key,
		SubjectID:   subjectID,
		Environment: environment,
		FlagVersion: flag.Version,
		EvaluatedAt: time.Now(),
	}

	if !flag.Enabled {
		eval.Value = flag.DefaultValue
		eval.Reason = ReasonDisabled
		return eval
	}

	if rule, ok := targeting.FirstMatch(flag.Rules, mergeSubject(attrs, subjectID)); ok {
		eval.Value = ruleValue(rule)
		eval.Reason = ReasonRuleMatch
		eval.RuleID = rule.RuleID
		return eval
	}

	if bucketing.InAllocation(subjectID, flag.Key, flag.RolloutPercentage) {
		eval.Value = true
		eval.Reason = ReasonRollout
		return eval
	}

	eval.Value = flag.DefaultValue
	eval.Reason = ReasonDefault
	return eval
}

// ruleValue decodes a rule's payload as a boolean. A rule without a
// payload, or with one that is not a JSON boolean, turns the flag on:
// matching an explicit targeting rule is an opt-in unless the rule says
// otherwise.
func ruleValue(rule *targeting.Rule) bool {
	if len(rule.Value) == 0 {
		return true
	}
	var v bool
	if err := json.Unmarshal(rule.Value, &v); err != nil {
		return true
	}
	return v
}

// subjectAttribute is the context key under which the subject ID is
// exposed to targeting rules, mirroring experiment assignment.
const subjectAttribute = "subject_id"

func mergeSubject(attrs map[string]string, subjectID string) map[string]string {
	merged := make(map[string]string, len(attrs)+1)
	for k, v := range attrs {
		merged[k] = v
	}
	merged[subjectAttribute] = subjectID
	return merged
}
