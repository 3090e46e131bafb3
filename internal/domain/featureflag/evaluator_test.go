package featureflag

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oks-citadel/citadelbuy-sub019/internal/domain/targeting"
)

func newFlag(t *testing.T, rollout float64, rules ...targeting.Rule) *FeatureFlag {
	t.Helper()
	flag, err := NewFeatureFlag("new_checkout", "New checkout", "", false, rollout, rules)
	require.NoError(t, err)
	return flag
}

func TestEvaluate_DisabledServesDefault(t *testing.T) {
	for _, def := range []bool{true, false} {
		flag, err := NewFeatureFlag("new_checkout", "New checkout", "", def, 100, nil)
		require.NoError(t, err)
		require.NoError(t, flag.Disable())

		eval := Evaluate(flag, "user-1", "production", nil)
		assert.Equal(t, def, eval.Value)
		assert.Equal(t, ReasonDisabled, eval.Reason)
	}
}

func TestEvaluate_RuleMatchWins(t *testing.T) {
	off, _ := json.Marshal(false)
	flag := newFlag(t, 100,
		targeting.Rule{
			RuleID:   "kill-switch",
			Priority: 1,
			Conditions: []targeting.Condition{
				{Attribute: "region", Expected: "eu"},
			},
			Value: off,
		},
	)

	// The rule turns the flag off for eu subjects even though the
	// rollout is 100%.
	eval := Evaluate(flag, "user-1", "production", map[string]string{"region": "eu"})
	assert.False(t, eval.Value)
	assert.Equal(t, ReasonRuleMatch, eval.Reason)
	assert.Equal(t, "kill-switch", eval.RuleID)

	// Everyone else rides the rollout.
	eval = Evaluate(flag, "user-1", "production", map[string]string{"region": "us"})
	assert.True(t, eval.Value)
	assert.Equal(t, ReasonRollout, eval.Reason)
}

func TestEvaluate_RulePriorityOrder(t *testing.T) {
	on, _ := json.Marshal(true)
	off, _ := json.Marshal(false)
	flag := newFlag(t, 0,
		targeting.Rule{
			RuleID:     "low",
			Priority:   10,
			Conditions: []targeting.Condition{{Attribute: "plan", Expected: "beta"}},
			Value:      off,
		},
		targeting.Rule{
			RuleID:     "high",
			Priority:   1,
			Conditions: []targeting.Condition{{Attribute: "plan", Expected: "beta"}},
			Value:      on,
		},
	)

	eval := Evaluate(flag, "user-1", "production", map[string]string{"plan": "beta"})
	assert.True(t, eval.Value)
	assert.Equal(t, "high", eval.RuleID)
}

func TestEvaluate_RuleWithoutPayloadOptsIn(t *testing.T) {
	flag := newFlag(t, 0,
		targeting.Rule{
			RuleID:     "beta-users",
			Priority:   1,
			Conditions: []targeting.Condition{{Attribute: "plan", Expected: "beta"}},
		},
	)

	eval := Evaluate(flag, "user-1", "production", map[string]string{"plan": "beta"})
	assert.True(t, eval.Value)
	assert.Equal(t, ReasonRuleMatch, eval.Reason)
}

func TestEvaluate_RuleSeesSubjectID(t *testing.T) {
	flag := newFlag(t, 0,
		targeting.Rule{
			RuleID:     "pinned",
			Priority:   1,
			Conditions: []targeting.Condition{{Attribute: "subject_id", Expected: "user-42"}},
		},
	)

	assert.True(t, Evaluate(flag, "user-42", "production", nil).Value)
	assert.False(t, Evaluate(flag, "user-43", "production", nil).Value)
}

func TestEvaluate_RolloutBoundaries(t *testing.T) {
	t.Run("zero rollout serves default", func(t *testing.T) {
		flag := newFlag(t, 0)
		for i := 0; i < 200; i++ {
			eval := Evaluate(flag, fmt.Sprintf("user-%d", i), "production", nil)
			assert.False(t, eval.Value)
			assert.Equal(t, ReasonDefault, eval.Reason)
		}
	})

	t.Run("full rollout admits everybody", func(t *testing.T) {
		flag := newFlag(t, 100)
		for i := 0; i < 200; i++ {
			eval := Evaluate(flag, fmt.Sprintf("user-%d", i), "production", nil)
			assert.True(t, eval.Value)
			assert.Equal(t, ReasonRollout, eval.Reason)
		}
	})
}

func TestEvaluate_RolloutDistribution(t *testing.T) {
	flag := newFlag(t, 50)

	const subjects = 10000
	on := 0
	for i := 0; i < subjects; i++ {
		if Evaluate(flag, fmt.Sprintf("user-%d", i), "production", nil).Value {
			on++
		}
	}

	rate := float64(on) / subjects * 100
	assert.InDelta(t, 50, rate, 3, "rollout share should track the percentage")
}

func TestEvaluate_Deterministic(t *testing.T) {
	flag := newFlag(t, 50)

	first := Evaluate(flag, "user-1", "production", nil)
	for i := 0; i < 100; i++ {
		again := Evaluate(flag, "user-1", "production", nil)
		assert.Equal(t, first.Value, again.Value)
		assert.Equal(t, first.Reason, again.Reason)
	}
}

func TestEvaluate_RolloutMonotonic(t *testing.T) {
	// A subject inside a smaller rollout stays inside every larger one,
	// so ramping a flag up never flips earlier subjects off.
	low := newFlag(t, 20)
	high := newFlag(t, 60)

	for i := 0; i < 2000; i++ {
		subject := fmt.Sprintf("user-%d", i)
		if Evaluate(low, subject, "production", nil).Value {
			assert.True(t, Evaluate(high, subject, "production", nil).Value,
				"subject %s flipped off when the rollout grew", subject)
		}
	}
}

func TestEvaluate_ResultCarriesContext(t *testing.T) {
	flag := newFlag(t, 100)

	eval := Evaluate(flag, "user-1", "staging", nil)
	assert.Equal(t, "new_checkout", eval.FlagKey)
	assert.Equal(t, "user-1", eval.SubjectID)
	assert.Equal(t, "staging", eval.Environment)
	assert.Equal(t, flag.Version, eval.FlagVersion)
	assert.False(t, eval.EvaluatedAt.IsZero())
}
