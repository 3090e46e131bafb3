package bucketing

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBucket(t *testing.T) {
	tests := []struct {
		name      string
		subjectID string
		scopeKey  string
	}{
		{"simple", "user-123", "exp-1"},
		{"traffic scope", "user-123", "exp-1:traffic"},
		{"empty subject", "", "exp-1"},
		{"unicode", "用户", "实验"},
		{"long scope", "user-456", "very.long.experiment.identifier.with.dots"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			v := Bucket(tc.subjectID, tc.scopeKey)

			assert.GreaterOrEqual(t, v, 0.0)
			assert.Less(t, v, BucketRange)

			// Same inputs must always produce the same output
			assert.Equal(t, v, Bucket(tc.subjectID, tc.scopeKey))
		})
	}
}

func TestBucket_Consistency(t *testing.T) {
	expected := Bucket("user-12345", "checkout-experiment")
	for i := 0; i < 100; i++ {
		assert.Equal(t, expected, Bucket("user-12345", "checkout-experiment"))
	}
}

func TestBucket_ScopeIndependence(t *testing.T) {
	// Allocation and selection scopes for the same experiment must hash
	// independently; identical values for many subjects would indicate
	// the scopes are correlated.
	same := 0
	for i := 0; i < 1000; i++ {
		subject := fmt.Sprintf("subject-%d", i)
		a := Bucket(subject, "exp-42")
		b := Bucket(subject, TrafficScope("exp-42"))
		if a == b {
			same++
		}
	}
	assert.Less(t, same, 5)
}

func TestBucket_Distribution(t *testing.T) {
	// Buckets should be roughly uniform over [0, 100)
	const n = 20000
	counts := make([]int, 10)
	for i := 0; i < n; i++ {
		v := Bucket(fmt.Sprintf("subject-%d", i), "distribution-check")
		counts[int(v/10)]++
	}

	expected := n / 10
	for decile, count := range counts {
		assert.InDelta(t, expected, count, float64(expected)*0.15,
			"decile %d is skewed: %d", decile, count)
	}
}

func TestTrafficScope(t *testing.T) {
	assert.Equal(t, "exp-1:traffic", TrafficScope("exp-1"))
}

func TestInAllocation_Boundaries(t *testing.T) {
	for i := 0; i < 1000; i++ {
		subject := fmt.Sprintf("subject-%d", i)
		assert.False(t, InAllocation(subject, "exp", 0), "0%% must never match")
		assert.False(t, InAllocation(subject, "exp", -5))
		assert.True(t, InAllocation(subject, "exp", 100), "100%% must always match")
		assert.True(t, InAllocation(subject, "exp", 150))
	}
}

func TestInAllocation_Partial(t *testing.T) {
	const n = 20000
	in := 0
	for i := 0; i < n; i++ {
		if InAllocation(fmt.Sprintf("subject-%d", i), "partial-check", 30) {
			in++
		}
	}
	assert.InDelta(t, 0.30, float64(in)/float64(n), 0.03)
}
