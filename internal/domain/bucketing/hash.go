// Package bucketing provides the deterministic hashing primitive used for
// traffic-allocation gating and weighted variant selection.
package bucketing

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
)

// BucketRange is the upper bound (exclusive) of the hash bucket space.
const BucketRange = 100.0

// hashDelimiter joins the subject ID and scope key before digesting.
// Changing it re-buckets every subject, so it is fixed forever.
const hashDelimiter = ":"

// Bucket maps (subjectID, scopeKey) to a stable value in [0, 100).
// The same inputs always produce the same output across processes and
// nodes: the digest carries no in-memory seed or salt. Empty subject IDs
// are accepted and hash deterministically; callers own subject stability.
//
// Allocation gating and variant selection must use different scope keys
// for the same experiment (see TrafficScope), otherwise the two decisions
// correlate and bias weighted splits.
func Bucket(subjectID, scopeKey string) float64 {
	sum := sha256.Sum256([]byte(subjectID + hashDelimiter + scopeKey))
	prefix := binary.BigEndian.Uint32(sum[:4])
	return float64(prefix) / (float64(math.MaxUint32) + 1) * BucketRange
}

// Digest returns the hex-encoded digest of the hash input for
// (subjectID, scopeKey). It is stored on assignment records for audit
// and debugging, not used for bucketing decisions.
func Digest(subjectID, scopeKey string) string {
	sum := sha256.Sum256([]byte(subjectID + hashDelimiter + scopeKey))
	return hex.EncodeToString(sum[:])
}

// TrafficScope derives the scope key for the traffic-allocation decision
// of the given experiment or flag ID.
func TrafficScope(scopeID string) string {
	return scopeID + ":traffic"
}

// InAllocation reports whether the subject falls inside the given
// percentage for the scope. percent <= 0 never matches and
// percent >= 100 always matches, independent of the hash.
func InAllocation(subjectID, scopeKey string, percent float64) bool {
	if percent <= 0 {
		return false
	}
	if percent >= BucketRange {
		return true
	}
	return Bucket(subjectID, scopeKey) < percent
}
