package experiment

import (
	"database/sql/driver"
	"fmt"
	"strings"
)

// Status represents the lifecycle status of an experiment
type Status string

const (
	// StatusDraft means the experiment is being configured and cannot assign
	StatusDraft Status = "draft"
	// StatusRunning means the experiment is live and assigning subjects
	StatusRunning Status = "running"
	// StatusPaused means assignment is suspended; the experiment can resume
	StatusPaused Status = "paused"
	// StatusCompleted means the experiment finished; assignments are frozen
	StatusCompleted Status = "completed"
	// StatusArchived means the experiment is retired and read-only
	StatusArchived Status = "archived"
)

// AllStatuses returns all valid experiment statuses
func AllStatuses() []Status {
	return []Status{
		StatusDraft,
		StatusRunning,
		StatusPaused,
		StatusCompleted,
		StatusArchived,
	}
}

// IsValid checks if the status is valid
func (s Status) IsValid() bool {
	switch s {
	case StatusDraft, StatusRunning, StatusPaused, StatusCompleted, StatusArchived:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the status permits no further transitions
// besides archiving
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusArchived
}

// String returns the string representation of the status
func (s Status) String() string {
	return string(s)
}

// Scan implements the sql.Scanner interface
func (s *Status) Scan(value any) error {
	if value == nil {
		return nil
	}
	str, ok := value.(string)
	if !ok {
		return fmt.Errorf("experiment: cannot scan type %T into Status", value)
	}
	*s = Status(strings.ToLower(str))
	if !s.IsValid() {
		return fmt.Errorf("experiment: invalid status: %s", str)
	}
	return nil
}

// Value implements the driver.Valuer interface
func (s Status) Value() (driver.Value, error) {
	return string(s), nil
}

// Type represents the kind of experiment
type Type string

const (
	// TypeABTest is a two-arm experiment
	TypeABTest Type = "ab_test"
	// TypeMultivariate is an experiment with more than two arms
	TypeMultivariate Type = "multivariate"
	// TypeSplitURL routes subjects to different URLs per variant
	TypeSplitURL Type = "split_url"
	// TypeFeatureFlag is a flag-backed experiment
	TypeFeatureFlag Type = "feature_flag"
)

// AllTypes returns all valid experiment types
func AllTypes() []Type {
	return []Type{
		TypeABTest,
		TypeMultivariate,
		TypeSplitURL,
		TypeFeatureFlag,
	}
}

// IsValid checks if the experiment type is valid
func (t Type) IsValid() bool {
	switch t {
	case TypeABTest, TypeMultivariate, TypeSplitURL, TypeFeatureFlag:
		return true
	default:
		return false
	}
}

// String returns the string representation of the experiment type
func (t Type) String() string {
	return string(t)
}

// Scan implements the sql.Scanner interface
func (t *Type) Scan(value any) error {
	if value == nil {
		return nil
	}
	s, ok := value.(string)
	if !ok {
		return fmt.Errorf("experiment: cannot scan type %T into Type", value)
	}
	*t = Type(strings.ToLower(s))
	if !t.IsValid() {
		return fmt.Errorf("experiment: invalid experiment type: %s", s)
	}
	return nil
}

// Value implements the driver.Valuer interface
func (t Type) Value() (driver.Value, error) {
	return string(t), nil
}
