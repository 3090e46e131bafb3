package featureflag

import (
	"regexp"
	"strings"
	"time"

	"github.com/oks-citadel/citadelbuy-sub019/internal/domain/shared"
	"github.com/oks-citadel/citadelbuy-sub019/internal/domain/targeting"
)

// keyRegex validates flag keys: must start with a lowercase letter,
// followed by lowercase letters, numbers, underscores, hyphens, or dots
var keyRegex = regexp.MustCompile(`^[a-z][a-z0-9_.-]*$`)

const maxKeyLength = 128

// FeatureFlag is the aggregate root for flag evaluation. The key is the
// public identifier and is immutable after creation; evaluation and
// cache entries are addressed by it. Rules take precedence over the
// percentage rollout, and a disabled flag always evaluates to its
// default value.
type FeatureFlag struct {
	shared.VersionedEntity
	Key               string           `json:"key"`
	Name              string           `json:"name"`
	Description       string           `json:"description,omitempty"`
	Enabled           bool             `json:"enabled"`
	DefaultValue      bool             `json:"default_value"`
	RolloutPercentage float64          `json:"rollout_percentage"`
	Rules             []targeting.Rule `json:"rules,omitempty"`
}

// NewFeatureFlag creates a new flag in the enabled state, so a fresh
// flag participates in rollout immediately.
func NewFeatureFlag(key, name, description string, defaultValue bool, rolloutPercentage float64, rules []targeting.Rule) (*FeatureFlag, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, shared.NewDomainError("INVALID_NAME", "Flag name cannot be empty")
	}
	if rolloutPercentage < 0 || rolloutPercentage > 100 {
		return nil, shared.NewDomainError("INVALID_ROLLOUT", "Rollout percentage must be between 0 and 100")
	}
	if err := targeting.ValidateRules(rules); err != nil {
		return nil, err
	}

	return &FeatureFlag{
		VersionedEntity:   shared.NewVersionedEntity(),
		Key:               strings.ToLower(key),
		Name:              name,
		Description:       description,
		Enabled:           true,
		DefaultValue:      defaultValue,
		RolloutPercentage: rolloutPercentage,
		Rules:             rules,
	}, nil
}

// ValidateKey validates a flag key
func ValidateKey(key string) error {
	if key == "" {
		return shared.NewDomainError("INVALID_FLAG_KEY", "Flag key cannot be empty")
	}
	if len(key) > maxKeyLength {
		return shared.NewDomainError("INVALID_FLAG_KEY", "Flag key is too long")
	}
	if !keyRegex.MatchString(strings.ToLower(key)) {
		return shared.NewDomainError("INVALID_FLAG_KEY", "Flag key must start with a letter and contain only letters, numbers, underscores, hyphens, or dots")
	}
	return nil
}

// Enable turns the flag on
func (f *FeatureFlag) Enable() error {
	if f.Enabled {
		return shared.NewDomainError("ALREADY_ENABLED", "Flag is already enabled")
	}
	f.Enabled = true
	f.touch()
	return nil
}

// Disable turns the flag off; evaluation falls back to the default value
func (f *FeatureFlag) Disable() error {
	if !f.Enabled {
		return shared.NewDomainError("ALREADY_DISABLED", "Flag is already disabled")
	}
	f.Enabled = false
	f.touch()
	return nil
}

// UpdateDetails updates the flag's descriptive fields
func (f *FeatureFlag) UpdateDetails(name, description string) error {
	if name == "" {
		return shared.NewDomainError("INVALID_NAME", "Flag name cannot be empty")
	}
	f.Name = name
	f.Description = description
	f.touch()
	return nil
}

// SetDefaultValue changes the value served when the flag is disabled or
// no rule or rollout applies
func (f *FeatureFlag) SetDefaultValue(value bool) {
	f.DefaultValue = value
	f.touch()
}

// SetRollout changes the percentage rollout
func (f *FeatureFlag) SetRollout(percentage float64) error {
	if percentage < 0 || percentage > 100 {
		return shared.NewDomainError("INVALID_ROLLOUT", "Rollout percentage must be between 0 and 100")
	}
	f.RolloutPercentage = percentage
	f.touch()
	return nil
}

// ReplaceRules swaps the targeting rules wholesale
func (f *FeatureFlag) ReplaceRules(rules []targeting.Rule) error {
	if err := targeting.ValidateRules(rules); err != nil {
		return err
	}
	f.Rules = rules
	f.touch()
	return nil
}

// touch marks the flag as modified. The version is bumped by the
// repository on save, not per mutation.
func (f *FeatureFlag) touch() {
	f.UpdatedAt = time.Now()
}
