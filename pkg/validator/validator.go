package validator

import (
	"context"
	"fmt"
	"strings"

	"naming_events/pkg/config"
	"naming_events/pkg/event"
)

// NameOracle reports names already in use outside of any event
type NameOracle interface {
	ExistingNames(ctx context.Context) (map[string]struct{}, error)
}

// Validator enforces the candidate name rules
type Validator struct {
	minLength int
	maxLength int
	reserved  map[string]struct{}
	oracle    NameOracle
}

// NewValidator creates a new Validator instance with the provided configuration.
func NewValidator(cfg config.ValidationConfig, oracle NameOracle) (*Validator, error) {
	if cfg.MinLength <= 0 || cfg.MaxLength < cfg.MinLength {
		return nil, fmt.Errorf("invalid length bounds %d..%d", cfg.MinLength, cfg.MaxLength)
	}
	if oracle == nil {
		return nil, fmt.Errorf("name oracle is required")
	}

	reserved := make(map[string]struct{}, len(cfg.ReservedNames))
	for _, name := range cfg.ReservedNames {
		reserved[strings.ToLower(strings.TrimSpace(name))] = struct{}{}
	}

	return &Validator{
		minLength: cfg.MinLength,
		maxLength: cfg.MaxLength,
		reserved:  reserved,
		oracle:    oracle,
	}, nil
}

// Normalize trims and lowercases a submitted name
func Normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// CheckStatic applies the rules that need neither event state nor the oracle.
// The name must already be normalized.
func (v *Validator) CheckStatic(name string) error {
	if n := len(name); n < v.minLength || n > v.maxLength {
		return event.NewValidation("name must be between %d and %d characters", v.minLength, v.maxLength)
	}
	for _, r := range name {
		if r < 'a' || r > 'z' {
			return event.NewValidation("name must contain only lowercase letters")
		}
	}
	if _, ok := v.reserved[name]; ok {
		return event.NewValidation("%q is a reserved name", name)
	}
	return nil
}

// CheckClaimed rejects a name held by a different submitter in the same event.
func CheckClaimed(name, submitter string, candidates map[string]event.Candidate) error {
	for owner, c := range candidates {
		if owner != submitter && strings.EqualFold(c.Name, name) {
			return event.NewValidation("%q has already been submitted", name)
		}
	}
	return nil
}

// CheckOracle rejects names already in use. An oracle failure rejects the
// name as well.
func (v *Validator) CheckOracle(ctx context.Context, name string) error {
	names, err := v.oracle.ExistingNames(ctx)
	if err != nil {
		if event.IsExternal(err) {
			return err
		}
		return event.NewExternal("name oracle", err)
	}
	if _, taken := names[name]; taken {
		return event.NewValidation("%q is already in use", name)
	}
	return nil
}

// Validate runs every rule and returns the normalized name
func (v *Validator) Validate(ctx context.Context, name, submitter string, candidates map[string]event.Candidate) (string, error) {
	normalized := Normalize(name)
	if err := v.CheckStatic(normalized); err != nil {
		return "", err
	}
	if err := CheckClaimed(normalized, submitter, candidates); err != nil {
		return "", err
	}
	if err := v.CheckOracle(ctx, normalized); err != nil {
		return "", err
	}
	return normalized, nil
}
