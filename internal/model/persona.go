package model

import (
	"fmt"
	"strings"
)

// Persona is a stored behavioral definition assigned to an agent.
type Persona struct {
	Role          string   `json:"role" yaml:"role"`
	Name          string   `json:"name" yaml:"name"`
	Emoji         string   `json:"emoji" yaml:"emoji"`
	Model         string   `json:"model" yaml:"model"`
	CoreIdentity  string   `json:"coreIdentity" yaml:"coreIdentity"`
	Values        []string `json:"values,omitempty" yaml:"values,omitempty"`
	Guidelines    []string `json:"guidelines,omitempty" yaml:"guidelines,omitempty"`
	SpeakingStyle string   `json:"speakingStyle,omitempty" yaml:"speakingStyle,omitempty"`
}

// DisplayName returns the name shown in transcripts, falling back to the role id.
func (p Persona) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	return p.Role
}

// Validate checks the required persona fields.
func (p Persona) Validate() error {
	if err := ValidateRole(p.Role); err != nil {
		return err
	}
	var missing []string
	if strings.TrimSpace(p.Name) == "" {
		missing = append(missing, "name")
	}
	if strings.TrimSpace(p.Emoji) == "" {
		missing = append(missing, "emoji")
	}
	if strings.TrimSpace(p.Model) == "" {
		missing = append(missing, "model")
	}
	if strings.TrimSpace(p.CoreIdentity) == "" {
		missing = append(missing, "coreIdentity")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required fields: %s", strings.Join(missing, ", "))
	}
	return nil
}

// ValidateRole checks that a role id conforms to the allowed format.
// Role ids must start with a lowercase letter and contain only lowercase
// alphanumeric characters, hyphens, and underscores. They double as file
// names in the persona store, so nothing path-like is accepted.
func ValidateRole(role string) error {
	if len(role) == 0 {
		return fmt.Errorf("role is required")
	}
	if len(role) > 64 {
		return fmt.Errorf("role must be at most 64 characters")
	}
	if role == HumanAuthor || role == SystemAuthor {
		return fmt.Errorf("role %q is reserved", role)
	}
	for i := 0; i < len(role); i++ {
		c := role[i]
		if i == 0 {
			if c < 'a' || c > 'z' {
				return fmt.Errorf("role must start with a lowercase letter, got %q", c)
			}
			continue
		}
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') && c != '-' && c != '_' {
			return fmt.Errorf("role contains invalid character at position %d: %q", i, c)
		}
	}
	return nil
}
