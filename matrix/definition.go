package matrix

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/driftsync/sync-acceptor/types"
)

// TierDefinition declares the matrix and execution parameters for one
// tier of the pipeline.
type TierDefinition struct {
	Axes        []Axis             `yaml:"axes"`
	Exclude     []Exclusion        `yaml:"exclude,omitempty"`
	Credentials *CredentialBinding `yaml:"credentials,omitempty"`
	Command     []string           `yaml:"command"`
	MaxRetries  int                `yaml:"max_retries"`
}

// Definition is the full pipeline definition: the offline tier and,
// optionally, the credential-gated online tier.
type Definition struct {
	Offline TierDefinition  `yaml:"offline"`
	Online  *TierDefinition `yaml:"online,omitempty"`
}

// LoadDefinition reads and validates a pipeline definition file.
func LoadDefinition(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pipeline definition: %w", err)
	}
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to parse pipeline definition: %w", err)
	}
	if err := def.Check(); err != nil {
		return nil, fmt.Errorf("invalid pipeline definition: %w", err)
	}
	return &def, nil
}

// Check validates the definition without expanding it.
func (d *Definition) Check() error {
	if err := d.Offline.check(types.TierOffline, false); err != nil {
		return err
	}
	if d.Online != nil {
		if err := d.Online.check(types.TierOnline, true); err != nil {
			return err
		}
	}
	return nil
}

func (t *TierDefinition) check(tier types.Tier, credentialed bool) error {
	if len(t.Axes) == 0 {
		return fmt.Errorf("%s tier: at least one axis is required", tier)
	}
	seen := make(map[string]struct{}, len(t.Axes))
	for _, axis := range t.Axes {
		if axis.Name == "" {
			return fmt.Errorf("%s tier: axis with empty name", tier)
		}
		if _, dup := seen[axis.Name]; dup {
			return fmt.Errorf("%s tier: duplicate axis %q", tier, axis.Name)
		}
		seen[axis.Name] = struct{}{}
		if len(axis.Values) == 0 {
			return fmt.Errorf("%s tier: axis %q has no values", tier, axis.Name)
		}
	}
	if len(t.Command) == 0 {
		return fmt.Errorf("%s tier: command is required", tier)
	}
	if t.MaxRetries < 0 {
		return fmt.Errorf("%s tier: max_retries cannot be negative", tier)
	}
	if credentialed {
		if t.Credentials == nil {
			return fmt.Errorf("%s tier: credentials binding is required", tier)
		}
		if t.Credentials.Axis == "" {
			return fmt.Errorf("%s tier: credentials binding needs an axis", tier)
		}
		if _, ok := seen[t.Credentials.Axis]; !ok {
			return fmt.Errorf("%s tier: credentials bound to unknown axis %q", tier, t.Credentials.Axis)
		}
	}
	return nil
}

// Lanes expands the tier definition into its lanes.
func (t *TierDefinition) Lanes() ([]types.Lane, error) {
	return Expand(t.Axes, t.Exclude, t.Credentials)
}
