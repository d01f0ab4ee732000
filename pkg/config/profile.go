package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/arbiter-systems/arbiter/pkg/governance"
)

// Profile is a YAML deployment profile: governance rules plus per-site
// policy knobs that do not belong in environment variables.
type Profile struct {
	Name  string            `yaml:"name"`
	Rules []governance.Rule `yaml:"rules"`

	// TrustedIssuers limits which issuers may appear on acceptances.
	// Empty means any issuer the key registry can verify.
	TrustedIssuers []string `yaml:"trusted_issuers,omitempty"`

	Archive ArchiveConfig `yaml:"archive,omitempty"`
}

// ArchiveConfig configures periodic ledger export to object storage.
type ArchiveConfig struct {
	// Backend is "s3", "gcs", or empty to disable.
	Backend string `yaml:"backend,omitempty"`
	Bucket  string `yaml:"bucket,omitempty"`
	Prefix  string `yaml:"prefix,omitempty"`
	Region  string `yaml:"region,omitempty"`
}

// LoadProfile parses a profile file. A missing path returns an empty
// profile rather than an error; profiles are optional.
func LoadProfile(path string) (*Profile, error) {
	if path == "" {
		return &Profile{}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read profile %s: %w", path, err)
	}
	var p Profile
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("config: parse profile %s: %w", path, err)
	}
	for i, r := range p.Rules {
		switch r.Effect {
		case governance.EffectAllow, governance.EffectEscalate, governance.EffectDeny:
		default:
			return nil, fmt.Errorf("config: rule %d (%s): unknown effect %q", i, r.Name, r.Effect)
		}
	}
	return &p, nil
}
