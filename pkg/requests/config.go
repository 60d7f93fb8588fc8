package requests

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the workflow settings loaded from YAML.
type Config struct {
	// IDPrefix and IDWidth control how request ids are displayed.
	IDPrefix string `yaml:"idPrefix"`
	IDWidth  int    `yaml:"idWidth"`

	// BaseURL is used to build links in notification bodies.
	BaseURL string `yaml:"baseUrl"`

	// Sender is the From party of notifications.
	Sender PersonConfig `yaml:"sender"`

	// Roles seeds the role directory at startup.
	Roles []RoleSeed `yaml:"roles"`
}

// PersonConfig is the YAML form of a Person.
type PersonConfig struct {
	ID    string `yaml:"id"`
	Name  string `yaml:"name"`
	Email string `yaml:"email"`
}

// Person converts the config entry.
func (p PersonConfig) Person() Person {
	return Person{ID: p.ID, Name: p.Name, Email: p.Email}
}

// RoleSeed assigns roles to an identity at startup.
type RoleSeed struct {
	Name  string   `yaml:"name"`
	Email string   `yaml:"email"`
	Roles []string `yaml:"roles"`
}

// DefaultConfig returns the default workflow configuration.
func DefaultConfig() *Config {
	return &Config{
		IDPrefix: DefaultIDFormat.Prefix,
		IDWidth:  DefaultIDFormat.Width,
		Sender: PersonConfig{
			Name:  "Requirement Requests",
			Email: "no-reply@reqtrack.local",
		},
	}
}

// LoadConfig loads the workflow configuration from a YAML file.
// If the file does not exist, the default configuration is returned.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("read workflow config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse workflow config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for unknown roles and bad formats.
func (c *Config) Validate() error {
	if c.IDWidth < 0 || c.IDWidth > 18 {
		return fmt.Errorf("idWidth must be between 0 and 18, got %d", c.IDWidth)
	}
	for i, seed := range c.Roles {
		if strings.TrimSpace(seed.Email) == "" {
			return fmt.Errorf("roles[%d]: email is required", i)
		}
		for _, tag := range seed.Roles {
			if !Role(tag).IsValid() {
				return fmt.Errorf("roles[%d]: unknown role %q", i, tag)
			}
		}
	}
	return nil
}

// IDFormat returns the configured display format.
func (c *Config) IDFormat() IDFormat {
	return IDFormat{Prefix: c.IDPrefix, Width: c.IDWidth}
}

// RoleAssignments converts the seed list.
func (c *Config) RoleAssignments() []RoleAssignment {
	out := make([]RoleAssignment, 0, len(c.Roles))
	for _, seed := range c.Roles {
		a := RoleAssignment{Identity: Person{Name: seed.Name, Email: seed.Email}}
		for _, tag := range seed.Roles {
			a.Roles = append(a.Roles, Role(tag))
		}
		out = append(out, a)
	}
	return out
}
