// Package config loads the optional YAML configuration file: default
// batch settings plus named host groups that can be targeted with one
// flag instead of a host file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/krig/parallel-ssh/internal/hostlist"
)

// Config is the top-level configuration.
type Config struct {
	Defaults Defaults         `yaml:"defaults"`
	Groups   map[string]Group `yaml:"groups,omitempty"`
}

// Defaults holds fallback batch settings applied when flags are
// absent.
type Defaults struct {
	Parallelism int      `yaml:"parallelism"`
	Timeout     Duration `yaml:"timeout"`
}

// Group defines a named set of hosts with optional overrides.
type Group struct {
	Hosts []string `yaml:"hosts"`
	User  string   `yaml:"user,omitempty"`
	Port  int      `yaml:"port,omitempty"`
}

// Duration wraps time.Duration to support YAML values like "30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = dur
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// DefaultPath returns the default config file location,
// $HOME/.pssh.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".pssh.yaml")
}

// Load reads a config file. A missing file is not an error: the zero
// config is returned so the tool works without one.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{Groups: map[string]Group{}}, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.Groups == nil {
		cfg.Groups = map[string]Group{}
	}
	return &cfg, nil
}

// ResolveGroup expands a named group into host triples, applying the
// group's user/port overrides before the global defaults.
func (c *Config) ResolveGroup(name, defaultUser string, defaultPort int) ([]hostlist.Host, error) {
	group, ok := c.Groups[name]
	if !ok {
		available := make([]string, 0, len(c.Groups))
		for g := range c.Groups {
			available = append(available, g)
		}
		if len(available) == 0 {
			return nil, fmt.Errorf("group %q not found (no groups defined)", name)
		}
		return nil, fmt.Errorf("group %q not found (available: %v)", name, available)
	}
	user := group.User
	if user == "" {
		user = defaultUser
	}
	port := group.Port
	if port == 0 {
		port = defaultPort
	}
	return hostlist.Expand(group.Hosts, user, port)
}
