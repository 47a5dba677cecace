// Package config loads the relay server configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration parses yaml scalars like "30s" or "2m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config represents the contents of the server config file.
type Config struct {
	// ListenAddr is the relay bind address.
	ListenAddr string `yaml:"listen_addr"`

	// TokenSecret enables the token issuing endpoint and join
	// verification when non-empty. Empty runs the relay credential-less.
	TokenSecret string `yaml:"token_secret,omitempty"`

	// TokenTTL bounds how long an issued token stays valid.
	TokenTTL Duration `yaml:"token_ttl,omitempty"`

	// RequireToken rejects tokenless joins. Only meaningful together
	// with TokenSecret.
	RequireToken bool `yaml:"require_token,omitempty"`
}

func defaultConfig() *Config {
	return &Config{
		ListenAddr: ":8080",
		TokenTTL:   Duration(5 * time.Minute),
	}
}

// Load reads the config from path. Returns the default config if the
// file doesn't exist.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return defaultConfig(), nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr is required")
	}
	if c.RequireToken && c.TokenSecret == "" {
		return fmt.Errorf("require_token needs token_secret")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("token_ttl must be positive")
	}
	return nil
}
