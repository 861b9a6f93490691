// Package config loads settings for the secops command from a YAML file,
// a .env file and SECOPS_* environment variables, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable the command reads.
const EnvPrefix = "SECOPS"

// Config holds the command settings.
type Config struct {
	CustomerID string `yaml:"customer_id" envconfig:"CUSTOMER_ID"`
	ProjectID  string `yaml:"project_id" envconfig:"PROJECT_ID"`
	Region     string `yaml:"region" envconfig:"REGION"`

	// BaseURL overrides the regional endpoint.
	BaseURL string `yaml:"base_url" envconfig:"BASE_URL"`

	// Token is an OAuth2 access token, e.g. from
	// `gcloud auth print-access-token`.
	Token string `yaml:"-" envconfig:"TOKEN"`

	Timeout         time.Duration `yaml:"timeout" envconfig:"TIMEOUT"`
	PollInterval    time.Duration `yaml:"poll_interval" envconfig:"POLL_INTERVAL"`
	MaxPollAttempts int           `yaml:"max_poll_attempts" envconfig:"MAX_POLL_ATTEMPTS"`

	Log LogConfig `yaml:"log" envconfig:"LOG"`
}

// LogConfig controls command logging.
type LogConfig struct {
	Level  string `yaml:"level" envconfig:"LEVEL"`
	Format string `yaml:"format" envconfig:"FORMAT"`
	File   string `yaml:"file" envconfig:"FILE"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Region:          "us",
		Timeout:         30 * time.Second,
		PollInterval:    time.Second,
		MaxPollAttempts: 30,
		Log: LogConfig{
			Level:  "warn",
			Format: "text",
		},
	}
}

// Load reads settings from path (optional), then applies a .env file in the
// working directory, if present, and the SECOPS_* environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	return &cfg, nil
}

// Validate checks that the settings identify an instance and carry
// credentials.
func (c *Config) Validate() error {
	var errs []error
	if c.CustomerID == "" {
		errs = append(errs, fmt.Errorf("customer ID is required (%s_CUSTOMER_ID)", EnvPrefix))
	}
	if c.ProjectID == "" {
		errs = append(errs, fmt.Errorf("project ID is required (%s_PROJECT_ID)", EnvPrefix))
	}
	if c.Token == "" {
		errs = append(errs, fmt.Errorf("access token is required (%s_TOKEN)", EnvPrefix))
	}
	return errors.Join(errs...)
}
