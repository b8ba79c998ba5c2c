// Package config loads RiffQuest configuration from an optional YAML file and
// the environment.
package config

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Environment names accepted in Server.Environment.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Config represents the application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Spotify  SpotifyConfig  `yaml:"spotify"`
	Database DatabaseConfig `yaml:"database"`
	Token    TokenConfig    `yaml:"token"`
}

// ServerConfig represents HTTP server configuration.
type ServerConfig struct {
	Addr        string `yaml:"addr" default:"127.0.0.1:3000"`
	BaseURL     string `yaml:"base_url" default:"http://127.0.0.1:3000" validate:"required,url"`
	Environment string `yaml:"environment" default:"development" validate:"oneof=development production"`
}

// SpotifyConfig represents Spotify API configuration.
type SpotifyConfig struct {
	ClientID         string `yaml:"client_id" validate:"required"`
	ClientSecret     string `yaml:"client_secret" validate:"required"`
	Market           string `yaml:"market" default:"US" validate:"len=2"`
	AlbumConcurrency int    `yaml:"album_concurrency" default:"8" validate:"gte=1,lte=64"`
}

// DatabaseConfig represents PostgreSQL configuration.
// An empty URL keeps sessions in memory and skips user persistence.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// TokenConfig tunes the service token renewal schedule.
type TokenConfig struct {
	RetryDelays []time.Duration `yaml:"retry_delays"`
}

// DefaultRetryDelays is the backoff used after a failed scheduled renewal.
var DefaultRetryDelays = []time.Duration{
	5 * time.Second,
	15 * time.Second,
	45 * time.Second,
	2 * time.Minute,
	5 * time.Minute,
}

// Load loads configuration from a YAML file. A missing file is not an error:
// the environment alone can carry every required value.
// Environment variables take precedence over file values.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, errors.Wrap(err, "failed to read config file")
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, errors.Wrap(err, "failed to parse config file")
			}
		}
	}

	cfg.overrideFromEnv()

	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}
	if len(cfg.Token.RetryDelays) == 0 {
		cfg.Token.RetryDelays = DefaultRetryDelays
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides configuration with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("SPOTIFY_ID"); v != "" {
		c.Spotify.ClientID = v
	}
	if v := os.Getenv("SPOTIFY_SECRET"); v != "" {
		c.Spotify.ClientSecret = v
	}
	if v := os.Getenv("SPOTIFY_MARKET"); v != "" {
		c.Spotify.Market = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.URL = v
	}
	if v := os.Getenv("PORT"); v != "" {
		c.Server.Addr = ":" + v
	}
	if v := os.Getenv("BASE_URL"); v != "" {
		c.Server.BaseURL = v
	}
	if v := os.Getenv("APP_ENV"); v != "" {
		c.Server.Environment = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}
	for _, d := range c.Token.RetryDelays {
		if d <= 0 {
			return errors.Newf("token retry delay must be positive, got %s", d)
		}
	}
	return nil
}

// IsProduction reports whether the server runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Server.Environment == EnvProduction
}

// RedirectURL returns the OAuth callback URL registered with Spotify.
func (c *Config) RedirectURL() string {
	return c.Server.BaseURL + "/callback"
}
