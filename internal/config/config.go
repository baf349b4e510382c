// Package config loads settings for both binaries from a .env file and
// the environment, environment taking precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	apperrors "github-issue-mirror/internal/errors"
)

// EdgeConfig holds all configuration for the auth edge service.
type EdgeConfig struct {
	LogLevel            string        `mapstructure:"LOG_LEVEL"`
	ListenAddr          string        `mapstructure:"LISTEN_ADDR"`
	DBURL               string        `mapstructure:"DB_URL"`
	GithubClientID      string        `mapstructure:"GITHUB_CLIENT_ID"`
	GithubAppID         string        `mapstructure:"GITHUB_APP_ID"`
	GithubAppPrivateKey string        `mapstructure:"GITHUB_APP_PRIVATE_KEY"`
	SessionTTL          time.Duration `mapstructure:"SESSION_TTL"`
	RateLimitWindow     time.Duration `mapstructure:"RATE_LIMIT_WINDOW"`
	RateLimitMax        int           `mapstructure:"RATE_LIMIT_MAX"`
	SweepInterval       time.Duration `mapstructure:"SWEEP_INTERVAL"`
}

// LoadEdgeConfig reads edge service configuration from file and/or
// environment variables.
func LoadEdgeConfig() (*EdgeConfig, error) {
	v := newViper()
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LISTEN_ADDR", ":8080")
	v.SetDefault("SESSION_TTL", "720h")
	v.SetDefault("RATE_LIMIT_WINDOW", "60s")
	v.SetDefault("RATE_LIMIT_MAX", 5)
	v.SetDefault("SWEEP_INTERVAL", "1h")

	// Keys without defaults must be registered or AutomaticEnv will not
	// surface them through Unmarshal.
	for _, key := range []string{"GITHUB_CLIENT_ID", "GITHUB_APP_ID", "GITHUB_APP_PRIVATE_KEY", "DB_URL"} {
		_ = v.BindEnv(key)
	}

	var cfg EdgeConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	var missing []string
	if cfg.GithubClientID == "" {
		missing = append(missing, "GITHUB_CLIENT_ID")
	}
	if cfg.GithubAppID == "" {
		missing = append(missing, "GITHUB_APP_ID")
	}
	if cfg.GithubAppPrivateKey == "" {
		missing = append(missing, "GITHUB_APP_PRIVATE_KEY")
	}
	if cfg.DBURL == "" {
		missing = append(missing, "DB_URL")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	return &cfg, nil
}

// MirrorConfig holds all configuration for the local mirror CLI.
type MirrorConfig struct {
	LogLevel     string        `mapstructure:"LOG_LEVEL"`
	DBPath       string        `mapstructure:"DB_PATH"`
	Repo         string        `mapstructure:"REPO"`
	GithubToken  string        `mapstructure:"GITHUB_TOKEN"`
	EdgeURL      string        `mapstructure:"EDGE_URL"`
	SyncInterval time.Duration `mapstructure:"SYNC_INTERVAL"`

	RepoOwner string `mapstructure:"-"`
	RepoName  string `mapstructure:"-"`
}

// LoadMirrorConfig reads mirror CLI configuration from file and/or
// environment variables. Either GITHUB_TOKEN (direct) or EDGE_URL
// (device-flow login) must be set for commands that reach GitHub.
func LoadMirrorConfig() (*MirrorConfig, error) {
	v := newViper()
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_PATH", "mirror.db")
	v.SetDefault("SYNC_INTERVAL", "5m")

	for _, key := range []string{"REPO", "GITHUB_TOKEN", "EDGE_URL"} {
		_ = v.BindEnv(key)
	}

	var cfg MirrorConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.Repo == "" {
		return nil, errors.New("REPO is a required configuration field (owner/name)")
	}
	parts := strings.Split(cfg.Repo, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, &apperrors.ErrInvalidRepoFormat{Repo: cfg.Repo}
	}
	cfg.RepoOwner = parts[0]
	cfg.RepoName = parts[1]

	return &cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()

	// Load from .env file if it exists
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // Ignore error if file not found

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}
