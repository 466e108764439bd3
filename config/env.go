package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// envOverrides are the settings that can be supplied through the environment
type envOverrides struct {
	Addr         string `env:"INBOX_ADDR"`
	CacheBackend string `env:"INBOX_CACHE_BACKEND"`
	CacheURL     string `env:"INBOX_CACHE_URL"`
	GitHubToken  string `env:"INBOX_GITHUB_TOKEN"`
	LogLevel     string `env:"INBOX_LOG_LEVEL"`
	OTLPEndpoint string `env:"INBOX_OTLP_ENDPOINT"`
	CORSOrigin   string `env:"INBOX_CORS_ORIGIN"`
}

// ApplyEnv overlays environment variables onto config. The GitHub token only fills
// GitHub instances that have no token of their own.
func ApplyEnv(config *Config) error {
	var overrides envOverrides
	if err := env.Parse(&overrides); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	if overrides.Addr != "" {
		config.Server.Addr = overrides.Addr
	}
	if overrides.CORSOrigin != "" {
		config.Server.CORSOrigin = overrides.CORSOrigin
	}
	if overrides.CacheBackend != "" {
		config.Cache.Backend = overrides.CacheBackend
	}
	if overrides.CacheURL != "" {
		config.Cache.URL = overrides.CacheURL
	}
	if overrides.LogLevel != "" {
		config.LogLevel = overrides.LogLevel
	}
	if overrides.OTLPEndpoint != "" {
		config.OTLPEndpoint = overrides.OTLPEndpoint
	}
	if overrides.GitHubToken != "" {
		for i := range config.GitHub.Instances {
			if config.GitHub.Instances[i].Token == "" {
				config.GitHub.Instances[i].Token = overrides.GitHubToken
			}
		}
	}
	return nil
}
