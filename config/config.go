package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/wesm/work-inbox/internal/models"
)

const (
	DefaultAddr         = "127.0.0.1:8420"
	DefaultCacheBackend = "sqlite"
	DefaultDatabasePath = "inbox.db"
	DefaultWorkers      = 5
)

// ErrNoInstances is returned when no instance is enabled
var ErrNoInstances = errors.New("no enabled instances configured")

// Config represents the application configuration
type Config struct {
	Server ServerConfig `json:"server"`
	Cache  CacheConfig  `json:"cache"`

	// Number of instances fetched at once (1-10)
	Workers int `json:"workers"`

	LogLevel     string `json:"log_level,omitempty"`
	LogFile      string `json:"log_file,omitempty"`
	OTLPEndpoint string `json:"otlp_endpoint,omitempty"`

	AzureDevOps ProviderConfig `json:"azure_devops"`
	GitHub      ProviderConfig `json:"github"`
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Addr       string `json:"addr"`
	CORSOrigin string `json:"cors_origin,omitempty"`
}

// CacheConfig selects the read-state store. URL is a file path for sqlite.
type CacheConfig struct {
	Backend string `json:"backend"`
	URL     string `json:"url"`
}

// ProviderConfig lists the instances of one provider
type ProviderConfig struct {
	Instances []Instance `json:"instances"`
}

// Instance is one configured provider connection
type Instance struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Enabled *bool  `json:"enabled,omitempty"`

	// Organization or collection URL for Azure DevOps; API base URL for GitHub Enterprise
	BaseURL string `json:"base_url,omitempty"`

	// Personal access token, or "keyring:" to read it from the OS keychain
	Token string `json:"token,omitempty"`

	// GitHub login; looked up from the token when empty
	Username string `json:"username,omitempty"`

	// Projects (Azure DevOps) or owner/name repositories (GitHub) polled for pipeline runs
	Pinned []string `json:"pinned,omitempty"`

	StatusMappings []models.StatusMapping `json:"status_mappings,omitempty"`
}

// IsEnabled reports whether the instance takes part in fetches; instances are enabled by default
func (i Instance) IsEnabled() bool {
	return i.Enabled == nil || *i.Enabled
}

// Model converts the instance to the form used by the core
func (i Instance) Model(provider models.Provider) models.Instance {
	name := i.Name
	if name == "" {
		name = i.ID
	}
	return models.Instance{
		ID:             i.ID,
		Name:           name,
		Provider:       provider,
		Pinned:         append([]string(nil), i.Pinned...),
		StatusMappings: append([]models.StatusMapping(nil), i.StatusMappings...),
	}
}

// EnabledInstances returns the enabled instances of both providers, Azure DevOps first
func (c *Config) EnabledInstances() []EnabledInstance {
	var out []EnabledInstance
	for _, inst := range c.AzureDevOps.Instances {
		if inst.IsEnabled() {
			out = append(out, EnabledInstance{Provider: models.ProviderAzureDevOps, Instance: inst})
		}
	}
	for _, inst := range c.GitHub.Instances {
		if inst.IsEnabled() {
			out = append(out, EnabledInstance{Provider: models.ProviderGitHub, Instance: inst})
		}
	}
	return out
}

// EnabledInstance pairs an instance with its provider
type EnabledInstance struct {
	Provider models.Provider
	Instance
}

// LoadConfig loads the configuration from a JSON file and applies environment overrides
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := ApplyEnv(&config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	// Make database path absolute if it's relative
	if isFileBackend(config.Cache.Backend) && config.Cache.URL != ":memory:" && !filepath.IsAbs(config.Cache.URL) {
		configDir := filepath.Dir(path)
		config.Cache.URL = filepath.Join(configDir, config.Cache.URL)
	}

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultAddr
	}
	if c.Cache.Backend == "" {
		c.Cache.Backend = DefaultCacheBackend
	}
	if isFileBackend(c.Cache.Backend) && c.Cache.URL == "" {
		c.Cache.URL = DefaultDatabasePath
	}
	if c.Workers == 0 {
		c.Workers = DefaultWorkers
	}
}

func isFileBackend(backend string) bool {
	return strings.EqualFold(backend, DefaultCacheBackend)
}

// Validate checks the instance definitions
func (c *Config) Validate() error {
	enabled := c.EnabledInstances()
	if len(enabled) == 0 {
		return ErrNoInstances
	}

	seen := make(map[string]bool)
	for _, inst := range enabled {
		if inst.ID == "" {
			return fmt.Errorf("%s instance %q has no id", inst.Provider, inst.Name)
		}
		if seen[inst.ID] {
			return fmt.Errorf("duplicate instance id %q", inst.ID)
		}
		seen[inst.ID] = true

		switch inst.Provider {
		case models.ProviderAzureDevOps:
			if inst.BaseURL == "" {
				return fmt.Errorf("azure devops instance %q needs a base_url", inst.ID)
			}
		case models.ProviderGitHub:
			for _, repo := range inst.Pinned {
				owner, name, ok := strings.Cut(repo, "/")
				if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
					return fmt.Errorf("github instance %q: invalid pinned repository %q, expected owner/name", inst.ID, repo)
				}
			}
		}
	}

	if c.Workers < 1 || c.Workers > 10 {
		return fmt.Errorf("workers must be between 1 and 10, got %d", c.Workers)
	}
	return nil
}

// SaveConfig saves the configuration to a JSON file
func SaveConfig(config *Config, path string) error {
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// CreateDefaultConfig creates a default configuration file if it doesn't exist
func CreateDefaultConfig(path string) error {
	// Check if the file already exists
	if _, err := os.Stat(path); err == nil {
		return nil // File exists, don't overwrite
	}

	disabled := false
	config := &Config{
		Server:  ServerConfig{Addr: DefaultAddr},
		Cache:   CacheConfig{Backend: DefaultCacheBackend, URL: DefaultDatabasePath},
		Workers: DefaultWorkers,
		AzureDevOps: ProviderConfig{Instances: []Instance{{
			ID:      "work",
			Name:    "Work",
			Enabled: &disabled,
			BaseURL: "https://dev.azure.com/your-org",
			Token:   "keyring:",
			StatusMappings: []models.StatusMapping{
				{From: "Active", To: "In Progress"},
			},
		}}},
		GitHub: ProviderConfig{Instances: []Instance{{
			ID:     "github",
			Name:   "GitHub",
			Pinned: []string{"example/repo"},
		}}},
	}

	// Ensure the directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Save the config
	return SaveConfig(config, path)
}
