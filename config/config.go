// Package config loads host configuration from YAML. A zero-value file is
// valid; every field has a working default so the host runs with an empty
// config in development.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type (
	// Config is the full host configuration.
	Config struct {
		// Observer selects the run observability backend.
		Observer ObserverConfig `yaml:"observer"`
		// Redis configures the Pulse stream backend.
		Redis RedisConfig `yaml:"redis"`
		// Mongo configures durable stores.
		Mongo MongoConfig `yaml:"mongo"`
		// Webhook configures the inbound webhook listener.
		Webhook WebhookConfig `yaml:"webhook"`
		// Search configures the web search tool.
		Search SearchConfig `yaml:"search"`
		// Integrations configures provider integrations by provider name.
		Integrations map[string]IntegrationConfig `yaml:"integrations"`
	}

	// ObserverConfig selects and tunes the observability backend.
	ObserverConfig struct {
		// Backend is one of "none", "otel" or "store".
		Backend string `yaml:"backend"`
	}

	// RedisConfig configures the Redis connection behind Pulse streams.
	RedisConfig struct {
		// Addr is the host:port of the Redis server. Empty disables
		// stream-backed features.
		Addr string `yaml:"addr"`
		// Password authenticates the connection when set.
		Password string `yaml:"password"`
		// StreamMaxLen bounds entries kept per stream. Zero uses defaults.
		StreamMaxLen int `yaml:"stream_max_len"`
	}

	// MongoConfig configures MongoDB-backed stores.
	MongoConfig struct {
		// URI is the MongoDB connection string. Empty selects in-memory
		// stores.
		URI string `yaml:"uri"`
		// Database is the database name.
		Database string `yaml:"database"`
		// Timeout bounds individual store operations.
		Timeout time.Duration `yaml:"timeout"`
	}

	// WebhookConfig configures the inbound webhook HTTP listener.
	WebhookConfig struct {
		// Addr is the listen address.
		Addr string `yaml:"addr"`
	}

	// SearchConfig configures the web search tool.
	SearchConfig struct {
		// Endpoint is the SearxNG-compatible JSON search endpoint. Empty
		// disables the tool.
		Endpoint string `yaml:"endpoint"`
	}

	// IntegrationConfig configures one provider integration.
	IntegrationConfig struct {
		// CredentialRef names the credential entry to authenticate with.
		CredentialRef string `yaml:"credential_ref"`
		// WebhookSecret is the shared secret verifying inbound webhooks.
		WebhookSecret string `yaml:"webhook_secret"`
		// ClientID identifies the OAuth app for token refresh.
		ClientID string `yaml:"client_id"`
		// ClientSecret authenticates the OAuth app.
		ClientSecret string `yaml:"client_secret"`
		// Settings carries additional provider-specific settings.
		Settings map[string]string `yaml:"settings"`
	}
)

// Observer backends.
const (
	ObserverNone  = "none"
	ObserverOTEL  = "otel"
	ObserverStore = "store"
)

// Default returns the configuration used when no file is provided.
func Default() Config {
	return Config{
		Observer: ObserverConfig{Backend: ObserverStore},
		Mongo:    MongoConfig{Timeout: 5 * time.Second},
		Webhook:  WebhookConfig{Addr: ":8088"},
	}
}

// Load reads and validates the YAML configuration at path. An empty path
// returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Observer.Backend {
	case ObserverNone, ObserverOTEL, ObserverStore:
	default:
		return fmt.Errorf("unknown observer backend %q", c.Observer.Backend)
	}
	if c.Webhook.Addr == "" {
		return errors.New("webhook listen address is required")
	}
	if c.Mongo.URI != "" && c.Mongo.Database == "" {
		return errors.New("mongo database is required when a URI is set")
	}
	for name, ic := range c.Integrations {
		if name == "" {
			return errors.New("integration provider name is required")
		}
		if ic.WebhookSecret == "" {
			return fmt.Errorf("integration %q: webhook secret is required", name)
		}
	}
	return nil
}
