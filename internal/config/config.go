// Package config loads YAML configuration for the relay daemon and the
// keyvault CLI. Missing files fall back to defaults so both binaries run
// with zero configuration.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/emberchat/keyvault/internal/backup"
)

// RelayConfig holds the link relay daemon configuration
type RelayConfig struct {
	// ListenAddr is the HTTP listen address
	ListenAddr string `yaml:"listen_addr"`

	// LinkTTLSeconds bounds a link session's lifetime
	LinkTTLSeconds int `yaml:"link_ttl_seconds"`

	// SweepIntervalSeconds is how often expired links are collected
	SweepIntervalSeconds int `yaml:"sweep_interval_seconds"`

	// NATS configuration for serving the link API over NATS request/reply
	NATS NATSConfig `yaml:"nats"`

	// LogLevel sets the zerolog level (debug, info, warn, error)
	LogLevel string `yaml:"log_level"`
}

// NATSConfig holds NATS connection settings
type NATSConfig struct {
	// Enabled turns the NATS responder on alongside HTTP
	Enabled bool `yaml:"enabled"`

	URL             string `yaml:"url"`
	CredentialsFile string `yaml:"credentials_file"`
}

// ClientConfig holds the keyvault CLI configuration
type ClientConfig struct {
	// VaultPath is the SQLite database holding the encrypted vault
	VaultPath string `yaml:"vault_path"`

	// RelayURL is the base URL of the link relay
	RelayURL string `yaml:"relay_url"`

	// S3 configures the remote backup archive store
	S3 backup.S3Config `yaml:"s3"`

	// LogLevel sets the zerolog level (debug, info, warn, error)
	LogLevel string `yaml:"log_level"`
}

// LoadRelayConfig loads relay daemon configuration from a YAML file
func LoadRelayConfig(path string) (*RelayConfig, error) {
	cfg := DefaultRelayConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// DefaultRelayConfig returns the default relay daemon configuration
func DefaultRelayConfig() *RelayConfig {
	return &RelayConfig{
		ListenAddr:           ":8470",
		LinkTTLSeconds:       600,
		SweepIntervalSeconds: 60,
		NATS: NATSConfig{
			Enabled:         false,
			URL:             "nats://127.0.0.1:4222",
			CredentialsFile: "",
		},
		LogLevel: "info",
	}
}

// LoadClientConfig loads CLI configuration from a YAML file
func LoadClientConfig(path string) (*ClientConfig, error) {
	cfg := DefaultClientConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// DefaultClientConfig returns the default CLI configuration
func DefaultClientConfig() *ClientConfig {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return &ClientConfig{
		VaultPath: home + "/.keyvault/vault.db",
		RelayURL:  "http://127.0.0.1:8470",
		S3: backup.S3Config{
			Bucket:    "",
			Region:    "us-east-1",
			KeyPrefix: "archives/",
		},
		LogLevel: "info",
	}
}
