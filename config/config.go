package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// encryptionKeyEnv is the environment variable holding the hex-encoded
// 32-byte key used to encrypt tenant webhook links at rest. The key is
// process-wide; losing it makes stored links unrecoverable.
const encryptionKeyEnv = "GRADATION_ENCRYPTION_KEY"

// sessionNameEnv optionally overrides the session cookie name.
const sessionNameEnv = "GRADATION_SESSION_NAME"

// Config represents the entire application configuration.
type Config struct {
	DatabasePath       string    `yaml:"database_path"`
	Web                WebConfig `yaml:"web"`
	ErrorLogPath       string    `yaml:"error_log_path"`
	AccessLogPath      string    `yaml:"access_log_path"`
	SessionLifetimeStr string    `yaml:"session_lifetime"`
	SingleTenant       string    `yaml:"single_tenant"` // optional implicit tenant name
	SessionLifetime    time.Duration
	EncryptionKey      []byte // parsed from the environment
	SessionCookieName  string
}

// WebConfig holds settings specific to the web server.
type WebConfig struct {
	ListenAddress string `yaml:"listen_address"`
}

// Load loads and validates the configuration from the given file path.
// Secrets (the encryption key) come from the environment, typically via a
// .env file loaded by the caller, never from the yaml file.
func Load(filePath string) (*Config, error) {
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", filePath)
	}

	configFile, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	err = yaml.Unmarshal(configFile, &cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to parse YAML config file: %w", err)
	}

	if err := validateAndPrepare(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// validateAndPrepare checks for required fields and sets up derived values.
func validateAndPrepare(c *Config) error {
	// General
	if c.DatabasePath == "" {
		return errors.New("database_path is missing")
	}
	if c.ErrorLogPath == "" {
		c.ErrorLogPath = "error.log"
	}
	if c.AccessLogPath == "" {
		c.AccessLogPath = "access.log"
	}

	// Web
	if c.Web.ListenAddress == "" {
		return errors.New("web.listen_address is missing")
	}
	if c.SessionLifetimeStr == "" {
		c.SessionLifetimeStr = "12h"
	}
	lifetime, err := time.ParseDuration(c.SessionLifetimeStr)
	if err != nil {
		return fmt.Errorf("invalid session_lifetime format: %w", err)
	}
	c.SessionLifetime = lifetime

	// Secrets from the environment.
	keyHex := os.Getenv(encryptionKeyEnv)
	if keyHex == "" {
		return fmt.Errorf("%s is not set", encryptionKeyEnv)
	}
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return fmt.Errorf("%s is not valid hex: %w", encryptionKeyEnv, err)
	}
	if len(key) != 32 {
		return fmt.Errorf("%s must decode to 32 bytes, got %d", encryptionKeyEnv, len(key))
	}
	c.EncryptionKey = key

	c.SessionCookieName = os.Getenv(sessionNameEnv)
	if c.SessionCookieName == "" {
		c.SessionCookieName = "gradation_session"
	}

	return nil
}
