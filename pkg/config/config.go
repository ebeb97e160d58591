// Package config loads client settings from the environment, with an
// optional .env file for development
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config is populated from ZENTALK_* environment variables
type Config struct {
	// Relays are the websocket relay endpoints, comma separated
	Relays []string `envconfig:"RELAYS"`

	// DataDir holds the key file and local databases
	DataDir string `envconfig:"DATA_DIR" default:"./zentalk-data"`

	// SecretKey is the identity secret in hex. When empty the key file
	// in DataDir is used, or a fresh identity is generated.
	SecretKey string `envconfig:"SECRET_KEY"`

	// KeyFile is the identity file name inside DataDir
	KeyFile string `envconfig:"KEY_FILE" default:"identity.key"`

	// APIAddr is the HTTP API listen address
	APIAddr string `envconfig:"API_ADDR" default:":8420"`

	APICORS      bool `envconfig:"API_CORS" default:"true"`
	APIRateLimit int  `envconfig:"API_RATE_LIMIT" default:"300"`
}

// Load reads the configuration. A .env file in the working directory is
// applied first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("zentalk", &cfg); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// KeyPath returns the identity file location
func (c *Config) KeyPath() string {
	return filepath.Join(c.DataDir, c.KeyFile)
}

// ResolveSecret returns the identity secret: the explicit setting, the
// key file, or empty meaning a fresh identity should be generated
func (c *Config) ResolveSecret() string {
	if c.SecretKey != "" {
		return c.SecretKey
	}
	if data, err := os.ReadFile(c.KeyPath()); err == nil {
		return strings.TrimSpace(string(data))
	}
	return ""
}

// PersistSecret writes a generated identity to the key file unless an
// explicit secret is configured
func (c *Config) PersistSecret(secretHex string) error {
	if c.SecretKey != "" {
		return nil
	}
	return os.WriteFile(c.KeyPath(), []byte(secretHex+"\n"), 0o600)
}
