package config

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	PresenceStorePostgres = "postgres"
	PresenceStoreRedis    = "redis"
)

type Config struct {
	ServerAddr       string        `env:"TASKCHAT_ADDR" envDefault:"localhost:8000"`
	DatabaseDSN      string        `env:"TASKCHAT_DATABASE_DSN" envDefault:"host=localhost user=postgres password=postgres dbname=postgres sslmode=disable"`
	JWTSecret        string        `env:"TASKCHAT_JWT_SECRET"`
	JWTAudience      string        `env:"TASKCHAT_JWT_AUDIENCE"`
	IdentityURL      string        `env:"TASKCHAT_IDENTITY_URL"`
	IdentityAPIKey   string        `env:"TASKCHAT_IDENTITY_API_KEY"`
	VerifyTimeout    time.Duration `env:"TASKCHAT_VERIFY_TIMEOUT" envDefault:"5s"`
	OperationTimeout time.Duration `env:"TASKCHAT_OPERATION_TIMEOUT" envDefault:"10s"`
	PresenceStore    string        `env:"TASKCHAT_PRESENCE_STORE" envDefault:"postgres"`
	RedisURL         string        `env:"TASKCHAT_REDIS_URL" envDefault:"redis://localhost:6379/0"`
	AllowedOrigins   []string      `env:"TASKCHAT_ALLOWED_ORIGINS" envSeparator:","`
	ServiceKey       string        `env:"TASKCHAT_SERVICE_KEY"`
	Migrate          bool          `env:"TASKCHAT_MIGRATE"`

	// SigningKey is the decoded JWTSecret, set by Validate.
	SigningKey []byte `env:"-"`
}

// FromEnv loads defaults from the environment. Flags may override the
// returned values before Validate is called.
func FromEnv() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return &cfg, nil
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(base64Secret)
	if err != nil {
		return nil, err
	}
	if len(key) == 0 {
		return nil, fmt.Errorf("signing secret is empty")
	}
	return key, nil
}

func (c *Config) Validate() error {
	if c.ServerAddr == "" {
		return fmt.Errorf("server address cannot be empty")
	}
	if c.DatabaseDSN == "" {
		return fmt.Errorf("database DSN cannot be empty")
	}
	if c.IdentityURL == "" && c.JWTSecret == "" {
		return fmt.Errorf("either a JWT secret or an identity provider URL is required")
	}
	if c.VerifyTimeout <= 0 {
		return fmt.Errorf("verify timeout must be positive")
	}
	if c.OperationTimeout <= 0 {
		return fmt.Errorf("operation timeout must be positive")
	}

	switch c.PresenceStore {
	case PresenceStorePostgres:
	case PresenceStoreRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("redis URL cannot be empty when presence store is %q", PresenceStoreRedis)
		}
	default:
		return fmt.Errorf("unknown presence store %q", c.PresenceStore)
	}

	if c.JWTSecret != "" {
		key, err := decodeSigningSecret(c.JWTSecret)
		if err != nil {
			return fmt.Errorf("decode signing secret: %w", err)
		}
		c.SigningKey = key
	}

	return nil
}
