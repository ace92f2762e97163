package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

const (
	DefaultConfigPath         = "config.toml"
	DefaultHTTPAddr           = ":8080"
	DefaultJWTExpiresIn       = "24h"
	DefaultPGHost             = "127.0.0.1"
	DefaultPGPort             = 5432
	DefaultPGUser             = "postgres"
	DefaultPGDatabase         = "supportdesk"
	DefaultPGSSLMode          = "disable"
	DefaultStoragePath        = "storage"
	DefaultMediaRetentionDays = 3
	DefaultInactivityHours    = 24
	DefaultExpireSpec         = "@hourly"
	DefaultMediaCleanupSpec   = "0 2 * * *"
	DefaultProviderTimeout    = "30s"
)

type Config struct {
	Log      LogConfig      `toml:"log"`
	Server   ServerConfig   `toml:"server"`
	Auth     AuthConfig     `toml:"auth"`
	Postgres PostgresConfig `toml:"postgres"`
	Storage  StorageConfig  `toml:"storage"`
	Sweep    SweepConfig    `toml:"sweep"`
	Webhooks WebhookConfig  `toml:"webhooks"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type AuthConfig struct {
	JWTSecret    string `toml:"jwt_secret" validate:"required"`
	JWTExpiresIn string `toml:"jwt_expires_in"`
}

type PostgresConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port" validate:"gte=0,lte=65535"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"sslmode"`
}

type StorageConfig struct {
	BasePath           string `toml:"base_path"`
	MediaRetentionDays int    `toml:"media_retention_days" validate:"gte=0"`
}

type SweepConfig struct {
	InactivityHours  int    `toml:"inactivity_hours" validate:"gt=0"`
	ExpireSpec       string `toml:"expire_spec"`
	MediaCleanupSpec string `toml:"media_cleanup_spec"`
}

type WebhookConfig struct {
	MetaVerifyToken string `toml:"meta_verify_token"`
	ProviderTimeout string `toml:"provider_timeout"`
}

// DSN builds a postgres connection string for pgx and migrate.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.Database, p.SSLMode,
	)
}

// Load reads the TOML config at path, falling back to DefaultConfigPath when
// path is empty, and applies defaults for unset fields.
func Load(path string) (Config, error) {
	if path == "" {
		path = DefaultConfigPath
	}

	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyDefaults()

	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultHTTPAddr
	}
	if c.Auth.JWTExpiresIn == "" {
		c.Auth.JWTExpiresIn = DefaultJWTExpiresIn
	}
	if c.Postgres.Host == "" {
		c.Postgres.Host = DefaultPGHost
	}
	if c.Postgres.Port == 0 {
		c.Postgres.Port = DefaultPGPort
	}
	if c.Postgres.User == "" {
		c.Postgres.User = DefaultPGUser
	}
	if c.Postgres.Database == "" {
		c.Postgres.Database = DefaultPGDatabase
	}
	if c.Postgres.SSLMode == "" {
		c.Postgres.SSLMode = DefaultPGSSLMode
	}
	if c.Storage.BasePath == "" {
		c.Storage.BasePath = DefaultStoragePath
	}
	if c.Storage.MediaRetentionDays == 0 {
		c.Storage.MediaRetentionDays = DefaultMediaRetentionDays
	}
	if c.Sweep.InactivityHours == 0 {
		c.Sweep.InactivityHours = DefaultInactivityHours
	}
	if c.Sweep.ExpireSpec == "" {
		c.Sweep.ExpireSpec = DefaultExpireSpec
	}
	if c.Sweep.MediaCleanupSpec == "" {
		c.Sweep.MediaCleanupSpec = DefaultMediaCleanupSpec
	}
	if c.Webhooks.ProviderTimeout == "" {
		c.Webhooks.ProviderTimeout = DefaultProviderTimeout
	}
}
