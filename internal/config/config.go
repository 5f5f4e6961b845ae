// Package config loads commerce-connect settings from an optional YAML file
// and the environment. Environment variables win over the file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/custodia-labs/commerce-connect/internal/core/domain"
)

// Store backends.
const (
	StorePostgres = "postgres"
	StoreMongo    = "mongo"
)

// Lock backends.
const (
	LockRedis    = "redis"
	LockPostgres = "postgres"
	LockNone     = "none"
)

// Sweep triggers.
const (
	TriggerTicker = "ticker"
	TriggerAsynq  = "asynq"
)

// Config is the full service configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Log     LogConfig     `yaml:"log"`
	Store   StoreConfig   `yaml:"store"`
	Lock    LockConfig    `yaml:"lock"`
	Refresh RefreshConfig `yaml:"refresh"`
	Auth    AuthConfig    `yaml:"auth"`
	Google  GoogleConfig  `yaml:"google"`
	Meta    MetaConfig    `yaml:"meta"`

	// EncryptionKey protects stored tokens. Any length; a key is derived from it.
	EncryptionKey string `yaml:"encryption_key"`

	MetricsNamespace string `yaml:"metrics_namespace"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	AdminToken      string        `yaml:"admin_token"`
	CORSOrigins     []string      `yaml:"cors_origins"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or text
}

// StoreConfig selects and configures the integration store.
type StoreConfig struct {
	Backend string `yaml:"backend"`

	DatabaseURL     string        `yaml:"database_url"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`

	MongoURI      string `yaml:"mongo_uri"`
	MongoDatabase string `yaml:"mongo_database"`
}

// LockConfig selects the distributed lock guarding sweeps.
type LockConfig struct {
	Backend  string        `yaml:"backend"`
	RedisURL string        `yaml:"redis_url"`
	TTL      time.Duration `yaml:"ttl"`
	Required bool          `yaml:"required"`
}

// RefreshConfig tunes the refresh sweep and its trigger.
type RefreshConfig struct {
	Trigger        string        `yaml:"trigger"`
	Interval       time.Duration `yaml:"interval"`
	Lookahead      time.Duration `yaml:"lookahead"`
	Concurrency    int           `yaml:"concurrency"`
	RefreshTimeout time.Duration `yaml:"refresh_timeout"`
	RunOnStart     bool          `yaml:"run_on_start"`

	// AsynqConcurrency is the asynq server worker count.
	AsynqConcurrency int `yaml:"asynq_concurrency"`
}

// AuthConfig holds the signing secrets.
type AuthConfig struct {
	JWTSecret   string        `yaml:"jwt_secret"`
	StateSecret string        `yaml:"state_secret"`
	StateTTL    time.Duration `yaml:"state_ttl"`
}

// GoogleConfig holds Google OAuth client settings.
type GoogleConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RedirectURL  string `yaml:"redirect_url"`
}

// MetaConfig holds Meta app settings.
type MetaConfig struct {
	AppID       string `yaml:"app_id"`
	AppSecret   string `yaml:"app_secret"`
	RedirectURL string `yaml:"redirect_url"`
}

// IsConfigured reports whether any Google setting is present.
func (g GoogleConfig) IsConfigured() bool {
	return g.ClientID != "" || g.ClientSecret != ""
}

// IsConfigured reports whether any Meta setting is present.
func (m MetaConfig) IsConfigured() bool {
	return m.AppID != "" || m.AppSecret != ""
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ShutdownTimeout: 30 * time.Second,
		},
		Log: LogConfig{Level: "info", Format: "json"},
		Store: StoreConfig{
			Backend:         StorePostgres,
			MaxOpenConns:    10,
			MaxIdleConns:    4,
			ConnMaxLifetime: 5 * time.Minute,
			ConnMaxIdleTime: time.Minute,
			MongoDatabase:   "commerce",
		},
		Lock: LockConfig{
			Backend: LockPostgres,
			TTL:     2 * time.Minute,
		},
		Refresh: RefreshConfig{
			Trigger:          TriggerTicker,
			Interval:         10 * time.Minute,
			Lookahead:        10 * time.Minute,
			Concurrency:      4,
			RefreshTimeout:   30 * time.Second,
			AsynqConcurrency: 2,
		},
		Auth:             AuthConfig{StateTTL: 10 * time.Minute},
		MetricsNamespace: "commerce",
	}
}

// LoadDotEnv loads variables from .env style files into the environment.
// Missing files are ignored; variables already set are kept.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load builds the configuration from defaults, the YAML file at path (if
// non-empty) and then the environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Server.Host = getEnv("HOST", c.Server.Host)
	c.Server.Port = getEnvInt("PORT", c.Server.Port)
	c.Server.AdminToken = getEnv("ADMIN_TOKEN", c.Server.AdminToken)
	c.Server.CORSOrigins = getEnvList("CORS_ORIGINS", c.Server.CORSOrigins)
	c.Server.ShutdownTimeout = getEnvDuration("SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)

	c.Store.Backend = getEnv("STORE_BACKEND", c.Store.Backend)
	c.Store.DatabaseURL = getEnv("DATABASE_URL", c.Store.DatabaseURL)
	c.Store.MaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", c.Store.MaxOpenConns)
	c.Store.MaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", c.Store.MaxIdleConns)
	c.Store.ConnMaxLifetime = getEnvDuration("DB_CONN_MAX_LIFETIME", c.Store.ConnMaxLifetime)
	c.Store.ConnMaxIdleTime = getEnvDuration("DB_CONN_MAX_IDLE_TIME", c.Store.ConnMaxIdleTime)
	c.Store.MongoURI = getEnv("MONGO_URI", c.Store.MongoURI)
	c.Store.MongoDatabase = getEnv("MONGO_DATABASE", c.Store.MongoDatabase)

	c.Lock.Backend = getEnv("LOCK_BACKEND", c.Lock.Backend)
	c.Lock.RedisURL = getEnv("REDIS_URL", c.Lock.RedisURL)
	c.Lock.TTL = getEnvDuration("LOCK_TTL", c.Lock.TTL)
	c.Lock.Required = getEnvBool("LOCK_REQUIRED", c.Lock.Required)

	c.Refresh.Trigger = getEnv("TRIGGER", c.Refresh.Trigger)
	c.Refresh.Interval = getEnvDuration("SWEEP_INTERVAL", c.Refresh.Interval)
	c.Refresh.Lookahead = getEnvDuration("SWEEP_LOOKAHEAD", c.Refresh.Lookahead)
	c.Refresh.Concurrency = getEnvInt("SWEEP_CONCURRENCY", c.Refresh.Concurrency)
	c.Refresh.RefreshTimeout = getEnvDuration("REFRESH_TIMEOUT", c.Refresh.RefreshTimeout)
	c.Refresh.RunOnStart = getEnvBool("SWEEP_ON_START", c.Refresh.RunOnStart)
	c.Refresh.AsynqConcurrency = getEnvInt("ASYNQ_CONCURRENCY", c.Refresh.AsynqConcurrency)

	c.Auth.JWTSecret = getEnv("JWT_SECRET", c.Auth.JWTSecret)
	c.Auth.StateSecret = getEnv("STATE_SECRET", c.Auth.StateSecret)
	c.Auth.StateTTL = getEnvDuration("STATE_TTL", c.Auth.StateTTL)

	c.Google.ClientID = getEnv("GOOGLE_CLIENT_ID", c.Google.ClientID)
	c.Google.ClientSecret = getEnv("GOOGLE_CLIENT_SECRET", c.Google.ClientSecret)
	c.Google.RedirectURL = getEnv("GOOGLE_REDIRECT_URL", c.Google.RedirectURL)

	c.Meta.AppID = getEnv("META_APP_ID", c.Meta.AppID)
	c.Meta.AppSecret = getEnv("META_APP_SECRET", c.Meta.AppSecret)
	c.Meta.RedirectURL = getEnv("META_REDIRECT_URL", c.Meta.RedirectURL)

	c.EncryptionKey = getEnv("ENCRYPTION_KEY", c.EncryptionKey)
	c.MetricsNamespace = getEnv("METRICS_NAMESPACE", c.MetricsNamespace)
}

// Validate checks the settings every run mode needs. The first problem is
// returned as a *domain.ConfigurationError.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case StorePostgres:
		if c.Store.DatabaseURL == "" {
			return missing("DATABASE_URL")
		}
	case StoreMongo:
		if c.Store.MongoURI == "" {
			return missing("MONGO_URI")
		}
	default:
		return invalid("STORE_BACKEND", fmt.Sprintf("unknown backend %q (want postgres or mongo)", c.Store.Backend))
	}

	switch c.Lock.Backend {
	case LockRedis:
		if c.Lock.RedisURL == "" {
			return missing("REDIS_URL")
		}
	case LockPostgres:
		if c.Store.Backend != StorePostgres {
			return invalid("LOCK_BACKEND", "postgres advisory locks need the postgres store")
		}
	case LockNone:
	default:
		return invalid("LOCK_BACKEND", fmt.Sprintf("unknown backend %q (want redis, postgres or none)", c.Lock.Backend))
	}

	switch c.Refresh.Trigger {
	case TriggerTicker:
	case TriggerAsynq:
		if c.Lock.RedisURL == "" {
			return invalid("REDIS_URL", "required by the asynq trigger")
		}
	default:
		return invalid("TRIGGER", fmt.Sprintf("unknown trigger %q (want ticker or asynq)", c.Refresh.Trigger))
	}

	if c.Refresh.Lookahead < 0 {
		return invalid("SWEEP_LOOKAHEAD", "must not be negative")
	}

	if c.EncryptionKey == "" {
		return missing("ENCRYPTION_KEY")
	}
	if c.Auth.JWTSecret == "" {
		return missing("JWT_SECRET")
	}
	if c.Auth.StateSecret == "" {
		return missing("STATE_SECRET")
	}
	if c.Auth.StateSecret == c.Auth.JWTSecret {
		return invalid("STATE_SECRET", "must differ from JWT_SECRET")
	}

	if c.Google.IsConfigured() {
		if c.Google.ClientID == "" {
			return missing("GOOGLE_CLIENT_ID")
		}
		if c.Google.ClientSecret == "" {
			return missing("GOOGLE_CLIENT_SECRET")
		}
	}
	if c.Meta.IsConfigured() {
		if c.Meta.AppID == "" {
			return missing("META_APP_ID")
		}
		if c.Meta.AppSecret == "" {
			return missing("META_APP_SECRET")
		}
	}
	if !c.Google.IsConfigured() && !c.Meta.IsConfigured() {
		return invalid("GOOGLE_CLIENT_ID", "no platform is configured")
	}

	return nil
}

// SlogLevel maps Log.Level onto slog; unknown values mean info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func missing(field string) error {
	return &domain.ConfigurationError{Field: field, Reason: "is required"}
}

func invalid(field, reason string) error {
	return &domain.ConfigurationError{Field: field, Reason: reason}
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if result, err := strconv.Atoi(value); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
