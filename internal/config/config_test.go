package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/commerce-connect/internal/core/domain"
)

func validConfig() *Config {
	cfg := Default()
	cfg.Store.DatabaseURL = "postgres://localhost/commerce"
	cfg.EncryptionKey = "enc"
	cfg.Auth.JWTSecret = "jwt"
	cfg.Auth.StateSecret = "state"
	cfg.Google = GoogleConfig{ClientID: "id", ClientSecret: "secret"}
	return cfg
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, StorePostgres, cfg.Store.Backend)
	assert.Equal(t, LockPostgres, cfg.Lock.Backend)
	assert.Equal(t, TriggerTicker, cfg.Refresh.Trigger)
	assert.Equal(t, 10*time.Minute, cfg.Refresh.Interval)
	assert.Equal(t, 10*time.Minute, cfg.Refresh.Lookahead)
	assert.Equal(t, 10*time.Minute, cfg.Auth.StateTTL)
	assert.Equal(t, time.Minute, cfg.Store.ConnMaxIdleTime)
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9000
  cors_origins: ["https://app.example.com"]
store:
  backend: mongo
  mongo_uri: mongodb://localhost:27017
refresh:
  interval: 5m
  lookahead: 0s
  concurrency: 8
google:
  client_id: from-file
`), 0o600))

	t.Setenv("PORT", "9100")
	t.Setenv("GOOGLE_CLIENT_ID", "from-env")
	t.Setenv("SWEEP_CONCURRENCY", "not-a-number")
	t.Setenv("CORS_ORIGINS", "")
	t.Setenv("DB_CONN_MAX_IDLE_TIME", "90s")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port, "env overrides file")
	assert.Equal(t, []string{"https://app.example.com"}, cfg.Server.CORSOrigins)
	assert.Equal(t, StoreMongo, cfg.Store.Backend)
	assert.Equal(t, "mongodb://localhost:27017", cfg.Store.MongoURI)
	assert.Equal(t, 5*time.Minute, cfg.Refresh.Interval)
	assert.Zero(t, cfg.Refresh.Lookahead)
	assert.Equal(t, 8, cfg.Refresh.Concurrency, "unparseable env keeps the file value")
	assert.Equal(t, "from-env", cfg.Google.ClientID)
	assert.Equal(t, "commerce", cfg.Store.MongoDatabase, "defaults survive a partial file")
	assert.Equal(t, 90*time.Second, cfg.Store.ConnMaxIdleTime)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [1, 2"), 0o600))
	_, err = Load(path)
	assert.Error(t, err)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("CC_TEST_DOTENV=loaded\nCC_TEST_KEEP=file\n"), 0o600))

	t.Setenv("CC_TEST_DOTENV", "")
	os.Unsetenv("CC_TEST_DOTENV")
	t.Setenv("CC_TEST_KEEP", "env")

	require.NoError(t, LoadDotEnv(path, filepath.Join(dir, "absent.env")))

	assert.Equal(t, "loaded", os.Getenv("CC_TEST_DOTENV"))
	assert.Equal(t, "env", os.Getenv("CC_TEST_KEEP"), "existing variables are not overridden")
}

func TestGetEnvList(t *testing.T) {
	t.Setenv("CC_TEST_LIST", " a, ,b ,c")
	assert.Equal(t, []string{"a", "b", "c"}, getEnvList("CC_TEST_LIST", nil))
	assert.Equal(t, []string{"x"}, getEnvList("CC_TEST_UNSET_LIST", []string{"x"}))
}

func TestGetEnvBool(t *testing.T) {
	for value, want := range map[string]bool{"true": true, "1": true, "yes": true, "false": false, "no": false} {
		t.Setenv("CC_TEST_BOOL", value)
		assert.Equal(t, want, getEnvBool("CC_TEST_BOOL", !want), value)
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"missing database url", func(c *Config) { c.Store.DatabaseURL = "" }, "DATABASE_URL"},
		{"unknown store", func(c *Config) { c.Store.Backend = "sqlite" }, "STORE_BACKEND"},
		{"mongo without uri", func(c *Config) { c.Store.Backend = StoreMongo; c.Lock.Backend = LockNone }, "MONGO_URI"},
		{"advisory lock on mongo", func(c *Config) { c.Store.Backend = StoreMongo; c.Store.MongoURI = "mongodb://x" }, "LOCK_BACKEND"},
		{"redis lock without url", func(c *Config) { c.Lock.Backend = LockRedis }, "REDIS_URL"},
		{"unknown lock", func(c *Config) { c.Lock.Backend = "etcd" }, "LOCK_BACKEND"},
		{"asynq without redis", func(c *Config) { c.Refresh.Trigger = TriggerAsynq }, "REDIS_URL"},
		{"unknown trigger", func(c *Config) { c.Refresh.Trigger = "cron" }, "TRIGGER"},
		{"negative lookahead", func(c *Config) { c.Refresh.Lookahead = -time.Minute }, "SWEEP_LOOKAHEAD"},
		{"missing encryption key", func(c *Config) { c.EncryptionKey = "" }, "ENCRYPTION_KEY"},
		{"missing jwt secret", func(c *Config) { c.Auth.JWTSecret = "" }, "JWT_SECRET"},
		{"missing state secret", func(c *Config) { c.Auth.StateSecret = "" }, "STATE_SECRET"},
		{"shared secrets", func(c *Config) { c.Auth.StateSecret = c.Auth.JWTSecret }, "STATE_SECRET"},
		{"google without secret", func(c *Config) { c.Google.ClientSecret = "" }, "GOOGLE_CLIENT_SECRET"},
		{"meta without app id", func(c *Config) { c.Meta.AppSecret = "s" }, "META_APP_ID"},
		{"no platform", func(c *Config) { c.Google = GoogleConfig{} }, "GOOGLE_CLIENT_ID"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()

			var cfgErr *domain.ConfigurationError
			require.True(t, errors.As(err, &cfgErr), "expected ConfigurationError, got %v", err)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestValidate_MetaOnly(t *testing.T) {
	cfg := validConfig()
	cfg.Google = GoogleConfig{}
	cfg.Meta = MetaConfig{AppID: "app", AppSecret: "secret"}
	cfg.Lock = LockConfig{Backend: LockRedis, RedisURL: "redis://localhost:6379"}
	cfg.Refresh.Trigger = TriggerAsynq

	assert.NoError(t, cfg.Validate())
}

func TestSlogLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"verbose": slog.LevelInfo,
	}
	for level, want := range cases {
		cfg := &Config{Log: LogConfig{Level: level}}
		assert.Equal(t, want, cfg.SlogLevel(), level)
	}
}
