package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Env:            "development",
		StorageBackend: "file",
		DataDir:        "data",
		AuthMode:       "password",
		SessionSecret:  "dev-secret",
		SessionTTL:     time.Hour,
		Timezone:       "UTC",
		FirstDayOfWeek: time.Monday,
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "bad env", mutate: func(c *Config) { c.Env = "qa" }, wantErr: "APP_ENV"},
		{name: "postgres without dsn", mutate: func(c *Config) { c.StorageBackend = "postgres" }, wantErr: "POSTGRES_DSN"},
		{name: "mongo without uri", mutate: func(c *Config) { c.StorageBackend = "mongo" }, wantErr: "MONGO_URI"},
		{name: "unknown backend", mutate: func(c *Config) { c.StorageBackend = "redis" }, wantErr: "STORAGE_BACKEND"},
		{name: "password without secret", mutate: func(c *Config) { c.SessionSecret = "" }, wantErr: "SESSION_SECRET"},
		{name: "short secret in production", mutate: func(c *Config) { c.Env = "production" }, wantErr: "32 bytes"},
		{name: "static without token", mutate: func(c *Config) { c.AuthMode = "static" }, wantErr: "AUTH_STATIC_TOKEN"},
		{name: "static in production", mutate: func(c *Config) {
			c.Env = "production"
			c.AuthMode = "static"
			c.AuthStaticToken = "tok"
		}, wantErr: "not allowed"},
		{name: "remote without url", mutate: func(c *Config) { c.AuthMode = "remote" }, wantErr: "AUTH_SERVICE_URL"},
		{name: "bad timezone", mutate: func(c *Config) { c.Timezone = "Mars/Olympus" }, wantErr: "APP_TIMEZONE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("SESSION_SECRET", "secret")
	t.Setenv("STORAGE_BACKEND", "sqlite")
	t.Setenv("SQLITE_PATH", "/tmp/haybeat-test.db")
	t.Setenv("FIRST_DAY_OF_WEEK", "Sunday")
	t.Setenv("APP_TIMEZONE", "UTC")

	c, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", c.StorageBackend)
	assert.Equal(t, time.Sunday, c.FirstDayOfWeek)
	assert.Equal(t, 720*time.Hour, c.SessionTTL)
	assert.True(t, c.RemindersEnabled)
}

func TestFromEnv_InvalidWeekday(t *testing.T) {
	t.Setenv("SESSION_SECRET", "secret")
	t.Setenv("FIRST_DAY_OF_WEEK", "friday")

	_, err := FromEnv()
	assert.Error(t, err)
}
