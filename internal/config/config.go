package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env      string
	LogLevel string
	LogFile  string
	HTTPAddr string

	StorageBackend string
	DataDir        string
	SQLitePath     string
	PostgresDSN    string
	MongoURI       string
	MongoDatabase  string

	AuthMode        string
	AuthStaticToken string
	AuthServiceURL  string
	SessionSecret   string
	SessionTTL      time.Duration

	Timezone         string
	FirstDayOfWeek   time.Weekday
	RemindersEnabled bool
}

var (
	cfg  *Config
	once sync.Once
)

// Load reads the process configuration once and panics if it is invalid.
func Load() *Config {
	once.Do(func() {
		c, err := FromEnv()
		if err != nil {
			panic("Invalid config: " + err.Error())
		}
		cfg = c
	})
	return cfg
}

// FromEnv builds a Config from the environment, loading .env when present.
func FromEnv() (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return nil, fmt.Errorf("loading .env: %w", err)
		}
	}

	ttl, err := time.ParseDuration(getEnv("SESSION_TTL", "720h"))
	if err != nil {
		return nil, fmt.Errorf("SESSION_TTL: %w", err)
	}
	firstDay, err := parseWeekday(getEnv("FIRST_DAY_OF_WEEK", "monday"))
	if err != nil {
		return nil, err
	}
	reminders, err := strconv.ParseBool(getEnv("REMINDERS_ENABLED", "true"))
	if err != nil {
		return nil, fmt.Errorf("REMINDERS_ENABLED: %w", err)
	}

	c := &Config{
		Env:              getEnv("APP_ENV", "development"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		LogFile:          getEnv("LOG_FILE", ""),
		HTTPAddr:         getEnv("HTTP_ADDR", ":8088"),
		StorageBackend:   getEnv("STORAGE_BACKEND", "file"),
		DataDir:          getEnv("DATA_DIR", "data"),
		SQLitePath:       getEnv("SQLITE_PATH", "data/haybeat.db"),
		PostgresDSN:      getEnv("POSTGRES_DSN", ""),
		MongoURI:         getEnv("MONGO_URI", ""),
		MongoDatabase:    getEnv("MONGO_DATABASE", "haybeat"),
		AuthMode:         getEnv("AUTH_MODE", "password"),
		AuthStaticToken:  getEnv("AUTH_STATIC_TOKEN", ""),
		AuthServiceURL:   getEnv("AUTH_SERVICE_URL", ""),
		SessionSecret:    getEnv("SESSION_SECRET", ""),
		SessionTTL:       ttl,
		Timezone:         getEnv("APP_TIMEZONE", "Local"),
		FirstDayOfWeek:   firstDay,
		RemindersEnabled: reminders,
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	if c.Env != "development" && c.Env != "staging" && c.Env != "production" {
		return errors.New("APP_ENV must be one of: development, staging, production")
	}
	switch c.StorageBackend {
	case "file":
		if c.DataDir == "" {
			return errors.New("file storage requires DATA_DIR to be set")
		}
	case "sqlite":
		if c.SQLitePath == "" {
			return errors.New("SQLITE_PATH is required when STORAGE_BACKEND=sqlite")
		}
	case "postgres":
		if c.PostgresDSN == "" {
			return errors.New("POSTGRES_DSN is required when STORAGE_BACKEND=postgres")
		}
	case "mongo":
		if c.MongoURI == "" || c.MongoDatabase == "" {
			return errors.New("MONGO_URI and MONGO_DATABASE are required when STORAGE_BACKEND=mongo")
		}
	default:
		return errors.New("STORAGE_BACKEND must be one of: file, sqlite, postgres, mongo")
	}
	switch c.AuthMode {
	case "password":
		if c.SessionSecret == "" {
			return errors.New("SESSION_SECRET is required when AUTH_MODE=password")
		}
		if c.Env == "production" && len(c.SessionSecret) < 32 {
			return errors.New("SESSION_SECRET must be at least 32 bytes in production")
		}
	case "static":
		if c.AuthStaticToken == "" {
			return errors.New("AUTH_STATIC_TOKEN is required when AUTH_MODE=static")
		}
		if c.Env == "production" {
			return errors.New("AUTH_MODE=static is not allowed in production")
		}
	case "remote":
		if c.AuthServiceURL == "" {
			return errors.New("AUTH_SERVICE_URL is required when AUTH_MODE=remote")
		}
	default:
		return errors.New("AUTH_MODE must be one of: password, static, remote")
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("APP_TIMEZONE: %w", err)
	}
	if c.SessionTTL <= 0 {
		return errors.New("SESSION_TTL must be positive")
	}
	return nil
}

// Location resolves the timezone used for calendar-day arithmetic.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

func parseWeekday(s string) (time.Weekday, error) {
	switch strings.ToLower(s) {
	case "monday":
		return time.Monday, nil
	case "sunday":
		return time.Sunday, nil
	}
	return 0, fmt.Errorf("FIRST_DAY_OF_WEEK must be monday or sunday, got %q", s)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
