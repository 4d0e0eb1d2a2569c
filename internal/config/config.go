package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	ShutdownGrace = 10 * time.Second
)

type Config struct {
	DBDriver           string
	DatabaseURL        string
	AutoMigrate        bool
	ServerAddr         string
	RabbitURL          string
	CORSOrigins        []string
	LogLevel           zerolog.Level
	FineBlockThreshold decimal.Decimal
	ReminderWindowDays int
	DashboardCacheTTL  time.Duration
}

// Load reads the configuration from the environment. Variables from a .env file
// in the working directory are applied first without overriding the real
// environment; a missing file is not an error.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, errors.Wrap(err, "load .env")
	}
	return FromEnv()
}

// FromEnv builds a Config from the process environment only.
func FromEnv() (Config, error) {
	cfg := Config{
		DBDriver:    strings.ToLower(getenv("DB_DRIVER", DriverPostgres)),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		ServerAddr:  getenv("SERVER_ADDR", ":8080"),
		RabbitURL:   os.Getenv("RABBITMQ_URL"),
		CORSOrigins: splitList(getenv("CORS_ORIGINS", "*")),
	}

	switch cfg.DBDriver {
	case DriverPostgres, DriverSQLite:
	default:
		return Config{}, errors.Errorf("DB_DRIVER must be %q or %q, got %q", DriverPostgres, DriverSQLite, cfg.DBDriver)
	}
	if cfg.DatabaseURL == "" {
		if cfg.DBDriver == DriverPostgres {
			return Config{}, errors.New("DATABASE_URL environment variable is required")
		}
		cfg.DatabaseURL = "library.db"
	}

	var err error
	if cfg.AutoMigrate, err = strconv.ParseBool(getenv("AUTO_MIGRATE", "false")); err != nil {
		return Config{}, errors.Wrap(err, "AUTO_MIGRATE")
	}
	if cfg.LogLevel, err = zerolog.ParseLevel(getenv("LOG_LEVEL", "info")); err != nil {
		return Config{}, errors.Wrap(err, "LOG_LEVEL")
	}
	if cfg.FineBlockThreshold, err = decimal.NewFromString(getenv("FINE_BLOCK_THRESHOLD", "0")); err != nil {
		return Config{}, errors.Wrap(err, "FINE_BLOCK_THRESHOLD")
	}
	if cfg.FineBlockThreshold.IsNegative() {
		return Config{}, errors.New("FINE_BLOCK_THRESHOLD must not be negative")
	}
	if cfg.ReminderWindowDays, err = strconv.Atoi(getenv("REMINDER_WINDOW_DAYS", "2")); err != nil {
		return Config{}, errors.Wrap(err, "REMINDER_WINDOW_DAYS")
	}
	if cfg.DashboardCacheTTL, err = time.ParseDuration(getenv("DASHBOARD_CACHE_TTL", "30s")); err != nil {
		return Config{}, errors.Wrap(err, "DASHBOARD_CACHE_TTL")
	}
	return cfg, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
