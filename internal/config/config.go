// Package config is bort's bootstrap configuration: the handful of
// settings needed before the database (and therefore configstore.Store)
// is reachable. Everything that can change at runtime lives in
// configstore instead.
package config

import (
	"encoding/hex"
	"log"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
)

type Config struct {
	Env string

	HTTPAddr string

	DBDriver string
	DBDSN    string

	DumpFileDir     string
	MetricReportDir string
	DropSinkDir     string
	LogLevel        string
	CapabilityKey   []byte
}

func Load() *Config {
	envFile := ".env"

	if err := godotenv.Load(envFile); err != nil {
		log.Println("⚠️  No .env file found or failed to load, using system environment variables or defaults")
	} else {
		log.Println("✅ Loaded configuration from .env")
	}

	return &Config{
		Env:             getEnv("APP_ENV", "development"),
		HTTPAddr:        getEnv("HTTP_ADDR", ":8080"),
		DBDriver:        getEnv("DB_DRIVER", "sqlite"),
		DBDSN:           getEnv("DB_DSN", "bort.db"),
		DumpFileDir:     getEnv("DUMP_FILE_DIR", "/tmp/bort/dumps"),
		MetricReportDir: getEnv("METRIC_REPORT_DIR", "/tmp/bort/reports"),
		DropSinkDir:     getEnv("DROP_SINK_DIR", "/tmp/bort/outbox"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		CapabilityKey:   capabilityKey(),
	}
}

// capabilityKey resolves the HMAC key used to mint and verify reload_config
// control-capability tokens. CAPABILITY_KEY is hex-encoded; an unset or
// unparsable value falls back to a fixed development key, which is not
// suitable for a production deployment.
func capabilityKey() []byte {
	raw := getEnv("CAPABILITY_KEY", "")
	if raw != "" {
		if key, err := hex.DecodeString(raw); err == nil {
			return key
		}
		slog.Warn("CAPABILITY_KEY is not valid hex, falling back to development key")
	}
	return []byte("bort-development-capability-key")
}

// ParseLogLevel maps a config log level string to a slog.Level, defaulting
// to Info for an unrecognized value.
func (c *Config) ParseLogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}
