package config

import (
	"os"
	"strings"
	"time"
)

// Config holds the runtime configuration for the service.
// Values are sourced from environment variables, with defaults
// suitable for local development.
type Config struct {
	ListenAddr     string
	GRPCHealthAddr string

	// DatabaseDriver selects the gorm dialector: "postgres" or "sqlite".
	DatabaseDriver string
	DatabaseDSN    string

	// RedisAddr enables the live payload cache. Empty disables it.
	RedisAddr    string
	LiveCacheTTL time.Duration

	JWTSecret   string
	JWTAudience string

	// RefreshInterval drives the background refresh of stored phones.
	// Zero disables the scheduler.
	RefreshInterval time.Duration

	ProvidersFile string
	LogLevel      string
}

// Load reads configuration from environment variables and applies defaults.
// Malformed durations fall back to their default.
func Load() *Config {
	cfg := &Config{
		ListenAddr:      getenv("LISTEN_ADDR", ":8080"),
		GRPCHealthAddr:  os.Getenv("GRPC_HEALTH_ADDR"),
		DatabaseDriver:  strings.ToLower(getenv("DATABASE_DRIVER", "postgres")),
		DatabaseDSN:     getenv("DATABASE_DSN", "host=postgres user=postgres password=postgres dbname=courier_risk port=5432 sslmode=disable"),
		RedisAddr:       os.Getenv("REDIS_ADDR"),
		LiveCacheTTL:    5 * time.Minute,
		JWTSecret:       getenv("JWT_SECRET", "dev-secret"),
		JWTAudience:     os.Getenv("JWT_AUDIENCE"),
		RefreshInterval: 12 * time.Hour,
		ProvidersFile:   os.Getenv("PROVIDERS_FILE"),
		LogLevel:        getenv("LOG_LEVEL", "info"),
	}

	if d, ok := duration("LIVE_CACHE_TTL"); ok {
		cfg.LiveCacheTTL = d
	}
	if d, ok := duration("REFRESH_INTERVAL"); ok {
		cfg.RefreshInterval = d
	}

	return cfg
}

func duration(key string) (time.Duration, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	if v == "0" {
		return 0, true
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return 0, false
	}
	return d, true
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
