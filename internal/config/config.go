package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"authgate.org/internal/auth"
)

// Config holds all service configuration, loaded from AUTHGATE_* env vars.
type Config struct {
	Server ServerConfig
	Auth   AuthConfig

	// PostgresDSN is required; the service has no in-process storage.
	PostgresDSN string
}

// ServerConfig holds listener configuration.
type ServerConfig struct {
	Addr            string
	GRPCAddr        string // empty disables the gRPC health listener
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// AuthConfig holds token and credential policy knobs.
type AuthConfig struct {
	SigningSecret     string
	Issuer            string
	AccessTTL         time.Duration
	RefreshTTL        time.Duration
	HashCost          int
	MinPasswordLength int
	CleanupInterval   time.Duration

	BootstrapAdmin         bool
	BootstrapAdminPassword string
}

// Load reads configuration from the environment and validates it.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Addr:            getEnv("AUTHGATE_ADDR", ":8080"),
			GRPCAddr:        getEnv("AUTHGATE_GRPC_ADDR", ""),
			ReadTimeout:     getEnvDuration("AUTHGATE_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("AUTHGATE_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("AUTHGATE_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("AUTHGATE_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Auth: AuthConfig{
			SigningSecret:          getEnv("AUTHGATE_SIGNING_SECRET", ""),
			Issuer:                 getEnv("AUTHGATE_ISSUER", "authgate"),
			AccessTTL:              getEnvDuration("AUTHGATE_ACCESS_TTL", 15*time.Minute),
			RefreshTTL:             getEnvDuration("AUTHGATE_REFRESH_TTL", 7*24*time.Hour),
			HashCost:               getEnvInt("AUTHGATE_HASH_COST", auth.DefaultHashCost),
			MinPasswordLength:      getEnvInt("AUTHGATE_MIN_PASSWORD_LENGTH", auth.DefaultMinPasswordLength),
			CleanupInterval:        getEnvDuration("AUTHGATE_TOKEN_CLEANUP_INTERVAL", time.Hour),
			BootstrapAdmin:         getEnvBool("AUTHGATE_BOOTSTRAP_ADMIN", false),
			BootstrapAdminPassword: getEnv("AUTHGATE_BOOTSTRAP_ADMIN_PASSWORD", ""),
		},
		PostgresDSN: getEnv("AUTHGATE_PG_DSN", ""),
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks required settings and sane ranges.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Auth.SigningSecret) == "" {
		return fmt.Errorf("AUTHGATE_SIGNING_SECRET is required")
	}
	if c.PostgresDSN == "" {
		return fmt.Errorf("AUTHGATE_PG_DSN is required")
	}
	if c.Auth.HashCost < auth.MinHashCost || c.Auth.HashCost > auth.MaxHashCost {
		return fmt.Errorf("AUTHGATE_HASH_COST must be between %d and %d", auth.MinHashCost, auth.MaxHashCost)
	}
	if c.Auth.MinPasswordLength < 1 {
		return fmt.Errorf("AUTHGATE_MIN_PASSWORD_LENGTH must be positive")
	}
	if c.Auth.BootstrapAdmin && len(c.Auth.BootstrapAdminPassword) < c.Auth.MinPasswordLength {
		return fmt.Errorf("AUTHGATE_BOOTSTRAP_ADMIN_PASSWORD must be at least %d characters", c.Auth.MinPasswordLength)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
