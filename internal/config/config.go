package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config runtime configuration
type Config struct {
	Port                  string
	CSRFSecret            string
	CSRFTokenTTL          time.Duration
	RateWindow            time.Duration
	CleanupInterval       time.Duration
	ContactLimitPerWindow int
	TokenLimitPerWindow   int
	DuplicateWindow       time.Duration
	DataDir               string
	WebhookURL            string
	WebhookTimeout        time.Duration
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	RedisKeyPrefix        string
}

// Load reads an optional .env file, then the environment.
// CSRF_SECRET_KEY has no default: startup fails without it.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Port:           getEnv("PORT", "8080"),
		CSRFSecret:     os.Getenv("CSRF_SECRET_KEY"),
		DataDir:        getEnv("DATA_DIR", "./data"),
		WebhookURL:     strings.TrimSpace(os.Getenv("WEBHOOK_URL")),
		RedisAddr:      strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		RedisKeyPrefix: getEnv("REDIS_KEY_PREFIX", "site-forms"),
	}

	if cfg.CSRFSecret == "" {
		return Config{}, errors.New("missing CSRF_SECRET_KEY")
	}

	var err error
	if cfg.CSRFTokenTTL, err = getEnvAsDuration("CSRF_TOKEN_TTL", time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.RateWindow, err = getEnvAsDuration("RATE_LIMIT_WINDOW", time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.CleanupInterval, err = getEnvAsDuration("RATE_LIMIT_CLEANUP_INTERVAL", 10*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.DuplicateWindow, err = getEnvAsDuration("DUPLICATE_WINDOW", 10*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.DuplicateWindow <= 0 {
		return Config{}, fmt.Errorf("invalid DUPLICATE_WINDOW: must be positive, got %s", cfg.DuplicateWindow)
	}
	if cfg.WebhookTimeout, err = getEnvAsDuration("WEBHOOK_TIMEOUT", 10*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.ContactLimitPerWindow, err = getEnvAsInt("CONTACT_LIMIT_PER_WINDOW", 100); err != nil {
		return Config{}, err
	}
	if cfg.TokenLimitPerWindow, err = getEnvAsInt("TOKEN_LIMIT_PER_WINDOW", 100); err != nil {
		return Config{}, err
	}
	if cfg.RedisDB, err = getEnvAsInt("REDIS_DB", 0); err != nil {
		return Config{}, err
	}

	cfg.ContactLimitPerWindow = clampInt(cfg.ContactLimitPerWindow, 1, 100000)
	cfg.TokenLimitPerWindow = clampInt(cfg.TokenLimitPerWindow, 1, 100000)

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) (int, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, nil
}

func getEnvAsDuration(key string, fallback time.Duration) (time.Duration, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, nil
}

func clampInt(value, min, max int) int {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
