package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

var ErrMissingRequiredValue = errors.New("missing required value")
var ErrInvalidValue = errors.New("invalid value")

type environment string

const (
	production  environment = "production"
	staging     environment = "staging"
	development environment = "development"
)

const (
	defaultReadPoolSize  = 8
	defaultWritePoolSize = 2

	defaultSlowCallThresholdMS   = 2_000
	defaultSevereCallThresholdMS = 10_000

	defaultMaxRetryAttempts = 3
	defaultRetryBackoffMS   = 250

	defaultInventoryRatePerSecond = 10
	defaultInventoryRateBurst     = 20
)

type Config struct {
	inventoryURL   string
	inventoryToken string
	sentryDSN      string
	dBUsername     string
	dBPassword     string
	dBHost         string

	readPoolSize  int
	writePoolSize int

	slowCallThreshold   time.Duration
	severeCallThreshold time.Duration

	maxRetryAttempts int
	retryBackoff     time.Duration

	inventoryRatePerSecond int
	inventoryRateBurst     int

	cacheTTLOverrides map[string]time.Duration

	env environment
}

func (c *Config) InventoryURL() string {
	return c.inventoryURL
}

func (c *Config) InventoryToken() string {
	return c.inventoryToken
}

func (c *Config) SentryDSN() string {
	return c.sentryDSN
}

func (c *Config) DBUsername() string {
	return c.dBUsername
}

func (c *Config) DBPassword() string {
	return c.dBPassword
}

func (c *Config) DBHost() string {
	return c.dBHost
}

func (c *Config) ReadPoolSize() int {
	return c.readPoolSize
}

func (c *Config) WritePoolSize() int {
	return c.writePoolSize
}

func (c *Config) SlowCallThreshold() time.Duration {
	return c.slowCallThreshold
}

func (c *Config) SevereCallThreshold() time.Duration {
	return c.severeCallThreshold
}

func (c *Config) MaxRetryAttempts() int {
	return c.maxRetryAttempts
}

func (c *Config) RetryBackoff() time.Duration {
	return c.retryBackoff
}

func (c *Config) InventoryRatePerSecond() int {
	return c.inventoryRatePerSecond
}

func (c *Config) InventoryRateBurst() int {
	return c.inventoryRateBurst
}

// CacheTTLOverrides maps key class name -> TTL, parsed from
// CACHE_TTL_OVERRIDES ("vlan-list=120,tenant=3600", values in seconds).
func (c *Config) CacheTTLOverrides() map[string]time.Duration {
	overrides := make(map[string]time.Duration, len(c.cacheTTLOverrides))
	for class, ttl := range c.cacheTTLOverrides {
		overrides[class] = ttl
	}
	return overrides
}

func (c *Config) IsProduction() bool {
	return c.env == production
}

func (c *Config) IsStaging() bool {
	return c.env == staging
}

func (c *Config) IsDevelopment() bool {
	return c.env == development
}

// Return a string representation suitable for logging etc
func (c *Config) NonSensitiveString() string {
	return fmt.Sprintf(
		"Config{env: %s, inventoryURL: %s, readPool: %d, writePool: %d, slow: %s, severe: %s, retries: %d, backoff: %s}",
		string(c.env),
		c.inventoryURL,
		c.readPoolSize,
		c.writePoolSize,
		c.slowCallThreshold,
		c.severeCallThreshold,
		c.maxRetryAttempts,
		c.retryBackoff,
	)
}

func intFromEnv(key string, fallback int) (int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback, nil
	}

	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s (%s)", ErrInvalidValue, key, raw)
	}
	if value <= 0 {
		return 0, fmt.Errorf("%w: %s must be positive (%s)", ErrInvalidValue, key, raw)
	}
	return value, nil
}

func ttlOverridesFromEnv(key string) (map[string]time.Duration, error) {
	overrides := make(map[string]time.Duration)

	raw := os.Getenv(key)
	if raw == "" {
		return overrides, nil
	}

	for _, pair := range strings.Split(raw, ",") {
		class, rawSeconds, found := strings.Cut(strings.TrimSpace(pair), "=")
		if !found || class == "" {
			return nil, fmt.Errorf("%w: %s (%s)", ErrInvalidValue, key, pair)
		}
		seconds, err := strconv.Atoi(rawSeconds)
		if err != nil || seconds <= 0 {
			return nil, fmt.Errorf("%w: %s (%s)", ErrInvalidValue, key, pair)
		}
		overrides[class] = time.Duration(seconds) * time.Second
	}

	return overrides, nil
}

func ConfigFromEnv() (Config, error) {
	missingKey := func(key string) (Config, error) {
		return Config{}, fmt.Errorf("%w: %s", ErrMissingRequiredValue, key)
	}

	var env environment
	rawEnv, ok := os.LookupEnv("SEGMENTPOOL_ENVIRONMENT")
	if !ok {
		return missingKey("SEGMENTPOOL_ENVIRONMENT")
	}
	switch rawEnv {
	case "production":
		env = production
	case "staging":
		env = staging
	case "development":
		env = development
	default:
		return Config{}, fmt.Errorf("%w: SEGMENTPOOL_ENVIRONMENT (%s)", ErrInvalidValue, rawEnv)
	}

	inventoryURL := os.Getenv("INVENTORY_URL")
	inventoryToken := os.Getenv("INVENTORY_TOKEN")
	sentryDSN := os.Getenv("SENTRY_DSN")
	dbUsername := os.Getenv("DB_USERNAME")
	dbPassword := os.Getenv("DB_PASSWORD")
	dbHost := os.Getenv("DB_HOST")

	if env == production || env == staging {
		if inventoryURL == "" {
			return missingKey("INVENTORY_URL")
		}
		if inventoryToken == "" {
			return missingKey("INVENTORY_TOKEN")
		}
		if sentryDSN == "" {
			return missingKey("SENTRY_DSN")
		}
		if dbUsername == "" {
			return missingKey("DB_USERNAME")
		}
		if dbPassword == "" {
			return missingKey("DB_PASSWORD")
		}
		if dbHost == "" {
			return missingKey("DB_HOST")
		}
	}

	readPoolSize, err := intFromEnv("READ_POOL_SIZE", defaultReadPoolSize)
	if err != nil {
		return Config{}, err
	}
	writePoolSize, err := intFromEnv("WRITE_POOL_SIZE", defaultWritePoolSize)
	if err != nil {
		return Config{}, err
	}

	slowMS, err := intFromEnv("SLOW_CALL_THRESHOLD_MS", defaultSlowCallThresholdMS)
	if err != nil {
		return Config{}, err
	}
	severeMS, err := intFromEnv("SEVERE_CALL_THRESHOLD_MS", defaultSevereCallThresholdMS)
	if err != nil {
		return Config{}, err
	}
	if severeMS < slowMS {
		return Config{}, fmt.Errorf("%w: SEVERE_CALL_THRESHOLD_MS (%d) below SLOW_CALL_THRESHOLD_MS (%d)", ErrInvalidValue, severeMS, slowMS)
	}

	maxRetryAttempts, err := intFromEnv("MAX_RETRY_ATTEMPTS", defaultMaxRetryAttempts)
	if err != nil {
		return Config{}, err
	}
	retryBackoffMS, err := intFromEnv("RETRY_BACKOFF_MS", defaultRetryBackoffMS)
	if err != nil {
		return Config{}, err
	}

	ratePerSecond, err := intFromEnv("INVENTORY_RATE_PER_SECOND", defaultInventoryRatePerSecond)
	if err != nil {
		return Config{}, err
	}
	rateBurst, err := intFromEnv("INVENTORY_RATE_BURST", defaultInventoryRateBurst)
	if err != nil {
		return Config{}, err
	}

	cacheTTLOverrides, err := ttlOverridesFromEnv("CACHE_TTL_OVERRIDES")
	if err != nil {
		return Config{}, err
	}

	return Config{
		inventoryURL:           inventoryURL,
		inventoryToken:         inventoryToken,
		sentryDSN:              sentryDSN,
		dBUsername:             dbUsername,
		dBPassword:             dbPassword,
		dBHost:                 dbHost,
		readPoolSize:           readPoolSize,
		writePoolSize:          writePoolSize,
		slowCallThreshold:      time.Duration(slowMS) * time.Millisecond,
		severeCallThreshold:    time.Duration(severeMS) * time.Millisecond,
		maxRetryAttempts:       maxRetryAttempts,
		retryBackoff:           time.Duration(retryBackoffMS) * time.Millisecond,
		inventoryRatePerSecond: ratePerSecond,
		inventoryRateBurst:     rateBurst,
		cacheTTLOverrides:      cacheTTLOverrides,
		env:                    env,
	}, nil
}
