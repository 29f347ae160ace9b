package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// HTTP Server
	Port         string
	CookieSecure bool
	// TrustedProxies are CIDRs, beyond the private ranges, whose
	// forwarding headers name the real client.
	TrustedProxies []string

	// Billing REST API
	BillingAPIURL     string
	BillingAPITimeout time.Duration

	// Identity provider
	IdentityBackend    string
	FirebaseAPIKey     string
	IdentitySigningKey string

	// Sessions
	SessionBackend string
	SessionTTL     time.Duration

	// Database
	SQLiteDBPath string

	// AMQP (optional)
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Caching and limits
	CacheTTL           time.Duration
	RateLimitPerMinute int

	// Logging
	LogLevel  string
	LogFormat string
}

const defaultSigningKey = "billing-dev-signing-key"

func Load() *Config {
	cfg := &Config{
		Port:           getEnv("PORT", "8081"),
		CookieSecure:   getEnvBool("COOKIE_SECURE", false),
		TrustedProxies: getEnvList("TRUSTED_PROXIES"),

		BillingAPIURL:     getEnv("BILLING_API_URL", "http://127.0.0.1:5000"),
		BillingAPITimeout: getEnvDuration("BILLING_API_TIMEOUT", 10*time.Second),

		IdentityBackend:    getEnv("IDENTITY_BACKEND", "memory"),
		FirebaseAPIKey:     getEnv("FIREBASE_API_KEY", ""),
		IdentitySigningKey: getEnv("IDENTITY_SIGNING_KEY", defaultSigningKey),

		SessionBackend: getEnv("SESSION_BACKEND", "memory"),
		SessionTTL:     getEnvDuration("SESSION_TTL", 24*time.Hour),

		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/billing.db"),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "billing"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "bill_events"),

		CacheTTL:           getEnvDuration("CACHE_TTL", 30*time.Second),
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 60),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}

	return cfg
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	// Validate port
	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	for _, cidr := range c.TrustedProxies {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			errors = append(errors, fmt.Sprintf("invalid trusted proxy '%s': must be a CIDR such as 203.0.113.0/24", cidr))
		}
	}

	// Validate billing API
	if c.BillingAPIURL == "" {
		errors = append(errors, "billing API URL cannot be empty")
	} else if parsedURL, err := url.Parse(c.BillingAPIURL); err != nil {
		errors = append(errors, fmt.Sprintf("invalid billing API URL '%s': %v", c.BillingAPIURL, err))
	} else if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		errors = append(errors, fmt.Sprintf("invalid billing API URL scheme '%s': must be 'http' or 'https'", parsedURL.Scheme))
	} else if parsedURL.Host == "" {
		errors = append(errors, fmt.Sprintf("invalid billing API URL '%s': missing host", c.BillingAPIURL))
	}

	if c.BillingAPITimeout < time.Second {
		errors = append(errors, fmt.Sprintf("invalid billing API timeout %v: must be at least 1 second", c.BillingAPITimeout))
	} else if c.BillingAPITimeout > 2*time.Minute {
		errors = append(errors, fmt.Sprintf("invalid billing API timeout %v: must be at most 2 minutes", c.BillingAPITimeout))
	}

	// Validate identity backend
	if !contains(IdentityBackends, c.IdentityBackend) {
		errors = append(errors, fmt.Sprintf("invalid identity backend '%s': must be one of %v", c.IdentityBackend, IdentityBackends))
	}
	if c.IdentityBackend == "firebase" && c.FirebaseAPIKey == "" {
		errors = append(errors, "FIREBASE_API_KEY is required when using firebase identity backend")
	}
	if c.IdentityBackend == "memory" && len(c.IdentitySigningKey) < 16 {
		errors = append(errors, "identity signing key must be at least 16 characters")
	}

	// Validate session backend
	if !contains(SessionBackends, c.SessionBackend) {
		errors = append(errors, fmt.Sprintf("invalid session backend '%s': must be one of %v", c.SessionBackend, SessionBackends))
	}

	if c.SessionTTL < 5*time.Minute {
		errors = append(errors, fmt.Sprintf("invalid session TTL %v: must be at least 5 minutes", c.SessionTTL))
	} else if c.SessionTTL > 720*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid session TTL %v: must be at most 720 hours", c.SessionTTL))
	}

	// The SQLite file always holds the bill event history; sessions too with
	// the sqlite session backend.
	if c.SQLiteDBPath == "" {
		errors = append(errors, "SQLite database path cannot be empty")
	} else {
		// Check if directory exists or can be created
		dir := filepath.Dir(c.SQLiteDBPath)
		if dir != "." && dir != "" {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				if err := os.MkdirAll(dir, 0755); err != nil {
					errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
				}
			}
		}
	}

	// Validate AMQP URL if provided
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}

		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if c.CacheTTL < 0 {
		errors = append(errors, fmt.Sprintf("invalid cache TTL %v: must not be negative", c.CacheTTL))
	} else if c.CacheTTL > time.Hour {
		errors = append(errors, fmt.Sprintf("invalid cache TTL %v: must be at most 1 hour", c.CacheTTL))
	}

	if c.RateLimitPerMinute < 1 {
		errors = append(errors, fmt.Sprintf("invalid rate limit %d: must be at least 1", c.RateLimitPerMinute))
	} else if c.RateLimitPerMinute > 10000 {
		errors = append(errors, fmt.Sprintf("invalid rate limit %d: must be at most 10000", c.RateLimitPerMinute))
	}

	if !contains(LogLevels, strings.ToLower(c.LogLevel)) {
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be one of %v", c.LogLevel, LogLevels))
	}
	if !contains(LogFormats, strings.ToLower(c.LogFormat)) {
		errors = append(errors, fmt.Sprintf("invalid log format '%s': must be one of %v", c.LogFormat, LogFormats))
	}

	// Return combined errors
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// Addr returns the listen address for the HTTP server.
func (c *Config) Addr() string {
	return ":" + c.Port
}

// EventsEnabled reports whether bill events go through a message broker.
func (c *Config) EventsEnabled() bool {
	return c.AMQPURL != ""
}

var (
	IdentityBackends = []string{"memory", "firebase"}
	SessionBackends  = []string{"memory", "sqlite"}
	LogLevels        = []string{"debug", "info", "warn", "error"}
	LogFormats       = []string{"text", "json"}
)

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvList splits a comma-separated variable, skipping empty items.
func getEnvList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
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
