package backend

import (
	"fmt"
	"strings"

	"billing/internal/config"
)

// FromAppConfig converts the application config to backend config
func FromAppConfig(appConfig *config.Config) (Config, error) {
	if appConfig == nil {
		return Config{}, fmt.Errorf("app config is nil")
	}

	identityType := IdentityType(appConfig.IdentityBackend)
	if !identityType.IsValid() {
		return Config{}, fmt.Errorf("invalid identity backend in config: %s (valid: %s)", appConfig.IdentityBackend, identityNames())
	}
	sessionType := SessionType(appConfig.SessionBackend)
	if !sessionType.IsValid() {
		return Config{}, fmt.Errorf("invalid session backend in config: %s (valid: %s)", appConfig.SessionBackend, sessionNames())
	}

	return Config{
		Identity:       identityType,
		FirebaseAPIKey: appConfig.FirebaseAPIKey,
		SigningKey:     appConfig.IdentitySigningKey,

		Sessions:     sessionType,
		SQLiteDBPath: appConfig.SQLiteDBPath,

		AMQPURL:      appConfig.AMQPURL,
		AMQPExchange: appConfig.AMQPExchange,
		AMQPQueue:    appConfig.AMQPQueue,
	}, nil
}

// Validate validates the backend configuration
func (c Config) Validate() error {
	if !c.Identity.IsValid() {
		return fmt.Errorf("invalid identity backend: %s (valid: %s)", c.Identity, identityNames())
	}
	if !c.Sessions.IsValid() {
		return fmt.Errorf("invalid session backend: %s (valid: %s)", c.Sessions, sessionNames())
	}

	switch c.Identity {
	case FirebaseIdentity:
		if c.FirebaseAPIKey == "" {
			return fmt.Errorf("Firebase API key is required for firebase identity backend")
		}
	case MemoryIdentity:
		if c.SigningKey == "" {
			return fmt.Errorf("signing key is required for memory identity backend")
		}
	}

	// Event history lives in the database whatever the session backend.
	if c.SQLiteDBPath == "" {
		return fmt.Errorf("SQLite database path is required")
	}

	// AMQP is optional; exchange and queue only matter when it is set.
	if c.AMQPURL != "" && (c.AMQPExchange == "" || c.AMQPQueue == "") {
		return fmt.Errorf("AMQP exchange and queue are required when AMQP URL is set")
	}

	return nil
}

// GetIdentityTypes returns all valid identity backends
func GetIdentityTypes() []IdentityType {
	return []IdentityType{MemoryIdentity, FirebaseIdentity}
}

// GetSessionTypes returns all valid session backends
func GetSessionTypes() []SessionType {
	return []SessionType{MemorySessions, SQLiteSessions}
}

func identityNames() string {
	var names []string
	for _, t := range GetIdentityTypes() {
		names = append(names, t.String())
	}
	return strings.Join(names, ", ")
}

func sessionNames() string {
	var names []string
	for _, t := range GetSessionTypes() {
		names = append(names, t.String())
	}
	return strings.Join(names, ", ")
}
