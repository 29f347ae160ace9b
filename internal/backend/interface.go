package backend

import (
	"context"
	"errors"

	"billing/internal/events"
	"billing/internal/identity"
	"billing/internal/session"
	"billing/internal/storage"
)

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// Check is a named readiness probe.
type Check struct {
	Name string
	Fn   func(ctx context.Context) error
}

// Result holds the components the web server runs on.
type Result struct {
	DB       *storage.DB
	Identity identity.Provider
	Sessions session.Store
	Events   events.Publisher
	Checks   []Check

	cleanups []CleanupFunc
}

// Close releases resources in reverse order of creation.
func (r *Result) Close() error {
	var errs []error
	for i := len(r.cleanups) - 1; i >= 0; i-- {
		if err := r.cleanups[i](); err != nil {
			errs = append(errs, err)
		}
	}
	r.cleanups = nil
	return errors.Join(errs...)
}

func (r *Result) onClose(fn CleanupFunc) {
	r.cleanups = append(r.cleanups, fn)
}

// Factory creates backends based on configuration
type Factory interface {
	// Create opens the database and builds the identity provider, the session
	// store and the event publisher.
	Create(ctx context.Context, config Config) (*Result, error)
}

// Config holds configuration for backend creation
type Config struct {
	Identity       IdentityType
	FirebaseAPIKey string
	SigningKey     string

	Sessions     SessionType
	SQLiteDBPath string

	// Optional event bus
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string
}

// IdentityType selects the identity provider
type IdentityType string

const (
	MemoryIdentity   IdentityType = "memory"
	FirebaseIdentity IdentityType = "firebase"
)

func (t IdentityType) String() string {
	return string(t)
}

// IsValid returns true if the identity backend is known
func (t IdentityType) IsValid() bool {
	switch t {
	case MemoryIdentity, FirebaseIdentity:
		return true
	default:
		return false
	}
}

// SessionType selects where sessions are stored
type SessionType string

const (
	MemorySessions SessionType = "memory"
	SQLiteSessions SessionType = "sqlite"
)

func (t SessionType) String() string {
	return string(t)
}

// IsValid returns true if the session backend is known
func (t SessionType) IsValid() bool {
	switch t {
	case MemorySessions, SQLiteSessions:
		return true
	default:
		return false
	}
}
