package backend

import (
	"context"
	"fmt"

	"billing/internal/events"
	"billing/internal/identity"
	"billing/internal/identity/firebase"
	"billing/internal/identity/memory"
	"billing/internal/log"
	"billing/internal/session"
	sqlitesessions "billing/internal/session/sqlite"
	"billing/internal/storage"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *log.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *log.Logger) Factory {
	if logger == nil {
		logger = log.Discard()
	}
	return &DefaultFactory{
		logger: logger.WithComponent(log.ComponentApp),
	}
}

// Create implements Factory.Create
func (f *DefaultFactory) Create(ctx context.Context, config Config) (*Result, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	db, err := storage.Open(config.SQLiteDBPath, f.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	res := &Result{DB: db}
	res.onClose(db.Close)
	res.Checks = append(res.Checks, Check{Name: "database", Fn: db.Ping})

	provider, err := f.createIdentity(ctx, config)
	if err != nil {
		_ = res.Close()
		return nil, err
	}
	res.Identity = provider

	switch config.Sessions {
	case SQLiteSessions:
		res.Sessions = sqlitesessions.New(db)
	default:
		res.Sessions = session.NewMemoryStore()
	}

	res.Events = f.createPublisher(config, db, res)
	res.onClose(res.Events.Close)

	f.logger.Info("Initialized backend",
		"identity", config.Identity.String(),
		"sessions", config.Sessions.String(),
		"db_path", config.SQLiteDBPath,
		"amqp_enabled", config.AMQPURL != "")

	return res, nil
}

func (f *DefaultFactory) createIdentity(ctx context.Context, config Config) (identity.Provider, error) {
	switch config.Identity {
	case FirebaseIdentity:
		p, err := firebase.New(ctx, config.FirebaseAPIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Firebase identity provider: %w", err)
		}
		return p, nil
	case MemoryIdentity:
		f.logger.Warn("Using in-memory identity provider, accounts are lost on restart")
		return memory.New(config.SigningKey), nil
	default:
		return nil, fmt.Errorf("unsupported identity backend: %s", config.Identity)
	}
}

// createPublisher prefers the broker. Without one, or when it cannot be
// reached, events are written straight to the history table.
func (f *DefaultFactory) createPublisher(config Config, db *storage.DB, res *Result) events.Publisher {
	if config.AMQPURL != "" {
		p, err := events.NewAMQPPublisher(config.AMQPURL, config.AMQPExchange, config.AMQPQueue, f.logger)
		if err == nil {
			res.Checks = append(res.Checks, Check{Name: "amqp", Fn: p.Check})
			f.logger.Info("Initialized AMQP publisher",
				"exchange", config.AMQPExchange,
				"queue", config.AMQPQueue)
			return p
		}
		f.logger.Warn("Failed to initialize AMQP publisher, recording events locally", log.FieldError, err)
	}
	return events.NewStorePublisher(db)
}
