package events

import (
	"context"
	"fmt"
	"time"

	"billing/internal/log"
	"billing/internal/storage"
)

// PublishTimeout bounds a single publish.
const PublishTimeout = 5 * time.Second

// Publisher sends bill events somewhere durable.
type Publisher interface {
	Publish(ctx context.Context, e BillEvent) error
	Close() error
}

// Store is the event history kept per user.
type Store interface {
	Record(ctx context.Context, e storage.Event) error
	DeleteUserEvents(ctx context.Context, userID string) (int64, error)
}

// Noop drops every event.
type Noop struct{}

func (Noop) Publish(context.Context, BillEvent) error { return nil }
func (Noop) Close() error                             { return nil }

// StorePublisher applies events straight to the event store. It is used when
// no broker is configured.
type StorePublisher struct {
	apply Handler
}

func NewStorePublisher(store Store) *StorePublisher {
	return &StorePublisher{apply: HistoryHandler(store)}
}

func (p *StorePublisher) Publish(ctx context.Context, e BillEvent) error {
	if err := e.Validate(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, PublishTimeout)
	defer cancel()
	return p.apply(ctx, e)
}

func (p *StorePublisher) Close() error { return nil }

// HistoryHandler returns a handler that appends bill events to the store.
// An account deletion wipes that user's history instead.
func HistoryHandler(store Store) Handler {
	return func(ctx context.Context, e BillEvent) error {
		if e.Type == AccountDeleted {
			_, err := store.DeleteUserEvents(ctx, e.UserID)
			return err
		}
		return store.Record(ctx, e.Record())
	}
}

// PublishAsync publishes e in the background. Failures are logged and never
// reach the caller.
func PublishAsync(ctx context.Context, p Publisher, e BillEvent, logger *log.Logger) {
	if p == nil {
		return
	}
	if logger == nil {
		logger = log.Discard()
	}
	ctx = context.WithoutCancel(ctx)
	go func() {
		ctx, cancel := context.WithTimeout(ctx, PublishTimeout)
		defer cancel()
		if err := p.Publish(ctx, e); err != nil {
			logger.WarnContext(ctx, "Bill event not published",
				log.FieldEventID, e.ID,
				log.FieldEventType, string(e.Type),
				log.FieldUserID, e.UserID,
				log.FieldError, err)
			return
		}
		logger.DebugContext(ctx, "Bill event published",
			log.FieldEventID, e.ID,
			log.FieldEventType, string(e.Type))
	}()
}
