package storage

import (
	"context"
	"fmt"
	"time"

	"billing/internal/log"
)

// DefaultRecentLimit is used when RecentEvents gets a non-positive limit.
const DefaultRecentLimit = 20

// Event is a row of the bill event log.
type Event struct {
	ID           string
	Type         string
	UserID       string
	Email        string
	BillID       string
	CustomerName string
	Amount       string
	OccurredAt   time.Time
	RecordedAt   time.Time
}

// Record appends an event. Recording the same event id twice is a no-op so
// redelivered messages do not duplicate history.
func (d *DB) Record(ctx context.Context, e Event) error {
	if e.ID == "" {
		return fmt.Errorf("record event: missing id")
	}
	if e.RecordedAt.IsZero() {
		e.RecordedAt = time.Now()
	}

	res, err := d.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO bill_events
			(id, type, user_id, email, bill_id, customer_name, amount, occurred_at, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Type, e.UserID, e.Email, e.BillID, e.CustomerName, e.Amount,
		e.OccurredAt.UnixNano(), e.RecordedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("record event %s: %w", e.ID, err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		d.logger.DebugContext(ctx, "Duplicate event ignored", log.FieldEventID, e.ID)
		return nil
	}
	d.logger.DebugContext(ctx, "Event recorded",
		log.FieldEventID, e.ID,
		log.FieldEventType, e.Type,
		log.FieldUserID, e.UserID)
	return nil
}

// RecentEvents returns the newest events of a user, newest first.
func (d *DB) RecentEvents(ctx context.Context, userID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}

	rows, err := d.db.QueryContext(ctx, `
		SELECT id, type, user_id, email, bill_id, customer_name, amount, occurred_at, recorded_at
		FROM bill_events
		WHERE user_id = ?
		ORDER BY occurred_at DESC, recorded_at DESC
		LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent events: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var (
			e                    Event
			occurred, recordedAt int64
		)
		if err := rows.Scan(&e.ID, &e.Type, &e.UserID, &e.Email, &e.BillID,
			&e.CustomerName, &e.Amount, &occurred, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.OccurredAt = time.Unix(0, occurred)
		e.RecordedAt = time.Unix(0, recordedAt)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// DeleteUserEvents removes a user's history, used when the account goes away.
func (d *DB) DeleteUserEvents(ctx context.Context, userID string) (int64, error) {
	res, err := d.db.ExecContext(ctx, `DELETE FROM bill_events WHERE user_id = ?`, userID)
	if err != nil {
		return 0, fmt.Errorf("delete events of %s: %w", userID, err)
	}
	return res.RowsAffected()
}
