// Package events carries bill change notifications from the web server to the
// worker that keeps each user's activity history.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"billing/internal/core"
	"billing/internal/storage"
)

// Type names a change.
type Type string

const (
	BillCreated    Type = "bill.created"
	BillUpdated    Type = "bill.updated"
	BillDeleted    Type = "bill.deleted"
	AccountDeleted Type = "account.deleted"
)

func (t Type) Valid() bool {
	switch t {
	case BillCreated, BillUpdated, BillDeleted, AccountDeleted:
		return true
	}
	return false
}

// Label is the short past-tense verb shown in the activity feed.
func (t Type) Label() string {
	switch t {
	case BillCreated:
		return "Added"
	case BillUpdated:
		return "Updated"
	case BillDeleted:
		return "Deleted"
	case AccountDeleted:
		return "Account deleted"
	}
	return string(t)
}

// BillEvent is one change made by a user.
type BillEvent struct {
	ID           string    `json:"id"`
	Type         Type      `json:"type"`
	UserID       string    `json:"user_id"`
	Email        string    `json:"email,omitempty"`
	BillID       string    `json:"bill_id,omitempty"`
	CustomerName string    `json:"customer_name,omitempty"`
	Amount       string    `json:"amount,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// NewBillEvent stamps an event for a bill change. billID may be empty when
// the API did not return one.
func NewBillEvent(t Type, userID, email, billID string, in core.BillInput) BillEvent {
	return BillEvent{
		ID:           uuid.NewString(),
		Type:         t,
		UserID:       userID,
		Email:        email,
		BillID:       billID,
		CustomerName: in.Name,
		Amount:       in.Amount,
		OccurredAt:   time.Now().UTC(),
	}
}

// NewAccountDeleted stamps the event sent when a user removes their account.
func NewAccountDeleted(userID, email string) BillEvent {
	return BillEvent{
		ID:         uuid.NewString(),
		Type:       AccountDeleted,
		UserID:     userID,
		Email:      email,
		OccurredAt: time.Now().UTC(),
	}
}

func (e BillEvent) Validate() error {
	var errs []error
	if e.ID == "" {
		errs = append(errs, errors.New("missing id"))
	}
	if !e.Type.Valid() {
		errs = append(errs, fmt.Errorf("unknown type %q", e.Type))
	}
	if e.UserID == "" {
		errs = append(errs, errors.New("missing user id"))
	}
	return errors.Join(errs...)
}

func (e BillEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON decodes and validates an event.
func FromJSON(data []byte) (BillEvent, error) {
	var e BillEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return BillEvent{}, err
	}
	if err := e.Validate(); err != nil {
		return BillEvent{}, fmt.Errorf("invalid event: %w", err)
	}
	return e, nil
}

// Record converts the event to its stored form.
func (e BillEvent) Record() storage.Event {
	return storage.Event{
		ID:           e.ID,
		Type:         string(e.Type),
		UserID:       e.UserID,
		Email:        e.Email,
		BillID:       e.BillID,
		CustomerName: e.CustomerName,
		Amount:       e.Amount,
		OccurredAt:   e.OccurredAt,
	}
}
