package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"billing/internal/core"
)

// Credentials is the body of the signup and login calls.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthStatus is the /check-auth response.
type AuthStatus struct {
	Authenticated bool `json:"authenticated"`
	User          struct {
		Email string `json:"email"`
		UID   string `json:"uid,omitempty"`
	} `json:"user"`
}

// Ack is an acknowledgement such as {"message": "Bill added successfully"}.
// Raw keeps the whole body since some deployments return the record instead.
type Ack struct {
	Message string
	Raw     json.RawMessage
}

func (a *Ack) UnmarshalJSON(data []byte) error {
	a.Raw = append(json.RawMessage(nil), data...)
	var body struct {
		Message string `json:"message"`
	}
	// Non-object bodies are still a valid acknowledgement.
	if err := json.Unmarshal(data, &body); err == nil {
		a.Message = body.Message
	}
	return nil
}

// ID returns the record id when the acknowledgement carries one, as a number
// or a string, else "".
func (a Ack) ID() string {
	var body struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(a.Raw, &body); err != nil || len(body.ID) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(body.ID, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(body.ID, &n); err == nil {
		return n.String()
	}
	return ""
}

// DeleteAccountResult is the /delete-account response.
type DeleteAccountResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func (c *Client) SignUp(ctx context.Context, creds Credentials) (map[string]any, error) {
	var out map[string]any
	if err := c.Do(ctx, http.MethodPost, "/signup", creds, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Login(ctx context.Context, creds Credentials) (map[string]any, error) {
	var out map[string]any
	if err := c.Do(ctx, http.MethodPost, "/login", creds, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Logout(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	if err := c.Do(ctx, http.MethodPost, "/logout", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CheckAuth(ctx context.Context) (AuthStatus, error) {
	var out AuthStatus
	err := c.Do(ctx, http.MethodGet, "/check-auth", nil, nil, &out)
	return out, err
}

// ListBills returns the signed-in user's bills. Empty, null and 204
// responses are an empty list.
func (c *Client) ListBills(ctx context.Context) ([]core.BillingRecord, error) {
	var raw json.RawMessage
	if err := c.Do(ctx, http.MethodGet, "/get_bills", nil, nil, &raw); err != nil {
		return nil, err
	}
	out := []core.BillingRecord{}
	switch string(bytes.TrimSpace(raw)) {
	case "{}", "null", "":
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("GET /get_bills: decode response: %w", err)
	}
	return out, nil
}

func (c *Client) AddBill(ctx context.Context, in core.BillInput) (Ack, error) {
	var out Ack
	err := c.Do(ctx, http.MethodPost, "/add_bill", in, nil, &out)
	return out, err
}

func (c *Client) UpdateBill(ctx context.Context, id string, in core.BillInput) (Ack, error) {
	var out Ack
	err := c.Do(ctx, http.MethodPut, billPath("/update_bill/", id), in, nil, &out)
	return out, err
}

func (c *Client) DeleteBill(ctx context.Context, id string) (Ack, error) {
	var out Ack
	err := c.Do(ctx, http.MethodDelete, billPath("/delete_bill/", id), nil, nil, &out)
	return out, err
}

func (c *Client) UserStats(ctx context.Context) (core.UserStats, error) {
	var out core.UserStats
	err := c.Do(ctx, http.MethodGet, "/user-stats", nil, nil, &out)
	return out, err
}

// AdminData returns the privileged all-users dump as raw JSON.
func (c *Client) AdminData(ctx context.Context) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.Do(ctx, http.MethodGet, "/admin/view-all-data", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) DeleteAccount(ctx context.Context) (DeleteAccountResult, error) {
	var out DeleteAccountResult
	err := c.Do(ctx, http.MethodDelete, "/delete-account", nil, nil, &out)
	return out, err
}
