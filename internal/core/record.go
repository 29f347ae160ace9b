package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// DisplayLayout renders dates the way the dashboard table shows them
// (month/day/year, 12 hour clock).
const DisplayLayout = "01/02/2006, 3:04 PM"

// dateLayouts are tried in order when decoding a record date.
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC1123,
	time.RFC1123Z,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

type (
	// BillingRecord is one customer billing entry held by the billing API.
	BillingRecord struct {
		ID      string    `json:"id"`
		Name    string    `json:"name"`
		Contact string    `json:"contact"`
		Email   string    `json:"email"`
		Amount  Amount    `json:"amount"`
		Date    time.Time `json:"-"`
	}

	// Amount is the textual amount of a record. The API may send it as a JSON
	// number or string; the text is kept as received.
	Amount string
)

// Float parses the amount. Empty, non-numeric and non-finite amounts are 0.
func (a Amount) Float() float64 {
	s := strings.TrimSpace(string(a))
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

func (a Amount) String() string { return string(a) }

// UnmarshalJSON accepts numbers, strings and null.
func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*a = ""
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decode amount: %w", err)
		}
		*a = Amount(s)
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			// Anything else (bool, object) carries no amount.
			*a = ""
			return nil
		}
		*a = Amount(n.String())
	}
	return nil
}

type recordJSON struct {
	ID      json.RawMessage `json:"id"`
	Name    string          `json:"name"`
	Contact string          `json:"contact"`
	Email   string          `json:"email"`
	Amount  Amount          `json:"amount"`
	Date    string          `json:"date,omitempty"`
}

// UnmarshalJSON decodes a record whose id may be numeric and whose date may
// use any of the layouts the API is known to emit.
func (r *BillingRecord) UnmarshalJSON(data []byte) error {
	var raw recordJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = BillingRecord{
		ID:      decodeID(raw.ID),
		Name:    raw.Name,
		Contact: raw.Contact,
		Email:   raw.Email,
		Amount:  raw.Amount,
		Date:    ParseDate(raw.Date),
	}
	return nil
}

// MarshalJSON encodes the record with an RFC3339 date.
func (r BillingRecord) MarshalJSON() ([]byte, error) {
	id, _ := json.Marshal(r.ID)
	raw := recordJSON{
		ID:      id,
		Name:    r.Name,
		Contact: r.Contact,
		Email:   r.Email,
		Amount:  r.Amount,
	}
	if !r.Date.IsZero() {
		raw.Date = r.Date.Format(time.RFC3339)
	}
	return json.Marshal(raw)
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(a))
}

func decodeID(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	return string(raw)
}

// ParseDate decodes a record date. Unknown formats yield the zero time.
func ParseDate(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// DisplayDate renders the creation date for the bills table.
func (r BillingRecord) DisplayDate() string {
	if r.Date.IsZero() {
		return ""
	}
	return r.Date.Format(DisplayLayout)
}

// Input returns the editable fields of the record.
func (r BillingRecord) Input() BillInput {
	return BillInput{
		Name:    r.Name,
		Contact: r.Contact,
		Email:   r.Email,
		Amount:  string(r.Amount),
	}
}
