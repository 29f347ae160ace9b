package core

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBillingRecordDecode(t *testing.T) {
	tests := []struct {
		name string
		body string
		want BillingRecord
	}{
		{
			name: "numeric id and amount with RFC1123 date",
			body: `{"id": 7, "name": "Jane Roe", "contact": "9876543210", "email": "jane@gmail.com", "amount": 500.00, "date": "Tue, 14 Jan 2025 15:04:05 GMT"}`,
			want: BillingRecord{
				ID: "7", Name: "Jane Roe", Contact: "9876543210", Email: "jane@gmail.com", Amount: "500.00",
				Date: time.Date(2025, 1, 14, 15, 4, 5, 0, time.UTC),
			},
		},
		{
			name: "string id and amount with RFC3339 date",
			body: `{"id": "b-1", "name": "Ann", "amount": "12", "date": "2025-03-01T09:30:00Z"}`,
			want: BillingRecord{ID: "b-1", Name: "Ann", Amount: "12", Date: time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)},
		},
		{
			name: "missing amount and unknown date",
			body: `{"id": 1, "name": "Bob", "amount": null, "date": "yesterday"}`,
			want: BillingRecord{ID: "1", Name: "Bob"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got BillingRecord
			require.NoError(t, json.Unmarshal([]byte(tt.body), &got))
			assert.Equal(t, tt.want.ID, got.ID)
			assert.Equal(t, tt.want.Name, got.Name)
			assert.Equal(t, tt.want.Amount, got.Amount)
			assert.True(t, tt.want.Date.Equal(got.Date), "date %v != %v", tt.want.Date, got.Date)
		})
	}
}

func TestBillingRecordDisplayDate(t *testing.T) {
	r := BillingRecord{Date: time.Date(2025, 1, 4, 15, 7, 0, 0, time.UTC)}
	assert.Equal(t, "01/04/2025, 3:07 PM", r.DisplayDate())

	r.Date = time.Date(2025, 11, 20, 0, 5, 0, 0, time.UTC)
	assert.Equal(t, "11/20/2025, 12:05 AM", r.DisplayDate())

	assert.Empty(t, BillingRecord{}.DisplayDate())
}

func TestBillingRecordEncodeDecode(t *testing.T) {
	in := BillingRecord{ID: "3", Name: "Ann", Contact: "1234567890", Email: "ann@gmail.com", Amount: "42",
		Date: time.Date(2025, 2, 2, 8, 0, 0, 0, time.UTC)}

	data, err := json.Marshal(in)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"3","name":"Ann","contact":"1234567890","email":"ann@gmail.com","amount":"42","date":"2025-02-02T08:00:00Z"}`, string(data))

	var out BillingRecord
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, in.Input(), out.Input())
}

func TestUserStatsDecode(t *testing.T) {
	var s UserStats
	require.NoError(t, json.Unmarshal([]byte(`{"customer_count": 2, "bill_count": 3, "total_amount": "850.50"}`), &s))
	assert.Equal(t, UserStats{CustomerCount: 2, BillCount: 3, TotalAmount: 850.5}, s)
	assert.Equal(t, "850.50", s.FormattedTotal())

	require.NoError(t, json.Unmarshal([]byte(`{"customer_count": 0, "bill_count": 0, "total_amount": null}`), &s))
	assert.Equal(t, "0.00", s.FormattedTotal())
}
