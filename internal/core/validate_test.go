package core

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validInput() BillInput {
	return BillInput{Name: "John Doe", Contact: "1234567890", Email: "john@gmail.com", Amount: "150"}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(in *BillInput)
		wantErr error
	}{
		{name: "valid", mutate: func(in *BillInput) {}},
		{name: "missing name", mutate: func(in *BillInput) { in.Name = "" }, wantErr: ErrMissingFields},
		{name: "missing amount", mutate: func(in *BillInput) { in.Amount = "" }, wantErr: ErrMissingFields},
		{name: "two letter name", mutate: func(in *BillInput) { in.Name = "Jo" }, wantErr: ErrInvalidName},
		{name: "name with digits", mutate: func(in *BillInput) { in.Name = "John 2" }, wantErr: ErrInvalidName},
		{name: "name with punctuation", mutate: func(in *BillInput) { in.Name = "O'Brien" }, wantErr: ErrInvalidName},
		{name: "short contact", mutate: func(in *BillInput) { in.Contact = "12345" }, wantErr: ErrInvalidContact},
		{name: "contact with letters", mutate: func(in *BillInput) { in.Contact = "12345abcde" }, wantErr: ErrInvalidContact},
		{name: "eleven digit contact", mutate: func(in *BillInput) { in.Contact = "12345678901" }, wantErr: ErrInvalidContact},
		{name: "wrong email domain", mutate: func(in *BillInput) { in.Email = "a@b.com" }, wantErr: ErrInvalidEmail},
		{name: "gmail lookalike", mutate: func(in *BillInput) { in.Email = "a@gmail.co" }, wantErr: ErrInvalidEmail},
		{name: "gmail email", mutate: func(in *BillInput) { in.Email = "a@gmail.com" }},
		{name: "zero amount", mutate: func(in *BillInput) { in.Amount = "0" }, wantErr: ErrInvalidAmount},
		{name: "zero padded zero", mutate: func(in *BillInput) { in.Amount = "000" }, wantErr: ErrInvalidAmount},
		{name: "negative amount", mutate: func(in *BillInput) { in.Amount = "-5" }, wantErr: ErrInvalidAmount},
		{name: "fractional amount", mutate: func(in *BillInput) { in.Amount = "10.50" }, wantErr: ErrInvalidAmount},
		{name: "huge amount", mutate: func(in *BillInput) { in.Amount = "123456789012345678901234567890" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validInput()
			tt.mutate(&in)
			err := Validate(in)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.wantErr.Error(), err.Error())
		})
	}
}

func TestValidateStopsAtFirstFailure(t *testing.T) {
	err := Validate(BillInput{Name: "Jo", Contact: "1", Email: "x@y.z", Amount: "-1"})

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, FieldName, verr.Field)
	assert.ErrorIs(t, err, ErrInvalidName)

	err = Validate(BillInput{Name: "Jane Roe", Contact: "1", Email: "x@y.z", Amount: "-1"})
	assert.ErrorIs(t, err, ErrInvalidContact)
}

func TestValidationMessage(t *testing.T) {
	assert.Equal(t, "Contact must be exactly 10 digits",
		ValidationMessage(Validate(BillInput{Name: "Jane Roe", Contact: "1", Email: "j@gmail.com", Amount: "1"})))
	assert.Empty(t, ValidationMessage(errors.New("boom")))
	assert.Empty(t, ValidationMessage(nil))
}
