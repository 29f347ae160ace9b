package core

import (
	"errors"
	"regexp"
	"strconv"
)

var (
	ErrMissingFields  = errors.New("Please fill in all fields")
	ErrInvalidName    = errors.New("Name must be at least 3 letters or spaces")
	ErrInvalidContact = errors.New("Contact must be exactly 10 digits")
	ErrInvalidEmail   = errors.New("Email must be a valid @gmail.com address")
	ErrInvalidAmount  = errors.New("Amount must be a whole number greater than zero")
)

var (
	namePattern    = regexp.MustCompile(`^[A-Za-z\s]{3,}$`)
	contactPattern = regexp.MustCompile(`^\d{10}$`)
	emailPattern   = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@gmail\.com$`)
	amountPattern  = regexp.MustCompile(`^\d+$`)
)

// ValidationError names the field that failed and the rule it broke.
// Field is empty when the form is incomplete.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string { return e.Err.Error() }

func (e *ValidationError) Unwrap() error { return e.Err }

// Validate checks a bill before it is sent to the API. Rules run in order
// (completeness, name, contact, email, amount) and the first failure is
// returned. Create and update share these rules.
func Validate(in BillInput) error {
	if in.Name == "" || in.Contact == "" || in.Email == "" || in.Amount == "" {
		return &ValidationError{Err: ErrMissingFields}
	}
	if !namePattern.MatchString(in.Name) {
		return &ValidationError{Field: FieldName, Err: ErrInvalidName}
	}
	if !contactPattern.MatchString(in.Contact) {
		return &ValidationError{Field: FieldContact, Err: ErrInvalidContact}
	}
	if !emailPattern.MatchString(in.Email) {
		return &ValidationError{Field: FieldEmail, Err: ErrInvalidEmail}
	}
	if !validAmount(in.Amount) {
		return &ValidationError{Field: FieldAmount, Err: ErrInvalidAmount}
	}
	return nil
}

func validAmount(s string) bool {
	if !amountPattern.MatchString(s) {
		return false
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		// All digits but too large for uint64: still a positive integer.
		return true
	}
	return n > 0
}

// ValidationMessage returns the user-facing message for err, or "" when err
// is not a validation error.
func ValidationMessage(err error) string {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.Error()
	}
	return ""
}
