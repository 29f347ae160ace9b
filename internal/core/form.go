package core

import (
	"net/url"
	"strings"
)

// Form field names shared by the HTML form and FormState.Set.
const (
	FieldName      = "name"
	FieldContact   = "contact"
	FieldEmail     = "email"
	FieldAmount    = "amount"
	FieldEditingID = "editing_id"
)

// BillInput is the body of the add and update calls.
type BillInput struct {
	Name    string `json:"name"`
	Contact string `json:"contact"`
	Email   string `json:"email"`
	Amount  string `json:"amount"`
}

// FormState is the bill form view-model. It is a plain value: every
// transition returns a new state and never mutates the receiver.
// A non-empty EditingID puts the form in update mode for that record.
type FormState struct {
	Name      string
	Contact   string
	Email     string
	Amount    string
	EditingID string
}

// NewFormState returns an empty form in create mode.
func NewFormState() FormState {
	return FormState{}
}

// FormStateFromValues rebuilds the state from a submitted form.
func FormStateFromValues(v url.Values) FormState {
	return FormState{
		Name:      strings.TrimSpace(v.Get(FieldName)),
		Contact:   strings.TrimSpace(v.Get(FieldContact)),
		Email:     strings.TrimSpace(v.Get(FieldEmail)),
		Amount:    strings.TrimSpace(v.Get(FieldAmount)),
		EditingID: strings.TrimSpace(v.Get(FieldEditingID)),
	}
}

// Set returns the state with one field changed. Unknown fields are ignored.
func (f FormState) Set(field, value string) FormState {
	switch field {
	case FieldName:
		f.Name = value
	case FieldContact:
		f.Contact = value
	case FieldEmail:
		f.Email = value
	case FieldAmount:
		f.Amount = value
	}
	return f
}

// Edit loads a record into the form and switches to update mode.
func (f FormState) Edit(r BillingRecord) FormState {
	return FormState{
		Name:      r.Name,
		Contact:   r.Contact,
		Email:     r.Email,
		Amount:    string(r.Amount),
		EditingID: r.ID,
	}
}

// Reset clears the form after a successful create or update.
func (f FormState) Reset() FormState {
	return NewFormState()
}

// Cancel abandons an edit.
func (f FormState) Cancel() FormState {
	return NewFormState()
}

// Editing reports whether the form targets an existing record.
func (f FormState) Editing() bool {
	return f.EditingID != ""
}

// Input returns the request body for the current fields.
func (f FormState) Input() BillInput {
	return BillInput{
		Name:    f.Name,
		Contact: f.Contact,
		Email:   f.Email,
		Amount:  f.Amount,
	}
}

// Values encodes the state as form values, the inverse of FormStateFromValues.
func (f FormState) Values() url.Values {
	v := url.Values{}
	v.Set(FieldName, f.Name)
	v.Set(FieldContact, f.Contact)
	v.Set(FieldEmail, f.Email)
	v.Set(FieldAmount, f.Amount)
	if f.EditingID != "" {
		v.Set(FieldEditingID, f.EditingID)
	}
	return v
}
