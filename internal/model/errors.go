package model

import "strings"

// ValidationError reports bad order input. Reason is shown to the caller verbatim.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

func NewValidationError(reason string) *ValidationError {
	return &ValidationError{Reason: reason}
}

const MaxItemLength = 255

// ValidateOrder checks the persisted constraints of an order: a non-empty trimmed
// item and a quantity of at least one.
func ValidateOrder(item string, quantity int) error {
	item = strings.TrimSpace(item)
	if item == "" {
		return NewValidationError("item must be a non-empty string")
	}
	if len(item) > MaxItemLength {
		return NewValidationError("item is too long")
	}
	if quantity <= 0 {
		return NewValidationError("quantity must be > 0")
	}
	return nil
}
