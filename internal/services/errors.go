package services

import (
	"errors"
	"fmt"

	"rateshop-service/internal/models"
)

// Sentinel errors callers map to HTTP statuses
var (
	ErrOrderNotFound       = errors.New("order not found")
	ErrLabelNotFound       = errors.New("label not found")
	ErrNoCarrierAccount    = errors.New("no enabled account for carrier")
	ErrOrderAlreadyShipped = errors.New("order already has a purchased label")
	ErrEstimatedPurchase   = errors.New("estimated rates cannot be purchased")
	ErrUnknownService      = errors.New("service code not offered by carrier")
	ErrPersistence         = errors.New("persistence failed")
)

// ValidationError carries field-level details for a rejected request
type ValidationError struct {
	Details  []models.FieldMessage
	Warnings []models.FieldMessage
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	if len(e.Details) == 1 {
		return fmt.Sprintf("validation failed: %s: %s", e.Details[0].Field, e.Details[0].Message)
	}
	return fmt.Sprintf("validation failed: %d invalid fields", len(e.Details))
}

// AsValidationError unwraps a ValidationError if err carries one
func AsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}
