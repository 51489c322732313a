package models

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a shipment, order or summary does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateTrackingID is returned by stores when an insert collides on id.
	ErrDuplicateTrackingID = errors.New("duplicate tracking id")
	// ErrCollisionRetryExhausted is returned when no unique tracking id could be drawn.
	ErrCollisionRetryExhausted = errors.New("tracking id collision retries exhausted")
)

// ValidationError reports a missing or malformed identifier on a direct request.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}
