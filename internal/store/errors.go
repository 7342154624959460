package store

import (
	"errors"
	"fmt"
)

var (
	ErrValidation         = errors.New("validation failure")
	ErrNotFound           = errors.New("not found")
	ErrBusinessRule       = errors.New("business rule violation")
	ErrCapacityBlocked    = errors.New("capacity blocked")
	ErrOverflowState      = errors.New("overflow state violation")
	ErrRaceDetected       = errors.New("race detected")
	ErrInvariantViolation = errors.New("invariant violation")
	ErrForbidden          = errors.New("forbidden")
)

var (
	ErrDuplicateInvoice   = fmt.Errorf("duplicate invoice: %w", ErrBusinessRule)
	ErrFuelTypeMismatch   = fmt.Errorf("fuel type mismatch: %w: %w", ErrValidation, ErrBusinessRule)
	ErrOnHold             = fmt.Errorf("overflow on manual hold: %w", ErrOverflowState)
	ErrQualityNotApproved = fmt.Errorf("overflow quality not approved: %w", ErrOverflowState)
	ErrVolumeExceeded     = fmt.Errorf("return volume exceeds remaining overflow: %w", ErrOverflowState)
	ErrInsufficientSpace  = fmt.Errorf("insufficient tank space: %w", ErrOverflowState)
	ErrTankFull           = fmt.Errorf("tank full: %w", ErrOverflowState)
	ErrOverflowExhausted  = fmt.Errorf("overflow exhausted: %w", ErrOverflowState)
)

// Kind returns the stable error code reported to API callers. The most
// specific kind wins.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrDuplicateInvoice):
		return "DUPLICATE_INVOICE"
	case errors.Is(err, ErrFuelTypeMismatch):
		return "FUEL_TYPE_MISMATCH"
	case errors.Is(err, ErrOnHold):
		return "ON_HOLD"
	case errors.Is(err, ErrQualityNotApproved):
		return "QUALITY_NOT_APPROVED"
	case errors.Is(err, ErrVolumeExceeded):
		return "VOLUME_EXCEEDED"
	case errors.Is(err, ErrInsufficientSpace):
		return "INSUFFICIENT_SPACE"
	case errors.Is(err, ErrTankFull):
		return "TANK_FULL"
	case errors.Is(err, ErrOverflowExhausted):
		return "OVERFLOW_EXHAUSTED"
	case errors.Is(err, ErrValidation):
		return "VALIDATION_FAILURE"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrBusinessRule):
		return "BUSINESS_RULE_VIOLATION"
	case errors.Is(err, ErrCapacityBlocked):
		return "CAPACITY_BLOCKED"
	case errors.Is(err, ErrOverflowState):
		return "OVERFLOW_STATE_VIOLATION"
	case errors.Is(err, ErrRaceDetected):
		return "RACE_DETECTED"
	case errors.Is(err, ErrInvariantViolation):
		return "INVARIANT_VIOLATION"
	case errors.Is(err, ErrForbidden):
		return "FORBIDDEN"
	default:
		return "INTERNAL"
	}
}
