package store

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindPrefersMostSpecificCode(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("%w: requested 400 L", ErrVolumeExceeded), "VOLUME_EXCEEDED"},
		{fmt.Errorf("%w: tank-1", ErrTankFull), "TANK_FULL"},
		{ErrDuplicateInvoice, "DUPLICATE_INVOICE"},
		{ErrFuelTypeMismatch, "FUEL_TYPE_MISMATCH"},
		{fmt.Errorf("%w: volume must be positive", ErrValidation), "VALIDATION_FAILURE"},
		{ErrCapacityBlocked, "CAPACITY_BLOCKED"},
		{fmt.Errorf("%w: tank changed", ErrRaceDetected), "RACE_DETECTED"},
		{errors.New("boom"), "INTERNAL"},
		{nil, ""},
	}
	for _, tc := range cases {
		if got := Kind(tc.err); got != tc.want {
			t.Fatalf("Kind(%v) = %s, want %s", tc.err, got, tc.want)
		}
	}
}

func TestOverflowStateErrorsShareParent(t *testing.T) {
	for _, err := range []error{ErrOnHold, ErrQualityNotApproved, ErrVolumeExceeded, ErrInsufficientSpace, ErrTankFull, ErrOverflowExhausted} {
		if !errors.Is(err, ErrOverflowState) {
			t.Fatalf("expected %v to wrap ErrOverflowState", err)
		}
	}
	if !errors.Is(ErrFuelTypeMismatch, ErrValidation) || !errors.Is(ErrFuelTypeMismatch, ErrBusinessRule) {
		t.Fatalf("expected fuel type mismatch to be both a validation and business rule failure")
	}
}
