// Package overflow holds the pure rules of delivery intake and Return-to-Tank:
// the priority ladder, eligible-reserve ordering, RTT eligibility
// classification, the intake decision and the RTT pre-checks. Nothing here
// touches storage; callers pass in rows they have just read (and locked).
package overflow

import (
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"fuelerp/backend/internal/domain"
)

// VolumeScale is the number of decimal places liters are kept at.
const VolumeScale = 3

var (
	// ExhaustedEpsilon is the remaining volume at or below which a record is exhausted.
	ExhaustedEpsilon = decimal.New(1, -3)

	CriticalRatio = decimal.RequireFromString("0.50")
	HighRatio     = decimal.RequireFromString("0.25")
	NormalRatio   = decimal.RequireFromString("0.10")
)

// NormalizeVolume rounds a liter value to VolumeScale places.
func NormalizeVolume(v decimal.Decimal) decimal.Decimal {
	return v.Round(VolumeScale)
}

// PriorityFor maps the share of tank capacity an overflow represents onto
// the priority ladder.
func PriorityFor(overflowVolume decimal.Decimal, capacity decimal.Decimal) domain.Priority {
	if !capacity.IsPositive() {
		return domain.PriorityCritical
	}
	ratio := overflowVolume.Div(capacity)
	switch {
	case ratio.GreaterThanOrEqual(CriticalRatio):
		return domain.PriorityCritical
	case ratio.GreaterThanOrEqual(HighRatio):
		return domain.PriorityHigh
	case ratio.GreaterThanOrEqual(NormalRatio):
		return domain.PriorityNormal
	default:
		return domain.PriorityLow
	}
}

// IsExhausted reports whether a remaining volume counts as empty.
func IsExhausted(remaining decimal.Decimal) bool {
	return remaining.LessThanOrEqual(ExhaustedEpsilon)
}

// Compare orders reserves by priority, then oldest overflow date and time,
// then id so that the order is total.
func Compare(a, b domain.OverflowRecord) int {
	if ra, rb := a.PriorityLevel.Rank(), b.PriorityLevel.Rank(); ra != rb {
		return ra - rb
	}
	if c := a.OverflowDate.Compare(b.OverflowDate); c != 0 {
		return c
	}
	if c := strings.Compare(a.OverflowTime, b.OverflowTime); c != 0 {
		return c
	}
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}

// SortEligible filters records down to eligible reserves and returns them in
// tie-break order. The input slice is not modified.
func SortEligible(records []domain.OverflowRecord) []domain.OverflowRecord {
	eligible := make([]domain.OverflowRecord, 0, len(records))
	for _, record := range records {
		if record.Eligible() {
			eligible = append(eligible, record)
		}
	}
	slices.SortStableFunc(eligible, Compare)
	return eligible
}

// TotalRemaining sums remaining volume over the given records.
func TotalRemaining(records []domain.OverflowRecord) decimal.Decimal {
	total := decimal.Zero
	for _, record := range records {
		total = total.Add(record.RemainingVolumeLiters)
	}
	return total
}

// Classify derives the RTT eligibility of one record against the tank's
// current free space. Hold and quality gates win over space.
func Classify(record domain.OverflowRecord, availableSpace decimal.Decimal) domain.Eligibility {
	switch {
	case record.ManualHold:
		return domain.EligibilityManualHold
	case !record.QualityApproved:
		return domain.EligibilityQualityPending
	case !availableSpace.IsPositive():
		return domain.EligibilityNoSpace
	case availableSpace.GreaterThanOrEqual(record.RemainingVolumeLiters):
		return domain.EligibilityFull
	default:
		return domain.EligibilityPartial
	}
}

// MaxReturnable is the largest RTT volume the record could move right now.
func MaxReturnable(record domain.OverflowRecord, availableSpace decimal.Decimal) decimal.Decimal {
	if !record.Eligible() || !availableSpace.IsPositive() {
		return decimal.Zero
	}
	return decimal.Min(record.RemainingVolumeLiters, availableSpace)
}
