package overflow

import (
	"fmt"

	"github.com/shopspring/decimal"

	"fuelerp/backend/internal/domain"
	"fuelerp/backend/internal/store"
)

// Plan is the intake decision for one proposed delivery against one tank
// snapshot.
type Plan struct {
	Decision           domain.Decision
	Rationale          string
	AvailableSpace     decimal.Decimal
	TotalOverflow      decimal.Decimal
	SpaceNeeded        decimal.Decimal
	SuggestedRTTVolume decimal.Decimal
	OverflowAmount     decimal.Decimal
	TankVolumePortion  decimal.Decimal
	Reserves           []domain.OverflowRecord
}

// Same reports whether two plans would commit identically.
func (p Plan) Same(other Plan) bool {
	return p.Decision == other.Decision &&
		p.TankVolumePortion.Equal(other.TankVolumePortion) &&
		p.OverflowAmount.Equal(other.OverflowAmount)
}

// PlanIntake decides how a delivery of volume liters lands in tank given the
// overflow records already held for it. Only eligible records count as
// reserves.
func PlanIntake(tank domain.Tank, volume decimal.Decimal, records []domain.OverflowRecord) Plan {
	volume = NormalizeVolume(volume)
	reserves := SortEligible(records)
	available := tank.AvailableSpace()
	total := TotalRemaining(reserves)

	plan := Plan{
		AvailableSpace:     available,
		TotalOverflow:      total,
		SpaceNeeded:        decimal.Zero,
		SuggestedRTTVolume: decimal.Zero,
		OverflowAmount:     decimal.Zero,
		TankVolumePortion:  decimal.Zero,
		Reserves:           reserves,
	}

	if total.IsPositive() {
		switch {
		case !available.IsPositive():
			plan.Decision = domain.DecisionBlock
			plan.Rationale = fmt.Sprintf("tank full: %s L available with %s L held in overflow reserves; process RTT first",
				liters(decimal.Max(available, decimal.Zero)), liters(total))
		case volume.GreaterThan(available):
			plan.Decision = domain.DecisionBlock
			plan.SpaceNeeded = volume.Sub(available)
			plan.Rationale = fmt.Sprintf("delivery of %s L exceeds %s L available while %s L of overflow reserves exist (space needed %s L); process RTT to avoid compounding overflow",
				liters(volume), liters(available), liters(total), liters(plan.SpaceNeeded))
		default:
			plan.Decision = domain.DecisionProceedRecommendRTT
			plan.TankVolumePortion = volume
			plan.SuggestedRTTVolume = decimal.Min(available, total)
			plan.Rationale = fmt.Sprintf("delivery of %s L fits in %s L available; RTT of up to %s L from %s L of reserves is recommended to optimize storage",
				liters(volume), liters(available), liters(plan.SuggestedRTTVolume), liters(total))
		}
		return plan
	}

	switch {
	case !available.IsPositive():
		plan.Decision = domain.DecisionBlock
		plan.SpaceNeeded = volume
		plan.Rationale = fmt.Sprintf("tank full: %s L available, no part of the %s L delivery can be received",
			liters(decimal.Max(available, decimal.Zero)), liters(volume))
	case volume.LessThanOrEqual(available):
		plan.Decision = domain.DecisionProceedFit
		plan.TankVolumePortion = volume
		plan.Rationale = fmt.Sprintf("delivery of %s L fits completely in %s L available", liters(volume), liters(available))
	default:
		plan.Decision = domain.DecisionProceedWithNewOverflow
		plan.TankVolumePortion = available
		plan.OverflowAmount = volume.Sub(available)
		plan.Rationale = fmt.Sprintf("%s L goes to the tank and %s L will be held as new overflow (%s priority)",
			liters(available), liters(plan.OverflowAmount), PriorityFor(plan.OverflowAmount, tank.CapacityLiters))
	}
	return plan
}

// CheckReturn validates an RTT of volume liters from record into tank. Checks
// run in a fixed order and the first failure is returned.
func CheckReturn(record domain.OverflowRecord, tank domain.Tank, volume decimal.Decimal) error {
	volume = NormalizeVolume(volume)
	if !volume.IsPositive() {
		return fmt.Errorf("%w: return volume must be greater than zero", store.ErrValidation)
	}
	if volume.GreaterThan(record.RemainingVolumeLiters) {
		return fmt.Errorf("%w: requested %s L, only %s L remaining", store.ErrVolumeExceeded,
			liters(volume), liters(record.RemainingVolumeLiters))
	}
	if record.ManualHold {
		return fmt.Errorf("%w: release the hold before returning %s", store.ErrOnHold, record.DeliveryReference)
	}
	if !record.QualityApproved {
		return fmt.Errorf("%w: %s is awaiting quality approval", store.ErrQualityNotApproved, record.DeliveryReference)
	}
	available := tank.AvailableSpace()
	if !available.IsPositive() {
		return fmt.Errorf("%w: tank %s has no available space", store.ErrTankFull, tank.ID)
	}
	if volume.GreaterThan(available) {
		return fmt.Errorf("%w: requested %s L, maximum returnable is %s L", store.ErrInsufficientSpace,
			liters(volume), liters(available))
	}
	return nil
}

func liters(v decimal.Decimal) string {
	return NormalizeVolume(v).String()
}
