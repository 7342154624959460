package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"fuelerp/backend/internal/domain"
	"fuelerp/backend/internal/metrics"
	"fuelerp/backend/internal/overflow"
	"fuelerp/backend/internal/store"
	"fuelerp/backend/internal/xid"
)

// PreValidateDelivery plans a delivery against the current tank state
// without writing anything.
func (s *Service) PreValidateDelivery(ctx context.Context, req domain.PreValidateRequest) (domain.PreValidateResponse, error) {
	volume := overflow.NormalizeVolume(req.VolumeLiters)
	if strings.TrimSpace(req.TankID) == "" {
		return domain.PreValidateResponse{}, fmt.Errorf("%w: tank_id is required", store.ErrValidation)
	}
	if !volume.IsPositive() {
		return domain.PreValidateResponse{}, fmt.Errorf("%w: volume_liters must be greater than zero", store.ErrValidation)
	}

	tank, err := s.loadTank(ctx, req.TankID)
	if err != nil {
		return domain.PreValidateResponse{}, err
	}
	if err := checkFuelType(*tank, req.FuelType); err != nil {
		return domain.PreValidateResponse{}, err
	}

	records, err := s.repo.ListEligibleOverflow(ctx, tank.ID)
	if err != nil {
		return domain.PreValidateResponse{}, err
	}
	plan := overflow.PlanIntake(*tank, volume, records)
	metrics.RecordIntakeDecision(plan.Decision, false)

	resp := domain.PreValidateResponse{
		TankID:             tank.ID,
		Decision:           plan.Decision,
		Rationale:          plan.Rationale,
		CapacityLiters:     tank.CapacityLiters,
		CurrentVolume:      tank.CurrentVolumeLiters,
		AvailableSpace:     positiveOrZero(plan.AvailableSpace),
		TotalOverflow:      plan.TotalOverflow,
		SpaceNeeded:        plan.SpaceNeeded,
		SuggestedRTTVolume: plan.SuggestedRTTVolume,
		OverflowAmount:     plan.OverflowAmount,
		TankVolumePortion:  plan.TankVolumePortion,
		RTTOptions:         make([]domain.RTTOption, 0, len(plan.Reserves)),
	}
	for _, record := range plan.Reserves {
		resp.RTTOptions = append(resp.RTTOptions, domain.RTTOption{
			OverflowID:        record.ID,
			DeliveryReference: record.DeliveryReference,
			RemainingVolume:   record.RemainingVolumeLiters,
			MaxReturnable:     overflow.MaxReturnable(record, plan.AvailableSpace),
			Priority:          record.PriorityLevel,
			OverflowDate:      record.OverflowDate.Format("2006-01-02"),
		})
	}
	return resp, nil
}

type intakeInput struct {
	volume       decimal.Decimal
	cost         decimal.Decimal
	supplier     string
	invoice      string
	reference    string
	deliveryDate time.Time
	deliveryTime string
}

func (s *Service) parseSubmit(req domain.DeliverySubmitRequest) (intakeInput, error) {
	now := s.now()
	in := intakeInput{
		volume:       overflow.NormalizeVolume(req.VolumeLiters),
		cost:         req.CostPerLiter,
		supplier:     strings.TrimSpace(req.SupplierName),
		invoice:      strings.TrimSpace(req.InvoiceNumber),
		reference:    strings.TrimSpace(req.DeliveryReference),
		deliveryTime: strings.TrimSpace(req.DeliveryTime),
	}

	if strings.TrimSpace(req.TankID) == "" {
		return intakeInput{}, fmt.Errorf("%w: tank_id is required", store.ErrValidation)
	}
	if !in.volume.IsPositive() {
		return intakeInput{}, fmt.Errorf("%w: volume_liters must be greater than zero", store.ErrValidation)
	}
	if in.cost.IsNegative() {
		return intakeInput{}, fmt.Errorf("%w: cost_per_liter must not be negative", store.ErrValidation)
	}
	if in.invoice == "" {
		return intakeInput{}, fmt.Errorf("%w: invoice_number is required", store.ErrValidation)
	}
	if in.supplier == "" {
		return intakeInput{}, fmt.Errorf("%w: supplier_name is required", store.ErrValidation)
	}

	if date := strings.TrimSpace(req.DeliveryDate); date == "" {
		in.deliveryDate = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	} else {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return intakeInput{}, fmt.Errorf("%w: delivery_date must be YYYY-MM-DD", store.ErrValidation)
		}
		in.deliveryDate = parsed.UTC()
	}

	if in.deliveryTime == "" {
		in.deliveryTime = now.Format("15:04")
	} else if _, err := time.Parse("15:04", in.deliveryTime); err != nil {
		if _, err := time.Parse("15:04:05", in.deliveryTime); err != nil {
			return intakeInput{}, fmt.Errorf("%w: delivery_time must be HH:MM", store.ErrValidation)
		}
	}

	if in.reference == "" {
		in.reference = "DEL-" + in.deliveryDate.Format("20060102") + "-" + strings.ToUpper(xid.Short())
	}
	return in, nil
}

// SubmitDelivery commits a delivery and, when it does not fit, its overflow
// record in one transaction. The plan is taken twice: once before the
// transaction and once under the tank lock; a mismatch means another writer
// moved the tank and the request fails with ErrRaceDetected.
func (s *Service) SubmitDelivery(ctx context.Context, req domain.DeliverySubmitRequest) (domain.DeliverySubmitResponse, error) {
	in, err := s.parseSubmit(req)
	if err != nil {
		return domain.DeliverySubmitResponse{}, err
	}

	tank, err := s.loadTank(ctx, req.TankID)
	if err != nil {
		return domain.DeliverySubmitResponse{}, err
	}
	if err := checkFuelType(*tank, req.FuelType); err != nil {
		return domain.DeliverySubmitResponse{}, err
	}

	records, err := s.repo.ListEligibleOverflow(ctx, tank.ID)
	if err != nil {
		return domain.DeliverySubmitResponse{}, err
	}
	precheck := overflow.PlanIntake(*tank, in.volume, records)
	if !precheck.Decision.Proceeds() {
		metrics.RecordIntakeDecision(precheck.Decision, false)
		return domain.DeliverySubmitResponse{}, fmt.Errorf("%w: %s", store.ErrCapacityBlocked, precheck.Rationale)
	}

	var (
		created        *domain.Delivery
		overflowRecord *domain.OverflowRecord
		plan           overflow.Plan
	)
	err = s.repo.InTx(ctx, func(tx store.Tx) error {
		locked, err := tx.LockTank(ctx, tank.ID)
		if err != nil {
			return err
		}

		duplicate, err := tx.InvoiceExists(ctx, locked.ID, in.invoice, in.deliveryDate)
		if err != nil {
			return err
		}
		if duplicate {
			return fmt.Errorf("%w: invoice %s already recorded for %s", store.ErrDuplicateInvoice,
				in.invoice, in.deliveryDate.Format("2006-01-02"))
		}

		reserves, err := tx.ListEligibleOverflow(ctx, locked.ID)
		if err != nil {
			return err
		}
		plan = overflow.PlanIntake(*locked, in.volume, reserves)
		if !plan.Same(precheck) {
			return fmt.Errorf("%w: tank %s changed during validation (%s, now %s); resubmit", store.ErrRaceDetected,
				locked.ID, precheck.Decision, plan.Decision)
		}
		if !plan.TankVolumePortion.Add(plan.OverflowAmount).Equal(in.volume) {
			return fmt.Errorf("%w: %s L split into %s L + %s L", store.ErrInvariantViolation,
				in.volume, plan.TankVolumePortion, plan.OverflowAmount)
		}

		created, err = tx.InsertDelivery(ctx, domain.Delivery{
			ID:                xid.New("dlv"),
			StationID:         locked.StationID,
			TankID:            locked.ID,
			FuelType:          locked.FuelType,
			VolumeLiters:      plan.TankVolumePortion,
			CostPerLiter:      in.cost,
			DeliveryDate:      in.deliveryDate,
			DeliveryTime:      in.deliveryTime,
			SupplierName:      in.supplier,
			InvoiceNumber:     in.invoice,
			DeliveryReference: in.reference,
			OriginKind:        domain.OriginNormalDelivery,
			CreatedBy:         actorName(ctx),
			CreatedAt:         s.now(),
		})
		if err != nil {
			return err
		}

		if plan.OverflowAmount.IsPositive() {
			overflowRecord, err = tx.InsertOverflow(ctx, domain.OverflowRecord{
				ID:                    xid.New("ovf"),
				StationID:             locked.StationID,
				TankID:                locked.ID,
				FuelType:              locked.FuelType,
				OriginalDeliveryID:    created.ID,
				OverflowVolumeLiters:  plan.OverflowAmount,
				RemainingVolumeLiters: plan.OverflowAmount,
				CostPerLiterUGX:       in.cost,
				DeliveryReference:     in.reference + "-OVF",
				SupplierName:          in.supplier,
				PriorityLevel:         overflow.PriorityFor(plan.OverflowAmount, locked.CapacityLiters),
				QualityApproved:       true,
				OverflowDate:          in.deliveryDate,
				OverflowTime:          in.deliveryTime,
				StorageReason:         fmt.Sprintf("delivery %s exceeded available space by %s L", in.reference, plan.OverflowAmount),
				CreatedAt:             s.now(),
			})
			if err != nil {
				return err
			}
		}

		after, err := tx.GetTank(ctx, locked.ID)
		if err != nil {
			return err
		}
		return checkTankInvariant(*after)
	})
	if err != nil {
		if errors.Is(err, store.ErrRaceDetected) {
			metrics.RecordRaceDetected("submit_delivery")
		}
		if errors.Is(err, store.ErrInvariantViolation) {
			log.Printf("[service] ERROR: delivery rolled back tank=%s invoice=%s: %v", tank.ID, in.invoice, err)
		}
		return domain.DeliverySubmitResponse{}, err
	}

	metrics.RecordIntakeDecision(plan.Decision, true)
	s.dashboards.Invalidate(ctx, tank.StationID)

	resp := domain.DeliverySubmitResponse{
		DeliveryID:     created.ID,
		Decision:       plan.Decision,
		Rationale:      plan.Rationale,
		Delivery:       *created,
		OverflowVolume: decimal.Zero,
	}
	if overflowRecord != nil {
		resp.OverflowCreated = true
		resp.OverflowVolume = overflowRecord.OverflowVolumeLiters
		resp.Overflow = overflowRecord
		metrics.RecordOverflowCreated(overflowRecord.OverflowVolumeLiters)
	}

	s.logAudit(ctx, tank.StationID, "delivery_submit", "delivery", created.ID,
		fmt.Sprintf("tank=%s,volume=%s,overflow=%s,decision=%s,invoice=%s", tank.ID, created.VolumeLiters, resp.OverflowVolume, plan.Decision, in.invoice))
	return resp, nil
}
