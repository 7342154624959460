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

func (s *Service) loadOverflow(ctx context.Context, overflowID string) (*domain.OverflowRecord, error) {
	overflowID = strings.TrimSpace(overflowID)
	if overflowID == "" {
		return nil, fmt.Errorf("%w: overflow_id is required", store.ErrValidation)
	}
	record, err := s.repo.GetOverflow(ctx, overflowID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: overflow %s", store.ErrNotFound, overflowID)
		}
		return nil, err
	}
	if err := authorizeStation(ctx, record.StationID); err != nil {
		return nil, fmt.Errorf("%w: overflow %s", err, overflowID)
	}
	return record, nil
}

// ListEligibleOverflow returns the tank's returnable reserves in tie-break order.
func (s *Service) ListEligibleOverflow(ctx context.Context, tankID string) ([]domain.EligibleOverflow, error) {
	tank, err := s.loadTank(ctx, tankID)
	if err != nil {
		return nil, err
	}
	records, err := s.repo.ListEligibleOverflow(ctx, tank.ID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	result := make([]domain.EligibleOverflow, 0, len(records))
	for _, record := range overflow.SortEligible(records) {
		result = append(result, domain.EligibleOverflow{
			OverflowID:        record.ID,
			DeliveryReference: record.DeliveryReference,
			RemainingVolume:   record.RemainingVolumeLiters,
			Priority:          record.PriorityLevel,
			OverflowDate:      record.OverflowDate.Format("2006-01-02"),
			AgeDays:           ageDays(record.OverflowDate, now),
			CostPerLiterUGX:   record.CostPerLiterUGX,
		})
	}
	return result, nil
}

// ExecuteRTT moves returnVolume liters of an overflow record back into its
// tank as a new delivery at the record's original cost.
func (s *Service) ExecuteRTT(ctx context.Context, overflowID string, req domain.RTTRequest) (domain.RTTResponse, error) {
	if overflowID == "" {
		overflowID = req.OverflowID
	}
	volume := overflow.NormalizeVolume(req.ReturnVolumeLiters)
	if !volume.IsPositive() {
		return domain.RTTResponse{}, fmt.Errorf("%w: return_volume_liters must be greater than zero", store.ErrValidation)
	}

	resp, err := s.executeRTT(ctx, overflowID, volume)
	if err != nil {
		kind := store.Kind(err)
		metrics.RecordRTT(kind, decimal.Zero)
		if errors.Is(err, store.ErrRaceDetected) {
			metrics.RecordRaceDetected("execute_rtt")
		}
		if errors.Is(err, store.ErrInvariantViolation) {
			log.Printf("[service] ERROR: rtt rolled back overflow=%s: %v", overflowID, err)
		}
		return domain.RTTResponse{}, err
	}
	metrics.RecordRTT("ok", resp.ReturnedVolume)
	return resp, nil
}

func (s *Service) executeRTT(ctx context.Context, overflowID string, volume decimal.Decimal) (domain.RTTResponse, error) {
	record, err := s.loadOverflow(ctx, overflowID)
	if err != nil {
		return domain.RTTResponse{}, err
	}
	tank, err := s.repo.GetTank(ctx, record.TankID)
	if err != nil {
		return domain.RTTResponse{}, err
	}
	if err := overflow.CheckReturn(*record, *tank, volume); err != nil {
		return domain.RTTResponse{}, err
	}
	if record.IsExhausted {
		return domain.RTTResponse{}, fmt.Errorf("%w: %s", store.ErrOverflowExhausted, record.DeliveryReference)
	}

	var resp domain.RTTResponse
	err = s.repo.InTx(ctx, func(tx store.Tx) error {
		// Tank row first, then the overflow row: the same order intake uses.
		lockedTank, err := tx.LockTank(ctx, record.TankID)
		if err != nil {
			return err
		}
		locked, err := tx.LockOverflow(ctx, record.ID)
		if err != nil {
			return err
		}
		if locked.TankID != lockedTank.ID {
			return fmt.Errorf("%w: overflow %s moved from tank %s", store.ErrInvariantViolation, locked.ID, lockedTank.ID)
		}
		if err := overflow.CheckReturn(*locked, *lockedTank, volume); err != nil {
			return fmt.Errorf("%w: state changed during validation: %s", store.ErrRaceDetected, err.Error())
		}
		if locked.IsExhausted {
			return fmt.Errorf("%w: %s", store.ErrOverflowExhausted, locked.DeliveryReference)
		}

		now := s.now()
		today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		invoice := "RTT-" + locked.DeliveryReference + "-" + now.Format("20060102150405")
		taken, err := tx.InvoiceExists(ctx, lockedTank.ID, invoice, today)
		if err != nil {
			return err
		}
		if taken {
			invoice += "-" + strings.ToUpper(xid.Short())
		}

		created, err := tx.InsertDelivery(ctx, domain.Delivery{
			ID:                xid.New("dlv"),
			StationID:         lockedTank.StationID,
			TankID:            lockedTank.ID,
			FuelType:          locked.FuelType,
			VolumeLiters:      volume,
			CostPerLiter:      locked.CostPerLiterUGX,
			DeliveryDate:      today,
			DeliveryTime:      now.Format("15:04"),
			SupplierName:      rttSupplier(locked.SupplierName),
			InvoiceNumber:     invoice,
			DeliveryReference: "RTT-" + locked.DeliveryReference,
			OriginKind:        domain.OriginRTTReturn,
			SourceOverflowID:  locked.ID,
			CreatedBy:         actorName(ctx),
			CreatedAt:         now,
		})
		if err != nil {
			return err
		}

		remaining := positiveOrZero(overflow.NormalizeVolume(locked.RemainingVolumeLiters.Sub(volume)))
		exhausted := overflow.IsExhausted(remaining)
		if err := tx.UpdateOverflowRemaining(ctx, locked.ID, remaining, exhausted, now); err != nil {
			return err
		}

		after, err := tx.GetTank(ctx, lockedTank.ID)
		if err != nil {
			return err
		}
		if err := checkTankInvariant(*after); err != nil {
			return err
		}
		reserves, err := tx.ListEligibleOverflow(ctx, lockedTank.ID)
		if err != nil {
			return err
		}

		resp = domain.RTTResponse{
			NewDeliveryID:         created.ID,
			OverflowID:            locked.ID,
			ReturnedVolume:        volume,
			RemainingOverflow:     remaining,
			IsExhausted:           exhausted,
			TankFillPercentage:    after.FillPercentage(),
			TankRemainingOverflow: overflow.TotalRemaining(reserves),
		}
		return nil
	})
	if err != nil {
		return domain.RTTResponse{}, err
	}

	s.dashboards.Invalidate(ctx, record.StationID)
	s.logAudit(ctx, record.StationID, "overflow_rtt", "overflow", record.ID,
		fmt.Sprintf("delivery=%s,returned=%s,remaining=%s,exhausted=%t", resp.NewDeliveryID, resp.ReturnedVolume, resp.RemainingOverflow, resp.IsExhausted))
	return resp, nil
}

func rttSupplier(original string) string {
	original = strings.TrimSpace(original)
	if original == "" {
		return "RTT-OVERFLOW"
	}
	return "RTT-" + original
}

// SetOverflowHold places or releases the manual hold on a reserve.
func (s *Service) SetOverflowHold(ctx context.Context, overflowID string, req domain.OverflowHoldRequest) (domain.OverflowRecord, error) {
	return s.updateOverflowFlags(ctx, overflowID, "overflow_hold", func(record domain.OverflowRecord) (bool, bool, string) {
		reason := strings.TrimSpace(req.Reason)
		if reason != "" {
			reason = "hold: " + reason
		}
		return req.Hold, record.QualityApproved, reason
	})
}

// SetOverflowQuality records the outcome of a quality check on a reserve.
func (s *Service) SetOverflowQuality(ctx context.Context, overflowID string, req domain.OverflowQualityRequest) (domain.OverflowRecord, error) {
	return s.updateOverflowFlags(ctx, overflowID, "overflow_quality", func(record domain.OverflowRecord) (bool, bool, string) {
		note := strings.TrimSpace(req.Note)
		if note != "" {
			note = "quality: " + note
		}
		return record.ManualHold, req.Approved, note
	})
}

func (s *Service) updateOverflowFlags(
	ctx context.Context,
	overflowID string,
	action string,
	apply func(record domain.OverflowRecord) (manualHold bool, qualityApproved bool, reason string),
) (domain.OverflowRecord, error) {
	if err := requireRole(ctx, domain.RoleAdmin, domain.RoleManager); err != nil {
		return domain.OverflowRecord{}, err
	}
	record, err := s.loadOverflow(ctx, overflowID)
	if err != nil {
		return domain.OverflowRecord{}, err
	}

	var hold, approved bool
	err = s.repo.InTx(ctx, func(tx store.Tx) error {
		locked, err := tx.LockOverflow(ctx, record.ID)
		if err != nil {
			return err
		}
		if locked.IsExhausted {
			return fmt.Errorf("%w: %s", store.ErrOverflowExhausted, locked.DeliveryReference)
		}
		var reason string
		hold, approved, reason = apply(*locked)
		return tx.UpdateOverflowFlags(ctx, locked.ID, hold, approved, reason, s.now())
	})
	if err != nil {
		return domain.OverflowRecord{}, err
	}

	updated, err := s.repo.GetOverflow(ctx, record.ID)
	if err != nil {
		return domain.OverflowRecord{}, err
	}
	s.dashboards.Invalidate(ctx, record.StationID)
	s.logAudit(ctx, record.StationID, action, "overflow", record.ID, fmt.Sprintf("manual_hold=%t,quality_approved=%t", hold, approved))
	return *updated, nil
}
