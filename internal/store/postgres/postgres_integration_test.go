package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"fuelerp/backend/internal/domain"
	"fuelerp/backend/internal/store"
)

func newIntegrationStore(t *testing.T) *Store {
	t.Helper()
	databaseURL := os.Getenv("FUELERP_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set FUELERP_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL, 2*time.Second)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func seedTank(t *testing.T, s *Store, capacity string, current string) domain.Tank {
	t.Helper()
	ctx := context.Background()
	stamp := time.Now().UnixNano()
	stationID := fmt.Sprintf("station-it-%d", stamp)

	tank, err := s.CreateTank(ctx, domain.Tank{
		ID:                  fmt.Sprintf("tank-it-%d", stamp),
		StationID:           stationID,
		Name:                "IT Diesel",
		FuelType:            "DIESEL",
		CapacityLiters:      decimal.RequireFromString(capacity),
		CurrentVolumeLiters: decimal.RequireFromString(current),
	})
	if err != nil {
		t.Fatalf("create tank: %v", err)
	}

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `UPDATE deliveries SET source_overflow_id = NULL WHERE tank_id = $1`, tank.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM overflow_storage WHERE tank_id = $1`, tank.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM fifo_layers WHERE tank_id = $1`, tank.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM deliveries WHERE tank_id = $1`, tank.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM tanks WHERE id = $1`, tank.ID)
	})
	return *tank
}

func TestDeliveryTriggerRaisesTankVolume(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	tank := seedTank(t, s, "10000", "9000")

	err := s.InTx(ctx, func(tx store.Tx) error {
		locked, err := tx.LockTank(ctx, tank.ID)
		if err != nil {
			return err
		}
		delivery, err := tx.InsertDelivery(ctx, domain.Delivery{
			TankID:            locked.ID,
			FuelType:          locked.FuelType,
			VolumeLiters:      decimal.RequireFromString("1000"),
			CostPerLiter:      decimal.RequireFromString("4500"),
			DeliveryDate:      time.Now().UTC(),
			DeliveryTime:      "08:30",
			SupplierName:      "Integration Supplier",
			InvoiceNumber:     fmt.Sprintf("INV-IT-%d", time.Now().UnixNano()),
			DeliveryReference: "DEL-IT",
		})
		if err != nil {
			return err
		}
		_, err = tx.InsertOverflow(ctx, domain.OverflowRecord{
			StationID:             locked.StationID,
			TankID:                locked.ID,
			FuelType:              locked.FuelType,
			OriginalDeliveryID:    delivery.ID,
			OverflowVolumeLiters:  decimal.RequireFromString("500"),
			RemainingVolumeLiters: decimal.RequireFromString("500"),
			CostPerLiterUGX:       decimal.RequireFromString("4500"),
			DeliveryReference:     "DEL-IT-OVF",
			PriorityLevel:         domain.PriorityLow,
			QualityApproved:       true,
			OverflowDate:          time.Now().UTC(),
		})
		return err
	})
	if err != nil {
		t.Fatalf("intake tx: %v", err)
	}

	after, err := s.GetTank(ctx, tank.ID)
	if err != nil {
		t.Fatalf("get tank: %v", err)
	}
	if !after.CurrentVolumeLiters.Equal(decimal.RequireFromString("10000")) {
		t.Fatalf("expected tank at 10000 L after trigger, got %s", after.CurrentVolumeLiters)
	}

	eligible, err := s.ListEligibleOverflow(ctx, tank.ID)
	if err != nil {
		t.Fatalf("list eligible: %v", err)
	}
	if len(eligible) != 1 || !eligible[0].RemainingVolumeLiters.Equal(decimal.RequireFromString("500")) {
		t.Fatalf("expected one 500 L reserve, got %+v", eligible)
	}
}

func TestFailedTransactionLeavesNoRows(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	tank := seedTank(t, s, "10000", "9000")
	boom := errors.New("boom")

	err := s.InTx(ctx, func(tx store.Tx) error {
		if _, err := tx.InsertDelivery(ctx, domain.Delivery{
			TankID:            tank.ID,
			FuelType:          tank.FuelType,
			VolumeLiters:      decimal.RequireFromString("1000"),
			CostPerLiter:      decimal.RequireFromString("4500"),
			DeliveryDate:      time.Now().UTC(),
			InvoiceNumber:     fmt.Sprintf("INV-RB-%d", time.Now().UnixNano()),
			DeliveryReference: "DEL-RB",
		}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	after, err := s.GetTank(ctx, tank.ID)
	if err != nil {
		t.Fatalf("get tank: %v", err)
	}
	if !after.CurrentVolumeLiters.Equal(decimal.RequireFromString("9000")) {
		t.Fatalf("expected rollback to keep 9000 L, got %s", after.CurrentVolumeLiters)
	}
	deliveries, err := s.ListDeliveries(ctx, tank.ID, 10)
	if err != nil {
		t.Fatalf("list deliveries: %v", err)
	}
	if len(deliveries) != 0 {
		t.Fatalf("expected no deliveries after rollback, got %d", len(deliveries))
	}
}

func TestDuplicateInvoiceMapsToBusinessRule(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	tank := seedTank(t, s, "10000", "0")
	invoice := fmt.Sprintf("INV-DUP-%d", time.Now().UnixNano())

	insert := func(number string) error {
		return s.InTx(ctx, func(tx store.Tx) error {
			_, err := tx.InsertDelivery(ctx, domain.Delivery{
				TankID:            tank.ID,
				FuelType:          tank.FuelType,
				VolumeLiters:      decimal.RequireFromString("100"),
				CostPerLiter:      decimal.RequireFromString("4500"),
				DeliveryDate:      time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
				InvoiceNumber:     number,
				DeliveryReference: "DEL-DUP",
			})
			return err
		})
	}

	if err := insert(invoice); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	err := insert(strings.ToLower(invoice))
	if !errors.Is(err, store.ErrDuplicateInvoice) || !errors.Is(err, store.ErrBusinessRule) {
		t.Fatalf("expected duplicate invoice business rule error, got %v", err)
	}
}
