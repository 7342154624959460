package dashboard

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"fuelerp/backend/internal/cache"
	"fuelerp/backend/internal/domain"
)

type fakeReader struct {
	tanks   []domain.Tank
	records []domain.OverflowRecord
	err     error
	calls   int
}

func (f *fakeReader) ListTanks(_ context.Context, _ string) ([]domain.Tank, error) {
	f.calls++
	return f.tanks, f.err
}

func (f *fakeReader) ListActiveOverflow(_ context.Context, _ string) ([]domain.OverflowRecord, error) {
	return f.records, nil
}

func liters(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

func fixture() *fakeReader {
	return &fakeReader{
		tanks: []domain.Tank{
			{ID: "tank-1", StationID: "s1", Name: "AGO", FuelType: "DIESEL", CapacityLiters: liters(10000), CurrentVolumeLiters: liters(9800)},
		},
		records: []domain.OverflowRecord{
			{ID: "ovf-full", TankID: "tank-1", RemainingVolumeLiters: liters(150), QualityApproved: true, PriorityLevel: domain.PriorityLow},
			{ID: "ovf-partial", TankID: "tank-1", RemainingVolumeLiters: liters(500), QualityApproved: true, PriorityLevel: domain.PriorityNormal},
			{ID: "ovf-held", TankID: "tank-1", RemainingVolumeLiters: liters(50), QualityApproved: true, ManualHold: true},
			{ID: "ovf-pending", TankID: "tank-1", RemainingVolumeLiters: liters(70), QualityApproved: false},
			{ID: "ovf-gone", TankID: "tank-1", RemainingVolumeLiters: decimal.Zero, IsExhausted: true},
		},
	}
}

func TestSummarizeClassifiesEntries(t *testing.T) {
	reader := fixture()
	resp := Summarize("s1", reader.tanks, reader.records)

	if len(resp.Tanks) != 1 {
		t.Fatalf("expected one tank summary, got %d", len(resp.Tanks))
	}
	summary := resp.Tanks[0]
	if len(summary.Entries) != 4 {
		t.Fatalf("expected exhausted record to be skipped, got %d entries", len(summary.Entries))
	}
	want := map[domain.Eligibility]int{
		domain.EligibilityFull:           1,
		domain.EligibilityPartial:        1,
		domain.EligibilityManualHold:     1,
		domain.EligibilityQualityPending: 1,
	}
	for class, count := range want {
		if summary.Counts[class] != count {
			t.Fatalf("expected %d %s, got %d", count, class, summary.Counts[class])
		}
	}
	if !summary.TotalReserves.Equal(liters(770)) || !resp.TotalReserves.Equal(liters(770)) {
		t.Fatalf("expected 770 L of reserves, got %s / %s", summary.TotalReserves, resp.TotalReserves)
	}
	for _, entry := range summary.Entries {
		if entry.Overflow.ID == "ovf-partial" && !entry.MaxReturnable.Equal(liters(200)) {
			t.Fatalf("expected partial entry capped at 200 L, got %s", entry.MaxReturnable)
		}
		if entry.Overflow.ID == "ovf-held" && !entry.MaxReturnable.IsZero() {
			t.Fatalf("expected held entry to have nothing returnable, got %s", entry.MaxReturnable)
		}
	}
}

func TestBuildUsesCacheUntilInvalidated(t *testing.T) {
	reader := fixture()
	local := cache.NewLocalDashboardCache(time.Minute)
	t.Cleanup(func() { _ = local.Close() })
	builder := NewBuilder(reader, local, time.Minute)
	ctx := context.Background()

	builder.Build(ctx, "s1")
	builder.Build(ctx, "s1")
	if reader.calls != 1 {
		t.Fatalf("expected second build to hit cache, got %d reads", reader.calls)
	}

	builder.Invalidate(ctx, "s1")
	builder.Build(ctx, "s1")
	if reader.calls != 2 {
		t.Fatalf("expected rebuild after invalidate, got %d reads", reader.calls)
	}
}

func TestBuildDegradesOnReadFailure(t *testing.T) {
	reader := fixture()
	reader.err = errors.New("connection refused")
	builder := NewBuilder(reader, nil, time.Minute)

	resp := builder.Build(context.Background(), "s1")
	if !resp.Degraded {
		t.Fatalf("expected degraded dashboard")
	}
	if !resp.TotalReserves.IsZero() || len(resp.Tanks) != 0 {
		t.Fatalf("expected zeroed dashboard, got %+v", resp)
	}
}
