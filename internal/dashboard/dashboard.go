package dashboard

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"log"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"fuelerp/backend/internal/cache"
	"fuelerp/backend/internal/domain"
	"fuelerp/backend/internal/overflow"
)

// Reader is the read-only slice of the repository the dashboard needs.
type Reader interface {
	ListTanks(ctx context.Context, stationID string) ([]domain.Tank, error)
	ListActiveOverflow(ctx context.Context, stationID string) ([]domain.OverflowRecord, error)
}

type Builder struct {
	reader   Reader
	cache    cache.DashboardCache
	cacheTTL time.Duration
	now      func() time.Time
}

func NewBuilder(reader Reader, cacheStore cache.DashboardCache, cacheTTL time.Duration) *Builder {
	if cacheStore == nil {
		cacheStore = cache.NoopDashboardCache{}
	}
	if cacheTTL <= 0 {
		cacheTTL = 15 * time.Second
	}

	return &Builder{
		reader:   reader,
		cache:    cacheStore,
		cacheTTL: cacheTTL,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Build returns the overflow dashboard for stationID; an empty id covers every
// station. Read failures never surface as errors: the result is zeroed and
// marked degraded instead, and is not cached.
func (b *Builder) Build(ctx context.Context, stationID string) domain.OverflowDashboard {
	key := CacheKey(stationID)
	if cached, ok, err := b.cache.Get(ctx, key); err == nil && ok {
		return *cached
	} else if err != nil {
		log.Printf("[dashboard] cache read failed station=%s err=%v", stationID, err)
	}

	var (
		tanks   []domain.Tank
		records []domain.OverflowRecord
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		tanks, err = b.reader.ListTanks(gctx, stationID)
		return err
	})
	g.Go(func() error {
		var err error
		records, err = b.reader.ListActiveOverflow(gctx, stationID)
		return err
	})
	if err := g.Wait(); err != nil {
		log.Printf("[dashboard] degraded station=%s err=%v", stationID, err)
		return domain.OverflowDashboard{
			StationID:     stationID,
			TotalReserves: decimal.Zero,
			Tanks:         []domain.TankOverflowSummary{},
			Degraded:      true,
			GeneratedAt:   b.now(),
		}
	}

	resp := Summarize(stationID, tanks, records)
	resp.GeneratedAt = b.now()
	if err := b.cache.Set(ctx, key, &resp, b.cacheTTL); err != nil {
		log.Printf("[dashboard] cache write failed station=%s err=%v", stationID, err)
	}
	return resp
}

// Invalidate drops the cached dashboard for stationID and the all-stations view.
func (b *Builder) Invalidate(ctx context.Context, stationID string) {
	for _, key := range []string{CacheKey(stationID), CacheKey("")} {
		if err := b.cache.Delete(ctx, key); err != nil {
			log.Printf("[dashboard] cache invalidate failed station=%s err=%v", stationID, err)
		}
	}
}

// Summarize groups active overflow records under their tanks. Exhausted
// records are skipped.
func Summarize(stationID string, tanks []domain.Tank, records []domain.OverflowRecord) domain.OverflowDashboard {
	byTank := make(map[string][]domain.OverflowRecord, len(tanks))
	for _, record := range records {
		if record.IsExhausted || !record.RemainingVolumeLiters.IsPositive() {
			continue
		}
		byTank[record.TankID] = append(byTank[record.TankID], record)
	}

	resp := domain.OverflowDashboard{
		StationID:     stationID,
		TotalReserves: decimal.Zero,
		Tanks:         make([]domain.TankOverflowSummary, 0, len(tanks)),
	}
	for _, tank := range tanks {
		available := tank.AvailableSpace()
		summary := domain.TankOverflowSummary{
			TankID:         tank.ID,
			TankName:       tank.Name,
			FuelType:       tank.FuelType,
			CapacityLiters: tank.CapacityLiters,
			CurrentVolume:  tank.CurrentVolumeLiters,
			FillPercentage: tank.FillPercentage(),
			AvailableSpace: decimal.Max(available, decimal.Zero),
			TotalReserves:  decimal.Zero,
			Counts:         make(map[domain.Eligibility]int, 5),
			Entries:        make([]domain.DashboardEntry, 0, len(byTank[tank.ID])),
		}
		for _, record := range byTank[tank.ID] {
			class := overflow.Classify(record, available)
			summary.Counts[class]++
			summary.TotalReserves = summary.TotalReserves.Add(record.RemainingVolumeLiters)
			summary.Entries = append(summary.Entries, domain.DashboardEntry{
				Overflow:       record,
				Classification: class,
				MaxReturnable:  overflow.MaxReturnable(record, available),
			})
		}
		resp.TotalReserves = resp.TotalReserves.Add(summary.TotalReserves)
		resp.Tanks = append(resp.Tanks, summary)
	}
	return resp
}

func CacheKey(stationID string) string {
	hash := sha1.Sum([]byte(stationID))
	return "fuel:dashboard:" + hex.EncodeToString(hash[:])
}
