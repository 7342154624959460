package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"fuelerp/backend/internal/dashboard"
	"fuelerp/backend/internal/domain"
	"fuelerp/backend/internal/overflow"
	"fuelerp/backend/internal/store"
	"fuelerp/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo             store.Repository
	dashboards       *dashboard.Builder
	defaultStationID string
	now              func() time.Time
}

func New(repo store.Repository, dashboards *dashboard.Builder, defaultStationID string) *Service {
	if defaultStationID == "" {
		defaultStationID = "station-main"
	}
	if dashboards == nil {
		dashboards = dashboard.NewBuilder(repo, nil, 0)
	}

	return &Service{
		repo:             repo,
		dashboards:       dashboards,
		defaultStationID: defaultStationID,
		now:              func() time.Time { return time.Now().UTC() },
	}
}

// StationAccess reports whether actor may act on stationID. Admins see every
// station; other roles see the stations carried in their token.
func StationAccess(actor domain.Actor, stationID string) bool {
	if actor.Role == domain.RoleAdmin {
		return true
	}
	return slices.Contains(actor.StationIDs, stationID)
}

// authorizeStation reports out-of-scope stations as not found. Calls without
// an actor come from the process itself and are not scoped.
func authorizeStation(ctx context.Context, stationID string) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || StationAccess(actor, stationID) {
		return nil
	}
	return store.ErrNotFound
}

func requireRole(ctx context.Context, roles ...string) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || slices.Contains(roles, actor.Role) {
		return nil
	}
	return fmt.Errorf("%w: %s role required", store.ErrForbidden, strings.Join(roles, " or "))
}

func (s *Service) resolveStation(ctx context.Context, stationID string) (string, error) {
	stationID = strings.TrimSpace(stationID)
	if stationID == "" {
		stationID = s.defaultStationID
		if actor, ok := ActorFromContext(ctx); ok && actor.Role != domain.RoleAdmin && len(actor.StationIDs) > 0 {
			stationID = actor.StationIDs[0]
		}
	}
	if err := authorizeStation(ctx, stationID); err != nil {
		return "", fmt.Errorf("%w: station %s", err, stationID)
	}
	return stationID, nil
}

// loadTank reads a tank the caller is allowed to see.
func (s *Service) loadTank(ctx context.Context, tankID string) (*domain.Tank, error) {
	tankID = strings.TrimSpace(tankID)
	if tankID == "" {
		return nil, fmt.Errorf("%w: tank_id is required", store.ErrValidation)
	}
	tank, err := s.repo.GetTank(ctx, tankID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: tank %s", store.ErrNotFound, tankID)
		}
		return nil, err
	}
	if err := authorizeStation(ctx, tank.StationID); err != nil {
		return nil, fmt.Errorf("%w: tank %s", err, tankID)
	}
	return tank, nil
}

func (s *Service) CreateTank(ctx context.Context, req domain.TankCreateRequest) (domain.Tank, error) {
	if err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.Tank{}, err
	}

	stationID, err := s.resolveStation(ctx, req.StationID)
	if err != nil {
		return domain.Tank{}, err
	}
	fuelType := normalizeFuelType(req.FuelType)
	name := strings.TrimSpace(req.Name)
	capacity := overflow.NormalizeVolume(req.CapacityLiters)
	current := overflow.NormalizeVolume(req.CurrentVolumeLiters)

	if fuelType == "" {
		return domain.Tank{}, fmt.Errorf("%w: fuel_type is required", store.ErrValidation)
	}
	if !capacity.IsPositive() {
		return domain.Tank{}, fmt.Errorf("%w: capacity_liters must be greater than zero", store.ErrValidation)
	}
	if current.IsNegative() || current.GreaterThan(capacity) {
		return domain.Tank{}, fmt.Errorf("%w: current_volume_liters must be between 0 and capacity", store.ErrValidation)
	}
	if name == "" {
		name = fuelType + " Tank"
	}

	created, err := s.repo.CreateTank(ctx, domain.Tank{
		ID:                  xid.New("tank"),
		StationID:           stationID,
		Name:                name,
		FuelType:            fuelType,
		CapacityLiters:      capacity,
		CurrentVolumeLiters: current,
		CreatedAt:           s.now(),
	})
	if err != nil {
		return domain.Tank{}, err
	}

	s.dashboards.Invalidate(ctx, stationID)
	s.logAudit(ctx, stationID, "tank_create", "tank", created.ID, fmt.Sprintf("fuel=%s,capacity=%s,current=%s", created.FuelType, created.CapacityLiters, created.CurrentVolumeLiters))
	return *created, nil
}

func (s *Service) ListTanks(ctx context.Context, stationID string) ([]domain.Tank, error) {
	stationID, err := s.resolveStation(ctx, stationID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListTanks(ctx, stationID)
}

func (s *Service) GetTank(ctx context.Context, tankID string) (domain.Tank, error) {
	tank, err := s.loadTank(ctx, tankID)
	if err != nil {
		return domain.Tank{}, err
	}
	return *tank, nil
}

func (s *Service) ListDeliveries(ctx context.Context, tankID string, limit int) ([]domain.Delivery, error) {
	tank, err := s.loadTank(ctx, tankID)
	if err != nil {
		return nil, err
	}
	if limit < 1 || limit > 500 {
		limit = 50
	}
	return s.repo.ListDeliveries(ctx, tank.ID, limit)
}

func (s *Service) ListAuditLogs(ctx context.Context, stationID string, date string, limit int) ([]domain.AuditLog, error) {
	if err := requireRole(ctx, domain.RoleAdmin, domain.RoleManager); err != nil {
		return nil, err
	}
	stationID, err := s.resolveStation(ctx, stationID)
	if err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 100
	}

	// Without a date the window is the trailing 24 hours.
	to := s.now().Add(time.Second)
	from := to.Add(-24 * time.Hour)
	if strings.TrimSpace(date) != "" {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return nil, fmt.Errorf("%w: date must be YYYY-MM-DD", store.ErrValidation)
		}
		from = parsed.UTC()
		to = from.Add(24 * time.Hour)
	}

	return s.repo.ListAuditLogs(ctx, stationID, from, to, limit)
}

func (s *Service) OverflowDashboard(ctx context.Context, stationID string) (domain.OverflowDashboard, error) {
	stationID, err := s.resolveStation(ctx, stationID)
	if err != nil {
		return domain.OverflowDashboard{}, err
	}
	return s.dashboards.Build(ctx, stationID), nil
}

func (s *Service) logAudit(ctx context.Context, stationID string, action string, entityType string, entityID string, detail string) {
	if stationID == "" {
		stationID = s.defaultStationID
	}

	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		StationID:     stationID,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s entity=%s/%s: %v", action, entityType, entityID, err)
	}
}

func actorName(ctx context.Context) string {
	if actor, ok := ActorFromContext(ctx); ok && actor.Username != "" {
		return actor.Username
	}
	return "system"
}

func normalizeFuelType(fuelType string) string {
	return strings.ToUpper(strings.TrimSpace(fuelType))
}

func checkFuelType(tank domain.Tank, requested string) error {
	requested = normalizeFuelType(requested)
	if requested == "" || requested == normalizeFuelType(tank.FuelType) {
		return nil
	}
	return fmt.Errorf("%w: tank %s holds %s, delivery is %s", store.ErrFuelTypeMismatch, tank.ID, tank.FuelType, requested)
}

// checkTankInvariant guards the post-insert tank row.
func checkTankInvariant(tank domain.Tank) error {
	if tank.CurrentVolumeLiters.IsNegative() || tank.CurrentVolumeLiters.GreaterThan(tank.CapacityLiters) {
		return fmt.Errorf("%w: tank %s at %s L exceeds capacity %s L", store.ErrInvariantViolation,
			tank.ID, tank.CurrentVolumeLiters, tank.CapacityLiters)
	}
	return nil
}

func ageDays(overflowDate time.Time, now time.Time) int {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	day := time.Date(overflowDate.Year(), overflowDate.Month(), overflowDate.Day(), 0, 0, 0, 0, time.UTC)
	days := int(today.Sub(day).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

func positiveOrZero(v decimal.Decimal) decimal.Decimal {
	return decimal.Max(v, decimal.Zero)
}
