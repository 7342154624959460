package memory

import (
	"context"
	"fmt"
	"log"
	"maps"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"fuelerp/backend/internal/domain"
	"fuelerp/backend/internal/overflow"
	"fuelerp/backend/internal/store"
	"fuelerp/backend/internal/xid"
)

// Store keeps every table in process memory. Transactions are serialised by
// mu and rolled back by restoring a snapshot. Inserting a delivery stands in
// for the database trigger layer: it raises the tank volume and records a
// FIFO layer.
type Store struct {
	mu              sync.RWMutex
	tanks           map[string]domain.Tank
	deliveries      map[string]domain.Delivery
	deliveryOrder   []string
	overflows       map[string]domain.OverflowRecord
	fifoLayers      []domain.FIFOLayer
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount

	overflowInsertFault error
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD, SEED_MANAGER_PASSWORD and
// SEED_OPERATOR_PASSWORD. If unset, dev defaults are used with a warning.
func seedUsers(stationID string) map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	managerPwd := envOr("SEED_MANAGER_PASSWORD", "manager123")
	operatorPwd := envOr("SEED_OPERATOR_PASSWORD", "operator123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_OPERATOR_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_*_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
		stations []string
	}{
		{"admin", adminPwd, domain.RoleAdmin, nil},
		{"manager", managerPwd, domain.RoleManager, []string{stationID}},
		{"operator", operatorPwd, domain.RoleOperator, []string{stationID}},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.MinCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:   u.username,
			Password:   string(hash),
			Role:       u.role,
			StationIDs: u.stations,
			Active:     true,
			CreatedAt:  now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// New returns an empty store without users.
func New() *Store {
	return &Store{
		tanks:           make(map[string]domain.Tank),
		deliveries:      make(map[string]domain.Delivery),
		overflows:       make(map[string]domain.OverflowRecord),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

// NewSeeded returns a store with demo users and three tanks for stationID.
func NewSeeded(stationID string) *Store {
	if stationID == "" {
		stationID = "station-main"
	}
	s := New()
	s.usersByUsername = seedUsers(stationID)

	now := time.Now().UTC()
	for _, t := range []domain.Tank{
		{ID: "tank-pms-1", Name: "PMS Tank 1", FuelType: "PETROL", CapacityLiters: decimal.NewFromInt(30000), CurrentVolumeLiters: decimal.NewFromInt(18500)},
		{ID: "tank-ago-1", Name: "AGO Tank 1", FuelType: "DIESEL", CapacityLiters: decimal.NewFromInt(25000), CurrentVolumeLiters: decimal.NewFromInt(21000)},
		{ID: "tank-bik-1", Name: "BIK Tank 1", FuelType: "KEROSENE", CapacityLiters: decimal.NewFromInt(10000), CurrentVolumeLiters: decimal.NewFromInt(4200)},
	} {
		t.StationID = stationID
		t.CreatedAt = now
		s.tanks[t.ID] = t
	}
	return s
}

// FailOverflowInserts makes every following overflow insert fail with err.
// Pass nil to clear it.
func (s *Store) FailOverflowInserts(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overflowInsertFault = err
}

// SetTankVolume overwrites a tank's current volume. It stands in for the
// dispensing side, which drains tanks outside this service.
func (s *Store) SetTankVolume(tankID string, volume decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tank, ok := s.tanks[tankID]
	if !ok {
		return store.ErrNotFound
	}
	if volume.IsNegative() || volume.GreaterThan(tank.CapacityLiters) {
		return store.ErrValidation
	}
	tank.CurrentVolumeLiters = volume
	s.tanks[tankID] = tank
	return nil
}

// FIFOLayers returns the layers the simulated trigger created for a tank.
func (s *Store) FIFOLayers(tankID string) []domain.FIFOLayer {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.FIFOLayer, 0, len(s.fifoLayers))
	for _, layer := range s.fifoLayers {
		if layer.TankID == tankID {
			result = append(result, layer)
		}
	}
	return result
}

type snapshot struct {
	tanks         map[string]domain.Tank
	deliveries    map[string]domain.Delivery
	deliveryOrder []string
	overflows     map[string]domain.OverflowRecord
	fifoLayers    []domain.FIFOLayer
}

func (s *Store) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	saved := snapshot{
		tanks:         maps.Clone(s.tanks),
		deliveries:    maps.Clone(s.deliveries),
		deliveryOrder: slices.Clone(s.deliveryOrder),
		overflows:     maps.Clone(s.overflows),
		fifoLayers:    slices.Clone(s.fifoLayers),
	}

	if err := fn(&memTx{s: s}); err != nil {
		s.tanks = saved.tanks
		s.deliveries = saved.deliveries
		s.deliveryOrder = saved.deliveryOrder
		s.overflows = saved.overflows
		s.fifoLayers = saved.fifoLayers
		return err
	}
	return nil
}

// memTx runs with s.mu already held for writing.
type memTx struct {
	s *Store
}

func (t *memTx) LockTank(ctx context.Context, tankID string) (*domain.Tank, error) {
	return t.GetTank(ctx, tankID)
}

func (t *memTx) GetTank(_ context.Context, tankID string) (*domain.Tank, error) {
	tank, ok := t.s.tanks[tankID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &tank, nil
}

func (t *memTx) ListEligibleOverflow(_ context.Context, tankID string) ([]domain.OverflowRecord, error) {
	return t.s.eligibleOverflowLocked(tankID), nil
}

func (t *memTx) InvoiceExists(_ context.Context, tankID string, invoiceNumber string, deliveryDate time.Time) (bool, error) {
	tank, ok := t.s.tanks[tankID]
	if !ok {
		return false, store.ErrNotFound
	}
	day := dateOnly(deliveryDate)
	for _, delivery := range t.s.deliveries {
		if delivery.StationID == tank.StationID &&
			strings.EqualFold(delivery.InvoiceNumber, invoiceNumber) &&
			dateOnly(delivery.DeliveryDate).Equal(day) {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) InsertDelivery(_ context.Context, delivery domain.Delivery) (*domain.Delivery, error) {
	if delivery.TankID == "" || !delivery.VolumeLiters.IsPositive() {
		return nil, store.ErrValidation
	}
	tank, ok := t.s.tanks[delivery.TankID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if delivery.ID == "" {
		delivery.ID = xid.New("dlv")
	}
	if delivery.CreatedAt.IsZero() {
		delivery.CreatedAt = time.Now().UTC()
	}
	if delivery.OriginKind == "" {
		delivery.OriginKind = domain.OriginNormalDelivery
	}
	delivery.StationID = tank.StationID
	delivery.DeliveryDate = dateOnly(delivery.DeliveryDate)

	t.s.deliveries[delivery.ID] = delivery
	t.s.deliveryOrder = append(t.s.deliveryOrder, delivery.ID)

	tank.CurrentVolumeLiters = tank.CurrentVolumeLiters.Add(delivery.VolumeLiters)
	t.s.tanks[tank.ID] = tank
	t.s.fifoLayers = append(t.s.fifoLayers, domain.FIFOLayer{
		DeliveryID:   delivery.ID,
		TankID:       delivery.TankID,
		VolumeLiters: delivery.VolumeLiters,
		CostPerLiter: delivery.CostPerLiter,
		CreatedAt:    delivery.CreatedAt,
	})

	created := delivery
	return &created, nil
}

func (t *memTx) InsertOverflow(_ context.Context, record domain.OverflowRecord) (*domain.OverflowRecord, error) {
	if t.s.overflowInsertFault != nil {
		return nil, t.s.overflowInsertFault
	}
	if record.TankID == "" || record.OriginalDeliveryID == "" || !record.OverflowVolumeLiters.IsPositive() {
		return nil, store.ErrValidation
	}
	if record.RemainingVolumeLiters.IsNegative() || record.RemainingVolumeLiters.GreaterThan(record.OverflowVolumeLiters) {
		return nil, store.ErrValidation
	}
	if _, ok := t.s.deliveries[record.OriginalDeliveryID]; !ok {
		return nil, store.ErrNotFound
	}
	if record.ID == "" {
		record.ID = xid.New("ovf")
	}
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = record.CreatedAt
	record.OverflowDate = dateOnly(record.OverflowDate)

	t.s.overflows[record.ID] = record
	created := record
	return &created, nil
}

func (t *memTx) LockOverflow(_ context.Context, overflowID string) (*domain.OverflowRecord, error) {
	record, ok := t.s.overflows[overflowID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &record, nil
}

func (t *memTx) UpdateOverflowRemaining(_ context.Context, overflowID string, remaining decimal.Decimal, exhausted bool, at time.Time) error {
	record, ok := t.s.overflows[overflowID]
	if !ok {
		return store.ErrNotFound
	}
	if remaining.IsNegative() || remaining.GreaterThan(record.RemainingVolumeLiters) {
		return fmt.Errorf("%w: remaining volume may only decrease", store.ErrInvariantViolation)
	}
	record.RemainingVolumeLiters = remaining
	record.IsExhausted = exhausted
	record.UpdatedAt = at
	t.s.overflows[overflowID] = record
	return nil
}

func (t *memTx) UpdateOverflowFlags(_ context.Context, overflowID string, manualHold bool, qualityApproved bool, reason string, at time.Time) error {
	record, ok := t.s.overflows[overflowID]
	if !ok {
		return store.ErrNotFound
	}
	record.ManualHold = manualHold
	record.QualityApproved = qualityApproved
	if reason != "" {
		record.StorageReason = reason
	}
	record.UpdatedAt = at
	t.s.overflows[overflowID] = record
	return nil
}

func (s *Store) CreateTank(_ context.Context, tank domain.Tank) (*domain.Tank, error) {
	if tank.StationID == "" || tank.FuelType == "" || !tank.CapacityLiters.IsPositive() {
		return nil, store.ErrValidation
	}
	if tank.CurrentVolumeLiters.IsNegative() || tank.CurrentVolumeLiters.GreaterThan(tank.CapacityLiters) {
		return nil, store.ErrValidation
	}
	if tank.ID == "" {
		tank.ID = xid.New("tank")
	}
	if tank.CreatedAt.IsZero() {
		tank.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tanks[tank.ID]; exists {
		return nil, fmt.Errorf("%w: tank %s already exists", store.ErrBusinessRule, tank.ID)
	}
	s.tanks[tank.ID] = tank
	created := tank
	return &created, nil
}

func (s *Store) GetTank(_ context.Context, tankID string) (*domain.Tank, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tank, ok := s.tanks[tankID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &tank, nil
}

func (s *Store) ListTanks(_ context.Context, stationID string) ([]domain.Tank, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Tank, 0, len(s.tanks))
	for _, tank := range s.tanks {
		if stationID != "" && tank.StationID != stationID {
			continue
		}
		result = append(result, tank)
	}
	slices.SortFunc(result, func(a, b domain.Tank) int {
		if c := strings.Compare(a.StationID, b.StationID); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	})
	return result, nil
}

func (s *Store) ListDeliveries(_ context.Context, tankID string, limit int) ([]domain.Delivery, error) {
	if limit < 1 {
		limit = 50
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Delivery, 0, limit)
	for i := len(s.deliveryOrder) - 1; i >= 0 && len(result) < limit; i-- {
		delivery := s.deliveries[s.deliveryOrder[i]]
		if tankID != "" && delivery.TankID != tankID {
			continue
		}
		result = append(result, delivery)
	}
	return result, nil
}

func (s *Store) GetOverflow(_ context.Context, overflowID string) (*domain.OverflowRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.overflows[overflowID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &record, nil
}

func (s *Store) ListEligibleOverflow(_ context.Context, tankID string) ([]domain.OverflowRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.eligibleOverflowLocked(tankID), nil
}

func (s *Store) eligibleOverflowLocked(tankID string) []domain.OverflowRecord {
	candidates := make([]domain.OverflowRecord, 0, 8)
	for _, record := range s.overflows {
		if record.TankID == tankID {
			candidates = append(candidates, record)
		}
	}
	return overflow.SortEligible(candidates)
}

func (s *Store) ListActiveOverflow(_ context.Context, stationID string) ([]domain.OverflowRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.OverflowRecord, 0, len(s.overflows))
	for _, record := range s.overflows {
		if record.IsExhausted || !record.RemainingVolumeLiters.IsPositive() {
			continue
		}
		if stationID != "" && record.StationID != stationID {
			continue
		}
		result = append(result, record)
	}
	slices.SortFunc(result, overflow.Compare)
	return result, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, stationID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, limit)
	for i := len(s.auditLogs) - 1; i >= 0 && len(result) < limit; i-- {
		entry := s.auditLogs[i]
		if stationID != "" && entry.StationID != stationID {
			continue
		}
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || user.Password == "" {
		return store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.usersByUsername[username]; exists {
		return fmt.Errorf("%w: username already exists", store.ErrBusinessRule)
	}
	user.Username = username
	user.StationIDs = slices.Clone(user.StationIDs)
	s.usersByUsername[username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		user.StationIDs = slices.Clone(user.StationIDs)
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.usersByUsername[username]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.UTC().Year(), t.UTC().Month(), t.UTC().Day(), 0, 0, 0, 0, time.UTC)
}
