package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"fuelerp/backend/internal/domain"
	"fuelerp/backend/internal/store"
	"fuelerp/backend/internal/xid"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	db          *sql.DB
	lockTimeout time.Duration
}

func New(ctx context.Context, databaseURL string, lockTimeout time.Duration) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	if lockTimeout <= 0 {
		lockTimeout = 3 * time.Second
	}
	return &Store{db: db, lockTimeout: lockTimeout}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate applies the bundled schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schemaSQL)
	return err
}

func (s *Store) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = sqlTx.Rollback() }()

	if _, err := sqlTx.ExecContext(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())); err != nil {
		return mapError(err)
	}

	if err := fn(&pgTx{tx: sqlTx}); err != nil {
		return mapError(err)
	}
	if err := sqlTx.Commit(); err != nil {
		return mapError(err)
	}
	return nil
}

type pgTx struct {
	tx *sql.Tx
}

const tankColumns = `id, station_id, name, fuel_type, capacity_liters, current_volume_liters, created_at`

func (t *pgTx) LockTank(ctx context.Context, tankID string) (*domain.Tank, error) {
	return scanTank(t.tx.QueryRowContext(ctx, `
		SELECT `+tankColumns+`
		FROM tanks
		WHERE id = $1
		FOR UPDATE
	`, tankID))
}

func (t *pgTx) GetTank(ctx context.Context, tankID string) (*domain.Tank, error) {
	return scanTank(t.tx.QueryRowContext(ctx, `
		SELECT `+tankColumns+`
		FROM tanks
		WHERE id = $1
	`, tankID))
}

func (t *pgTx) ListEligibleOverflow(ctx context.Context, tankID string) ([]domain.OverflowRecord, error) {
	return queryOverflow(ctx, t.tx, eligibleOverflowQuery+" FOR UPDATE", tankID)
}

func (t *pgTx) InvoiceExists(ctx context.Context, tankID string, invoiceNumber string, deliveryDate time.Time) (bool, error) {
	var exists bool
	err := t.tx.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM deliveries d
			JOIN tanks t ON t.station_id = d.station_id
			WHERE t.id = $1 AND lower(d.invoice_number) = lower($2) AND d.delivery_date = $3
		)
	`, tankID, invoiceNumber, dateOnly(deliveryDate)).Scan(&exists)
	return exists, err
}

func (t *pgTx) InsertDelivery(ctx context.Context, delivery domain.Delivery) (*domain.Delivery, error) {
	if delivery.TankID == "" || !delivery.VolumeLiters.IsPositive() {
		return nil, store.ErrValidation
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
	delivery.DeliveryDate = dateOnly(delivery.DeliveryDate)

	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO deliveries (
			id, station_id, tank_id, fuel_type, volume_liters, cost_per_liter,
			delivery_date, delivery_time, supplier_name, invoice_number, delivery_reference,
			origin_kind, source_overflow_id, created_by, created_at
		)
		SELECT $1, t.station_id, t.id, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
		FROM tanks t
		WHERE t.id = $2
		RETURNING station_id
	`, delivery.ID, delivery.TankID, delivery.FuelType, delivery.VolumeLiters, delivery.CostPerLiter,
		delivery.DeliveryDate, delivery.DeliveryTime, delivery.SupplierName, delivery.InvoiceNumber,
		delivery.DeliveryReference, string(delivery.OriginKind), nullIfEmpty(delivery.SourceOverflowID),
		delivery.CreatedBy, delivery.CreatedAt).Scan(&delivery.StationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: invoice %s already recorded for %s", store.ErrDuplicateInvoice,
				delivery.InvoiceNumber, delivery.DeliveryDate.Format("2006-01-02"))
		}
		return nil, err
	}

	created := delivery
	return &created, nil
}

func (t *pgTx) InsertOverflow(ctx context.Context, record domain.OverflowRecord) (*domain.OverflowRecord, error) {
	if record.TankID == "" || record.OriginalDeliveryID == "" || !record.OverflowVolumeLiters.IsPositive() {
		return nil, store.ErrValidation
	}
	if record.ID == "" {
		record.ID = xid.New("ovf")
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	record.UpdatedAt = record.CreatedAt
	record.OverflowDate = dateOnly(record.OverflowDate)

	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO overflow_storage (
			id, station_id, tank_id, fuel_type, original_delivery_id, overflow_volume_liters,
			remaining_volume_liters, cost_per_liter_ugx, delivery_reference, supplier_name,
			priority_level, manual_hold, quality_approved, is_exhausted, overflow_date,
			overflow_time, storage_reason, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
	`, record.ID, record.StationID, record.TankID, record.FuelType, record.OriginalDeliveryID,
		record.OverflowVolumeLiters, record.RemainingVolumeLiters, record.CostPerLiterUGX,
		record.DeliveryReference, record.SupplierName, string(record.PriorityLevel), record.ManualHold,
		record.QualityApproved, record.IsExhausted, record.OverflowDate, record.OverflowTime,
		record.StorageReason, record.CreatedAt, record.UpdatedAt)
	if err != nil {
		return nil, err
	}

	created := record
	return &created, nil
}

func (t *pgTx) LockOverflow(ctx context.Context, overflowID string) (*domain.OverflowRecord, error) {
	return scanOverflow(t.tx.QueryRowContext(ctx, `
		SELECT `+overflowColumns+`
		FROM overflow_storage
		WHERE id = $1
		FOR UPDATE
	`, overflowID))
}

func (t *pgTx) UpdateOverflowRemaining(ctx context.Context, overflowID string, remaining decimal.Decimal, exhausted bool, at time.Time) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE overflow_storage
		SET remaining_volume_liters = $2, is_exhausted = $3, updated_at = $4
		WHERE id = $1 AND remaining_volume_liters >= $2
	`, overflowID, remaining, exhausted, at)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: overflow %s remaining volume may only decrease", store.ErrInvariantViolation, overflowID)
	}
	return nil
}

func (t *pgTx) UpdateOverflowFlags(ctx context.Context, overflowID string, manualHold bool, qualityApproved bool, reason string, at time.Time) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE overflow_storage
		SET manual_hold = $2, quality_approved = $3,
			storage_reason = CASE WHEN $4 = '' THEN storage_reason ELSE $4 END,
			updated_at = $5
		WHERE id = $1
	`, overflowID, manualHold, qualityApproved, reason, at)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CreateTank(ctx context.Context, tank domain.Tank) (*domain.Tank, error) {
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

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tanks (id, station_id, name, fuel_type, capacity_liters, current_volume_liters, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$7)
	`, tank.ID, tank.StationID, tank.Name, tank.FuelType, tank.CapacityLiters, tank.CurrentVolumeLiters, tank.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: tank %s already exists", store.ErrBusinessRule, tank.ID)
		}
		return nil, err
	}

	created := tank
	return &created, nil
}

func (s *Store) GetTank(ctx context.Context, tankID string) (*domain.Tank, error) {
	return scanTank(s.db.QueryRowContext(ctx, `
		SELECT `+tankColumns+`
		FROM tanks
		WHERE id = $1
	`, tankID))
}

func (s *Store) ListTanks(ctx context.Context, stationID string) ([]domain.Tank, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+tankColumns+`
		FROM tanks
		WHERE ($1 = '' OR station_id = $1)
		ORDER BY station_id, name
	`, stationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tanks := make([]domain.Tank, 0, 16)
	for rows.Next() {
		tank, err := scanTank(rows)
		if err != nil {
			return nil, err
		}
		tanks = append(tanks, *tank)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tanks, nil
}

const deliveryColumns = `id, station_id, tank_id, fuel_type, volume_liters, cost_per_liter, delivery_date,
	delivery_time, supplier_name, invoice_number, delivery_reference, origin_kind,
	COALESCE(source_overflow_id, ''), created_by, created_at`

func (s *Store) ListDeliveries(ctx context.Context, tankID string, limit int) ([]domain.Delivery, error) {
	if limit < 1 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+deliveryColumns+`
		FROM deliveries
		WHERE ($1 = '' OR tank_id = $1)
		ORDER BY created_at DESC
		LIMIT $2
	`, tankID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	deliveries := make([]domain.Delivery, 0, limit)
	for rows.Next() {
		delivery, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		deliveries = append(deliveries, *delivery)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return deliveries, nil
}

const overflowColumns = `id, station_id, tank_id, fuel_type, original_delivery_id, overflow_volume_liters,
	remaining_volume_liters, cost_per_liter_ugx, delivery_reference, supplier_name, priority_level,
	manual_hold, quality_approved, is_exhausted, overflow_date, overflow_time, storage_reason,
	created_at, updated_at`

const overflowOrder = `
	ORDER BY CASE priority_level
		WHEN 'CRITICAL' THEN 0
		WHEN 'HIGH' THEN 1
		WHEN 'NORMAL' THEN 2
		ELSE 3
	END, overflow_date ASC, overflow_time ASC, created_at ASC, id ASC`

const eligibleOverflowQuery = `
	SELECT ` + overflowColumns + `
	FROM overflow_storage
	WHERE tank_id = $1
		AND is_exhausted = false
		AND remaining_volume_liters > 0
		AND manual_hold = false
		AND quality_approved = true` + overflowOrder

func (s *Store) GetOverflow(ctx context.Context, overflowID string) (*domain.OverflowRecord, error) {
	return scanOverflow(s.db.QueryRowContext(ctx, `
		SELECT `+overflowColumns+`
		FROM overflow_storage
		WHERE id = $1
	`, overflowID))
}

func (s *Store) ListEligibleOverflow(ctx context.Context, tankID string) ([]domain.OverflowRecord, error) {
	return queryOverflow(ctx, s.db, eligibleOverflowQuery, tankID)
}

func (s *Store) ListActiveOverflow(ctx context.Context, stationID string) ([]domain.OverflowRecord, error) {
	return queryOverflow(ctx, s.db, `
		SELECT `+overflowColumns+`
		FROM overflow_storage
		WHERE is_exhausted = false
			AND remaining_volume_liters > 0
			AND ($1 = '' OR station_id = $1)`+overflowOrder, stationID)
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, station_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.StationID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, stationID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, station_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE ($1 = '' OR station_id = $1) AND created_at >= $2 AND created_at < $3
		ORDER BY created_at DESC
		LIMIT $4
	`, stationID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.StationID, &entry.ActorUsername, &entry.ActorRole, &entry.Action,
			&entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || user.Password == "" {
		return store.ErrValidation
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, station_ids, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, username, user.Password, user.Role, strings.Join(user.StationIDs, ","), user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: username already exists", store.ErrBusinessRule)
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, station_ids, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		var stations string
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &stations, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.StationIDs = splitStations(stations)
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET password = $2
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func scanTank(row rowScanner) (*domain.Tank, error) {
	var tank domain.Tank
	err := row.Scan(&tank.ID, &tank.StationID, &tank.Name, &tank.FuelType, &tank.CapacityLiters,
		&tank.CurrentVolumeLiters, &tank.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	tank.CreatedAt = tank.CreatedAt.UTC()
	return &tank, nil
}

func scanDelivery(row rowScanner) (*domain.Delivery, error) {
	var delivery domain.Delivery
	var origin string
	err := row.Scan(&delivery.ID, &delivery.StationID, &delivery.TankID, &delivery.FuelType,
		&delivery.VolumeLiters, &delivery.CostPerLiter, &delivery.DeliveryDate, &delivery.DeliveryTime,
		&delivery.SupplierName, &delivery.InvoiceNumber, &delivery.DeliveryReference, &origin,
		&delivery.SourceOverflowID, &delivery.CreatedBy, &delivery.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	delivery.OriginKind = domain.OriginKind(origin)
	delivery.DeliveryDate = dateOnly(delivery.DeliveryDate)
	delivery.CreatedAt = delivery.CreatedAt.UTC()
	return &delivery, nil
}

func scanOverflow(row rowScanner) (*domain.OverflowRecord, error) {
	var record domain.OverflowRecord
	var priority string
	err := row.Scan(&record.ID, &record.StationID, &record.TankID, &record.FuelType, &record.OriginalDeliveryID,
		&record.OverflowVolumeLiters, &record.RemainingVolumeLiters, &record.CostPerLiterUGX,
		&record.DeliveryReference, &record.SupplierName, &priority, &record.ManualHold,
		&record.QualityApproved, &record.IsExhausted, &record.OverflowDate, &record.OverflowTime,
		&record.StorageReason, &record.CreatedAt, &record.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	record.PriorityLevel = domain.Priority(priority)
	record.OverflowDate = dateOnly(record.OverflowDate)
	record.CreatedAt = record.CreatedAt.UTC()
	record.UpdatedAt = record.UpdatedAt.UTC()
	return &record, nil
}

func queryOverflow(ctx context.Context, q queryer, query string, arg string) ([]domain.OverflowRecord, error) {
	rows, err := q.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]domain.OverflowRecord, 0, 8)
	for rows.Next() {
		record, err := scanOverflow(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// mapError turns lock and serialization conflicts into ErrRaceDetected so
// callers know the request is safe to resubmit.
func mapError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03":
			return fmt.Errorf("%w: %s", store.ErrRaceDetected, pgErr.Message)
		case "23514":
			return fmt.Errorf("%w: %s", store.ErrInvariantViolation, pgErr.Message)
		}
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func splitStations(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	stations := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			stations = append(stations, trimmed)
		}
	}
	return stations
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.UTC().Year(), t.UTC().Month(), t.UTC().Day(), 0, 0, 0, 0, time.UTC)
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}
