package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"fuelerp/backend/internal/domain"
)

// Tx is the set of operations available inside one write transaction. Tank
// and overflow rows read through Lock* stay locked until the transaction ends.
type Tx interface {
	LockTank(ctx context.Context, tankID string) (*domain.Tank, error)
	GetTank(ctx context.Context, tankID string) (*domain.Tank, error)
	ListEligibleOverflow(ctx context.Context, tankID string) ([]domain.OverflowRecord, error)
	InvoiceExists(ctx context.Context, tankID string, invoiceNumber string, deliveryDate time.Time) (bool, error)
	InsertDelivery(ctx context.Context, delivery domain.Delivery) (*domain.Delivery, error)
	InsertOverflow(ctx context.Context, record domain.OverflowRecord) (*domain.OverflowRecord, error)
	LockOverflow(ctx context.Context, overflowID string) (*domain.OverflowRecord, error)
	UpdateOverflowRemaining(ctx context.Context, overflowID string, remaining decimal.Decimal, exhausted bool, at time.Time) error
	UpdateOverflowFlags(ctx context.Context, overflowID string, manualHold bool, qualityApproved bool, reason string, at time.Time) error
}

type Repository interface {
	// InTx runs fn inside one transaction. A non-nil error from fn rolls back
	// every write made through tx.
	InTx(ctx context.Context, fn func(tx Tx) error) error

	CreateTank(ctx context.Context, tank domain.Tank) (*domain.Tank, error)
	GetTank(ctx context.Context, tankID string) (*domain.Tank, error)
	ListTanks(ctx context.Context, stationID string) ([]domain.Tank, error)
	ListDeliveries(ctx context.Context, tankID string, limit int) ([]domain.Delivery, error)
	GetOverflow(ctx context.Context, overflowID string) (*domain.OverflowRecord, error)
	ListEligibleOverflow(ctx context.Context, tankID string) ([]domain.OverflowRecord, error)
	ListActiveOverflow(ctx context.Context, stationID string) ([]domain.OverflowRecord, error)
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, stationID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
