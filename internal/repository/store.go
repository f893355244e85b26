package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned when a looked-up row does not exist
	ErrNotFound = errors.New("record not found")
)

// Store bundles every repository over one database handle. Inside WithTransaction
// the handle is the transaction, so all repositories share it.
type Store struct {
	db *gorm.DB

	Orders    *OrderRepository
	Payments  *PaymentRepository
	Inventory *InventoryRepository
	Shipments *ShipmentRepository
	Sellers   *SellerRepository
	Signals   *SignalRepository
	Ledger    *LedgerRepository
	System    *SystemRepository
	Alerts    *AlertRepository
	Audit     *AuditRepository
	Jobs      *JobFailureRepository
}

// NewStore creates a new store
func NewStore(db *gorm.DB) *Store {
	return &Store{
		db:        db,
		Orders:    &OrderRepository{db: db},
		Payments:  &PaymentRepository{db: db},
		Inventory: &InventoryRepository{db: db},
		Shipments: &ShipmentRepository{db: db},
		Sellers:   &SellerRepository{db: db},
		Signals:   &SignalRepository{db: db},
		Ledger:    &LedgerRepository{db: db},
		System:    &SystemRepository{db: db},
		Alerts:    &AlertRepository{db: db},
		Audit:     &AuditRepository{db: db},
		Jobs:      &JobFailureRepository{db: db},
	}
}

// DB returns the underlying handle
func (s *Store) DB() *gorm.DB {
	return s.db
}

// WithTransaction runs fn in a transaction; any returned error rolls everything back
func (s *Store) WithTransaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewStore(tx))
	})
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
