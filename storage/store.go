package storage

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/fayedaihall/tesseracts-world/native/escrow"
)

// Supported database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Store provides transactional access to the escrow tables. It implements
// escrow.Store.
type Store struct {
	db *gorm.DB
}

// Open connects to the configured database and migrates the schema.
func Open(driver, dsn string) (*Store, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	case DriverSQLite:
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	store := New(db)
	if err := store.AutoMigrate(); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return store, nil
}

// New wraps an existing gorm handle without migrating.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for health checks.
func (s *Store) DB() *gorm.DB { return s.db }

// AutoMigrate creates or migrates the registry tables.
func (s *Store) AutoMigrate() error {
	return AutoMigrate(s.db)
}

// Update runs fn inside a database transaction; mutations commit only when fn
// returns nil.
func (s *Store) Update(ctx context.Context, fn func(escrow.State) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&stateTx{tx: tx, locking: true})
	})
}

// View runs fn against a read-only snapshot of the store.
func (s *Store) View(ctx context.Context, fn func(escrow.State) error) error {
	return fn(&stateTx{tx: s.db.WithContext(ctx)})
}

// AccountBalance reports the settled balance for a receiving account.
func (s *Store) AccountBalance(ctx context.Context, account, currency string) (*big.Int, error) {
	var row AccountRow
	err := s.db.WithContext(ctx).First(&row, "id = ? AND currency = ?", account, currency).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, err
	}
	return parseAmount(row.Balance)
}

// stateTx adapts one gorm transaction (or plain session for reads) to the
// engine's State interface.
type stateTx struct {
	tx      *gorm.DB
	locking bool
}

// forUpdate applies a row lock on dialects that support it. SQLite has no row
// locks; its single-writer transactions give the same guarantee.
func (s *stateTx) forUpdate(tx *gorm.DB) *gorm.DB {
	if s.locking && tx.Dialector.Name() == DriverPostgres {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

func (s *stateTx) EscrowGet(id string) (*escrow.Escrow, bool, error) {
	var row EscrowRow
	err := s.forUpdate(s.tx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	esc, err := fromEscrowRow(row)
	if err != nil {
		return nil, false, err
	}
	return esc, true, nil
}

func (s *stateTx) EscrowPut(e *escrow.Escrow) error {
	sanitized, err := escrow.SanitizeEscrow(e)
	if err != nil {
		return err
	}
	row := toEscrowRow(sanitized)
	return s.tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
}

func (s *stateTx) VaultGet(id string) (*escrow.Vault, bool, error) {
	var row VaultRow
	err := s.forUpdate(s.tx).First(&row, "escrow_id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	amount, err := parseAmount(row.Amount)
	if err != nil {
		return nil, false, err
	}
	return &escrow.Vault{
		EscrowID: row.EscrowID,
		Amount:   amount,
		Currency: row.Currency,
		FundedAt: row.FundedAt,
	}, true, nil
}

func (s *stateTx) VaultPut(v *escrow.Vault) error {
	if v == nil || v.Amount == nil {
		return fmt.Errorf("nil vault")
	}
	row := VaultRow{
		EscrowID: v.EscrowID,
		Amount:   v.Amount.String(),
		Currency: v.Currency,
		FundedAt: v.FundedAt,
	}
	return s.tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
}

func (s *stateTx) VaultDelete(id string) error {
	res := s.tx.Delete(&VaultRow{}, "escrow_id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("vault %s not found", id)
	}
	return nil
}

func (s *stateTx) AccountCredit(account string, amount *big.Int, currency string) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("credit amount must be positive")
	}
	var row AccountRow
	err := s.forUpdate(s.tx).First(&row, "id = ? AND currency = ?", account, currency).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		row = AccountRow{ID: account, Currency: currency, Balance: amount.String()}
		return s.tx.Create(&row).Error
	case err != nil:
		return err
	}
	balance, err := parseAmount(row.Balance)
	if err != nil {
		return err
	}
	balance.Add(balance, amount)
	return s.tx.Model(&AccountRow{}).
		Where("id = ? AND currency = ?", account, currency).
		Update("balance", balance.String()).Error
}

func (s *stateTx) EscrowsByBuyer(buyer string) ([]*escrow.Escrow, error) {
	return s.escrowsWhere("buyer = ?", buyer)
}

func (s *stateTx) EscrowsBySeller(seller string) ([]*escrow.Escrow, error) {
	return s.escrowsWhere("seller = ?", seller)
}

func (s *stateTx) escrowsWhere(query string, arg string) ([]*escrow.Escrow, error) {
	var rows []EscrowRow
	if err := s.tx.Where(query, arg).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*escrow.Escrow, 0, len(rows))
	for _, row := range rows {
		esc, err := fromEscrowRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, esc)
	}
	return out, nil
}

func toEscrowRow(e *escrow.Escrow) EscrowRow {
	return EscrowRow{
		ID:         e.ID,
		Buyer:      e.Buyer,
		Seller:     e.Seller,
		Amount:     e.Amount.String(),
		Currency:   e.Currency,
		OrderID:    e.OrderID,
		Status:     e.Status.String(),
		CreatedAt:  e.CreatedAt,
		FundedAt:   e.FundedAt,
		ReleasedAt: e.ReleasedAt,
	}
}

func fromEscrowRow(row EscrowRow) (*escrow.Escrow, error) {
	amount, err := parseAmount(row.Amount)
	if err != nil {
		return nil, err
	}
	status, err := escrow.ParseStatus(row.Status)
	if err != nil {
		return nil, err
	}
	return &escrow.Escrow{
		ID:         row.ID,
		Buyer:      row.Buyer,
		Seller:     row.Seller,
		Amount:     amount,
		Currency:   row.Currency,
		OrderID:    row.OrderID,
		Status:     status,
		CreatedAt:  row.CreatedAt,
		FundedAt:   row.FundedAt,
		ReleasedAt: row.ReleasedAt,
	}, nil
}

func parseAmount(raw string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok {
		return nil, fmt.Errorf("malformed stored amount %q", raw)
	}
	return amount, nil
}
