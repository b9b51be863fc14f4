package storage

import (
	"time"

	"gorm.io/gorm"
)

// EscrowRow is the persisted form of an escrow record. Amounts are stored as
// base-10 strings so arbitrary-precision values survive every driver.
type EscrowRow struct {
	ID         string `gorm:"primaryKey;size:128"`
	Buyer      string `gorm:"size:128;index"`
	Seller     string `gorm:"size:128;index"`
	Amount     string `gorm:"size:64;not null"`
	Currency   string `gorm:"size:16;not null"`
	OrderID    string `gorm:"size:128;index"`
	Status     string `gorm:"size:16;index"`
	CreatedAt  time.Time
	FundedAt   *time.Time
	ReleasedAt *time.Time
}

// TableName pins the logical table name from the persistence contract.
func (EscrowRow) TableName() string { return "escrows" }

// VaultRow exists only while funds are held; one row per active escrow.
type VaultRow struct {
	EscrowID string `gorm:"primaryKey;size:128"`
	Amount   string `gorm:"size:64;not null"`
	Currency string `gorm:"size:16;not null"`
	FundedAt time.Time
}

// TableName pins the logical table name from the persistence contract.
func (VaultRow) TableName() string { return "vaults" }

// AccountRow accumulates settled funds per receiving account and currency.
type AccountRow struct {
	ID        string `gorm:"primaryKey;size:128"`
	Currency  string `gorm:"primaryKey;size:16"`
	Balance   string `gorm:"size:64;not null"`
	UpdatedAt time.Time
}

// TableName pins the logical table name.
func (AccountRow) TableName() string { return "accounts" }

// AutoMigrate creates or migrates all registry tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&EscrowRow{}, &VaultRow{}, &AccountRow{})
}
