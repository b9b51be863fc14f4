package escrow

import (
	"fmt"
	"math/big"
	"strings"
	"time"
)

// Status represents the lifecycle states of an escrow record.
type Status uint8

const (
	StatusCreated Status = iota
	StatusFunded
	StatusReleased
	StatusDisputed
	StatusRefunded
)

var statusNames = map[Status]string{
	StatusCreated:  "Created",
	StatusFunded:   "Funded",
	StatusReleased: "Released",
	StatusDisputed: "Disputed",
	StatusRefunded: "Refunded",
}

// String returns the canonical name used in persistence and event payloads.
func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool {
	_, ok := statusNames[s]
	return ok
}

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusReleased || s == StatusRefunded
}

// ParseStatus converts a stored status name back to its enum value.
func ParseStatus(name string) (Status, error) {
	trimmed := strings.TrimSpace(name)
	for status, candidate := range statusNames {
		if candidate == trimmed {
			return status, nil
		}
	}
	return 0, fmt.Errorf("unknown escrow status: %q", name)
}

// Escrow captures the immutable metadata and runtime status of a single escrow
// agreement. The identifier is supplied by the commerce collaborator and is
// the primary key; buyer, seller, amount and order reference never change
// after creation.
type Escrow struct {
	ID         string
	Buyer      string
	Seller     string
	Amount     *big.Int
	Currency   string
	OrderID    string
	Status     Status
	CreatedAt  time.Time
	FundedAt   *time.Time
	ReleasedAt *time.Time
}

// Clone returns a deep copy so callers can safely mutate the copy without
// affecting the stored instance.
func (e *Escrow) Clone() *Escrow {
	if e == nil {
		return nil
	}
	clone := *e
	if e.Amount != nil {
		clone.Amount = new(big.Int).Set(e.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	if e.FundedAt != nil {
		fundedAt := *e.FundedAt
		clone.FundedAt = &fundedAt
	}
	if e.ReleasedAt != nil {
		releasedAt := *e.ReleasedAt
		clone.ReleasedAt = &releasedAt
	}
	return &clone
}

// NormalizeCurrency validates a currency code and returns the canonical
// uppercase form. Codes are opaque beyond basic shape checks.
func NormalizeCurrency(code string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(code))
	if trimmed == "" {
		return "", fmt.Errorf("currency code required")
	}
	if len(trimmed) > 16 {
		return "", fmt.Errorf("currency code too long: %q", code)
	}
	return trimmed, nil
}

// SanitizeEscrow validates and normalises the supplied escrow definition,
// returning a cloned instance with canonical currency casing and a non-nil
// amount. The original value is not mutated.
func SanitizeEscrow(e *Escrow) (*Escrow, error) {
	if e == nil {
		return nil, fmt.Errorf("nil escrow")
	}
	clone := e.Clone()
	clone.ID = strings.TrimSpace(clone.ID)
	if clone.ID == "" {
		return nil, fmt.Errorf("escrow id required")
	}
	if strings.TrimSpace(clone.Buyer) == "" {
		return nil, fmt.Errorf("buyer required")
	}
	if strings.TrimSpace(clone.Seller) == "" {
		return nil, fmt.Errorf("seller required")
	}
	currency, err := NormalizeCurrency(clone.Currency)
	if err != nil {
		return nil, err
	}
	clone.Currency = currency
	if clone.Amount.Sign() < 0 {
		return nil, fmt.Errorf("escrow amount must be non-negative")
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("invalid escrow status: %d", clone.Status)
	}
	return clone, nil
}

// Vault holds the funds reserved for a funded escrow. A vault exists if and
// only if the record's status is Funded or Disputed, and its value equals the
// record's amount. It is emptied exactly once, atomically with settlement.
type Vault struct {
	EscrowID string
	Amount   *big.Int
	Currency string
	FundedAt time.Time
}

// Clone returns a deep copy of the vault.
func (v *Vault) Clone() *Vault {
	if v == nil {
		return nil
	}
	clone := *v
	if v.Amount != nil {
		clone.Amount = new(big.Int).Set(v.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	return &clone
}

// Payment describes a cleared buyer payment presented to Fund. The source is
// the collaborator's reference for where the money came from; the registry
// records it but does not interpret it.
type Payment struct {
	Source   string
	Amount   *big.Int
	Currency string
}
