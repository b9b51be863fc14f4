package escrow

import (
	"math/big"
	"testing"
	"time"
)

func TestStatusNames(t *testing.T) {
	cases := map[Status]string{
		StatusCreated:  "Created",
		StatusFunded:   "Funded",
		StatusReleased: "Released",
		StatusDisputed: "Disputed",
		StatusRefunded: "Refunded",
	}
	for status, want := range cases {
		if got := status.String(); got != want {
			t.Fatalf("String(%d): got %q, want %q", status, got, want)
		}
		parsed, err := ParseStatus(want)
		if err != nil {
			t.Fatalf("ParseStatus(%q): %v", want, err)
		}
		if parsed != status {
			t.Fatalf("ParseStatus(%q): got %d, want %d", want, parsed, status)
		}
	}
	if _, err := ParseStatus("Pending"); err == nil {
		t.Fatal("expected error for unknown status name")
	}
	if Status(99).Valid() {
		t.Fatal("out-of-range status must not be valid")
	}
}

func TestStatusTerminal(t *testing.T) {
	for _, status := range []Status{StatusReleased, StatusRefunded} {
		if !status.Terminal() {
			t.Fatalf("%s must be terminal", status)
		}
	}
	for _, status := range []Status{StatusCreated, StatusFunded, StatusDisputed} {
		if status.Terminal() {
			t.Fatalf("%s must not be terminal", status)
		}
	}
}

func TestEscrowCloneIsDeep(t *testing.T) {
	fundedAt := time.Unix(100, 0)
	original := &Escrow{
		ID:       "e1",
		Buyer:    "buyerA",
		Seller:   "sellerB",
		Amount:   big.NewInt(500),
		Currency: "USD",
		OrderID:  "order1",
		Status:   StatusFunded,
		FundedAt: &fundedAt,
	}
	clone := original.Clone()
	clone.Amount.SetInt64(9_999)
	*clone.FundedAt = time.Unix(200, 0)

	if original.Amount.Int64() != 500 {
		t.Fatalf("clone shares amount with original")
	}
	if !original.FundedAt.Equal(fundedAt) {
		t.Fatalf("clone shares fundedAt with original")
	}
}

func TestSanitizeEscrow(t *testing.T) {
	base := func() *Escrow {
		return &Escrow{
			ID:       " e1 ",
			Buyer:    "buyerA",
			Seller:   "sellerB",
			Amount:   big.NewInt(100),
			Currency: "usd",
			Status:   StatusCreated,
		}
	}

	sanitized, err := SanitizeEscrow(base())
	if err != nil {
		t.Fatalf("SanitizeEscrow: %v", err)
	}
	if sanitized.ID != "e1" {
		t.Fatalf("id not trimmed: %q", sanitized.ID)
	}
	if sanitized.Currency != "USD" {
		t.Fatalf("currency not normalised: %q", sanitized.Currency)
	}

	for name, mutate := range map[string]func(*Escrow){
		"empty id":        func(e *Escrow) { e.ID = "  " },
		"empty buyer":     func(e *Escrow) { e.Buyer = "" },
		"empty seller":    func(e *Escrow) { e.Seller = "" },
		"empty currency":  func(e *Escrow) { e.Currency = "" },
		"negative amount": func(e *Escrow) { e.Amount = big.NewInt(-1) },
		"bad status":      func(e *Escrow) { e.Status = Status(42) },
	} {
		esc := base()
		mutate(esc)
		if _, err := SanitizeEscrow(esc); err == nil {
			t.Fatalf("%s: expected sanitize error", name)
		}
	}
}

func TestVaultCloneIsDeep(t *testing.T) {
	vault := &Vault{EscrowID: "e1", Amount: big.NewInt(10), Currency: "USD"}
	clone := vault.Clone()
	clone.Amount.SetInt64(77)
	if vault.Amount.Int64() != 10 {
		t.Fatal("vault clone shares amount")
	}
}
