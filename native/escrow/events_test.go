package escrow

import (
	"math/big"
	"testing"
	"time"
)

func TestEventAttributes(t *testing.T) {
	fundedAt := time.Unix(1_700_000_100, 0).UTC()
	esc := &Escrow{
		ID:        "e1",
		Buyer:     "buyerA",
		Seller:    "sellerB",
		Amount:    big.NewInt(10_000),
		Currency:  "USD",
		OrderID:   "order1",
		Status:    StatusFunded,
		CreatedAt: time.Unix(1_700_000_000, 0).UTC(),
		FundedAt:  &fundedAt,
	}

	evt := NewFundedEvent(esc)
	if evt.EventType() != EventTypeFunded {
		t.Fatalf("type: got %q", evt.EventType())
	}
	want := map[string]string{
		"escrowId":  "e1",
		"buyer":     "buyerA",
		"seller":    "sellerB",
		"amount":    "10000",
		"currency":  "USD",
		"orderId":   "order1",
		"status":    "Funded",
		"createdAt": "1700000000",
		"fundedAt":  "1700000100",
	}
	for key, value := range want {
		if got := evt.Attributes[key]; got != value {
			t.Fatalf("attribute %s: got %q, want %q", key, got, value)
		}
	}
	if _, ok := evt.Attributes["releasedAt"]; ok {
		t.Fatal("releasedAt must be absent before release")
	}
}

func TestEventConstructorsCoverAllKinds(t *testing.T) {
	esc := &Escrow{
		ID:       "e1",
		Buyer:    "buyerA",
		Seller:   "sellerB",
		Amount:   big.NewInt(1),
		Currency: "USD",
		Status:   StatusCreated,
	}
	cases := map[string]*Event{
		EventTypeCreated:  NewCreatedEvent(esc),
		EventTypeFunded:   NewFundedEvent(esc),
		EventTypeReleased: NewReleasedEvent(esc),
		EventTypeDisputed: NewDisputedEvent(esc),
		EventTypeRefunded: NewRefundedEvent(esc),
	}
	for want, evt := range cases {
		if evt.EventType() != want {
			t.Fatalf("got %q, want %q", evt.EventType(), want)
		}
	}
}

func TestEventNilEscrow(t *testing.T) {
	evt := NewCreatedEvent(nil)
	if evt.EventType() != EventTypeCreated {
		t.Fatalf("type: got %q", evt.EventType())
	}
	if len(evt.Attributes) != 0 {
		t.Fatalf("nil escrow must yield empty attributes, got %v", evt.Attributes)
	}
}
