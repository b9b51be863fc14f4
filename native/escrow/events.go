package escrow

import "strconv"

// Canonical event types published to observers. Consumers treat the stream as
// at-least-once and deduplicate on escrow id + event kind.
const (
	EventTypeCreated  = "escrow.created"
	EventTypeFunded   = "escrow.funded"
	EventTypeReleased = "escrow.released"
	EventTypeDisputed = "escrow.disputed"
	EventTypeRefunded = "escrow.refunded"
)

// Event is the payload emitted for every committed state transition. It
// implements core/events.Event.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// EventType returns the event kind.
func (e *Event) EventType() string {
	if e == nil {
		return ""
	}
	return e.Type
}

// NewCreatedEvent returns the canonical payload for a newly created escrow.
func NewCreatedEvent(e *Escrow) *Event { return newEvent(EventTypeCreated, e) }

// NewFundedEvent returns the payload emitted when the buyer's payment moves
// into the vault.
func NewFundedEvent(e *Escrow) *Event { return newEvent(EventTypeFunded, e) }

// NewReleasedEvent returns the payload emitted when vault funds settle to the
// seller.
func NewReleasedEvent(e *Escrow) *Event { return newEvent(EventTypeReleased, e) }

// NewDisputedEvent returns the payload emitted when either party freezes the
// escrow pending an admin decision.
func NewDisputedEvent(e *Escrow) *Event { return newEvent(EventTypeDisputed, e) }

// NewRefundedEvent returns the payload emitted when vault funds return to the
// buyer.
func NewRefundedEvent(e *Escrow) *Event { return newEvent(EventTypeRefunded, e) }

func newEvent(eventType string, e *Escrow) *Event {
	attrs := make(map[string]string)
	if e == nil {
		return &Event{Type: eventType, Attributes: attrs}
	}
	sanitized, err := SanitizeEscrow(e)
	if err != nil {
		return &Event{Type: eventType, Attributes: attrs}
	}
	attrs["escrowId"] = sanitized.ID
	attrs["buyer"] = sanitized.Buyer
	attrs["seller"] = sanitized.Seller
	attrs["amount"] = sanitized.Amount.String()
	attrs["currency"] = sanitized.Currency
	attrs["orderId"] = sanitized.OrderID
	attrs["status"] = sanitized.Status.String()
	attrs["createdAt"] = strconv.FormatInt(sanitized.CreatedAt.Unix(), 10)
	if sanitized.FundedAt != nil {
		attrs["fundedAt"] = strconv.FormatInt(sanitized.FundedAt.Unix(), 10)
	}
	if sanitized.ReleasedAt != nil {
		attrs["releasedAt"] = strconv.FormatInt(sanitized.ReleasedAt.Unix(), 10)
	}
	return &Event{Type: eventType, Attributes: attrs}
}
