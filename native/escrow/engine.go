package escrow

import (
	"context"
	"errors"
	"hash/fnv"
	"math/big"
	"sync"
	"time"

	"github.com/fayedaihall/tesseracts-world/core/events"
)

var errNilStore = errors.New("escrow engine: store not configured")

// State is one consistent view of the registry storage. All mutations applied
// through a single State instance commit or roll back together; the engine
// relies on that to keep vault removal and settlement atomic with the status
// transition.
type State interface {
	EscrowGet(id string) (*Escrow, bool, error)
	EscrowPut(*Escrow) error
	VaultGet(id string) (*Vault, bool, error)
	VaultPut(*Vault) error
	VaultDelete(id string) error
	// AccountCredit deposits the amount into the destination's receiving
	// account. Called at most once per escrow, inside the settling
	// transaction.
	AccountCredit(account string, amount *big.Int, currency string) error
	EscrowsByBuyer(buyer string) ([]*Escrow, error)
	EscrowsBySeller(seller string) ([]*Escrow, error)
}

// Store provides transactional access to registry storage. Update runs fn
// against a writable State and commits only when fn returns nil; View runs fn
// read-only.
type Store interface {
	View(ctx context.Context, fn func(State) error) error
	Update(ctx context.Context, fn func(State) error) error
}

const lockStripes = 64

// Engine owns the escrow records and their vaults. Mutating operations on the
// same escrow id are mutually exclusive; operations on distinct ids proceed in
// parallel. The engine is safe for concurrent use.
type Engine struct {
	store   Store
	emitter events.Emitter
	nowFn   func() time.Time
	locks   [lockStripes]sync.Mutex
}

// NewEngine creates an engine backed by the given store with a no-op emitter.
// Callers can override the emitter via SetEmitter.
func NewEngine(store Store) *Engine {
	return &Engine{
		store:   store,
		emitter: events.NoopEmitter{},
		nowFn:   time.Now,
	}
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op
// implementation. Emission is fire-and-forget and never gates a commit.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source. Primarily intended for tests.
func (e *Engine) SetNowFunc(now func() time.Time) {
	if now == nil {
		e.nowFn = time.Now
		return
	}
	e.nowFn = now
}

func (e *Engine) emit(evt *Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

func (e *Engine) lockFor(id string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return &e.locks[h.Sum32()%lockStripes]
}

func (e *Engine) update(ctx context.Context, fn func(State) error) error {
	if e == nil || e.store == nil {
		return errNilStore
	}
	err := e.store.Update(ctx, fn)
	if err == nil || IsBusinessError(err) {
		return err
	}
	return storageError(err)
}

func (e *Engine) view(ctx context.Context, fn func(State) error) error {
	if e == nil || e.store == nil {
		return errNilStore
	}
	err := e.store.View(ctx, fn)
	if err == nil || IsBusinessError(err) {
		return err
	}
	return storageError(err)
}

// Create registers a new escrow for an order. The id must be unused and the
// amount strictly positive; no vault exists until the escrow is funded.
func (e *Engine) Create(ctx context.Context, id, buyer, seller string, amount *big.Int, currency, orderID string) (*Escrow, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	candidate, err := SanitizeEscrow(&Escrow{
		ID:       id,
		Buyer:    buyer,
		Seller:   seller,
		Amount:   amount,
		Currency: currency,
		OrderID:  orderID,
		Status:   StatusCreated,
	})
	if err != nil {
		return nil, err
	}
	candidate.CreatedAt = e.nowFn().UTC()

	mu := e.lockFor(candidate.ID)
	mu.Lock()
	defer mu.Unlock()

	err = e.update(ctx, func(s State) error {
		if _, ok, err := s.EscrowGet(candidate.ID); err != nil {
			return err
		} else if ok {
			return ErrAlreadyExists
		}
		return s.EscrowPut(candidate)
	})
	if err != nil {
		return nil, err
	}
	e.emit(NewCreatedEvent(candidate))
	return candidate.Clone(), nil
}

// Fund moves a cleared buyer payment into a newly created vault for the
// escrow. The payment must equal the escrow amount exactly, in the escrow's
// currency.
func (e *Engine) Fund(ctx context.Context, id string, payment Payment) (*Escrow, error) {
	mu := e.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	var funded *Escrow
	err := e.update(ctx, func(s State) error {
		esc, ok, err := s.EscrowGet(id)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotFound
		}
		if esc.Status != StatusCreated {
			return ErrInvalidState
		}
		if payment.Amount == nil || esc.Amount.Cmp(payment.Amount) != 0 {
			return ErrAmountMismatch
		}
		if payment.Currency != "" {
			currency, err := NormalizeCurrency(payment.Currency)
			if err != nil || currency != esc.Currency {
				return ErrAmountMismatch
			}
		}
		now := e.nowFn().UTC()
		if err := s.VaultPut(&Vault{
			EscrowID: esc.ID,
			Amount:   new(big.Int).Set(esc.Amount),
			Currency: esc.Currency,
			FundedAt: now,
		}); err != nil {
			return err
		}
		esc.Status = StatusFunded
		esc.FundedAt = &now
		if err := s.EscrowPut(esc); err != nil {
			return err
		}
		funded = esc
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.emit(NewFundedEvent(funded))
	return funded.Clone(), nil
}

// Release settles a funded escrow in favour of the seller. Either party may
// request it; the vault is removed and its full value credited to the
// seller's receiving account in the same transaction.
func (e *Engine) Release(ctx context.Context, id, requestedBy string) (*Escrow, error) {
	mu := e.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	var released *Escrow
	err := e.update(ctx, func(s State) error {
		esc, ok, err := s.EscrowGet(id)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotFound
		}
		if esc.Status != StatusFunded {
			return ErrInvalidState
		}
		if requestedBy != esc.Buyer && requestedBy != esc.Seller {
			return ErrUnauthorized
		}
		if err := e.settle(s, esc, esc.Seller, StatusReleased); err != nil {
			return err
		}
		released = esc
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.emit(NewReleasedEvent(released))
	return released.Clone(), nil
}

// Dispute freezes a funded escrow pending an admin decision. The vault is
// retained unchanged.
func (e *Engine) Dispute(ctx context.Context, id, requestedBy string) (*Escrow, error) {
	mu := e.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	var disputed *Escrow
	err := e.update(ctx, func(s State) error {
		esc, ok, err := s.EscrowGet(id)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotFound
		}
		if esc.Status != StatusFunded {
			return ErrInvalidState
		}
		if requestedBy != esc.Buyer && requestedBy != esc.Seller {
			return ErrUnauthorized
		}
		esc.Status = StatusDisputed
		if err := s.EscrowPut(esc); err != nil {
			return err
		}
		disputed = esc
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.emit(NewDisputedEvent(disputed))
	return disputed.Clone(), nil
}

// Resolve settles a disputed escrow according to the admin decision: funds go
// to the seller when releaseToSeller is true, back to the buyer otherwise.
// The calling surface authenticates the admin capability before invoking
// this; a resolved escrow is terminal and a second call fails with
// ErrInvalidState.
func (e *Engine) Resolve(ctx context.Context, id string, releaseToSeller bool) (*Escrow, error) {
	mu := e.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	var resolved *Escrow
	err := e.update(ctx, func(s State) error {
		esc, ok, err := s.EscrowGet(id)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotFound
		}
		if esc.Status != StatusDisputed {
			return ErrInvalidState
		}
		destination, status := esc.Buyer, StatusRefunded
		if releaseToSeller {
			destination, status = esc.Seller, StatusReleased
		}
		if err := e.settle(s, esc, destination, status); err != nil {
			return err
		}
		resolved = esc
		return nil
	})
	if err != nil {
		return nil, err
	}
	if releaseToSeller {
		e.emit(NewReleasedEvent(resolved))
	} else {
		e.emit(NewRefundedEvent(resolved))
	}
	return resolved.Clone(), nil
}

// settle removes the vault, credits its full value to exactly one destination
// and records the terminal status. The enclosing transaction guarantees
// all-or-nothing.
func (e *Engine) settle(s State, esc *Escrow, destination string, status Status) error {
	vault, ok, err := s.VaultGet(esc.ID)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("vault missing for funded escrow")
	}
	if err := s.VaultDelete(esc.ID); err != nil {
		return err
	}
	if err := s.AccountCredit(destination, vault.Amount, vault.Currency); err != nil {
		return err
	}
	esc.Status = status
	if status == StatusReleased {
		now := e.nowFn().UTC()
		esc.ReleasedAt = &now
	}
	return s.EscrowPut(esc)
}

// Get returns the escrow record for the id, or ErrNotFound.
func (e *Engine) Get(ctx context.Context, id string) (*Escrow, error) {
	var found *Escrow
	err := e.view(ctx, func(s State) error {
		esc, ok, err := s.EscrowGet(id)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotFound
		}
		found = esc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return found.Clone(), nil
}

// ListByBuyer returns every escrow where the given party is the buyer. Order
// is unspecified; the query never mutates state.
func (e *Engine) ListByBuyer(ctx context.Context, buyer string) ([]*Escrow, error) {
	var out []*Escrow
	err := e.view(ctx, func(s State) error {
		records, err := s.EscrowsByBuyer(buyer)
		if err != nil {
			return err
		}
		out = cloneAll(records)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListBySeller returns every escrow where the given party is the seller.
func (e *Engine) ListBySeller(ctx context.Context, seller string) ([]*Escrow, error) {
	var out []*Escrow
	err := e.view(ctx, func(s State) error {
		records, err := s.EscrowsBySeller(seller)
		if err != nil {
			return err
		}
		out = cloneAll(records)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func cloneAll(records []*Escrow) []*Escrow {
	out := make([]*Escrow, 0, len(records))
	for _, rec := range records {
		out = append(out, rec.Clone())
	}
	return out
}
