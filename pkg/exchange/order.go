package exchange

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Kind discriminates the two sides of the book.
type Kind int

const (
	Offer  Kind = iota // sell side
	Demand             // buy side
)

func (k Kind) String() string {
	switch k {
	case Offer:
		return "offer"
	case Demand:
		return "demand"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// State is an order's lifecycle position. Waiting orders are eligible for
// matching and mutation; InTransaction orders are fenced by exactly one
// in-flight trade; Complete and Removed are absorbing.
type State int

const (
	Waiting State = iota
	InTransaction
	Complete
	Removed
)

func (s State) String() string {
	switch s {
	case Waiting:
		return "waiting"
	case InTransaction:
		return "in_transaction"
	case Complete:
		return "complete"
	case Removed:
		return "removed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether the state is absorbing.
func (s State) Terminal() bool {
	return s == Complete || s == Removed
}

func (s State) canTransition(next State) bool {
	switch s {
	case Waiting:
		return next == InTransaction || next == Removed
	case InTransaction:
		return next == Waiting || next == Complete
	default:
		return false
	}
}

// Order is one offer or demand on the book. ID, OwnerID, Company and Kind are
// fixed at submission; Shares, Price and State mutate only under the engine's
// write lock. Snapshot accessors hand out value copies, never the live record.
type Order struct {
	ID      uuid.UUID
	OwnerID uuid.UUID
	Company string
	Kind    Kind
	Shares  int64
	Price   decimal.Decimal
	State   State
}

// matches reports whether o and other can trade: opposite kinds, different
// owners, same company, exactly equal price. Matching is symmetric; there is
// no best-price or arrival-time ranking.
func (o *Order) matches(other *Order) bool {
	return o.Kind != other.Kind &&
		o.OwnerID != other.OwnerID &&
		o.Company == other.Company &&
		o.Price.Equal(other.Price)
}

// setState enforces the lifecycle. Called with the write lock held. An illegal
// transition means engine-internal state corruption, so it panics rather than
// returning an error.
func (o *Order) setState(next State) {
	if !o.State.canTransition(next) {
		panic(fmt.Sprintf("order %s: illegal state transition %s -> %s", o.ID, o.State, next))
	}
	o.State = next
}

// Transaction records one executed trade between a matched offer and demand.
// Records are immutable once appended to the ledger.
type Transaction struct {
	ID          uuid.UUID
	OfferID     uuid.UUID
	DemandID    uuid.UUID
	OfferOwner  uuid.UUID
	DemandOwner uuid.UUID
	Company     string
	Shares      int64
	Price       decimal.Decimal
	ExecutedAt  time.Time
}
