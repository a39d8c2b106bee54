package exchange

import (
	"runtime"
	"time"

	"github.com/google/uuid"
)

// The matcher runs on the task pool after every successful add or change.
// One loop iteration snapshots the candidate set under the read lock, then
// attempts each candidate under the write lock with full revalidation. A
// candidate that fails revalidation is skipped silently: concurrent mutation
// is an expected race here, not a fault.
//
// A trade happens in two critical sections. The first transitions both orders
// Waiting -> InTransaction atomically; from that point the pair is fenced
// from every other matcher and from owner mutation (which observes
// ErrOngoingTransaction). The second decrements shares, appends the ledger
// record and releases each order to Complete or back to Waiting. Mutual
// exclusion between trades is carried by the state machine, not by holding
// the lock across the whole trade.

type tradeOutcome int

const (
	tradeExecuted  tradeOutcome = iota
	tradeSkipped                // candidate no longer matches; drop it
	tradeBusy                   // one side mid-transaction; worth retrying
	tradeOrderDone              // our own order can no longer trade
)

func (e *Exchange) scheduleMatch(id uuid.UUID) {
	if !e.pool.Submit(func() { e.matchLoop(id) }) {
		e.log.Debugw("match_not_scheduled", "order_id", id)
	}
}

// matchLoop trades order id against the opposite side of the book until the
// order is exhausted, removed, or no compatible counter-order remains.
func (e *Exchange) matchLoop(id uuid.UUID) {
	for {
		candidates, ok := e.candidates(id)
		if !ok || len(candidates) == 0 {
			return
		}

		progress, busy := false, false
		for _, cid := range candidates {
			_, outcome := e.tryTrade(id, cid)
			switch outcome {
			case tradeExecuted:
				progress = true
			case tradeBusy:
				busy = true
			case tradeSkipped:
				e.log.Debugw("match_candidate_skipped", "order_id", id, "candidate_id", cid)
			case tradeOrderDone:
				return
			}
		}
		if !progress {
			if !busy {
				return
			}
			// Every remaining candidate (or our own order) is fenced by a
			// trade in flight on another goroutine. Those critical sections
			// are short; yield and rescan.
			runtime.Gosched()
		}
	}
}

// candidates returns the ids of all counter-orders whose company and price
// match order id's current values. InTransaction counter-orders are included:
// a concurrently trading order may free up with remaining shares before we
// get to it. The second return is false when the order itself can no longer
// trade at all.
func (e *Exchange) candidates(id uuid.UUID) ([]uuid.UUID, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	o, ok := e.orders[id]
	if !ok || o.State.Terminal() || o.Shares == 0 {
		return nil, false
	}
	var out []uuid.UUID
	for cid, c := range e.orders {
		if c.State != Waiting && c.State != InTransaction {
			continue
		}
		if c.Shares == 0 || !o.matches(c) {
			continue
		}
		out = append(out, cid)
	}
	return out, true
}

// tryTrade attempts one trade between order id and candidate cid.
func (e *Exchange) tryTrade(id, cid uuid.UUID) (Transaction, tradeOutcome) {
	e.mu.Lock()
	o, ok := e.orders[id]
	if !ok || o.State.Terminal() || o.Shares == 0 {
		e.mu.Unlock()
		return Transaction{}, tradeOrderDone
	}
	if o.State == InTransaction {
		e.mu.Unlock()
		return Transaction{}, tradeBusy
	}
	c, ok := e.orders[cid]
	if !ok || c.Shares == 0 || !o.matches(c) {
		e.mu.Unlock()
		return Transaction{}, tradeSkipped
	}
	if c.State != Waiting {
		busy := c.State == InTransaction
		e.mu.Unlock()
		if busy {
			return Transaction{}, tradeBusy
		}
		return Transaction{}, tradeSkipped
	}

	// Revalidation passed with both sides Waiting: fence the pair.
	o.setState(InTransaction)
	c.setState(InTransaction)
	shares := min(o.Shares, c.Shares)
	price := o.Price
	e.mu.Unlock()

	e.log.Debugw("trade_reserved",
		"order_id", o.ID, "candidate_id", c.ID, "shares", shares, "price", price)

	e.mu.Lock()
	tx := e.commitTrade(o, c, shares)
	e.mu.Unlock()

	e.obs.TradeExecuted(shares)
	e.log.Infow("trade_executed",
		"transaction_id", tx.ID, "company", tx.Company,
		"offer_id", tx.OfferID, "demand_id", tx.DemandID,
		"shares", tx.Shares, "price", tx.Price)
	e.notify(tx)
	return tx, tradeExecuted
}

// commitTrade finalizes a fenced pair: decrements shares, appends the ledger
// record and releases each order. Called with the write lock held; both
// orders must still be InTransaction (setState panics otherwise — anything
// else means the fence was violated).
func (e *Exchange) commitTrade(a, b *Order, shares int64) Transaction {
	offer, demand := a, b
	if offer.Kind != Offer {
		offer, demand = b, a
	}

	offer.Shares -= shares
	demand.Shares -= shares
	if offer.Shares < 0 || demand.Shares < 0 {
		panic("trade oversold: negative remaining shares")
	}

	tx := Transaction{
		ID:          uuid.New(),
		OfferID:     offer.ID,
		DemandID:    demand.ID,
		OfferOwner:  offer.OwnerID,
		DemandOwner: demand.OwnerID,
		Company:     offer.Company,
		Shares:      shares,
		Price:       offer.Price,
		ExecutedAt:  time.Now(),
	}
	e.history = append(e.history, tx)

	release(offer)
	release(demand)
	return tx
}

// release moves an order out of InTransaction: Complete when fully traded,
// otherwise back to Waiting.
func release(o *Order) {
	if o.Shares == 0 {
		o.setState(Complete)
	} else {
		o.setState(Waiting)
	}
}
