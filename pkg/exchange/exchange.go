// Package exchange implements the matching engine: the order store and its
// state machine, the transaction ledger, the matcher, and the asynchronous
// notification protocol back to agents.
//
// One reader/writer lock guards the order store, the ledger and the agent
// registry. Every decision-read happens inside the same critical section as
// the transition it justifies; there is no read-then-act across two lock
// acquisitions. Matching and notification delivery run on a shared task pool,
// so submitting an order returns immediately.
package exchange

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Exchange is the engine facade. Construct with New and pass it explicitly to
// collaborators; there is no package-level default instance.
type Exchange struct {
	log  *zap.SugaredLogger
	pool *Pool
	obs  Observer

	mu        sync.RWMutex
	orders    map[uuid.UUID]*Order
	history   []Transaction
	agents    map[uuid.UUID]Notifiers
	listeners []TradeListener
}

// Option configures an Exchange at construction time.
type Option func(*Exchange)

// WithObserver installs the engine-level accounting observer.
func WithObserver(obs Observer) Option {
	return func(e *Exchange) { e.obs = obs }
}

// WithTradeListener adds a listener invoked for every executed transaction.
func WithTradeListener(fn TradeListener) Option {
	return func(e *Exchange) { e.listeners = append(e.listeners, fn) }
}

// New returns a ready engine. A nil logger is replaced with a no-op one.
func New(log *zap.SugaredLogger, opts ...Option) *Exchange {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	e := &Exchange{
		log:    log,
		pool:   NewPool(log),
		obs:    nopObserver{},
		orders: make(map[uuid.UUID]*Order),
		agents: make(map[uuid.UUID]Notifiers),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// AddTradeListener registers fn for every future transaction. Typically done
// during wiring, before trading starts.
func (e *Exchange) AddTradeListener(fn TradeListener) {
	e.mu.Lock()
	e.listeners = append(e.listeners, fn)
	e.mu.Unlock()
}

// Register records an agent identity and its notifier pair. An identity may
// register at most once.
func (e *Exchange) Register(agentID uuid.UUID, n Notifiers) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.agents[agentID]; ok {
		return fmt.Errorf("agent %s: %w", agentID, ErrAlreadyRegistered)
	}
	e.agents[agentID] = n
	e.log.Infow("agent_registered", "agent_id", agentID)
	return nil
}

// AddOffer places a sell order and returns its id. Matching is triggered
// asynchronously; the call does not wait for it.
func (e *Exchange) AddOffer(agentID uuid.UUID, company string, shares int64, price decimal.Decimal) (uuid.UUID, error) {
	return e.addOrder(Offer, agentID, company, shares, price)
}

// AddDemand places a buy order and returns its id.
func (e *Exchange) AddDemand(agentID uuid.UUID, company string, shares int64, price decimal.Decimal) (uuid.UUID, error) {
	return e.addOrder(Demand, agentID, company, shares, price)
}

func (e *Exchange) addOrder(kind Kind, agentID uuid.UUID, company string, shares int64, price decimal.Decimal) (uuid.UUID, error) {
	if err := validateOrder(company, shares, price); err != nil {
		return uuid.Nil, err
	}

	e.mu.Lock()
	if _, ok := e.agents[agentID]; !ok {
		e.mu.Unlock()
		return uuid.Nil, fmt.Errorf("agent %s: %w", agentID, ErrNotRegistered)
	}
	id := uuid.New()
	if _, ok := e.orders[id]; ok {
		e.mu.Unlock()
		return uuid.Nil, fmt.Errorf("order %s: %w", id, ErrDuplicateOrder)
	}
	e.orders[id] = &Order{
		ID:      id,
		OwnerID: agentID,
		Company: company,
		Kind:    kind,
		Shares:  shares,
		Price:   price,
		State:   Waiting,
	}
	e.mu.Unlock()

	e.obs.OrderSubmitted(kind)
	e.log.Infow("order_added",
		"order_id", id, "agent_id", agentID, "kind", kind.String(),
		"company", company, "shares", shares, "price", price)
	e.scheduleMatch(id)
	return id, nil
}

// ChangeOffer updates the shares and price of a waiting sell order.
// Returns ErrOngoingTransaction while the order is fenced by an in-flight
// trade (retry later) and ErrNotFound if the id does not resolve to an offer
// owned by the agent. Changing a Complete or Removed order is a logged no-op.
func (e *Exchange) ChangeOffer(agentID, orderID uuid.UUID, shares int64, price decimal.Decimal) error {
	return e.changeOrder(Offer, agentID, orderID, shares, price)
}

// ChangeDemand updates the shares and price of a waiting buy order.
func (e *Exchange) ChangeDemand(agentID, orderID uuid.UUID, shares int64, price decimal.Decimal) error {
	return e.changeOrder(Demand, agentID, orderID, shares, price)
}

func (e *Exchange) changeOrder(kind Kind, agentID, orderID uuid.UUID, shares int64, price decimal.Decimal) error {
	if err := validateChange(shares, price); err != nil {
		return err
	}

	e.mu.Lock()
	if _, ok := e.agents[agentID]; !ok {
		e.mu.Unlock()
		return fmt.Errorf("agent %s: %w", agentID, ErrNotRegistered)
	}
	o, ok := e.orders[orderID]
	if !ok || o.Kind != kind || o.OwnerID != agentID {
		e.mu.Unlock()
		return fmt.Errorf("%s %s: %w", kind, orderID, ErrNotFound)
	}
	switch o.State {
	case InTransaction:
		e.mu.Unlock()
		return fmt.Errorf("%s %s: %w", kind, orderID, ErrOngoingTransaction)
	case Complete, Removed:
		st := o.State
		e.mu.Unlock()
		e.log.Infow("order_change_ignored", "order_id", orderID, "state", st.String())
		return nil
	}
	o.Shares = shares
	o.Price = price
	e.mu.Unlock()

	e.obs.OrderChanged()
	e.log.Infow("order_changed",
		"order_id", orderID, "agent_id", agentID, "shares", shares, "price", price)
	e.scheduleMatch(orderID)
	return nil
}

// CancelOrder withdraws a waiting order. Cancelling an already Complete or
// Removed order is a logged no-op, so cancel is idempotent. An order fenced
// by an in-flight trade returns ErrOngoingTransaction.
func (e *Exchange) CancelOrder(agentID, orderID uuid.UUID) error {
	e.mu.Lock()
	if _, ok := e.agents[agentID]; !ok {
		e.mu.Unlock()
		return fmt.Errorf("agent %s: %w", agentID, ErrNotRegistered)
	}
	o, ok := e.orders[orderID]
	if !ok || o.OwnerID != agentID {
		e.mu.Unlock()
		return fmt.Errorf("order %s: %w", orderID, ErrNotFound)
	}
	switch o.State {
	case InTransaction:
		e.mu.Unlock()
		return fmt.Errorf("order %s: %w", orderID, ErrOngoingTransaction)
	case Complete, Removed:
		st := o.State
		e.mu.Unlock()
		e.log.Infow("order_cancel_ignored", "order_id", orderID, "state", st.String())
		return nil
	}
	o.setState(Removed)
	e.mu.Unlock()

	e.obs.OrderCancelled()
	e.log.Infow("order_cancelled", "order_id", orderID, "agent_id", agentID)
	return nil
}

// Offers returns copies of all waiting sell orders, optionally filtered by
// company (empty string means all companies).
func (e *Exchange) Offers(agentID uuid.UUID, company string) ([]Order, error) {
	return e.snapshot(Offer, agentID, company)
}

// Demands returns copies of all waiting buy orders.
func (e *Exchange) Demands(agentID uuid.UUID, company string) ([]Order, error) {
	return e.snapshot(Demand, agentID, company)
}

func (e *Exchange) snapshot(kind Kind, agentID uuid.UUID, company string) ([]Order, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if _, ok := e.agents[agentID]; !ok {
		return nil, fmt.Errorf("agent %s: %w", agentID, ErrNotRegistered)
	}
	var out []Order
	for _, o := range e.orders {
		if o.Kind != kind || o.State != Waiting {
			continue
		}
		if company != "" && o.Company != company {
			continue
		}
		out = append(out, *o)
	}
	return out, nil
}

// OrderByID returns a copy of the order regardless of its state.
func (e *Exchange) OrderByID(agentID, orderID uuid.UUID) (Order, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if _, ok := e.agents[agentID]; !ok {
		return Order{}, fmt.Errorf("agent %s: %w", agentID, ErrNotRegistered)
	}
	o, ok := e.orders[orderID]
	if !ok {
		return Order{}, fmt.Errorf("order %s: %w", orderID, ErrNotFound)
	}
	return *o, nil
}

// Transactions returns a copy of the full trade history in execution order.
func (e *Exchange) Transactions(agentID uuid.UUID) ([]Transaction, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if _, ok := e.agents[agentID]; !ok {
		return nil, fmt.Errorf("agent %s: %w", agentID, ErrNotRegistered)
	}
	out := make([]Transaction, len(e.history))
	copy(out, e.history)
	return out, nil
}

// WaitingOrders counts orders currently eligible for matching. Operational
// visibility only; agents use the snapshot accessors.
func (e *Exchange) WaitingOrders() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	n := 0
	for _, o := range e.orders {
		if o.State == Waiting {
			n++
		}
	}
	return n
}

// Quiesce blocks until all scheduled matching and notification work has
// finished. Intended for tests and orderly shutdown.
func (e *Exchange) Quiesce() {
	e.pool.Quiesce()
}

// Close stops the engine: no new matching work is scheduled, in-flight tasks
// finish. Partially notified transactions are not rolled back.
func (e *Exchange) Close() {
	e.pool.Shutdown()
	e.mu.RLock()
	orders, trades := len(e.orders), len(e.history)
	e.mu.RUnlock()
	e.log.Infow("exchange_closed", "orders", orders, "transactions", trades)
}

func validateOrder(company string, shares int64, price decimal.Decimal) error {
	if company == "" {
		return fmt.Errorf("empty company: %w", ErrInvalidOrder)
	}
	return validateChange(shares, price)
}

func validateChange(shares int64, price decimal.Decimal) error {
	if shares <= 0 {
		return fmt.Errorf("shares must be positive, got %d: %w", shares, ErrInvalidOrder)
	}
	if !price.IsPositive() {
		return fmt.Errorf("price must be positive, got %s: %w", price, ErrInvalidOrder)
	}
	return nil
}
