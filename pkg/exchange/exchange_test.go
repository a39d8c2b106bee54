package exchange

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func price(n int64) decimal.Decimal { return decimal.NewFromInt(n) }

func newTestExchange(t *testing.T, opts ...Option) *Exchange {
	t.Helper()
	e := New(nil, opts...)
	t.Cleanup(e.Close)
	return e
}

func registerAgent(t *testing.T, e *Exchange) uuid.UUID {
	t.Helper()
	id := uuid.New()
	require.NoError(t, e.Register(id, Notifiers{}))
	return id
}

func TestRegisterTwice(t *testing.T) {
	e := newTestExchange(t)
	id := uuid.New()

	require.NoError(t, e.Register(id, Notifiers{}))
	err := e.Register(id, Notifiers{})
	require.ErrorIs(t, err, ErrAlreadyRegistered)

	// First registration unaffected: the agent can still trade.
	_, err = e.AddOffer(id, "Acme", 10, price(10))
	require.NoError(t, err)
}

func TestOperationsRequireRegistration(t *testing.T) {
	e := newTestExchange(t)
	stranger := uuid.New()

	_, err := e.AddOffer(stranger, "Acme", 10, price(10))
	assert.ErrorIs(t, err, ErrNotRegistered)
	_, err = e.AddDemand(stranger, "Acme", 10, price(10))
	assert.ErrorIs(t, err, ErrNotRegistered)
	assert.ErrorIs(t, e.ChangeOffer(stranger, uuid.New(), 10, price(10)), ErrNotRegistered)
	assert.ErrorIs(t, e.CancelOrder(stranger, uuid.New()), ErrNotRegistered)
	_, err = e.Offers(stranger, "")
	assert.ErrorIs(t, err, ErrNotRegistered)
	_, err = e.OrderByID(stranger, uuid.New())
	assert.ErrorIs(t, err, ErrNotRegistered)
	_, err = e.Transactions(stranger)
	assert.ErrorIs(t, err, ErrNotRegistered)
}

func TestInvalidOrders(t *testing.T) {
	e := newTestExchange(t)
	x := registerAgent(t, e)

	_, err := e.AddOffer(x, "", 10, price(10))
	assert.ErrorIs(t, err, ErrInvalidOrder)
	_, err = e.AddOffer(x, "Acme", 0, price(10))
	assert.ErrorIs(t, err, ErrInvalidOrder)
	_, err = e.AddOffer(x, "Acme", -5, price(10))
	assert.ErrorIs(t, err, ErrInvalidOrder)
	_, err = e.AddDemand(x, "Acme", 10, price(0))
	assert.ErrorIs(t, err, ErrInvalidOrder)
	_, err = e.AddDemand(x, "Acme", 10, price(-1))
	assert.ErrorIs(t, err, ErrInvalidOrder)
}

// Equal offer and demand trade fully and both orders complete.
func TestFullFill(t *testing.T) {
	e := newTestExchange(t)
	x := registerAgent(t, e)
	y := registerAgent(t, e)

	offerID, err := e.AddOffer(x, "Acme", 100, price(10))
	require.NoError(t, err)
	demandID, err := e.AddDemand(y, "Acme", 100, price(10))
	require.NoError(t, err)
	e.Quiesce()

	txs, err := e.Transactions(x)
	require.NoError(t, err)
	require.Len(t, txs, 1)

	tx := txs[0]
	assert.Equal(t, offerID, tx.OfferID)
	assert.Equal(t, demandID, tx.DemandID)
	assert.Equal(t, x, tx.OfferOwner)
	assert.Equal(t, y, tx.DemandOwner)
	assert.NotEqual(t, tx.OfferOwner, tx.DemandOwner)
	assert.Equal(t, "Acme", tx.Company)
	assert.EqualValues(t, 100, tx.Shares)
	assert.True(t, tx.Price.Equal(price(10)))

	offer, err := e.OrderByID(x, offerID)
	require.NoError(t, err)
	assert.Equal(t, Complete, offer.State)
	assert.EqualValues(t, 0, offer.Shares)

	demand, err := e.OrderByID(y, demandID)
	require.NoError(t, err)
	assert.Equal(t, Complete, demand.State)
	assert.EqualValues(t, 0, demand.Shares)
}

// A smaller demand fills partially; the offer keeps waiting with the rest.
func TestPartialFill(t *testing.T) {
	e := newTestExchange(t)
	x := registerAgent(t, e)
	y := registerAgent(t, e)

	offerID, err := e.AddOffer(x, "Acme", 100, price(10))
	require.NoError(t, err)
	demandID, err := e.AddDemand(y, "Acme", 40, price(10))
	require.NoError(t, err)
	e.Quiesce()

	txs, err := e.Transactions(x)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.EqualValues(t, 40, txs[0].Shares)

	offer, err := e.OrderByID(x, offerID)
	require.NoError(t, err)
	assert.Equal(t, Waiting, offer.State)
	assert.EqualValues(t, 60, offer.Shares)

	demand, err := e.OrderByID(y, demandID)
	require.NoError(t, err)
	assert.Equal(t, Complete, demand.State)
}

// Prices must be exactly equal; close is not enough.
func TestPriceMismatch(t *testing.T) {
	e := newTestExchange(t)
	x := registerAgent(t, e)
	z := registerAgent(t, e)

	offerID, err := e.AddOffer(x, "Acme", 50, price(10))
	require.NoError(t, err)
	demandID, err := e.AddDemand(z, "Acme", 50, price(11))
	require.NoError(t, err)
	e.Quiesce()

	txs, err := e.Transactions(x)
	require.NoError(t, err)
	assert.Empty(t, txs)

	offer, _ := e.OrderByID(x, offerID)
	demand, _ := e.OrderByID(z, demandID)
	assert.Equal(t, Waiting, offer.State)
	assert.Equal(t, Waiting, demand.State)
}

func TestCompanyMustMatch(t *testing.T) {
	e := newTestExchange(t)
	x := registerAgent(t, e)
	y := registerAgent(t, e)

	_, err := e.AddOffer(x, "Acme", 50, price(10))
	require.NoError(t, err)
	_, err = e.AddDemand(y, "Globex", 50, price(10))
	require.NoError(t, err)
	e.Quiesce()

	txs, _ := e.Transactions(x)
	assert.Empty(t, txs)
}

// An agent cannot trade with itself, even at an equal price.
func TestNoSelfMatch(t *testing.T) {
	e := newTestExchange(t)
	x := registerAgent(t, e)

	_, err := e.AddOffer(x, "Acme", 50, price(10))
	require.NoError(t, err)
	_, err = e.AddDemand(x, "Acme", 50, price(10))
	require.NoError(t, err)
	e.Quiesce()

	txs, _ := e.Transactions(x)
	assert.Empty(t, txs)
}

// Matching runs the same path no matter which side arrives second.
func TestMatchingIsSymmetric(t *testing.T) {
	e := newTestExchange(t)
	x := registerAgent(t, e)
	y := registerAgent(t, e)

	_, err := e.AddDemand(y, "Acme", 30, price(15))
	require.NoError(t, err)
	e.Quiesce()
	_, err = e.AddOffer(x, "Acme", 30, price(15))
	require.NoError(t, err)
	e.Quiesce()

	txs, err := e.Transactions(x)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.EqualValues(t, 30, txs[0].Shares)
}

// Changing an order re-triggers matching with its new values.
func TestChangeRetriggersMatching(t *testing.T) {
	e := newTestExchange(t)
	x := registerAgent(t, e)
	y := registerAgent(t, e)

	_, err := e.AddOffer(x, "Acme", 50, price(10))
	require.NoError(t, err)
	demandID, err := e.AddDemand(y, "Acme", 50, price(12))
	require.NoError(t, err)
	e.Quiesce()

	txs, _ := e.Transactions(x)
	require.Empty(t, txs)

	require.NoError(t, e.ChangeDemand(y, demandID, 50, price(10)))
	e.Quiesce()

	txs, _ = e.Transactions(x)
	require.Len(t, txs, 1)
	assert.True(t, txs[0].Price.Equal(price(10)))
}

// An order fenced by an in-flight trade rejects mutation with a retryable error.
func TestChangeDuringTransaction(t *testing.T) {
	e := newTestExchange(t)
	x := registerAgent(t, e)

	offerID, err := e.AddOffer(x, "Acme", 100, price(10))
	require.NoError(t, err)
	e.Quiesce()

	// Fence the order the way a concurrent matcher would.
	e.mu.Lock()
	e.orders[offerID].setState(InTransaction)
	e.mu.Unlock()

	err = e.ChangeOffer(x, offerID, 50, price(11))
	assert.ErrorIs(t, err, ErrOngoingTransaction)
	err = e.CancelOrder(x, offerID)
	assert.ErrorIs(t, err, ErrOngoingTransaction)

	// Release and retry, as a caller is expected to.
	e.mu.Lock()
	e.orders[offerID].setState(Waiting)
	e.mu.Unlock()
	assert.NoError(t, e.ChangeOffer(x, offerID, 50, price(11)))
}

func TestCancelIsIdempotent(t *testing.T) {
	e := newTestExchange(t)
	x := registerAgent(t, e)

	id, err := e.AddOffer(x, "Acme", 10, price(10))
	require.NoError(t, err)
	e.Quiesce()

	require.NoError(t, e.CancelOrder(x, id))
	o, _ := e.OrderByID(x, id)
	assert.Equal(t, Removed, o.State)

	// Second cancel and later change are no-ops, not errors.
	assert.NoError(t, e.CancelOrder(x, id))
	assert.NoError(t, e.ChangeOffer(x, id, 99, price(99)))

	o, _ = e.OrderByID(x, id)
	assert.Equal(t, Removed, o.State)
	assert.EqualValues(t, 10, o.Shares)
	assert.True(t, o.Price.Equal(price(10)))
}

func TestChangeAfterCompleteIsNoOp(t *testing.T) {
	e := newTestExchange(t)
	x := registerAgent(t, e)
	y := registerAgent(t, e)

	offerID, err := e.AddOffer(x, "Acme", 10, price(10))
	require.NoError(t, err)
	_, err = e.AddDemand(y, "Acme", 10, price(10))
	require.NoError(t, err)
	e.Quiesce()

	assert.NoError(t, e.ChangeOffer(x, offerID, 50, price(20)))
	o, _ := e.OrderByID(x, offerID)
	assert.Equal(t, Complete, o.State)
	assert.EqualValues(t, 0, o.Shares)
}

func TestChangeResolutionRules(t *testing.T) {
	e := newTestExchange(t)
	x := registerAgent(t, e)
	y := registerAgent(t, e)

	offerID, err := e.AddOffer(x, "Acme", 10, price(10))
	require.NoError(t, err)
	e.Quiesce()

	// Unknown id.
	assert.ErrorIs(t, e.ChangeOffer(x, uuid.New(), 5, price(10)), ErrNotFound)
	// Wrong kind.
	assert.ErrorIs(t, e.ChangeDemand(x, offerID, 5, price(10)), ErrNotFound)
	// Someone else's order.
	assert.ErrorIs(t, e.ChangeOffer(y, offerID, 5, price(10)), ErrNotFound)
	assert.ErrorIs(t, e.CancelOrder(y, offerID), ErrNotFound)
}

func TestSnapshots(t *testing.T) {
	e := newTestExchange(t)
	x := registerAgent(t, e)
	y := registerAgent(t, e)

	_, err := e.AddOffer(x, "Acme", 10, price(10))
	require.NoError(t, err)
	_, err = e.AddOffer(x, "Globex", 20, price(30))
	require.NoError(t, err)
	cancelled, err := e.AddOffer(x, "Acme", 5, price(11))
	require.NoError(t, err)
	_, err = e.AddDemand(y, "Initech", 15, price(7))
	require.NoError(t, err)
	e.Quiesce()
	require.NoError(t, e.CancelOrder(x, cancelled))

	offers, err := e.Offers(y, "")
	require.NoError(t, err)
	assert.Len(t, offers, 2) // the removed one is filtered out

	acme, err := e.Offers(y, "Acme")
	require.NoError(t, err)
	require.Len(t, acme, 1)
	assert.EqualValues(t, 10, acme[0].Shares)

	demands, err := e.Demands(x, "")
	require.NoError(t, err)
	require.Len(t, demands, 1)
	assert.Equal(t, "Initech", demands[0].Company)
}

// Snapshots are copies; mutating them must not leak into the engine.
func TestSnapshotsAreCopies(t *testing.T) {
	e := newTestExchange(t)
	x := registerAgent(t, e)
	y := registerAgent(t, e)

	id, err := e.AddOffer(x, "Acme", 10, price(10))
	require.NoError(t, err)
	e.Quiesce()

	offers, err := e.Offers(y, "")
	require.NoError(t, err)
	require.Len(t, offers, 1)
	offers[0].Shares = 9999
	offers[0].State = Removed

	o, err := e.OrderByID(x, id)
	require.NoError(t, err)
	assert.EqualValues(t, 10, o.Shares)
	assert.Equal(t, Waiting, o.State)
}

func TestNotifications(t *testing.T) {
	e := newTestExchange(t)

	seller, buyer := uuid.New(), uuid.New()
	sold := make(chan Transaction, 1)
	bought := make(chan Transaction, 1)
	require.NoError(t, e.Register(seller, Notifiers{
		OnSale: func(tx Transaction) { sold <- tx },
		OnBuy:  func(Transaction) { t.Error("seller must not receive a buy event") },
	}))
	require.NoError(t, e.Register(buyer, Notifiers{
		OnBuy:  func(tx Transaction) { bought <- tx },
		OnSale: func(Transaction) { t.Error("buyer must not receive a sale event") },
	}))

	_, err := e.AddOffer(seller, "Acme", 25, price(10))
	require.NoError(t, err)
	_, err = e.AddDemand(buyer, "Acme", 25, price(10))
	require.NoError(t, err)
	e.Quiesce()

	select {
	case tx := <-sold:
		assert.Equal(t, seller, tx.OfferOwner)
	case <-time.After(time.Second):
		t.Fatal("sale notification not delivered")
	}
	select {
	case tx := <-bought:
		assert.Equal(t, buyer, tx.DemandOwner)
	case <-time.After(time.Second):
		t.Fatal("buy notification not delivered")
	}
}

// A panicking callback is the agent's problem, never the engine's.
func TestPanickingNotifierIsContained(t *testing.T) {
	e := newTestExchange(t)

	seller, buyer := uuid.New(), uuid.New()
	bought := make(chan Transaction, 1)
	require.NoError(t, e.Register(seller, Notifiers{
		OnSale: func(Transaction) { panic("agent bug") },
	}))
	require.NoError(t, e.Register(buyer, Notifiers{
		OnBuy: func(tx Transaction) { bought <- tx },
	}))

	_, err := e.AddOffer(seller, "Acme", 5, price(10))
	require.NoError(t, err)
	_, err = e.AddDemand(buyer, "Acme", 5, price(10))
	require.NoError(t, err)
	e.Quiesce()

	select {
	case <-bought:
	case <-time.After(time.Second):
		t.Fatal("buy notification not delivered")
	}
	txs, err := e.Transactions(buyer)
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestTradeListeners(t *testing.T) {
	e := newTestExchange(t)
	seen := make(chan Transaction, 2)
	e.AddTradeListener(func(tx Transaction) { seen <- tx })

	x := registerAgent(t, e)
	y := registerAgent(t, e)
	_, err := e.AddOffer(x, "Acme", 5, price(10))
	require.NoError(t, err)
	_, err = e.AddDemand(y, "Acme", 5, price(10))
	require.NoError(t, err)
	e.Quiesce()

	select {
	case tx := <-seen:
		assert.EqualValues(t, 5, tx.Shares)
	case <-time.After(time.Second):
		t.Fatal("trade listener not invoked")
	}
}
