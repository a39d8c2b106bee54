package exchange

// Notifiers carries an agent's trade callbacks. The engine never invokes them
// on the goroutine that performed the match; each call is submitted to the
// task pool on its own, so a slow or panicking callback cannot block matching
// or other agents' notifications. Delivery order between the buy and sale
// notification of one transaction is not guaranteed; each is attempted
// exactly once. Nil callbacks are allowed and simply skipped.
type Notifiers struct {
	OnBuy  func(Transaction)
	OnSale func(Transaction)
}

// TradeListener observes every executed transaction, independent of the two
// parties' notifiers. Used to fan trades out to the journal, the metrics
// collector and the websocket feed. Listeners run on the task pool.
type TradeListener func(Transaction)

// Observer receives engine-level accounting events. Implemented by the
// metrics collector; a no-op observer is installed by default.
type Observer interface {
	OrderSubmitted(kind Kind)
	OrderChanged()
	OrderCancelled()
	TradeExecuted(shares int64)
	NotificationDelivered()
}

type nopObserver struct{}

func (nopObserver) OrderSubmitted(Kind)    {}
func (nopObserver) OrderChanged()          {}
func (nopObserver) OrderCancelled()        {}
func (nopObserver) TradeExecuted(int64)    {}
func (nopObserver) NotificationDelivered() {}

// notify dispatches the sale/buy callbacks of tx's two parties plus all trade
// listeners, one pool task each.
func (e *Exchange) notify(tx Transaction) {
	e.mu.RLock()
	seller, sellerKnown := e.agents[tx.OfferOwner]
	buyer, buyerKnown := e.agents[tx.DemandOwner]
	listeners := make([]TradeListener, len(e.listeners))
	copy(listeners, e.listeners)
	e.mu.RUnlock()

	if sellerKnown && seller.OnSale != nil {
		e.pool.Submit(func() {
			seller.OnSale(tx)
			e.obs.NotificationDelivered()
		})
	}
	if buyerKnown && buyer.OnBuy != nil {
		e.pool.Submit(func() {
			buyer.OnBuy(tx)
			e.obs.NotificationDelivered()
		})
	}
	for _, fn := range listeners {
		e.pool.Submit(func() { fn(tx) })
	}
}
