// Package agent implements simulated traders. An agent owns an identity,
// registers its notification callbacks with the exchange, and runs a strategy
// loop that places, re-prices and withdraws orders through the engine's
// public operations. The engine knows nothing about the strategy; everything
// here could run in another process against the REST transport instead.
package agent

import (
	"context"
	"hash/fnv"
	"math/rand"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"stockmart/pkg/exchange"
)

// Config tunes one agent's strategy.
type Config struct {
	Companies []string
	Tick      time.Duration // strategy step interval
	Patience  time.Duration // rest time before an order is re-priced
	MaxShares int64         // per-order share cap
	MaxOpen   int           // open orders before the agent stops placing new ones
	Seed      int64
}

// DefaultConfig returns a strategy that trades briskly enough for a short
// simulation to produce fills.
func DefaultConfig(companies []string) Config {
	return Config{
		Companies: companies,
		Tick:      200 * time.Millisecond,
		Patience:  time.Second,
		MaxShares: 100,
		MaxOpen:   4,
	}
}

type trackedOrder struct {
	kind     exchange.Kind
	company  string
	shares   int64
	price    decimal.Decimal
	placedAt time.Time
	repriced int
}

// Agent is safe for concurrent use by its strategy loop and the exchange's
// notification workers.
type Agent struct {
	ID uuid.UUID

	cfg  Config
	exch *exchange.Exchange
	log  *zap.SugaredLogger
	clk  clock.Clock
	rng  *rand.Rand

	mu     sync.Mutex
	open   map[uuid.UUID]*trackedOrder
	bought int64
	sold   int64
}

// New builds an agent. clk may be a mock in tests; nil means the real clock.
func New(exch *exchange.Exchange, cfg Config, log *zap.SugaredLogger, clk clock.Clock) *Agent {
	if clk == nil {
		clk = clock.New()
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	id := uuid.New()
	seed := cfg.Seed
	if seed == 0 {
		seed = int64(id.ID())
	}
	return &Agent{
		ID:   id,
		cfg:  cfg,
		exch: exch,
		log:  log.With("agent_id", id),
		clk:  clk,
		rng:  rand.New(rand.NewSource(seed)),
		open: make(map[uuid.UUID]*trackedOrder),
	}
}

// Register records the agent and its callbacks with the exchange. Must be
// called before Run.
func (a *Agent) Register() error {
	return a.exch.Register(a.ID, exchange.Notifiers{
		OnBuy:  a.onBuy,
		OnSale: a.onSale,
	})
}

// Run drives the strategy until ctx is cancelled.
func (a *Agent) Run(ctx context.Context) {
	ticker := a.clk.Ticker(a.cfg.Tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			a.log.Infow("agent_stopped", "bought", a.Bought(), "sold", a.Sold())
			return
		case <-ticker.C:
			a.Step()
		}
	}
}

// Step performs one strategy iteration: refresh tracked orders, age out or
// re-price stale ones, and maybe place a new order. Exposed so tests can
// drive an agent without the ticker.
func (a *Agent) Step() {
	a.refresh()
	a.manage()
	a.maybePlace()
}

// refresh drops tracked orders that reached a terminal state.
func (a *Agent) refresh() {
	a.mu.Lock()
	ids := make([]uuid.UUID, 0, len(a.open))
	for id := range a.open {
		ids = append(ids, id)
	}
	a.mu.Unlock()

	for _, id := range ids {
		o, err := a.exch.OrderByID(a.ID, id)
		if err != nil || o.State.Terminal() {
			a.mu.Lock()
			delete(a.open, id)
			a.mu.Unlock()
		}
	}
}

// manage re-prices orders that rested past the patience window, stepping
// toward the company's reference price; after two re-pricings the order is
// withdrawn. OngoingTransaction means the order is about to trade, so it is
// left alone and retried on the next tick.
func (a *Agent) manage() {
	now := a.clk.Now()

	a.mu.Lock()
	type stale struct {
		id uuid.UUID
		t  *trackedOrder
	}
	var stales []stale
	for id, t := range a.open {
		if now.Sub(t.placedAt) >= a.cfg.Patience {
			stales = append(stales, stale{id, t})
		}
	}
	a.mu.Unlock()

	for _, s := range stales {
		if s.t.repriced >= 2 {
			err := a.exch.CancelOrder(a.ID, s.id)
			if err == nil {
				a.log.Debugw("order_withdrawn", "order_id", s.id)
				a.mu.Lock()
				delete(a.open, s.id)
				a.mu.Unlock()
			}
			continue
		}

		price := a.stepToward(s.t.company, s.t.price)
		var err error
		if s.t.kind == exchange.Offer {
			err = a.exch.ChangeOffer(a.ID, s.id, s.t.shares, price)
		} else {
			err = a.exch.ChangeDemand(a.ID, s.id, s.t.shares, price)
		}
		if err != nil {
			// Retryable or already gone; either way the next tick sorts it out.
			a.log.Debugw("order_reprice_failed", "order_id", s.id, "err", err)
			continue
		}
		a.mu.Lock()
		s.t.price = price
		s.t.placedAt = now
		s.t.repriced++
		a.mu.Unlock()
	}
}

// maybePlace submits a fresh order on a random side of a random company.
func (a *Agent) maybePlace() {
	a.mu.Lock()
	if len(a.open) >= a.cfg.MaxOpen {
		a.mu.Unlock()
		return
	}
	company := a.cfg.Companies[a.rng.Intn(len(a.cfg.Companies))]
	kind := exchange.Offer
	if a.rng.Intn(2) == 1 {
		kind = exchange.Demand
	}
	shares := 1 + a.rng.Int63n(a.cfg.MaxShares)
	price := a.quote(company)
	a.mu.Unlock()

	var id uuid.UUID
	var err error
	if kind == exchange.Offer {
		id, err = a.exch.AddOffer(a.ID, company, shares, price)
	} else {
		id, err = a.exch.AddDemand(a.ID, company, shares, price)
	}
	if err != nil {
		a.log.Warnw("order_rejected", "kind", kind.String(), "company", company, "err", err)
		return
	}

	a.mu.Lock()
	a.open[id] = &trackedOrder{
		kind:     kind,
		company:  company,
		shares:   shares,
		price:    price,
		placedAt: a.clk.Now(),
	}
	a.mu.Unlock()
	a.log.Debugw("order_placed",
		"order_id", id, "kind", kind.String(), "company", company,
		"shares", shares, "price", price)
}

// quote picks a price on a whole-unit grid around the company's reference
// price. The coarse grid is what makes exact-equality matches likely.
func (a *Agent) quote(company string) decimal.Decimal {
	jitter := a.rng.Int63n(5) - 2
	return decimal.NewFromInt(referencePrice(company) + jitter)
}

// stepToward moves a resting order's price one unit toward the reference.
func (a *Agent) stepToward(company string, price decimal.Decimal) decimal.Decimal {
	ref := decimal.NewFromInt(referencePrice(company))
	switch {
	case price.LessThan(ref):
		return price.Add(decimal.NewFromInt(1))
	case price.GreaterThan(ref):
		return price.Sub(decimal.NewFromInt(1))
	default:
		return price
	}
}

// referencePrice derives a stable per-company price in [10, 50) from the
// company name, so all agents quote around the same level.
func referencePrice(company string) int64 {
	h := fnv.New32a()
	h.Write([]byte(company))
	return 10 + int64(h.Sum32()%40)
}

func (a *Agent) onBuy(tx exchange.Transaction) {
	a.mu.Lock()
	a.bought += tx.Shares
	a.mu.Unlock()
	a.log.Infow("bought",
		"transaction_id", tx.ID, "company", tx.Company,
		"shares", tx.Shares, "price", tx.Price, "from", tx.OfferOwner)
}

func (a *Agent) onSale(tx exchange.Transaction) {
	a.mu.Lock()
	a.sold += tx.Shares
	a.mu.Unlock()
	a.log.Infow("sold",
		"transaction_id", tx.ID, "company", tx.Company,
		"shares", tx.Shares, "price", tx.Price, "to", tx.DemandOwner)
}

// Bought returns the total shares this agent has bought so far.
func (a *Agent) Bought() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.bought
}

// Sold returns the total shares this agent has sold so far.
func (a *Agent) Sold() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sold
}

// OpenOrders returns the number of orders the agent is tracking.
func (a *Agent) OpenOrders() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.open)
}
