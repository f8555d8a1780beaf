package market

import (
	"time"

	"github.com/uhyunpark/dexsync/pkg/order"
)

// Paging is the cursor block returned with a trades page.
type Paging struct {
	Total int `json:"total"`
	Page  int `json:"page"`
	Limit int `json:"limit"`
}

// TradeBook is the locally accumulated trade history of one pair.
type TradeBook struct {
	Trades      []Trade
	Paging      Paging
	Page        int
	LastUpdated time.Time
}

// Bundle is a fixed-price purchase offer for the exchange token.
type Bundle struct {
	ID        string `json:"id"`
	EthAmount string `json:"ethAmount"`
	EdoAmount string `json:"edoAmount"`
}

// State is an immutable snapshot of all market data. Apply never modifies its
// receiver; maps and slices are copied before they change.
type State struct {
	Pairs                map[string]Pair
	Orderbooks           map[string]Orderbook
	Trades               map[string]TradeBook
	Orders               []order.Record
	Bundles              []Bundle
	QuickPurchaseAddress string
	PairsOrdering        map[string]Ordering
	PairsFiltering       map[string]Filtering
}

// Event is a state transition. Every mutation of State goes through one.
type Event interface {
	apply(s State) State
}

type PairsLoaded struct {
	Pairs map[string]Pair
}

// PairsLoaded replaces the pair list but keeps prices already known.
func (e PairsLoaded) apply(s State) State {
	next := make(map[string]Pair, len(e.Pairs))
	for k, p := range e.Pairs {
		if old, ok := s.Pairs[k]; ok && p.LastPrice == nil {
			p.LastPrice = old.LastPrice
			p.PriceChangePct1d = old.PriceChangePct1d
		}
		next[k] = p
	}
	s.Pairs = next
	return s
}

type PairPriceLoaded struct {
	Base, Quote string
	Price       PairPrice
}

// A price for an unknown pair is dropped.
func (e PairPriceLoaded) apply(s State) State {
	key := PairKey(e.Base, e.Quote)
	p, ok := s.Pairs[key]
	if !ok {
		return s
	}
	last, change := e.Price.LastPrice, e.Price.Change1d
	p.LastPrice, p.PriceChangePct1d = &last, &change
	s.Pairs = cloneMap(s.Pairs)
	s.Pairs[key] = p
	return s
}

type OrderbookLoaded struct {
	Base, Quote string
	Book        Orderbook
}

func (e OrderbookLoaded) apply(s State) State {
	s.Orderbooks = cloneMap(s.Orderbooks)
	s.Orderbooks[PairKey(e.Base, e.Quote)] = e.Book
	return s
}

// TradesLoaded merges a trades page. Initial replaces the list; otherwise new
// trades are merged in and duplicates (same id, or same print) are dropped.
type TradesLoaded struct {
	Base, Quote string
	Trades      []Trade
	To          time.Time
	Paging      Paging
	Page        int
	Initial     bool
}

func (e TradesLoaded) apply(s State) State {
	key := PairKey(e.Base, e.Quote)
	book := s.Trades[key]

	var merged []Trade
	if !e.Initial {
		merged = append(merged, book.Trades...)
	}
	seen := make(map[string]bool, len(merged)+len(e.Trades))
	for _, t := range merged {
		seen[tradeIdentity(t)] = true
	}
	for _, t := range e.Trades {
		id := tradeIdentity(t)
		if seen[id] {
			continue
		}
		seen[id] = true
		merged = append(merged, t)
	}

	book.Trades = merged
	book.LastUpdated = e.To
	book.Paging = e.Paging
	if e.Page > 0 {
		book.Page = e.Page + 1
	} else if book.Page == 0 {
		book.Page = 1
	}

	s.Trades = cloneMap(s.Trades)
	s.Trades[key] = book
	return s
}

type TradesCleared struct {
	Base, Quote string
}

func (e TradesCleared) apply(s State) State {
	s.Trades = cloneMap(s.Trades)
	delete(s.Trades, PairKey(e.Base, e.Quote))
	return s
}

type OrderListLoaded struct {
	Orders []order.Record
}

func (e OrderListLoaded) apply(s State) State {
	s.Orders = append([]order.Record(nil), e.Orders...)
	return s
}

// OrderCreated records a just-submitted order as pending until the list is refetched.
type OrderCreated struct {
	Record order.Record
}

func (e OrderCreated) apply(s State) State {
	rec := e.Record
	if rec.Status == "" {
		rec.Status = order.StatusPending
	}
	s.Orders = append(append([]order.Record(nil), s.Orders...), rec)
	return s
}

type OrderCancelled struct {
	ID string
}

func (e OrderCancelled) apply(s State) State {
	orders := append([]order.Record(nil), s.Orders...)
	for i := range orders {
		if orders[i].ID == e.ID {
			orders[i].Status = order.StatusCancelled
		}
	}
	s.Orders = orders
	return s
}

type BundlesLoaded struct {
	Bundles []Bundle
	Address string
}

func (e BundlesLoaded) apply(s State) State {
	s.Bundles = append([]Bundle(nil), e.Bundles...)
	s.QuickPurchaseAddress = e.Address
	return s
}

type PairsOrderingChanged struct {
	Family   string
	Ordering Ordering
}

func (e PairsOrderingChanged) apply(s State) State {
	s.PairsOrdering = cloneMap(s.PairsOrdering)
	s.PairsOrdering[e.Family] = e.Ordering
	return s
}

type PairsFilteringChanged struct {
	Family    string
	Filtering Filtering
}

func (e PairsFilteringChanged) apply(s State) State {
	s.PairsFiltering = cloneMap(s.PairsFiltering)
	s.PairsFiltering[e.Family] = e.Filtering
	return s
}

// Apply returns the state after ev. The receiver is left untouched.
func (s State) Apply(ev Event) State {
	return ev.apply(s)
}

func tradeIdentity(t Trade) string {
	if t.ID != "" {
		return "id:" + t.ID
	}
	return t.LastUpdatedAt.UTC().Format(time.RFC3339Nano) + "|" + t.Price + "|" + t.Size
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}
