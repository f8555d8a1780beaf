package market

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/dexsync/pkg/order"
)

const zeroAddr = "0x0000000000000000000000000000000000000000"

func testPairs() map[string]Pair {
	tier := 2
	return FormatPairs([]RawPair{
		{
			Base:                  Asset{Symbol: "EDO", Address: "0xced4e93198734ddaff8492d525bd258d49eb388e"},
			Quote:                 Asset{Symbol: "ETH", Address: zeroAddr},
			Fee:                   "0.0025",
			MinQuoteAmountAllowed: "0.1",
			MinTier:               &tier,
			Family:                "main",
			DefaultOrder:          2,
		},
		{
			Base:         Asset{Symbol: "DAI", Address: "0x89d24a6b4ccb1b6faa2625fe562bdd9a23260359"},
			Quote:        Asset{Symbol: "ETH", Address: zeroAddr},
			Fee:          "-1",
			Family:       "main",
			Favourite:    true,
			DefaultOrder: 3,
		},
		{
			Base:         Asset{Symbol: "EDO", Address: "0xced4e93198734ddaff8492d525bd258d49eb388e"},
			Quote:        Asset{Symbol: "DAI", Address: "0x89d24a6b4ccb1b6faa2625fe562bdd9a23260359"},
			Fee:          "bogus",
			Family:       "main",
			DefaultOrder: 1,
		},
		{
			Base:   Asset{Symbol: "MKR", Address: "0x9f8f72aa9304c8b593d555f12ef6589cc3a579a2"},
			Quote:  Asset{Symbol: "ETH", Address: zeroAddr},
			Family: "other",
		},
	})
}

func TestFormatPairs(t *testing.T) {
	pairs := testPairs()
	edo, ok := pairs["EDO-ETH"]
	if !ok {
		t.Fatal("EDO-ETH missing")
	}
	if edo.Quote.Address != "ether" {
		t.Errorf("quote address = %q, want ether", edo.Quote.Address)
	}
	if !edo.Fee.Equal(decimal.RequireFromString("0.0025")) || edo.MinTier != 2 {
		t.Errorf("unexpected pair fields: %+v", edo)
	}
	if !pairs["DAI-ETH"].Fee.IsZero() || !pairs["EDO-DAI"].Fee.IsZero() {
		t.Error("negative or malformed fee should become zero")
	}
	if pairs["DAI-ETH"].MinTier != 0 {
		t.Error("missing minTier should default to 0")
	}
}

func TestState_ApplyDoesNotMutate(t *testing.T) {
	s0 := State{}.Apply(PairsLoaded{Pairs: testPairs()})
	s1 := s0.Apply(OrderbookLoaded{Base: "EDO", Quote: "ETH", Book: Orderbook{}})
	s2 := s1.Apply(PairPriceLoaded{Base: "EDO", Quote: "ETH", Price: PairPrice{
		LastPrice: decimal.RequireFromString("0.004"),
		Change1d:  decimal.RequireFromString("-1.5"),
	}})

	if len(s0.Orderbooks) != 0 {
		t.Error("OrderbookLoaded changed the previous snapshot")
	}
	if s1.Pairs["EDO-ETH"].LastPrice != nil {
		t.Error("PairPriceLoaded changed the previous snapshot")
	}
	if got := LastPrice(s2, "EDO", "ETH"); got != "0.004" {
		t.Errorf("LastPrice = %q, want 0.004", got)
	}
	if got := PriceChange(s2, "EDO", "ETH"); !got.Equal(decimal.RequireFromString("-1.5")) {
		t.Errorf("PriceChange = %s", got)
	}
	if LastPrice(s2, "DAI", "ETH") != "" {
		t.Error("pair without price should report empty last price")
	}

	s3 := s2.Apply(PairsLoaded{Pairs: testPairs()})
	if LastPrice(s3, "EDO", "ETH") != "0.004" {
		t.Error("reloading pairs dropped the known price")
	}
	s4 := s3.Apply(PairPriceLoaded{Base: "XXX", Quote: "ETH"})
	if _, ok := GetPair(s4, "XXX", "ETH"); ok {
		t.Error("price for unknown pair created a pair")
	}
}

func TestState_Trades(t *testing.T) {
	t0 := time.Unix(1_600_000_000, 0)
	first := TradesLoaded{
		Base: "EDO", Quote: "ETH", Initial: true, To: t0,
		Trades: []Trade{{ID: "1", Price: "1"}, {ID: "2", Price: "2"}},
		Paging: Paging{Total: 3, Page: 1, Limit: 2},
	}
	s := State{}.Apply(first)
	if TradesPage(s, "EDO", "ETH") != 1 || !TradesLastUpdated(s, "EDO", "ETH").Equal(t0) {
		t.Fatalf("unexpected book after initial load: %+v", s.Trades["EDO-ETH"])
	}

	s = s.Apply(TradesLoaded{
		Base: "EDO", Quote: "ETH", Page: 1, To: t0.Add(time.Minute),
		Trades: []Trade{{ID: "2", Price: "2"}, {ID: "3", Price: "3"}},
	})
	if n := len(Trades(s, "EDO", "ETH")); n != 3 {
		t.Errorf("merged %d trades, want 3", n)
	}
	if TradesPage(s, "EDO", "ETH") != 2 {
		t.Errorf("page = %d, want 2", TradesPage(s, "EDO", "ETH"))
	}

	s = s.Apply(TradesLoaded{Base: "EDO", Quote: "ETH", Initial: true, Trades: []Trade{{ID: "9", Price: "9"}}})
	if n := len(Trades(s, "EDO", "ETH")); n != 1 {
		t.Errorf("initial load kept %d trades, want 1", n)
	}

	if IsTradeListOutOfDate(s, "EDO", "ETH", time.Time{}.Add(time.Minute)) {
		t.Error("fresh list reported out of date")
	}
	if !IsTradeListOutOfDate(State{}, "EDO", "ETH", t0) {
		t.Error("never-fetched list should be out of date")
	}

	s = s.Apply(TradesCleared{Base: "EDO", Quote: "ETH"})
	if len(Trades(s, "EDO", "ETH")) != 0 || TradesPage(s, "EDO", "ETH") != 1 {
		t.Error("TradesCleared left data behind")
	}
}

func TestSelectors_Orderbook(t *testing.T) {
	prec := 4
	book := Orderbook{
		Buy:  BookSide{Results: []Level{{Price: "0.9"}, {Price: "1.1"}, {Price: "1.0"}}},
		Sell: BookSide{Results: []Level{{Price: "1.5"}, {Price: "1.2"}}},
	}
	book.Buy.Meta.Precision = &prec
	s := State{}.Apply(OrderbookLoaded{Base: "EDO", Quote: "ETH", Book: book})

	if bid, ok := HighestBid(s, "EDO", "ETH"); !ok || !bid.Equal(decimal.RequireFromString("1.1")) {
		t.Errorf("HighestBid = %s, %v", bid, ok)
	}
	if ask, ok := LowestAsk(s, "EDO", "ETH"); !ok || !ask.Equal(decimal.RequireFromString("1.2")) {
		t.Errorf("LowestAsk = %s, %v", ask, ok)
	}
	if OrderbookPrecision(s, "EDO", "ETH") != 4 {
		t.Error("precision not read from buy meta")
	}
	if OrderbookPrecision(s, "DAI", "ETH") != DefaultPrecision {
		t.Error("missing book should use default precision")
	}
	if n := len(OrderbookOrdersByType(s, "EDO", "ETH", "SELL")); n != 2 {
		t.Errorf("sell levels = %d, want 2", n)
	}
	if _, ok := LowestAsk(s, "DAI", "ETH"); ok {
		t.Error("empty book reported an ask")
	}
}

func TestSelectors_PairsOrderingAndFiltering(t *testing.T) {
	s := State{}.Apply(PairsLoaded{Pairs: testPairs()})

	keys := func(ps []Pair) []string {
		out := make([]string, len(ps))
		for i, p := range ps {
			out[i] = p.Key()
		}
		return out
	}
	assertKeys := func(name string, got []Pair, want ...string) {
		t.Helper()
		g := keys(got)
		if len(g) != len(want) {
			t.Fatalf("%s: got %v, want %v", name, g, want)
		}
		for i := range want {
			if g[i] != want[i] {
				t.Fatalf("%s: got %v, want %v", name, g, want)
			}
		}
	}

	assertKeys("default", OrderedPairs(s, "main"), "DAI-ETH", "EDO-DAI", "EDO-ETH")

	s = s.Apply(PairsOrderingChanged{Family: "main", Ordering: Ordering{Type: OrderDesc, Field: FieldPair}})
	assertKeys("pair desc", OrderedPairs(s, "main"), "EDO-ETH", "EDO-DAI", "DAI-ETH")

	s = s.Apply(PairsFilteringChanged{Family: "main", Filtering: Filtering{SearchText: "edo"}})
	assertKeys("search", FilteredPairs(s, "main"), "EDO-ETH", "EDO-DAI")

	s = s.Apply(PairsFilteringChanged{Family: "main", Filtering: Filtering{
		Filter: PairsFilter{Label: "ETH", Quote: "ETH"},
	}})
	assertKeys("quote filter", FilteredPairs(s, "main"), "EDO-ETH", "DAI-ETH")

	s = s.Apply(PairsFilteringChanged{Family: "main", Filtering: Filtering{Filter: FilterFavourites}})
	assertKeys("favourites", FilteredPairs(s, "main"), "DAI-ETH")

	filters := PairsFilters(s, "main")
	if len(filters) != 4 || filters[0] != FilterFavourites || filters[len(filters)-1] != FilterAll {
		t.Errorf("unexpected filters: %+v", filters)
	}

	addrs := Addresses(s)
	if len(addrs) != 4 {
		t.Errorf("addresses = %v, want 4 distinct", addrs)
	}
}

func TestSelectors_Orders(t *testing.T) {
	edo := "0xced4e93198734ddaff8492d525bd258d49eb388e"
	base := time.Unix(1_600_000_000, 0)
	rows := order.Listed([]order.Record{
		{ID: "old", Added: base, Side: order.SideBuy, OfferTokenAddress: zeroAddr, WantTokenAddress: edo,
			Status: order.StatusActive, AmountLocked: "1", WantTokenAmountExpectedToBeFilled: "0"},
		{ID: "new", Added: base.Add(time.Hour), Side: "SELL", OfferTokenAddress: edo, WantTokenAddress: zeroAddr,
			Status: order.StatusFilled, AmountLocked: "0", WantTokenAmountExpectedToBeFilled: "5"},
		{ID: "gone", Added: base.Add(2 * time.Hour), OfferTokenAddress: edo, WantTokenAddress: zeroAddr,
			Status: order.StatusCancelled, AmountLocked: "0", WantTokenAmountExpectedToBeFilled: "0"},
		{ID: "other", Added: base.Add(3 * time.Hour), OfferTokenAddress: "0x1", WantTokenAddress: zeroAddr,
			Status: order.StatusPending, AmountLocked: "0", WantTokenAmountExpectedToBeFilled: "0"},
	})
	s := State{}.Apply(OrderListLoaded{Orders: rows})

	byDate := OrdersByDate(s)
	if len(byDate) != 3 || byDate[0].ID != "other" {
		t.Fatalf("OrdersByDate = %+v", byDate)
	}

	byPair := OrdersByPair(s, "0xCED4E93198734DDAFF8492D525BD258D49EB388E", "ether")
	if len(byPair) != 2 || byPair[0].ID != "new" || byPair[1].ID != "old" {
		t.Fatalf("OrdersByPair = %+v", byPair)
	}
	if byPair[0].Side != order.SideSell {
		t.Errorf("side = %q, want sell", byPair[0].Side)
	}
	if a := ActiveOrdersByPair(s, edo, "ether"); len(a) != 1 || a[0].ID != "old" {
		t.Errorf("active = %+v", a)
	}
	if c := CompletedOrdersByPair(s, edo, "ether"); len(c) != 1 || c[0].ID != "new" {
		t.Errorf("completed = %+v", c)
	}

	s = s.Apply(OrderCancelled{ID: "old"})
	if r, ok := GetOrder(s, "old"); !ok || r.Status != order.StatusCancelled {
		t.Errorf("GetOrder after cancel = %+v, %v", r, ok)
	}
	s = s.Apply(OrderCreated{Record: order.Record{ID: "fresh"}})
	if r, _ := GetOrder(s, "fresh"); r.Status != order.StatusPending {
		t.Errorf("created order status = %q, want pending", r.Status)
	}
}

func TestStore_SerializesAndNotifies(t *testing.T) {
	st := NewStore(State{})
	var seen []Event
	st.Subscribe(func(ev Event, next State) {
		seen = append(seen, ev)
	})

	st.Apply(PairsLoaded{Pairs: testPairs()})
	before := st.Snapshot()
	st.Apply(BundlesLoaded{Bundles: []Bundle{{ID: "b1"}}, Address: "0xabc"})

	if len(seen) != 2 {
		t.Fatalf("listener saw %d events, want 2", len(seen))
	}
	if len(before.Bundles) != 0 {
		t.Error("snapshot changed after a later apply")
	}
	snap := st.Snapshot()
	if QuickPurchaseAddress(snap) != "0xabc" || len(Bundles(snap)) != 1 {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
}
