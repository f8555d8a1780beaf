package market

import (
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/uhyunpark/dexsync/pkg/crypto"
	"github.com/uhyunpark/dexsync/pkg/order"
)

// TradesUpdateThreshold is the age after which a pair's trade list is refetched in full.
const TradesUpdateThreshold = 10 * time.Minute

type OrderingType string

const (
	OrderNone OrderingType = "none"
	OrderAsc  OrderingType = "asc"
	OrderDesc OrderingType = "desc"
)

// OrderingField names a sortable column of the pairs list.
type OrderingField string

const (
	FieldPair   OrderingField = "pair"
	FieldPrice  OrderingField = "price"
	FieldChange OrderingField = "change"
)

type Ordering struct {
	Type  OrderingType  `json:"type"`
	Field OrderingField `json:"field,omitempty"`
}

// PairsFilter selects a subset of pairs. An empty Quote together with
// Favourites false matches everything.
type PairsFilter struct {
	Label      string `json:"label"`
	Favourites bool   `json:"favourites,omitempty"`
	Quote      string `json:"quote,omitempty"`
}

var (
	FilterAll        = PairsFilter{Label: "all"}
	FilterFavourites = PairsFilter{Label: "favourites", Favourites: true}
)

func (f PairsFilter) Match(p Pair) bool {
	if f.Favourites && !p.Favourite {
		return false
	}
	if f.Quote != "" && p.Quote.Symbol != f.Quote {
		return false
	}
	return true
}

type Filtering struct {
	SearchText string      `json:"searchText,omitempty"`
	Filter     PairsFilter `json:"filter"`
}

// PairsByFamily returns the pairs of one family in key order.
func PairsByFamily(s State, family string) []Pair {
	keys := make([]string, 0, len(s.Pairs))
	for k, p := range s.Pairs {
		if p.Family == family {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := make([]Pair, 0, len(keys))
	for _, k := range keys {
		out = append(out, s.Pairs[k])
	}
	return out
}

// OrderedPairs sorts a family by the stored ordering. Without one, favourites
// come first and then the exchange's default order.
func OrderedPairs(s State, family string) []Pair {
	pairs := PairsByFamily(s, family)
	ordering, ok := s.PairsOrdering[family]
	if !ok || ordering.Type == OrderNone || ordering.Type == "" {
		sort.SliceStable(pairs, func(i, j int) bool {
			if pairs[i].Favourite != pairs[j].Favourite {
				return pairs[i].Favourite
			}
			return pairs[i].DefaultOrder < pairs[j].DefaultOrder
		})
		return pairs
	}

	less := fieldLess(ordering.Field)
	sort.SliceStable(pairs, func(i, j int) bool {
		if ordering.Type == OrderDesc {
			return less(pairs[j], pairs[i])
		}
		return less(pairs[i], pairs[j])
	})
	return pairs
}

func fieldLess(field OrderingField) func(a, b Pair) bool {
	switch field {
	case FieldPrice:
		return func(a, b Pair) bool { return optDecimal(a.LastPrice).LessThan(optDecimal(b.LastPrice)) }
	case FieldChange:
		return func(a, b Pair) bool {
			return optDecimal(a.PriceChangePct1d).LessThan(optDecimal(b.PriceChangePct1d))
		}
	default:
		return func(a, b Pair) bool {
			if a.Base.Symbol != b.Base.Symbol {
				return a.Base.Symbol < b.Base.Symbol
			}
			return a.Quote.Symbol < b.Quote.Symbol
		}
	}
}

// FilteredPairs applies the family's search text (case-insensitive, either
// symbol) and filter to the ordered pairs.
func FilteredPairs(s State, family string) []Pair {
	f := s.PairsFiltering[family]
	search := strings.ToUpper(f.SearchText)
	var out []Pair
	for _, p := range OrderedPairs(s, family) {
		if search != "" &&
			!strings.Contains(strings.ToUpper(p.Base.Symbol), search) &&
			!strings.Contains(strings.ToUpper(p.Quote.Symbol), search) {
			continue
		}
		if !f.Filter.Match(p) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// PairsFilters lists the filters offered for a family: favourites, one per
// distinct quote symbol in first-seen order, then all.
func PairsFilters(s State, family string) []PairsFilter {
	out := []PairsFilter{FilterFavourites}
	seen := map[string]bool{}
	for _, p := range PairsByFamily(s, family) {
		if seen[p.Quote.Symbol] {
			continue
		}
		seen[p.Quote.Symbol] = true
		out = append(out, PairsFilter{Label: p.Quote.Symbol, Quote: p.Quote.Symbol})
	}
	return append(out, FilterAll)
}

// Addresses returns every distinct listed asset address, sorted.
func Addresses(s State) []string {
	set := map[string]struct{}{}
	for _, p := range s.Pairs {
		set[p.Base.Address] = struct{}{}
		set[p.Quote.Address] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for a := range set {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

func GetPair(s State, base, quote string) (Pair, bool) {
	p, ok := s.Pairs[PairKey(base, quote)]
	return p, ok
}

// LastPrice is empty when no price has been loaded.
func LastPrice(s State, base, quote string) string {
	p, ok := GetPair(s, base, quote)
	if !ok || p.LastPrice == nil {
		return ""
	}
	return p.LastPrice.String()
}

func PriceChange(s State, base, quote string) decimal.Decimal {
	p, _ := GetPair(s, base, quote)
	return optDecimal(p.PriceChangePct1d)
}

func GetOrderbook(s State, base, quote string) Orderbook {
	return s.Orderbooks[PairKey(base, quote)]
}

func OrderbookOrdersByType(s State, base, quote, side string) []Level {
	return GetOrderbook(s, base, quote).Side(strings.ToLower(side))
}

func OrderbookPrecision(s State, base, quote string) int {
	return GetOrderbook(s, base, quote).Precision()
}

func LowestAsk(s State, base, quote string) (decimal.Decimal, bool) {
	return GetOrderbook(s, base, quote).LowestAsk()
}

func HighestBid(s State, base, quote string) (decimal.Decimal, bool) {
	return GetOrderbook(s, base, quote).HighestBid()
}

func Trades(s State, base, quote string) []Trade {
	return s.Trades[PairKey(base, quote)].Trades
}

func TradesPaging(s State, base, quote string) Paging {
	return s.Trades[PairKey(base, quote)].Paging
}

// TradesPage is the next page to request; 1 for a pair never fetched.
func TradesPage(s State, base, quote string) int {
	if p := s.Trades[PairKey(base, quote)].Page; p > 0 {
		return p
	}
	return 1
}

// TradesLastUpdated is the zero time for a pair never fetched.
func TradesLastUpdated(s State, base, quote string) time.Time {
	return s.Trades[PairKey(base, quote)].LastUpdated
}

func IsTradeListOutOfDate(s State, base, quote string, now time.Time) bool {
	return now.Sub(TradesLastUpdated(s, base, quote)) >= TradesUpdateThreshold
}

func FormattedTrades(s State, base, quote string) []FormattedTrade {
	return FormatTrades(Trades(s, base, quote))
}

// OrdersByDate returns the order list newest first.
func OrdersByDate(s State) []order.Record {
	out := append([]order.Record(nil), s.Orders...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Added.After(out[j].Added) })
	return out
}

// OrdersByPair returns orders trading base against quote in either direction,
// newest first. The native asset sentinel matches the zero address.
func OrdersByPair(s State, base, quote string) []order.Record {
	base, quote = orderAddress(base), orderAddress(quote)
	var out []order.Record
	for _, r := range OrdersByDate(s) {
		if r.Involves(base, quote) {
			out = append(out, r)
		}
	}
	return out
}

func ActiveOrdersByPair(s State, base, quote string) []order.Record {
	var out []order.Record
	for _, r := range OrdersByPair(s, base, quote) {
		if r.IsActive() {
			out = append(out, r)
		}
	}
	return out
}

func CompletedOrdersByPair(s State, base, quote string) []order.Record {
	var out []order.Record
	for _, r := range OrdersByPair(s, base, quote) {
		if r.IsCompleted() {
			out = append(out, r)
		}
	}
	return out
}

func GetOrder(s State, id string) (order.Record, bool) {
	for _, r := range s.Orders {
		if r.ID == id {
			return r, true
		}
	}
	return order.Record{}, false
}

func Bundles(s State) []Bundle {
	return s.Bundles
}

func QuickPurchaseAddress(s State) string {
	return s.QuickPurchaseAddress
}

func orderAddress(asset string) string {
	if asset == crypto.NativeAsset {
		return (common.Address{}).Hex()
	}
	return asset
}

func optDecimal(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}
