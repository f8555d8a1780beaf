package market

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Trade is one print of the trade feed as returned by the trades endpoint.
type Trade struct {
	ID            string    `json:"id,omitempty"`
	Price         string    `json:"price"`
	Size          string    `json:"size"`
	Side          string    `json:"side,omitempty"`
	LastUpdatedAt time.Time `json:"lastUpdatedAt"`
}

// FormattedTrade is a trade ready for tabular display.
type FormattedTrade struct {
	ID        string `json:"id,omitempty"`
	Price     string `json:"price"`
	Size      string `json:"size"`
	Side      string `json:"side,omitempty"`
	Timestamp int64  `json:"timestamp"`
	IsUp      bool   `json:"isUp"`
}

// RemoveTrailingZeros strips fractional trailing zeros and a dangling separator.
// Integers are returned unchanged.
func RemoveTrailingZeros(price string) string {
	if !strings.Contains(price, ".") {
		return price
	}
	return strings.TrimSuffix(strings.TrimRight(price, "0"), ".")
}

// NumberOfDigits counts digits, ignoring the decimal separator.
func NumberOfDigits(price string) int {
	return len(strings.Replace(price, ".", "", 1))
}

// FormatPrice right-pads price with zeros until it has length digits. A separator
// is added to integers that need padding. Prices already that wide are unchanged.
func FormatPrice(price string, length int) string {
	n := NumberOfDigits(price)
	if n >= length {
		return price
	}
	var b strings.Builder
	b.WriteString(price)
	if !strings.Contains(price, ".") {
		b.WriteByte('.')
	}
	b.WriteString(strings.Repeat("0", length-n))
	return b.String()
}

// FormatTrades orders trades newest first and pads every price to the widest
// significant price of the batch.
//
// IsUp compares each trade with the next older one: a higher price is up, a
// lower one is down and an equal one keeps the older trade's direction. The
// oldest trade is compared against zero. Trades with equal timestamps keep
// their input order.
func FormatTrades(trades []Trade) []FormattedTrade {
	if len(trades) == 0 {
		return []FormattedTrade{}
	}

	sorted := make([]Trade, len(trades))
	copy(sorted, trades)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].LastUpdatedAt.After(sorted[j].LastUpdatedAt)
	})

	width := 0
	for _, t := range sorted {
		if n := NumberOfDigits(RemoveTrailingZeros(t.Price)); n > width {
			width = n
		}
	}

	out := make([]FormattedTrade, len(sorted))
	lastIsUp := true
	older := decimal.Zero
	for i := len(sorted) - 1; i >= 0; i-- {
		t := sorted[i]
		price := parseOrZero(t.Price)

		isUp := lastIsUp
		if !price.Equal(older) {
			isUp = price.GreaterThan(older)
		}

		out[i] = FormattedTrade{
			ID:        t.ID,
			Price:     FormatPrice(RemoveTrailingZeros(t.Price), width),
			Size:      t.Size,
			Side:      t.Side,
			Timestamp: t.LastUpdatedAt.Unix(),
			IsUp:      isUp,
		}
		lastIsUp = isUp
		older = price
	}
	return out
}

// TradesQuery selects the trades of one pair printed in [From, To).
type TradesQuery struct {
	Base, Quote string
	From, To    time.Time
	Page        int
	Initial     bool
}

// TradesResult is one page of the trades endpoint.
type TradesResult struct {
	Trades []Trade `json:"data"`
	Paging Paging  `json:"paging"`
}
