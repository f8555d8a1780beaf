// Package market holds the market-data model, the single-writer state container
// and the pure views derived from it.
package market

import (
	"math/big"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/dexsync/pkg/crypto"
)

// Asset is one side of a trading pair as listed by the exchange.
type Asset struct {
	Symbol   string `json:"symbol"`
	Address  string `json:"address"`
	Decimals int    `json:"decimals,omitempty"`
	Type     string `json:"type,omitempty"`
	Img      string `json:"img,omitempty"`
}

// Pair is a tradable base/quote combination. Addresses are normalized: the
// zero address is replaced by crypto.NativeAsset.
type Pair struct {
	Base             Asset            `json:"base"`
	Quote            Asset            `json:"quote"`
	Fee              decimal.Decimal  `json:"fee"`
	MinOrder         decimal.Decimal  `json:"minOrder"`
	MinTier          int              `json:"minTier"`
	Family           string           `json:"family,omitempty"`
	Favourite        bool             `json:"favourite,omitempty"`
	DefaultOrder     int              `json:"defaultOrder,omitempty"`
	LastPrice        *decimal.Decimal `json:"lastPrice,omitempty"`
	PriceChangePct1d *decimal.Decimal `json:"priceChange1d,omitempty"`
}

func (p Pair) Key() string {
	return PairKey(p.Base.Symbol, p.Quote.Symbol)
}

// PairKey is the "BASE-QUOTE" key pairs, orderbooks and trade lists are stored under.
func PairKey(base, quote string) string {
	return base + "-" + quote
}

// RawPair is a pair as returned by the pairs endpoint.
type RawPair struct {
	Base                  Asset  `json:"base"`
	Quote                 Asset  `json:"quote"`
	Fee                   string `json:"fee"`
	MinQuoteAmountAllowed string `json:"minQuoteAmountAllowed"`
	MinTier               *int   `json:"minTier"`
	Family                string `json:"family"`
	Favourite             bool   `json:"favourite"`
	DefaultOrder          int    `json:"defaultOrder"`
}

// FormatPairs keys raw pairs by symbol pair and normalizes their fields.
// Unparseable or negative fee and minimum order amounts become zero.
func FormatPairs(raw []RawPair) map[string]Pair {
	out := make(map[string]Pair, len(raw))
	for _, r := range raw {
		p := Pair{
			Base:         r.Base,
			Quote:        r.Quote,
			Fee:          nonNegative(r.Fee),
			MinOrder:     nonNegative(r.MinQuoteAmountAllowed),
			Family:       r.Family,
			Favourite:    r.Favourite,
			DefaultOrder: r.DefaultOrder,
		}
		if r.MinTier != nil {
			p.MinTier = *r.MinTier
		}
		p.Base.Address = crypto.NormalizeAsset(p.Base.Address)
		p.Quote.Address = crypto.NormalizeAsset(p.Quote.Address)
		out[p.Key()] = p
	}
	return out
}

// PairPrice is the last traded price and 24h change of one pair.
type PairPrice struct {
	LastPrice decimal.Decimal
	Change1d  decimal.Decimal
}

// RawPairPrice is the price endpoint payload; Last is denominated in wei.
type RawPairPrice struct {
	Last   string `json:"last"`
	Change struct {
		Day struct {
			Perc string `json:"perc"`
		} `json:"1d"`
	} `json:"change"`
}

func (r RawPairPrice) Parse() PairPrice {
	out := PairPrice{Change1d: parseOrZero(r.Change.Day.Perc)}
	if wei, ok := new(big.Int).SetString(strings.TrimSpace(r.Last), 10); ok {
		out.LastPrice = FromWei(wei)
	}
	return out
}

// FromWei converts an 18-decimal integer amount to ether units.
func FromWei(wei *big.Int) decimal.Decimal {
	return decimal.NewFromBigInt(wei, -18)
}

func parseOrZero(s string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero
	}
	return d
}

func nonNegative(s string) decimal.Decimal {
	d := parseOrZero(s)
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
