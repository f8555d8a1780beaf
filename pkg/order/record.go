package order

import (
	"strings"
	"time"
)

// Status is the server-reported lifecycle state of a submitted order.
type Status string

const (
	StatusPending    Status = "pending"
	StatusActive     Status = "active"
	StatusFilled     Status = "filled"
	StatusUnfillable Status = "unfillable"
	StatusCancelled  Status = "cancelled"
)

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Record is one row of the trading wallet's order list. Amounts stay as the
// base-10 strings the service returns.
type Record struct {
	ID                                string    `json:"id"`
	Added                             time.Time `json:"added"`
	Side                              Side      `json:"type"`
	OfferTokenAddress                 string    `json:"offerTokenAddress"`
	OfferTokenAmount                  string    `json:"offerTokenAmount"`
	WantTokenAddress                  string    `json:"wantTokenAddress"`
	WantTokenAmount                   string    `json:"wantTokenAmount"`
	WantTokenAmountFilled             string    `json:"wantTokenAmountFilled"`
	AmountFilled                      string    `json:"amountFilled"`
	AmountLocked                      string    `json:"amountLocked"`
	EthTokenRatio                     string    `json:"ethTokenRatio"`
	Status                            Status    `json:"status"`
	WantTokenAmountExpectedToBeFilled string    `json:"wantTokenAmountExpectedToBeFilled"`
}

// HasExposure reports whether anything is still locked or expected to fill.
func (r *Record) HasExposure() bool {
	return !isZero(r.AmountLocked) || !isZero(r.WantTokenAmountExpectedToBeFilled)
}

func (r *Record) IsActive() bool {
	return r.Status == StatusActive || r.Status == StatusPending
}

// IsCompleted reports terminal orders that still carry exposure worth showing.
func (r *Record) IsCompleted() bool {
	switch r.Status {
	case StatusFilled, StatusUnfillable, StatusCancelled:
		return r.HasExposure()
	}
	return false
}

// Listed drops cancelled orders that never locked funds; everything else is kept.
// Any side other than buy is treated as sell.
func Listed(rows []Record) []Record {
	out := make([]Record, 0, len(rows))
	for _, r := range rows {
		if r.Status == StatusCancelled && !r.HasExposure() {
			continue
		}
		if r.Side != SideBuy {
			r.Side = SideSell
		}
		out = append(out, r)
	}
	return out
}

// Involves reports whether the order trades base against quote in either direction.
func (r *Record) Involves(base, quote string) bool {
	offer, want := strings.ToLower(r.OfferTokenAddress), strings.ToLower(r.WantTokenAddress)
	base, quote = strings.ToLower(base), strings.ToLower(quote)
	return (want == base && offer == quote) || (want == quote && offer == base)
}

func isZero(s string) bool {
	return s == "0"
}
