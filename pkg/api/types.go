package api

import (
	"github.com/shopspring/decimal"

	"github.com/uhyunpark/dexsync/pkg/market"
	"github.com/uhyunpark/dexsync/pkg/order"
	"github.com/uhyunpark/dexsync/pkg/poll"
)

// API types for REST endpoints and WebSocket messages

// ==============================
// REST Request Types
// ==============================

// CreateOrderRequest carries amounts as base-10 integer strings in token base units.
type CreateOrderRequest struct {
	RequestID   string     `json:"requestId,omitempty"`
	Password    string     `json:"password"`
	Side        order.Side `json:"side"`
	OfferAsset  string     `json:"offerAsset"`
	OfferAmount string     `json:"offerAmount"`
	WantAsset   string     `json:"wantAsset"`
	WantAmount  string     `json:"wantAmount"`
}

type CancelOrderRequest struct {
	RequestID string `json:"requestId,omitempty"`
	OrderID   string `json:"orderId"`
	Password  string `json:"password"`
}

type PasswordRequest struct {
	RequestID string `json:"requestId,omitempty"`
	Password  string `json:"password"`
}

// QuickPurchaseRequest carries EthAmount in wei.
type QuickPurchaseRequest struct {
	RequestID string `json:"requestId,omitempty"`
	Password  string `json:"password"`
	EthAmount string `json:"ethAmount"`
}

type LoadTradesRequest struct {
	Page    int  `json:"page,omitempty"`
	Initial bool `json:"initial,omitempty"`
}

type NewBlockRequest struct {
	Blockchain string `json:"blockchain"`
	Number     uint64 `json:"number"`
}

// ==============================
// REST Response Types
// ==============================

// AcceptedResponse is returned for requests that complete asynchronously.
// The outcome is published on the "outcomes" channel under RequestID.
type AcceptedResponse struct {
	Status    string `json:"status"`
	RequestID string `json:"requestId"`
}

type PairInfo struct {
	market.Pair
	Key string `json:"key"`
}

type PairsResponse struct {
	Family  string               `json:"family"`
	Pairs   []PairInfo           `json:"pairs"`
	Filters []market.PairsFilter `json:"filters"`
}

type PairDetail struct {
	PairInfo
	LastPrice   string          `json:"lastPriceText"`
	PriceChange decimal.Decimal `json:"priceChange"`
}

type OrderbookSnapshot struct {
	Pair       string           `json:"pair"`
	Buy        []market.Level   `json:"buy"`
	Sell       []market.Level   `json:"sell"`
	Precision  int              `json:"precision"`
	LowestAsk  *decimal.Decimal `json:"lowestAsk,omitempty"`
	HighestBid *decimal.Decimal `json:"highestBid,omitempty"`
}

type TradesSnapshot struct {
	Pair        string                  `json:"pair"`
	Trades      []market.FormattedTrade `json:"trades"`
	Paging      market.Paging           `json:"paging"`
	Page        int                     `json:"page"`
	LastUpdated int64                   `json:"lastUpdated,omitempty"` // Unix milliseconds
	OutOfDate   bool                    `json:"outOfDate"`
}

type BundlesResponse struct {
	Bundles []market.Bundle `json:"bundles"`
	Address string          `json:"address"`
}

type StatusResponse struct {
	Account       string     `json:"account"`
	TradingWallet string     `json:"tradingWallet,omitempty"`
	LastBlock     uint64     `json:"lastBlock"`
	Updaters      []poll.Key `json:"updaters"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSSubscribeRequest is sent by clients to (un)subscribe from channels.
// Channels: pairs, orders, bundles, outcomes, orderbook:<BASE-QUOTE>,
// trades:<BASE-QUOTE>.
type WSSubscribeRequest struct {
	Op       string   `json:"op"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}

// WSMessage is every server push.
type WSMessage struct {
	Type      string `json:"type"`
	Channel   string `json:"channel"`
	Data      any    `json:"data"`
	Timestamp int64  `json:"timestamp"` // Unix milliseconds
}
