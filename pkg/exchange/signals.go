package exchange

import (
	"encoding/json"
	"fmt"
	"math/big"
	"sort"

	"github.com/uhyunpark/dexsync/pkg/market"
	"github.com/uhyunpark/dexsync/pkg/order"
)

// Signal is a typed control message accepted by Coordinator.Dispatch.
// Passwords never serialize.
type Signal interface {
	Name() string
}

const (
	SigStartOrderbookUpdater = "START_ORDERBOOK_UPDATER"
	SigStopOrderbookUpdater  = "STOP_ORDERBOOK_UPDATER"
	SigStartTradesUpdater    = "START_TRADES_UPDATER"
	SigStopTradesUpdater     = "STOP_TRADES_UPDATER"
	SigStartPairsUpdater     = "START_PAIRS_UPDATER"
	SigStopPairsUpdater      = "STOP_PAIRS_UPDATER"
	SigCreateOrder           = "CREATE_ORDER_REQUEST"
	SigCancelOrder           = "CANCEL_ORDER_REQUEST"
	SigGetOrderList          = "GET_ORDER_LIST_REQUEST"
	SigGetTrades             = "GET_TRADES_REQUEST"
	SigClearTrades           = "CLEAR_TRADES"
	SigNewBlock              = "NEW_BLOCK"
	SigAppReady              = "APP_READY"
	SigPairOwner             = "IS_PAIR_OWNER_REQUEST"
	SigQuickPurchase         = "QUICK_PURCHASE_REQUEST"
	SigFetchBundles          = "FETCH_BUNDLES_REQUEST"
	SigSetPairsOrdering      = "SET_PAIRS_ORDERING"
	SigSetPairsFiltering     = "SET_PAIRS_FILTERING"
)

type StartOrderbookUpdater struct {
	Base  string `json:"base"`
	Quote string `json:"quote"`
}

type StopOrderbookUpdater struct {
	Base  string `json:"base"`
	Quote string `json:"quote"`
}

type StartTradesUpdater struct {
	Base  string `json:"base"`
	Quote string `json:"quote"`
}

type StopTradesUpdater struct {
	Base  string `json:"base"`
	Quote string `json:"quote"`
}

type StartPairsUpdater struct{}

type StopPairsUpdater struct{}

type CreateOrderRequest struct {
	RequestID   string     `json:"requestId,omitempty"`
	Password    string     `json:"-"`
	Side        order.Side `json:"side,omitempty"`
	OfferAsset  string     `json:"offerAsset"`
	OfferAmount *big.Int   `json:"offerAmount"`
	WantAsset   string     `json:"wantAsset"`
	WantAmount  *big.Int   `json:"wantAmount"`
}

type CancelOrderRequest struct {
	RequestID string `json:"requestId,omitempty"`
	OrderID   string `json:"orderId"`
	Password  string `json:"-"`
}

type GetOrderListRequest struct{}

// GetTradesRequest loads one trades page outside the polling cycle.
type GetTradesRequest struct {
	Base    string `json:"base"`
	Quote   string `json:"quote"`
	Page    int    `json:"page,omitempty"`
	Initial bool   `json:"initial,omitempty"`
}

type ClearTrades struct {
	Base  string `json:"base"`
	Quote string `json:"quote"`
}

// NewBlock announces a block on Blockchain.
type NewBlock struct {
	Blockchain string `json:"blockchain"`
	Number     uint64 `json:"number"`
}

type AppReady struct{}

type PairOwnerRequest struct {
	RequestID string `json:"requestId,omitempty"`
	Password  string `json:"-"`
}

type QuickPurchaseRequest struct {
	RequestID string   `json:"requestId,omitempty"`
	EthAmount *big.Int `json:"ethAmount"`
	Password  string   `json:"-"`
}

type FetchBundlesRequest struct{}

type SetPairsOrdering struct {
	Family   string          `json:"family"`
	Ordering market.Ordering `json:"ordering"`
}

type SetPairsFiltering struct {
	Family    string           `json:"family"`
	Filtering market.Filtering `json:"filtering"`
}

func (StartOrderbookUpdater) Name() string { return SigStartOrderbookUpdater }
func (StopOrderbookUpdater) Name() string  { return SigStopOrderbookUpdater }
func (StartTradesUpdater) Name() string    { return SigStartTradesUpdater }
func (StopTradesUpdater) Name() string     { return SigStopTradesUpdater }
func (StartPairsUpdater) Name() string     { return SigStartPairsUpdater }
func (StopPairsUpdater) Name() string      { return SigStopPairsUpdater }
func (CreateOrderRequest) Name() string    { return SigCreateOrder }
func (CancelOrderRequest) Name() string    { return SigCancelOrder }
func (GetOrderListRequest) Name() string   { return SigGetOrderList }
func (GetTradesRequest) Name() string      { return SigGetTrades }
func (ClearTrades) Name() string           { return SigClearTrades }
func (NewBlock) Name() string              { return SigNewBlock }
func (AppReady) Name() string              { return SigAppReady }
func (PairOwnerRequest) Name() string      { return SigPairOwner }
func (QuickPurchaseRequest) Name() string  { return SigQuickPurchase }
func (FetchBundlesRequest) Name() string   { return SigFetchBundles }
func (SetPairsOrdering) Name() string      { return SigSetPairsOrdering }
func (SetPairsFiltering) Name() string     { return SigSetPairsFiltering }

// Outcome is the terminal SUCCESS or FAILURE of a dispatched request.
type Outcome struct {
	RequestID string `json:"requestId,omitempty"`
	Signal    string `json:"signal"`
	OK        bool   `json:"ok"`
	Reason    Reason `json:"reason,omitempty"`
	Error     string `json:"error,omitempty"`
	Result    any    `json:"result,omitempty"`
}

type envelope struct {
	Signal  string          `json:"signal"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// EncodeSignal renders sig as one WAL line.
func EncodeSignal(sig Signal) (string, error) {
	payload, err := json.Marshal(sig)
	if err != nil {
		return "", fmt.Errorf("failed to encode %s: %w", sig.Name(), err)
	}
	line, err := json.Marshal(envelope{Signal: sig.Name(), Payload: payload})
	if err != nil {
		return "", err
	}
	return string(line), nil
}

var decoders = map[string]func(json.RawMessage) (Signal, error){
	SigStartOrderbookUpdater: decodeAs[StartOrderbookUpdater],
	SigStopOrderbookUpdater:  decodeAs[StopOrderbookUpdater],
	SigStartTradesUpdater:    decodeAs[StartTradesUpdater],
	SigStopTradesUpdater:     decodeAs[StopTradesUpdater],
	SigStartPairsUpdater:     decodeAs[StartPairsUpdater],
	SigStopPairsUpdater:      decodeAs[StopPairsUpdater],
	SigCreateOrder:           decodeAs[CreateOrderRequest],
	SigCancelOrder:           decodeAs[CancelOrderRequest],
	SigGetOrderList:          decodeAs[GetOrderListRequest],
	SigGetTrades:             decodeAs[GetTradesRequest],
	SigClearTrades:           decodeAs[ClearTrades],
	SigNewBlock:              decodeAs[NewBlock],
	SigAppReady:              decodeAs[AppReady],
	SigPairOwner:             decodeAs[PairOwnerRequest],
	SigQuickPurchase:         decodeAs[QuickPurchaseRequest],
	SigFetchBundles:          decodeAs[FetchBundlesRequest],
	SigSetPairsOrdering:      decodeAs[SetPairsOrdering],
	SigSetPairsFiltering:     decodeAs[SetPairsFiltering],
}

func decodeAs[T Signal](payload json.RawMessage) (Signal, error) {
	var sig T
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &sig); err != nil {
			return nil, err
		}
	}
	return sig, nil
}

// DecodeSignal parses a line written by EncodeSignal.
func DecodeSignal(line string) (Signal, error) {
	var env envelope
	if err := json.Unmarshal([]byte(line), &env); err != nil {
		return nil, fmt.Errorf("failed to decode signal: %w", err)
	}
	decode, ok := decoders[env.Signal]
	if !ok {
		return nil, fmt.Errorf("unknown signal %q", env.Signal)
	}
	sig, err := decode(env.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s payload: %w", env.Signal, err)
	}
	return sig, nil
}

// ActiveUpdaters replays a signal log and returns the start signals of the
// updaters still running at its end, in first-start order.
func ActiveUpdaters(sigs []Signal) []Signal {
	type entry struct {
		start Signal
		seq   int
	}
	live := map[string]entry{}
	for i, sig := range sigs {
		switch s := sig.(type) {
		case StartOrderbookUpdater:
			if _, ok := live["ob:"+s.Base+"-"+s.Quote]; !ok {
				live["ob:"+s.Base+"-"+s.Quote] = entry{s, i}
			}
		case StopOrderbookUpdater:
			delete(live, "ob:"+s.Base+"-"+s.Quote)
		case StartTradesUpdater:
			if _, ok := live["tr:"+s.Base+"-"+s.Quote]; !ok {
				live["tr:"+s.Base+"-"+s.Quote] = entry{s, i}
			}
		case StopTradesUpdater:
			delete(live, "tr:"+s.Base+"-"+s.Quote)
		case StartPairsUpdater:
			if _, ok := live["pairs"]; !ok {
				live["pairs"] = entry{s, i}
			}
		case StopPairsUpdater:
			delete(live, "pairs")
		}
	}
	entries := make([]entry, 0, len(live))
	for _, e := range live {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	out := make([]Signal, len(entries))
	for i, e := range entries {
		out[i] = e.start
	}
	return out
}
