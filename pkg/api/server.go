package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/dexsync/pkg/exchange"
	"github.com/uhyunpark/dexsync/pkg/market"
	"github.com/uhyunpark/dexsync/pkg/order"
	"github.com/uhyunpark/dexsync/pkg/util"
)

// Channels pushed over the websocket.
const (
	ChannelPairs    = "pairs"
	ChannelOrders   = "orders"
	ChannelBundles  = "bundles"
	ChannelOutcomes = "outcomes"
)

func OrderbookChannel(base, quote string) string { return "orderbook:" + market.PairKey(base, quote) }
func TradesChannel(base, quote string) string    { return "trades:" + market.PairKey(base, quote) }

type Options struct {
	AllowedOrigins []string
	Logger         *zap.SugaredLogger
}

// Server exposes the coordinator over REST and pushes store changes and
// request outcomes to WebSocket subscribers.
type Server struct {
	ctx     context.Context
	coord   *exchange.Coordinator
	router  *mux.Router
	hub     *Hub
	origins []string
	logger  *zap.SugaredLogger

	mu  sync.Mutex
	srv *http.Server
}

// NewServer wires the server to coord. Updaters started through the API
// live until ctx is done or they are stopped.
func NewServer(ctx context.Context, coord *exchange.Coordinator, opts Options) *Server {
	logger := util.OrNop(opts.Logger)
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000", "http://localhost:3001"}
	}
	s := &Server{
		ctx:     ctx,
		coord:   coord,
		router:  mux.NewRouter(),
		hub:     NewHub(logger),
		origins: origins,
		logger:  logger,
	}
	s.setupRoutes()

	go s.hub.Run(ctx)
	coord.Store().Subscribe(s.publishEvent)
	coord.OnOutcome(s.publishOutcome)
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Pairs
	api.HandleFunc("/families/{family}/pairs", s.handleGetPairs).Methods("GET")
	api.HandleFunc("/families/{family}/ordering", s.handleSetOrdering).Methods("PUT")
	api.HandleFunc("/families/{family}/filtering", s.handleSetFiltering).Methods("PUT")
	api.HandleFunc("/pairs/{base}/{quote}", s.handleGetPair).Methods("GET")
	api.HandleFunc("/pairs/{base}/{quote}/orderbook", s.handleGetOrderbook).Methods("GET")
	api.HandleFunc("/pairs/{base}/{quote}/trades", s.handleGetTrades).Methods("GET")
	api.HandleFunc("/pairs/{base}/{quote}/trades", s.handleLoadTrades).Methods("POST")
	api.HandleFunc("/pairs/{base}/{quote}/trades", s.handleClearTrades).Methods("DELETE")
	api.HandleFunc("/pair-owner", s.handlePairOwner).Methods("POST")

	// Updaters
	api.HandleFunc("/updaters", s.handleGetUpdaters).Methods("GET")
	api.HandleFunc("/updaters/pairs", s.handleUpdater).Methods("POST", "DELETE")
	api.HandleFunc("/updaters/{kind}/{base}/{quote}", s.handleUpdater).Methods("POST", "DELETE")

	// Orders
	api.HandleFunc("/orders", s.handleGetOrders).Methods("GET")
	api.HandleFunc("/orders", s.handleCreateOrder).Methods("POST")
	api.HandleFunc("/orders/cancel", s.handleCancelOrder).Methods("POST")
	api.HandleFunc("/orders/refresh", s.handleRefreshOrders).Methods("POST")
	api.HandleFunc("/orders/{id}", s.handleGetOrder).Methods("GET")

	// Chain and purchase
	api.HandleFunc("/blocks", s.handleNewBlock).Methods("POST")
	api.HandleFunc("/ready", s.handleReady).Methods("POST")
	api.HandleFunc("/bundles", s.handleGetBundles).Methods("GET")
	api.HandleFunc("/bundles/refresh", s.handleRefreshBundles).Methods("POST")
	api.HandleFunc("/quick-purchase", s.handleQuickPurchase).Methods("POST")
	api.HandleFunc("/status", s.handleStatus).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the router wrapped in the CORS policy.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Start serves until Shutdown is called.
func (s *Server) Start(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.srv = srv
	s.mu.Unlock()

	s.logger.Infow("api_server_starting", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// ==============================
// Pair Handlers
// ==============================

func (s *Server) handleGetPairs(w http.ResponseWriter, r *http.Request) {
	family := familyVar(r)
	st := s.coord.Store().Snapshot()
	respondJSON(w, PairsResponse{
		Family:  family,
		Pairs:   pairInfos(market.FilteredPairs(st, family)),
		Filters: market.PairsFilters(st, family),
	})
}

func (s *Server) handleSetOrdering(w http.ResponseWriter, r *http.Request) {
	var ordering market.Ordering
	if !decodeBody(w, r, &ordering) {
		return
	}
	switch ordering.Type {
	case market.OrderNone, market.OrderAsc, market.OrderDesc:
	default:
		respondError(w, http.StatusBadRequest, "invalid ordering type", string(ordering.Type))
		return
	}
	s.coord.Dispatch(s.ctx, exchange.SetPairsOrdering{Family: familyVar(r), Ordering: ordering})
	s.handleGetPairs(w, r)
}

func (s *Server) handleSetFiltering(w http.ResponseWriter, r *http.Request) {
	var filtering market.Filtering
	if !decodeBody(w, r, &filtering) {
		return
	}
	s.coord.Dispatch(s.ctx, exchange.SetPairsFiltering{Family: familyVar(r), Filtering: filtering})
	s.handleGetPairs(w, r)
}

func (s *Server) handleGetPair(w http.ResponseWriter, r *http.Request) {
	base, quote := pairVars(r)
	detail, ok := pairDetail(s.coord.Store().Snapshot(), base, quote)
	if !ok {
		respondError(w, http.StatusNotFound, "pair not found", market.PairKey(base, quote))
		return
	}
	respondJSON(w, detail)
}

func (s *Server) handleGetOrderbook(w http.ResponseWriter, r *http.Request) {
	base, quote := pairVars(r)
	respondJSON(w, orderbookSnapshot(s.coord.Store().Snapshot(), base, quote))
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	base, quote := pairVars(r)
	respondJSON(w, tradesSnapshot(s.coord.Store().Snapshot(), base, quote, time.Now()))
}

func (s *Server) handleLoadTrades(w http.ResponseWriter, r *http.Request) {
	base, quote := pairVars(r)
	var req LoadTradesRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}
	id := s.coord.Dispatch(s.ctx, exchange.GetTradesRequest{Base: base, Quote: quote, Page: req.Page, Initial: req.Initial})
	respondAccepted(w, id)
}

func (s *Server) handleClearTrades(w http.ResponseWriter, r *http.Request) {
	base, quote := pairVars(r)
	s.coord.Dispatch(s.ctx, exchange.ClearTrades{Base: base, Quote: quote})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePairOwner(w http.ResponseWriter, r *http.Request) {
	var req PasswordRequest
	if !decodeBody(w, r, &req) {
		return
	}
	id := s.coord.Dispatch(s.ctx, exchange.PairOwnerRequest{RequestID: req.RequestID, Password: req.Password})
	respondAccepted(w, id)
}

// ==============================
// Updater Handlers
// ==============================

func (s *Server) handleGetUpdaters(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, s.coord.Supervisor().Running())
}

func (s *Server) handleUpdater(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	kind, base, quote := vars["kind"], vars["base"], vars["quote"]
	if kind == "" {
		kind = "pairs"
	}
	start := r.Method == http.MethodPost

	var sig exchange.Signal
	switch {
	case kind == "pairs" && start:
		sig = exchange.StartPairsUpdater{}
	case kind == "pairs":
		sig = exchange.StopPairsUpdater{}
	case kind == "orderbook" && start:
		sig = exchange.StartOrderbookUpdater{Base: base, Quote: quote}
	case kind == "orderbook":
		sig = exchange.StopOrderbookUpdater{Base: base, Quote: quote}
	case kind == "trades" && start:
		sig = exchange.StartTradesUpdater{Base: base, Quote: quote}
	case kind == "trades":
		sig = exchange.StopTradesUpdater{Base: base, Quote: quote}
	default:
		respondError(w, http.StatusNotFound, "unknown updater", kind)
		return
	}
	s.coord.Dispatch(s.ctx, sig)
	respondJSON(w, s.coord.Supervisor().Running())
}

// ==============================
// Order Handlers
// ==============================

func (s *Server) handleGetOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	base, quote := q.Get("base"), q.Get("quote")
	st := s.coord.Store().Snapshot()

	var orders []order.Record
	switch {
	case base == "" || quote == "":
		orders = market.OrdersByDate(st)
	case q.Get("filter") == "active":
		orders = market.ActiveOrdersByPair(st, base, quote)
	case q.Get("filter") == "completed":
		orders = market.CompletedOrdersByPair(st, base, quote)
	default:
		orders = market.OrdersByPair(st, base, quote)
	}
	if orders == nil {
		orders = []order.Record{}
	}
	respondJSON(w, orders)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rec, ok := market.GetOrder(s.coord.Store().Snapshot(), id)
	if !ok {
		respondError(w, http.StatusNotFound, "order not found", id)
		return
	}
	respondJSON(w, rec)
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	offer, err := parseAmount(req.OfferAmount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid offerAmount", err.Error())
		return
	}
	want, err := parseAmount(req.WantAmount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid wantAmount", err.Error())
		return
	}
	if req.OfferAsset == "" || req.WantAsset == "" {
		respondError(w, http.StatusBadRequest, "missing asset", "")
		return
	}

	id := s.coord.Dispatch(s.ctx, exchange.CreateOrderRequest{
		RequestID:   req.RequestID,
		Password:    req.Password,
		Side:        req.Side,
		OfferAsset:  req.OfferAsset,
		OfferAmount: offer,
		WantAsset:   req.WantAsset,
		WantAmount:  want,
	})
	respondAccepted(w, id)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var req CancelOrderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.OrderID == "" {
		respondError(w, http.StatusBadRequest, "missing orderId", "")
		return
	}
	id := s.coord.Dispatch(s.ctx, exchange.CancelOrderRequest{RequestID: req.RequestID, OrderID: req.OrderID, Password: req.Password})
	respondAccepted(w, id)
}

func (s *Server) handleRefreshOrders(w http.ResponseWriter, r *http.Request) {
	respondAccepted(w, s.coord.Dispatch(s.ctx, exchange.GetOrderListRequest{}))
}

// ==============================
// Chain and Purchase Handlers
// ==============================

func (s *Server) handleNewBlock(w http.ResponseWriter, r *http.Request) {
	var req NewBlockRequest
	if !decodeBody(w, r, &req) {
		return
	}
	respondAccepted(w, s.coord.Dispatch(s.ctx, exchange.NewBlock{Blockchain: req.Blockchain, Number: req.Number}))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	respondAccepted(w, s.coord.Dispatch(s.ctx, exchange.AppReady{}))
}

func (s *Server) handleGetBundles(w http.ResponseWriter, r *http.Request) {
	st := s.coord.Store().Snapshot()
	bundles := market.Bundles(st)
	if bundles == nil {
		bundles = []market.Bundle{}
	}
	respondJSON(w, BundlesResponse{Bundles: bundles, Address: market.QuickPurchaseAddress(st)})
}

func (s *Server) handleRefreshBundles(w http.ResponseWriter, r *http.Request) {
	respondAccepted(w, s.coord.Dispatch(s.ctx, exchange.FetchBundlesRequest{}))
}

func (s *Server) handleQuickPurchase(w http.ResponseWriter, r *http.Request) {
	var req QuickPurchaseRequest
	if !decodeBody(w, r, &req) {
		return
	}
	amount, err := parseAmount(req.EthAmount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid ethAmount", err.Error())
		return
	}
	id := s.coord.Dispatch(s.ctx, exchange.QuickPurchaseRequest{RequestID: req.RequestID, EthAmount: amount, Password: req.Password})
	respondAccepted(w, id)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, StatusResponse{
		Account:       s.coord.Account().Hex(),
		TradingWallet: s.coord.TradingWallet(),
		LastBlock:     s.coord.LastBlock(),
		Updaters:      s.coord.Supervisor().Running(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]any{"status": "ok", "wsClients": s.hub.Clients()})
}

// ==============================
// Push
// ==============================

// publishEvent runs inside the store's apply; BroadcastToChannel never blocks.
func (s *Server) publishEvent(ev market.Event, next market.State) {
	switch e := ev.(type) {
	case market.PairsLoaded:
		s.hub.BroadcastToChannel(ChannelPairs, "pairs", allPairs(next))
	case market.PairPriceLoaded:
		if detail, ok := pairDetail(next, e.Base, e.Quote); ok {
			s.hub.BroadcastToChannel(ChannelPairs, "price", detail)
		}
	case market.PairsOrderingChanged, market.PairsFilteringChanged:
		s.hub.BroadcastToChannel(ChannelPairs, "pairs", allPairs(next))
	case market.OrderbookLoaded:
		s.hub.BroadcastToChannel(OrderbookChannel(e.Base, e.Quote), "orderbook", orderbookSnapshot(next, e.Base, e.Quote))
	case market.TradesLoaded:
		s.hub.BroadcastToChannel(TradesChannel(e.Base, e.Quote), "trades", tradesSnapshot(next, e.Base, e.Quote, time.Now()))
	case market.TradesCleared:
		s.hub.BroadcastToChannel(TradesChannel(e.Base, e.Quote), "trades", tradesSnapshot(next, e.Base, e.Quote, time.Now()))
	case market.OrderListLoaded, market.OrderCreated, market.OrderCancelled:
		s.hub.BroadcastToChannel(ChannelOrders, "orders", market.OrdersByDate(next))
	case market.BundlesLoaded:
		s.hub.BroadcastToChannel(ChannelBundles, "bundles", BundlesResponse{Bundles: next.Bundles, Address: next.QuickPurchaseAddress})
	}
}

func (s *Server) publishOutcome(out exchange.Outcome) {
	s.hub.BroadcastToChannel(ChannelOutcomes, "outcome", out)
}

// ==============================
// Views
// ==============================

func pairInfos(pairs []market.Pair) []PairInfo {
	out := make([]PairInfo, len(pairs))
	for i, p := range pairs {
		out[i] = PairInfo{Pair: p, Key: p.Key()}
	}
	return out
}

func allPairs(st market.State) []PairInfo {
	pairs := make([]market.Pair, 0, len(st.Pairs))
	for _, p := range st.Pairs {
		pairs = append(pairs, p)
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Key() < pairs[j].Key() })
	return pairInfos(pairs)
}

func pairDetail(st market.State, base, quote string) (PairDetail, bool) {
	p, ok := market.GetPair(st, base, quote)
	if !ok {
		return PairDetail{}, false
	}
	return PairDetail{
		PairInfo:    PairInfo{Pair: p, Key: p.Key()},
		LastPrice:   market.LastPrice(st, base, quote),
		PriceChange: market.PriceChange(st, base, quote),
	}, true
}

func orderbookSnapshot(st market.State, base, quote string) OrderbookSnapshot {
	snap := OrderbookSnapshot{
		Pair:      market.PairKey(base, quote),
		Buy:       market.OrderbookOrdersByType(st, base, quote, "buy"),
		Sell:      market.OrderbookOrdersByType(st, base, quote, "sell"),
		Precision: market.OrderbookPrecision(st, base, quote),
	}
	if ask, ok := market.LowestAsk(st, base, quote); ok {
		snap.LowestAsk = &ask
	}
	if bid, ok := market.HighestBid(st, base, quote); ok {
		snap.HighestBid = &bid
	}
	if snap.Buy == nil {
		snap.Buy = []market.Level{}
	}
	if snap.Sell == nil {
		snap.Sell = []market.Level{}
	}
	return snap
}

func tradesSnapshot(st market.State, base, quote string, now time.Time) TradesSnapshot {
	snap := TradesSnapshot{
		Pair:      market.PairKey(base, quote),
		Trades:    market.FormattedTrades(st, base, quote),
		Paging:    market.TradesPaging(st, base, quote),
		Page:      market.TradesPage(st, base, quote),
		OutOfDate: market.IsTradeListOutOfDate(st, base, quote, now),
	}
	if last := market.TradesLastUpdated(st, base, quote); !last.IsZero() {
		snap.LastUpdated = last.UnixMilli()
	}
	if snap.Trades == nil {
		snap.Trades = []market.FormattedTrade{}
	}
	return snap
}

// ==============================
// Helper Functions
// ==============================

func pairVars(r *http.Request) (string, string) {
	vars := mux.Vars(r)
	return vars["base"], vars["quote"]
}

func familyVar(r *http.Request) string {
	family := mux.Vars(r)["family"]
	if family == "_" {
		return ""
	}
	return family
}

// parseAmount parses a positive base-10 integer.
func parseAmount(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("not an integer: %q", s)
	}
	if v.Sign() <= 0 {
		return nil, fmt.Errorf("must be positive: %s", s)
	}
	return v, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return false
	}
	return true
}

func respondAccepted(w http.ResponseWriter, requestID string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(AcceptedResponse{Status: "accepted", RequestID: requestID})
}

func respondJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}
