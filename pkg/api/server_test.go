package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/uhyunpark/dexsync/pkg/crypto"
	"github.com/uhyunpark/dexsync/pkg/exchange"
	"github.com/uhyunpark/dexsync/pkg/market"
	"github.com/uhyunpark/dexsync/pkg/order"
	"github.com/uhyunpark/dexsync/pkg/poll"
	"github.com/uhyunpark/dexsync/pkg/util"
)

const (
	password = "correct horse"

	veryLightScryptN = 2
	veryLightScryptP = 1
)

type stubAPI struct {
	mu    sync.Mutex
	calls map[string]int
}

func (a *stubAPI) hit(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.calls == nil {
		a.calls = map[string]int{}
	}
	a.calls[name]++
}

func (a *stubAPI) count(name string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[name]
}

func (a *stubAPI) FetchPairs(ctx context.Context, auth string) ([]market.RawPair, error) {
	a.hit("pairs")
	return []market.RawPair{
		{Base: market.Asset{Symbol: "EDO"}, Quote: market.Asset{Symbol: "ETH"}, Fee: "0.1"},
		{Base: market.Asset{Symbol: "DAI"}, Quote: market.Asset{Symbol: "ETH"}, Fee: "0.1", Favourite: true},
	}, nil
}

func (a *stubAPI) FetchPrice(ctx context.Context, base, quote string) (market.RawPairPrice, error) {
	a.hit("price")
	return market.RawPairPrice{Last: "500000000000000000"}, nil
}

func (a *stubAPI) FetchOrderbook(ctx context.Context, base, quote string) (market.Orderbook, error) {
	a.hit("orderbook")
	return market.Orderbook{
		Buy:  market.BookSide{Results: []market.Level{{Price: "0.4", Amount: "1"}}},
		Sell: market.BookSide{Results: []market.Level{{Price: "0.6", Amount: "2"}}},
	}, nil
}

func (a *stubAPI) FetchTrades(ctx context.Context, q market.TradesQuery) (market.TradesResult, error) {
	a.hit("trades")
	return market.TradesResult{Trades: []market.Trade{{ID: "t1", Price: "0.5", Size: "1", LastUpdatedAt: q.To}}}, nil
}

func (a *stubAPI) FetchOrderList(ctx context.Context, tradingWallet string) ([]order.Record, error) {
	a.hit("orderList")
	return nil, nil
}

func (a *stubAPI) CreateOrder(ctx context.Context, o *order.SignedOrder) (string, error) {
	a.hit("createOrder")
	return "0x01", nil
}

func (a *stubAPI) CancelOrder(ctx context.Context, req *order.CancelRequest) error {
	a.hit("cancelOrder")
	return nil
}

func (a *stubAPI) FetchBundles(ctx context.Context) ([]market.Bundle, error) {
	a.hit("bundles")
	return []market.Bundle{{ID: "b1"}}, nil
}

func (a *stubAPI) FetchQuickPurchaseAddress(ctx context.Context) (string, error) {
	a.hit("quickPurchaseAddress")
	return "0x00000000000000000000000000000000000000dd", nil
}

type harness struct {
	api   *stubAPI
	coord *exchange.Coordinator
	clock *util.FakeClock
	srv   *httptest.Server
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	signer, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	keyJSON, err := crypto.EncryptKeystoreCost(signer, password, veryLightScryptN, veryLightScryptP)
	if err != nil {
		t.Fatal(err)
	}
	wallet, err := crypto.NewKeystoreWallet(keyJSON)
	if err != nil {
		t.Fatal(err)
	}

	h := &harness{api: &stubAPI{}, clock: util.NewFakeClock(time.Unix(1_700_000_000, 0))}
	h.coord, err = exchange.New(exchange.Config{
		API:              h.api,
		Vault:            wallet,
		Wallet:           wallet,
		Store:            market.NewStore(market.State{}),
		Account:          wallet.Address(),
		ExpirationBlocks: 100,
		PollInterval:     time.Second,
		Clock:            h.clock,
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := NewServer(ctx, h.coord, Options{})
	h.srv = httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		h.srv.Close()
		h.coord.Close()
		cancel()
	})
	return h
}

func (h *harness) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, h.srv.URL+path, &buf)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeResp[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	resp := h.do(t, "GET", "/health", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestOrderbookUpdaterEndpoints(t *testing.T) {
	h := newHarness(t)

	resp := h.do(t, "POST", "/api/v1/updaters/orderbook/EDO/ETH", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start status = %d", resp.StatusCode)
	}
	running := decodeResp[[]poll.Key](t, resp)
	if len(running) != 1 || running[0].Kind != poll.KindOrderbook {
		t.Fatalf("running = %+v", running)
	}
	h.clock.BlockUntil(1)

	snap := decodeResp[OrderbookSnapshot](t, h.do(t, "GET", "/api/v1/pairs/EDO/ETH/orderbook", nil))
	if len(snap.Sell) != 1 || snap.LowestAsk == nil || snap.LowestAsk.String() != "0.6" {
		t.Errorf("orderbook = %+v", snap)
	}
	if snap.HighestBid == nil || snap.HighestBid.String() != "0.4" {
		t.Errorf("highest bid = %v", snap.HighestBid)
	}

	resp = h.do(t, "DELETE", "/api/v1/updaters/orderbook/EDO/ETH", nil)
	if running := decodeResp[[]poll.Key](t, resp); len(running) != 0 {
		t.Errorf("running after stop = %+v", running)
	}
	if n := h.api.count("orderbook"); n != 1 {
		t.Errorf("orderbook fetches = %d, want 1", n)
	}

	if resp := h.do(t, "POST", "/api/v1/updaters/candles/EDO/ETH", nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown updater status = %d", resp.StatusCode)
	}
}

func TestPairsEndpoints(t *testing.T) {
	h := newHarness(t)
	if err := h.coord.RefreshPairs(context.Background()); err != nil {
		t.Fatal(err)
	}

	got := decodeResp[PairsResponse](t, h.do(t, "GET", "/api/v1/families/_/pairs", nil))
	if len(got.Pairs) != 2 || got.Pairs[0].Key != "DAI-ETH" {
		t.Fatalf("pairs = %+v, want favourite first", got.Pairs)
	}
	if len(got.Filters) != 3 {
		t.Errorf("filters = %+v", got.Filters)
	}

	resp := h.do(t, "PUT", "/api/v1/families/_/ordering", market.Ordering{Type: "sideways"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid ordering status = %d", resp.StatusCode)
	}
	got = decodeResp[PairsResponse](t, h.do(t, "PUT", "/api/v1/families/_/filtering",
		market.Filtering{SearchText: "edo", Filter: market.FilterAll}))
	if len(got.Pairs) != 1 || got.Pairs[0].Key != "EDO-ETH" {
		t.Errorf("filtered pairs = %+v", got.Pairs)
	}

	if resp := h.do(t, "GET", "/api/v1/pairs/MKR/ETH", nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown pair status = %d", resp.StatusCode)
	}
}

func TestCreateOrderValidation(t *testing.T) {
	h := newHarness(t)

	resp := h.do(t, "POST", "/api/v1/orders", CreateOrderRequest{
		Password: password, OfferAsset: "ether", OfferAmount: "-1", WantAsset: "0x01", WantAmount: "5",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("negative amount status = %d", resp.StatusCode)
	}
	resp = h.do(t, "POST", "/api/v1/orders/cancel", CancelOrderRequest{Password: password})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing order id status = %d", resp.StatusCode)
	}
	if resp := h.do(t, "GET", "/api/v1/orders/0xnope", nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown order status = %d", resp.StatusCode)
	}
	if h.api.count("createOrder")+h.api.count("cancelOrder") != 0 {
		t.Error("invalid request reached the exchange")
	}
}

func TestOutcomePushedOverWebSocket(t *testing.T) {
	h := newHarness(t)

	wsURL := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))

	if err := conn.WriteJSON(WSSubscribeRequest{Op: "subscribe", Channels: []string{ChannelOutcomes}}); err != nil {
		t.Fatal(err)
	}
	var ack WSMessage
	if err := conn.ReadJSON(&ack); err != nil || ack.Type != "subscribed" {
		t.Fatalf("ack = %+v, %v", ack, err)
	}

	resp := h.do(t, "POST", "/api/v1/orders", CreateOrderRequest{
		RequestID: "req-1", Password: "wrong", Side: order.SideBuy,
		OfferAsset: "ether", OfferAmount: "1000", WantAsset: "0x00000000000000000000000000000000000000cc", WantAmount: "5",
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if accepted := decodeResp[AcceptedResponse](t, resp); accepted.RequestID != "req-1" {
		t.Errorf("request id = %q", accepted.RequestID)
	}

	var msg struct {
		Type    string           `json:"type"`
		Channel string           `json:"channel"`
		Data    exchange.Outcome `json:"data"`
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read outcome: %v", err)
	}
	if msg.Channel != ChannelOutcomes || msg.Data.RequestID != "req-1" || msg.Data.OK {
		t.Errorf("outcome = %+v", msg)
	}
	if msg.Data.Reason != exchange.ReasonCredential {
		t.Errorf("reason = %q, want credential", msg.Data.Reason)
	}
	if h.api.count("createOrder") != 0 {
		t.Error("order submitted with a wrong password")
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"1000", "1000", true},
		{"115792089237316195423570985008687907853269984665640564039457584007913129639935", "115792089237316195423570985008687907853269984665640564039457584007913129639935", true},
		{"0", "", false},
		{"-5", "", false},
		{"1.5", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, err := parseAmount(tt.in)
		if (err == nil) != tt.ok {
			t.Errorf("parseAmount(%q) err = %v", tt.in, err)
			continue
		}
		if tt.ok && got.String() != tt.want {
			t.Errorf("parseAmount(%q) = %s", tt.in, got)
		}
	}
}
