package exchange

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/uhyunpark/dexsync/pkg/crypto"
	"github.com/uhyunpark/dexsync/pkg/market"
	"github.com/uhyunpark/dexsync/pkg/order"
	"github.com/uhyunpark/dexsync/pkg/util"
)

const (
	testPassword = "hunter2"
	testInterval = 5 * time.Second

	// every sign and password check runs scrypt, so fixtures use the cheapest valid cost
	veryLightScryptN = 2
	veryLightScryptP = 1
)

var testExchange = common.HexToAddress("0x00000000000000000000000000000000000000ee")

type fakeAPI struct {
	mu      sync.Mutex
	calls   map[string]int
	pairs   []market.RawPair
	auths   []string
	orders  []*order.SignedOrder
	cancels []*order.CancelRequest
	queries []market.TradesQuery
	rows    []order.Record

	createErr error
	// blockOrderbook makes FetchOrderbook answer only after ctx is done.
	blockOrderbook bool
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{calls: map[string]int{}}
}

func (f *fakeAPI) hit(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[name]++
}

func (f *fakeAPI) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeAPI) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *fakeAPI) FetchPairs(ctx context.Context, auth string) ([]market.RawPair, error) {
	f.hit("pairs")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.auths = append(f.auths, auth)
	return f.pairs, nil
}

func (f *fakeAPI) FetchPrice(ctx context.Context, base, quote string) (market.RawPairPrice, error) {
	f.hit("price")
	var p market.RawPairPrice
	p.Last = "1000000000000000000"
	p.Change.Day.Perc = "2"
	return p, nil
}

func (f *fakeAPI) FetchOrderbook(ctx context.Context, base, quote string) (market.Orderbook, error) {
	f.hit("orderbook")
	if f.blockOrderbook {
		<-ctx.Done()
	}
	return market.Orderbook{Sell: market.BookSide{Results: []market.Level{{Price: "1"}}}}, nil
}

func (f *fakeAPI) FetchTrades(ctx context.Context, q market.TradesQuery) (market.TradesResult, error) {
	f.hit("trades")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	return market.TradesResult{Trades: []market.Trade{{ID: q.To.String(), Price: "1", LastUpdatedAt: q.To}}}, nil
}

func (f *fakeAPI) FetchOrderList(ctx context.Context, tradingWallet string) ([]order.Record, error) {
	f.hit("orderList")
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows, nil
}

func (f *fakeAPI) CreateOrder(ctx context.Context, o *order.SignedOrder) (string, error) {
	f.hit("createOrder")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	f.orders = append(f.orders, o)
	return "0xabc123", nil
}

func (f *fakeAPI) CancelOrder(ctx context.Context, req *order.CancelRequest) error {
	f.hit("cancelOrder")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels = append(f.cancels, req)
	return nil
}

func (f *fakeAPI) FetchBundles(ctx context.Context) ([]market.Bundle, error) {
	f.hit("bundles")
	return []market.Bundle{{ID: "b1", EthAmount: "1", EdoAmount: "1000"}}, nil
}

func (f *fakeAPI) FetchQuickPurchaseAddress(ctx context.Context) (string, error) {
	f.hit("quickPurchaseAddress")
	return "0x00000000000000000000000000000000000000dd", nil
}

type fakeChain struct {
	mu       sync.Mutex
	block    uint64
	balance  *big.Int
	gasPrice *big.Int
	gas      uint64
	sent     []*types.Transaction
}

func (c *fakeChain) BlockNumber(ctx context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.block, nil
}

func (c *fakeChain) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	return new(big.Int).Set(c.balance), nil
}

func (c *fakeChain) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return new(big.Int).Set(c.gasPrice), nil
}

func (c *fakeChain) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return c.gas, nil
}

func (c *fakeChain) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return 7, nil
}

func (c *fakeChain) ChainID(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1337), nil
}

func (c *fakeChain) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, tx)
	return nil
}

type fakeJournal struct {
	mu        sync.Mutex
	saved     []*order.SignedOrder
	cancelled []string
	block     uint64
}

func (j *fakeJournal) SaveSubmittedOrder(o *order.SignedOrder) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.saved = append(j.saved, o)
	return nil
}

func (j *fakeJournal) MarkCancelled(maker common.Address, orderID string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.cancelled = append(j.cancelled, orderID)
	return nil
}

func (j *fakeJournal) SetLastBlock(n uint64) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.block = n
	return nil
}

type memWAL struct {
	mu    sync.Mutex
	lines []string
}

func (w *memWAL) Append(line string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lines = append(w.lines, line)
}

type fixture struct {
	c       *Coordinator
	api     *fakeAPI
	chain   *fakeChain
	journal *fakeJournal
	wal     *memWAL
	clock   *util.FakeClock
	wallet  *crypto.KeystoreWallet
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	signer, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	keyJSON, err := crypto.EncryptKeystoreCost(signer, testPassword, veryLightScryptN, veryLightScryptP)
	if err != nil {
		t.Fatal(err)
	}
	wallet, err := crypto.NewKeystoreWallet(keyJSON)
	if err != nil {
		t.Fatal(err)
	}

	f := &fixture{
		api:     newFakeAPI(),
		chain:   &fakeChain{block: 100, balance: big.NewInt(0), gasPrice: big.NewInt(10), gas: 50_000},
		journal: &fakeJournal{},
		wal:     &memWAL{},
		clock:   util.NewFakeClock(time.Unix(1_600_000_000, 0)),
		wallet:  wallet,
	}
	c, err := New(Config{
		API:              f.api,
		Vault:            wallet,
		Wallet:           wallet,
		Chain:            f.chain,
		Journal:          f.journal,
		WAL:              f.wal,
		Store:            market.NewStore(market.State{}),
		Exchange:         testExchange,
		Account:          wallet.Address(),
		TradingWallet:    "0x00000000000000000000000000000000000000aa",
		ExpirationBlocks: 10_000,
		PollInterval:     testInterval,
		Clock:            f.clock,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(c.Close)
	f.c = c
	return f
}

// outcomes collects dispatched outcomes.
type outcomes struct {
	mu  sync.Mutex
	all []Outcome
}

func (o *outcomes) add(out Outcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.all = append(o.all, out)
}

func (o *outcomes) byID(id string) (Outcome, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, out := range o.all {
		if out.RequestID == id {
			return out, true
		}
	}
	return Outcome{}, false
}
