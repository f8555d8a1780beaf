// Package exchange coordinates market-data polling and order mutations. Every
// state change goes through the market.Store; polling results are applied
// only while their cycle is current.
package exchange

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/uhyunpark/dexsync/pkg/client"
	"github.com/uhyunpark/dexsync/pkg/market"
	"github.com/uhyunpark/dexsync/pkg/order"
	"github.com/uhyunpark/dexsync/pkg/poll"
	"github.com/uhyunpark/dexsync/pkg/util"
)

// Ethereum is the blockchain name carried by NewBlock signals for the main chain.
const Ethereum = "ethereum"

type Config struct {
	API     API
	Vault   Vault
	Wallet  Wallet
	Chain   Chain
	Journal Journal
	WAL     WAL
	Store   *market.Store

	Exchange         common.Address
	Account          common.Address
	TradingWallet    string
	ExpirationBlocks uint64
	PollInterval     time.Duration

	Clock  util.Clock
	Logger *zap.SugaredLogger
	// Report receives polling failures in addition to the log.
	Report poll.ReportFunc
}

type Coordinator struct {
	api     API
	vault   Vault
	wallet  Wallet
	chain   Chain
	journal Journal
	wal     WAL
	store   *market.Store

	account common.Address
	builder *order.Builder
	signer  order.HashSigner
	sup     *poll.Supervisor
	clock   util.Clock
	logger  *zap.SugaredLogger

	tradingWallet atomic.Pointer[string]
	lastBlock     atomic.Uint64

	mu        sync.Mutex
	listeners []func(Outcome)
	tasks     sync.WaitGroup
}

func New(cfg Config) (*Coordinator, error) {
	if cfg.API == nil || cfg.Vault == nil || cfg.Wallet == nil || cfg.Store == nil {
		return nil, fmt.Errorf("exchange: api, vault, wallet and store are required")
	}
	if cfg.Clock == nil {
		cfg.Clock = util.RealClock{}
	}
	logger := util.OrNop(cfg.Logger)

	c := &Coordinator{
		api:     cfg.API,
		vault:   cfg.Vault,
		wallet:  cfg.Wallet,
		chain:   cfg.Chain,
		journal: cfg.Journal,
		wal:     cfg.WAL,
		store:   cfg.Store,
		account: cfg.Account,
		builder: order.NewBuilder(cfg.Exchange, cfg.ExpirationBlocks),
		signer:  order.HashSigner{Wallet: cfg.Wallet},
		clock:   cfg.Clock,
		logger:  logger,
	}
	c.sup = poll.NewSupervisor(poll.Config{
		Interval: cfg.PollInterval,
		Clock:    cfg.Clock,
		Logger:   logger,
		Report:   cfg.Report,
	})
	c.SetTradingWallet(cfg.TradingWallet)
	return c, nil
}

func (c *Coordinator) Store() *market.Store { return c.store }

func (c *Coordinator) Supervisor() *poll.Supervisor { return c.sup }

func (c *Coordinator) Account() common.Address { return c.account }

func (c *Coordinator) SetTradingWallet(addr string) {
	c.tradingWallet.Store(&addr)
}

func (c *Coordinator) TradingWallet() string {
	if p := c.tradingWallet.Load(); p != nil {
		return *p
	}
	return ""
}

// OnOutcome registers fn for the SUCCESS/FAILURE of every dispatched request.
func (c *Coordinator) OnOutcome(fn func(Outcome)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Wait blocks until every background task started by Dispatch has finished.
func (c *Coordinator) Wait() {
	c.tasks.Wait()
}

// Close stops all updaters and waits for in-flight tasks.
func (c *Coordinator) Close() {
	c.sup.StopAll()
	c.tasks.Wait()
}

// Dispatch handles sig. Updater and view signals take effect before Dispatch
// returns; requests run as independent tasks and report through OnOutcome.
// Updaters live until ctx is done or they are stopped; request tasks are not
// cancelled with ctx. The returned id correlates a request with its Outcome.
func (c *Coordinator) Dispatch(ctx context.Context, sig Signal) string {
	c.journalSignal(sig)
	return c.handle(ctx, sig)
}

// Replay handles previously journaled signals without journaling them again.
func (c *Coordinator) Replay(ctx context.Context, sigs []Signal) {
	for _, sig := range sigs {
		c.logger.Infow("signal_replayed", "signal", sig.Name())
		c.handle(ctx, sig)
	}
}

func (c *Coordinator) handle(ctx context.Context, sig Signal) string {
	switch s := sig.(type) {
	case StartOrderbookUpdater:
		c.StartOrderbookUpdater(ctx, s.Base, s.Quote)
	case StopOrderbookUpdater:
		c.sup.Stop(poll.Key{Kind: poll.KindOrderbook, Base: s.Base, Quote: s.Quote})
	case StartTradesUpdater:
		c.StartTradesUpdater(ctx, s.Base, s.Quote)
	case StopTradesUpdater:
		c.sup.Stop(poll.Key{Kind: poll.KindTrades, Base: s.Base, Quote: s.Quote})
	case StartPairsUpdater:
		c.StartPairsUpdater(ctx)
	case StopPairsUpdater:
		c.sup.Stop(poll.Key{Kind: poll.KindPairs})
	case ClearTrades:
		c.store.Apply(market.TradesCleared{Base: s.Base, Quote: s.Quote})
	case SetPairsOrdering:
		c.store.Apply(market.PairsOrderingChanged{Family: s.Family, Ordering: s.Ordering})
	case SetPairsFiltering:
		c.store.Apply(market.PairsFilteringChanged{Family: s.Family, Filtering: s.Filtering})

	case CreateOrderRequest:
		id := requestID(s.RequestID)
		c.spawn(ctx, id, s.Name(), func(ctx context.Context) (any, error) {
			s.RequestID = id
			return c.CreateOrder(ctx, s)
		})
		return id
	case CancelOrderRequest:
		id := requestID(s.RequestID)
		c.spawn(ctx, id, s.Name(), func(ctx context.Context) (any, error) {
			return s.OrderID, c.CancelOrder(ctx, s)
		})
		return id
	case PairOwnerRequest:
		id := requestID(s.RequestID)
		c.spawn(ctx, id, s.Name(), func(ctx context.Context) (any, error) {
			return c.CheckPairOwner(ctx, s.Password)
		})
		return id
	case QuickPurchaseRequest:
		id := requestID(s.RequestID)
		c.spawn(ctx, id, s.Name(), func(ctx context.Context) (any, error) {
			h, err := c.QuickPurchase(ctx, s.EthAmount, s.Password)
			return h.Hex(), err
		})
		return id
	case GetOrderListRequest:
		return c.spawnNamed(ctx, s.Name(), func(ctx context.Context) (any, error) {
			return nil, c.RefreshOrderList(ctx)
		})
	case GetTradesRequest:
		return c.spawnNamed(ctx, s.Name(), func(ctx context.Context) (any, error) {
			return nil, c.LoadTrades(ctx, s.Base, s.Quote, s.Page, s.Initial)
		})
	case FetchBundlesRequest:
		return c.spawnNamed(ctx, s.Name(), func(ctx context.Context) (any, error) {
			return nil, c.FetchBundles(ctx)
		})
	case AppReady:
		return c.spawnNamed(ctx, s.Name(), func(ctx context.Context) (any, error) {
			return nil, c.RefreshPairs(ctx)
		})
	case NewBlock:
		return c.spawnNamed(ctx, s.Name(), func(ctx context.Context) (any, error) {
			return nil, c.HandleNewBlock(ctx, s)
		})
	default:
		c.logger.Warnw("unknown_signal", "signal", fmt.Sprintf("%T", sig))
	}
	return ""
}

func (c *Coordinator) spawnNamed(ctx context.Context, name string, fn func(context.Context) (any, error)) string {
	id := requestID("")
	c.spawn(ctx, id, name, fn)
	return id
}

func (c *Coordinator) spawn(ctx context.Context, id, name string, fn func(context.Context) (any, error)) {
	ctx = context.WithoutCancel(ctx)
	c.tasks.Add(1)
	go func() {
		defer c.tasks.Done()
		result, err := fn(ctx)
		out := Outcome{RequestID: id, Signal: name, OK: err == nil}
		if err != nil {
			out.Reason = Classify(err)
			out.Error = err.Error()
			c.logger.Warnw("request_failed", "signal", name, "request_id", id, "reason", out.Reason, "err", err)
		} else {
			out.Result = result
			c.logger.Debugw("request_succeeded", "signal", name, "request_id", id)
		}
		c.emit(out)
	}()
}

func (c *Coordinator) emit(out Outcome) {
	c.mu.Lock()
	listeners := slices.Clone(c.listeners)
	c.mu.Unlock()
	for _, fn := range listeners {
		fn(out)
	}
}

func (c *Coordinator) journalSignal(sig Signal) {
	if c.wal == nil {
		return
	}
	line, err := EncodeSignal(sig)
	if err != nil {
		c.logger.Warnw("wal_encode_failed", "signal", sig.Name(), "err", err)
		return
	}
	c.wal.Append(line)
}

func requestID(id string) string {
	if id != "" {
		return id
	}
	return uuid.NewString()
}

// applyIfCurrent drops results of a cycle that was stopped or replaced.
func (c *Coordinator) applyIfCurrent(key poll.Key, gen uint64, ev market.Event) {
	if !c.sup.IsCurrent(key, gen) {
		c.logger.Debugw("stale_result_dropped", "key", key.String(), "gen", gen)
		return
	}
	c.store.Apply(ev)
}

// StartOrderbookUpdater polls the orderbook and the pair price of base/quote.
func (c *Coordinator) StartOrderbookUpdater(ctx context.Context, base, quote string) bool {
	key := poll.Key{Kind: poll.KindOrderbook, Base: base, Quote: quote}
	return c.sup.Start(ctx, key,
		func(ctx context.Context, gen uint64) error {
			book, err := c.api.FetchOrderbook(ctx, base, quote)
			if err != nil {
				return fmt.Errorf("fetch orderbook %s-%s: %w", base, quote, err)
			}
			c.applyIfCurrent(key, gen, market.OrderbookLoaded{Base: base, Quote: quote, Book: book})
			return nil
		},
		func(ctx context.Context, gen uint64) error {
			raw, err := c.api.FetchPrice(ctx, base, quote)
			if err != nil {
				return fmt.Errorf("fetch price %s-%s: %w", base, quote, err)
			}
			c.applyIfCurrent(key, gen, market.PairPriceLoaded{Base: base, Quote: quote, Price: raw.Parse()})
			return nil
		},
	)
}

// StartTradesUpdater polls trades printed since the last successful fetch.
func (c *Coordinator) StartTradesUpdater(ctx context.Context, base, quote string) bool {
	key := poll.Key{Kind: poll.KindTrades, Base: base, Quote: quote}
	return c.sup.Start(ctx, key, func(ctx context.Context, gen uint64) error {
		ev, err := c.fetchTrades(ctx, base, quote, 0, false)
		if err != nil {
			return err
		}
		c.applyIfCurrent(key, gen, ev)
		return nil
	})
}

func (c *Coordinator) StartPairsUpdater(ctx context.Context) bool {
	key := poll.Key{Kind: poll.KindPairs}
	return c.sup.Start(ctx, key, func(ctx context.Context, gen uint64) error {
		pairs, err := c.fetchPairs(ctx, client.EncodeOwner(c.account.Hex()))
		if err != nil {
			return err
		}
		c.applyIfCurrent(key, gen, market.PairsLoaded{Pairs: pairs})
		return nil
	})
}

// StartBlockWatcher polls the chain height and handles every new block.
func (c *Coordinator) StartBlockWatcher(ctx context.Context) bool {
	if c.chain == nil {
		return false
	}
	key := poll.Key{Kind: poll.KindBlocks}
	return c.sup.Start(ctx, key, func(ctx context.Context, gen uint64) error {
		n, err := c.chain.BlockNumber(ctx)
		if err != nil {
			return fmt.Errorf("block number: %w", err)
		}
		if n <= c.lastBlock.Load() || !c.sup.IsCurrent(key, gen) {
			return nil
		}
		return c.HandleNewBlock(ctx, NewBlock{Blockchain: Ethereum, Number: n})
	})
}

// RefreshPairs performs a single pairs fetch outside any polling cycle.
func (c *Coordinator) RefreshPairs(ctx context.Context) error {
	pairs, err := c.fetchPairs(ctx, client.EncodeOwner(c.account.Hex()))
	if err != nil {
		return err
	}
	c.store.Apply(market.PairsLoaded{Pairs: pairs})
	return nil
}

// LoadTrades fetches one trades page and applies it.
func (c *Coordinator) LoadTrades(ctx context.Context, base, quote string, page int, initial bool) error {
	ev, err := c.fetchTrades(ctx, base, quote, page, initial)
	if err != nil {
		return err
	}
	c.store.Apply(ev)
	return nil
}

func (c *Coordinator) fetchPairs(ctx context.Context, auth string) (map[string]market.Pair, error) {
	raw, err := c.api.FetchPairs(ctx, auth)
	if err != nil {
		return nil, fmt.Errorf("fetch pairs: %w", err)
	}
	return market.FormatPairs(raw), nil
}

func (c *Coordinator) fetchTrades(ctx context.Context, base, quote string, page int, initial bool) (market.TradesLoaded, error) {
	q := market.TradesQuery{
		Base:    base,
		Quote:   quote,
		From:    market.TradesLastUpdated(c.store.Snapshot(), base, quote),
		To:      c.clock.Now(),
		Page:    page,
		Initial: initial,
	}
	res, err := c.api.FetchTrades(ctx, q)
	if err != nil {
		return market.TradesLoaded{}, fmt.Errorf("fetch trades %s-%s: %w", base, quote, err)
	}
	return market.TradesLoaded{
		Base:    base,
		Quote:   quote,
		Trades:  res.Trades,
		To:      q.To,
		Paging:  res.Paging,
		Page:    page,
		Initial: initial,
	}, nil
}
