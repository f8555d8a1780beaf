package storage

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/uhyunpark/dexsync/pkg/market"
	"github.com/uhyunpark/dexsync/pkg/util"
)

// WarmTrades bounds the trades loaded per pair on startup.
const WarmTrades = 200

// Persister mirrors applied market events into a Cache.
type Persister struct {
	cache  Cache
	logger *zap.SugaredLogger
}

func NewPersister(cache Cache, logger *zap.SugaredLogger) *Persister {
	return &Persister{cache: cache, logger: util.OrNop(logger)}
}

// Listen is a market.Listener. Write failures are logged and never block
// the market store.
func (p *Persister) Listen(ev market.Event, next market.State) {
	var err error
	switch e := ev.(type) {
	case market.PairsLoaded, market.PairPriceLoaded:
		err = p.cache.SavePairs(next.Pairs)
	case market.TradesLoaded:
		key := market.PairKey(e.Base, e.Quote)
		err = p.cache.SaveTradeBook(key, next.Trades[key])
	case market.TradesCleared:
		err = p.cache.DeleteTradeBook(market.PairKey(e.Base, e.Quote))
	case market.BundlesLoaded:
		err = p.cache.SaveBundles(next.Bundles, next.QuickPurchaseAddress)
	default:
		return
	}
	if err != nil {
		p.logger.Warnw("cache_write_failed", "event", fmt.Sprintf("%T", ev), "err", err)
	}
}

// LoadState rebuilds the cached part of the market state.
func LoadState(cache Cache) (market.State, error) {
	var s market.State
	var err error
	if s.Pairs, err = cache.LoadPairs(); err != nil {
		return market.State{}, err
	}
	if s.Trades, err = cache.LoadTradeBooks(WarmTrades); err != nil {
		return market.State{}, err
	}
	if s.Bundles, s.QuickPurchaseAddress, err = cache.LoadBundles(); err != nil {
		return market.State{}, err
	}
	return s, nil
}
