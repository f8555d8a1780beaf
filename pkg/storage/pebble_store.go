package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/dexsync/pkg/exchange"
	"github.com/uhyunpark/dexsync/pkg/market"
	"github.com/uhyunpark/dexsync/pkg/order"
)

// Cache persists market data between runs and journals submitted orders.
type Cache interface {
	SavePairs(pairs map[string]market.Pair) error
	LoadPairs() (map[string]market.Pair, error)
	SaveTradeBook(pair string, tb market.TradeBook) error
	DeleteTradeBook(pair string) error
	LoadTradeBooks(limit int) (map[string]market.TradeBook, error)
	SaveBundles(bundles []market.Bundle, address string) error
	LoadBundles() ([]market.Bundle, string, error)

	SaveSubmittedOrder(o *order.SignedOrder) error
	MarkCancelled(maker common.Address, orderID string) error
	LoadSubmittedOrders(maker common.Address) ([]JournalEntry, error)
	SetLastBlock(n uint64) error
	LastBlock() (uint64, bool, error)

	Close() error
}

// JournalEntry is a submitted order as recorded locally.
type JournalEntry struct {
	Order       *order.SignedOrder `json:"order"`
	SubmittedAt time.Time          `json:"submittedAt"`
	Cancelled   bool               `json:"cancelled,omitempty"`
}

type PebbleStore struct {
	db  *pebble.DB
	now func() time.Time
}

func NewPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &PebbleStore{db: db, now: time.Now}, nil
}
func (s *PebbleStore) Close() error { return s.db.Close() }

var (
	_ Cache            = (*PebbleStore)(nil)
	_ exchange.Journal = (*PebbleStore)(nil)
)

// get returns a copy of the value under key, or nil if there is none.
func (s *PebbleStore) get(key []byte) ([]byte, error) {
	val, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	return append([]byte(nil), val...), nil
}

// ============================================================================
// Market data
// ============================================================================

// SavePairs replaces every stored pair with pairs.
func (s *PebbleStore) SavePairs(pairs map[string]market.Pair) error {
	b := s.db.NewBatch()
	defer b.Close()

	prefix := []byte(prefixPair)
	if err := b.DeleteRange(prefix, keyUpperBound(prefix), nil); err != nil {
		return fmt.Errorf("failed to clear pairs: %w", err)
	}
	for key, p := range pairs {
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("failed to marshal pair %s: %w", key, err)
		}
		if err := b.Set(pairKey(key), data, nil); err != nil {
			return fmt.Errorf("failed to save pair %s: %w", key, err)
		}
	}
	return b.Commit(pebble.NoSync)
}

func (s *PebbleStore) LoadPairs() (map[string]market.Pair, error) {
	prefix := []byte(prefixPair)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	pairs := make(map[string]market.Pair)
	for iter.First(); iter.Valid(); iter.Next() {
		var p market.Pair
		if err := json.Unmarshal(iter.Value(), &p); err != nil {
			continue // Skip invalid entries
		}
		pairs[strings.TrimPrefix(string(iter.Key()), prefixPair)] = p
	}
	return pairs, nil
}

// SaveTradeBook replaces the stored trades of pair with tb.
func (s *PebbleStore) SaveTradeBook(pair string, tb market.TradeBook) error {
	meta, err := encodeGob(metaOf(tb))
	if err != nil {
		return fmt.Errorf("encode trade book: %w", err)
	}

	b := s.db.NewBatch()
	defer b.Close()

	prefix := tradePrefix(pair)
	if err := b.DeleteRange(prefix, keyUpperBound(prefix), nil); err != nil {
		return fmt.Errorf("failed to clear trades: %w", err)
	}
	for _, t := range tb.Trades {
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("failed to marshal trade: %w", err)
		}
		if err := b.Set(tradeKey(pair, t.LastUpdatedAt.UnixNano(), t.ID), data, nil); err != nil {
			return fmt.Errorf("failed to save trade: %w", err)
		}
	}
	if err := b.Set(tradeBookKey(pair), meta, nil); err != nil {
		return fmt.Errorf("failed to save trade book: %w", err)
	}
	return b.Commit(pebble.NoSync)
}

func (s *PebbleStore) DeleteTradeBook(pair string) error {
	b := s.db.NewBatch()
	defer b.Close()

	prefix := tradePrefix(pair)
	if err := b.DeleteRange(prefix, keyUpperBound(prefix), nil); err != nil {
		return err
	}
	if err := b.Delete(tradeBookKey(pair), nil); err != nil {
		return err
	}
	return b.Commit(pebble.NoSync)
}

// LoadRecentTrades loads the most recent limit trades of pair, newest first.
func (s *PebbleStore) LoadRecentTrades(pair string, limit int) ([]market.Trade, error) {
	prefix := tradePrefix(pair)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var trades []market.Trade
	for iter.Last(); iter.Valid() && (limit <= 0 || len(trades) < limit); iter.Prev() {
		var t market.Trade
		if err := json.Unmarshal(iter.Value(), &t); err != nil {
			continue
		}
		trades = append(trades, t)
	}
	return trades, nil
}

// LoadTradeBooks loads every stored trade book with at most limit trades each.
func (s *PebbleStore) LoadTradeBooks(limit int) (map[string]market.TradeBook, error) {
	prefix := []byte(prefixTradeBook)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	books := make(map[string]market.TradeBook)
	for iter.First(); iter.Valid(); iter.Next() {
		var meta tradeBookMeta
		if err := decodeGob(iter.Value(), &meta); err != nil {
			continue
		}
		pair := strings.TrimPrefix(string(iter.Key()), prefixTradeBook)
		trades, err := s.LoadRecentTrades(pair, limit)
		if err != nil {
			return nil, err
		}
		books[pair] = market.TradeBook{
			Trades:      trades,
			Paging:      meta.Paging,
			Page:        meta.Page,
			LastUpdated: meta.LastUpdated,
		}
	}
	return books, nil
}

func (s *PebbleStore) SaveBundles(bundles []market.Bundle, address string) error {
	data, err := json.Marshal(bundlesValue{Bundles: bundles, Address: address})
	if err != nil {
		return fmt.Errorf("failed to marshal bundles: %w", err)
	}
	return s.db.Set(kBundles(), data, pebble.NoSync)
}

func (s *PebbleStore) LoadBundles() ([]market.Bundle, string, error) {
	data, err := s.get(kBundles())
	if err != nil || data == nil {
		return nil, "", err
	}
	var v bundlesValue
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, "", fmt.Errorf("failed to unmarshal bundles: %w", err)
	}
	return v.Bundles, v.Address, nil
}

// ============================================================================
// Order journal
// ============================================================================

// SaveSubmittedOrder records an order the service accepted.
func (s *PebbleStore) SaveSubmittedOrder(o *order.SignedOrder) error {
	if o.ID == "" {
		return fmt.Errorf("order has no id")
	}
	data, err := json.Marshal(JournalEntry{Order: o, SubmittedAt: s.now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to marshal order: %w", err)
	}
	if err := s.db.Set(orderKey(o.Maker, o.ID), data, pebble.Sync); err != nil {
		return fmt.Errorf("failed to save order: %w", err)
	}
	return nil
}

// MarkCancelled flags a journaled order as cancelled. Unknown orders are ignored.
func (s *PebbleStore) MarkCancelled(maker common.Address, orderID string) error {
	key := orderKey(maker, orderID)
	data, err := s.get(key)
	if err != nil {
		return fmt.Errorf("failed to get order: %w", err)
	}
	if data == nil {
		return nil
	}
	var e JournalEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return fmt.Errorf("failed to unmarshal order: %w", err)
	}
	e.Cancelled = true
	if data, err = json.Marshal(e); err != nil {
		return fmt.Errorf("failed to marshal order: %w", err)
	}
	return s.db.Set(key, data, pebble.Sync)
}

// LoadSubmittedOrders loads the journal of maker, oldest submission first.
func (s *PebbleStore) LoadSubmittedOrders(maker common.Address) ([]JournalEntry, error) {
	prefix := orderPrefix(maker)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var entries []JournalEntry
	for iter.First(); iter.Valid(); iter.Next() {
		var e JournalEntry
		if err := json.Unmarshal(iter.Value(), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	sortEntries(entries)
	return entries, nil
}

func (s *PebbleStore) SetLastBlock(n uint64) error {
	return s.db.Set(kLastBlock(), blockValue(n), pebble.Sync)
}

func (s *PebbleStore) LastBlock() (uint64, bool, error) {
	data, err := s.get(kLastBlock())
	if err != nil || data == nil {
		return 0, false, err
	}
	n, err := decodeBlock(data)
	if err != nil {
		return 0, false, err
	}
	return n, true, nil
}
