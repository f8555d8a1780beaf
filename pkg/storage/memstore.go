package storage

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/dexsync/pkg/market"
	"github.com/uhyunpark/dexsync/pkg/order"
)

// MemoryStore is the in-process Cache used when no data directory is set.
type MemoryStore struct {
	mu        sync.Mutex
	pairs     map[string]market.Pair
	books     map[string]market.TradeBook
	bundles   []market.Bundle
	address   string
	orders    map[common.Address]map[string]JournalEntry
	lastBlock *uint64
	now       func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pairs:  make(map[string]market.Pair),
		books:  make(map[string]market.TradeBook),
		orders: make(map[common.Address]map[string]JournalEntry),
		now:    time.Now,
	}
}

var _ Cache = (*MemoryStore)(nil)

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) SavePairs(pairs map[string]market.Pair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pairs = make(map[string]market.Pair, len(pairs))
	for k, p := range pairs {
		s.pairs[k] = p
	}
	return nil
}

func (s *MemoryStore) LoadPairs() (map[string]market.Pair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]market.Pair, len(s.pairs))
	for k, p := range s.pairs {
		out[k] = p
	}
	return out, nil
}

func (s *MemoryStore) SaveTradeBook(pair string, tb market.TradeBook) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tb.Trades = append([]market.Trade(nil), tb.Trades...)
	s.books[pair] = tb
	return nil
}

func (s *MemoryStore) DeleteTradeBook(pair string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.books, pair)
	return nil
}

func (s *MemoryStore) LoadTradeBooks(limit int) (map[string]market.TradeBook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]market.TradeBook, len(s.books))
	for k, tb := range s.books {
		trades := append([]market.Trade(nil), tb.Trades...)
		sort.SliceStable(trades, func(i, j int) bool {
			return trades[i].LastUpdatedAt.After(trades[j].LastUpdatedAt)
		})
		if limit > 0 && len(trades) > limit {
			trades = trades[:limit]
		}
		tb.Trades = trades
		out[k] = tb
	}
	return out, nil
}

func (s *MemoryStore) SaveBundles(bundles []market.Bundle, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bundles = append([]market.Bundle(nil), bundles...)
	s.address = address
	return nil
}

func (s *MemoryStore) LoadBundles() ([]market.Bundle, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]market.Bundle(nil), s.bundles...), s.address, nil
}

func (s *MemoryStore) SaveSubmittedOrder(o *order.SignedOrder) error {
	if o.ID == "" {
		return fmt.Errorf("order has no id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	byID, ok := s.orders[o.Maker]
	if !ok {
		byID = make(map[string]JournalEntry)
		s.orders[o.Maker] = byID
	}
	byID[o.ID] = JournalEntry{Order: o, SubmittedAt: s.now().UTC()}
	return nil
}

func (s *MemoryStore) MarkCancelled(maker common.Address, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.orders[maker][orderID]; ok {
		e.Cancelled = true
		s.orders[maker][orderID] = e
	}
	return nil
}

func (s *MemoryStore) LoadSubmittedOrders(maker common.Address) ([]JournalEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := make([]JournalEntry, 0, len(s.orders[maker]))
	for _, e := range s.orders[maker] {
		entries = append(entries, e)
	}
	sortEntries(entries)
	return entries, nil
}

func (s *MemoryStore) SetLastBlock(n uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastBlock = &n
	return nil
}

func (s *MemoryStore) LastBlock() (uint64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastBlock == nil {
		return 0, false, nil
	}
	return *s.lastBlock, true, nil
}

func sortEntries(entries []JournalEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].SubmittedAt.Equal(entries[j].SubmittedAt) {
			return entries[i].SubmittedAt.Before(entries[j].SubmittedAt)
		}
		return entries[i].Order.ID < entries[j].Order.ID
	})
}
