package storage

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Key schema for Pebble storage:
//
//   pair:<BASE-QUOTE>                   → market.Pair (json)
//   tb:<BASE-QUOTE>                     → trade book paging and window (gob)
//   trade:<BASE-QUOTE>:<unixnano>:<id>  → market.Trade (json)
//   bundles                             → bundles and purchase address (json)
//   ord:<maker>:<orderID>               → JournalEntry (json)
//   lb                                  → last seen block, 8-byte big endian

const (
	prefixPair      = "pair:"
	prefixTradeBook = "tb:"
	prefixTrade     = "trade:"
	prefixOrder     = "ord:"
)

func pairKey(key string) []byte {
	return []byte(prefixPair + key)
}

func tradeBookKey(key string) []byte {
	return []byte(prefixTradeBook + key)
}

// tradeKey zero-pads the timestamp (20 digits) for lexicographic sorting.
// Format: "trade:{pair}:{timestamp}:{tradeID}"
func tradeKey(pair string, timestamp int64, tradeID string) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d:%s", prefixTrade, pair, timestamp, tradeID))
}

// Format: "trade:{pair}:"
func tradePrefix(pair string) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixTrade, pair))
}

// Format: "ord:{maker}:{orderID}"
func orderKey(maker common.Address, orderID string) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixOrder, maker.Hex(), orderID))
}

// Format: "ord:{maker}:"
func orderPrefix(maker common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixOrder, maker.Hex()))
}

func kBundles() []byte   { return []byte("bundles") }
func kLastBlock() []byte { return []byte("lb") }

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
