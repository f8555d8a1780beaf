package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"time"

	"github.com/uhyunpark/dexsync/pkg/market"
)

func encodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
func decodeGob(b []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}

func blockValue(n uint64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], n)
	return k[:]
}

func decodeBlock(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("block value has %d bytes, want 8", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}

// tradeBookMeta is everything of a market.TradeBook except the trades, which
// are stored one key each.
type tradeBookMeta struct {
	Paging      market.Paging
	Page        int
	LastUpdated time.Time
}

func metaOf(tb market.TradeBook) tradeBookMeta {
	return tradeBookMeta{Paging: tb.Paging, Page: tb.Page, LastUpdated: tb.LastUpdated}
}

// bundlesValue is the stored form of the purchase bundles.
type bundlesValue struct {
	Bundles []market.Bundle `json:"bundles"`
	Address string          `json:"address"`
}
