package order

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/uhyunpark/dexsync/pkg/crypto"
)

// Hash returns the digest the maker signs and the matching service verifies.
func Hash(o *Order) (common.Hash, error) {
	digest, err := crypto.NewPackedHasher().
		Address(o.ExchangeAddress).
		Address(o.Maker).
		Address(o.OfferTokenAddress).
		Uint256(o.OfferTokenAmount).
		Address(o.WantTokenAddress).
		Uint256(o.WantTokenAmount).
		Uint256(o.ExpirationBlock).
		Uint256(o.Salt).
		Sum()
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to hash order: %w", err)
	}
	return digest, nil
}

// HashCancellation returns the digest of a cancel request for orderID.
func HashCancellation(orderID string) (common.Hash, error) {
	id, err := ParseOrderID(orderID)
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.NewPackedHasher().Bytes32(id).String(CancelConfirmation).Sum()
}

// ParseOrderID decodes a hex order id into bytes32. Shorter ids are right-padded
// with zeros, which is how Solidity packs a bytes32 argument.
func ParseOrderID(orderID string) (common.Hash, error) {
	raw, err := hexutil.Decode(orderID)
	if err != nil {
		return common.Hash{}, fmt.Errorf("invalid order id %q: %w", orderID, err)
	}
	if len(raw) > common.HashLength {
		return common.Hash{}, fmt.Errorf("order id %q longer than 32 bytes", orderID)
	}
	var id common.Hash
	copy(id[:], raw)
	return id, nil
}
