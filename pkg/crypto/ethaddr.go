package crypto

import (
	"fmt"
	"hash"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"golang.org/x/crypto/sha3"
)

// NativeAsset is the sentinel token address used for ether in pair and order payloads.
const NativeAsset = "ether"

// IsZeroAddress reports whether addr is the all-zero address.
func IsZeroAddress(addr string) bool {
	return common.IsHexAddress(addr) && common.HexToAddress(addr) == (common.Address{})
}

// NormalizeAsset maps the zero address to the NativeAsset sentinel.
func NormalizeAsset(addr string) string {
	if IsZeroAddress(addr) {
		return NativeAsset
	}
	return addr
}

// AssetAddress maps the NativeAsset sentinel back to the zero address.
func AssetAddress(asset string) (common.Address, error) {
	if asset == NativeAsset {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(asset) {
		return common.Address{}, fmt.Errorf("invalid asset address %q", asset)
	}
	return common.HexToAddress(asset), nil
}

// PackedHasher streams tightly packed Solidity values into legacy Keccak-256.
// Addresses take 20 bytes, uint256 and bytes32 take 32 bytes, strings are raw UTF-8.
type PackedHasher struct {
	h   hash.Hash
	err error
}

func NewPackedHasher() *PackedHasher {
	return &PackedHasher{h: sha3.NewLegacyKeccak256()}
}

func (p *PackedHasher) Address(a common.Address) *PackedHasher {
	p.h.Write(a.Bytes())
	return p
}

// Uint256 writes v big-endian in 32 bytes. Negative or oversized values poison the hasher.
func (p *PackedHasher) Uint256(v *big.Int) *PackedHasher {
	if p.err != nil {
		return p
	}
	if v == nil || v.Sign() < 0 || v.BitLen() > 256 {
		p.err = fmt.Errorf("value %v does not fit uint256", v)
		return p
	}
	p.h.Write(math.U256Bytes(new(big.Int).Set(v)))
	return p
}

func (p *PackedHasher) Bytes32(b common.Hash) *PackedHasher {
	p.h.Write(b.Bytes())
	return p
}

func (p *PackedHasher) String(s string) *PackedHasher {
	p.h.Write([]byte(s))
	return p
}

// Sum returns the digest of everything written so far.
func (p *PackedHasher) Sum() (common.Hash, error) {
	if p.err != nil {
		return common.Hash{}, p.err
	}
	return common.BytesToHash(p.h.Sum(nil)), nil
}
