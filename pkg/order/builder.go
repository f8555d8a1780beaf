package order

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/dexsync/pkg/crypto"
)

// Intent is what the user asked for. Assets may be token addresses or crypto.NativeAsset.
type Intent struct {
	OfferAsset  string
	OfferAmount *big.Int
	WantAsset   string
	WantAmount  *big.Int
}

// Builder turns an Intent into an unsigned Order bound to one exchange contract.
type Builder struct {
	Exchange common.Address
	// ExpirationBlocks is added to the current block height.
	ExpirationBlocks uint64
	// Salt defaults to crypto.GenerateSalt.
	Salt func() (*big.Int, error)
}

func NewBuilder(exchange common.Address, expirationBlocks uint64) *Builder {
	return &Builder{
		Exchange:         exchange,
		ExpirationBlocks: expirationBlocks,
		Salt:             crypto.GenerateSalt,
	}
}

// Build assembles an unsigned order for maker. currentBlock is the latest known block height.
func (b *Builder) Build(maker common.Address, currentBlock uint64, in Intent) (*Order, error) {
	offer, err := crypto.AssetAddress(in.OfferAsset)
	if err != nil {
		return nil, fmt.Errorf("offer asset: %w", err)
	}
	want, err := crypto.AssetAddress(in.WantAsset)
	if err != nil {
		return nil, fmt.Errorf("want asset: %w", err)
	}
	if in.OfferAmount == nil || in.OfferAmount.Sign() <= 0 {
		return nil, fmt.Errorf("offer amount must be positive")
	}
	if in.WantAmount == nil || in.WantAmount.Sign() <= 0 {
		return nil, fmt.Errorf("want amount must be positive")
	}

	saltFn := b.Salt
	if saltFn == nil {
		saltFn = crypto.GenerateSalt
	}
	salt, err := saltFn()
	if err != nil {
		return nil, err
	}

	expiration := new(big.Int).SetUint64(currentBlock)
	expiration.Add(expiration, new(big.Int).SetUint64(b.ExpirationBlocks))

	return &Order{
		ExchangeAddress:   b.Exchange,
		Maker:             maker,
		OfferTokenAddress: offer,
		OfferTokenAmount:  new(big.Int).Set(in.OfferAmount),
		WantTokenAddress:  want,
		WantTokenAmount:   new(big.Int).Set(in.WantAmount),
		ExpirationBlock:   expiration,
		Salt:              salt,
	}, nil
}
