// Package order builds, hashes and signs exchange orders and cancellations.
//
// The digest of an order is keccak256 over the tightly packed tuple
//
//	(exchange address, maker address, offer token address, offer amount uint256,
//	 want token address, want amount uint256, expiration block uint256, salt uint256)
//
// and the digest of a cancellation is keccak256 over (order id bytes32, "cancel_request").
// The matching service recomputes both, so field order and widths must not change.
package order

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/dexsync/pkg/crypto"
)

// CancelConfirmation is the fixed tag hashed after the order id in a cancellation.
const CancelConfirmation = "cancel_request"

// Order is a maker-authored offer of one token for another, valid until ExpirationBlock.
type Order struct {
	ID                string
	ExchangeAddress   common.Address
	Maker             common.Address
	OfferTokenAddress common.Address
	OfferTokenAmount  *big.Int
	WantTokenAddress  common.Address
	WantTokenAmount   *big.Int
	ExpirationBlock   *big.Int
	Salt              *big.Int
}

// SignedOrder is what gets submitted. It is never mutated after signing.
type SignedOrder struct {
	Order
	Signature crypto.Signature
}

// CancelRequest asks the matching service to cancel OrderID.
type CancelRequest struct {
	OrderID      string           `json:"id"`
	Confirmation string           `json:"confirmation"`
	Signature    crypto.Signature `json:"ecSignature"`
}

type wireOrder struct {
	ID                string            `json:"id,omitempty"`
	ExchangeAddress   common.Address    `json:"exchangeAddress"`
	Maker             common.Address    `json:"maker"`
	OfferTokenAddress common.Address    `json:"offerTokenAddress"`
	OfferTokenAmount  string            `json:"offerTokenAmount"`
	WantTokenAddress  common.Address    `json:"wantTokenAddress"`
	WantTokenAmount   string            `json:"wantTokenAmount"`
	ExpirationBlock   string            `json:"expirationBlock"`
	Salt              string            `json:"salt"`
	Signature         *crypto.Signature `json:"ecSignature,omitempty"`
}

func (o *Order) wire() wireOrder {
	return wireOrder{
		ID:                o.ID,
		ExchangeAddress:   o.ExchangeAddress,
		Maker:             o.Maker,
		OfferTokenAddress: o.OfferTokenAddress,
		OfferTokenAmount:  decString(o.OfferTokenAmount),
		WantTokenAddress:  o.WantTokenAddress,
		WantTokenAmount:   decString(o.WantTokenAmount),
		ExpirationBlock:   decString(o.ExpirationBlock),
		Salt:              decString(o.Salt),
	}
}

// MarshalJSON encodes amounts as base-10 strings.
func (o Order) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.wire())
}

func (s SignedOrder) MarshalJSON() ([]byte, error) {
	w := s.Order.wire()
	w.Signature = &s.Signature
	return json.Marshal(w)
}

func (s *SignedOrder) UnmarshalJSON(data []byte) error {
	var w wireOrder
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	fields := []struct {
		name string
		in   string
		out  **big.Int
	}{
		{"offerTokenAmount", w.OfferTokenAmount, &s.OfferTokenAmount},
		{"wantTokenAmount", w.WantTokenAmount, &s.WantTokenAmount},
		{"expirationBlock", w.ExpirationBlock, &s.ExpirationBlock},
		{"salt", w.Salt, &s.Salt},
	}
	for _, f := range fields {
		v, ok := new(big.Int).SetString(f.in, 10)
		if !ok {
			return fmt.Errorf("invalid %s: %q", f.name, f.in)
		}
		*f.out = v
	}
	s.ID = w.ID
	s.ExchangeAddress = w.ExchangeAddress
	s.Maker = w.Maker
	s.OfferTokenAddress = w.OfferTokenAddress
	s.WantTokenAddress = w.WantTokenAddress
	if w.Signature != nil {
		s.Signature = *w.Signature
	}
	return nil
}

func decString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
