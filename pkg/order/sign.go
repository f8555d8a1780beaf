package order

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/dexsync/pkg/crypto"
)

// Wallet is the external signing capability. It fails with crypto.ErrInvalidCredential
// when password cannot unlock the key of signer.
type Wallet interface {
	SignDigest(digest common.Hash, password string, signer common.Address) (crypto.Signature, error)
}

// HashSigner hashes orders and cancellations and has the wallet sign the digest.
type HashSigner struct {
	Wallet Wallet
}

func (h HashSigner) SignOrder(o *Order, password string) (*SignedOrder, error) {
	digest, err := Hash(o)
	if err != nil {
		return nil, err
	}
	sig, err := h.Wallet.SignDigest(digest, password, o.Maker)
	if err != nil {
		return nil, fmt.Errorf("failed to sign order: %w", err)
	}
	return &SignedOrder{Order: *o, Signature: sig}, nil
}

func (h HashSigner) SignCancel(orderID, password string, signer common.Address) (*CancelRequest, error) {
	digest, err := HashCancellation(orderID)
	if err != nil {
		return nil, err
	}
	sig, err := h.Wallet.SignDigest(digest, password, signer)
	if err != nil {
		return nil, fmt.Errorf("failed to sign cancellation: %w", err)
	}
	return &CancelRequest{
		OrderID:      orderID,
		Confirmation: CancelConfirmation,
		Signature:    sig,
	}, nil
}

// Verify reports whether the order signature was produced by its maker.
func Verify(o *SignedOrder) (bool, error) {
	digest, err := Hash(&o.Order)
	if err != nil {
		return false, err
	}
	return crypto.VerifySignature(o.Maker, digest, o.Signature), nil
}

// VerifyCancel reports whether c was signed by signer.
func VerifyCancel(c *CancelRequest, signer common.Address) (bool, error) {
	digest, err := HashCancellation(c.OrderID)
	if err != nil {
		return false, err
	}
	return crypto.VerifySignature(signer, digest, c.Signature), nil
}
