package exchange

import (
	"errors"

	"github.com/uhyunpark/dexsync/pkg/client"
	"github.com/uhyunpark/dexsync/pkg/crypto"
)

var (
	// ErrInvalidCredential means the password cannot unlock the signing key.
	// Mutations fail with it before any network call.
	ErrInvalidCredential = crypto.ErrInvalidCredential
	// ErrInsufficientFunds means the balance does not cover a funded action and its fees.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrTransport wraps every failure of the remote API.
	ErrTransport = client.ErrTransport

	ErrNoTradingWallet = errors.New("no trading wallet")
	ErrNoChain         = errors.New("no ethereum node configured")
)

// Reason is the user-facing failure category.
type Reason string

const (
	ReasonCredential        Reason = "credential"
	ReasonInsufficientFunds Reason = "insufficient_funds"
	ReasonGeneric           Reason = "generic"
)

// Classify collapses err into the categories the UI distinguishes.
func Classify(err error) Reason {
	switch {
	case errors.Is(err, ErrInvalidCredential):
		return ReasonCredential
	case errors.Is(err, ErrInsufficientFunds):
		return ReasonInsufficientFunds
	}
	return ReasonGeneric
}
