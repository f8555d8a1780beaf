package exchange

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/uhyunpark/dexsync/pkg/crypto"
	"github.com/uhyunpark/dexsync/pkg/market"
	"github.com/uhyunpark/dexsync/pkg/order"
)

// API is the remote matching service. *client.Client implements it.
type API interface {
	FetchPairs(ctx context.Context, auth string) ([]market.RawPair, error)
	FetchPrice(ctx context.Context, base, quote string) (market.RawPairPrice, error)
	FetchOrderbook(ctx context.Context, base, quote string) (market.Orderbook, error)
	FetchTrades(ctx context.Context, q market.TradesQuery) (market.TradesResult, error)
	FetchOrderList(ctx context.Context, tradingWallet string) ([]order.Record, error)
	CreateOrder(ctx context.Context, o *order.SignedOrder) (string, error)
	CancelOrder(ctx context.Context, req *order.CancelRequest) error
	FetchBundles(ctx context.Context) ([]market.Bundle, error)
	FetchQuickPurchaseAddress(ctx context.Context) (string, error)
}

// Vault checks a password without signing anything.
type Vault interface {
	IsPasswordValid(password string) bool
}

// Wallet is the signing capability of the personal account. *crypto.KeystoreWallet implements it.
type Wallet interface {
	order.Wallet
	SignMessage(message []byte, password string, signer common.Address) (crypto.Signature, error)
	SignTx(tx *types.Transaction, chainID *big.Int, password string, signer common.Address) (*types.Transaction, error)
}

// Chain is the ethereum node access used for block height and quick purchases.
// *ethclient.Client implements it.
type Chain interface {
	BlockNumber(ctx context.Context) (uint64, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	ChainID(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// Journal keeps submitted orders and cancellations.
type Journal interface {
	SaveSubmittedOrder(o *order.SignedOrder) error
	MarkCancelled(maker common.Address, orderID string) error
	SetLastBlock(n uint64) error
}

// WAL receives every dispatched signal, one encoded line each.
type WAL interface {
	Append(line string)
}
