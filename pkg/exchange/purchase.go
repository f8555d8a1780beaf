package exchange

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/uhyunpark/dexsync/pkg/client"
	"github.com/uhyunpark/dexsync/pkg/market"
)

const quickPurchaseABI = `[{"type":"function","name":"buyForTradingWallet","stateMutability":"payable",
	"inputs":[{"name":"wallet","type":"address"}],"outputs":[]}]`

var purchaseABI = mustParseABI(quickPurchaseABI)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Errorf("parse abi: %w", err))
	}
	return parsed
}

// PairsSignature signs {"path": PairsPath} with the account key and encodes
// the 0x-less RPC signature text as base64, the credential of a pair owner.
func (c *Coordinator) PairsSignature(password string) (string, error) {
	msg, err := json.Marshal(map[string]string{"path": client.PairsPath})
	if err != nil {
		return "", err
	}
	sig, err := c.wallet.SignMessage(msg, password, c.account)
	if err != nil {
		return "", fmt.Errorf("sign pairs path: %w", err)
	}
	rpc := strings.TrimPrefix(sig.RPCSignature(), "0x")
	return base64.StdEncoding.EncodeToString([]byte(rpc)), nil
}

// CheckPairOwner fetches the pairs visible to the account as pair owner.
func (c *Coordinator) CheckPairOwner(ctx context.Context, password string) (map[string]market.Pair, error) {
	if !c.vault.IsPasswordValid(password) {
		return nil, ErrInvalidCredential
	}
	auth, err := c.PairsSignature(password)
	if err != nil {
		return nil, err
	}
	return c.fetchPairs(ctx, auth)
}

// FetchBundles loads the purchase bundles and the address that sells them.
func (c *Coordinator) FetchBundles(ctx context.Context) error {
	bundles, err := c.api.FetchBundles(ctx)
	if err != nil {
		return fmt.Errorf("fetch bundles: %w", err)
	}
	addr, err := c.api.FetchQuickPurchaseAddress(ctx)
	if err != nil {
		return fmt.Errorf("fetch quick purchase address: %w", err)
	}
	c.store.Apply(market.BundlesLoaded{Bundles: bundles, Address: addr})
	return nil
}

// QuickPurchase buys exchange tokens for ethAmount wei on behalf of the
// account. It fails with ErrInsufficientFunds, before anything is sent, when
// the balance does not cover ethAmount plus gasPrice*gas.
func (c *Coordinator) QuickPurchase(ctx context.Context, ethAmount *big.Int, password string) (common.Hash, error) {
	if !c.vault.IsPasswordValid(password) {
		return common.Hash{}, ErrInvalidCredential
	}
	if c.chain == nil {
		return common.Hash{}, ErrNoChain
	}
	if ethAmount == nil || ethAmount.Sign() <= 0 {
		return common.Hash{}, fmt.Errorf("purchase amount must be positive")
	}
	target := market.QuickPurchaseAddress(c.store.Snapshot())
	if !common.IsHexAddress(target) {
		return common.Hash{}, fmt.Errorf("quick purchase address unknown")
	}
	to := common.HexToAddress(target)

	data, err := purchaseABI.Pack("buyForTradingWallet", c.account)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pack purchase call: %w", err)
	}
	gasPrice, err := c.chain.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("gas price: %w", err)
	}
	gas, err := c.chain.EstimateGas(ctx, ethereum.CallMsg{
		From: c.account, To: &to, GasPrice: gasPrice, Value: ethAmount, Data: data,
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("estimate gas: %w", err)
	}
	balance, err := c.chain.BalanceAt(ctx, c.account, nil)
	if err != nil {
		return common.Hash{}, fmt.Errorf("balance: %w", err)
	}

	total := new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(gas))
	total.Add(total, ethAmount)
	if balance.Cmp(total) < 0 {
		c.logger.Infow("quick_purchase_rejected", "balance", balance.String(), "required", total.String())
		return common.Hash{}, ErrInsufficientFunds
	}

	nonce, err := c.chain.PendingNonceAt(ctx, c.account)
	if err != nil {
		return common.Hash{}, fmt.Errorf("nonce: %w", err)
	}
	chainID, err := c.chain.ChainID(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain id: %w", err)
	}
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       &to,
		Value:    ethAmount,
		Data:     data,
	})
	signed, err := c.wallet.SignTx(tx, chainID, password, c.account)
	if err != nil {
		return common.Hash{}, err
	}
	if err := c.chain.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("send purchase: %w", err)
	}
	c.logger.Infow("quick_purchase_sent", "tx", signed.Hash().Hex(), "value", ethAmount.String())
	return signed.Hash(), nil
}
