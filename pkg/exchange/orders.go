package exchange

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/uhyunpark/dexsync/pkg/market"
	"github.com/uhyunpark/dexsync/pkg/order"
)

// CreateOrder validates the password, builds, hashes and signs the order and
// submits it once. The password check happens before any I/O. A submission
// failure is returned unchanged and never retried. Success records the order
// as pending and triggers an order list refresh.
func (c *Coordinator) CreateOrder(ctx context.Context, req CreateOrderRequest) (*order.SignedOrder, error) {
	if !c.vault.IsPasswordValid(req.Password) {
		return nil, ErrInvalidCredential
	}

	block, err := c.currentBlock(ctx)
	if err != nil {
		return nil, err
	}
	o, err := c.builder.Build(c.account, block, order.Intent{
		OfferAsset:  req.OfferAsset,
		OfferAmount: req.OfferAmount,
		WantAsset:   req.WantAsset,
		WantAmount:  req.WantAmount,
	})
	if err != nil {
		return nil, fmt.Errorf("build order: %w", err)
	}
	signed, err := c.signer.SignOrder(o, req.Password)
	if err != nil {
		return nil, err
	}

	id, err := c.api.CreateOrder(ctx, signed)
	if err != nil {
		return nil, err
	}
	submitted := *signed
	submitted.ID = id
	c.logger.Infow("order_submitted", "order_id", id, "request_id", req.RequestID,
		"offer", submitted.OfferTokenAddress.Hex(), "want", submitted.WantTokenAddress.Hex(),
		"expiration_block", submitted.ExpirationBlock.String())

	if c.journal != nil {
		if err := c.journal.SaveSubmittedOrder(&submitted); err != nil {
			c.logger.Warnw("journal_save_failed", "order_id", id, "err", err)
		}
	}
	c.store.Apply(market.OrderCreated{Record: c.pendingRecord(&submitted, req.Side)})

	c.tasks.Add(1)
	go func() {
		defer c.tasks.Done()
		if err := c.RefreshOrderList(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, ErrNoTradingWallet) {
			c.logger.Warnw("order_list_refresh_failed", "err", err)
		}
	}()
	return &submitted, nil
}

// CancelOrder signs a cancellation for orderID and submits it once.
func (c *Coordinator) CancelOrder(ctx context.Context, req CancelOrderRequest) error {
	if !c.vault.IsPasswordValid(req.Password) {
		return ErrInvalidCredential
	}
	cancel, err := c.signer.SignCancel(req.OrderID, req.Password, c.account)
	if err != nil {
		return err
	}
	if err := c.api.CancelOrder(ctx, cancel); err != nil {
		return err
	}
	c.logger.Infow("order_cancelled", "order_id", req.OrderID, "request_id", req.RequestID)

	if c.journal != nil {
		if err := c.journal.MarkCancelled(c.account, req.OrderID); err != nil {
			c.logger.Warnw("journal_cancel_failed", "order_id", req.OrderID, "err", err)
		}
	}
	c.store.Apply(market.OrderCancelled{ID: req.OrderID})
	return nil
}

// RefreshOrderList replaces the order list with the trading wallet's orders.
func (c *Coordinator) RefreshOrderList(ctx context.Context) error {
	tw := c.TradingWallet()
	if tw == "" {
		return ErrNoTradingWallet
	}
	rows, err := c.api.FetchOrderList(ctx, tw)
	if err != nil {
		return fmt.Errorf("fetch order list: %w", err)
	}
	c.store.Apply(market.OrderListLoaded{Orders: order.Listed(rows)})
	return nil
}

// HandleNewBlock records the height of an ethereum block and refreshes the
// order list when a trading wallet is known. Other chains are ignored.
func (c *Coordinator) HandleNewBlock(ctx context.Context, b NewBlock) error {
	if !strings.EqualFold(b.Blockchain, Ethereum) {
		return nil
	}
	for {
		last := c.lastBlock.Load()
		if b.Number <= last || c.lastBlock.CompareAndSwap(last, b.Number) {
			break
		}
	}
	if c.journal != nil && b.Number > 0 {
		if err := c.journal.SetLastBlock(c.lastBlock.Load()); err != nil {
			c.logger.Warnw("journal_block_failed", "block", b.Number, "err", err)
		}
	}
	if c.TradingWallet() == "" {
		return nil
	}
	return c.RefreshOrderList(ctx)
}

// SetLastBlock seeds the known chain height, e.g. from the journal.
func (c *Coordinator) SetLastBlock(n uint64) {
	c.lastBlock.Store(n)
}

func (c *Coordinator) LastBlock() uint64 {
	return c.lastBlock.Load()
}

func (c *Coordinator) currentBlock(ctx context.Context) (uint64, error) {
	if c.chain == nil {
		return c.lastBlock.Load(), nil
	}
	n, err := c.chain.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("block number: %w", err)
	}
	return n, nil
}

func (c *Coordinator) pendingRecord(o *order.SignedOrder, side order.Side) order.Record {
	if side != order.SideBuy {
		side = order.SideSell
	}
	return order.Record{
		ID:                                o.ID,
		Added:                             c.clock.Now(),
		Side:                              side,
		OfferTokenAddress:                 o.OfferTokenAddress.Hex(),
		OfferTokenAmount:                  o.OfferTokenAmount.String(),
		WantTokenAddress:                  o.WantTokenAddress.Hex(),
		WantTokenAmount:                   o.WantTokenAmount.String(),
		WantTokenAmountFilled:             "0",
		AmountFilled:                      "0",
		AmountLocked:                      o.OfferTokenAmount.String(),
		Status:                            order.StatusPending,
		WantTokenAmountExpectedToBeFilled: o.WantTokenAmount.String(),
	}
}
