package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/punchamoorthee/otaledger/internal/domain"
	"github.com/punchamoorthee/otaledger/internal/id"
	"github.com/punchamoorthee/otaledger/internal/keylock"
	"github.com/punchamoorthee/otaledger/internal/metrics"
	"github.com/punchamoorthee/otaledger/internal/orders"
)

// Stock is the slice of the inventory ledger the saga drives.
type Stock interface {
	Freeze(ctx context.Context, sku, date string, qty int, orderID, operator string) error
	Consume(ctx context.Context, sku, date string, qty int, orderID, operator string) error
	Release(ctx context.Context, sku, date string, qty int, orderID, operator string) error
	Unconsume(ctx context.Context, sku, date string, qty int, orderID, operator, remark string) error
}

// OrderBook is the slice of the order ledger the saga drives.
type OrderBook interface {
	CreateOrder(ctx context.Context, in orders.NewOrder) (domain.Order, error)
	VerifyOrder(ctx context.Context, orderID, operator string) (domain.Order, error)
	RefundOrder(ctx context.Context, orderID, operator, reason string) (domain.Order, error)
	Get(orderID string) (domain.Order, bool)
}

// PriceBook resolves the sale price of an order placed without one.
type PriceBook interface {
	ActivePrice(sku, channel, day string) (domain.PriceRecord, bool)
}

// Fulfillment pairs every order transition with its inventory movement.
// When the second step fails the first is compensated, so a failed call
// leaves both ledgers as they were.
type Fulfillment struct {
	stock  Stock
	orders OrderBook
	prices PriceBook
	locks  keylock.Locker
	logger *zap.Logger
}

func NewFulfillment(stock Stock, book OrderBook, prices PriceBook, locks keylock.Locker, logger *zap.Logger) *Fulfillment {
	if locks == nil {
		locks = keylock.NewLocal()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fulfillment{stock: stock, orders: book, prices: prices, locks: locks, logger: logger}
}

// PlaceOrder freezes stock for the travel date, then records the paid
// order. A zero sale price is filled from the active price of the SKU on the
// order's channel.
func (f *Fulfillment) PlaceOrder(ctx context.Context, in orders.NewOrder) (domain.Order, error) {
	if in.ID == "" {
		in.ID = id.New(id.Order)
	}
	if in.Quantity <= 0 {
		return domain.Order{}, domain.Invalid("quantity", "must be positive")
	}
	if in.SalePrice.IsZero() && f.prices != nil {
		p, ok := f.prices.ActivePrice(in.SkuID, in.ChannelID, in.TravelDate)
		if !ok {
			return domain.Order{}, fmt.Errorf("no active price for %s/%s on %s: %w", in.SkuID, in.ChannelID, in.TravelDate, domain.ErrRecordNotFound)
		}
		in.SalePrice = p.SalePrice
		if !in.CostPrice.Valid {
			in.CostPrice = p.CostPrice
		}
	}

	unlock, err := f.locks.Lock(ctx, "fulfillment:"+in.ID)
	if err != nil {
		return domain.Order{}, err
	}
	defer unlock()

	if err := f.stock.Freeze(ctx, in.SkuID, in.TravelDate, in.Quantity, in.ID, in.CreatedBy); err != nil {
		return domain.Order{}, err
	}
	order, err := f.orders.CreateOrder(ctx, in)
	if err != nil {
		return domain.Order{}, f.compensate(ctx, "place.release", in.ID, err, func(ctx context.Context) error {
			return f.stock.Release(ctx, in.SkuID, in.TravelDate, in.Quantity, in.ID, in.CreatedBy)
		})
	}
	f.logger.Info("order placed", zap.String("order_id", order.ID), zap.String("sku_id", order.SkuID),
		zap.String("travel_date", order.TravelDate), zap.Int("quantity", order.Quantity))
	return order, nil
}

// VerifyOrder consumes the frozen stock of a paid order and marks it
// verified.
func (f *Fulfillment) VerifyOrder(ctx context.Context, orderID, operator string) (domain.Order, error) {
	unlock, err := f.locks.Lock(ctx, "fulfillment:"+orderID)
	if err != nil {
		return domain.Order{}, err
	}
	defer unlock()

	o, err := f.paidOrder(orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if err := f.stock.Consume(ctx, o.SkuID, o.TravelDate, o.Quantity, o.ID, operator); err != nil {
		return domain.Order{}, err
	}
	verified, err := f.orders.VerifyOrder(ctx, o.ID, operator)
	if err != nil {
		return domain.Order{}, f.compensate(ctx, "verify.unconsume", o.ID, err, func(ctx context.Context) error {
			return f.stock.Unconsume(ctx, o.SkuID, o.TravelDate, o.Quantity, o.ID, operator, "verify failed: "+err.Error())
		})
	}
	return verified, nil
}

// RefundOrder releases the frozen stock of a paid order and marks it
// refunded.
func (f *Fulfillment) RefundOrder(ctx context.Context, orderID, operator, reason string) (domain.Order, error) {
	unlock, err := f.locks.Lock(ctx, "fulfillment:"+orderID)
	if err != nil {
		return domain.Order{}, err
	}
	defer unlock()

	o, err := f.paidOrder(orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if err := f.stock.Release(ctx, o.SkuID, o.TravelDate, o.Quantity, o.ID, operator); err != nil {
		return domain.Order{}, err
	}
	refunded, err := f.orders.RefundOrder(ctx, o.ID, operator, reason)
	if err != nil {
		return domain.Order{}, f.compensate(ctx, "refund.refreeze", o.ID, err, func(ctx context.Context) error {
			return f.stock.Freeze(ctx, o.SkuID, o.TravelDate, o.Quantity, o.ID, operator)
		})
	}
	return refunded, nil
}

func (f *Fulfillment) paidOrder(orderID string) (domain.Order, error) {
	o, ok := f.orders.Get(orderID)
	if !ok {
		return domain.Order{}, fmt.Errorf("order %s: %w", orderID, domain.ErrRecordNotFound)
	}
	if o.Status != domain.OrderPaid {
		return domain.Order{}, fmt.Errorf("order %s is %s: %w", orderID, o.Status, domain.ErrInvalidTransition)
	}
	return o, nil
}

// compensate undoes a completed step after a later one failed. The undo runs
// even if ctx was cancelled. Its failure is joined with cause.
func (f *Fulfillment) compensate(ctx context.Context, step, orderID string, cause error, undo func(context.Context) error) error {
	uerr := undo(context.WithoutCancel(ctx))
	metrics.Compensated(step, uerr)
	if uerr != nil {
		f.logger.Error("compensation failed, ledgers diverged",
			zap.String("step", step), zap.String("order_id", orderID), zap.NamedError("cause", cause), zap.Error(uerr))
		return errors.Join(cause, fmt.Errorf("%s: %w", step, uerr))
	}
	f.logger.Warn("saga step compensated", zap.String("step", step), zap.String("order_id", orderID), zap.Error(cause))
	return cause
}
