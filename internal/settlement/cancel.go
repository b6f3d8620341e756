package settlement

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Aidin1998/tickex/common/dbutil"
	"github.com/Aidin1998/tickex/internal/engine"
	"github.com/Aidin1998/tickex/pkg/errors"
	"github.com/Aidin1998/tickex/pkg/metrics"
	"github.com/Aidin1998/tickex/pkg/models"
)

// CancelOrder takes the resting remainder of userID's order off the book and
// releases what it held. Fills already settled are untouched.
func (g *Gateway) CancelOrder(ctx context.Context, userID, orderID int64) (*models.Order, error) {
	db := g.db.WithContext(ctx)
	order, err := dbutil.FindOne[models.Order](db.Where("id = ?", orderID), errors.OrderNotFound)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, errors.OrderAccessDenied.Explain("order %d is not owned by user %d", orderID, userID)
	}
	if order.Resolved() {
		return nil, errors.OrderResolved.Explain("order %d has no unfilled amount", orderID)
	}
	var saga models.SettlementSaga
	res := db.Where("order_id = ?", orderID).Limit(1).Find(&saga)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected > 0 && !saga.State.Terminal() {
		return nil, errors.OrderPending.Explain("order %d submission is %s", orderID, saga.State)
	}

	start := time.Now()
	resp, err := g.exchange.Cancel(ctx, &engine.CancelOrderRequest{
		OrderID:      order.ID,
		InstrumentID: order.InstrumentID,
		Side:         order.Side.String(),
		Price:        order.Price,
	})
	metrics.EngineCallLatency.WithLabelValues("cancel").Observe(time.Since(start).Seconds())
	ctx = context.WithoutCancel(ctx)
	db = g.db.WithContext(ctx)
	if err != nil {
		metrics.CancelOutcomes.WithLabelValues("error").Inc()
		if errors.Is(err, errors.EngineRejected) || errors.Is(err, errors.EngineUnknown) {
			return nil, err
		}
		return nil, errors.EngineUnknown.Wrap(err)
	}

	switch resp.MatchResult {
	case engine.ResultCancelled:
	case engine.ResultRejected:
		metrics.CancelOutcomes.WithLabelValues("not_resting").Inc()
		return nil, errors.OrderNotFound.Explain("order %d is not resting: %s", orderID, resp.Reason)
	default:
		return nil, errors.EngineUnknown.Explain("unexpected cancel result %q", resp.MatchResult)
	}

	err = g.ledger.InTx(ctx, func(tx *gorm.DB) error {
		locked, err := lockOrder(tx, orderID)
		if err != nil {
			return err
		}
		if locked.UnfilledAmount == 0 {
			// a concurrent cancel of the same order already applied the engine's answer
			return nil
		}
		amount := resp.CanceledAmount
		if amount <= 0 {
			amount = locked.UnfilledAmount
		}
		if amount > locked.UnfilledAmount {
			return errors.Invariant.Explain("engine canceled %d of order %d, only %d is unfilled",
				amount, locked.ID, locked.UnfilledAmount)
		}
		asset, value := reservation(locked.Side, locked.InstrumentID, locked.Price, amount)
		if err := g.ledger.Release(tx, locked.UserID, asset, value, orderNote(locked.ID)); err != nil {
			return err
		}
		return takeUnfilled(tx, locked.ID, amount, true)
	})
	if err != nil {
		g.logger.Error("Failed to apply cancel", zap.Int64("order_id", orderID), zap.Error(err))
		return nil, err
	}
	metrics.CancelOutcomes.WithLabelValues("cancelled").Inc()

	order, err = dbutil.FindOne[models.Order](db.Where("id = ?", orderID), errors.OrderNotFound)
	if err != nil {
		return nil, err
	}
	g.logger.Info("Order cancelled",
		zap.Int64("order_id", orderID),
		zap.Int64("canceled_amount", order.CanceledAmount))
	return order, nil
}
