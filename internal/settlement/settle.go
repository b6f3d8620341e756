package settlement

import (
	"fmt"
	"sort"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Aidin1998/tickex/common/dbutil"
	"github.com/Aidin1998/tickex/internal/engine"
	"github.com/Aidin1998/tickex/internal/ledger"
	"github.com/Aidin1998/tickex/pkg/errors"
	"github.com/Aidin1998/tickex/pkg/models"
)

func orderNote(orderID int64) string { return fmt.Sprintf("order:%d", orderID) }

func matchNote(takerID, makerID int64) string { return fmt.Sprintf("match:%d:%d", takerID, makerID) }

func lockOrder(tx *gorm.DB, orderID int64) (*models.Order, error) {
	return dbutil.FindOne[models.Order](
		tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", orderID),
		errors.OrderNotFound)
}

// takeUnfilled moves quantity out of the order's unfilled amount, into the
// canceled amount when cancel is set.
func takeUnfilled(tx *gorm.DB, orderID, quantity int64, cancel bool) error {
	set := map[string]interface{}{"unfilled_amount": gorm.Expr("unfilled_amount - ?", quantity)}
	if cancel {
		set["canceled_amount"] = gorm.Expr("canceled_amount + ?", quantity)
	}
	res := tx.Model(&models.Order{}).
		Where("id = ? AND unfilled_amount >= ?", orderID, quantity).
		UpdateColumns(set)
	if res.Error != nil {
		return fmt.Errorf("failed to update order %d: %w", orderID, res.Error)
	}
	if res.RowsAffected == 0 {
		return errors.Invariant.Explain("order %d has less than %d unfilled", orderID, quantity)
	}
	return nil
}

// settle books every maker fill of a Matched response: both cash legs, both
// security legs, the unfilled amounts of both orders, one Match row per fill
// and the day's market statistics.
func (g *Gateway) settle(tx *gorm.DB, takerID int64, resp *engine.SubmitOrderResponse) ([]models.Match, error) {
	taker, err := lockOrder(tx, takerID)
	if err != nil {
		return nil, err
	}
	if resp.Price != taker.Price {
		return nil, errors.Invariant.Explain("engine matched order %d at %d, order price is %d", takerID, resp.Price, taker.Price)
	}

	makers := make([]*models.Order, 0, len(resp.Makers))
	var total int64
	for _, fill := range resp.Makers {
		maker, err := lockOrder(tx, fill.OrderID)
		if err != nil {
			return nil, errors.Invariant.Wrap(err).Explain("maker order %d of taker %d is unknown", fill.OrderID, takerID)
		}
		if maker.InstrumentID != taker.InstrumentID || maker.Side != taker.Side.Opposite() || maker.Price != taker.Price {
			return nil, errors.Invariant.Explain("maker order %d does not cross taker %d", maker.ID, takerID)
		}
		if fill.MatchedAmount <= 0 {
			return nil, errors.Invariant.Explain("non-positive fill %d for maker %d", fill.MatchedAmount, maker.ID)
		}
		makers = append(makers, maker)
		total += fill.MatchedAmount
	}
	if total != resp.TotalMatchedAmount || total > taker.UnfilledAmount {
		return nil, errors.Invariant.Explain("fills of order %d sum to %d, reported %d, unfilled %d",
			takerID, total, resp.TotalMatchedAmount, taker.UnfilledAmount)
	}

	if err := g.lockParticipants(tx, taker, makers); err != nil {
		return nil, err
	}

	matches := make([]models.Match, 0, len(makers))
	quantities := make([]int64, 0, len(makers))
	for i, maker := range makers {
		q := resp.Makers[i].MatchedAmount
		buyer, seller := taker, maker
		if taker.Side == models.SideSell {
			buyer, seller = maker, taker
		}
		note := matchNote(taker.ID, maker.ID)
		value := taker.Price * q
		security := ledger.Security(taker.InstrumentID)

		if err := g.ledger.Pay(tx, buyer.UserID, ledger.Cash(), value, note); err != nil {
			return nil, err
		}
		if err := g.ledger.Receive(tx, seller.UserID, ledger.Cash(), value, note); err != nil {
			return nil, err
		}
		if err := g.ledger.Pay(tx, seller.UserID, security, q, note); err != nil {
			return nil, err
		}
		if err := g.ledger.Receive(tx, buyer.UserID, security, q, note); err != nil {
			return nil, err
		}
		if err := takeUnfilled(tx, maker.ID, q, false); err != nil {
			return nil, err
		}
		if err := takeUnfilled(tx, taker.ID, q, false); err != nil {
			return nil, err
		}

		match := models.Match{
			InstrumentID: taker.InstrumentID,
			MakerOrderID: maker.ID,
			TakerOrderID: taker.ID,
			Price:        taker.Price,
			Amount:       q,
		}
		if err := tx.Create(&match).Error; err != nil {
			return nil, fmt.Errorf("failed to record match: %w", err)
		}
		matches = append(matches, match)
		quantities = append(quantities, q)
	}

	if err := g.market.ApplyFills(tx, taker.InstrumentID, taker.Price, quantities...); err != nil {
		return nil, err
	}
	g.logger.Info("Fills settled",
		zap.Int64("taker_order_id", taker.ID),
		zap.Int("fills", len(matches)),
		zap.Int64("price", taker.Price),
		zap.Int64("quantity", total))
	return matches, nil
}

// lockParticipants locks the cash and security wallets of every user in the
// fills, ordered by user id.
func (g *Gateway) lockParticipants(tx *gorm.DB, taker *models.Order, makers []*models.Order) error {
	seen := map[int64]struct{}{taker.UserID: {}}
	users := []int64{taker.UserID}
	for _, m := range makers {
		if _, ok := seen[m.UserID]; !ok {
			seen[m.UserID] = struct{}{}
			users = append(users, m.UserID)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
	for _, userID := range users {
		if err := g.ledger.Lock(tx, userID, ledger.Cash()); err != nil {
			return err
		}
		if err := g.ledger.Lock(tx, userID, ledger.Security(taker.InstrumentID)); err != nil {
			return err
		}
	}
	return nil
}

// compensate undoes the reservation of an order the engine refused and
// marks its whole unfilled amount canceled.
func (g *Gateway) compensate(tx *gorm.DB, orderID int64, reason string) error {
	order, err := lockOrder(tx, orderID)
	if err != nil {
		return err
	}
	if order.UnfilledAmount == 0 {
		return nil
	}
	asset, amount := reservation(order.Side, order.InstrumentID, order.Price, order.UnfilledAmount)
	if err := g.ledger.Release(tx, order.UserID, asset, amount, orderNote(order.ID)); err != nil {
		return err
	}
	if err := takeUnfilled(tx, order.ID, order.UnfilledAmount, true); err != nil {
		return err
	}
	g.logger.Info("Order compensated", zap.Int64("order_id", order.ID), zap.String("reason", reason))
	return nil
}
