package settlement

import (
	"context"

	"gorm.io/gorm"

	"github.com/Aidin1998/tickex/common/dbutil"
	"github.com/Aidin1998/tickex/internal/orderbook"
	"github.com/Aidin1998/tickex/pkg/errors"
	"github.com/Aidin1998/tickex/pkg/models"
)

// OrderFilter narrows order listings. Zero fields match everything.
type OrderFilter struct {
	InstrumentID int64
	Side         models.Side
}

func (f OrderFilter) scope(db *gorm.DB) *gorm.DB {
	if f.InstrumentID > 0 {
		db = db.Where("instrument_id = ?", f.InstrumentID)
	}
	if f.Side.Valid() {
		db = db.Where("side = ?", f.Side)
	}
	return db
}

// Order returns one of userID's orders.
func (g *Gateway) Order(ctx context.Context, userID, orderID int64) (*models.Order, error) {
	order, err := dbutil.FindOne[models.Order](g.db.WithContext(ctx).Where("id = ?", orderID), errors.OrderNotFound)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, errors.OrderAccessDenied.Explain("order %d is not owned by user %d", orderID, userID)
	}
	return order, nil
}

// UnfilledOrders lists userID's orders that still rest on the book, newest first.
func (g *Gateway) UnfilledOrders(ctx context.Context, userID int64, filter OrderFilter, page dbutil.Page) ([]models.Order, int64, error) {
	q := filter.scope(g.db.WithContext(ctx).Model(&models.Order{}).
		Where("user_id = ? AND unfilled_amount > 0", userID))
	return listOrders(q, page)
}

// MatchedOrders lists userID's orders with at least one fill, newest first.
func (g *Gateway) MatchedOrders(ctx context.Context, userID int64, filter OrderFilter, page dbutil.Page) ([]models.Order, int64, error) {
	q := filter.scope(g.db.WithContext(ctx).Model(&models.Order{}).
		Where("user_id = ? AND amount - unfilled_amount - canceled_amount > 0", userID))
	return listOrders(q, page)
}

func listOrders(q *gorm.DB, page dbutil.Page) ([]models.Order, int64, error) {
	var total int64
	if err := q.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	orders := []models.Order{}
	err := q.Session(&gorm.Session{}).Scopes(page.Scope()).Order("created_at DESC, id DESC").Find(&orders).Error
	if err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

// Matches lists the fills of one of userID's orders.
func (g *Gateway) Matches(ctx context.Context, userID, orderID int64) ([]models.Match, error) {
	if _, err := g.Order(ctx, userID, orderID); err != nil {
		return nil, err
	}
	matches := []models.Match{}
	err := g.db.WithContext(ctx).
		Where("maker_order_id = ? OR taker_order_id = ?", orderID, orderID).
		Order("id").Find(&matches).Error
	return matches, err
}

// OrderBook returns the engine's aggregated book for an instrument.
func (g *Gateway) OrderBook(ctx context.Context, instrumentID int64) (*orderbook.Snapshot, error) {
	if _, err := dbutil.FindOne[models.Instrument](g.db.WithContext(ctx).Where("id = ?", instrumentID), errors.InstrumentMissing); err != nil {
		return nil, err
	}
	return g.exchange.OrderBook(ctx, instrumentID)
}
