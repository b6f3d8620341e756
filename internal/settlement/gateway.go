// Package settlement is the order gateway: it reserves funds, forwards orders
// to the matching engine and settles the fills it reports. Each submission is
// tracked by a SettlementSaga so an unknown engine outcome can be resumed.
package settlement

import (
	"context"
	"encoding/json"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Aidin1998/tickex/common/apiutil"
	"github.com/Aidin1998/tickex/common/dbutil"
	"github.com/Aidin1998/tickex/internal/engine"
	"github.com/Aidin1998/tickex/internal/ledger"
	"github.com/Aidin1998/tickex/internal/market"
	"github.com/Aidin1998/tickex/internal/messaging"
	"github.com/Aidin1998/tickex/internal/orderbook"
	"github.com/Aidin1998/tickex/internal/pricing"
	"github.com/Aidin1998/tickex/pkg/errors"
	"github.com/Aidin1998/tickex/pkg/metrics"
	"github.com/Aidin1998/tickex/pkg/models"
)

// Exchange is the matching engine as seen by the gateway. Both the in-process
// engine and the HTTP client satisfy it.
type Exchange interface {
	Submit(ctx context.Context, req *engine.SubmitOrderRequest) (*engine.SubmitOrderResponse, error)
	Cancel(ctx context.Context, req *engine.CancelOrderRequest) (*engine.CancelOrderResponse, error)
	OrderBook(ctx context.Context, instrumentID int64) (*orderbook.Snapshot, error)
}

// SubmitOrderRequest is a user's new limit order.
type SubmitOrderRequest struct {
	InstrumentID int64  `json:"instrument_id" validate:"required,gt=0"`
	Side         string `json:"side" validate:"required,side"`
	Price        int64  `json:"price"`
	Amount       int64  `json:"amount" validate:"gt=0"`
}

// SubmitResult reports the order after the submission attempt.
type SubmitResult struct {
	Order       *models.Order      `json:"order"`
	SagaID      string             `json:"saga_id"`
	SagaState   models.SagaState   `json:"saga_state"`
	MatchResult engine.MatchResult `json:"match_result,omitempty"`
	Matches     []models.Match     `json:"matches,omitempty"`
}

// Config tunes saga recovery.
type Config struct {
	MaxAttempts int
	BatchSize   int
	// MinAge keeps recovery away from sagas a live request is still driving.
	MinAge time.Duration
}

// Gateway validates, reserves, forwards and settles orders.
type Gateway struct {
	db        *gorm.DB
	ledger    *ledger.Service
	market    *market.Service
	exchange  Exchange
	publisher messaging.Publisher
	validator *apiutil.Validator
	config    Config
	logger    *zap.Logger
}

// NewGateway wires the gateway. A nil publisher drops match events.
func NewGateway(db *gorm.DB, ledgerSvc *ledger.Service, marketSvc *market.Service, exchange Exchange,
	publisher messaging.Publisher, config Config, logger *zap.Logger) *Gateway {
	if publisher == nil {
		publisher = messaging.NopPublisher{}
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 10
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	return &Gateway{
		db:        db,
		ledger:    ledgerSvc,
		market:    marketSvc,
		exchange:  exchange,
		publisher: publisher,
		validator: apiutil.NewValidator(),
		config:    config,
		logger:    logger,
	}
}

// reservation is what an order holds while it rests: price*unfilled cash for
// a BUY, unfilled units for a SELL.
func reservation(side models.Side, instrumentID, price, quantity int64) (ledger.Asset, int64) {
	if side == models.SideBuy {
		return ledger.Cash(), price * quantity
	}
	return ledger.Security(instrumentID), quantity
}

// SubmitOrder places a limit order for userID. The returned error is
// ENGINE_INDETERMINATE, together with a non-nil result, when the engine could
// not be reached; the saga is then left for recovery.
func (g *Gateway) SubmitOrder(ctx context.Context, userID int64, req *SubmitOrderRequest) (*SubmitResult, error) {
	start := time.Now()
	result, err := g.submit(ctx, userID, req)
	if err != nil && (result == nil || !errors.Is(err, errors.EngineUnknown)) {
		metrics.SubmissionsRejected.WithLabelValues(errors.From(err).Code).Inc()
	}
	g.logger.Debug("Order submitted",
		zap.Int64("user_id", userID),
		zap.Int64("instrument_id", req.InstrumentID),
		zap.Duration("elapsed", time.Since(start)),
		zap.Error(err))
	return result, err
}

func (g *Gateway) submit(ctx context.Context, userID int64, req *SubmitOrderRequest) (*SubmitResult, error) {
	order := &models.Order{
		UserID:         userID,
		InstrumentID:   req.InstrumentID,
		Price:          req.Price,
		Amount:         req.Amount,
		UnfilledAmount: req.Amount,
	}
	saga := &models.SettlementSaga{ID: uuid.NewString(), State: models.SagaPrepared}

	err := g.ledger.InTx(ctx, func(tx *gorm.DB) error {
		order.ID, saga.OrderID = 0, 0
		if _, err := dbutil.FindOne[models.User](tx.Where("id = ?", userID), errors.UserNotFound); err != nil {
			return err
		}
		if _, err := dbutil.FindOne[models.Instrument](tx.Where("id = ?", req.InstrumentID), errors.InstrumentMissing); err != nil {
			return err
		}
		if err := g.validator.Validate(req); err != nil {
			return err
		}
		order.Side, _ = models.ParseSide(req.Side)
		status, err := g.market.StatusTx(tx, req.InstrumentID, false)
		if err != nil {
			return err
		}
		if err := pricing.Validate(req.Price, status); err != nil {
			return err
		}
		if order.Side == models.SideBuy && req.Amount > math.MaxInt64/req.Price {
			return errors.InvalidQuantity.Explain("order value %d x %d overflows", req.Price, req.Amount)
		}

		if err := tx.Create(order).Error; err != nil {
			return dbutil.WrapError(err, nil, nil)
		}
		asset, amount := reservation(order.Side, req.InstrumentID, req.Price, req.Amount)
		if err := g.ledger.Reserve(tx, userID, asset, amount, orderNote(order.ID)); err != nil {
			return err
		}
		saga.OrderID = order.ID
		if err := tx.Create(saga).Error; err != nil {
			return dbutil.WrapError(err, nil, nil)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.SagaOutcomes.WithLabelValues(string(models.SagaPrepared)).Inc()
	g.logger.Info("Order prepared",
		zap.Int64("order_id", order.ID),
		zap.String("saga_id", saga.ID),
		zap.String("side", order.Side.String()),
		zap.Int64("price", order.Price),
		zap.Int64("amount", order.Amount))

	return g.drive(ctx, saga, order)
}

// drive performs one engine attempt for a non-terminal saga and applies the
// outcome locally.
func (g *Gateway) drive(ctx context.Context, saga *models.SettlementSaga, order *models.Order) (*SubmitResult, error) {
	attempting, err := g.transition(g.db.WithContext(ctx), saga.ID, models.SagaAttempting, "", "", true)
	if err != nil {
		return nil, err
	}
	if !attempting {
		// another driver finished it first
		return g.result(ctx, saga.ID, order.ID, "")
	}

	start := time.Now()
	resp, callErr := g.exchange.Submit(ctx, &engine.SubmitOrderRequest{
		OrderID:      order.ID,
		InstrumentID: order.InstrumentID,
		Price:        order.Price,
		Amount:       order.Amount,
		Side:         order.Side.String(),
		CreatedAt:    order.CreatedAt.UTC(),
	})
	metrics.EngineCallLatency.WithLabelValues("submit").Observe(time.Since(start).Seconds())
	// the engine has acted; apply its outcome even if the caller went away
	ctx = context.WithoutCancel(ctx)

	if callErr != nil {
		if errors.Is(callErr, errors.EngineRejected) {
			resp = &engine.SubmitOrderResponse{MatchResult: engine.ResultRejected, Reason: errors.From(callErr).Message}
		} else {
			return g.indeterminate(ctx, saga, order, callErr)
		}
	}

	var matches []models.Match
	switch resp.MatchResult {
	case engine.ResultUnmatched:
		err = g.finish(ctx, saga.ID, models.SagaCommitted, resp, nil)
	case engine.ResultMatched:
		err = g.finish(ctx, saga.ID, models.SagaCommitted, resp, func(tx *gorm.DB) error {
			var settleErr error
			matches, settleErr = g.settle(tx, order.ID, resp)
			return settleErr
		})
	case engine.ResultRejected:
		err = g.finish(ctx, saga.ID, models.SagaCompensated, resp, func(tx *gorm.DB) error {
			return g.compensate(tx, order.ID, resp.Reason)
		})
	default:
		return g.indeterminate(ctx, saga, order, errors.EngineUnknown.Explain("unexpected match result %q", resp.MatchResult))
	}
	if err != nil {
		return nil, err
	}
	if len(matches) > 0 {
		g.publish(ctx, matches)
	}

	result, err := g.result(ctx, saga.ID, order.ID, resp.MatchResult)
	if err != nil {
		return nil, err
	}
	result.Matches = matches
	if resp.MatchResult == engine.ResultRejected {
		return result, errors.EngineRejected.Explain("order %d rejected: %s", order.ID, resp.Reason)
	}
	return result, nil
}

func (g *Gateway) indeterminate(ctx context.Context, saga *models.SettlementSaga, order *models.Order, cause error) (*SubmitResult, error) {
	g.logger.Warn("Engine outcome unknown",
		zap.Int64("order_id", order.ID),
		zap.String("saga_id", saga.ID),
		zap.Error(cause))
	if _, err := g.transition(g.db.WithContext(ctx), saga.ID, models.SagaIndeterminate, cause.Error(), "", false); err != nil {
		return nil, err
	}
	result, err := g.result(ctx, saga.ID, order.ID, "")
	if err != nil {
		return nil, err
	}
	return result, errors.EngineUnknown.Wrap(cause)
}

// transition moves a non-terminal saga to state. It returns false when the
// saga was already terminal, which means another driver applied the outcome.
func (g *Gateway) transition(tx *gorm.DB, sagaID string, state models.SagaState, lastError, response string, attempt bool) (bool, error) {
	set := map[string]interface{}{"state": state, "updated_at": time.Now()}
	if attempt {
		set["attempts"] = gorm.Expr("attempts + 1")
	}
	if lastError != "" {
		if len(lastError) > 500 {
			lastError = lastError[:500]
		}
		set["last_error"] = lastError
	}
	if response != "" {
		set["engine_response"] = response
	}
	res := tx.Model(&models.SettlementSaga{}).
		Where("id = ? AND state IN ?", sagaID,
			[]models.SagaState{models.SagaPrepared, models.SagaAttempting, models.SagaIndeterminate}).
		UpdateColumns(set)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	metrics.SagaOutcomes.WithLabelValues(string(state)).Inc()
	return true, nil
}

// finish applies a known engine outcome and marks the saga terminal in one
// transaction. The state update runs first so a concurrent driver that lost
// the race applies nothing.
func (g *Gateway) finish(ctx context.Context, sagaID string, state models.SagaState, resp *engine.SubmitOrderResponse, apply func(tx *gorm.DB) error) error {
	body, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	var won bool
	err = g.ledger.InTx(ctx, func(tx *gorm.DB) error {
		var terr error
		won, terr = g.transition(tx, sagaID, state, "", string(body), false)
		if terr != nil || !won || apply == nil {
			return terr
		}
		return apply(tx)
	})
	if err != nil {
		g.logger.Error("Failed to settle engine outcome",
			zap.String("saga_id", sagaID),
			zap.String("match_result", string(resp.MatchResult)),
			zap.Error(err))
		return err
	}
	if won {
		g.logger.Info("Saga finished", zap.String("saga_id", sagaID), zap.String("state", string(state)))
	}
	return nil
}

func (g *Gateway) result(ctx context.Context, sagaID string, orderID int64, matchResult engine.MatchResult) (*SubmitResult, error) {
	db := g.db.WithContext(ctx)
	saga, err := dbutil.FindOne[models.SettlementSaga](db.Where("id = ?", sagaID), errors.Internal)
	if err != nil {
		return nil, err
	}
	order, err := dbutil.FindOne[models.Order](db.Where("id = ?", orderID), errors.OrderNotFound)
	if err != nil {
		return nil, err
	}
	return &SubmitResult{Order: order, SagaID: saga.ID, SagaState: saga.State, MatchResult: matchResult}, nil
}

func (g *Gateway) publish(ctx context.Context, matches []models.Match) {
	events := make([]messaging.MatchEvent, 0, len(matches))
	for _, m := range matches {
		events = append(events, messaging.MatchEvent{
			MatchID:      m.ID,
			InstrumentID: m.InstrumentID,
			MakerOrderID: m.MakerOrderID,
			TakerOrderID: m.TakerOrderID,
			Price:        m.Price,
			Amount:       m.Amount,
			ExecutedAt:   m.CreatedAt,
		})
	}
	if err := g.publisher.PublishMatches(ctx, events); err != nil {
		g.logger.Error("Failed to publish matches", zap.Int("count", len(events)), zap.Error(err))
	}
}
