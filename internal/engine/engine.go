// Package engine implements exact-price FIFO matching over an orderbook.Store.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Aidin1998/tickex/internal/orderbook"
	"github.com/Aidin1998/tickex/internal/pricing"
	"github.com/Aidin1998/tickex/pkg/metrics"
	"github.com/Aidin1998/tickex/pkg/models"
)

const lockStripes = 256

// Engine serializes every operation on an (instrument, price) pair. Both sides
// of a price are guarded by the same stripe because a submission reads the
// opposite queue and may write its own.
type Engine struct {
	store  orderbook.Store
	logger *zap.Logger
	locks  [lockStripes]sync.Mutex
}

// New returns an engine over store.
func New(store orderbook.Store, logger *zap.Logger) *Engine {
	return &Engine{store: store, logger: logger}
}

func (e *Engine) lock(instrumentID, price int64) func() {
	h := fnv.New32a()
	h.Write([]byte(strconv.FormatInt(instrumentID, 10)))
	h.Write([]byte{':'})
	h.Write([]byte(strconv.FormatInt(price, 10)))
	m := &e.locks[h.Sum32()%lockStripes]
	m.Lock()
	return m.Unlock
}

func submitRecordID(orderID int64) string { return fmt.Sprintf("submit:%d", orderID) }
func cancelRecordID(orderID int64) string { return fmt.Sprintf("cancel:%d", orderID) }

func validateSubmit(req *SubmitOrderRequest) (models.Side, string) {
	side, ok := models.ParseSide(req.Side)
	switch {
	case !ok:
		return 0, "INVALID_ORDER_SIDE"
	case req.OrderID <= 0:
		return side, "INVALID_ORDER_ID"
	case req.Amount <= 0:
		return side, "INVALID_QUANTITY"
	case !pricing.ValidTick(req.Price):
		return side, "INVALID_TICK_SIZE"
	}
	return side, ""
}

// Submit crosses the order against the opposite queue at exactly its price,
// then rests whatever is left at the tail of its own queue. A repeated order
// id returns the first answer without touching the book.
func (e *Engine) Submit(ctx context.Context, req *SubmitOrderRequest) (*SubmitOrderResponse, error) {
	start := time.Now()
	defer func() { metrics.OrderLatency.Observe(time.Since(start).Seconds()) }()

	side, reason := validateSubmit(req)
	if reason != "" {
		metrics.OrdersProcessed.WithLabelValues(side.String(), string(ResultRejected)).Inc()
		return rejectSubmit(reason), nil
	}

	unlock := e.lock(req.InstrumentID, req.Price)
	defer unlock()

	var prior SubmitOrderResponse
	if found, err := e.loadRecord(ctx, submitRecordID(req.OrderID), &prior); err != nil {
		return nil, err
	} else if found {
		e.logger.Info("Replaying recorded submission", zap.Int64("order_id", req.OrderID),
			zap.String("match_result", string(prior.MatchResult)))
		return &prior, nil
	}

	opposite := orderbook.Key{InstrumentID: req.InstrumentID, Side: side.Opposite()}
	queue, err := e.store.Queue(ctx, opposite, req.Price)
	if err != nil {
		return nil, fmt.Errorf("failed to read opposite queue: %w", err)
	}

	remaining := req.Amount
	var fills []MakerFill
	for remaining > 0 && len(queue) > 0 {
		front := queue[0]
		queue = queue[1:]
		qty := min(remaining, front.UnfilledUnit)
		front.UnfilledUnit -= qty
		remaining -= qty
		fills = append(fills, MakerFill{OrderID: front.OrderID, MatchedAmount: qty})
		if front.UnfilledUnit > 0 {
			queue = append([]orderbook.Entry{front}, queue...)
		}
	}

	var writes []orderbook.LevelWrite
	if len(fills) > 0 {
		writes = append(writes, orderbook.LevelWrite{Key: opposite, Price: req.Price, Entries: queue})
	}
	if remaining > 0 {
		own := orderbook.Key{InstrumentID: req.InstrumentID, Side: side}
		resting, err := e.store.Queue(ctx, own, req.Price)
		if err != nil {
			return nil, fmt.Errorf("failed to read own queue: %w", err)
		}
		createdAt := req.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		resting = append(resting, orderbook.Entry{OrderID: req.OrderID, UnfilledUnit: remaining, CreatedAt: createdAt})
		writes = append(writes, orderbook.LevelWrite{Key: own, Price: req.Price, Entries: resting})
	}

	resp := &SubmitOrderResponse{MatchResult: ResultUnmatched}
	if len(fills) > 0 {
		resp = &SubmitOrderResponse{
			MatchResult:        ResultMatched,
			TakerOrderID:       req.OrderID,
			Makers:             fills,
			Price:              req.Price,
			TotalMatchedAmount: req.Amount - remaining,
		}
	}

	if err := e.commit(ctx, writes, submitRecordID(req.OrderID), resp); err != nil {
		return nil, err
	}

	metrics.OrdersProcessed.WithLabelValues(side.String(), string(resp.MatchResult)).Inc()
	if resp.TotalMatchedAmount > 0 {
		metrics.FilledQuantity.WithLabelValues(strconv.FormatInt(req.InstrumentID, 10)).Add(float64(resp.TotalMatchedAmount))
	}
	e.logger.Debug("Order processed",
		zap.Int64("order_id", req.OrderID),
		zap.Int64("instrument_id", req.InstrumentID),
		zap.String("side", side.String()),
		zap.Int64("price", req.Price),
		zap.String("match_result", string(resp.MatchResult)),
		zap.Int("fills", len(fills)))
	return resp, nil
}

// Cancel removes the order from the queue at its recorded price. An order that
// is not resting there, whether filled or never admitted, is Rejected.
func (e *Engine) Cancel(ctx context.Context, req *CancelOrderRequest) (*CancelOrderResponse, error) {
	side, ok := models.ParseSide(req.Side)
	if !ok {
		metrics.OrdersCancelled.WithLabelValues(string(ResultRejected)).Inc()
		return rejectCancel("INVALID_ORDER_SIDE"), nil
	}

	unlock := e.lock(req.InstrumentID, req.Price)
	defer unlock()

	var prior CancelOrderResponse
	if found, err := e.loadRecord(ctx, cancelRecordID(req.OrderID), &prior); err != nil {
		return nil, err
	} else if found {
		return &prior, nil
	}

	key := orderbook.Key{InstrumentID: req.InstrumentID, Side: side}
	queue, err := e.store.Queue(ctx, key, req.Price)
	if err != nil {
		return nil, fmt.Errorf("failed to read queue: %w", err)
	}

	idx := -1
	for i, entry := range queue {
		if entry.OrderID == req.OrderID {
			idx = i
			break
		}
	}
	if idx < 0 {
		metrics.OrdersCancelled.WithLabelValues(string(ResultRejected)).Inc()
		return rejectCancel("ORDER_NOT_RESTING"), nil
	}

	canceled := queue[idx].UnfilledUnit
	rest := append(queue[:idx:idx], queue[idx+1:]...)
	resp := &CancelOrderResponse{MatchResult: ResultCancelled, CanceledAmount: canceled}
	writes := []orderbook.LevelWrite{{Key: key, Price: req.Price, Entries: rest}}
	if err := e.commit(ctx, writes, cancelRecordID(req.OrderID), resp); err != nil {
		return nil, err
	}

	metrics.OrdersCancelled.WithLabelValues(string(ResultCancelled)).Inc()
	e.logger.Debug("Order cancelled",
		zap.Int64("order_id", req.OrderID),
		zap.Int64("instrument_id", req.InstrumentID),
		zap.String("side", side.String()),
		zap.Int64("price", req.Price),
		zap.Int64("canceled_amount", canceled))
	return resp, nil
}

// OrderBook returns the current book of one instrument.
func (e *Engine) OrderBook(ctx context.Context, instrumentID int64) (*orderbook.Snapshot, error) {
	return orderbook.TakeSnapshot(ctx, e.store, instrumentID)
}

func (e *Engine) loadRecord(ctx context.Context, id string, out interface{}) (bool, error) {
	body, found, err := e.store.Result(ctx, id)
	if err != nil {
		return false, fmt.Errorf("failed to read result %s: %w", id, err)
	}
	if !found {
		return false, nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return false, fmt.Errorf("failed to decode result %s: %w", id, err)
	}
	return true, nil
}

func (e *Engine) commit(ctx context.Context, writes []orderbook.LevelWrite, id string, resp interface{}) error {
	body, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	if err := e.store.Commit(ctx, writes, &orderbook.Record{ID: id, Body: body}); err != nil {
		e.logger.Error("Book commit failed", zap.String("record", id), zap.Error(err))
		return err
	}
	return nil
}
