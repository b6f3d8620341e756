package settlement

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Aidin1998/tickex/common/dbutil"
	"github.com/Aidin1998/tickex/pkg/errors"
	"github.com/Aidin1998/tickex/pkg/models"
)

// RecoveryReport counts what one recovery pass did.
type RecoveryReport struct {
	Scanned  int `json:"scanned"`
	Resolved int `json:"resolved"`
	Pending  int `json:"pending"`
	Failed   int `json:"failed"`
}

// Recover re-drives sagas left PREPARED, ATTEMPTING or INDETERMINATE. The
// engine deduplicates by order id, so a resubmission returns the original
// outcome instead of matching twice.
func (g *Gateway) Recover(ctx context.Context) (*RecoveryReport, error) {
	var sagas []models.SettlementSaga
	err := g.db.WithContext(ctx).
		Where("state IN ?", []models.SagaState{models.SagaPrepared, models.SagaAttempting, models.SagaIndeterminate}).
		Where("attempts < ?", g.config.MaxAttempts).
		Where("updated_at <= ?", time.Now().Add(-g.config.MinAge)).
		Order("created_at").
		Limit(g.config.BatchSize).
		Find(&sagas).Error
	if err != nil {
		return nil, err
	}

	report := &RecoveryReport{Scanned: len(sagas)}
	for i := range sagas {
		if ctx.Err() != nil {
			break
		}
		saga := &sagas[i]
		order, err := dbutil.FindOne[models.Order](g.db.WithContext(ctx).Where("id = ?", saga.OrderID), errors.OrderNotFound)
		if err != nil {
			report.Failed++
			g.logger.Error("Saga order missing", zap.String("saga_id", saga.ID), zap.Error(err))
			continue
		}
		result, err := g.drive(ctx, saga, order)
		switch {
		case result != nil && result.SagaState.Terminal():
			report.Resolved++
		case errors.Is(err, errors.EngineUnknown):
			report.Pending++
			if saga.Attempts+1 >= g.config.MaxAttempts {
				g.logger.Error("Saga exhausted its attempts and needs manual reconciliation",
					zap.String("saga_id", saga.ID),
					zap.Int64("order_id", order.ID),
					zap.Int("attempts", saga.Attempts+1))
			}
		default:
			report.Failed++
			g.logger.Error("Saga recovery failed", zap.String("saga_id", saga.ID), zap.Error(err))
		}
	}
	if report.Scanned > 0 {
		g.logger.Info("Recovery pass finished",
			zap.Int("scanned", report.Scanned),
			zap.Int("resolved", report.Resolved),
			zap.Int("pending", report.Pending),
			zap.Int("failed", report.Failed))
	}
	return report, nil
}

// RecoveryWorker runs Recover on a fixed interval until stopped.
type RecoveryWorker struct {
	gateway  *Gateway
	interval time.Duration
	logger   *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewRecoveryWorker(gateway *Gateway, interval time.Duration, logger *zap.Logger) *RecoveryWorker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &RecoveryWorker{gateway: gateway, interval: interval, logger: logger}
}

// Start launches the loop. It runs one pass immediately.
func (w *RecoveryWorker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			if _, err := w.gateway.Recover(ctx); err != nil && ctx.Err() == nil {
				w.logger.Error("Recovery pass failed", zap.Error(err))
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	w.logger.Info("Settlement recovery worker started", zap.Duration("interval", w.interval))
}

// Stop cancels the loop and waits for the running pass to return.
func (w *RecoveryWorker) Stop() {
	if w.cancel == nil {
		return
	}
	w.cancel()
	w.wg.Wait()
	w.logger.Info("Settlement recovery worker stopped")
}
