// Package messaging publishes settled fills to downstream consumers.
package messaging

import (
	"context"
	"time"
)

// MatchEvent is one settled fill.
type MatchEvent struct {
	MatchID      int64     `json:"match_id"`
	InstrumentID int64     `json:"instrument_id"`
	MakerOrderID int64     `json:"maker_order_id"`
	TakerOrderID int64     `json:"taker_order_id"`
	Price        int64     `json:"price"`
	Amount       int64     `json:"amount"`
	ExecutedAt   time.Time `json:"executed_at"`
}

// Publisher delivers match events after settlement has committed.
type Publisher interface {
	PublishMatches(ctx context.Context, events []MatchEvent) error
	Close() error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) PublishMatches(context.Context, []MatchEvent) error { return nil }
func (NopPublisher) Close() error                                       { return nil }
