package engine

import (
	"time"
)

// MatchResult is the outcome of an engine operation as sent on the wire.
type MatchResult string

const (
	ResultMatched   MatchResult = "Matched"
	ResultUnmatched MatchResult = "Unmatched"
	ResultRejected  MatchResult = "Rejected"
	ResultCancelled MatchResult = "Cancelled"
)

// SubmitOrderRequest asks the engine to cross and admit a limit order.
// Side stays a string on the wire so an unknown side is answered with
// Rejected rather than a decode failure.
type SubmitOrderRequest struct {
	OrderID      int64     `json:"order_id"`
	InstrumentID int64     `json:"instrument_id"`
	Price        int64     `json:"price"`
	Amount       int64     `json:"amount"`
	Side         string    `json:"side"`
	CreatedAt    time.Time `json:"created_at"`
}

// MakerFill is one resting order filled by the taker.
type MakerFill struct {
	OrderID       int64 `json:"order_id"`
	MatchedAmount int64 `json:"matched_amount"`
}

// SubmitOrderResponse carries fills in the order they were executed.
type SubmitOrderResponse struct {
	MatchResult        MatchResult `json:"match_result"`
	TakerOrderID       int64       `json:"taker_order_id,omitempty"`
	Makers             []MakerFill `json:"makers,omitempty"`
	Price              int64       `json:"price,omitempty"`
	TotalMatchedAmount int64       `json:"total_matched_amount,omitempty"`
	Reason             string      `json:"reason,omitempty"`
}

// CancelOrderRequest names a resting order by its original price.
type CancelOrderRequest struct {
	OrderID      int64  `json:"order_id"`
	InstrumentID int64  `json:"instrument_id"`
	Side         string `json:"side"`
	Price        int64  `json:"price"`
}

// CancelOrderResponse reports the quantity taken off the book when cancelled.
type CancelOrderResponse struct {
	MatchResult    MatchResult `json:"match_result"`
	CanceledAmount int64       `json:"canceled_amount,omitempty"`
	Reason         string      `json:"reason,omitempty"`
}

func rejectSubmit(reason string) *SubmitOrderResponse {
	return &SubmitOrderResponse{MatchResult: ResultRejected, Reason: reason}
}

func rejectCancel(reason string) *CancelOrderResponse {
	return &CancelOrderResponse{MatchResult: ResultRejected, Reason: reason}
}
