package models

import (
	"time"
)

// TradingDayLayout is the layout of MarketStatus.TradingDate.
const TradingDayLayout = "2006-01-02"

// TradingDay returns the trading-date key for t.
func TradingDay(t time.Time) string {
	return t.Format(TradingDayLayout)
}

// User is an account holder. Signup and authentication live outside this service.
type User struct {
	ID        int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	Name      string    `json:"name" gorm:"size:100"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Instrument is a listed security.
type Instrument struct {
	ID        int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	Code      string    `json:"code" gorm:"size:20;uniqueIndex"`
	Name      string    `json:"name" gorm:"size:100"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Order is a limit order as known to the gateway. Rows are never deleted.
// Amount - UnfilledAmount - CanceledAmount is the filled quantity.
type Order struct {
	ID             int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID         int64     `json:"user_id" gorm:"index;not null"`
	InstrumentID   int64     `json:"instrument_id" gorm:"index;not null"`
	Side           Side      `json:"side" gorm:"type:varchar(4);not null"`
	Price          int64     `json:"price" gorm:"not null"`
	Amount         int64     `json:"amount" gorm:"not null"`
	UnfilledAmount int64     `json:"unfilled_amount" gorm:"not null"`
	CanceledAmount int64     `json:"canceled_amount" gorm:"not null;default:0"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// FilledAmount is the quantity executed so far.
func (o *Order) FilledAmount() int64 {
	return o.Amount - o.UnfilledAmount - o.CanceledAmount
}

// Resolved reports whether nothing of the order is still resting.
func (o *Order) Resolved() bool {
	return o.UnfilledAmount == 0
}

// Match is one fill between a resting maker and the taker that crossed it.
type Match struct {
	ID           int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	InstrumentID int64     `json:"instrument_id" gorm:"index;not null"`
	MakerOrderID int64     `json:"maker_order_id" gorm:"index;not null"`
	TakerOrderID int64     `json:"taker_order_id" gorm:"index;not null"`
	Price        int64     `json:"price" gorm:"not null"`
	Amount       int64     `json:"amount" gorm:"not null"`
	CreatedAt    time.Time `json:"created_at"`
}

// CashWallet holds a user's cash. Hold is the part earmarked by open BUY orders.
type CashWallet struct {
	ID        int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID    int64     `json:"user_id" gorm:"uniqueIndex;not null"`
	Reserve   int64     `json:"reserve" gorm:"not null;default:0"`
	Hold      int64     `json:"hold" gorm:"not null;default:0"`
	Blocked   bool      `json:"blocked" gorm:"not null;default:false"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (w *CashWallet) Available() int64 { return w.Reserve - w.Hold }

// SecurityWallet holds a user's units of one instrument. Hold is the part
// earmarked by open SELL orders.
type SecurityWallet struct {
	ID           int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID       int64     `json:"user_id" gorm:"uniqueIndex:idx_security_wallet_owner;not null"`
	InstrumentID int64     `json:"instrument_id" gorm:"uniqueIndex:idx_security_wallet_owner;not null"`
	Reserve      int64     `json:"reserve" gorm:"not null;default:0"`
	Hold         int64     `json:"hold" gorm:"not null;default:0"`
	Blocked      bool      `json:"blocked" gorm:"not null;default:false"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (w *SecurityWallet) Available() int64 { return w.Reserve - w.Hold }

// WalletKind tells which wallet table a history row belongs to.
type WalletKind string

const (
	WalletCash     WalletKind = "CASH"
	WalletSecurity WalletKind = "SECURITY"
)

// HistoryType enumerates ledger entry types for both wallet kinds.
type HistoryType string

const (
	HistoryDeposit           HistoryType = "DEPOSIT"
	HistoryWithdrawal        HistoryType = "WITHDRAWAL"
	HistoryOrderHold         HistoryType = "ORDER_HOLD"
	HistoryTradePayment      HistoryType = "TRADE_PAYMENT"
	HistoryTradeReceipt      HistoryType = "TRADE_RECEIPT"
	HistoryTradeRefund       HistoryType = "TRADE_REFUND"
	HistorySellOrder         HistoryType = "SELL_ORDER"
	HistorySellOrderCancel   HistoryType = "SELL_ORDER_CANCEL"
	HistoryBuyOrderExecuted  HistoryType = "BUY_ORDER_EXECUTED"
	HistorySellOrderExecuted HistoryType = "SELL_ORDER_EXECUTED"
	HistoryAccountBlocked    HistoryType = "ACCOUNT_BLOCKED"
	HistoryAccountUnblocked  HistoryType = "ACCOUNT_UNBLOCKED"
)

// WalletHistory is an append-only ledger entry. Reserve is the wallet reserve
// after the entry was applied.
type WalletHistory struct {
	ID         int64       `json:"id" gorm:"primaryKey;autoIncrement"`
	WalletKind WalletKind  `json:"wallet_kind" gorm:"size:10;index:idx_history_wallet;not null"`
	WalletID   int64       `json:"wallet_id" gorm:"index:idx_history_wallet;not null"`
	Type       HistoryType `json:"type" gorm:"size:24;not null"`
	Amount     int64       `json:"amount" gorm:"not null"`
	Note       string      `json:"note" gorm:"size:100"`
	Reserve    int64       `json:"reserve" gorm:"not null"`
	CreatedAt  time.Time   `json:"created_at"`
}

// MarketStatus is the per-instrument state of one trading day. The band is
// written once by the daily price job; the trade statistics grow with every fill.
type MarketStatus struct {
	ID             int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	InstrumentID   int64     `json:"instrument_id" gorm:"uniqueIndex:idx_market_status_day;not null"`
	TradingDate    string    `json:"trading_date" gorm:"size:10;uniqueIndex:idx_market_status_day;not null"`
	ReferencePrice int64     `json:"reference_price" gorm:"not null"`
	UpperLimit     int64     `json:"upper_limit" gorm:"not null"`
	LowerLimit     int64     `json:"lower_limit" gorm:"not null"`
	OpenPrice      int64     `json:"open_price"`
	HighPrice      int64     `json:"high_price"`
	LowPrice       int64     `json:"low_price"`
	ClosePrice     int64     `json:"close_price"`
	Volume         int64     `json:"volume"`
	Turnover       int64     `json:"turnover"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// InBand reports whether price lies within [LowerLimit, UpperLimit].
func (m *MarketStatus) InBand(price int64) bool {
	return price >= m.LowerLimit && price <= m.UpperLimit
}

// ApplyFill folds one execution into the day's statistics.
func (m *MarketStatus) ApplyFill(price, quantity int64) {
	if m.OpenPrice == 0 {
		m.OpenPrice = price
	}
	if m.HighPrice == 0 || price > m.HighPrice {
		m.HighPrice = price
	}
	if m.LowPrice == 0 || price < m.LowPrice {
		m.LowPrice = price
	}
	m.ClosePrice = price
	m.Volume += quantity
	m.Turnover += price * quantity
}

// SagaState is the persisted step of a submit settlement.
type SagaState string

const (
	SagaPrepared      SagaState = "PREPARED"
	SagaAttempting    SagaState = "ATTEMPTING"
	SagaIndeterminate SagaState = "INDETERMINATE"
	SagaCommitted     SagaState = "COMMITTED"
	SagaCompensated   SagaState = "COMPENSATED"
)

// Terminal reports whether the saga needs no further work.
func (s SagaState) Terminal() bool {
	return s == SagaCommitted || s == SagaCompensated
}

// SettlementSaga tracks one order submission across the local reservation and
// the remote match attempt so an interrupted submission can be resumed.
type SettlementSaga struct {
	ID             string    `json:"id" gorm:"primaryKey;size:36"`
	OrderID        int64     `json:"order_id" gorm:"uniqueIndex;not null"`
	State          SagaState `json:"state" gorm:"size:16;index;not null"`
	Attempts       int       `json:"attempts" gorm:"not null;default:0"`
	LastError      string    `json:"last_error" gorm:"size:500"`
	EngineResponse string    `json:"engine_response" gorm:"type:text"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// All lists every persisted model for auto-migration.
func All() []interface{} {
	return []interface{}{
		&User{}, &Instrument{}, &Order{}, &Match{},
		&CashWallet{}, &SecurityWallet{}, &WalletHistory{},
		&MarketStatus{}, &SettlementSaga{},
	}
}
