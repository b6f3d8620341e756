// Package errors carries the stable (code, message) catalogue exposed to
// clients and its RFC 7807 rendering.
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Standard error functions
var (
	Is     = errors.Is
	As     = errors.As
	Join   = errors.Join
	Unwrap = errors.Unwrap
)

// Category groups codes by how the caller must react.
type Category string

const (
	CategoryValidation    Category = "validation"
	CategoryReservation   Category = "reservation"
	CategoryEngine        Category = "engine_rejection"
	CategoryCommunication Category = "communication"
	CategoryNotFound      Category = "not_found"
	CategoryConflict      Category = "conflict"
	CategoryInternal      Category = "internal"
)

// Error is a client-visible failure with a stable code.
type Error struct {
	Code     string   `json:"code"`
	Message  string   `json:"message"`
	Category Category `json:"-"`
	Status   int      `json:"-"`

	cause error
}

var _ error = (*Error)(nil)

func define(code string, category Category, status int, message string) *Error {
	return &Error{Code: code, Category: category, Status: status, Message: message}
}

var (
	InvalidOrderSide  = define("INVALID_ORDER_SIDE", CategoryValidation, http.StatusBadRequest, "Order side must be BUY or SELL.")
	InvalidTickSize   = define("INVALID_TICK_SIZE", CategoryValidation, http.StatusBadRequest, "Price does not conform to the tick size.")
	PriceOutOfLimits  = define("PRICE_OUT_OF_LIMITS", CategoryValidation, http.StatusBadRequest, "Price is outside today's price limits.")
	InvalidQuantity   = define("INVALID_QUANTITY", CategoryValidation, http.StatusBadRequest, "Quantity must be positive.")
	InvalidRequest    = define("INVALID_REQUEST", CategoryValidation, http.StatusBadRequest, "Request is malformed.")
	InvalidAmount     = define("INVALID_AMOUNT", CategoryValidation, http.StatusBadRequest, "Amount must be positive.")
	Unauthenticated   = define("UNAUTHENTICATED", CategoryValidation, http.StatusUnauthorized, "User identity is required.")
	InsufficientFunds = define("INSUFFICIENT_BALANCE", CategoryReservation, http.StatusUnprocessableEntity, "Insufficient available balance.")
	CashBlocked       = define("CASH_WALLET_BLOCKED", CategoryReservation, http.StatusForbidden, "Cash wallet is blocked.")
	SecurityBlocked   = define("SECURITY_WALLET_BLOCKED", CategoryReservation, http.StatusForbidden, "Security wallet is blocked.")
	EngineRejected    = define("ENGINE_REJECTED", CategoryEngine, http.StatusUnprocessableEntity, "Order was rejected by the matching engine.")
	EngineUnknown     = define("ENGINE_INDETERMINATE", CategoryCommunication, http.StatusAccepted, "Matching engine outcome is unknown; the order will be reconciled.")
	UserNotFound      = define("USER_NOT_FOUND", CategoryNotFound, http.StatusNotFound, "User not found.")
	InstrumentMissing = define("INSTRUMENT_NOT_FOUND", CategoryNotFound, http.StatusNotFound, "Instrument not found.")
	CashNotFound      = define("CASH_WALLET_NOT_FOUND", CategoryNotFound, http.StatusNotFound, "Cash wallet not found.")
	SecurityNotFound  = define("SECURITY_WALLET_NOT_FOUND", CategoryNotFound, http.StatusNotFound, "Security wallet not found.")
	OrderNotFound     = define("ORDER_NOT_FOUND", CategoryNotFound, http.StatusNotFound, "Order not found.")
	MarketStatusGone  = define("MARKET_STATUS_NOT_FOUND", CategoryNotFound, http.StatusNotFound, "No market status for today.")
	OrderAccessDenied = define("ORDER_ACCESS_DENIED", CategoryConflict, http.StatusForbidden, "Order belongs to another user.")
	OrderResolved     = define("ORDER_ALREADY_RESOLVED", CategoryConflict, http.StatusConflict, "Order has nothing left to cancel.")
	OrderPending      = define("ORDER_SETTLEMENT_PENDING", CategoryConflict, http.StatusConflict, "Order submission is still being settled.")
	WalletExists      = define("WALLET_ALREADY_EXISTS", CategoryConflict, http.StatusConflict, "Wallet already exists.")
	Invariant         = define("INVARIANT_VIOLATION", CategoryInternal, http.StatusInternalServerError, "Ledger invariant violated.")
	Internal          = define("INTERNAL_ERROR", CategoryInternal, http.StatusInternalServerError, "An unexpected error occurred.")
)

// Error implements error
func (e *Error) Error() string {
	str := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.cause != nil {
		str += fmt.Sprintf(" (%s)", e.cause)
	}
	return str
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Wrap returns a copy of the error with the given cause.
func (e *Error) Wrap(cause error) *Error {
	err := *e
	err.cause = cause
	return &err
}

// Explain makes a copy of the error with given message
func (e *Error) Explain(message string, args ...any) *Error {
	err := *e
	err.Message = fmt.Sprintf(message, args...)
	return &err
}

// Is matches on code so copies made by Wrap/Explain still compare equal.
func (e *Error) Is(target error) bool {
	if e == nil {
		return target == nil
	}
	if other, ok := target.(*Error); ok {
		return other.Code == e.Code
	}
	return false
}

// From extracts the catalogue error from err, falling back to Internal.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if As(err, &e) {
		return e
	}
	return Internal.Wrap(err)
}

// CategoryOf returns the category of err, or CategoryInternal.
func CategoryOf(err error) Category {
	return From(err).Category
}

const problemTypeBase = "https://api.tickex.io/problems/"

// ProblemDetails represents an RFC 7807 Problem Details response
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Code     string `json:"code"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	TraceID  string `json:"trace_id,omitempty"`

	Extra map[string]interface{} `json:"-"`
}

// Error implements the error interface
func (p *ProblemDetails) Error() string {
	return p.Detail
}

// WithTraceID adds a trace ID to the problem details
func (p *ProblemDetails) WithTraceID(traceID string) *ProblemDetails {
	p.TraceID = traceID
	return p
}

// WithExtra adds extra fields to the problem details (they will be serialized at the top level)
func (p *ProblemDetails) WithExtra(key string, value interface{}) *ProblemDetails {
	if p.Extra == nil {
		p.Extra = make(map[string]interface{})
	}
	p.Extra[key] = value
	return p
}

// MarshalJSON implements custom JSON marshaling to include extra fields at the top level
func (p *ProblemDetails) MarshalJSON() ([]byte, error) {
	result := make(map[string]interface{}, 7+len(p.Extra))
	result["type"] = p.Type
	result["title"] = p.Title
	result["status"] = p.Status
	result["code"] = p.Code
	if p.Detail != "" {
		result["detail"] = p.Detail
	}
	if p.Instance != "" {
		result["instance"] = p.Instance
	}
	if p.TraceID != "" {
		result["trace_id"] = p.TraceID
	}
	for k, v := range p.Extra {
		result[k] = v
	}
	return json.Marshal(result)
}

// ToProblemDetails renders err for the HTTP layer. Internal causes are not exposed.
func ToProblemDetails(err error, instance string) *ProblemDetails {
	e := From(err)
	detail := e.Message
	if e.Category == CategoryInternal {
		detail = Internal.Message
	}
	return &ProblemDetails{
		Type:     problemTypeBase + string(e.Category),
		Title:    http.StatusText(e.Status),
		Status:   e.Status,
		Code:     e.Code,
		Detail:   detail,
		Instance: instance,
	}
}
