package api

import (
	"github.com/gin-gonic/gin"

	"github.com/Aidin1998/tickex/api/responses"
	"github.com/Aidin1998/tickex/common/apiutil"
	"github.com/Aidin1998/tickex/common/dbutil"
	"github.com/Aidin1998/tickex/internal/settlement"
	"github.com/Aidin1998/tickex/pkg/errors"
	"github.com/Aidin1998/tickex/pkg/models"
)

// POST /api/v1/orders
func (s *Server) submitOrder(c *gin.Context) {
	var req settlement.SubmitOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(err).SetType(gin.ErrorTypeBind)
		return
	}
	result, err := s.gateway.SubmitOrder(c.Request.Context(), currentUser(c), &req)
	switch {
	case err == nil:
		responses.Created(c, result)
	case result != nil && errors.Is(err, errors.EngineUnknown):
		responses.Accepted(c, result, errors.EngineUnknown.Message)
	case result != nil:
		problem := errors.ToProblemDetails(err, c.Request.URL.Path).
			WithExtra("order_id", result.Order.ID).
			WithExtra("saga_state", result.SagaState)
		apiutil.RFC7807ErrorResponse(c, problem)
	default:
		apiutil.WriteError(c, err)
	}
}

type listOrdersQuery struct {
	dbutil.Page
	Status       string `form:"status" validate:"omitempty,oneof=unfilled matched"`
	InstrumentID int64  `form:"instrument_id" validate:"gte=0"`
	Side         string `form:"side" validate:"omitempty,side"`
}

// GET /api/v1/orders?status=unfilled|matched
func (s *Server) listOrders(c *gin.Context) {
	var q listOrdersQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		_ = c.Error(err).SetType(gin.ErrorTypeBind)
		return
	}
	if err := s.validator.Validate(&q); err != nil {
		apiutil.WriteError(c, err)
		return
	}
	filter := settlement.OrderFilter{InstrumentID: q.InstrumentID}
	filter.Side, _ = models.ParseSide(q.Side)

	list := s.gateway.UnfilledOrders
	if q.Status == "matched" {
		list = s.gateway.MatchedOrders
	}
	orders, total, err := list(c.Request.Context(), currentUser(c), filter, q.Page)
	if err != nil {
		apiutil.WriteError(c, err)
		return
	}
	responses.Paginated(c, orders, q.Page, total)
}

// GET /api/v1/orders/:id
func (s *Server) getOrder(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		apiutil.WriteError(c, err)
		return
	}
	order, err := s.gateway.Order(c.Request.Context(), currentUser(c), id)
	if err != nil {
		apiutil.WriteError(c, err)
		return
	}
	responses.Success(c, order)
}

// GET /api/v1/orders/:id/matches
func (s *Server) getOrderMatches(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		apiutil.WriteError(c, err)
		return
	}
	matches, err := s.gateway.Matches(c.Request.Context(), currentUser(c), id)
	if err != nil {
		apiutil.WriteError(c, err)
		return
	}
	responses.Success(c, matches)
}

// DELETE /api/v1/orders/:id
func (s *Server) cancelOrder(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		apiutil.WriteError(c, err)
		return
	}
	order, err := s.gateway.CancelOrder(c.Request.Context(), currentUser(c), id)
	if err != nil {
		apiutil.WriteError(c, err)
		return
	}
	responses.Success(c, order)
}

// GET /api/v1/market/orderbook/:instrument_id
func (s *Server) getOrderBook(c *gin.Context) {
	id, err := pathID(c, "instrument_id")
	if err != nil {
		apiutil.WriteError(c, err)
		return
	}
	book, err := s.gateway.OrderBook(c.Request.Context(), id)
	if err != nil {
		apiutil.WriteError(c, err)
		return
	}
	responses.Success(c, book)
}

// GET /api/v1/market/status/:instrument_id
func (s *Server) getMarketStatus(c *gin.Context) {
	id, err := pathID(c, "instrument_id")
	if err != nil {
		apiutil.WriteError(c, err)
		return
	}
	status, err := s.market.Status(c.Request.Context(), id)
	if err != nil {
		apiutil.WriteError(c, err)
		return
	}
	responses.Success(c, status)
}
