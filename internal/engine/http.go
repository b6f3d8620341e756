package engine

import (
	"net/http"
	"strconv"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Aidin1998/tickex/common/apiutil"
	"github.com/Aidin1998/tickex/pkg/errors"
)

// Handler exposes the engine over HTTP.
type Handler struct {
	engine *Engine
	logger *zap.Logger
}

// NewRouter builds the engine's HTTP surface.
func NewRouter(engine *Engine, logger *zap.Logger) *gin.Engine {
	h := &Handler{engine: engine, logger: logger}

	router := gin.New()
	router.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(logger, true))
	router.Use(apiutil.TraceMiddleware(), apiutil.MetricsMiddleware(), apiutil.RFC7807ErrorMiddleware())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	market := router.Group("/api/v1/market")
	{
		market.POST("/order", h.SubmitOrder)
		market.DELETE("/order", h.CancelOrder)
		market.GET("/orderbook/:instrument_id", h.GetOrderBook)
	}
	return router
}

func (h *Handler) SubmitOrder(c *gin.Context) {
	var req SubmitOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(err).SetType(gin.ErrorTypeBind)
		return
	}
	resp, err := h.engine.Submit(c.Request.Context(), &req)
	if err != nil {
		h.logger.Error("Submit failed", zap.Int64("order_id", req.OrderID), zap.Error(err))
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) CancelOrder(c *gin.Context) {
	var req CancelOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(err).SetType(gin.ErrorTypeBind)
		return
	}
	resp, err := h.engine.Cancel(c.Request.Context(), &req)
	if err != nil {
		h.logger.Error("Cancel failed", zap.Int64("order_id", req.OrderID), zap.Error(err))
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) GetOrderBook(c *gin.Context) {
	instrumentID, err := strconv.ParseInt(c.Param("instrument_id"), 10, 64)
	if err != nil || instrumentID <= 0 {
		_ = c.Error(errors.InvalidRequest.Explain("instrument_id must be a positive integer"))
		return
	}
	snap, err := h.engine.OrderBook(c.Request.Context(), instrumentID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, snap)
}
