// Package api is the gateway's HTTP surface: orders, wallets and market data.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	limiter "github.com/ulule/limiter/v3"
	ginlimiter "github.com/ulule/limiter/v3/drivers/middleware/gin"
	memory "github.com/ulule/limiter/v3/drivers/store/memory"
	"go.uber.org/zap"

	"github.com/Aidin1998/tickex/common/apiutil"
	"github.com/Aidin1998/tickex/internal/ledger"
	"github.com/Aidin1998/tickex/internal/market"
	"github.com/Aidin1998/tickex/internal/settlement"
	"github.com/Aidin1998/tickex/pkg/errors"
)

const userIDKey = "user_id"

// Options configures the router.
type Options struct {
	// RateLimit is a ulule formatted rate such as "100-M". Empty disables it.
	RateLimit    string
	AllowOrigins []string
}

// Server represents the API server
type Server struct {
	router    *gin.Engine
	gateway   *settlement.Gateway
	ledger    *ledger.Service
	market    *market.Service
	validator *apiutil.Validator
	logger    *zap.Logger
}

// NewServer creates the gateway API server
func NewServer(logger *zap.Logger, gateway *settlement.Gateway, ledgerSvc *ledger.Service, marketSvc *market.Service, opts Options) (*Server, error) {
	server := &Server{
		gateway:   gateway,
		ledger:    ledgerSvc,
		market:    marketSvc,
		validator: apiutil.NewValidator(),
		logger:    logger,
	}

	router := gin.New()
	router.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(logger, true))
	router.Use(apiutil.TraceMiddleware(), apiutil.MetricsMiddleware(), apiutil.RFC7807ErrorMiddleware())

	origins := opts.AllowOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:  origins,
		AllowMethods:  []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "X-User-ID", "X-Trace-ID"},
		ExposeHeaders: []string{"Content-Length", "X-Trace-ID"},
		MaxAge:        12 * time.Hour,
	}))

	var rateLimiter gin.HandlerFunc
	if opts.RateLimit != "" {
		rate, err := limiter.NewRateFromFormatted(opts.RateLimit)
		if err != nil {
			return nil, err
		}
		rateLimiter = ginlimiter.NewMiddleware(limiter.New(memory.NewStore(), rate))
	}

	server.router = router
	server.registerRoutes(rateLimiter)
	return server, nil
}

// Router returns the internal Gin engine for testing purposes
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) registerRoutes(rateLimiter gin.HandlerFunc) {
	s.router.GET("/health", s.healthCheck)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	public := s.router.Group("/api/v1")
	{
		marketGroup := public.Group("/market")
		{
			marketGroup.GET("/orderbook/:instrument_id", s.getOrderBook)
			marketGroup.GET("/status/:instrument_id", s.getMarketStatus)
		}
	}

	protected := s.router.Group("/api/v1")
	protected.Use(s.userMiddleware())
	if rateLimiter != nil {
		protected.Use(rateLimiter)
	}
	{
		orders := protected.Group("/orders")
		{
			orders.POST("", s.submitOrder)
			orders.GET("", s.listOrders)
			orders.GET("/:id", s.getOrder)
			orders.GET("/:id/matches", s.getOrderMatches)
			orders.DELETE("/:id", s.cancelOrder)
		}

		cash := protected.Group("/wallets/cash")
		s.registerWallet(cash, cashAsset)

		securities := protected.Group("/wallets/securities/:instrument_id")
		s.registerWallet(securities, securityAsset)
	}
}

func (s *Server) registerWallet(group *gin.RouterGroup, asset assetFunc) {
	group.POST("", s.createWallet(asset))
	group.GET("", s.getBalance(asset))
	group.GET("/history", s.getHistory(asset))
	group.POST("/deposit", s.deposit(asset))
	group.POST("/withdraw", s.withdraw(asset))
	group.POST("/block", s.setBlocked(asset, true))
	group.POST("/unblock", s.setBlocked(asset, false))
}

// healthCheck handles the health check endpoint
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now(),
	})
}

// userMiddleware reads the caller's identity from X-User-ID. Authentication
// happens upstream of the gateway.
func (s *Server) userMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := strconv.ParseInt(c.GetHeader("X-User-ID"), 10, 64)
		if err != nil || userID <= 0 {
			apiutil.WriteError(c, errors.Unauthenticated.Explain("X-User-ID header must carry a positive user id"))
			return
		}
		c.Set(userIDKey, userID)
		c.Next()
	}
}

func currentUser(c *gin.Context) int64 {
	return c.GetInt64(userIDKey)
}

func pathID(c *gin.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.InvalidRequest.Explain("%s must be a positive integer", name)
	}
	return id, nil
}
