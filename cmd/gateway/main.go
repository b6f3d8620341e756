// Command gateway runs the order gateway: wallets, order submission and
// settlement against a remote matching engine.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/Aidin1998/tickex/api"
	"github.com/Aidin1998/tickex/internal/config"
	"github.com/Aidin1998/tickex/internal/database"
	"github.com/Aidin1998/tickex/internal/engine"
	"github.com/Aidin1998/tickex/internal/ledger"
	"github.com/Aidin1998/tickex/internal/market"
	"github.com/Aidin1998/tickex/internal/messaging"
	"github.com/Aidin1998/tickex/internal/pricing"
	"github.com/Aidin1998/tickex/internal/settlement"
	"github.com/Aidin1998/tickex/pkg/logger"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	cfg, err := config.LoadConfig("gateway", 8080)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zapLogger, err := logger.NewLogger("gateway", cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.Database)
	if err != nil {
		zapLogger.Fatal("Failed to connect to database", zap.Error(err), zap.String("driver", cfg.Database.Driver))
	}
	if err := database.Migrate(db); err != nil {
		zapLogger.Fatal("Failed to migrate database", zap.Error(err))
	}

	var publisher messaging.Publisher = messaging.NopPublisher{}
	if cfg.Kafka.Enabled {
		kafkaCfg := messaging.DefaultKafkaPublisherConfig()
		kafkaCfg.Compression = cfg.Kafka.Compression
		publisher = messaging.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.MatchTopic, kafkaCfg, zapLogger)
	}
	defer publisher.Close()

	ledgerSvc := ledger.NewService(zapLogger, db)
	marketSvc := market.NewService(db, zapLogger)
	client := engine.NewClient(cfg.Engine.BaseURL, cfg.Engine.RequestTimeout, zapLogger)
	gateway := settlement.NewGateway(db, ledgerSvc, marketSvc, client, publisher, settlement.Config{
		MaxAttempts: cfg.Saga.MaxAttempts,
		BatchSize:   cfg.Saga.BatchSize,
		MinAge:      cfg.Engine.RequestTimeout,
	}, zapLogger)

	recovery := settlement.NewRecoveryWorker(gateway, cfg.Saga.RecoveryInterval, zapLogger)
	recovery.Start(ctx)
	defer recovery.Stop()

	// Create today's bands on startup, then keep checking so a new day gets its
	// rows without a restart.
	if cfg.Market.BandJobInterval > 0 {
		calculator := market.NewCalculator(db,
			pricing.NewBandCalculator(cfg.Market.DefaultReferencePrice, cfg.Market.LimitRate), zapLogger)
		go func() {
			ticker := time.NewTicker(cfg.Market.BandJobInterval)
			defer ticker.Stop()
			for {
				if _, err := calculator.CreateMarketStatus(ctx, time.Now()); err != nil && ctx.Err() == nil {
					zapLogger.Error("Daily band job failed", zap.Error(err))
				}
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
				}
			}
		}()
	}

	apiServer, err := api.NewServer(zapLogger, gateway, ledgerSvc, marketSvc, api.Options{
		RateLimit:    cfg.Server.RateLimit,
		AllowOrigins: cfg.Server.AllowedOrigins,
	})
	if err != nil {
		zapLogger.Fatal("Failed to create API server", zap.Error(err))
	}
	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      apiServer.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		zapLogger.Info("Starting API server",
			zap.String("addr", server.Addr),
			zap.String("engine", cfg.Engine.BaseURL),
			zap.Bool("kafka", cfg.Kafka.Enabled))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLogger.Fatal("Failed to start API server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zapLogger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("Server shutdown failed", zap.Error(err))
	}
	zapLogger.Info("Server exited properly")
}
