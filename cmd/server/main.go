package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"escrow/offchain/internal/api"
	"escrow/offchain/internal/blockchain/svm"
	"escrow/offchain/internal/config"
	"escrow/offchain/internal/database"
	"escrow/offchain/internal/lifecycle"
	"escrow/offchain/internal/service"
	"escrow/offchain/internal/tokens"
	"escrow/offchain/internal/worker"
)

func main() {
	// Initialize logger
	logger, err := initLogger()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Starting Escrow Offchain Service")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	logger.Info("Configuration loaded",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("db_host", cfg.Database.Host),
		zap.String("network", string(cfg.Solana.Network)),
		zap.String("rpc_endpoint", cfg.Solana.RPCEndpoint()))

	// Connect to database
	db, err := database.Connect(database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
	})
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	logger.Info("Database connected successfully")

	// Run migrations
	migrationPath := "internal/database/migrations/001_schema.sql"
	if err := database.RunMigrations(db, migrationPath); err != nil {
		logger.Warn("Failed to run migrations (may already be applied)", zap.Error(err))
	} else {
		logger.Info("Database migrations applied successfully")
	}

	if err := db.Ping(); err != nil {
		logger.Fatal("Failed to ping database", zap.Error(err))
	}

	logger.Info("Database health check passed")

	// Solana RPC and signer
	client, err := svm.NewClient(&cfg.Solana, logger)
	if err != nil {
		logger.Fatal("Failed to create Solana client", zap.Error(err))
	}
	defer client.Close()

	programID := client.ProgramID()
	wallet, err := svm.LoadKeypairWallet(cfg.Signer,
		svm.AllowPrograms(programID, solana.SPLAssociatedTokenAccountProgramID))
	if err != nil {
		logger.Fatal("Failed to load signer", zap.Error(err))
	}

	logger.Info("Signer loaded",
		zap.String("address", wallet.PublicKey().String()),
		zap.String("program_id", programID.String()))

	registry, err := tokens.NewRegistry(cfg.Solana.Network, cfg.Tokens.Overrides[cfg.Solana.Network])
	if err != nil {
		logger.Fatal("Failed to build token registry", zap.Error(err))
	}

	// Metrics
	metricsRegistry := prometheus.NewRegistry()
	metricsRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// Initialize services
	historyService := service.NewHistoryService(db, logger)
	projector := service.NewProjector(registry, programID, time.Now, logger)
	escrowService := service.NewEscrowService(client, projector, logger)

	engine, err := lifecycle.NewEngine(client, wallet, registry, programID, lifecycle.Options{
		ConfirmTimeout: cfg.Solana.ConfirmTimeout,
		History:        historyService,
		Metrics:        lifecycle.NewMetrics(metricsRegistry),
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize transaction engine", zap.Error(err))
	}

	logger.Info("Services initialized")

	// Initialize workers
	workerManager := worker.NewWorkerManager(cfg.Worker, engine, db, client, cfg.Solana.ConfirmTimeout, logger)

	// Initialize API handlers
	apiHandler := api.NewHandler(api.Deps{
		Escrows:   escrowService,
		Actions:   workerManager.Executor(),
		History:   historyService,
		Balances:  client,
		Registry:  registry,
		ProgramID: programID,
		Signer:    wallet.PublicKey(),
	}, logger)
	router := api.SetupRouter(apiHandler, metricsRegistry, logger)

	// Create HTTP server
	serverAddr := fmt.Sprintf(":%d", cfg.Server.Port)
	httpServer := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start workers before accepting requests
	workerManager.Start()
	logger.Info("Workers started")

	// Start HTTP server in goroutine
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server",
			zap.String("addr", serverAddr))
		serverErrors <- httpServer.ListenAndServe()
	}()

	logger.Info("Service initialized successfully",
		zap.String("status", "ready"),
		zap.Int("port", cfg.Server.Port))

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// Wait for interrupt signal or server error
	select {
	case err := <-serverErrors:
		logger.Fatal("HTTP server error", zap.Error(err))
	case sig := <-quit:
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	}

	logger.Info("Shutting down service...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Stop accepting actions first, then let running ones finish
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
		httpServer.Close()
	} else {
		logger.Info("HTTP server stopped gracefully")
	}

	if err := workerManager.Shutdown(cfg.Solana.ConfirmTimeout); err != nil {
		logger.Error("Worker shutdown error", zap.Error(err))
	}

	logger.Info("Service stopped successfully")
}

func initLogger() (*zap.Logger, error) {
	env := os.Getenv("ENV")
	if env == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
