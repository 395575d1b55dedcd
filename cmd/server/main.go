package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"

	"github.com/riteshkumar/agent-cash-ledger/internal/approval"
	"github.com/riteshkumar/agent-cash-ledger/internal/audit"
	"github.com/riteshkumar/agent-cash-ledger/internal/config"
	"github.com/riteshkumar/agent-cash-ledger/internal/database"
	"github.com/riteshkumar/agent-cash-ledger/internal/fees"
	"github.com/riteshkumar/agent-cash-ledger/internal/handler"
	"github.com/riteshkumar/agent-cash-ledger/internal/ledger"
	"github.com/riteshkumar/agent-cash-ledger/internal/lifecycle"
	"github.com/riteshkumar/agent-cash-ledger/internal/offline"
	"github.com/riteshkumar/agent-cash-ledger/internal/repository"
	"github.com/riteshkumar/agent-cash-ledger/internal/settlement"
)

func main() {
	// Initialise logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err.Error())
		os.Exit(1)
	}

	// Connect to the database and apply migrations
	db, err := connectDB(cfg)
	if err != nil {
		logger.Error("failed to connect to database", "error", err.Error())
		os.Exit(1)
	}
	defer db.Close()

	if err := database.RunMigrations(db, cfg.MigrationsPath); err != nil {
		logger.Error("failed to run migrations", "error", err.Error())
		os.Exit(1)
	}
	logger.Info("connected to database and applied migrations")

	// Initialise repositories
	agentRepo := repository.NewAgentRepository(db)
	movementRepo := repository.NewMovementRepository(db)
	queueRepo := repository.NewQueueRepository(db)
	settlementRepo := repository.NewSettlementRepository(db)
	withdrawalRepo := repository.NewWithdrawalRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	// Initialise core components
	recorder := audit.NewRepoRecorder(auditRepo, logger)
	policies := fees.NewEngine(fees.DefaultPolicy())
	floats := ledger.NewFloatLedger(agentRepo, recorder, logger)
	machine := lifecycle.NewMachine(policies, floats, movementRepo, agentRepo,
		&lifecycle.LogSender{Logger: logger}, recorder, logger, lifecycle.Options{
			OtpTTL:         cfg.OtpTTL,
			OtpMaxAttempts: cfg.OtpMaxAttempts,
		})
	queue := offline.NewQueue(queueRepo, machine, logger, offline.Options{
		Interval:   cfg.ReplayInterval,
		MaxRetries: cfg.ReplayMaxRetries,
	})
	batcher := settlement.NewBatcher(movementRepo, settlementRepo, recorder, logger)
	workflow := approval.NewWorkflow(withdrawalRepo, policies, recorder, logger)

	// Initialise handlers
	agentHandler := handler.NewAgentHandler(agentRepo, floats, logger)
	movementHandler := handler.NewMovementHandler(machine, queue, logger)
	queueHandler := handler.NewQueueHandler(queue, logger)
	settlementHandler := handler.NewSettlementHandler(batcher, logger)
	withdrawalHandler := handler.NewWithdrawalHandler(workflow, logger)

	// Setup router
	router := mux.NewRouter()
	agentHandler.RegisterRoutes(router)
	movementHandler.RegisterRoutes(router)
	queueHandler.RegisterRoutes(router)
	settlementHandler.RegisterRoutes(router)
	withdrawalHandler.RegisterRoutes(router)

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)

	router.Use(loggingMiddleware(logger))

	// Start the offline replay loop
	replayCtx, stopReplay := context.WithCancel(context.Background())
	defer stopReplay()
	go queue.Run(replayCtx)

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a go routine
	go func() {
		logger.Info("starting server on port " + cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("failed to start server", "error", err.Error())
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server...")

	stopReplay()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err.Error())
	}

	logger.Info("server exited gracefully")
}

// connectDB establishes a connection to the Postgres database
func connectDB(cfg config.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(10 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, err
	}
	return db, nil
}

// loggingMiddleware logs incoming HTTP requests
func loggingMiddleware(logger *slog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			logger.Info("incoming request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", wrapped.statusCode,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
