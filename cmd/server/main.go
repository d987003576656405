package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/famledger/backend/internal/database"
	"github.com/famledger/backend/internal/handlers"
	mW "github.com/famledger/backend/internal/middleware"
	"github.com/famledger/backend/internal/services"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

func main() {
	// Initialize config
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.AutomaticEnv()        // allow environment variables to override .env

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("scheduler.interval", "SCHEDULER_INTERVAL")
	viper.BindEnv("advance.max_amount", "ADVANCE_MAX_AMOUNT")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	viper.SetDefault("scheduler.interval", 24*time.Hour)
	viper.SetDefault("advance.max_amount", "100")

	// Initialize storage
	db := database.MustConnect()
	defer db.Close()

	redisClient := database.ConnectRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	// Initialize the engine with explicit dependency wiring
	maxAdvance, err := decimal.NewFromString(viper.GetString("advance.max_amount"))
	if err != nil {
		log.Fatalf("Invalid advance.max_amount: %v", err)
	}

	events := services.NewEventPublisher(redisClient)
	ledgerService := services.NewLedgerService(db, events)
	reversalService := services.NewReversalService(db, ledgerService)
	allowanceService := services.NewAllowanceService(db, ledgerService, events,
		viper.GetDuration("scheduler.interval"))
	advanceService := services.NewAdvanceService(db, ledgerService, allowanceService, events, maxAdvance)

	ledgerHandler := handlers.NewLedgerHandler(ledgerService)
	reversalHandler := handlers.NewReversalHandler(reversalService)
	allowanceHandler := handlers.NewAllowanceHandler(allowanceService)
	advanceHandler := handlers.NewAdvanceHandler(advanceService)

	auth := mW.NewAuth(redisClient)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// API routes (all authenticated)
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(auth.Middleware)

		// Self-service endpoints
		r.Get("/accounts/{accountID}/balance", ledgerHandler.GetBalance)
		r.Get("/accounts/{accountID}/entries", ledgerHandler.ListEntries)
		r.Get("/accounts/{accountID}/allowance", allowanceHandler.GetCurrent)
		r.Get("/entries/{entryID}", ledgerHandler.GetEntry)
		r.Post("/advances", advanceHandler.Create)
		r.Get("/advances", advanceHandler.List)
		r.Post("/advances/{requestID}/cancel", advanceHandler.Cancel)

		// Reversal endpoints (admin or explicit reversal capability)
		r.Group(func(r chi.Router) {
			r.Use(mW.RequireReversalCapability)
			r.Post("/entries/{entryID}/reverse", reversalHandler.Reverse)
			r.Post("/entries/{entryID}/undo", reversalHandler.Undo)
		})

		// Admin endpoints
		r.Group(func(r chi.Router) {
			r.Use(mW.RequireAdmin)
			r.Post("/entries", ledgerHandler.PostEntry)
			r.Get("/reversals", reversalHandler.List)
			r.Put("/accounts/{accountID}/allowance", allowanceHandler.Upsert)
			r.Post("/advances/{requestID}/approve", advanceHandler.Approve)
			r.Post("/advances/{requestID}/reject", advanceHandler.Reject)
		})
	})

	// Allowance scheduler
	schedulerCtx, stopScheduler := context.WithCancel(context.Background())
	go allowanceService.Run(schedulerCtx)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Start server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	stopScheduler()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
