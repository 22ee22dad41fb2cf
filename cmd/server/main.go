package main

import (
	"fmt"
	"log"
	"net/http"

	"propvest/internal/api"
	"propvest/internal/api/handlers"
	"propvest/internal/api/middleware"
	"propvest/internal/engine/events"
	"propvest/internal/engine/webhooks"
	"propvest/internal/pkg/logger"
	"propvest/internal/platform/auth"
	"propvest/internal/platform/config"
	"propvest/internal/platform/database"
	"propvest/internal/platform/repositories"
	"propvest/internal/resilience"
)

func main() {
	cfg, err := config.Load("configs/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger.Init(cfg.Logging)

	db, err := database.New(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Repositories
	subRepo := repositories.NewSubscriptionRepository(db)
	deliveryRepo := repositories.NewDeliveryRepository(db)

	// Engine
	dispatcher := webhooks.NewDispatcher(subRepo, deliveryRepo, cfg.Webhooks)
	statsService := webhooks.NewStatsService(deliveryRepo)
	emitter := events.NewEmitter(dispatcher, cfg.Webhooks.Environment)

	// Breaker state lives in the service DB so it survives restarts.
	breaker, err := resilience.NewBreaker(resilience.NewSQLStore(db), cfg.Resilience.FailureThreshold, cfg.Resilience.Cooldown)
	if err != nil {
		log.Fatalf("Failed to load breaker state: %v", err)
	}

	// Services
	tokenSvc := auth.NewTokenService(cfg.JWT)

	// Handlers
	webhookHandler := handlers.NewWebhookHandler(subRepo, deliveryRepo, dispatcher, statsService)
	eventHandler := handlers.NewEventHandler(emitter, breaker)
	healthHandler := handlers.NewHealthHandler(db)
	metricsHandler := handlers.NewMetricsHandler(breaker)

	// Middleware
	authMiddleware := middleware.NewAuthMiddleware(tokenSvc, cfg.AdminKeys)

	deps := &api.Dependencies{
		WebhookHandler: webhookHandler,
		EventHandler:   eventHandler,
		HealthHandler:  healthHandler,
		MetricsHandler: metricsHandler,
		AuthMiddleware: authMiddleware,
	}
	router := api.NewRouter(deps)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Printf("Server starting on %s", addr)

	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	if err := srv.ListenAndServe(); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
