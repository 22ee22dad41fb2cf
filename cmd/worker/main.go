package main

import (
	"context"
	"log"
	"time"

	"propvest/internal/engine/webhooks"
	"propvest/internal/pkg/logger"
	"propvest/internal/platform/config"
	"propvest/internal/platform/database"
	"propvest/internal/platform/repositories"
	"propvest/internal/workers"
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

	subRepo := repositories.NewSubscriptionRepository(db)
	deliveryRepo := repositories.NewDeliveryRepository(db)
	dispatcher := webhooks.NewDispatcher(subRepo, deliveryRepo, cfg.Webhooks)

	sweep := workers.NewRetrySweep(subRepo, dispatcher, cfg.Webhooks.DisableThreshold)

	log.Printf("Retry worker starting, sweep every %v", cfg.Webhooks.RetrySweepEvery)

	ticker := time.NewTicker(cfg.Webhooks.RetrySweepEvery)
	defer ticker.Stop()

	for range ticker.C {
		if err := sweep.Run(context.Background()); err != nil {
			log.Printf("Retry sweep failed: %v", err)
		}
	}
}
