package main

import (
	"database/sql"
	"flag"
	"log"

	"propvest/internal/platform/config"
	"propvest/internal/platform/database"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS subscriptions (
		id TEXT PRIMARY KEY,
		owner_id TEXT,
		url TEXT NOT NULL,
		events TEXT NOT NULL,
		secret TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		failure_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		last_triggered_at INTEGER,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS deliveries (
		id TEXT PRIMARY KEY,
		subscription_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		payload TEXT NOT NULL,
		response_status INTEGER,
		response_body TEXT,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		success INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		delivered_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_deliveries_subscription ON deliveries (subscription_id, delivered_at)`,
	`CREATE INDEX IF NOT EXISTS idx_deliveries_delivered_at ON deliveries (delivered_at)`,
	`CREATE TABLE IF NOT EXISTS breaker_state (
		key TEXT PRIMARY KEY,
		state TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
}

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := database.New(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := migrate(db); err != nil {
		log.Fatal(err)
	}

	log.Println("Migrations applied")
}

func migrate(db *sql.DB) error {
	for _, stmt := range migrations {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
