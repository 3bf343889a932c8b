package main

import (
	"flag"
	"log"

	"RampEngine/internal/config"
	"RampEngine/internal/db"
	"RampEngine/internal/logging"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	down := flag.Int("down", 0, "roll back this many migrations instead of migrating up")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := db.Migrate(cfg.DB.DSN, -*down, logger); err != nil {
		logger.Fatal("migrate failed", zap.Error(err))
	}
}
