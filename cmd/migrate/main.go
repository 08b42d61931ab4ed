package main

import (
	"go.uber.org/zap"

	"jcm-p2p-backend/internal/config"
	"jcm-p2p-backend/internal/logger"
	"jcm-p2p-backend/internal/store"
)

// Applies pending schema migrations and exits; run once per deployment.
func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.ServiceName+"-migrate", cfg.Env)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	db, err := store.Open(cfg.DB, log)
	if err != nil {
		log.Fatal("database connect", zap.Error(err))
	}
	defer store.Close(db)

	applied, err := store.Migrate(db, log)
	if err != nil {
		log.Fatal("migrate", zap.Error(err))
	}
	if len(applied) == 0 {
		log.Info("schema already up to date")
		return
	}
	log.Info("migrations applied", zap.Strings("versions", applied))
}
