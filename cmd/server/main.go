package main // Entry point package

import (
	"log"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"

	"github.com/faizol/loyalty-migration/internal/config"
	"github.com/faizol/loyalty-migration/internal/database"
	"github.com/faizol/loyalty-migration/internal/handler"
	"github.com/faizol/loyalty-migration/internal/queue"
	"github.com/faizol/loyalty-migration/internal/repository"
	"github.com/faizol/loyalty-migration/internal/router"
	"github.com/faizol/loyalty-migration/internal/runstate"
)

func main() {
	// .env is optional; real deployments inject the environment directly.
	_ = godotenv.Load()

	cfg := config.Load()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	// Redis is optional: without it the rate limiter disables itself
	// and run state falls back to in-process memory.
	rdb := config.NewRedisClient()
	if rdb == nil {
		log.Printf("redis unavailable, degrading to in-memory run state")
	}

	members := repository.NewMemberRepo(db)
	ledger := repository.NewLedgerRepo(db)
	runs := runstate.NewStore(rdb)

	imports := handler.NewImportHandler(cfg, members, ledger, runs)

	e := echo.New()
	e.HideBanner = true
	router.RegisterRoutes(e)
	router.RegisterImport(e, imports, cfg.JWTSecret, config.LoadRateLimitConfig(), rdb)

	// Audit consumer for migration.completed events; reconnects forever.
	go func() {
		if err := queue.StartMigrationConsumer(); err != nil {
			log.Printf("migration-consumer stopped: %v", err)
		}
	}()

	addr := ":" + cfg.Port
	log.Printf("listening on %s (env=%s)", addr, cfg.Env)

	if err := e.Start(addr); err != nil {
		log.Fatal(err)
	}
}
