// Package main applies the ledger schema migrations embedded in the binary.
package main

import (
	"flag"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/gamehub/internal/config"
	"github.com/cory-johannsen/gamehub/internal/observability"
	"github.com/cory-johannsen/gamehub/internal/storage/postgres"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/gamehub.yaml", "path to configuration file")
	direction := flag.String("direction", "up", "migration direction: up or down")
	steps := flag.Int("steps", 0, "number of steps (0 = all)")
	flag.Parse()

	logger, err := observability.NewLogger(config.LoggingConfig{Level: "info", Format: "console"})
	if err != nil {
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	// Only the database section matters here, so the full Validate is skipped;
	// a migration must not require an auth token.
	dbCfg, err := config.LoadDatabase(*configPath)
	if err != nil {
		logger.Fatal("loading database config", zap.Error(err))
	}

	res, err := postgres.Migrate(dbCfg.DSN(), *direction, *steps)
	if err != nil {
		logger.Fatal("migration failed", zap.String("direction", *direction), zap.Error(err))
	}

	if !res.Changed {
		logger.Info("no changes",
			zap.Uint("version", res.Version),
			zap.Bool("dirty", res.Dirty),
			zap.Duration("elapsed", time.Since(start)),
		)
		return
	}
	logger.Info("migrated",
		zap.String("direction", *direction),
		zap.Uint("version", res.Version),
		zap.Bool("dirty", res.Dirty),
		zap.Duration("elapsed", time.Since(start)),
	)
}
