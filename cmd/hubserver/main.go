// Package main runs the game hub: the broadcast hub, the HTTP API, the
// game-server WebSocket endpoint, and optionally the currency ledger.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/cory-johannsen/gamehub/internal/config"
	"github.com/cory-johannsen/gamehub/internal/httpapi"
	"github.com/cory-johannsen/gamehub/internal/hub"
	"github.com/cory-johannsen/gamehub/internal/ledger"
	"github.com/cory-johannsen/gamehub/internal/observability"
	"github.com/cory-johannsen/gamehub/internal/server"
	"github.com/cory-johannsen/gamehub/internal/storage/blob"
	"github.com/cory-johannsen/gamehub/internal/storage/postgres"
)

const (
	dbHealthInterval = 30 * time.Second
	dbHealthTimeout  = 5 * time.Second
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/gamehub.yaml", "path to configuration file; created with a fresh token if missing")
	flag.Parse()

	ctx := context.Background()

	cfg, created, err := config.LoadOrInit(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	restoreStdLog, err := observability.RedirectStdLog(logger)
	if err != nil {
		logger.Fatal("redirecting std log", zap.Error(err))
	}
	defer restoreStdLog()

	if created {
		logger.Warn("no config found, wrote defaults with a generated auth token",
			zap.String("path", *configPath),
		)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := observability.NewHubMetrics(reg)
	if err != nil {
		logger.Fatal("registering metrics", zap.Error(err))
	}

	h := hub.New(cfg.Hub, logger.Named("hub"), hub.WithMetrics(metrics))

	blobs, err := blob.NewStore(afero.NewOsFs(), cfg.Storage.BlobDir, cfg.Storage.MaxUploadBytes, logger)
	if err != nil {
		logger.Fatal("opening blob store", zap.Error(err))
	}

	deps := httpapi.Deps{Hub: h, Blobs: blobs, Gatherer: reg}

	var pool *postgres.Pool
	if cfg.Ledger.Enabled {
		var store ledger.Store
		if cfg.Ledger.UsesDatabase() {
			if cfg.Database.AutoMigrate {
				res, err := postgres.Migrate(cfg.Database.DSN(), "up", 0)
				if err != nil {
					logger.Fatal("migrating ledger schema", zap.Error(err))
				}
				logger.Info("ledger schema ready",
					zap.Uint("version", res.Version),
					zap.Bool("changed", res.Changed),
				)
			}
			pool, err = postgres.NewPool(ctx, cfg.Database, logger.Named("postgres"))
			if err != nil {
				logger.Fatal("connecting to database", zap.Error(err))
			}
			store = postgres.NewLedgerRepository(pool.DB())
			deps.DBHealth = func(ctx context.Context) error {
				return pool.Health(ctx, dbHealthTimeout)
			}
		} else {
			store = ledger.NewMemoryStore()
		}

		svc := ledger.NewService(store, cfg.Ledger.DebtLimit)
		if name := cfg.Ledger.DefaultCurrency; name != "" {
			made, err := svc.EnsureCurrency(ctx, ledger.Currency{Name: name, Key: cfg.Auth.Token})
			if err != nil {
				logger.Fatal("creating default currency", zap.String("currency", name), zap.Error(err))
			}
			logger.Info("default currency ready", zap.String("currency", name), zap.Bool("created", made))
		}
		deps.Ledger = svc
		logger.Info("ledger enabled",
			zap.String("backend", cfg.Ledger.Backend),
			zap.Int64("debt_limit", cfg.Ledger.DebtLimit),
		)
	}

	router := httpapi.NewRouter(cfg, deps, logger.Named("http"))

	// Wire lifecycle. Added first, the hub stops last, after every session
	// has deregistered.
	lifecycle := server.NewLifecycle(logger,
		server.WithStopTimeout(cfg.HTTP.ShutdownTimeout+cfg.Session.WriteTimeout),
	)

	lifecycle.Add("hub", &server.FuncService{
		StartFn: func() error { return h.Run(ctx) },
		StopFn:  h.Stop,
	})

	if pool != nil {
		quit := make(chan struct{})
		lifecycle.Add("postgres", &server.FuncService{
			StartFn: func() error {
				ticker := time.NewTicker(dbHealthInterval)
				defer ticker.Stop()
				for {
					select {
					case <-quit:
						return nil
					case <-ticker.C:
						if err := pool.Health(ctx, dbHealthTimeout); err != nil {
							logger.Warn("database health check failed", zap.Error(err))
							continue
						}
						pool.LogStats()
					}
				}
			},
			StopFn: func() {
				close(quit)
				pool.Close()
			},
		})
	}

	v4 := httpapi.NewServer(cfg.HTTP.Addr(), router, cfg.HTTP, logger.Named("http-ipv4"))
	lifecycle.Add("http-ipv4", &server.FuncService{
		StartFn: v4.ListenAndServe,
		StopFn:  v4.Stop,
	})

	if addr := cfg.HTTP.IPv6Addr(); addr != "" {
		v6 := httpapi.NewServer(addr, router, cfg.HTTP, logger.Named("http-ipv6"))
		lifecycle.Add("http-ipv6", &server.FuncService{
			StartFn: v6.ListenAndServe,
			StopFn:  v6.Stop,
		})
	}

	logger.Info("gamehub initialized",
		zap.Duration("startup", time.Since(start)),
		zap.String("http_addr", cfg.HTTP.Addr()),
		zap.String("http_ipv6_addr", cfg.HTTP.IPv6Addr()),
		zap.Bool("ledger", cfg.Ledger.Enabled),
	)

	if err := lifecycle.Run(ctx); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}
