// Package httpapi exposes the hub, the ledger, and blob storage over HTTP and
// upgrades game-server WebSocket connections into sessions.
package httpapi

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/cory-johannsen/gamehub/internal/config"
	"github.com/cory-johannsen/gamehub/internal/hub"
	"github.com/cory-johannsen/gamehub/internal/ledger"
	"github.com/cory-johannsen/gamehub/internal/session"
	"github.com/cory-johannsen/gamehub/internal/storage/blob"
)

// Hub is the subset of *hub.Hub the HTTP surface drives.
type Hub interface {
	session.Broker
	BroadcastMessage(text string) error
	PlayerJoin(rec hub.PresenceRecord) error
	PlayerLeft(rec hub.PresenceRecord) error
	PlayersGet(ctx context.Context) ([]string, error)
	PlayerOnline(ctx context.Context, name string) (bool, error)
	Stats(ctx context.Context) (hub.Stats, error)
}

// Deps are the collaborators the router dispatches to.
type Deps struct {
	Hub   Hub
	Blobs *blob.Store
	// Ledger is nil when the ledger is disabled; /api/money is then not mounted.
	Ledger *ledger.Service
	// Gatherer backs /metrics; nil disables the endpoint.
	Gatherer prometheus.Gatherer
	// DBHealth reports database reachability; nil when no database is configured.
	DBHealth func(ctx context.Context) error
}

type api struct {
	deps   Deps
	cfg    config.Config
	logger *zap.Logger
}

// NewRouter builds the gin engine serving every HTTP route.
//
// Precondition: deps.Hub and deps.Blobs must be non-nil; cfg must be valid.
// Postcondition: Returns an engine whose token-protected routes reject a wrong
// or missing token with 401 before touching any collaborator.
func NewRouter(cfg config.Config, deps Deps, logger *zap.Logger) *gin.Engine {
	gin.SetMode(cfg.HTTP.Mode)

	a := &api{
		deps:   deps,
		cfg:    cfg,
		logger: logger,
	}

	r := gin.New()
	r.Use(RequestID())
	r.Use(AccessLog(logger.Named("access")))
	r.Use(Recovery(logger))

	r.GET("/healthz", a.health)
	if deps.Gatherer != nil && cfg.Metrics.Enabled {
		r.GET(cfg.Metrics.Path, gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	auth := RequireToken(cfg.Auth.Token)

	pe := r.Group("/api/pe")
	pe.GET("/player/online/:player", a.playerOnline)
	{
		authed := pe.Group("", auth)
		authed.POST("/player/join", a.playerJoin)
		authed.POST("/player/left", a.playerLeft)
		authed.GET("/player/list", a.playerList)
		authed.POST("/player/chat", a.chat)

		authed.POST("/player/nbt/:id", a.putBlob(blob.KindPlayer))
		authed.GET("/player/nbt/:id", a.getBlob(blob.KindPlayer))
		authed.DELETE("/player/nbt/:id", a.deleteBlob(blob.KindPlayer))
		authed.POST("/world/:id", a.putBlob(blob.KindWorld))
		authed.GET("/world/:id", a.getBlob(blob.KindWorld))
		authed.DELETE("/world/:id", a.deleteBlob(blob.KindWorld))

		authed.GET("/ws/:server", a.serveWS)
	}

	if deps.Ledger != nil {
		money := r.Group("/api/money")
		money.GET("/currencies/:name", a.currencyExists)
		{
			authed := money.Group("", auth)
			authed.POST("/currencies", a.createCurrency)
			authed.GET("/currencies", a.listCurrencies)
			authed.PUT("/currencies/:name", a.renameCurrency)
			authed.DELETE("/currencies/:name", a.deleteCurrency)

			authed.POST("/balances", a.openAccount)
			authed.GET("/balances/:player/:currency", a.balance)
			authed.PUT("/balances", a.setBalance)
			authed.POST("/balances/deposit", a.deposit)
			authed.POST("/balances/withdraw", a.withdraw)
			authed.POST("/balances/transfer", a.transfer)
		}
	}

	logger.Info("router configured",
		zap.Bool("ledger", deps.Ledger != nil),
		zap.Bool("metrics", deps.Gatherer != nil && cfg.Metrics.Enabled),
	)
	return r
}
