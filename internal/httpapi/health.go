package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const healthTimeout = 2 * time.Second

// HealthReport is the /healthz body.
type HealthReport struct {
	Status      string `json:"status"`
	Connections int    `json:"connections"`
	Players     int    `json:"players"`
	Database    string `json:"database,omitempty"`
}

// health reports 200 while the hub answers and the database, if any, pings.
func (a *api) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	report := HealthReport{Status: "ok"}
	status := http.StatusOK

	stats, err := a.deps.Hub.Stats(ctx)
	if err != nil {
		report.Status = "hub unavailable"
		status = http.StatusServiceUnavailable
	} else {
		report.Connections = stats.Connections
		report.Players = stats.Players
	}

	if a.deps.DBHealth != nil {
		report.Database = "ok"
		if err := a.deps.DBHealth(ctx); err != nil {
			report.Database = "unreachable"
			report.Status = "degraded"
			status = http.StatusServiceUnavailable
		}
	}

	c.JSON(status, report)
}
