package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cory-johannsen/gamehub/internal/hub"
)

type playerRequest struct {
	Name   string `json:"name"`
	Server string `json:"server"`
	Data   string `json:"data,omitempty"`
}

func (p playerRequest) valid() bool {
	return strings.TrimSpace(p.Name) != "" && strings.TrimSpace(p.Server) != ""
}

// chatMessage is relayed verbatim, JSON-encoded, to every connected game server.
type chatMessage struct {
	Name   string `json:"name,omitempty"`
	Server string `json:"server"`
	Text   string `json:"text"`
}

func (a *api) playerJoin(c *gin.Context) {
	var req playerRequest
	if err := c.ShouldBindJSON(&req); err != nil || !req.valid() {
		fail(c, http.StatusBadRequest, "name and server are required")
		return
	}
	if err := a.deps.Hub.PlayerJoin(hub.PresenceRecord{Player: req.Name, Origin: req.Server, Data: req.Data}); err != nil {
		a.failErr(c, "player join", err)
		return
	}
	success(c, "player joined")
}

func (a *api) playerLeft(c *gin.Context) {
	var req playerRequest
	if err := c.ShouldBindJSON(&req); err != nil || !req.valid() {
		fail(c, http.StatusBadRequest, "name and server are required")
		return
	}
	if err := a.deps.Hub.PlayerLeft(hub.PresenceRecord{Player: req.Name, Origin: req.Server}); err != nil {
		a.failErr(c, "player left", err)
		return
	}
	success(c, "player left")
}

func (a *api) playerList(c *gin.Context) {
	names, err := a.deps.Hub.PlayersGet(c.Request.Context())
	if err != nil {
		a.failErr(c, "player list", err)
		return
	}
	c.JSON(http.StatusOK, names)
}

func (a *api) playerOnline(c *gin.Context) {
	ok, err := a.deps.Hub.PlayerOnline(c.Request.Context(), c.Param("player"))
	if err != nil {
		a.failErr(c, "player online", err)
		return
	}
	if !ok {
		fail(c, http.StatusNotFound, "player offline")
		return
	}
	success(c, "player online")
}

func (a *api) chat(c *gin.Context) {
	var msg chatMessage
	if err := c.ShouldBindJSON(&msg); err != nil || msg.Text == "" || strings.TrimSpace(msg.Server) == "" {
		fail(c, http.StatusBadRequest, "text and server are required")
		return
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		a.failErr(c, "chat encode", err)
		return
	}
	if err := a.deps.Hub.BroadcastMessage(string(payload)); err != nil {
		a.failErr(c, "chat", err)
		return
	}
	a.logger.Debug("chat relayed", requestIDField(c), zap.String("server", msg.Server))
	success(c, "message sent")
}
