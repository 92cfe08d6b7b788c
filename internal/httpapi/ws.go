package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cory-johannsen/gamehub/internal/session"
)

// Peers are game servers rather than browsers, so Origin is not checked.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// serveWS upgrades the request and runs a Session for the game server named
// in the path until the socket closes. The request context ends the session
// when the HTTP server shuts down.
func (a *api) serveWS(c *gin.Context) {
	origin := c.Param("server")
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// The upgrader has already replied with an HTTP error.
		a.logger.Warn("websocket upgrade failed",
			requestIDField(c),
			zap.String("origin", origin),
			zap.Error(err),
		)
		return
	}

	sess := session.New(conn, origin, a.deps.Hub, a.cfg.Session, a.logger.Named("session"))
	a.logger.Info("websocket upgraded",
		requestIDField(c),
		zap.String("origin", origin),
		zap.String("session", sess.ID()),
		zap.String("remote_addr", c.Request.RemoteAddr),
	)
	if err := sess.Serve(c.Request.Context()); err != nil {
		_ = c.Error(err)
	}
}
