// Package session bridges one game-server WebSocket connection to the broadcast hub.
//
// A Session registers an outbox with the hub, forwards inbound text frames as
// client messages, writes every outbox message back as a text frame, and on
// termination removes the origin's players and deregisters itself exactly once.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/cory-johannsen/gamehub/internal/config"
	"github.com/cory-johannsen/gamehub/internal/hub"
)

// ErrProtocolViolation is returned when the peer sends a frame type the protocol forbids.
var ErrProtocolViolation = errors.New("protocol violation")

// Broker is the part of the hub a session talks to.
type Broker interface {
	Connect(ctx context.Context, origin string, outbox *hub.Outbox) (hub.ConnID, error)
	Disconnect(id hub.ConnID) error
	ClientMessage(id hub.ConnID, text string) error
	PlayersRemoveByServer(origin string) error
	OutboxSize() int
}

// Session serves a single upgraded WebSocket connection.
type Session struct {
	id      string
	origin  string
	conn    *websocket.Conn
	broker  Broker
	cfg     config.SessionConfig
	logger  *zap.Logger
	limiter *rate.Limiter

	connID    hub.ConnID
	quit      chan struct{}
	closeOnce sync.Once
}

// New creates a Session for conn on behalf of the game server named origin.
//
// Precondition: conn must be an upgraded connection; broker and logger must be non-nil.
// Postcondition: Returns a Session ready for Serve.
func New(conn *websocket.Conn, origin string, broker Broker, cfg config.SessionConfig, logger *zap.Logger) *Session {
	id := uuid.NewString()
	return &Session{
		id:      id,
		origin:  origin,
		conn:    conn,
		broker:  broker,
		cfg:     cfg,
		logger:  logger.With(zap.String("session", id), zap.String("origin", origin)),
		limiter: rate.NewLimiter(rate.Limit(cfg.MessageRate), cfg.MessageBurst),
		quit:    make(chan struct{}),
	}
}

// ID returns the session's trace id.
func (s *Session) ID() string {
	return s.id
}

// Serve runs the session until the peer goes away, the hub drops the
// connection, a protocol violation occurs, or ctx is cancelled.
//
// Postcondition: The socket is closed. If registration succeeded,
// PlayersRemoveByServer(origin) and Disconnect(id) have been issued, in that order.
// Returns nil on a normal close.
func (s *Session) Serve(ctx context.Context) error {
	start := time.Now()

	outbox := hub.NewOutbox(s.id, s.broker.OutboxSize())
	connectCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	id, err := s.broker.Connect(connectCtx, s.origin, outbox)
	cancel()
	if err != nil {
		s.closeSocket(websocket.CloseTryAgainLater, "hub unavailable")
		s.logger.Warn("session registration failed", zap.Error(err))
		return fmt.Errorf("registering session: %w", err)
	}
	s.connID = id
	s.logger = s.logger.With(zap.Uint64("conn_id", uint64(id)))
	s.logger.Info("session started")

	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		s.writePump(outbox)
	}()
	go func() {
		select {
		case <-ctx.Done():
			s.closeSocket(websocket.CloseGoingAway, "server shutting down")
		case <-s.quit:
		}
	}()

	readErr := s.readLoop()
	s.terminate(readErr)
	<-pumpDone

	if isNormalClose(readErr) || ctx.Err() != nil {
		s.logger.Info("session ended cleanly", zap.Duration("duration", time.Since(start)))
		return nil
	}
	s.logger.Info("session ended",
		zap.Error(readErr),
		zap.Duration("duration", time.Since(start)),
	)
	return readErr
}

func (s *Session) readLoop() error {
	s.conn.SetReadLimit(s.cfg.ReadLimit)
	_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	})

	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			return err
		}
		if msgType != websocket.TextMessage {
			return fmt.Errorf("%w: unexpected frame type %d", ErrProtocolViolation, msgType)
		}
		if err := s.handleText(string(data)); err != nil {
			return err
		}
	}
}

func (s *Session) handleText(raw string) error {
	text := strings.TrimSpace(raw)
	if text == "" {
		return nil
	}
	if !s.limiter.Allow() {
		s.logger.Warn("rate limit exceeded, dropping message",
			zap.Float64("rate", s.cfg.MessageRate),
			zap.Int("burst", s.cfg.MessageBurst),
		)
		return nil
	}

	err := s.broker.ClientMessage(s.connID, text)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, hub.ErrHubBusy):
		s.logger.Warn("hub busy, dropping message", zap.Error(err))
		return nil
	default:
		return fmt.Errorf("forwarding message: %w", err)
	}
}

// writePump is the only goroutine that writes data frames.
func (s *Session) writePump(outbox *hub.Outbox) {
	ticker := time.NewTicker(s.cfg.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-outbox.Messages():
			if !ok {
				s.closeSocket(websocket.CloseGoingAway, "disconnected by hub")
				return
			}
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				s.logger.Debug("write failed", zap.Error(err))
				_ = s.conn.Close()
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(s.cfg.WriteTimeout)
			if err := s.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				s.logger.Debug("ping failed", zap.Error(err))
				_ = s.conn.Close()
				return
			}
		case <-s.quit:
			return
		}
	}
}

// terminate releases hub state for this session. Runs once.
func (s *Session) terminate(reason error) {
	s.closeOnce.Do(func() {
		close(s.quit)

		if err := s.broker.PlayersRemoveByServer(s.origin); err != nil {
			s.logger.Warn("removing players on close", zap.Error(err))
		}
		if err := s.broker.Disconnect(s.connID); err != nil {
			s.logger.Warn("deregistering connection", zap.Error(err))
		}

		code, text := websocket.CloseNormalClosure, ""
		if errors.Is(reason, ErrProtocolViolation) {
			code, text = websocket.CloseUnsupportedData, "binary frames are not supported"
		}
		s.closeSocket(code, text)
	})
}

// closeSocket sends a best-effort close frame and closes the connection.
// WriteControl and Close are safe to call concurrently with the write pump.
func (s *Session) closeSocket(code int, text string) {
	deadline := time.Now().Add(s.cfg.WriteTimeout)
	_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), deadline)
	_ = s.conn.Close()
}

func isNormalClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived)
}
