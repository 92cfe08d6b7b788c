// Package hub implements the broadcast hub: a single event loop that owns the
// connection registry and the presence store and fans chat text out to every
// registered connection.
package hub

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/gamehub/internal/config"
	"github.com/cory-johannsen/gamehub/internal/observability"
)

// Option configures a Hub.
type Option func(*Hub)

// WithMetrics records hub activity on m.
func WithMetrics(m *observability.HubMetrics) Option {
	return func(h *Hub) { h.metrics = m }
}

// WithDeliveryObserver calls fn from the event loop after every fan-out.
// fn must not call back into the Hub.
func WithDeliveryObserver(fn func(Delivery)) Option {
	return func(h *Hub) { h.onDelivery = fn }
}

// Hub serialises every registry and presence mutation through one goroutine.
type Hub struct {
	cfg        config.HubConfig
	logger     *zap.Logger
	metrics    *observability.HubMetrics
	onDelivery func(Delivery)

	mailbox  chan event
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	started  atomic.Bool

	// Owned by the Run goroutine.
	registry *Registry
	presence *PresenceStore
}

// New creates a Hub. Call Run to start processing events.
//
// Precondition: cfg.QueueDepth >= 1 and cfg.EnqueueTimeout > 0; logger must be non-nil.
// Postcondition: Returns a Hub with an empty registry and presence store.
func New(cfg config.HubConfig, logger *zap.Logger, opts ...Option) *Hub {
	h := &Hub{
		cfg:      cfg,
		logger:   logger,
		mailbox:  make(chan event, cfg.QueueDepth),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		registry: NewRegistry(),
		presence: NewPresenceStore(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// OutboxSize returns the configured per-connection outbox size.
func (h *Hub) OutboxSize() int {
	return h.cfg.OutboxSize
}

// Run processes events until ctx is cancelled or Stop is called.
//
// Precondition: Run must be called at most once.
// Postcondition: Every registered outbox is closed and later calls fail with ErrHubUnavailable.
func (h *Hub) Run(ctx context.Context) error {
	if !h.started.CompareAndSwap(false, true) {
		return errors.New("hub already running")
	}
	start := time.Now()
	h.logger.Info("hub started", zap.Int("queue_depth", h.cfg.QueueDepth))
	defer h.shutdown(start)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-h.stop:
			return nil
		case ev := <-h.mailbox:
			h.handle(ev)
		}
	}
}

// Stop asks Run to exit and waits for it when it is running. Safe to call more than once.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
	if h.started.Load() {
		<-h.done
	}
}

// Done is closed once Run has exited.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

func (h *Hub) shutdown(start time.Time) {
	outboxes := h.registry.Drain()
	for _, ob := range outboxes {
		ob.Close()
	}
	h.metrics.SetConnections(0)
	h.logger.Info("hub stopped",
		zap.Int("closed_connections", len(outboxes)),
		zap.Int("players", h.presence.Len()),
		zap.Duration("uptime", time.Since(start)),
	)
	close(h.done)
}

// Connect registers outbox and returns its new id.
//
// Precondition: outbox must be non-nil and open.
// Postcondition: The connection receives every broadcast processed after this one,
// or an error is returned and nothing is registered.
func (h *Hub) Connect(ctx context.Context, origin string, outbox *Outbox) (ConnID, error) {
	reply := make(chan ConnID, 1)
	if err := h.enqueue(ctx, event{kind: evConnect, origin: origin, outbox: outbox, connReply: reply}); err != nil {
		return 0, err
	}
	select {
	case id := <-reply:
		return id, nil
	case <-h.done:
		return 0, ErrHubUnavailable
	case <-ctx.Done():
		go h.abandonConnect(reply)
		return 0, ctx.Err()
	}
}

// abandonConnect deregisters a connection whose caller gave up before the reply arrived.
func (h *Hub) abandonConnect(reply <-chan ConnID) {
	select {
	case id := <-reply:
		_ = h.Disconnect(id)
	case <-h.done:
	}
}

// Disconnect deregisters id and closes its outbox. Unknown ids are ignored.
func (h *Hub) Disconnect(id ConnID) error {
	return h.enqueue(context.Background(), event{kind: evDisconnect, id: id})
}

// ClientMessage fans text from connection id out to every registered connection,
// the sender included.
func (h *Hub) ClientMessage(id ConnID, text string) error {
	return h.enqueue(context.Background(), event{kind: evClientMessage, id: id, text: text})
}

// BroadcastMessage fans text out to every registered connection.
func (h *Hub) BroadcastMessage(text string) error {
	return h.enqueue(context.Background(), event{kind: evBroadcast, text: text})
}

// PlayerJoin upserts rec into the presence store.
func (h *Hub) PlayerJoin(rec PresenceRecord) error {
	return h.enqueue(context.Background(), event{kind: evPlayerJoin, record: rec})
}

// PlayerLeft removes the presence record for rec.Player.
func (h *Hub) PlayerLeft(rec PresenceRecord) error {
	return h.enqueue(context.Background(), event{kind: evPlayerLeft, record: rec})
}

// PlayersRemoveByServer removes every presence record whose origin is origin.
func (h *Hub) PlayersRemoveByServer(origin string) error {
	return h.enqueue(context.Background(), event{kind: evRemoveByServer, origin: origin})
}

// PlayersGet returns a sorted snapshot of online player names.
func (h *Hub) PlayersGet(ctx context.Context) ([]string, error) {
	reply := make(chan []string, 1)
	if err := h.enqueue(ctx, event{kind: evPlayersGet, namesReply: reply}); err != nil {
		return nil, err
	}
	select {
	case names := <-reply:
		return names, nil
	case <-h.done:
		return nil, ErrHubUnavailable
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// PlayerOnline reports whether name has a presence record.
func (h *Hub) PlayerOnline(ctx context.Context, name string) (bool, error) {
	reply := make(chan bool, 1)
	if err := h.enqueue(ctx, event{kind: evPlayerOnline, record: PresenceRecord{Player: name}, boolReply: reply}); err != nil {
		return false, err
	}
	select {
	case ok := <-reply:
		return ok, nil
	case <-h.done:
		return false, ErrHubUnavailable
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Stats returns the current connection and player counts.
func (h *Hub) Stats(ctx context.Context) (Stats, error) {
	reply := make(chan Stats, 1)
	if err := h.enqueue(ctx, event{kind: evStats, statsReply: reply}); err != nil {
		return Stats{}, err
	}
	select {
	case s := <-reply:
		return s, nil
	case <-h.done:
		return Stats{}, ErrHubUnavailable
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}
}

// enqueue blocks for at most cfg.EnqueueTimeout waiting for mailbox space, or
// until ctx ends, whichever comes first.
func (h *Hub) enqueue(ctx context.Context, ev event) error {
	select {
	case <-h.done:
		h.metrics.EnqueueFailed(observability.EnqueueStopped)
		return ErrHubUnavailable
	default:
	}

	select {
	case h.mailbox <- ev:
		return nil
	default:
	}

	timer := time.NewTimer(h.cfg.EnqueueTimeout)
	defer timer.Stop()
	select {
	case h.mailbox <- ev:
		return nil
	case <-h.done:
		h.metrics.EnqueueFailed(observability.EnqueueStopped)
		return ErrHubUnavailable
	case <-ctx.Done():
		h.metrics.EnqueueFailed(observability.EnqueueCanceled)
		return ctx.Err()
	case <-timer.C:
		h.metrics.EnqueueFailed(observability.EnqueueTimeout)
		h.logger.Warn("hub mailbox full",
			zap.Stringer("event", ev.kind),
			zap.Duration("waited", h.cfg.EnqueueTimeout),
		)
		return ErrHubBusy
	}
}

func (h *Hub) handle(ev event) {
	h.metrics.EventProcessed(ev.kind.String())

	switch ev.kind {
	case evConnect:
		id := h.registry.Register(ev.origin, ev.outbox)
		ev.connReply <- id
		h.metrics.SetConnections(h.registry.Len())
		h.logger.Debug("connection registered",
			zap.Uint64("conn_id", uint64(id)),
			zap.String("origin", ev.origin),
			zap.Int("connections", h.registry.Len()),
		)

	case evDisconnect:
		origin, _ := h.registry.Origin(ev.id)
		outbox, ok := h.registry.Deregister(ev.id)
		if !ok {
			return
		}
		outbox.Close()
		h.metrics.SetConnections(h.registry.Len())
		h.logger.Debug("connection deregistered",
			zap.Uint64("conn_id", uint64(ev.id)),
			zap.String("origin", origin),
			zap.Int("connections", h.registry.Len()),
		)

	case evClientMessage:
		// Unknown senders are still relayed; their origin is logged empty.
		origin, _ := h.registry.Origin(ev.id)
		h.fanOut(ev.text, zap.Uint64("sender", uint64(ev.id)), zap.String("sender_origin", origin))

	case evBroadcast:
		h.fanOut(ev.text, zap.String("sender", "http"))

	case evPlayerJoin:
		prev, moved := h.presence.Get(ev.record.Player)
		h.presence.Join(ev.record)
		h.metrics.SetPlayers(h.presence.Len())
		fields := []zap.Field{
			zap.String("player", ev.record.Player),
			zap.String("origin", ev.record.Origin),
			zap.Int("data_bytes", len(ev.record.Data)),
		}
		if moved && prev.Origin != ev.record.Origin {
			fields = append(fields, zap.String("previous_origin", prev.Origin))
		}
		h.logger.Debug("player joined", fields...)

	case evPlayerLeft:
		if h.presence.Leave(ev.record.Player) {
			h.metrics.SetPlayers(h.presence.Len())
			h.logger.Debug("player left", zap.String("player", ev.record.Player))
		}

	case evRemoveByServer:
		removed := h.presence.RemoveByOrigin(ev.origin)
		h.metrics.SetPlayers(h.presence.Len())
		if removed > 0 {
			h.logger.Info("players removed for server",
				zap.String("origin", ev.origin),
				zap.Int("removed", removed),
			)
		}

	case evPlayersGet:
		ev.namesReply <- h.presence.Names()

	case evPlayerOnline:
		ev.boolReply <- h.presence.Online(ev.record.Player)

	case evStats:
		ev.statsReply <- Stats{Connections: h.registry.Len(), Players: h.presence.Len()}
	}
}

// fanOut pushes text to every registered outbox. A failed push is logged and
// counted; it never stops delivery to the remaining connections.
func (h *Hub) fanOut(text string, sender ...zap.Field) Delivery {
	var d Delivery
	h.registry.Each(func(id ConnID, origin string, outbox *Outbox) {
		d.Attempted++
		if err := outbox.Push(text); err != nil {
			d.Failed++
			h.logger.Warn("delivery failed", append([]zap.Field{
				zap.Uint64("conn_id", uint64(id)),
				zap.String("origin", origin),
				zap.Error(err),
			}, sender...)...)
			return
		}
		d.Delivered++
	})

	h.metrics.Delivered(d.Delivered, d.Failed)
	h.logger.Debug("broadcast delivered", append([]zap.Field{
		zap.Int("bytes", len(text)),
		zap.Int("attempted", d.Attempted),
		zap.Int("delivered", d.Delivered),
		zap.Int("failed", d.Failed),
	}, sender...)...)
	if h.onDelivery != nil {
		h.onDelivery(d)
	}
	return d
}
