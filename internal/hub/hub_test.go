package hub

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/gamehub/internal/config"
	"github.com/cory-johannsen/gamehub/internal/observability"
)

func testHubConfig() config.HubConfig {
	return config.HubConfig{QueueDepth: 64, EnqueueTimeout: time.Second, OutboxSize: 16}
}

func startHub(t testing.TB, logger *zap.Logger, opts ...Option) *Hub {
	t.Helper()
	h := New(testHubConfig(), logger, opts...)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = h.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-h.Done()
	})
	return h
}

func recv(t *testing.T, ob *Outbox) string {
	t.Helper()
	select {
	case msg, ok := <-ob.Messages():
		require.True(t, ok, "outbox closed")
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return ""
	}
}

func assertEmpty(t *testing.T, ob *Outbox) {
	t.Helper()
	assert.Equal(t, 0, ob.Len())
}

// barrier waits until every event enqueued so far has been processed.
func barrier(t *testing.T, h *Hub) Stats {
	t.Helper()
	s, err := h.Stats(context.Background())
	require.NoError(t, err)
	return s
}

func TestConnectAssignsIncreasingIDs(t *testing.T) {
	h := startHub(t, zaptest.NewLogger(t))
	ctx := context.Background()

	id1, err := h.Connect(ctx, "srv1", NewOutbox("1", 4))
	require.NoError(t, err)
	id2, err := h.Connect(ctx, "srv1", NewOutbox("2", 4))
	require.NoError(t, err)
	assert.Less(t, id1, id2)

	require.NoError(t, h.Disconnect(id2))
	id3, err := h.Connect(ctx, "srv1", NewOutbox("3", 4))
	require.NoError(t, err)
	assert.Less(t, id2, id3, "ids must not be reused")
}

func TestScenarioChatFanOutIncludesSender(t *testing.T) {
	h := startHub(t, zaptest.NewLogger(t))
	ctx := context.Background()

	ob1, ob2 := NewOutbox("1", 4), NewOutbox("2", 4)
	id1, err := h.Connect(ctx, "srv1", ob1)
	require.NoError(t, err)
	id2, err := h.Connect(ctx, "srv2", ob2)
	require.NoError(t, err)

	require.NoError(t, h.ClientMessage(id1, "hi"))
	assert.Equal(t, "hi", recv(t, ob1))
	assert.Equal(t, "hi", recv(t, ob2))

	require.NoError(t, h.Disconnect(id1))
	require.NoError(t, h.ClientMessage(id2, "solo"))
	assert.Equal(t, "solo", recv(t, ob2))

	_, ok := <-ob1.Messages()
	assert.False(t, ok, "disconnected outbox must be closed")
}

func TestBroadcastMessageReachesAll(t *testing.T) {
	h := startHub(t, zaptest.NewLogger(t))
	ctx := context.Background()

	outboxes := make([]*Outbox, 5)
	for i := range outboxes {
		outboxes[i] = NewOutbox("c", 4)
		_, err := h.Connect(ctx, "srv", outboxes[i])
		require.NoError(t, err)
	}
	require.NoError(t, h.BroadcastMessage(`{"text":"hello"}`))
	for _, ob := range outboxes {
		assert.Equal(t, `{"text":"hello"}`, recv(t, ob))
	}
}

func TestBroadcastWithNoConnections(t *testing.T) {
	var got []Delivery
	h := startHub(t, zaptest.NewLogger(t), WithDeliveryObserver(func(d Delivery) { got = append(got, d) }))
	require.NoError(t, h.BroadcastMessage("nobody"))
	barrier(t, h)
	require.Len(t, got, 1)
	assert.Equal(t, Delivery{}, got[0])
}

func TestFanOutSurvivesFailedDeliveries(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	deliveries := make(chan Delivery, 1)
	h := startHub(t, zap.New(core), WithDeliveryObserver(func(d Delivery) { deliveries <- d }))
	ctx := context.Background()

	healthy := NewOutbox("healthy", 4)
	closed := NewOutbox("closed", 4)
	full := NewOutbox("full", 1)
	for origin, ob := range map[string]*Outbox{"lobby": healthy, "survival": closed, "creative": full} {
		_, err := h.Connect(ctx, origin, ob)
		require.NoError(t, err)
	}
	closed.Close()
	require.NoError(t, full.Push("backlog"))

	require.NoError(t, h.BroadcastMessage("msg"))

	d := <-deliveries
	assert.Equal(t, Delivery{Attempted: 3, Delivered: 1, Failed: 2}, d)
	assert.Equal(t, "msg", recv(t, healthy))
	var failedOrigins []string
	for _, entry := range logs.FilterMessage("delivery failed").All() {
		failedOrigins = append(failedOrigins, entry.ContextMap()["origin"].(string))
	}
	assert.ElementsMatch(t, []string{"survival", "creative"}, failedOrigins)

	// The loop is still alive.
	s := barrier(t, h)
	assert.Equal(t, 3, s.Connections)
}

func TestDisconnectIsIdempotent(t *testing.T) {
	h := startHub(t, zaptest.NewLogger(t))
	ob := NewOutbox("1", 4)
	id, err := h.Connect(context.Background(), "srv", ob)
	require.NoError(t, err)

	require.NoError(t, h.Disconnect(id))
	require.NoError(t, h.Disconnect(id))
	require.NoError(t, h.Disconnect(9999))

	s := barrier(t, h)
	assert.Equal(t, 0, s.Connections)
	assert.True(t, ob.IsClosed())
}

func TestPlayerJoinLastWriteWins(t *testing.T) {
	h := startHub(t, zaptest.NewLogger(t))
	ctx := context.Background()

	require.NoError(t, h.PlayerJoin(PresenceRecord{Player: "P", Origin: "srv1"}))
	require.NoError(t, h.PlayerJoin(PresenceRecord{Player: "P", Origin: "srv2"}))

	names, err := h.PlayersGet(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"P"}, names)

	// Only the srv2 record remains, so removing srv1 keeps P.
	require.NoError(t, h.PlayersRemoveByServer("srv1"))
	names, err = h.PlayersGet(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"P"}, names)
}

func TestPlayerJoinLogsMove(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	h := startHub(t, zap.New(core))

	require.NoError(t, h.PlayerJoin(PresenceRecord{Player: "P", Origin: "srv1", Data: "abc"}))
	require.NoError(t, h.PlayerJoin(PresenceRecord{Player: "P", Origin: "srv2"}))
	barrier(t, h)

	joins := logs.FilterMessage("player joined").All()
	require.Len(t, joins, 2)
	assert.Equal(t, int64(3), joins[0].ContextMap()["data_bytes"])
	assert.NotContains(t, joins[0].ContextMap(), "previous_origin")
	assert.Equal(t, "srv1", joins[1].ContextMap()["previous_origin"])
}

func TestScenarioRemoveByServer(t *testing.T) {
	h := startHub(t, zaptest.NewLogger(t))
	ctx := context.Background()

	require.NoError(t, h.PlayerJoin(PresenceRecord{Player: "Alice", Origin: "A"}))
	require.NoError(t, h.PlayerJoin(PresenceRecord{Player: "Bob", Origin: "A"}))
	require.NoError(t, h.PlayersRemoveByServer("A"))

	names, err := h.PlayersGet(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestPlayerLeftAndOnline(t *testing.T) {
	h := startHub(t, zaptest.NewLogger(t))
	ctx := context.Background()

	require.NoError(t, h.PlayerJoin(PresenceRecord{Player: "Alice", Origin: "A"}))
	require.NoError(t, h.PlayerJoin(PresenceRecord{Player: "Bob", Origin: "A"}))

	online, err := h.PlayerOnline(ctx, "Bob")
	require.NoError(t, err)
	assert.True(t, online)

	require.NoError(t, h.PlayerLeft(PresenceRecord{Player: "Bob", Origin: "A"}))
	online, err = h.PlayerOnline(ctx, "Bob")
	require.NoError(t, err)
	assert.False(t, online)

	names, err := h.PlayersGet(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Alice"}, names)
}

func TestBroadcastOrderedAfterEarlierEvents(t *testing.T) {
	h := startHub(t, zaptest.NewLogger(t))
	ctx := context.Background()
	ob := NewOutbox("1", 16)
	id, err := h.Connect(ctx, "srv", ob)
	require.NoError(t, err)

	for _, msg := range []string{"one", "two", "three"} {
		require.NoError(t, h.ClientMessage(id, msg))
	}
	assert.Equal(t, "one", recv(t, ob))
	assert.Equal(t, "two", recv(t, ob))
	assert.Equal(t, "three", recv(t, ob))
	assertEmpty(t, ob)
}

func TestStopClosesOutboxesAndRejectsCalls(t *testing.T) {
	h := New(testHubConfig(), zaptest.NewLogger(t))
	go func() { _ = h.Run(context.Background()) }()

	ob := NewOutbox("1", 4)
	_, err := h.Connect(context.Background(), "srv", ob)
	require.NoError(t, err)

	h.Stop()
	h.Stop()

	assert.True(t, ob.IsClosed())
	assert.ErrorIs(t, h.BroadcastMessage("late"), ErrHubUnavailable)
	_, err = h.PlayersGet(context.Background())
	assert.ErrorIs(t, err, ErrHubUnavailable)
	_, err = h.Connect(context.Background(), "srv", NewOutbox("2", 4))
	assert.ErrorIs(t, err, ErrHubUnavailable)
}

func TestRunTwiceFails(t *testing.T) {
	h := startHub(t, zaptest.NewLogger(t))
	barrier(t, h)
	assert.Error(t, h.Run(context.Background()))
}

func TestEnqueueTimeoutReturnsBusy(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := observability.NewHubMetrics(reg)
	require.NoError(t, err)

	cfg := config.HubConfig{QueueDepth: 1, EnqueueTimeout: 20 * time.Millisecond, OutboxSize: 1}
	h := New(cfg, zaptest.NewLogger(t), WithMetrics(metrics))

	// Run is never started, so the single mailbox slot stays occupied.
	require.NoError(t, h.Disconnect(1))
	assert.ErrorIs(t, h.Disconnect(2), ErrHubBusy)

	n, err := promtest.GatherAndCount(reg, "gamehub_enqueue_failures_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestConnectHonoursContext(t *testing.T) {
	h := New(testHubConfig(), zaptest.NewLogger(t))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := h.Connect(ctx, "srv", NewOutbox("1", 1))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConnectContextBoundsMailboxWait(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := observability.NewHubMetrics(reg)
	require.NoError(t, err)

	cfg := config.HubConfig{QueueDepth: 1, EnqueueTimeout: 5 * time.Second, OutboxSize: 1}
	h := New(cfg, zaptest.NewLogger(t), WithMetrics(metrics))
	require.NoError(t, h.Disconnect(1))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = h.Connect(ctx, "srv", NewOutbox("1", 1))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second, "waited for the enqueue timeout instead of the context")

	_, err = h.Stats(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	n, err := promtest.GatherAndCount(reg, "gamehub_enqueue_failures_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "one labelled series for canceled enqueues")
}

func TestConcurrentProducers(t *testing.T) {
	h := startHub(t, zaptest.NewLogger(t))
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make(chan ConnID, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := h.Connect(ctx, "srv", NewOutbox("c", 4))
			if err == nil {
				ids <- id
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[ConnID]bool{}
	for id := range ids {
		assert.False(t, seen[id], "duplicate id %d", id)
		seen[id] = true
	}
	assert.Len(t, seen, 50)
	assert.Equal(t, 50, barrier(t, h).Connections)
}

// Property: the active id set always equals the connects not yet disconnected,
// and ids never repeat.
func TestPropertyActiveConnections(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		h := New(testHubConfig(), zap.NewNop())
		ctx, cancel := context.WithCancel(context.Background())
		defer func() {
			cancel()
			<-h.Done()
		}()
		go func() { _ = h.Run(ctx) }()

		active := map[ConnID]*Outbox{}
		issued := map[ConnID]bool{}
		steps := rapid.IntRange(1, 40).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			if len(active) == 0 || rapid.Bool().Draw(rt, "connect") {
				ob := NewOutbox("p", 2)
				id, err := h.Connect(ctx, "srv", ob)
				if err != nil {
					rt.Fatalf("connect: %v", err)
				}
				if issued[id] {
					rt.Fatalf("id %d reused", id)
				}
				issued[id] = true
				active[id] = ob
				continue
			}
			ids := make([]ConnID, 0, len(active))
			for id := range active {
				ids = append(ids, id)
			}
			victim := rapid.SampledFrom(ids).Draw(rt, "victim")
			if err := h.Disconnect(victim); err != nil {
				rt.Fatalf("disconnect: %v", err)
			}
			delete(active, victim)
		}

		s, err := h.Stats(ctx)
		if err != nil {
			rt.Fatalf("stats: %v", err)
		}
		if s.Connections != len(active) {
			rt.Fatalf("connections %d, want %d", s.Connections, len(active))
		}
		for id, ob := range active {
			if ob.IsClosed() {
				rt.Fatalf("active connection %d has a closed outbox", id)
			}
		}
	})
}
