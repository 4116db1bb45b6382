package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"topsail/internal/config"
	"topsail/internal/game"
	"topsail/internal/protocol"
)

type testRig struct {
	srv      *Server
	sim      *Simulator
	registry *Registry
	http     *httptest.Server
	cancel   context.CancelFunc
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	log := zap.NewNop().Sugar()
	cfg := &config.Config{
		MaxSessions: 8, TickRateHz: game.TickRate,
		SnapshotRateHz: 20, WorldBounds: game.WorldBounds,
	}
	metrics := NewMetrics()
	registry := NewRegistry(cfg.MaxSessions)
	sim := NewSimulator(log, metrics, registry, cfg.TickRateHz, cfg.SnapshotRateHz)
	srv := NewServer(cfg, log, metrics, registry, sim)

	ctx, cancel := context.WithCancel(context.Background())
	go sim.Run(ctx)

	hs := httptest.NewServer(http.HandlerFunc(srv.handleWebSocket))
	rig := &testRig{srv: srv, sim: sim, registry: registry, http: hs, cancel: cancel}
	t.Cleanup(func() {
		hs.Close()
		cancel()
	})
	return rig
}

func (r *testRig) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(r.http.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func handshakeOn(t *testing.T, conn *websocket.Conn, name string) protocol.HandshakeResponse {
	t.Helper()
	hs := protocol.Handshake{
		Type:            protocol.MsgTypeHandshake,
		PlayerName:      name,
		ProtocolVersion: protocol.Version,
		Timestamp:       time.Now().UnixMilli(),
	}
	require.NoError(t, conn.WriteJSON(hs))

	var resp protocol.HandshakeResponse
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	require.NoError(t, conn.ReadJSON(&resp))
	return resp
}

// readUntilType skips snapshots and other frames until the wanted type
// arrives.
func readUntilType(t *testing.T, conn *websocket.Conn, want string) []byte {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		conn.SetReadDeadline(deadline)
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		typ, err := protocol.ParseEnvelope(data)
		if err != nil {
			continue
		}
		if typ == want {
			return data
		}
	}
	t.Fatalf("no %q frame before deadline", want)
	return nil
}

func TestHandshakeConnects(t *testing.T) {
	rig := newTestRig(t)
	conn := rig.dial(t)

	resp := handshakeOn(t, conn, "blackbeard")
	assert.Equal(t, protocol.StatusConnected, resp.Status)
	assert.Equal(t, "blackbeard", resp.PlayerName)
	assert.GreaterOrEqual(t, resp.PlayerID, uint32(game.FirstPlayerID))

	// The player exists in the world.
	var found bool
	rig.sim.DoSync(func(w *game.WorldState) {
		found = w.PlayerByID(resp.PlayerID) != nil
	})
	assert.True(t, found)
}

func TestHandshakeRejectsBadVersion(t *testing.T) {
	rig := newTestRig(t)
	conn := rig.dial(t)

	hs := protocol.Handshake{
		Type:            protocol.MsgTypeHandshake,
		PlayerName:      "old-client",
		ProtocolVersion: 99,
	}
	require.NoError(t, conn.WriteJSON(hs))

	var resp protocol.HandshakeResponse
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	require.NoError(t, conn.ReadJSON(&resp))
	assert.Equal(t, protocol.StatusError, resp.Status)
}

func TestMovementValidation(t *testing.T) {
	rig := newTestRig(t)
	conn := rig.dial(t)
	resp := handshakeOn(t, conn, "runner")

	// Magnitude beyond the limit: rejected outright.
	bad := map[string]interface{}{
		"type":      protocol.MsgTypeMovementState,
		"movement":  map[string]float64{"x": 1.5, "y": 1.5},
		"is_moving": true,
	}
	require.NoError(t, conn.WriteJSON(bad))
	var ack protocol.MessageAck
	require.NoError(t, json.Unmarshal(readUntilType(t, conn, protocol.MsgTypeMessageAck), &ack))
	assert.Equal(t, protocol.AckInvalid, ack.Status)

	// A legal update is accepted and reaches the world.
	good := map[string]interface{}{
		"type":      protocol.MsgTypeMovementState,
		"movement":  map[string]float64{"x": 1, "y": 0},
		"is_moving": true,
	}
	require.NoError(t, conn.WriteJSON(good))
	require.NoError(t, json.Unmarshal(readUntilType(t, conn, protocol.MsgTypeMessageAck), &ack))
	assert.Equal(t, protocol.AckInputReceived, ack.Status)

	require.Eventually(t, func() bool {
		var moving bool
		rig.sim.DoSync(func(w *game.WorldState) {
			if p := w.PlayerByID(resp.PlayerID); p != nil {
				moving = p.Input.IsMoving && p.Input.Movement.X == 1
			}
		})
		return moving
	}, 3*time.Second, 20*time.Millisecond)
}

func TestUnknownMessageAckInvalid(t *testing.T) {
	rig := newTestRig(t)
	conn := rig.dial(t)
	handshakeOn(t, conn, "weirdo")

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "teleport_to_victory"}))
	var ack protocol.MessageAck
	require.NoError(t, json.Unmarshal(readUntilType(t, conn, protocol.MsgTypeMessageAck), &ack))
	assert.Equal(t, protocol.AckInvalid, ack.Status)
}

func TestPingPong(t *testing.T) {
	rig := newTestRig(t)
	conn := rig.dial(t)
	handshakeOn(t, conn, "pinger")

	require.NoError(t, conn.WriteJSON(protocol.Ping{Type: protocol.MsgTypePing, Timestamp: 12345}))
	var pong protocol.Pong
	require.NoError(t, json.Unmarshal(readUntilType(t, conn, protocol.MsgTypePong), &pong))
	assert.Equal(t, int64(12345), pong.Timestamp)
	assert.Greater(t, pong.ServerTime, int64(0))
}

func TestSnapshotsArrive(t *testing.T) {
	rig := newTestRig(t)
	conn := rig.dial(t)
	resp := handshakeOn(t, conn, "observer")

	var gs protocol.GameState
	require.NoError(t, json.Unmarshal(readUntilType(t, conn, protocol.MsgTypeGameState), &gs))
	assert.NotEmpty(t, gs.Ships, "world spawns with a brigantine")

	var found bool
	for _, p := range gs.Players {
		if p.ID == resp.PlayerID {
			found = true
		}
	}
	assert.True(t, found, "snapshot should contain the connected player")
}

func TestSnapshotTicksIncrease(t *testing.T) {
	rig := newTestRig(t)
	conn := rig.dial(t)
	handshakeOn(t, conn, "watcher")

	var prev uint32
	for i := 0; i < 5; i++ {
		var gs protocol.GameState
		require.NoError(t, json.Unmarshal(readUntilType(t, conn, protocol.MsgTypeGameState), &gs))
		if i > 0 {
			assert.Greater(t, gs.Tick, prev)
		}
		prev = gs.Tick
	}
}

func TestHandshakeResponsePrecedesGameState(t *testing.T) {
	rig := newTestRig(t)
	conn := rig.dial(t)

	hs := protocol.Handshake{
		Type:            protocol.MsgTypeHandshake,
		PlayerName:      "firstmate",
		ProtocolVersion: protocol.Version,
	}
	require.NoError(t, conn.WriteJSON(hs))

	// The very first frame is the response; the world state never jumps
	// ahead of it.
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	typ, err := protocol.ParseEnvelope(data)
	require.NoError(t, err)
	require.Equal(t, protocol.MsgTypeHandshakeResponse, typ)

	var resp protocol.HandshakeResponse
	require.NoError(t, json.Unmarshal(data, &resp))
	require.Equal(t, protocol.StatusConnected, resp.Status)
	require.NotZero(t, resp.PlayerID)

	// The opening GAME_STATE follows and already contains the player.
	var gs protocol.GameState
	require.NoError(t, json.Unmarshal(readUntilType(t, conn, protocol.MsgTypeGameState), &gs))
	var found bool
	for _, p := range gs.Players {
		if p.ID == resp.PlayerID {
			found = true
		}
	}
	assert.True(t, found)
}

func TestBroadcastSkipsUnboundSessions(t *testing.T) {
	log := zap.NewNop().Sugar()
	registry := NewRegistry(8)
	sim := NewSimulator(log, NewMetrics(), registry, game.TickRate, rateIdleHz)

	pending := testSession("pending", 0)
	require.NoError(t, registry.Add(pending))
	assert.Zero(t, sim.broadcast(), "mid-handshake sessions receive nothing")
	assert.Empty(t, pending.Send)

	pending.PlayerID = 1000
	registry.Bind(pending)
	assert.Equal(t, 1, sim.broadcast())
	require.Len(t, pending.Send, 1)

	var gs protocol.GameState
	require.NoError(t, json.Unmarshal(<-pending.Send, &gs))
	assert.Equal(t, protocol.MsgTypeGameState, gs.Type)
}

func TestHandshakeRejectsNonHandshakeFrame(t *testing.T) {
	rig := newTestRig(t)
	conn := rig.dial(t)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "movement_state"}))
	var resp protocol.HandshakeResponse
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	require.NoError(t, conn.ReadJSON(&resp))
	assert.Equal(t, protocol.StatusError, resp.Status)
}

func TestVanishedPlayerAck(t *testing.T) {
	rig := newTestRig(t)
	conn := rig.dial(t)
	resp := handshakeOn(t, conn, "ghost")

	rig.sim.DoSync(func(w *game.WorldState) {
		w.RemovePlayer(resp.PlayerID)
	})

	msg := map[string]interface{}{
		"type":      protocol.MsgTypeMovementState,
		"movement":  map[string]float64{"x": 1, "y": 0},
		"is_moving": true,
	}
	require.NoError(t, conn.WriteJSON(msg))
	var ack protocol.MessageAck
	require.NoError(t, json.Unmarshal(readUntilType(t, conn, protocol.MsgTypeMessageAck), &ack))
	assert.Equal(t, protocol.AckPlayerNotFound, ack.Status)
}

func TestNumericAnomalyCounterTracksWorld(t *testing.T) {
	log := zap.NewNop().Sugar()
	sim := NewSimulator(log, NewMetrics(), NewRegistry(8), game.TickRate, rateIdleHz)

	sim.world.NumericAnomalies = 2
	sim.recordStats(rateIdleHz, time.Millisecond, 0)
	assert.Equal(t, 2.0, counterValue(sim.metrics.NumericAnomalies))

	// Only the delta is added on subsequent ticks.
	sim.world.NumericAnomalies = 3
	sim.recordStats(rateIdleHz, time.Millisecond, 0)
	sim.recordStats(rateIdleHz, time.Millisecond, 0)
	assert.Equal(t, 3.0, counterValue(sim.metrics.NumericAnomalies))
}

func TestSnapshotRateAdapts(t *testing.T) {
	log := zap.NewNop().Sugar()
	metrics := NewMetrics()
	registry := NewRegistry(8)
	sim := NewSimulator(log, metrics, registry, game.TickRate, rateIdleHz)

	now := time.Now()
	assert.Equal(t, rateEmptyHz, sim.snapshotRate(now), "no sessions")

	idle := testSession("idle", 1000)
	require.NoError(t, registry.Add(idle))
	registry.Bind(idle)
	assert.Equal(t, rateIdleHz, sim.snapshotRate(now), "connected but idle")

	idle.noteInput(now)
	assert.Equal(t, rateOneHz, sim.snapshotRate(now), "one active player")

	second := testSession("busy", 1001)
	require.NoError(t, registry.Add(second))
	registry.Bind(second)
	second.noteInput(now)
	assert.Equal(t, rateFullHz, sim.snapshotRate(now), "two active players")

	// Activity decays after the window.
	later := now.Add(activityWindow + time.Second)
	assert.Equal(t, rateIdleHz, sim.snapshotRate(later))
}

func TestSnapshotRateUsesConfiguredIdleRate(t *testing.T) {
	log := zap.NewNop().Sugar()
	registry := NewRegistry(8)
	sim := NewSimulator(log, NewMetrics(), registry, game.TickRate, 12)

	s := testSession("quiet", 1000)
	require.NoError(t, registry.Add(s))
	registry.Bind(s)
	assert.Equal(t, 12, sim.snapshotRate(time.Now()))
}

func TestSnapshotRateCountsDatagramPeers(t *testing.T) {
	log := zap.NewNop().Sugar()
	sim := NewSimulator(log, NewMetrics(), NewRegistry(8), game.TickRate, rateIdleHz)

	peers, active := 0, 0
	sim.AddActivitySource(func(cutoff time.Time) (int, int) { return peers, active })

	now := time.Now()
	assert.Equal(t, rateEmptyHz, sim.snapshotRate(now))

	peers = 1
	assert.Equal(t, rateIdleHz, sim.snapshotRate(now), "idle datagram peer holds the idle tier")
	active = 1
	assert.Equal(t, rateOneHz, sim.snapshotRate(now), "active datagram peer counts like a session")
	peers, active = 2, 2
	assert.Equal(t, rateFullHz, sim.snapshotRate(now))
}
