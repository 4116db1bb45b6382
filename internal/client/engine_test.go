package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"topsail/internal/game"
	"topsail/internal/phys"
	"topsail/internal/protocol"
)

// seededEngine builds an engine whose prediction was seeded from a world
// holding one ship and one swimming player at (500, 500).
func seededEngine(t *testing.T) (*Engine, protocol.GameState) {
	t.Helper()
	w := game.NewWorldState()
	w.NewBrigantine(phys.Vec2{}, 0)
	p := w.AddPlayer("local")
	p.Pos = phys.Vec2{X: 500, Y: 500}
	w.Tick = 100
	w.TimestampMs = 1000

	e := NewEngine(zap.NewNop().Sugar(), p.ID)
	gs := protocol.SnapshotFromWorld(w)
	e.OnSnapshot(gs, 1000)
	require.True(t, e.Ready())
	return e, gs
}

// perturbedSnapshot clones a rewind entry's world, shifts the local
// player, and renders it as an authoritative snapshot.
func perturbedSnapshot(t *testing.T, e *Engine, tick uint32, dx float64) protocol.GameState {
	t.Helper()
	_, entry := e.rewind.FindTick(tick)
	require.NotNil(t, entry, "tick %d not in rewind buffer", tick)
	w := entry.World.Clone()
	p := w.PlayerByID(e.PlayerID)
	require.NotNil(t, p)
	p.Pos.X += dx
	return protocol.SnapshotFromWorld(w)
}

func TestUpdateGatesFrameRate(t *testing.T) {
	e, _ := seededEngine(t)
	assert.True(t, e.Update(1033, game.InputUpdate{}))
	assert.False(t, e.Update(1035, game.InputUpdate{}), "frames closer than the gate are skipped")
	assert.True(t, e.Update(1066, game.InputUpdate{}))
	assert.Equal(t, uint64(2), e.Stats().PredictedTicks)
}

func TestNoRollbackWhenPredictionMatches(t *testing.T) {
	e, gs := seededEngine(t)
	e.Update(1033, game.InputUpdate{})
	e.Update(1066, game.InputUpdate{})

	// A server that stepped the identical world agrees with prediction.
	server := protocol.WorldFromSnapshot(gs)
	require.NoError(t, server.Step(1033))
	require.NoError(t, server.Step(1066))
	e.OnSnapshot(protocol.SnapshotFromWorld(server), 1100)

	assert.Equal(t, uint64(0), e.Stats().Rollbacks)
	assert.LessOrEqual(t, e.Stats().LastErrorPos, posErrorThreshold)
}

func TestRollbackOnPositionError(t *testing.T) {
	e, _ := seededEngine(t)
	e.Update(1033, game.InputUpdate{})
	e.Update(1066, game.InputUpdate{})

	auth := perturbedSnapshot(t, e, 102, 20)
	e.OnSnapshot(auth, 1100)

	assert.Equal(t, uint64(1), e.Stats().Rollbacks)
	p := e.world.PlayerByID(e.PlayerID)
	require.NotNil(t, p)
	assert.InDelta(t, 520.0, p.Pos.X, 1e-9, "prediction adopts the corrected position")
}

func TestRollbackOnShipDivergence(t *testing.T) {
	e, _ := seededEngine(t)
	e.Update(1033, game.InputUpdate{})

	// The carrier drifted server-side (a remote helmsman's doing) while
	// the local player matches exactly.
	_, entry := e.rewind.FindTick(101)
	require.NotNil(t, entry)
	w := entry.World.Clone()
	require.NotEmpty(t, w.Ships)
	w.Ships[0].Pos.X += 50
	e.OnSnapshot(protocol.SnapshotFromWorld(w), 1100)

	assert.Equal(t, uint64(1), e.Stats().Rollbacks, "ship drift must trigger reconciliation")
	assert.InDelta(t, w.Ships[0].Pos.X, e.world.Ships[0].Pos.X, 1e-9)
}

func TestSmallErrorBelowThresholdIgnored(t *testing.T) {
	e, _ := seededEngine(t)
	e.Update(1033, game.InputUpdate{})

	auth := perturbedSnapshot(t, e, 101, posErrorThreshold-1)
	e.OnSnapshot(auth, 1100)
	assert.Equal(t, uint64(0), e.Stats().Rollbacks)

	p := e.world.PlayerByID(e.PlayerID)
	assert.InDelta(t, 500.0, p.Pos.X, 1e-9, "prediction stands when inside tolerance")
}

func TestRollbackReplaysBufferedInputs(t *testing.T) {
	e, _ := seededEngine(t)
	mv := phys.Vec2{X: 1, Y: 0}
	moving := true
	in := game.InputUpdate{Movement: &mv, IsMoving: &moving}
	e.Update(1033, in)
	e.Update(1066, in)
	e.Update(1100, in)

	oldP := e.world.PlayerByID(e.PlayerID)
	oldX := oldP.Pos.X

	auth := perturbedSnapshot(t, e, 101, 10)
	e.OnSnapshot(auth, 1150)

	require.Equal(t, uint64(1), e.Stats().Rollbacks)
	p := e.world.PlayerByID(e.PlayerID)
	// Swim movement is linear, so replaying the same inputs on the
	// shifted base lands exactly ten units ahead of the old prediction.
	assert.InDelta(t, oldX+10, p.Pos.X, 1e-6)
	assert.Equal(t, uint32(103), e.world.Tick, "replay restores the predicted tick")
}

func TestSoftResetAfterRepeatedOversizedCorrections(t *testing.T) {
	e, _ := seededEngine(t)
	now := 1033.0
	for i := 0; i < softResetAfter; i++ {
		require.True(t, e.Update(now, game.InputUpdate{}))
		tick := e.rewind.Latest().Tick
		auth := perturbedSnapshot(t, e, tick, oversizedCorrection+50)
		e.OnSnapshot(auth, int64(now)+10)
		now += 33
	}
	assert.Equal(t, uint64(1), e.Stats().SoftResets)
	assert.Equal(t, 0, e.rewind.Len(), "soft reset abandons prediction history")
	assert.Equal(t, phys.Vec2{}, e.smoothOffset)
}

func TestStaleSnapshotsIgnored(t *testing.T) {
	e, gs := seededEngine(t)
	e.OnSnapshot(gs, 1100) // same tick again
	assert.Equal(t, uint64(1), e.Stats().SnapshotsStale)
}

func TestSnapshotAheadOfPredictionResyncs(t *testing.T) {
	e, gs := seededEngine(t)
	// Server runs far ahead of anything predicted.
	server := protocol.WorldFromSnapshot(gs)
	for i := 0; i < 10; i++ {
		require.NoError(t, server.Step(1000+int64(i+1)*33))
	}
	e.OnSnapshot(protocol.SnapshotFromWorld(server), 1400)
	assert.Equal(t, server.Tick, e.world.Tick)
}

func TestRenderStateOverridesLocalPlayer(t *testing.T) {
	e, _ := seededEngine(t)
	e.Update(1033, game.InputUpdate{})

	out, ok := e.RenderState(1050)
	require.True(t, ok)

	var found bool
	pred := e.world.PlayerByID(e.PlayerID)
	for _, p := range out.Players {
		if p.ID == e.PlayerID {
			found = true
			assert.InDelta(t, pred.Pos.X, p.WorldX, 1e-9)
			assert.InDelta(t, pred.Pos.Y, p.WorldY, 1e-9)
		}
	}
	assert.True(t, found)
}

func TestOneWayDelayEstimate(t *testing.T) {
	e, gs := seededEngine(t)
	assert.Equal(t, 0.0, e.OneWayDelayMs(), "seed snapshot with zero delta")

	server := protocol.WorldFromSnapshot(gs)
	require.NoError(t, server.Step(1033))
	// Received 80 ms after the server stamped it.
	e.OnSnapshot(protocol.SnapshotFromWorld(server), 1033+80)
	assert.InDelta(t, 80.0, e.OneWayDelayMs(), 80*rttAlpha+1e-9)
}
