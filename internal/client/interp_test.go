package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"topsail/internal/protocol"
)

func snap(tick uint32, ts int64, x float64) protocol.GameState {
	return protocol.GameState{
		Type:      protocol.MsgTypeGameState,
		Tick:      tick,
		Timestamp: ts,
		Ships: []protocol.ShipState{
			{ID: 1, X: x, Y: 0, Rotation: 0},
		},
		Players: []protocol.PlayerState{
			{ID: 1000, WorldX: x, WorldY: 5},
		},
	}
}

func TestInterpInsertSortsAndDedups(t *testing.T) {
	ib := NewInterpBuffer()
	ib.Insert(snap(3, 3000, 30))
	ib.Insert(snap(1, 1000, 10))
	ib.Insert(snap(2, 2000, 20))
	ib.Insert(snap(2, 2000, 999)) // duplicate tick ignored
	require.Equal(t, 3, ib.Len())
	assert.Equal(t, uint32(3), ib.Latest().Tick)

	got, ok := ib.Sample(2000)
	require.True(t, ok)
	assert.Equal(t, 20.0, got.Ships[0].X)
}

func TestInterpSampleBlendsMidpoint(t *testing.T) {
	ib := NewInterpBuffer()
	ib.Insert(snap(1, 1000, 0))
	ib.Insert(snap(2, 1050, 100))

	got, ok := ib.Sample(1025)
	require.True(t, ok)
	assert.InDelta(t, 50.0, got.Ships[0].X, 1e-9)
	assert.InDelta(t, 50.0, got.Players[0].WorldX, 1e-9)
	assert.InDelta(t, 5.0, got.Players[0].WorldY, 1e-9)
}

func TestInterpNoExtrapolation(t *testing.T) {
	ib := NewInterpBuffer()
	ib.Insert(snap(1, 1000, 0))
	ib.Insert(snap(2, 1050, 100))

	// Past the newest snapshot the timeline pins to it.
	got, ok := ib.Sample(9999)
	require.True(t, ok)
	assert.Equal(t, 100.0, got.Ships[0].X)

	// Before the oldest it pins to that.
	got, ok = ib.Sample(0)
	require.True(t, ok)
	assert.Equal(t, 0.0, got.Ships[0].X)
}

func TestInterpCarrierChangeSnapsPlayer(t *testing.T) {
	a := snap(1, 1000, 0)
	a.Players[0].ParentShip = 0
	b := snap(2, 1050, 100)
	b.Players[0].ParentShip = 1
	b.Players[0].LocalX = 10

	ib := NewInterpBuffer()
	ib.Insert(a)
	ib.Insert(b)
	got, ok := ib.Sample(1025)
	require.True(t, ok)
	// No blending across the attach: the newer sample wins outright.
	assert.Equal(t, 100.0, got.Players[0].WorldX)
	assert.Equal(t, uint32(1), got.Players[0].ParentShip)
}

func TestInterpEviction(t *testing.T) {
	ib := NewInterpBuffer()
	for i := uint32(0); i < 40; i++ {
		ib.Insert(snap(i+1, int64(i)*50, float64(i)))
	}
	assert.LessOrEqual(t, ib.Len(), interpCapacity)

	ib.Evict(1500)
	assert.GreaterOrEqual(t, ib.Len(), interpTargetDepth, "eviction keeps interpolation depth")
}

func TestRenderDelayBounds(t *testing.T) {
	tickMs := 1000.0 / 30.0
	assert.Equal(t, renderDelayMinMs, RenderDelayMs(0, tickMs))
	assert.Equal(t, renderDelayMaxMs, RenderDelayMs(1000, tickMs))
	mid := RenderDelayMs(100, tickMs)
	assert.InDelta(t, 100+tickMs+renderDelayPadMs, mid, 1e-9)
}
