package client

import (
	"sort"

	"topsail/internal/phys"
	"topsail/internal/protocol"
)

// Interpolation buffer sizing and render-delay bounds, in milliseconds.
const (
	interpCapacity    = 32
	interpTargetDepth = 8
	renderDelayPadMs  = 30.0
	renderDelayMinMs  = 50.0
	renderDelayMaxMs  = 300.0
)

// InterpBuffer holds recent authoritative snapshots, sorted by tick, and
// produces render states for remote entities at a delayed timeline.
type InterpBuffer struct {
	snaps []protocol.GameState
}

func NewInterpBuffer() *InterpBuffer {
	return &InterpBuffer{snaps: make([]protocol.GameState, 0, interpCapacity)}
}

// Insert adds a snapshot, keeping the buffer sorted and bounded.
// Duplicate ticks are ignored.
func (ib *InterpBuffer) Insert(gs protocol.GameState) {
	i := sort.Search(len(ib.snaps), func(i int) bool {
		return ib.snaps[i].Tick >= gs.Tick
	})
	if i < len(ib.snaps) && ib.snaps[i].Tick == gs.Tick {
		return
	}
	ib.snaps = append(ib.snaps, protocol.GameState{})
	copy(ib.snaps[i+1:], ib.snaps[i:])
	ib.snaps[i] = gs
	if len(ib.snaps) > interpCapacity {
		ib.snaps = ib.snaps[len(ib.snaps)-interpCapacity:]
	}
}

// Len reports buffered snapshots.
func (ib *InterpBuffer) Len() int { return len(ib.snaps) }

// Latest returns the newest snapshot, or nil.
func (ib *InterpBuffer) Latest() *protocol.GameState {
	if len(ib.snaps) == 0 {
		return nil
	}
	return &ib.snaps[len(ib.snaps)-1]
}

// RenderDelayMs derives the interpolation delay from the one-way latency
// estimate and the server tick interval.
func RenderDelayMs(oneWayMs, tickIntervalMs float64) float64 {
	d := oneWayMs + tickIntervalMs + renderDelayPadMs
	if d < renderDelayMinMs {
		return renderDelayMinMs
	}
	if d > renderDelayMaxMs {
		return renderDelayMaxMs
	}
	return d
}

// Sample interpolates a render state at the given server timeline
// moment. It finds the snapshot pair straddling renderMs and blends
// linearly; positions and velocities lerp, angles take the shortest
// path. Projectiles come from the later snapshot unblended. With no
// straddling pair the nearest snapshot is returned as-is; the timeline
// never extrapolates past the newest snapshot.
func (ib *InterpBuffer) Sample(renderMs int64) (protocol.GameState, bool) {
	n := len(ib.snaps)
	if n == 0 {
		return protocol.GameState{}, false
	}
	if renderMs <= ib.snaps[0].Timestamp {
		return ib.snaps[0], true
	}
	last := ib.snaps[n-1]
	if renderMs >= last.Timestamp {
		return last, true
	}

	hi := sort.Search(n, func(i int) bool {
		return ib.snaps[i].Timestamp > renderMs
	})
	a, b := ib.snaps[hi-1], ib.snaps[hi]
	span := b.Timestamp - a.Timestamp
	if span <= 0 {
		return b, true
	}
	t := float64(renderMs-a.Timestamp) / float64(span)
	return blendSnapshots(a, b, t), true
}

// Evict drops snapshots older than the cutoff, always retaining enough
// depth to interpolate.
func (ib *InterpBuffer) Evict(cutoffMs int64) {
	for len(ib.snaps) > interpTargetDepth && ib.snaps[0].Timestamp < cutoffMs {
		ib.snaps = ib.snaps[1:]
	}
}

func blendSnapshots(a, b protocol.GameState, t float64) protocol.GameState {
	out := b
	out.Timestamp = a.Timestamp + int64(t*float64(b.Timestamp-a.Timestamp))

	out.Ships = make([]protocol.ShipState, len(b.Ships))
	for i, sb := range b.Ships {
		out.Ships[i] = sb
		if sa := findShip(a.Ships, sb.ID); sa != nil {
			out.Ships[i].X = lerp(sa.X, sb.X, t)
			out.Ships[i].Y = lerp(sa.Y, sb.Y, t)
			out.Ships[i].VelocityX = lerp(sa.VelocityX, sb.VelocityX, t)
			out.Ships[i].VelocityY = lerp(sa.VelocityY, sb.VelocityY, t)
			out.Ships[i].Rotation = phys.LerpAngle(sa.Rotation, sb.Rotation, t)
		}
	}

	out.Players = make([]protocol.PlayerState, len(b.Players))
	for i, pb := range b.Players {
		out.Players[i] = pb
		pa := findPlayer(a.Players, pb.ID)
		// Blending across a carrier change would sweep the player through
		// world space; snap to the newer sample instead.
		if pa == nil || pa.ParentShip != pb.ParentShip {
			continue
		}
		if pb.ParentShip != 0 {
			out.Players[i].LocalX = lerp(pa.LocalX, pb.LocalX, t)
			out.Players[i].LocalY = lerp(pa.LocalY, pb.LocalY, t)
		}
		out.Players[i].WorldX = lerp(pa.WorldX, pb.WorldX, t)
		out.Players[i].WorldY = lerp(pa.WorldY, pb.WorldY, t)
		out.Players[i].VelocityX = lerp(pa.VelocityX, pb.VelocityX, t)
		out.Players[i].VelocityY = lerp(pa.VelocityY, pb.VelocityY, t)
		out.Players[i].Rotation = phys.LerpAngle(pa.Rotation, pb.Rotation, t)
	}

	// Projectiles are short-lived and fast; the later sample alone reads
	// better than blending against a possibly-missing earlier one.
	out.Projectiles = append([]protocol.ProjectileState(nil), b.Projectiles...)
	return out
}

func findShip(ships []protocol.ShipState, id uint32) *protocol.ShipState {
	for i := range ships {
		if ships[i].ID == id {
			return &ships[i]
		}
	}
	return nil
}

func findPlayer(players []protocol.PlayerState, id uint32) *protocol.PlayerState {
	for i := range players {
		if players[i].ID == id {
			return &players[i]
		}
	}
	return nil
}

func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}
