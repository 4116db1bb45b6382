package client

import (
	"math"

	"go.uber.org/zap"

	"topsail/internal/game"
	"topsail/internal/phys"
	"topsail/internal/protocol"
)

// Prediction tuning.
const (
	// Prediction steps at the simulation rate even when the render loop
	// runs faster; frames closer together than this are skipped.
	minFrameIntervalMs = 1000.0 / (game.TickRate * 4.0)

	posErrorThreshold = 5.0  // world units
	velErrorThreshold = 10.0 // world units per second

	smoothingAlpha = 0.15 // correction blend per frame

	rttAlpha = 0.1 // one-way delay EWMA gain

	// Corrections larger than this are treated as desync evidence;
	// three in a row trigger a hard resync to the server state.
	oversizedCorrection = 50.0
	softResetAfter      = 3
)

// Stats counts engine events for diagnostics overlays.
type Stats struct {
	PredictedTicks    uint64
	SnapshotsReceived uint64
	SnapshotsStale    uint64
	Rollbacks         uint64
	SoftResets        uint64
	LastErrorPos      float64
	LastErrorVel      float64
}

// Engine is the client-side prediction core: it steps a local copy of
// the simulation ahead of the server, reconciles against authoritative
// snapshots by rolling back and replaying buffered inputs, and serves
// render states that blend away corrections.
//
// Not safe for concurrent use; the render loop owns it.
type Engine struct {
	log      *zap.SugaredLogger
	PlayerID uint32

	world  *game.WorldState // predicted, nil until the first snapshot
	rewind *RewindBuffer
	interp *InterpBuffer

	oneWayMs     float64
	lastStepMs   float64
	lastRecvMs   int64
	lastSrvTick  uint32
	smoothOffset phys.Vec2
	bigInARow    int

	stats Stats
}

func NewEngine(log *zap.SugaredLogger, playerID uint32) *Engine {
	return &Engine{
		log:      log,
		PlayerID: playerID,
		rewind:   NewRewindBuffer(RewindCapacity),
		interp:   NewInterpBuffer(),
	}
}

// Ready reports whether a first snapshot has seeded the predicted world.
func (e *Engine) Ready() bool { return e.world != nil }

// Stats returns a copy of the event counters.
func (e *Engine) Stats() Stats { return e.stats }

// OneWayDelayMs returns the smoothed one-way latency estimate.
func (e *Engine) OneWayDelayMs() float64 { return e.oneWayMs }

// Update advances prediction by one tick if enough frame time has
// passed. The input is applied to the local player before stepping.
// Returns true when a tick was predicted, meaning the input should also
// be sent to the server.
func (e *Engine) Update(nowMs float64, in game.InputUpdate) bool {
	if e.world == nil {
		return false
	}
	if e.lastStepMs != 0 && nowMs-e.lastStepMs < minFrameIntervalMs {
		return false
	}
	e.lastStepMs = nowMs

	if err := e.world.ApplyInput(e.PlayerID, in); err != nil {
		e.log.Debugw("predict input dropped", "err", err)
	}
	if err := e.world.Step(int64(nowMs)); err != nil {
		e.log.Warnw("predict step error", "err", err)
	}
	e.stats.PredictedTicks++

	e.rewind.Push(RewindEntry{
		Tick:           e.world.Tick,
		TimestampMs:    int64(nowMs),
		Dt:             game.TickDT,
		World:          e.world.Clone(),
		Input:          InputFrame{Update: in},
		NetworkDelayMs: e.oneWayMs,
	})

	// Smoothed corrections decay a fixed fraction per predicted frame.
	e.smoothOffset = e.smoothOffset.Scale(1 - smoothingAlpha)
	return true
}

// OnSnapshot reconciles an authoritative snapshot against the rewind
// buffer, rolling back and replaying when the prediction drifted past
// the error thresholds.
func (e *Engine) OnSnapshot(gs protocol.GameState, receivedAtMs int64) {
	e.stats.SnapshotsReceived++
	if e.lastSrvTick != 0 && gs.Tick <= e.lastSrvTick {
		e.stats.SnapshotsStale++
		return
	}
	e.lastSrvTick = gs.Tick
	e.lastRecvMs = receivedAtMs

	e.interp.Insert(gs)
	e.interp.Evict(gs.Timestamp - 1000)

	if sample := float64(receivedAtMs - gs.Timestamp); sample >= 0 {
		if e.oneWayMs == 0 {
			e.oneWayMs = sample
		} else {
			e.oneWayMs += rttAlpha * (sample - e.oneWayMs)
		}
	}

	if e.world == nil {
		e.world = protocol.WorldFromSnapshot(gs)
		e.log.Infow("prediction seeded", "tick", gs.Tick)
		return
	}

	idx, entry := e.rewind.FindTick(gs.Tick)
	if entry == nil {
		latest := e.rewind.Latest()
		if latest == nil || gs.Tick > latest.Tick {
			// Server is ahead of every predicted tick; prediction stalled
			// or fell behind, so adopt the authoritative state.
			e.resync(gs)
		}
		// Older than the buffer: nothing left to check against.
		return
	}

	// Divergence anywhere matters: a drifting carrier displaces the
	// players standing on it even when their own poses agree.
	posErr, velErr := divergence(gs, entry.World)
	entry.ServerConfirmed = true
	entry.PredictionError = posErr
	e.stats.LastErrorPos = posErr
	e.stats.LastErrorVel = velErr

	if posErr <= posErrorThreshold && velErr <= velErrorThreshold {
		e.bigInARow = 0
		return
	}

	if posErr > oversizedCorrection {
		e.bigInARow++
		if e.bigInARow >= softResetAfter {
			e.log.Warnw("repeated oversized corrections, resyncing",
				"pos_err", posErr, "tick", gs.Tick)
			e.resync(gs)
			e.stats.SoftResets++
			return
		}
	} else {
		e.bigInARow = 0
	}

	e.rollback(gs, idx)
}

// divergence measures the largest position and velocity disagreement
// between an authoritative snapshot and a predicted world, across ships
// and players alike. Entities only one side knows about are skipped;
// spawn and despawn are resolved by the snapshot itself.
func divergence(gs protocol.GameState, w *game.WorldState) (posErr, velErr float64) {
	for _, ss := range gs.Ships {
		ship := w.ShipByID(ss.ID)
		if ship == nil {
			continue
		}
		posErr = math.Max(posErr, phys.Vec2{X: ss.X - ship.Pos.X, Y: ss.Y - ship.Pos.Y}.Length())
		velErr = math.Max(velErr, phys.Vec2{X: ss.VelocityX - ship.Vel.X, Y: ss.VelocityY - ship.Vel.Y}.Length())
	}
	for _, ps := range gs.Players {
		p := w.PlayerByID(ps.ID)
		if p == nil {
			continue
		}
		posErr = math.Max(posErr, phys.Vec2{X: ps.WorldX - p.Pos.X, Y: ps.WorldY - p.Pos.Y}.Length())
		velErr = math.Max(velErr, phys.Vec2{X: ps.VelocityX - p.Vel.X, Y: ps.VelocityY - p.Vel.Y}.Length())
	}
	return posErr, velErr
}

// rollback rebuilds the world from the authoritative snapshot and
// replays every buffered input after the corrected tick. The visual
// offset between old and new prediction is absorbed by the smoothing
// blend instead of snapping the camera.
func (e *Engine) rollback(gs protocol.GameState, idx int) {
	e.stats.Rollbacks++

	var oldPos phys.Vec2
	if p := e.world.PlayerByID(e.PlayerID); p != nil {
		oldPos = p.Pos
	}

	rebuilt := protocol.WorldFromSnapshot(gs)
	for i := idx + 1; i < e.rewind.Len(); i++ {
		re := e.rewind.At(i)
		if err := rebuilt.ApplyInput(e.PlayerID, re.Input.Update); err == nil {
			if err := rebuilt.Step(re.TimestampMs); err != nil {
				e.log.Warnw("replay step error", "err", err)
			}
		}
		re.World = rebuilt.Clone()
		re.Tick = rebuilt.Tick
	}
	e.world = rebuilt

	if p := e.world.PlayerByID(e.PlayerID); p != nil {
		e.smoothOffset = e.smoothOffset.Add(oldPos.Sub(p.Pos))
	}
}

// resync abandons prediction history and adopts the server state.
func (e *Engine) resync(gs protocol.GameState) {
	e.world = protocol.WorldFromSnapshot(gs)
	e.rewind.Clear()
	e.smoothOffset = phys.Vec2{}
	e.bigInARow = 0
}

// RenderState builds the frame to draw: remote entities interpolated on
// a delayed server timeline, the local player from prediction with the
// smoothing offset applied.
func (e *Engine) RenderState(nowMs int64) (protocol.GameState, bool) {
	latest := e.interp.Latest()
	if latest == nil {
		return protocol.GameState{}, false
	}

	delay := RenderDelayMs(e.oneWayMs, 1000.0/game.TickRate)
	serverNow := latest.Timestamp + (nowMs - e.lastRecvMs)
	out, ok := e.interp.Sample(serverNow - int64(delay))
	if !ok {
		return protocol.GameState{}, false
	}

	if e.world == nil {
		return out, true
	}
	pred := e.world.PlayerByID(e.PlayerID)
	if pred == nil {
		return out, true
	}
	rendered := pred.Pos.Add(e.smoothOffset)
	for i := range out.Players {
		if out.Players[i].ID != e.PlayerID {
			continue
		}
		out.Players[i].WorldX = rendered.X
		out.Players[i].WorldY = rendered.Y
		out.Players[i].VelocityX = pred.Vel.X
		out.Players[i].VelocityY = pred.Vel.Y
		out.Players[i].Rotation = pred.Rotation
		out.Players[i].State = pred.State
		out.Players[i].ParentShip = pred.CarrierShipID
		out.Players[i].LocalX = pred.LocalPos.X
		out.Players[i].LocalY = pred.LocalPos.Y
		break
	}
	return out, true
}
