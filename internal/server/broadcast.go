package server

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"topsail/internal/game"
	"topsail/internal/phys"
	"topsail/internal/protocol"
)

// Broadcast cadences by load. The simulator always ticks at full rate;
// only snapshot emission slows down.
const (
	rateEmptyHz    = 5  // no players connected
	rateIdleHz     = 20 // default when players are connected but idle
	rateOneHz      = 25 // exactly one active player
	rateFullHz     = 30 // two or more active players
	activityWindow = 5 * time.Second
)

// activityFunc reports connection totals from a non-WebSocket transport
// for the cadence decision: how many peers exist, and how many were
// active after the cutoff.
type activityFunc func(cutoff time.Time) (total, active int)

// Simulator owns the authoritative world. All world mutation happens on
// its goroutine: the gateway submits closures through the command
// mailbox, and the tick loop runs them between steps.
type Simulator struct {
	log      *zap.SugaredLogger
	metrics  *Metrics
	registry *Registry

	world    *game.WorldState
	tickRate int
	idleRate int
	cmds     chan func(w *game.WorldState)
	hooks    []func(w *game.WorldState)
	sources  []activityFunc

	lastAnomalies uint64

	statsMu sync.Mutex
	stats   SimStats
}

// SimStats is the admin-facing view of the loop.
type SimStats struct {
	Tick             uint32  `json:"tick"`
	Players          int     `json:"players"`
	Ships            int     `json:"ships"`
	Projectiles      int     `json:"projectiles"`
	SnapshotRateHz   int     `json:"snapshot_rate_hz"`
	LastTickMicros   int64   `json:"last_tick_us"`
	AvgTickMicros    float64 `json:"avg_tick_us"`
	NumericAnomalies uint64  `json:"numeric_anomalies"`
	LastSnapshotSize int     `json:"last_snapshot_bytes"`
}

// NewSimulator seeds the world with one brigantine at the origin. idleRate
// is the snapshot cadence while players are connected but quiet; zero
// selects the default.
func NewSimulator(log *zap.SugaredLogger, metrics *Metrics, registry *Registry, tickRate, idleRate int) *Simulator {
	if idleRate <= 0 {
		idleRate = rateIdleHz
	}
	w := game.NewWorldState()
	w.NewBrigantine(phys.Vec2{}, 0)
	return &Simulator{
		log:      log,
		metrics:  metrics,
		registry: registry,
		world:    w,
		tickRate: tickRate,
		idleRate: idleRate,
		cmds:     make(chan func(w *game.WorldState), 256),
	}
}

// AddBroadcastHook registers a callback run on the simulation goroutine
// at every broadcast. Must be called before Run.
func (sim *Simulator) AddBroadcastHook(fn func(w *game.WorldState)) {
	sim.hooks = append(sim.hooks, fn)
}

// AddActivitySource registers another transport's peers for the cadence
// decision. Must be called before Run.
func (sim *Simulator) AddActivitySource(fn activityFunc) {
	sim.sources = append(sim.sources, fn)
}

// Do queues a world mutation for the next tick. Never blocks the caller;
// a full mailbox drops the command.
func (sim *Simulator) Do(fn func(w *game.WorldState)) {
	select {
	case sim.cmds <- fn:
	default:
		sim.log.Warnw("command mailbox full, dropping")
	}
}

// DoSync runs a world mutation on the simulation goroutine and waits for
// it. Used by the handshake path, which needs the assigned player id.
func (sim *Simulator) DoSync(fn func(w *game.WorldState)) {
	done := make(chan struct{})
	sim.cmds <- func(w *game.WorldState) {
		fn(w)
		close(done)
	}
	<-done
}

// Run drives the fixed-timestep loop until ctx is cancelled. A step
// error means an entity recovery failed; a full second of consecutive
// failures is treated as fatal and returned to the caller.
func (sim *Simulator) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(sim.tickRate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var nextBroadcast time.Time
	badTicks := 0
	for {
		select {
		case <-ctx.Done():
			sim.log.Infow("simulator stopping", "tick", sim.world.Tick)
			return nil
		case <-ticker.C:
			now := time.Now()
			sim.drainCommands()
			sim.expireReservations(now)

			start := time.Now()
			if err := sim.world.Step(now.UnixMilli()); err != nil {
				// The entity was already reset to its pre-tick pose.
				sim.log.Errorw("step error", "err", err)
				badTicks++
				if badTicks >= sim.tickRate {
					return fmt.Errorf("simulation unrecoverable after %d failed ticks: %w", badTicks, err)
				}
			} else {
				badTicks = 0
			}
			elapsed := time.Since(start)
			sim.metrics.TickDuration.Observe(elapsed.Seconds())

			hz := sim.snapshotRate(now)
			sent := 0
			if !now.Before(nextBroadcast) {
				sent = sim.broadcast()
				nextBroadcast = now.Add(time.Second / time.Duration(hz))
			}
			sim.recordStats(hz, elapsed, sent)
		}
	}
}

func (sim *Simulator) drainCommands() {
	for {
		select {
		case fn := <-sim.cmds:
			fn(sim.world)
		default:
			return
		}
	}
}

func (sim *Simulator) expireReservations(now time.Time) {
	for _, playerID := range sim.registry.ExpireReservations(now) {
		sim.world.RemovePlayer(playerID)
		sim.log.Infow("reconnect window lapsed, player removed", "player", playerID)
	}
}

// snapshotRate picks the broadcast cadence from connection activity
// across every transport.
func (sim *Simulator) snapshotRate(now time.Time) int {
	cutoff := now.Add(-activityWindow)
	sessions := sim.registry.Bound()
	total := len(sessions)
	active := 0
	for _, s := range sessions {
		if s.activeSince(cutoff) {
			active++
		}
	}
	for _, src := range sim.sources {
		srcTotal, srcActive := src(cutoff)
		total += srcTotal
		active += srcActive
	}
	switch {
	case total == 0:
		return rateEmptyHz
	case active == 0:
		return sim.idleRate
	case active == 1:
		return rateOneHz
	default:
		return rateFullHz
	}
}

// broadcast serializes the world once per negotiated encoding and fans
// the frames out. Slow consumers drop frames rather than stalling the
// loop; ticks a session does receive are strictly increasing because
// emission happens in tick order from a single goroutine.
func (sim *Simulator) broadcast() int {
	for _, hook := range sim.hooks {
		hook(sim.world)
	}
	// Sessions still mid-handshake must not see world frames before their
	// handshake response.
	sessions := sim.registry.Bound()
	if len(sessions) == 0 {
		return 0
	}

	gs := protocol.SnapshotFromWorld(sim.world)
	var jsonFrame, mpFrame []byte
	sent := 0
	for _, s := range sessions {
		var frame []byte
		switch s.Encoding {
		case EncodingMsgpack:
			if mpFrame == nil {
				var err error
				if mpFrame, err = msgpack.Marshal(gs); err != nil {
					sim.log.Errorw("msgpack snapshot failed", "err", err)
					continue
				}
				sim.metrics.SnapshotBytes.Add(float64(len(mpFrame)))
			}
			frame = mpFrame
		default:
			if jsonFrame == nil {
				var err error
				if jsonFrame, err = json.Marshal(gs); err != nil {
					sim.log.Errorw("json snapshot failed", "err", err)
					continue
				}
				sim.metrics.SnapshotBytes.Add(float64(len(jsonFrame)))
			}
			frame = jsonFrame
		}
		select {
		case s.Send <- frame:
			sent++
			sim.metrics.SnapshotsSent.Inc()
		default:
		}
	}

	sim.statsMu.Lock()
	if jsonFrame != nil {
		sim.stats.LastSnapshotSize = len(jsonFrame)
	} else {
		sim.stats.LastSnapshotSize = len(mpFrame)
	}
	sim.statsMu.Unlock()
	return sent
}

func (sim *Simulator) recordStats(hz int, tickTime time.Duration, sent int) {
	if d := sim.world.NumericAnomalies - sim.lastAnomalies; d > 0 {
		sim.metrics.NumericAnomalies.Add(float64(d))
		sim.lastAnomalies = sim.world.NumericAnomalies
	}

	sim.statsMu.Lock()
	defer sim.statsMu.Unlock()
	sim.stats.Tick = sim.world.Tick
	sim.stats.Players = len(sim.world.Players)
	sim.stats.Ships = len(sim.world.Ships)
	sim.stats.Projectiles = len(sim.world.Projectiles)
	sim.stats.SnapshotRateHz = hz
	sim.stats.LastTickMicros = tickTime.Microseconds()
	if sim.stats.AvgTickMicros == 0 {
		sim.stats.AvgTickMicros = float64(tickTime.Microseconds())
	} else {
		sim.stats.AvgTickMicros = sim.stats.AvgTickMicros*0.95 + float64(tickTime.Microseconds())*0.05
	}
	sim.stats.NumericAnomalies = sim.world.NumericAnomalies
}

// Stats returns a copy of the loop statistics.
func (sim *Simulator) Stats() SimStats {
	sim.statsMu.Lock()
	defer sim.statsMu.Unlock()
	return sim.stats
}
