package game

import (
	"topsail/internal/phys"
)

// ActionKind identifies a queued one-shot action.
type ActionKind string

const (
	ActionFireCannon ActionKind = "fire_cannon"
	ActionJump       ActionKind = "jump"
	ActionInteract   ActionKind = "interact"
	ActionReload     ActionKind = "reload"
	ActionMount      ActionKind = "mount"
	ActionDismount   ActionKind = "dismount"
)

// Action is a pending one-shot event consumed on the next tick.
type Action struct {
	Kind     ActionKind
	Target   uint32 // Module id for mount/interact, 0 otherwise
	QueuedMs int64  // Wall time when queued, for expiry

	// Cannon fire parameters.
	FireAll   bool
	CannonIDs []uint32
}

// InputIntent is the player's standing hybrid-input record. Movement and
// rotation persist across ticks; actions are drained each tick.
type InputIntent struct {
	Movement  phys.Vec2 // Unit-ish direction, zero when idle
	IsMoving  bool
	Rotation  float64 // Most recent aim rotation, [-pi, pi]
	CannonAim float64 // Ship-relative aim, radians
	Actions   []Action

	// Helm controls, applied while the player is mounted at a helm.
	RudderInput     float64 // -1, 0, +1
	SailOpenTarget  float64 // [0, 1]
	SailAngleTarget float64 // [-pi/3, pi/3]
}

// Player is a character that swims in the world or walks on a ship deck.
type Player struct {
	ID       uint32
	Name     string
	Pos      phys.Vec2 // World position
	Vel      phys.Vec2 // World velocity
	Rotation float64   // Facing, radians
	Radius   float64

	State         string // SWIMMING / WALKING / FALLING
	CarrierShipID uint32 // 0 = none
	OnDeck        bool
	LocalPos      phys.Vec2 // Carrier-local, valid when CarrierShipID != 0

	MountedModuleID uint32
	MountOffset     phys.Vec2

	FallTimeLeft float64 // Seconds remaining in FALLING

	Input InputIntent
}

// Projectile is a cannonball in flight.
type Projectile struct {
	ID               uint32
	Pos              phys.Vec2
	Vel              phys.Vec2
	FiringVel        phys.Vec2 // Velocity at the muzzle, before inheritance
	Radius           float64
	MaxRange         float64
	DistanceTraveled float64
	TimeAlive        float64
	FiredFrom        uint32 // Ship id
}

// CarrierTracker holds per-player boarding hysteresis counters.
type CarrierTracker struct {
	InTicks        map[uint32]int // Per-ship consecutive containment ticks
	OutTicks       int            // Consecutive ticks outside the current carrier
	CooldownUntil  int64          // Wall ms before which switching is blocked
	LastCarrierID  uint32
	AnomalyResets int // Numeric anomaly recoveries on this player
}

// Wind is the ambient wind field. Zero strength disables the sail factor.
type Wind struct {
	Direction float64
	Strength  float64
}

// WorldState is the complete simulation state at one tick. It is owned by
// the simulation task; everyone else sees copies.
type WorldState struct {
	Tick        uint32
	TimestampMs int64

	Ships       []*Ship
	Players     []*Player
	Projectiles []*Projectile
	Trackers    map[uint32]*CarrierTracker

	Wind Wind

	nextPlayerID     uint32
	nextShipID       uint32
	nextProjectileID uint32
	nextModuleID     uint32

	// Observability counters, bumped inside the tick.
	NumericAnomalies uint64
}

// NewWorldState creates an empty world.
func NewWorldState() *WorldState {
	return &WorldState{
		Trackers:         make(map[uint32]*CarrierTracker),
		nextPlayerID:     FirstPlayerID,
		nextShipID:       FirstShipID,
		nextProjectileID: FirstProjectileID,
		nextModuleID:     1,
	}
}

// ShipByID looks up a ship. Entity counts are small, so a linear scan is
// fine and keeps iteration order deterministic.
func (s *WorldState) ShipByID(id uint32) *Ship {
	for _, ship := range s.Ships {
		if ship.ID == id {
			return ship
		}
	}
	return nil
}

// PlayerByID looks up a player.
func (s *WorldState) PlayerByID(id uint32) *Player {
	for _, p := range s.Players {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// ModuleByID scans all ships for a module.
func (s *WorldState) ModuleByID(id uint32) (*Ship, *Module) {
	for _, ship := range s.Ships {
		for _, m := range ship.Modules {
			if m.ID == id {
				return ship, m
			}
		}
	}
	return nil, nil
}

// AddPlayer creates a player at spawn and returns it.
func (s *WorldState) AddPlayer(name string) *Player {
	p := &Player{
		ID:       s.nextPlayerID,
		Name:     name,
		Radius:   PlayerRadius,
		State:    StateSwimming,
		Pos:      phys.Vec2{},
	}
	s.nextPlayerID++
	s.Players = append(s.Players, p)
	s.Trackers[p.ID] = &CarrierTracker{InTicks: make(map[uint32]int)}
	return p
}

// RemovePlayer drops a player and vacates any mounted module.
func (s *WorldState) RemovePlayer(id uint32) {
	for i, p := range s.Players {
		if p.ID != id {
			continue
		}
		if p.MountedModuleID != 0 {
			if _, m := s.ModuleByID(p.MountedModuleID); m != nil {
				m.OccupiedBy = 0
			}
		}
		s.Players = append(s.Players[:i], s.Players[i+1:]...)
		delete(s.Trackers, id)
		return
	}
}

// Clone deep-copies the world state. Used for snapshot emission and the
// client rewind buffer.
func (s *WorldState) Clone() *WorldState {
	out := &WorldState{
		Tick:             s.Tick,
		TimestampMs:      s.TimestampMs,
		Wind:             s.Wind,
		Trackers:         make(map[uint32]*CarrierTracker, len(s.Trackers)),
		nextPlayerID:     s.nextPlayerID,
		nextShipID:       s.nextShipID,
		nextProjectileID: s.nextProjectileID,
		nextModuleID:     s.nextModuleID,
		NumericAnomalies: s.NumericAnomalies,
	}

	out.Ships = make([]*Ship, len(s.Ships))
	for i, ship := range s.Ships {
		out.Ships[i] = ship.Clone()
	}
	out.Players = make([]*Player, len(s.Players))
	for i, p := range s.Players {
		cp := *p
		cp.Input.Actions = append([]Action(nil), p.Input.Actions...)
		out.Players[i] = &cp
	}
	out.Projectiles = make([]*Projectile, len(s.Projectiles))
	for i, pr := range s.Projectiles {
		cp := *pr
		out.Projectiles[i] = &cp
	}
	for id, t := range s.Trackers {
		ct := &CarrierTracker{
			InTicks:       make(map[uint32]int, len(t.InTicks)),
			OutTicks:      t.OutTicks,
			CooldownUntil: t.CooldownUntil,
			LastCarrierID: t.LastCarrierID,
			AnomalyResets: t.AnomalyResets,
		}
		for k, v := range t.InTicks {
			ct.InTicks[k] = v
		}
		out.Trackers[id] = ct
	}
	return out
}
