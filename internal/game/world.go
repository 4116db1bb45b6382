package game

import (
	"fmt"
	"math"

	"topsail/internal/phys"
)

// InputUpdate is a validated hybrid-input record merged into a player's
// standing intent. Nil fields leave the corresponding intent untouched.
type InputUpdate struct {
	Movement *phys.Vec2
	IsMoving *bool
	Rotation *float64

	Action *Action

	SailOpenTarget  *float64
	Rudder          *float64
	SailAngleTarget *float64
	CannonAim       *float64
}

// ApplyInput merges a validated input record into the player's stored
// intent. It never advances physics; the simulator consumes the intent on
// the next tick. Must be called from the simulation task.
func (s *WorldState) ApplyInput(playerID uint32, upd InputUpdate) error {
	p := s.PlayerByID(playerID)
	if p == nil {
		return fmt.Errorf("apply input: no player %d", playerID)
	}

	if upd.Movement != nil {
		p.Input.Movement = *upd.Movement
	}
	if upd.IsMoving != nil {
		p.Input.IsMoving = *upd.IsMoving
	}
	if upd.Rotation != nil {
		p.Input.Rotation = phys.NormalizeAngle(*upd.Rotation)
	}
	if upd.CannonAim != nil {
		p.Input.CannonAim = phys.NormalizeAngle(*upd.CannonAim)
	}
	if upd.Action != nil {
		if len(p.Input.Actions) < ActionQueueCap {
			p.Input.Actions = append(p.Input.Actions, *upd.Action)
		}
	}

	// Helm controls only take effect while the player mans a helm.
	if s.playerAtHelm(p) {
		if upd.SailOpenTarget != nil {
			p.Input.SailOpenTarget = clamp(*upd.SailOpenTarget, 0, 1)
		}
		if upd.Rudder != nil {
			p.Input.RudderInput = clamp(*upd.Rudder, -1, 1)
		}
		if upd.SailAngleTarget != nil {
			p.Input.SailAngleTarget = clamp(*upd.SailAngleTarget, -SailAngleMax, SailAngleMax)
		}
	}
	return nil
}

// playerAtHelm reports whether the player is mounted at a helm module.
func (s *WorldState) playerAtHelm(p *Player) bool {
	if p.MountedModuleID == 0 {
		return false
	}
	_, m := s.ModuleByID(p.MountedModuleID)
	return m != nil && m.Kind == ModuleHelm
}

// Step advances the world by one fixed timestep. All mutation is confined
// to the receiver; given the same starting state and inputs the result is
// bit-identical. nowMs only stamps the snapshot timestamp and drives
// action expiry and hysteresis cooldowns.
func (s *WorldState) Step(nowMs int64) error {
	s.drainActions(nowMs)

	for _, ship := range s.Ships {
		before := shipPose{ship.Pos, ship.Rotation, ship.Vel, ship.AngVel}
		s.integrateShip(ship, TickDT)
		if !shipFinite(ship) {
			before.restore(ship)
			s.NumericAnomalies++
			if !shipFinite(ship) {
				return fmt.Errorf("ship %d: unrecoverable numeric anomaly", ship.ID)
			}
		}
	}

	for _, p := range s.Players {
		before := playerPose{p.Pos, p.Vel, p.LocalPos}
		s.integratePlayer(p, TickDT)
		if !playerFinite(p) {
			before.restore(p)
			s.NumericAnomalies++
			if t := s.Trackers[p.ID]; t != nil {
				t.AnomalyResets++
			}
			if !playerFinite(p) {
				return fmt.Errorf("player %d: unrecoverable numeric anomaly", p.ID)
			}
		}
	}

	s.updateCarriers(nowMs)
	s.integrateProjectiles(TickDT)
	s.resolveCollisions(TickDT)
	s.reseatRiders()

	s.Tick++
	s.TimestampMs = nowMs
	return nil
}

// reseatRiders re-derives walking players' world positions from their
// carrier's final pose. Collision separation can move a ship after its
// riders were integrated, and the snapshot must show them on the deck
// they are standing on.
func (s *WorldState) reseatRiders() {
	for _, p := range s.Players {
		if p.State != StateWalking {
			continue
		}
		if ship := s.ShipByID(p.CarrierShipID); ship != nil {
			p.Pos = ship.ToWorld(p.LocalPos)
			p.Vel = ship.Vel
		}
	}
}

// drainActions consumes every queued player action, dropping expired ones.
func (s *WorldState) drainActions(nowMs int64) {
	for _, p := range s.Players {
		actions := p.Input.Actions
		p.Input.Actions = p.Input.Actions[:0]
		for _, a := range actions {
			if a.QueuedMs != 0 && nowMs-a.QueuedMs > ActionExpiryMs {
				continue
			}
			s.applyAction(p, a)
		}
	}
}

func (s *WorldState) applyAction(p *Player, a Action) {
	switch a.Kind {
	case ActionJump:
		s.jump(p)
	case ActionFireCannon:
		s.fireCannons(p, a.FireAll, a.CannonIDs)
	case ActionReload:
		s.reloadCannons(p)
	case ActionMount:
		s.mount(p, a.Target)
	case ActionDismount:
		s.dismount(p)
	case ActionInteract:
		// Interacting with a specific module mounts it; with no target,
		// the nearest mountable module within reach is used.
		if a.Target != 0 {
			s.mount(p, a.Target)
		} else {
			s.mountNearest(p)
		}
	}
}

const mountReach = 60.0

// mount seats the player at a module on their carrier ship.
func (s *WorldState) mount(p *Player, moduleID uint32) {
	if p.State != StateWalking {
		return
	}
	ship, m := s.ModuleByID(moduleID)
	if ship == nil || ship.ID != p.CarrierShipID || m.OccupiedBy != 0 {
		return
	}
	if m.LocalPos.Sub(p.LocalPos).Length() > mountReach {
		return
	}
	s.dismount(p)
	m.OccupiedBy = p.ID
	p.MountedModuleID = m.ID
	p.MountOffset = phys.Vec2{}
	p.LocalPos = m.LocalPos
}

func (s *WorldState) mountNearest(p *Player) {
	ship := s.playerShip(p)
	if ship == nil {
		return
	}
	var best *Module
	bestDist := mountReach * mountReach
	for _, m := range ship.Modules {
		switch m.Kind {
		case ModuleHelm, ModuleSeat, ModuleCannon:
		default:
			continue
		}
		if m.OccupiedBy != 0 {
			continue
		}
		d := m.LocalPos.Sub(p.LocalPos).LengthSq()
		if d <= bestDist {
			best = m
			bestDist = d
		}
	}
	if best != nil {
		s.mount(p, best.ID)
	}
}

func (s *WorldState) dismount(p *Player) {
	if p.MountedModuleID == 0 {
		return
	}
	if _, m := s.ModuleByID(p.MountedModuleID); m != nil && m.OccupiedBy == p.ID {
		m.OccupiedBy = 0
	}
	p.MountedModuleID = 0
	// Releasing the helm centers the rudder and holds current sail trim.
	p.Input.RudderInput = 0
}

// Numeric anomaly guards. A NaN or Inf anywhere in an entity's kinematic
// state resets it to its pre-tick pose.

type shipPose struct {
	pos    phys.Vec2
	rot    float64
	vel    phys.Vec2
	angVel float64
}

func (sp shipPose) restore(ship *Ship) {
	ship.Pos = sp.pos
	ship.Rotation = sp.rot
	ship.Vel = sp.vel
	ship.AngVel = sp.angVel
}

type playerPose struct {
	pos   phys.Vec2
	vel   phys.Vec2
	local phys.Vec2
}

func (pp playerPose) restore(p *Player) {
	p.Pos = pp.pos
	p.Vel = pp.vel
	p.LocalPos = pp.local
}

func shipFinite(ship *Ship) bool {
	return ship.Pos.IsFinite() && ship.Vel.IsFinite() &&
		finite(ship.Rotation) && finite(ship.AngVel)
}

func playerFinite(p *Player) bool {
	return p.Pos.IsFinite() && p.Vel.IsFinite() && p.LocalPos.IsFinite() &&
		finite(p.Rotation)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
