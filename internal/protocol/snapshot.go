package protocol

import (
	"topsail/internal/game"
	"topsail/internal/phys"
)

// SnapshotFromWorld builds the full GAME_STATE message from a world copy.
func SnapshotFromWorld(s *game.WorldState) GameState {
	gs := GameState{
		Type:        MsgTypeGameState,
		Tick:        s.Tick,
		Timestamp:   s.TimestampMs,
		Ships:       make([]ShipState, 0, len(s.Ships)),
		Players:     make([]PlayerState, 0, len(s.Players)),
		Projectiles: make([]ProjectileState, 0, len(s.Projectiles)),
	}

	for _, ship := range s.Ships {
		ss := ShipState{
			ID:              ship.ID,
			X:               ship.Pos.X,
			Y:               ship.Pos.Y,
			Rotation:        ship.Rotation,
			VelocityX:       ship.Vel.X,
			VelocityY:       ship.Vel.Y,
			AngularVelocity: ship.AngVel,
			Rudder:          ship.RudderInput,
			SailOpenness:    ship.SailOpenActual,
			SailAngle:       ship.SailAngle,
			Mass:            ship.Mass,
			MomentOfInertia: ship.MomentOfInertia,
			MaxSpeed:        ship.MaxSpeed,
			TurnRate:        ship.TurnRate,
			Modules:         make([]ModuleState, 0, len(ship.Modules)),
		}
		for _, m := range ship.Modules {
			ss.Modules = append(ss.Modules, moduleState(m))
		}
		gs.Ships = append(gs.Ships, ss)
	}

	for _, p := range s.Players {
		gs.Players = append(gs.Players, PlayerState{
			ID:                 p.ID,
			Name:               p.Name,
			WorldX:             p.Pos.X,
			WorldY:             p.Pos.Y,
			Rotation:           p.Rotation,
			VelocityX:          p.Vel.X,
			VelocityY:          p.Vel.Y,
			IsMoving:           p.Input.IsMoving,
			MovementDirectionX: p.Input.Movement.X,
			MovementDirectionY: p.Input.Movement.Y,
			ParentShip:         p.CarrierShipID,
			LocalX:             p.LocalPos.X,
			LocalY:             p.LocalPos.Y,
			State:              p.State,
			MountedModule:      p.MountedModuleID,
		})
	}

	for _, pr := range s.Projectiles {
		gs.Projectiles = append(gs.Projectiles, ProjectileState{
			ID:        pr.ID,
			X:         pr.Pos.X,
			Y:         pr.Pos.Y,
			VelocityX: pr.Vel.X,
			VelocityY: pr.Vel.Y,
			FiredFrom: pr.FiredFrom,
		})
	}
	return gs
}

// WorldFromSnapshot rebuilds a simulation state from a GAME_STATE message.
// Used by clients to seed and reconcile their predicted world. Module
// detail beyond the snapshot fields keeps defaults.
func WorldFromSnapshot(gs GameState) *game.WorldState {
	s := game.NewWorldState()
	s.Tick = gs.Tick
	s.TimestampMs = gs.Timestamp

	for _, ss := range gs.Ships {
		ship := s.NewBrigantine(phys.Vec2{X: ss.X, Y: ss.Y}, ss.Rotation)
		ship.ID = ss.ID
		ship.Vel = phys.Vec2{X: ss.VelocityX, Y: ss.VelocityY}
		ship.AngVel = ss.AngularVelocity
		ship.RudderInput = ss.Rudder
		ship.SailOpenActual = ss.SailOpenness
		ship.SailOpenTarget = ss.SailOpenness
		ship.SailAngle = ss.SailAngle
		ship.SailAngleTarget = ss.SailAngle
		if ss.Mass > 0 {
			ship.Mass = ss.Mass
		}
		if ss.MomentOfInertia > 0 {
			ship.MomentOfInertia = ss.MomentOfInertia
		}
		if ss.MaxSpeed > 0 {
			ship.MaxSpeed = ss.MaxSpeed
		}
		if ss.TurnRate > 0 {
			ship.TurnRate = ss.TurnRate
		}
		applyModuleStates(ship, ss.Modules)
	}

	for _, ps := range gs.Players {
		p := s.AddPlayer(ps.Name)
		p.ID = ps.ID
		p.Pos = phys.Vec2{X: ps.WorldX, Y: ps.WorldY}
		p.Vel = phys.Vec2{X: ps.VelocityX, Y: ps.VelocityY}
		p.Rotation = ps.Rotation
		p.State = ps.State
		p.CarrierShipID = ps.ParentShip
		p.OnDeck = ps.ParentShip != 0
		p.LocalPos = phys.Vec2{X: ps.LocalX, Y: ps.LocalY}
		p.MountedModuleID = ps.MountedModule
		p.Input.IsMoving = ps.IsMoving
		p.Input.Movement = phys.Vec2{X: ps.MovementDirectionX, Y: ps.MovementDirectionY}
		p.Input.Rotation = ps.Rotation
	}

	for _, prs := range gs.Projectiles {
		pr := s.SpawnProjectile(
			phys.Vec2{X: prs.X, Y: prs.Y},
			phys.Vec2{X: prs.VelocityX, Y: prs.VelocityY},
			prs.FiredFrom,
		)
		pr.ID = prs.ID
	}
	return s
}

func moduleState(m *game.Module) ModuleState {
	ms := ModuleState{
		ID:         m.ID,
		Kind:       uint8(m.Kind),
		LocalX:     m.LocalPos.X,
		LocalY:     m.LocalPos.Y,
		LocalRot:   m.LocalRot,
		OccupiedBy: m.OccupiedBy,
		StateBits:  m.StateBits,
	}
	if m.Cannon != nil {
		aim := m.Cannon.AimDirection
		ammo := m.Cannon.Ammunition
		tsf := m.Cannon.TimeSinceFire
		ms.AimDirection = &aim
		ms.Ammunition = &ammo
		ms.TimeSinceFire = &tsf
	}
	if m.Mast != nil {
		open := m.Mast.OpennessTarget
		angle := m.Mast.SailAngle
		ms.SailOpenness = &open
		ms.SailAngle = &angle
	}
	if m.Plank != nil {
		h := m.Plank.Health
		ms.Health = &h
	}
	return ms
}

// applyModuleStates overlays snapshot module fields onto the default deck
// layout, matching modules pairwise in order.
func applyModuleStates(ship *game.Ship, states []ModuleState) {
	for i, m := range ship.Modules {
		if i >= len(states) {
			return
		}
		st := states[i]
		m.ID = st.ID
		m.OccupiedBy = st.OccupiedBy
		m.StateBits = st.StateBits
		if m.Cannon != nil && st.AimDirection != nil {
			m.Cannon.AimDirection = *st.AimDirection
			if st.Ammunition != nil {
				m.Cannon.Ammunition = *st.Ammunition
			}
			if st.TimeSinceFire != nil {
				m.Cannon.TimeSinceFire = *st.TimeSinceFire
			}
		}
		if m.Plank != nil && st.Health != nil {
			m.Plank.Health = *st.Health
		}
	}
}

// QuantizeWorld packs ships, players and projectiles into binary snapshot
// entities relative to the world origin.
func QuantizeWorld(s *game.WorldState) []SnapshotEntity {
	out := make([]SnapshotEntity, 0, len(s.Ships)+len(s.Players)+len(s.Projectiles))
	for _, ship := range s.Ships {
		out = append(out, SnapshotEntity{
			EntityID: uint16(ship.ID),
			PosX:     phys.QuantizePos(ship.Pos.X),
			PosY:     phys.QuantizePos(ship.Pos.Y),
			VelX:     phys.QuantizeVel(ship.Vel.X),
			VelY:     phys.QuantizeVel(ship.Vel.Y),
			Rotation: phys.QuantizeRot(ship.Rotation),
		})
	}
	for _, p := range s.Players {
		var flags uint8
		switch p.State {
		case game.StateWalking:
			flags = 1
		case game.StateFalling:
			flags = 2
		}
		out = append(out, SnapshotEntity{
			EntityID:   uint16(p.ID),
			PosX:       phys.QuantizePos(p.Pos.X),
			PosY:       phys.QuantizePos(p.Pos.Y),
			VelX:       phys.QuantizeVel(p.Vel.X),
			VelY:       phys.QuantizeVel(p.Vel.Y),
			Rotation:   phys.QuantizeRot(p.Rotation),
			StateFlags: flags,
		})
	}
	for _, pr := range s.Projectiles {
		out = append(out, SnapshotEntity{
			EntityID: uint16(pr.ID),
			PosX:     phys.QuantizePos(pr.Pos.X),
			PosY:     phys.QuantizePos(pr.Pos.Y),
			VelX:     phys.QuantizeVel(pr.Vel.X),
			VelY:     phys.QuantizeVel(pr.Vel.Y),
			Rotation: 0,
		})
	}
	return out
}
