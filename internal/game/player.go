package game

import (
	"topsail/internal/phys"
)

// integratePlayer advances one player by dt according to the movement
// state machine.
func (s *WorldState) integratePlayer(p *Player, dt float64) {
	p.Rotation = phys.NormalizeAngle(p.Input.Rotation)

	switch p.State {
	case StateWalking:
		s.integrateWalking(p, dt)
	case StateSwimming:
		s.integrateSwimming(p, dt)
	case StateFalling:
		s.integrateFalling(p, dt)
	}
}

// integrateWalking moves the player in the carrier-local frame, clamps to
// the deck bounds, and recomputes the world position from the ship pose.
func (s *WorldState) integrateWalking(p *Player, dt float64) {
	ship := s.ShipByID(p.CarrierShipID)
	if ship == nil {
		// Carrier vanished under us; fall back to swimming.
		s.dismount(p)
		p.State = StateSwimming
		p.CarrierShipID = 0
		p.OnDeck = false
		return
	}

	if p.MountedModuleID != 0 {
		// Mounted players ride their module and do not walk.
		if _, m := s.ModuleByID(p.MountedModuleID); m != nil {
			p.LocalPos = m.LocalPos.Add(p.MountOffset)
		}
	} else if p.Input.IsMoving {
		dir := p.Input.Movement.ClampLength(1)
		localDir := dir.Rotated(-ship.Rotation)
		p.LocalPos = p.LocalPos.Add(localDir.Scale(WalkSpeed * dt))
	}

	// Keep the player on deck. The AABB is inflated slightly so rotation
	// jitter at the rail does not eject walkers.
	slack := DeckClampSlack * p.Radius
	p.LocalPos.X = clamp(p.LocalPos.X, DeckMinX-slack, DeckMaxX+slack)
	p.LocalPos.Y = clamp(p.LocalPos.Y, DeckMinY-slack, DeckMaxY+slack)

	p.Pos = ship.ToWorld(p.LocalPos)
	// Walkers inherit the carrier's velocity for projectile inheritance
	// and snapshot consumers.
	p.Vel = ship.Vel
	p.OnDeck = true
}

// integrateSwimming moves the player in the world frame.
func (s *WorldState) integrateSwimming(p *Player, dt float64) {
	p.CarrierShipID = 0
	p.OnDeck = false

	if p.Input.IsMoving {
		dir := p.Input.Movement.ClampLength(1)
		p.Vel = dir.Scale(SwimSpeed)
	} else {
		p.Vel = p.Vel.Scale(SwimDrag)
	}
	p.Pos = p.Pos.Add(p.Vel.Scale(dt))

	p.Pos.X = clamp(p.Pos.X, -WorldBounds, WorldBounds)
	p.Pos.Y = clamp(p.Pos.Y, -WorldBounds, WorldBounds)
}

// integrateFalling carries the jump ballistic and lands the player after
// the fall timer with a single-tick deck test.
func (s *WorldState) integrateFalling(p *Player, dt float64) {
	p.Pos = p.Pos.Add(p.Vel.Scale(dt))
	p.FallTimeLeft -= dt
	if p.FallTimeLeft > 0 {
		return
	}

	for _, ship := range s.Ships {
		local := ship.ToLocal(p.Pos)
		if ship.DeckContains(local) {
			p.State = StateWalking
			p.CarrierShipID = ship.ID
			p.OnDeck = true
			p.LocalPos = local
			if t := s.Trackers[p.ID]; t != nil {
				t.LastCarrierID = ship.ID
				t.OutTicks = 0
				for k := range t.InTicks {
					delete(t.InTicks, k)
				}
			}
			return
		}
	}
	p.State = StateSwimming
	p.Vel = p.Vel.Scale(0.25) // Water absorbs most of the fall momentum
}

// jump detaches a walking player from the deck.
func (s *WorldState) jump(p *Player) {
	if p.State != StateWalking {
		return
	}
	ship := s.ShipByID(p.CarrierShipID)
	// Vacate any manned module so the helm or cannon frees up and the
	// departed player's stored rudder stops steering the ship.
	s.dismount(p)
	p.State = StateFalling
	p.FallTimeLeft = FallDuration
	p.CarrierShipID = 0
	p.OnDeck = false

	impulse := phys.Forward(p.Rotation).Scale(JumpImpulse)
	if ship != nil {
		p.Vel = ship.Vel.Add(impulse)
	} else {
		p.Vel = impulse
	}
	if t := s.Trackers[p.ID]; t != nil {
		t.CooldownUntil = s.TimestampMs + CarrierCooldownMs
		t.OutTicks = 0
		for k := range t.InTicks {
			delete(t.InTicks, k)
		}
	}
}
