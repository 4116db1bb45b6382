package game

import (
	"topsail/internal/phys"
)

// SpawnProjectile appends a cannonball with a unique id and returns it.
func (s *WorldState) SpawnProjectile(origin phys.Vec2, vel phys.Vec2, firedFrom uint32) *Projectile {
	pr := &Projectile{
		ID:        s.nextProjectileID,
		Pos:       origin,
		Vel:       vel,
		FiringVel: vel,
		Radius:    CannonballRadius,
		MaxRange:  CannonballMaxRange,
		FiredFrom: firedFrom,
	}
	s.nextProjectileID++
	s.Projectiles = append(s.Projectiles, pr)
	return pr
}

// integrateProjectiles advances cannonballs in a straight line and retires
// the ones that exhausted their range.
func (s *WorldState) integrateProjectiles(dt float64) {
	alive := s.Projectiles[:0]
	for _, pr := range s.Projectiles {
		step := pr.Vel.Scale(dt)
		pr.Pos = pr.Pos.Add(step)
		pr.DistanceTraveled += step.Length()
		pr.TimeAlive += dt
		if pr.DistanceTraveled >= pr.MaxRange {
			continue
		}
		alive = append(alive, pr)
	}
	s.Projectiles = alive
}

// fireCannons resolves a cannon_fire request for the ship the player is
// helming. With fireAll every ready cannon shoots; otherwise only cannons
// whose fixed bearing lies within the aim tolerance of the player's
// cannon_aim. Explicit cannon ids narrow the selection further.
func (s *WorldState) fireCannons(p *Player, fireAll bool, cannonIDs []uint32) int {
	ship := s.playerShip(p)
	if ship == nil {
		return 0
	}

	wanted := func(id uint32) bool {
		if len(cannonIDs) == 0 {
			return true
		}
		for _, c := range cannonIDs {
			if c == id {
				return true
			}
		}
		return false
	}

	fired := 0
	for _, m := range ship.Modules {
		if m.Kind != ModuleCannon || m.Cannon == nil || !wanted(m.ID) {
			continue
		}
		if !m.Ready() {
			continue
		}
		if !fireAll {
			diff := phys.NormalizeAngle(m.Cannon.AimDirection - p.Input.CannonAim)
			if diff > CannonAimTolerance || diff < -CannonAimTolerance {
				continue
			}
		}

		dir := phys.Forward(ship.Rotation + m.Cannon.AimDirection)
		// Cannonballs inherit the firing ship's velocity.
		vel := dir.Scale(CannonballSpeed).Add(ship.Vel)
		s.SpawnProjectile(m.WorldPos(ship), vel, ship.ID)

		m.Cannon.TimeSinceFire = 0
		m.Cannon.Ammunition--
		fired++
	}
	return fired
}

// reloadCannons tops up ammunition on the player's ship.
func (s *WorldState) reloadCannons(p *Player) {
	ship := s.playerShip(p)
	if ship == nil {
		return
	}
	for _, m := range ship.Modules {
		if m.Kind == ModuleCannon && m.Cannon != nil {
			m.Cannon.Ammunition = DefaultAmmunition
		}
	}
}

// playerShip resolves the ship a player's ship-level commands act on: the
// carrier they currently stand on.
func (s *WorldState) playerShip(p *Player) *Ship {
	if p.CarrierShipID == 0 {
		return nil
	}
	return s.ShipByID(p.CarrierShipID)
}
