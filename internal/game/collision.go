package game

import (
	"topsail/internal/phys"
)

const collisionRestitution = 0.3

// resolveCollisions handles ship-ship contacts and projectile-hull hits.
func (s *WorldState) resolveCollisions(dt float64) {
	s.resolveShipCollisions()
	s.resolveProjectileHits(dt)
}

// resolveShipCollisions runs bounding-circle broadphase then SAT on the
// hull polygons, separating overlapping ships and exchanging an impulse.
func (s *WorldState) resolveShipCollisions() {
	for i := 0; i < len(s.Ships); i++ {
		for j := i + 1; j < len(s.Ships); j++ {
			a := s.Ships[i]
			b := s.Ships[j]

			dist := a.Pos.Sub(b.Pos).Length()
			if dist > a.HullRadius()+b.HullRadius() {
				continue
			}

			hit, mtv := phys.SATIntersect(a.WorldHull(), b.WorldHull())
			if !hit {
				continue
			}
			s.collideShips(a, b, mtv)
		}
	}
}

// collideShips separates two overlapping ships along the MTV and applies
// an impulse using mass and moment of inertia.
func (s *WorldState) collideShips(a, b *Ship, mtv phys.Vec2) {
	// Positional correction split by inverse mass.
	invMassA := 1 / a.Mass
	invMassB := 1 / b.Mass
	total := invMassA + invMassB
	a.Pos = a.Pos.Add(mtv.Scale(invMassA / total))
	b.Pos = b.Pos.Sub(mtv.Scale(invMassB / total))

	normal := mtv.Normalized()
	if normal.LengthSq() == 0 {
		return
	}

	// Approximate contact point midway between the hulls along the normal.
	contact := phys.Lerp(a.Pos, b.Pos, a.HullRadius()/(a.HullRadius()+b.HullRadius()))
	ra := contact.Sub(a.Pos)
	rb := contact.Sub(b.Pos)

	velA := a.Vel.Add(ra.Perp().Scale(a.AngVel))
	velB := b.Vel.Add(rb.Perp().Scale(b.AngVel))
	relVel := velA.Sub(velB)

	closing := relVel.Dot(normal)
	if closing > 0 {
		return // already separating
	}

	raCrossN := ra.Cross(normal)
	rbCrossN := rb.Cross(normal)
	denom := invMassA + invMassB +
		raCrossN*raCrossN/a.MomentOfInertia +
		rbCrossN*rbCrossN/b.MomentOfInertia
	j := -(1 + collisionRestitution) * closing / denom

	impulse := normal.Scale(j)
	a.Vel = a.Vel.Add(impulse.Scale(invMassA)).ClampLength(a.MaxSpeed)
	b.Vel = b.Vel.Sub(impulse.Scale(invMassB)).ClampLength(b.MaxSpeed)
	a.AngVel = clamp(a.AngVel+raCrossN*j/a.MomentOfInertia, -a.TurnRate, a.TurnRate)
	b.AngVel = clamp(b.AngVel-rbCrossN*j/b.MomentOfInertia, -b.TurnRate, b.TurnRate)
}

// resolveProjectileHits retires cannonballs whose path this tick crossed a
// hull and marks the nearest plank damaged.
func (s *WorldState) resolveProjectileHits(dt float64) {
	alive := s.Projectiles[:0]
	for _, pr := range s.Projectiles {
		prev := pr.Pos.Sub(pr.Vel.Scale(dt))
		hitShip := (*Ship)(nil)
		for _, ship := range s.Ships {
			if ship.ID == pr.FiredFrom && pr.DistanceTraveled < 2*ship.HullRadius() {
				continue // let the ball clear its own hull first
			}
			if pr.Pos.Sub(ship.Pos).Length() > ship.HullRadius()+pr.Radius {
				continue
			}
			if phys.SegmentIntersectsPolygon(prev, pr.Pos, ship.WorldHull()) {
				hitShip = ship
				break
			}
		}
		if hitShip == nil {
			alive = append(alive, pr)
			continue
		}
		s.damageNearestPlank(hitShip, pr.Pos)
	}
	s.Projectiles = alive
}

// damageNearestPlank applies cannonball damage to the closest plank module.
func (s *WorldState) damageNearestPlank(ship *Ship, worldHit phys.Vec2) {
	local := ship.ToLocal(worldHit)
	var best *Module
	bestDist := 0.0
	for _, m := range ship.Modules {
		if m.Kind != ModulePlank || m.Plank == nil {
			continue
		}
		d := m.LocalPos.Sub(local).LengthSq()
		if best == nil || d < bestDist {
			best = m
			bestDist = d
		}
	}
	if best == nil {
		return
	}
	best.Plank.Health -= 25
	if best.Plank.Health <= 0 {
		best.Plank.Health = 0
		best.StateBits |= ModuleStateDamaged
	}
}
