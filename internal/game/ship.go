package game

import (
	"math"

	"topsail/internal/phys"
)

// Ship is a rigid body with a polygon hull that players can walk on.
type Ship struct {
	ID       uint32
	Pos      phys.Vec2
	Rotation float64
	Vel      phys.Vec2
	AngVel   float64

	Mass            float64
	MomentOfInertia float64
	MaxSpeed        float64
	TurnRate        float64
	WaterDrag       float64
	AngularDrag     float64

	Hull []phys.Vec2 // Ship-local, closed (last point repeats the first)

	Modules []*Module

	// Controller state, driven by whoever mans the helm.
	RudderInput     float64 // [-1, 1]
	SailOpenTarget  float64 // [0, 1]
	SailOpenActual  float64 // Slewed toward target
	SailAngle       float64 // [-pi/3, pi/3]
	SailAngleTarget float64

	hullRadius float64
}

// Hull control points for the brigantine, ship-local. Three quadratic
// Bezier arcs (port side, bow, starboard side) plus three linear stern
// edges close the outline.
var brigantineControls = [6]phys.Vec2{
	{X: -320, Y: -80}, // stern port anchor
	{X: 90, Y: -135},  // port side handle
	{X: 455, Y: -45},  // bow port anchor
	{X: 580, Y: 0},    // bow handle
	{X: 455, Y: 45},   // bow starboard anchor
	{X: 90, Y: 135},   // starboard side handle
}

const hullArcSamples = 15

// buildBrigantineHull generates the 49-point closed hull polygon.
func buildBrigantineHull() []phys.Vec2 {
	c := brigantineControls
	sternStarboard := phys.Vec2{X: -320, Y: 80}
	sternNotchTop := phys.Vec2{X: -345, Y: 30}
	sternNotchBot := phys.Vec2{X: -345, Y: -30}

	pts := make([]phys.Vec2, 0, 3*hullArcSamples+4)

	arcs := [3][3]phys.Vec2{
		{c[0], c[1], c[2]},           // port side
		{c[2], c[3], c[4]},           // bow
		{c[4], c[5], sternStarboard}, // starboard side
	}
	for _, arc := range arcs {
		for i := 0; i < hullArcSamples; i++ {
			t := float64(i) / float64(hullArcSamples)
			pts = append(pts, phys.QuadBezier(arc[0], arc[1], arc[2], t))
		}
	}
	// Stern: three linear edges back to the port anchor.
	pts = append(pts, sternStarboard, sternNotchTop, sternNotchBot)
	// Close the ring.
	pts = append(pts, pts[0])
	return pts
}

// NewBrigantine builds a ship with the default hull and deck layout.
func (s *WorldState) NewBrigantine(pos phys.Vec2, rotation float64) *Ship {
	ship := &Ship{
		ID:              s.nextShipID,
		Pos:             pos,
		Rotation:        rotation,
		Mass:            ShipMass,
		MomentOfInertia: ShipMomentOfInertia,
		MaxSpeed:        ShipMaxSpeed,
		TurnRate:        ShipTurnRate,
		WaterDrag:       ShipWaterDrag,
		AngularDrag:     ShipAngularDrag,
		Hull:            buildBrigantineHull(),
	}
	s.nextShipID++
	ship.hullRadius = phys.BoundingRadius(ship.Hull)

	// Deck layout: helm aft, two masts on the centerline, three cannon
	// pairs amidships, boarding ladder and planks along the rails.
	s.addModule(ship, ModuleHelm, phys.Vec2{X: -200, Y: 0}, 0)
	s.addModule(ship, ModuleMast, phys.Vec2{X: -60, Y: 0}, 0)
	s.addModule(ship, ModuleMast, phys.Vec2{X: 180, Y: 0}, 0)
	for i := 0; i < 3; i++ {
		x := float64(-80 + i*120)
		s.addModule(ship, ModuleCannon, phys.Vec2{X: x, Y: DeckMinY + 15}, -math.Pi/2) // port
		s.addModule(ship, ModuleCannon, phys.Vec2{X: x, Y: DeckMaxY - 15}, math.Pi/2)  // starboard
	}
	s.addModule(ship, ModuleLadder, phys.Vec2{X: -250, Y: DeckMaxY - 5}, 0)
	for i := 0; i < 4; i++ {
		m := s.addModule(ship, ModulePlank, phys.Vec2{X: DeckMinX + 40 + float64(i)*180, Y: 0}, 0)
		m.Plank.SegmentIndex = i
	}
	s.addModule(ship, ModuleSeat, phys.Vec2{X: 320, Y: 0}, 0)

	s.Ships = append(s.Ships, ship)
	return ship
}

// Clone deep-copies the ship. The hull is immutable and shared.
func (sh *Ship) Clone() *Ship {
	cp := *sh
	cp.Modules = make([]*Module, len(sh.Modules))
	for i, m := range sh.Modules {
		cp.Modules[i] = m.Clone()
	}
	return &cp
}

// WorldHull returns the hull transformed into world coordinates.
func (sh *Ship) WorldHull() []phys.Vec2 {
	out := make([]phys.Vec2, len(sh.Hull))
	for i, p := range sh.Hull {
		out[i] = sh.Pos.Add(p.Rotated(sh.Rotation))
	}
	return out
}

// HullRadius is the broadphase bounding circle radius.
func (sh *Ship) HullRadius() float64 {
	if sh.hullRadius == 0 {
		sh.hullRadius = phys.BoundingRadius(sh.Hull)
	}
	return sh.hullRadius
}

// ToLocal converts a world point into ship-local coordinates.
func (sh *Ship) ToLocal(world phys.Vec2) phys.Vec2 {
	return world.Sub(sh.Pos).Rotated(-sh.Rotation)
}

// ToWorld converts a ship-local point into world coordinates.
func (sh *Ship) ToWorld(local phys.Vec2) phys.Vec2 {
	return sh.Pos.Add(local.Rotated(sh.Rotation))
}

// DeckContains tests a ship-local point against the deck AABB.
func (sh *Ship) DeckContains(local phys.Vec2) bool {
	return local.X >= DeckMinX && local.X <= DeckMaxX &&
		local.Y >= DeckMinY && local.Y <= DeckMaxY
}

// Helm returns the ship's helm module, if any.
func (sh *Ship) Helm() *Module {
	for _, m := range sh.Modules {
		if m.Kind == ModuleHelm {
			return m
		}
	}
	return nil
}

// sailWindFactor scales thrust by how well the sail catches the wind.
// With no wind the factor is 1 so ships still sail (fails soft).
func sailWindFactor(wind Wind, shipRotation, sailAngle float64) float64 {
	if wind.Strength == 0 {
		return 1
	}
	rel := phys.NormalizeAngle(wind.Direction - (shipRotation + sailAngle))
	return 0.5 + 0.5*math.Cos(rel)
}

// integrateShip advances one ship by dt.
func (s *WorldState) integrateShip(ship *Ship, dt float64) {
	// Helm override: a mounted player's stored controls drive the ship.
	if helm := ship.Helm(); helm != nil && helm.OccupiedBy != 0 {
		if p := s.PlayerByID(helm.OccupiedBy); p != nil {
			ship.RudderInput = p.Input.RudderInput
			ship.SailOpenTarget = p.Input.SailOpenTarget
			ship.SailAngleTarget = p.Input.SailAngleTarget
		}
	}

	// Slew sail openness and angle toward their targets at bounded rate.
	ship.SailOpenActual = slewToward(ship.SailOpenActual, ship.SailOpenTarget, SailSlewRate*dt)
	ship.SailAngle = slewToward(ship.SailAngle, ship.SailAngleTarget, SailSlewRate*dt)
	ship.SailAngle = clamp(ship.SailAngle, -SailAngleMax, SailAngleMax)

	thrust := ship.SailOpenActual * ShipThrustForce *
		sailWindFactor(s.Wind, ship.Rotation, ship.SailAngle) / ship.Mass
	ship.Vel = ship.Vel.Add(phys.Forward(ship.Rotation).Scale(thrust * dt))
	ship.Vel = ship.Vel.Scale(ship.WaterDrag)
	ship.AngVel = ship.AngVel*ship.AngularDrag + ship.RudderInput*ship.TurnRate*dt

	// Authoritative clamps.
	ship.Vel = ship.Vel.ClampLength(ship.MaxSpeed)
	ship.AngVel = clamp(ship.AngVel, -ship.TurnRate, ship.TurnRate)

	ship.Rotation = phys.NormalizeAngle(ship.Rotation + ship.AngVel*dt)
	ship.Pos = ship.Pos.Add(ship.Vel.Scale(dt))

	// Advance cannon reload clocks.
	for _, m := range ship.Modules {
		if m.Kind == ModuleCannon && m.Cannon != nil && m.Cannon.TimeSinceFire < CannonReloadTime {
			m.Cannon.TimeSinceFire += dt
		}
	}
}

func slewToward(actual, target, maxStep float64) float64 {
	diff := target - actual
	if diff > maxStep {
		diff = maxStep
	}
	if diff < -maxStep {
		diff = -maxStep
	}
	return actual + diff
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
