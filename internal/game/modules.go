package game

import "topsail/internal/phys"

// ModuleKind is the wire-stable module type tag.
type ModuleKind uint8

const (
	ModuleHelm   ModuleKind = 0
	ModuleSeat   ModuleKind = 1
	ModuleCannon ModuleKind = 2
	ModuleMast   ModuleKind = 3
	ModuleLadder ModuleKind = 4
	ModulePlank  ModuleKind = 5
	ModuleDeck   ModuleKind = 6
	ModuleCustom ModuleKind = 255
)

// Module state bits
const (
	ModuleStateDamaged = 1 << 0
	ModuleStateActive  = 1 << 1
)

// CannonModule is the cannon-specific record.
type CannonModule struct {
	AimDirection  float64 // Ship-relative radians
	Ammunition    int
	TimeSinceFire float64 // Seconds, saturates at reload time
}

// MastModule is the mast-specific record.
type MastModule struct {
	OpennessTarget float64 // [0, 1]
	SailAngle      float64 // [-pi/3, pi/3]
	Integrity      float64
}

// PlankModule is the plank-specific record.
type PlankModule struct {
	Health       float64 // [0, 100]
	SegmentIndex int
}

// HelmModule is the helm-specific record.
type HelmModule struct {
	WheelRotation float64
}

// Module is a fixture placed on a ship deck. The common header is shared
// by all kinds; exactly one of the kind-specific records is non-nil.
type Module struct {
	ID         uint32
	Kind       ModuleKind
	LocalPos   phys.Vec2
	LocalRot   float64
	OccupiedBy uint32 // Player id, 0 when vacant
	StateBits  uint8

	Cannon *CannonModule
	Mast   *MastModule
	Plank  *PlankModule
	Helm   *HelmModule
}

// Clone deep-copies the module including its kind record.
func (m *Module) Clone() *Module {
	cp := *m
	if m.Cannon != nil {
		c := *m.Cannon
		cp.Cannon = &c
	}
	if m.Mast != nil {
		c := *m.Mast
		cp.Mast = &c
	}
	if m.Plank != nil {
		c := *m.Plank
		cp.Plank = &c
	}
	if m.Helm != nil {
		c := *m.Helm
		cp.Helm = &c
	}
	return &cp
}

// WorldPos returns the module's position in world coordinates.
func (m *Module) WorldPos(ship *Ship) phys.Vec2 {
	return ship.Pos.Add(m.LocalPos.Rotated(ship.Rotation))
}

// Ready reports whether a cannon module can fire.
func (m *Module) Ready() bool {
	return m.Kind == ModuleCannon && m.Cannon != nil &&
		m.Cannon.Ammunition > 0 && m.Cannon.TimeSinceFire >= CannonReloadTime
}

// addModule appends a module with a world-unique id. Module positions are
// expected to lie on the deck; callers place them from layout constants.
func (s *WorldState) addModule(ship *Ship, kind ModuleKind, local phys.Vec2, rot float64) *Module {
	m := &Module{
		ID:       s.nextModuleID,
		Kind:     kind,
		LocalPos: local,
		LocalRot: rot,
	}
	s.nextModuleID++
	switch kind {
	case ModuleCannon:
		m.Cannon = &CannonModule{
			AimDirection:  rot,
			Ammunition:    DefaultAmmunition,
			TimeSinceFire: CannonReloadTime,
		}
	case ModuleMast:
		m.Mast = &MastModule{Integrity: 100}
	case ModulePlank:
		m.Plank = &PlankModule{Health: 100}
	case ModuleHelm:
		m.Helm = &HelmModule{}
	}
	ship.Modules = append(ship.Modules, m)
	return m
}
