package game

import "math"

// World constants
const (
	TickRate    = 30 // Authoritative updates per second
	TickDT      = 1.0 / float64(TickRate)
	WorldBounds = 4096.0 // World extends +/- this from the origin
	MaxPlayers  = 100
)

// Brigantine physics defaults
const (
	ShipMass            = 5000.0
	ShipMomentOfInertia = 500000.0
	ShipMaxSpeed        = 30.0
	ShipTurnRate        = 0.5
	ShipWaterDrag       = 0.98 // Per-tick multiplicative
	ShipAngularDrag     = 0.95 // Per-tick multiplicative
	ShipThrustForce     = 150000.0
	SailSlewRate        = 0.5 // Openness change per second toward target
	SailAngleMax        = math.Pi / 3
)

// Deck bounds in ship-local coordinates
const (
	DeckMinX = -260.0
	DeckMaxX = 415.0
	DeckMinY = -90.0
	DeckMaxY = 90.0
)

// Player movement constants
const (
	PlayerRadius   = 10.0
	WalkSpeed      = 1000.0
	SwimSpeed      = 140.0
	SwimDrag       = 0.9
	FallDuration   = 0.5  // Seconds airborne after a jump
	JumpImpulse    = 80.0 // World units per second away from the deck
	DeckClampSlack = 0.03 // Deck AABB inflation as a fraction of player radius
)

// Carrier detection hysteresis
const (
	CarrierInTicks    = 3
	CarrierOutTicks   = 8
	CarrierCooldownMs = 200
)

// Cannon and projectile constants
const (
	CannonballSpeed    = 120.0
	CannonballRadius   = 6.0
	CannonballMaxRange = 1500.0
	CannonReloadTime   = 2.0 // Seconds between shots per cannon
	CannonAimTolerance = 15.0 * math.Pi / 180
	DefaultAmmunition  = 24
)

// Entity id spaces. Ships occupy 1..999; players and projectiles each
// allocate from 1000 in their own space.
const (
	FirstShipID       = 1
	LastShipID        = 999
	FirstPlayerID     = 1000
	FirstProjectileID = 1000
)

// Input handling
const (
	MaxMovementMagnitude = 1.5
	ActionQueueCap       = 16
	ActionExpiryMs       = 10000
)

// Player movement states
const (
	StateSwimming = "SWIMMING"
	StateWalking  = "WALKING"
	StateFalling  = "FALLING"
)
