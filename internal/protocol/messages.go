package protocol

import (
	"encoding/json"
	"fmt"
)

// Protocol version spoken by the text and binary skins.
const Version = 1

// Message type strings for the text protocol.
const (
	MsgTypeHandshake         = "handshake"
	MsgTypeHandshakeResponse = "handshake_response"
	MsgTypeMovementState     = "movement_state"
	MsgTypeRotationUpdate    = "rotation_update"
	MsgTypeActionEvent       = "action_event"
	MsgTypeSailControl       = "ship_sail_control"
	MsgTypeRudderControl     = "ship_rudder_control"
	MsgTypeSailAngleControl  = "ship_sail_angle_control"
	MsgTypeCannonAim         = "cannon_aim"
	MsgTypeCannonFire        = "cannon_fire"
	MsgTypePing              = "ping"
	MsgTypePong              = "pong"
	MsgTypeMessageAck        = "message_ack"
	MsgTypeGameState         = "game_state"
)

// Ack statuses.
const (
	AckInputReceived  = "input_received"
	AckInvalid        = "invalid"
	AckNoPlayer       = "no_player"
	AckPlayerNotFound = "player_not_found"
)

// Handshake statuses.
const (
	StatusConnected   = "connected"
	StatusReconnected = "reconnected"
	StatusError       = "error"
)

// Envelope carries just the type tag for dispatch.
type Envelope struct {
	Type string `json:"type"`
}

// Handshake is the first client message.
type Handshake struct {
	Type            string `json:"type"`
	PlayerName      string `json:"playerName"`
	ProtocolVersion int    `json:"protocolVersion"`
	Timestamp       int64  `json:"timestamp"`
	Encoding        string `json:"encoding,omitempty"` // "json" (default) or "msgpack"
}

// HandshakeResponse acknowledges a handshake.
type HandshakeResponse struct {
	Type       string `json:"type"`
	PlayerID   uint32 `json:"player_id,omitempty"`
	PlayerName string `json:"playerName,omitempty"`
	ServerTime int64  `json:"server_time"`
	Status     string `json:"status"`
	Message    string `json:"message,omitempty"`
}

// MovementState replaces the player's standing movement intent.
type MovementState struct {
	Type     string `json:"type"`
	Movement struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	} `json:"movement"`
	IsMoving bool `json:"is_moving"`
}

// RotationUpdate replaces the stored aim rotation.
type RotationUpdate struct {
	Type     string  `json:"type"`
	Rotation float64 `json:"rotation"`
}

// ActionEvent queues a one-shot action.
type ActionEvent struct {
	Type   string `json:"type"`
	Action string `json:"action"`
	Target uint32 `json:"target,omitempty"`
}

// SailControl sets the sail openness target in percent.
type SailControl struct {
	Type            string  `json:"type"`
	DesiredOpenness float64 `json:"desired_openness"`
}

// RudderControl sets the rudder from two key states.
type RudderControl struct {
	Type         string `json:"type"`
	TurningLeft  bool   `json:"turning_left"`
	TurningRight bool   `json:"turning_right"`
}

// SailAngleControl sets the sail angle target in degrees.
type SailAngleControl struct {
	Type         string  `json:"type"`
	DesiredAngle float64 `json:"desired_angle"`
}

// CannonAim stores the player's ship-relative aim.
type CannonAim struct {
	Type     string  `json:"type"`
	AimAngle float64 `json:"aim_angle"`
}

// CannonFire requests a cannon volley.
type CannonFire struct {
	Type      string   `json:"type"`
	FireAll   bool     `json:"fire_all"`
	CannonIDs []uint32 `json:"cannon_ids,omitempty"`
}

// Ping requests a pong.
type Ping struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// Pong answers a ping.
type Pong struct {
	Type       string `json:"type"`
	Timestamp  int64  `json:"timestamp"`
	ServerTime int64  `json:"server_time"`
}

// MessageAck reports per-message acceptance.
type MessageAck struct {
	Type   string `json:"type"`
	Status string `json:"status"`
}

// ShipState is a ship in a GAME_STATE snapshot.
type ShipState struct {
	ID              uint32  `json:"id" msgpack:"id"`
	X               float64 `json:"x" msgpack:"x"`
	Y               float64 `json:"y" msgpack:"y"`
	Rotation        float64 `json:"rotation" msgpack:"rotation"`
	VelocityX       float64 `json:"velocity_x" msgpack:"velocity_x"`
	VelocityY       float64 `json:"velocity_y" msgpack:"velocity_y"`
	AngularVelocity float64 `json:"angular_velocity" msgpack:"angular_velocity"`
	Rudder          float64 `json:"rudder" msgpack:"rudder"`
	SailOpenness    float64 `json:"sail_openness" msgpack:"sail_openness"`
	SailAngle       float64 `json:"sail_angle" msgpack:"sail_angle"`

	Modules []ModuleState `json:"modules,omitempty" msgpack:"modules,omitempty"`

	// Optional physics params, sent so native clients can mirror the
	// authoritative integration exactly.
	Mass            float64 `json:"mass,omitempty" msgpack:"mass,omitempty"`
	MomentOfInertia float64 `json:"moment_of_inertia,omitempty" msgpack:"moment_of_inertia,omitempty"`
	MaxSpeed        float64 `json:"max_speed,omitempty" msgpack:"max_speed,omitempty"`
	TurnRate        float64 `json:"turn_rate,omitempty" msgpack:"turn_rate,omitempty"`
}

// ModuleState is a deck module in a snapshot.
type ModuleState struct {
	ID         uint32  `json:"id" msgpack:"id"`
	Kind       uint8   `json:"kind" msgpack:"kind"`
	LocalX     float64 `json:"local_x" msgpack:"local_x"`
	LocalY     float64 `json:"local_y" msgpack:"local_y"`
	LocalRot   float64 `json:"local_rot" msgpack:"local_rot"`
	OccupiedBy uint32  `json:"occupied_by,omitempty" msgpack:"occupied_by,omitempty"`
	StateBits  uint8   `json:"state_bits,omitempty" msgpack:"state_bits,omitempty"`

	AimDirection  *float64 `json:"aim_direction,omitempty" msgpack:"aim_direction,omitempty"`
	Ammunition    *int     `json:"ammunition,omitempty" msgpack:"ammunition,omitempty"`
	TimeSinceFire *float64 `json:"time_since_fire,omitempty" msgpack:"time_since_fire,omitempty"`
	SailOpenness  *float64 `json:"sail_openness,omitempty" msgpack:"sail_openness,omitempty"`
	SailAngle     *float64 `json:"sail_angle,omitempty" msgpack:"sail_angle,omitempty"`
	Health        *float64 `json:"health,omitempty" msgpack:"health,omitempty"`
}

// PlayerState is a player in a GAME_STATE snapshot.
type PlayerState struct {
	ID                 uint32  `json:"id" msgpack:"id"`
	Name               string  `json:"name" msgpack:"name"`
	WorldX             float64 `json:"world_x" msgpack:"world_x"`
	WorldY             float64 `json:"world_y" msgpack:"world_y"`
	Rotation           float64 `json:"rotation" msgpack:"rotation"`
	VelocityX          float64 `json:"velocity_x" msgpack:"velocity_x"`
	VelocityY          float64 `json:"velocity_y" msgpack:"velocity_y"`
	IsMoving           bool    `json:"is_moving" msgpack:"is_moving"`
	MovementDirectionX float64 `json:"movement_direction_x" msgpack:"movement_direction_x"`
	MovementDirectionY float64 `json:"movement_direction_y" msgpack:"movement_direction_y"`
	ParentShip         uint32  `json:"parent_ship" msgpack:"parent_ship"`
	LocalX             float64 `json:"local_x" msgpack:"local_x"`
	LocalY             float64 `json:"local_y" msgpack:"local_y"`
	State              string  `json:"state" msgpack:"state"`
	MountedModule      uint32  `json:"mounted_module,omitempty" msgpack:"mounted_module,omitempty"`
}

// ProjectileState is a cannonball in a snapshot.
type ProjectileState struct {
	ID        uint32  `json:"id" msgpack:"id"`
	X         float64 `json:"x" msgpack:"x"`
	Y         float64 `json:"y" msgpack:"y"`
	VelocityX float64 `json:"velocity_x" msgpack:"velocity_x"`
	VelocityY float64 `json:"velocity_y" msgpack:"velocity_y"`
	FiredFrom uint32  `json:"fired_from" msgpack:"fired_from"`
}

// GameState is the full world snapshot sent to clients.
type GameState struct {
	Type        string            `json:"type" msgpack:"type"`
	Tick        uint32            `json:"tick" msgpack:"tick"`
	Timestamp   int64             `json:"timestamp" msgpack:"timestamp"`
	Ships       []ShipState       `json:"ships" msgpack:"ships"`
	Players     []PlayerState     `json:"players" msgpack:"players"`
	Projectiles []ProjectileState `json:"projectiles" msgpack:"projectiles"`
}

// ParseEnvelope extracts the message type from a raw frame.
func ParseEnvelope(data []byte) (string, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", fmt.Errorf("parse envelope: %w", err)
	}
	if env.Type == "" {
		return "", fmt.Errorf("parse envelope: missing type")
	}
	return env.Type, nil
}
