package protocol

import (
	"encoding/binary"
	"fmt"
)

// Binary packet types for the datagram skin.
const (
	PacketClientHandshake = 1
	PacketServerHandshake = 2
	PacketClientInput     = 3
	PacketServerSnapshot  = 4
	PacketClientAck       = 5
	PacketHeartbeat       = 6
)

// MaxPacketSize bounds every datagram.
const MaxPacketSize = 1400

// Wire sizes, little-endian throughout.
const (
	SnapshotHeaderSize = 16
	SnapshotEntitySize = 14
	InputPacketSize    = 18
)

// MaxSnapshotEntities is how many quantized entities fit in one packet.
const MaxSnapshotEntities = (MaxPacketSize - SnapshotHeaderSize) / SnapshotEntitySize

// Checksum16 computes the one's-complement 16-bit checksum over data: sum
// all bytes, fold the carry back in, then invert.
func Checksum16(data []byte) uint16 {
	var sum uint32
	for _, b := range data {
		sum += uint32(b)
	}
	sum = (sum & 0xFFFF) + (sum >> 16)
	sum = (sum & 0xFFFF) + (sum >> 16)
	return ^uint16(sum)
}

// SeqGreater compares 16-bit sequence numbers with wrap awareness: a is
// newer than b when the forward distance from b to a is under half the
// sequence space.
func SeqGreater(a, b uint16) bool {
	return a != b && a-b < 32768
}

// SnapshotHeader is the fixed-layout binary snapshot header.
type SnapshotHeader struct {
	Type        uint8
	Version     uint8
	ServerTime  uint32
	BaseID      uint16 // Reference snapshot for delta encoding; 0 = full
	SnapID      uint16
	AOICell     uint16
	EntityCount uint8
	Flags       uint8
	Checksum    uint16
}

// SnapshotEntity is one quantized entity record.
type SnapshotEntity struct {
	EntityID   uint16
	PosX       uint16
	PosY       uint16
	VelX       uint16
	VelY       uint16
	Rotation   uint16
	StateFlags uint8
	Reserved   uint8
}

// InputPacket is the fixed-layout binary input form.
type InputPacket struct {
	Type       uint8
	Version    uint8
	Seq        uint16
	DtMs       uint16
	Thrust     int16 // Q0.15
	Turn       int16 // Q0.15
	Actions    uint16
	ClientTime uint32
	Checksum   uint16
}

// Input action bits.
const (
	InputActionFire     = 1 << 0
	InputActionJump     = 1 << 1
	InputActionInteract = 1 << 2
	InputActionReload   = 1 << 3
)

// EncodeSnapshot writes a header and entity list into a datagram.
func EncodeSnapshot(h SnapshotHeader, entities []SnapshotEntity) ([]byte, error) {
	if len(entities) > MaxSnapshotEntities {
		return nil, fmt.Errorf("encode snapshot: %d entities exceeds packet budget", len(entities))
	}
	h.Type = PacketServerSnapshot
	h.Version = Version
	h.EntityCount = uint8(len(entities))

	buf := make([]byte, SnapshotHeaderSize+len(entities)*SnapshotEntitySize)
	buf[0] = h.Type
	buf[1] = h.Version
	binary.LittleEndian.PutUint32(buf[2:], h.ServerTime)
	binary.LittleEndian.PutUint16(buf[6:], h.BaseID)
	binary.LittleEndian.PutUint16(buf[8:], h.SnapID)
	binary.LittleEndian.PutUint16(buf[10:], h.AOICell)
	buf[12] = h.EntityCount
	buf[13] = h.Flags
	binary.LittleEndian.PutUint16(buf[14:], Checksum16(buf[:14]))

	off := SnapshotHeaderSize
	for _, e := range entities {
		binary.LittleEndian.PutUint16(buf[off:], e.EntityID)
		binary.LittleEndian.PutUint16(buf[off+2:], e.PosX)
		binary.LittleEndian.PutUint16(buf[off+4:], e.PosY)
		binary.LittleEndian.PutUint16(buf[off+6:], e.VelX)
		binary.LittleEndian.PutUint16(buf[off+8:], e.VelY)
		binary.LittleEndian.PutUint16(buf[off+10:], e.Rotation)
		buf[off+12] = e.StateFlags
		buf[off+13] = e.Reserved
		off += SnapshotEntitySize
	}
	return buf, nil
}

// DecodeSnapshot parses a snapshot datagram, verifying the header checksum.
func DecodeSnapshot(data []byte) (SnapshotHeader, []SnapshotEntity, error) {
	var h SnapshotHeader
	if len(data) < SnapshotHeaderSize {
		return h, nil, fmt.Errorf("decode snapshot: short packet (%d bytes)", len(data))
	}
	h.Type = data[0]
	h.Version = data[1]
	h.ServerTime = binary.LittleEndian.Uint32(data[2:])
	h.BaseID = binary.LittleEndian.Uint16(data[6:])
	h.SnapID = binary.LittleEndian.Uint16(data[8:])
	h.AOICell = binary.LittleEndian.Uint16(data[10:])
	h.EntityCount = data[12]
	h.Flags = data[13]
	h.Checksum = binary.LittleEndian.Uint16(data[14:])

	if h.Type != PacketServerSnapshot {
		return h, nil, fmt.Errorf("decode snapshot: unexpected type %d", h.Type)
	}
	if got := Checksum16(data[:14]); got != h.Checksum {
		return h, nil, fmt.Errorf("decode snapshot: checksum mismatch %04x != %04x", got, h.Checksum)
	}
	want := SnapshotHeaderSize + int(h.EntityCount)*SnapshotEntitySize
	if len(data) < want {
		return h, nil, fmt.Errorf("decode snapshot: truncated entities (%d < %d)", len(data), want)
	}

	entities := make([]SnapshotEntity, h.EntityCount)
	off := SnapshotHeaderSize
	for i := range entities {
		entities[i] = SnapshotEntity{
			EntityID:   binary.LittleEndian.Uint16(data[off:]),
			PosX:       binary.LittleEndian.Uint16(data[off+2:]),
			PosY:       binary.LittleEndian.Uint16(data[off+4:]),
			VelX:       binary.LittleEndian.Uint16(data[off+6:]),
			VelY:       binary.LittleEndian.Uint16(data[off+8:]),
			Rotation:   binary.LittleEndian.Uint16(data[off+10:]),
			StateFlags: data[off+12],
			Reserved:   data[off+13],
		}
		off += SnapshotEntitySize
	}
	return h, entities, nil
}

// EncodeInput writes an input packet.
func EncodeInput(p InputPacket) []byte {
	p.Type = PacketClientInput
	p.Version = Version

	buf := make([]byte, InputPacketSize)
	buf[0] = p.Type
	buf[1] = p.Version
	binary.LittleEndian.PutUint16(buf[2:], p.Seq)
	binary.LittleEndian.PutUint16(buf[4:], p.DtMs)
	binary.LittleEndian.PutUint16(buf[6:], uint16(p.Thrust))
	binary.LittleEndian.PutUint16(buf[8:], uint16(p.Turn))
	binary.LittleEndian.PutUint16(buf[10:], p.Actions)
	binary.LittleEndian.PutUint32(buf[12:], p.ClientTime)
	binary.LittleEndian.PutUint16(buf[16:], Checksum16(buf[:16]))
	return buf
}

// DecodeInput parses and checksums an input packet.
func DecodeInput(data []byte) (InputPacket, error) {
	var p InputPacket
	if len(data) < InputPacketSize {
		return p, fmt.Errorf("decode input: short packet (%d bytes)", len(data))
	}
	p.Type = data[0]
	p.Version = data[1]
	p.Seq = binary.LittleEndian.Uint16(data[2:])
	p.DtMs = binary.LittleEndian.Uint16(data[4:])
	p.Thrust = int16(binary.LittleEndian.Uint16(data[6:]))
	p.Turn = int16(binary.LittleEndian.Uint16(data[8:]))
	p.Actions = binary.LittleEndian.Uint16(data[10:])
	p.ClientTime = binary.LittleEndian.Uint32(data[12:])
	p.Checksum = binary.LittleEndian.Uint16(data[16:])

	if p.Type != PacketClientInput {
		return p, fmt.Errorf("decode input: unexpected type %d", p.Type)
	}
	if got := Checksum16(data[:16]); got != p.Checksum {
		return p, fmt.Errorf("decode input: checksum mismatch %04x != %04x", got, p.Checksum)
	}
	return p, nil
}
