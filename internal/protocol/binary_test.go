package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChecksum16(t *testing.T) {
	// Complementing property: appending the checksum bytes and re-summing
	// (before inversion) yields all ones.
	data := []byte{0x01, 0x02, 0x03, 0xFF, 0x10}
	sum := Checksum16(data)
	assert.Equal(t, sum, Checksum16(data), "deterministic")
	assert.NotEqual(t, sum, Checksum16([]byte{0x01, 0x02, 0x03, 0xFF, 0x11}))
}

func TestChecksum16FoldsCarry(t *testing.T) {
	// Enough 0xFF bytes to overflow 16 bits; the carry folds back in.
	data := make([]byte, 1024)
	for i := range data {
		data[i] = 0xFF
	}
	sum := Checksum16(data)
	assert.NotZero(t, sum)
}

func TestSeqGreaterWrap(t *testing.T) {
	assert.True(t, SeqGreater(1, 65535), "wraparound: 1 is newer than 65535")
	assert.False(t, SeqGreater(32769, 1), "more than half the space apart reads as older")
	assert.True(t, SeqGreater(2, 1))
	assert.False(t, SeqGreater(1, 2))
	assert.False(t, SeqGreater(7, 7))
	assert.False(t, SeqGreater(32768, 0), "exactly half the space forward reads as older")
}

func TestSnapshotRoundtrip(t *testing.T) {
	entities := []SnapshotEntity{
		{EntityID: 1, PosX: 32768, PosY: 40000, VelX: 32768, VelY: 30000, Rotation: 512, StateFlags: 1},
		{EntityID: 1001, PosX: 100, PosY: 65535, VelX: 0, VelY: 32768, Rotation: 1023},
	}
	h := SnapshotHeader{ServerTime: 123456, SnapID: 42, AOICell: 7}

	pkt, err := EncodeSnapshot(h, entities)
	require.NoError(t, err)
	require.Len(t, pkt, SnapshotHeaderSize+2*SnapshotEntitySize)

	dh, dents, err := DecodeSnapshot(pkt)
	require.NoError(t, err)
	assert.Equal(t, uint8(PacketServerSnapshot), dh.Type)
	assert.Equal(t, uint8(Version), dh.Version)
	assert.Equal(t, uint32(123456), dh.ServerTime)
	assert.Equal(t, uint16(42), dh.SnapID)
	assert.Equal(t, uint16(7), dh.AOICell)
	assert.Equal(t, uint8(2), dh.EntityCount)
	assert.Equal(t, entities, dents)
}

func TestSnapshotChecksumRejectsCorruption(t *testing.T) {
	pkt, err := EncodeSnapshot(SnapshotHeader{ServerTime: 1}, nil)
	require.NoError(t, err)
	pkt[2] ^= 0xFF
	_, _, err = DecodeSnapshot(pkt)
	assert.Error(t, err)
}

func TestSnapshotRejectsShortPacket(t *testing.T) {
	_, _, err := DecodeSnapshot([]byte{PacketServerSnapshot, Version, 0})
	assert.Error(t, err)
}

func TestSnapshotEntityBudget(t *testing.T) {
	entities := make([]SnapshotEntity, MaxSnapshotEntities+1)
	_, err := EncodeSnapshot(SnapshotHeader{}, entities)
	assert.Error(t, err)

	pkt, err := EncodeSnapshot(SnapshotHeader{}, entities[:MaxSnapshotEntities])
	require.NoError(t, err)
	assert.LessOrEqual(t, len(pkt), MaxPacketSize)
}

func TestInputRoundtrip(t *testing.T) {
	p := InputPacket{
		Seq:        999,
		DtMs:       33,
		Thrust:     16384,
		Turn:       -8192,
		Actions:    InputActionFire | InputActionJump,
		ClientTime: 777777,
	}
	data := EncodeInput(p)
	require.Len(t, data, InputPacketSize)

	got, err := DecodeInput(data)
	require.NoError(t, err)
	assert.Equal(t, uint8(PacketClientInput), got.Type)
	assert.Equal(t, p.Seq, got.Seq)
	assert.Equal(t, p.DtMs, got.DtMs)
	assert.Equal(t, p.Thrust, got.Thrust)
	assert.Equal(t, p.Turn, got.Turn)
	assert.Equal(t, p.Actions, got.Actions)
	assert.Equal(t, p.ClientTime, got.ClientTime)
}

func TestInputChecksumRejectsCorruption(t *testing.T) {
	data := EncodeInput(InputPacket{Seq: 1})
	data[6] ^= 0x01
	_, err := DecodeInput(data)
	assert.Error(t, err)
}

func TestParseEnvelope(t *testing.T) {
	typ, err := ParseEnvelope([]byte(`{"type":"movement_state","movement":{"x":1,"y":0}}`))
	require.NoError(t, err)
	assert.Equal(t, MsgTypeMovementState, typ)

	_, err = ParseEnvelope([]byte(`{"movement":{}}`))
	assert.Error(t, err, "missing type")
	_, err = ParseEnvelope([]byte(`not json`))
	assert.Error(t, err)
}
