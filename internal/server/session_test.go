package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSession(name string, playerID uint32) *Session {
	s := &Session{
		ID:       name + "-session",
		PlayerID: playerID,
		Name:     name,
		Encoding: EncodingJSON,
		Send:     make(chan []byte, sendBuffer),
	}
	return s
}

func TestRegistryCapacity(t *testing.T) {
	r := NewRegistry(2)
	require.NoError(t, r.Add(testSession("a", 1000)))
	require.NoError(t, r.Add(testSession("b", 1001)))
	assert.Error(t, r.Add(testSession("c", 1002)), "third session exceeds the cap")
	assert.Equal(t, 2, r.Count())
}

func TestRegistryReconnectClaim(t *testing.T) {
	r := NewRegistry(10)
	now := time.Now()

	s := testSession("alice", 1000)
	require.NoError(t, r.Add(s))
	r.Bind(s)
	r.Remove(s, now)

	// Inside the window the same name resumes the same player id.
	id, ok := r.Claim("alice", now.Add(reconnectWindow/2))
	require.True(t, ok)
	assert.Equal(t, uint32(1000), id)

	// A claim consumes the reservation.
	_, ok = r.Claim("alice", now.Add(reconnectWindow/2))
	assert.False(t, ok)
}

func TestRegistryReconnectWindowExpires(t *testing.T) {
	r := NewRegistry(10)
	now := time.Now()

	s := testSession("bob", 1001)
	require.NoError(t, r.Add(s))
	r.Bind(s)
	r.Remove(s, now)

	_, ok := r.Claim("bob", now.Add(reconnectWindow+time.Second))
	assert.False(t, ok, "lapsed reservation must not be claimable")

	expired := r.ExpireReservations(now.Add(reconnectWindow + time.Second))
	assert.Equal(t, []uint32{1001}, expired)
	// Expiry is one-shot.
	assert.Empty(t, r.ExpireReservations(now.Add(reconnectWindow+2*time.Second)))
}

func TestRegistryUnknownNameNoClaim(t *testing.T) {
	r := NewRegistry(10)
	_, ok := r.Claim("nobody", time.Now())
	assert.False(t, ok)
}

func TestRegistryBoundFiltersHandshakingSessions(t *testing.T) {
	r := NewRegistry(10)
	pending := testSession("pending", 0)
	ready := testSession("ready", 1000)
	require.NoError(t, r.Add(pending))
	require.NoError(t, r.Add(ready))
	r.Bind(ready)

	assert.Len(t, r.Snapshot(), 2)
	bound := r.Bound()
	require.Len(t, bound, 1)
	assert.Equal(t, "ready", bound[0].Name)
	assert.False(t, pending.Bound())
	assert.True(t, ready.Bound())
}

func TestSessionActivity(t *testing.T) {
	s := testSession("x", 1000)
	now := time.Now()
	assert.False(t, s.activeSince(now.Add(-time.Second)))
	s.noteInput(now)
	assert.True(t, s.activeSince(now.Add(-time.Second)))
	assert.False(t, s.activeSince(now.Add(time.Second)))
}

func TestSanitizeName(t *testing.T) {
	assert.Equal(t, defaultName, sanitizeName("   "))
	assert.Equal(t, "pirate", sanitizeName(" pirate "))
	long := make([]byte, 100)
	for i := range long {
		long[i] = 'a'
	}
	assert.Len(t, sanitizeName(string(long)), maxNameLen)
}
