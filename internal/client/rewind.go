package client

import (
	"topsail/internal/game"
)

// RewindCapacity is how many predicted ticks the buffer retains. At the
// fixed tick rate this covers roughly two seconds of round trip.
const RewindCapacity = 64

// InputFrame is the local input applied on one predicted tick, kept so
// the tick can be replayed after a correction.
type InputFrame struct {
	Update game.InputUpdate
}

// RewindEntry is one predicted tick: the world state AFTER stepping,
// and the input that produced it.
type RewindEntry struct {
	Tick           uint32 // world tick after the step
	TimestampMs    int64
	Dt             float64
	World          *game.WorldState
	Input          InputFrame
	NetworkDelayMs float64

	ServerConfirmed bool
	PredictionError float64
}

// RewindBuffer is a fixed-capacity ring of predicted ticks, oldest
// evicted first.
type RewindBuffer struct {
	entries []RewindEntry
	start   int // index of oldest
	size    int
}

func NewRewindBuffer(capacity int) *RewindBuffer {
	if capacity <= 0 {
		capacity = RewindCapacity
	}
	return &RewindBuffer{entries: make([]RewindEntry, capacity)}
}

// Push appends a predicted tick, evicting the oldest when full.
func (b *RewindBuffer) Push(e RewindEntry) {
	idx := (b.start + b.size) % len(b.entries)
	if b.size == len(b.entries) {
		b.entries[b.start] = e
		b.start = (b.start + 1) % len(b.entries)
		return
	}
	b.entries[idx] = e
	b.size++
}

// Len reports buffered ticks.
func (b *RewindBuffer) Len() int { return b.size }

// At returns the i-th entry from oldest. The pointer stays valid until
// the next Push.
func (b *RewindBuffer) At(i int) *RewindEntry {
	if i < 0 || i >= b.size {
		return nil
	}
	return &b.entries[(b.start+i)%len(b.entries)]
}

// Latest returns the newest entry, or nil when empty.
func (b *RewindBuffer) Latest() *RewindEntry {
	return b.At(b.size - 1)
}

// FindTick locates the entry whose world tick matches, returning its
// ordinal position from oldest.
func (b *RewindBuffer) FindTick(tick uint32) (int, *RewindEntry) {
	for i := 0; i < b.size; i++ {
		e := b.At(i)
		if e.Tick == tick {
			return i, e
		}
	}
	return -1, nil
}

// Clear drops every entry. Used on soft reset.
func (b *RewindBuffer) Clear() {
	b.start = 0
	b.size = 0
}
