package live

import (
	"math"
	"sort"
)

// schedule places response audio back to back on the speaker clock and
// tracks every buffer until it reports completion.
type schedule struct {
	nextStartTime float64
	nextID        uint64
	pending       map[uint64]Playback
}

func newSchedule() *schedule {
	return &schedule{pending: make(map[uint64]Playback)}
}

// startFor returns when a buffer of the given duration should start and
// advances the cursor past it.
func (s *schedule) startFor(now, duration float64) float64 {
	start := math.Max(s.nextStartTime, now)
	s.nextStartTime = start + duration
	return start
}

func (s *schedule) reserveID() uint64 {
	s.nextID++
	return s.nextID
}

func (s *schedule) track(id uint64, p Playback) {
	s.pending[id] = p
}

func (s *schedule) untrack(id uint64) {
	delete(s.pending, id)
}

// drain empties the set and resets the cursor, returning the buffers that
// were pending so the caller can stop them outside the live set.
func (s *schedule) drain() []Playback {
	ids := make([]uint64, 0, len(s.pending))
	for id := range s.pending {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]Playback, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.pending[id])
	}
	s.pending = make(map[uint64]Playback)
	s.nextStartTime = 0
	return out
}

func (s *schedule) reset() {
	s.pending = make(map[uint64]Playback)
	s.nextStartTime = 0
}
