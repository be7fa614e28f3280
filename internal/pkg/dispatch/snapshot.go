package dispatch

import (
	"sort"
	"time"
)

// Epsilon is the smallest energy, in joules, treated as non-zero.
const Epsilon = 1e-9

// SourceState is the tick-start state of one supplier.
type SourceState struct {
	Available float64 `json:"available"`
	// Stores is true for suppliers that keep undrawn energy (battery cells).
	Stores   bool    `json:"stores"`
	Headroom float64 `json:"headroom"`
}

// Snapshot is a read-only view of the grid energy at the start of a tick.
type Snapshot struct {
	time      time.Time
	sources   map[string]SourceState
	consumers map[string]float64
}

// NewSnapshot copies sources and deficits into a Snapshot taken at t.
func NewSnapshot(t time.Time, sources map[string]SourceState, deficits map[string]float64) Snapshot {
	s := Snapshot{
		time:      t,
		sources:   make(map[string]SourceState, len(sources)),
		consumers: make(map[string]float64, len(deficits)),
	}
	for id, st := range sources {
		s.sources[id] = st
	}
	for id, d := range deficits {
		s.consumers[id] = d
	}
	return s
}

// Time the snapshot was taken at, in simulation time.
func (s Snapshot) Time() time.Time {
	return s.time
}

// Available returns the energy supplier id can give this tick.
func (s Snapshot) Available(id string) (float64, bool) {
	st, ok := s.sources[id]
	return st.Available, ok
}

// Source returns the full state of supplier id.
func (s Snapshot) Source(id string) (SourceState, bool) {
	st, ok := s.sources[id]
	return st, ok
}

// Deficit returns the unmet demand of consumer id.
func (s Snapshot) Deficit(id string) (float64, bool) {
	d, ok := s.consumers[id]
	return d, ok
}

// SourceIDs in ascending order
func (s Snapshot) SourceIDs() []string {
	return sortedKeys(s.sources)
}

// ConsumerIDs in ascending order
func (s Snapshot) ConsumerIDs() []string {
	return sortedKeys(s.consumers)
}

// TotalAvailable sums the availability of every supplier.
func (s Snapshot) TotalAvailable() float64 {
	total := 0.0
	for _, st := range s.sources {
		total += st.Available
	}
	return total
}

// TotalDeficit sums the deficit of every consumer.
func (s Snapshot) TotalDeficit() float64 {
	total := 0.0
	for _, d := range s.consumers {
		total += d
	}
	return total
}

// Equal reports whether s and o describe the same grid state.
func (s Snapshot) Equal(o Snapshot) bool {
	if !s.time.Equal(o.time) || len(s.sources) != len(o.sources) || len(s.consumers) != len(o.consumers) {
		return false
	}
	for id, st := range s.sources {
		if ost, ok := o.sources[id]; !ok || ost != st {
			return false
		}
	}
	for id, d := range s.consumers {
		if od, ok := o.consumers[id]; !ok || od != d {
			return false
		}
	}
	return true
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
