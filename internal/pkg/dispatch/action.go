package dispatch

import "sort"

// Entry is one supplying path chosen for a tick. Drawn is taken from the
// supplier; Delivered reaches the receiver; the difference is lost in
// transport.
type Entry struct {
	Consumer  string  `json:"consumer"`
	Supplier  string  `json:"supplier"`
	Delivered float64 `json:"delivered"`
	Drawn     float64 `json:"drawn"`
}

// Lost is the energy dissipated on the way.
func (e Entry) Lost() float64 {
	return e.Drawn - e.Delivered
}

// Action is the routing decision for one tick.
type Action struct {
	snapshot Snapshot
	entries  map[string]Entry
	charges  []Entry
}

func newAction(s Snapshot) Action {
	return Action{snapshot: s, entries: make(map[string]Entry)}
}

// Snapshot the action was computed from
func (a Action) Snapshot() Snapshot {
	return a.snapshot
}

// SupplyingPaths maps every served consumer to its supplier.
func (a Action) SupplyingPaths() map[string]string {
	paths := make(map[string]string, len(a.entries))
	for c, e := range a.entries {
		paths[c] = e.Supplier
	}
	return paths
}

// DeliveredAmount is the energy consumer receives; 0 when unserved.
func (a Action) DeliveredAmount(consumer string) float64 {
	return a.entries[consumer].Delivered
}

// Entry returns the supplying path of consumer.
func (a Action) Entry(consumer string) (Entry, bool) {
	e, ok := a.entries[consumer]
	return e, ok
}

// Entries in ascending consumer order
func (a Action) Entries() []Entry {
	out := make([]Entry, 0, len(a.entries))
	for _, e := range a.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Consumer < out[j].Consumer })
	return out
}

// Charges are solar surplus transfers into battery cells, Consumer being the
// battery id.
func (a Action) Charges() []Entry {
	out := make([]Entry, len(a.charges))
	copy(out, a.charges)
	return out
}

// Drawn totals what the action takes from supplier.
func (a Action) Drawn(supplier string) float64 {
	total := 0.0
	for _, e := range a.entries {
		if e.Supplier == supplier {
			total += e.Drawn
		}
	}
	for _, e := range a.charges {
		if e.Supplier == supplier {
			total += e.Drawn
		}
	}
	return total
}

// Len is the number of served consumers.
func (a Action) Len() int {
	return len(a.entries)
}
