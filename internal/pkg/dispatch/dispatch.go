package dispatch

import (
	"math"
	"sort"
)

// Router answers cost questions about the transport network.
type Router interface {
	Distance(a, b string) (float64, error)
	LossFraction(a, b string) (float64, error)
}

// Dispatcher turns a snapshot into an Action.
type Dispatcher interface {
	ComputeAction(Snapshot, Router) (Action, error)
}

// Brain is the greedy routing engine. It holds no state between calls and
// is safe for concurrent use.
//
// Consumers are served one at a time in ascending id order, each by the
// nearest supplier with energy left, ties going to the smaller supplier id.
// The result is reproducible, not globally optimal: a consumer late in the
// order can go unserved when another pairing would have covered it.
type Brain struct {
	// StoreSurplus routes solar energy nobody consumed into battery cells.
	StoreSurplus bool
}

// Instance returns the shared Brain.
func Instance() Brain {
	return Brain{}
}

type candidate struct {
	id       string
	distance float64
}

// ComputeAction fails only when the router reports a malformed topology.
func (b Brain) ComputeAction(s Snapshot, r Router) (Action, error) {
	action := newAction(s)

	remaining := make(map[string]float64)
	for _, id := range s.SourceIDs() {
		if st := s.sources[id]; st.Available > Epsilon {
			remaining[id] = st.Available
		}
	}

	for _, consumer := range s.ConsumerIDs() {
		deficit := s.consumers[consumer]
		if deficit <= Epsilon {
			continue
		}
		e, ok, err := serve(consumer, deficit, remaining, r)
		if err != nil {
			return Action{}, err
		}
		if ok {
			remaining[e.Supplier] -= e.Drawn
			action.entries[consumer] = e
		}
	}

	if b.StoreSurplus {
		charges, err := storeSurplus(s, remaining, r)
		if err != nil {
			return Action{}, err
		}
		action.charges = charges
	}
	return action, nil
}

// serve picks the supplier for one receiver among those with energy left in
// remaining. Suppliers whose path loses everything are passed over.
func serve(receiver string, need float64, remaining map[string]float64, r Router) (Entry, bool, error) {
	candidates := make([]candidate, 0, len(remaining))
	for id, left := range remaining {
		if left <= Epsilon {
			continue
		}
		d, err := r.Distance(receiver, id)
		if err != nil {
			return Entry{}, false, err
		}
		candidates = append(candidates, candidate{id, d})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].distance != candidates[j].distance {
			return candidates[i].distance < candidates[j].distance
		}
		return candidates[i].id < candidates[j].id
	})

	for _, c := range candidates {
		loss, err := r.LossFraction(receiver, c.id)
		if err != nil {
			return Entry{}, false, err
		}
		if loss >= 1 {
			continue
		}
		drawn, delivered := transfer(need, remaining[c.id], loss)
		if delivered <= Epsilon {
			continue
		}
		return Entry{Consumer: receiver, Supplier: c.id, Delivered: delivered, Drawn: drawn}, true, nil
	}
	return Entry{}, false, nil
}

// transfer sizes the draw so that need arrives after loss, capped by what the
// supplier has left.
func transfer(need, available, loss float64) (drawn, delivered float64) {
	drawn = math.Min(need/(1-loss), available)
	delivered = math.Min(need, drawn*(1-loss))
	return drawn, delivered
}

func storeSurplus(s Snapshot, remaining map[string]float64, r Router) ([]Entry, error) {
	solar := make(map[string]float64)
	for id, left := range remaining {
		if !s.sources[id].Stores {
			solar[id] = left
		}
	}

	var charges []Entry
	for _, battery := range s.SourceIDs() {
		st := s.sources[battery]
		if !st.Stores {
			continue
		}
		headroom := st.Headroom
		for headroom > Epsilon {
			e, ok, err := serve(battery, headroom, solar, r)
			if err != nil {
				return nil, err
			}
			if !ok {
				break
			}
			solar[e.Supplier] -= e.Drawn
			remaining[e.Supplier] -= e.Drawn
			headroom -= e.Delivered
			charges = append(charges, e)
		}
	}
	return charges, nil
}
