/*
graph.go The transport network of a biogrid. Every grid item is a node;
sources are wired directly to every consumer with building wire, and every
item is wired to the shared grid backbone. Paths are precomputed once since
the topology never changes during a run.
*/

package network

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/ohowland/biogrid/internal/pkg/asset"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"
)

var (
	ErrUnknownNode   = errors.New("network: unknown node")
	ErrNoPath        = errors.New("network: no path")
	ErrDuplicateNode = errors.New("network: duplicate node")
)

// BackboneID is the node id of the shared grid backbone.
var BackboneID = asset.GridKind.ID(0)

// Edge is one wire of a supplying path.
type Edge struct {
	From       string
	To         string
	LengthKm   float64
	Resistance float64
}

// Options configures wire resistances and the loss policy.
type Options struct {
	KmPerUnit            float64
	BuildingWireOhmPerKm float64
	GridOhmPerKm         float64
	// Backbone is the position of the grid backbone node. nil leaves sources
	// and consumers connected only by direct building wire.
	Backbone *asset.Position
	Loss     LossModel
}

// DefaultOptions uses the wire constants of the asset package, one km per
// town unit and exponential loss.
func DefaultOptions(backbone asset.Position) Options {
	return Options{
		KmPerUnit:            1,
		BuildingWireOhmPerKm: asset.ResistanceBuilding,
		GridOhmPerKm:         asset.ResistanceGrid,
		Backbone:             &backbone,
		Loss:                 ExponentialLoss{DefaultReferenceOhms},
	}
}

// Network is an immutable resistance-weighted graph over the grid items.
type Network struct {
	names  []string         // node id -> item id, sorted ascending
	ids    map[string]int64 // item id -> node id
	items  map[string]asset.Identifier
	graph  *simple.WeightedUndirectedGraph
	paths  path.AllShortest
	loss   LossModel
	kmUnit float64
}

type backbone struct {
	asset.Item
}

// New builds the network over items. Items of a source kind are wired to
// every building.
func New(items []asset.Identifier, opts Options) (*Network, error) {
	if opts.KmPerUnit <= 0 {
		opts.KmPerUnit = 1
	}
	if opts.Loss == nil {
		opts.Loss = NoLoss{}
	}

	all := make(map[string]asset.Identifier, len(items)+1)
	for _, it := range items {
		if _, exists := all[it.ID()]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateNode, it.ID())
		}
		all[it.ID()] = it
	}
	if opts.Backbone != nil {
		if _, exists := all[BackboneID]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateNode, BackboneID)
		}
		item, err := asset.NewItem(BackboneID, asset.GridKind, *opts.Backbone, 0)
		if err != nil {
			return nil, err
		}
		all[BackboneID] = backbone{item}
	}

	names := make([]string, 0, len(all))
	for id := range all {
		names = append(names, id)
	}
	sort.Strings(names)

	n := &Network{
		names:  names,
		ids:    make(map[string]int64, len(names)),
		items:  all,
		graph:  simple.NewWeightedUndirectedGraph(0, math.Inf(1)),
		loss:   opts.Loss,
		kmUnit: opts.KmPerUnit,
	}
	for i, id := range names {
		n.ids[id] = int64(i)
		n.graph.AddNode(simple.Node(int64(i)))
	}

	var sources, consumers []asset.Identifier
	for _, id := range names {
		switch it := all[id]; {
		case isSource(it.Kind()):
			sources = append(sources, it)
		case it.Kind() == asset.BuildingKind:
			consumers = append(consumers, it)
		}
	}

	for _, s := range sources {
		for _, c := range consumers {
			n.wire(s, c, opts.BuildingWireOhmPerKm)
		}
	}
	if opts.Backbone != nil {
		hub := all[BackboneID]
		for _, id := range names {
			if id != BackboneID {
				n.wire(all[id], hub, opts.GridOhmPerKm)
			}
		}
	}

	n.paths = path.DijkstraAllPaths(n.graph)
	return n, nil
}

func isSource(k asset.Kind) bool {
	return k == asset.SolarPanelKind || k == asset.SmallBatteryKind || k == asset.LargeBatteryKind
}

func (n *Network) wire(a, b asset.Identifier, ohmPerKm float64) {
	km := a.Position().Distance(b.Position()) * n.kmUnit
	n.graph.SetWeightedEdge(n.graph.NewWeightedEdge(
		simple.Node(n.ids[a.ID()]),
		simple.Node(n.ids[b.ID()]),
		km*ohmPerKm,
	))
}

func (n *Network) lookup(a, b string) (int64, int64, error) {
	u, ok := n.ids[a]
	if !ok {
		return 0, 0, fmt.Errorf("%w: %s", ErrUnknownNode, a)
	}
	v, ok := n.ids[b]
	if !ok {
		return 0, 0, fmt.Errorf("%w: %s", ErrUnknownNode, b)
	}
	return u, v, nil
}

// Distance is the resistance in ohm of the cheapest path between a and b,
// including the line resistance of both end items.
func (n *Network) Distance(a, b string) (float64, error) {
	u, v, err := n.lookup(a, b)
	if err != nil {
		return 0, err
	}
	if u == v {
		return 0, nil
	}
	w := n.paths.Weight(u, v)
	if math.IsInf(w, 1) {
		return 0, fmt.Errorf("%w: %s to %s", ErrNoPath, a, b)
	}
	return w + n.items[a].Resistance() + n.items[b].Resistance(), nil
}

// LossFraction is the share of energy drawn at b that is lost before
// reaching a, per the network's loss model.
func (n *Network) LossFraction(a, b string) (float64, error) {
	r, err := n.Distance(a, b)
	if err != nil {
		return 0, err
	}
	return n.loss.LossFraction(r), nil
}

// ShortestPath returns the edges of the cheapest path from a to b. Of several
// equally cheap paths the one with the smallest id sequence is chosen.
func (n *Network) ShortestPath(a, b string) ([]Edge, error) {
	u, v, err := n.lookup(a, b)
	if err != nil {
		return nil, err
	}
	if u == v {
		return []Edge{}, nil
	}
	candidates, w := n.paths.AllBetween(u, v)
	if len(candidates) == 0 || math.IsInf(w, 1) {
		return nil, fmt.Errorf("%w: %s to %s", ErrNoPath, a, b)
	}
	sort.Slice(candidates, func(i, j int) bool {
		return lessPath(candidates[i], candidates[j])
	})

	nodes := candidates[0]
	edges := make([]Edge, 0, len(nodes)-1)
	for i := 1; i < len(nodes); i++ {
		from, to := nodes[i-1].ID(), nodes[i].ID()
		r, _ := n.graph.Weight(from, to)
		fromItem, toItem := n.items[n.names[from]], n.items[n.names[to]]
		edges = append(edges, Edge{
			From:       n.names[from],
			To:         n.names[to],
			LengthKm:   fromItem.Position().Distance(toItem.Position()) * n.kmUnit,
			Resistance: r,
		})
	}
	return edges, nil
}

func lessPath(a, b []graph.Node) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i].ID() != b[i].ID() {
			return a[i].ID() < b[i].ID()
		}
	}
	return len(a) < len(b)
}

// Nodes returns every node id in ascending order, backbone included.
func (n *Network) Nodes() []string {
	out := make([]string, len(n.names))
	copy(out, n.names)
	return out
}

// Has reports whether id is a node of the network.
func (n *Network) Has(id string) bool {
	_, ok := n.ids[id]
	return ok
}
