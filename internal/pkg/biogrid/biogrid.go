/*
biogrid.go The energy state of one micro-grid: its buildings, battery cells,
solar panels and the transport network between them. Grid state only changes
inside ApplyAction, Consume and Advance, each of which holds the grid lock for
the whole mutation.
*/

package biogrid

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/ohowland/biogrid/internal/pkg/asset"
	"github.com/ohowland/biogrid/internal/pkg/dispatch"
	"github.com/ohowland/biogrid/internal/pkg/network"
	"github.com/ohowland/biogrid/internal/pkg/weather"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat/distuv"
)

var (
	ErrDuplicateID   = errors.New("biogrid: duplicate id")
	ErrOutsideTown   = errors.New("biogrid: position outside town")
	ErrInvalidArea   = errors.New("biogrid: invalid rural area")
	ErrUnknownItem   = errors.New("biogrid: unknown item")
	ErrOverdraw      = errors.New("biogrid: action draws beyond availability")
	ErrStaleSnapshot = errors.New("biogrid: action computed for another tick")
)

// RuralArea is the town the grid serves.
type RuralArea struct {
	Width     float64                `json:"Width" yaml:"width"`
	Height    float64                `json:"Height" yaml:"height"`
	Buildings []asset.BuildingParams `json:"Buildings" yaml:"buildings"`
}

// Options sizes the grid and its environment.
type Options struct {
	NumberOfLargeBatteryCells int
	NumberOfSmallBatteryCells int
	NumberOfSolarPanels       int

	SolarAreaSquareMeters float64
	SolarEfficiency       float64
	Location              weather.Location
	Weather               weather.Factory
	// WeatherTimeout bounds each panel's weather lookup. Zero or less means
	// DefaultWeatherTimeout.
	WeatherTimeout time.Duration

	Start time.Time
	Tick  time.Duration
	// Seed drives source placement.
	Seed uint64

	KmPerUnit float64
	Loss      network.LossModel
	// NoBackbone leaves out the shared grid backbone node.
	NoBackbone bool
}

// DefaultWeatherTimeout bounds a weather lookup when Options leave it unset.
const DefaultWeatherTimeout = 2 * time.Second

// DefaultOptions returns a grid of one large battery cell and the standard
// panel parameters, ticking hourly.
func DefaultOptions() Options {
	return Options{
		NumberOfLargeBatteryCells: 1,
		SolarAreaSquareMeters:     asset.SolarPanelArea,
		SolarEfficiency:           asset.SolarPanelEfficiency,
		WeatherTimeout:            DefaultWeatherTimeout,
		Start:                     time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC),
		Tick:                      time.Hour,
		Seed:                      1,
		KmPerUnit:                 1,
		Loss:                      network.ExponentialLoss{ReferenceOhms: network.DefaultReferenceOhms},
	}
}

// Grid holds every item of a biogrid and the clock of the simulation.
type Grid struct {
	mux       *sync.Mutex
	area      RuralArea
	opts      Options
	now       time.Time
	buildings map[string]*asset.Building
	sources   map[string]asset.Source
	network   *network.Network
}

// New places the sources of opts in area and builds the transport network.
func New(area RuralArea, opts Options) (*Grid, error) {
	if !(area.Width > 0) || !(area.Height > 0) {
		return nil, fmt.Errorf("%w: town %vx%v", ErrInvalidArea, area.Width, area.Height)
	}
	if opts.NumberOfLargeBatteryCells < 0 || opts.NumberOfSmallBatteryCells < 0 || opts.NumberOfSolarPanels < 0 {
		return nil, fmt.Errorf("%w: negative source count", ErrInvalidArea)
	}
	if opts.Tick <= 0 {
		opts.Tick = time.Hour
	}
	if opts.WeatherTimeout <= 0 {
		opts.WeatherTimeout = DefaultWeatherTimeout
	}

	g := &Grid{
		mux:       &sync.Mutex{},
		area:      area,
		opts:      opts,
		now:       opts.Start,
		buildings: make(map[string]*asset.Building),
		sources:   make(map[string]asset.Source),
	}

	items := make([]asset.Identifier, 0, len(area.Buildings))
	add := func(it asset.Identifier) error {
		if !it.Position().Within(area.Width, area.Height) {
			return fmt.Errorf("%w: %s at %+v", ErrOutsideTown, it.ID(), it.Position())
		}
		if g.has(it.ID()) || it.ID() == network.BackboneID {
			return fmt.Errorf("%w: %s", ErrDuplicateID, it.ID())
		}
		items = append(items, it)
		return nil
	}

	for _, p := range area.Buildings {
		b, err := asset.NewBuilding(p)
		if err != nil {
			return nil, err
		}
		if err := add(b); err != nil {
			return nil, err
		}
		g.buildings[b.ID()] = b
	}

	placer := newPlacer(area, opts.Seed)
	for i := 0; i < opts.NumberOfLargeBatteryCells; i++ {
		b, err := asset.NewLargeBattery(i, placer.next())
		if err != nil {
			return nil, err
		}
		if err := add(b); err != nil {
			return nil, err
		}
		g.sources[b.ID()] = b
	}
	for i := 0; i < opts.NumberOfSmallBatteryCells; i++ {
		b, err := asset.NewSmallBattery(i, placer.next())
		if err != nil {
			return nil, err
		}
		if err := add(b); err != nil {
			return nil, err
		}
		g.sources[b.ID()] = b
	}
	if opts.NumberOfSolarPanels > 0 && opts.Weather == nil {
		return nil, fmt.Errorf("%w: solar panels need a weather provider", asset.ErrInvalidParameter)
	}
	for i := 0; i < opts.NumberOfSolarPanels; i++ {
		id := asset.SolarPanelKind.ID(i)
		s, err := asset.NewSolarPanel(asset.SolarPanelParams{
			ID:               id,
			Position:         placer.next(),
			AreaSquareMeters: opts.SolarAreaSquareMeters,
			Efficiency:       opts.SolarEfficiency,
			Location:         opts.Location,
			Weather:          opts.Weather(opts.Location),
		})
		if err != nil {
			return nil, err
		}
		if err := add(s); err != nil {
			return nil, err
		}
		g.sources[s.ID()] = s
	}

	netOpts := network.DefaultOptions(asset.Position{X: area.Width / 2, Y: area.Height / 2})
	if opts.NoBackbone {
		netOpts.Backbone = nil
	}
	if opts.KmPerUnit > 0 {
		netOpts.KmPerUnit = opts.KmPerUnit
	}
	netOpts.Loss = opts.Loss
	n, err := network.New(items, netOpts)
	if err != nil {
		return nil, err
	}
	g.network = n

	log.Printf("[Biogrid] Built %d buildings, %d sources in %vx%v town\n",
		len(g.buildings), len(g.sources), area.Width, area.Height)
	return g, nil
}

func (g *Grid) has(id string) bool {
	if _, ok := g.buildings[id]; ok {
		return true
	}
	_, ok := g.sources[id]
	return ok
}

// placer draws source positions uniformly over the town.
type placer struct {
	x, y distuv.Uniform
}

func newPlacer(area RuralArea, seed uint64) placer {
	return placer{
		x: distuv.Uniform{Min: 0, Max: area.Width, Src: rand.NewPCG(seed, 0)},
		y: distuv.Uniform{Min: 0, Max: area.Height, Src: rand.NewPCG(seed, 1)},
	}
}

func (p placer) next() asset.Position {
	return asset.Position{X: p.x.Rand(), Y: p.y.Rand()}
}

// Network returns the transport network, which never changes.
func (g *Grid) Network() *network.Network {
	return g.network
}

// Now is the simulation time of the next snapshot.
func (g *Grid) Now() time.Time {
	g.mux.Lock()
	defer g.mux.Unlock()
	return g.now
}

// Tick is the duration of one simulation step.
func (g *Grid) Tick() time.Duration {
	return g.opts.Tick
}

// Area returns the town the grid was built for.
func (g *Grid) Area() RuralArea {
	return g.area
}

// BuildingIDs in ascending order
func (g *Grid) BuildingIDs() []string {
	return sortedKeys(g.buildings)
}

// SourceIDs in ascending order
func (g *Grid) SourceIDs() []string {
	return sortedKeys(g.sources)
}

// Building returns the building id.
func (g *Grid) Building(id string) (*asset.Building, bool) {
	b, ok := g.buildings[id]
	return b, ok
}

// Source returns the source id.
func (g *Grid) Source(id string) (asset.Source, bool) {
	s, ok := g.sources[id]
	return s, ok
}

// StoredEnergy of a building or battery cell. Solar panels store nothing.
func (g *Grid) StoredEnergy(id string) (float64, error) {
	g.mux.Lock()
	defer g.mux.Unlock()
	if b, ok := g.buildings[id]; ok {
		return b.StoredEnergy(), nil
	}
	if s, ok := g.sources[id]; ok {
		if b, ok := s.(*asset.BatteryCell); ok {
			return b.AvailableEnergy(), nil
		}
		return 0, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrUnknownItem, id)
}

// GetSystemState captures a snapshot at the grid clock. Solar panels are
// looked up concurrently, each within the weather timeout; the snapshot is
// returned once every lookup resolved.
func (g *Grid) GetSystemState(ctx context.Context) (dispatch.Snapshot, error) {
	g.mux.Lock()
	defer g.mux.Unlock()

	ids := sortedKeys(g.sources)
	available := make([]float64, len(ids))

	eg, egCtx := errgroup.WithContext(ctx)
	for i, id := range ids {
		src := g.sources[id]
		if _, ok := src.(*asset.SolarPanel); !ok {
			available[i] = asset.Available(egCtx, src, g.now, g.opts.Tick)
			continue
		}
		eg.Go(func() error {
			lookupCtx, cancel := context.WithTimeout(egCtx, g.opts.WeatherTimeout)
			defer cancel()
			available[i] = asset.Available(lookupCtx, src, g.now, g.opts.Tick)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return dispatch.Snapshot{}, err
	}
	if err := ctx.Err(); err != nil {
		return dispatch.Snapshot{}, err
	}

	sources := make(map[string]dispatch.SourceState, len(ids))
	for i, id := range ids {
		st := dispatch.SourceState{Available: available[i]}
		if b, ok := g.sources[id].(*asset.BatteryCell); ok {
			st.Stores = true
			st.Headroom = b.Headroom()
		}
		sources[id] = st
	}
	deficits := make(map[string]float64, len(g.buildings))
	for id, b := range g.buildings {
		deficits[id] = b.Demand()
	}
	return dispatch.NewSnapshot(g.now, sources, deficits), nil
}

// Outcome is the effect of one applied Action.
type Outcome struct {
	Delivered         float64
	WastedInTransport float64
	WastedFromSource  float64
	Stored            float64
	// Unserved consumers still in deficit after the action, ascending
	Unserved []string
}

// ApplyAction moves the energy of a. Every entry is checked before anything
// changes: an invalid action leaves the grid untouched.
func (g *Grid) ApplyAction(a dispatch.Action) (Outcome, error) {
	g.mux.Lock()
	defer g.mux.Unlock()

	s := a.Snapshot()
	if !s.Time().Equal(g.now) {
		return Outcome{}, fmt.Errorf("%w: %v, grid at %v", ErrStaleSnapshot, s.Time(), g.now)
	}
	entries, charges := a.Entries(), a.Charges()
	if err := g.validate(s, entries, charges); err != nil {
		return Outcome{}, err
	}
	for _, id := range s.SourceIDs() {
		limit, _ := s.Available(id)
		if b, ok := g.sources[id].(*asset.BatteryCell); ok && b.AvailableEnergy() < limit {
			limit = b.AvailableEnergy()
		}
		if drawn := a.Drawn(id); drawn > limit+dispatch.Epsilon {
			return Outcome{}, fmt.Errorf("%w: %s drew %v of %v", ErrOverdraw, id, drawn, limit)
		}
	}

	var out Outcome
	for _, e := range entries {
		drawn := asset.Draw(g.sources[e.Supplier], e.Drawn)
		got := g.buildings[e.Consumer].Charge(e.Delivered)
		out.Delivered += got
		out.WastedInTransport += drawn - got
	}
	for _, e := range charges {
		drawn := asset.Draw(g.sources[e.Supplier], e.Drawn)
		got := g.sources[e.Consumer].(*asset.BatteryCell).Charge(e.Delivered)
		out.Stored += got
		out.WastedInTransport += drawn - got
	}
	for _, id := range s.SourceIDs() {
		if st, _ := s.Source(id); !st.Stores {
			if unused := st.Available - a.Drawn(id); unused > dispatch.Epsilon {
				out.WastedFromSource += unused
			}
		}
	}
	for _, id := range sortedKeys(g.buildings) {
		if g.buildings[id].Demand() > dispatch.Epsilon {
			out.Unserved = append(out.Unserved, id)
		}
	}
	return out, nil
}

func (g *Grid) validate(s dispatch.Snapshot, entries, charges []dispatch.Entry) error {
	for _, id := range s.SourceIDs() {
		if _, ok := g.sources[id]; !ok {
			return fmt.Errorf("%w: source %s", ErrUnknownItem, id)
		}
	}
	for _, e := range entries {
		if _, ok := g.buildings[e.Consumer]; !ok {
			return fmt.Errorf("%w: consumer %s", ErrUnknownItem, e.Consumer)
		}
		if _, ok := s.Source(e.Supplier); !ok {
			return fmt.Errorf("%w: supplier %s", ErrUnknownItem, e.Supplier)
		}
	}
	for _, e := range charges {
		if _, ok := g.sources[e.Consumer].(*asset.BatteryCell); !ok {
			return fmt.Errorf("%w: battery %s", ErrUnknownItem, e.Consumer)
		}
		if _, ok := s.Source(e.Supplier); !ok {
			return fmt.Errorf("%w: supplier %s", ErrUnknownItem, e.Supplier)
		}
	}
	return nil
}

// Consume uses load joules from every building and returns the total used.
func (g *Grid) Consume(load float64) float64 {
	g.mux.Lock()
	defer g.mux.Unlock()
	used := 0.0
	for _, b := range g.buildings {
		used += b.Consume(load)
	}
	return used
}

// Advance moves the grid clock one tick forward.
func (g *Grid) Advance() time.Time {
	g.mux.Lock()
	defer g.mux.Unlock()
	g.now = g.now.Add(g.opts.Tick)
	return g.now
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
