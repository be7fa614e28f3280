/*
simulator.go Drives a biogrid tick by tick: snapshot, routing decision, state
update. Metrics accumulate for the life of the simulator and every tick is
published as a TickReport for the datastream handlers.
*/

package simulator

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ohowland/biogrid/internal/pkg/biogrid"
	"github.com/ohowland/biogrid/internal/pkg/dispatch"
	"github.com/ohowland/biogrid/internal/pkg/msg"
)

var ErrNoGrid = errors.New("simulator: no grid")

// Metrics are the results of a run. Every counter only grows.
type Metrics struct {
	// TimeWithoutEnoughEnergy counts consumer-ticks left in deficit.
	TimeWithoutEnoughEnergy float64 `json:"timeWithoutEnoughEnergy"`
	// EnergyWastedFromSource is the availability of non-storing sources
	// (solar panels) nobody drew, in joules. Battery cells keep what is not
	// drawn, so their leftover capacity is deliberately not counted.
	EnergyWastedFromSource float64 `json:"energyWastedFromSource"`
	// EnergyWastedInTransportation is the resistive loss, in joules.
	EnergyWastedInTransportation float64 `json:"energyWastedInTransportation"`
}

func (m *Metrics) add(out biogrid.Outcome) {
	m.TimeWithoutEnoughEnergy += float64(len(out.Unserved))
	m.EnergyWastedFromSource += out.WastedFromSource
	m.EnergyWastedInTransportation += out.WastedInTransport
}

// TickReport describes one completed tick.
type TickReport struct {
	RunID     uuid.UUID        `json:"RunID"`
	Tick      int              `json:"Tick"`
	Time      time.Time        `json:"Time"`
	Entries   []dispatch.Entry `json:"Entries"`
	Charges   []dispatch.Entry `json:"Charges"`
	Unserved  []string         `json:"Unserved"`
	Delivered float64          `json:"Delivered"`
	Metrics   Metrics          `json:"Metrics"`
}

// Run describes a simulation; it is published on msg.Config before the first
// tick of every RunSimulation call.
type Run struct {
	RunID        uuid.UUID `json:"RunID"`
	Start        time.Time `json:"Start"`
	Tick         string    `json:"Tick"`
	Buildings    []string  `json:"Buildings"`
	Sources      []string  `json:"Sources"`
	StoreSurplus bool      `json:"StoreSurplus"`
	BuildingLoad float64   `json:"BuildingLoad"`
}

// Options tune the per-tick behaviour of a Simulator.
type Options struct {
	StoreSurplus bool
	// BuildingLoad is consumed by every building at the end of each tick, J.
	BuildingLoad float64
}

// Simulator owns the grid and the metrics of one run.
type Simulator struct {
	mux       *sync.Mutex
	running   *sync.Mutex
	pid       uuid.UUID
	grid      *biogrid.Grid
	brain     dispatch.Dispatcher
	publisher *msg.PubSub
	opts      Options
	metrics   Metrics
	ticks     int
}

// New returns a Simulator for grid.
func New(grid *biogrid.Grid, opts Options) (*Simulator, error) {
	if grid == nil {
		return nil, ErrNoGrid
	}
	pid, err := uuid.NewUUID()
	if err != nil {
		return nil, err
	}
	if opts.BuildingLoad < 0 {
		opts.BuildingLoad = 0
	}
	return &Simulator{
		mux:       &sync.Mutex{},
		running:   &sync.Mutex{},
		pid:       pid,
		grid:      grid,
		brain:     dispatch.Brain{StoreSurplus: opts.StoreSurplus},
		publisher: msg.NewPublisher(pid),
		opts:      opts,
	}, nil
}

// PID identifies the run.
func (s *Simulator) PID() uuid.UUID {
	return s.pid
}

// Grid being simulated
func (s *Simulator) Grid() *biogrid.Grid {
	return s.grid
}

// Subscribe to run descriptions (msg.Config) or tick reports (msg.Status).
func (s *Simulator) Subscribe(pid uuid.UUID, topic msg.Topic) (<-chan msg.Msg, error) {
	return s.publisher.Subscribe(pid, topic)
}

func (s *Simulator) Unsubscribe(pid uuid.UUID) {
	s.publisher.Unsubscribe(pid)
}

// Close ends every subscription.
func (s *Simulator) Close() {
	s.publisher.Close()
}

// RunSimulation advances the grid by ticks steps. Ticks run strictly one
// after the other; ctx is checked between ticks and bounds weather lookups.
func (s *Simulator) RunSimulation(ctx context.Context, ticks int) error {
	s.running.Lock()
	defer s.running.Unlock()

	s.publisher.Publish(msg.Config, s.describe())
	log.Printf("[Simulator] Run %v: %d ticks from %v\n", s.pid, ticks, s.grid.Now())
	for i := 0; i < ticks; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.tick(ctx); err != nil {
			log.Printf("[Simulator] Run %v: tick %d failed: %v\n", s.pid, s.Ticks(), err)
			return err
		}
	}
	log.Printf("[Simulator] Run %v: done at tick %d, %+v\n", s.pid, s.Ticks(), s.Results())
	return nil
}

func (s *Simulator) tick(ctx context.Context) error {
	snapshot, err := s.grid.GetSystemState(ctx)
	if err != nil {
		return err
	}
	action, err := s.brain.ComputeAction(snapshot, s.grid.Network())
	if err != nil {
		return err
	}
	out, err := s.grid.ApplyAction(action)
	if err != nil {
		return err
	}
	s.grid.Consume(s.opts.BuildingLoad)
	s.grid.Advance()

	s.mux.Lock()
	s.metrics.add(out)
	report := TickReport{
		RunID:     s.pid,
		Tick:      s.ticks,
		Time:      snapshot.Time(),
		Entries:   action.Entries(),
		Charges:   action.Charges(),
		Unserved:  out.Unserved,
		Delivered: out.Delivered,
		Metrics:   s.metrics,
	}
	s.ticks++
	s.mux.Unlock()

	s.publisher.Publish(msg.Status, report)
	return nil
}

func (s *Simulator) describe() Run {
	return Run{
		RunID:        s.pid,
		Start:        s.grid.Now(),
		Tick:         s.grid.Tick().String(),
		Buildings:    s.grid.BuildingIDs(),
		Sources:      s.grid.SourceIDs(),
		StoreSurplus: s.opts.StoreSurplus,
		BuildingLoad: s.opts.BuildingLoad,
	}
}

// Results returns the metrics accumulated so far.
func (s *Simulator) Results() Metrics {
	s.mux.Lock()
	defer s.mux.Unlock()
	return s.metrics
}

// Ticks completed so far
func (s *Simulator) Ticks() int {
	s.mux.Lock()
	defer s.mux.Unlock()
	return s.ticks
}

// SystemState is the snapshot the next tick would start from.
func (s *Simulator) SystemState(ctx context.Context) (dispatch.Snapshot, error) {
	return s.grid.GetSystemState(ctx)
}
