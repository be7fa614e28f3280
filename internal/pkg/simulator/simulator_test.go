package simulator

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ohowland/biogrid/internal/pkg/asset"
	"github.com/ohowland/biogrid/internal/pkg/biogrid"
	"github.com/ohowland/biogrid/internal/pkg/msg"
	"github.com/ohowland/biogrid/internal/pkg/weather"
	"github.com/ohowland/biogrid/internal/pkg/weather/mockweather"
	"gotest.tools/v3/assert"
)

func town() biogrid.RuralArea {
	return biogrid.RuralArea{
		Width:  10,
		Height: 10,
		Buildings: []asset.BuildingParams{
			{ID: "energy_user-1", X: 3, Y: 4, Energy: asset.BuildingCapacity},
			{ID: "energy_user-2", X: 7, Y: 9, Energy: 0},
			{ID: "energy_user-3", X: 7, Y: 8, Energy: asset.BuildingCapacity},
		},
	}
}

func newSimulator(t *testing.T, gridOpts biogrid.Options, opts Options) *Simulator {
	t.Helper()
	g, err := biogrid.New(town(), gridOpts)
	assert.NilError(t, err)
	s, err := New(g, opts)
	assert.NilError(t, err)
	return s
}

func nightOnly(panels int) biogrid.Options {
	night := mockweather.New(0)
	night.Day = false
	opts := biogrid.DefaultOptions()
	opts.NumberOfLargeBatteryCells = 0
	opts.NumberOfSolarPanels = panels
	opts.Weather = func(weather.Location) weather.Provider { return night }
	return opts
}

func TestNewWithoutGrid(t *testing.T) {
	_, err := New(nil, Options{})
	assert.ErrorIs(t, err, ErrNoGrid)
}

func TestUnservedConsumerCounted(t *testing.T) {
	s := newSimulator(t, nightOnly(2), Options{})

	assert.NilError(t, s.RunSimulation(context.Background(), 3))
	r := s.Results()
	assert.Equal(t, r.TimeWithoutEnoughEnergy, 3.0)
	assert.Equal(t, r.EnergyWastedFromSource, 0.0)
	assert.Equal(t, r.EnergyWastedInTransportation, 0.0)
	assert.Equal(t, s.Ticks(), 3)
}

func TestUndrawnBatteryNotWasted(t *testing.T) {
	s := newSimulator(t, biogrid.DefaultOptions(), Options{})

	assert.NilError(t, s.RunSimulation(context.Background(), 1))
	stored, err := s.Grid().StoredEnergy("large_battery-0")
	assert.NilError(t, err)
	assert.Assert(t, stored > 0)
	r := s.Results()
	assert.Equal(t, r.TimeWithoutEnoughEnergy, 0.0)
	assert.Equal(t, r.EnergyWastedFromSource, 0.0)
}

func TestBatteryServesDeficit(t *testing.T) {
	s := newSimulator(t, biogrid.DefaultOptions(), Options{})

	assert.NilError(t, s.RunSimulation(context.Background(), 1))
	r := s.Results()
	assert.Equal(t, r.TimeWithoutEnoughEnergy, 0.0)
	assert.Assert(t, r.EnergyWastedInTransportation > 0)

	stored, err := s.Grid().StoredEnergy("energy_user-2")
	assert.NilError(t, err)
	assert.Assert(t, stored > asset.BuildingCapacity-1e-6)
}

func TestMetricsNeverDecrease(t *testing.T) {
	sunny := mockweather.New(0.2)
	sunny.Night = func(t time.Time) bool { return t.Hour() < 6 || t.Hour() >= 18 }
	opts := biogrid.DefaultOptions()
	opts.NumberOfSmallBatteryCells = 1
	opts.NumberOfSolarPanels = 1
	opts.Weather = func(weather.Location) weather.Provider { return sunny }
	s := newSimulator(t, opts, Options{BuildingLoad: 1500, StoreSurplus: true})

	prev := s.Results()
	for i := 0; i < 24; i++ {
		assert.NilError(t, s.RunSimulation(context.Background(), 1))
		now := s.Results()
		assert.Assert(t, now.TimeWithoutEnoughEnergy >= prev.TimeWithoutEnoughEnergy)
		assert.Assert(t, now.EnergyWastedFromSource >= prev.EnergyWastedFromSource)
		assert.Assert(t, now.EnergyWastedInTransportation >= prev.EnergyWastedInTransportation)
		prev = now
	}
	assert.Assert(t, prev.EnergyWastedFromSource > 0)
}

func TestTickReportsPublished(t *testing.T) {
	s := newSimulator(t, biogrid.DefaultOptions(), Options{BuildingLoad: 100})
	defer s.Close()

	pid, _ := uuid.NewUUID()
	status, err := s.Subscribe(pid, msg.Status)
	assert.NilError(t, err)
	config, err := s.Subscribe(pid, msg.Config)
	assert.NilError(t, err)

	start := s.Grid().Now()
	assert.NilError(t, s.RunSimulation(context.Background(), 2))

	m := <-config
	run, ok := m.Payload().(Run)
	assert.Assert(t, ok)
	assert.Equal(t, run.RunID, s.PID())
	assert.DeepEqual(t, run.Sources, []string{"large_battery-0"})

	for i := 0; i < 2; i++ {
		m := <-status
		assert.Equal(t, m.PID(), s.PID())
		report, ok := m.Payload().(TickReport)
		assert.Assert(t, ok)
		assert.Equal(t, report.Tick, i)
		assert.Equal(t, report.Time, start.Add(time.Duration(i)*time.Hour))
	}
	assert.Equal(t, s.Grid().Now(), start.Add(2*time.Hour))
}

func TestRunSimulationCancelled(t *testing.T) {
	s := newSimulator(t, biogrid.DefaultOptions(), Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.RunSimulation(ctx, 5)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, s.Ticks(), 0)
}

func TestSystemStateMatchesGrid(t *testing.T) {
	s := newSimulator(t, biogrid.DefaultOptions(), Options{})
	a, err := s.SystemState(context.Background())
	assert.NilError(t, err)
	b, err := s.Grid().GetSystemState(context.Background())
	assert.NilError(t, err)
	assert.Assert(t, a.Equal(b))

	d, ok := a.Deficit("energy_user-2")
	assert.Assert(t, ok)
	assert.Equal(t, d, asset.BuildingCapacity)
}

func TestMetricsJSON(t *testing.T) {
	b, err := json.Marshal(Metrics{1, 2, 3})
	assert.NilError(t, err)
	assert.Equal(t, string(b),
		`{"timeWithoutEnoughEnergy":1,"energyWastedFromSource":2,"energyWastedInTransportation":3}`)
}
