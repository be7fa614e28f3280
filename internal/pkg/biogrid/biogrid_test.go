package biogrid

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/ohowland/biogrid/internal/pkg/asset"
	"github.com/ohowland/biogrid/internal/pkg/dispatch"
	"github.com/ohowland/biogrid/internal/pkg/network"
	"github.com/ohowland/biogrid/internal/pkg/weather"
	"github.com/ohowland/biogrid/internal/pkg/weather/mockweather"
	"gotest.tools/v3/assert"
)

// scenarioArea is the three-building town used across the routing tests.
func scenarioArea() RuralArea {
	return RuralArea{
		Width:  10,
		Height: 10,
		Buildings: []asset.BuildingParams{
			{ID: "energy_user-1", X: 3, Y: 4, Energy: asset.BuildingCapacity},
			{ID: "energy_user-2", X: 7, Y: 9, Energy: 0},
			{ID: "energy_user-3", X: 7, Y: 8, Energy: asset.BuildingCapacity},
		},
	}
}

func newGrid(t *testing.T, area RuralArea, opts Options) *Grid {
	t.Helper()
	g, err := New(area, opts)
	assert.NilError(t, err)
	return g
}

func solarOnly(w weather.Provider, panels int) Options {
	opts := DefaultOptions()
	opts.NumberOfLargeBatteryCells = 0
	opts.NumberOfSolarPanels = panels
	opts.Weather = func(weather.Location) weather.Provider { return w }
	return opts
}

func step(t *testing.T, g *Grid, b dispatch.Brain) (dispatch.Action, Outcome) {
	t.Helper()
	s, err := g.GetSystemState(context.Background())
	assert.NilError(t, err)
	a, err := b.ComputeAction(s, g.Network())
	assert.NilError(t, err)
	out, err := g.ApplyAction(a)
	assert.NilError(t, err)
	return a, out
}

func TestScenarioSingleLargeBattery(t *testing.T) {
	g := newGrid(t, scenarioArea(), DefaultOptions())

	s, err := g.GetSystemState(context.Background())
	assert.NilError(t, err)
	a, err := dispatch.Instance().ComputeAction(s, g.Network())
	assert.NilError(t, err)

	paths := a.SupplyingPaths()
	assert.Equal(t, len(paths), 1)
	assert.Equal(t, paths["energy_user-2"], "large_battery-0")
	assert.Assert(t, a.DeliveredAmount("energy_user-2") > 0)
}

func TestScenarioNoAvailability(t *testing.T) {
	night := mockweather.New(0)
	night.Day = false
	g := newGrid(t, scenarioArea(), solarOnly(night, 2))

	a, out := step(t, g, dispatch.Instance())
	assert.Equal(t, a.Len(), 0)
	assert.DeepEqual(t, out.Unserved, []string{"energy_user-2"})
	assert.Equal(t, out.WastedFromSource, 0.0)
	assert.Equal(t, out.WastedInTransport, 0.0)
}

func TestScenarioSolarAtNight(t *testing.T) {
	night := mockweather.New(0)
	night.Day = false
	g := newGrid(t, scenarioArea(), solarOnly(night, 1))

	before, err := g.StoredEnergy("solar_panel-0")
	assert.NilError(t, err)
	_, _ = step(t, g, dispatch.Instance())
	after, err := g.StoredEnergy("solar_panel-0")
	assert.NilError(t, err)
	assert.Equal(t, after, before)

	stored, err := g.StoredEnergy("energy_user-2")
	assert.NilError(t, err)
	assert.Equal(t, stored, 0.0)
}

func TestGetSystemStateIdempotent(t *testing.T) {
	opts := solarOnly(mockweather.New(0.3), 2)
	opts.NumberOfSmallBatteryCells = 2
	g := newGrid(t, scenarioArea(), opts)

	first, err := g.GetSystemState(context.Background())
	assert.NilError(t, err)
	second, err := g.GetSystemState(context.Background())
	assert.NilError(t, err)
	assert.Assert(t, first.Equal(second))

	_, _ = step(t, g, dispatch.Instance())
	third, err := g.GetSystemState(context.Background())
	assert.NilError(t, err)
	assert.Assert(t, !first.Equal(third))
}

func TestGetSystemStateWeatherTimeout(t *testing.T) {
	slow := mockweather.New(0)
	slow.Delay = 200 * time.Millisecond
	opts := solarOnly(slow, 3)
	opts.WeatherTimeout = 10 * time.Millisecond
	g := newGrid(t, scenarioArea(), opts)

	start := time.Now()
	s, err := g.GetSystemState(context.Background())
	assert.NilError(t, err)
	assert.Assert(t, time.Since(start) < 150*time.Millisecond)
	assert.Equal(t, s.TotalAvailable(), 0.0)
	assert.Equal(t, len(s.SourceIDs()), 3)
}

func TestZeroWeatherTimeoutStillBounded(t *testing.T) {
	hung := mockweather.New(0)
	hung.Delay = time.Minute
	opts := solarOnly(hung, 2)
	opts.WeatherTimeout = 0
	g := newGrid(t, scenarioArea(), opts)
	assert.Equal(t, g.opts.WeatherTimeout, DefaultWeatherTimeout)

	opts.WeatherTimeout = -time.Second
	assert.Equal(t, newGrid(t, scenarioArea(), opts).opts.WeatherTimeout, DefaultWeatherTimeout)

	if testing.Short() {
		t.Skip("waits out the default weather timeout")
	}
	start := time.Now()
	s, err := g.GetSystemState(context.Background())
	assert.NilError(t, err)
	assert.Assert(t, time.Since(start) < DefaultWeatherTimeout+time.Second)
	assert.Equal(t, s.TotalAvailable(), 0.0)
}

func TestGetSystemStateCancelled(t *testing.T) {
	g := newGrid(t, scenarioArea(), solarOnly(mockweather.New(0), 1))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := g.GetSystemState(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSolarSnapshotEnergy(t *testing.T) {
	g := newGrid(t, scenarioArea(), solarOnly(mockweather.New(0), 1))
	s, err := g.GetSystemState(context.Background())
	assert.NilError(t, err)

	want := asset.ClearSkyIrradiance * asset.SolarPanelArea * asset.SolarPanelEfficiency * time.Hour.Seconds()
	got, ok := s.Available("solar_panel-0")
	assert.Assert(t, ok)
	assert.Assert(t, math.Abs(got-want) < 1e-6)
	st, _ := s.Source("solar_panel-0")
	assert.Assert(t, !st.Stores)
}

func TestApplyActionMovesEnergy(t *testing.T) {
	opts := DefaultOptions()
	opts.Loss = network.NoLoss{}
	g := newGrid(t, scenarioArea(), opts)

	_, out := step(t, g, dispatch.Instance())
	assert.Equal(t, out.Delivered, asset.BuildingCapacity)
	assert.Equal(t, out.WastedInTransport, 0.0)
	assert.Equal(t, len(out.Unserved), 0)

	battery, err := g.StoredEnergy("large_battery-0")
	assert.NilError(t, err)
	assert.Equal(t, battery, asset.LargeBatteryCapacity-asset.BuildingCapacity)
	user, err := g.StoredEnergy("energy_user-2")
	assert.NilError(t, err)
	assert.Equal(t, user, asset.BuildingCapacity)
}

func TestApplyActionWithLoss(t *testing.T) {
	g := newGrid(t, scenarioArea(), DefaultOptions())

	a, out := step(t, g, dispatch.Instance())
	e, ok := a.Entry("energy_user-2")
	assert.Assert(t, ok)
	assert.Assert(t, e.Drawn > e.Delivered)
	assert.Assert(t, math.Abs(out.WastedInTransport-e.Lost()) < 1e-9)

	battery, _ := g.StoredEnergy("large_battery-0")
	assert.Assert(t, math.Abs(battery-(asset.LargeBatteryCapacity-e.Drawn)) < 1e-6)
}

func TestSolarSurplusIsWasted(t *testing.T) {
	g := newGrid(t, scenarioArea(), solarOnly(mockweather.New(0), 1))

	s, err := g.GetSystemState(context.Background())
	assert.NilError(t, err)
	a, err := dispatch.Instance().ComputeAction(s, g.Network())
	assert.NilError(t, err)
	out, err := g.ApplyAction(a)
	assert.NilError(t, err)

	available, _ := s.Available("solar_panel-0")
	assert.Assert(t, math.Abs(out.WastedFromSource-(available-a.Drawn("solar_panel-0"))) < 1e-6)
	assert.Assert(t, out.WastedFromSource > 0)
}

func TestSurplusChargesBattery(t *testing.T) {
	dawn := mockweather.New(0)
	dawn.Night = func(t time.Time) bool { return t.Hour() < 1 }
	opts := solarOnly(dawn, 1)
	opts.NumberOfSmallBatteryCells = 1
	g := newGrid(t, scenarioArea(), opts)

	// at night only the battery can serve energy_user-2
	a, _ := step(t, g, dispatch.Instance())
	e, _ := a.Entry("energy_user-2")
	assert.Equal(t, e.Supplier, "small_battery-0")
	g.Advance()
	before, _ := g.StoredEnergy("small_battery-0")

	a, out := step(t, g, dispatch.Brain{StoreSurplus: true})
	after, _ := g.StoredEnergy("small_battery-0")
	assert.Assert(t, len(a.Charges()) > 0)
	assert.Assert(t, after > before)
	assert.Assert(t, out.Stored > 0)
	assert.Assert(t, after <= asset.SmallBatteryCapacity)
}

func TestApplyActionRejectsStaleSnapshot(t *testing.T) {
	g := newGrid(t, scenarioArea(), DefaultOptions())
	s, err := g.GetSystemState(context.Background())
	assert.NilError(t, err)
	a, err := dispatch.Instance().ComputeAction(s, g.Network())
	assert.NilError(t, err)

	g.Advance()
	_, err = g.ApplyAction(a)
	assert.ErrorIs(t, err, ErrStaleSnapshot)
}

func TestApplyActionAllOrNothing(t *testing.T) {
	g := newGrid(t, scenarioArea(), DefaultOptions())

	// a valid entry next to a source the grid does not own
	s := dispatch.NewSnapshot(g.Now(),
		map[string]dispatch.SourceState{
			"large_battery-0": {Available: asset.LargeBatteryCapacity, Stores: true},
			"small_battery-7": {Available: 0, Stores: true},
		},
		map[string]float64{"energy_user-2": asset.BuildingCapacity},
	)
	a, err := dispatch.Instance().ComputeAction(s, g.Network())
	assert.NilError(t, err)
	assert.Equal(t, a.Len(), 1)

	_, err = g.ApplyAction(a)
	assert.ErrorIs(t, err, ErrUnknownItem)

	battery, _ := g.StoredEnergy("large_battery-0")
	assert.Equal(t, battery, asset.LargeBatteryCapacity)
	user, _ := g.StoredEnergy("energy_user-2")
	assert.Equal(t, user, 0.0)

	_, err = g.StoredEnergy("small_battery-7")
	assert.ErrorIs(t, err, ErrUnknownItem)
}

func TestApplyActionRejectsOverdraw(t *testing.T) {
	opts := DefaultOptions()
	opts.NumberOfLargeBatteryCells = 0
	opts.NumberOfSmallBatteryCells = 1
	area := scenarioArea()
	area.Buildings[0].Energy = 0
	area.Buildings[2].Energy = 0
	g := newGrid(t, area, opts)

	// claims more than the small battery holds
	s := dispatch.NewSnapshot(g.Now(),
		map[string]dispatch.SourceState{"small_battery-0": {Available: asset.LargeBatteryCapacity, Stores: true}},
		map[string]float64{"energy_user-1": 4545, "energy_user-2": 4545, "energy_user-3": 4545},
	)
	a, err := dispatch.Instance().ComputeAction(s, g.Network())
	assert.NilError(t, err)
	assert.Equal(t, a.Len(), 3)

	_, err = g.ApplyAction(a)
	assert.ErrorIs(t, err, ErrOverdraw)
	stored, _ := g.StoredEnergy("small_battery-0")
	assert.Equal(t, stored, asset.SmallBatteryCapacity)
	for _, id := range g.BuildingIDs() {
		e, _ := g.StoredEnergy(id)
		assert.Equal(t, e, 0.0)
	}
}

func TestStoredEnergyStaysInBounds(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping multi-tick run in short mode")
	}
	cloudy := mockweather.New(0.6)
	cloudy.Night = func(t time.Time) bool { return t.Hour() < 6 || t.Hour() >= 18 }
	opts := solarOnly(cloudy, 2)
	opts.NumberOfSmallBatteryCells = 2
	area := scenarioArea()
	area.Buildings[0].Energy = 100
	g := newGrid(t, area, opts)

	for i := 0; i < 48; i++ {
		_, _ = step(t, g, dispatch.Brain{StoreSurplus: true})
		g.Consume(2000)
		g.Advance()
		for _, id := range g.BuildingIDs() {
			b, _ := g.Building(id)
			assert.Assert(t, b.StoredEnergy() >= 0 && b.StoredEnergy() <= b.Capacity())
		}
		for _, id := range g.SourceIDs() {
			src, _ := g.Source(id)
			if b, ok := src.(*asset.BatteryCell); ok {
				assert.Assert(t, b.AvailableEnergy() >= 0 && b.AvailableEnergy() <= b.Capacity())
			}
		}
	}
}

func TestNewValidation(t *testing.T) {
	_, err := New(RuralArea{Width: 0, Height: 10}, DefaultOptions())
	assert.ErrorIs(t, err, ErrInvalidArea)

	area := scenarioArea()
	area.Buildings[1].ID = "energy_user-1"
	_, err = New(area, DefaultOptions())
	assert.ErrorIs(t, err, ErrDuplicateID)

	area = scenarioArea()
	area.Buildings[0].X = 11
	_, err = New(area, DefaultOptions())
	assert.ErrorIs(t, err, ErrOutsideTown)

	area = scenarioArea()
	area.Buildings[0].ID = "grid-0"
	_, err = New(area, DefaultOptions())
	assert.ErrorIs(t, err, ErrDuplicateID)

	opts := DefaultOptions()
	opts.NumberOfSolarPanels = 1
	_, err = New(scenarioArea(), opts)
	assert.ErrorIs(t, err, asset.ErrInvalidParameter)

	opts = solarOnly(mockweather.New(0), 1)
	opts.SolarEfficiency = 1.5
	_, err = New(scenarioArea(), opts)
	assert.ErrorIs(t, err, asset.ErrInvalidParameter)
}

func TestPlacementReproducible(t *testing.T) {
	opts := DefaultOptions()
	opts.NumberOfSmallBatteryCells = 4
	a := newGrid(t, scenarioArea(), opts)
	b := newGrid(t, scenarioArea(), opts)
	for _, id := range a.SourceIDs() {
		sa, _ := a.Source(id)
		sb, _ := b.Source(id)
		assert.Equal(t, sa.Position(), sb.Position())
		assert.Assert(t, sa.Position().Within(10, 10))
	}

	opts.Seed = 2
	c := newGrid(t, scenarioArea(), opts)
	sa, _ := a.Source("small_battery-0")
	sc, _ := c.Source("small_battery-0")
	assert.Assert(t, sa.Position() != sc.Position())
}

func TestConsumeAndAdvance(t *testing.T) {
	g := newGrid(t, scenarioArea(), DefaultOptions())
	used := g.Consume(1000)
	assert.Equal(t, used, 2000.0)
	e, _ := g.StoredEnergy("energy_user-1")
	assert.Equal(t, e, asset.BuildingCapacity-1000)

	start := g.Now()
	assert.Equal(t, g.Advance(), start.Add(time.Hour))
	assert.Equal(t, g.Now(), start.Add(time.Hour))
}
