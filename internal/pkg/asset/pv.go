package asset

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/ohowland/biogrid/internal/pkg/weather"
)

// SolarPanelParams configures a SolarPanel. Efficiency is a fraction in [0,1].
type SolarPanelParams struct {
	ID               string
	Position         Position
	AreaSquareMeters float64
	Efficiency       float64
	Location         weather.Location
	Weather          weather.Provider
}

// SolarPanel is a generating source. It stores nothing; its output is
// computed on demand from the weather at its location.
type SolarPanel struct {
	Item
	mux        *sync.Mutex
	area       float64
	efficiency float64
	location   weather.Location
	weather    weather.Provider
}

// NewSolarPanel validates params and returns a SolarPanel.
func NewSolarPanel(p SolarPanelParams) (*SolarPanel, error) {
	if p.Efficiency < 0 || p.Efficiency > 1 || math.IsNaN(p.Efficiency) {
		return nil, fmt.Errorf("%w: %s efficiency %v outside [0, 1]", ErrInvalidParameter, p.ID, p.Efficiency)
	}
	if p.AreaSquareMeters < 0 || math.IsNaN(p.AreaSquareMeters) || math.IsInf(p.AreaSquareMeters, 0) {
		return nil, fmt.Errorf("%w: %s area %v", ErrInvalidParameter, p.ID, p.AreaSquareMeters)
	}
	if p.Weather == nil {
		return nil, fmt.Errorf("%w: %s has no weather provider", ErrInvalidParameter, p.ID)
	}
	item, err := NewItem(p.ID, SolarPanelKind, p.Position, SolarLineResistance)
	if err != nil {
		return nil, err
	}
	return &SolarPanel{
		Item:       item,
		mux:        &sync.Mutex{},
		area:       p.AreaSquareMeters,
		efficiency: p.Efficiency,
		location:   p.Location,
		weather:    p.Weather,
	}, nil
}

func (s *SolarPanel) AreaSquareMeters() float64  { return s.area }
func (s *SolarPanel) Efficiency() float64        { return s.efficiency }
func (s *SolarPanel) Location() weather.Location { return s.location }

// PowerAmount returns the panel output in watts at date. Weather failures and
// an expired ctx yield 0.
func (s *SolarPanel) PowerAmount(ctx context.Context, date time.Time) float64 {
	type result struct {
		power float64
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		p, err := s.powerAmount(ctx, date)
		ch <- result{p, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			log.Printf("[SolarPanel %s] weather lookup failed, producing 0: %v", s.ID(), r.err)
			return 0
		}
		return r.power
	case <-ctx.Done():
		log.Printf("[SolarPanel %s] weather lookup abandoned, producing 0: %v", s.ID(), ctx.Err())
		return 0
	}
}

// EnergyAmount is the energy produced over a tick starting at date, in joules.
func (s *SolarPanel) EnergyAmount(ctx context.Context, date time.Time, tick time.Duration) float64 {
	return s.PowerAmount(ctx, date) * tick.Seconds()
}

func (s *SolarPanel) powerAmount(ctx context.Context, date time.Time) (float64, error) {
	if err := s.ensureSetup(ctx); err != nil {
		return 0, err
	}
	day, err := s.weather.IsDay(date)
	if err != nil {
		return 0, err
	}
	if !day {
		return 0, nil
	}
	cloud, err := s.weather.CloudCoverage(date)
	if err != nil {
		return 0, err
	}
	return Irradiance(cloud) * s.area * s.efficiency, nil
}

func (s *SolarPanel) ensureSetup(ctx context.Context) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	if s.weather.IsSetup() {
		return nil
	}
	return s.weather.Setup(ctx)
}

// Irradiance approximates the W/m^2 reaching the ground under the given cloud
// coverage. It is an empirical fit, not a physical law.
func Irradiance(cloudCoverage float64) float64 {
	c := clamp(cloudCoverage, 0, 1)
	return ClearSkyIrradiance * (1 - CloudCoverageScalingConstant*math.Pow(c, 3))
}
