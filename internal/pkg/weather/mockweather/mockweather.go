package mockweather

import (
	"context"
	"sync"
	"time"

	"github.com/ohowland/biogrid/internal/pkg/weather"
)

// Provider is a scripted weather.Provider for tests.
type Provider struct {
	mux        *sync.Mutex
	setup      bool
	setupCalls int

	Day      bool
	Cloud    float64
	Err      error         // returned by IsDay and CloudCoverage when set
	SetupErr error         // returned by Setup when set
	Delay    time.Duration // added to every IsDay lookup
	Night    func(time.Time) bool
}

// New returns a daytime provider with the given cloud coverage.
func New(cloud float64) *Provider {
	return &Provider{mux: &sync.Mutex{}, Day: true, Cloud: cloud}
}

// Factory returns a weather.Factory handing out p for every location.
func (p *Provider) Factory() weather.Factory {
	return func(weather.Location) weather.Provider { return p }
}

func (p *Provider) IsSetup() bool {
	p.mux.Lock()
	defer p.mux.Unlock()
	return p.setup
}

func (p *Provider) Setup(ctx context.Context) error {
	p.mux.Lock()
	defer p.mux.Unlock()
	p.setupCalls++
	if p.SetupErr != nil {
		return p.SetupErr
	}
	p.setup = true
	return nil
}

// SetupCalls counts Setup invocations
func (p *Provider) SetupCalls() int {
	p.mux.Lock()
	defer p.mux.Unlock()
	return p.setupCalls
}

func (p *Provider) IsDay(t time.Time) (bool, error) {
	if p.Delay > 0 {
		time.Sleep(p.Delay)
	}
	if p.Err != nil {
		return false, p.Err
	}
	if p.Night != nil {
		return !p.Night(t), nil
	}
	return p.Day, nil
}

func (p *Provider) CloudCoverage(t time.Time) (float64, error) {
	if p.Err != nil {
		return 0, p.Err
	}
	return p.Cloud, nil
}
