// Package weather defines the capability solar panels consume to estimate
// their output. Providers are supplied per panel location.
package weather

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable is returned by providers that cannot answer for a date.
var ErrUnavailable = errors.New("weather: data unavailable")

// Provider answers day/night and cloud coverage questions for one location.
// Implementations must be safe for concurrent use.
type Provider interface {
	IsSetup() bool
	Setup(ctx context.Context) error
	IsDay(t time.Time) (bool, error)
	// CloudCoverage is the covered fraction of the sky in [0,1]
	CloudCoverage(t time.Time) (float64, error)
}

// Location in degrees
type Location struct {
	Latitude  float64 `json:"Latitude" yaml:"latitude"`
	Longitude float64 `json:"Longitude" yaml:"longitude"`
}

// Factory builds a Provider for a location.
type Factory func(Location) Provider
