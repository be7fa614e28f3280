package virtualweather

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"io/ioutil"
	"log"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/ohowland/biogrid/internal/pkg/weather"
	"gonum.org/v1/gonum/stat/distuv"
)

// Config parameterises the cloud model. Cloud coverage for each hour is drawn
// from Beta(CloudAlpha, CloudBeta), seeded by Seed, the hour and the location.
type Config struct {
	Seed       uint64  `json:"Seed" yaml:"seed"`
	CloudAlpha float64 `json:"CloudAlpha" yaml:"cloud_alpha"`
	CloudBeta  float64 `json:"CloudBeta" yaml:"cloud_beta"`
}

// DefaultConfig gives mostly clear skies with occasional overcast hours.
func DefaultConfig() Config {
	return Config{Seed: 1, CloudAlpha: 1.2, CloudBeta: 2.8}
}

// VirtualWeather is a deterministic weather.Provider. Day and night follow
// the sun elevation at the location; cloud coverage is reproducible for a
// given (seed, hour, location).
type VirtualWeather struct {
	mux      *sync.Mutex
	config   Config
	location weather.Location
	setup    bool
}

// New returns an unconfigured VirtualWeather for location.
func New(config Config, location weather.Location) *VirtualWeather {
	return &VirtualWeather{
		mux:      &sync.Mutex{},
		config:   config,
		location: location,
	}
}

// NewFactory returns a weather.Factory producing VirtualWeather providers.
func NewFactory(config Config) weather.Factory {
	return func(l weather.Location) weather.Provider {
		return New(config, l)
	}
}

// ReadConfig reads a JSON Config file
func ReadConfig(configPath string) (Config, error) {
	jsonConfig, err := ioutil.ReadFile(configPath)
	if err != nil {
		return Config{}, err
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(jsonConfig, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (w *VirtualWeather) IsSetup() bool {
	w.mux.Lock()
	defer w.mux.Unlock()
	return w.setup
}

// Setup validates the cloud model.
func (w *VirtualWeather) Setup(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.mux.Lock()
	defer w.mux.Unlock()
	if !(w.config.CloudAlpha > 0) || !(w.config.CloudBeta > 0) {
		return weather.ErrUnavailable
	}
	if math.Abs(w.location.Latitude) > 90 {
		return weather.ErrUnavailable
	}
	w.setup = true
	log.Printf("[VirtualWeather] Ready at lat %.3f lon %.3f\n", w.location.Latitude, w.location.Longitude)
	return nil
}

// IsDay reports whether t falls between sunrise and sunset.
func (w *VirtualWeather) IsDay(t time.Time) (bool, error) {
	if !w.IsSetup() {
		return false, weather.ErrUnavailable
	}
	h := solarTime(t, w.location.Longitude)
	return h >= sunrise(w.location.Latitude, t) && h < sunset(w.location.Latitude, t), nil
}

// CloudCoverage returns the coverage of the hour containing t.
func (w *VirtualWeather) CloudCoverage(t time.Time) (float64, error) {
	if !w.IsSetup() {
		return 0, weather.ErrUnavailable
	}
	hour := uint64(t.UTC().Unix() / 3600)
	beta := distuv.Beta{
		Alpha: w.config.CloudAlpha,
		Beta:  w.config.CloudBeta,
		Src:   rand.NewPCG(w.config.Seed^w.locationKey(), hour),
	}
	return clamp(beta.Rand(), 0, 1), nil
}

func (w *VirtualWeather) locationKey() uint64 {
	h := fnv.New64a()
	var b [16]byte
	lat := math.Float64bits(w.location.Latitude)
	lon := math.Float64bits(w.location.Longitude)
	for i := 0; i < 8; i++ {
		b[i] = byte(lat >> (8 * i))
		b[8+i] = byte(lon >> (8 * i))
	}
	h.Write(b[:])
	return h.Sum64()
}
