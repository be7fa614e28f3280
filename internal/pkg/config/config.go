/*
config.go Run configuration for the biogrid binary. Files are JSON or YAML,
chosen by extension, and are checked against schema.json after decoding.
*/

package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"path/filepath"
	"strings"
	"time"

	"github.com/ohowland/biogrid/internal/lib/weather/virtualweather"
	"github.com/ohowland/biogrid/internal/pkg/biogrid"
	"github.com/ohowland/biogrid/internal/pkg/network"
	"github.com/ohowland/biogrid/internal/pkg/simulator"
	"github.com/ohowland/biogrid/internal/pkg/weather"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed schema.json
var schemaJSON string

var schema = jsonschema.MustCompileString("schema.json", schemaJSON)

// Config is the whole run description.
type Config struct {
	Town        biogrid.RuralArea     `json:"Town" yaml:"town"`
	Sources     Sources               `json:"Sources" yaml:"sources"`
	Solar       Solar                 `json:"Solar" yaml:"solar"`
	Simulation  Simulation            `json:"Simulation" yaml:"simulation"`
	Network     Network               `json:"Network" yaml:"network"`
	Weather     virtualweather.Config `json:"Weather" yaml:"weather"`
	Datastreams Datastreams           `json:"Datastreams" yaml:"datastreams"`
	Web         Web                   `json:"Web" yaml:"web"`
}

type Sources struct {
	LargeBatteryCells int `json:"LargeBatteryCells" yaml:"large_battery_cells"`
	SmallBatteryCells int `json:"SmallBatteryCells" yaml:"small_battery_cells"`
	SolarPanels       int `json:"SolarPanels" yaml:"solar_panels"`
}

type Solar struct {
	AreaSquareMeters float64          `json:"AreaSquareMeters" yaml:"area_square_meters"`
	Efficiency       float64          `json:"Efficiency" yaml:"efficiency"`
	Location         weather.Location `json:"Location" yaml:"location"`
}

type Simulation struct {
	Start          time.Time `json:"Start" yaml:"start"`
	Tick           Duration  `json:"Tick" yaml:"tick"`
	Ticks          int       `json:"Ticks" yaml:"ticks"`
	BuildingLoad   float64   `json:"BuildingLoad" yaml:"building_load"`
	StoreSurplus   bool      `json:"StoreSurplus" yaml:"store_surplus"`
	Seed           uint64    `json:"Seed" yaml:"seed"`
	WeatherTimeout Duration  `json:"WeatherTimeout" yaml:"weather_timeout"`
}

type Network struct {
	KmPerUnit  float64            `json:"KmPerUnit" yaml:"km_per_unit"`
	NoBackbone bool               `json:"NoBackbone" yaml:"no_backbone"`
	Loss       network.LossConfig `json:"Loss" yaml:"loss"`
}

// Datastreams holds the config file path of every handler to start. Empty
// paths leave the handler out.
type Datastreams struct {
	MongoDB string `json:"MongoDB" yaml:"mongodb"`
	NATS    string `json:"NATS" yaml:"nats"`
	SQL     string `json:"SQL" yaml:"sql"`
	TickLog string `json:"TickLog" yaml:"ticklog"`
	Influx  string `json:"Influx" yaml:"influx"`
	Redis   string `json:"Redis" yaml:"redis"`
	// Prometheus exports metrics on the web server's /metrics route.
	Prometheus bool `json:"Prometheus" yaml:"prometheus"`
}

type Web struct {
	// Addr to serve on; empty disables the web server.
	Addr string `json:"Addr" yaml:"addr"`
}

// Duration reads "90s" style strings.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	return d.parse(s)
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	return d.parse(s)
}

func (d *Duration) parse(s string) error {
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	d.Duration = v
	return nil
}

// Default is a day of hourly ticks in an empty 10x10 town with one large
// battery cell.
func Default() Config {
	vw := virtualweather.DefaultConfig()
	return Config{
		Town:    biogrid.RuralArea{Width: 10, Height: 10},
		Sources: Sources{LargeBatteryCells: 1},
		Solar: Solar{
			AreaSquareMeters: 10,
			Efficiency:       0.175,
			Location:         weather.Location{Latitude: 0.3476, Longitude: 32.5825},
		},
		Simulation: Simulation{
			Start:          time.Date(2020, time.June, 21, 0, 0, 0, 0, time.UTC),
			Tick:           Duration{time.Hour},
			Ticks:          24,
			Seed:           1,
			WeatherTimeout: Duration{2 * time.Second},
		},
		Network: Network{KmPerUnit: 1},
		Weather: vw,
	}
}

// Load reads a .json, .yaml or .yml config over the defaults.
func Load(path string) (Config, error) {
	raw, err := ioutil.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(raw, &cfg)
	default:
		err = json.Unmarshal(raw, &cfg)
	}
	if err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks c against the config schema.
func (c Config) Validate() error {
	b, err := json.Marshal(c)
	if err != nil {
		return err
	}
	var doc interface{}
	if err := json.Unmarshal(b, &doc); err != nil {
		return err
	}
	return schema.Validate(doc)
}

// WeatherFactory builds virtual weather providers from the Weather section.
func (c Config) WeatherFactory() weather.Factory {
	return virtualweather.NewFactory(c.Weather)
}

// GridOptions translates the config into biogrid options.
func (c Config) GridOptions(factory weather.Factory) (biogrid.Options, error) {
	loss, err := c.Network.Loss.Build()
	if err != nil {
		return biogrid.Options{}, err
	}
	return biogrid.Options{
		NumberOfLargeBatteryCells: c.Sources.LargeBatteryCells,
		NumberOfSmallBatteryCells: c.Sources.SmallBatteryCells,
		NumberOfSolarPanels:       c.Sources.SolarPanels,
		SolarAreaSquareMeters:     c.Solar.AreaSquareMeters,
		SolarEfficiency:           c.Solar.Efficiency,
		Location:                  c.Solar.Location,
		Weather:                   factory,
		WeatherTimeout:            c.Simulation.WeatherTimeout.Duration,
		Start:                     c.Simulation.Start,
		Tick:                      c.Simulation.Tick.Duration,
		Seed:                      c.Simulation.Seed,
		KmPerUnit:                 c.Network.KmPerUnit,
		Loss:                      loss,
		NoBackbone:                c.Network.NoBackbone,
	}, nil
}

func (c Config) SimulatorOptions() simulator.Options {
	return simulator.Options{
		StoreSurplus: c.Simulation.StoreSurplus,
		BuildingLoad: c.Simulation.BuildingLoad,
	}
}
