package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ohowland/biogrid/internal/pkg/biogrid"
	"github.com/ohowland/biogrid/internal/pkg/config"
	"github.com/ohowland/biogrid/internal/pkg/datastreams/influx"
	"github.com/ohowland/biogrid/internal/pkg/datastreams/mongodb"
	"github.com/ohowland/biogrid/internal/pkg/datastreams/natshandler"
	"github.com/ohowland/biogrid/internal/pkg/datastreams/promexporter"
	"github.com/ohowland/biogrid/internal/pkg/datastreams/redisstore"
	"github.com/ohowland/biogrid/internal/pkg/datastreams/sqldb"
	"github.com/ohowland/biogrid/internal/pkg/datastreams/ticklog"
	"github.com/ohowland/biogrid/internal/pkg/simulator"
	"github.com/ohowland/biogrid/internal/pkg/web"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

// handler is a datastream subscribed to the simulator.
type handler interface {
	Process()
	Stop()
}

func main() {
	app := &cli.App{
		Name:  "biogrid",
		Usage: "Simulate energy routing in a rural micro-grid",
		Commands: []*cli.Command{
			runCmd,
			validateCmd,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Println("Error: ", err)
		os.Exit(1)
	}
}

var configFlag = &cli.StringFlag{
	Name:    "config",
	Aliases: []string{"c"},
	Usage:   "specify the .json or .yaml config, defaults are used when empty",
}

var validateCmd = &cli.Command{
	Name:  "validate",
	Usage: "Check a config file against the schema",
	Flags: []cli.Flag{configFlag},
	Action: func(ctx *cli.Context) error {
		if _, err := loadConfig(ctx.String("config")); err != nil {
			return err
		}
		fmt.Println("ok")
		return nil
	},
}

var runCmd = &cli.Command{
	Name:    "run",
	Usage:   "Run a simulation and print its results",
	Aliases: []string{"r"},
	Flags: []cli.Flag{
		configFlag,
		&cli.IntFlag{
			Name:  "ticks",
			Usage: "override the number of ticks to simulate",
		},
		&cli.BoolFlag{
			Name:  "store-surplus",
			Usage: "charge batteries from unused solar output",
		},
		&cli.BoolFlag{
			Name:  "serve",
			Usage: "keep the web server up after the run until interrupted",
		},
	},
	Action: func(ctx *cli.Context) error {
		cfg, err := loadConfig(ctx.String("config"))
		if err != nil {
			return err
		}
		if ctx.IsSet("ticks") {
			cfg.Simulation.Ticks = ctx.Int("ticks")
		}
		if ctx.Bool("store-surplus") {
			cfg.Simulation.StoreSurplus = true
		}
		return run(ctx.Context, cfg, ctx.Bool("serve"))
	},
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func run(parent context.Context, cfg config.Config, serve bool) error {
	log.Println("[Main] Starting biogrid")
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Println("[Main] Building Grid")
	grid, err := buildGrid(cfg)
	if err != nil {
		return err
	}

	log.Println("[Main] Building Simulator")
	sim, err := simulator.New(grid, cfg.SimulatorOptions())
	if err != nil {
		return err
	}
	defer sim.Close()

	log.Println("[Main] Connecting Datastreams")
	handlers, exporter, err := buildDatastreams(cfg.Datastreams, sim)
	if err != nil {
		return err
	}
	for _, h := range handlers {
		go h.Process()
	}

	g, gctx := errgroup.WithContext(ctx)
	webCtx, stopWeb := context.WithCancel(gctx)
	defer stopWeb()
	if cfg.Web.Addr != "" {
		log.Println("[Main] Starting Web Server")
		g.Go(func() error {
			return buildWeb(sim, exporter, cfg.Web).ListenAndServe(webCtx)
		})
	}

	g.Go(func() error {
		defer func() {
			if !serve {
				stopWeb()
			}
		}()
		log.Println("[Main] Running Simulation")
		if err := sim.RunSimulation(gctx, cfg.Simulation.Ticks); err != nil {
			return err
		}
		return printResults(sim.Results())
	})
	err = g.Wait()

	log.Println("[Main] Stopping Datastreams")
	for _, h := range handlers {
		h.Stop()
	}
	log.Println("[Main] Stopping system")
	return err
}

func buildGrid(cfg config.Config) (*biogrid.Grid, error) {
	opts, err := cfg.GridOptions(cfg.WeatherFactory())
	if err != nil {
		return nil, err
	}
	return biogrid.New(cfg.Town, opts)
}

// buildDatastreams starts nothing; it subscribes every configured handler to
// sim. The prometheus exporter is returned separately for the web server.
func buildDatastreams(ds config.Datastreams, sim *simulator.Simulator) ([]handler, *promexporter.Handler, error) {
	var handlers []handler

	if ds.MongoDB != "" {
		h, err := mongodb.New(ds.MongoDB, sim)
		if err != nil {
			return nil, nil, err
		}
		handlers = append(handlers, &h)
	}
	if ds.NATS != "" {
		h, err := natshandler.New(ds.NATS, sim)
		if err != nil {
			return nil, nil, err
		}
		handlers = append(handlers, &h)
	}
	if ds.SQL != "" {
		h, err := sqldb.New(ds.SQL, sim)
		if err != nil {
			return nil, nil, err
		}
		handlers = append(handlers, &h)
	}
	if ds.TickLog != "" {
		h, err := ticklog.New(ds.TickLog, sim)
		if err != nil {
			return nil, nil, err
		}
		handlers = append(handlers, &h)
	}
	if ds.Influx != "" {
		h, err := influx.New(ds.Influx, sim)
		if err != nil {
			return nil, nil, err
		}
		handlers = append(handlers, &h)
	}
	if ds.Redis != "" {
		h, err := redisstore.New(ds.Redis, sim)
		if err != nil {
			return nil, nil, err
		}
		handlers = append(handlers, &h)
	}

	var exporter *promexporter.Handler
	if ds.Prometheus {
		h, err := promexporter.New(sim)
		if err != nil {
			return nil, nil, err
		}
		exporter = &h
		handlers = append(handlers, &h)
	}
	return handlers, exporter, nil
}

func buildWeb(sim *simulator.Simulator, exporter *promexporter.Handler, cfg config.Web) *web.App {
	if exporter == nil {
		return web.New(sim, nil, web.Config{Addr: cfg.Addr})
	}
	return web.New(sim, exporter.HTTPHandler(), web.Config{Addr: cfg.Addr})
}

func printResults(m simulator.Metrics) error {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}
