/*
influx.go Writes one InfluxDB point per simulated tick, timestamped with the
simulated clock and tagged with the run id.
*/

package influx

import (
	"context"
	"encoding/json"
	"io/ioutil"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/ohowland/biogrid/internal/pkg/msg"
	"github.com/ohowland/biogrid/internal/pkg/simulator"
)

const measurement = "tick"

type Handler struct {
	mux    *sync.Mutex
	inbox  <-chan msg.Msg
	pid    uuid.UUID
	system msg.Publisher
	config config
	stop   chan bool
	done   chan bool
}

type config struct {
	URL    string `json:"URL"`
	Token  string `json:"Token"`
	Org    string `json:"Org"`
	Bucket string `json:"Bucket"`
}

// pointWriter is the part of api.WriteAPIBlocking the handler uses.
type pointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

func (h Handler) PID() uuid.UUID {
	return h.pid
}

func New(configPath string, system msg.Publisher) (Handler, error) {
	jsonConfig, err := ioutil.ReadFile(configPath)
	if err != nil {
		return Handler{}, err
	}
	cfg := config{URL: "http://localhost:8086", Bucket: "biogrid"}
	if err := json.Unmarshal(jsonConfig, &cfg); err != nil {
		return Handler{}, err
	}

	pid, _ := uuid.NewUUID()

	chStatus, err := system.Subscribe(pid, msg.Status)
	if err != nil {
		return Handler{}, err
	}

	inbox := msg.Merge(50, chStatus)
	return Handler{
		mux:    &sync.Mutex{},
		inbox:  inbox,
		pid:    pid,
		system: system,
		config: cfg,
		stop:   make(chan bool),
		done:   make(chan bool),
	}, nil
}

// Stop ends Process and waits for it to return. Messages published before
// Stop are handled first.
func (h *Handler) Stop() {
	h.stop <- true
	h.system.Unsubscribe(h.pid)
	<-h.done
}

func (h Handler) Process() {
	defer func() { h.done <- true }()

	client := influxdb2.NewClient(h.config.URL, h.config.Token)
	defer client.Close()
	h.serve(client.WriteAPIBlocking(h.config.Org, h.config.Bucket))
}

func (h Handler) serve(w pointWriter) {
	log.Println("[Influx] Process Started")
loop:
	for {
		select {
		case m := <-h.inbox:
			h.write(w, m)
		case <-h.stop:
			break loop
		}
	}
	for m := range h.inbox {
		h.write(w, m)
	}
	log.Println("[Influx] Process Shutdown")
}

func (h Handler) write(w pointWriter, m msg.Msg) {
	r, ok := m.Payload().(simulator.TickReport)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := w.WritePoint(ctx, point(r)); err != nil {
		log.Printf("[Influx] write tick %d: %v", r.Tick, err)
	}
}

func point(r simulator.TickReport) *write.Point {
	return influxdb2.NewPoint(measurement,
		map[string]string{"run": r.RunID.String()},
		map[string]interface{}{
			"tick":                            r.Tick,
			"delivered":                       r.Delivered,
			"unserved":                        len(r.Unserved),
			"time_without_enough_energy":      r.Metrics.TimeWithoutEnoughEnergy,
			"energy_wasted_from_source":       r.Metrics.EnergyWastedFromSource,
			"energy_wasted_in_transportation": r.Metrics.EnergyWastedInTransportation,
		},
		r.Time)
}
