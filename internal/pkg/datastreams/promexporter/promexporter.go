/*
promexporter.go Keeps Prometheus gauges in step with the tick reports of a
simulator. Metrics live in a private registry exposed by HTTPHandler.
*/

package promexporter

import (
	"log"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/ohowland/biogrid/internal/pkg/msg"
	"github.com/ohowland/biogrid/internal/pkg/simulator"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Handler struct {
	mux      *sync.Mutex
	inbox    <-chan msg.Msg
	pid      uuid.UUID
	system   msg.Publisher
	stop     chan bool
	done     chan bool
	registry *prometheus.Registry
	gauges   *gauges
}

type gauges struct {
	ticks           *prometheus.CounterVec
	withoutEnergy   *prometheus.GaugeVec
	wastedSource    *prometheus.GaugeVec
	wastedTransport *prometheus.GaugeVec
	delivered       *prometheus.GaugeVec
	unserved        *prometheus.GaugeVec
}

func newGauges(reg prometheus.Registerer) *gauges {
	f := promauto.With(reg)
	return &gauges{
		ticks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "biogrid_ticks_total",
			Help: "Ticks simulated.",
		}, []string{"run"}),
		withoutEnergy: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "biogrid_time_without_enough_energy",
			Help: "Consumer ticks left with a deficit since the run started.",
		}, []string{"run"}),
		wastedSource: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "biogrid_energy_wasted_from_source_joules",
			Help: "Solar output nobody drew since the run started.",
		}, []string{"run"}),
		wastedTransport: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "biogrid_energy_wasted_in_transportation_joules",
			Help: "Energy lost on the network since the run started.",
		}, []string{"run"}),
		delivered: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "biogrid_delivered_joules",
			Help: "Energy delivered to consumers in the last tick.",
		}, []string{"run"}),
		unserved: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "biogrid_unserved_consumers",
			Help: "Consumers left with a deficit in the last tick.",
		}, []string{"run"}),
	}
}

func (h Handler) PID() uuid.UUID {
	return h.pid
}

// New subscribes to tick reports on system.
func New(system msg.Publisher) (Handler, error) {
	pid, _ := uuid.NewUUID()

	chStatus, err := system.Subscribe(pid, msg.Status)
	if err != nil {
		return Handler{}, err
	}

	reg := prometheus.NewRegistry()
	inbox := msg.Merge(50, chStatus)
	return Handler{
		mux:      &sync.Mutex{},
		inbox:    inbox,
		pid:      pid,
		system:   system,
		stop:     make(chan bool),
		done:     make(chan bool),
		registry: reg,
		gauges:   newGauges(reg),
	}, nil
}

func (h Handler) Registry() *prometheus.Registry {
	return h.registry
}

// HTTPHandler serves the registry in the Prometheus exposition format.
func (h Handler) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(h.registry, promhttp.HandlerOpts{})
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
	log.Println("[Prometheus] Process Started")
loop:
	for {
		select {
		case m := <-h.inbox:
			if r, ok := m.Payload().(simulator.TickReport); ok {
				h.observe(r)
			}
		case <-h.stop:
			break loop
		}
	}
	for m := range h.inbox {
		if r, ok := m.Payload().(simulator.TickReport); ok {
			h.observe(r)
		}
	}
	log.Println("[Prometheus] Process Shutdown")
}

func (h Handler) observe(r simulator.TickReport) {
	h.mux.Lock()
	defer h.mux.Unlock()
	run := r.RunID.String()
	h.gauges.ticks.WithLabelValues(run).Inc()
	h.gauges.withoutEnergy.WithLabelValues(run).Set(r.Metrics.TimeWithoutEnoughEnergy)
	h.gauges.wastedSource.WithLabelValues(run).Set(r.Metrics.EnergyWastedFromSource)
	h.gauges.wastedTransport.WithLabelValues(run).Set(r.Metrics.EnergyWastedInTransportation)
	h.gauges.delivered.WithLabelValues(run).Set(r.Delivered)
	h.gauges.unserved.WithLabelValues(run).Set(float64(len(r.Unserved)))
}
