package natshandler

import (
	"encoding/json"
	"io/ioutil"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/ohowland/biogrid/internal/pkg/msg"
	"github.com/ohowland/biogrid/internal/pkg/simulator"

	nats "github.com/nats-io/nats.go"
)

// Handler republishes simulator messages as JSON on NATS subjects
// <Prefix>.<run id>.run and <Prefix>.<run id>.tick.
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
	Server string `json:"Server"`
	Prefix string `json:"Prefix"`
}

// conn is the part of *nats.Conn the handler uses.
type conn interface {
	Publish(subject string, data []byte) error
	Flush() error
	Close()
}

func (h Handler) PID() uuid.UUID {
	return h.pid
}

func New(configPath string, system msg.Publisher) (Handler, error) {
	jsonConfig, err := ioutil.ReadFile(configPath)
	if err != nil {
		return Handler{}, err
	}
	cfg := config{Server: nats.DefaultURL, Prefix: "biogrid"}
	if err := json.Unmarshal(jsonConfig, &cfg); err != nil {
		return Handler{}, err
	}

	pid, _ := uuid.NewUUID()

	chStatus, err := system.Subscribe(pid, msg.Status)
	if err != nil {
		return Handler{}, err
	}

	chConfig, err := system.Subscribe(pid, msg.Config)
	if err != nil {
		return Handler{}, err
	}

	inbox := msg.Merge(50, chStatus, chConfig)
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

func (h Handler) subject(m msg.Msg) (string, bool) {
	switch p := m.Payload().(type) {
	case simulator.Run:
		return h.config.Prefix + "." + p.RunID.String() + ".run", true
	case simulator.TickReport:
		return h.config.Prefix + "." + p.RunID.String() + ".tick", true
	}
	return "", false
}

func (h Handler) Process() {
	defer func() { h.done <- true }()

	nc, err := nats.Connect(h.config.Server, nats.Name("biogrid-"+h.pid.String()))
	if err != nil {
		log.Println("[NATS client]", err)
		<-h.stop
		// discard until unsubscribed
		for range h.inbox {
		}
		return
	}
	h.serve(nc)
}

func (h Handler) serve(nc conn) {
	log.Println("[NATS client] Process Started")
	defer nc.Close()

loop:
	for {
		select {
		case m := <-h.inbox:
			h.publish(nc, m)
		case <-h.stop:
			break loop
		}
	}
	for m := range h.inbox {
		h.publish(nc, m)
	}
	if err := nc.Flush(); err != nil {
		log.Printf("[NATS client] flush: %v", err)
	}
	log.Println("[NATS client] Process Shutdown")
}

func (h Handler) publish(nc conn, m msg.Msg) {
	subject, ok := h.subject(m)
	if !ok {
		return
	}
	data, err := json.Marshal(m.Payload())
	if err != nil {
		return
	}
	if err = nc.Publish(subject, data); err != nil {
		log.Printf("[NATS client] unable to publish to nats server: %v", err)
	}
}
