/*
redisstore.go Keeps the latest state of every run in a Redis hash at
<Prefix>:run:<run id> and fans tick reports out on the <Prefix>:ticks channel.
*/

package redisstore

import (
	"context"
	"encoding/json"
	"io/ioutil"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ohowland/biogrid/internal/pkg/msg"
	"github.com/ohowland/biogrid/internal/pkg/simulator"
	"github.com/redis/go-redis/v9"
)

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
	Addr     string `json:"Addr"`
	Password string `json:"Password"`
	DB       int    `json:"DB"`
	Prefix   string `json:"Prefix"`
}

// store is the part of *redis.Client the handler uses.
type store interface {
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

func (h Handler) PID() uuid.UUID {
	return h.pid
}

func New(configPath string, system msg.Publisher) (Handler, error) {
	jsonConfig, err := ioutil.ReadFile(configPath)
	if err != nil {
		return Handler{}, err
	}
	cfg := config{Addr: "localhost:6379", Prefix: "biogrid"}
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

func (h Handler) Process() {
	defer func() { h.done <- true }()

	rdb := redis.NewClient(&redis.Options{
		Addr:     h.config.Addr,
		Password: h.config.Password,
		DB:       h.config.DB,
	})
	defer rdb.Close()
	h.serve(rdb)
}

func (h Handler) serve(s store) {
	log.Println("[Redis] Process Started")
loop:
	for {
		select {
		case m := <-h.inbox:
			h.handle(s, m)
		case <-h.stop:
			break loop
		}
	}
	for m := range h.inbox {
		h.handle(s, m)
	}
	log.Println("[Redis] Process Shutdown")
}

func (h Handler) handle(s store, m msg.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	if err := h.write(ctx, s, m); err != nil {
		log.Printf("[Redis] write: %v", err)
	}
}

func (h Handler) runKey(run uuid.UUID) string {
	return h.config.Prefix + ":run:" + run.String()
}

func (h Handler) channel() string {
	return h.config.Prefix + ":ticks"
}

func (h Handler) write(ctx context.Context, s store, m msg.Msg) error {
	switch p := m.Payload().(type) {
	case simulator.Run:
		return s.HSet(ctx, h.runKey(p.RunID), runFields(p)).Err()
	case simulator.TickReport:
		if err := s.HSet(ctx, h.runKey(p.RunID), tickFields(p)).Err(); err != nil {
			return err
		}
		payload, err := json.Marshal(p)
		if err != nil {
			return err
		}
		return s.Publish(ctx, h.channel(), payload).Err()
	}
	return nil
}

func runFields(r simulator.Run) map[string]interface{} {
	return map[string]interface{}{
		"start":        r.Start.Format(time.RFC3339),
		"tick":         r.Tick,
		"buildings":    len(r.Buildings),
		"sources":      len(r.Sources),
		"storeSurplus": r.StoreSurplus,
	}
}

func tickFields(r simulator.TickReport) map[string]interface{} {
	return map[string]interface{}{
		"ticks":                        r.Tick + 1,
		"time":                         r.Time.Format(time.RFC3339),
		"unserved":                     len(r.Unserved),
		"timeWithoutEnoughEnergy":      r.Metrics.TimeWithoutEnoughEnergy,
		"energyWastedFromSource":       r.Metrics.EnergyWastedFromSource,
		"energyWastedInTransportation": r.Metrics.EnergyWastedInTransportation,
	}
}
