package mongodb

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
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Handler stores run descriptions and tick reports in MongoDB. Runs are
// upserted by run id and carry the latest metrics; every tick is inserted.
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
	URI      string `json:"URI"`
	Database string `json:"Database"`
	Timeout  int    `json:"TimeoutMillis"`
}

func (h Handler) PID() uuid.UUID {
	return h.pid
}

func New(configPath string, system msg.Publisher) (Handler, error) {
	jsonConfig, err := ioutil.ReadFile(configPath)
	if err != nil {
		return Handler{}, err
	}
	cfg := config{Timeout: 1000}
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

//TODO: run ids are written as strings; binary subtype 0x04 would index smaller.
func runDocument(r simulator.Run) bson.D {
	return bson.D{
		{Key: "$set", Value: bson.M{
			"runId":        r.RunID.String(),
			"start":        r.Start,
			"tick":         r.Tick,
			"buildings":    r.Buildings,
			"sources":      r.Sources,
			"storeSurplus": r.StoreSurplus,
			"buildingLoad": r.BuildingLoad,
		}},
	}
}

func metricsDocument(r simulator.TickReport) bson.D {
	return bson.D{
		{Key: "$set", Value: bson.M{
			"runId":   r.RunID.String(),
			"ticks":   r.Tick + 1,
			"until":   r.Time,
			"results": r.Metrics,
		}},
	}
}

func tickDocument(r simulator.TickReport) bson.M {
	entries := make(bson.A, 0, len(r.Entries)+len(r.Charges))
	for _, e := range r.Entries {
		entries = append(entries, bson.M{
			"consumer": e.Consumer, "supplier": e.Supplier, "delivered": e.Delivered, "drawn": e.Drawn,
		})
	}
	for _, e := range r.Charges {
		entries = append(entries, bson.M{
			"battery": e.Consumer, "supplier": e.Supplier, "delivered": e.Delivered, "drawn": e.Drawn,
		})
	}
	return bson.M{
		"runId":     r.RunID.String(),
		"tick":      r.Tick,
		"time":      r.Time,
		"entries":   entries,
		"unserved":  r.Unserved,
		"delivered": r.Delivered,
		"metrics":   r.Metrics,
	}
}

func (h Handler) Process() {
	defer func() { h.done <- true }()

	ctx := context.Background()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(h.config.URI))
	if err != nil {
		log.Println("[Mongo]", err)
		<-h.stop
		// discard until unsubscribed
		for range h.inbox {
		}
		return
	}
	defer client.Disconnect(ctx)
	log.Println("[Mongo] Process Started")

	db := client.Database(h.config.Database)
	timeout := time.Duration(h.config.Timeout) * time.Millisecond
loop:
	for {
		select {
		case m := <-h.inbox:
			h.handle(ctx, db, timeout, m)
		case <-h.stop:
			break loop
		}
	}
	for m := range h.inbox {
		h.handle(ctx, db, timeout, m)
	}
	log.Println("[Mongo] Process Shutdown")
}

func (h Handler) handle(ctx context.Context, db *mongo.Database, timeout time.Duration, m msg.Msg) {
	opCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	var err error
	switch p := m.Payload().(type) {
	case simulator.Run:
		_, err = db.Collection("runs").UpdateOne(opCtx,
			bson.M{"runId": p.RunID.String()},
			runDocument(p),
			options.Update().SetUpsert(true),
		)
	case simulator.TickReport:
		if _, err = db.Collection("ticks").InsertOne(opCtx, tickDocument(p)); err == nil {
			_, err = db.Collection("runs").UpdateOne(opCtx,
				bson.M{"runId": p.RunID.String()},
				metricsDocument(p),
				options.Update().SetUpsert(true),
			)
		}
	}
	if err != nil {
		log.Println("[Mongo]", err)
	}
}
