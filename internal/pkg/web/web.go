package web

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/ohowland/biogrid/internal/pkg/biogrid"
	"github.com/ohowland/biogrid/internal/pkg/dispatch"
	"github.com/ohowland/biogrid/internal/pkg/msg"
	"github.com/ohowland/biogrid/internal/pkg/simulator"
)

type Config struct {
	Addr string `json:"Addr" yaml:"addr"`
}

// App serves the state and results of one simulator over HTTP.
type App struct {
	Sim     *simulator.Simulator
	Metrics http.Handler
	Config  Config

	upgrader websocket.Upgrader
}

type index struct {
	RunID   uuid.UUID         `json:"runId"`
	Ticks   int               `json:"ticks"`
	Now     time.Time         `json:"now"`
	Sources []string          `json:"sources"`
	Results simulator.Metrics `json:"results"`
}

type state struct {
	Time     time.Time                       `json:"time"`
	Sources  map[string]dispatch.SourceState `json:"sources"`
	Deficits map[string]float64              `json:"deficits"`
}

type source struct {
	ID     string  `json:"id"`
	Stored float64 `json:"stored"`
}

func New(sim *simulator.Simulator, metrics http.Handler, cfg Config) *App {
	return &App{
		Sim:     sim,
		Metrics: metrics,
		Config:  cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (app *App) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/", app.BaseHandler).Methods("GET")
	r.HandleFunc("/results", app.ResultsHandler).Methods("GET")
	r.HandleFunc("/state", app.StateHandler).Methods("GET")
	r.HandleFunc("/sources/{id}", app.SourceHandler).Methods("GET")
	r.HandleFunc("/ws/ticks", app.TicksHandler)
	if app.Metrics != nil {
		r.Handle("/metrics", app.Metrics)
	}
	return r
}

// ListenAndServe blocks until ctx is done or the server fails.
func (app *App) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              app.Config.Addr,
		Handler:           app.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		log.Println("[Web] listening on", app.Config.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdown, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdown); err != nil {
			return err
		}
		if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Println("[Web] encode:", err)
	}
}

func (app *App) BaseHandler(w http.ResponseWriter, r *http.Request) {
	g := app.Sim.Grid()
	writeJSON(w, http.StatusOK, index{
		RunID:   app.Sim.PID(),
		Ticks:   app.Sim.Ticks(),
		Now:     g.Now(),
		Sources: g.SourceIDs(),
		Results: app.Sim.Results(),
	})
}

func (app *App) ResultsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, app.Sim.Results())
}

func (app *App) StateHandler(w http.ResponseWriter, r *http.Request) {
	snap, err := app.Sim.SystemState(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	st := state{
		Time:     snap.Time(),
		Sources:  make(map[string]dispatch.SourceState),
		Deficits: make(map[string]float64),
	}
	for _, id := range snap.SourceIDs() {
		st.Sources[id], _ = snap.Source(id)
	}
	for _, id := range snap.ConsumerIDs() {
		st.Deficits[id], _ = snap.Deficit(id)
	}
	writeJSON(w, http.StatusOK, st)
}

func (app *App) SourceHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	stored, err := app.Sim.Grid().StoredEnergy(id)
	if errors.Is(err, biogrid.ErrUnknownItem) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, source{ID: id, Stored: stored})
}

// TicksHandler streams every TickReport of the simulator as a JSON text
// message until the client goes away or the simulator closes.
func (app *App) TicksHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := app.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sid, _ := uuid.NewUUID()
	ch, err := app.Sim.Subscribe(sid, msg.Status)
	if err != nil {
		return
	}
	defer app.Sim.Unsubscribe(sid)

	// reads only to notice the close
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case m, ok := <-ch:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "simulator closed"), time.Now().Add(time.Second))
				return
			}
			report, ok := m.Payload().(simulator.TickReport)
			if !ok {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(report); err != nil {
				return
			}
		case <-gone:
			return
		}
	}
}
