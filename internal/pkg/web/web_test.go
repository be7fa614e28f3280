package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ohowland/biogrid/internal/pkg/asset"
	"github.com/ohowland/biogrid/internal/pkg/biogrid"
	"github.com/ohowland/biogrid/internal/pkg/simulator"
	"gotest.tools/v3/assert"
)

func newApp(t *testing.T, metrics http.Handler) *App {
	t.Helper()
	area := biogrid.RuralArea{
		Width:  10,
		Height: 10,
		Buildings: []asset.BuildingParams{
			{ID: "energy_user-1", X: 3, Y: 4, Energy: asset.BuildingCapacity},
			{ID: "energy_user-2", X: 7, Y: 9, Energy: 0},
		},
	}
	g, err := biogrid.New(area, biogrid.DefaultOptions())
	assert.NilError(t, err)
	sim, err := simulator.New(g, simulator.Options{})
	assert.NilError(t, err)
	return New(sim, metrics, Config{Addr: "localhost:0"})
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", path, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestBaseHandler(t *testing.T) {
	app := newApp(t, nil)
	assert.NilError(t, app.Sim.RunSimulation(context.Background(), 2))

	rr := get(t, app.Router(), "/")
	assert.Equal(t, rr.Code, http.StatusOK)
	assert.Equal(t, rr.Header().Get("Content-Type"), "application/json; charset=UTF-8")

	var body index
	assert.NilError(t, json.NewDecoder(rr.Body).Decode(&body))
	assert.Equal(t, body.RunID, app.Sim.PID())
	assert.Equal(t, body.Ticks, 2)
	assert.DeepEqual(t, body.Sources, []string{"large_battery-0"})
}

func TestResultsHandler(t *testing.T) {
	app := newApp(t, nil)
	rr := get(t, app.Router(), "/results")
	assert.Equal(t, rr.Code, http.StatusOK)
	assert.Assert(t, strings.Contains(rr.Body.String(), `"timeWithoutEnoughEnergy":0`), rr.Body.String())
}

func TestStateHandler(t *testing.T) {
	app := newApp(t, nil)
	rr := get(t, app.Router(), "/state")
	assert.Equal(t, rr.Code, http.StatusOK)

	var st struct {
		Sources  map[string]map[string]interface{} `json:"sources"`
		Deficits map[string]float64                `json:"deficits"`
	}
	assert.NilError(t, json.NewDecoder(rr.Body).Decode(&st))
	assert.Equal(t, st.Sources["large_battery-0"]["available"], asset.LargeBatteryCapacity)
	assert.Equal(t, st.Deficits["energy_user-2"], asset.BuildingCapacity)
	assert.Equal(t, st.Deficits["energy_user-1"], 0.0)
}

func TestSourceHandler(t *testing.T) {
	app := newApp(t, nil)
	rr := get(t, app.Router(), "/sources/large_battery-0")
	assert.Equal(t, rr.Code, http.StatusOK)
	var s source
	assert.NilError(t, json.NewDecoder(rr.Body).Decode(&s))
	assert.Equal(t, s.Stored, asset.LargeBatteryCapacity)

	rr = get(t, app.Router(), "/sources/small_battery-9")
	assert.Equal(t, rr.Code, http.StatusNotFound)
}

func TestMetricsRoute(t *testing.T) {
	app := newApp(t, nil)
	assert.Equal(t, get(t, app.Router(), "/metrics").Code, http.StatusNotFound)

	app = newApp(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("biogrid_ticks_total 1\n"))
	}))
	rr := get(t, app.Router(), "/metrics")
	assert.Equal(t, rr.Code, http.StatusOK)
	assert.Equal(t, rr.Body.String(), "biogrid_ticks_total 1\n")
}

func TestTicksStream(t *testing.T) {
	app := newApp(t, nil)
	srv := httptest.NewServer(app.Router())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/ticks"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	assert.NilError(t, err)
	defer conn.Close()

	// the subscription is made after the upgrade; give it a moment
	time.Sleep(50 * time.Millisecond)
	assert.NilError(t, app.Sim.RunSimulation(context.Background(), 2))

	assert.NilError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for i := 0; i < 2; i++ {
		var r simulator.TickReport
		assert.NilError(t, conn.ReadJSON(&r))
		assert.Equal(t, r.Tick, i)
		assert.Equal(t, r.RunID, app.Sim.PID())
	}

	app.Sim.Close()
	_, _, err = conn.ReadMessage()
	assert.Assert(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), err)
}

func TestListenAndServeShutdown(t *testing.T) {
	app := newApp(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- app.ListenAndServe(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		assert.NilError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
}
