package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/ohowland/biogrid/internal/pkg/msg"
	"github.com/ohowland/biogrid/internal/pkg/simulator"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Handler writes runs and ticks to a SQL database. Driver is one of mysql,
// postgres or sqlite.
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
	Driver   string `json:"Driver"`
	Server   string `json:"Server"`
	Port     int    `json:"Port"`
	Username string `json:"Username"`
	Password string `json:"Password"`
	Database string `json:"Database"`
	// Path of the database file for sqlite
	Path string `json:"Path"`
}

func (h Handler) PID() uuid.UUID {
	return h.pid
}

func New(configPath string, system msg.Publisher) (Handler, error) {
	jsonConfig, err := ioutil.ReadFile(configPath)
	if err != nil {
		return Handler{}, err
	}
	cfg := config{Driver: "mysql"}
	if err := json.Unmarshal(jsonConfig, &cfg); err != nil {
		return Handler{}, err
	}
	if _, _, err := cfg.source(); err != nil {
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

// source returns the database/sql driver name and data source name.
func (c config) source() (string, string, error) {
	switch c.Driver {
	case "mysql":
		m := mysql.NewConfig()
		m.User = c.Username
		m.Passwd = c.Password
		m.Net = "tcp"
		m.Addr = fmt.Sprintf("%v:%v", c.Server, c.Port)
		m.DBName = c.Database
		// RowsAffected counts matched rows, as sqlite and postgres do
		m.ClientFoundRows = true
		return "mysql", m.FormatDSN(), nil
	case "postgres":
		return "postgres", fmt.Sprintf("host=%v port=%v user=%v password=%v dbname=%v sslmode=disable",
			c.Server, c.Port, c.Username, c.Password, c.Database), nil
	case "sqlite":
		if c.Path == "" {
			return "", "", fmt.Errorf("sqldb: sqlite needs a Path")
		}
		return "sqlite", c.Path, nil
	}
	return "", "", fmt.Errorf("sqldb: unknown driver %q", c.Driver)
}

func (h Handler) DB() (*sql.DB, error) {
	driver, dsn, err := h.config.source()
	if err != nil {
		return nil, err
	}
	return sql.Open(driver, dsn)
}

// rebind rewrites ? placeholders for drivers that number them.
func (h Handler) rebind(query string) string {
	if h.config.Driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (h Handler) Process() {
	defer func() { h.done <- true }()

	db, err := h.DB()
	if err == nil {
		err = initDBTables(db)
	}
	if err != nil {
		log.Println("[SQL]", err)
		<-h.stop
		// discard until unsubscribed
		for range h.inbox {
		}
		return
	}
	defer db.Close()
	log.Println("[SQL] Process Started")

loop:
	for {
		select {
		case m := <-h.inbox:
			h.handle(db, m)
		case <-h.stop:
			break loop
		}
	}
	for m := range h.inbox {
		h.handle(db, m)
	}
	log.Println("[SQL] Process Shutdown")
}

func (h Handler) handle(db *sql.DB, m msg.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	if err := h.write(ctx, db, m); err != nil {
		log.Printf("[SQL] error %s update db", err)
	}
}

func initDBTables(db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS runs(
			run_id VARCHAR(36) PRIMARY KEY,
			start_time VARCHAR(40),
			tick VARCHAR(32),
			store_surplus INTEGER,
			building_load DOUBLE PRECISION,
			ticks INTEGER,
			time_without_energy DOUBLE PRECISION,
			wasted_from_source DOUBLE PRECISION,
			wasted_in_transport DOUBLE PRECISION)`,
		`CREATE TABLE IF NOT EXISTS ticks(
			run_id VARCHAR(36),
			tick INTEGER,
			tick_time VARCHAR(40),
			delivered DOUBLE PRECISION,
			unserved INTEGER,
			entries TEXT,
			PRIMARY KEY (run_id, tick))`,
	}
	for _, s := range statements {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (h Handler) write(ctx context.Context, db *sql.DB, m msg.Msg) error {
	switch p := m.Payload().(type) {
	case simulator.Run:
		return h.insertRun(ctx, db, p)
	case simulator.TickReport:
		return h.insertTick(ctx, db, p)
	}
	return nil
}

func (h Handler) insertRun(ctx context.Context, db *sql.DB, r simulator.Run) error {
	res, err := db.ExecContext(ctx, h.rebind(`UPDATE runs SET start_time = ?, tick = ? WHERE run_id = ?`),
		r.Start.Format(time.RFC3339), r.Tick, r.RunID.String())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	surplus := 0
	if r.StoreSurplus {
		surplus = 1
	}
	_, err = db.ExecContext(ctx, h.rebind(`INSERT INTO runs
		(run_id, start_time, tick, store_surplus, building_load, ticks, time_without_energy, wasted_from_source, wasted_in_transport)
		VALUES (?, ?, ?, ?, ?, 0, 0, 0, 0)`),
		r.RunID.String(), r.Start.Format(time.RFC3339), r.Tick, surplus, r.BuildingLoad)
	return err
}

func (h Handler) insertTick(ctx context.Context, db *sql.DB, r simulator.TickReport) error {
	entries, err := json.Marshal(struct {
		Entries interface{} `json:"entries"`
		Charges interface{} `json:"charges"`
	}{r.Entries, r.Charges})
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, h.rebind(`INSERT INTO ticks (run_id, tick, tick_time, delivered, unserved, entries)
		VALUES (?, ?, ?, ?, ?, ?)`),
		r.RunID.String(), r.Tick, r.Time.Format(time.RFC3339), r.Delivered, len(r.Unserved), string(entries)); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, h.rebind(`UPDATE runs SET ticks = ?, time_without_energy = ?,
		wasted_from_source = ?, wasted_in_transport = ? WHERE run_id = ?`),
		r.Tick+1, r.Metrics.TimeWithoutEnoughEnergy, r.Metrics.EnergyWastedFromSource,
		r.Metrics.EnergyWastedInTransportation, r.RunID.String()); err != nil {
		return err
	}
	return tx.Commit()
}
