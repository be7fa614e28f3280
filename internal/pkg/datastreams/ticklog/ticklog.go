/*
ticklog.go Archives every run as zstd compressed JSON lines, one file per run.
The first line is the run description, every following line a tick report.
Run descriptions and tick reports arrive on separate subscriptions, so ticks
seen before their run are held back until it arrives.
Finished files are optionally pushed to an S3 compatible bucket.
*/

package ticklog

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/ohowland/biogrid/internal/pkg/msg"
	"github.com/ohowland/biogrid/internal/pkg/simulator"
)

type Handler struct {
	mux     *sync.Mutex
	inbox   <-chan msg.Msg
	pid     uuid.UUID
	system  msg.Publisher
	config  config
	stop    chan bool
	done    chan bool
	writer  *Writer
	runs    map[uuid.UUID]bool
	pending map[uuid.UUID][]simulator.TickReport
}

type config struct {
	Dir    string       `json:"Dir"`
	Prefix string       `json:"Prefix"`
	Upload uploadConfig `json:"Upload"`
}

type uploadConfig struct {
	Endpoint  string `json:"Endpoint"`
	AccessKey string `json:"AccessKey"`
	SecretKey string `json:"SecretKey"`
	Bucket    string `json:"Bucket"`
	Secure    bool   `json:"Secure"`
}

// uploader is the part of *minio.Client the handler uses.
type uploader interface {
	FPutObject(ctx context.Context, bucket, object, path string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

func (h Handler) PID() uuid.UUID {
	return h.pid
}

func New(configPath string, system msg.Publisher) (Handler, error) {
	jsonConfig, err := ioutil.ReadFile(configPath)
	if err != nil {
		return Handler{}, err
	}
	cfg := config{Dir: ".", Prefix: "biogrid"}
	if err := json.Unmarshal(jsonConfig, &cfg); err != nil {
		return Handler{}, err
	}

	pid, _ := uuid.NewUUID()

	chConfig, err := system.Subscribe(pid, msg.Config)
	if err != nil {
		return Handler{}, err
	}

	chStatus, err := system.Subscribe(pid, msg.Status)
	if err != nil {
		return Handler{}, err
	}

	inbox := msg.Merge(50, chConfig, chStatus)
	return Handler{
		mux:     &sync.Mutex{},
		inbox:   inbox,
		pid:     pid,
		system:  system,
		config:  cfg,
		stop:    make(chan bool),
		done:    make(chan bool),
		writer:  NewWriter(cfg.Dir, cfg.Prefix),
		runs:    make(map[uuid.UUID]bool),
		pending: make(map[uuid.UUID][]simulator.TickReport),
	}, nil
}

// Stop ends Process and waits for it to return. Messages published before
// Stop are handled first.
func (h *Handler) Stop() {
	h.stop <- true
	h.system.Unsubscribe(h.pid)
	<-h.done
}

func (h Handler) client() (uploader, error) {
	if h.config.Upload.Endpoint == "" {
		return nil, nil
	}
	c, err := minio.New(h.config.Upload.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(h.config.Upload.AccessKey, h.config.Upload.SecretKey, ""),
		Secure: h.config.Upload.Secure,
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (h Handler) Process() {
	defer func() { h.done <- true }()

	up, err := h.client()
	if err != nil {
		log.Println("[TickLog]", err)
	}
	h.serve(up)
}

func (h Handler) serve(up uploader) {
	log.Println("[TickLog] Process Started")
loop:
	for {
		select {
		case m := <-h.inbox:
			if err := h.write(m); err != nil {
				log.Printf("[TickLog] write: %v", err)
			}
		case <-h.stop:
			break loop
		}
	}
	// Stop unsubscribes, which closes the inbox once it is drained
	for m := range h.inbox {
		if err := h.write(m); err != nil {
			log.Printf("[TickLog] write: %v", err)
		}
	}

	for run, ticks := range h.pending {
		log.Printf("[TickLog] run %v never described, dropped %d ticks", run, len(ticks))
	}
	if err := h.writer.Close(); err != nil {
		log.Printf("[TickLog] close: %v", err)
	}
	if up != nil {
		h.upload(up)
	}
	log.Println("[TickLog] Process Shutdown")
}

func (h Handler) write(m msg.Msg) error {
	switch p := m.Payload().(type) {
	case simulator.Run:
		if err := h.writer.Open(p.RunID); err != nil {
			return err
		}
		if err := h.writer.Write(p); err != nil {
			return err
		}
		h.runs[p.RunID] = true
		held := h.pending[p.RunID]
		delete(h.pending, p.RunID)
		for _, r := range held {
			if err := h.writer.Write(r); err != nil {
				return err
			}
		}
		return nil
	case simulator.TickReport:
		if !h.runs[p.RunID] {
			h.pending[p.RunID] = append(h.pending[p.RunID], p)
			return nil
		}
		if err := h.writer.Open(p.RunID); err != nil {
			return err
		}
		return h.writer.Write(p)
	}
	return nil
}

func (h Handler) upload(up uploader) {
	for _, path := range h.writer.Files() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		_, err := up.FPutObject(ctx, h.config.Upload.Bucket, filepath.Base(path), path,
			minio.PutObjectOptions{ContentType: "application/zstd"})
		cancel()
		if err != nil {
			log.Printf("[TickLog] upload %s: %v", path, err)
			continue
		}
		log.Printf("[TickLog] uploaded %s to %s", filepath.Base(path), h.config.Upload.Bucket)
	}
}

// Writer appends JSON lines to a zstd stream, one file per run.
type Writer struct {
	dir    string
	prefix string

	mu    sync.Mutex
	run   uuid.UUID
	f     *os.File
	enc   *zstd.Encoder
	w     *bufio.Writer
	files []string
}

func NewWriter(dir, prefix string) *Writer {
	return &Writer{dir: dir, prefix: prefix}
}

// Path of the archive for run.
func (w *Writer) Path(run uuid.UUID) string {
	return filepath.Join(w.dir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, run))
}

// Current run being written, uuid.Nil when no file is open.
func (w *Writer) Current() uuid.UUID {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.run
}

// Files written so far, in the order they were opened.
func (w *Writer) Files() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.files...)
}

// Open closes the current file and starts writing run. Reopening the current
// run is a no-op; returning to an earlier run appends a new zstd frame to its
// file.
func (w *Writer) Open(run uuid.UUID) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f != nil && w.run == run {
		return nil
	}
	if err := w.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	path := w.Path(run)
	flag := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	seen := false
	for _, p := range w.files {
		if p == path {
			flag = os.O_CREATE | os.O_WRONLY | os.O_APPEND
			seen = true
			break
		}
	}
	f, err := os.OpenFile(path, flag, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.run = run
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 64*1024)
	if !seen {
		w.files = append(w.files, path)
	}
	return nil
}

func (w *Writer) Write(v interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.w == nil {
		return fmt.Errorf("ticklog: no open run")
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	return w.w.WriteByte('\n')
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *Writer) closeLocked() error {
	if w.f == nil {
		return nil
	}
	var firstErr error
	if err := w.w.Flush(); err != nil {
		firstErr = err
	}
	if err := w.enc.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := w.f.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	w.f = nil
	w.enc = nil
	w.w = nil
	w.run = uuid.Nil
	return firstErr
}
