// Package web serves a live progress dashboard for a simulation run. The
// Server implements simulate.Observer and pushes every event to connected
// browsers over a websocket.
package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"rirmix/internal/simulate"
	"rirmix/pkg/catalog"
)

//go:embed static/*
var staticFiles embed.FS

// recentLimit bounds the finished rows kept for late-joining dashboards.
const recentLimit = 50

// Message is the websocket envelope.
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// RowPayload describes a row event.
type RowPayload struct {
	Index     int      `json:"index"`
	Speech    string   `json:"speech"`
	Noise     string   `json:"noise"`
	SNR       float64  `json:"snr"`
	Status    string   `json:"status,omitempty"`
	Missing   []string `json:"missing,omitempty"`
	Error     string   `json:"error,omitempty"`
	Artifacts int      `json:"artifacts,omitempty"`
	ElapsedMS int64    `json:"elapsedMs,omitempty"`
}

// Progress is the dashboard state.
type Progress struct {
	RunID     string         `json:"runId"`
	Total     int            `json:"total"`
	Counts    map[string]int `json:"counts"`
	Active    []RowPayload   `json:"active"`
	Recent    []RowPayload   `json:"recent"`
	Finished  bool           `json:"finished"`
	ElapsedMS int64          `json:"elapsedMs"`
}

// Server is the dashboard web server.
type Server struct {
	port       int
	hub        *hub
	httpServer *http.Server

	mu       sync.RWMutex
	runID    string
	total    int
	started  time.Time
	elapsed  time.Duration
	counts   map[string]int
	active   map[int]RowPayload
	recent   []RowPayload
	finished bool
}

// NewServer creates a dashboard server for the given port and starts its
// broadcast loop.
func NewServer(port int) *Server {
	s := &Server{
		port:    port,
		hub:     newHub(),
		counts:  make(map[string]int),
		active:  make(map[int]RowPayload),
		started: time.Now(),
	}
	go s.hub.run()
	return s
}

// Handler returns the dashboard's HTTP routes.
func (s *Server) Handler() http.Handler {
	staticFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		panic(err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticFS))))
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/api/progress", s.handleAPIProgress)
	return mux
}

// Start listens on the configured port until Shutdown.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("Web server starting", "port", s.port, "url", fmt.Sprintf("http://localhost:%d", s.port))
	if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server and disconnects dashboards.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.stop()
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	data, err := staticFiles.ReadFile("static/index.html")
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(data)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // local dashboard
	},
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}

	c := &client{hub: s.hub, conn: conn, send: make(chan []byte, sendBuffer)}

	// The snapshot is queued before registering so it precedes any event.
	if data, err := json.Marshal(Message{Type: "snapshot", Payload: s.Snapshot()}); err == nil {
		c.send <- data
	}
	select {
	case s.hub.register <- c:
	case <-s.hub.quit:
		conn.Close()
		return
	}

	go c.writePump()
	c.readPump()
}

func (s *Server) handleAPIProgress(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.Snapshot())
}

// Snapshot returns the current progress.
func (s *Server) Snapshot() Progress {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p := Progress{
		RunID:    s.runID,
		Total:    s.total,
		Counts:   make(map[string]int, len(s.counts)),
		Active:   make([]RowPayload, 0, len(s.active)),
		Recent:   append([]RowPayload(nil), s.recent...),
		Finished: s.finished,
	}
	for k, v := range s.counts {
		p.Counts[k] = v
	}
	for _, row := range s.active {
		p.Active = append(p.Active, row)
	}
	if s.finished {
		p.ElapsedMS = s.elapsed.Milliseconds()
	} else {
		p.ElapsedMS = time.Since(s.started).Milliseconds()
	}
	return p
}

func (s *Server) broadcast(kind string, payload any) {
	data, err := json.Marshal(Message{Type: kind, Payload: payload})
	if err != nil {
		slog.Error("Failed to marshal dashboard message", "type", kind, "error", err)
		return
	}
	s.hub.publish(data)
}

func rowPayload(row catalog.Row) RowPayload {
	return RowPayload{Index: row.Index, Speech: row.Speech, Noise: row.Noise, SNR: row.SNR}
}

// RunStarted implements simulate.Observer.
func (s *Server) RunStarted(runID string, total int) {
	s.mu.Lock()
	s.runID, s.total, s.started = runID, total, time.Now()
	s.mu.Unlock()
	s.broadcast("run_started", map[string]any{"runId": runID, "total": total})
}

// RowStarted implements simulate.Observer.
func (s *Server) RowStarted(row catalog.Row) {
	p := rowPayload(row)
	s.mu.Lock()
	s.active[row.Index] = p
	s.mu.Unlock()
	s.broadcast("row_started", p)
}

// RowFinished implements simulate.Observer.
func (s *Server) RowFinished(res simulate.RowResult) {
	p := rowPayload(res.Row)
	p.Status = res.Status.String()
	p.Missing = res.Missing
	p.Artifacts = len(res.Artifacts)
	p.ElapsedMS = res.Elapsed.Milliseconds()
	if res.Err != nil {
		p.Error = res.Err.Error()
	}

	s.mu.Lock()
	delete(s.active, res.Row.Index)
	s.counts[p.Status]++
	s.recent = append(s.recent, p)
	if len(s.recent) > recentLimit {
		s.recent = s.recent[len(s.recent)-recentLimit:]
	}
	s.mu.Unlock()
	s.broadcast("row_finished", p)
}

// RunFinished implements simulate.Observer.
func (s *Server) RunFinished(report *simulate.Report) {
	s.mu.Lock()
	s.finished = true
	s.elapsed = report.Elapsed
	s.mu.Unlock()
	s.broadcast("run_finished", map[string]any{
		"runId":     report.RunID,
		"done":      report.Done,
		"missing":   report.Missing,
		"failed":    report.Failed,
		"skipped":   report.Skipped,
		"artifacts": report.Artifacts,
		"elapsedMs": report.Elapsed.Milliseconds(),
	})
}

var _ simulate.Observer = (*Server)(nil)
