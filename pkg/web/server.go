package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/dbehnke/dvbs2-tablegen/pkg/artifact"
	"github.com/dbehnke/dvbs2-tablegen/pkg/batch"
	"github.com/dbehnke/dvbs2-tablegen/pkg/config"
	"github.com/dbehnke/dvbs2-tablegen/pkg/logger"
	"github.com/dbehnke/dvbs2-tablegen/pkg/metrics"
)

// ErrCompileRunning is returned when a batch run is requested while one is
// already in progress
var ErrCompileRunning = errors.New("a batch run is already in progress")

// Server exposes the parameter tables, derived constants and batch
// compilation over HTTP, with a websocket feed of batch progress
type Server struct {
	config     *config.Config
	logger     *logger.Logger
	httpServer *http.Server
	runner     *batch.Runner
	store      *artifact.Store
	metrics    *metrics.Metrics
	hub        *WebSocketHub
	startTime  time.Time
	version    string

	mu        sync.RWMutex
	running   bool
	compiling bool
	lastRun   *batch.Report
	lastErr   error
	lastEvent *batch.Event
	baseCtx   context.Context
	wg        sync.WaitGroup
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// NewServer creates a server. The websocket hub starts immediately; call
// Stop to release it.
func NewServer(cfg *config.Config, log *logger.Logger, runner *batch.Runner, store *artifact.Store, m *metrics.Metrics, version string) *Server {
	s := &Server{
		config:    cfg,
		logger:    log.WithComponent("web"),
		runner:    runner,
		store:     store,
		metrics:   m,
		hub:       newHub(log.WithComponent("web.hub"), m),
		startTime: time.Now(),
		version:   version,
		baseCtx:   context.Background(),
	}
	runner.OnEvent(s.handleBatchEvent)
	go s.hub.run()
	return s
}

// Start serves HTTP until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("web server already running")
	}
	s.running = true
	s.baseCtx = ctx

	addr := fmt.Sprintf("%s:%d", s.config.Web.Host, s.config.Web.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Unlock()

	s.logger.Info("Starting web server", logger.String("address", addr))

	serverErr := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		s.logger.Info("Shutting down web server")
		return s.Stop()
	}
}

// Stop shuts down the HTTP server, waits for a background batch run to
// finish and closes all websocket clients
func (s *Server) Stop() error {
	s.mu.Lock()
	httpServer := s.httpServer
	wasRunning := s.running
	s.running = false
	s.mu.Unlock()

	var err error
	if wasRunning && httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = httpServer.Shutdown(ctx)
	}

	s.wg.Wait()
	s.hub.close()
	return err
}

// Handler returns the router with all routes installed
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()

	api := router.PathPrefix("/api").Subrouter()
	api.Use(s.corsMiddleware)
	api.Use(s.jsonMiddleware)

	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/configs", s.handleConfigs).Methods("GET")
	api.HandleFunc("/ldpc/{frame}/{rate}", s.handleLDPC).Methods("GET")
	api.HandleFunc("/geometry/{frame}/{rate}/{constellation}", s.handleGeometry).Methods("GET")
	api.HandleFunc("/constellation/{frame}/{rate}/{constellation}", s.handleConstellation).Methods("GET")
	api.HandleFunc("/acm/{frame}/{rate}/{constellation}", s.handleACM).Methods("GET")
	api.HandleFunc("/compile", s.handleCompileStatus).Methods("GET")
	api.HandleFunc("/compile", s.handleCompile).Methods("POST", "OPTIONS")

	// Raw artifact for test benches
	router.HandleFunc("/tables/{frame}/{rate}", s.handleTableDownload).Methods("GET")

	router.HandleFunc("/ws", s.handleWebSocket)

	if s.config.Metrics.Enabled {
		router.Handle(s.config.Metrics.Path, s.metrics.Handler()).Methods("GET")
	}

	return router
}

func (s *Server) handleBatchEvent(ev batch.Event) {
	s.mu.Lock()
	s.lastEvent = &ev
	s.mu.Unlock()
	s.hub.Publish("progress", ev)
}

// StartCompile launches a batch run over req's selection in the background.
// The run stops early when ctx is cancelled.
func (s *Server) StartCompile(ctx context.Context, req CompileRequest) (int, error) {
	keys, err := config.BatchConfig{Frames: req.Frames, Rates: req.Rates}.Keys()
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	if s.compiling {
		s.mu.Unlock()
		return 0, ErrCompileRunning
	}
	s.compiling = true
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		report, err := s.runner.Run(ctx, keys)
		if err != nil {
			s.logger.Warn("Batch run ended early", logger.Error(err))
		} else if failures := report.Err(); failures != nil {
			err = failures
		}

		s.mu.Lock()
		s.compiling = false
		s.lastRun = report
		s.lastErr = err
		s.mu.Unlock()
	}()

	return len(keys), nil
}

// Middleware
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("WebSocket upgrade failed", logger.Error(err))
		return
	}

	s.logger.Debug("New WebSocket connection", logger.String("remote", r.RemoteAddr))

	// The snapshot goes out before the client joins the hub so that no
	// broadcast write can race with it.
	s.sendInitialData(conn)
	if !s.hub.join(conn) {
		_ = conn.Close()
		return
	}
	defer s.hub.leave(conn)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Warn("WebSocket error", logger.Error(err))
			}
			return
		}
	}
}

func (s *Server) sendInitialData(conn *websocket.Conn) {
	if err := conn.WriteJSON(WebSocketMessage{Type: "status", Data: s.compileStatus()}); err != nil {
		s.logger.Debug("Failed to send WebSocket message", logger.Error(err))
	}
}
