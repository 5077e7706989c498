package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bryanchriswhite/Backdrop/internal/config"
	"github.com/bryanchriswhite/Backdrop/internal/logger"
	"github.com/bryanchriswhite/Backdrop/internal/output"
	"github.com/bryanchriswhite/Backdrop/internal/pipeline"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// Controller is the part of the pipeline the API drives
type Controller interface {
	Config() config.PipelineConfig
	SetEnabled(enabled bool)
	SetTargetSize(width, height int) error
	SetBackgroundSource(ctx context.Context, uri string)
	Stats() pipeline.Stats
}

// Options carry the optional collaborators of a Server
type Options struct {
	// ConfigMgr persists changes made through the API; may be nil
	ConfigMgr *config.Manager
	// Stream serves /stream and the viewer; may be nil
	Stream *output.MJPEGOutput
	// Snapshots backs POST /api/snapshot; may be nil
	Snapshots *output.Snapshotter
	// StatsInterval is the websocket push period, default 1s
	StatsInterval time.Duration
}

// Server represents the HTTP API server
type Server struct {
	router        *mux.Router
	pipeline      Controller
	configMgr     *config.Manager
	stream        *output.MJPEGOutput
	snapshots     *output.Snapshotter
	statsInterval time.Duration
	upgrader      websocket.Upgrader
	httpServer    *http.Server
}

// NewServer creates a new API server
func NewServer(p Controller, opts Options) *Server {
	if opts.StatsInterval <= 0 {
		opts.StatsInterval = time.Second
	}
	s := &Server{
		router:        mux.NewRouter(),
		pipeline:      p,
		configMgr:     opts.ConfigMgr,
		stream:        opts.Stream,
		snapshots:     opts.Snapshots,
		statsInterval: opts.StatsInterval,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for development
			},
		},
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	// Virtual background controls
	api.HandleFunc("/pipeline", s.handleGetPipeline).Methods("GET")
	api.HandleFunc("/pipeline/enabled", s.handleSetEnabled).Methods("PUT")
	api.HandleFunc("/pipeline/size", s.handleSetSize).Methods("PUT")
	api.HandleFunc("/pipeline/background", s.handleSetBackground).Methods("PUT")

	// Statistics
	api.HandleFunc("/stats", s.handleGetStats).Methods("GET")
	api.HandleFunc("/stats/stream", s.handleStatsStream)
	api.HandleFunc("/stream/stats", s.handleStreamStats).Methods("GET")

	api.HandleFunc("/snapshot", s.handleSnapshot).Methods("POST")
	api.HandleFunc("/config", s.handleGetConfig).Methods("GET")
	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	if s.stream != nil {
		s.router.HandleFunc("/stream", s.stream.GetHTTPHandler()).Methods("GET")
		s.router.HandleFunc("/", s.stream.GetViewerHandler()).Methods("GET")
	}
}

// Handler returns the root handler with CORS applied
func (s *Server) Handler() http.Handler {
	return s.enableCORS(s.router)
}

// Start serves the API on port until Shutdown is called
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.WithComponent("api").Info().
		Str("addr", addr).
		Msgf("Starting server on http://localhost%s", addr)

	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// enableCORS adds CORS headers
func (s *Server) enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WithComponent("api").Debug().Err(err).Msg("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// persist saves a change made through the API. The running pipeline is
// already updated, so a failed save is only logged.
func (s *Server) persist(what string, fn func(m *config.Manager) error) {
	if s.configMgr == nil {
		return
	}
	if err := fn(s.configMgr); err != nil {
		logger.WithComponent("api").Warn().Err(err).Str("setting", what).Msg("Failed to persist setting")
	}
}

// HTTP Handlers

func (s *Server) handleGetPipeline(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.pipeline.Config())
}

func (s *Server) handleSetEnabled(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Enabled == nil {
		writeError(w, http.StatusBadRequest, errors.New("missing field: enabled"))
		return
	}

	s.pipeline.SetEnabled(*req.Enabled)
	s.persist("enabled", func(m *config.Manager) error { return m.SetPipelineEnabled(*req.Enabled) })

	writeJSON(w, http.StatusOK, s.pipeline.Config())
}

func (s *Server) handleSetSize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.pipeline.SetTargetSize(req.Width, req.Height); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, config.ErrInvalidSize) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err)
		return
	}
	s.persist("size", func(m *config.Manager) error { return m.SetTargetSize(req.Width, req.Height) })

	writeJSON(w, http.StatusOK, s.pipeline.Config())
}

func (s *Server) handleSetBackground(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URI *string `json:"uri"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	uri := ""
	if req.URI != nil {
		uri = *req.URI
	}

	s.pipeline.SetBackgroundSource(r.Context(), uri)
	s.persist("background", func(m *config.Manager) error { return m.SetBackgroundURI(uri) })

	writeJSON(w, http.StatusOK, s.pipeline.Config())
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.pipeline.Stats())
}

func (s *Server) handleStreamStats(w http.ResponseWriter, r *http.Request) {
	if s.stream == nil {
		writeError(w, http.StatusNotFound, errors.New("no stream output configured"))
		return
	}
	writeJSON(w, http.StatusOK, s.stream.Stats())
}

// handleStatsStream pushes pipeline stats over a websocket every interval
func (s *Server) handleStatsStream(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("api")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade error")
		return
	}
	defer conn.Close()

	// drain reads so close frames are noticed
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.statsInterval)
	defer ticker.Stop()

	for {
		if err := conn.WriteJSON(s.pipeline.Stats()); err != nil {
			log.Debug().Err(err).Msg("WebSocket write error")
			return
		}
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.snapshots == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("snapshots are not configured"))
		return
	}

	path, err := s.snapshots.Save()
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, output.ErrNoFrame) {
			status = http.StatusConflict
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"path": path})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	if s.configMgr == nil {
		writeError(w, http.StatusNotFound, errors.New("no config manager"))
		return
	}
	writeJSON(w, http.StatusOK, s.configMgr.Get())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": "0.1.0",
	})
}
