// Package api serves the server's HTTP status endpoints: the queue snapshot
// (plain JSON and a websocket feed), capture ingest stats, and SRT pull
// management.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zsiec/remote64/internal/ingest"
	"github.com/zsiec/remote64/internal/intercom"
	"github.com/zsiec/remote64/internal/session"
)

const (
	defaultPushInterval = time.Second
	writeWait           = 5 * time.Second
	shutdownTimeout     = 5 * time.Second
)

// PullInfo describes an active SRT pull.
type PullInfo struct {
	Address   string `json:"address"`
	StreamKey string `json:"streamKey"`
	StreamID  string `json:"streamId,omitempty"`
}

// Stats is the body of GET /api/stats.
type Stats struct {
	Bus       intercom.Stats        `json:"bus"`
	Publisher ingest.PublisherStats `json:"publisher"`
	Queue     session.Counters      `json:"queue"`
}

// Config wires the API to the rest of the server. Only Queue is required.
type Config struct {
	Addr  string
	Queue func() session.Snapshot

	Ingest    func() []ingest.SourceStats
	BusStats  func() intercom.Stats
	Publisher func() ingest.PublisherStats

	SRTPull func(address, streamKey, streamID string) error
	SRTStop func(streamKey string) error
	SRTList func() []PullInfo

	// PushInterval spaces websocket snapshot pushes. Zero means one second.
	PushInterval time.Duration
}

// Server is the HTTP API.
type Server struct {
	log      *slog.Logger
	cfg      Config
	upgrader websocket.Upgrader
}

// New creates the API server. If log is nil, slog.Default() is used.
func New(cfg Config, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	if cfg.PushInterval <= 0 {
		cfg.PushInterval = defaultPushInterval
	}
	return &Server{
		log: log.With("component", "api"),
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/queue", s.handleQueue)
	mux.HandleFunc("GET /api/queue/ws", s.handleQueueWS)
	mux.HandleFunc("GET /api/ingest", s.handleIngest)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /api/srt-pull", s.handleSRTPullList)
	mux.HandleFunc("POST /api/srt-pull", s.handleSRTPullCreate)
	mux.HandleFunc("DELETE /api/srt-pull", s.handleSRTPullStop)
	return corsMiddleware(mux)
}

// Start serves until ctx ends, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("api shutdown", "error", err)
		}
	})
	defer stop()

	s.log.Info("API server listening", "addr", s.cfg.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("API server: %w", err)
	}
	return nil
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	snap := s.cfg.Queue()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": len(snap.Sessions),
		"ringLen":  snap.RingLen,
	})
}

func (s *Server) handleQueue(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Queue())
}

func (s *Server) handleIngest(w http.ResponseWriter, _ *http.Request) {
	if s.cfg.Ingest == nil {
		writeJSON(w, http.StatusOK, []ingest.SourceStats{})
		return
	}
	writeJSON(w, http.StatusOK, s.cfg.Ingest())
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	st := Stats{Queue: s.cfg.Queue().Counters}
	if s.cfg.BusStats != nil {
		st.Bus = s.cfg.BusStats()
	}
	if s.cfg.Publisher != nil {
		st.Publisher = s.cfg.Publisher()
	}
	writeJSON(w, http.StatusOK, st)
}

// handleQueueWS pushes the queue snapshot every PushInterval until the
// client disconnects.
func (s *Server) handleQueueWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// The reader only exists to notice the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.cfg.PushInterval)
	defer ticker.Stop()

	for {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(s.cfg.Queue()); err != nil {
			s.log.Debug("websocket write failed", "error", err)
			return
		}
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) handleSRTPullList(w http.ResponseWriter, _ *http.Request) {
	if s.cfg.SRTList == nil {
		writeJSON(w, http.StatusOK, []PullInfo{})
		return
	}
	writeJSON(w, http.StatusOK, s.cfg.SRTList())
}

func (s *Server) handleSRTPullCreate(w http.ResponseWriter, r *http.Request) {
	if s.cfg.SRTPull == nil {
		writeError(w, http.StatusNotImplemented, "SRT pull not configured")
		return
	}
	var req PullInfo
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Address == "" || req.StreamKey == "" {
		writeError(w, http.StatusBadRequest, "address and streamKey are required")
		return
	}
	if err := s.cfg.SRTPull(req.Address, req.StreamKey, req.StreamID); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "pulling", "streamKey": req.StreamKey})
}

func (s *Server) handleSRTPullStop(w http.ResponseWriter, r *http.Request) {
	if s.cfg.SRTStop == nil {
		writeError(w, http.StatusNotImplemented, "SRT pull not configured")
		return
	}
	streamKey := r.URL.Query().Get("streamKey")
	if streamKey == "" {
		writeError(w, http.StatusBadRequest, "streamKey query parameter required")
		return
	}
	if err := s.cfg.SRTStop(streamKey); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped", "streamKey": streamKey})
}
