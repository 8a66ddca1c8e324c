// Package api exposes sessions, video utilities and batch jobs over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/TomSft15/BlurFace/internal/jobs"
	"github.com/TomSft15/BlurFace/internal/session"
	"github.com/TomSft15/BlurFace/internal/types"
	"github.com/gorilla/websocket"
)

// VideoInspector reads file metadata and enumerates capture devices.
type VideoInspector interface {
	Info(ctx context.Context, path string) (types.VideoInfo, error)
	ListWebcams(ctx context.Context) []types.Webcam
}

// Config wires the HTTP surface to the core.
type Config struct {
	Version  string
	Sessions *session.Registry
	// SessionDefaults is the template for new sessions; Source is filled per request.
	SessionDefaults session.Options
	Jobs            *jobs.Manager
	Videos          VideoInspector

	TempDir        string
	OutputDir      string
	CORSOrigins    string
	MaxUploadBytes int64
	StreamFPS      float64
	JPEGQuality    int

	// NewTicker paces MJPEG streams. Defaults to session.NewTicker.
	NewTicker func(fps float64) session.Ticker
	Log       *slog.Logger
	Now       func() time.Time
}

// Server is the HTTP handler of the service.
type Server struct {
	cfg      Config
	log      *slog.Logger
	mux      *http.ServeMux
	upgrader websocket.Upgrader
}

// NewServer registers every route.
func NewServer(cfg Config) *Server {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewTicker == nil {
		cfg.NewTicker = session.NewTicker
	}
	if cfg.StreamFPS <= 0 {
		cfg.StreamFPS = 30
	}
	if cfg.JPEGQuality <= 0 {
		cfg.JPEGQuality = qualityPresets["medium"]
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 512 << 20
	}

	s := &Server{
		cfg: cfg,
		log: cfg.Log,
		mux: http.NewServeMux(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}

	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("GET /api/webcams", s.handleWebcams)

	s.mux.HandleFunc("GET /api/sessions", s.handleSessions)
	s.mux.HandleFunc("POST /api/session/create", s.handleSessionCreate)
	s.mux.HandleFunc("POST /api/session/{id}/close", s.handleSessionClose)
	s.mux.HandleFunc("PUT /api/session/{id}/blur-settings", s.handleBlurSettings)
	s.mux.HandleFunc("PUT /api/session/{id}/detection-settings", s.handleDetectionSettings)
	s.mux.HandleFunc("GET /api/session/{id}/frame", s.handleFrame)
	s.mux.HandleFunc("GET /api/session/{id}/detections", s.handleDetections)
	s.mux.HandleFunc("GET /api/session/{id}/stream", s.handleStream)

	s.mux.HandleFunc("POST /api/videos/info", s.handleVideoInfo)
	s.mux.HandleFunc("POST /api/videos/upload", s.handleUpload)
	s.mux.HandleFunc("POST /api/videos/process", s.handleProcess)

	s.mux.HandleFunc("GET /api/jobs", s.handleJobs)
	s.mux.HandleFunc("GET /api/jobs/{id}", s.handleJob)
	s.mux.HandleFunc("GET /api/jobs/{id}/ws", s.handleJobSocket)

	s.mux.HandleFunc("GET /downloads/{name}", s.handleDownload)
	return s
}

// ServeHTTP applies CORS and request logging around the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if origin := s.allowedOrigin(r.Header.Get("Origin")); origin != "" {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")
		h.Set("Access-Control-Expose-Headers", "X-Detection-Data")
		if origin != "*" {
			h.Add("Vary", "Origin")
		}
	}
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.log.Debug("request", "method", r.Method, "path", r.URL.Path)
	s.mux.ServeHTTP(w, r)
}

func (s *Server) allowedOrigin(origin string) string {
	allowed := strings.TrimSpace(s.cfg.CORSOrigins)
	if allowed == "" || origin == "" {
		return ""
	}
	if allowed == "*" {
		return "*"
	}
	for _, o := range strings.Split(allowed, ",") {
		if o = strings.TrimSpace(o); o != "" && o == origin {
			return origin
		}
	}
	return ""
}

// Run serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string, readTimeout, writeTimeout time.Duration) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info("shutting down http server")
	// Stopping the sessions first ends open MJPEG streams so Shutdown can drain.
	if s.cfg.Sessions != nil {
		s.cfg.Sessions.CloseAll()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Success: false, Error: msg})
}

type successResponse struct {
	Success bool `json:"success"`
}

var okResponse = successResponse{Success: true}
