package api

import (
	"context"
	"encoding/json"
	"errors"
	"image/png"
	"net/http"
	"strconv"
	"time"

	"github.com/bryanchriswhite/owallpaperd/internal/compositor"
	"github.com/bryanchriswhite/owallpaperd/internal/config"
	"github.com/bryanchriswhite/owallpaperd/internal/daemon"
	"github.com/bryanchriswhite/owallpaperd/internal/logger"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// Controller is the part of the daemon the API drives
type Controller interface {
	Status(ctx context.Context) (daemon.Status, error)
	Load(ctx context.Context, spec daemon.WallpaperSpec) (daemon.WallpaperInfo, error)
	Unload(ctx context.Context, id int) error
	Apply(ctx context.Context, output, id int) error
	Preview(id, output int) (*compositor.Canvas, error)
	Subscribe() chan []int64
	Unsubscribe(ch chan []int64)
}

// Server represents the HTTP API server
type Server struct {
	router   *mux.Router
	ctrl     Controller
	version  string
	upgrader websocket.Upgrader
}

// NewServer creates a new API server
func NewServer(ctrl Controller, version string) *Server {
	s := &Server{
		router:  mux.NewRouter(),
		ctrl:    ctrl,
		version: version,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // The API only listens on loopback by default
			},
		},
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	// Outputs and workspaces
	api.HandleFunc("/outputs", s.handleGetOutputs).Methods("GET")
	api.HandleFunc("/outputs/{index:[0-9]+}/wallpaper", s.handleApply).Methods("PUT")
	api.HandleFunc("/workspaces", s.handleGetWorkspaces).Methods("GET")
	api.HandleFunc("/workspaces/stream", s.handleWorkspaceStream)

	// Wallpapers
	api.HandleFunc("/wallpapers", s.handleGetWallpapers).Methods("GET")
	api.HandleFunc("/wallpapers", s.handleLoadWallpaper).Methods("POST")
	api.HandleFunc("/wallpapers/{id:[0-9]+}", s.handleUnloadWallpaper).Methods("DELETE")
	api.HandleFunc("/wallpapers/{id:[0-9]+}/preview/{output:[0-9]+}", s.handlePreview).Methods("GET")
}

// Handler returns the routes wrapped with CORS headers
func (s *Server) Handler() http.Handler {
	return s.enableCORS(s.router)
}

// Start serves on addr until ctx is cancelled
func (s *Server) Start(ctx context.Context, addr string) error {
	log := logger.WithComponent("api")
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("address", addr).Msg("Starting API server")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
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

// statusFor maps daemon errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, daemon.ErrUnknownWallpaper):
		return http.StatusNotFound
	case errors.Is(err, daemon.ErrWallpaperMismatch), errors.Is(err, daemon.ErrOutputOutOfBounds):
		return http.StatusBadRequest
	case errors.Is(err, daemon.ErrInvalidImage), errors.Is(err, daemon.ErrUnimplementedMode):
		return http.StatusUnprocessableEntity
	case errors.Is(err, daemon.ErrNotRunning), errors.Is(err, daemon.ErrShutdown):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// HTTP Handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{
		"status":  "healthy",
		"version": s.version,
	})
}

func (s *Server) handleGetOutputs(w http.ResponseWriter, r *http.Request) {
	status, err := s.ctrl.Status(r.Context())
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, status.Outputs)
}

func (s *Server) handleGetWorkspaces(w http.ResponseWriter, r *http.Request) {
	status, err := s.ctrl.Status(r.Context())
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, map[string]any{
		"workspaces": status.Workspaces,
		"applied":    status.Applied,
	})
}

func (s *Server) handleGetWallpapers(w http.ResponseWriter, r *http.Request) {
	status, err := s.ctrl.Status(r.Context())
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, status.Wallpapers)
}

func (s *Server) handleLoadWallpaper(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path       string `json:"path"`
		Mode       string `json:"mode"`
		Background string `json:"background"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Path == "" {
		http.Error(w, "path is required", http.StatusBadRequest)
		return
	}

	bg, err := config.ParseColor(req.Background)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	info, err := s.ctrl.Load(r.Context(), daemon.WallpaperSpec{
		Path:       req.Path,
		Mode:       compositor.ParseMode(req.Mode),
		Background: bg,
	})
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(info)
}

func (s *Server) handleUnloadWallpaper(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.Atoi(mux.Vars(r)["id"])

	if err := s.ctrl.Unload(r.Context(), id); err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, map[string]string{"status": "success"})
}

func (s *Server) handleApply(w http.ResponseWriter, r *http.Request) {
	output, _ := strconv.Atoi(mux.Vars(r)["index"])

	var req struct {
		WallpaperID int `json:"wallpaper_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.ctrl.Apply(r.Context(), output, req.WallpaperID); err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, map[string]string{"status": "success"})
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, _ := strconv.Atoi(vars["id"])
	output, _ := strconv.Atoi(vars["output"])

	canvas, err := s.ctrl.Preview(id, output)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	w.Header().Set("Content-Type", "image/png")
	if err := png.Encode(w, canvas.RGBA()); err != nil {
		logger.WithComponent("api").Warn().Err(err).Msg("Failed to encode preview")
	}
}

func (s *Server) handleWorkspaceStream(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("api")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade error")
		return
	}
	defer conn.Close()

	// Subscribe to workspace changes
	updates := s.ctrl.Subscribe()
	defer s.ctrl.Unsubscribe(updates)

	// Send current workspaces
	if status, err := s.ctrl.Status(r.Context()); err == nil {
		if err := conn.WriteJSON(map[string]any{"workspaces": status.Workspaces}); err != nil {
			return
		}
	}

	// The client never sends anything; reading only detects disconnects
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case ws, ok := <-updates:
			if !ok {
				return
			}
			if err := conn.WriteJSON(map[string]any{"workspaces": ws}); err != nil {
				log.Debug().Err(err).Msg("WebSocket write error")
				return
			}
		}
	}
}
