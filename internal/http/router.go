package http

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"voice-relay-service/internal/api/ws"
	"voice-relay-service/internal/app"
)

type healthResponse struct {
	Status           string `json:"status"`
	RecognizerLoaded bool   `json:"recognizer_loaded"`
}

// NewRouter constructs the HTTP router for the service.
func NewRouter(application *app.Application) http.Handler {
	r := chi.NewRouter()

	// Basic middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Voice sessions
	r.Handle("/ws", ws.NewServer(application.Sessions))

	// Health endpoints
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(healthResponse{
			Status:           "ok",
			RecognizerLoaded: application.RecognizerLoaded(),
		})
	})
	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", func(w http.ResponseWriter, _ *http.Request) {
		if !application.RecognizerLoaded() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("recognizer not loaded"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	// Browser client
	if dir := application.Cfg.Service.StaticDir; dir != "" {
		mountStatic(r, dir)
	}

	return r
}

func mountStatic(r chi.Router, dir string) {
	files := http.FileServer(http.Dir(dir))
	r.Handle("/static/*", http.StripPrefix("/static/", files))
	r.Get("/", func(w http.ResponseWriter, req *http.Request) {
		index := filepath.Join(dir, "index.html")
		if _, err := os.Stat(index); err != nil {
			http.NotFound(w, req)
			return
		}
		http.ServeFile(w, req, index)
	})
}
