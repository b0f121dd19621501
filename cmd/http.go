package cmd

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/vidfetch/vidfetch/internal/core"
	"github.com/vidfetch/vidfetch/internal/engine/events"
	"github.com/vidfetch/vidfetch/internal/job"
	"github.com/vidfetch/vidfetch/internal/media"
	"github.com/vidfetch/vidfetch/internal/selector"
	"github.com/vidfetch/vidfetch/internal/utils"
)

const (
	apiRequestsPerSecond = 20
	apiBurst             = 40
	sseHeartbeat         = 15 * time.Second
)

// apiServer exposes a DownloadService over HTTP.
type apiServer struct {
	service  core.DownloadService
	token    string
	port     int
	defaults job.Request // format, quality and output used when a request omits them
}

// newHTTPHandler builds the daemon's handler. Every endpoint except /health
// requires the bearer token.
func newHTTPHandler(svc core.DownloadService, token string, port int, defaults job.Request) http.Handler {
	s := &apiServer{service: svc, token: token, port: port, defaults: defaults}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/download", s.handleDownload)
	mux.HandleFunc("/list", s.handleList)
	mux.HandleFunc("/cancel", s.handleCancel)
	mux.HandleFunc("/dismiss", s.handleDismiss)
	mux.HandleFunc("/history", s.handleHistory)
	mux.HandleFunc("/events", s.handleEvents)

	limiter := rate.NewLimiter(rate.Limit(apiRequestsPerSecond), apiBurst)
	return corsMiddleware(rateLimitMiddleware(limiter, authMiddleware(token, mux)))
}

// startHTTPServer serves handler on ln until the server is shut down.
func startHTTPServer(ln net.Listener, handler http.Handler) *http.Server {
	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			utils.Debug("HTTP server error: %v", err)
		}
	}()
	return server
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")

		// Handle preflight requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func authMiddleware(token string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func rateLimitMiddleware(limiter *rate.Limiter, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		utils.Debug("HTTP: encode response: %v", err)
	}
}

// writeError maps service errors onto the status codes the remote client
// turns back into sentinels.
func writeError(w http.ResponseWriter, err error) {
	var re *media.ResolutionError
	switch {
	case errors.Is(err, job.ErrJobNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, job.ErrJobActive):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, job.ErrJobFinished):
		http.Error(w, err.Error(), http.StatusGone)
	case errors.Is(err, job.ErrQueueShutdown):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	case errors.As(err, &re) && re.Kind == media.UnsupportedURL:
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.As(err, &re):
		http.Error(w, err.Error(), http.StatusBadGateway)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func requireID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "Missing id parameter", http.StatusBadRequest)
		return "", false
	}
	return id, true
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"port":    s.port,
		"version": Version,
	})
}

func (s *apiServer) handleDownload(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		id, ok := requireID(w, r)
		if !ok {
			return
		}
		snap, err := s.service.GetStatus(id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	case http.MethodPost:
		s.handleSubmit(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *apiServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	defer func() { _ = r.Body.Close() }()

	var req job.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	req.URL = strings.TrimSpace(req.URL)
	if req.URL == "" {
		http.Error(w, "URL is required", http.StatusBadRequest)
		return
	}
	if req.Format == "" {
		req.Format = s.defaults.Format
	}
	if req.Quality == "" {
		req.Quality = s.defaults.Quality
	}
	if req.OutputDir == "" {
		req.OutputDir = s.defaults.OutputDir
	}
	if strings.Contains(req.OutputDir, "..") {
		http.Error(w, "Invalid path", http.StatusBadRequest)
		return
	}
	if !selector.ValidFormat(req.Format) {
		http.Error(w, fmt.Sprintf("Unsupported format %q", req.Format), http.StatusBadRequest)
		return
	}
	if _, err := selector.ParseQuality(req.Quality); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.OutputDir != "" {
		req.OutputDir = utils.EnsureAbsPath(req.OutputDir)
	}

	utils.Debug("HTTP: download request url=%s format=%s quality=%s", req.URL, req.Format, req.Quality)

	kind, err := media.ClassifyURL(req.URL)
	if err != nil {
		writeError(w, err)
		return
	}

	if r.URL.Query().Get("collection") == "1" || kind == media.URLCollection {
		ids, err := s.service.AddCollection(req)
		if err != nil && len(ids) == 0 {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "queued", "ids": ids})
		return
	}

	id, err := s.service.Add(req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "queued", "id": id})
}

func (s *apiServer) handleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	snaps, err := s.service.List()
	if err != nil {
		writeError(w, err)
		return
	}
	if snaps == nil {
		snaps = []job.Snapshot{}
	}
	writeJSON(w, http.StatusOK, snaps)
}

func (s *apiServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	entries, err := s.service.History()
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *apiServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.handleAction(w, r, "cancelled", s.service.Cancel)
}

func (s *apiServer) handleDismiss(w http.ResponseWriter, r *http.Request) {
	s.handleAction(w, r, "dismissed", s.service.Dismiss)
}

func (s *apiServer) handleAction(w http.ResponseWriter, r *http.Request, status string, fn func(string) error) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id, ok := requireID(w, r)
	if !ok {
		return
	}
	if err := fn(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status, "id": id})
}

// handleEvents streams job events as server-sent events until the client
// goes away.
func (s *apiServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	stream, stop, err := s.service.StreamEvents(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	defer stop()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case msg, ok := <-stream:
			if !ok {
				return
			}
			name := events.Name(msg)
			if name == "" {
				continue
			}
			data, err := json.Marshal(msg)
			if err != nil {
				utils.Debug("HTTP: encode %s event: %v", name, err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
