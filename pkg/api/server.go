// Package api exposes the HTTP surface of the deployment service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"infraagent/pkg/config"
	"infraagent/pkg/logx"
	"infraagent/pkg/persistence"
	"infraagent/pkg/resolver"
	"infraagent/pkg/session"
	"infraagent/pkg/tracker"
)

// ServiceVersion is reported by the root endpoint.
const ServiceVersion = "1.0.0"

// Server is the HTTP front end over the resolver and lifecycle tracker.
type Server struct {
	resolver      *resolver.Resolver
	tracker       *tracker.Tracker
	sessions      *session.Store
	logger        *logx.Logger
	webhookSecret string
	listLimit     int
	maxListLimit  int
}

// NewServer creates the HTTP server front end.
func NewServer(res *resolver.Resolver, tr *tracker.Tracker, sessions *session.Store, cfg *config.Config) *Server {
	return &Server{
		resolver:      res,
		tracker:       tr,
		sessions:      sessions,
		logger:        logx.NewLogger("api"),
		webhookSecret: config.GetSecretOrDefault(config.SecretWebhookSecret, config.DefaultWebhookSecret),
		listLimit:     cfg.Deploy.DefaultListLimit,
		maxListLimit:  cfg.Deploy.MaxListLimit,
	}
}

// RegisterRoutes registers all HTTP routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/chat", s.handleChat)
	mux.HandleFunc("/deploy", s.handleDeploy)
	mux.HandleFunc("/deploy/", s.handleDeployRouter)
	mux.HandleFunc("/webhook/github", s.handleGitHubWebhook)
	mux.HandleFunc("/api/logs", s.handleServiceLogs)
	mux.Handle("/metrics", promhttp.Handler())
}

// StartServer starts the HTTP server and shuts it down gracefully when ctx
// is cancelled.
func (s *Server) StartServer(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	// Parent context is cancelled; shutdown needs a fresh one.
	s.logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	//nolint:contextcheck // Fresh context required after parent cancellation.
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response: %v", err)
	}
}

// writeError writes a JSON error body.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		s.writeError(w, http.StatusNotFound, "not found")
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"service": "infraagent",
		"version": ServiceVersion,
		"endpoints": []string{
			"POST /chat",
			"POST /deploy",
			"GET /deploy/list",
			"GET /deploy/{id}",
			"GET /deploy/logs/{id}",
			"POST /webhook/github",
			"GET /healthz",
			"GET /metrics",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"database":      persistence.IsInitialized(),
		"conversations": s.sessions.Len(),
	})
}

// handleServiceLogs implements GET /api/logs over the in-memory log buffer.
func (s *Server) handleServiceLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query()
	component := query.Get("component")

	var since time.Time
	if sinceStr := query.Get("since"); sinceStr != "" {
		parsed, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid since parameter (use RFC3339)")
			return
		}
		since = parsed
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"logs": logx.RecentEntries(component, since),
	})
}
