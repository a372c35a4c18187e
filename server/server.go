// Package server exposes the enrichment daemon over HTTP: a JSON API for
// queue control and a WebSocket feed of job updates.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/arcform/reverb/enrich"
	"github.com/arcform/reverb/errors"
	"github.com/arcform/reverb/session"
)

// Server serves the status API and job update feed
type Server struct {
	manager        *enrich.Manager
	sessions       *session.Store
	allowedOrigins []string
	logger         *zap.SugaredLogger

	httpServer *http.Server

	clients   map[*client]bool
	clientsMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Config configures the HTTP server
type Config struct {
	Port           int
	AllowedOrigins []string
}

// New creates a server over an initialized enrichment manager
func New(manager *enrich.Manager, sessions *session.Store, cfg Config, logger *zap.SugaredLogger) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		manager:        manager,
		sessions:       sessions,
		allowedOrigins: cfg.AllowedOrigins,
		logger:         logger.Named("server"),
		clients:        make(map[*client]bool),
		ctx:            ctx,
		cancel:         cancel,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.corsMiddleware(s.handleHealth))
	mux.HandleFunc("/ws", s.corsMiddleware(s.handleWebSocket))
	mux.HandleFunc("GET /api/status", s.corsMiddleware(s.handleStatus))
	mux.HandleFunc("GET /api/jobs", s.corsMiddleware(s.handleListJobs))
	mux.HandleFunc("GET /api/jobs/{id}", s.corsMiddleware(s.handleGetJob))
	mux.HandleFunc("POST /api/jobs/{id}/cancel", s.corsMiddleware(s.handleCancelJob))
	mux.HandleFunc("POST /api/jobs/{id}/retry", s.corsMiddleware(s.handleRetryJob))
	mux.HandleFunc("POST /api/jobs/{id}/media-complete", s.corsMiddleware(s.handleMediaComplete))
	mux.HandleFunc("GET /api/sessions", s.corsMiddleware(s.handleListSessions))
	mux.HandleFunc("POST /api/sessions/{id}/enrich", s.corsMiddleware(s.handleEnqueueSession))

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Start runs the job update pump and the HTTP listener.
// Blocks until the listener exits.
func (s *Server) Start() error {
	s.wg.Add(1)
	go s.pumpJobUpdates()

	s.logger.Infow("HTTP server listening", "addr", s.httpServer.Addr)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "http server failed")
	}
	return nil
}

// Shutdown drains connections and stops the update pump
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()

	err := s.httpServer.Shutdown(ctx)

	s.clientsMu.Lock()
	for c := range s.clients {
		c.conn.Close()
	}
	s.clientsMu.Unlock()

	s.wg.Wait()
	return errors.Wrap(err, "http server shutdown")
}

// corsMiddleware applies the configured origin allowlist
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next(w, r)
	}
}

func (s *Server) originAllowed(origin string) bool {
	for _, allowed := range s.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}
