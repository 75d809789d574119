// Package api is the transport core's admin HTTP surface: read-only
// status/peers/metrics endpoints for a node operator, entirely outside
// the send/receive path (spec.md §6's "external surfaces belong to
// collaborator layers" carve-out).
//
// Grounded on the teacher's internal/api/server.go + middleware.go: the
// same mux.Router + http.Server wrapper shape and the logging/CORS
// middleware pair. The authorization middleware (session/server-ID
// auth) and every route past /status, /peers, /metrics have no
// SPEC_FULL.md consumer and are dropped.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/brineshore/kadnet/internal/introspect"
	"github.com/brineshore/kadnet/internal/transport"
)

// Server is the admin HTTP server.
type Server struct {
	router *mux.Router
	t      *transport.Transport
	hub    *introspect.Hub
	port   int
	server *http.Server
}

// NewServer creates a Server exposing t's status on port, and hub's
// websocket event feed at /events when hub is non-nil.
func NewServer(t *transport.Transport, hub *introspect.Hub, port int) *Server {
	s := &Server{
		router: mux.NewRouter(),
		t:      t,
		hub:    hub,
		port:   port,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.corsMiddleware)

	// OPTIONS is registered alongside GET on every route so a CORS
	// preflight request matches (gorilla/mux only runs Use() middleware,
	// including corsMiddleware, on a successful route match) rather than
	// falling through to the unmatched-method handler unanswered.
	s.router.HandleFunc("/status", s.handleStatus).Methods("GET", "OPTIONS")
	s.router.HandleFunc("/peers", s.handlePeers).Methods("GET", "OPTIONS")
	s.router.HandleFunc("/metrics", s.handleMetrics).Methods("GET", "OPTIONS")

	if s.hub != nil {
		s.router.Handle("/events", introspect.NewHandler(s.hub)).Methods("GET", "OPTIONS")
	}
}

// Start begins serving on s.port. Blocks until Shutdown is called or the
// listener fails for another reason.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         addrFor(s.port),
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func addrFor(port int) string {
	return ":" + strconv.Itoa(port)
}
