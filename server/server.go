package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/cameroncuttingedge/pixel_canvas/board"
	"github.com/cameroncuttingedge/pixel_canvas/config"
	"github.com/cameroncuttingedge/pixel_canvas/events"
	"github.com/cameroncuttingedge/pixel_canvas/registry"
	"github.com/cameroncuttingedge/pixel_canvas/stats"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
)

// Server owns the board, the session registry, and the listener. One Server
// is one authoritative canvas.
type Server struct {
	cfg        *config.Config
	hub        *Hub
	registry   *registry.Registry
	bus        *events.Bus
	stats      *stats.Collector
	router     *mux.Router
	httpServer *http.Server

	mu    sync.Mutex
	conns map[*connHandler]struct{}
}

// New wires a server from configuration: a fresh board of the configured
// dimension, an empty registry, and the stats listener already draining the
// event bus.
func New(cfg *config.Config) *Server {
	b := board.New(cfg.Board.Dim)
	reg := registry.New()
	bus := events.NewBus()
	collector := stats.NewCollector(cfg.Board.Dim)

	s := &Server{
		cfg:      cfg,
		hub:      NewHub(b, reg, bus),
		registry: reg,
		bus:      bus,
		stats:    collector,
		conns:    make(map[*connHandler]struct{}),
	}
	s.routes()
	s.httpServer = &http.Server{
		Addr:    cfg.ServerAddress(),
		Handler: s.Handler(),
	}

	go collector.Listen(bus)

	return s
}

func (s *Server) routes() {
	r := mux.NewRouter()
	r.HandleFunc("/ws", s.handleWS)
	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	r.HandleFunc("/api/board", s.handleBoard).Methods("GET")
	r.HandleFunc("/api/stats", s.handleStats).Methods("GET")
	s.router = r
}

// Handler exposes the routed HTTP surface, wrapped in recovery and CORS
// middleware. Tests host this directly.
func (s *Server) Handler() http.Handler {
	cors := handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{"GET", "POST"}),
	)
	return handlers.RecoveryHandler()(cors(s.router))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":   "healthy",
		"sessions": s.registry.Count(),
	})
}

func (s *Server) handleBoard(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.hub.Snapshot()); err != nil {
		log.Error().Err(err).Msg("Failed to encode board snapshot")
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.stats.Report()); err != nil {
		log.Error().Err(err).Msg("Failed to encode stats report")
	}
}

// Stats exposes the collector for the shutdown summary.
func (s *Server) Stats() *stats.Collector {
	return s.stats
}

func (s *Server) track(h *connHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[h] = struct{}{}
}

func (s *Server) untrack(h *connHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, h)
}

// Start listens on the configured address and blocks until the context is
// canceled, a SIGINT/SIGTERM arrives, or the listener fails; it then shuts
// down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		log.Info().Str("addr", s.cfg.ServerAddress()).Int("dim", s.cfg.Board.Dim).Msg("Canvas server listening")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("listener failed: %w", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-ctx.Done():
		log.Info().Msg("Context canceled")
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("Signal received")
	case err := <-errCh:
		return err
	}

	return s.Shutdown()
}

// Shutdown notifies every live session, closes their connections, and stops
// the listener, waiting at most the configured grace period for in-flight
// teardown.
func (s *Server) Shutdown() error {
	log.Info().Msg("Shutting down canvas server")

	// Best-effort "server closed" notice to every logged-in session, then
	// finish them; the writer pumps flush the notice and release the sockets.
	s.registry.CloseAll()

	// Logged-in connections drain their notice and close themselves via the
	// writer pump. Connections still in the login handshake hold no session,
	// so close those directly.
	s.mu.Lock()
	pending := make([]*connHandler, 0, len(s.conns))
	for h := range s.conns {
		pending = append(pending, h)
	}
	s.mu.Unlock()
	for _, h := range pending {
		if !h.loggedIn() {
			h.teardown()
		}
	}

	s.bus.Close()
	s.stats.LogSummary()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownGrace)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	log.Info().Msg("Canvas server stopped")
	return nil
}
