// Package server exposes the HTTP and WebSocket surface: the tray-client
// transport, the notification CRUD API and the dashboard queries.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/contalink/bandeja/internal/config"
	"github.com/contalink/bandeja/internal/dispatch"
	"github.com/contalink/bandeja/internal/registry"
	"github.com/contalink/bandeja/internal/store"
)

// Server is the main application server.
type Server struct {
	cfg        *config.Config
	st         *store.Store
	log        zerolog.Logger
	reg        *registry.Registry
	hub        *Hub
	dispatcher *dispatch.Dispatcher
	router     *chi.Mux
	wsUpgrader websocket.Upgrader
}

// New creates a server and starts its hub loop.
func New(cfg *config.Config, st *store.Store, log zerolog.Logger) *Server {
	reg := registry.New()
	hub := NewHub(log, st, st, reg)
	dispatcher := dispatch.New(log, reg, nil, hub)

	s := &Server{
		cfg:        cfg,
		st:         st,
		log:        log.With().Str("component", "server").Logger(),
		reg:        reg,
		hub:        hub,
		dispatcher: dispatcher,
		wsUpgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(cfg.AllowedOrigins),
		},
	}
	s.setupRouter()

	go s.hub.Run()

	return s
}

// Dispatcher exposes the dispatcher so the scheduler and the ticket poller
// can fan out through the same hub.
func (s *Server) Dispatcher() *dispatch.Dispatcher {
	return s.dispatcher
}

// Router returns the HTTP router (for testing).
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/ws", s.handleWebSocket)

	r.Route("/api/notificacoes", func(r chi.Router) {
		r.Get("/", s.handleList)
		r.Post("/", s.handleCreate)
		r.Put("/{id}", s.handleUpdate)
		r.Delete("/{id}", s.handleDelete)
		r.Get("/stats/dashboard", s.handleStats)
		r.Get("/usuarios", s.handleActiveUsers)
	})

	s.router = r
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.ListenAddr,
		Handler: s.router,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.log.Info().Str("addr", s.cfg.ListenAddr).Msg("starting server")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// handleWebSocket upgrades a tray-client connection and hands it to the hub.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &Client{
		conn: conn,
		id:   uuid.NewString(),
		send: make(chan []byte, 256),
		hub:  s.hub,
	}

	s.hub.register <- client
	go client.writePump()
	go client.readPump()
}

func originChecker(allowed []string) func(r *http.Request) bool {
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		_, ok := set[r.Header.Get("Origin")]
		return ok
	}
}
