package controlapi

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"arbcore/internal/config"
	"arbcore/internal/notifier"
)

// Server runs the control-surface HTTP/WebSocket API: snapshot reads, risk
// and circuit-breaker mutations, and a live event push over WS, in place of
// the teacher's single-strategy dashboard server.
type Server struct {
	cfg      config.DashboardConfig
	hub      *Hub
	handlers *Handlers
	server   *http.Server
	sink     *notifier.ChanSink
	logger   *slog.Logger
}

// NewServer wires the router, CORS policy, and WebSocket hub against cfg
// and registers a ChanSink with provider's notifier so every published
// event reaches connected WS clients.
func NewServer(cfg config.DashboardConfig, provider StatusProvider, logger *slog.Logger) *Server {
	hub := NewHub(logger)
	handlers := newHandlers(provider, hub)

	router := mux.NewRouter()
	router.HandleFunc("/health", handlers.HandleHealth).Methods(http.MethodGet)
	router.HandleFunc("/api/snapshot", handlers.HandleSnapshot).Methods(http.MethodGet)
	router.HandleFunc("/api/risk/limit", handlers.HandleSetRiskLimit).Methods(http.MethodPost)
	router.HandleFunc("/api/circuit-breaker/activate", handlers.HandleActivateCircuitBreaker).Methods(http.MethodPost)
	router.HandleFunc("/api/circuit-breaker/reset", handlers.HandleResetCircuitBreaker).Methods(http.MethodPost)
	router.HandleFunc("/api/circuit-breaker", handlers.HandleIsCircuitBreakerActive).Methods(http.MethodGet)
	router.HandleFunc("/ws", handlers.HandleWebSocket)

	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins:   allowedOriginsOrWildcard(cfg.AllowedOrigins),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: false,
	})

	sink := notifier.NewChanSink(256)
	provider.Notifier().Register("ws-hub", sink)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      corsMiddleware.Handler(router),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		cfg:      cfg,
		hub:      hub,
		handlers: handlers,
		server:   httpServer,
		sink:     sink,
		logger:   logger.With("component", "controlapi"),
	}
}

func allowedOriginsOrWildcard(configured []string) []string {
	if len(configured) == 0 {
		return []string{"*"}
	}
	return configured
}

// Start runs the hub and the event pump in the background, then blocks
// serving HTTP until Stop is called.
func (s *Server) Start() error {
	go s.hub.Run()
	go s.hub.PumpFrom(s.sink)

	s.logger.Info("control API starting", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("control api server: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	s.logger.Info("stopping control API")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}
