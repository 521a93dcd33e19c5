package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/fundxeval/internal/domain"
	"github.com/alanyoungcy/fundxeval/internal/server/handler"
	"github.com/alanyoungcy/fundxeval/internal/server/middleware"
	"github.com/alanyoungcy/fundxeval/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// Limiter throttles API clients to RateLimit requests per minute. A nil
	// limiter or a zero limit disables throttling.
	Limiter   domain.RateLimiter
	RateLimit int
}

// Handlers aggregates all HTTP handlers that the server needs to register.
// Payments and Wallet are nil in modes without a wallet.
type Handlers struct {
	Health      *handler.HealthHandler
	Status      *handler.StatusHandler
	Config      *handler.ConfigHandler
	Payments    *handler.PaymentHandler
	Evaluations *handler.EvaluationHandler
	Wallet      *handler.WalletHandler
	Activity    *handler.ActivityHandler
}

// Server is the headless HTTP + WebSocket API for evaluation dashboards.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered and the middleware
// chain applied.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "http_server"))
	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      newHandler(cfg, handlers, wsHub, logger),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

func newHandler(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)

	if handlers.Config != nil {
		mux.HandleFunc("GET /api/exam-types", handlers.Config.ListExamTypes)
		mux.HandleFunc("GET /api/offers/{phase}/{examType}", handlers.Config.GetOffer)
	}

	if p := handlers.Payments; p != nil {
		mux.HandleFunc("POST /api/payments", p.Begin)
		mux.HandleFunc("GET /api/payments/current", p.Current)
		mux.HandleFunc("POST /api/payments/cancel", p.Cancel)
		mux.HandleFunc("POST /api/payments/refresh", p.Refresh)
		mux.HandleFunc("GET /api/payments/recovery", p.Recovery)
		mux.HandleFunc("GET /api/payments/recovery/exports", p.RecoveryExports)
		mux.HandleFunc("GET /api/payments/{hash}/receipt", p.Receipt)
	}

	if a := handlers.Activity; a != nil {
		mux.HandleFunc("GET /api/audit", a.ListAudit)
		mux.HandleFunc("GET /api/payments/events", a.PaymentEvents)
	}

	if handlers.Evaluations != nil {
		mux.HandleFunc("GET /api/evaluations", handlers.Evaluations.ListEvaluations)
	}
	if handlers.Wallet != nil {
		mux.HandleFunc("GET /api/wallet", handlers.Wallet.GetWallet)
	}

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, "/api/health")(h)
	if cfg.Limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(cfg.Limiter, cfg.RateLimit, time.Minute, logger)(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
