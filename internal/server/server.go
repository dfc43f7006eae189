package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/faucetdb/gatehouse/internal/config"
	"github.com/faucetdb/gatehouse/internal/handler"
	"github.com/faucetdb/gatehouse/internal/openapi"
	"github.com/faucetdb/gatehouse/internal/server/middleware"
	"github.com/faucetdb/gatehouse/internal/service"
	"github.com/faucetdb/gatehouse/internal/session"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	// CORSOrigins lists browser origins allowed to call the API with
	// credentials. Empty disables CORS.
	CORSOrigins        []string
	RateLimitPerMinute int
	CookieName         string
	SecureCookie       bool
	// ExposeTokens includes raw invite and reset tokens in responses.
	// Never enable in production.
	ExposeTokens bool
	BaseURL      string
	Version      string
}

// ConfigFromSettings derives the server configuration from the loaded
// process settings.
func ConfigFromSettings(s config.Settings, version string) Config {
	return Config{
		Host:               s.Server.Host,
		Port:               s.Server.Port,
		ShutdownTimeout:    s.Server.ShutdownTimeout,
		CORSOrigins:        s.Server.CORSOrigins,
		RateLimitPerMinute: s.Server.RateLimitPerMinute,
		CookieName:         s.Auth.CookieName,
		SecureCookie:       s.IsProduction(),
		ExposeTokens:       !s.IsProduction(),
		BaseURL:            s.Mail.BaseURL,
		Version:            version,
	}
}

// Services bundles the domain services the routes dispatch to.
type Services struct {
	Store    *config.Store
	Sessions *session.Manager
	Auth     *service.Authenticator
	Resets   *service.PasswordResets
	Invites  *service.Invites
	Gate     *service.Gate
}

// Server is the top-level HTTP server for gatehouse. It owns the Chi router
// and the account directory it serves.
type Server struct {
	cfg        Config
	router     chi.Router
	svc        Services
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a new Server, wires up all routes and middleware, and returns
// it ready to listen. Call ListenAndServe to start accepting connections.
func New(cfg Config, svc Services, logger *slog.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		svc:    svc,
		logger: logger,
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// --- Global middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	if len(s.cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.cfg.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Admin-Key", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
	r.Use(chimw.Compress(5))

	// --- Health checks (no auth required) ---
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Get("/openapi.json", s.handleOpenAPI)

	cookie := session.Cookie{Name: s.cfg.CookieName, Secure: s.cfg.SecureCookie}
	requireAdmin := middleware.RequireAdmin(s.svc.Gate, cookie, s.logger)
	authHandler := handler.NewAuthHandler(
		s.svc.Auth, s.svc.Resets, s.svc.Invites, s.svc.Sessions,
		cookie, s.cfg.ExposeTokens, s.logger,
	)
	usersHandler := handler.NewUsersHandler(s.svc.Store, s.svc.Invites, s.cfg.ExposeTokens, s.logger)

	r.Route("/auth", func(r chi.Router) {
		// Credential-bearing endpoints are rate limited per client and route.
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(s.cfg.RateLimitPerMinute))
			r.Post("/login", authHandler.Login)
			r.Post("/password-reset/request", authHandler.RequestPasswordReset)
			r.Post("/password-reset/confirm", authHandler.ConfirmPasswordReset)
			r.Post("/invite/preview", authHandler.PreviewInvite)
			r.Post("/invite/accept", authHandler.AcceptInvite)
		})
		r.Post("/logout", authHandler.Logout)
		r.With(requireAdmin).Get("/me", authHandler.Me)
	})

	r.Route("/admin/users", func(r chi.Router) {
		r.Use(requireAdmin)
		r.Get("/", usersHandler.List)
		r.Post("/invite", usersHandler.Invite)
		r.Post("/invites/{id}/resend", usersHandler.ResendInvite)
		r.Delete("/invites/{id}", usersHandler.RevokeInvite)
		r.Patch("/{id}", usersHandler.UpdateAdmin)
	})

	s.router = r
}

// handleHealthz is a liveness probe. Returns 200 if the process is running.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// handleReadyz is a readiness probe. Returns 200 when the account directory
// is reachable, or 503 otherwise.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	httpStatus := http.StatusOK
	checks := map[string]string{"directory": "ok"}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.svc.Store.Ping(ctx); err != nil {
		s.logger.Warn("readiness check failed", "error", err)
		checks["directory"] = "unreachable"
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": status,
		"checks": checks,
	})
}

func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	doc := openapi.Generate(openapi.Options{
		BaseURL:    s.cfg.BaseURL,
		Version:    s.cfg.Version,
		CookieName: s.cfg.CookieName,
	})
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(doc)
}

// ListenAndServe starts the HTTP server and blocks until a SIGINT or SIGTERM
// is received, then shuts down gracefully (see Serve).
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server listen: %w", err)
	}

	// Listen for shutdown signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done. It then drains
// in-flight requests and pending reset mail. The directory stays open; its
// owner closes it.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server listen: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	if s.svc.Resets != nil {
		s.svc.Resets.Wait()
	}
	s.logger.Info("server stopped")
	return nil
}

// Router returns the underlying Chi router, useful for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP implements http.Handler, delegating to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
