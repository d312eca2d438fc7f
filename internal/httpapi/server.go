package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/roach88/cfgsync/internal/engine"
)

// DefaultAddr is the listen address used when Config.Addr is empty.
const DefaultAddr = "127.0.0.1:8080"

// maxBodyBytes bounds a POST /sync/config body.
const maxBodyBytes = 1 << 20

// shutdownTimeout bounds graceful shutdown.
const shutdownTimeout = 5 * time.Second

// Config configures a Server.
type Config struct {
	Addr   string
	Engine *engine.Engine
	Tokens TokenResolver
	Logger *slog.Logger
}

// Server serves the sync HTTP API.
type Server struct {
	cfg     Config
	engine  *engine.Engine
	tokens  TokenResolver
	logger  *slog.Logger
	mux     *http.ServeMux
	handler http.Handler
	http    *http.Server
	once    sync.Once
}

// NewServer creates a Server. Config.Engine and Config.Tokens are required.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Engine == nil {
		return nil, errors.New("httpapi: engine is required")
	}
	if cfg.Tokens == nil {
		return nil, errors.New("httpapi: token resolver is required")
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Server{
		cfg:    cfg,
		engine: cfg.Engine,
		tokens: cfg.Tokens,
		logger: cfg.Logger,
		mux:    http.NewServeMux(),
	}
	s.registerRoutes()
	s.handler = otelhttp.NewHandler(s.withRequestID(s.mux), "cfgsync",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Handler returns the instrumented root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.cfg.Addr
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
// Returns nil after a clean shutdown.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.cfg.Addr)
		err := s.http.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, stopping http server")
		return s.Close()
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}
}

// Close shuts the server down. Safe to call more than once.
func (s *Server) Close() error {
	var outErr error
	s.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.http.Shutdown(ctx); err != nil {
			outErr = fmt.Errorf("http shutdown: %w", err)
			s.logger.Error("http shutdown failed", "error", err)
			return
		}
		s.logger.Info("http server stopped")
	})
	return outErr
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /sync/config", s.require(s.handleGetConfig))
	s.mux.HandleFunc("POST /sync/config", s.require(s.handleSaveConfig))
	s.mux.HandleFunc("GET /sync/version", s.require(s.handleVersion))
	s.mux.HandleFunc("GET /health", s.handleHealth)
}

// require authenticates the bearer token and passes the account id on.
func (s *Server) require(h func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeMessage(w, http.StatusUnauthorized, msgUnauthorized)
			return
		}
		accountID, err := s.tokens.Resolve(r.Context(), token)
		if err != nil {
			if !errors.Is(err, ErrUnauthorized) {
				s.logger.Error("token resolve failed", "error", err)
			}
			writeMessage(w, http.StatusUnauthorized, msgUnauthorized)
			return
		}
		h(w, r.WithContext(withAccount(r.Context(), accountID)), accountID)
	}
}

func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

// clientInfo identifies the caller for audit entries.
func clientInfo(r *http.Request) string {
	if ua := r.UserAgent(); ua != "" {
		return ua
	}
	return "unknown"
}
