package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	apperrors "github.com/3leaps/quickcast/internal/errors"
	"github.com/3leaps/quickcast/internal/server/handlers"
	"github.com/3leaps/quickcast/internal/server/middleware"
	"github.com/3leaps/quickcast/pkg/provider"
)

// Server is the QuickCast HTTP API.
type Server struct {
	host   string
	port   int
	router chi.Router
	http   *http.Server
	logger *zap.Logger

	jobs    handlers.JobService
	shares  handlers.ShareService
	media   provider.ObjectGetter
	origins []string

	readTimeout  time.Duration
	writeTimeout time.Duration
	idleTimeout  time.Duration
}

// Option customizes a Server.
type Option func(*Server)

// WithJobs mounts the job endpoints backed by svc.
func WithJobs(svc handlers.JobService) Option {
	return func(s *Server) { s.jobs = svc }
}

// WithShares enables GET /api/share/{shareID}.
func WithShares(svc handlers.ShareService) Option {
	return func(s *Server) { s.shares = svc }
}

// WithMedia serves shared objects from src under /media.
func WithMedia(src provider.ObjectGetter) Option {
	return func(s *Server) { s.media = src }
}

// WithAllowedOrigins sets the CORS and websocket origin allowlist.
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) { s.origins = origins }
}

// WithLogger sets the access and handler logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithTimeouts sets the HTTP server timeouts. Zero values keep defaults.
func WithTimeouts(read, write, idle time.Duration) Option {
	return func(s *Server) {
		if read > 0 {
			s.readTimeout = read
		}
		if write > 0 {
			s.writeTimeout = write
		}
		if idle > 0 {
			s.idleTimeout = idle
		}
	}
}

// New builds a server listening on host:port.
func New(host string, port int, opts ...Option) *Server {
	s := &Server{
		host:         host,
		port:         port,
		logger:       zap.NewNop(),
		origins:      []string{"*"},
		readTimeout:  30 * time.Second,
		writeTimeout: 5 * time.Minute,
		idleTimeout:  120 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	s.http = &http.Server{
		Addr:              net.JoinHostPort(host, fmt.Sprintf("%d", port)),
		Handler:           s.router,
		ReadTimeout:       s.readTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.writeTimeout,
		IdleTimeout:       s.idleTimeout,
	}
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.AccessLog(s.logger))
	r.Use(middleware.ErrorHandler)
	r.Use(middleware.CORS(s.origins))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		apperrors.RespondWithError(w, r, apperrors.New(http.StatusNotFound, apperrors.CodeNotFound, "Resource not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		apperrors.RespondWithError(w, r, apperrors.New(http.StatusMethodNotAllowed, apperrors.CodeMethodNotAllowed, "Method not allowed"))
	})

	r.Get("/", handlers.Index)
	r.Get("/health", handlers.HealthHandler)
	r.Get("/health/live", handlers.LivenessHandler)
	r.Get("/health/ready", handlers.ReadinessHandler)
	r.Get("/health/startup", handlers.StartupHandler)
	r.Get("/version", handlers.VersionHandler)

	api := handlers.NewAPI(s.jobs, s.shares, s.logger, handlers.WithAllowedOrigins(s.origins))
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", handlers.APIHealth)
		r.Get("/share/{shareID}", api.Share)
		if s.jobs == nil {
			return
		}
		r.Post("/generate", api.Generate)
		r.Get("/status/{jobID}", api.Status)
		r.Get("/audio/{jobID}", api.Audio)
		r.Get("/jobs", api.Jobs)
		r.Get("/ws/jobs/{jobID}", api.Watch)
	})

	if s.media != nil {
		r.Get("/media/{key}", handlers.MediaHandler(s.media, nil))
	}
	return r
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Port returns the configured port.
func (s *Server) Port() int {
	return s.port
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.http.Addr
}

// Start serves until Shutdown is called. It returns nil after a graceful
// shutdown.
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for active requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
