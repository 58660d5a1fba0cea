package server

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"modeldrop/internal/config"
	"modeldrop/internal/live"
	"modeldrop/internal/logging"
	"modeldrop/internal/storage"
)

type Config struct {
	Addr  string // e.g. ":8080"
	Build config.BuildInfo

	Store storage.Store
	Hub   *live.Hub
	// Events receives upload notifications. Defaults to Hub; set it to a
	// relay when several instances share one audience.
	Events live.Publisher

	KeyPrefix       string
	KeyStrategy     string
	PublicBaseURL   string
	SignURLs        bool
	SignedURLExpiry time.Duration
	StorageTimeout  time.Duration
	MaxUploadBytes  int64
	AllowedOrigins  []string
	RateLimit       int // mutating requests per minute per IP, 0 disables

	Registry *prometheus.Registry
	Now      func() time.Time
}

// FromConfig maps the loaded process configuration onto server settings.
// Dependencies (store, hub, events) are left for the caller to fill in.
func FromConfig(c config.Config) Config {
	return Config{
		Addr:            c.Addr,
		Build:           c.Build,
		KeyPrefix:       c.KeyPrefix,
		KeyStrategy:     c.KeyStrategy,
		PublicBaseURL:   c.PublicBaseURL,
		SignURLs:        c.SignURLs,
		SignedURLExpiry: c.SignedURLExpiry,
		StorageTimeout:  c.StorageTimeout,
		MaxUploadBytes:  c.MaxUploadBytes,
		AllowedOrigins:  c.AllowedOrigins,
		RateLimit:       c.RateLimit,
	}
}

type Server struct {
	cfg        Config
	httpServer *http.Server
	metrics    *Metrics
	limiter    *rateLimiter
}

var errNoStore = errors.New("server: Store is required")

func New(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, errNoStore
	}
	if cfg.Hub == nil {
		cfg.Hub = live.NewHub(live.WithOriginCheck(OriginChecker(cfg.AllowedOrigins)))
	}
	if cfg.Events == nil {
		cfg.Events = cfg.Hub
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = config.DefaultMaxUploadBytes
	}
	if cfg.StorageTimeout <= 0 {
		cfg.StorageTimeout = config.DefaultStorageTimeout
	}
	if cfg.SignedURLExpiry <= 0 {
		cfg.SignedURLExpiry = config.DefaultSignedURLExpiry
	}
	if cfg.KeyStrategy == "" {
		cfg.KeyStrategy = config.KeyStrategyOriginal
	}

	s := &Server{cfg: cfg}
	s.metrics = NewMetrics(cfg.Registry, cfg.Build, cfg.Hub, cfg.Store)
	if cfg.RateLimit > 0 {
		s.limiter = newRateLimiter(cfg.RateLimit, time.Minute, cfg.Now)
	}

	// net/http's own errors (accept failures, bad TLS handshakes) go to the
	// process logger instead of stderr.
	errLog := logging.Logger().With().Str("component", "http").Logger()
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ErrorLog:          log.New(&errLog, "", 0),
	}
	return s, nil
}

func (s *Server) routes() http.Handler {
	cfg := s.cfg
	r := chi.NewRouter()

	// requestID -> logging -> recoverer -> headers -> cors -> routes
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.metrics))
	r.Use(middleware.Recoverer)
	r.Use(securityHeadersMiddleware)
	r.Use(corsMiddleware(cfg.AllowedOrigins))

	r.NotFound(notFound)
	r.MethodNotAllowed(methodNotAllowed)

	r.Get("/health", s.HandleHealth)
	r.Get("/live", s.HandleLive)
	r.Get("/ready", s.HandleReady)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	r.Method(http.MethodGet, "/ws", cfg.Hub)

	limit := func(next http.Handler) http.Handler { return next }
	if s.limiter != nil {
		limit = s.limiter.middleware
	}

	list := cfg.listHandler(cfg.Store, s.metrics)
	r.With(limit).Method(http.MethodPost, "/api/upload", cfg.uploadHandler(cfg.Store, cfg.Events, s.metrics))
	r.Method(http.MethodGet, "/api/load", list)
	r.Method(http.MethodGet, "/api/models", list)

	r.With(limit).Method(http.MethodDelete, "/api/uploads/{filename}", cfg.deleteHandler(cfg.Store, s.metrics))
	r.Method(http.MethodGet, "/api/uploads/{filename}", cfg.signedURLHandler(cfg.Store, s.metrics))
	for _, p := range []string{"/api/uploads", "/api/uploads/"} {
		r.Delete(p, missingFilename)
		r.Get(p, missingFilename)
	}

	return r
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	return s.httpServer.Serve(ln)
}

// Shutdown closes every live connection, then drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.limiter != nil {
		s.limiter.stop()
	}
	hubErr := s.cfg.Hub.Close(ctx)
	return errors.Join(hubErr, s.httpServer.Shutdown(ctx))
}
