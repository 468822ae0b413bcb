// Package httpapi wires the chi router, request validation, shared-secret
// auth, and the handler set that implements the service's HTTP surface
// (spec §6): health/metrics/autoscale/queue-status GETs and the
// webhook/* POSTs that front AdmissionService.
package httpapi

import (
	"context"
	"embed"
	"log/slog"
	"net/http"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/mediaqueue/jobqueue/internal/admission"
	"github.com/mediaqueue/jobqueue/internal/autoscale"
	"github.com/mediaqueue/jobqueue/internal/gateway"
	"github.com/mediaqueue/jobqueue/internal/httpapi/middleware"
	"github.com/mediaqueue/jobqueue/internal/metrics"
	"github.com/mediaqueue/jobqueue/internal/queue"
)

//go:embed openapi/webhook.yaml
var openapiFS embed.FS

// Default configuration values for the HTTP server, carried over from the
// service this was adapted from.
const (
	DefaultHost              = ""
	DefaultPort              = "8081"
	DefaultReadTimeout       = 15 * time.Second
	DefaultWriteTimeout      = 15 * time.Second
	DefaultIdleTimeout       = 60 * time.Second
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultMaxHeaderBytes    = 1 << 20
	DefaultMaxBodyBytes      = 1 << 20
)

// ServerConfig holds the net/http.Server and router configuration.
type ServerConfig struct {
	Host              string
	Port              string
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	MaxHeaderBytes    int
	MaxBodyBytes      int64
}

func (cfg *ServerConfig) applyDefaults() {
	if cfg.Port == "" {
		cfg.Port = DefaultPort
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = DefaultReadHeaderTimeout
	}
	if cfg.MaxHeaderBytes <= 0 {
		cfg.MaxHeaderBytes = DefaultMaxHeaderBytes
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
}

// Deps is everything the handler set needs, collected here so main.go has
// one struct to populate rather than a long constructor argument list.
type Deps struct {
	Admission *admission.Service
	Metrics   *metrics.Registry
	Queue     *queue.Queue // nil in fallback mode; queue-status/autoscale degrade gracefully
	Autoscale autoscale.Config

	// TryOn and Validation back the handlers that spec §6 marks
	// synchronous: they are called directly from the HTTP handler and
	// never pass through AdmissionService/TaskQueue. Nil disables the
	// corresponding endpoint with a 500 rather than panicking.
	TryOn      *gateway.Gateway
	Validation *gateway.Gateway
}

// Server wraps the configured net/http.Server.
type Server struct {
	httpServer *http.Server
}

// NewServer builds the full router (validation, auth, handlers) and the
// underlying net/http.Server. Validation middleware is best-effort: a
// failure to parse the embedded OpenAPI document is logged and validation
// is skipped rather than preventing startup.
func NewServer(deps Deps, cfg ServerConfig) *Server {
	cfg.applyDefaults()

	h := &handlers{deps: deps}
	router := chi.NewRouter()

	router.Use(chimw.RequestID)
	router.Use(chimw.RealIP)
	router.Use(chimw.Logger)
	router.Use(chimw.Recoverer)
	router.Use(middleware.MaxBodyBytes(cfg.MaxBodyBytes))

	router.Get("/health", h.health)
	router.Get("/metrics", h.metricsSnapshot)
	router.Get("/autoscale", h.autoscaleDecision)
	router.Get("/queue/status", h.queueStatus)

	router.Route("/webhook", func(r chi.Router) {
		if validator := newValidationMiddleware(); validator != nil {
			r.Use(validator)
		}
		r.Use(middleware.RequireSharedSecret(deps.Admission))

		r.Post("/generate", h.webhookGenerate)
		r.Post("/fashion-generate", h.webhookFashionGenerate)
		r.Post("/try-on", h.webhookTryOn)
		r.Post("/extend", h.webhookExtend)
		r.Post("/validate-identity", h.webhookValidateOnly)
		r.Post("/validate-garment", h.webhookValidateOnly)
	})

	return &Server{httpServer: &http.Server{
		Addr:              cfg.Host + ":" + cfg.Port,
		Handler:           router,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}}
}

func newValidationMiddleware() func(http.Handler) http.Handler {
	raw, err := openapiFS.ReadFile("openapi/webhook.yaml")
	if err != nil {
		slog.Error("httpapi: failed to read embedded openapi document", "error", err)
		return nil
	}
	loader := openapi3.NewLoader()
	spec, err := loader.LoadFromData(raw)
	if err != nil {
		slog.Error("httpapi: failed to parse embedded openapi document", "error", err)
		return nil
	}
	if err := spec.Validate(context.Background()); err != nil {
		slog.Error("httpapi: embedded openapi document failed validation", "error", err)
		return nil
	}
	return middleware.NewValidator(spec, middleware.ValidationConfig{})
}

// Start runs the HTTP server until it errors or is shut down.
func (s *Server) Start() error {
	slog.Info("httpapi: starting server", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains outstanding requests.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("httpapi: shutting down")
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the router directly, for use in tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
