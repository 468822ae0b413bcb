package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver registration

	"github.com/mediaqueue/jobqueue/internal/admission"
	"github.com/mediaqueue/jobqueue/internal/autoscale"
	"github.com/mediaqueue/jobqueue/internal/concurrency"
	"github.com/mediaqueue/jobqueue/internal/config"
	"github.com/mediaqueue/jobqueue/internal/dispatcher"
	"github.com/mediaqueue/jobqueue/internal/gateway"
	"github.com/mediaqueue/jobqueue/internal/httpapi"
	"github.com/mediaqueue/jobqueue/internal/jobstore"
	"github.com/mediaqueue/jobqueue/internal/metrics"
	"github.com/mediaqueue/jobqueue/internal/objectstore"
	"github.com/mediaqueue/jobqueue/internal/observability"
	"github.com/mediaqueue/jobqueue/internal/orchestrator"
	"github.com/mediaqueue/jobqueue/internal/queue"
	"github.com/mediaqueue/jobqueue/internal/ratelimit"
	"github.com/mediaqueue/jobqueue/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to run: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	lp, logger, err := observability.InitLogger(ctx, cfg.Observability)
	if err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}
	defer shutdownWithTimeout(lp.Shutdown)
	slog.SetDefault(logger)

	tp, err := observability.InitTracerProvider(ctx, cfg.Observability)
	if err != nil {
		return fmt.Errorf("failed to init tracer provider: %w", err)
	}
	defer shutdownWithTimeout(tp.Shutdown)

	mp, err := observability.InitMeterProvider(ctx, cfg.Observability)
	if err != nil {
		return fmt.Errorf("failed to init meter provider: %w", err)
	}
	defer shutdownWithTimeout(mp.Shutdown)

	slog.InfoContext(ctx, "starting mediaqueue jobqueue service", "env", cfg.Environment)

	if cfg.Postgres.URL != "" {
		if err := jobstore.Migrate(ctx, cfg.Postgres.URL); err != nil {
			return fmt.Errorf("failed to run job store migrations: %w", err)
		}
	}

	metricsRegistry := metrics.NewRegistry()
	gateways := buildGateways(cfg.Gateway)
	validationGateway := buildValidationGateway(cfg.Gateway)
	jobStore := jobStoreFor(cfg)
	orch := orchestrator.New(jobStore, gateways, metricsRegistry)
	if objects, err := objectstore.New(ctx, cfg.ObjectStore.Type, cfg.ObjectStore.Bucket, cfg.ObjectStore.FSDir); err != nil {
		slog.ErrorContext(ctx, "failed to init object store, artifact archiving disabled", "error", err)
	} else {
		orch.Objects = objects
	}

	admissionSvc := &admission.Service{
		Config:  cfg,
		Metrics: metricsRegistry,
		Jobs:    jobStore,
	}

	var dispatch *dispatcher.Dispatcher
	var taskQueue *queue.Queue

	if cfg.DistributedMode() {
		redisClient := redis.NewClient(&redis.Options{Addr: redisAddr(cfg.RedisURL)})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to reach redis: %w", err)
		}

		backend := store.NewRedisStore(redisClient)
		taskQueue = queue.New(backend, queue.Config{
			MaxRetries:   cfg.Queue.MaxRetries,
			StaleTimeout: time.Duration(cfg.Queue.StaleTimeoutSeconds) * time.Second,
			MetadataTTL:  time.Duration(cfg.Queue.MetadataTTLSeconds) * time.Second,
		})
		admissionSvc.Limiter = ratelimit.NewRedisLimiter(redisClient)
		admissionSvc.Queue = taskQueue

		dispatch = dispatcher.New(taskQueue, orch, taskQueue, metricsRegistry)
		go dispatch.Run(ctx)
	} else {
		admissionSvc.Limiter = ratelimit.NewMemoryLimiter()
		admissionSvc.Guard = concurrency.NewGuard(cfg.RateLimit.ConcurrencyLimit)
		admissionSvc.Inline = orch
	}

	httpServer := httpapi.NewServer(httpapi.Deps{
		Admission:  admissionSvc,
		Metrics:    metricsRegistry,
		Queue:      taskQueue,
		TryOn:      gateways.TryOn,
		Validation: validationGateway,
		Autoscale: autoscale.Config{
			Min:              cfg.Autoscale.Min,
			Max:              cfg.Autoscale.Max,
			TargetPerReplica: cfg.Autoscale.TargetPerReplica,
		},
	}, httpapi.ServerConfig{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	})

	errResult := make(chan error, 1)
	go func() {
		if err := httpServer.Start(); err != nil && err != http.ErrServerClosed {
			errResult <- fmt.Errorf("failed to serve http: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		slog.InfoContext(ctx, "shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errResult:
		return err
	}
}

// jobStoreFor returns a jobstore.Store backed by Postgres when configured,
// or nil when the service runs without durable job history (fallback-only
// deployments with neither Redis nor Postgres configured, e.g. local dev).
func jobStoreFor(cfg *config.Config) jobstore.Store {
	if cfg.Postgres.URL == "" {
		return nil
	}
	db, err := sql.Open("pgx", cfg.Postgres.URL)
	if err != nil {
		slog.Error("failed to open postgres connection, job history disabled", "error", err)
		return nil
	}
	return jobstore.NewPostgresStore(db)
}

// buildGateways constructs one ProviderGateway per configured provider
// endpoint. A provider with no BaseURL is left nil; orchestrator stages
// report a clear configuration error rather than calling a zero-value
// gateway.
func buildGateways(cfg config.Gateway) orchestrator.Gateways {
	client := &http.Client{Timeout: 60 * time.Second}
	base := func(provider, baseURL, authValue string) gateway.Config {
		return gateway.Config{
			Provider:     provider,
			BaseURL:      baseURL,
			SubmitPath:   "/submit",
			StatusPath:   "/status/%s",
			ResultPath:   "/result/%s",
			AuthHeader:   "Authorization",
			AuthValue:    "Bearer " + authValue,
			MaxRetries:   uint64(cfg.MaxRetries),
			BackoffBase:  time.Duration(cfg.BackoffBaseSeconds * float64(time.Second)),
			Jitter:       time.Duration(cfg.JitterSeconds * float64(time.Second)),
			NormalizeStatus: gateway.NormalizeGenericStatus,
		}
	}

	var gws orchestrator.Gateways
	if cfg.TryOnBaseURL != "" {
		gws.TryOn = gateway.New(base("tryon", cfg.TryOnBaseURL, cfg.TryOnAPIKey), client)
	}
	if cfg.CompositionBaseURL != "" {
		gws.CompositionPrimary = gateway.New(base("composition", cfg.CompositionBaseURL, cfg.CompositionAPIKey), client)
	}
	if cfg.CompositionFallbackBaseURL != "" {
		gws.CompositionFallback = gateway.New(base("composition-fallback", cfg.CompositionFallbackBaseURL, cfg.CompositionFallbackAPIKey), client)
	}
	if cfg.VideoBaseURL != "" {
		gws.Video = gateway.New(base("video", cfg.VideoBaseURL, cfg.VideoAPIKey), client)
	}
	if cfg.GenerateBaseURL != "" {
		gws.Generate = gateway.New(base("generate", cfg.GenerateBaseURL, cfg.GenerateAPIKey), client)
	}
	return gws
}

// buildValidationGateway constructs the synchronous validation-provider
// gateway backing /webhook/validate-identity and /webhook/validate-garment
// (spec §6). Unlike the Gateways above it isn't part of the pipeline
// orchestrator: the HTTP handler calls it directly and once, with no
// submit/poll cycle.
func buildValidationGateway(cfg config.Gateway) *gateway.Gateway {
	if cfg.ValidationBaseURL == "" {
		return nil
	}
	client := &http.Client{Timeout: 60 * time.Second}
	return gateway.New(gateway.Config{
		Provider:    "validation",
		BaseURL:     cfg.ValidationBaseURL,
		SubmitPath:  "/validate",
		AuthHeader:  "Authorization",
		AuthValue:   "Bearer " + cfg.ValidationAPIKey,
		MaxRetries:  uint64(cfg.MaxRetries),
		BackoffBase: time.Duration(cfg.BackoffBaseSeconds * float64(time.Second)),
		Jitter:      time.Duration(cfg.JitterSeconds * float64(time.Second)),
	}, client)
}

// redisAddr strips a redis:// scheme if present; go-redis's simple Options
// form wants host:port.
func redisAddr(rawURL string) string {
	opt, err := redis.ParseURL(rawURL)
	if err != nil {
		return rawURL
	}
	return opt.Addr
}

func shutdownWithTimeout(shutdown func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "shutdown error", "error", err)
	}
}
