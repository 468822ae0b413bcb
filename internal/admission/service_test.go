package admission

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/mediaqueue/jobqueue/internal/concurrency"
	"github.com/mediaqueue/jobqueue/internal/config"
	"github.com/mediaqueue/jobqueue/internal/domain"
	"github.com/mediaqueue/jobqueue/internal/metrics"
	"github.com/mediaqueue/jobqueue/internal/queue"
	"github.com/mediaqueue/jobqueue/internal/ratelimit"
	"github.com/mediaqueue/jobqueue/internal/store"
)

func testConfig(distributed bool) *config.Config {
	cfg := &config.Config{}
	cfg.RateLimit = config.RateLimit{DistributedMax: 5, FallbackMax: 3, WindowSeconds: 60, ConcurrencyLimit: 2}
	if distributed {
		cfg.RedisURL = "redis://test"
	}
	return cfg
}

func newRedisBackend(t *testing.T) (store.Store, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return store.NewRedisStore(client), client
}

func TestAdmit_DistributedModeEnqueues(t *testing.T) {
	backend, client := newRedisBackend(t)
	q := queue.New(backend, queue.Config{MaxRetries: 3, StaleTimeout: time.Minute, MetadataTTL: time.Hour})
	limiter := ratelimit.NewRedisLimiter(client)

	s := &Service{
		Config:  testConfig(true),
		Limiter: limiter,
		Metrics: metrics.NewRegistry(),
		Queue:   q,
	}

	job := &domain.Job{ID: "J1", Principal: "u1", Kind: domain.KindGenerate}
	result, err := s.Admit(context.Background(), job)
	require.NoError(t, err)
	require.True(t, result.Enqueued)
	require.Equal(t, int64(1), result.Position)
}

func TestAdmit_FallbackModeRunsInline(t *testing.T) {
	var ran sync.Map
	inline := inlineRunnerFunc(func(ctx context.Context, job *domain.Job) error {
		ran.Store(job.ID, true)
		return nil
	})

	_, client := newRedisBackend(t)
	limiter := ratelimit.NewRedisLimiter(client)

	s := &Service{
		Config:  testConfig(false),
		Limiter: limiter,
		Metrics: metrics.NewRegistry(),
		Guard:   concurrency.NewGuard(2),
		Inline:  inline,
	}

	job := &domain.Job{ID: "J2", Principal: "u1", Kind: domain.KindGenerate}
	result, err := s.Admit(context.Background(), job)
	require.NoError(t, err)
	require.False(t, result.Enqueued)
	require.Equal(t, domain.StatusProcessing, result.Status)

	require.Eventually(t, func() bool {
		_, ok := ran.Load("J2")
		return ok
	}, time.Second, time.Millisecond)
}

func TestAdmit_FallbackModeSaturatedReturns503(t *testing.T) {
	block := make(chan struct{})
	inline := inlineRunnerFunc(func(ctx context.Context, job *domain.Job) error {
		<-block
		return nil
	})

	_, client := newRedisBackend(t)
	limiter := ratelimit.NewRedisLimiter(client)

	guard := concurrency.NewGuard(1)
	s := &Service{
		Config:  testConfig(false),
		Limiter: limiter,
		Metrics: metrics.NewRegistry(),
		Guard:   guard,
		Inline:  inline,
	}
	defer close(block)

	_, err := s.Admit(context.Background(), &domain.Job{ID: "J3", Principal: "u1", Kind: domain.KindGenerate})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return guard.InUse() == 1 }, time.Second, time.Millisecond)

	_, err = s.Admit(context.Background(), &domain.Job{ID: "J4", Principal: "u1", Kind: domain.KindGenerate})
	require.ErrorIs(t, err, ErrSaturated)
}

func TestAdmit_RateLimitedReturnsRetryAfter(t *testing.T) {
	backend, client := newRedisBackend(t)
	limiter := ratelimit.NewRedisLimiter(client)
	cfg := testConfig(true)
	cfg.RateLimit.DistributedMax = 1

	q := queue.New(backend, queue.Config{MaxRetries: 3, StaleTimeout: time.Minute, MetadataTTL: time.Hour})
	s := &Service{Config: cfg, Limiter: limiter, Metrics: metrics.NewRegistry(), Queue: q}

	_, err := s.Admit(context.Background(), &domain.Job{ID: "J5", Principal: "u2", Kind: domain.KindGenerate})
	require.NoError(t, err)

	_, err = s.Admit(context.Background(), &domain.Job{ID: "J6", Principal: "u2", Kind: domain.KindGenerate})
	require.Error(t, err)

	var rateErr *ErrRateLimited
	require.ErrorAs(t, err, &rateErr)
	require.Greater(t, rateErr.RetryAfterSeconds, 0)
}

func TestCheckSharedSecret(t *testing.T) {
	require.True(t, CheckSharedSecret("s3cret", "s3cret"))
	require.False(t, CheckSharedSecret("s3cret", "wrong"))
	require.False(t, CheckSharedSecret("", ""))
}

func TestAuthenticate_SkipsWhenNotRequired(t *testing.T) {
	s := &Service{Config: &config.Config{Environment: "development"}}
	require.NoError(t, s.Authenticate(context.Background(), ""))
}

func TestAuthenticate_RejectsWrongSecret(t *testing.T) {
	cfg := &config.Config{Environment: "production", SharedSecret: "correct-secret"}
	s := &Service{Config: cfg}
	require.ErrorIs(t, s.Authenticate(context.Background(), "wrong"), ErrUnauthenticated)
	require.NoError(t, s.Authenticate(context.Background(), "correct-secret"))
}

type inlineRunnerFunc func(ctx context.Context, job *domain.Job) error

func (f inlineRunnerFunc) Run(ctx context.Context, job *domain.Job) error { return f(ctx, job) }
