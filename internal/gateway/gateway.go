// Package gateway implements the generic submit-and-poll adapter over an
// external generation provider (spec §4.7). A single Gateway type is
// parameterized per provider instance; callers construct one per endpoint
// rather than subclassing.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/sony/gobreaker"

	"github.com/mediaqueue/jobqueue/internal/domain"
)

// Status is the normalized tri-state a provider's status vocabulary maps
// onto.
type Status int

const (
	StatusInProgress Status = iota
	StatusSuccess
	StatusFailure
)

// Config parameterizes one provider instance.
type Config struct {
	Provider    string
	BaseURL     string
	SubmitPath  string
	StatusPath  string // formatted with the provider task id via fmt.Sprintf
	ResultPath  string // formatted with the provider task id via fmt.Sprintf
	AuthHeader  string
	AuthValue   string
	MaxRetries  uint64
	BackoffBase time.Duration
	Jitter      time.Duration
	PollInterval time.Duration

	// NormalizeStatus maps a provider's raw status payload onto the
	// normalized tri-state. Required.
	NormalizeStatus func(body []byte) (Status, string, error)
}

const (
	defaultMaxRetries  = 5
	defaultBackoffBase = 2 * time.Second
	defaultJitter      = 1 * time.Second
	defaultPollInterval = 5 * time.Second
)

// Gateway is a submit-and-poll HTTP client for one provider, wrapped in a
// circuit breaker so a provider in sustained failure stops being hammered
// by every job's retry loop.
type Gateway struct {
	cfg     Config
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[any]
}

func New(cfg Config, client *http.Client) *Gateway {
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.BackoffBase == 0 {
		cfg.BackoffBase = defaultBackoffBase
	}
	if cfg.Jitter == 0 {
		cfg.Jitter = defaultJitter
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if client == nil {
		client = http.DefaultClient
	}

	breaker := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        cfg.Provider,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 10 && counts.ConsecutiveFailures >= 6
		},
	})

	return &Gateway{cfg: cfg, client: client, breaker: breaker}
}

// Submit POSTs payload to the submit path and returns the provider task id.
func (g *Gateway) Submit(ctx context.Context, payload any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("gateway %s: marshal submit payload: %w", g.cfg.Provider, err)
	}

	result, err := g.doWithRetry(ctx, func(ctx context.Context) (map[string]any, error) {
		return g.doJSON(ctx, http.MethodPost, g.cfg.BaseURL+g.cfg.SubmitPath, body)
	})
	if err != nil {
		return "", err
	}

	taskID, ok := findString(result, []string{"task_id", "id", "provider_task_id"})
	if !ok {
		return "", &domain.GatewayError{Provider: g.cfg.Provider, Message: "submit response carried no task id"}
	}
	return taskID, nil
}

// PollUntilComplete repeatedly polls the status path until the job reaches
// a terminal state or totalTimeout elapses, then fetches and extracts the
// output URL from the result path.
func (g *Gateway) PollUntilComplete(ctx context.Context, taskID string, totalTimeout time.Duration) (string, error) {
	deadline := time.Now().Add(totalTimeout)
	statusURL := g.cfg.BaseURL + fmt.Sprintf(g.cfg.StatusPath, taskID)

	for {
		if time.Now().After(deadline) {
			return "", &domain.GatewayError{Provider: g.cfg.Provider, Message: "poll exceeded total timeout"}
		}

		raw, err := g.doWithRetryRaw(ctx, func(ctx context.Context) ([]byte, error) {
			return g.doRaw(ctx, http.MethodGet, statusURL, nil)
		})
		if err != nil {
			return "", err
		}

		status, msg, err := g.cfg.NormalizeStatus(raw)
		if err != nil {
			return "", &domain.GatewayError{Provider: g.cfg.Provider, Message: fmt.Sprintf("normalize status: %v", err)}
		}

		switch status {
		case StatusSuccess:
			return g.fetchResult(ctx, taskID)
		case StatusFailure:
			return "", &domain.GatewayError{Provider: g.cfg.Provider, Message: msg}
		case StatusInProgress:
			// fall through to sleep and poll again
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(g.cfg.PollInterval):
		}
	}
}

func (g *Gateway) fetchResult(ctx context.Context, taskID string) (string, error) {
	resultURL := g.cfg.BaseURL + fmt.Sprintf(g.cfg.ResultPath, taskID)
	result, err := g.doWithRetry(ctx, func(ctx context.Context) (map[string]any, error) {
		return g.doJSON(ctx, http.MethodGet, resultURL, nil)
	})
	if err != nil {
		return "", err
	}

	if url, ok := findString(result, []string{"output_url", "url", "result_url"}); ok {
		return url, nil
	}
	if url, ok := searchForURL(result); ok {
		return url, nil
	}
	return "", &domain.GatewayError{Provider: g.cfg.Provider, Message: "result response carried no recognizable output URL"}
}

// CallSync performs a single retried, circuit-broken POST to the submit
// path and returns the decoded JSON response body directly, for providers
// that answer synchronously (e.g. validation checks) rather than handing
// back a task id to poll. Callers interpret the response shape themselves.
func (g *Gateway) CallSync(ctx context.Context, payload any) (map[string]any, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("gateway %s: marshal request payload: %w", g.cfg.Provider, err)
	}
	return g.doWithRetry(ctx, func(ctx context.Context) (map[string]any, error) {
		return g.doJSON(ctx, http.MethodPost, g.cfg.BaseURL+g.cfg.SubmitPath, body)
	})
}

// doWithRetry runs fn under the exponential-backoff-with-jitter retry
// policy (BASE × 2^attempt + uniform(0, JITTER), up to MaxRetries) and the
// circuit breaker, decoding the response body as a JSON object.
func (g *Gateway) doWithRetry(ctx context.Context, fn func(context.Context) (map[string]any, error)) (map[string]any, error) {
	backoff := g.jitteredBackoff()

	var result map[string]any
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		breakerResult, err := g.breaker.Execute(func() (any, error) {
			return fn(ctx)
		})
		if err != nil {
			if isRetryable(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		result = breakerResult.(map[string]any)
		return nil
	})
	if err != nil {
		return nil, toGatewayError(g.cfg.Provider, err)
	}
	return result, nil
}

func (g *Gateway) doWithRetryRaw(ctx context.Context, fn func(context.Context) ([]byte, error)) ([]byte, error) {
	backoff := g.jitteredBackoff()

	var result []byte
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		breakerResult, err := g.breaker.Execute(func() (any, error) {
			return fn(ctx)
		})
		if err != nil {
			if isRetryable(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		result = breakerResult.([]byte)
		return nil
	})
	if err != nil {
		return nil, toGatewayError(g.cfg.Provider, err)
	}
	return result, nil
}

func (g *Gateway) jitteredBackoff() retry.Backoff {
	base := retry.NewExponential(g.cfg.BackoffBase)
	base = retry.WithMaxRetries(g.cfg.MaxRetries, base)
	jitter := g.cfg.Jitter
	return retry.BackoffFunc(func() (time.Duration, bool) {
		val, stop := base.Next()
		if stop {
			return 0, true
		}
		if jitter > 0 {
			val += time.Duration(rand.Int64N(int64(jitter)))
		}
		return val, false
	})
}

func (g *Gateway) doJSON(ctx context.Context, method, url string, body []byte) (map[string]any, error) {
	raw, err := g.doRaw(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("gateway %s: decode response: %w", g.cfg.Provider, err)
	}
	return out, nil
}

func (g *Gateway) doRaw(ctx context.Context, method, url string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("gateway %s: build request: %w", g.cfg.Provider, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if g.cfg.AuthHeader != "" {
		req.Header.Set(g.cfg.AuthHeader, g.cfg.AuthValue)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, &retryableTransportError{err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &retryableTransportError{err: err}
	}

	if resp.StatusCode >= 400 {
		gwErr := &domain.GatewayError{
			Provider:   g.cfg.Provider,
			StatusCode: resp.StatusCode,
			Message:    string(respBody),
			Retryable:  isRetryableStatus(resp.StatusCode),
		}
		if gwErr.Retryable {
			if retryAfter := retryAfterDelay(resp.Header.Get("Retry-After")); retryAfter > 0 {
				time.Sleep(retryAfter)
			}
		}
		return nil, gwErr
	}
	return respBody, nil
}

type retryableTransportError struct{ err error }

func (e *retryableTransportError) Error() string { return e.err.Error() }
func (e *retryableTransportError) Unwrap() error { return e.err }

func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

func isRetryable(err error) bool {
	var transportErr *retryableTransportError
	if asRetryableTransport(err, &transportErr) {
		return true
	}
	var gwErr *domain.GatewayError
	if asGatewayError(err, &gwErr) {
		return gwErr.Retryable
	}
	return false
}

func asRetryableTransport(err error, target **retryableTransportError) bool {
	if e, ok := err.(*retryableTransportError); ok {
		*target = e
		return true
	}
	return false
}

func asGatewayError(err error, target **domain.GatewayError) bool {
	if e, ok := err.(*domain.GatewayError); ok {
		*target = e
		return true
	}
	return false
}

func toGatewayError(provider string, err error) error {
	var gwErr *domain.GatewayError
	if asGatewayError(err, &gwErr) {
		return gwErr
	}
	return &domain.GatewayError{Provider: provider, Message: err.Error()}
}

func retryAfterDelay(header string) time.Duration {
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil {
		return time.Duration(seconds) * time.Second
	}
	return 0
}

// NormalizeGenericStatus is the default NormalizeStatus for a provider
// whose status payload looks like {"status": "...", "error": "..."}.
// Providers with a genuinely different vocabulary get their own
// NormalizeStatus instead of this one.
func NormalizeGenericStatus(body []byte) (Status, string, error) {
	var parsed struct {
		Status string `json:"status"`
		Error  string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return StatusInProgress, "", fmt.Errorf("decode status response: %w", err)
	}

	msg := parsed.Error
	if msg == "" {
		msg = parsed.Message
	}

	switch parsed.Status {
	case "succeeded", "completed", "success", "done":
		return StatusSuccess, msg, nil
	case "failed", "error", "cancelled", "canceled":
		return StatusFailure, msg, nil
	default:
		return StatusInProgress, msg, nil
	}
}

var knownURLKeys = []string{"output_url", "url", "result_url", "video_url", "image_url", "asset_url"}

func findString(body map[string]any, keys []string) (string, bool) {
	for _, key := range keys {
		if v, ok := body[key]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s, true
			}
		}
	}
	return "", false
}

// searchForURL recursively walks body looking for the first string value
// that looks like a URL, tolerating provider response-shape drift that the
// known-key lookups miss. Traversal visits map keys in sorted order so the
// same payload always yields the same match regardless of Go's randomized
// map iteration, and a candidate with a recognized media extension always
// wins over a bare http(s) string even if the bare one is visited first.
func searchForURL(body map[string]any) (string, bool) {
	for _, key := range knownURLKeys {
		if v, ok := body[key]; ok {
			if s, ok := v.(string); ok && looksLikeURL(s) {
				return s, true
			}
		}
	}

	var withExt string
	if walkStrings(body, func(s string) bool {
		if looksLikeURL(s) && hasKnownExtension(s) {
			withExt = s
			return true
		}
		return false
	}) {
		return withExt, true
	}

	var bare string
	if walkStrings(body, func(s string) bool {
		if looksLikeURL(s) {
			bare = s
			return true
		}
		return false
	}) {
		return bare, true
	}
	return "", false
}

// walkStrings visits every string leaf under body, depth-first in sorted
// key order, stopping as soon as visit reports a match.
func walkStrings(body map[string]any, visit func(string) bool) bool {
	keys := make([]string, 0, len(body))
	for k := range body {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		switch val := body[k].(type) {
		case string:
			if visit(val) {
				return true
			}
		case map[string]any:
			if walkStrings(val, visit) {
				return true
			}
		case []any:
			for _, item := range val {
				switch nested := item.(type) {
				case map[string]any:
					if walkStrings(nested, visit) {
						return true
					}
				case string:
					if visit(nested) {
						return true
					}
				}
			}
		}
	}
	return false
}

func looksLikeURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// hasKnownExtension reports whether s ends (ignoring a trailing query
// string, common on signed URLs) in one of the media extensions this
// service expects a provider to return.
func hasKnownExtension(s string) bool {
	path := s
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	for _, ext := range []string{".png", ".jpg", ".jpeg", ".mp4", ".webp", ".gif", ".mov"} {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}
	return false
}
