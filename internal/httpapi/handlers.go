package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/mediaqueue/jobqueue/internal/admission"
	"github.com/mediaqueue/jobqueue/internal/autoscale"
	"github.com/mediaqueue/jobqueue/internal/domain"
	"github.com/mediaqueue/jobqueue/internal/httpapi/response"
)

type handlers struct {
	deps Deps
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, map[string]any{
		"status": "ok",
	})
}

func (h *handlers) metricsSnapshot(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, h.deps.Metrics.Snapshot())
}

func (h *handlers) autoscaleDecision(w http.ResponseWriter, r *http.Request) {
	if h.deps.Queue == nil {
		response.JSON(w, http.StatusOK, autoscale.Decide(h.deps.Autoscale, 0, 0))
		return
	}
	ctx := r.Context()
	pending, err := h.deps.Queue.QueueLength(ctx)
	if err != nil {
		response.InternalError(w, "failed to read queue length")
		return
	}
	inFlight, err := h.deps.Queue.InFlightLength(ctx)
	if err != nil {
		response.InternalError(w, "failed to read in-flight length")
		return
	}
	response.JSON(w, http.StatusOK, autoscale.Decide(h.deps.Autoscale, int(pending), int(inFlight)))
}

func (h *handlers) queueStatus(w http.ResponseWriter, r *http.Request) {
	jobID := r.URL.Query().Get("job_id")
	if jobID == "" {
		response.BadRequest(w, "job_id query parameter is required")
		return
	}
	if h.deps.Queue == nil {
		response.NotFound(w, "queue status is unavailable in fallback mode")
		return
	}

	ctx := r.Context()
	status, retries, ok, err := h.deps.Queue.Status(ctx, jobID)
	if err != nil {
		response.InternalError(w, "failed to read job status")
		return
	}
	if !ok {
		response.NotFound(w, "unknown job_id")
		return
	}

	position, err := h.deps.Queue.Position(ctx, jobID)
	if err != nil {
		position = 0
	}
	wait, err := h.deps.Queue.EstimateWait(ctx, jobID)
	if err != nil {
		wait = 0
	}
	queueLen, err := h.deps.Queue.QueueLength(ctx)
	if err != nil {
		queueLen = 0
	}

	response.JSON(w, http.StatusOK, map[string]any{
		"job_id":                 jobID,
		"status":                 status,
		"retry_count":            retries,
		"position":               position,
		"estimated_wait_seconds": int(wait.Seconds()),
		"queue_length":           queueLen,
	})
}

// webhookGenerate admits a generate job (image/video generation, spec
// §4.8 Shape B).
func (h *handlers) webhookGenerate(w http.ResponseWriter, r *http.Request) {
	h.admitJSON(w, r, domain.KindGenerate)
}

// webhookFashionGenerate admits the full fashion-composition pipeline
// (spec §4.8 Shape A).
func (h *handlers) webhookFashionGenerate(w http.ResponseWriter, r *http.Request) {
	h.admitJSON(w, r, domain.KindFashionGenerate)
}

// webhookExtend admits a video-extension job (Shape B).
func (h *handlers) webhookExtend(w http.ResponseWriter, r *http.Request) {
	h.admitJSON(w, r, domain.KindExtend)
}

// syncGatewayTimeout bounds how long a synchronous webhook handler blocks
// on a single provider round trip (submit + poll to completion) before
// giving up. The caller's HTTP connection is held open for up to this long.
const syncGatewayTimeout = 90 * time.Second

// webhookTryOn runs synchronously (spec §6): it calls the try-on provider
// directly and blocks on the full submit/poll round trip instead of going
// through AdmissionService/TaskQueue, so the response always carries the
// finished result rather than a queued acknowledgement.
func (h *handlers) webhookTryOn(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}

	principal := principalOf(r)
	if err := h.deps.Admission.CheckRateLimitOnly(r.Context(), principal); err != nil {
		writeAdmissionError(w, err)
		return
	}

	if h.deps.TryOn == nil {
		response.InternalError(w, "try-on provider not configured")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), syncGatewayTimeout)
	defer cancel()

	taskID, err := h.deps.TryOn.Submit(ctx, body)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	outputURL, err := h.deps.TryOn.PollUntilComplete(ctx, taskID, syncGatewayTimeout)
	if err != nil {
		writeGatewayError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, map[string]any{
		"status":     string(domain.StatusCompleted),
		"output_url": outputURL,
	})
}

// webhookValidateOnly backs /webhook/validate-identity and
// /webhook/validate-garment: rate-limited, then a single synchronous pass
// to a validation provider (spec §6) — never enqueued (spec §4.11, last
// bullet).
func (h *handlers) webhookValidateOnly(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	principal := principalOf(r)
	if err := h.deps.Admission.CheckRateLimitOnly(r.Context(), principal); err != nil {
		writeAdmissionError(w, err)
		return
	}

	if h.deps.Validation == nil {
		response.InternalError(w, "validation provider not configured")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), syncGatewayTimeout)
	defer cancel()

	result, err := h.deps.Validation.CallSync(ctx, body)
	if err != nil {
		writeGatewayError(w, err)
		return
	}

	valid, _ := result["valid"].(bool)
	reply := map[string]any{"valid": valid}
	if reason, ok := result["reason"].(string); ok && reason != "" {
		reply["reason"] = reason
	}
	response.JSON(w, http.StatusOK, reply)
}

func (h *handlers) admitJSON(w http.ResponseWriter, r *http.Request, kind domain.Kind) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}

	jobID := uuid.NewString()
	if raw, ok := body["job_id"].(string); ok && raw != "" {
		jobID = raw
	}

	job := newJob(jobID, principalOf(r), kind, domain.StatusQueued, body)

	result, err := h.deps.Admission.Admit(r.Context(), job)
	if err != nil {
		writeAdmissionError(w, err)
		return
	}
	response.JSON(w, http.StatusAccepted, result)
}

// newJob builds the domain.Job the admission path admits: Provenance holds
// the decoded body for the orchestrator's field readers, Payload holds the
// re-marshaled bytes so the queue's metadata hash can round-trip it back
// into a Job on dispatch (internal/queue.Queue.Lookup).
func newJob(id, principal string, kind domain.Kind, status domain.Status, body map[string]any) *domain.Job {
	payload, _ := json.Marshal(body)
	return &domain.Job{
		ID:         id,
		Principal:  principal,
		Kind:       kind,
		Status:     status,
		EnqueuedAt: time.Now(),
		Payload:    payload,
		Provenance: body,
	}
}

// principalOf extracts the caller identity rate-limiting is keyed on. The
// shared-secret scheme authenticates the calling worker, not an end user,
// so the principal is supplied by the caller itself (spec §4.11's
// rate-limiting key).
func principalOf(r *http.Request) string {
	if p := r.Header.Get("X-Principal"); p != "" {
		return p
	}
	return r.RemoteAddr
}

// writeGatewayError reports a failed synchronous provider call as a 502,
// or a 504 if the caller's own deadline was the cause.
func writeGatewayError(w http.ResponseWriter, err error) {
	if errors.Is(err, context.DeadlineExceeded) {
		response.GatewayTimeout(w, "provider did not respond in time")
		return
	}
	var gwErr *domain.GatewayError
	if errors.As(err, &gwErr) {
		response.BadGateway(w, gwErr.Message)
		return
	}
	response.BadGateway(w, "provider call failed")
}

func writeAdmissionError(w http.ResponseWriter, err error) {
	var rateErr *admission.ErrRateLimited
	switch {
	case errors.As(err, &rateErr):
		response.TooManyRequests(w, rateErr.RetryAfterSeconds)
	case errors.Is(err, admission.ErrSaturated):
		response.ServiceUnavailable(w, "concurrency limit reached, retry later")
	case errors.Is(err, admission.ErrUnauthenticated):
		response.Unauthorized(w, "invalid shared secret")
	default:
		response.InternalError(w, "admission failed")
	}
}
