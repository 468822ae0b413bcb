package orchestrator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mediaqueue/jobqueue/internal/domain"
	"github.com/mediaqueue/jobqueue/internal/gateway"
	"github.com/mediaqueue/jobqueue/internal/jobstore"
	"github.com/mediaqueue/jobqueue/internal/objectstore"
)

type fakeJobStore struct {
	mu       sync.Mutex
	rows     map[string]*jobstore.Row
	angles   []string
	closeUps []string
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{rows: map[string]*jobstore.Row{}}
}

func (f *fakeJobStore) Create(ctx context.Context, job *domain.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.rows[job.ID]; exists {
		return nil
	}
	f.rows[job.ID] = &jobstore.Row{
		JobID:      job.ID,
		Principal:  job.Principal,
		Kind:       job.Kind,
		Status:     domain.StatusQueued,
		Provenance: map[string]any{},
	}
	return nil
}

func (f *fakeJobStore) Mark(ctx context.Context, jobID string, update jobstore.Update) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	if update.Status != "" {
		row.Status = update.Status
	}
	if update.CurrentStage != "" {
		row.CurrentStage = update.CurrentStage
	}
	if update.ProgressPercent != nil {
		row.ProgressPercent = *update.ProgressPercent
	}
	if update.ProviderTaskID != "" {
		row.ProviderTaskID = update.ProviderTaskID
	}
	if update.OutputURL != "" {
		row.OutputURL = update.OutputURL
	}
	if update.ErrorMessage != "" {
		row.ErrorMessage = update.ErrorMessage
	}
	for k, v := range update.ProvenancePatch {
		row.Provenance[k] = v
	}
	return nil
}

func (f *fakeJobStore) Get(ctx context.Context, jobID string) (*jobstore.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *row
	return &copied, nil
}

func (f *fakeJobStore) FetchAngleReferences(ctx context.Context, jobID string) ([]string, error) {
	return f.angles, nil
}

func (f *fakeJobStore) FetchFaceCloseUps(ctx context.Context, jobID string) ([]string, error) {
	return f.closeUps, nil
}

func jsonHandler(fn func(r *http.Request) (int, any)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, body := fn(r)
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}

func newTestTryOnGateway(baseURL string) *gateway.Gateway {
	return gateway.New(gateway.Config{
		Provider:     "tryon",
		BaseURL:      baseURL,
		SubmitPath:   "/submit",
		StatusPath:   "/status/%s",
		ResultPath:   "/result/%s",
		MaxRetries:   1,
		BackoffBase:  time.Millisecond,
		Jitter:       time.Millisecond,
		PollInterval: time.Millisecond,
		NormalizeStatus: func(body []byte) (gateway.Status, string, error) {
			var payload struct{ State string }
			_ = json.Unmarshal(body, &payload)
			if payload.State == "done" {
				return gateway.StatusSuccess, "", nil
			}
			return gateway.StatusInProgress, "", nil
		},
	}, http.DefaultClient)
}

func TestRunShapeB_Generate_HappyPath(t *testing.T) {
	srv := httptest.NewServer(jsonHandler(func(r *http.Request) (int, any) {
		switch {
		case r.URL.Path == "/submit":
			return http.StatusOK, map[string]string{"task_id": "gen-1"}
		case r.URL.Path == "/status/gen-1":
			return http.StatusOK, map[string]string{"state": "done"}
		case r.URL.Path == "/result/gen-1":
			return http.StatusOK, map[string]string{"output_url": "https://cdn.example.com/video.mp4"}
		default:
			return http.StatusNotFound, nil
		}
	}))
	defer srv.Close()

	gw := newTestTryOnGateway(srv.URL)
	orch := New(newFakeJobStore(), Gateways{Generate: gw}, nil)

	job := &domain.Job{
		ID: "job-1", Principal: "u1", Kind: domain.KindGenerate,
		Provenance: map[string]any{"prompt": "a sunset", "model": "v1"},
	}
	err := orch.Run(context.Background(), job)
	require.NoError(t, err)

	row, err := orch.Jobs.Get(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, domain.StatusCompleted, row.Status)
	require.Equal(t, "https://cdn.example.com/video.mp4", row.OutputURL)
}

func TestRunShapeB_ArchivesManifestOnCompletion(t *testing.T) {
	srv := httptest.NewServer(jsonHandler(func(r *http.Request) (int, any) {
		switch {
		case r.URL.Path == "/submit":
			return http.StatusOK, map[string]string{"task_id": "gen-2"}
		case r.URL.Path == "/status/gen-2":
			return http.StatusOK, map[string]string{"state": "done"}
		case r.URL.Path == "/result/gen-2":
			return http.StatusOK, map[string]string{"output_url": "https://cdn.example.com/clip.mp4"}
		default:
			return http.StatusNotFound, nil
		}
	}))
	defer srv.Close()

	objects, err := objectstore.NewFSStore(t.TempDir())
	require.NoError(t, err)

	orch := New(newFakeJobStore(), Gateways{Generate: newTestTryOnGateway(srv.URL)}, nil)
	orch.Objects = objects

	job := &domain.Job{ID: "job-archive", Principal: "u1", Kind: domain.KindGenerate}
	require.NoError(t, orch.Run(context.Background(), job))

	data, err := objects.Get(context.Background(), "jobs/job-archive/manifest.json")
	require.NoError(t, err)

	var manifest map[string]any
	require.NoError(t, json.Unmarshal(data, &manifest))
	require.Equal(t, "job-archive", manifest["job_id"])
	require.Equal(t, "https://cdn.example.com/clip.mp4", manifest["output_url"])
}

func TestRunShapeB_NoGatewayConfigured(t *testing.T) {
	orch := New(newFakeJobStore(), Gateways{}, nil)
	job := &domain.Job{ID: "job-2", Principal: "u1", Kind: domain.KindGenerate}

	err := orch.Run(context.Background(), job)
	require.Error(t, err)

	row, err := orch.Jobs.Get(context.Background(), "job-2")
	require.NoError(t, err)
	require.Equal(t, domain.StatusFailed, row.Status)
}

func TestRunShapeA_PartialAngleFailureStillSucceeds(t *testing.T) {
	var submitCount int
	tryonSrv := httptest.NewServer(jsonHandler(func(r *http.Request) (int, any) {
		switch {
		case r.URL.Path == "/submit":
			submitCount++
			return http.StatusOK, map[string]string{"task_id": "t-" + strconv.Itoa(submitCount)}
		case r.URL.Path == "/status/t-2":
			// second angle's tryon call fails permanently
			return http.StatusBadRequest, map[string]string{"error": "bad angle"}
		case len(r.URL.Path) > 8 && r.URL.Path[:8] == "/status/":
			return http.StatusOK, map[string]string{"state": "done"}
		case len(r.URL.Path) > 8 && r.URL.Path[:8] == "/result/":
			return http.StatusOK, map[string]string{"output_url": "https://cdn.example.com/on-model.png"}
		default:
			return http.StatusNotFound, nil
		}
	}))
	defer tryonSrv.Close()

	compositionSrv := httptest.NewServer(jsonHandler(func(r *http.Request) (int, any) {
		switch {
		case r.URL.Path == "/submit":
			return http.StatusOK, map[string]string{"task_id": "c-1"}
		case r.URL.Path == "/status/c-1":
			return http.StatusOK, map[string]string{"state": "done"}
		case r.URL.Path == "/result/c-1":
			return http.StatusOK, map[string]string{"output_url": "https://cdn.example.com/composite.png"}
		default:
			return http.StatusNotFound, nil
		}
	}))
	defer compositionSrv.Close()

	videoSrv := httptest.NewServer(jsonHandler(func(r *http.Request) (int, any) {
		switch {
		case r.URL.Path == "/submit":
			return http.StatusOK, map[string]string{"task_id": "v-1"}
		case r.URL.Path == "/status/v-1":
			return http.StatusOK, map[string]string{"state": "done"}
		case r.URL.Path == "/result/v-1":
			return http.StatusOK, map[string]string{"output_url": "https://cdn.example.com/final.mp4"}
		default:
			return http.StatusNotFound, nil
		}
	}))
	defer videoSrv.Close()

	js := newFakeJobStore()
	js.angles = []string{"front", "side", "back"}

	orch := New(js, Gateways{
		TryOn:              newTestTryOnGateway(tryonSrv.URL),
		CompositionPrimary: newTestTryOnGateway(compositionSrv.URL),
		Video:              newTestTryOnGateway(videoSrv.URL),
	}, nil)

	job := &domain.Job{
		ID: "job-3", Principal: "u1", Kind: domain.KindFashionGenerate,
		Provenance: map[string]any{"garment_image_url": "https://cdn.example.com/garment.png"},
	}
	err := orch.Run(context.Background(), job)
	require.NoError(t, err)

	row, err := js.Get(context.Background(), "job-3")
	require.NoError(t, err)
	require.Equal(t, domain.StatusCompleted, row.Status)
	require.Equal(t, "https://cdn.example.com/final.mp4", row.OutputURL)
	require.Contains(t, row.Provenance["failed_angles"], "side")
}

func TestRunShapeA_AllAnglesFailFailsJob(t *testing.T) {
	tryonSrv := httptest.NewServer(jsonHandler(func(r *http.Request) (int, any) {
		return http.StatusBadRequest, map[string]string{"error": "provider down"}
	}))
	defer tryonSrv.Close()

	js := newFakeJobStore()
	js.angles = []string{"front", "side"}

	orch := New(js, Gateways{TryOn: newTestTryOnGateway(tryonSrv.URL)}, nil)
	job := &domain.Job{ID: "job-4", Principal: "u1", Kind: domain.KindFashionGenerate}

	err := orch.Run(context.Background(), job)
	require.Error(t, err)

	row, err := js.Get(context.Background(), "job-4")
	require.NoError(t, err)
	require.Equal(t, domain.StatusFailed, row.Status)
}
