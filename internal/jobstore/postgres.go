package jobstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mediaqueue/jobqueue/internal/domain"
)

// PostgresStore is the durable JobStore, built on database/sql over the
// pgx/v5 stdlib driver (github.com/jackc/pgx/v5/stdlib). database/sql
// rather than pgxpool directly is a deliberate choice here: it is the only
// thing DATA-DOG/go-sqlmock can intercept, and this package's unit tests
// run against a mocked driver rather than a live Postgres instance (the
// teacher's own jobstore-equivalent tests run against a real database,
// which isn't available in this environment). The composition root opens
// the *sql.DB with sql.Open("pgx", url) (see cmd/server/main.go), so the
// pgx driver and its wire protocol are used in production.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an existing *sql.DB (opened via pgx/v5/stdlib).
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, job *domain.Job) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (job_id, principal, kind, status, provenance)
		VALUES ($1, $2, $3, $4, '{}'::jsonb)
		ON CONFLICT (job_id) DO NOTHING`,
		job.ID, job.Principal, string(job.Kind), string(domain.StatusQueued))
	if err != nil {
		return fmt.Errorf("jobstore: create %s: %w", job.ID, err)
	}
	return nil
}

func (s *PostgresStore) Mark(ctx context.Context, jobID string, update Update) error {
	patch := update.ProvenancePatch
	if patch == nil {
		patch = map[string]any{}
	}
	patchJSON, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("jobstore: mark %s: marshal provenance patch: %w", jobID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE jobs SET
			status           = COALESCE(NULLIF($2, ''), status),
			current_stage    = COALESCE(NULLIF($3, ''), current_stage),
			progress_percent = CASE WHEN $4::int IS NOT NULL THEN $4 ELSE progress_percent END,
			provider_task_id = COALESCE(NULLIF($5, ''), provider_task_id),
			output_url       = COALESCE(NULLIF($6, ''), output_url),
			error_message    = COALESCE(NULLIF($7, ''), error_message),
			provenance       = provenance || $8::jsonb,
			updated_at       = now()
		WHERE job_id = $1`,
		jobID,
		string(update.Status),
		update.CurrentStage,
		progressArg(update.ProgressPercent),
		update.ProviderTaskID,
		update.OutputURL,
		domain.TruncateError(update.ErrorMessage),
		patchJSON,
	)
	if err != nil {
		return fmt.Errorf("jobstore: mark %s: %w", jobID, err)
	}
	return nil
}

// progressArg returns nil (so the SQL CASE leaves progress_percent
// untouched) when the caller didn't set ProgressPercent.
func progressArg(set *int) any {
	if set == nil {
		return nil
	}
	return *set
}

func (s *PostgresStore) Get(ctx context.Context, jobID string) (*Row, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT job_id, principal, kind, status, current_stage, progress_percent,
		       provider_task_id, output_url, error_message, provenance,
		       created_at, updated_at
		FROM jobs WHERE job_id = $1`, jobID)

	var r Row
	var kind, status string
	var provenanceJSON []byte
	err := row.Scan(&r.JobID, &r.Principal, &kind, &status, &r.CurrentStage, &r.ProgressPercent,
		&r.ProviderTaskID, &r.OutputURL, &r.ErrorMessage, &provenanceJSON,
		&r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("jobstore: get %s: %w", jobID, err)
	}
	r.Kind = domain.Kind(kind)
	r.Status = domain.Status(status)

	if len(provenanceJSON) > 0 {
		if err := json.Unmarshal(provenanceJSON, &r.Provenance); err != nil {
			return nil, fmt.Errorf("jobstore: get %s: unmarshal provenance: %w", jobID, err)
		}
	}
	return &r, nil
}

func (s *PostgresStore) FetchAngleReferences(ctx context.Context, jobID string) ([]string, error) {
	return s.fetchStringSliceField(ctx, jobID, "reference_angle_urls")
}

func (s *PostgresStore) FetchFaceCloseUps(ctx context.Context, jobID string) ([]string, error) {
	return s.fetchStringSliceField(ctx, jobID, "face_close_up_urls")
}

func (s *PostgresStore) fetchStringSliceField(ctx context.Context, jobID, field string) ([]string, error) {
	row, err := s.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	raw, ok := row.Provenance[field]
	if !ok {
		return nil, nil
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, nil
	}
	out := make([]string, 0, len(items))
	for _, v := range items {
		if str, ok := v.(string); ok {
			out = append(out, str)
		}
	}
	return out, nil
}
