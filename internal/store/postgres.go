package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"fashion-trends-backend/internal/models"
)

var (
	// ErrNotFound is returned when no row matches the id (and owner, where
	// owner-scoped).
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition is returned when a status write is rejected by the
	// job lifecycle guard.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Store wraps pgxpool for Postgres persistence.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// CreateJob inserts a pending analysis job owned by userID.
func (s *Store) CreateJob(ctx context.Context, userID, sourceType, sourceInput string) (models.AnalysisJob, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO analysis_jobs (id, user_id, source_type, source_input, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, id, userID, sourceType, sourceInput, string(models.StatusPending), now)
	if err != nil {
		return models.AnalysisJob{}, fmt.Errorf("insert job: %w", err)
	}

	return models.AnalysisJob{
		ID:          id,
		UserID:      userID,
		SourceType:  sourceType,
		SourceInput: sourceInput,
		Status:      models.StatusPending,
		CreatedAt:   now,
	}, nil
}

const jobColumns = `id, user_id, source_type, source_input, status, result, error, created_at, processing_started_at, completed_at`

// GetJob fetches a job by id regardless of owner. The pipeline uses this;
// read endpoints go through GetJobForUser.
func (s *Store) GetJob(ctx context.Context, id string) (models.AnalysisJob, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM analysis_jobs WHERE id = $1`, id)
	return scanJob(row)
}

// GetJobForUser fetches a job by id, constrained to its owner. A job owned
// by someone else is indistinguishable from a missing one.
func (s *Store) GetJobForUser(ctx context.Context, id, userID string) (models.AnalysisJob, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM analysis_jobs WHERE id = $1 AND user_id = $2`, id, userID)
	return scanJob(row)
}

// ListJobsForUser returns the caller's jobs, newest first.
func (s *Store) ListJobsForUser(ctx context.Context, userID string) ([]models.AnalysisJob, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM analysis_jobs WHERE user_id = $1 ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	jobs := []models.AnalysisJob{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// MarkProcessing moves a pending job to processing and stamps the start time.
func (s *Store) MarkProcessing(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE analysis_jobs
		SET status = $2, processing_started_at = NOW()
		WHERE id = $1 AND status = $3
	`, id, string(models.StatusProcessing), string(models.StatusPending))
	if err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s to processing: %w", id, ErrInvalidTransition)
	}
	return nil
}

// MarkCompleted finalizes a processing job with its result document.
func (s *Store) MarkCompleted(ctx context.Context, id string, result map[string]any) error {
	doc, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE analysis_jobs
		SET status = $2, result = $3, completed_at = NOW()
		WHERE id = $1 AND status = $4
	`, id, string(models.StatusCompleted), doc, string(models.StatusProcessing))
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s to completed: %w", id, ErrInvalidTransition)
	}
	return nil
}

// MarkFailed records a terminal failure with its diagnostic. Failing is
// allowed from pending as well, for pipelines that never got started.
func (s *Store) MarkFailed(ctx context.Context, id, errMsg string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE analysis_jobs
		SET status = $2, error = $3, completed_at = NOW()
		WHERE id = $1 AND status = ANY($4)
	`, id, string(models.StatusFailed), errMsg, []string{string(models.StatusPending), string(models.StatusProcessing)})
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s to failed: %w", id, ErrInvalidTransition)
	}
	return nil
}

// CreateTrendReport persists a trend-analysis document.
func (s *Store) CreateTrendReport(ctx context.Context, sourceFile string, document map[string]any, analyzedAt *time.Time) (models.TrendReport, error) {
	doc, err := json.Marshal(document)
	if err != nil {
		return models.TrendReport{}, fmt.Errorf("marshal document: %w", err)
	}
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err = s.pool.Exec(ctx, `
		INSERT INTO trend_reports (id, source_file, document, analyzed_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, id, sourceFile, doc, analyzedAt, now)
	if err != nil {
		return models.TrendReport{}, fmt.Errorf("insert trend report: %w", err)
	}

	return models.TrendReport{
		ID:         id,
		SourceFile: sourceFile,
		Document:   document,
		AnalyzedAt: analyzedAt,
		CreatedAt:  now,
	}, nil
}

// ListTrendReports returns all reports, most recently analyzed first.
func (s *Store) ListTrendReports(ctx context.Context) ([]models.TrendReport, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, source_file, document, analyzed_at, created_at
		FROM trend_reports ORDER BY analyzed_at DESC NULLS LAST, created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query trend reports: %w", err)
	}
	defer rows.Close()

	reports := []models.TrendReport{}
	for rows.Next() {
		rep, err := scanTrendReport(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, rep)
	}
	return reports, rows.Err()
}

// GetTrendReport fetches one report by id.
func (s *Store) GetTrendReport(ctx context.Context, id string) (models.TrendReport, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, source_file, document, analyzed_at, created_at FROM trend_reports WHERE id = $1
	`, id)
	return scanTrendReport(row)
}

func scanJob(row pgx.Row) (models.AnalysisJob, error) {
	var job models.AnalysisJob
	var resultJSON []byte
	var errText pgtype.Text

	err := row.Scan(&job.ID, &job.UserID, &job.SourceType, &job.SourceInput, &job.Status,
		&resultJSON, &errText, &job.CreatedAt, &job.ProcessingStartedAt, &job.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.AnalysisJob{}, fmt.Errorf("job: %w", ErrNotFound)
	}
	if err != nil {
		return models.AnalysisJob{}, fmt.Errorf("scan job: %w", err)
	}

	if len(resultJSON) > 0 {
		if err := json.Unmarshal(resultJSON, &job.Result); err != nil {
			return models.AnalysisJob{}, fmt.Errorf("unmarshal result: %w", err)
		}
	}
	if errText.Valid {
		job.Error = &errText.String
	}
	return job, nil
}

func scanTrendReport(row pgx.Row) (models.TrendReport, error) {
	var rep models.TrendReport
	var doc []byte

	err := row.Scan(&rep.ID, &rep.SourceFile, &doc, &rep.AnalyzedAt, &rep.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.TrendReport{}, fmt.Errorf("trend report: %w", ErrNotFound)
	}
	if err != nil {
		return models.TrendReport{}, fmt.Errorf("scan trend report: %w", err)
	}
	if err := json.Unmarshal(doc, &rep.Document); err != nil {
		return models.TrendReport{}, fmt.Errorf("unmarshal document: %w", err)
	}
	return rep, nil
}
