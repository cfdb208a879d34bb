package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"fashion-trends-backend/internal/auth"
	"fashion-trends-backend/internal/config"
	"fashion-trends-backend/internal/models"
	"fashion-trends-backend/internal/pipeline"
	"fashion-trends-backend/internal/progress"
	"fashion-trends-backend/internal/store"
	"fashion-trends-backend/internal/telemetry"
)

// JobStore is the subset of the persistence layer the read/submit handlers
// consume.
type JobStore interface {
	CreateJob(ctx context.Context, userID, sourceType, sourceInput string) (models.AnalysisJob, error)
	GetJob(ctx context.Context, id string) (models.AnalysisJob, error)
	GetJobForUser(ctx context.Context, id, userID string) (models.AnalysisJob, error)
	ListJobsForUser(ctx context.Context, userID string) ([]models.AnalysisJob, error)
}

// TrendStore persists trend-report documents.
type TrendStore interface {
	CreateTrendReport(ctx context.Context, sourceFile string, document map[string]any, analyzedAt *time.Time) (models.TrendReport, error)
	ListTrendReports(ctx context.Context) ([]models.TrendReport, error)
	GetTrendReport(ctx context.Context, id string) (models.TrendReport, error)
}

// Pipeline is the orchestration surface the handlers trigger.
type Pipeline interface {
	Start(jobID, sourceType, sourceInput string)
	GenerateImage(ctx context.Context, selections map[string]any) (string, error)
	Enrich(ctx context.Context, job models.AnalysisJob, input json.RawMessage) (string, error)
}

// ProgressStore reads and writes live progress snapshots.
type ProgressStore interface {
	Set(ctx context.Context, jobID string, percent int, message string) error
	Get(ctx context.Context, jobID string) (progress.Snapshot, bool, error)
}

// Server wires HTTP handlers for the analysis API.
type Server struct {
	cfg      config.Config
	jobs     JobStore
	trends   TrendStore
	pipe     Pipeline
	progress ProgressStore
	verifier auth.Verifier
	signer   pipeline.URLSigner
	log      zerolog.Logger
}

// New constructs the API server.
func New(cfg config.Config, jobs JobStore, trends TrendStore, pipe Pipeline, prog ProgressStore, verifier auth.Verifier, signer pipeline.URLSigner, log zerolog.Logger) *Server {
	return &Server{
		cfg:      cfg,
		jobs:     jobs,
		trends:   trends,
		pipe:     pipe,
		progress: prog,
		verifier: verifier,
		signer:   signer,
		log:      log,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Mount("/metrics", telemetry.Handler())

	// The analysis script calls back with a job id, not a user token.
	r.Put("/analysis/progress/{jobID}", s.handleReportProgress)

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(s.verifier))

		r.Post("/analysis/start", s.handleStartAnalysis)
		r.Get("/analysis/status/{jobID}", s.handleJobStatus)
		r.Get("/analysis/my-jobs", s.handleMyJobs)
		r.Post("/analysis/enrich/{jobID}", s.handleEnrich)
		r.Post("/analysis/generate-image", s.handleGenerateImage)

		r.Post("/assets/presign", s.handlePresignAssets)

		r.Post("/trends", s.handleCreateTrend)
		r.Get("/trends", s.handleListTrends)
		r.Get("/trends/{id}", s.handleGetTrend)
	})

	return r
}

type startAnalysisRequest struct {
	SourceType  string `json:"sourceType"`
	SourceInput string `json:"sourceInput"`
}

func (s *Server) handleStartAnalysis(w http.ResponseWriter, r *http.Request) {
	var req startAnalysisRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	req.SourceType = strings.TrimSpace(req.SourceType)
	req.SourceInput = strings.TrimSpace(req.SourceInput)
	if req.SourceType != "instagram" && req.SourceType != "web" {
		http.Error(w, `sourceType must be "instagram" or "web"`, http.StatusBadRequest)
		return
	}
	if len(req.SourceInput) < 2 {
		http.Error(w, "sourceInput must be at least 2 characters", http.StatusBadRequest)
		return
	}

	job, err := s.jobs.CreateJob(r.Context(), auth.UserID(r.Context()), req.SourceType, req.SourceInput)
	if err != nil {
		http.Error(w, "could not create analysis job", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"jobId":   job.ID,
		"message": "analysis started, poll the status endpoint",
	})

	s.pipe.Start(job.ID, job.SourceType, job.SourceInput)
}

type jobStatusResponse struct {
	models.AnalysisJob
	Progress *progress.Snapshot `json:"progress,omitempty"`
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job, err := s.jobs.GetJobForUser(r.Context(), jobID, auth.UserID(r.Context()))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}
		http.Error(w, "could not load job", http.StatusInternalServerError)
		return
	}

	resp := jobStatusResponse{AnalysisJob: job}
	if job.Status == models.StatusProcessing {
		if snap, ok, err := s.progress.Get(r.Context(), job.ID); err == nil && ok {
			resp.Progress = &snap
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMyJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.jobs.ListJobsForUser(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		http.Error(w, "could not load jobs", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleEnrich(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job, err := s.jobs.GetJobForUser(r.Context(), jobID, auth.UserID(r.Context()))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "completed analysis report not found", http.StatusNotFound)
			return
		}
		http.Error(w, "could not load job", http.StatusInternalServerError)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	if len(body) == 0 {
		body = []byte(`{}`)
	}
	if !json.Valid(body) {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	enriched, err := s.pipe.Enrich(r.Context(), job, body)
	if err != nil {
		if errors.Is(err, pipeline.ErrNotEnrichable) {
			http.Error(w, "completed analysis report not found", http.StatusNotFound)
			return
		}
		s.log.Error().Str("job_id", jobID).Err(err).Msg("enrichment failed")
		http.Error(w, "enrichment failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"enrichedText": enriched})
}

func (s *Server) handleGenerateImage(w http.ResponseWriter, r *http.Request) {
	var selections map[string]any
	if err := json.NewDecoder(r.Body).Decode(&selections); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	url, err := s.pipe.GenerateImage(r.Context(), selections)
	if err != nil {
		s.log.Error().Err(err).Msg("image generation failed")
		http.Error(w, "image generation failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"imageUrl": url})
}

type reportProgressRequest struct {
	Percent int    `json:"percent"`
	Message string `json:"message"`
}

func (s *Server) handleReportProgress(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	var req reportProgressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Percent < 0 || req.Percent > 100 {
		http.Error(w, "percent must be between 0 and 100", http.StatusBadRequest)
		return
	}

	if _, err := s.jobs.GetJob(r.Context(), jobID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}
		http.Error(w, "could not load job", http.StatusInternalServerError)
		return
	}

	if err := s.progress.Set(r.Context(), jobID, req.Percent, req.Message); err != nil {
		http.Error(w, "could not store progress", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type presignAssetsRequest struct {
	S3URIs []string `json:"s3Uris"`
}

func (s *Server) handlePresignAssets(w http.ResponseWriter, r *http.Request) {
	var req presignAssetsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if len(req.S3URIs) == 0 {
		http.Error(w, "s3Uris must be a non-empty array", http.StatusBadRequest)
		return
	}

	urls := make([]string, 0, len(req.S3URIs))
	for _, uri := range req.S3URIs {
		url, err := s.signer.PresignURI(r.Context(), uri)
		if err != nil {
			http.Error(w, "could not presign asset urls", http.StatusInternalServerError)
			return
		}
		urls = append(urls, url)
	}
	writeJSON(w, http.StatusOK, map[string][]string{"presignedUrls": urls})
}

func (s *Server) handleCreateTrend(w http.ResponseWriter, r *http.Request) {
	var doc map[string]any
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	sourceFile, _ := doc["source_file"].(string)
	if sourceFile == "" || doc["color_trends"] == nil {
		http.Error(w, "source_file and color_trends are required", http.StatusBadRequest)
		return
	}

	var analyzedAt *time.Time
	if raw, ok := doc["analyzed_at"].(string); ok {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			analyzedAt = &ts
		}
	}

	report, err := s.trends.CreateTrendReport(r.Context(), sourceFile, doc, analyzedAt)
	if err != nil {
		http.Error(w, "could not save trend analysis", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, report)
}

func (s *Server) handleListTrends(w http.ResponseWriter, r *http.Request) {
	reports, err := s.trends.ListTrendReports(r.Context())
	if err != nil {
		http.Error(w, "could not load trend analyses", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count": len(reports),
		"data":  reports,
	})
}

func (s *Server) handleGetTrend(w http.ResponseWriter, r *http.Request) {
	report, err := s.trends.GetTrendReport(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "trend analysis not found", http.StatusNotFound)
			return
		}
		http.Error(w, "could not load trend analysis", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
