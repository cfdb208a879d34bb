package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"fashion-trends-backend/internal/auth"
	"fashion-trends-backend/internal/config"
	"fashion-trends-backend/internal/models"
	"fashion-trends-backend/internal/pipeline"
	"fashion-trends-backend/internal/progress"
	"fashion-trends-backend/internal/store"
)

type fakeJobs struct {
	mu   sync.Mutex
	seq  int
	jobs map[string]models.AnalysisJob
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{jobs: map[string]models.AnalysisJob{}}
}

func (f *fakeJobs) put(job models.AnalysisJob) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[job.ID] = job
}

func (f *fakeJobs) CreateJob(_ context.Context, userID, sourceType, sourceInput string) (models.AnalysisJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	job := models.AnalysisJob{
		ID:          fmt.Sprintf("job-%d", f.seq),
		UserID:      userID,
		SourceType:  sourceType,
		SourceInput: sourceInput,
		Status:      models.StatusPending,
		CreatedAt:   time.Now().Add(time.Duration(f.seq) * time.Millisecond),
	}
	f.jobs[job.ID] = job
	return job, nil
}

func (f *fakeJobs) GetJob(_ context.Context, id string) (models.AnalysisJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return models.AnalysisJob{}, store.ErrNotFound
	}
	return job, nil
}

func (f *fakeJobs) GetJobForUser(_ context.Context, id, userID string) (models.AnalysisJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok || job.UserID != userID {
		return models.AnalysisJob{}, store.ErrNotFound
	}
	return job, nil
}

func (f *fakeJobs) ListJobsForUser(_ context.Context, userID string) ([]models.AnalysisJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []models.AnalysisJob{}
	for _, job := range f.jobs {
		if job.UserID == userID {
			out = append(out, job)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

type fakeTrends struct {
	mu      sync.Mutex
	seq     int
	reports map[string]models.TrendReport
}

func newFakeTrends() *fakeTrends {
	return &fakeTrends{reports: map[string]models.TrendReport{}}
}

func (f *fakeTrends) CreateTrendReport(_ context.Context, sourceFile string, document map[string]any, analyzedAt *time.Time) (models.TrendReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	rep := models.TrendReport{
		ID:         fmt.Sprintf("trend-%d", f.seq),
		SourceFile: sourceFile,
		Document:   document,
		AnalyzedAt: analyzedAt,
		CreatedAt:  time.Now(),
	}
	f.reports[rep.ID] = rep
	return rep, nil
}

func (f *fakeTrends) ListTrendReports(context.Context) ([]models.TrendReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []models.TrendReport{}
	for _, rep := range f.reports {
		out = append(out, rep)
	}
	return out, nil
}

func (f *fakeTrends) GetTrendReport(_ context.Context, id string) (models.TrendReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rep, ok := f.reports[id]
	if !ok {
		return models.TrendReport{}, store.ErrNotFound
	}
	return rep, nil
}

type fakePipe struct {
	mu       sync.Mutex
	started  [][3]string
	imageURL string
	enriched string
	err      error
}

func (f *fakePipe) Start(jobID, sourceType, sourceInput string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, [3]string{jobID, sourceType, sourceInput})
}

func (f *fakePipe) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.started)
}

func (f *fakePipe) GenerateImage(context.Context, map[string]any) (string, error) {
	return f.imageURL, f.err
}

func (f *fakePipe) Enrich(_ context.Context, job models.AnalysisJob, _ json.RawMessage) (string, error) {
	if job.Status != models.StatusCompleted || len(job.Result) == 0 {
		return "", pipeline.ErrNotEnrichable
	}
	return f.enriched, f.err
}

type fakeProgress struct {
	mu    sync.Mutex
	snaps map[string]progress.Snapshot
}

func newFakeProgress() *fakeProgress {
	return &fakeProgress{snaps: map[string]progress.Snapshot{}}
}

func (f *fakeProgress) Set(_ context.Context, jobID string, percent int, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snaps[jobID] = progress.Snapshot{Percent: percent, Message: message, ReportedAt: time.Now()}
	return nil
}

func (f *fakeProgress) Get(_ context.Context, jobID string) (progress.Snapshot, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap, ok := f.snaps[jobID]
	return snap, ok, nil
}

type fakeSigner struct{}

func (fakeSigner) PresignURI(_ context.Context, uri string) (string, error) {
	return "https://signed.example/" + strings.TrimPrefix(uri, "s3://"), nil
}

type testServer struct {
	handler  http.Handler
	jobs     *fakeJobs
	trends   *fakeTrends
	pipe     *fakePipe
	progress *fakeProgress
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	jobs := newFakeJobs()
	trends := newFakeTrends()
	pipe := &fakePipe{imageURL: "https://signed.example/generated.png", enriched: "richer text"}
	prog := newFakeProgress()
	verifier := auth.StaticVerifier{"token-1": "user-1", "token-2": "user-2"}
	srv := New(config.Config{}, jobs, trends, pipe, prog, verifier, fakeSigner{}, zerolog.Nop())
	return &testServer{handler: srv.Router(), jobs: jobs, trends: trends, pipe: pipe, progress: prog}
}

func (ts *testServer) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func TestStartAnalysis(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/analysis/start", "token-1", `{"sourceType":"instagram","sourceInput":"fashionweek"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp["jobId"])

	require.Equal(t, 1, ts.pipe.startCount())
	require.Equal(t, resp["jobId"], ts.pipe.started[0][0])

	job, err := ts.jobs.GetJob(context.Background(), resp["jobId"])
	require.NoError(t, err)
	require.Equal(t, "user-1", job.UserID)
	require.Equal(t, models.StatusPending, job.Status)
}

func TestStartAnalysis_Validation(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/analysis/start", "token-1", `{"sourceType":"tiktok","sourceInput":"ok"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/analysis/start", "token-1", `{"sourceType":"web","sourceInput":" x "}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/analysis/start", "token-1", `not json`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	require.Equal(t, 0, ts.pipe.startCount())
}

func TestStartAnalysis_RequiresAuth(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/analysis/start", "", `{"sourceType":"web","sourceInput":"vogue"}`)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestJobStatus_OwnerScoped(t *testing.T) {
	ts := newTestServer(t)
	errMsg := "scrape stage failed"
	ts.jobs.put(models.AnalysisJob{ID: "job-9", UserID: "user-1", Status: models.StatusFailed, Error: &errMsg, CreatedAt: time.Now()})

	rec := ts.do(t, http.MethodGet, "/analysis/status/job-9", "token-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var job models.AnalysisJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	require.Equal(t, models.StatusFailed, job.Status)
	require.NotNil(t, job.Error)

	// Someone else's job reads as missing.
	rec = ts.do(t, http.MethodGet, "/analysis/status/job-9", "token-2", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodGet, "/analysis/status/nope", "token-1", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestJobStatus_IncludesProgressWhileProcessing(t *testing.T) {
	ts := newTestServer(t)
	ts.jobs.put(models.AnalysisJob{ID: "job-5", UserID: "user-1", Status: models.StatusProcessing, CreatedAt: time.Now()})

	rec := ts.do(t, http.MethodPut, "/analysis/progress/job-5", "", `{"percent":55,"message":"embedding images"}`)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.do(t, http.MethodGet, "/analysis/status/job-5", "token-1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Status   models.Status      `json:"status"`
		Progress *progress.Snapshot `json:"progress"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Progress)
	require.Equal(t, 55, resp.Progress.Percent)
}

func TestReportProgress_UnknownJob(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPut, "/analysis/progress/missing", "", `{"percent":10}`)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMyJobs_NewestFirst(t *testing.T) {
	ts := newTestServer(t)
	base := time.Now()
	ts.jobs.put(models.AnalysisJob{ID: "job-a", UserID: "user-1", Status: models.StatusCompleted, CreatedAt: base.Add(-time.Hour)})
	ts.jobs.put(models.AnalysisJob{ID: "job-b", UserID: "user-1", Status: models.StatusPending, CreatedAt: base})
	ts.jobs.put(models.AnalysisJob{ID: "job-c", UserID: "user-2", Status: models.StatusPending, CreatedAt: base})

	rec := ts.do(t, http.MethodGet, "/analysis/my-jobs", "token-1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var jobs []models.AnalysisJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &jobs))
	require.Len(t, jobs, 2)
	require.Equal(t, "job-b", jobs[0].ID)
	require.Equal(t, "job-a", jobs[1].ID)
}

func TestEnrich_NotCompletedIs404(t *testing.T) {
	ts := newTestServer(t)
	ts.jobs.put(models.AnalysisJob{ID: "job-1", UserID: "user-1", Status: models.StatusPending, CreatedAt: time.Now()})

	rec := ts.do(t, http.MethodPost, "/analysis/enrich/job-1", "token-1", `{"tone":"bold"}`)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEnrich_Completed(t *testing.T) {
	ts := newTestServer(t)
	ts.jobs.put(models.AnalysisJob{
		ID: "job-1", UserID: "user-1", Status: models.StatusCompleted,
		Result: map[string]any{"trend": "neon"}, CreatedAt: time.Now(),
	})

	rec := ts.do(t, http.MethodPost, "/analysis/enrich/job-1", "token-1", `{"tone":"bold"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "richer text", resp["enrichedText"])
}

func TestGenerateImage(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/analysis/generate-image", "token-1", `{"style":"y2k","palette":"neon"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "https://signed.example/generated.png", resp["imageUrl"])
}

func TestGenerateImage_StageFailure(t *testing.T) {
	ts := newTestServer(t)
	ts.pipe.err = fmt.Errorf("generation stage failed: out of VRAM")

	rec := ts.do(t, http.MethodPost, "/analysis/generate-image", "token-1", `{}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestPresignAssets(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/assets/presign", "token-1", `{"s3Uris":["s3://b/one.png","s3://b/two.png"]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string][]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, []string{"https://signed.example/b/one.png", "https://signed.example/b/two.png"}, resp["presignedUrls"])

	rec = ts.do(t, http.MethodPost, "/assets/presign", "token-1", `{"s3Uris":[]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTrendReports(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/trends", "token-1", `{"source_file":"posts_2026_08.json","color_trends":[{"name":"butter yellow"}]}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created models.TrendReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.ID)

	rec = ts.do(t, http.MethodPost, "/trends", "token-1", `{"color_trends":[]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/trends", "token-1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/trends/"+created.ID, "token-1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/trends/missing", "token-1", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}
