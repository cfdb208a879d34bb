package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"fashion-trends-backend/internal/config"
	"fashion-trends-backend/internal/models"
	"fashion-trends-backend/internal/telemetry"
)

var (
	// ErrUnknownSourceType is a configuration error: the HTTP layer validates
	// the closed set before a job is ever created.
	ErrUnknownSourceType = errors.New("unknown source type")
	// ErrNotEnrichable rejects enrichment of jobs that are not completed with
	// a result. Checked before any process is spawned.
	ErrNotEnrichable = errors.New("job has no completed result to enrich")
)

// JobStore is the persistence contract the orchestrator drives state
// transitions through.
type JobStore interface {
	MarkProcessing(ctx context.Context, id string) error
	MarkCompleted(ctx context.Context, id string, result map[string]any) error
	MarkFailed(ctx context.Context, id, errMsg string) error
}

// URLSigner exchanges an s3:// locator for a time-limited fetchable URL.
type URLSigner interface {
	PresignURI(ctx context.Context, uri string) (string, error)
}

// Orchestrator sequences the external analysis stages for a job, correlating
// each stage's tagged output into the next stage's input and writing every
// state transition to the store.
type Orchestrator struct {
	cfg    config.Config
	runner Runner
	store  JobStore
	signer URLSigner
	log    zerolog.Logger
}

func NewOrchestrator(cfg config.Config, runner Runner, store JobStore, signer URLSigner, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:    cfg,
		runner: runner,
		store:  store,
		signer: signer,
		log:    log,
	}
}

// Start launches the analysis pipeline for a freshly created job and returns
// immediately. The request handler that created the job does not await the
// outcome; callers observe it by polling the job status. No error escapes
// the detached goroutine: every failure, including panics, becomes a single
// failed transition so the job never sticks in a non-terminal state.
func (o *Orchestrator) Start(jobID, sourceType, sourceInput string) {
	telemetry.PipelinesStarted.Inc()
	go func() {
		ctx := context.Background()
		defer func() {
			if r := recover(); r != nil {
				o.failJob(ctx, jobID, fmt.Sprintf("pipeline panic: %v", r))
			}
		}()
		if err := o.run(ctx, jobID, sourceType, sourceInput); err != nil {
			o.failJob(ctx, jobID, err.Error())
			return
		}
		telemetry.PipelinesCompleted.Inc()
	}()
}

// run drives the scrape → analyze → finalize chain. Any returned error fails
// the job with its message as the diagnostic.
func (o *Orchestrator) run(ctx context.Context, jobID, sourceType, sourceInput string) error {
	if err := o.store.MarkProcessing(ctx, jobID); err != nil {
		return fmt.Errorf("start pipeline: %w", err)
	}

	scraper, err := o.scraperScript(sourceType)
	if err != nil {
		return err
	}

	res, err := o.runStage(ctx, "scrape", []string{scraper, sourceInput}, "")
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("scrape stage failed: %s", res.Stderr)
	}
	sourceLocation, ok := ExtractAny(res.Stdout, TagFolderPath, TagJSONFile)
	if !ok {
		return errors.New("scrape output location not found")
	}
	o.log.Info().Str("job_id", jobID).Str("source", sourceLocation).Msg("scrape stage done")

	// The job id lets the analysis script correlate its own side effects,
	// like progress callbacks, with this job.
	res, err = o.runStage(ctx, "analyze", []string{o.script(o.cfg.AnalysisScript), sourceLocation, "--job_id", jobID}, "")
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("analysis stage failed: %s", res.Stderr)
	}
	reportPath, ok := Extract(res.Stdout, TagReportFile)
	if !ok {
		return errors.New("report file path not found in analysis output")
	}

	return o.finalize(ctx, jobID, reportPath)
}

// finalize loads the report artifact, persists it as the job result, and
// removes the temporary file. The artifact is consumed exactly once; removal
// is best effort and never undoes a durable completed transition.
func (o *Orchestrator) finalize(ctx context.Context, jobID, reportPath string) error {
	raw, err := os.ReadFile(reportPath)
	if err != nil {
		return fmt.Errorf("read report %s: %w", reportPath, err)
	}
	defer func() {
		if err := os.Remove(reportPath); err != nil {
			o.log.Warn().Str("job_id", jobID).Str("path", reportPath).Err(err).Msg("report cleanup failed")
		}
	}()

	var report map[string]any
	if err := json.Unmarshal(raw, &report); err != nil {
		return fmt.Errorf("decode report %s: %w", reportPath, err)
	}

	if err := o.store.MarkCompleted(ctx, jobID, report); err != nil {
		return fmt.Errorf("persist result: %w", err)
	}
	o.log.Info().Str("job_id", jobID).Msg("analysis job completed")
	return nil
}

// GenerateImage runs the two-stage creative pipeline synchronously: the
// prompt worker turns user selections into prompts, the generator turns the
// prompts into an S3 object, and the locator is exchanged for a presigned
// URL.
func (o *Orchestrator) GenerateImage(ctx context.Context, selections map[string]any) (string, error) {
	payload, err := json.Marshal(selections)
	if err != nil {
		return "", fmt.Errorf("encode selections: %w", err)
	}

	res, err := o.runStage(ctx, "prompt", []string{o.script(o.cfg.PromptScript)}, string(payload))
	if err != nil {
		telemetry.ImagesGenerated.WithLabelValues("failed").Inc()
		return "", err
	}
	if res.ExitCode != 0 {
		telemetry.ImagesGenerated.WithLabelValues("failed").Inc()
		return "", fmt.Errorf("prompt stage failed: %s", res.Stderr)
	}

	var prompts struct {
		Prompt         string `json:"prompt"`
		NegativePrompt string `json:"negative_prompt"`
	}
	if err := json.Unmarshal([]byte(res.Stdout), &prompts); err != nil {
		telemetry.ImagesGenerated.WithLabelValues("failed").Inc()
		return "", fmt.Errorf("invalid prompt worker response: %w", err)
	}

	res, err = o.runStage(ctx, "generate", []string{
		o.script(o.cfg.GeneratorScript),
		"--prompt", prompts.Prompt,
		"--negative_prompt", prompts.NegativePrompt,
	}, "")
	if err != nil {
		telemetry.ImagesGenerated.WithLabelValues("failed").Inc()
		return "", err
	}
	if res.ExitCode != 0 {
		telemetry.ImagesGenerated.WithLabelValues("failed").Inc()
		return "", fmt.Errorf("generation stage failed: %s", res.Stderr)
	}

	uri, ok := Extract(res.Stdout, TagS3URI)
	if !ok {
		telemetry.ImagesGenerated.WithLabelValues("failed").Inc()
		return "", errors.New("generator did not return an s3 uri")
	}

	url, err := o.signer.PresignURI(ctx, uri)
	if err != nil {
		telemetry.ImagesGenerated.WithLabelValues("failed").Inc()
		return "", err
	}
	telemetry.ImagesGenerated.WithLabelValues("ok").Inc()
	return url, nil
}

// Enrich runs the single-stage enrichment worker against a completed job's
// result plus caller-supplied input, and returns the worker's stdout
// verbatim. Jobs without a completed result are rejected before any process
// is spawned.
func (o *Orchestrator) Enrich(ctx context.Context, job models.AnalysisJob, input json.RawMessage) (string, error) {
	if job.Status != models.StatusCompleted || len(job.Result) == 0 {
		return "", ErrNotEnrichable
	}

	payload, err := json.Marshal(map[string]any{
		"result": job.Result,
		"input":  input,
	})
	if err != nil {
		return "", fmt.Errorf("encode enrichment payload: %w", err)
	}

	res, err := o.runStage(ctx, "enrich", []string{o.script(o.cfg.EnrichmentScript)}, string(payload))
	if err != nil {
		telemetry.EnrichmentsTotal.WithLabelValues("failed").Inc()
		return "", err
	}
	if res.ExitCode != 0 {
		telemetry.EnrichmentsTotal.WithLabelValues("failed").Inc()
		return "", fmt.Errorf("enrichment stage failed: %s", res.Stderr)
	}
	telemetry.EnrichmentsTotal.WithLabelValues("ok").Inc()
	return res.Stdout, nil
}

// runStage invokes one external script, bounded by the configured stage
// timeout when set.
func (o *Orchestrator) runStage(ctx context.Context, stage string, args []string, stdin string) (Result, error) {
	if o.cfg.StageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.StageTimeout)
		defer cancel()
	}

	start := time.Now()
	res, err := o.runner.Run(ctx, o.cfg.PythonBin, args, stdin)
	telemetry.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	if err != nil {
		return Result{}, fmt.Errorf("%s stage: %w", stage, err)
	}
	return res, nil
}

func (o *Orchestrator) scraperScript(sourceType string) (string, error) {
	switch sourceType {
	case "instagram":
		return o.script(o.cfg.InstagramScraper), nil
	case "web":
		return o.script(o.cfg.WebScraper), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownSourceType, sourceType)
	}
}

func (o *Orchestrator) script(name string) string {
	return filepath.Join(o.cfg.ScriptsDir, name)
}

func (o *Orchestrator) failJob(ctx context.Context, jobID, msg string) {
	telemetry.PipelinesFailed.Inc()
	o.log.Error().Str("job_id", jobID).Str("error", msg).Msg("analysis job failed")
	if err := o.store.MarkFailed(ctx, jobID, msg); err != nil {
		// Nothing is left to receive this; process logs are the only record.
		o.log.Error().Str("job_id", jobID).Err(err).Msg("could not persist failure")
	}
}
