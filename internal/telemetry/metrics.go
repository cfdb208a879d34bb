package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	PipelinesStarted   = prometheus.NewCounter(prometheus.CounterOpts{Name: "analysis_pipelines_started_total", Help: "Analysis pipelines launched"})
	PipelinesCompleted = prometheus.NewCounter(prometheus.CounterOpts{Name: "analysis_pipelines_completed_total", Help: "Analysis pipelines that reached completed"})
	PipelinesFailed    = prometheus.NewCounter(prometheus.CounterOpts{Name: "analysis_pipelines_failed_total", Help: "Analysis pipelines that reached failed"})
	EnrichmentsTotal   = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "analysis_enrichments_total", Help: "Enrichment stage runs by outcome"}, []string{"outcome"})
	ImagesGenerated    = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "image_generations_total", Help: "Creative image pipeline runs by outcome"}, []string{"outcome"})
	StageDuration      = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pipeline_stage_duration_seconds",
		Help:    "Wall time of external pipeline stages",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
	}, []string{"stage"})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			PipelinesStarted,
			PipelinesCompleted,
			PipelinesFailed,
			EnrichmentsTotal,
			ImagesGenerated,
			StageDuration,
		)
	})
	return promhttp.Handler()
}
