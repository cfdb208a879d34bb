package models

import (
	"time"
)

// Status enumerates analysis job lifecycle states persisted in Postgres.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether s is an end state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether the job lifecycle permits moving from one
// status to another. The lifecycle is monotonic: pending → processing →
// completed|failed, with pending → failed allowed for pipelines that cannot
// start. Terminal states are absorbing.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusProcessing || to == StatusFailed
	case StatusProcessing:
		return to == StatusCompleted || to == StatusFailed
	default:
		return false
	}
}

// AnalysisJob is a persisted unit of orchestrated analysis work. Result is
// set only on completed jobs, Error only on failed ones.
type AnalysisJob struct {
	ID                  string         `json:"id"`
	UserID              string         `json:"userId"`
	SourceType          string         `json:"sourceType"`
	SourceInput         string         `json:"sourceInput"`
	Status              Status         `json:"status"`
	Result              map[string]any `json:"result,omitempty"`
	Error               *string        `json:"error,omitempty"`
	CreatedAt           time.Time      `json:"createdAt"`
	ProcessingStartedAt *time.Time     `json:"processingStartedAt,omitempty"`
	CompletedAt         *time.Time     `json:"completedAt,omitempty"`
}

// TrendReport is a persisted trend-analysis document produced outside the
// job pipeline (bulk imports, the analysis script's own submissions).
type TrendReport struct {
	ID         string         `json:"id"`
	SourceFile string         `json:"source_file"`
	Document   map[string]any `json:"document"`
	AnalyzedAt *time.Time     `json:"analyzed_at,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}
