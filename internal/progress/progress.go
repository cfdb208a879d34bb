package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Snapshot is the latest progress report for a processing job. The analysis
// script posts these through the callback endpoint, correlated by job id.
type Snapshot struct {
	Percent    int       `json:"percent"`
	Message    string    `json:"message,omitempty"`
	ReportedAt time.Time `json:"reportedAt"`
}

// Tracker stores per-job progress snapshots in Redis with a TTL, so stale
// entries from abandoned pipelines age out on their own.
type Tracker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewTracker wraps a Redis client.
func NewTracker(client *redis.Client, ttl time.Duration) *Tracker {
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &Tracker{client: client, ttl: ttl}
}

func key(jobID string) string {
	return "progress:" + jobID
}

// Set overwrites the snapshot for a job.
func (t *Tracker) Set(ctx context.Context, jobID string, percent int, message string) error {
	snap := Snapshot{Percent: percent, Message: message, ReportedAt: time.Now().UTC()}
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}
	if err := t.client.Set(ctx, key(jobID), raw, t.ttl).Err(); err != nil {
		return fmt.Errorf("store progress: %w", err)
	}
	return nil
}

// Get returns the current snapshot and whether one exists.
func (t *Tracker) Get(ctx context.Context, jobID string) (Snapshot, bool, error) {
	raw, err := t.client.Get(ctx, key(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("read progress: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, false, fmt.Errorf("decode progress: %w", err)
	}
	return snap, true, nil
}

// Clear removes the snapshot once a job reaches a terminal state.
func (t *Tracker) Clear(ctx context.Context, jobID string) error {
	return t.client.Del(ctx, key(jobID)).Err()
}
