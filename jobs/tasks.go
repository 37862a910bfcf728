package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/mscandco/platform/internal/releases"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskReleaseStatusChanged delivers a committed release transition to the webhook.
	TaskReleaseStatusChanged = "release:status_changed"
	// TaskIdempotencyCleanup purges expired Idempotency-Key records.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

const (
	releaseNotifyMaxRetry = 10
	releaseNotifyTimeout  = 30 * time.Second
)

// NewReleaseStatusChangedTask wraps the event in an Asynq task.
func NewReleaseStatusChangedTask(event releases.StatusChangedEvent) (*asynq.Task, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("jobs: encode release event: %w", err)
	}
	return asynq.NewTask(TaskReleaseStatusChanged, data,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(releaseNotifyMaxRetry),
		asynq.Timeout(releaseNotifyTimeout),
	), nil
}

// IdempotencyCleanupPayload configures the cleanup sweep.
type IdempotencyCleanupPayload struct {
	OlderThan string `json:"older_than"`
}

// NewIdempotencyCleanupTask builds a cleanup task removing keys older than olderThan.
func NewIdempotencyCleanupTask(olderThan time.Duration) (*asynq.Task, error) {
	data, err := json.Marshal(IdempotencyCleanupPayload{OlderThan: olderThan.String()})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data), nil
}
