package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/mscandco/platform/internal/jobs"
	"github.com/mscandco/platform/internal/releases"
)

const releaseNotifyJob = "release_notify"

// ReleaseNotifyJob posts release status changes to the configured webhook.
type ReleaseNotifyJob struct {
	url     string
	client  *http.Client
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
}

// NewReleaseNotifyJob constructs the webhook job. An empty url turns
// deliveries into log lines.
func NewReleaseNotifyJob(url string, timeout time.Duration, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReleaseNotifyJob {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ReleaseNotifyJob{
		url:     url,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
		metrics: metrics,
	}
}

// Handle processes TaskReleaseStatusChanged tasks. Client errors are not
// retried; transport failures and 5xx responses are.
func (j *ReleaseNotifyJob) Handle(ctx context.Context, task *asynq.Task) error {
	tracker := j.metrics.Track(releaseNotifyJob)
	var event releases.StatusChangedEvent
	if err := json.Unmarshal(task.Payload(), &event); err != nil {
		j.logger.Error("release notify payload", slog.Any("error", err))
		return tracker.End(fmt.Errorf("jobs: decode release event: %v: %w", err, asynq.SkipRetry))
	}
	log := j.logger.With(
		slog.String("release_id", event.ReleaseID.String()),
		slog.String("from", string(event.From)),
		slog.String("to", string(event.To)),
	)
	if j.url == "" {
		log.Info("release status notification", slog.String("message", event.Message))
		return tracker.End(nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, j.url, bytes.NewReader(task.Payload()))
	if err != nil {
		return tracker.End(fmt.Errorf("jobs: build webhook request: %v: %w", err, asynq.SkipRetry))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Type", TaskReleaseStatusChanged)
	req.Header.Set("X-Release-Id", event.ReleaseID.String())

	resp, err := j.client.Do(req)
	if err != nil {
		j.metrics.AddDelivery(0)
		log.Warn("release webhook", slog.Any("error", err))
		return tracker.End(fmt.Errorf("jobs: deliver webhook: %w", err))
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	j.metrics.AddDelivery(resp.StatusCode)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		log.Info("release webhook delivered", slog.Int("status", resp.StatusCode))
		return tracker.End(nil)
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		log.Warn("release webhook rejected", slog.Int("status", resp.StatusCode))
		return tracker.End(fmt.Errorf("jobs: webhook status %d", resp.StatusCode))
	default:
		log.Error("release webhook refused", slog.Int("status", resp.StatusCode))
		return tracker.End(fmt.Errorf("jobs: webhook status %d: %w", resp.StatusCode, asynq.SkipRetry))
	}
}

// IdempotencyCleaner removes expired idempotency keys.
type IdempotencyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) error
}

// IdempotencyCleanupJob sweeps the idempotency key table on a schedule.
type IdempotencyCleanupJob struct {
	store   IdempotencyCleaner
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
}

// NewIdempotencyCleanupJob constructs the sweep job.
func NewIdempotencyCleanupJob(store IdempotencyCleaner, logger *slog.Logger, metrics *jobmetrics.Metrics) *IdempotencyCleanupJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &IdempotencyCleanupJob{store: store, logger: logger, metrics: metrics}
}

// Handle processes TaskIdempotencyCleanup tasks.
func (j *IdempotencyCleanupJob) Handle(ctx context.Context, task *asynq.Task) error {
	tracker := j.metrics.Track("idempotency_cleanup")
	var payload IdempotencyCleanupPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return tracker.End(fmt.Errorf("jobs: decode cleanup payload: %v: %w", err, asynq.SkipRetry))
	}
	olderThan, err := time.ParseDuration(payload.OlderThan)
	if err != nil || olderThan <= 0 {
		return tracker.End(fmt.Errorf("jobs: cleanup window %q: %w", payload.OlderThan, asynq.SkipRetry))
	}
	if err := j.store.Cleanup(ctx, olderThan); err != nil {
		j.logger.Error("idempotency cleanup", slog.Any("error", err))
		return tracker.End(err)
	}
	j.logger.Info("idempotency cleanup", slog.String("older_than", olderThan.String()))
	return tracker.End(nil)
}
