package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/teamloop/backend/pkg/queue"
)

// NotificationDeliverer drains the notification queue and delivers each job
// to the configured webhook endpoint. Failed deliveries are retried with a
// bounded attempt count before landing in the dead-letter queue.
type NotificationDeliverer struct {
	queue      *queue.Queue
	webhookURL string
	client     *http.Client
	logger     *zap.Logger
}

// NewNotificationDeliverer creates a notification webhook deliverer.
// An empty webhookURL makes delivery a logged no-op, which keeps the worker
// useful for draining the queue in environments without a webhook target.
func NewNotificationDeliverer(q *queue.Queue, webhookURL string, timeout time.Duration, logger *zap.Logger) *NotificationDeliverer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &NotificationDeliverer{
		queue:      q,
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Process delivers one notification job.
func (d *NotificationDeliverer) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeNotification {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.NotificationPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	if d.webhookURL == "" {
		d.logger.Info("notification delivered (no webhook configured)",
			zap.String("event", payload.Event),
			zap.String("team_id", payload.TeamID.String()))
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook status: %d", resp.StatusCode)
	}

	d.logger.Info("notification delivered",
		zap.String("job_id", job.ID),
		zap.String("event", payload.Event))
	return nil
}

// Run starts the worker loop: dequeue, deliver, retry on error.
func (d *NotificationDeliverer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("notification worker stopping")
			return
		default:
		}

		job, _, err := d.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			d.logger.Warn("dequeue error", zap.Error(err))
			time.Sleep(queue.RetryBackoff)
			continue
		}
		if job == nil {
			continue
		}

		d.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := d.Process(ctx, job); err != nil {
			d.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			if reErr := d.queue.Retry(ctx, job); reErr != nil {
				d.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			time.Sleep(queue.RetryBackoff)
			continue
		}
	}
}
