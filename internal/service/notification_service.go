package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/noah-isme/course-enrollment-api/internal/models"
	"github.com/noah-isme/course-enrollment-api/pkg/jobs"
)

// NotificationJobType identifies enrollment notification jobs on the queue.
const NotificationJobType = "enrollment.notification"

type notificationDispatcher interface {
	TryEnqueue(job jobs.Job) error
}

// NotificationService hands notifications to the background queue without
// blocking the caller.
type NotificationService struct {
	queue   notificationDispatcher
	metrics *MetricsService
	logger  *zap.Logger
	enabled bool
}

// NewNotificationService constructs the producer side of notification delivery.
func NewNotificationService(queue notificationDispatcher, metrics *MetricsService, logger *zap.Logger, enabled bool) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{queue: queue, metrics: metrics, logger: logger, enabled: enabled}
}

// Notify queues a notification. A disabled service accepts and discards it.
func (s *NotificationService) Notify(ctx context.Context, n models.Notification) error {
	if s == nil || !s.enabled || s.queue == nil {
		return nil
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	if err := s.queue.TryEnqueue(jobs.Job{ID: n.ID, Type: NotificationJobType, Payload: n}); err != nil {
		s.metrics.RecordNotification(NotificationResultDropped)
		return fmt.Errorf("enqueue notification: %w", err)
	}
	s.metrics.RecordNotification(NotificationResultQueued)
	return nil
}

type notificationStore interface {
	Create(ctx context.Context, n *models.Notification) error
}

type notificationSender interface {
	Send(ctx context.Context, n models.Notification) error
}

// NotificationWorker stores queued notifications in the user inbox and
// forwards them to the delivery gateway.
type NotificationWorker struct {
	store   notificationStore
	sender  notificationSender
	limiter *rate.Limiter
	metrics *MetricsService
	logger  *zap.Logger
}

// NewNotificationWorker constructs a worker. sender and limiter are optional.
func NewNotificationWorker(store notificationStore, sender notificationSender, limiter *rate.Limiter, metrics *MetricsService, logger *zap.Logger) *NotificationWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationWorker{store: store, sender: sender, limiter: limiter, metrics: metrics, logger: logger}
}

// Handle processes a queue job.
func (w *NotificationWorker) Handle(ctx context.Context, job jobs.Job) error {
	n, ok := job.Payload.(models.Notification)
	if !ok {
		w.logger.Warn("discarding notification job with unexpected payload", zap.String("job_id", job.ID))
		return nil
	}

	if err := w.store.Create(ctx, &n); err != nil {
		return err
	}
	if w.sender == nil {
		w.metrics.RecordNotification(NotificationResultDelivered)
		return nil
	}

	if w.limiter != nil {
		if err := w.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	if err := w.sender.Send(ctx, n); err != nil {
		return err
	}
	w.metrics.RecordNotification(NotificationResultDelivered)
	return nil
}

// HandleDrop records a notification that exhausted its retries.
func (w *NotificationWorker) HandleDrop(job jobs.Job, err error) {
	w.metrics.RecordNotification(NotificationResultFailed)
	w.logger.Warn("notification delivery abandoned",
		zap.String("job_id", job.ID),
		zap.Int("attempts", job.Attempt),
		zap.Error(err),
	)
}

// WebhookConfig configures the outbound delivery gateway.
type WebhookConfig struct {
	URL     string
	Token   string
	Timeout time.Duration
}

// ErrWebhookRejected is returned when the gateway answers with a non-2xx status.
var ErrWebhookRejected = errors.New("notification webhook rejected request")

// WebhookNotificationSender posts notifications to an HTTP gateway that fans
// them out to email, push or chat channels.
type WebhookNotificationSender struct {
	client *resty.Client
	url    string
}

// NewWebhookNotificationSender constructs a sender for cfg.URL.
func NewWebhookNotificationSender(cfg WebhookConfig) *WebhookNotificationSender {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json")
	if cfg.Token != "" {
		client.SetAuthToken(cfg.Token)
	}
	return &WebhookNotificationSender{client: client, url: cfg.URL}
}

type webhookPayload struct {
	ID     string `json:"id"`
	UserID string `json:"userId"`
	Kind   string `json:"kind"`
	Title  string `json:"title"`
	Body   string `json:"body"`
	Link   string `json:"link,omitempty"`
}

// Send posts a single notification.
func (s *WebhookNotificationSender) Send(ctx context.Context, n models.Notification) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(webhookPayload{
			ID:     n.ID,
			UserID: n.UserID,
			Kind:   string(n.Kind),
			Title:  n.Title,
			Body:   n.Body,
			Link:   n.Link,
		}).
		Post(s.url)
	if err != nil {
		return fmt.Errorf("post notification webhook: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("%w: status %d", ErrWebhookRejected, resp.StatusCode())
	}
	return nil
}
