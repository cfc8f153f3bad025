// Package notify delivers recipient notifications through an asynq queue.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/tto-ledger/ledger/internal/shared"
)

// TaskDeliver is the asynq task type that stores a notification.
const TaskDeliver = "notify:deliver"

// Notification types.
const (
	TypePaymentInstruction = "payment_instruction"
	TypePaymentStatus      = "payment_status"
)

// Message is one notification addressed to a user or personnel record.
type Message struct {
	Recipient shared.PersonRef `json:"recipient"`
	Type      string           `json:"type"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
}

// Validate checks the message before it is queued.
func (m Message) Validate() error {
	if err := m.Recipient.Validate(); err != nil {
		return err
	}
	if m.Type == "" || m.Title == "" {
		return fmt.Errorf("%w: notification type and title required", shared.ErrInvalidInput)
	}
	return nil
}

// Enqueuer is the subset of *asynq.Client the notifier needs.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// AsynqNotifier queues notifications for the worker.
type AsynqNotifier struct {
	client Enqueuer
	queue  string
}

// NewAsynqNotifier constructs a notifier that enqueues on queue.
func NewAsynqNotifier(client Enqueuer, queue string) *AsynqNotifier {
	if queue == "" {
		queue = "default"
	}
	return &AsynqNotifier{client: client, queue: queue}
}

// NewDeliverTask builds the asynq task for m.
func NewDeliverTask(m Message) (*asynq.Task, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskDeliver, data), nil
}

// Notify validates and enqueues m.
func (n *AsynqNotifier) Notify(ctx context.Context, m Message) error {
	if err := m.Validate(); err != nil {
		return err
	}
	task, err := NewDeliverTask(m)
	if err != nil {
		return err
	}
	_, err = n.client.EnqueueContext(ctx, task,
		asynq.Queue(n.queue),
		asynq.MaxRetry(5),
		asynq.Timeout(30*time.Second))
	return err
}

// LogNotifier writes notifications to the log. It serves deployments
// without a Redis queue.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier constructs a LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// Notify logs m.
func (n *LogNotifier) Notify(ctx context.Context, m Message) error {
	if err := m.Validate(); err != nil {
		return err
	}
	n.logger.InfoContext(ctx, "notification",
		slog.String("recipient", m.Recipient.Key()),
		slog.String("type", m.Type),
		slog.String("title", m.Title),
		slog.String("message", m.Message))
	return nil
}

// Store persists delivered notifications.
type Store interface {
	Insert(ctx context.Context, m Message) error
}

// HandleDeliverTask returns the worker handler for TaskDeliver.
func HandleDeliverTask(store Store, logger *slog.Logger) asynq.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, t *asynq.Task) error {
		var m Message
		if err := json.Unmarshal(t.Payload(), &m); err != nil {
			return fmt.Errorf("notify: decode payload: %v: %w", err, asynq.SkipRetry)
		}
		if err := m.Validate(); err != nil {
			return fmt.Errorf("notify: %v: %w", err, asynq.SkipRetry)
		}
		if err := store.Insert(ctx, m); err != nil {
			if errors.Is(err, shared.ErrInvalidInput) {
				return fmt.Errorf("notify: %v: %w", err, asynq.SkipRetry)
			}
			return err
		}
		logger.Info("notification stored", slog.String("recipient", m.Recipient.Key()), slog.String("type", m.Type))
		return nil
	}
}
