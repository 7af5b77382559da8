package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

// TypeReconcile is the asynq task type for payment reconciliation.
const TypeReconcile = "payment:reconcile"

// Payload identifies the webhook event to reconcile. Force re-applies an already processed event.
type Payload struct {
	EventID string `json:"eventId"`
	Force   bool   `json:"force,omitempty"`
}

// NewTask encodes p as a reconciliation task.
func NewTask(p Payload) (*asynq.Task, error) {
	if strings.TrimSpace(p.EventID) == "" {
		return nil, errors.New("reconcile: event id is required")
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeReconcile, data), nil
}

// TaskEnqueuer is the part of *asynq.Client used by Enqueuer.
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Enqueuer schedules reconciliation tasks. Tasks are keyed by event id so redelivered webhooks do
// not enqueue twice while a task for the same event is still known to the queue.
type Enqueuer struct {
	Client   TaskEnqueuer
	Queue    string
	MaxRetry int
	Timeout  time.Duration
	Logger   zerolog.Logger
	Now      func() time.Time
}

// Schedule enqueues reconciliation for eventID. An already queued task counts as success.
func (e Enqueuer) Schedule(ctx context.Context, eventID string) error {
	return e.enqueue(ctx, Payload{EventID: eventID}, eventID)
}

// Replay enqueues a forced reconciliation for eventID under a fresh task id.
func (e Enqueuer) Replay(ctx context.Context, eventID string) error {
	taskID := "replay:" + eventID + ":" + strconv.FormatInt(e.now().UnixNano(), 10)
	return e.enqueue(ctx, Payload{EventID: eventID, Force: true}, taskID)
}

func (e Enqueuer) enqueue(ctx context.Context, p Payload, taskID string) error {
	if e.Client == nil {
		return errors.New("reconcile: task client not configured")
	}
	task, err := NewTask(p)
	if err != nil {
		return err
	}
	opts := []asynq.Option{asynq.TaskID(taskID), asynq.Queue(e.queue())}
	if e.MaxRetry > 0 {
		opts = append(opts, asynq.MaxRetry(e.MaxRetry))
	}
	if e.Timeout > 0 {
		opts = append(opts, asynq.Timeout(e.Timeout))
	}
	info, err := e.Client.EnqueueContext(ctx, task, opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		e.Logger.Debug().Str("event_id", p.EventID).Msg("reconciliation already queued")
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueue reconcile task: %w", err)
	}
	e.Logger.Debug().Str("event_id", p.EventID).Str("task_id", info.ID).Str("queue", info.Queue).Msg("reconciliation queued")
	return nil
}

func (e Enqueuer) queue() string {
	if e.Queue == "" {
		return "payments"
	}
	return e.Queue
}

func (e Enqueuer) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}
