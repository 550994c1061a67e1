// Package recurring consumes task.completed events and creates the next
// instance of a recurring series through the task backend.
package recurring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"todoflow/internal/backend"
	"todoflow/internal/event"
	"todoflow/internal/ledger"
	"todoflow/internal/recurrence"
	"todoflow/pkg/logger"
	"todoflow/pkg/metrics"
	"todoflow/pkg/mq"
	"todoflow/pkg/trace"
)

// ConsumerID identifies this service in the idempotency ledger.
const ConsumerID = "recurring-task-service"

type Status string

const (
	StatusIgnored   Status = "IGNORED"   // not a task.completed event
	StatusSkipped   Status = "SKIPPED"   // duplicate delivery or no recurrence
	StatusCompleted Status = "COMPLETED" // series ended
	StatusSuccess   Status = "SUCCESS"   // next instance created
	StatusError     Status = "ERROR"     // retryable failure
)

type Result struct {
	Status    Status `json:"status"`
	Detail    string `json:"detail,omitempty"`
	NewTaskID string `json:"new_task_id,omitempty"`
}

// TaskCreator creates the next task instance. *backend.Client satisfies it.
type TaskCreator interface {
	CreateTask(ctx context.Context, req backend.CreateTaskRequest) (*backend.CreatedTask, error)
}

type Handler struct {
	ledger  *ledger.Ledger
	creator TaskCreator
	logger  *zap.Logger
}

func NewHandler(led *ledger.Ledger, creator TaskCreator, log *zap.Logger) *Handler {
	return &Handler{
		ledger:  led,
		creator: creator,
		logger:  log,
	}
}

// Handle adapts HandleTaskCompleted to the broker consumer contract: a nil
// return acks, a plain error nacks for redelivery, and ErrNonRetryable sends
// the message to the DLQ.
func (h *Handler) Handle(ctx context.Context, raw json.RawMessage) error {
	start := time.Now()

	var env event.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		h.logger.Error("Failed to unmarshal event envelope",
			zap.Error(err),
			zap.Int("payload_size", len(raw)),
		)
		return fmt.Errorf("%w: %v", mq.ErrNonRetryable, err)
	}

	if env.CorrelationID != "" {
		ctx = trace.WithContext(ctx, env.CorrelationID)
	}

	result, err := h.HandleTaskCompleted(ctx, &env)
	metrics.RecordConsumeLatency(ConsumerID, event.TopicTaskEvents, time.Since(start))

	if err != nil {
		metrics.EventsConsumed.WithLabelValues(ConsumerID, "error").Inc()
		return err
	}

	metrics.EventsConsumed.WithLabelValues(ConsumerID, statusLabel(result.Status)).Inc()
	return nil
}

func statusLabel(s Status) string {
	switch s {
	case StatusIgnored:
		return "ignored"
	case StatusSkipped:
		return "skipped"
	case StatusCompleted:
		return "completed"
	case StatusSuccess:
		return "success"
	default:
		return "error"
	}
}

// HandleTaskCompleted processes one task.completed event.
//
// State machine: RECEIVED -> already processed? SKIPPED -> no recurrence?
// SKIPPED -> calculator returns none? COMPLETED -> create next instance ->
// SUCCESS, or ERROR (retryable). The ledger entry is written only after a
// successful creation, so a downstream failure leaves the event unmarked
// and redelivery retries the whole handler.
func (h *Handler) HandleTaskCompleted(ctx context.Context, env *event.Envelope) (Result, error) {
	log := logger.WithTrace(ctx, h.logger)

	if err := env.Validate(); err != nil {
		log.Error("Malformed event envelope", zap.Error(err))
		return Result{}, fmt.Errorf("%w: %v", mq.ErrNonRetryable, err)
	}

	if env.Type != event.TypeTaskCompleted {
		log.Debug("Ignoring event type",
			zap.String("event_id", env.ID),
			zap.String("event_type", env.Type),
		)
		return Result{Status: StatusIgnored, Detail: env.Type}, nil
	}

	log.Info("Processing task.completed event", zap.String("event_id", env.ID))

	data, err := env.TaskData()
	if err != nil {
		log.Error("Failed to extract task data",
			zap.String("event_id", env.ID),
			zap.Error(err),
		)
		return Result{}, fmt.Errorf("%w: %v", mq.ErrNonRetryable, err)
	}
	task := data.Task

	if data.Recurrence == nil {
		// Nothing to regenerate; still marked so redeliveries short-circuit.
		if err := h.ledger.Process(ctx, env.ID, ConsumerID, func(context.Context) error { return nil }); err != nil {
			if errors.Is(err, ledger.ErrAlreadyProcessed) {
				return Result{Status: StatusSkipped, Detail: "already_processed"}, nil
			}
			return Result{}, err
		}
		log.Info("Task has no recurrence pattern, skipping",
			zap.String("task_id", task.ID),
		)
		return Result{Status: StatusSkipped, Detail: "no_recurrence"}, nil
	}

	pattern, err := recurrence.PatternFromEvent(data.Recurrence)
	if err != nil {
		log.Error("Invalid recurrence pattern in event",
			zap.String("event_id", env.ID),
			zap.String("task_id", task.ID),
			zap.Error(err),
		)
		return Result{}, fmt.Errorf("%w: %v", mq.ErrNonRetryable, err)
	}

	completedAt := time.Now().UTC()
	if task.CompletedAt != nil {
		completedAt = *task.CompletedAt
	}

	next, ok := recurrence.NextOccurrence(pattern, completedAt, data.Recurrence.Occurrences)
	if !ok {
		if err := h.ledger.Process(ctx, env.ID, ConsumerID, func(context.Context) error { return nil }); err != nil {
			if errors.Is(err, ledger.ErrAlreadyProcessed) {
				return Result{Status: StatusSkipped, Detail: "already_processed"}, nil
			}
			return Result{}, err
		}
		log.Info("Recurrence series ended",
			zap.String("task_id", task.ID),
			zap.String("recurrence_id", pattern.ID),
		)
		return Result{Status: StatusCompleted, Detail: "recurrence_ended"}, nil
	}

	newDueDate := recurrence.DueDateForInstance(task.DueDate, completedAt, next)

	var created *backend.CreatedTask
	err = h.ledger.Process(ctx, env.ID, ConsumerID, func(ctx context.Context) error {
		var createErr error
		created, createErr = h.creator.CreateTask(ctx, backend.CreateTaskRequest{
			UserID:         task.UserID,
			Title:          task.Title,
			Description:    task.Description,
			Priority:       task.Priority,
			DueDate:        newDueDate,
			ReminderOffset: task.ReminderOffset,
			ParentTaskID:   task.ID,
			RecurrenceID:   pattern.ID,
		})
		return createErr
	})
	if err != nil {
		if errors.Is(err, ledger.ErrAlreadyProcessed) {
			return Result{Status: StatusSkipped, Detail: "already_processed"}, nil
		}
		log.Error("Failed to create recurring instance",
			zap.String("event_id", env.ID),
			zap.String("task_id", task.ID),
			zap.Error(err),
		)
		return Result{Status: StatusError, Detail: err.Error()}, err
	}

	metrics.RecurringInstancesCreated.Inc()
	log.Info("Created recurring instance",
		zap.String("parent_task_id", task.ID),
		zap.String("new_task_id", created.ID),
		zap.Timep("due_date", newDueDate),
	)

	return Result{
		Status:    StatusSuccess,
		Detail:    fmt.Sprintf("next occurrence %s", next.Format(time.RFC3339)),
		NewTaskID: created.ID,
	}, nil
}
