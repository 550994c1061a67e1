// Package event defines the CloudEvents 1.0 envelope and payloads carried
// on the task-events, task-updates and reminders topics.
package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Topics.
const (
	TopicTaskEvents  = "task-events"  // task CRUD fan-out
	TopicTaskUpdates = "task-updates" // real-time sync fan-out
	TopicReminders   = "reminders"    // reminder trigger/cancel fan-out
)

// Task event types (reverse-DNS per CloudEvents convention).
const (
	TypeTaskCreated   = "com.todo.task.created"
	TypeTaskUpdated   = "com.todo.task.updated"
	TypeTaskDeleted   = "com.todo.task.deleted"
	TypeTaskCompleted = "com.todo.task.completed"

	TypeReminderTrigger   = "com.todo.reminder.trigger"
	TypeReminderCancelled = "com.todo.reminder.cancelled"
)

const (
	SpecVersion     = "1.0"
	ContentTypeJSON = "application/json"

	SourceTasks     = "https://api.todo.example.com/tasks"
	SourceReminders = "https://api.todo.example.com/reminders"
	SourceScheduler = "https://api.todo.example.com/scheduler"
)

// Envelope is the CloudEvents 1.0 wrapper. ID is the idempotency key;
// the envelope is immutable once published.
type Envelope struct {
	SpecVersion     string          `json:"specversion"`
	ID              string          `json:"id"`
	Source          string          `json:"source"`
	Type            string          `json:"type"`
	Subject         string          `json:"subject"`
	Time            time.Time       `json:"time"`
	DataContentType string          `json:"datacontenttype"`
	CorrelationID   string          `json:"correlationid,omitempty"`
	Data            json.RawMessage `json:"data"`
}

// Validate checks the attributes every consumer relies on.
func (e *Envelope) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("event missing id")
	}
	if e.SpecVersion != SpecVersion {
		return fmt.Errorf("event %s has unsupported specversion %q", e.ID, e.SpecVersion)
	}
	if e.Source == "" {
		return fmt.Errorf("event %s missing source", e.ID)
	}
	if e.Type == "" {
		return fmt.Errorf("event %s missing type", e.ID)
	}
	if len(e.Data) == 0 {
		return fmt.Errorf("event %s has no data", e.ID)
	}
	return nil
}

// TaskSnapshot is the task state carried in task events, not the full entity.
type TaskSnapshot struct {
	ID             string     `json:"task_id"`
	UserID         string     `json:"user_id"`
	Title          string     `json:"title"`
	Description    string     `json:"description,omitempty"`
	Completed      bool       `json:"completed"`
	Priority       string     `json:"priority"`
	DueDate        *time.Time `json:"due_date,omitempty"`
	ReminderOffset int        `json:"reminder_offset"`
	RecurrenceID   string     `json:"recurrence_id,omitempty"`
	ParentTaskID   string     `json:"parent_task_id,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// RecurrenceData mirrors the recurrence pattern attached to a task event.
type RecurrenceData struct {
	ID             string     `json:"id"`
	Frequency      string     `json:"frequency"`
	Interval       int        `json:"interval"`
	ByWeekday      []int      `json:"by_weekday,omitempty"`
	ByMonthday     int        `json:"by_monthday,omitempty"`
	EndDate        *time.Time `json:"end_date,omitempty"`
	MaxOccurrences int        `json:"max_occurrences,omitempty"`
	RRuleString    string     `json:"rrule_string,omitempty"`
	Occurrences    int        `json:"occurrences,omitempty"`
}

// TaskEventData is the payload of task events. Recurrence is present only
// when the task belongs to a recurring series.
type TaskEventData struct {
	Task       TaskSnapshot    `json:"task"`
	Recurrence *RecurrenceData `json:"recurrence,omitempty"`
}

// ReminderData is the payload of reminder events.
type ReminderData struct {
	TaskID         string    `json:"task_id"`
	TaskTitle      string    `json:"task_title"`
	UserID         string    `json:"user_id"`
	DueDate        time.Time `json:"due_date"`
	ScheduledTime  time.Time `json:"scheduled_time"`
	ReminderOffset int       `json:"reminder_offset"`
	Channels       []string  `json:"channels"`
}

// NewTaskEvent builds a task event envelope around the given payload.
func NewTaskEvent(eventType string, data TaskEventData, correlationID string) (*Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal task event data: %w", err)
	}

	return &Envelope{
		SpecVersion:     SpecVersion,
		ID:              uuid.NewString(),
		Source:          SourceTasks,
		Type:            eventType,
		Subject:         fmt.Sprintf("tasks/%s", data.Task.ID),
		Time:            time.Now().UTC(),
		DataContentType: ContentTypeJSON,
		CorrelationID:   correlationID,
		Data:            raw,
	}, nil
}

// NewReminderEvent builds a reminder event envelope around the given payload.
func NewReminderEvent(eventType, source string, data ReminderData, correlationID string) (*Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal reminder data: %w", err)
	}

	if source == "" {
		source = SourceReminders
	}

	return &Envelope{
		SpecVersion:     SpecVersion,
		ID:              uuid.NewString(),
		Source:          source,
		Type:            eventType,
		Subject:         fmt.Sprintf("reminders/%s", data.TaskID),
		Time:            time.Now().UTC(),
		DataContentType: ContentTypeJSON,
		CorrelationID:   correlationID,
		Data:            raw,
	}, nil
}

// TaskData unmarshals the task payload of a task event.
func (e *Envelope) TaskData() (*TaskEventData, error) {
	var data TaskEventData
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return nil, fmt.Errorf("failed to parse task event data: %w", err)
	}
	if data.Task.ID == "" {
		return nil, fmt.Errorf("task event %s missing task id", e.ID)
	}
	return &data, nil
}

// ReminderPayload unmarshals the reminder payload of a reminder event.
func (e *Envelope) ReminderPayload() (*ReminderData, error) {
	var data ReminderData
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return nil, fmt.Errorf("failed to parse reminder data: %w", err)
	}
	if data.TaskID == "" {
		return nil, fmt.Errorf("reminder event %s missing task id", e.ID)
	}
	return &data, nil
}
